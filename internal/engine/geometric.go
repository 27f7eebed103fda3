package engine

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/breatheroute/navcore/internal/route"
	"github.com/breatheroute/navcore/pkg/polyline"
)

// GeometricConfig holds configuration for the geometric engine.
type GeometricConfig struct {
	// OffRouteDistance is the offset from the leg geometry beyond which the engine
	// reports RouteStateOffRoute (default: 50m).
	OffRouteDistance float64

	// ArrivalDistance is the remaining leg distance at which a waypoint counts as reached (default: 10m).
	ArrivalDistance float64

	// StaleAfter is the fix age after which tracking is uncertain (default: 5 seconds).
	StaleAfter time.Duration

	// Logger for engine operations.
	Logger zerolog.Logger
}

// Geometric is an Engine that projects raw fixes onto the active leg geometry.
// It performs no map matching beyond nearest-point projection.
type Geometric struct {
	offRouteDistance float64
	arrivalDistance  float64
	staleAfter       time.Duration
	logger           zerolog.Logger

	route      *route.Route
	legIndex   int
	geometry   []polyline.Coordinate
	stepStarts []float64
	legLength  float64
	lastFix    *Location
	closed     bool
}

// NewGeometric creates a geometric engine.
func NewGeometric(cfg GeometricConfig) *Geometric {
	offRoute := cfg.OffRouteDistance
	if offRoute == 0 {
		offRoute = 50
	}

	arrival := cfg.ArrivalDistance
	if arrival == 0 {
		arrival = 10
	}

	stale := cfg.StaleAfter
	if stale == 0 {
		stale = 5 * time.Second
	}

	return &Geometric{
		offRouteDistance: offRoute,
		arrivalDistance:  arrival,
		staleAfter:       stale,
		logger:           cfg.Logger,
	}
}

// SetRoute implements Engine.
func (g *Geometric) SetRoute(r *route.Route, _ int, legIndex int) (Status, error) {
	if g.closed {
		return Status{}, ErrDisposed
	}
	if err := r.Validate(); err != nil {
		return Status{}, err
	}
	g.route = r
	if err := g.loadLeg(legIndex); err != nil {
		return Status{}, err
	}
	g.lastFix = nil

	g.logger.Debug().
		Str("route_id", r.ID).
		Int("leg_index", legIndex).
		Float64("leg_length_m", g.legLength).
		Msg("route set")

	return g.Status(time.Now())
}

// UpdateLocation implements Engine.
func (g *Geometric) UpdateLocation(fix Location) error {
	if g.closed {
		return ErrDisposed
	}
	g.lastFix = &fix
	return nil
}

// ChangeRouteLeg implements Engine.
func (g *Geometric) ChangeRouteLeg(_ int, legIndex int) error {
	if g.closed {
		return ErrDisposed
	}
	if g.route == nil {
		return ErrNoRoute
	}
	return g.loadLeg(legIndex)
}

// Close implements Engine.
func (g *Geometric) Close() error {
	g.closed = true
	g.route = nil
	g.geometry = nil
	return nil
}

// Status implements Engine.
func (g *Geometric) Status(at time.Time) (Status, error) {
	if g.closed {
		return Status{}, ErrDisposed
	}
	if g.route == nil {
		return Status{}, ErrNoRoute
	}

	if g.lastFix == nil {
		return g.statusAt(at, 0, RouteStateInitialized, Location{
			Coordinate: g.geometry[0],
			Time:       at,
		}), nil
	}

	fix := *g.lastFix
	proj, ok := polyline.Project(g.geometry, fix.Coordinate)
	if !ok {
		return Status{}, fmt.Errorf("leg %d has no geometry: %w", g.legIndex, route.ErrInvalidRoute)
	}

	remaining := g.legLength - proj.Along
	if remaining <= g.arrivalDistance && !g.route.IsFinalLeg(g.legIndex) && proj.Offset <= g.offRouteDistance {
		if err := g.loadLeg(g.legIndex + 1); err != nil {
			return Status{}, err
		}
		return g.Status(at)
	}

	state := RouteStateTracking
	switch {
	case proj.Offset > g.offRouteDistance:
		state = RouteStateOffRoute
	case !fix.Time.IsZero() && at.Sub(fix.Time) > g.staleAfter:
		state = RouteStateUncertain
	case g.route.IsFinalLeg(g.legIndex) && remaining <= g.arrivalDistance:
		state = RouteStateComplete
	}

	snapped := fix
	snapped.Coordinate = proj.Point
	snapped.Bearing = proj.Bearing
	snapped.HasBearing = true

	return g.statusAt(at, proj.Along, state, snapped), nil
}

func (g *Geometric) statusAt(at time.Time, along float64, state RouteState, loc Location) Status {
	step := 0
	for i, start := range g.stepStarts {
		if along >= start {
			step = i
		}
	}
	stepEnd := g.legLength
	if step+1 < len(g.stepStarts) {
		stepEnd = g.stepStarts[step+1]
	}

	leg := g.route.Legs[g.legIndex]
	remaining := g.legLength - along
	var duration time.Duration
	if leg.DistanceMeters > 0 {
		seconds := remaining / leg.DistanceMeters * leg.DurationSeconds
		duration = time.Duration(seconds * float64(time.Second))
	}

	return Status{
		Time:                  at,
		RouteState:            state,
		LegIndex:              g.legIndex,
		StepIndex:             step,
		RemainingLegDistance:  remaining,
		RemainingStepDistance: stepEnd - along,
		RemainingLegDuration:  duration,
		Location:              loc,
	}
}

// loadLeg concatenates the step geometries of a leg and records where each step starts.
func (g *Geometric) loadLeg(legIndex int) error {
	leg, err := g.route.Leg(legIndex)
	if err != nil {
		return err
	}

	geometry := make([]polyline.Coordinate, 0, len(leg.Steps)*2)
	starts := make([]float64, len(leg.Steps))
	length := 0.0
	for i := range leg.Steps {
		coords, err := g.route.StepGeometry(legIndex, i)
		if err != nil {
			return err
		}
		starts[i] = length
		length += polyline.Length(coords)
		if len(geometry) > 0 && len(coords) > 0 && geometry[len(geometry)-1] == coords[0] {
			coords = coords[1:]
		}
		geometry = append(geometry, coords...)
	}
	if len(geometry) == 0 {
		return fmt.Errorf("leg %d has no geometry: %w", legIndex, route.ErrInvalidRoute)
	}

	g.legIndex = legIndex
	g.geometry = geometry
	g.stepStarts = starts
	g.legLength = length
	return nil
}
