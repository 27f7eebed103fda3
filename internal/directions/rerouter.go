package directions

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/breatheroute/navcore/internal/engine"
	"github.com/breatheroute/navcore/internal/progress"
	"github.com/breatheroute/navcore/internal/route"
	"github.com/breatheroute/navcore/pkg/polyline"
)

// Fetcher requests routes.
type Fetcher interface {
	Fetch(ctx context.Context, req Request) ([]*route.Route, error)
}

// Target is the navigation session a Rerouter replaces routes on.
type Target interface {
	Route() *route.Route
	Progress() (progress.State, bool)
	SetRoute(ctx context.Context, r *route.Route, legIndex int) error
}

// RerouterConfig holds configuration for a Rerouter.
type RerouterConfig struct {
	// Directions fetches replacement routes (required).
	Directions Fetcher

	// Target receives replacement routes (required).
	Target Target

	// MinInterval is the shortest time between two fetches (default: 5s).
	MinInterval time.Duration

	// MinSavings is how much sooner a faster-route candidate must arrive to be adopted
	// (default: 60s).
	MinSavings time.Duration

	// Timeout bounds one fetch (default: 15s).
	Timeout time.Duration

	// Enabled gates rerouting; signals arriving while it reports false are dropped
	// (default: always enabled).
	Enabled func() bool

	// Logger for reroute operations.
	Logger zerolog.Logger

	// Now returns the current time (default: time.Now).
	Now func() time.Time
}

// Rerouter listens for off-route and faster-route signals and replaces the target's route
// with a freshly fetched one. Signals are coalesced: at most one is pending while a fetch
// is in flight.
type Rerouter struct {
	directions  Fetcher
	target      Target
	minInterval time.Duration
	minSavings  time.Duration
	timeout     time.Duration
	enabled     func() bool
	logger      zerolog.Logger
	now         func() time.Time

	requests    chan rerouteRequest
	lastAttempt time.Time
}

type rerouteRequest struct {
	loc      engine.Location
	faster   bool
	progress progress.State
}

// NewRerouter creates a Rerouter. Register it on the dispatcher's OffRoute and FasterRoute
// topics and call Run.
func NewRerouter(cfg RerouterConfig) (*Rerouter, error) {
	if cfg.Directions == nil {
		return nil, fmt.Errorf("rerouter: directions client is required")
	}
	if cfg.Target == nil {
		return nil, fmt.Errorf("rerouter: target is required")
	}

	minInterval := cfg.MinInterval
	if minInterval == 0 {
		minInterval = 5 * time.Second
	}
	minSavings := cfg.MinSavings
	if minSavings == 0 {
		minSavings = time.Minute
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	enabled := cfg.Enabled
	if enabled == nil {
		enabled = func() bool { return true }
	}

	return &Rerouter{
		directions:  cfg.Directions,
		target:      cfg.Target,
		minInterval: minInterval,
		minSavings:  minSavings,
		timeout:     timeout,
		enabled:     enabled,
		logger:      cfg.Logger.With().Str("component", "rerouter").Logger(),
		now:         now,
		requests:    make(chan rerouteRequest, 1),
	}, nil
}

// OnOffRoute implements dispatch.OffRouteListener.
func (r *Rerouter) OnOffRoute(loc engine.Location) {
	r.offer(rerouteRequest{loc: loc})
}

// OnFasterRouteCheck implements dispatch.FasterRouteListener.
func (r *Rerouter) OnFasterRouteCheck(loc engine.Location, p progress.State) {
	r.offer(rerouteRequest{loc: loc, faster: true, progress: p})
}

func (r *Rerouter) offer(req rerouteRequest) {
	if !r.enabled() {
		return
	}
	select {
	case r.requests <- req:
	default:
	}
}

// Run handles signals until ctx is cancelled.
func (r *Rerouter) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case req := <-r.requests:
			r.handle(ctx, req)
		}
	}
}

func (r *Rerouter) handle(ctx context.Context, req rerouteRequest) {
	now := r.now()
	if !r.lastAttempt.IsZero() && now.Sub(r.lastAttempt) < r.minInterval {
		return
	}
	r.lastAttempt = now

	current := r.target.Route()
	if current == nil {
		return
	}
	legIndex := 0
	if p, ok := r.target.Progress(); ok && p.RouteID() == current.ID {
		legIndex = p.LegIndex
	}

	waypoints, err := RemainingWaypoints(current, legIndex, req.loc.Coordinate)
	if err != nil {
		r.logger.Warn().Err(err).Str("route_id", current.ID).Msg("cannot derive reroute waypoints")
		return
	}
	in := Request{Profile: current.Profile, Waypoints: waypoints, Alternatives: req.faster}
	if req.loc.HasBearing {
		bearing := req.loc.Bearing
		in.Bearing = &bearing
	}

	fetchCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	routes, err := r.directions.Fetch(fetchCtx, in)
	if err != nil {
		r.logger.Warn().Err(err).Bool("faster_route", req.faster).Msg("reroute fetch failed")
		return
	}
	candidate := routes[0]

	if req.faster {
		remaining := req.progress.DurationRemaining()
		arrival := time.Duration(candidate.DurationSeconds * float64(time.Second))
		if remaining-arrival < r.minSavings {
			r.logger.Debug().
				Dur("remaining", remaining).
				Dur("candidate", arrival).
				Msg("no faster route")
			return
		}
	}

	if err := r.target.SetRoute(ctx, candidate, 0); err != nil {
		r.logger.Warn().Err(err).Str("route_id", candidate.ID).Msg("failed to apply new route")
		return
	}
	r.logger.Info().
		Str("previous_route_id", current.ID).
		Str("route_id", candidate.ID).
		Bool("faster_route", req.faster).
		Msg("route replaced")
}

// RemainingWaypoints returns from followed by the end of every leg of r from legIndex on.
func RemainingWaypoints(r *route.Route, legIndex int, from polyline.Coordinate) ([]polyline.Coordinate, error) {
	if _, err := r.Leg(legIndex); err != nil {
		return nil, err
	}
	waypoints := []polyline.Coordinate{from}
	for i := legIndex; i < len(r.Legs); i++ {
		last := len(r.Legs[i].Steps) - 1
		geometry, err := r.StepGeometry(i, last)
		if err != nil {
			return nil, err
		}
		if len(geometry) == 0 {
			return nil, fmt.Errorf("leg %d final step has no geometry: %w", i, route.ErrInvalidRoute)
		}
		waypoints = append(waypoints, geometry[len(geometry)-1])
	}
	return waypoints, nil
}
