package progress

import (
	"time"

	"github.com/rs/zerolog"

	"github.com/breatheroute/navcore/internal/engine"
	"github.com/breatheroute/navcore/internal/route"
	"github.com/breatheroute/navcore/pkg/polyline"
)

// Options tunes progress computation.
type Options struct {
	// ArrivalThreshold is the remaining route distance at which the final leg is complete (default: 10m).
	ArrivalThreshold float64 `yaml:"arrival_threshold_m"`

	// CrossingRadius is the distance to the end of a step within which the step counts as
	// crossed (default: 15m).
	CrossingRadius float64 `yaml:"crossing_radius_m"`

	// BearingTolerance is the largest difference in degrees between the traveler's bearing and
	// the step's final heading that still allows a crossing (default: 45).
	BearingTolerance float64 `yaml:"bearing_tolerance_deg"`
}

// WithDefaults returns o with zero values replaced by defaults.
func (o Options) WithDefaults() Options {
	if o.ArrivalThreshold == 0 {
		o.ArrivalThreshold = 10
	}
	if o.CrossingRadius == 0 {
		o.CrossingRadius = 15
	}
	if o.BearingTolerance == 0 {
		o.BearingTolerance = 45
	}
	return o
}

// ManeuverHistory is a buffer of recent maneuver distances that resets on every step crossing.
type ManeuverHistory interface {
	Clear()
}

// BuilderConfig holds configuration for a Builder.
type BuilderConfig struct {
	Options Options

	// History is cleared whenever the builder advances to a new step.
	History ManeuverHistory

	// OnRouteChange receives the last state of a route when a different route becomes active.
	OnRouteChange func(last State)

	// Logger for builder operations.
	Logger zerolog.Logger
}

// Builder derives a State from engine status. It owns the navigation cursor and must be
// used from a single goroutine.
type Builder struct {
	opts          Options
	history       ManeuverHistory
	onRouteChange func(State)
	logger        zerolog.Logger

	routeID    string
	cursor     Indices
	annotation annotationCursor
	cache      route.GeometryCache
}

type annotationCursor struct {
	index int
	// cumulative is the summed distance of segments before index.
	cumulative float64
}

// NewBuilder creates a progress builder.
func NewBuilder(cfg BuilderConfig) *Builder {
	return &Builder{
		opts:          cfg.Options.WithDefaults(),
		history:       cfg.History,
		onRouteChange: cfg.OnRouteChange,
		logger:        cfg.Logger,
	}
}

// Indices returns the builder's cursor.
func (b *Builder) Indices() Indices { return b.cursor }

// Build computes progress for status on r given the previous state.
func (b *Builder) Build(previous *State, status engine.Status, r *route.Route) State {
	s := State{
		Route:             r,
		Time:              status.Time,
		InTunnel:          status.InTunnel,
		Location:          status.Location,
		VoiceInstruction:  status.VoiceInstruction,
		BannerInstruction: status.BannerInstruction,
	}
	if r == nil || len(r.Legs) == 0 {
		s.Lifecycle = LifecycleInvalid
		return s
	}

	fresh := r.ID != b.routeID
	if fresh {
		if b.routeID != "" && previous != nil && b.onRouteChange != nil {
			b.onRouteChange(*previous)
		}
		b.routeID = r.ID
		b.cursor = Indices{}
		b.annotation = annotationCursor{}
		b.cache.Reset()
	}

	reported := Indices{Leg: status.LegIndex, Step: status.StepIndex}
	if b.cursor.Before(reported) && validIndices(r, reported) {
		b.moveTo(reported)
	}

	structural := false
	if !validIndices(r, b.cursor) {
		b.logger.Warn().
			Str("route_id", r.ID).
			Int("leg_index", b.cursor.Leg).
			Int("step_index", b.cursor.Step).
			Msg("progress cursor outside route, clamping")
		b.cursor = clampIndices(r, b.cursor)
		structural = true
	}

	current, err := b.cache.Step(r, b.cursor.Leg, b.cursor.Step)
	if err != nil {
		structural = true
	}
	stepRemaining := b.stepRemaining(current, status)

	if !structural && b.crossed(current, status, stepRemaining) {
		if leg, step, ok := r.Next(b.cursor.Leg, b.cursor.Step); ok {
			b.moveTo(Indices{Leg: leg, Step: step})
			if b.history != nil {
				b.history.Clear()
			}
			current, _ = b.cache.Step(r, leg, step)
			stepRemaining = b.stepRemaining(current, status)
		}
	}

	s.LegIndex = b.cursor.Leg
	s.StepIndex = b.cursor.Step
	s.CurrentStepGeometry = current
	if leg, step, ok := r.Next(b.cursor.Leg, b.cursor.Step); ok {
		s.UpcomingStepGeometry, _ = b.cache.Step(r, leg, step)
	}

	leg := &r.Legs[b.cursor.Leg]
	s.StepDistanceRemaining = stepRemaining
	s.LegDistanceRemaining = stepRemaining
	for i := b.cursor.Step + 1; i < len(leg.Steps); i++ {
		s.LegDistanceRemaining += leg.Steps[i].DistanceMeters
	}
	s.DistanceRemaining = s.LegDistanceRemaining
	if len(r.Legs) > 1 {
		for i := b.cursor.Leg + 1; i < len(r.Legs); i++ {
			s.DistanceRemaining += r.Legs[i].DistanceMeters
		}
	}
	s.LegDurationRemaining = b.legDuration(s, status)
	b.walkAnnotation(&s, leg)

	switch {
	case structural:
		s.Lifecycle = LifecycleInvalid
	case fresh || status.RouteState == engine.RouteStateInitialized:
		s.Lifecycle = LifecycleInitialized
	case status.RouteState == engine.RouteStateUncertain || status.RouteState == engine.RouteStateInvalid:
		s.Lifecycle = LifecycleUncertain
	case s.IsFinalLeg() && s.DistanceRemaining <= b.opts.ArrivalThreshold:
		s.Lifecycle = LifecycleComplete
	default:
		s.Lifecycle = LifecycleTracking
	}
	return s
}

func (b *Builder) moveTo(next Indices) {
	if next.Leg != b.cursor.Leg {
		b.annotation = annotationCursor{}
	}
	b.cursor = next
}

// stepRemaining measures from the snapped position to the end of the step geometry,
// falling back to the engine's figure when the step has no geometry.
func (b *Builder) stepRemaining(geometry []polyline.Coordinate, status engine.Status) float64 {
	if len(geometry) < 2 {
		if status.LegIndex == b.cursor.Leg && status.StepIndex == b.cursor.Step {
			return clampNonNegative(status.RemainingStepDistance)
		}
		return 0
	}
	proj, _ := polyline.Project(geometry, status.Location.Coordinate)
	return clampNonNegative(polyline.Length(geometry) - proj.Along)
}

// crossed reports whether the traveler has reached the end of the step. remaining is
// measured along the step, so a step that loops back past its own end does not cross early.
func (b *Builder) crossed(geometry []polyline.Coordinate, status engine.Status, remaining float64) bool {
	if len(geometry) == 0 {
		return false
	}
	if len(geometry) == 1 {
		remaining = polyline.Distance(status.Location.Coordinate, geometry[0])
	}
	if remaining >= b.opts.CrossingRadius {
		return false
	}
	heading, ok := polyline.FinalBearing(geometry)
	if !ok {
		return true
	}
	bearing := status.Location.Bearing
	if !status.Location.HasBearing {
		proj, _ := polyline.Project(geometry, status.Location.Coordinate)
		bearing = proj.Bearing
	}
	return polyline.BearingDelta(bearing, heading) <= b.opts.BearingTolerance
}

func (b *Builder) legDuration(s State, status engine.Status) time.Duration {
	if status.RemainingLegDuration > 0 && status.LegIndex == s.LegIndex {
		return status.RemainingLegDuration
	}
	d := s.StepDurationRemaining()
	leg := s.CurrentLeg()
	for i := s.StepIndex + 1; i < len(leg.Steps); i++ {
		d += seconds(leg.Steps[i].DurationSeconds)
	}
	return d
}

// walkAnnotation advances the annotation cursor until the cumulative segment distance
// exceeds the distance traveled on the leg.
func (b *Builder) walkAnnotation(s *State, leg *route.Leg) {
	a := leg.Annotation
	if a.Len() == 0 {
		return
	}

	total := leg.DistanceMeters
	if total == 0 {
		for _, step := range leg.Steps {
			total += step.DistanceMeters
		}
	}
	traveled := clampNonNegative(total - s.LegDistanceRemaining)

	if b.annotation.index >= a.Len() || traveled < b.annotation.cumulative {
		b.annotation = annotationCursor{}
	}
	for b.annotation.index < a.Len()-1 && b.annotation.cumulative+a.Distance[b.annotation.index] <= traveled {
		b.annotation.cumulative += a.Distance[b.annotation.index]
		b.annotation.index++
	}

	idx := b.annotation.index
	point, err := a.At(idx)
	if err != nil {
		return
	}
	s.AnnotationIndex = &idx
	s.Annotation = &point
}

func validIndices(r *route.Route, i Indices) bool {
	_, err := r.Step(i.Leg, i.Step)
	return err == nil
}

func clampIndices(r *route.Route, i Indices) Indices {
	if i.Leg < 0 {
		i.Leg = 0
	}
	if i.Leg >= len(r.Legs) {
		i.Leg = len(r.Legs) - 1
	}
	steps := len(r.Legs[i.Leg].Steps)
	if i.Step < 0 {
		i.Step = 0
	}
	if i.Step >= steps {
		i.Step = steps - 1
	}
	if i.Step < 0 {
		i.Step = 0
	}
	return i
}
