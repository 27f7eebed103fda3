// Package progress computes route progress from positioning engine status.
package progress

import (
	"time"

	"github.com/breatheroute/navcore/internal/engine"
	"github.com/breatheroute/navcore/internal/route"
	"github.com/breatheroute/navcore/pkg/polyline"
)

// Lifecycle is the tracking lifecycle of a progress state.
type Lifecycle int

// Lifecycle values.
const (
	LifecycleInvalid Lifecycle = iota
	LifecycleInitialized
	LifecycleTracking
	LifecycleComplete
	LifecycleUncertain
)

func (l Lifecycle) String() string {
	switch l {
	case LifecycleInitialized:
		return "initialized"
	case LifecycleTracking:
		return "tracking"
	case LifecycleComplete:
		return "complete"
	case LifecycleUncertain:
		return "uncertain"
	default:
		return "invalid"
	}
}

// Indices is the (leg, step) cursor into the active route.
type Indices struct {
	Leg  int
	Step int
}

// Before reports whether i precedes o in route order.
func (i Indices) Before(o Indices) bool {
	return i.Leg < o.Leg || (i.Leg == o.Leg && i.Step < o.Step)
}

// State is an immutable snapshot of progress along a route. A new State is produced
// every cycle.
type State struct {
	Route     *route.Route
	Time      time.Time
	Lifecycle Lifecycle

	LegIndex  int
	StepIndex int

	DistanceRemaining     float64
	LegDistanceRemaining  float64
	LegDurationRemaining  time.Duration
	StepDistanceRemaining float64

	// AnnotationIndex and Annotation are nil when the leg carries no annotation data.
	AnnotationIndex *int
	Annotation      *route.AnnotationPoint

	InTunnel bool
	// Location is the engine-enhanced position the state was computed from.
	Location engine.Location

	CurrentStepGeometry  []polyline.Coordinate
	UpcomingStepGeometry []polyline.Coordinate

	VoiceInstruction  *engine.VoiceInstruction
	BannerInstruction *engine.BannerInstruction
}

// Indices returns the state's cursor.
func (s State) Indices() Indices {
	return Indices{Leg: s.LegIndex, Step: s.StepIndex}
}

// RouteID returns the ID of the state's route, or "" without a route.
func (s State) RouteID() string {
	if s.Route == nil {
		return ""
	}
	return s.Route.ID
}

// CurrentLeg returns the leg being traveled, or nil if the state has no route.
func (s State) CurrentLeg() *route.Leg {
	if s.Route == nil {
		return nil
	}
	leg, err := s.Route.Leg(s.LegIndex)
	if err != nil {
		return nil
	}
	return leg
}

// CurrentStep returns the step being traveled.
func (s State) CurrentStep() *route.Step {
	if s.Route == nil {
		return nil
	}
	step, err := s.Route.Step(s.LegIndex, s.StepIndex)
	if err != nil {
		return nil
	}
	return step
}

// UpcomingStep returns the step after the current one within the leg, or nil.
func (s State) UpcomingStep() *route.Step {
	if s.Route == nil {
		return nil
	}
	step, err := s.Route.Step(s.LegIndex, s.StepIndex+1)
	if err != nil {
		return nil
	}
	return step
}

// IsFirstStep reports whether the current step is the first of its leg.
func (s State) IsFirstStep() bool { return s.StepIndex == 0 }

// IsLastStep reports whether the current step is the last of its leg.
func (s State) IsLastStep() bool {
	leg := s.CurrentLeg()
	return leg != nil && s.StepIndex == len(leg.Steps)-1
}

// IsFirstLeg reports whether the current leg is the first of the route.
func (s State) IsFirstLeg() bool { return s.LegIndex == 0 }

// IsFinalLeg reports whether the current leg is the last of the route.
func (s State) IsFinalLeg() bool {
	return s.Route != nil && s.Route.IsFinalLeg(s.LegIndex)
}

// StepDistanceTraveled returns the distance covered on the current step.
func (s State) StepDistanceTraveled() float64 {
	step := s.CurrentStep()
	if step == nil {
		return 0
	}
	return clampNonNegative(step.DistanceMeters - s.StepDistanceRemaining)
}

// StepFractionRemaining returns the remaining share of the current step in [0, 1].
func (s State) StepFractionRemaining() float64 {
	step := s.CurrentStep()
	if step == nil || step.DistanceMeters <= 0 {
		return 0
	}
	f := s.StepDistanceRemaining / step.DistanceMeters
	if f > 1 {
		return 1
	}
	return clampNonNegative(f)
}

// StepDurationRemaining estimates the time left on the current step.
func (s State) StepDurationRemaining() time.Duration {
	step := s.CurrentStep()
	if step == nil {
		return 0
	}
	return seconds(step.DurationSeconds * s.StepFractionRemaining())
}

// DistanceTraveled returns the distance covered on the route.
func (s State) DistanceTraveled() float64 {
	if s.Route == nil {
		return 0
	}
	return clampNonNegative(s.Route.DistanceMeters - s.DistanceRemaining)
}

// DurationRemaining estimates the time left on the route.
func (s State) DurationRemaining() time.Duration {
	if s.Route == nil {
		return 0
	}
	d := s.LegDurationRemaining
	for i := s.LegIndex + 1; i < len(s.Route.Legs); i++ {
		d += seconds(s.Route.Legs[i].DurationSeconds)
	}
	return d
}

func seconds(v float64) time.Duration {
	return time.Duration(v * float64(time.Second))
}

func clampNonNegative(v float64) float64 {
	if v < 0 {
		return 0
	}
	return v
}
