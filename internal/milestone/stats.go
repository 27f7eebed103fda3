// Package milestone evaluates instruction milestones against successive progress states.
package milestone

import (
	"github.com/breatheroute/navcore/internal/progress"
)

// Property is a named value derived from a progress state that triggers can test.
type Property int

// Properties available to triggers. Boolean properties are 1 when true and 0 when false.
const (
	StepDurationTotalSeconds Property = iota
	StepDurationRemainingSeconds
	StepDistanceTotalMeters
	StepDistanceRemainingMeters
	StepDistanceTraveledMeters
	NextStepDurationSeconds
	NextStepDistanceMeters
	RouteDistanceRemainingMeters
	LegIndex
	StepIndex
	NewStep
	FirstStep
	LastStep
	FirstLeg
	LastLeg
	HasVoiceInstruction
	HasBannerInstruction

	propertyCount
)

var propertyNames = [propertyCount]string{
	StepDurationTotalSeconds:     "STEP_DURATION_TOTAL_SECONDS",
	StepDurationRemainingSeconds: "STEP_DURATION_REMAINING_SECONDS",
	StepDistanceTotalMeters:      "STEP_DISTANCE_TOTAL_METERS",
	StepDistanceRemainingMeters:  "STEP_DISTANCE_REMAINING_METERS",
	StepDistanceTraveledMeters:   "STEP_DISTANCE_TRAVELED_METERS",
	NextStepDurationSeconds:      "NEXT_STEP_DURATION_SECONDS",
	NextStepDistanceMeters:       "NEXT_STEP_DISTANCE_METERS",
	RouteDistanceRemainingMeters: "ROUTE_DISTANCE_REMAINING_METERS",
	LegIndex:                     "LEG_INDEX",
	StepIndex:                    "STEP_INDEX",
	NewStep:                      "NEW_STEP",
	FirstStep:                    "FIRST_STEP",
	LastStep:                     "LAST_STEP",
	FirstLeg:                     "FIRST_LEG",
	LastLeg:                      "LAST_LEG",
	HasVoiceInstruction:          "HAS_VOICE_INSTRUCTION",
	HasBannerInstruction:         "HAS_BANNER_INSTRUCTION",
}

func (p Property) String() string {
	if p < 0 || p >= propertyCount {
		return "UNKNOWN"
	}
	return propertyNames[p]
}

// Stats holds every property value for one evaluation.
type Stats [propertyCount]float64

// Get returns the value of p.
func (s Stats) Get(p Property) float64 {
	if p < 0 || p >= propertyCount {
		return 0
	}
	return s[p]
}

// Bool returns the value of a boolean property.
func (s Stats) Bool(p Property) bool { return s.Get(p) != 0 }

// NewStats derives the property values of current. NEW_STEP compares against previous and
// is true when there is no previous state.
func NewStats(previous *progress.State, current progress.State) Stats {
	var s Stats

	if step := current.CurrentStep(); step != nil {
		s[StepDurationTotalSeconds] = step.DurationSeconds
		s[StepDistanceTotalMeters] = step.DistanceMeters
	}
	s[StepDurationRemainingSeconds] = current.StepDurationRemaining().Seconds()
	s[StepDistanceRemainingMeters] = current.StepDistanceRemaining
	s[StepDistanceTraveledMeters] = current.StepDistanceTraveled()
	if next := current.UpcomingStep(); next != nil {
		s[NextStepDurationSeconds] = next.DurationSeconds
		s[NextStepDistanceMeters] = next.DistanceMeters
	}
	s[RouteDistanceRemainingMeters] = current.DistanceRemaining
	s[LegIndex] = float64(current.LegIndex)
	s[StepIndex] = float64(current.StepIndex)

	newStep := previous == nil ||
		previous.RouteID() != current.RouteID() ||
		previous.Indices() != current.Indices()
	s[NewStep] = boolValue(newStep)
	s[FirstStep] = boolValue(current.IsFirstStep())
	s[LastStep] = boolValue(current.IsLastStep())
	s[FirstLeg] = boolValue(current.IsFirstLeg())
	s[LastLeg] = boolValue(current.IsFinalLeg())
	s[HasVoiceInstruction] = boolValue(current.VoiceInstruction != nil)
	s[HasBannerInstruction] = boolValue(current.BannerInstruction != nil)
	return s
}

func boolValue(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
