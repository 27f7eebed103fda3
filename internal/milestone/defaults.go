package milestone

import (
	"github.com/breatheroute/navcore/internal/progress"
)

// Distances used by the default milestones.
const (
	ArrivalDistanceMeters     = 25
	ApproachingDistanceMeters = 100
)

// Departure announces the first step of the route.
func Departure() *Milestone {
	return &Milestone{
		ID:      "departure",
		Kind:    KindVoice,
		Trigger: All(IsTrue(NewStep), IsTrue(FirstStep), IsTrue(FirstLeg)),
		Instruction: func(p progress.State) (string, error) {
			text := ManeuverText(p.CurrentStep())
			if next := p.UpcomingStep(); next != nil {
				text += ", then in " + FormatDistance(p.StepDistanceRemaining) + ", " + lowerFirst(ManeuverText(next))
			}
			return text, nil
		},
	}
}

// ManeuverAnnouncement announces the upcoming maneuver whenever a new step begins.
func ManeuverAnnouncement() *Milestone {
	return &Milestone{
		ID:      "maneuver_announcement",
		Kind:    KindVoice,
		Trigger: All(IsTrue(NewStep), IsFalse(FirstStep), IsFalse(LastStep)),
		Instruction: func(p progress.State) (string, error) {
			next := p.UpcomingStep()
			if next == nil {
				return "", ErrNoInstruction
			}
			return "In " + FormatDistance(p.StepDistanceRemaining) + ", " + lowerFirst(ManeuverText(next)), nil
		},
	}
}

// ApproachingManeuver shows the upcoming maneuver once it is close.
func ApproachingManeuver() *Milestone {
	return &Milestone{
		ID:   "approaching_maneuver",
		Kind: KindBanner,
		Trigger: All(
			IsFalse(LastStep),
			LessThanOrEqual(StepDistanceRemainingMeters, ApproachingDistanceMeters),
		),
		Instruction: func(p progress.State) (string, error) {
			next := p.UpcomingStep()
			if next == nil {
				return "", ErrNoInstruction
			}
			return ManeuverText(next), nil
		},
	}
}

// Arrival fires when the traveler is within ArrivalDistanceMeters of the destination or
// an intermediate waypoint.
func Arrival() *Milestone {
	return &Milestone{
		ID:      "arrival",
		Kind:    KindArrival,
		Trigger: All(IsTrue(LastStep), LessThanOrEqual(StepDistanceRemainingMeters, ArrivalDistanceMeters)),
		Instruction: func(p progress.State) (string, error) {
			if p.IsFinalLeg() {
				return "You have arrived at your destination", nil
			}
			return "You have arrived at your waypoint", nil
		},
	}
}

// EngineVoice relays voice instructions produced by the positioning engine.
func EngineVoice() *Milestone {
	return &Milestone{
		ID:      "engine_voice",
		Kind:    KindVoice,
		Trigger: IsTrue(HasVoiceInstruction),
		Repeat:  true,
		Instruction: func(p progress.State) (string, error) {
			if p.VoiceInstruction == nil {
				return "", ErrNoInstruction
			}
			return p.VoiceInstruction.Announcement, nil
		},
	}
}

// EngineBanner relays banner instructions produced by the positioning engine.
func EngineBanner() *Milestone {
	return &Milestone{
		ID:      "engine_banner",
		Kind:    KindBanner,
		Trigger: IsTrue(HasBannerInstruction),
		Repeat:  true,
		Instruction: func(p progress.State) (string, error) {
			if p.BannerInstruction == nil {
				return "", ErrNoInstruction
			}
			return p.BannerInstruction.Primary, nil
		},
	}
}

// Defaults returns a fresh set of the standard milestones.
func Defaults() []*Milestone {
	return []*Milestone{
		Departure(),
		ManeuverAnnouncement(),
		ApproachingManeuver(),
		Arrival(),
		EngineVoice(),
		EngineBanner(),
	}
}

func lowerFirst(s string) string {
	if s == "" || s[0] < 'A' || s[0] > 'Z' {
		return s
	}
	return string(s[0]+'a'-'A') + s[1:]
}
