package milestone

import (
	"fmt"
	"math"
	"strings"

	"github.com/breatheroute/navcore/internal/route"
)

// ManeuverText renders a short instruction for a step's maneuver.
func ManeuverText(step *route.Step) string {
	if step == nil {
		return ""
	}
	if step.Maneuver.Instruction != "" {
		return step.Maneuver.Instruction
	}

	onto := ""
	if step.Name != "" {
		onto = " onto " + step.Name
	}
	modifier := strings.TrimSpace(step.Maneuver.Modifier)

	switch step.Maneuver.Type {
	case "depart":
		if step.Name != "" {
			return "Head out on " + step.Name
		}
		return "Head out"
	case "arrive":
		return "You have arrived at your destination"
	case "roundabout", "rotary":
		return "Enter the roundabout and exit" + onto
	case "merge":
		return "Merge" + onto
	case "fork":
		return strings.TrimSpace("Keep "+modifier+" at the fork") + onto
	case "continue", "new name":
		return "Continue" + onto
	default:
		if modifier == "" || modifier == "straight" {
			return "Continue" + onto
		}
		if modifier == "uturn" {
			return "Make a U-turn" + onto
		}
		return "Turn " + modifier + onto
	}
}

// FormatDistance renders a distance for announcements.
func FormatDistance(meters float64) string {
	if meters >= 1000 {
		return fmt.Sprintf("%.1f kilometers", meters/1000)
	}
	rounded := int(math.Round(meters/10) * 10)
	if rounded < 10 {
		rounded = 10
	}
	return fmt.Sprintf("%d meters", rounded)
}
