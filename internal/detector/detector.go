// Package detector holds the per-cycle heuristics of the navigation pipeline: off-route
// detection, location snapping and faster-route checks.
package detector

import (
	"time"

	"github.com/breatheroute/navcore/internal/engine"
	"github.com/breatheroute/navcore/internal/progress"
	"github.com/breatheroute/navcore/pkg/polyline"
)

// OffRouteDetector decides whether the traveler has left the route.
type OffRouteDetector interface {
	IsOffRoute(loc engine.Location, p progress.State, opts Options) (bool, error)
}

// Snapper moves a fix onto the route for display.
type Snapper interface {
	Snap(loc engine.Location, p progress.State) (engine.Location, error)
}

// FasterRouteDetector decides whether to look for a faster route. It is not consulted
// while the traveler is off route.
type FasterRouteDetector interface {
	ShouldCheckFasterRoute(loc engine.Location, p progress.State) (bool, error)
}

// Options tunes the default detectors.
type Options struct {
	// OffRouteThreshold is the offset from the route beyond which a fix counts as off route (default: 50m).
	OffRouteThreshold float64 `yaml:"off_route_threshold_m"`

	// OffRouteThresholdNearIntersection replaces OffRouteThreshold close to a maneuver (default: 75m).
	OffRouteThresholdNearIntersection float64 `yaml:"off_route_threshold_near_intersection_m"`

	// IntersectionRadius is the distance from either end of a step treated as near a maneuver (default: 40m).
	IntersectionRadius float64 `yaml:"intersection_radius_m"`

	// OffRouteDebounce is how long fixes must stay off route before it is reported (default: 3 seconds).
	OffRouteDebounce time.Duration `yaml:"off_route_debounce"`

	// ManeuverRecedeDistance is how far the traveler may move away from the upcoming
	// maneuver before it counts as leaving the route (default: 50m).
	ManeuverRecedeDistance float64 `yaml:"maneuver_recede_distance_m"`

	// SnapMaxDistance is the largest offset a fix is snapped across (default: 30m).
	SnapMaxDistance float64 `yaml:"snap_max_distance_m"`

	// SnapBearingTolerance is the largest bearing difference for adopting the route bearing (default: 45).
	SnapBearingTolerance float64 `yaml:"snap_bearing_tolerance_deg"`

	// FasterRouteInterval is the minimum time between faster-route checks (default: 2 minutes).
	FasterRouteInterval time.Duration `yaml:"faster_route_interval"`

	// FasterRouteDistance triggers a check after this much travel since the last one (default: 2000m).
	FasterRouteDistance float64 `yaml:"faster_route_distance_m"`
}

// WithDefaults returns o with zero values replaced by defaults.
func (o Options) WithDefaults() Options {
	if o.OffRouteThreshold == 0 {
		o.OffRouteThreshold = 50
	}
	if o.OffRouteThresholdNearIntersection == 0 {
		o.OffRouteThresholdNearIntersection = 75
	}
	if o.IntersectionRadius == 0 {
		o.IntersectionRadius = 40
	}
	if o.OffRouteDebounce == 0 {
		o.OffRouteDebounce = 3 * time.Second
	}
	if o.ManeuverRecedeDistance == 0 {
		o.ManeuverRecedeDistance = 50
	}
	if o.SnapMaxDistance == 0 {
		o.SnapMaxDistance = 30
	}
	if o.SnapBearingTolerance == 0 {
		o.SnapBearingTolerance = 45
	}
	if o.FasterRouteInterval == 0 {
		o.FasterRouteInterval = 2 * time.Minute
	}
	if o.FasterRouteDistance == 0 {
		o.FasterRouteDistance = 2000
	}
	return o
}

// stepGeometry joins the current and upcoming step geometry of p.
func stepGeometry(p progress.State) []polyline.Coordinate {
	if len(p.UpcomingStepGeometry) == 0 {
		return p.CurrentStepGeometry
	}
	geom := make([]polyline.Coordinate, 0, len(p.CurrentStepGeometry)+len(p.UpcomingStepGeometry))
	geom = append(geom, p.CurrentStepGeometry...)
	return append(geom, p.UpcomingStepGeometry...)
}
