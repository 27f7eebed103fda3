package detector

import (
	"github.com/breatheroute/navcore/internal/engine"
	"github.com/breatheroute/navcore/internal/progress"
	"github.com/breatheroute/navcore/pkg/polyline"
)

// RouteSnapper projects fixes onto the nearest point of the current and upcoming step.
type RouteSnapper struct {
	maxDistance      float64
	bearingTolerance float64
}

// NewRouteSnapper creates the default snapper.
func NewRouteSnapper(opts Options) *RouteSnapper {
	opts = opts.WithDefaults()
	return &RouteSnapper{
		maxDistance:      opts.SnapMaxDistance,
		bearingTolerance: opts.SnapBearingTolerance,
	}
}

// Snap implements Snapper. Fixes further than the maximum snapping distance from the route
// are returned unchanged. Speed, accuracy and time always carry over from the fix.
func (s *RouteSnapper) Snap(loc engine.Location, p progress.State) (engine.Location, error) {
	proj, ok := polyline.Project(stepGeometry(p), loc.Coordinate)
	if !ok || proj.Offset > s.maxDistance {
		return loc, nil
	}

	out := loc
	out.Coordinate = proj.Point
	if !loc.HasBearing || polyline.BearingDelta(loc.Bearing, proj.Bearing) <= s.bearingTolerance {
		out.Bearing = proj.Bearing
		out.HasBearing = true
	}
	return out, nil
}
