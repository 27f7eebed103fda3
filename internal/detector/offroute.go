package detector

import (
	"time"

	"github.com/breatheroute/navcore/internal/engine"
	"github.com/breatheroute/navcore/internal/progress"
	"github.com/breatheroute/navcore/internal/ring"
	"github.com/breatheroute/navcore/pkg/polyline"
)

// ManeuverDistances records the distance to the upcoming maneuver over recent cycles.
// The progress builder clears it on every step crossing.
type ManeuverDistances struct {
	buf *ring.Buffer[float64]
}

// NewManeuverDistances creates a history holding size samples (default: 4).
func NewManeuverDistances(size int) *ManeuverDistances {
	if size == 0 {
		size = 4
	}
	return &ManeuverDistances{buf: ring.New[float64](size)}
}

// Clear implements progress.ManeuverHistory.
func (m *ManeuverDistances) Clear() { m.buf.Clear() }

// Values returns the recorded distances from oldest to newest.
func (m *ManeuverDistances) Values() []float64 { return m.buf.Values() }

func (m *ManeuverDistances) push(d float64) { m.buf.Push(d) }

// receding reports whether every recorded sample moved further from the maneuver and the
// total increase exceeds limit.
func (m *ManeuverDistances) receding(limit float64) bool {
	if !m.buf.Full() {
		return false
	}
	values := m.buf.Values()
	for i := 1; i < len(values); i++ {
		if values[i] <= values[i-1] {
			return false
		}
	}
	return values[len(values)-1]-values[0] > limit
}

// DistanceOffRoute reports off route once fixes stay beyond the threshold distance from the
// current and upcoming step, or keep receding from the upcoming maneuver, for the debounce
// window. The window is measured on fix timestamps. It is not safe for concurrent use.
type DistanceOffRoute struct {
	history *ManeuverDistances
	since   time.Time
	beyond  bool
}

// NewDistanceOffRoute creates the default off-route detector. history may be nil.
func NewDistanceOffRoute(history *ManeuverDistances) *DistanceOffRoute {
	return &DistanceOffRoute{history: history}
}

// IsOffRoute implements OffRouteDetector.
func (d *DistanceOffRoute) IsOffRoute(loc engine.Location, p progress.State, opts Options) (bool, error) {
	opts = opts.WithDefaults()
	if p.Lifecycle == progress.LifecycleComplete || p.Lifecycle == progress.LifecycleInvalid {
		d.reset()
		return false, nil
	}

	geom := stepGeometry(p)
	proj, ok := polyline.Project(geom, loc.Coordinate)
	if !ok {
		d.reset()
		return false, nil
	}

	threshold := opts.OffRouteThreshold
	if p.StepDistanceRemaining <= opts.IntersectionRadius || p.StepDistanceTraveled() <= opts.IntersectionRadius {
		threshold = opts.OffRouteThresholdNearIntersection
	}

	beyond := proj.Offset > threshold
	if d.history != nil {
		d.history.push(p.StepDistanceRemaining)
		beyond = beyond || d.history.receding(opts.ManeuverRecedeDistance)
	}
	if !beyond {
		d.reset()
		return false, nil
	}

	if !d.beyond {
		d.beyond = true
		d.since = loc.Time
	}
	return loc.Time.Sub(d.since) >= opts.OffRouteDebounce, nil
}

func (d *DistanceOffRoute) reset() {
	d.beyond = false
	d.since = time.Time{}
}
