package detector

import (
	"time"

	"github.com/breatheroute/navcore/internal/engine"
	"github.com/breatheroute/navcore/internal/progress"
)

// IntervalFasterRoute asks for a faster-route check once enough time has passed or
// distance been covered since the previous check. The first cycle on a route only
// starts the clock. It is not safe for concurrent use.
type IntervalFasterRoute struct {
	interval time.Duration
	distance float64
	enabled  func() bool

	routeID      string
	lastCheck    time.Time
	lastTraveled float64
}

// NewIntervalFasterRoute creates the default faster-route detector. A nil enabled
// function means always enabled.
func NewIntervalFasterRoute(opts Options, enabled func() bool) *IntervalFasterRoute {
	opts = opts.WithDefaults()
	return &IntervalFasterRoute{
		interval: opts.FasterRouteInterval,
		distance: opts.FasterRouteDistance,
		enabled:  enabled,
	}
}

// ShouldCheckFasterRoute implements FasterRouteDetector.
func (f *IntervalFasterRoute) ShouldCheckFasterRoute(_ engine.Location, p progress.State) (bool, error) {
	if f.enabled != nil && !f.enabled() {
		return false, nil
	}
	if p.Lifecycle != progress.LifecycleTracking {
		return false, nil
	}

	traveled := p.DistanceTraveled()
	if p.RouteID() != f.routeID {
		f.routeID = p.RouteID()
		f.lastCheck = p.Time
		f.lastTraveled = traveled
		return false, nil
	}

	if p.Time.Sub(f.lastCheck) < f.interval && traveled-f.lastTraveled < f.distance {
		return false, nil
	}
	f.lastCheck = p.Time
	f.lastTraveled = traveled
	return true, nil
}
