// Package engine defines the positioning engine contract used by the navigation pipeline
// and a geometric reference implementation.
package engine

import (
	"errors"
	"time"

	"github.com/breatheroute/navcore/internal/route"
	"github.com/breatheroute/navcore/pkg/polyline"
)

// ErrDisposed indicates the engine has been released. It is fatal to a navigation session.
var ErrDisposed = errors.New("positioning engine disposed")

// ErrNoRoute indicates a status or leg change was requested before a route was set.
var ErrNoRoute = errors.New("positioning engine has no route")

// Location is a single positioning fix.
type Location struct {
	Coordinate polyline.Coordinate
	Altitude   float64
	// Bearing is in degrees clockwise from north; only meaningful when HasBearing is set.
	Bearing    float64
	HasBearing bool
	// Speed in meters per second.
	Speed float64
	// Accuracy is the horizontal accuracy radius in meters.
	Accuracy float64
	Time     time.Time
}

// RouteState is the engine's view of how the traveler relates to the route.
type RouteState int

// Route states reported by an engine.
const (
	RouteStateInvalid RouteState = iota
	RouteStateInitialized
	RouteStateTracking
	RouteStateComplete
	RouteStateOffRoute
	RouteStateUncertain
)

func (s RouteState) String() string {
	switch s {
	case RouteStateInitialized:
		return "initialized"
	case RouteStateTracking:
		return "tracking"
	case RouteStateComplete:
		return "complete"
	case RouteStateOffRoute:
		return "off_route"
	case RouteStateUncertain:
		return "uncertain"
	default:
		return "invalid"
	}
}

// VoiceInstruction is a spoken announcement produced by the engine.
type VoiceInstruction struct {
	Announcement  string
	SSML          string
	DistanceAlong float64
}

// BannerInstruction is a visual instruction produced by the engine.
type BannerInstruction struct {
	Primary   string
	Secondary string
	Sub       string
}

// Status is the engine's estimate at a point in time.
type Status struct {
	Time       time.Time
	RouteState RouteState
	LegIndex   int
	StepIndex  int

	RemainingLegDistance  float64
	RemainingStepDistance float64
	RemainingLegDuration  time.Duration

	InTunnel bool
	// Location is the engine's enhanced (map-matched) position.
	Location Location

	VoiceInstruction  *VoiceInstruction
	BannerInstruction *BannerInstruction
}

// Engine is a positioning and map-matching engine. Implementations need not be safe for
// concurrent use; wrap them in a Guarded.
type Engine interface {
	// SetRoute makes r the active route, starting at the given leg.
	SetRoute(r *route.Route, routeIndex, legIndex int) (Status, error)
	// UpdateLocation ingests a raw fix.
	UpdateLocation(fix Location) error
	// Status returns the engine's estimate for the given time.
	Status(at time.Time) (Status, error)
	// ChangeRouteLeg moves tracking to another leg of the active route.
	ChangeRouteLeg(routeIndex, legIndex int) error
	// Close releases the engine. Every later call fails with ErrDisposed.
	Close() error
}
