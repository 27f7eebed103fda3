// Package dispatch delivers navigation results to registered listeners on a dedicated
// goroutine.
package dispatch

import (
	"github.com/breatheroute/navcore/internal/engine"
	"github.com/breatheroute/navcore/internal/milestone"
	"github.com/breatheroute/navcore/internal/progress"
)

// ProgressListener receives the progress computed by every cycle.
type ProgressListener interface {
	OnProgressChange(loc engine.Location, p progress.State)
}

// MilestoneListener receives fired milestones.
type MilestoneListener interface {
	OnMilestone(p progress.State, instruction string, m *milestone.Milestone)
}

// OffRouteListener is told when a cycle finds the traveler off route.
type OffRouteListener interface {
	OnOffRoute(loc engine.Location)
}

// FasterRouteListener is told when a cycle asks for a faster-route check.
type FasterRouteListener interface {
	OnFasterRouteCheck(loc engine.Location, p progress.State)
}

// RunningListener follows the navigation session lifecycle.
type RunningListener interface {
	OnNavigationRunning()
	OnNavigationStopped(reason StopReason, err error)
}

// RawLocationListener receives fixes as they were ingested.
type RawLocationListener interface {
	OnRawLocation(loc engine.Location)
}

// EnhancedLocationListener receives the engine's map-matched position.
type EnhancedLocationListener interface {
	OnEnhancedLocation(loc engine.Location)
}

// StopReason explains why navigation stopped.
type StopReason string

// Stop reasons.
const (
	StopReasonStopped StopReason = "stopped"
	StopReasonFatal   StopReason = "fatal"
)
