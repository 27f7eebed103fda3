// Package analytics defines navigation session events and the sinks that transport them.
package analytics

import (
	"time"

	"github.com/breatheroute/navcore/internal/engine"
	"github.com/breatheroute/navcore/internal/route"
)

// EventType identifies a session event.
type EventType string

// Session event types.
const (
	EventDepart   EventType = "depart"
	EventArrive   EventType = "arrive"
	EventCancel   EventType = "cancel"
	EventReroute  EventType = "reroute"
	EventFeedback EventType = "feedback"
)

// Event is a navigation session event.
type Event struct {
	ID         string    `json:"id"`
	Type       EventType `json:"type"`
	SessionID  string    `json:"session_id"`
	OccurredAt time.Time `json:"occurred_at"`

	StartedAt               time.Time  `json:"started_at"`
	ArrivedAt               *time.Time `json:"arrived_at,omitempty"`
	RerouteCount            int        `json:"reroute_count"`
	DistanceCompletedMeters float64    `json:"distance_completed_m"`

	OriginalRoute *RouteSummary    `json:"original_route,omitempty"`
	Route         *RouteSummary    `json:"route,omitempty"`
	Progress      *ProgressSummary `json:"progress,omitempty"`

	Location        *LocationSample  `json:"location,omitempty"`
	LocationsBefore []LocationSample `json:"locations_before,omitempty"`
	LocationsAfter  []LocationSample `json:"locations_after,omitempty"`

	Reroute  *RerouteDetails  `json:"reroute,omitempty"`
	Feedback *FeedbackDetails `json:"feedback,omitempty"`
}

// RouteSummary describes a route without its geometry.
type RouteSummary struct {
	ID              string  `json:"id"`
	Profile         string  `json:"profile,omitempty"`
	DistanceMeters  float64 `json:"distance_m"`
	DurationSeconds float64 `json:"duration_s"`
	LegCount        int     `json:"leg_count"`
	StepCount       int     `json:"step_count"`
}

// ProgressSummary is the progress at the time of an event.
type ProgressSummary struct {
	LegIndex                 int     `json:"leg_index"`
	StepIndex                int     `json:"step_index"`
	DistanceRemainingMeters  float64 `json:"distance_remaining_m"`
	DurationRemainingSeconds float64 `json:"duration_remaining_s"`
	DistanceTraveledMeters   float64 `json:"distance_traveled_m"`
}

// LocationSample is a location as reported in events.
type LocationSample struct {
	Lat      float64   `json:"lat"`
	Lon      float64   `json:"lon"`
	Bearing  *float64  `json:"bearing,omitempty"`
	Speed    float64   `json:"speed_mps"`
	Accuracy float64   `json:"accuracy_m"`
	Time     time.Time `json:"time"`
}

// RerouteDetails describes a completed reroute.
type RerouteDetails struct {
	// SecondsSinceLastReroute is -1 for the first reroute of a session.
	SecondsSinceLastReroute float64 `json:"seconds_since_last_reroute"`
	NewDistanceMeters       float64 `json:"new_distance_m"`
	NewDurationSeconds      float64 `json:"new_duration_s"`
}

// FeedbackDetails is user feedback attached to a session.
type FeedbackDetails struct {
	FeedbackID  string `json:"feedback_id"`
	Type        string `json:"type"`
	Description string `json:"description,omitempty"`
	Source      string `json:"source,omitempty"`
}

// SampleFrom converts a fix into an event location.
func SampleFrom(loc engine.Location) LocationSample {
	s := LocationSample{
		Lat:      loc.Coordinate.Lat,
		Lon:      loc.Coordinate.Lon,
		Speed:    loc.Speed,
		Accuracy: loc.Accuracy,
		Time:     loc.Time,
	}
	if loc.HasBearing {
		b := loc.Bearing
		s.Bearing = &b
	}
	return s
}

// SamplesFrom converts fixes into event locations.
func SamplesFrom(locs []engine.Location) []LocationSample {
	if len(locs) == 0 {
		return nil
	}
	out := make([]LocationSample, len(locs))
	for i, l := range locs {
		out[i] = SampleFrom(l)
	}
	return out
}

// SummarizeRoute describes r, or returns nil for a nil route.
func SummarizeRoute(r *route.Route) *RouteSummary {
	if r == nil {
		return nil
	}
	s := &RouteSummary{
		ID:              r.ID,
		Profile:         r.Profile,
		DistanceMeters:  r.DistanceMeters,
		DurationSeconds: r.DurationSeconds,
		LegCount:        len(r.Legs),
	}
	for _, leg := range r.Legs {
		s.StepCount += len(leg.Steps)
	}
	return s
}
