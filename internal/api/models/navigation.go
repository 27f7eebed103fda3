package models

import (
	"time"

	"github.com/breatheroute/navcore/internal/engine"
	"github.com/breatheroute/navcore/internal/progress"
	"github.com/breatheroute/navcore/internal/session"
	"github.com/breatheroute/navcore/pkg/polyline"
)

// Location is a positioning fix as reported by a device.
type Location struct {
	Lat      float64  `json:"lat" validate:"gte=-90,lte=90"`
	Lon      float64  `json:"lon" validate:"gte=-180,lte=180"`
	Altitude float64  `json:"altitude,omitempty"`
	Bearing  *float64 `json:"bearing,omitempty" validate:"omitempty,gte=0,lt=360"`
	// Speed is in meters per second.
	Speed float64 `json:"speed,omitempty" validate:"gte=0"`
	// Accuracy is the horizontal accuracy radius in meters.
	Accuracy  float64    `json:"accuracy,omitempty" validate:"gte=0"`
	Timestamp *Timestamp `json:"timestamp,omitempty"`
}

// ToEngine converts l to an engine fix. Fixes without a timestamp are stamped with received.
func (l Location) ToEngine(received time.Time) engine.Location {
	loc := engine.Location{
		Coordinate: polyline.Coordinate{Lat: l.Lat, Lon: l.Lon},
		Altitude:   l.Altitude,
		Speed:      l.Speed,
		Accuracy:   l.Accuracy,
		Time:       received,
	}
	if l.Bearing != nil {
		loc.Bearing = *l.Bearing
		loc.HasBearing = true
	}
	if l.Timestamp != nil {
		loc.Time = l.Timestamp.Time()
	}
	return loc
}

// LocationFromEngine converts an engine fix for output.
func LocationFromEngine(loc engine.Location) Location {
	out := Location{
		Lat:      loc.Coordinate.Lat,
		Lon:      loc.Coordinate.Lon,
		Altitude: loc.Altitude,
		Speed:    loc.Speed,
		Accuracy: loc.Accuracy,
	}
	if loc.HasBearing {
		b := loc.Bearing
		out.Bearing = &b
	}
	if !loc.Time.IsZero() {
		ts := Timestamp(loc.Time)
		out.Timestamp = &ts
	}
	return out
}

// LocationsRequest is a batch of fixes in the order they were taken.
type LocationsRequest struct {
	Locations []Location `json:"locations" validate:"required,min=1,max=100,dive"`
}

// LocationsAccepted acknowledges a location batch.
type LocationsAccepted struct {
	Accepted int `json:"accepted"`
}

// BannerInstruction is the visual instruction for the upcoming maneuver.
type BannerInstruction struct {
	Primary   string `json:"primary"`
	Secondary string `json:"secondary,omitempty"`
	Sub       string `json:"sub,omitempty"`
}

// VoiceInstruction is the spoken instruction for the upcoming maneuver.
type VoiceInstruction struct {
	Announcement  string  `json:"announcement"`
	SSML          string  `json:"ssml,omitempty"`
	DistanceAlong float64 `json:"distanceAlongGeometry"`
}

// Annotation is the traffic annotation at the traveler's position.
type Annotation struct {
	Index      int      `json:"index"`
	Speed      *float64 `json:"speed,omitempty"`
	Congestion string   `json:"congestion,omitempty"`
}

// Progress is the traveler's progress along the active route.
type Progress struct {
	RouteID   string    `json:"routeId"`
	Lifecycle string    `json:"lifecycle"`
	Time      Timestamp `json:"time"`

	LegIndex  int `json:"legIndex"`
	StepIndex int `json:"stepIndex"`

	DistanceRemaining     float64 `json:"distanceRemaining"`
	LegDistanceRemaining  float64 `json:"legDistanceRemaining"`
	LegDurationRemaining  float64 `json:"legDurationRemaining"`
	StepDistanceRemaining float64 `json:"stepDistanceRemaining"`

	InTunnel   bool        `json:"inTunnel"`
	Location   Location    `json:"location"`
	Annotation *Annotation `json:"annotation,omitempty"`

	Banner *BannerInstruction `json:"banner,omitempty"`
	Voice  *VoiceInstruction  `json:"voice,omitempty"`
}

// NewProgress renders a progress snapshot.
func NewProgress(s progress.State) Progress {
	p := Progress{
		RouteID:               s.RouteID(),
		Lifecycle:             s.Lifecycle.String(),
		Time:                  Timestamp(s.Time),
		LegIndex:              s.LegIndex,
		StepIndex:             s.StepIndex,
		DistanceRemaining:     s.DistanceRemaining,
		LegDistanceRemaining:  s.LegDistanceRemaining,
		LegDurationRemaining:  s.LegDurationRemaining.Seconds(),
		StepDistanceRemaining: s.StepDistanceRemaining,
		InTunnel:              s.InTunnel,
		Location:              LocationFromEngine(s.Location),
	}
	if a := s.Annotation; a != nil {
		p.Annotation = &Annotation{Index: a.Index, Speed: a.Speed, Congestion: a.Congestion}
	}
	if b := s.BannerInstruction; b != nil {
		p.Banner = &BannerInstruction{Primary: b.Primary, Secondary: b.Secondary, Sub: b.Sub}
	}
	if v := s.VoiceInstruction; v != nil {
		p.Voice = &VoiceInstruction{Announcement: v.Announcement, SSML: v.SSML, DistanceAlong: v.DistanceAlong}
	}
	return p
}

// Session summarizes the navigation session.
type Session struct {
	SessionID         string     `json:"sessionId"`
	StartedAt         Timestamp  `json:"startedAt"`
	ArrivedAt         *Timestamp `json:"arrivedAt,omitempty"`
	OriginalRouteID   string     `json:"originalRouteId,omitempty"`
	CurrentRouteID    string     `json:"currentRouteId,omitempty"`
	RerouteCount      int        `json:"rerouteCount"`
	DistanceCompleted float64    `json:"distanceCompleted"`
	LastRerouteAt     *Timestamp `json:"lastRerouteAt,omitempty"`
	QueuedEvents      int        `json:"queuedEvents"`
}

// NewSession renders a session snapshot.
func NewSession(s session.State) Session {
	out := Session{
		SessionID:         s.SessionID,
		StartedAt:         Timestamp(s.StartedAt),
		ArrivedAt:         TimestampPtr(s.ArrivedAt),
		RerouteCount:      s.RerouteCount,
		DistanceCompleted: s.DistanceCompleted,
		LastRerouteAt:     TimestampPtr(s.LastRerouteAt),
		QueuedEvents:      s.QueuedEvents,
	}
	if s.OriginalRoute != nil {
		out.OriginalRouteID = s.OriginalRoute.ID
	}
	if s.CurrentRoute != nil {
		out.CurrentRouteID = s.CurrentRoute.ID
	}
	return out
}

// FeedbackRequest is user feedback about the session.
type FeedbackRequest struct {
	Type        string `json:"type" validate:"required,max=64"`
	Description string `json:"description,omitempty" validate:"max=2000"`
	Source      string `json:"source,omitempty" validate:"omitempty,oneof=user reroute arrival"`
}

// Input converts the request for the session tracker.
func (f FeedbackRequest) Input() session.FeedbackInput {
	return session.FeedbackInput{Type: f.Type, Description: f.Description, Source: f.Source}
}

// Feedback identifies queued feedback.
type Feedback struct {
	FeedbackID string `json:"feedbackId"`
}
