package directions

import (
	"errors"
	"fmt"

	"github.com/breatheroute/navcore/pkg/polyline"
)

// Sentinel errors for directions requests.
var (
	// ErrNoRoute indicates the service found no route between the waypoints.
	ErrNoRoute = errors.New("no route found")

	// ErrRateLimited indicates the service rejected the request for exceeding its quota.
	ErrRateLimited = errors.New("directions rate limit exceeded")

	// ErrUnavailable indicates the service could not be reached or failed.
	ErrUnavailable = errors.New("directions service unavailable")

	// ErrInvalidRequest indicates a request the service cannot answer.
	ErrInvalidRequest = errors.New("invalid directions request")
)

// Error is a directions failure with the service code that caused it.
type Error struct {
	Code    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("directions: %s: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("directions: %s", e.Code)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Request describes a route to fetch.
type Request struct {
	// Profile is the routing profile, such as "driving" or "cycling".
	Profile string

	// Waypoints are visited in order. At least two are required.
	Waypoints []polyline.Coordinate

	// Bearing, when set, is the traveler's heading at the first waypoint.
	Bearing *float64

	// Alternatives requests alternative routes in addition to the best one.
	Alternatives bool
}

func (r Request) validate() error {
	if r.Profile == "" {
		return &Error{Code: "INVALID_PROFILE", Message: "profile is required", Err: ErrInvalidRequest}
	}
	if len(r.Waypoints) < 2 {
		return &Error{Code: "INVALID_WAYPOINTS", Message: "at least two waypoints are required", Err: ErrInvalidRequest}
	}
	for i, w := range r.Waypoints {
		if w.Lat < -90 || w.Lat > 90 || w.Lon < -180 || w.Lon > 180 {
			return &Error{
				Code:    "INVALID_WAYPOINTS",
				Message: fmt.Sprintf("waypoint %d out of range", i),
				Err:     ErrInvalidRequest,
			}
		}
	}
	return nil
}

// Wire format of the directions and directions-refresh APIs.

type directionsResponse struct {
	Code    string      `json:"code"`
	Message string      `json:"message,omitempty"`
	UUID    string      `json:"uuid,omitempty"`
	Routes  []wireRoute `json:"routes"`
}

type refreshResponse struct {
	Code    string    `json:"code"`
	Message string    `json:"message,omitempty"`
	Route   wireRoute `json:"route"`
}

type wireRoute struct {
	Distance float64   `json:"distance"`
	Duration float64   `json:"duration"`
	Legs     []wireLeg `json:"legs"`
}

type wireLeg struct {
	Summary    string          `json:"summary"`
	Distance   float64         `json:"distance"`
	Duration   float64         `json:"duration"`
	Steps      []wireStep      `json:"steps"`
	Annotation *wireAnnotation `json:"annotation,omitempty"`
}

type wireStep struct {
	Name     string       `json:"name"`
	Geometry string       `json:"geometry"`
	Distance float64      `json:"distance"`
	Duration float64      `json:"duration"`
	Maneuver wireManeuver `json:"maneuver"`
}

type wireManeuver struct {
	Type          string     `json:"type"`
	Modifier      string     `json:"modifier,omitempty"`
	Instruction   string     `json:"instruction"`
	Location      [2]float64 `json:"location"` // [lon, lat]
	BearingBefore float64    `json:"bearing_before"`
	BearingAfter  float64    `json:"bearing_after"`
}

type wireAnnotation struct {
	Distance   []float64 `json:"distance"`
	Duration   []float64 `json:"duration,omitempty"`
	Speed      []float64 `json:"speed,omitempty"`
	Congestion []string  `json:"congestion,omitempty"`
}

// Response codes.
const (
	codeOK          = "Ok"
	codeNoRoute     = "NoRoute"
	codeNoSegment   = "NoSegment"
	codeInvalidUUID = "InvalidUUID"
)
