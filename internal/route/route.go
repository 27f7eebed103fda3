// Package route provides the immutable route model consumed by the navigation pipeline.
package route

import (
	"errors"
	"fmt"

	"github.com/breatheroute/navcore/pkg/polyline"
)

// Sentinel errors for route lookups and validation.
var (
	// ErrIndexOutOfRange indicates a leg or step index that does not exist on the route.
	ErrIndexOutOfRange = errors.New("route index out of range")
	// ErrInvalidRoute indicates a route that cannot be navigated.
	ErrInvalidRoute = errors.New("invalid route")
)

// Route is a directions route. A Route is never mutated after construction;
// refreshes produce a new value.
type Route struct {
	// ID identifies the route. Progress state resets whenever the ID changes.
	ID string
	// RequestUUID and RouteIndex address the route at the directions service for refreshes.
	RequestUUID string
	RouteIndex  int
	Profile     string

	DistanceMeters  float64
	DurationSeconds float64
	// GeometryPrecision is the polyline precision of step geometries (5 or 6).
	GeometryPrecision int
	Legs              []Leg
}

// Leg is the part of a route between two waypoints.
type Leg struct {
	Summary         string
	DistanceMeters  float64
	DurationSeconds float64
	Steps           []Step
	// Annotation is nil when the directions response carried no annotations.
	Annotation *Annotation
}

// Step is a single maneuver and the geometry leading to the next one.
type Step struct {
	Name            string
	Geometry        string
	DistanceMeters  float64
	DurationSeconds float64
	Maneuver        Maneuver
}

// Maneuver describes the action at the start of a step.
type Maneuver struct {
	Type          string
	Modifier      string
	Instruction   string
	Location      polyline.Coordinate
	BearingBefore float64
	BearingAfter  float64
}

// Annotation holds per-segment data for a leg, one entry per geometry segment.
type Annotation struct {
	Distance   []float64
	Duration   []float64
	Speed      []float64
	Congestion []string
}

// AnnotationPoint is the annotation data of a single segment.
type AnnotationPoint struct {
	Index    int
	Distance float64
	Duration float64
	// Speed is nil when the annotation carries no speed array.
	Speed      *float64
	Congestion string
}

// Len returns the number of annotated segments.
func (a *Annotation) Len() int {
	if a == nil {
		return 0
	}
	return len(a.Distance)
}

// At returns the annotation of segment i.
func (a *Annotation) At(i int) (AnnotationPoint, error) {
	if i < 0 || i >= a.Len() {
		return AnnotationPoint{}, fmt.Errorf("annotation %d: %w", i, ErrIndexOutOfRange)
	}
	p := AnnotationPoint{Index: i, Distance: a.Distance[i]}
	if i < len(a.Duration) {
		p.Duration = a.Duration[i]
	}
	if i < len(a.Speed) {
		speed := a.Speed[i]
		p.Speed = &speed
	}
	if i < len(a.Congestion) {
		p.Congestion = a.Congestion[i]
	}
	return p, nil
}

// Leg returns the leg at index i.
func (r *Route) Leg(i int) (*Leg, error) {
	if i < 0 || i >= len(r.Legs) {
		return nil, fmt.Errorf("leg %d of %d: %w", i, len(r.Legs), ErrIndexOutOfRange)
	}
	return &r.Legs[i], nil
}

// Step returns the step at (leg, step).
func (r *Route) Step(leg, step int) (*Step, error) {
	l, err := r.Leg(leg)
	if err != nil {
		return nil, err
	}
	if step < 0 || step >= len(l.Steps) {
		return nil, fmt.Errorf("step %d of %d in leg %d: %w", step, len(l.Steps), leg, ErrIndexOutOfRange)
	}
	return &l.Steps[step], nil
}

// StepGeometry decodes the geometry of the step at (leg, step).
func (r *Route) StepGeometry(leg, step int) ([]polyline.Coordinate, error) {
	s, err := r.Step(leg, step)
	if err != nil {
		return nil, err
	}
	return polyline.DecodePrecision(s.Geometry, r.precision()), nil
}

// Next returns the indices following (leg, step), wrapping into the next leg.
// ok is false when (leg, step) is the final step of the route.
func (r *Route) Next(leg, step int) (nextLeg, nextStep int, ok bool) {
	if leg < 0 || leg >= len(r.Legs) {
		return leg, step, false
	}
	if step+1 < len(r.Legs[leg].Steps) {
		return leg, step + 1, true
	}
	if leg+1 < len(r.Legs) {
		return leg + 1, 0, true
	}
	return leg, step, false
}

// IsFinalLeg reports whether leg is the last leg of the route.
func (r *Route) IsFinalLeg(leg int) bool {
	return leg == len(r.Legs)-1
}

func (r *Route) precision() int {
	if r.GeometryPrecision == 0 {
		return polyline.Precision6
	}
	return r.GeometryPrecision
}

// Validate checks that the route can be navigated.
func (r *Route) Validate() error {
	if r == nil {
		return fmt.Errorf("%w: nil route", ErrInvalidRoute)
	}
	if r.ID == "" {
		return fmt.Errorf("%w: missing id", ErrInvalidRoute)
	}
	if p := r.precision(); p != polyline.Precision5 && p != polyline.Precision6 {
		return fmt.Errorf("%w: unsupported geometry precision %d", ErrInvalidRoute, p)
	}
	if r.DistanceMeters < 0 || r.DurationSeconds < 0 {
		return fmt.Errorf("%w: negative distance or duration", ErrInvalidRoute)
	}
	if len(r.Legs) == 0 {
		return fmt.Errorf("%w: no legs", ErrInvalidRoute)
	}
	for i, leg := range r.Legs {
		if len(leg.Steps) == 0 {
			return fmt.Errorf("%w: leg %d has no steps", ErrInvalidRoute, i)
		}
		for j, step := range leg.Steps {
			if step.DistanceMeters < 0 || step.DurationSeconds < 0 {
				return fmt.Errorf("%w: leg %d step %d has negative distance or duration", ErrInvalidRoute, i, j)
			}
		}
		if a := leg.Annotation; a != nil {
			n := len(a.Distance)
			if (a.Duration != nil && len(a.Duration) != n) ||
				(a.Speed != nil && len(a.Speed) != n) ||
				(a.Congestion != nil && len(a.Congestion) != n) {
				return fmt.Errorf("%w: leg %d annotation arrays differ in length", ErrInvalidRoute, i)
			}
		}
	}
	return nil
}

// WithRefreshedAnnotations returns a copy of r whose legs at or after fromLeg carry the
// annotations of refreshed. Geometry, identity and earlier legs are preserved, so
// progress indices stay valid across the swap.
func (r *Route) WithRefreshedAnnotations(refreshed *Route, fromLeg int) (*Route, error) {
	if refreshed == nil {
		return nil, fmt.Errorf("%w: nil refreshed route", ErrInvalidRoute)
	}
	if len(refreshed.Legs) != len(r.Legs) {
		return nil, fmt.Errorf("%w: refreshed route has %d legs, want %d", ErrInvalidRoute, len(refreshed.Legs), len(r.Legs))
	}
	if fromLeg < 0 || fromLeg >= len(r.Legs) {
		return nil, fmt.Errorf("refresh from leg %d: %w", fromLeg, ErrIndexOutOfRange)
	}

	out := *r
	out.Legs = make([]Leg, len(r.Legs))
	copy(out.Legs, r.Legs)
	for i := fromLeg; i < len(out.Legs); i++ {
		out.Legs[i].Annotation = refreshed.Legs[i].Annotation
	}
	return &out, nil
}
