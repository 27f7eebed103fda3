// Package routetest builds synthetic routes for tests.
package routetest

import (
	"fmt"
	"math"

	"github.com/breatheroute/navcore/internal/route"
	"github.com/breatheroute/navcore/pkg/polyline"
)

// SpeedMetersPerSecond is the travel speed used to derive step durations.
const SpeedMetersPerSecond = 10.0

// Origin is the start of every synthetic route.
var Origin = polyline.Coordinate{Lat: 52.0, Lon: 4.0}

// MetersToDegrees converts a distance along a meridian into degrees of latitude.
func MetersToDegrees(m float64) float64 {
	return m / (polyline.EarthRadiusMeters * math.Pi / 180)
}

// PointAt returns the coordinate m meters north of Origin, offset east by eastMeters.
func PointAt(m, eastMeters float64) polyline.Coordinate {
	p := polyline.Coordinate{Lat: Origin.Lat + MetersToDegrees(m), Lon: Origin.Lon}
	if eastMeters != 0 {
		p.Lon += MetersToDegrees(eastMeters) / cosDeg(p.Lat)
	}
	return p
}

// Straight builds a route heading due north from Origin. Each argument is a leg,
// given as the lengths in meters of its steps.
func Straight(id string, legs ...[]float64) *route.Route {
	r := &route.Route{
		ID:                id,
		RequestUUID:       "req-" + id,
		Profile:           "driving",
		GeometryPrecision: polyline.Precision6,
	}

	travelled := 0.0
	for li, steps := range legs {
		leg := route.Leg{Summary: fmt.Sprintf("leg %d", li)}
		for si, length := range steps {
			start := PointAt(travelled, 0)
			end := PointAt(travelled+length, 0)
			step := route.Step{
				Name:            fmt.Sprintf("Street %d-%d", li, si),
				Geometry:        polyline.EncodePrecision([]polyline.Coordinate{start, end}, polyline.Precision6),
				DistanceMeters:  length,
				DurationSeconds: length / SpeedMetersPerSecond,
				Maneuver: route.Maneuver{
					Type:         maneuverType(li, si, len(legs), len(steps)),
					Modifier:     "straight",
					Location:     start,
					BearingAfter: 0,
				},
			}
			leg.Steps = append(leg.Steps, step)
			leg.DistanceMeters += length
			leg.DurationSeconds += step.DurationSeconds
			travelled += length
		}
		r.Legs = append(r.Legs, leg)
		r.DistanceMeters += leg.DistanceMeters
		r.DurationSeconds += leg.DurationSeconds
	}
	return r
}

// Annotate returns a copy of r with one annotation segment per step.
func Annotate(r *route.Route) *route.Route {
	out := *r
	out.Legs = make([]route.Leg, len(r.Legs))
	copy(out.Legs, r.Legs)
	for i := range out.Legs {
		a := &route.Annotation{}
		for _, s := range out.Legs[i].Steps {
			a.Distance = append(a.Distance, s.DistanceMeters)
			a.Duration = append(a.Duration, s.DurationSeconds)
			a.Speed = append(a.Speed, SpeedMetersPerSecond)
			a.Congestion = append(a.Congestion, "low")
		}
		out.Legs[i].Annotation = a
	}
	return &out
}

func maneuverType(leg, step, legCount, stepCount int) string {
	switch {
	case leg == 0 && step == 0:
		return "depart"
	case step == stepCount-1 && leg == legCount-1:
		return "arrive"
	default:
		return "turn"
	}
}

func cosDeg(deg float64) float64 {
	return math.Cos(deg * math.Pi / 180)
}
