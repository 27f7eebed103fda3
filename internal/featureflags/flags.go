// Package featureflags provides runtime switches for optional navigation behavior.
package featureflags

import (
	"time"
)

// Well-known feature flag keys.
const (
	// FlagEnableOffRouteDetection turns off-route detection on.
	FlagEnableOffRouteDetection = "enable_off_route_detection"

	// FlagEnableFasterRoute turns periodic faster-route checks on.
	FlagEnableFasterRoute = "enable_faster_route"

	// FlagEnableRouteRefresh turns annotation refreshes on.
	FlagEnableRouteRefresh = "enable_route_refresh"

	// FlagEnableReroute lets the service fetch a new route when the traveler leaves the current one.
	FlagEnableReroute = "enable_reroute"

	// FlagOffRouteThreshold overrides the off-route distance threshold in meters.
	FlagOffRouteThreshold = "off_route_threshold_m"
)

// Flag is a feature flag with its current value.
type Flag struct {
	Key       string    `json:"key"`
	Value     any       `json:"value"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// FlagList is a list of feature flags.
type FlagList struct {
	Items []Flag `json:"items"`
}

// BoolValue returns the flag value as a boolean, or defaultValue when the flag is nil or
// not boolean-like.
func (f *Flag) BoolValue(defaultValue bool) bool {
	if f == nil {
		return defaultValue
	}
	switch v := f.Value.(type) {
	case bool:
		return v
	case float64:
		// JSON unmarshals numbers as float64
		return v != 0
	default:
		return defaultValue
	}
}

// IntValue returns the flag value as an integer.
func (f *Flag) IntValue(defaultValue int) int {
	if f == nil {
		return defaultValue
	}
	switch v := f.Value.(type) {
	case float64:
		return int(v)
	case int:
		return v
	default:
		return defaultValue
	}
}

// Float64Value returns the flag value as a float64.
func (f *Flag) Float64Value(defaultValue float64) float64 {
	if f == nil {
		return defaultValue
	}
	switch v := f.Value.(type) {
	case float64:
		return v
	case int:
		return float64(v)
	default:
		return defaultValue
	}
}

// DurationValue returns the flag value as a duration. Strings are parsed with
// time.ParseDuration and numbers are taken as seconds.
func (f *Flag) DurationValue(defaultValue time.Duration) time.Duration {
	if f == nil {
		return defaultValue
	}
	switch v := f.Value.(type) {
	case string:
		d, err := time.ParseDuration(v)
		if err != nil {
			return defaultValue
		}
		return d
	case float64:
		return time.Duration(v * float64(time.Second))
	case int:
		return time.Duration(v) * time.Second
	default:
		return defaultValue
	}
}

// Defaults are the flag values used when the repository has none.
type Defaults struct {
	OffRouteDetection bool
	FasterRoute       bool
	RouteRefresh      bool
	Reroute           bool
}

// AllEnabled turns every behavior on.
func AllEnabled() Defaults {
	return Defaults{OffRouteDetection: true, FasterRoute: true, RouteRefresh: true, Reroute: true}
}

// DefaultFlags returns the fallback flags for d.
func DefaultFlags(d Defaults) map[string]*Flag {
	now := time.Now()
	return map[string]*Flag{
		FlagEnableOffRouteDetection: {Key: FlagEnableOffRouteDetection, Value: d.OffRouteDetection, UpdatedAt: now},
		FlagEnableFasterRoute:       {Key: FlagEnableFasterRoute, Value: d.FasterRoute, UpdatedAt: now},
		FlagEnableRouteRefresh:      {Key: FlagEnableRouteRefresh, Value: d.RouteRefresh, UpdatedAt: now},
		FlagEnableReroute:           {Key: FlagEnableReroute, Value: d.Reroute, UpdatedAt: now},
	}
}
