package models

import "github.com/breatheroute/navcore/internal/featureflags"

// FlagUpdate sets one feature flag.
type FlagUpdate struct {
	Key   string `json:"key" validate:"required,max=128"`
	Value any    `json:"value"`
}

// FlagsUpdateRequest sets several feature flags at once.
type FlagsUpdateRequest struct {
	Items []FlagUpdate `json:"items" validate:"required,min=1,dive"`
}

// Flags converts the request for the flag service.
func (r FlagsUpdateRequest) Flags() []*featureflags.Flag {
	flags := make([]*featureflags.Flag, len(r.Items))
	for i, item := range r.Items {
		flags[i] = &featureflags.Flag{Key: item.Key, Value: item.Value}
	}
	return flags
}
