package featureflags

import (
	"context"
	"errors"
)

// ErrFlagNotFound is returned when a repository holds no stored value for a flag.
var ErrFlagNotFound = errors.New("feature flag not found")

// Reader reads stored flag values. A key without a stored value falls back to the
// service defaults.
type Reader interface {
	GetFlag(ctx context.Context, key string) (*Flag, error)
	GetAllFlags(ctx context.Context) (map[string]*Flag, error)
}

// Writer changes stored flag values. Deleting a key reverts the flag to its default.
type Writer interface {
	SetFlag(ctx context.Context, flag *Flag) error

	// SetFlags stores all of flags or none of them.
	SetFlags(ctx context.Context, flags []*Flag) error

	DeleteFlag(ctx context.Context, key string) error
}

// Repository stores operator overrides of the navigation flags.
type Repository interface {
	Reader
	Writer
}
