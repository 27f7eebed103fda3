package main

import (
	"context"
	"time"

	"github.com/breatheroute/navcore/internal/progress"
)

// waitForFix polls until the latest progress was computed from a fix taken at or after
// last, or drainTimeout passes.
func waitForFix(ctx context.Context, latest func() (progress.State, bool), last time.Time) bool {
	ctx, cancel := context.WithTimeout(ctx, drainTimeout)
	defer cancel()

	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()

	for {
		if p, ok := latest(); ok && !p.Location.Time.Before(last) {
			return true
		}
		select {
		case <-ctx.Done():
			return false
		case <-ticker.C:
		}
	}
}
