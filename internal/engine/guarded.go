package engine

import (
	"fmt"
	"sync"
	"time"

	"github.com/breatheroute/navcore/internal/route"
)

// Guarded serializes access to an Engine so status retrieval never overlaps location
// ingestion or route changes.
type Guarded struct {
	mu       sync.Mutex
	engine   Engine
	disposed bool
}

// NewGuarded wraps e.
func NewGuarded(e Engine) *Guarded {
	return &Guarded{engine: e}
}

// SetRoute implements Engine.
func (g *Guarded) SetRoute(r *route.Route, routeIndex, legIndex int) (Status, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.disposed {
		return Status{}, ErrDisposed
	}
	st, err := g.engine.SetRoute(r, routeIndex, legIndex)
	if err != nil {
		return Status{}, fmt.Errorf("set route %s: %w", r.ID, err)
	}
	return st, nil
}

// UpdateLocation implements Engine.
func (g *Guarded) UpdateLocation(fix Location) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.disposed {
		return ErrDisposed
	}
	return g.engine.UpdateLocation(fix)
}

// Status implements Engine.
func (g *Guarded) Status(at time.Time) (Status, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.disposed {
		return Status{}, ErrDisposed
	}
	return g.engine.Status(at)
}

// ChangeRouteLeg implements Engine.
func (g *Guarded) ChangeRouteLeg(routeIndex, legIndex int) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.disposed {
		return ErrDisposed
	}
	return g.engine.ChangeRouteLeg(routeIndex, legIndex)
}

// Close implements Engine. Closing twice is a no-op.
func (g *Guarded) Close() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.disposed {
		return nil
	}
	g.disposed = true
	return g.engine.Close()
}
