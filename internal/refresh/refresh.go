// Package refresh periodically refreshes the annotations of the active route.
package refresh

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/breatheroute/navcore/internal/progress"
	"github.com/breatheroute/navcore/internal/route"
	"github.com/breatheroute/navcore/internal/telemetry"
)

const tracerName = "github.com/breatheroute/navcore/internal/refresh"

// Refresher fetches up-to-date annotations for the legs of r at or after legIndex.
type Refresher interface {
	Refresh(ctx context.Context, r *route.Route, legIndex int) (*route.Route, error)
}

// Target is the navigation session whose route is refreshed.
type Target interface {
	Route() *route.Route
	Progress() (progress.State, bool)
	// RefreshRoute swaps in r, whose annotations were refreshed from fromLeg on.
	RefreshRoute(ctx context.Context, r *route.Route, fromLeg int) error
}

// Outcome is the result of one refresh attempt.
type Outcome string

// Refresh outcomes.
const (
	OutcomeApplied Outcome = "applied"
	OutcomeFailed  Outcome = "failed"
	OutcomeSkipped Outcome = "skipped"
)

// Config holds configuration for a Controller.
type Config struct {
	// Refresher fetches refreshed routes.
	Refresher Refresher

	// Target receives refreshed routes.
	Target Target

	// Interval is the time between refresh attempts (default: 5 minutes).
	Interval time.Duration

	// Timeout bounds a single refresh call (default: 30 seconds).
	Timeout time.Duration

	// Enabled gates refreshes (default: always enabled).
	Enabled func() bool

	// Logger for refresh operations.
	Logger zerolog.Logger

	// Metrics records refresh outcomes (optional).
	Metrics *telemetry.NavigationMetrics

	// Tracer for refresh spans (default: the global tracer).
	Tracer trace.Tracer
}

// Controller refreshes the target's route on a timer. The timer restarts after every
// attempt, whatever its outcome.
type Controller struct {
	refresher Refresher
	target    Target
	interval  time.Duration
	timeout   time.Duration
	enabled   func() bool
	logger    zerolog.Logger
	telemetry *telemetry.NavigationMetrics
	tracer    trace.Tracer

	metrics *Metrics
}

// Metrics tracks refresh statistics.
type Metrics struct {
	mu sync.RWMutex

	TotalRefreshes      int64
	SuccessfulRefreshes int64
	FailedRefreshes     int64
	SkippedRefreshes    int64

	LastRefreshAt       time.Time
	LastRefreshDuration time.Duration
	TotalDuration       time.Duration
	LastError           string
}

// Result describes one refresh attempt.
type Result struct {
	Outcome   Outcome
	RouteID   string
	LegIndex  int
	StartTime time.Time
	Duration  time.Duration
	Err       error
}

// New creates a refresh controller.
func New(cfg Config) (*Controller, error) {
	if cfg.Refresher == nil {
		return nil, errors.New("refresh: refresher is required")
	}
	if cfg.Target == nil {
		return nil, errors.New("refresh: target is required")
	}

	interval := cfg.Interval
	if interval == 0 {
		interval = 5 * time.Minute
	}

	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	enabled := cfg.Enabled
	if enabled == nil {
		enabled = func() bool { return true }
	}

	tracer := cfg.Tracer
	if tracer == nil {
		tracer = otel.Tracer(tracerName)
	}

	return &Controller{
		refresher: cfg.Refresher,
		target:    cfg.Target,
		interval:  interval,
		timeout:   timeout,
		enabled:   enabled,
		logger:    cfg.Logger.With().Str("component", "route_refresh").Logger(),
		telemetry: cfg.Metrics,
		tracer:    tracer,
		metrics:   &Metrics{},
	}, nil
}

// Run refreshes the route every interval until ctx is done.
func (c *Controller) Run(ctx context.Context) {
	c.logger.Info().
		Dur("interval", c.interval).
		Msg("route refresh started")

	timer := time.NewTimer(c.interval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			c.logger.Info().Msg("route refresh stopped")
			return
		case <-timer.C:
			c.RefreshOnce(ctx)
			timer.Reset(c.interval)
		}
	}
}

// RefreshOnce performs a single refresh attempt.
func (c *Controller) RefreshOnce(ctx context.Context) *Result {
	result := &Result{StartTime: time.Now()}
	defer func() {
		result.Duration = time.Since(result.StartTime)
		c.updateMetrics(result)
		c.telemetry.RouteRefresh(ctx, string(result.Outcome))
	}()

	if !c.enabled() {
		result.Outcome = OutcomeSkipped
		return result
	}

	current := c.target.Route()
	if current == nil {
		result.Outcome = OutcomeSkipped
		return result
	}
	result.RouteID = current.ID
	if p, ok := c.target.Progress(); ok && p.RouteID() == current.ID {
		result.LegIndex = p.LegIndex
	}

	ctx, span := c.tracer.Start(ctx, "route.refresh",
		trace.WithAttributes(
			attribute.String("route.id", current.ID),
			attribute.Int("route.leg_index", result.LegIndex),
		),
	)
	defer span.End()

	if err := c.refresh(ctx, current, result.LegIndex); err != nil {
		result.Outcome = OutcomeFailed
		result.Err = err
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())

		c.logger.Warn().
			Err(err).
			Str("route_id", current.ID).
			Int("leg_index", result.LegIndex).
			Msg("route refresh failed")
		return result
	}

	result.Outcome = OutcomeApplied
	c.logger.Debug().
		Str("route_id", current.ID).
		Int("leg_index", result.LegIndex).
		Msg("route refreshed")
	return result
}

func (c *Controller) refresh(ctx context.Context, current *route.Route, legIndex int) error {
	refreshCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	refreshed, err := c.refresher.Refresh(refreshCtx, current, legIndex)
	if err != nil {
		return err
	}

	merged, err := current.WithRefreshedAnnotations(refreshed, legIndex)
	if err != nil {
		return err
	}
	return c.target.RefreshRoute(ctx, merged, legIndex)
}

func (c *Controller) updateMetrics(result *Result) {
	c.metrics.mu.Lock()
	defer c.metrics.mu.Unlock()

	c.metrics.TotalRefreshes++
	switch result.Outcome {
	case OutcomeApplied:
		c.metrics.SuccessfulRefreshes++
	case OutcomeFailed:
		c.metrics.FailedRefreshes++
		c.metrics.LastError = result.Err.Error()
	case OutcomeSkipped:
		c.metrics.SkippedRefreshes++
	}
	c.metrics.LastRefreshAt = result.StartTime.Add(result.Duration)
	c.metrics.LastRefreshDuration = result.Duration
	c.metrics.TotalDuration += result.Duration
}

// GetMetrics returns a copy of the current metrics.
func (c *Controller) GetMetrics() Metrics {
	c.metrics.mu.RLock()
	defer c.metrics.mu.RUnlock()

	return Metrics{
		TotalRefreshes:      c.metrics.TotalRefreshes,
		SuccessfulRefreshes: c.metrics.SuccessfulRefreshes,
		FailedRefreshes:     c.metrics.FailedRefreshes,
		SkippedRefreshes:    c.metrics.SkippedRefreshes,
		LastRefreshAt:       c.metrics.LastRefreshAt,
		LastRefreshDuration: c.metrics.LastRefreshDuration,
		TotalDuration:       c.metrics.TotalDuration,
		LastError:           c.metrics.LastError,
	}
}

// MetricsSnapshot returns a snapshot of the current metrics as a map.
func (c *Controller) MetricsSnapshot() map[string]interface{} {
	m := c.GetMetrics()
	return map[string]interface{}{
		"total_refreshes":       m.TotalRefreshes,
		"successful_refreshes":  m.SuccessfulRefreshes,
		"failed_refreshes":      m.FailedRefreshes,
		"skipped_refreshes":     m.SkippedRefreshes,
		"last_refresh_at":       m.LastRefreshAt,
		"last_refresh_duration": m.LastRefreshDuration.String(),
		"total_duration":        m.TotalDuration.String(),
		"last_error":            m.LastError,
	}
}
