package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// CycleDurationMetric is the name of the cycle duration histogram.
const CycleDurationMetric = "navigation.cycle.duration"

// NavigationMetrics holds the instruments recorded by the navigation pipeline.
// A nil *NavigationMetrics records nothing.
type NavigationMetrics struct {
	cycleDuration  metric.Float64Histogram
	cycles         metric.Int64Counter
	droppedCycles  metric.Int64Counter
	offRoute       metric.Int64Counter
	milestones     metric.Int64Counter
	faults         metric.Int64Counter
	reroutes       metric.Int64Counter
	routeRefreshes metric.Int64Counter
}

// NewNavigationMetrics creates the navigation instruments on meter.
func NewNavigationMetrics(meter metric.Meter) (*NavigationMetrics, error) {
	cycleDuration, err := meter.Float64Histogram(
		CycleDurationMetric,
		metric.WithDescription("Duration of navigation update cycles in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	cycles, err := meter.Int64Counter(
		"navigation.cycles",
		metric.WithDescription("Total number of navigation update cycles"),
		metric.WithUnit("{cycle}"),
	)
	if err != nil {
		return nil, err
	}

	droppedCycles, err := meter.Int64Counter(
		"navigation.cycles.dropped",
		metric.WithDescription("Cycles whose listener delivery was dropped because the queue was full"),
		metric.WithUnit("{cycle}"),
	)
	if err != nil {
		return nil, err
	}

	offRoute, err := meter.Int64Counter(
		"navigation.off_route",
		metric.WithDescription("Cycles that reported the traveler off route"),
		metric.WithUnit("{cycle}"),
	)
	if err != nil {
		return nil, err
	}

	milestones, err := meter.Int64Counter(
		"navigation.milestones",
		metric.WithDescription("Milestones triggered"),
		metric.WithUnit("{milestone}"),
	)
	if err != nil {
		return nil, err
	}

	faults, err := meter.Int64Counter(
		"navigation.faults",
		metric.WithDescription("Pipeline faults by fault class"),
		metric.WithUnit("{fault}"),
	)
	if err != nil {
		return nil, err
	}

	reroutes, err := meter.Int64Counter(
		"navigation.reroutes",
		metric.WithDescription("Reroutes completed"),
		metric.WithUnit("{reroute}"),
	)
	if err != nil {
		return nil, err
	}

	routeRefreshes, err := meter.Int64Counter(
		"navigation.route.refreshes",
		metric.WithDescription("Route refresh attempts by outcome"),
		metric.WithUnit("{refresh}"),
	)
	if err != nil {
		return nil, err
	}

	return &NavigationMetrics{
		cycleDuration:    cycleDuration,
		cycles:           cycles,
		droppedCycles:    droppedCycles,
		offRoute:         offRoute,
		milestones:       milestones,
		faults:           faults,
		reroutes:         reroutes,
		routeRefreshes:   routeRefreshes,
	}, nil
}

// RecordCycle records one completed update cycle.
func (m *NavigationMetrics) RecordCycle(ctx context.Context, d time.Duration, lifecycle string) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("lifecycle", lifecycle))
	m.cycles.Add(ctx, 1, attrs)
	m.cycleDuration.Record(ctx, d.Seconds(), attrs)
}

// DroppedCycle records a cycle whose delivery was dropped.
func (m *NavigationMetrics) DroppedCycle(ctx context.Context) {
	if m == nil {
		return
	}
	m.droppedCycles.Add(ctx, 1)
}

// OffRoute records a cycle that reported the traveler off route.
func (m *NavigationMetrics) OffRoute(ctx context.Context) {
	if m == nil {
		return
	}
	m.offRoute.Add(ctx, 1)
}

// Milestone records a triggered milestone.
func (m *NavigationMetrics) Milestone(ctx context.Context, kind string) {
	if m == nil {
		return
	}
	m.milestones.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
}

// Fault records a pipeline fault of the given class.
func (m *NavigationMetrics) Fault(ctx context.Context, class string) {
	if m == nil {
		return
	}
	m.faults.Add(ctx, 1, metric.WithAttributes(attribute.String("fault_class", class)))
}

// Reroute records a completed reroute.
func (m *NavigationMetrics) Reroute(ctx context.Context) {
	if m == nil {
		return
	}
	m.reroutes.Add(ctx, 1)
}

// RouteRefresh records a refresh attempt with its outcome (applied, failed, skipped).
func (m *NavigationMetrics) RouteRefresh(ctx context.Context, outcome string) {
	if m == nil {
		return
	}
	m.routeRefreshes.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}
