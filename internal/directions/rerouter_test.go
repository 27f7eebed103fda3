package directions

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/breatheroute/navcore/internal/engine"
	"github.com/breatheroute/navcore/internal/progress"
	"github.com/breatheroute/navcore/internal/route"
	"github.com/breatheroute/navcore/internal/route/routetest"
	"github.com/breatheroute/navcore/pkg/polyline"
)

type fakeFetcher struct {
	mu       sync.Mutex
	requests []Request
	routes   []*route.Route
	err      error
}

func (f *fakeFetcher) Fetch(_ context.Context, req Request) ([]*route.Route, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	return f.routes, f.err
}

func (f *fakeFetcher) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.requests)
}

type fakeTarget struct {
	mu       sync.Mutex
	route    *route.Route
	progress *progress.State
	applied  []*route.Route
}

func (f *fakeTarget) Route() *route.Route {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.route
}

func (f *fakeTarget) Progress() (progress.State, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.progress == nil {
		return progress.State{}, false
	}
	return *f.progress, true
}

func (f *fakeTarget) SetRoute(_ context.Context, r *route.Route, legIndex int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.applied = append(f.applied, r)
	f.route = r
	return nil
}

func (f *fakeTarget) appliedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.applied)
}

type testClock struct{ now time.Time }

func (c *testClock) Now() time.Time { return c.now }

func newRerouter(t *testing.T, f *fakeFetcher, target *fakeTarget, clock *testClock) *Rerouter {
	t.Helper()
	r, err := NewRerouter(RerouterConfig{
		Directions: f,
		Target:     target,
		Logger:     zerolog.Nop(),
		Now:        clock.Now,
	})
	require.NoError(t, err)
	return r
}

func TestNewRerouter_RequiresCollaborators(t *testing.T) {
	_, err := NewRerouter(RerouterConfig{Target: &fakeTarget{}})
	assert.Error(t, err)
	_, err = NewRerouter(RerouterConfig{Directions: &fakeFetcher{}})
	assert.Error(t, err)
}

func TestRerouter_OffRouteFetchesFromCurrentLeg(t *testing.T) {
	current := routetest.Straight("cur", []float64{100}, []float64{200}, []float64{300})
	replacement := routetest.Straight("new", []float64{500})
	state := progress.State{Route: current, LegIndex: 1}
	target := &fakeTarget{route: current, progress: &state}
	fetcher := &fakeFetcher{routes: []*route.Route{replacement}}
	clock := &testClock{now: time.Unix(1000, 0)}
	rr := newRerouter(t, fetcher, target, clock)

	loc := engine.Location{Coordinate: routetest.PointAt(150, 80), Bearing: 10, HasBearing: true}
	rr.handle(context.Background(), rerouteRequest{loc: loc})

	require.Equal(t, 1, fetcher.calls())
	req := fetcher.requests[0]
	assert.Equal(t, "driving", req.Profile)
	assert.False(t, req.Alternatives)
	require.NotNil(t, req.Bearing)
	assert.InDelta(t, 10, *req.Bearing, 1e-9)
	require.Len(t, req.Waypoints, 3)
	assert.Equal(t, loc.Coordinate, req.Waypoints[0])
	assert.InDelta(t, 0, polyline.Distance(routetest.PointAt(300, 0), req.Waypoints[1]), 0.01)
	assert.InDelta(t, 0, polyline.Distance(routetest.PointAt(600, 0), req.Waypoints[2]), 0.01)

	require.Equal(t, 1, target.appliedCount())
	assert.Equal(t, "new", target.applied[0].ID)
}

func TestRerouter_RespectsMinInterval(t *testing.T) {
	current := routetest.Straight("cur", []float64{100})
	target := &fakeTarget{route: current}
	fetcher := &fakeFetcher{routes: []*route.Route{routetest.Straight("new", []float64{100})}}
	clock := &testClock{now: time.Unix(1000, 0)}
	rr := newRerouter(t, fetcher, target, clock)

	rr.handle(context.Background(), rerouteRequest{})
	clock.now = clock.now.Add(2 * time.Second)
	rr.handle(context.Background(), rerouteRequest{})
	assert.Equal(t, 1, fetcher.calls())

	clock.now = clock.now.Add(5 * time.Second)
	rr.handle(context.Background(), rerouteRequest{})
	assert.Equal(t, 2, fetcher.calls())
}

func TestRerouter_FetchFailureKeepsRoute(t *testing.T) {
	current := routetest.Straight("cur", []float64{100})
	target := &fakeTarget{route: current}
	fetcher := &fakeFetcher{err: &Error{Code: "NO_ROUTE", Err: ErrNoRoute}}
	rr := newRerouter(t, fetcher, target, &testClock{now: time.Unix(1000, 0)})

	rr.handle(context.Background(), rerouteRequest{})

	assert.Equal(t, 1, fetcher.calls())
	assert.Zero(t, target.appliedCount())
	assert.Equal(t, "cur", target.Route().ID)
}

func TestRerouter_FasterRouteNeedsSavings(t *testing.T) {
	// 3000m at 10m/s: 300s remaining.
	current := routetest.Straight("cur", []float64{3000})
	state := progress.State{Route: current, LegDurationRemaining: 300 * time.Second}
	clock := &testClock{now: time.Unix(1000, 0)}

	t.Run("marginal", func(t *testing.T) {
		target := &fakeTarget{route: current}
		fetcher := &fakeFetcher{routes: []*route.Route{routetest.Straight("alt", []float64{2700})}}
		rr := newRerouter(t, fetcher, target, clock)

		rr.handle(context.Background(), rerouteRequest{faster: true, progress: state})

		require.Equal(t, 1, fetcher.calls())
		assert.True(t, fetcher.requests[0].Alternatives)
		assert.Zero(t, target.appliedCount())
	})

	t.Run("faster", func(t *testing.T) {
		target := &fakeTarget{route: current}
		fetcher := &fakeFetcher{routes: []*route.Route{routetest.Straight("alt", []float64{1500})}}
		rr := newRerouter(t, fetcher, target, clock)

		rr.handle(context.Background(), rerouteRequest{faster: true, progress: state})

		require.Equal(t, 1, target.appliedCount())
		assert.Equal(t, "alt", target.applied[0].ID)
	})
}

func TestRerouter_RunCoalescesSignals(t *testing.T) {
	current := routetest.Straight("cur", []float64{100})
	target := &fakeTarget{route: current}
	fetcher := &fakeFetcher{routes: []*route.Route{routetest.Straight("new", []float64{100})}}
	rr := newRerouter(t, fetcher, target, &testClock{now: time.Unix(1000, 0)})

	for i := 0; i < 5; i++ {
		rr.OnOffRoute(engine.Location{Coordinate: routetest.PointAt(50, 80)})
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- rr.Run(ctx) }()

	require.Eventually(t, func() bool { return target.appliedCount() == 1 }, time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, <-done)
	assert.Equal(t, 1, fetcher.calls())
}

func TestRerouter_DisabledDropsSignals(t *testing.T) {
	current := routetest.Straight("cur", []float64{100})
	target := &fakeTarget{route: current}
	fetcher := &fakeFetcher{routes: []*route.Route{routetest.Straight("new", []float64{100})}}

	enabled := false
	rr, err := NewRerouter(RerouterConfig{
		Directions: fetcher,
		Target:     target,
		Enabled:    func() bool { return enabled },
		Logger:     zerolog.Nop(),
		Now:        (&testClock{now: time.Unix(1000, 0)}).Now,
	})
	require.NoError(t, err)

	rr.OnOffRoute(engine.Location{Coordinate: routetest.PointAt(50, 80)})
	assert.Empty(t, rr.requests)

	enabled = true
	rr.OnOffRoute(engine.Location{Coordinate: routetest.PointAt(50, 80)})
	assert.Len(t, rr.requests, 1)
}

func TestRemainingWaypoints(t *testing.T) {
	r := routetest.Straight("cur", []float64{100, 100}, []float64{200})

	waypoints, err := RemainingWaypoints(r, 0, routetest.PointAt(10, 0))
	require.NoError(t, err)
	require.Len(t, waypoints, 3)
	// Leg ends come from polyline6 geometry, which rounds to about 10cm.
	assert.InDelta(t, 0, polyline.Distance(routetest.PointAt(200, 0), waypoints[1]), 0.5)
	assert.InDelta(t, 0, polyline.Distance(routetest.PointAt(400, 0), waypoints[2]), 0.5)

	_, err = RemainingWaypoints(r, 2, routetest.PointAt(10, 0))
	assert.ErrorIs(t, err, route.ErrIndexOutOfRange)
}
