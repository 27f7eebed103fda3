package navigation_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/breatheroute/navcore/internal/analytics"
	"github.com/breatheroute/navcore/internal/detector"
	"github.com/breatheroute/navcore/internal/dispatch"
	"github.com/breatheroute/navcore/internal/engine"
	"github.com/breatheroute/navcore/internal/milestone"
	"github.com/breatheroute/navcore/internal/navigation"
	"github.com/breatheroute/navcore/internal/progress"
	"github.com/breatheroute/navcore/internal/route"
	"github.com/breatheroute/navcore/internal/route/routetest"
	"github.com/breatheroute/navcore/internal/session"
)

const waitFor = 2 * time.Second

var t0 = time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = t
}

// recorder listens to every topic.
type recorder struct {
	mu        sync.Mutex
	sequence  []string
	progress  []progress.State
	raw       int
	offRoute  int
	running   int
	stopped   []dispatch.StopReason
	stopErr   error
	milestone []string
}

func (r *recorder) OnProgressChange(_ engine.Location, p progress.State) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sequence = append(r.sequence, "progress")
	r.progress = append(r.progress, p)
}

func (r *recorder) OnMilestone(_ progress.State, instruction string, _ *milestone.Milestone) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sequence = append(r.sequence, "milestone")
	r.milestone = append(r.milestone, instruction)
}

func (r *recorder) OnOffRoute(engine.Location) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sequence = append(r.sequence, "off_route")
	r.offRoute++
}

func (r *recorder) OnRawLocation(engine.Location) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sequence = append(r.sequence, "raw")
	r.raw++
}

func (r *recorder) OnNavigationRunning() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.running++
}

func (r *recorder) OnNavigationStopped(reason dispatch.StopReason, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stopped = append(r.stopped, reason)
	r.stopErr = err
}

func (r *recorder) progressCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.progress)
}

func (r *recorder) lastProgress() progress.State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.progress[len(r.progress)-1]
}

func (r *recorder) offRouteCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.offRoute
}

func (r *recorder) stops() []dispatch.StopReason {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]dispatch.StopReason, len(r.stopped))
	copy(out, r.stopped)
	return out
}

func (r *recorder) snapshotSequence() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.sequence))
	copy(out, r.sequence)
	return out
}

type recordingSink struct {
	mu     sync.Mutex
	events []analytics.Event
}

func (s *recordingSink) Send(_ context.Context, ev analytics.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
	return nil
}

func (s *recordingSink) types() []analytics.EventType {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]analytics.EventType, len(s.events))
	for i, ev := range s.events {
		out[i] = ev.Type
	}
	return out
}

type harness struct {
	nav   *navigation.Navigator
	clock *clock
	rec   *recorder
	sink  *recordingSink
}

func newHarness(t *testing.T, cfg navigation.Config) *harness {
	t.Helper()

	h := &harness{clock: &clock{t: t0}, rec: &recorder{}, sink: &recordingSink{}}
	if cfg.Engine == nil {
		cfg.Engine = engine.NewGeometric(engine.GeometricConfig{Logger: zerolog.Nop()})
	}
	cfg.Logger = zerolog.Nop()
	cfg.Now = h.clock.Now
	cfg.Sink = h.sink
	if cfg.TickInterval == 0 {
		cfg.TickInterval = time.Hour
	}

	nav, err := navigation.New(cfg)
	require.NoError(t, err)
	h.nav = nav

	events := nav.Events()
	events.Progress.Add(h.rec)
	events.Milestone.Add(h.rec)
	events.OffRoute.Add(h.rec)
	events.RawLocation.Add(h.rec)
	events.Running.Add(h.rec)

	t.Cleanup(func() {
		_ = nav.Stop(context.Background())
	})
	return h
}

// drive sends a fix m meters along the test route, eastMeters off it, and waits for its cycle.
func (h *harness) drive(t *testing.T, m, eastMeters float64, at time.Time) {
	t.Helper()

	h.clock.Set(at)
	want := h.rec.progressCount() + 1
	require.NoError(t, h.nav.UpdateLocation(context.Background(), engine.Location{
		Coordinate: routetest.PointAt(m, eastMeters),
		Bearing:    0,
		HasBearing: true,
		Speed:      10,
		Time:       at,
	}))
	require.Eventually(t, func() bool { return h.rec.progressCount() >= want }, waitFor, time.Millisecond)
}

func TestNew_RequiresEngine(t *testing.T) {
	_, err := navigation.New(navigation.Config{Logger: zerolog.Nop()})
	assert.Error(t, err)
}

func TestNavigator_StartValidatesRoute(t *testing.T) {
	h := newHarness(t, navigation.Config{})

	err := h.nav.Start(context.Background(), &route.Route{ID: "empty"})
	require.ErrorIs(t, err, route.ErrInvalidRoute)
	assert.False(t, h.nav.Running())

	err = h.nav.UpdateLocation(context.Background(), engine.Location{})
	assert.ErrorIs(t, err, navigation.ErrNotRunning)
}

func TestNavigator_StartTwice(t *testing.T) {
	h := newHarness(t, navigation.Config{})
	r := routetest.Straight("r1", []float64{500, 300})

	require.NoError(t, h.nav.Start(context.Background(), r))
	assert.ErrorIs(t, h.nav.Start(context.Background(), r), navigation.ErrAlreadyRunning)
	assert.Equal(t, []analytics.EventType{analytics.EventDepart}, h.sink.types())
}

func TestNavigator_ProgressAdvancesThroughSteps(t *testing.T) {
	h := newHarness(t, navigation.Config{Milestones: []*milestone.Milestone{}})
	require.NoError(t, h.nav.Start(context.Background(), routetest.Straight("r1", []float64{500, 300})))

	h.drive(t, 0, 0, t0)
	h.drive(t, 100, 0, t0.Add(10*time.Second))
	h.drive(t, 250, 0, t0.Add(25*time.Second))

	p := h.rec.lastProgress()
	assert.Equal(t, progress.LifecycleTracking, p.Lifecycle)
	assert.Equal(t, 0, p.StepIndex)
	assert.InDelta(t, 550, p.LegDistanceRemaining, 1)

	h.drive(t, 497, 0, t0.Add(50*time.Second))

	p = h.rec.lastProgress()
	assert.Equal(t, 1, p.StepIndex)
	assert.InDelta(t, 300, p.StepDistanceRemaining, 1)

	latest, ok := h.nav.Progress()
	require.True(t, ok)
	assert.Equal(t, 1, latest.StepIndex)
}

func TestNavigator_DeliveryOrderWithinCycle(t *testing.T) {
	always := &milestone.Milestone{
		ID:          "always",
		Kind:        milestone.KindCustom,
		Trigger:     milestone.TriggerFunc(func(milestone.Stats) bool { return true }),
		Instruction: func(progress.State) (string, error) { return "hello", nil },
	}
	h := newHarness(t, navigation.Config{Milestones: []*milestone.Milestone{always}})
	require.NoError(t, h.nav.Start(context.Background(), routetest.Straight("r1", []float64{500})))

	h.drive(t, 10, 0, t0)

	require.Eventually(t, func() bool { return len(h.rec.snapshotSequence()) >= 3 }, waitFor, time.Millisecond)
	assert.Equal(t, []string{"raw", "progress", "milestone"}, h.rec.snapshotSequence()[:3])
}

func TestNavigator_OffRouteIsDebouncedAndOpensReroute(t *testing.T) {
	h := newHarness(t, navigation.Config{Milestones: []*milestone.Milestone{}})
	require.NoError(t, h.nav.Start(context.Background(), routetest.Straight("r1", []float64{500, 300})))

	h.drive(t, 100, 0, t0)

	// One fix beyond the threshold, then back on route.
	h.drive(t, 110, 200, t0.Add(time.Second))
	h.drive(t, 120, 0, t0.Add(2*time.Second))
	assert.Equal(t, 0, h.rec.offRouteCount())

	// Stay off route past the debounce window.
	h.drive(t, 130, 200, t0.Add(3*time.Second))
	h.drive(t, 140, 200, t0.Add(5*time.Second))
	h.drive(t, 150, 200, t0.Add(7*time.Second))
	require.Eventually(t, func() bool { return h.rec.offRouteCount() > 0 }, waitFor, time.Millisecond)

	h.clock.Set(t0.Add(12 * time.Second))
	require.NoError(t, h.nav.SetRoute(context.Background(), routetest.Straight("r2", []float64{400}), 0))

	s := h.nav.Session()
	assert.Equal(t, 1, s.RerouteCount)
	assert.Equal(t, 1, s.QueuedEvents)
	assert.Equal(t, "r2", h.nav.Route().ID)
}

func TestNavigator_OffRouteDisabled(t *testing.T) {
	h := newHarness(t, navigation.Config{
		Milestones:      []*milestone.Milestone{},
		OffRouteEnabled: func() bool { return false },
	})
	require.NoError(t, h.nav.Start(context.Background(), routetest.Straight("r1", []float64{500})))

	for i := 0; i < 5; i++ {
		h.drive(t, 100, 300, t0.Add(time.Duration(i)*2*time.Second))
	}
	assert.Equal(t, 0, h.rec.offRouteCount())
}

type panickingDetector struct{}

func (panickingDetector) IsOffRoute(engine.Location, progress.State, detector.Options) (bool, error) {
	panic("boom")
}

type alwaysOffRoute struct{}

func (alwaysOffRoute) IsOffRoute(engine.Location, progress.State, detector.Options) (bool, error) {
	return true, nil
}

type failingSnapper struct{}

func (failingSnapper) Snap(engine.Location, progress.State) (engine.Location, error) {
	return engine.Location{}, errors.New("snap failed")
}

func TestNavigator_DetectorFaultsDoNotStopPipeline(t *testing.T) {
	h := newHarness(t, navigation.Config{
		Milestones: []*milestone.Milestone{},
		OffRoute:   panickingDetector{},
		Snapper:    failingSnapper{},
	})
	require.NoError(t, h.nav.Start(context.Background(), routetest.Straight("r1", []float64{500})))

	h.drive(t, 10, 0, t0)
	h.drive(t, 20, 0, t0.Add(time.Second))

	assert.True(t, h.nav.Running())
	assert.Equal(t, 0, h.rec.offRouteCount())
}

// breakingDetector decides normally until broken, then fails on every call.
type breakingDetector struct {
	broken  atomic.Bool
	snapped engine.Location
}

func (d *breakingDetector) IsOffRoute(engine.Location, progress.State, detector.Options) (bool, error) {
	if d.broken.Load() {
		panic("off-route detector failed")
	}
	return true, nil
}

func (d *breakingDetector) ShouldCheckFasterRoute(engine.Location, progress.State) (bool, error) {
	if d.broken.Load() {
		return false, errors.New("faster route check failed")
	}
	return true, nil
}

func (d *breakingDetector) Snap(engine.Location, progress.State) (engine.Location, error) {
	if d.broken.Load() {
		return engine.Location{}, errors.New("snap failed")
	}
	return d.snapped, nil
}

type snapRecorder struct {
	mu   sync.Mutex
	last engine.Location
}

func (r *snapRecorder) OnProgressChange(loc engine.Location, _ progress.State) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.last = loc
}

func (r *snapRecorder) lastSnapped() engine.Location {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.last
}

type fasterCounter struct{ checks atomic.Int32 }

func (c *fasterCounter) OnFasterRouteCheck(engine.Location, progress.State) { c.checks.Add(1) }

func TestNavigator_FailingDetectorsKeepLastDecision(t *testing.T) {
	d := &breakingDetector{snapped: engine.Location{Coordinate: routetest.PointAt(42, 0), Speed: 7}}
	h := newHarness(t, navigation.Config{
		Milestones: []*milestone.Milestone{},
		OffRoute:   d,
		Snapper:    d,
	})
	snaps := &snapRecorder{}
	h.nav.Events().Progress.Add(snaps)
	require.NoError(t, h.nav.Start(context.Background(), routetest.Straight("r1", []float64{500})))

	h.drive(t, 10, 0, t0)
	h.drive(t, 20, 0, t0.Add(time.Second))
	require.Eventually(t, func() bool { return h.rec.offRouteCount() == 1 }, waitFor, time.Millisecond)

	d.broken.Store(true)
	h.drive(t, 30, 0, t0.Add(2*time.Second))

	require.Eventually(t, func() bool { return h.rec.offRouteCount() == 2 }, waitFor, time.Millisecond)
	assert.Equal(t, d.snapped, snaps.lastSnapped())
	assert.True(t, h.nav.Running())
}

func TestNavigator_FailingFasterRouteKeepsLastDecision(t *testing.T) {
	d := &breakingDetector{}
	h := newHarness(t, navigation.Config{
		Milestones:  []*milestone.Milestone{},
		FasterRoute: d,
	})
	checks := &fasterCounter{}
	h.nav.Events().FasterRoute.Add(checks)
	require.NoError(t, h.nav.Start(context.Background(), routetest.Straight("r1", []float64{500})))

	h.drive(t, 10, 0, t0)
	h.drive(t, 20, 0, t0.Add(time.Second))
	require.Eventually(t, func() bool { return checks.checks.Load() == 1 }, waitFor, time.Millisecond)

	d.broken.Store(true)
	h.drive(t, 30, 0, t0.Add(2*time.Second))

	require.Eventually(t, func() bool { return checks.checks.Load() == 2 }, waitFor, time.Millisecond)
	assert.Equal(t, 0, h.rec.offRouteCount())
}

func TestNavigator_DetectorSwapAppliesToNextCycle(t *testing.T) {
	h := newHarness(t, navigation.Config{Milestones: []*milestone.Milestone{}})
	require.NoError(t, h.nav.Start(context.Background(), routetest.Straight("r1", []float64{500})))

	h.drive(t, 10, 0, t0)
	assert.Equal(t, 0, h.rec.offRouteCount())

	h.nav.SetOffRouteDetector(alwaysOffRoute{})
	h.drive(t, 20, 0, t0.Add(time.Second))
	require.Eventually(t, func() bool { return h.rec.offRouteCount() == 1 }, waitFor, time.Millisecond)
}

func TestNavigator_TimerCyclesWithoutFixes(t *testing.T) {
	h := newHarness(t, navigation.Config{
		Milestones:   []*milestone.Milestone{},
		TickInterval: 5 * time.Millisecond,
	})
	require.NoError(t, h.nav.Start(context.Background(), routetest.Straight("r1", []float64{500})))

	require.Eventually(t, func() bool { return h.rec.progressCount() >= 3 }, waitFor, time.Millisecond)
	assert.Equal(t, progress.LifecycleInitialized, h.rec.lastProgress().Lifecycle)
	assert.Equal(t, 0, h.rec.offRouteCount())
}

func TestNavigator_Feedback(t *testing.T) {
	h := newHarness(t, navigation.Config{Milestones: []*milestone.Milestone{}})
	ctx := context.Background()

	_, err := h.nav.SubmitFeedback(ctx, session.FeedbackInput{Type: "other"})
	require.ErrorIs(t, err, navigation.ErrNotRunning)

	require.NoError(t, h.nav.Start(ctx, routetest.Straight("r1", []float64{500})))
	h.drive(t, 10, 0, t0)

	id, err := h.nav.SubmitFeedback(ctx, session.FeedbackInput{Type: "road_closed"})
	require.NoError(t, err)
	assert.Equal(t, 1, h.nav.Session().QueuedEvents)

	require.NoError(t, h.nav.UpdateFeedback(ctx, id, session.FeedbackInput{Type: "other"}))
	require.NoError(t, h.nav.CancelFeedback(ctx, id))
	assert.Equal(t, 0, h.nav.Session().QueuedEvents)
	assert.ErrorIs(t, h.nav.CancelFeedback(ctx, id), session.ErrFeedbackNotFound)
}

func TestNavigator_RefreshRoute(t *testing.T) {
	h := newHarness(t, navigation.Config{Milestones: []*milestone.Milestone{}})
	ctx := context.Background()
	r := routetest.Straight("r1", []float64{500, 300})
	require.NoError(t, h.nav.Start(ctx, r))

	h.drive(t, 250, 0, t0)
	h.drive(t, 497, 0, t0.Add(25*time.Second))
	require.Equal(t, 1, h.rec.lastProgress().StepIndex)

	assert.ErrorIs(t, h.nav.RefreshRoute(ctx, routetest.Straight("other", []float64{800}), 0), navigation.ErrRouteMismatch)

	refreshed := routetest.Annotate(r)
	require.NoError(t, h.nav.RefreshRoute(ctx, refreshed, 0))
	assert.Same(t, refreshed, h.nav.Route())

	h.drive(t, 520, 0, t0.Add(27*time.Second))
	p := h.rec.lastProgress()
	assert.Equal(t, 1, p.StepIndex)
	assert.NotNil(t, p.Annotation)
}

func TestNavigator_RefreshRouteKeepsPassedLegs(t *testing.T) {
	h := newHarness(t, navigation.Config{Milestones: []*milestone.Milestone{}})
	ctx := context.Background()
	r := routetest.Annotate(routetest.Straight("r1", []float64{500}, []float64{300}))
	require.NoError(t, h.nav.Start(ctx, r))

	// Refreshed from leg 0, but tracking reaches leg 1 before the swap.
	heavy := routetest.Annotate(r)
	for i := range heavy.Legs {
		a := *heavy.Legs[i].Annotation
		a.Congestion = []string{"heavy"}
		heavy.Legs[i].Annotation = &a
	}
	require.NoError(t, h.nav.ChangeRouteLeg(ctx, 1))
	require.NoError(t, h.nav.RefreshRoute(ctx, heavy, 0))

	applied := h.nav.Route()
	assert.Equal(t, []string{"low"}, applied.Legs[0].Annotation.Congestion)
	assert.Equal(t, []string{"heavy"}, applied.Legs[1].Annotation.Congestion)

	assert.ErrorIs(t, h.nav.RefreshRoute(ctx, heavy, 2), route.ErrIndexOutOfRange)
}

func TestNavigator_ChangeRouteLeg(t *testing.T) {
	h := newHarness(t, navigation.Config{Milestones: []*milestone.Milestone{}})
	ctx := context.Background()
	require.NoError(t, h.nav.Start(ctx, routetest.Straight("r1", []float64{500}, []float64{300})))

	assert.ErrorIs(t, h.nav.ChangeRouteLeg(ctx, 5), route.ErrIndexOutOfRange)
	require.NoError(t, h.nav.ChangeRouteLeg(ctx, 1))

	p, ok := h.nav.Progress()
	require.True(t, ok)
	assert.Equal(t, 1, p.LegIndex)
}

func TestNavigator_StopEndsSession(t *testing.T) {
	h := newHarness(t, navigation.Config{Milestones: []*milestone.Milestone{}})
	ctx := context.Background()
	require.NoError(t, h.nav.Start(ctx, routetest.Straight("r1", []float64{500})))
	h.drive(t, 10, 0, t0)

	require.NoError(t, h.nav.Stop(ctx))
	require.NoError(t, h.nav.Stop(ctx))

	assert.False(t, h.nav.Running())
	assert.Equal(t, []analytics.EventType{analytics.EventDepart, analytics.EventCancel}, h.sink.types())
	assert.Equal(t, []dispatch.StopReason{dispatch.StopReasonStopped}, h.rec.stops())
	assert.ErrorIs(t, h.nav.UpdateLocation(ctx, engine.Location{}), navigation.ErrNotRunning)
}

// gatedSink holds the session's cancel event until released.
type gatedSink struct {
	release chan struct{}
}

func (s *gatedSink) Send(_ context.Context, ev analytics.Event) error {
	if ev.Type == analytics.EventCancel {
		<-s.release
	}
	return nil
}

type closeRecorder struct {
	engine.Engine
	closed atomic.Bool
}

func (e *closeRecorder) Close() error {
	e.closed.Store(true)
	return e.Engine.Close()
}

func TestNavigator_StopTimeoutStillShutsDown(t *testing.T) {
	eng := &closeRecorder{Engine: engine.NewGeometric(engine.GeometricConfig{Logger: zerolog.Nop()})}
	sink := &gatedSink{release: make(chan struct{})}
	h := newHarness(t, navigation.Config{
		Engine:     eng,
		Milestones: []*milestone.Milestone{},
		Session:    session.Config{Sink: sink},
	})
	ctx := context.Background()
	require.NoError(t, h.nav.Start(ctx, routetest.Straight("r1", []float64{500})))
	h.drive(t, 10, 0, t0)

	stopCtx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, h.nav.Stop(stopCtx), context.DeadlineExceeded)
	require.Eventually(t, func() bool { return !h.nav.Running() }, waitFor, time.Millisecond)
	assert.False(t, eng.closed.Load())

	close(sink.release)
	require.Eventually(t, eng.closed.Load, waitFor, time.Millisecond)
	require.Eventually(t, func() bool { return len(h.rec.stops()) == 1 }, waitFor, time.Millisecond)
	assert.Equal(t, []dispatch.StopReason{dispatch.StopReasonStopped}, h.rec.stops())
}

// disposingEngine loses its handle after a number of status calls.
type disposingEngine struct {
	engine.Engine
	mu        sync.Mutex
	remaining int
}

func (e *disposingEngine) Status(at time.Time) (engine.Status, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.remaining == 0 {
		return engine.Status{}, engine.ErrDisposed
	}
	e.remaining--
	return e.Engine.Status(at)
}

func TestNavigator_FatalEngineLossStopsOnce(t *testing.T) {
	eng := &disposingEngine{
		Engine:    engine.NewGeometric(engine.GeometricConfig{Logger: zerolog.Nop()}),
		remaining: 1,
	}
	h := newHarness(t, navigation.Config{Engine: eng, Milestones: []*milestone.Milestone{}})
	ctx := context.Background()
	require.NoError(t, h.nav.Start(ctx, routetest.Straight("r1", []float64{500})))

	h.drive(t, 10, 0, t0)
	require.NoError(t, h.nav.UpdateLocation(ctx, engine.Location{Coordinate: routetest.PointAt(20, 0), Time: t0.Add(time.Second)}))

	require.Eventually(t, func() bool { return len(h.rec.stops()) == 1 }, waitFor, time.Millisecond)
	assert.False(t, h.nav.Running())
	assert.Equal(t, []dispatch.StopReason{dispatch.StopReasonFatal}, h.rec.stops())

	var fault *navigation.FaultError
	h.rec.mu.Lock()
	stopErr := h.rec.stopErr
	h.rec.mu.Unlock()
	require.ErrorAs(t, stopErr, &fault)
	assert.Equal(t, navigation.FaultFatal, fault.Class)
	assert.ErrorIs(t, stopErr, engine.ErrDisposed)

	require.NoError(t, h.nav.Stop(ctx))
	assert.Len(t, h.rec.stops(), 1)
	assert.Contains(t, h.sink.types(), analytics.EventCancel)
}
