// Package navigation runs the navigation pipeline: a single worker that turns location fixes
// and timer ticks into progress, detector decisions and milestones, and hands them to the
// event dispatcher.
package navigation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/breatheroute/navcore/internal/analytics"
	"github.com/breatheroute/navcore/internal/detector"
	"github.com/breatheroute/navcore/internal/dispatch"
	"github.com/breatheroute/navcore/internal/engine"
	"github.com/breatheroute/navcore/internal/milestone"
	"github.com/breatheroute/navcore/internal/progress"
	"github.com/breatheroute/navcore/internal/route"
	"github.com/breatheroute/navcore/internal/session"
	"github.com/breatheroute/navcore/internal/telemetry"
)

// Config holds configuration for a Navigator.
type Config struct {
	// Engine is the positioning engine. It is wrapped in an engine.Guarded unless it is one.
	Engine engine.Engine

	// Logger for pipeline operations.
	Logger zerolog.Logger

	// Metrics records pipeline metrics (optional).
	Metrics *telemetry.NavigationMetrics

	// Sink receives session events (default: a log sink).
	Sink analytics.Sink

	// TickInterval is the cadence of cycles without a new fix (default: 1 second).
	TickInterval time.Duration

	// QueueSize bounds undelivered listener cycles (default: 64).
	QueueSize int

	// LocationQueueSize bounds fixes waiting for the worker (default: 16).
	LocationQueueSize int

	// Progress tunes progress computation.
	Progress progress.Options

	// Detector tunes the default detectors.
	Detector detector.Options

	// OffRoute, Snapper and FasterRoute replace the default detectors when set.
	OffRoute    detector.OffRouteDetector
	Snapper     detector.Snapper
	FasterRoute detector.FasterRouteDetector

	// Milestones to evaluate (default: milestone.Defaults()).
	Milestones []*milestone.Milestone

	// Session configures the session tracker. Its Sink defaults to Sink and its Logger is Logger.
	Session session.Config

	// OffRouteEnabled gates off-route detection (default: always enabled).
	OffRouteEnabled func() bool

	// FasterRouteEnabled gates the default faster-route detector (default: always enabled).
	FasterRouteEnabled func() bool

	// Now returns the current time (default: time.Now).
	Now func() time.Time
}

// Navigator owns the navigation pipeline for one session.
type Navigator struct {
	engine          engine.Engine
	logger          zerolog.Logger
	metrics         *telemetry.NavigationMetrics
	tick            time.Duration
	now             func() time.Time
	detectorOpts    detector.Options
	offRouteEnabled func() bool

	events     *dispatch.Dispatcher
	milestones *milestone.Engine
	builder    *progress.Builder
	tracker    *session.Tracker

	offRoute    atomic.Pointer[detector.OffRouteDetector]
	snapper     atomic.Pointer[detector.Snapper]
	fasterRoute atomic.Pointer[detector.FasterRouteDetector]

	route   atomic.Pointer[route.Route]
	latest  atomic.Pointer[progress.State]
	summary atomic.Pointer[session.State]

	locations chan engine.Location
	commands  chan command

	mu       sync.Mutex
	started  bool
	running  atomic.Bool
	quit     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
	finish   sync.Once

	// Worker state.
	prev         *progress.State
	lastOffRoute bool
	lastFaster   bool
	lastSnapped  *engine.Location
	lastFix      *engine.Location
	fatal        error
}

type command struct {
	name string
	fn   func(ctx context.Context) error
	done chan error
}

// New creates a navigator. It does not start the pipeline.
func New(cfg Config) (*Navigator, error) {
	if cfg.Engine == nil {
		return nil, errors.New("navigation: engine is required")
	}

	eng := cfg.Engine
	if _, ok := eng.(*engine.Guarded); !ok {
		eng = engine.NewGuarded(eng)
	}

	tick := cfg.TickInterval
	if tick == 0 {
		tick = time.Second
	}

	locationQueue := cfg.LocationQueueSize
	if locationQueue == 0 {
		locationQueue = 16
	}

	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	offRouteEnabled := cfg.OffRouteEnabled
	if offRouteEnabled == nil {
		offRouteEnabled = func() bool { return true }
	}

	milestones := cfg.Milestones
	if milestones == nil {
		milestones = milestone.Defaults()
	}

	logger := cfg.Logger.With().Str("component", "navigator").Logger()
	metrics := cfg.Metrics

	sessionCfg := cfg.Session
	if sessionCfg.Sink == nil {
		sessionCfg.Sink = cfg.Sink
	}
	sessionCfg.Logger = cfg.Logger

	n := &Navigator{
		engine:          eng,
		logger:          logger,
		metrics:         metrics,
		tick:            tick,
		now:             now,
		detectorOpts:    cfg.Detector.WithDefaults(),
		offRouteEnabled: offRouteEnabled,
		milestones:      milestone.NewEngine(cfg.Logger, milestones...),
		tracker:         session.NewTracker(sessionCfg),
		locations:       make(chan engine.Location, locationQueue),
		commands:        make(chan command),
		quit:            make(chan struct{}),
		done:            make(chan struct{}),
	}

	n.events = dispatch.New(dispatch.Config{
		QueueSize: cfg.QueueSize,
		Logger:    cfg.Logger,
		OnDropped: func() {
			metrics.DroppedCycle(context.Background())
		},
		OnListenerPanic: func(string) {
			metrics.Fault(context.Background(), string(FaultListener))
		},
	})

	history := detector.NewManeuverDistances(0)
	n.builder = progress.NewBuilder(progress.BuilderConfig{
		Options:       cfg.Progress,
		History:       history,
		OnRouteChange: n.onRouteChange,
		Logger:        cfg.Logger,
	})

	var offRoute detector.OffRouteDetector = detector.NewDistanceOffRoute(history)
	if cfg.OffRoute != nil {
		offRoute = cfg.OffRoute
	}
	var snapper detector.Snapper = detector.NewRouteSnapper(cfg.Detector)
	if cfg.Snapper != nil {
		snapper = cfg.Snapper
	}
	var faster detector.FasterRouteDetector = detector.NewIntervalFasterRoute(cfg.Detector, cfg.FasterRouteEnabled)
	if cfg.FasterRoute != nil {
		faster = cfg.FasterRoute
	}
	n.SetOffRouteDetector(offRoute)
	n.SetSnapper(snapper)
	n.SetFasterRouteDetector(faster)

	return n, nil
}

// Events returns the listener registration surface.
func (n *Navigator) Events() *dispatch.Dispatcher { return n.events }

// Milestones returns the milestone engine. Milestones may be added and removed while running.
func (n *Navigator) Milestones() *milestone.Engine { return n.milestones }

// Running reports whether the pipeline is accepting input.
func (n *Navigator) Running() bool { return n.running.Load() }

// Route returns the active route.
func (n *Navigator) Route() *route.Route { return n.route.Load() }

// Progress returns the latest progress. ok is false before the first cycle.
func (n *Navigator) Progress() (p progress.State, ok bool) {
	latest := n.latest.Load()
	if latest == nil {
		return progress.State{}, false
	}
	return *latest, true
}

// Session returns the latest session snapshot.
func (n *Navigator) Session() session.State {
	if s := n.summary.Load(); s != nil {
		return *s
	}
	return session.State{}
}

// SetOffRouteDetector replaces the off-route detector from the next cycle on.
func (n *Navigator) SetOffRouteDetector(d detector.OffRouteDetector) {
	if d != nil {
		n.offRoute.Store(&d)
	}
}

// SetSnapper replaces the snapper from the next cycle on.
func (n *Navigator) SetSnapper(s detector.Snapper) {
	if s != nil {
		n.snapper.Store(&s)
	}
}

// SetFasterRouteDetector replaces the faster-route detector from the next cycle on.
func (n *Navigator) SetFasterRouteDetector(d detector.FasterRouteDetector) {
	if d != nil {
		n.fasterRoute.Store(&d)
	}
}

// Start validates r, hands it to the engine and starts the pipeline.
func (n *Navigator) Start(ctx context.Context, r *route.Route) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.started {
		return ErrAlreadyRunning
	}
	if err := r.Validate(); err != nil {
		return err
	}
	if _, err := n.engine.SetRoute(r, r.RouteIndex, 0); err != nil {
		return fmt.Errorf("set route: %w", err)
	}

	n.started = true
	n.route.Store(r)
	n.tracker.Start(ctx, r, n.now())
	n.publishSession()

	n.events.Start()
	n.events.PostRunning(ctx)
	n.running.Store(true)

	n.logger.Info().
		Str("route_id", r.ID).
		Int("legs", len(r.Legs)).
		Dur("tick_interval", n.tick).
		Msg("navigation started")

	go n.run(context.WithoutCancel(ctx))
	return nil
}

// Stop ends the session: the pipeline stops accepting input, finishes the in-flight cycle,
// flushes session events and releases the engine. Stop waits for that until ctx is done;
// the worker completes the shutdown either way. Calling Stop more than once has no effect.
func (n *Navigator) Stop(ctx context.Context) error {
	n.mu.Lock()
	started := n.started
	n.mu.Unlock()
	if !started {
		return nil
	}

	n.stopOnce.Do(func() { close(n.quit) })

	select {
	case <-n.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// UpdateLocation queues a raw fix for the pipeline.
func (n *Navigator) UpdateLocation(ctx context.Context, fix engine.Location) error {
	if !n.running.Load() {
		return ErrNotRunning
	}
	select {
	case n.locations <- fix:
		return nil
	case <-n.done:
		return ErrNotRunning
	case <-ctx.Done():
		return ctx.Err()
	}
}

// SetRoute replaces the active route, for example after a reroute. The route is validated
// before the pipeline sees it.
func (n *Navigator) SetRoute(ctx context.Context, r *route.Route, legIndex int) error {
	if err := r.Validate(); err != nil {
		return err
	}
	if _, err := r.Leg(legIndex); err != nil {
		return err
	}
	return n.do(ctx, "set_route", func(ctx context.Context) error {
		if _, err := n.engine.SetRoute(r, r.RouteIndex, legIndex); err != nil {
			return fmt.Errorf("set route: %w", err)
		}

		now := n.now()
		n.route.Store(r)
		n.lastOffRoute = false
		n.lastFaster = false
		if n.tracker.OnNewRoute(r, now) {
			n.metrics.Reroute(ctx)
		}

		n.logger.Info().
			Str("route_id", r.ID).
			Int("leg_index", legIndex).
			Msg("route replaced")

		n.cycle(ctx, nil)
		return nil
	})
}

// RefreshRoute swaps in a version of the active route whose annotations were refreshed
// from fromLeg on. Indices are preserved. If tracking has moved past fromLeg since the
// refresh was requested, legs behind the current one keep their annotations.
func (n *Navigator) RefreshRoute(ctx context.Context, r *route.Route, fromLeg int) error {
	if err := r.Validate(); err != nil {
		return err
	}
	if _, err := r.Leg(fromLeg); err != nil {
		return err
	}
	return n.do(ctx, "refresh_route", func(ctx context.Context) error {
		current := n.route.Load()
		if current == nil || current.ID != r.ID {
			return ErrRouteMismatch
		}

		legIndex := n.builder.Indices().Leg
		if legIndex > fromLeg {
			merged, err := current.WithRefreshedAnnotations(r, legIndex)
			if err != nil {
				return err
			}
			r = merged
		}
		if _, err := n.engine.SetRoute(r, r.RouteIndex, legIndex); err != nil {
			return fmt.Errorf("set refreshed route: %w", err)
		}
		n.route.Store(r)

		n.logger.Debug().
			Str("route_id", r.ID).
			Int("leg_index", legIndex).
			Int("refreshed_from_leg", fromLeg).
			Msg("route refreshed")
		return nil
	})
}

// ChangeRouteLeg moves tracking to another leg of the active route.
func (n *Navigator) ChangeRouteLeg(ctx context.Context, legIndex int) error {
	return n.do(ctx, "change_route_leg", func(ctx context.Context) error {
		r := n.route.Load()
		if _, err := r.Leg(legIndex); err != nil {
			return err
		}
		if err := n.engine.ChangeRouteLeg(r.RouteIndex, legIndex); err != nil {
			return fmt.Errorf("change route leg: %w", err)
		}
		n.cycle(ctx, nil)
		return nil
	})
}

// SubmitFeedback records user feedback and returns its ID.
func (n *Navigator) SubmitFeedback(ctx context.Context, in session.FeedbackInput) (string, error) {
	var id string
	err := n.do(ctx, "submit_feedback", func(context.Context) error {
		var err error
		id, err = n.tracker.SubmitFeedback(in, n.now())
		return err
	})
	return id, err
}

// UpdateFeedback edits feedback that has not been sent yet.
func (n *Navigator) UpdateFeedback(ctx context.Context, id string, in session.FeedbackInput) error {
	return n.do(ctx, "update_feedback", func(context.Context) error {
		return n.tracker.UpdateFeedback(id, in)
	})
}

// CancelFeedback drops feedback that has not been sent yet.
func (n *Navigator) CancelFeedback(ctx context.Context, id string) error {
	return n.do(ctx, "cancel_feedback", func(context.Context) error {
		return n.tracker.CancelFeedback(id)
	})
}

// do runs fn on the worker goroutine and waits for its result.
func (n *Navigator) do(ctx context.Context, name string, fn func(ctx context.Context) error) error {
	if !n.running.Load() {
		return ErrNotRunning
	}
	cmd := command{name: name, fn: fn, done: make(chan error, 1)}
	select {
	case n.commands <- cmd:
	case <-n.done:
		return ErrNotRunning
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-cmd.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (n *Navigator) run(ctx context.Context) {
	defer close(n.done)

	timer := time.NewTimer(n.tick)
	defer timer.Stop()

	for {
		select {
		case <-n.quit:
			n.shutdown(ctx, dispatch.StopReasonStopped, nil)
			return

		case fix := <-n.locations:
			if err := n.engine.UpdateLocation(fix); err != nil {
				if n.failed(ctx, "update_location", err) {
					return
				}
			}
			n.tracker.OnLocation(fix)
			n.cycle(ctx, &fix)

		case cmd := <-n.commands:
			err := cmd.fn(ctx)
			if errors.Is(err, engine.ErrDisposed) {
				n.failed(ctx, cmd.name, err)
			} else {
				n.publishSession()
			}
			cmd.done <- err

		case <-timer.C:
			n.cycle(ctx, nil)
		}

		if n.fatal != nil {
			return
		}
		timer.Reset(n.tick)
	}
}

// cycle computes and publishes one pipeline step. raw is nil for timer cycles.
func (n *Navigator) cycle(ctx context.Context, raw *engine.Location) {
	started := time.Now()
	now := n.now()

	status, err := n.engine.Status(now)
	if err != nil {
		n.failed(ctx, "status", err)
		return
	}

	// Strategies are captured once so a swap takes effect on the next cycle.
	offRoute := *n.offRoute.Load()
	snapper := *n.snapper.Load()
	faster := *n.fasterRoute.Load()

	r := n.route.Load()
	p := n.builder.Build(n.prev, status, r)
	if p.Lifecycle == progress.LifecycleInvalid {
		n.fault(ctx, FaultStructural, "build_progress", route.ErrIndexOutOfRange)
	}

	// Detectors look at the latest raw fix; listeners get the engine's position.
	loc := status.Location
	fix := loc
	if raw != nil {
		n.lastFix = raw
	}
	if n.lastFix != nil {
		fix = *n.lastFix
	}
	if loc.Time.IsZero() {
		loc = fix
	}

	located := n.lastFix != nil &&
		p.Lifecycle != progress.LifecycleInvalid &&
		p.Lifecycle != progress.LifecycleInitialized
	isOffRoute := false
	if located {
		isOffRoute = n.detectOffRoute(ctx, offRoute, fix, p)
	}
	snapped := n.snap(ctx, snapper, fix, p)
	checkFaster := false
	if located && !isOffRoute {
		checkFaster = n.checkFasterRoute(ctx, faster, fix, p)
	}

	fired, errs := n.milestones.Evaluate(n.prev, p)
	for _, err := range errs {
		n.fault(ctx, FaultMilestone, "evaluate_milestones", err)
	}

	n.events.Post(dispatch.Cycle{
		RawLocation:      raw,
		EnhancedLocation: loc,
		SnappedLocation:  snapped,
		Progress:         p,
		Milestones:       fired,
		OffRoute:         isOffRoute,
		CheckFasterRoute: checkFaster,
	})

	n.tracker.OnProgress(ctx, p, now)
	if isOffRoute {
		n.metrics.OffRoute(ctx)
		if n.tracker.OnOffRoute(fix, now) {
			n.logger.Info().
				Str("route_id", p.RouteID()).
				Int("leg_index", p.LegIndex).
				Int("step_index", p.StepIndex).
				Msg("off route")
		}
	}
	n.tracker.Sweep(ctx, now)

	for _, ev := range fired {
		n.metrics.Milestone(ctx, string(ev.Milestone.Kind))
	}

	n.prev = &p
	n.latest.Store(&p)
	n.publishSession()
	n.metrics.RecordCycle(ctx, time.Since(started), p.Lifecycle.String())
}

func (n *Navigator) detectOffRoute(ctx context.Context, d detector.OffRouteDetector, loc engine.Location, p progress.State) bool {
	if !n.offRouteEnabled() {
		n.lastOffRoute = false
		return false
	}
	off, err := guard(func() (bool, error) { return d.IsOffRoute(loc, p, n.detectorOpts) })
	if err != nil {
		n.fault(ctx, FaultDetector, "off_route", err)
		return n.lastOffRoute
	}
	n.lastOffRoute = off
	return off
}

func (n *Navigator) snap(ctx context.Context, s detector.Snapper, loc engine.Location, p progress.State) engine.Location {
	snapped, err := guard(func() (engine.Location, error) { return s.Snap(loc, p) })
	if err != nil {
		n.fault(ctx, FaultDetector, "snap", err)
		if n.lastSnapped != nil {
			return *n.lastSnapped
		}
		return loc
	}
	n.lastSnapped = &snapped
	return snapped
}

func (n *Navigator) checkFasterRoute(ctx context.Context, d detector.FasterRouteDetector, loc engine.Location, p progress.State) bool {
	check, err := guard(func() (bool, error) { return d.ShouldCheckFasterRoute(loc, p) })
	if err != nil {
		n.fault(ctx, FaultDetector, "faster_route", err)
		return n.lastFaster
	}
	n.lastFaster = check
	return check
}

// failed handles an engine error. It reports whether the error was fatal.
func (n *Navigator) failed(ctx context.Context, op string, err error) bool {
	if !errors.Is(err, engine.ErrDisposed) {
		n.fault(ctx, FaultEngine, op, err)
		return false
	}

	n.fatal = &FaultError{Class: FaultFatal, Op: op, Err: err}
	n.fault(ctx, FaultFatal, op, err)
	n.running.Store(false)
	n.shutdown(ctx, dispatch.StopReasonFatal, n.fatal)
	return true
}

func (n *Navigator) fault(ctx context.Context, class FaultClass, op string, err error) {
	event := n.logger.Warn()
	if class == FaultFatal {
		event = n.logger.Error()
	}
	event.Err(err).
		Str("fault_class", string(class)).
		Str("op", op).
		Msg("navigation pipeline fault")
	n.metrics.Fault(ctx, string(class))
}

func (n *Navigator) onRouteChange(last progress.State) {
	n.tracker.AddCompletedDistance(last.DistanceTraveled())
}

func (n *Navigator) publishSession() {
	s := n.tracker.Snapshot()
	n.summary.Store(&s)
}

// shutdown runs once per navigator on the worker, after Stop or on a fatal fault.
func (n *Navigator) shutdown(ctx context.Context, reason dispatch.StopReason, cause error) {
	n.finish.Do(func() {
		n.running.Store(false)

		final := n.tracker.End(ctx, n.now())
		n.summary.Store(&final)

		if err := n.engine.Close(); err != nil && !errors.Is(err, engine.ErrDisposed) {
			n.logger.Warn().Err(err).Msg("failed to close engine")
		}

		n.events.PostStopped(ctx, reason, cause)
		n.events.Stop()

		n.logger.Info().
			Str("reason", string(reason)).
			Int("reroute_count", final.RerouteCount).
			Int64("dropped_cycles", n.events.Dropped()).
			Msg("navigation stopped")
	})
}
