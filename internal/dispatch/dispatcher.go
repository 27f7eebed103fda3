package dispatch

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/breatheroute/navcore/internal/engine"
	"github.com/breatheroute/navcore/internal/milestone"
	"github.com/breatheroute/navcore/internal/progress"
)

// Cycle is everything one pipeline cycle publishes. Its parts are delivered together in a
// fixed order: raw location, enhanced location, progress, milestones, off route, faster route.
type Cycle struct {
	// RawLocation is nil for cycles driven by the timer rather than a new fix.
	RawLocation      *engine.Location
	EnhancedLocation engine.Location
	SnappedLocation  engine.Location
	Progress         progress.State
	Milestones       []milestone.Event
	OffRoute         bool
	CheckFasterRoute bool
}

// Config holds configuration for a Dispatcher.
type Config struct {
	// QueueSize bounds the number of undelivered cycles (default: 64).
	QueueSize int

	// Logger for dispatcher operations.
	Logger zerolog.Logger

	// OnDropped is called for every cycle dropped because the queue was full.
	OnDropped func()

	// OnListenerPanic is called with the topic name whenever a listener panics.
	OnListenerPanic func(topic string)
}

// Dispatcher owns the listener topics and delivers posted cycles on its own goroutine, in
// the order they were posted.
type Dispatcher struct {
	Progress         *Topic[ProgressListener]
	Milestone        *Topic[MilestoneListener]
	OffRoute         *Topic[OffRouteListener]
	FasterRoute      *Topic[FasterRouteListener]
	Running          *Topic[RunningListener]
	RawLocation      *Topic[RawLocationListener]
	EnhancedLocation *Topic[EnhancedLocationListener]

	logger    zerolog.Logger
	onDropped func()
	dropped   atomic.Int64

	// mu guards sends on queue against its close.
	mu     sync.RWMutex
	queue  chan delivery
	closed bool

	startOnce sync.Once
	stopOnce  sync.Once
	wg        sync.WaitGroup
}

type delivery struct {
	cycle   *Cycle
	running *runningChange
}

type runningChange struct {
	running bool
	reason  StopReason
	err     error
}

// New creates a dispatcher. Call Start to begin delivery.
func New(cfg Config) *Dispatcher {
	queueSize := cfg.QueueSize
	if queueSize == 0 {
		queueSize = 64
	}

	logger := cfg.Logger.With().Str("component", "dispatcher").Logger()
	onPanic := cfg.OnListenerPanic

	return &Dispatcher{
		Progress:         newTopic[ProgressListener]("progress", logger, onPanic),
		Milestone:        newTopic[MilestoneListener]("milestone", logger, onPanic),
		OffRoute:         newTopic[OffRouteListener]("off_route", logger, onPanic),
		FasterRoute:      newTopic[FasterRouteListener]("faster_route", logger, onPanic),
		Running:          newTopic[RunningListener]("navigation_running", logger, onPanic),
		RawLocation:      newTopic[RawLocationListener]("raw_location", logger, onPanic),
		EnhancedLocation: newTopic[EnhancedLocationListener]("enhanced_location", logger, onPanic),
		logger:           logger,
		onDropped:        cfg.OnDropped,
		queue:            make(chan delivery, queueSize),
	}
}

// Start launches the delivery goroutine. Calling Start more than once has no effect.
func (d *Dispatcher) Start() {
	d.startOnce.Do(func() {
		d.wg.Add(1)
		go d.loop()
	})
}

// Stop delivers what is already queued, then ends the delivery goroutine. Posts after
// Stop are rejected.
func (d *Dispatcher) Stop() {
	d.stopOnce.Do(func() {
		d.mu.Lock()
		d.closed = true
		close(d.queue)
		d.mu.Unlock()
	})
	d.wg.Wait()
}

// Post queues a cycle without blocking. A cycle that does not fit is dropped and
// counted; Post then returns false. Posts after Stop return false and are not counted.
func (d *Dispatcher) Post(c Cycle) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return false
	}
	select {
	case d.queue <- delivery{cycle: &c}:
		return true
	default:
	}

	d.dropped.Add(1)
	d.logger.Warn().
		Str("fault_class", "dropped_cycle").
		Int("leg_index", c.Progress.LegIndex).
		Int("step_index", c.Progress.StepIndex).
		Msg("dropping navigation cycle due to backpressure")
	if d.onDropped != nil {
		d.onDropped()
	}
	return false
}

// PostRunning queues a navigation-running notification, waiting for queue space.
func (d *Dispatcher) PostRunning(ctx context.Context) bool {
	return d.offer(ctx, delivery{running: &runningChange{running: true}})
}

// PostStopped queues a navigation-stopped notification, waiting for queue space.
func (d *Dispatcher) PostStopped(ctx context.Context, reason StopReason, err error) bool {
	return d.offer(ctx, delivery{running: &runningChange{reason: reason, err: err}})
}

// Dropped returns the number of cycles dropped so far.
func (d *Dispatcher) Dropped() int64 { return d.dropped.Load() }

func (d *Dispatcher) loop() {
	defer d.wg.Done()
	for dl := range d.queue {
		switch {
		case dl.cycle != nil:
			d.deliverCycle(dl.cycle)
		case dl.running != nil:
			d.deliverRunning(dl.running)
		}
	}
}

func (d *Dispatcher) deliverCycle(c *Cycle) {
	if c.RawLocation != nil {
		raw := *c.RawLocation
		d.RawLocation.notify(func(l RawLocationListener) { l.OnRawLocation(raw) })
	}
	d.EnhancedLocation.notify(func(l EnhancedLocationListener) { l.OnEnhancedLocation(c.EnhancedLocation) })
	d.Progress.notify(func(l ProgressListener) { l.OnProgressChange(c.SnappedLocation, c.Progress) })
	for _, ev := range c.Milestones {
		d.Milestone.notify(func(l MilestoneListener) { l.OnMilestone(ev.Progress, ev.Instruction, ev.Milestone) })
	}
	if c.OffRoute {
		d.OffRoute.notify(func(l OffRouteListener) { l.OnOffRoute(c.SnappedLocation) })
	}
	if c.CheckFasterRoute {
		d.FasterRoute.notify(func(l FasterRouteListener) { l.OnFasterRouteCheck(c.SnappedLocation, c.Progress) })
	}
}

func (d *Dispatcher) deliverRunning(rc *runningChange) {
	if rc.running {
		d.Running.notify(func(l RunningListener) { l.OnNavigationRunning() })
		return
	}
	d.Running.notify(func(l RunningListener) { l.OnNavigationStopped(rc.reason, rc.err) })
}

// offer waits for queue space unless ctx ends first or the dispatcher is stopped.
func (d *Dispatcher) offer(ctx context.Context, v delivery) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return false
	}
	select {
	case d.queue <- v:
		return true
	case <-ctx.Done():
		return false
	}
}
