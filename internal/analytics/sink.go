package analytics

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// Sink transports session events.
type Sink interface {
	Send(ctx context.Context, ev Event) error
}

// LogSink writes events to a structured log.
type LogSink struct {
	logger zerolog.Logger
}

// NewLogSink creates a sink that logs every event at info level.
func NewLogSink(logger zerolog.Logger) *LogSink {
	return &LogSink{logger: logger.With().Str("component", "analytics").Logger()}
}

// Send implements Sink.
func (s *LogSink) Send(_ context.Context, ev Event) error {
	e := s.logger.Info().
		Str("event_id", ev.ID).
		Str("event_type", string(ev.Type)).
		Str("session_id", ev.SessionID).
		Int("reroute_count", ev.RerouteCount).
		Float64("distance_completed_m", ev.DistanceCompletedMeters)
	if ev.Route != nil {
		e = e.Str("route_id", ev.Route.ID)
	}
	if ev.Feedback != nil {
		e = e.Str("feedback_type", ev.Feedback.Type)
	}
	e.Msg("navigation event")
	return nil
}

// MultiSink sends every event to all of its sinks.
type MultiSink []Sink

// Send implements Sink. It tries every sink and joins their errors.
func (m MultiSink) Send(ctx context.Context, ev Event) error {
	var errs []error
	for _, s := range m {
		if err := s.Send(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// AsyncSinkConfig holds configuration for an AsyncSink.
type AsyncSinkConfig struct {
	// QueueSize bounds the number of pending events (default: 256).
	QueueSize int

	// SendTimeout bounds each delivery to the wrapped sink (default: 10 seconds).
	SendTimeout time.Duration

	// Logger for delivery failures.
	Logger zerolog.Logger
}

// AsyncSink hands events to a wrapped sink on a background goroutine so callers never
// block on transport.
type AsyncSink struct {
	sink        Sink
	queue       chan Event
	sendTimeout time.Duration
	logger      zerolog.Logger
	dropped     atomic.Int64
	failed      atomic.Int64

	closeOnce sync.Once
	wg        sync.WaitGroup
}

// NewAsyncSink starts delivering to sink in the background.
func NewAsyncSink(sink Sink, cfg AsyncSinkConfig) *AsyncSink {
	queueSize := cfg.QueueSize
	if queueSize == 0 {
		queueSize = 256
	}

	sendTimeout := cfg.SendTimeout
	if sendTimeout == 0 {
		sendTimeout = 10 * time.Second
	}

	a := &AsyncSink{
		sink:        sink,
		queue:       make(chan Event, queueSize),
		sendTimeout: sendTimeout,
		logger:      cfg.Logger,
	}
	a.wg.Add(1)
	go a.loop()
	return a
}

// Send implements Sink. It queues ev and returns immediately; a full queue drops the event.
func (a *AsyncSink) Send(_ context.Context, ev Event) (err error) {
	defer func() {
		if recover() != nil {
			err = errSinkClosed
		}
	}()
	select {
	case a.queue <- ev:
		return nil
	default:
		a.dropped.Add(1)
		a.logger.Warn().
			Str("event_type", string(ev.Type)).
			Str("session_id", ev.SessionID).
			Msg("dropping analytics event due to backpressure")
		return errQueueFull
	}
}

// Close stops accepting events and waits until queued events are delivered or ctx ends.
func (a *AsyncSink) Close(ctx context.Context) error {
	a.closeOnce.Do(func() { close(a.queue) })

	done := make(chan struct{})
	go func() {
		a.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Dropped returns the number of events dropped for lack of queue space.
func (a *AsyncSink) Dropped() int64 { return a.dropped.Load() }

// Failed returns the number of events the wrapped sink rejected.
func (a *AsyncSink) Failed() int64 { return a.failed.Load() }

func (a *AsyncSink) loop() {
	defer a.wg.Done()
	for ev := range a.queue {
		ctx, cancel := context.WithTimeout(context.Background(), a.sendTimeout)
		if err := a.sink.Send(ctx, ev); err != nil {
			a.failed.Add(1)
			a.logger.Error().
				Err(err).
				Str("event_id", ev.ID).
				Str("event_type", string(ev.Type)).
				Msg("failed to deliver analytics event")
		}
		cancel()
	}
}

var (
	errQueueFull  = errors.New("analytics queue full")
	errSinkClosed = errors.New("analytics sink closed")
)
