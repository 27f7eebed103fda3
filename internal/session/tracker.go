// Package session tracks the bookkeeping of a navigation session: reroutes, arrival,
// feedback and the events reported about them.
package session

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/breatheroute/navcore/internal/analytics"
	"github.com/breatheroute/navcore/internal/engine"
	"github.com/breatheroute/navcore/internal/progress"
	"github.com/breatheroute/navcore/internal/ring"
	"github.com/breatheroute/navcore/internal/route"
	"github.com/breatheroute/navcore/pkg/polyline"
)

// Sentinel errors for session operations.
var (
	// ErrNotStarted indicates an operation on a tracker without an active session.
	ErrNotStarted = errors.New("navigation session not started")
	// ErrFeedbackNotFound indicates feedback that does not exist or was already sent.
	ErrFeedbackNotFound = errors.New("feedback not found")
)

// Config holds configuration for a Tracker.
type Config struct {
	// ConfirmationWindow is how long reroute and feedback events collect locations before
	// they are sent (default: 20 seconds).
	ConfirmationWindow time.Duration `yaml:"confirmation_window"`

	// LocationBufferSize is the number of locations kept before and after an event (default: 20).
	LocationBufferSize int `yaml:"location_buffer_size"`

	// MinRerouteDistance is how far the traveler must move from a pending reroute before
	// another off-route report opens a new one (default: 50m).
	MinRerouteDistance float64 `yaml:"min_reroute_distance_m"`

	// Sink receives session events.
	Sink analytics.Sink `yaml:"-"`

	// Logger for tracker operations.
	Logger zerolog.Logger `yaml:"-"`

	// NewID generates session, event and feedback IDs (default: random UUIDs).
	NewID func() string `yaml:"-"`
}

// State is a snapshot of session bookkeeping.
type State struct {
	SessionID     string
	StartedAt     time.Time
	ArrivedAt     *time.Time
	OriginalRoute *route.Route
	CurrentRoute  *route.Route
	RerouteCount  int
	// DistanceCompleted covers routes that are no longer active.
	DistanceCompleted float64
	LastRerouteAt     *time.Time
	QueuedEvents      int
}

// FeedbackInput is user feedback about the session.
type FeedbackInput struct {
	Type        string
	Description string
	Source      string
}

type pendingReroute struct {
	location engine.Location
	openedAt time.Time
	before   []engine.Location
}

type queuedEvent struct {
	event    analytics.Event
	openedAt time.Time
	after    *ring.Buffer[engine.Location]
}

// Tracker records session bookkeeping. It is not safe for concurrent use; the navigation
// pipeline calls it from its worker goroutine only.
type Tracker struct {
	window      time.Duration
	bufferSize  int
	minDistance float64
	sink        analytics.Sink
	logger      zerolog.Logger
	newID       func() string

	active  bool
	state   State
	recent  *ring.Buffer[engine.Location]
	pending *pendingReroute
	queue   []*queuedEvent
	latest  *progress.State
}

// NewTracker creates a tracker.
func NewTracker(cfg Config) *Tracker {
	window := cfg.ConfirmationWindow
	if window == 0 {
		window = 20 * time.Second
	}

	bufferSize := cfg.LocationBufferSize
	if bufferSize == 0 {
		bufferSize = 20
	}

	minDistance := cfg.MinRerouteDistance
	if minDistance == 0 {
		minDistance = 50
	}

	newID := cfg.NewID
	if newID == nil {
		newID = uuid.NewString
	}

	sink := cfg.Sink
	if sink == nil {
		sink = analytics.NewLogSink(cfg.Logger)
	}

	return &Tracker{
		window:      window,
		bufferSize:  bufferSize,
		minDistance: minDistance,
		sink:        sink,
		logger:      cfg.Logger.With().Str("component", "session").Logger(),
		newID:       newID,
		recent:      ring.New[engine.Location](bufferSize),
	}
}

// Start opens a session on r and reports the departure.
func (t *Tracker) Start(ctx context.Context, r *route.Route, now time.Time) {
	t.active = true
	t.state = State{
		SessionID:     t.newID(),
		StartedAt:     now,
		OriginalRoute: r,
		CurrentRoute:  r,
	}
	t.recent.Clear()
	t.pending = nil
	t.queue = nil
	t.latest = nil

	t.logger.Info().
		Str("session_id", t.state.SessionID).
		Str("route_id", r.ID).
		Msg("navigation session started")
	t.send(ctx, t.event(analytics.EventDepart, now))
}

// Active reports whether a session is open.
func (t *Tracker) Active() bool { return t.active }

// OnLocation records a raw fix.
func (t *Tracker) OnLocation(loc engine.Location) {
	if !t.active {
		return
	}
	t.recent.Push(loc)
	for _, q := range t.queue {
		if !q.after.Full() {
			q.after.Push(loc)
		}
	}
}

// OnProgress records the latest progress and reports arrival the first time the route
// completes.
func (t *Tracker) OnProgress(ctx context.Context, p progress.State, now time.Time) {
	if !t.active {
		return
	}
	t.latest = &p
	if p.Lifecycle == progress.LifecycleComplete && t.state.ArrivedAt == nil {
		arrived := now
		t.state.ArrivedAt = &arrived
		t.send(ctx, t.event(analytics.EventArrive, now))
	}
}

// OnOffRoute opens a pending reroute at loc. It returns false when a reroute is already
// pending within MinRerouteDistance of loc.
func (t *Tracker) OnOffRoute(loc engine.Location, now time.Time) bool {
	if !t.active {
		return false
	}
	if t.pending != nil && polyline.Distance(loc.Coordinate, t.pending.location.Coordinate) < t.minDistance {
		return false
	}
	if t.pending != nil {
		t.logger.Debug().Msg("replacing unanswered reroute")
	}

	before := t.recent.Values()
	if last, ok := t.recent.Last(); !ok || !sameFix(last, loc) {
		before = append(before, loc)
	}
	t.pending = &pendingReroute{location: loc, openedAt: now, before: before}
	return true
}

// OnNewRoute makes r the current route. When a reroute is pending it is completed and
// queued for reporting, and OnNewRoute returns true.
func (t *Tracker) OnNewRoute(r *route.Route, now time.Time) bool {
	if !t.active {
		return false
	}
	t.state.CurrentRoute = r
	if t.pending == nil {
		return false
	}

	sinceLast := -1.0
	if t.state.LastRerouteAt != nil {
		sinceLast = now.Sub(*t.state.LastRerouteAt).Seconds()
	}
	t.state.RerouteCount++
	rerouted := now
	t.state.LastRerouteAt = &rerouted

	ev := t.event(analytics.EventReroute, now)
	loc := analytics.SampleFrom(t.pending.location)
	ev.Location = &loc
	ev.LocationsBefore = analytics.SamplesFrom(t.pending.before)
	ev.Reroute = &analytics.RerouteDetails{
		SecondsSinceLastReroute: sinceLast,
		NewDistanceMeters:       r.DistanceMeters,
		NewDurationSeconds:      r.DurationSeconds,
	}
	t.enqueue(ev, now)
	t.pending = nil

	t.logger.Info().
		Str("session_id", t.state.SessionID).
		Str("route_id", r.ID).
		Int("reroute_count", t.state.RerouteCount).
		Msg("reroute recorded")
	return true
}

// AddCompletedDistance folds the distance traveled on a route that is being replaced into
// the session total.
func (t *Tracker) AddCompletedDistance(meters float64) {
	if meters > 0 {
		t.state.DistanceCompleted += meters
	}
}

// SubmitFeedback queues user feedback and returns its ID.
func (t *Tracker) SubmitFeedback(in FeedbackInput, now time.Time) (string, error) {
	if !t.active {
		return "", ErrNotStarted
	}
	id := t.newID()
	ev := t.event(analytics.EventFeedback, now)
	ev.Feedback = &analytics.FeedbackDetails{
		FeedbackID:  id,
		Type:        in.Type,
		Description: in.Description,
		Source:      in.Source,
	}
	ev.LocationsBefore = analytics.SamplesFrom(t.recent.Values())
	if last, ok := t.recent.Last(); ok {
		loc := analytics.SampleFrom(last)
		ev.Location = &loc
	}
	t.enqueue(ev, now)
	return id, nil
}

// UpdateFeedback replaces the content of queued feedback.
func (t *Tracker) UpdateFeedback(id string, in FeedbackInput) error {
	q := t.findFeedback(id)
	if q == nil {
		return ErrFeedbackNotFound
	}
	q.event.Feedback.Type = in.Type
	q.event.Feedback.Description = in.Description
	if in.Source != "" {
		q.event.Feedback.Source = in.Source
	}
	return nil
}

// CancelFeedback drops queued feedback.
func (t *Tracker) CancelFeedback(id string) error {
	for i, q := range t.queue {
		if q.event.Feedback != nil && q.event.Feedback.FeedbackID == id {
			t.queue = append(t.queue[:i:i], t.queue[i+1:]...)
			return nil
		}
	}
	return ErrFeedbackNotFound
}

// Sweep sends queued events whose confirmation window has elapsed or whose after-location
// buffer is full.
func (t *Tracker) Sweep(ctx context.Context, now time.Time) {
	if len(t.queue) == 0 {
		return
	}
	kept := t.queue[:0]
	for _, q := range t.queue {
		if now.Sub(q.openedAt) >= t.window || q.after.Full() {
			t.flush(ctx, q)
			continue
		}
		kept = append(kept, q)
	}
	for i := len(kept); i < len(t.queue); i++ {
		t.queue[i] = nil
	}
	t.queue = kept
}

// End flushes every queued event, reports the cancellation and closes the session.
func (t *Tracker) End(ctx context.Context, now time.Time) State {
	if !t.active {
		return t.state
	}
	for _, q := range t.queue {
		t.flush(ctx, q)
	}
	t.queue = nil
	t.pending = nil
	t.send(ctx, t.event(analytics.EventCancel, now))
	t.active = false

	t.logger.Info().
		Str("session_id", t.state.SessionID).
		Int("reroute_count", t.state.RerouteCount).
		Float64("distance_completed_m", t.DistanceCompleted()).
		Msg("navigation session ended")
	return t.Snapshot()
}

// Snapshot returns the current session state.
func (t *Tracker) Snapshot() State {
	s := t.state
	s.QueuedEvents = len(t.queue)
	return s
}

// Queued returns the events waiting for their confirmation window.
func (t *Tracker) Queued() []analytics.Event {
	out := make([]analytics.Event, len(t.queue))
	for i, q := range t.queue {
		out[i] = q.event
	}
	return out
}

// DistanceCompleted returns the distance traveled across every route of the session.
func (t *Tracker) DistanceCompleted() float64 {
	d := t.state.DistanceCompleted
	if t.latest != nil && t.latest.RouteID() == routeID(t.state.CurrentRoute) {
		d += t.latest.DistanceTraveled()
	}
	return d
}

func (t *Tracker) enqueue(ev analytics.Event, now time.Time) {
	t.queue = append(t.queue, &queuedEvent{
		event:    ev,
		openedAt: now,
		after:    ring.New[engine.Location](t.bufferSize),
	})
}

func (t *Tracker) findFeedback(id string) *queuedEvent {
	for _, q := range t.queue {
		if q.event.Feedback != nil && q.event.Feedback.FeedbackID == id {
			return q
		}
	}
	return nil
}

func (t *Tracker) flush(ctx context.Context, q *queuedEvent) {
	ev := q.event
	ev.LocationsAfter = analytics.SamplesFrom(q.after.Values())
	ev.RerouteCount = t.state.RerouteCount
	ev.DistanceCompletedMeters = t.DistanceCompleted()
	ev.ArrivedAt = t.state.ArrivedAt
	t.send(ctx, ev)
}

func (t *Tracker) event(typ analytics.EventType, now time.Time) analytics.Event {
	ev := analytics.Event{
		ID:                      t.newID(),
		Type:                    typ,
		SessionID:               t.state.SessionID,
		OccurredAt:              now,
		StartedAt:               t.state.StartedAt,
		ArrivedAt:               t.state.ArrivedAt,
		RerouteCount:            t.state.RerouteCount,
		DistanceCompletedMeters: t.DistanceCompleted(),
		OriginalRoute:           analytics.SummarizeRoute(t.state.OriginalRoute),
		Route:                   analytics.SummarizeRoute(t.state.CurrentRoute),
	}
	if t.latest != nil {
		ev.Progress = &analytics.ProgressSummary{
			LegIndex:                 t.latest.LegIndex,
			StepIndex:                t.latest.StepIndex,
			DistanceRemainingMeters:  t.latest.DistanceRemaining,
			DurationRemainingSeconds: t.latest.DurationRemaining().Seconds(),
			DistanceTraveledMeters:   t.latest.DistanceTraveled(),
		}
	}
	return ev
}

func (t *Tracker) send(ctx context.Context, ev analytics.Event) {
	if err := t.sink.Send(ctx, ev); err != nil {
		t.logger.Warn().
			Err(err).
			Str("event_type", string(ev.Type)).
			Str("session_id", ev.SessionID).
			Msg("failed to send session event")
	}
}

func routeID(r *route.Route) string {
	if r == nil {
		return ""
	}
	return r.ID
}

func sameFix(a, b engine.Location) bool {
	return a.Coordinate == b.Coordinate && a.Time.Equal(b.Time)
}
