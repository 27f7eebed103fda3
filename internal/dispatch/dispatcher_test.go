package dispatch_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/breatheroute/navcore/internal/dispatch"
	"github.com/breatheroute/navcore/internal/engine"
	"github.com/breatheroute/navcore/internal/milestone"
	"github.com/breatheroute/navcore/internal/progress"
)

// recorder implements every listener interface and records what it saw.
type recorder struct {
	mu     sync.Mutex
	events []string
	steps  []int
}

func (r *recorder) add(e string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recorder) OnProgressChange(_ engine.Location, p progress.State) {
	r.add("progress")
	r.mu.Lock()
	r.steps = append(r.steps, p.StepIndex)
	r.mu.Unlock()
}

func (r *recorder) OnMilestone(_ progress.State, instruction string, _ *milestone.Milestone) {
	r.add("milestone:" + instruction)
}
func (r *recorder) OnOffRoute(engine.Location)                         { r.add("off_route") }
func (r *recorder) OnFasterRouteCheck(engine.Location, progress.State) { r.add("faster_route") }
func (r *recorder) OnRawLocation(engine.Location)                      { r.add("raw") }
func (r *recorder) OnEnhancedLocation(engine.Location)                 { r.add("enhanced") }
func (r *recorder) OnNavigationRunning()                               { r.add("running") }
func (r *recorder) OnNavigationStopped(reason dispatch.StopReason, err error) {
	r.add("stopped:" + string(reason))
}

func (r *recorder) snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.events))
	copy(out, r.events)
	return out
}

func (r *recorder) stepOrder() []int {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]int, len(r.steps))
	copy(out, r.steps)
	return out
}

type panicker struct{}

func (panicker) OnProgressChange(engine.Location, progress.State) { panic("listener bug") }

func subscribeAll(d *dispatch.Dispatcher, r *recorder) {
	d.Progress.Add(r)
	d.Milestone.Add(r)
	d.OffRoute.Add(r)
	d.FasterRoute.Add(r)
	d.Running.Add(r)
	d.RawLocation.Add(r)
	d.EnhancedLocation.Add(r)
}

func TestDispatcher_DeliversCycleInOrder(t *testing.T) {
	d := dispatch.New(dispatch.Config{Logger: zerolog.Nop()})
	rec := &recorder{}
	subscribeAll(d, rec)
	d.Start()
	defer d.Stop()

	raw := engine.Location{}
	require.True(t, d.Post(dispatch.Cycle{
		RawLocation: &raw,
		Milestones: []milestone.Event{
			{Milestone: milestone.Arrival(), Instruction: "a"},
			{Milestone: milestone.Departure(), Instruction: "b"},
		},
		OffRoute:         true,
		CheckFasterRoute: true,
	}))

	expected := []string{"raw", "enhanced", "progress", "milestone:a", "milestone:b", "off_route", "faster_route"}
	assert.Eventually(t, func() bool { return len(rec.snapshot()) == len(expected) }, time.Second, 5*time.Millisecond)
	assert.Equal(t, expected, rec.snapshot())
}

func TestDispatcher_PreservesCycleOrder(t *testing.T) {
	d := dispatch.New(dispatch.Config{QueueSize: 128})
	rec := &recorder{}
	d.Progress.Add(rec)
	d.Start()

	for i := 0; i < 50; i++ {
		require.True(t, d.Post(dispatch.Cycle{Progress: progress.State{StepIndex: i}}))
	}
	d.Stop()

	steps := rec.stepOrder()
	require.Len(t, steps, 50)
	for i, s := range steps {
		assert.Equal(t, i, s)
	}
}

func TestTopic_AddIsIdempotent(t *testing.T) {
	d := dispatch.New(dispatch.Config{})
	rec := &recorder{}

	assert.True(t, d.Progress.Add(rec))
	assert.False(t, d.Progress.Add(rec))
	assert.False(t, d.Progress.Add(nil))
	assert.Equal(t, 1, d.Progress.Len())

	d.Start()
	d.Post(dispatch.Cycle{})
	d.Stop()
	assert.Equal(t, []string{"progress"}, rec.snapshot(), "a listener added twice is notified once")
}

func TestTopic_RemoveNilClears(t *testing.T) {
	d := dispatch.New(dispatch.Config{})
	a, b := &recorder{}, &recorder{}
	d.OffRoute.Add(a)
	d.OffRoute.Add(b)

	assert.Equal(t, 1, d.OffRoute.Remove(a))
	assert.Equal(t, 0, d.OffRoute.Remove(a))
	assert.Equal(t, 1, d.OffRoute.Len())

	assert.Equal(t, 1, d.OffRoute.Remove(nil))
	assert.Equal(t, 0, d.OffRoute.Len())
}

func TestTopic_PanickingListenerDoesNotBlockOthers(t *testing.T) {
	var panics []string
	var mu sync.Mutex
	d := dispatch.New(dispatch.Config{
		OnListenerPanic: func(topic string) {
			mu.Lock()
			panics = append(panics, topic)
			mu.Unlock()
		},
	})
	rec := &recorder{}
	d.Progress.Add(panicker{})
	d.Progress.Add(rec)
	d.Start()

	d.Post(dispatch.Cycle{})
	d.Stop()

	assert.Equal(t, []string{"progress"}, rec.snapshot())
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"progress"}, panics)
}

func TestDispatcher_DropsWhenQueueFull(t *testing.T) {
	dropped := 0
	d := dispatch.New(dispatch.Config{QueueSize: 1, OnDropped: func() { dropped++ }})

	assert.True(t, d.Post(dispatch.Cycle{}))
	assert.False(t, d.Post(dispatch.Cycle{}))
	assert.Equal(t, int64(1), d.Dropped())
	assert.Equal(t, 1, dropped)

	d.Stop()
	assert.False(t, d.Post(dispatch.Cycle{}), "posts after stop are rejected")
	assert.Equal(t, int64(1), d.Dropped(), "rejected posts are not drops")
}

func TestDispatcher_StopWhilePosting(t *testing.T) {
	d := dispatch.New(dispatch.Config{QueueSize: 4})
	d.Start()

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 500; j++ {
				d.Post(dispatch.Cycle{})
				d.PostRunning(context.Background())
			}
		}()
	}

	d.Stop()
	wg.Wait()
	assert.False(t, d.Post(dispatch.Cycle{}))
	assert.False(t, d.PostStopped(context.Background(), dispatch.StopReasonStopped, nil))
}

func TestDispatcher_RunningNotifications(t *testing.T) {
	d := dispatch.New(dispatch.Config{})
	rec := &recorder{}
	d.Running.Add(rec)
	d.Start()

	ctx := context.Background()
	assert.True(t, d.PostRunning(ctx))
	assert.True(t, d.PostStopped(ctx, dispatch.StopReasonFatal, errors.New("engine gone")))
	d.Stop()

	assert.Equal(t, []string{"running", "stopped:fatal"}, rec.snapshot())
	assert.False(t, d.PostRunning(ctx))
}
