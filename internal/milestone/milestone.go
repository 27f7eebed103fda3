package milestone

import (
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/breatheroute/navcore/internal/progress"
)

// ErrNoInstruction is returned by instruction builders that have nothing to say.
var ErrNoInstruction = errors.New("milestone has no instruction")

// Kind classifies what a milestone is used for.
type Kind string

// Milestone kinds.
const (
	KindVoice   Kind = "voice"
	KindBanner  Kind = "banner"
	KindArrival Kind = "arrival"
	KindCustom  Kind = "custom"
)

// InstructionFunc builds the instruction text for a fired milestone.
type InstructionFunc func(p progress.State) (string, error)

// Milestone is a trigger with the instruction to emit when it fires. Milestones are
// compared by identity.
type Milestone struct {
	ID          string
	Kind        Kind
	Trigger     Trigger
	Instruction InstructionFunc
	// Repeat fires the milestone on every cycle its trigger holds instead of only when
	// the trigger starts holding.
	Repeat bool
}

// Event is a fired milestone.
type Event struct {
	Milestone   *Milestone
	Instruction string
	Progress    progress.State
}

// InstructionError reports an instruction builder that failed or panicked.
type InstructionError struct {
	MilestoneID string
	Err         error
}

func (e *InstructionError) Error() string {
	return fmt.Sprintf("milestone %s instruction: %v", e.MilestoneID, e.Err)
}

func (e *InstructionError) Unwrap() error { return e.Err }

// Engine evaluates a set of milestones. It keeps no fired state: a milestone fires when its
// trigger holds for the current state and did not hold for the previous one, so it can fire
// again after its trigger stops holding.
type Engine struct {
	logger zerolog.Logger

	mu         sync.RWMutex
	milestones []*Milestone
}

// NewEngine creates an engine with the given milestones.
func NewEngine(logger zerolog.Logger, milestones ...*Milestone) *Engine {
	e := &Engine{logger: logger}
	for _, m := range milestones {
		e.Add(m)
	}
	return e
}

// Add registers m. Adding a registered milestone is a no-op and returns false.
func (e *Engine) Add(m *Milestone) bool {
	if m == nil {
		return false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, existing := range e.milestones {
		if existing == m {
			return false
		}
	}
	e.milestones = append(e.milestones, m)
	return true
}

// Remove unregisters m and reports whether it was registered.
func (e *Engine) Remove(m *Milestone) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	for i, existing := range e.milestones {
		if existing == m {
			e.milestones = append(e.milestones[:i:i], e.milestones[i+1:]...)
			return true
		}
	}
	return false
}

// Milestones returns the registered milestones in insertion order.
func (e *Engine) Milestones() []*Milestone {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]*Milestone, len(e.milestones))
	copy(out, e.milestones)
	return out
}

// Evaluate returns the milestones that fire for current, in insertion order, and the
// instruction faults that kept others from firing.
func (e *Engine) Evaluate(previous *progress.State, current progress.State) ([]Event, []error) {
	if current.Lifecycle == progress.LifecycleInvalid {
		return nil, nil
	}

	stats := NewStats(previous, current)
	var baseline Stats
	hasBaseline := previous != nil && previous.RouteID() == current.RouteID()
	if hasBaseline {
		baseline = NewStats(previous, *previous)
	}

	var (
		events []Event
		faults []error
	)
	for _, m := range e.Milestones() {
		if m.Trigger == nil || !m.Trigger.Holds(stats) {
			continue
		}
		if !m.Repeat && hasBaseline && m.Trigger.Holds(baseline) {
			continue
		}

		text, err := buildInstruction(m, current)
		if err != nil {
			if errors.Is(err, ErrNoInstruction) {
				continue
			}
			fault := &InstructionError{MilestoneID: m.ID, Err: err}
			e.logger.Warn().
				Err(err).
				Str("milestone_id", m.ID).
				Str("fault_class", "milestone").
				Msg("milestone instruction failed, skipping")
			faults = append(faults, fault)
			continue
		}
		events = append(events, Event{Milestone: m, Instruction: text, Progress: current})
	}
	return events, faults
}

func buildInstruction(m *Milestone, p progress.State) (text string, err error) {
	if m.Instruction == nil {
		return "", nil
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return m.Instruction(p)
}
