package dispatch

import (
	"fmt"
	"sync"

	"github.com/rs/zerolog"
)

// Topic is the listener registry of one concern. Listeners are compared by identity, so
// register pointers.
type Topic[L comparable] struct {
	name    string
	logger  zerolog.Logger
	onPanic func(topic string)

	mu        sync.RWMutex
	listeners []L
}

func newTopic[L comparable](name string, logger zerolog.Logger, onPanic func(string)) *Topic[L] {
	return &Topic[L]{
		name:    name,
		logger:  logger.With().Str("topic", name).Logger(),
		onPanic: onPanic,
	}
}

// Name returns the topic name.
func (t *Topic[L]) Name() string { return t.name }

// Add registers l. Registering a listener twice is a no-op that logs a warning and
// returns false.
func (t *Topic[L]) Add(l L) bool {
	var zero L
	if same(l, zero) {
		return false
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	for _, existing := range t.listeners {
		if same(existing, l) {
			t.logger.Warn().Msg("listener already registered")
			return false
		}
	}
	t.listeners = append(t.listeners, l)
	return true
}

// Remove unregisters l. Removing the zero value clears the topic. It returns the number of
// listeners removed.
func (t *Topic[L]) Remove(l L) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	var zero L
	if same(l, zero) {
		n := len(t.listeners)
		t.listeners = nil
		return n
	}
	for i, existing := range t.listeners {
		if same(existing, l) {
			t.listeners = append(t.listeners[:i:i], t.listeners[i+1:]...)
			return 1
		}
	}
	return 0
}

// Len returns the number of registered listeners.
func (t *Topic[L]) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.listeners)
}

// notify calls fn for each listener registered at the time of the call. A panicking
// listener is logged and skipped.
func (t *Topic[L]) notify(fn func(L)) {
	t.mu.RLock()
	if len(t.listeners) == 0 {
		t.mu.RUnlock()
		return
	}
	snapshot := make([]L, len(t.listeners))
	copy(snapshot, t.listeners)
	t.mu.RUnlock()

	for _, l := range snapshot {
		t.call(l, fn)
	}
}

func (t *Topic[L]) call(l L, fn func(L)) {
	defer func() {
		if r := recover(); r != nil {
			t.logger.Error().
				Str("fault_class", "listener").
				Str("panic", fmt.Sprint(r)).
				Msg("listener panicked")
			if t.onPanic != nil {
				t.onPanic(t.name)
			}
		}
	}()
	fn(l)
}

// same compares listeners, treating values of uncomparable dynamic types as distinct.
func same[L comparable](a, b L) (eq bool) {
	defer func() {
		if recover() != nil {
			eq = false
		}
	}()
	return a == b
}
