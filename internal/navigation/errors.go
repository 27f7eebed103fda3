package navigation

import (
	"errors"
	"fmt"
)

// Sentinel errors for navigator operations.
var (
	// ErrNotRunning indicates an operation on a navigator that is not running.
	ErrNotRunning = errors.New("navigation not running")
	// ErrAlreadyRunning indicates Start on a navigator that was already started.
	ErrAlreadyRunning = errors.New("navigation already running")
	// ErrRouteMismatch indicates a refreshed route that does not match the active route.
	ErrRouteMismatch = errors.New("refreshed route does not match the active route")
)

// FaultClass classifies pipeline faults in logs and metrics.
type FaultClass string

// Fault classes.
const (
	FaultEngine       FaultClass = "engine"
	FaultDetector     FaultClass = "detector"
	FaultMilestone    FaultClass = "milestone"
	FaultDroppedCycle FaultClass = "dropped_cycle"
	FaultListener     FaultClass = "listener"
	FaultStructural   FaultClass = "structural"
	FaultFatal        FaultClass = "fatal"
)

// FaultError is a pipeline fault.
type FaultError struct {
	Class FaultClass
	Op    string
	Err   error
}

func (e *FaultError) Error() string {
	return fmt.Sprintf("%s fault in %s: %v", e.Class, e.Op, e.Err)
}

func (e *FaultError) Unwrap() error {
	return e.Err
}

// guard runs fn and converts a panic into an error.
func guard[T any](fn func() (T, error)) (v T, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return fn()
}
