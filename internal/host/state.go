// SPDX-License-Identifier: MPL-2.0

package host

import (
	"errors"
	"fmt"
)

const (
	// StateCreated means Start has not been called.
	StateCreated State = iota
	// StateStarting means EngineInit and the first PostReset are firing.
	StateStarting
	// StateRunning means frames are being produced.
	StateRunning
	// StateStopping means the scene is being cleared and the engine ended.
	StateStopping
	// StateStopped is terminal: EngineEnd has fired.
	StateStopped
	// StateFailed is terminal: startup failed or a hook broke the loop.
	StateFailed
)

// ErrInvalidState is returned when a State value is not a defined state.
var ErrInvalidState = errors.New("invalid state")

type (
	// State is the lifecycle state of an Engine.
	State int32

	// InvalidStateError is returned when a State value is not recognized.
	// It wraps ErrInvalidState for errors.Is() compatibility.
	InvalidStateError struct {
		Value State
	}
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	case StateStopped:
		return "stopped"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Error implements the error interface for InvalidStateError.
func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("invalid engine state %d (valid: 0=created, 1=starting, 2=running, 3=stopping, 4=stopped, 5=failed)", e.Value)
}

// Unwrap returns ErrInvalidState for errors.Is() compatibility.
func (e *InvalidStateError) Unwrap() error { return ErrInvalidState }

// Validate returns nil for a defined state.
func (s State) Validate() error {
	if s < StateCreated || s > StateFailed {
		return &InvalidStateError{Value: s}
	}
	return nil
}

// IsTerminal reports whether s is Stopped or Failed.
func (s State) IsTerminal() bool {
	return s == StateStopped || s == StateFailed
}
