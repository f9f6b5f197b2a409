package compflow

import (
	"errors"
	"fmt"
)

// Sentinel errors for API misuse.
var (
	// ErrNilCaller indicates New was called without a remote caller.
	ErrNilCaller = errors.New("remote caller cannot be nil")

	// ErrFlowAlreadyStarted indicates Execute was called twice on one Flow.
	ErrFlowAlreadyStarted = errors.New("flow already started")

	// ErrTerminalState indicates a transition out of a terminal state.
	ErrTerminalState = errors.New("flow is in a terminal state")
)

// TransitionError describes an illegal state change.
type TransitionError struct {
	From State
	To   State
}

// Error implements the error interface.
func (e *TransitionError) Error() string {
	return fmt.Sprintf("illegal transition %s -> %s", e.From, e.To)
}

// Unwrap returns ErrTerminalState when the move left a terminal state.
func (e *TransitionError) Unwrap() error {
	if e.From.IsTerminal() {
		return ErrTerminalState
	}
	return nil
}

// PanicError captures a panic raised by a stage function.
type PanicError struct {
	Phase State
	Value any
	Stack string
}

// Error implements the error interface.
func (e *PanicError) Error() string {
	return fmt.Sprintf("stage %s panicked: %v", e.Phase, e.Value)
}
