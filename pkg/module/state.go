package module

import (
	"errors"
	"fmt"
)

// State is a module instance's lifecycle state.
type State int

const (
	StateUnloaded State = iota
	StateDescribed
	StateInitialized
	StateActive
	StateCleanedUp
	// StateFailed is terminal: init returned nonzero.
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateUnloaded:
		return "unloaded"
	case StateDescribed:
		return "described"
	case StateInitialized:
		return "initialized"
	case StateActive:
		return "active"
	case StateCleanedUp:
		return "cleaned_up"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// MarshalText renders the state name in JSON output.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// ErrInvalidTransition is returned when a lifecycle call is made in a state
// that does not allow it.
var ErrInvalidTransition = errors.New("invalid lifecycle transition")

func invalidTransition(module, op string, from State) error {
	return fmt.Errorf("%s - %s %s from state %s: %w", instanceLogPrefix, module, op, from, ErrInvalidTransition)
}

// InitError reports a module whose init returned a nonzero status.
type InitError struct {
	Module     string
	Status     int
	Diagnostic string
}

func (e *InitError) Error() string {
	if e.Diagnostic == "" {
		return fmt.Sprintf("module %s init failed with status %d", e.Module, e.Status)
	}
	return fmt.Sprintf("module %s init failed with status %d: %s", e.Module, e.Status, e.Diagnostic)
}
