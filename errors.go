package jstimer

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidArgument is matched (via [errors.Is]) by every error
	// returned for a nil routine, or a negative delay, interval or timeout.
	// Nothing is scheduled when it is returned.
	ErrInvalidArgument = errors.New("jstimer: invalid argument")

	// ErrIllegalState indicates a [Registry] that was not initialized via
	// [New], i.e. there is no id source to mint a [RoutineID] from.
	ErrIllegalState = errors.New("jstimer: registry not initialized")

	// ErrClosed is returned when registering work with a [Registry] after
	// [Registry.Close] or [Registry.Shutdown].
	ErrClosed = errors.New("jstimer: registry closed")
)

// ArgumentError describes a rejected argument. It unwraps to
// [ErrInvalidArgument].
type ArgumentError struct {
	// Op is the operation that rejected the argument, e.g. "SetTimeout".
	Op string
	// Arg is the name of the offending argument.
	Arg string
	// Reason is a short, human-readable description.
	Reason string
}

// Error implements the error interface.
func (e *ArgumentError) Error() string {
	return fmt.Sprintf("jstimer: %s: invalid argument %s: %s", e.Op, e.Arg, e.Reason)
}

// Unwrap returns [ErrInvalidArgument].
func (e *ArgumentError) Unwrap() error {
	return ErrInvalidArgument
}

func nilRoutineError(op string) error {
	return &ArgumentError{Op: op, Arg: "routine", Reason: "cannot be nil"}
}

func negativeError(op, arg string) error {
	return &ArgumentError{Op: op, Arg: arg, Reason: "cannot be negative"}
}
