package snes

import (
	"errors"
	"fmt"
)

var ErrDeviceDisconnected = errors.New("device disconnected")

// TerminalError marks a failure after which the bridge connection cannot be reused.
type TerminalError struct {
	wrapped error
}

func NewTerminalError(err error) *TerminalError { return &TerminalError{wrapped: err} }

func (e *TerminalError) Unwrap() error { return e.wrapped }
func (e *TerminalError) Error() string {
	if e.wrapped == nil {
		return "snes bridge terminal error"
	}
	return fmt.Sprintf("snes bridge terminal error: %v", e.wrapped)
}

// IsTerminal reports whether err requires dropping the bridge connection.
func IsTerminal(err error) bool {
	var t *TerminalError
	return errors.As(err, &t) || errors.Is(err, ErrDeviceDisconnected)
}
