package core

import (
	"errors"
	"fmt"
	"time"
)

// ErrMissingStylesheet is returned when a page references a stylesheet
// that is not among the browser output files.
var ErrMissingStylesheet = errors.New("stylesheet not found in browser output")

// AssertionError reports an inconsistency between the bundle and the
// virtual module loader. It is never a user error.
type AssertionError struct {
	Msg string
}

func (e *AssertionError) Error() string { return "assertion failed: " + e.Msg }

// Assertf builds an AssertionError.
func Assertf(format string, args ...any) error {
	return &AssertionError{Msg: fmt.Sprintf(format, args...)}
}

// ProtocolViolation reports a message that is not valid in the current
// protocol state.
type ProtocolViolation struct {
	State string
	Type  string
}

func (e *ProtocolViolation) Error() string {
	return fmt.Sprintf("protocol violation: unexpected message %q in state %s", e.Type, e.State)
}

// RenderTimeoutError is returned when a page does not render in time.
type RenderTimeoutError struct {
	Route   string
	Timeout time.Duration
}

func (e *RenderTimeoutError) Error() string {
	return fmt.Sprintf("Page %s did not render in %s.", e.Route, humanDuration(e.Timeout))
}

func humanDuration(d time.Duration) string {
	if d > 0 && d%time.Second == 0 {
		return fmt.Sprintf("%d seconds", int(d/time.Second))
	}
	return d.String()
}

// ChildError is an error reconstructed from an ERROR message.
type ChildError struct {
	Name    string
	Message string
	Stack   string
}

func (e *ChildError) Error() string {
	if e.Name == "" || e.Name == "Error" {
		return e.Message
	}
	return e.Name + ": " + e.Message
}

// ToErrorPayload flattens err for transfer to the orchestrator.
func ToErrorPayload(err error) ErrorPayload {
	var ce *ChildError
	if errors.As(err, &ce) {
		return ErrorPayload{Name: ce.Name, Message: ce.Message, Stack: ce.Stack}
	}
	name := "Error"
	var ae *AssertionError
	var te *RenderTimeoutError
	switch {
	case errors.As(err, &ae):
		name = "AssertionError"
	case errors.As(err, &te):
		name = "TimeoutError"
	}
	return ErrorPayload{Name: name, Message: err.Error()}
}

// FromErrorPayload rebuilds the error carried by p.
func FromErrorPayload(p ErrorPayload) *ChildError {
	return &ChildError{Name: p.Name, Message: p.Message, Stack: p.Stack}
}
