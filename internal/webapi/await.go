package webapi

import (
	"errors"
	"fmt"
	"time"

	"github.com/cryguy/prerender/internal/core"
	"github.com/cryguy/prerender/internal/eventloop"
)

// ErrAwaitTimeout is returned when a promise does not settle by the deadline.
var ErrAwaitTimeout = errors.New("promise resolution timed out")

// JSError is a rejection or exception raised by script code.
type JSError struct {
	Name    string
	Message string
	Stack   string
}

func (e *JSError) Error() string {
	if e.Name == "" {
		return e.Message
	}
	return e.Name + ": " + e.Message
}

// describeJS renders the error-ish value at expr as {name, message, stack}.
func describeJS(rt core.JSRuntime, expr string) *JSError {
	var e JSError
	e.Name, _ = rt.EvalString(fmt.Sprintf(
		"(function(v){ return (v && v.name) ? String(v.name) : ''; })(%s)", expr))
	e.Message, _ = rt.EvalString(fmt.Sprintf(
		"(function(v){ return (v && v.message !== undefined) ? String(v.message) : String(v); })(%s)", expr))
	e.Stack, _ = rt.EvalString(fmt.Sprintf(
		"(function(v){ return (v && v.stack) ? String(v.stack) : ''; })(%s)", expr))
	return &e
}

// AwaitValue waits for the promise stored in globalThis[globalVar] to
// settle, pumping microtasks and the event loop, and replaces the global
// with the resolved value. Non-promise values are left untouched.
func AwaitValue(rt core.JSRuntime, globalVar string, deadline time.Time, el *eventloop.EventLoop) error {
	isPromise, err := rt.EvalBool(fmt.Sprintf(
		"(function(v){ return v !== null && typeof v === 'object' && typeof v.then === 'function'; })(globalThis[%q])", globalVar))
	if err != nil || !isPromise {
		return nil
	}

	if err := rt.Eval(fmt.Sprintf(`
		delete globalThis.__awaited_result;
		delete globalThis.__awaited_state;
		Promise.resolve(globalThis[%q]).then(
			function(r) { globalThis.__awaited_result = r; globalThis.__awaited_state = 'fulfilled'; },
			function(e) { globalThis.__awaited_result = e; globalThis.__awaited_state = 'rejected'; }
		);`, globalVar)); err != nil {
		return fmt.Errorf("awaiting %s: %w", globalVar, err)
	}

	var state string
	for {
		rt.RunMicrotasks()
		if el != nil && el.HasPending() {
			slice := time.Now().Add(10 * time.Millisecond)
			if slice.After(deadline) {
				slice = deadline
			}
			el.Drain(rt, slice)
			rt.RunMicrotasks()
		}

		state, err = rt.EvalString("String(globalThis.__awaited_state)")
		if err != nil {
			return fmt.Errorf("checking promise state: %w", err)
		}
		if state != "undefined" {
			break
		}
		if time.Now().After(deadline) {
			return ErrAwaitTimeout
		}
		if el == nil || !el.HasPending() {
			// Idle: nothing queued on this VM.
			time.Sleep(time.Millisecond)
		}
	}

	defer func() { _ = rt.Eval("delete globalThis.__awaited_result; delete globalThis.__awaited_state;") }()
	if state == "rejected" {
		return describeJS(rt, "globalThis.__awaited_result")
	}
	return rt.Eval(fmt.Sprintf("globalThis[%q] = globalThis.__awaited_result;", globalVar))
}

// EvalError converts an exception returned by Eval into a *JSError when the
// engine did not already produce one.
func EvalError(err error) error {
	if err == nil {
		return nil
	}
	var je *JSError
	if errors.As(err, &je) {
		return err
	}
	return &JSError{Message: err.Error()}
}
