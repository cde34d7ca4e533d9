// Package webapi installs the small web-platform prelude that server
// bundles expect when they render outside a browser: console, timers,
// base64 and UTF-8 codecs, URL, Headers/Request/Response and fetch.
//
// Every capability a prelude touches outside the VM (the fetch transport,
// the console sink) is injected through Config, never read from globals.
package webapi

import (
	"fmt"
	"net/http"
	"time"

	"github.com/cryguy/prerender/internal/core"
	"github.com/cryguy/prerender/internal/eventloop"
)

// SetupFunc installs one part of the prelude into a VM.
type SetupFunc func(rt core.JSRuntime, el *eventloop.EventLoop) error

// ConsoleSink receives console output from JS.
type ConsoleSink func(level, message string)

// Config carries the capabilities injected into one worker's prelude.
type Config struct {
	Transport        http.RoundTripper // used by fetch; http.DefaultTransport when nil
	FetchTimeout     time.Duration
	MaxResponseBytes int
	Console          ConsoleSink // console output is dropped when nil
}

// SetupFuncs returns the prelude in installation order.
func SetupFuncs(cfg Config) []SetupFunc {
	return []SetupFunc{
		SetupGlobals,
		SetupEncoding,
		SetupURL,
		SetupHTTP,
		SetupTimers,
		func(rt core.JSRuntime, el *eventloop.EventLoop) error {
			return SetupConsole(rt, cfg.Console)
		},
		func(rt core.JSRuntime, el *eventloop.EventLoop) error {
			return SetupFetch(rt, el, cfg)
		},
	}
}

// Setup installs the full prelude.
func Setup(rt core.JSRuntime, el *eventloop.EventLoop, cfg Config) error {
	for i, setup := range SetupFuncs(cfg) {
		if err := setup(rt, el); err != nil {
			return fmt.Errorf("prelude step %d: %w", i, err)
		}
	}
	return nil
}

const globalsJS = `
(function() {
	if (typeof globalThis.self === 'undefined') globalThis.self = globalThis;
	if (typeof globalThis.queueMicrotask !== 'function') {
		globalThis.queueMicrotask = function(fn) { Promise.resolve().then(fn); };
	}
	if (typeof globalThis.structuredClone !== 'function') {
		globalThis.structuredClone = function(v) {
			return v === undefined ? undefined : JSON.parse(JSON.stringify(v));
		};
	}
	var origin = __nowMillis();
	globalThis.performance = globalThis.performance || {};
	globalThis.performance.now = function() { return __nowMillis() - origin; };
	globalThis.performance.mark = globalThis.performance.mark || function() {};
	globalThis.performance.measure = globalThis.performance.measure || function() {};
})();
`

// SetupGlobals installs self, queueMicrotask, structuredClone and performance.
func SetupGlobals(rt core.JSRuntime, _ *eventloop.EventLoop) error {
	if err := rt.RegisterFunc("__nowMillis", func() float64 {
		return float64(time.Now().UnixNano()) / 1e6
	}); err != nil {
		return err
	}
	return rt.Eval(globalsJS)
}
