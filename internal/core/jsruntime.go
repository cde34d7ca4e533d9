package core

// JSRuntime abstracts the JavaScript engine (V8 or QuickJS) behind a
// common interface used by the prelude in internal/webapi, the event loop
// in internal/eventloop and the render workers.
type JSRuntime interface {
	// Eval evaluates JavaScript source and discards the result.
	Eval(js string) error

	// EvalString evaluates JavaScript and returns the result as a Go string.
	EvalString(js string) (string, error)

	// EvalBool evaluates JavaScript and returns the result as a Go bool.
	EvalBool(js string) (bool, error)

	// EvalInt evaluates JavaScript and returns the result as a Go int.
	EvalInt(js string) (int, error)

	// RegisterFunc registers a Go function as a global JavaScript function.
	// On error return, the JS wrapper throws instead of returning a value.
	RegisterFunc(name string, fn any) error

	// SetGlobal sets a global variable on the JS context. Basic Go types
	// (string, int, float64, bool) are auto-converted to JS types.
	SetGlobal(name string, value any) error

	// RunMicrotasks pumps the microtask queue (Promise callbacks, etc.).
	RunMicrotasks()
}

// VM is a JSRuntime that owns its engine instance. Interrupt may be called
// from any goroutine; every other method must be called from the goroutine
// that drives the VM.
type VM interface {
	JSRuntime

	// Interrupt aborts the script currently running. A VM that was
	// interrupted must not be reused.
	Interrupt()

	// Close releases the engine instance.
	Close()
}

// RuntimeFactory creates a fresh VM. The root package selects the
// QuickJS or V8 factory through build tags.
type RuntimeFactory func(memoryLimitMB int) (VM, error)
