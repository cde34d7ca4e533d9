// Package render runs a server bundle inside one JS VM and renders routes
// with it. A Worker evaluates the bundle once and then serves one render
// at a time until it is closed or tainted by a timeout.
package render

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cryguy/prerender/internal/core"
	"github.com/cryguy/prerender/internal/critical"
	"github.com/cryguy/prerender/internal/eventloop"
	"github.com/cryguy/prerender/internal/webapi"
	"go.uber.org/zap"
)

// Kind is the shape of the application bootstrap export.
type Kind int

const (
	// KindApplication is a bootstrap function rendered with renderApplication.
	KindApplication Kind = iota
	// KindModule is a legacy module type rendered with renderModule.
	KindModule
)

func (k Kind) String() string {
	if k == KindModule {
		return "module"
	}
	return "application"
}

// WorkerConfig is the one-time initialization of a Worker.
type WorkerConfig struct {
	NewRuntime core.RuntimeFactory
	// Script is the bundled server code; evaluating it must set the
	// bundle exports global.
	Script   string
	Document string
	// CSSFiles holds browser stylesheets by file name for critical CSS.
	CSSFiles          map[string]string
	InlineCriticalCSS bool
	// Transport serves fetch calls from application code.
	Transport http.RoundTripper
	BaseURL   string
	Engine    core.EngineConfig
	Logger    *zap.Logger
}

// Worker owns one VM with the server bundle loaded.
type Worker struct {
	cfg  WorkerConfig
	vm   core.VM
	el   *eventloop.EventLoop
	kind Kind
	log  *zap.Logger

	route     string // route being rendered, for console output
	tainted   atomic.Bool
	closeOnce sync.Once
}

// NewWorker creates a VM, installs the prelude and evaluates the bundle.
func NewWorker(cfg WorkerConfig) (*Worker, error) {
	if cfg.NewRuntime == nil {
		return nil, errors.New("render: no runtime factory")
	}
	cfg.Engine = cfg.Engine.WithDefaults()
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	vm, err := cfg.NewRuntime(cfg.Engine.MemoryLimitMB)
	if err != nil {
		return nil, fmt.Errorf("creating VM: %w", err)
	}
	w := &Worker{cfg: cfg, vm: vm, el: eventloop.New(), log: cfg.Logger}

	if err := w.init(); err != nil {
		vm.Close()
		return nil, err
	}
	return w, nil
}

func (w *Worker) init() error {
	err := webapi.Setup(w.vm, w.el, webapi.Config{
		Transport:        w.cfg.Transport,
		FetchTimeout:     w.cfg.Engine.FetchTimeout,
		MaxResponseBytes: w.cfg.Engine.MaxResponseBytes,
		Console:          w.console,
	})
	if err != nil {
		return fmt.Errorf("installing prelude: %w", err)
	}
	if err := w.vm.SetGlobal("__prerender_document", w.cfg.Document); err != nil {
		return fmt.Errorf("setting document: %w", err)
	}

	watchdog := time.AfterFunc(w.cfg.Engine.RenderTimeout, w.vm.Interrupt)
	defer watchdog.Stop()

	if err := w.vm.Eval(w.cfg.Script); err != nil {
		return fmt.Errorf("evaluating server bundle: %w", webapi.EvalError(err))
	}
	if err := w.vm.Eval(glueJS); err != nil {
		return fmt.Errorf("loading server bundle exports: %w", webapi.EvalError(err))
	}
	kind, err := w.vm.EvalString("globalThis.__prerender_kind")
	if err != nil {
		return fmt.Errorf("probing bootstrap: %w", err)
	}
	if kind == "module" {
		w.kind = KindModule
	}
	// Module-level timers and fetches started by the bundle are not part
	// of any render.
	w.el.Reset()
	w.log.Debug("worker ready", zap.Stringer("bootstrap", w.kind))
	return nil
}

func (w *Worker) console(level, message string) {
	log := w.log.With(zap.String("route", w.route))
	switch level {
	case "error":
		log.Error(message)
	case "warn":
		log.Warn(message)
	default:
		log.Debug(message, zap.String("level", level))
	}
}

// Kind reports how the bootstrap export is rendered.
func (w *Worker) Kind() Kind { return w.kind }

// Tainted reports whether the VM was interrupted. A tainted worker must be
// closed and replaced.
func (w *Worker) Tainted() bool { return w.tainted.Load() }

// Render produces the HTML for task.Route. A render that does not finish
// within the configured timeout fails with *core.RenderTimeoutError and
// taints the worker. Content is nil when the application rendered nothing.
func (w *Worker) Render(ctx context.Context, task core.RenderTask) (core.RenderResult, error) {
	res := core.RenderResult{Route: task.Route}
	if task.RedirectTo != "" {
		page := RedirectPage(task.RedirectTo)
		res.Content = &page
		return res, nil
	}
	if task.ServerContext == "" {
		task.ServerContext = core.ContextSSG
	}

	if err := w.vm.SetGlobal("__prerender_url", w.cfg.BaseURL+task.Route); err != nil {
		return res, err
	}
	if err := w.vm.SetGlobal("__prerender_ctx", string(task.ServerContext)); err != nil {
		return res, err
	}

	w.route = task.Route
	defer func() { w.route = "" }()

	start := time.Now()
	empty, page, err := w.await(ctx, "__prerender_render(__prerender_url, __prerender_ctx)", "__prerender_result")
	if err != nil {
		return res, err
	}
	w.log.Debug("rendered", zap.String("route", task.Route), zap.Duration("took", time.Since(start)))
	if empty {
		return res, nil
	}

	if w.cfg.InlineCriticalCSS {
		page, err = critical.Inline(page, w.cfg.CSSFiles)
		if err != nil {
			return res, fmt.Errorf("inlining critical css: %w", err)
		}
	}
	res.Content = &page
	return res, nil
}

// Call evaluates expr, waits for it if it is a promise, and returns the
// settled value as JSON. It shares the render timeout.
func (w *Worker) Call(ctx context.Context, expr string) (string, error) {
	_, out, err := w.await(ctx, "(function(v){ return Promise.resolve(v).then(function(r){ return JSON.stringify(r === undefined ? null : r); }); })("+expr+")", "__prerender_call")
	return out, err
}

// ExtractRoutes asks the application for its route tree, rendered as if
// the page were served from url. The tree is returned as JSON.
func (w *Worker) ExtractRoutes(ctx context.Context, url string) (string, error) {
	return w.Call(ctx, "__prerender_extract("+JSString(url)+")")
}

// await runs expr under the watchdog, stores its value in global and
// waits for it to settle. empty reports a null or undefined result.
func (w *Worker) await(ctx context.Context, expr, global string) (empty bool, out string, err error) {
	if w.tainted.Load() {
		return false, "", errors.New("render: worker is tainted")
	}

	timeout := w.cfg.Engine.RenderTimeout
	deadline := time.Now().Add(timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	var fired atomic.Bool
	interrupt := func() {
		fired.Store(true)
		w.tainted.Store(true)
		w.vm.Interrupt()
	}
	// Async work is bounded by the deadline below; the watchdog catches
	// synchronous loops that never yield.
	watchdog := time.AfterFunc(time.Until(deadline)+time.Second, interrupt)
	defer watchdog.Stop()
	stop := context.AfterFunc(ctx, interrupt)
	defer stop()

	defer func() {
		_ = w.vm.Eval("delete globalThis." + global + ";")
		w.el.Reset()
	}()

	if err := w.vm.Eval("globalThis." + global + " = " + expr + ";"); err != nil {
		return false, "", w.failure(ctx, &fired, timeout, webapi.EvalError(err))
	}
	if err := webapi.AwaitValue(w.vm, global, deadline, w.el); err != nil {
		return false, "", w.failure(ctx, &fired, timeout, err)
	}

	empty, err = w.vm.EvalBool("globalThis." + global + " == null")
	if err != nil {
		return false, "", w.failure(ctx, &fired, timeout, err)
	}
	if empty {
		return true, "", nil
	}
	out, err = w.vm.EvalString("String(globalThis." + global + ")")
	if err != nil {
		return false, "", w.failure(ctx, &fired, timeout, err)
	}
	return false, out, nil
}

func (w *Worker) failure(ctx context.Context, fired *atomic.Bool, timeout time.Duration, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if fired.Load() || errors.Is(err, webapi.ErrAwaitTimeout) {
		w.tainted.Store(true)
		return &core.RenderTimeoutError{Route: w.route, Timeout: timeout}
	}
	return err
}

// Close releases the VM.
func (w *Worker) Close() {
	w.closeOnce.Do(w.vm.Close)
}
