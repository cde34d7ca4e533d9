// Package pool renders routes in parallel on a fixed set of render
// workers. Every task settles on its own: a failed route is recorded in
// the result and never aborts the routes rendering beside it.
package pool

import (
	"context"
	"errors"
	"fmt"
	"path"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/cryguy/prerender/internal/core"
	"github.com/cryguy/prerender/internal/metrics"
	"go.uber.org/zap"
)

// Renderer is one worker. *render.Worker satisfies it.
type Renderer interface {
	Render(ctx context.Context, task core.RenderTask) (core.RenderResult, error)
	// Tainted reports that the worker must not serve another task.
	Tainted() bool
	Close()
}

// Factory creates an initialized worker.
type Factory func() (Renderer, error)

// Options tunes a Pool.
type Options struct {
	Metrics *metrics.Recorder
	Logger  *zap.Logger
}

// slot holds a worker, or nil when the worker was discarded and a
// replacement is created on the next acquire.
type slot struct {
	w Renderer
}

// Pool is a fixed-size set of workers.
type Pool struct {
	slots   chan slot
	size    int
	factory Factory
	metrics *metrics.Recorder
	log     *zap.Logger

	closeOnce sync.Once
}

// Size returns the worker count for n routes: min(n, maxThreads), at
// least one.
func Size(n, maxThreads int) int {
	if maxThreads < 1 {
		maxThreads = 1
	}
	return max(1, min(n, maxThreads))
}

// New creates size workers up front.
func New(ctx context.Context, size int, factory Factory, opts Options) (*Pool, error) {
	if size < 1 {
		size = 1
	}
	p := &Pool{
		slots:   make(chan slot, size),
		size:    size,
		factory: factory,
		metrics: opts.Metrics,
		log:     opts.Logger,
	}
	if p.log == nil {
		p.log = zap.NewNop()
	}

	for i := 0; i < size; i++ {
		if err := ctx.Err(); err != nil {
			p.Close()
			return nil, err
		}
		w, err := factory()
		if err != nil {
			p.Close()
			return nil, fmt.Errorf("creating render worker %d: %w", i, err)
		}
		p.slots <- slot{w: w}
	}
	p.metrics.SetWorkers(size)
	p.log.Debug("render pool ready", zap.Int("workers", size))
	return p, nil
}

func (p *Pool) get(ctx context.Context) (Renderer, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var s slot
	select {
	case s = <-p.slots:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	if s.w != nil {
		return s.w, nil
	}
	w, err := p.factory()
	if err != nil {
		p.slots <- slot{}
		return nil, fmt.Errorf("replacing render worker: %w", err)
	}
	return w, nil
}

func (p *Pool) put(w Renderer) {
	if w.Tainted() {
		w.Close()
		p.metrics.WorkerReplaced()
		p.log.Debug("discarding tainted render worker")
		p.slots <- slot{}
		return
	}
	p.slots <- slot{w: w}
}

// Render runs every task and waits for all of them to settle. Output is
// keyed by OutputPath; failures land in Errors.
func (p *Pool) Render(ctx context.Context, tasks []core.RenderTask) *core.Result {
	result := core.NewResult()
	owners := make(map[string]core.RenderTask)
	var mu sync.Mutex
	var wg sync.WaitGroup

	settle := func(task core.RenderTask, res core.RenderResult, err error, took time.Duration) {
		mu.Lock()
		defer mu.Unlock()

		outcome := metrics.OutcomeOK
		result.Warnings = append(result.Warnings, res.Warnings...)
		result.Errors = append(result.Errors, res.Errors...)
		switch {
		case err != nil:
			outcome = metrics.OutcomeError
			var timeout *core.RenderTimeoutError
			if errors.As(err, &timeout) {
				outcome = metrics.OutcomeTimeout
			}
			result.Errors = append(result.Errors, RouteError(task.Route, err))
			p.log.Warn("route failed", zap.String("route", task.Route), zap.Error(err))
		case res.Content == nil:
			outcome = metrics.OutcomeEmpty
		default:
			out := OutputPath(task.Route, task.ServerContext == core.ContextAppShell)
			if prev, ok := owners[out]; ok {
				winner, loser := precedence(prev, task)
				result.Warnings = append(result.Warnings, fmt.Sprintf(
					"Routes '%s' and '%s' both write %s; the output of '%s' was kept.", winner.Route, loser.Route, out, winner.Route))
				if winner.Route == prev.Route {
					break
				}
				result.PrerenderedRoutes = slices.DeleteFunc(result.PrerenderedRoutes, func(r string) bool { return r == prev.Route })
			}
			owners[out] = task
			result.Output[out] = *res.Content
			result.PrerenderedRoutes = append(result.PrerenderedRoutes, task.Route)
		}
		p.metrics.ObserveRender(outcome, took)
	}

	for _, task := range tasks {
		w, err := p.get(ctx)
		if err != nil {
			settle(task, core.RenderResult{Route: task.Route}, err, 0)
			continue
		}
		wg.Add(1)
		go func(task core.RenderTask, w Renderer) {
			defer wg.Done()
			start := time.Now()
			res, err := w.Render(ctx, task)
			p.put(w)
			settle(task, res, err, time.Since(start))
		}(task, w)
	}
	wg.Wait()

	sort.Strings(result.PrerenderedRoutes)
	sort.Strings(result.Errors)
	return result
}

// Close destroys every idle worker. It must not be called while Render is
// running.
func (p *Pool) Close() {
	p.closeOnce.Do(func() {
		for {
			select {
			case s := <-p.slots:
				if s.w != nil {
					s.w.Close()
				}
			default:
				return
			}
		}
	})
}

// precedence orders two tasks writing the same file: the app shell wins,
// otherwise the lexically smaller route.
func precedence(a, b core.RenderTask) (winner, loser core.RenderTask) {
	aShell := a.ServerContext == core.ContextAppShell
	bShell := b.ServerContext == core.ContextAppShell
	switch {
	case aShell != bShell:
		if aShell {
			return a, b
		}
		return b, a
	case a.Route <= b.Route:
		return a, b
	default:
		return b, a
	}
}

// OutputPath is the file a route's HTML is written to. The app shell
// always goes to the root index.html.
func OutputPath(route string, appShell bool) string {
	if appShell {
		return "index.html"
	}
	return path.Join(strings.TrimPrefix(path.Clean("/"+route), "/"), "index.html")
}

// RouteError formats a per-route failure.
func RouteError(route string, err error) string {
	return fmt.Sprintf("An error occurred while prerendering route '%s'.\n%s", route, err)
}
