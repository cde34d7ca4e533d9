// Package child is the renderer process. It receives the configuration
// from the orchestrator, discovers routes, renders them on a worker pool
// and reports the merged result.
package child

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"runtime/debug"
	"time"

	"github.com/cryguy/prerender/internal/assetfetch"
	"github.com/cryguy/prerender/internal/core"
	"github.com/cryguy/prerender/internal/logger"
	"github.com/cryguy/prerender/internal/metrics"
	"github.com/cryguy/prerender/internal/pool"
	"github.com/cryguy/prerender/internal/protocol"
	"github.com/cryguy/prerender/internal/render"
	"github.com/cryguy/prerender/internal/routes"
	"github.com/cryguy/prerender/internal/vfs"
	"go.uber.org/zap"
)

// NoRoutesWarning is reported when the route set is empty.
const NoRoutesWarning = "No routes found to prerender."

// Deps are the collaborators Serve cannot get from the payload.
type Deps struct {
	NewRuntime core.RuntimeFactory
	// Linker prepares on-disk framework modules. Defaults to
	// vfs.ESBuildLinker.
	Linker vfs.Linker
	// Logger defaults to a stderr logger at the payload's verbosity.
	Logger *zap.Logger
}

// Serve runs one prerender exchange over r and w. It returns after the
// READY or ERROR message was sent; a non-nil error means the run failed.
func Serve(ctx context.Context, r io.Reader, w io.Writer, deps Deps) error {
	conn := protocol.NewConn(r, w)
	var m protocol.Machine

	if err := send(conn, &m, protocol.TypeStart, nil); err != nil {
		return err
	}
	msg, err := conn.Receive()
	if err != nil {
		return fmt.Errorf("waiting for configuration: %w", err)
	}
	if err := m.Observe(msg.Type); err != nil {
		return fail(conn, &m, err)
	}
	if msg.Type != protocol.TypeConfig {
		// The orchestrator reported its own failure.
		return fmt.Errorf("orchestrator sent %s", msg.Type)
	}
	var payload core.Payload
	if err := msg.Decode(&payload); err != nil {
		return fail(conn, &m, err)
	}

	log := deps.Logger
	if log == nil {
		log, err = logger.New(logger.Config{Level: logger.Level(payload.Verbose), Encoding: "console"})
		if err != nil {
			log = zap.NewNop()
		}
		defer func() { _ = log.Sync() }()
	}

	result, err := safeRun(ctx, &payload, deps, log)
	if err != nil {
		log.Error("prerender failed", zap.Error(err))
		return fail(conn, &m, err)
	}
	return send(conn, &m, protocol.TypeReady, result)
}

func send(conn *protocol.Conn, m *protocol.Machine, t protocol.MessageType, data any) error {
	if err := m.Observe(t); err != nil {
		return err
	}
	return conn.Send(t, data)
}

func fail(conn *protocol.Conn, m *protocol.Machine, err error) error {
	if sendErr := send(conn, m, protocol.TypeError, core.ToErrorPayload(err)); sendErr != nil {
		return fmt.Errorf("%w (reporting failed: %v)", err, sendErr)
	}
	return err
}

func safeRun(ctx context.Context, p *core.Payload, deps Deps, log *zap.Logger) (result *core.Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &core.ChildError{Name: "panic", Message: fmt.Sprint(r), Stack: string(debug.Stack())}
		}
	}()
	return run(ctx, p, deps, log)
}

func run(ctx context.Context, p *core.Payload, deps Deps, log *zap.Logger) (*core.Result, error) {
	if deps.NewRuntime == nil {
		return nil, errors.New("child: no runtime factory")
	}
	root := p.WorkspaceRoot
	if root == "" {
		wd, err := os.Getwd()
		if err != nil {
			return nil, err
		}
		root = wd
	}

	loader, err := vfs.NewLoader(root, vfs.NewFileMap(p.ServerFiles), deps.Linker)
	if err != nil {
		return nil, err
	}
	start := time.Now()
	script, err := loader.Bundle(vfs.BundleOptions{Sourcemap: p.Sourcemap})
	if err != nil {
		return nil, err
	}
	log.Debug("server bundle linked", zap.Int("modules", loader.Files().Len()), zap.Duration("took", time.Since(start)))

	engineCfg := core.EngineConfig{
		MaxThreads:    p.MaxThreads,
		MemoryLimitMB: p.MemoryLimitMB,
		RenderTimeout: time.Duration(p.RenderTimeout) * time.Millisecond,
	}.WithDefaults()
	rec := metrics.New()

	newWorker := func(baseURL string, tr http.RoundTripper) (*render.Worker, error) {
		return render.NewWorker(render.WorkerConfig{
			NewRuntime:        deps.NewRuntime,
			Script:            script,
			Document:          p.Document,
			CSSFiles:          p.CSSOutputFiles,
			InlineCriticalCSS: p.InlineCriticalCSS,
			Transport:         tr,
			BaseURL:           baseURL,
			Engine:            engineCfg,
			Logger:            log.Named("worker"),
		})
	}

	d, err := routes.Discover(ctx, routes.DiscoverConfig{
		AppShellRoute: p.AppShellOptions.Route,
		RoutesFile:    p.PrerenderOptions.RoutesFile,
		Discover:      p.PrerenderOptions.DiscoverRoutes,
		Assets:        p.Assets,
		Files:         p.BrowserFiles,
		NewExtractor: func(baseURL string, tr http.RoundTripper) (routes.Extractor, error) {
			w, err := newWorker(baseURL, tr)
			if err != nil {
				return nil, err
			}
			return w, nil
		},
		Metrics: rec,
		Logger:  log.Named("routes"),
	})
	if err != nil {
		return nil, err
	}

	result := core.NewResult()
	result.Warnings = append(result.Warnings, d.Warnings...)
	result.Errors = append(result.Errors, d.Errors...)

	if len(d.Tasks) == 0 {
		result.Warnings = append(result.Warnings, NoRoutesWarning)
	} else {
		rendered, err := renderAll(ctx, p, d.Tasks, engineCfg, rec, log, newWorker)
		if err != nil {
			return nil, err
		}
		for k, v := range rendered.Output {
			result.Output[k] = v
		}
		result.Warnings = append(result.Warnings, rendered.Warnings...)
		result.Errors = append(result.Errors, rendered.Errors...)
		result.PrerenderedRoutes = rendered.PrerenderedRoutes
	}

	if p.MetricsFile != "" {
		if err := rec.WriteFile(p.MetricsFile); err != nil {
			result.Warnings = append(result.Warnings, fmt.Sprintf("Writing metrics to %s failed: %v", p.MetricsFile, err))
		}
	}
	log.Info("prerender finished",
		zap.Int("routes", len(d.Tasks)),
		zap.Int("rendered", len(result.PrerenderedRoutes)),
		zap.Int("errors", len(result.Errors)),
		zap.Duration("took", time.Since(start)))
	return result, nil
}

func renderAll(
	ctx context.Context,
	p *core.Payload,
	tasks []core.RenderTask,
	engineCfg core.EngineConfig,
	rec *metrics.Recorder,
	log *zap.Logger,
	newWorker func(string, http.RoundTripper) (*render.Worker, error),
) (*core.Result, error) {
	factory := func() (pool.Renderer, error) {
		tr, err := assetfetch.New(assetfetch.Config{
			BaseURL: render.DefaultBaseURL,
			Assets:  p.Assets,
			Files:   p.BrowserFiles,
			Logger:  log.Named("assets"),
		})
		if err != nil {
			return nil, err
		}
		w, err := newWorker(render.DefaultBaseURL, tr)
		if err != nil {
			return nil, err
		}
		return w, nil
	}

	workers, err := pool.New(ctx, pool.Size(len(tasks), engineCfg.MaxThreads), factory, pool.Options{
		Metrics: rec,
		Logger:  log.Named("pool"),
	})
	if err != nil {
		return nil, err
	}
	defer workers.Close()
	return workers.Render(ctx, tasks), nil
}
