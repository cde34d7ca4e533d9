package routes

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/cryguy/prerender/internal/assetfetch"
	"github.com/cryguy/prerender/internal/core"
	"github.com/cryguy/prerender/internal/metrics"
	"github.com/cryguy/prerender/internal/render"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
)

// Extractor is the single worker discovery runs on. *render.Worker
// satisfies it.
type Extractor interface {
	ExtractRoutes(ctx context.Context, url string) (string, error)
	Close()
}

// ExtractorFactory creates an Extractor whose fetch calls go through
// transport and whose pages are served from baseURL.
type ExtractorFactory func(baseURL string, transport http.RoundTripper) (Extractor, error)

// DiscoverConfig configures Discover.
type DiscoverConfig struct {
	AppShellRoute string
	RoutesFile    string
	// Discover asks the application for its route tree.
	Discover bool

	// Assets and Files are served to the application during discovery.
	Assets map[string]string
	Files  map[string][]byte

	NewExtractor ExtractorFactory
	Metrics      *metrics.Recorder
	Logger       *zap.Logger
}

// Discovery is the route set to render.
type Discovery struct {
	Tasks    []core.RenderTask
	Warnings []string
	Errors   []string
}

// Routes returns the route of every task.
func (d *Discovery) Routes() []string {
	out := make([]string, 0, len(d.Tasks))
	for _, t := range d.Tasks {
		out = append(out, t.Route)
	}
	return out
}

// Render modes reported in a route tree.
const (
	ModeServer    = "server"
	ModeClient    = "client"
	ModePrerender = "prerender"
)

// RenderMode accepts both the string and the numeric enum form.
type RenderMode string

func (m *RenderMode) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		*m = RenderMode(strings.ToLower(s))
		return nil
	}
	var n int
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("render mode: %s", b)
	}
	switch n {
	case 0:
		*m = ModeServer
	case 1:
		*m = ModeClient
	case 2:
		*m = ModePrerender
	default:
		return fmt.Errorf("unknown render mode %d", n)
	}
	return nil
}

// TreeEntry is one route reported by the application.
type TreeEntry struct {
	Route      string     `json:"route"`
	RenderMode RenderMode `json:"renderMode,omitempty"`
	RedirectTo string     `json:"redirectTo,omitempty"`
}

// Tree is the route extraction result.
type Tree struct {
	Routes   []TreeEntry `json:"routes"`
	Errors   []string    `json:"errors,omitempty"`
	Warnings []string    `json:"warnings,omitempty"`
}

// Discover seeds the route set with the app shell and the routes file,
// then merges the routes the application reports when cfg.Discover is set.
func Discover(ctx context.Context, cfg DiscoverConfig) (*Discovery, error) {
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}

	set := NewSet()
	d := &Discovery{Warnings: []string{}, Errors: []string{}}
	if cfg.AppShellRoute != "" {
		set.Add(cfg.AppShellRoute)
	}
	if cfg.RoutesFile != "" {
		lines, err := ReadRoutesFile(cfg.RoutesFile)
		if err != nil {
			return nil, err
		}
		for _, r := range lines {
			set.Add(r)
		}
	}

	redirects := map[string]string{}
	if cfg.Discover {
		tree, err := extract(ctx, cfg, log)
		if err != nil {
			return nil, err
		}
		d.Errors = append(d.Errors, tree.Errors...)
		d.Warnings = append(d.Warnings, tree.Warnings...)
		for _, e := range tree.Routes {
			route := core.NormalizeRoute(e.Route)
			switch e.RenderMode {
			case ModeServer, ModeClient:
				log.Debug("route not prerendered", zap.String("route", route), zap.String("mode", string(e.RenderMode)))
				continue
			}
			if isParameterized(route) {
				d.Warnings = append(d.Warnings, fmt.Sprintf("Route '%s' has parameters and cannot be prerendered; it was skipped.", route))
				continue
			}
			if e.RedirectTo != "" {
				redirects[route] = e.RedirectTo
			}
			set.Add(route)
		}
	}

	shell := ""
	if cfg.AppShellRoute != "" {
		shell = core.NormalizeRoute(cfg.AppShellRoute)
	}
	for _, route := range set.Sorted() {
		task := core.RenderTask{Route: route, ServerContext: core.ContextSSG, RedirectTo: redirects[route]}
		if route == shell {
			task.ServerContext = core.ContextAppShell
			task.RedirectTo = ""
		}
		d.Tasks = append(d.Tasks, task)
	}
	cfg.Metrics.SetDiscovered(len(d.Tasks))
	log.Debug("routes discovered", zap.Int("count", len(d.Tasks)))
	return d, nil
}

func isParameterized(route string) bool {
	for _, seg := range strings.Split(route, "/") {
		if strings.HasPrefix(seg, ":") || seg == "**" || seg == "*" {
			return true
		}
	}
	return false
}

func extract(ctx context.Context, cfg DiscoverConfig, log *zap.Logger) (*Tree, error) {
	if cfg.NewExtractor == nil {
		return nil, errors.New("route discovery requested without an extractor")
	}

	baseURL := render.DefaultBaseURL
	if len(cfg.Assets)+len(cfg.Files) > 0 {
		srv, origin, err := listen(cfg, log)
		if err != nil {
			return nil, err
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
		baseURL = origin
	}

	tr, err := assetfetch.New(assetfetch.Config{
		BaseURL: baseURL,
		Assets:  cfg.Assets,
		Files:   cfg.Files,
		Logger:  log,
	})
	if err != nil {
		return nil, err
	}

	w, err := cfg.NewExtractor(baseURL, tr)
	if err != nil {
		return nil, fmt.Errorf("starting route discovery worker: %w", err)
	}
	defer w.Close()

	out, err := w.ExtractRoutes(ctx, baseURL+"/")
	if err != nil {
		return nil, fmt.Errorf("extracting routes: %w", err)
	}
	var tree Tree
	if err := json.Unmarshal([]byte(out), &tree); err != nil {
		return nil, fmt.Errorf("decoding route tree: %w", err)
	}
	return &tree, nil
}

// listen serves the assets on an ephemeral loopback port for application
// code that resolves route parameters over the network.
func listen(cfg DiscoverConfig, log *zap.Logger) (*http.Server, string, error) {
	assets, err := assetfetch.New(assetfetch.Config{Assets: cfg.Assets, Files: cfg.Files, Logger: log})
	if err != nil {
		return nil, "", err
	}
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Handle("/*", assets)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, "", fmt.Errorf("starting asset listener: %w", err)
	}
	srv := &http.Server{Handler: r, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Warn("asset listener stopped", zap.Error(err))
		}
	}()
	origin := "http://" + ln.Addr().String()
	log.Debug("asset listener started", zap.String("origin", origin))
	return srv, origin, nil
}
