// Package prerender renders every route of a single-page application to
// static HTML at build time. Bundle output never touches disk: the server
// bundle is linked in memory and executed in a child process that owns a
// pool of JavaScript VMs.
//
// Programs that call Prerender must call MaybeRunChild first thing in main,
// since the default child is the program itself re-executed.
package prerender

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/cryguy/prerender/internal/child"
	"github.com/cryguy/prerender/internal/core"
	"github.com/cryguy/prerender/internal/engine"
	"github.com/cryguy/prerender/internal/orchestrator"
	"go.uber.org/zap"
)

type (
	// BuildOutputFile is one file produced by the bundler.
	BuildOutputFile = core.BuildOutputFile
	// BuildOutputAsset maps a request path onto a file on disk.
	BuildOutputAsset = core.BuildOutputAsset
	// FileKind tells browser output from server output.
	FileKind = core.FileKind
	// Result is the merged outcome of a run.
	Result = core.Result
	// ChildError is a failure reported by, or about, the child process.
	ChildError = core.ChildError
	// CommandFactory builds the child process command.
	CommandFactory = orchestrator.CommandFactory
)

const (
	KindBrowser = core.KindBrowser
	KindServer  = core.KindServer
)

// Engine is the compiled-in JavaScript engine, "quickjs" or "v8".
const Engine = engine.Name

// Options configures Prerender.
type Options struct {
	Files    []BuildOutputFile
	Assets   []BuildOutputAsset
	Document string

	AppShellRoute  string
	RoutesFile     string
	DiscoverRoutes bool

	Sourcemap         bool
	InlineCriticalCSS bool
	Verbose           bool
	MaxThreads        int
	WorkspaceRoot     string
	// RenderTimeout bounds each route. Zero means 30 seconds.
	RenderTimeout time.Duration
	MemoryLimitMB int
	MetricsFile   string

	// Command overrides how the child process is started.
	Command CommandFactory
	Logger  *zap.Logger
}

// Prerender renders the application described by opts in a child process.
// Route failures are reported in Result.Errors; a returned error means the
// run as a whole failed.
func Prerender(ctx context.Context, opts Options) (*Result, error) {
	return orchestrator.Run(ctx, orchestrator.Input{
		Files:             opts.Files,
		Assets:            opts.Assets,
		Document:          opts.Document,
		AppShellRoute:     opts.AppShellRoute,
		RoutesFile:        opts.RoutesFile,
		DiscoverRoutes:    opts.DiscoverRoutes,
		Sourcemap:         opts.Sourcemap,
		InlineCriticalCSS: opts.InlineCriticalCSS,
		Verbose:           opts.Verbose,
		MaxThreads:        opts.MaxThreads,
		WorkspaceRoot:     opts.WorkspaceRoot,
		RenderTimeout:     opts.RenderTimeout,
		MemoryLimitMB:     opts.MemoryLimitMB,
		MetricsFile:       opts.MetricsFile,
		Command:           opts.Command,
		Logger:            opts.Logger,
	})
}

// IsChild reports whether this process was started as the renderer child.
func IsChild() bool {
	return os.Getenv(orchestrator.ChildEnv) == "1"
}

// MaybeRunChild serves one prerender exchange over stdin and stdout and
// exits when the process is the renderer child. Otherwise it returns
// immediately.
func MaybeRunChild() {
	if !IsChild() {
		return
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := child.Serve(ctx, os.Stdin, os.Stdout, child.Deps{NewRuntime: engine.New})
	stop()
	if err != nil {
		os.Exit(1)
	}
	os.Exit(0)
}

// ReadDir loads every regular file under dir as build output of the given
// kind. Paths are relative to dir with forward slashes; .map files are
// flagged as source maps.
func ReadDir(dir string, kind FileKind) ([]BuildOutputFile, error) {
	var files []BuildOutputFile
	err := filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(dir, p)
		if err != nil {
			return err
		}
		b, err := os.ReadFile(p)
		if err != nil {
			return err
		}
		files = append(files, BuildOutputFile{
			Path:        filepath.ToSlash(rel),
			Kind:        kind,
			Content:     b,
			IsSourceMap: strings.HasSuffix(p, ".map"),
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, errors.New("no files in " + dir)
	}
	return files, nil
}
