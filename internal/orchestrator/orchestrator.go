// Package orchestrator runs in the caller's process. It turns build output
// into a payload, hands it to a child renderer process and waits for the
// result.
package orchestrator

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"regexp"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/cryguy/prerender/internal/core"
	"github.com/cryguy/prerender/internal/protocol"
	"go.uber.org/zap"
)

// ChildEnv marks a process as the renderer child when set to "1".
const ChildEnv = "PRERENDER_CHILD"

// CommandFactory returns the unstarted child command. Its stdin and stdout
// must be left unset; Run connects them to the protocol.
type CommandFactory func(ctx context.Context) (*exec.Cmd, error)

// DefaultCommand re-executes the current binary as the child.
func DefaultCommand(context.Context) (*exec.Cmd, error) {
	exe, err := os.Executable()
	if err != nil {
		return nil, fmt.Errorf("locating executable: %w", err)
	}
	cmd := exec.Command(exe)
	cmd.Env = append(os.Environ(), ChildEnv+"=1")
	return cmd, nil
}

// Input is everything one prerender run needs.
type Input struct {
	Files    []core.BuildOutputFile
	Assets   []core.BuildOutputAsset
	Document string

	AppShellRoute  string
	RoutesFile     string
	DiscoverRoutes bool

	Sourcemap         bool
	InlineCriticalCSS bool
	Verbose           bool
	// MaxThreads defaults to the number of CPUs.
	MaxThreads    int
	WorkspaceRoot string
	RenderTimeout time.Duration
	MemoryLimitMB int
	MetricsFile   string

	Command CommandFactory
	Logger  *zap.Logger
}

// BuildPayload assembles the child configuration from in. Server source
// maps are inlined into their scripts when in.Sourcemap is set and never
// shipped as separate files.
func BuildPayload(in Input) (*core.Payload, error) {
	p := &core.Payload{
		AppShellOptions:   core.AppShellOptions{Route: in.AppShellRoute},
		PrerenderOptions:  core.PrerenderOptions{RoutesFile: in.RoutesFile, DiscoverRoutes: in.DiscoverRoutes},
		Assets:            make(map[string]string, len(in.Assets)),
		Document:          in.Document,
		Sourcemap:         in.Sourcemap,
		InlineCriticalCSS: in.InlineCriticalCSS,
		MaxThreads:        in.MaxThreads,
		Verbose:           in.Verbose,
		CSSOutputFiles:    map[string]string{},
		WorkspaceRoot:     in.WorkspaceRoot,
		ServerFiles:       map[string]string{},
		BrowserFiles:      map[string][]byte{},
		RenderTimeout:     in.RenderTimeout.Milliseconds(),
		MemoryLimitMB:     in.MemoryLimitMB,
		MetricsFile:       in.MetricsFile,
	}
	if p.MaxThreads < 1 {
		p.MaxThreads = runtime.NumCPU()
	}
	if p.WorkspaceRoot == "" {
		wd, err := os.Getwd()
		if err != nil {
			return nil, err
		}
		p.WorkspaceRoot = wd
	}
	for _, a := range in.Assets {
		p.Assets[a.Destination] = a.Source
	}

	maps := map[string]string{}
	for _, f := range in.Files {
		if f.Kind == core.KindServer && f.IsSourceMap {
			maps[f.Path] = string(f.Content)
		}
	}
	for _, f := range in.Files {
		switch {
		case f.IsSourceMap:
		case f.Kind == core.KindServer:
			code := string(f.Content)
			if m, ok := maps[f.Path+".map"]; ok && in.Sourcemap {
				code = InlineSourceMap(code, m)
			}
			p.ServerFiles[f.Path] = code
		default:
			p.BrowserFiles[f.Path] = f.Content
			if strings.HasSuffix(f.Path, ".css") {
				p.CSSOutputFiles[f.Path] = string(f.Content)
			}
		}
	}
	if len(p.ServerFiles) == 0 {
		return nil, errors.New("no server bundle files to prerender")
	}
	return p, nil
}

var sourceMappingURL = regexp.MustCompile(`(?m)^//# sourceMappingURL=.*$\n?`)

// InlineSourceMap replaces any source map reference in code with the map
// itself as a base64 data URI.
func InlineSourceMap(code, mapJSON string) string {
	code = strings.TrimRight(sourceMappingURL.ReplaceAllString(code, ""), "\n")
	return code + "\n//# sourceMappingURL=data:application/json;base64," +
		base64.StdEncoding.EncodeToString([]byte(mapJSON)) + "\n"
}

// Run prerenders in a child process. The child is always killed and
// reaped before Run returns. A child that fails or exits without a result
// yields a *core.ChildError; an out-of-order message yields a
// *core.ProtocolViolation.
func Run(ctx context.Context, in Input) (*core.Result, error) {
	log := in.Logger
	if log == nil {
		log = zap.NewNop()
	}
	payload, err := BuildPayload(in)
	if err != nil {
		return nil, err
	}

	factory := in.Command
	if factory == nil {
		factory = DefaultCommand
	}
	cmd, err := factory(ctx)
	if err != nil {
		return nil, err
	}
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, err
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	if cmd.Stderr == nil {
		cmd.Stderr = os.Stderr
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("starting renderer process: %w", err)
	}
	log.Debug("renderer process started", zap.Int("pid", cmd.Process.Pid))

	var once sync.Once
	var waitErr error
	terminate := func() error {
		once.Do(func() {
			_ = cmd.Process.Kill()
			waitErr = cmd.Wait()
		})
		return waitErr
	}
	defer terminate()
	stop := context.AfterFunc(ctx, func() { _ = cmd.Process.Kill() })
	defer stop()

	conn := protocol.NewConn(stdout, stdin)
	var m protocol.Machine
	for {
		msg, err := conn.Receive()
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			status := terminate()
			return nil, &core.ChildError{
				Name:    "ProcessError",
				Message: fmt.Sprintf("renderer process exited before reporting a result: %v", exitReason(err, status)),
			}
		}

		switch msg.Type {
		case protocol.TypeStart, protocol.TypeReady, protocol.TypeError:
		default:
			return nil, &core.ProtocolViolation{State: m.State().String(), Type: string(msg.Type)}
		}
		if err := m.Observe(msg.Type); err != nil {
			return nil, err
		}

		switch msg.Type {
		case protocol.TypeStart:
			if err := m.Observe(protocol.TypeConfig); err != nil {
				return nil, err
			}
			if err := conn.Send(protocol.TypeConfig, payload); err != nil {
				return nil, err
			}
			log.Debug("configuration sent", zap.Int("server_files", len(payload.ServerFiles)))
		case protocol.TypeReady:
			res := core.NewResult()
			if err := msg.Decode(res); err != nil {
				return nil, err
			}
			log.Debug("renderer process finished", zap.Int("routes", len(res.PrerenderedRoutes)))
			return res, nil
		case protocol.TypeError:
			var ep core.ErrorPayload
			if err := msg.Decode(&ep); err != nil {
				return nil, err
			}
			return nil, core.FromErrorPayload(ep)
		}
	}
}

func exitReason(readErr, waitErr error) error {
	if waitErr != nil {
		return waitErr
	}
	return readErr
}
