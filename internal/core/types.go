package core

import "strings"

// FileKind tells which bundle a build output file belongs to.
type FileKind int

const (
	KindBrowser FileKind = iota
	KindServer
)

func (k FileKind) String() string {
	if k == KindServer {
		return "server"
	}
	return "browser"
}

// BuildOutputFile is a single file produced by the bundler. Paths are
// relative to the bundle's output directory and use forward slashes.
type BuildOutputFile struct {
	Path        string
	Kind        FileKind
	Content     []byte
	IsSourceMap bool
}

// BuildOutputAsset maps a logical request path onto a file on disk.
type BuildOutputAsset struct {
	Source      string `json:"source"`
	Destination string `json:"destination"`
}

// ServerContext tags a render so application code can vary its output.
type ServerContext string

const (
	ContextAppShell ServerContext = "app-shell"
	ContextSSG      ServerContext = "ssg"
	ContextSSR      ServerContext = "ssr"
)

// RenderTask is one route to render.
type RenderTask struct {
	Route         string        `json:"route"`
	ServerContext ServerContext `json:"serverContext"`
	// RedirectTo, when set, replaces rendering with a redirect page.
	RedirectTo string `json:"redirectTo,omitempty"`
}

// RenderResult is the outcome of one RenderTask. Content is nil when the
// route intentionally produces no static output.
type RenderResult struct {
	Route    string   `json:"route"`
	Content  *string  `json:"content,omitempty"`
	Warnings []string `json:"warnings,omitempty"`
	Errors   []string `json:"errors,omitempty"`
}

// AppShellOptions configures the app-shell route.
type AppShellOptions struct {
	Route string `json:"route,omitempty"`
}

// PrerenderOptions configures which routes are rendered.
type PrerenderOptions struct {
	RoutesFile     string `json:"routesFile,omitempty"`
	DiscoverRoutes bool   `json:"discoverRoutes"`
}

// Payload is the configuration the orchestrator sends to the child.
// Every map is an immutable snapshot once sent.
type Payload struct {
	AppShellOptions   AppShellOptions   `json:"appShellOptions"`
	PrerenderOptions  PrerenderOptions  `json:"prerenderOptions"`
	Assets            map[string]string `json:"assets"`
	Document          string            `json:"document"`
	Sourcemap         bool              `json:"sourcemap"`
	InlineCriticalCSS bool              `json:"inlineCriticalCss"`
	MaxThreads        int               `json:"maxThreads"`
	Verbose           bool              `json:"verbose"`
	// CSSOutputFiles holds browser .css files keyed by output path.
	CSSOutputFiles map[string]string `json:"cssOutputFilesForWorker"`
	WorkspaceRoot  string            `json:"workspaceRoot"`

	ServerFiles   map[string]string `json:"serverFiles"`
	BrowserFiles  map[string][]byte `json:"browserFiles,omitempty"`
	RenderTimeout int64             `json:"renderTimeoutMs,omitempty"`
	MemoryLimitMB int               `json:"memoryLimitMb,omitempty"`
	MetricsFile   string            `json:"metricsFile,omitempty"`
}

// Result is the aggregated outcome of a prerender run. Output is keyed by
// output path relative to the browser output root.
type Result struct {
	Output            map[string]string `json:"output"`
	Warnings          []string          `json:"warnings"`
	Errors            []string          `json:"errors"`
	PrerenderedRoutes []string          `json:"prerenderedRoutes"`
}

// NewResult returns an empty Result with non-nil collections.
func NewResult() *Result {
	return &Result{
		Output:            make(map[string]string),
		Warnings:          []string{},
		Errors:            []string{},
		PrerenderedRoutes: []string{},
	}
}

// ErrorPayload is an error marshalled across the process boundary.
type ErrorPayload struct {
	Name    string `json:"name"`
	Message string `json:"message"`
	Stack   string `json:"stack,omitempty"`
}

// NormalizeRoute ensures a route begins with a slash.
func NormalizeRoute(route string) string {
	if strings.HasPrefix(route, "/") {
		return route
	}
	return "/" + route
}
