// Package vfs lets a worker execute server bundle modules that exist only
// as bytes in memory. Modules are addressed with the memory:// scheme and
// live under a virtual root that never exists on disk; third-party
// packages still resolve from the real workspace.
package vfs

import (
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"

	"github.com/cryguy/prerender/internal/core"
	"github.com/google/uuid"
)

const (
	// Scheme prefixes specifiers that address in-memory modules.
	Scheme = "memory://"
	// Namespace is the esbuild namespace of in-memory modules.
	Namespace = "memory"

	// MainEntry exports the application bootstrap as its default export.
	MainEntry = "main.server.mjs"
	// UtilsEntry exports the rendering utilities.
	UtilsEntry = "render-utils.server.mjs"

	// ServerModeMarker is prepended to every linked on-disk module.
	ServerModeMarker = "globalThis['ngServerMode'] = true;\n"
)

// Resolution is the outcome of Loader.Resolve.
type Resolution struct {
	// Path is the resolved module path. Set for virtual modules only.
	Path    string
	Virtual bool
	// Delegate asks the host resolver to handle the specifier. When
	// Importer is set, resolution must proceed as if Importer had issued
	// the import, starting from ResolveDir.
	Delegate   bool
	Importer   string
	ResolveDir string
}

// LoadResult is the outcome of Loader.Load.
type LoadResult struct {
	Contents   []byte
	ResolveDir string
	// Handled is false when the host loader should read the module itself.
	Handled bool
}

// Loader is the per-worker module loading context. Its virtual root and
// file snapshot are fixed at construction.
type Loader struct {
	workspaceRoot string
	virtualRoot   string
	files         *FileMap
	linker        Linker
	readFile      func(string) ([]byte, error)

	mu    sync.Mutex
	fatal error // first assertion failure seen by the esbuild plugin
}

// NewLoader creates a Loader rooted under workspaceRoot. A nil linker
// uses ESBuildLinker.
func NewLoader(workspaceRoot string, files *FileMap, linker Linker) (*Loader, error) {
	root, err := filepath.Abs(workspaceRoot)
	if err != nil {
		return nil, err
	}
	if linker == nil {
		linker = ESBuildLinker{}
	}
	if files == nil {
		files = NewFileMap(nil)
	}
	return &Loader{
		workspaceRoot: root,
		virtualRoot:   path.Join(filepath.ToSlash(root), ".prerender-memory-"+uuid.NewString()),
		files:         files,
		linker:        linker,
		readFile:      os.ReadFile,
	}, nil
}

// VirtualRoot returns the private base path of in-memory modules.
func (l *Loader) VirtualRoot() string { return l.virtualRoot }

// WorkspaceRoot returns the directory packages resolve from.
func (l *Loader) WorkspaceRoot() string { return l.workspaceRoot }

// Files returns the in-memory file snapshot.
func (l *Loader) Files() *FileMap { return l.files }

// IsVirtual reports whether p lies under the virtual root.
func (l *Loader) IsVirtual(p string) bool {
	return strings.HasPrefix(p, l.virtualRoot+"/")
}

func (l *Loader) virtualName(p string) string {
	return strings.TrimPrefix(p, l.virtualRoot+"/")
}

// Resolve maps specifier, imported from importer, onto a module.
func (l *Loader) Resolve(specifier, importer string) (Resolution, error) {
	if strings.HasPrefix(specifier, Scheme) {
		name := strings.TrimPrefix(specifier, Scheme)
		clean := path.Clean("/" + name)
		if name == "" || clean == "/" || strings.ContainsAny(name, "\\?#") || clean != "/"+strings.TrimPrefix(name, "/") {
			return Resolution{}, core.Assertf("malformed virtual module URL %q", specifier)
		}
		return Resolution{Path: l.virtualRoot + clean, Virtual: true}, nil
	}

	if !l.IsVirtual(importer) {
		return Resolution{Delegate: true}, nil
	}

	if strings.HasPrefix(specifier, "./") || strings.HasPrefix(specifier, "../") {
		p := path.Join(path.Dir(importer), specifier)
		if !l.IsVirtual(p) || !l.files.Has(l.virtualName(p)) {
			return Resolution{}, core.Assertf("in-memory module %q imported from %q does not exist", specifier, l.virtualName(importer))
		}
		return Resolution{Path: p, Virtual: true}, nil
	}

	// Bare and absolute specifiers resolve as if imported by the entry
	// module. The virtual root sits directly under the workspace, so the
	// package search path starts at the workspace root.
	return Resolution{
		Delegate:   true,
		Importer:   path.Join(l.virtualRoot, MainEntry),
		ResolveDir: l.workspaceRoot,
	}, nil
}

// Load returns the contents of the module at p.
func (l *Loader) Load(p string) (LoadResult, error) {
	if l.IsVirtual(p) {
		b, ok := l.files.Get(l.virtualName(p))
		if !ok {
			return LoadResult{}, core.Assertf("in-memory module %q does not exist", l.virtualName(p))
		}
		return LoadResult{Contents: b, ResolveDir: l.workspaceRoot, Handled: true}, nil
	}

	if !strings.HasSuffix(p, ".mjs") {
		return LoadResult{}, nil
	}
	src, err := l.readFile(p)
	if err != nil {
		// Not a real file; the host loader reports it.
		return LoadResult{}, nil
	}
	linked, err := l.linker.Link(p, src)
	if err != nil {
		return LoadResult{}, err
	}
	out := make([]byte, 0, len(ServerModeMarker)+len(linked))
	out = append(out, ServerModeMarker...)
	out = append(out, linked...)
	return LoadResult{Contents: out, ResolveDir: filepath.Dir(p), Handled: true}, nil
}

func (l *Loader) recordFatal(err error) {
	l.mu.Lock()
	if l.fatal == nil {
		l.fatal = err
	}
	l.mu.Unlock()
}

func (l *Loader) takeFatal() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	err := l.fatal
	l.fatal = nil
	return err
}
