package vfs

import (
	"fmt"
	"path/filepath"

	"github.com/evanw/esbuild/pkg/api"
)

// ExportsGlobal names the global the bundle publishes its entry exports on:
// {bootstrap, utils}.
const ExportsGlobal = "__prerender_exports__"

const entrySource = `import * as main from '` + Scheme + MainEntry + `';
import * as utils from '` + Scheme + UtilsEntry + `';
globalThis.` + ExportsGlobal + ` = { bootstrap: main.default, utils: utils };
`

// BundleOptions tunes Bundle.
type BundleOptions struct {
	// Sourcemap inlines a source map so stack traces point at the
	// original server files.
	Sourcemap bool
	Define    map[string]string
}

// Bundle links the in-memory entry modules and everything they import into
// one classic script. Evaluating the script sets globalThis[ExportsGlobal].
func (l *Loader) Bundle(opts BundleOptions) (string, error) {
	sourcemap := api.SourceMapNone
	if opts.Sourcemap {
		sourcemap = api.SourceMapInline
	}

	result := api.Build(api.BuildOptions{
		Stdin: &api.StdinOptions{
			Contents:   entrySource,
			ResolveDir: l.workspaceRoot,
			Sourcefile: "prerender-entry.js",
			Loader:     api.LoaderJS,
		},
		AbsWorkingDir: l.workspaceRoot,
		Outfile:       filepath.Join(l.workspaceRoot, "prerender-bundle.js"),
		Bundle:        true,
		Write:         false,
		Format:        api.FormatIIFE,
		Platform:      api.PlatformNeutral,
		Target:        api.ES2020,
		MainFields:    []string{"es2020", "es2015", "module", "main"},
		Conditions:    []string{"es2020", "es2015", "module"},
		Sourcemap:     sourcemap,
		Define:        opts.Define,
		LogLevel:      api.LogLevelSilent,
		Plugins:       []api.Plugin{l.Plugin()},
	})

	if err := l.takeFatal(); err != nil {
		return "", err
	}
	if len(result.Errors) > 0 {
		return "", fmt.Errorf("bundling server modules: %s", formatMessages(result.Errors))
	}
	for _, f := range result.OutputFiles {
		if filepath.Ext(f.Path) == ".js" {
			return string(f.Contents), nil
		}
	}
	return "", fmt.Errorf("bundling produced no output")
}
