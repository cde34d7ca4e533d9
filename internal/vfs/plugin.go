package vfs

import (
	"errors"

	"github.com/cryguy/prerender/internal/core"
	"github.com/evanw/esbuild/pkg/api"
)

// delegateMarker tags resolutions the plugin hands back to esbuild so the
// re-entrant OnResolve call falls through to the default resolver.
type delegateMarker int

const delegated delegateMarker = 1

// Plugin exposes the loader to esbuild.
func (l *Loader) Plugin() api.Plugin {
	return api.Plugin{
		Name: "prerender-memory",
		Setup: func(build api.PluginBuild) {
			build.OnResolve(api.OnResolveOptions{Filter: ".*"}, func(args api.OnResolveArgs) (api.OnResolveResult, error) {
				if args.PluginData == delegated {
					return api.OnResolveResult{}, nil
				}

				res, err := l.Resolve(args.Path, args.Importer)
				if err != nil {
					l.fail(err)
					return api.OnResolveResult{}, err
				}
				if res.Virtual {
					return api.OnResolveResult{Path: res.Path, Namespace: Namespace}, nil
				}
				if res.Importer == "" {
					return api.OnResolveResult{}, nil
				}

				r := build.Resolve(args.Path, api.ResolveOptions{
					Importer:   res.Importer,
					ResolveDir: res.ResolveDir,
					Kind:       args.Kind,
					PluginData: delegated,
				})
				if len(r.Errors) > 0 {
					return api.OnResolveResult{Errors: r.Errors, Warnings: r.Warnings}, nil
				}
				return api.OnResolveResult{
					Path:        r.Path,
					External:    r.External,
					SideEffects: sideEffects(r.SideEffects),
					Namespace:   r.Namespace,
					Suffix:      r.Suffix,
					Warnings:    r.Warnings,
				}, nil
			})

			build.OnLoad(api.OnLoadOptions{Filter: ".*", Namespace: Namespace}, l.onLoad)
			build.OnLoad(api.OnLoadOptions{Filter: `\.mjs$`, Namespace: "file"}, l.onLoad)
		},
	}
}

func (l *Loader) onLoad(args api.OnLoadArgs) (api.OnLoadResult, error) {
	res, err := l.Load(args.Path)
	if err != nil {
		l.fail(err)
		return api.OnLoadResult{}, err
	}
	if !res.Handled {
		return api.OnLoadResult{}, nil
	}
	contents := string(res.Contents)
	return api.OnLoadResult{
		Contents:   &contents,
		ResolveDir: res.ResolveDir,
		Loader:     api.LoaderJS,
	}, nil
}

func (l *Loader) fail(err error) {
	var ae *core.AssertionError
	if errors.As(err, &ae) {
		l.recordFatal(err)
	}
}

func sideEffects(has bool) api.SideEffects {
	if has {
		return api.SideEffectsTrue
	}
	return api.SideEffectsFalse
}
