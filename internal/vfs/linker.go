package vfs

import (
	"fmt"
	"strings"

	"github.com/evanw/esbuild/pkg/api"
)

// Linker rewrites an on-disk module before it joins the bundle. Framework
// packages shipped in partially compiled form need this to gain the
// metadata a production build leaves out.
type Linker interface {
	Link(path string, source []byte) ([]byte, error)
}

// LinkerFunc adapts a function to Linker.
type LinkerFunc func(path string, source []byte) ([]byte, error)

func (f LinkerFunc) Link(path string, source []byte) ([]byte, error) { return f(path, source) }

// ESBuildLinker runs on-disk modules through esbuild's transform: syntax
// is lowered to Target and Define replacements are applied.
type ESBuildLinker struct {
	Target api.Target
	Define map[string]string
}

// Link implements Linker.
func (l ESBuildLinker) Link(path string, source []byte) ([]byte, error) {
	target := l.Target
	if target == api.DefaultTarget {
		target = api.ES2020
	}
	result := api.Transform(string(source), api.TransformOptions{
		Loader:     api.LoaderJS,
		Format:     api.FormatESModule,
		Target:     target,
		Define:     l.Define,
		Sourcefile: path,
		LogLevel:   api.LogLevelSilent,
	})
	if len(result.Errors) > 0 {
		return nil, fmt.Errorf("linking %s: %s", path, formatMessages(result.Errors))
	}
	return result.Code, nil
}

func formatMessages(msgs []api.Message) string {
	parts := make([]string, 0, len(msgs))
	for _, m := range msgs {
		if m.Location != nil {
			parts = append(parts, fmt.Sprintf("%s:%d:%d: %s", m.Location.File, m.Location.Line, m.Location.Column, m.Text))
		} else {
			parts = append(parts, m.Text)
		}
	}
	return strings.Join(parts, "; ")
}
