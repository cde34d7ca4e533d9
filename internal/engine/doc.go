// Package engine selects the JavaScript engine at build time. QuickJS is
// the default; build with -tags v8 to use V8 instead.
package engine

import "github.com/cryguy/prerender/internal/core"

var _ core.RuntimeFactory = New
