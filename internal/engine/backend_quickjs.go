//go:build !v8

package engine

import (
	"github.com/cryguy/prerender/internal/core"
	"github.com/cryguy/prerender/internal/quickjs"
)

// Name identifies the compiled-in JS engine.
const Name = "quickjs"

// New creates a VM on the compiled-in engine.
func New(memoryLimitMB int) (core.VM, error) {
	return quickjs.New(memoryLimitMB)
}
