//go:build v8

package engine

import (
	"github.com/cryguy/prerender/internal/core"
	"github.com/cryguy/prerender/internal/v8engine"
)

// Name identifies the compiled-in JS engine.
const Name = "v8"

// New creates a VM on the compiled-in engine.
func New(memoryLimitMB int) (core.VM, error) {
	return v8engine.New(memoryLimitMB)
}
