package agent

import (
	"io"

	"github.com/hugo-lorenzo-mato/leakwatch/internal/core"
)

// Bridge answers status and dump queries for one agent. It resolves the
// agent's control on every call, so an agent attached after the bridge was
// built is seen immediately.
type Bridge struct {
	registry *Registry
	name     string
}

// NewBridge creates a bridge for the agent called name. A nil registry means
// Default.
func NewBridge(registry *Registry, name string) *Bridge {
	if registry == nil {
		registry = Default
	}
	return &Bridge{registry: registry, name: name}
}

// Name returns the agent name.
func (b *Bridge) Name() string {
	return b.name
}

// IsActive reports whether the agent is attached and installed. An agent
// that cannot be located at all is inactive.
func (b *Bridge) IsActive() bool {
	c, ok := b.registry.Control(b.name)
	return ok && c.Installed()
}

// Dump streams the agent's report to w. Callers check IsActive first; an
// agent that is not installed yields a core.ErrCatUnavailable error.
func (b *Bridge) Dump(w io.Writer) error {
	c, ok := b.registry.Control(b.name)
	if !ok || !c.Installed() {
		return core.ErrUnavailable(b.name)
	}
	if err := c.Dump(w); err != nil {
		return core.ErrExecution(core.CodeAgentDumpFailed, "dumping "+b.name).WithCause(err)
	}
	return nil
}
