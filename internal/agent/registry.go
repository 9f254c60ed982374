// Package agent locates diagnostic agents attached to this process.
//
// Agents are optional: nothing in the host links against a concrete agent.
// An agent makes itself available for attach by registering an EntryPoint,
// and publishes a Control once it is installed. Lookups always go through the
// single process-wide Default registry.
package agent

import (
	"fmt"
	"io"
	"sort"
	"sync"
)

// Control is the handle an installed agent publishes.
type Control interface {
	// Installed reports whether the agent is currently active.
	Installed() bool
	// Dump writes the agent's textual report to w.
	Dump(w io.Writer) error
}

// EntryPoint runs an agent's attach logic inside the host. opts is the raw
// option string from the attach request; anything the agent prints goes to
// out and is relayed back to the attaching process.
type EntryPoint func(opts string, out io.Writer) error

// Registry maps agent names to their entry points and published controls.
type Registry struct {
	mu          sync.RWMutex
	entryPoints map[string]EntryPoint
	controls    map[string]Control
}

// Default is the process-wide registry.
var Default = NewRegistry()

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		entryPoints: make(map[string]EntryPoint),
		controls:    make(map[string]Control),
	}
}

// RegisterEntryPoint makes an agent attachable under name.
func (r *Registry) RegisterEntryPoint(name string, ep EntryPoint) error {
	if name == "" {
		return fmt.Errorf("agent name is required")
	}
	if ep == nil {
		return fmt.Errorf("agent %s: nil entry point", name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.entryPoints[name]; exists {
		return fmt.Errorf("agent %s already registered", name)
	}
	r.entryPoints[name] = ep
	return nil
}

// EntryPoint returns the attach entry point registered under name.
func (r *Registry) EntryPoint(name string) (EntryPoint, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ep, ok := r.entryPoints[name]
	return ep, ok
}

// Publish records the control of an installed agent, replacing any earlier one.
func (r *Registry) Publish(name string, c Control) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c == nil {
		delete(r.controls, name)
		return
	}
	r.controls[name] = c
}

// Control returns the control published under name.
func (r *Registry) Control(name string) (Control, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.controls[name]
	return c, ok
}

// Names lists every agent with a registered entry point, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.entryPoints))
	for name := range r.entryPoints {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
