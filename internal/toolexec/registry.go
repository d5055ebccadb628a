package toolexec

import (
	"sort"
	"sync"

	"github.com/agentsmithy/agentsmithy/internal/agentserr"
)

// Registry holds the set of registered tools, keyed by their wire-contract
// name.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
}

// NewRegistry creates an empty tool registry.
func NewRegistry() *Registry {
	return &Registry{tools: map[string]Tool{}}
}

// Register adds a tool, overwriting any existing registration of the same
// name.
func (r *Registry) Register(t Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[t.Name()] = t
}

// Get returns the tool registered under name, if any.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// Names returns the registered tool names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ErrUnknownTool builds the not_found error returned when a call names a
// tool that was never registered.
func ErrUnknownTool(name string) *agentserr.Error {
	return agentserr.Newf(agentserr.KindNotFound, "unknown_tool", "no tool registered with name %q", name)
}
