package bigtool

import (
	"sync"

	"github.com/invoiceflow/invoiceflow/core"
)

// Registry holds the per-capability tool pools. Writes happen at startup;
// reads are concurrent thereafter.
type Registry struct {
	mu     sync.RWMutex
	tools  map[Capability]map[string]Tool
	order  map[Capability][]string
	logger core.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(logger core.Logger) *Registry {
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	return &Registry{
		tools:  make(map[Capability]map[string]Tool),
		order:  make(map[Capability][]string),
		logger: logger,
	}
}

// Register adds a tool to its capability pool. Registering a name twice
// replaces the existing entry and logs a warning; insertion order is
// preserved so the first registered tool stays the pool default.
func (r *Registry) Register(t Tool) {
	meta := t.Metadata()

	r.mu.Lock()
	defer r.mu.Unlock()

	pool, ok := r.tools[meta.Capability]
	if !ok {
		pool = make(map[string]Tool)
		r.tools[meta.Capability] = pool
	}
	if _, exists := pool[meta.Name]; exists {
		r.logger.Warn("Replacing registered tool", map[string]interface{}{
			"tool":       meta.Name,
			"capability": string(meta.Capability),
		})
	} else {
		r.order[meta.Capability] = append(r.order[meta.Capability], meta.Name)
	}
	pool[meta.Name] = t
}

// Get returns a tool by capability and name.
func (r *Registry) Get(capability Capability, name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[capability][name]
	return t, ok
}

// ToolNames lists the pool for a capability in registration order.
func (r *Registry) ToolNames(capability Capability) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, len(r.order[capability]))
	copy(out, r.order[capability])
	return out
}

// DefaultTool returns the first tool registered for a capability.
func (r *Registry) DefaultTool(capability Capability) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := r.order[capability]
	if len(names) == 0 {
		return nil, false
	}
	t, ok := r.tools[capability][names[0]]
	return t, ok
}

// Stats summarizes the registry contents.
func (r *Registry) Stats() map[string]interface{} {
	r.mu.RLock()
	defer r.mu.RUnlock()

	total := 0
	perCapability := make(map[string]int, len(r.tools))
	for capability, pool := range r.tools {
		perCapability[string(capability)] = len(pool)
		total += len(pool)
	}
	return map[string]interface{}{
		"total_tools":  total,
		"capabilities": perCapability,
	}
}
