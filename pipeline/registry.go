package pipeline

import (
	"sort"
	"sync"

	"github.com/hupe1980/factorymesh/core"
)

// Registry maps stage names to local agents. It is an explicit value handed
// to the Builder.
type Registry struct {
	mu     sync.RWMutex
	agents map[string]core.Agent
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{agents: make(map[string]core.Agent)}
}

// Register adds agent under its name. Registering a name twice fails with a
// ConfigurationError wrapping ErrDuplicateStage.
func (r *Registry) Register(agent core.Agent) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	name := agent.Name()
	if _, exists := r.agents[name]; exists {
		return &core.ConfigurationError{Stage: name, Err: core.ErrDuplicateStage}
	}
	r.agents[name] = agent

	return nil
}

// MustRegister is Register for static setup code; it panics on error.
func (r *Registry) MustRegister(agents ...core.Agent) *Registry {
	for _, a := range agents {
		if err := r.Register(a); err != nil {
			panic(err)
		}
	}
	return r
}

// Lookup returns the agent registered under name.
func (r *Registry) Lookup(name string) (core.Agent, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	a, ok := r.agents[name]
	return a, ok
}

// Names lists the registered names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.agents))
	for n := range r.agents {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
