package agent

import (
	"fmt"
	"sync"

	"github.com/entrhq/foundry/pkg/types"
)

// Registry holds the agent candidates available per role. Safe for concurrent
// use.
type Registry struct {
	mu     sync.RWMutex
	byRole map[types.Role][]Agent
	byName map[string]Agent
}

// NewRegistry creates an empty agent registry.
func NewRegistry() *Registry {
	return &Registry{
		byRole: make(map[types.Role][]Agent),
		byName: make(map[string]Agent),
	}
}

// Register adds an agent as a candidate for its role. Agent names must be
// unique across roles.
func (r *Registry) Register(a Agent) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byName[a.Name()]; exists {
		return fmt.Errorf("agent %q already registered", a.Name())
	}

	r.byName[a.Name()] = a
	r.byRole[a.Role()] = append(r.byRole[a.Role()], a)
	return nil
}

// Candidates returns the agents registered for a role, in registration order.
func (r *Registry) Candidates(role types.Role) []Agent {
	r.mu.RLock()
	defer r.mu.RUnlock()

	agents := r.byRole[role]
	out := make([]Agent, len(agents))
	copy(out, agents)
	return out
}

// Get returns an agent by name.
func (r *Registry) Get(name string) (Agent, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.byName[name]
	return a, ok
}
