package registry

import (
	"context"
	"fmt"

	"github.com/finflow-ai/orchestrator/internal/state"
)

// AgentFunc is the opaque agent abstraction: a function from State to
// State. It is always invoked by the executor in its own goroutine, as a
// direct blocking call.
type AgentFunc func(ctx context.Context, in state.State) (state.State, error)

// HealthChecker describes a health-check capability. The registry's
// Health probe does not consult it; it calls each Descriptor's Health
// function field when that is set.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Descriptor is the registry entry for one agent: its name, its
// invocation function, its capability tags, and the error-tolerance
// metadata the error handler consults for Authoritative failures.
type Descriptor struct {
	Name         string
	Fn           AgentFunc
	Capabilities []string
	// TolerateMissingUpstream, when true, allows this agent to run even
	// if an earlier agent in the sequence failed authoritatively and
	// left a gap in collected_data. Default false (fail-fast).
	TolerateMissingUpstream bool
	// Health, if non-nil, backs the registry's Health probe.
	Health func(ctx context.Context) error
}

// AgentRegistry maps agent name to agent function and metadata, opaque
// to the rest of the core.
type AgentRegistry struct {
	store *Store[Descriptor]
}

// NewAgentRegistry creates an empty agent registry.
func NewAgentRegistry() *AgentRegistry {
	return &AgentRegistry{store: New[Descriptor]()}
}

// Register adds an agent under d.Name.
func (r *AgentRegistry) Register(d Descriptor) error {
	if d.Fn == nil {
		return fmt.Errorf("registry: agent %q has no function", d.Name)
	}
	return r.store.Register(d.Name, d)
}

// Lookup returns the descriptor for name.
func (r *AgentRegistry) Lookup(name string) (Descriptor, bool) {
	return r.store.Get(name)
}

// Exists reports whether name is a registered agent — used by the
// planner's sanitizer and the compiler's UnknownAgent check.
func (r *AgentRegistry) Exists(name string) bool {
	return r.store.Has(name)
}

// Names lists every registered agent name, used to build the planner
// prompt's available-agent roster.
func (r *AgentRegistry) Names() []string {
	return r.store.Names()
}

// Health probes every registered agent that implements a health check
// and returns a map of name -> error (nil entries omitted on success is
// not done here; callers see one entry per health-capable agent).
func (r *AgentRegistry) Health(ctx context.Context) map[string]error {
	out := make(map[string]error)
	for _, d := range r.store.List() {
		if d.Health == nil {
			continue
		}
		out[d.Name] = d.Health(ctx)
	}
	return out
}
