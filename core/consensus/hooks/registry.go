package hooks

import (
	"github.com/vadiminshakov/ledgerpool/core/dto"
)

// Registry manages a collection of hooks.
type Registry struct {
	hooks []Hook
}

// NewRegistry creates a new hook registry.
func NewRegistry() *Registry {
	return &Registry{
		hooks: make([]Hook, 0),
	}
}

// Register adds a new hook to the registry. Not safe to call once the engine runs.
func (r *Registry) Register(hook Hook) {
	r.hooks = append(r.hooks, hook)
}

// ExecuteReply runs all registered reply hooks.
// Returns false if any hook returns false.
func (r *Registry) ExecuteReply(req *dto.OutboundRequest, reply *dto.NodeReply) bool {
	for _, hook := range r.hooks {
		if !hook.OnReply(req, reply) {
			return false
		}
	}
	return true
}

// ExecuteNodeError runs all registered node error hooks.
func (r *Registry) ExecuteNodeError(req *dto.OutboundRequest, node string, err error) {
	for _, hook := range r.hooks {
		hook.OnNodeError(req, node, err)
	}
}

// ExecuteDecision runs all registered decision hooks.
func (r *Registry) ExecuteDecision(req *dto.OutboundRequest, err error, timing dto.TimingResult) {
	for _, hook := range r.hooks {
		hook.OnDecision(req, err, timing)
	}
}

// Count returns the number of registered hooks
func (r *Registry) Count() int {
	return len(r.hooks)
}
