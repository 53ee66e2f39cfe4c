package router

import (
	"sync"

	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
)

// Registry maps a logical model name to the deployments that can serve
// it. Reads (the hot path, on every request) only take the read lock;
// writes happen at config load/reload time.
type Registry struct {
	mu          sync.RWMutex
	deployments map[string][]*Deployment
}

// NewRegistry builds an empty Registry.
func NewRegistry() *Registry {
	return &Registry{deployments: make(map[string][]*Deployment)}
}

// Register adds d under its Model name.
func (r *Registry) Register(d *Deployment) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.deployments[d.Model] = append(r.deployments[d.Model], d)
}

// Deployments returns every deployment registered for model, in
// registration order. The returned slice is a copy; callers may filter
// it freely without affecting the registry.
func (r *Registry) Deployments(model string) []*Deployment {
	r.mu.RLock()
	defer r.mu.RUnlock()

	src := r.deployments[model]
	out := make([]*Deployment, len(src))
	copy(out, src)
	return out
}

// Replace atomically swaps the full deployment set for model.
// cmd/llmrouter does not call it; it only adds deployments via Register.
func (r *Registry) Replace(model string, deployments []*Deployment) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.deployments[model] = deployments
}

// Models lists every logical model name with at least one deployment,
// sorted so callers like the health prober and the /models endpoint see
// a stable order across ticks instead of Go's randomized map order.
func (r *Registry) Models() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := maps.Keys(r.deployments)
	slices.Sort(out)
	return out
}
