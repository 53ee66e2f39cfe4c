// Package router selects a deployment for each request, executing it
// through the provider, rate limiter, and circuit breaker, retrying and
// falling back per spec.md §4.9.
package router

import (
	"context"

	"go.uber.org/atomic"

	"github.com/llmgateway/gateway/internal/health"
	"github.com/llmgateway/gateway/internal/provider"
	"github.com/llmgateway/gateway/internal/types"
)

// Deployment is one routable (model, provider) pairing. Several
// Deployments can back the same logical model name (e.g. the same
// "gpt-4o" served by two different API keys, or by OpenAI directly and
// by Azure), which is what gives the router something to choose between.
type Deployment struct {
	ID       string
	Model    string // logical model name clients request
	Upstream string // provider-native model id, usually equal to Model
	Provider provider.Provider

	Tags     []string
	Weight   float64
	Priority uint32

	active atomic.Int64
}

// NewDeployment builds a Deployment with the given id/model/provider;
// Tags/Weight/Priority are set via the returned value's fields.
func NewDeployment(id, model string, p provider.Provider) *Deployment {
	return &Deployment{ID: id, Model: model, Upstream: model, Provider: p, Weight: 1}
}

// HasAllTags reports whether this deployment carries every tag in want.
func (d *Deployment) HasAllTags(want []string) bool {
	for _, w := range want {
		found := false
		for _, t := range d.Tags {
			if t == w {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// ActiveRequests returns the current in-flight request count against
// this deployment, used by the LeastBusy strategy.
func (d *Deployment) ActiveRequests() int64 {
	return d.active.Load()
}

func (d *Deployment) incr() { d.active.Inc() }
func (d *Deployment) decr() { d.active.Dec() }

// ModelSpec looks up this deployment's upstream model within its
// provider's catalog, used by a context-window pre-flight check that
// needs to know how big a model this deployment actually serves.
func (d *Deployment) ModelSpec() (types.ModelSpec, bool) {
	for _, spec := range d.Provider.Models() {
		if spec.ID == d.Upstream {
			return spec, true
		}
	}
	return types.ModelSpec{}, false
}

// probeTarget adapts a Deployment to health.Target; a plain method
// named ID isn't possible on Deployment since it already has an ID
// field, so the adapter lives standalone instead.
type probeTarget struct{ d *Deployment }

func (p probeTarget) ID() string { return p.d.ID }

func (p probeTarget) Probe(ctx context.Context) error {
	return p.d.Provider.HealthCheck(ctx)
}

// ProbeTarget wraps d as a health.Target for internal/health's
// background Prober.
func ProbeTarget(d *Deployment) health.Target {
	return probeTarget{d: d}
}
