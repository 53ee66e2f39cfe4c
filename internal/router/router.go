package router

import (
	"context"
	"fmt"
	"time"

	"github.com/llmgateway/gateway/internal/circuitbreaker"
	"github.com/llmgateway/gateway/internal/health"
	"github.com/llmgateway/gateway/internal/metrics"
	"github.com/llmgateway/gateway/internal/provider"
	"github.com/llmgateway/gateway/internal/ratelimit"
	"github.com/llmgateway/gateway/internal/types"
)

// Params builds a Router. Limiter and Fallback may be nil (rate
// limiting and fallback are then no-ops); every other field is
// required.
type Params struct {
	Registry        *Registry
	Breakers        *circuitbreaker.Registry
	Limiter         *ratelimit.Limiter
	Health          *health.System
	Metrics         *metrics.Registry
	Fallback        *FallbackConfig
	Strategies      map[string]Config // per-model strategy override
	DefaultStrategy Config
	MaxRetries      int
}

// Router ties the deployment registry to the selection strategy, rate
// limiter, circuit breaker, health tracker and metrics registry, and
// drives the retry/fallback pipeline of spec.md §4.9 through Execute.
type Router struct {
	registry        *Registry
	selector        *Selector
	breakers        *circuitbreaker.Registry
	limiter         *ratelimit.Limiter
	health          *health.System
	metrics         *metrics.Registry
	fallback        *FallbackConfig
	strategies      map[string]Config
	defaultStrategy Config
	maxRetries      int
}

// New builds a Router from p, filling in nil-safe defaults.
func New(p Params) *Router {
	if p.Fallback == nil {
		p.Fallback = NewFallbackConfig()
	}
	if p.Strategies == nil {
		p.Strategies = make(map[string]Config)
	}
	if p.DefaultStrategy.Kind == "" {
		p.DefaultStrategy.Kind = RoundRobin
	}
	return &Router{
		registry:        p.Registry,
		selector:        NewSelector(),
		breakers:        p.Breakers,
		limiter:         p.Limiter,
		health:          p.Health,
		metrics:         p.Metrics,
		fallback:        p.Fallback,
		strategies:      p.Strategies,
		defaultStrategy: p.DefaultStrategy,
		maxRetries:      p.MaxRetries,
	}
}

// Request describes the call Execute should route: the logical model
// requested, an optional stickiness key for ABTest/ConsistentHash, and
// tags the selected deployment must all carry.
type Request struct {
	Model      string
	RoutingKey string
	Tags       []string
}

// Op is the operation Execute invokes against the deployment it picks.
// T is the canonical response type (*types.ChatResponse, or the
// embedding/image/audio/rerank equivalents).
type Op[T any] func(ctx context.Context, p provider.Provider, d *Deployment) (T, error)

// Execute implements the filter → exclude → select → admit → invoke →
// record pipeline of spec.md §4.9. Retryable failures retry the same
// deployment with full-jitter backoff up to the router's retry budget;
// once that deployment is given up on (retries exhausted, or a
// non-retryable error) it is never selected again for the rest of this
// call, including after a fallback re-entry. On exhausting a model's
// candidates, the router consults FallbackConfig keyed by the last
// error's category and re-enters step 1 for the first not-yet-visited
// fallback model, preserving the remaining retry budget.
//
// Returns the last observed typed error if every candidate, across the
// original model and all its fallbacks, fails.
func Execute[T any](ctx context.Context, r *Router, req Request, op Op[T]) (T, error) {
	var zero T
	if req.Model == "" {
		return zero, fmt.Errorf("router: empty model")
	}

	tried := make(map[string]bool)
	visited := map[string]bool{req.Model: true}
	queue := []string{req.Model}
	retriesLeft := r.maxRetries
	var lastErr error

	for len(queue) > 0 {
		model := queue[0]
		queue = queue[1:]
		cfg := r.strategyConfig(model)

		for {
			candidates := r.eligible(model, tried, req.Tags)
			if len(candidates) == 0 {
				break
			}

			sc := SelectionContext{Health: r.health, Metrics: r.metrics, RoutingKey: req.RoutingKey}
			d, err := r.selector.Select(cfg, model, sc, candidates)
			if err != nil {
				break
			}

			result, opErr := attempt(ctx, r, d, op, &retriesLeft)
			tried[d.ID] = true
			if opErr == nil {
				return result, nil
			}
			lastErr = opErr
		}

		if pe, ok := types.AsProviderError(lastErr); ok {
			for _, fb := range r.fallback.For(model, pe.FallbackCategory()) {
				if !visited[fb] {
					visited[fb] = true
					queue = append(queue, fb)
				}
			}
		}
	}

	if lastErr == nil {
		lastErr = fmt.Errorf("router: no eligible deployments for model %q", req.Model)
	}
	return zero, lastErr
}

// attempt drives admission and invocation against one deployment,
// retrying in place (same deployment, full-jitter backoff) while the
// error is retryable and the shared retry budget allows it.
func attempt[T any](ctx context.Context, r *Router, d *Deployment, op Op[T], retriesLeft *int) (T, error) {
	var zero T
	for {
		if err := ctx.Err(); err != nil {
			return zero, err
		}

		if r.limiter != nil {
			if res := r.limiter.CheckAndRecord(d.ID); !res.Allowed {
				rateErr := types.NewProviderError(d.Provider.Name(), types.ErrRateLimit, "rate limit exceeded for deployment", nil)
				if retry, ok := retryWithBackoff(ctx, retriesLeft, r.maxRetries); ok {
					if !retry {
						return zero, ctx.Err()
					}
					continue
				}
				return zero, rateErr
			}
		}

		breaker := r.breakers.Get(d.ID)
		if !breaker.Allow() {
			openErr := types.NewProviderError(d.Provider.Name(), types.ErrCircuitOpen, "circuit breaker open", nil)
			if retry, ok := retryWithBackoff(ctx, retriesLeft, r.maxRetries); ok {
				if !retry {
					return zero, ctx.Err()
				}
				continue
			}
			return zero, openErr
		}

		d.incr()
		start := time.Now()
		result, err := op(ctx, d.Provider, d)
		latency := time.Since(start)
		d.decr()

		if err == nil {
			breaker.RecordSuccess()
			r.health.Record(d.ID, health.Healthy(latency))
			promptTokens, completionTokens, costUSD := usageOf(d, result)
			r.metrics.RecordSuccess(d.Provider.Name(), d.Upstream, latency, promptTokens, completionTokens, costUSD)
			return result, nil
		}

		breaker.RecordFailure()
		r.health.Record(d.ID, health.Unhealthy(err.Error(), latency))

		pe, hasPE := types.AsProviderError(err)
		kind := "unknown"
		if hasPE {
			kind = string(pe.Kind)
		}
		r.metrics.RecordError(d.Provider.Name(), d.Upstream, kind, latency)

		if !hasPE || !pe.Retryable() {
			return zero, err
		}
		if retry, ok := retryWithBackoff(ctx, retriesLeft, r.maxRetries); ok {
			if !retry {
				return zero, ctx.Err()
			}
			continue
		}
		return zero, err
	}
}

// retryWithBackoff consumes one unit of the shared retry budget and
// sleeps the corresponding full-jitter backoff. ok is false when the
// budget is exhausted (caller should give up); when ok is true, retry
// reports whether the sleep completed (false means ctx was canceled
// mid-sleep).
func retryWithBackoff(ctx context.Context, retriesLeft *int, maxRetries int) (retry, ok bool) {
	if *retriesLeft <= 0 {
		return false, false
	}
	attemptNum := maxRetries - *retriesLeft
	*retriesLeft--

	select {
	case <-ctx.Done():
		return false, true
	case <-time.After(fullJitterBackoff(attemptNum)):
		return true, true
	}
}

// usageOf pulls token usage out of result when T happens to be
// *types.ChatResponse, pricing it through the deployment's provider for
// the metrics registry's cost counter. Other response types (embedding,
// image, audio, rerank) don't carry the same Usage shape, so they
// record latency and error-kind only; nothing currently uses their
// token/cost dimension.
func usageOf[T any](d *Deployment, result T) (promptTokens, completionTokens int, costUSD float64) {
	resp, ok := any(result).(*types.ChatResponse)
	if !ok || resp == nil || resp.Usage == nil {
		return 0, 0, 0
	}
	promptTokens = resp.Usage.PromptTokens
	completionTokens = resp.Usage.CompletionTokens
	if cost, err := d.Provider.CalculateCost(d.Upstream, promptTokens, completionTokens); err == nil {
		costUSD = cost.Amount
	}
	return
}

func (r *Router) strategyConfig(model string) Config {
	if cfg, ok := r.strategies[model]; ok {
		return cfg
	}
	return r.defaultStrategy
}

// eligible returns model's deployments minus those already tried this
// Execute call, tag-mismatched, circuit-open, rate-limit-exhausted, or
// health-unavailable (spec.md §4.9 step 2). Checks here are read-only
// probes (Check, not CheckAndRecord; State, not Allow) so that merely
// inspecting eligibility never consumes a rate-limit token or a
// half-open circuit breaker's probe slot — only the admission step in
// attempt does that.
func (r *Router) eligible(model string, tried map[string]bool, tags []string) []*Deployment {
	all := r.registry.Deployments(model)
	out := make([]*Deployment, 0, len(all))
	for _, d := range all {
		if tried[d.ID] {
			continue
		}
		if !d.Provider.SupportsModel(d.Upstream) {
			continue
		}
		if len(tags) > 0 && !d.HasAllTags(tags) {
			continue
		}
		if r.breakers.Get(d.ID).State() == circuitbreaker.StateOpen {
			continue
		}
		if r.limiter != nil && !r.limiter.Check(d.ID).Allowed {
			continue
		}
		if !r.health.Tracker(d.ID).IsAvailable() {
			continue
		}
		out = append(out, d)
	}
	return out
}

// Registry exposes the underlying deployment registry for config
// loading/reload code.
func (r *Router) Registry() *Registry { return r.registry }
