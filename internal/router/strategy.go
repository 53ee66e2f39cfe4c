package router

import (
	"fmt"
	"math/rand"
	"sort"
	"sync"

	"go.uber.org/atomic"

	"github.com/llmgateway/gateway/internal/health"
	"github.com/llmgateway/gateway/internal/metrics"
)

// Kind enumerates the deployment selection strategies of spec.md §4.9.
type Kind string

const (
	RoundRobin     Kind = "round_robin"
	Random         Kind = "random"
	LeastLatency   Kind = "least_latency"
	LeastCost      Kind = "least_cost"
	LeastBusy      Kind = "least_busy"
	UsageBased     Kind = "usage_based"
	Weighted       Kind = "weighted"
	Priority       Kind = "priority"
	ABTest         Kind = "ab_test"
	ConsistentHash Kind = "consistent_hash"
	Custom         Kind = "custom"
)

// Config selects and parameterizes one strategy.
type Config struct {
	Kind Kind

	// SplitRatio is ABTest's traffic fraction (0..1) routed to the
	// second candidate group (candidates[1:] vs candidates[0]).
	SplitRatio float64

	// LuaScript is Custom's scoring script; see custom.go.
	LuaScript string
}

// SelectionContext carries the side information strategies need beyond
// the candidate list itself: health for latency/availability, metrics
// for observed cost/latency, and a routing key for hash/AB-test
// stickiness (e.g. a user or session id from the request).
type SelectionContext struct {
	Health     *health.System
	Metrics    *metrics.Registry
	RoutingKey string
}

// Selector holds the mutable state strategies need across calls
// (round-robin counters), keyed by model name so independent models
// don't share a cursor.
type Selector struct {
	mu       sync.Mutex
	counters map[string]*atomic.Uint64

	hashMu sync.Mutex
	hashes map[string]*hashRing
}

// NewSelector builds an empty Selector.
func NewSelector() *Selector {
	return &Selector{
		counters: make(map[string]*atomic.Uint64),
		hashes:   make(map[string]*hashRing),
	}
}

// Select picks one deployment from candidates per cfg. candidates must
// be non-empty; callers are expected to have already filtered out
// ineligible deployments.
func (s *Selector) Select(cfg Config, model string, sc SelectionContext, candidates []*Deployment) (*Deployment, error) {
	if len(candidates) == 0 {
		return nil, fmt.Errorf("router: no eligible deployments for model %q", model)
	}
	if len(candidates) == 1 {
		return candidates[0], nil
	}

	switch cfg.Kind {
	case Random:
		return candidates[rand.Intn(len(candidates))], nil

	case LeastLatency:
		return s.selectByMin(candidates, func(d *Deployment) float64 {
			return sc.Metrics.LatencyP50(d.Provider.Name(), d.Upstream)
		}), nil

	case LeastCost:
		return s.selectByMin(candidates, func(d *Deployment) float64 {
			cost, err := d.Provider.CalculateCost(d.Upstream, 1000, 1000)
			if err != nil {
				return 0
			}
			return cost.Amount
		}), nil

	case LeastBusy:
		return s.selectByMin(candidates, func(d *Deployment) float64 {
			return float64(d.ActiveRequests())
		}), nil

	case UsageBased:
		return s.selectByMin(candidates, func(d *Deployment) float64 {
			w := sc.Health.Weights()[d.ID]
			return 1 - w // lower weight == more used up, so invert for "min is best"
		}), nil

	case Weighted:
		return s.selectWeighted(candidates), nil

	case Priority:
		return s.selectByPriority(candidates), nil

	case ABTest:
		return s.selectABTest(cfg.SplitRatio, sc.RoutingKey, candidates), nil

	case ConsistentHash:
		return s.selectConsistentHash(model, sc.RoutingKey, candidates), nil

	case Custom:
		return s.selectCustom(cfg.LuaScript, sc, candidates)

	case RoundRobin:
		fallthrough
	default:
		return s.selectRoundRobin(model, candidates), nil
	}
}

func (s *Selector) counter(model string) *atomic.Uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.counters[model]
	if !ok {
		c = atomic.NewUint64(0)
		s.counters[model] = c
	}
	return c
}

func (s *Selector) selectRoundRobin(model string, candidates []*Deployment) *Deployment {
	n := s.counter(model).Inc()
	return candidates[int(n-1)%len(candidates)]
}

func (s *Selector) selectByMin(candidates []*Deployment, score func(*Deployment) float64) *Deployment {
	best := candidates[0]
	bestScore := score(best)
	for _, d := range candidates[1:] {
		if sc := score(d); sc < bestScore {
			best, bestScore = d, sc
		}
	}
	return best
}

func (s *Selector) selectWeighted(candidates []*Deployment) *Deployment {
	var total float64
	for _, d := range candidates {
		w := d.Weight
		if w <= 0 {
			w = 1
		}
		total += w
	}
	if total <= 0 {
		return candidates[rand.Intn(len(candidates))]
	}

	r := rand.Float64() * total
	var cum float64
	for _, d := range candidates {
		w := d.Weight
		if w <= 0 {
			w = 1
		}
		cum += w
		if r <= cum {
			return d
		}
	}
	return candidates[len(candidates)-1]
}

func (s *Selector) selectByPriority(candidates []*Deployment) *Deployment {
	sorted := make([]*Deployment, len(candidates))
	copy(sorted, candidates)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Priority != sorted[j].Priority {
			return sorted[i].Priority < sorted[j].Priority
		}
		return sorted[i].Weight > sorted[j].Weight
	})
	return sorted[0]
}

// selectABTest splits traffic deterministically by RoutingKey when
// present (so the same user consistently lands in the same arm),
// falling back to a random draw when no key is given. Candidates are
// treated as two arms: candidates[0] is "control", everything else is
// "treatment"; splitRatio is the fraction of traffic sent to treatment.
func (s *Selector) selectABTest(splitRatio float64, routingKey string, candidates []*Deployment) *Deployment {
	if splitRatio <= 0 {
		return candidates[0]
	}
	if splitRatio >= 1 || len(candidates) == 1 {
		return candidates[len(candidates)-1]
	}

	var frac float64
	if routingKey != "" {
		frac = float64(stableHash(routingKey)%10000) / 10000
	} else {
		frac = rand.Float64()
	}

	if frac < splitRatio {
		return candidates[1+rand.Intn(len(candidates)-1)]
	}
	return candidates[0]
}
