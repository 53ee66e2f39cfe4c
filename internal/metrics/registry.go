package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
)

// Registry tracks request counts, errors, latency, and cost per
// (provider, model) and exposes them both as live BoundedHistograms (for
// the router's least-latency/least-cost strategies) and as Prometheus
// collectors (for the /metrics endpoint).
type Registry struct {
	mu         sync.RWMutex
	histograms map[string]*BoundedHistogram

	requests  *prometheus.CounterVec
	errors    *prometheus.CounterVec
	latency   *prometheus.HistogramVec
	tokens    *prometheus.CounterVec
	costUSD   *prometheus.CounterVec

	lastSeen map[string]time.Time
}

// NewRegistry builds a Registry and registers its collectors against
// reg (pass prometheus.NewRegistry() for isolated tests, or
// prometheus.DefaultRegisterer in production).
func NewRegistry(reg prometheus.Registerer) *Registry {
	factory := promauto.With(reg)
	return &Registry{
		histograms: make(map[string]*BoundedHistogram),
		lastSeen:   make(map[string]time.Time),
		requests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "llmgateway",
			Name:      "requests_total",
			Help:      "Total chat/embedding/etc requests routed, by provider/model/status.",
		}, []string{"provider", "model", "status"}),
		errors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "llmgateway",
			Name:      "errors_total",
			Help:      "Total provider errors, by provider/model/kind.",
		}, []string{"provider", "model", "kind"}),
		latency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "llmgateway",
			Name:      "request_duration_seconds",
			Help:      "Request latency by provider/model.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"provider", "model"}),
		tokens: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "llmgateway",
			Name:      "tokens_total",
			Help:      "Total tokens consumed, by provider/model/kind (prompt|completion).",
		}, []string{"provider", "model", "kind"}),
		costUSD: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "llmgateway",
			Name:      "cost_usd_total",
			Help:      "Total estimated cost in USD, by provider/model.",
		}, []string{"provider", "model"}),
	}
}

func key(provider, model string) string {
	return provider + "/" + model
}

// RecordSuccess records a successful request's latency, token usage,
// and cost against provider/model.
func (r *Registry) RecordSuccess(provider, model string, latency time.Duration, promptTokens, completionTokens int, costUSD float64) {
	r.requests.WithLabelValues(provider, model, "success").Inc()
	r.latency.WithLabelValues(provider, model).Observe(latency.Seconds())
	r.tokens.WithLabelValues(provider, model, "prompt").Add(float64(promptTokens))
	r.tokens.WithLabelValues(provider, model, "completion").Add(float64(completionTokens))
	r.costUSD.WithLabelValues(provider, model).Add(costUSD)

	r.histogramFor(provider, model).Record(float64(latency.Milliseconds()))
	r.touch(provider, model)
}

// RecordError records a failed request against provider/model, tagged
// with the error kind (e.g. "rate_limit", "timeout").
func (r *Registry) RecordError(provider, model, kind string, latency time.Duration) {
	r.requests.WithLabelValues(provider, model, "error").Inc()
	r.errors.WithLabelValues(provider, model, kind).Inc()
	r.latency.WithLabelValues(provider, model).Observe(latency.Seconds())
	r.touch(provider, model)
}

func (r *Registry) touch(provider, model string) {
	r.mu.Lock()
	r.lastSeen[key(provider, model)] = time.Now()
	r.mu.Unlock()
}

// histogramFor returns (creating if needed) the BoundedHistogram for
// provider/model, used by the router's latency-aware strategies.
func (r *Registry) histogramFor(provider, model string) *BoundedHistogram {
	k := key(provider, model)

	r.mu.RLock()
	h, ok := r.histograms[k]
	r.mu.RUnlock()
	if ok {
		return h
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if h, ok := r.histograms[k]; ok {
		return h
	}
	h = NewBoundedHistogram(defaultMaxSamples)
	r.histograms[k] = h
	return h
}

// LatencyP50 returns the median observed latency in milliseconds for
// provider/model, 0 if nothing has been recorded yet.
func (r *Registry) LatencyP50(provider, model string) float64 {
	return r.histogramFor(provider, model).Percentile(50)
}

// LatencyP99 returns the 99th percentile observed latency in
// milliseconds for provider/model.
func (r *Registry) LatencyP99(provider, model string) float64 {
	return r.histogramFor(provider, model).Percentile(99)
}

// CleanupIdle drops histograms for (provider, model) pairs that
// haven't recorded anything in longer than maxIdle, intended to be
// driven by a periodic ticker so long-retired deployments don't leak
// memory forever.
func (r *Registry) CleanupIdle(maxIdle time.Duration) {
	cutoff := time.Now().Add(-maxIdle)

	r.mu.Lock()
	defer r.mu.Unlock()

	// Snapshot and sort the keys before evicting so a cleanup pass
	// always walks (provider, model) pairs in the same order run to
	// run, regardless of Go's randomized map iteration.
	keys := maps.Keys(r.lastSeen)
	slices.Sort(keys)
	for _, k := range keys {
		if r.lastSeen[k].Before(cutoff) {
			delete(r.lastSeen, k)
			delete(r.histograms, k)
		}
	}
}

// StartCleanup runs CleanupIdle every interval until stop is closed.
func (r *Registry) StartCleanup(interval, maxIdle time.Duration, stop <-chan struct{}) {
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				r.CleanupIdle(maxIdle)
			case <-stop:
				return
			}
		}
	}()
}
