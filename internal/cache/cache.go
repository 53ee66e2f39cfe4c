package cache

import (
	"context"
	"encoding/json"
	"math/rand"
	"sync"
	"time"

	"github.com/llmgateway/gateway/internal/types"
)

// Config tunes a Cache.
type Config struct {
	MaxSize    int
	DefaultTTL time.Duration
	// Embedder enables semantic lookup when non-nil. A nil Embedder (the
	// zero value) restricts the cache to exact-fingerprint matching.
	Embedder Embedder
	// SimilarityThreshold is the minimum cosine similarity for a
	// semantic hit; defaults to DefaultSimilarityThreshold.
	SimilarityThreshold float32
}

// Cache is a bounded, TTL'd response cache with exact and semantic
// lookup, grounded on the create/get/set/evict/stats shape of
// original_source's RerankCache generalized from rerank-only to chat
// completion responses.
type Cache struct {
	mu         sync.RWMutex
	entries    map[string]*entry
	maxSize    int
	defaultTTL time.Duration

	embedder  Embedder
	threshold float32

	inflight sync.Map // fingerprint -> *inflightCall
}

type inflightCall struct {
	done chan struct{}
	resp *types.ChatResponse
	err  error
}

// New builds a Cache from cfg, defaulting MaxSize/DefaultTTL/threshold
// when left zero and falling back to NoopEmbedder when Embedder is nil.
func New(cfg Config) *Cache {
	if cfg.MaxSize <= 0 {
		cfg.MaxSize = 10000
	}
	if cfg.DefaultTTL <= 0 {
		cfg.DefaultTTL = 5 * time.Minute
	}
	if cfg.SimilarityThreshold <= 0 {
		cfg.SimilarityThreshold = DefaultSimilarityThreshold
	}
	embedder := cfg.Embedder
	if embedder == nil {
		embedder = NoopEmbedder{}
	}
	return &Cache{
		entries:    make(map[string]*entry),
		maxSize:    cfg.MaxSize,
		defaultTTL: cfg.DefaultTTL,
		embedder:   embedder,
		threshold:  cfg.SimilarityThreshold,
	}
}

// Get looks up req by exact fingerprint first, then (if an embedder is
// configured) by semantic similarity against the prompt text of every
// live entry. Returns the cached response, lookup metrics, and whether
// it was a hit.
func (c *Cache) Get(ctx context.Context, req *types.ChatRequest) (*types.ChatResponse, Metrics, bool) {
	start := time.Now()
	fp := Fingerprint(req)

	c.mu.RLock()
	e, ok := c.entries[fp]
	c.mu.RUnlock()
	if ok && !e.expired(time.Now()) {
		resp, err := decodeResponse(e.response)
		if err == nil {
			resp.CacheHit = true
			return resp, Metrics{Hit: true, CacheType: "exact", CacheKey: fp, Latency: time.Since(start)}, true
		}
	}

	if _, isNoop := c.embedder.(NoopEmbedder); isNoop {
		return nil, Metrics{Hit: false, Latency: time.Since(start)}, false
	}

	prompt := lastUserText(req)
	if prompt == "" {
		return nil, Metrics{Hit: false, Latency: time.Since(start)}, false
	}
	vec, err := c.embedder.Embed(ctx, prompt)
	if err != nil || len(vec) == 0 {
		return nil, Metrics{Hit: false, Latency: time.Since(start)}, false
	}

	bestKey, bestScore, bestEntry := c.bestSemanticMatch(req.Model, vec)
	if bestEntry == nil || bestScore < c.threshold {
		return nil, Metrics{Hit: false, Latency: time.Since(start)}, false
	}

	resp, err := decodeResponse(bestEntry.response)
	if err != nil {
		return nil, Metrics{Hit: false, Latency: time.Since(start)}, false
	}
	resp.CacheHit = true
	return resp, Metrics{
		Hit:             true,
		CacheType:       "semantic",
		CacheKey:        bestKey,
		SimilarityScore: bestScore,
		Latency:         time.Since(start),
	}, true
}

func (c *Cache) bestSemanticMatch(model string, vec []float32) (string, float32, *entry) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	now := time.Now()
	var bestKey string
	var bestScore float32
	var best *entry
	for k, e := range c.entries {
		if e.expired(now) || len(e.embedding) == 0 {
			continue
		}
		score := cosineSimilarity(vec, e.embedding)
		if score > bestScore {
			bestScore, bestKey, best = score, k, e
		}
	}
	return bestKey, bestScore, best
}

// Set stores resp under req's fingerprint, embedding the prompt for
// future semantic lookups when an embedder is configured.
func (c *Cache) Set(ctx context.Context, req *types.ChatRequest, resp *types.ChatResponse) error {
	return c.SetTTL(ctx, req, resp, c.defaultTTL)
}

// SetTTL is Set with an explicit TTL override.
func (c *Cache) SetTTL(ctx context.Context, req *types.ChatRequest, resp *types.ChatResponse, ttl time.Duration) error {
	body, err := json.Marshal(resp)
	if err != nil {
		return err
	}

	var vec []float32
	if _, isNoop := c.embedder.(NoopEmbedder); !isNoop {
		if prompt := lastUserText(req); prompt != "" {
			vec, _ = c.embedder.Embed(ctx, prompt)
		}
	}

	fp := Fingerprint(req)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.evictIfFullLocked()
	c.entries[fp] = &entry{response: body, embedding: vec, createdAt: time.Now(), ttl: ttl}
	return nil
}

// evictIfFullLocked drops expired entries first, then one random entry
// if still at capacity, matching original_source's RerankCache.set
// eviction order: expire-then-random, never LRU bookkeeping.
func (c *Cache) evictIfFullLocked() {
	if len(c.entries) < c.maxSize {
		return
	}

	now := time.Now()
	for k, e := range c.entries {
		if e.expired(now) {
			delete(c.entries, k)
		}
	}

	if len(c.entries) < c.maxSize {
		return
	}

	victim := randomKey(c.entries)
	if victim != "" {
		delete(c.entries, victim)
	}
}

func randomKey(m map[string]*entry) string {
	n := rand.Intn(len(m))
	i := 0
	for k := range m {
		if i == n {
			return k
		}
		i++
	}
	return ""
}

// Clear empties the cache.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]*entry)
}

// Stats reports current occupancy.
func (c *Cache) Stats() Stats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	now := time.Now()
	valid := 0
	for _, e := range c.entries {
		if !e.expired(now) {
			valid++
		}
	}
	return Stats{TotalEntries: len(c.entries), ValidEntries: valid, MaxSize: c.maxSize}
}

// GetOrCompute serves req from cache if present; otherwise it calls
// compute, coalescing concurrent callers for the same fingerprint into
// a single upstream call (a hand-rolled single-flight: the pack doesn't
// carry golang.org/x/sync, so this is a small sync.Map of in-flight
// channels rather than x/sync/singleflight.Group).
func (c *Cache) GetOrCompute(ctx context.Context, req *types.ChatRequest, compute func(ctx context.Context) (*types.ChatResponse, error)) (*types.ChatResponse, Metrics, error) {
	if resp, metrics, ok := c.Get(ctx, req); ok {
		return resp, metrics, nil
	}

	fp := Fingerprint(req)
	call := &inflightCall{done: make(chan struct{})}
	actual, loaded := c.inflight.LoadOrStore(fp, call)
	if loaded {
		waitCall := actual.(*inflightCall)
		<-waitCall.done
		return waitCall.resp, Metrics{Hit: false, CacheKey: fp}, waitCall.err
	}

	defer func() {
		c.inflight.Delete(fp)
		close(call.done)
	}()

	resp, err := compute(ctx)
	call.resp, call.err = resp, err
	if err == nil && resp != nil {
		_ = c.Set(ctx, req, resp)
	}
	return resp, Metrics{Hit: false, CacheKey: fp}, err
}

func decodeResponse(body []byte) (*types.ChatResponse, error) {
	var resp types.ChatResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func lastUserText(req *types.ChatRequest) string {
	for i := len(req.Messages) - 1; i >= 0; i-- {
		m := req.Messages[i]
		if m.Role == types.RoleUser && m.Content != nil {
			if text := m.Content.PlainText(); text != "" {
				return text
			}
		}
	}
	return ""
}
