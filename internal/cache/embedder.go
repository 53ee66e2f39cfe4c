package cache

import "context"

// Embedder turns text into a fixed-dimension vector for semantic cache
// lookups. A nil Embedder (or NoopEmbedder) disables semantic lookup
// entirely; the cache falls back to exact-fingerprint matching only.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// NoopEmbedder implements Embedder by always reporting "no vector",
// used when the gateway is configured without a local or remote
// embedding model.
type NoopEmbedder struct{}

// Embed always returns a nil vector and no error.
func (NoopEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return nil, nil
}
