package cache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/llmgateway/gateway/internal/types"
)

func textRequest(model, text string) *types.ChatRequest {
	return &types.ChatRequest{
		Model: model,
		Messages: []types.Message{
			{Role: types.RoleUser, Content: &types.Content{Text: text}},
		},
	}
}

func textResponse(text string) *types.ChatResponse {
	return &types.ChatResponse{
		ID:    "resp1",
		Model: "gpt-4o",
		Choices: []types.Choice{
			{Index: 0, Message: types.Message{Role: types.RoleAssistant, Content: &types.Content{Text: text}}},
		},
	}
}

func TestCache_ExactHit(t *testing.T) {
	c := New(Config{})
	ctx := context.Background()
	req := textRequest("gpt-4o", "hello world")

	if _, _, ok := c.Get(ctx, req); ok {
		t.Fatal("empty cache should miss")
	}

	if err := c.Set(ctx, req, textResponse("hi there")); err != nil {
		t.Fatalf("Set returned error: %v", err)
	}

	resp, metrics, ok := c.Get(ctx, req)
	if !ok {
		t.Fatal("expected exact hit after Set")
	}
	if metrics.CacheType != "exact" {
		t.Errorf("cache type = %q, want exact", metrics.CacheType)
	}
	if !resp.CacheHit {
		t.Error("returned response should have CacheHit set")
	}
}

func TestCache_DifferentRequestsDoNotCollide(t *testing.T) {
	c := New(Config{})
	ctx := context.Background()

	c.Set(ctx, textRequest("gpt-4o", "foo"), textResponse("a"))
	if _, _, ok := c.Get(ctx, textRequest("gpt-4o", "bar")); ok {
		t.Error("different prompt should not hit")
	}
	if _, _, ok := c.Get(ctx, textRequest("claude-3", "foo")); ok {
		t.Error("different model should not hit")
	}
}

func TestCache_TTLExpiry(t *testing.T) {
	c := New(Config{DefaultTTL: 20 * time.Millisecond})
	ctx := context.Background()
	req := textRequest("gpt-4o", "hello")
	c.Set(ctx, req, textResponse("hi"))

	time.Sleep(30 * time.Millisecond)
	if _, _, ok := c.Get(ctx, req); ok {
		t.Error("expired entry should miss")
	}
}

func TestCache_EvictsWhenFull(t *testing.T) {
	c := New(Config{MaxSize: 2})
	ctx := context.Background()

	c.Set(ctx, textRequest("m", "a"), textResponse("a"))
	c.Set(ctx, textRequest("m", "b"), textResponse("b"))
	c.Set(ctx, textRequest("m", "c"), textResponse("c"))

	stats := c.Stats()
	if stats.TotalEntries > 2 {
		t.Errorf("total entries = %d, should stay at or under max size 2", stats.TotalEntries)
	}
}

func TestCache_Clear(t *testing.T) {
	c := New(Config{})
	ctx := context.Background()
	c.Set(ctx, textRequest("m", "a"), textResponse("a"))
	c.Clear()
	if stats := c.Stats(); stats.TotalEntries != 0 {
		t.Errorf("total entries after Clear = %d, want 0", stats.TotalEntries)
	}
}

type fakeEmbedder struct {
	vectors map[string][]float32
}

func (f *fakeEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if v, ok := f.vectors[text]; ok {
		return v, nil
	}
	return []float32{0, 0, 0}, nil
}

func TestCache_SemanticHit(t *testing.T) {
	embedder := &fakeEmbedder{vectors: map[string][]float32{
		"what is the capital of france":   {1, 0, 0},
		"what's the capital city of france": {0.99, 0.01, 0},
	}}
	c := New(Config{Embedder: embedder, SimilarityThreshold: 0.9})
	ctx := context.Background()

	original := textRequest("gpt-4o", "what is the capital of france")
	c.Set(ctx, original, textResponse("Paris"))

	similar := textRequest("gpt-4o", "what's the capital city of france")
	resp, metrics, ok := c.Get(ctx, similar)
	if !ok {
		t.Fatal("expected semantic hit for near-duplicate prompt")
	}
	if metrics.CacheType != "semantic" {
		t.Errorf("cache type = %q, want semantic", metrics.CacheType)
	}
	if resp.Choices[0].Message.Content.Text != "Paris" {
		t.Errorf("unexpected cached response content: %q", resp.Choices[0].Message.Content.Text)
	}
}

func TestCache_SemanticMissBelowThreshold(t *testing.T) {
	embedder := &fakeEmbedder{vectors: map[string][]float32{
		"foo": {1, 0, 0},
		"bar": {0, 1, 0},
	}}
	c := New(Config{Embedder: embedder, SimilarityThreshold: 0.9})
	ctx := context.Background()

	c.Set(ctx, textRequest("m", "foo"), textResponse("a"))
	if _, _, ok := c.Get(ctx, textRequest("m", "bar")); ok {
		t.Error("orthogonal vectors should not hit above a 0.9 threshold")
	}
}

func TestCache_GetOrCompute_CoalescesConcurrentCallers(t *testing.T) {
	c := New(Config{})
	ctx := context.Background()
	req := textRequest("m", "foo")

	var calls int32
	compute := func(ctx context.Context) (*types.ChatResponse, error) {
		atomic.AddInt32(&calls, 1)
		time.Sleep(20 * time.Millisecond)
		return textResponse("computed"), nil
	}

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, _, err := c.GetOrCompute(ctx, req, compute); err != nil {
				t.Errorf("GetOrCompute returned error: %v", err)
			}
		}()
	}
	wg.Wait()

	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Errorf("compute called %d times, want 1 (single-flight)", got)
	}
}

func TestCache_GetOrCompute_PropagatesError(t *testing.T) {
	c := New(Config{})
	ctx := context.Background()
	wantErr := errors.New("upstream failed")

	_, _, err := c.GetOrCompute(ctx, textRequest("m", "x"), func(ctx context.Context) (*types.ChatResponse, error) {
		return nil, wantErr
	})
	if !errors.Is(err, wantErr) {
		t.Errorf("error = %v, want %v", err, wantErr)
	}
}
