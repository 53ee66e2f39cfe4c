package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/llmgateway/gateway/internal/circuitbreaker"
	"github.com/llmgateway/gateway/internal/health"
	"github.com/llmgateway/gateway/internal/metrics"
	"github.com/llmgateway/gateway/internal/ratelimit"
	"github.com/llmgateway/gateway/internal/router"
	"github.com/llmgateway/gateway/internal/types"
)

// fakeProvider answers chat/embedding requests from injected functions,
// mirroring internal/router's test double but living in this package
// since it needs to exercise the HTTP layer, not just Execute.
type fakeProvider struct {
	name      string
	chatFn    func(ctx context.Context) (*types.ChatResponse, error)
	streamFn  func(ctx context.Context) (<-chan types.StreamChunk, error)
	embedFn   func(ctx context.Context, input []string) ([][]float32, *types.Usage, error)
}

func (p *fakeProvider) Name() string                      { return p.name }
func (p *fakeProvider) Capabilities() types.CapabilitySet  { return types.NewCapabilitySet(types.CapChat) }
func (p *fakeProvider) Models() []types.ModelSpec          { return nil }
func (p *fakeProvider) SupportsModel(id string) bool       { return true }
func (p *fakeProvider) SupportedParams(id string) map[string]bool { return nil }
func (p *fakeProvider) CalculateCost(id string, in, out int) (types.Money, error) {
	return types.Money{Amount: 0, Currency: "USD"}, nil
}
func (p *fakeProvider) HealthCheck(ctx context.Context) error { return nil }
func (p *fakeProvider) ChatCompletion(ctx context.Context, req *types.ChatRequest) (*types.ChatResponse, error) {
	return p.chatFn(ctx)
}
func (p *fakeProvider) ChatCompletionStream(ctx context.Context, req *types.ChatRequest) (<-chan types.StreamChunk, error) {
	return p.streamFn(ctx)
}
func (p *fakeProvider) Embedding(ctx context.Context, model string, input []string) ([][]float32, *types.Usage, error) {
	return p.embedFn(ctx, input)
}

func newTestServer(t *testing.T, fp *fakeProvider) *Server {
	t.Helper()
	reg := router.NewRegistry()
	reg.Register(router.NewDeployment("d1", "test-model", fp))

	rt := router.New(router.Params{
		Registry:        reg,
		Breakers:        circuitbreaker.NewRegistry(circuitbreaker.DefaultConfig()),
		Limiter:         ratelimit.NewLimiter(ratelimit.StrategySlidingWindow, 1000, time.Minute),
		Health:          health.NewSystem(),
		Metrics:         metrics.NewRegistry(prometheus.NewRegistry()),
		DefaultStrategy: router.Config{Kind: router.RoundRobin},
		MaxRetries:      0,
	})
	return New(rt, nil, nil, nil)
}

func TestHandleHealth(t *testing.T) {
	s := newTestServer(t, &fakeProvider{name: "p1"})
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	s.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	var body map[string]string
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["status"] != "ok" {
		t.Errorf("status = %q, want ok", body["status"])
	}
}

func TestHandleListModels(t *testing.T) {
	s := newTestServer(t, &fakeProvider{name: "p1"})
	req := httptest.NewRequest(http.MethodGet, "/v1/models", nil)
	w := httptest.NewRecorder()
	s.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if !strings.Contains(w.Body.String(), "test-model") {
		t.Errorf("response missing registered model: %s", w.Body.String())
	}
}

func TestHandleChatCompletions_NonStreaming(t *testing.T) {
	fp := &fakeProvider{name: "p1", chatFn: func(ctx context.Context) (*types.ChatResponse, error) {
		return &types.ChatResponse{ID: "resp-1", Model: "test-model"}, nil
	}}
	s := newTestServer(t, fp)

	body := strings.NewReader(`{"model":"test-model","messages":[{"role":"user","content":"hi"}]}`)
	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", body)
	w := httptest.NewRecorder()
	s.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200, body=%s", w.Code, w.Body.String())
	}
	var resp types.ChatResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.ID != "resp-1" {
		t.Errorf("id = %q, want resp-1", resp.ID)
	}
}

func TestHandleChatCompletions_Streaming(t *testing.T) {
	fp := &fakeProvider{name: "p1", streamFn: func(ctx context.Context) (<-chan types.StreamChunk, error) {
		ch := make(chan types.StreamChunk, 2)
		ch <- types.StreamChunk{Model: "test-model", Choices: []types.ChoiceDelta{{Delta: types.Delta{Content: "hi"}}}}
		close(ch)
		return ch, nil
	}}
	s := newTestServer(t, fp)

	body := strings.NewReader(`{"model":"test-model","messages":[{"role":"user","content":"hi"}],"stream":true}`)
	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", body)
	w := httptest.NewRecorder()
	s.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200, body=%s", w.Code, w.Body.String())
	}
	if !strings.Contains(w.Body.String(), "data: [DONE]") {
		t.Error("missing [DONE] sentinel in streamed body")
	}
	if ct := w.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("Content-Type = %q, want text/event-stream", ct)
	}
}

func TestHandleChatCompletions_InvalidBodyReturns400(t *testing.T) {
	s := newTestServer(t, &fakeProvider{name: "p1"})
	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", strings.NewReader(`{"model":"test-model","messages":[]}`))
	w := httptest.NewRecorder()
	s.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
	var body errorEnvelope
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Error.Message == "" {
		t.Error("expected a non-empty error message")
	}
}

func TestHandleEmbeddings(t *testing.T) {
	fp := &fakeProvider{name: "p1", embedFn: func(ctx context.Context, input []string) ([][]float32, *types.Usage, error) {
		return [][]float32{{0.1, 0.2}}, &types.Usage{TotalTokens: 3}, nil
	}}
	s := newTestServer(t, fp)

	body := strings.NewReader(`{"model":"test-model","input":["hello"]}`)
	req := httptest.NewRequest(http.MethodPost, "/v1/embeddings", body)
	w := httptest.NewRecorder()
	s.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200, body=%s", w.Code, w.Body.String())
	}
	if !strings.Contains(w.Body.String(), "0.1") {
		t.Errorf("response missing embedding data: %s", w.Body.String())
	}
}

// chatOnlyProvider implements provider.Provider but no capability
// interfaces, exercising the ErrNotSupportedCapability path.
type chatOnlyProvider struct{ name string }

func (p *chatOnlyProvider) Name() string                     { return p.name }
func (p *chatOnlyProvider) Capabilities() types.CapabilitySet { return types.NewCapabilitySet(types.CapChat) }
func (p *chatOnlyProvider) Models() []types.ModelSpec         { return nil }
func (p *chatOnlyProvider) SupportsModel(id string) bool      { return true }
func (p *chatOnlyProvider) SupportedParams(id string) map[string]bool { return nil }
func (p *chatOnlyProvider) CalculateCost(id string, in, out int) (types.Money, error) {
	return types.Money{}, nil
}
func (p *chatOnlyProvider) HealthCheck(ctx context.Context) error { return nil }
func (p *chatOnlyProvider) ChatCompletion(ctx context.Context, req *types.ChatRequest) (*types.ChatResponse, error) {
	return &types.ChatResponse{}, nil
}
func (p *chatOnlyProvider) ChatCompletionStream(ctx context.Context, req *types.ChatRequest) (<-chan types.StreamChunk, error) {
	return nil, nil
}

func TestHandleEmbeddings_UnsupportedCapability(t *testing.T) {
	reg := router.NewRegistry()
	reg.Register(router.NewDeployment("d1", "test-model", &chatOnlyProvider{name: "p1"}))
	rt := router.New(router.Params{
		Registry:        reg,
		Breakers:        circuitbreaker.NewRegistry(circuitbreaker.DefaultConfig()),
		Health:          health.NewSystem(),
		Metrics:         metrics.NewRegistry(prometheus.NewRegistry()),
		DefaultStrategy: router.Config{Kind: router.RoundRobin},
	})
	s := New(rt, nil, nil, nil)

	body := strings.NewReader(`{"model":"test-model","input":["hello"]}`)
	req := httptest.NewRequest(http.MethodPost, "/v1/embeddings", body)
	w := httptest.NewRecorder()
	s.ServeHTTP(w, req)

	if w.Code != http.StatusMethodNotAllowed {
		t.Fatalf("status = %d, want 405", w.Code)
	}
}

func TestAuthenticate_RejectsWithoutKey(t *testing.T) {
	reg := router.NewRegistry()
	reg.Register(router.NewDeployment("d1", "test-model", &fakeProvider{name: "p1"}))
	rt := router.New(router.Params{
		Registry:        reg,
		Breakers:        circuitbreaker.NewRegistry(circuitbreaker.DefaultConfig()),
		Health:          health.NewSystem(),
		Metrics:         metrics.NewRegistry(prometheus.NewRegistry()),
		DefaultStrategy: router.Config{Kind: router.RoundRobin},
	})
	s := New(rt, nil, NewStaticKeyAuthenticator(map[string][]string{"secret": nil}), nil)

	req := httptest.NewRequest(http.MethodGet, "/v1/models", nil)
	w := httptest.NewRecorder()
	s.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", w.Code)
	}
}

func TestAuthenticate_AcceptsValidKey(t *testing.T) {
	reg := router.NewRegistry()
	reg.Register(router.NewDeployment("d1", "test-model", &fakeProvider{name: "p1"}))
	rt := router.New(router.Params{
		Registry:        reg,
		Breakers:        circuitbreaker.NewRegistry(circuitbreaker.DefaultConfig()),
		Health:          health.NewSystem(),
		Metrics:         metrics.NewRegistry(prometheus.NewRegistry()),
		DefaultStrategy: router.Config{Kind: router.RoundRobin},
	})
	s := New(rt, nil, NewStaticKeyAuthenticator(map[string][]string{"secret": nil}), nil)

	req := httptest.NewRequest(http.MethodGet, "/v1/models", nil)
	req.Header.Set("Authorization", "Bearer secret")
	w := httptest.NewRecorder()
	s.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
}

func TestHandleHealth_BypassesAuth(t *testing.T) {
	reg := router.NewRegistry()
	rt := router.New(router.Params{
		Registry:        reg,
		Breakers:        circuitbreaker.NewRegistry(circuitbreaker.DefaultConfig()),
		Health:          health.NewSystem(),
		Metrics:         metrics.NewRegistry(prometheus.NewRegistry()),
		DefaultStrategy: router.Config{Kind: router.RoundRobin},
	})
	s := New(rt, nil, NewStaticKeyAuthenticator(map[string][]string{"secret": nil}), nil)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	s.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
}
