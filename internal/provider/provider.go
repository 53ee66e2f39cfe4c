// Package provider defines the Provider interface every LLM backend must
// satisfy. The rest of the gateway — handlers, router, cache — works
// only with these types and the canonical types package, so it never
// needs to know which concrete upstream is serving a request.
package provider

import (
	"context"

	"github.com/llmgateway/gateway/internal/types"
)

// Provider is the capability contract of spec.md §4.2. Go interfaces are
// implicit — any struct with these methods satisfies Provider without
// declaring so.
type Provider interface {
	// Name returns the stable provider identifier, e.g. "anthropic".
	Name() string

	// Capabilities returns the set of operations this provider supports.
	Capabilities() types.CapabilitySet

	// Models lists the model specs this provider instance exposes.
	// Immutable for the lifetime of the instance.
	Models() []types.ModelSpec

	// SupportsModel reports whether id is one of Models().
	SupportsModel(id string) bool

	// SupportedParams returns the canonical request field names this
	// model accepts; a transformer drops everything else before
	// marshaling the native request.
	SupportedParams(modelID string) map[string]bool

	// ChatCompletion sends a non-streaming request and returns the
	// complete response. ctx carries cancellation/deadline — if the
	// caller disconnects, the provider adapter stops waiting.
	ChatCompletion(ctx context.Context, req *types.ChatRequest) (*types.ChatResponse, error)

	// ChatCompletionStream returns a channel that delivers StreamChunks
	// as they arrive. The channel is receive-only, finite, and not
	// restartable; the adapter closes it when the stream ends or fails.
	ChatCompletionStream(ctx context.Context, req *types.ChatRequest) (<-chan types.StreamChunk, error)

	// CalculateCost prices in/out token counts for modelID; fails for a
	// model this provider doesn't know.
	CalculateCost(modelID string, inTokens, outTokens int) (types.Money, error)

	// HealthCheck performs a cheap liveness probe against the upstream.
	HealthCheck(ctx context.Context) error
}

// ApplySupportedParams returns a shallow copy of req with every
// canonical field not named in supported cleared, so a transformer
// never builds a wire request naming a parameter the target model
// doesn't accept (spec.md §4.4). supported is whatever a Provider's own
// SupportedParams(req.Model) returns; callers should run this once,
// right before marshaling, rather than hand-picking fields themselves.
func ApplySupportedParams(req *types.ChatRequest, supported map[string]bool) *types.ChatRequest {
	if req == nil {
		return nil
	}
	out := *req
	if !supported["temperature"] {
		out.Temperature = nil
	}
	if !supported["top_p"] {
		out.TopP = nil
	}
	if !supported["max_tokens"] {
		out.MaxTokens = nil
		out.MaxCompletionTokens = nil
	}
	if !supported["frequency_penalty"] {
		out.FrequencyPenalty = nil
	}
	if !supported["presence_penalty"] {
		out.PresencePenalty = nil
	}
	if !supported["seed"] {
		out.Seed = nil
	}
	if !supported["stop"] {
		out.Stop = nil
	}
	if !supported["tools"] {
		out.Tools = nil
		out.ToolChoice = nil
	}
	if !supported["tool_choice"] {
		out.ToolChoice = nil
	}
	if !supported["response_format"] {
		out.ResponseFormat = nil
	}
	return &out
}

// EmbeddingProvider is implemented by providers exposing CapEmbedding.
type EmbeddingProvider interface {
	Embedding(ctx context.Context, model string, input []string) ([][]float32, *types.Usage, error)
}

// ImageProvider is implemented by providers exposing CapImage.
type ImageProvider interface {
	GenerateImage(ctx context.Context, model, prompt string, n int) ([]ImageResult, error)
}

// ImageResult is one generated image, either a URL or inline bytes.
type ImageResult struct {
	URL       string
	B64JSON   string
	RevisedPrompt string
}

// AudioProvider is implemented by providers exposing audio capabilities.
type AudioProvider interface {
	AudioTranscription(ctx context.Context, model string, audio []byte, filename string) (string, error)
	AudioTranslation(ctx context.Context, model string, audio []byte, filename string) (string, error)
	AudioSpeech(ctx context.Context, model, voice, input string) ([]byte, error)
}

// ModerationProvider is implemented by providers exposing CapModeration.
type ModerationProvider interface {
	Moderate(ctx context.Context, model string, input []string) ([]ModerationResult, error)
}

// ModerationResult is one input's moderation verdict.
type ModerationResult struct {
	Flagged    bool
	Categories map[string]bool
	Scores     map[string]float64
}

// RerankProvider is implemented by providers exposing CapRerank.
type RerankProvider interface {
	Rerank(ctx context.Context, model, query string, documents []string, topN int) ([]RerankResult, error)
}

// RerankResult is one scored document.
type RerankResult struct {
	Index int
	Score float64
}

// Quirks is the §9 "dummy-tool workaround" hook: a per-provider escape
// hatch for upstream-specific request massaging that doesn't belong in
// the general transformer logic. A provider that needs no quirks simply
// doesn't implement this interface.
type Quirks interface {
	// NeedsDummyToolForAutoChoice reports whether this provider rejects
	// tool_choice=auto when no tools are supplied, and so needs a
	// synthetic no-op tool injected to keep the request valid.
	NeedsDummyToolForAutoChoice() bool
}

// ErrNotSupportedCapability builds the canonical error returned when a
// capability method is called on a provider that lacks the flag.
func ErrNotSupportedCapability(providerName string, cap types.ProviderCapability) error {
	return types.NewProviderError(providerName, types.ErrNotSupported,
		string(cap)+" is not supported by this provider", nil)
}
