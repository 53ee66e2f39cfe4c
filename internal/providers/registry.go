package providers

import (
	"net/http"

	"github.com/llmgateway/gateway/internal/types"
)

// openRouterHeaders carries the attribution headers OpenRouter asks
// integrators to set; other OpenAI-compatible backends need none.
func openRouterHeaders(siteURL, siteName string) map[string]string {
	h := map[string]string{}
	if siteURL != "" {
		h["HTTP-Referer"] = siteURL
	}
	if siteName != "" {
		h["X-Title"] = siteName
	}
	return h
}

// NewGroq builds the Groq adapter, an OpenAI-compatible endpoint known
// for very low per-token latency on open-weight models.
func NewGroq(apiKey, baseURL string, client *http.Client, models []types.ModelSpec) *OpenAICompat {
	return NewOpenAICompat("groq", apiKey, baseURL, client, models, nil)
}

// NewDeepSeek builds the DeepSeek adapter.
func NewDeepSeek(apiKey, baseURL string, client *http.Client, models []types.ModelSpec) *OpenAICompat {
	return NewOpenAICompat("deepseek", apiKey, baseURL, client, models, nil)
}

// NewDeepInfra builds the DeepInfra adapter, a hosting layer for a wide
// catalog of open-weight models behind one OpenAI-compatible endpoint.
func NewDeepInfra(apiKey, baseURL string, client *http.Client, models []types.ModelSpec) *OpenAICompat {
	return NewOpenAICompat("deepinfra", apiKey, baseURL, client, models, nil)
}

// NewOpenRouter builds the OpenRouter adapter, a model-routing aggregator
// in its own right; siteURL/siteName populate the attribution headers
// OpenRouter uses for per-app usage dashboards.
func NewOpenRouter(apiKey, baseURL, siteURL, siteName string, client *http.Client, models []types.ModelSpec) *OpenAICompat {
	return NewOpenAICompat("openrouter", apiKey, baseURL, client, models, openRouterHeaders(siteURL, siteName))
}

// NewCloudflare builds the Cloudflare Workers AI adapter (its
// OpenAI-compatible `/v1` surface, not the native binding API).
func NewCloudflare(apiKey, baseURL string, client *http.Client, models []types.ModelSpec) *OpenAICompat {
	return NewOpenAICompat("cloudflare", apiKey, baseURL, client, models, nil)
}

// NewXAI builds the xAI (Grok) adapter.
func NewXAI(apiKey, baseURL string, client *http.Client, models []types.ModelSpec) *OpenAICompat {
	return NewOpenAICompat("xai", apiKey, baseURL, client, models, nil)
}
