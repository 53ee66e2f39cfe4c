package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/llmgateway/gateway/internal/httpclient"
	"github.com/llmgateway/gateway/internal/provider"
	"github.com/llmgateway/gateway/internal/types"
)

// azureAPIVersion is the query-string API version Azure OpenAI requires
// on every request.
const azureAPIVersion = "2024-06-01"

// Azure implements provider.Provider for Azure OpenAI. The request/
// response bodies are identical to OpenAI's chat completions shape, so
// this wraps OpenAICompat and only overrides routing (deployment-scoped
// URL path, api-key header instead of Bearer, api-version query param).
type Azure struct {
	inner      *OpenAICompat
	apiKey     string
	baseURL    string // e.g. https://my-resource.openai.azure.com
	client     *http.Client
	deployment map[string]string // model id -> Azure deployment name
}

func NewAzure(apiKey, baseURL string, client *http.Client, models []types.ModelSpec, deployment map[string]string) *Azure {
	inner := NewOpenAICompat("azure", apiKey, baseURL, client, models, nil)
	return &Azure{inner: inner, apiKey: apiKey, baseURL: baseURL, client: client, deployment: deployment}
}

func (a *Azure) Name() string { return "azure" }

func (a *Azure) Models() []types.ModelSpec { return a.inner.Models() }

func (a *Azure) Capabilities() types.CapabilitySet { return a.inner.Capabilities() }

func (a *Azure) SupportsModel(id string) bool { return a.inner.SupportsModel(id) }

func (a *Azure) SupportedParams(modelID string) map[string]bool { return a.inner.SupportedParams(modelID) }

func (a *Azure) CalculateCost(modelID string, inTokens, outTokens int) (types.Money, error) {
	return a.inner.CalculateCost(modelID, inTokens, outTokens)
}

func (a *Azure) HealthCheck(ctx context.Context) error {
	url := fmt.Sprintf("%s/openai/models?api-version=%s", a.baseURL, azureAPIVersion)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	req.Header.Set("api-key", a.apiKey)
	resp, err := a.client.Do(req)
	if err != nil {
		return httpclient.ClassifyTransportError(a.Name(), err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 500 {
		return types.NewProviderError(a.Name(), types.ErrServiceUnavailable, "health check failed", nil)
	}
	return nil
}

func (a *Azure) deploymentURL(modelID string) string {
	dep := a.deployment[modelID]
	if dep == "" {
		dep = modelID
	}
	return fmt.Sprintf("%s/openai/deployments/%s/chat/completions?api-version=%s", a.baseURL, dep, azureAPIVersion)
}

func (a *Azure) do(ctx context.Context, req *types.ChatRequest, stream bool) (*http.Response, error) {
	req = provider.ApplySupportedParams(req, a.SupportedParams(req.Model))
	wr := toWireRequest(req, stream)
	body, err := json.Marshal(wr)
	if err != nil {
		return nil, types.NewProviderError(a.Name(), types.ErrInvalidRequest, "marshaling request", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.deploymentURL(req.Model), bytes.NewReader(body))
	if err != nil {
		return nil, types.NewProviderError(a.Name(), types.ErrInternal, "creating request", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("api-key", a.apiKey)
	resp, err := a.client.Do(httpReq)
	if err != nil {
		return nil, httpclient.ClassifyTransportError(a.Name(), err)
	}
	return resp, nil
}

func (a *Azure) ChatCompletion(ctx context.Context, req *types.ChatRequest) (*types.ChatResponse, error) {
	httpResp, err := a.do(ctx, req, false)
	if err != nil {
		return nil, err
	}
	defer httpResp.Body.Close()
	if httpResp.StatusCode != http.StatusOK {
		return nil, classifyHTTPError(a.Name(), httpResp)
	}
	var wresp wireResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&wresp); err != nil {
		return nil, types.NewProviderError(a.Name(), types.ErrParsing, "decoding response", err)
	}
	resp := &types.ChatResponse{ID: wresp.ID, Created: wresp.Created, Model: wresp.Model, Usage: fromWireUsage(wresp.Usage)}
	for _, c := range wresp.Choices {
		var fr *types.FinishReason
		if c.FinishReason != nil {
			f := types.FinishReason(*c.FinishReason)
			fr = &f
		}
		content := &types.Content{}
		if s, ok := c.Message.Content.(string); ok {
			content.Text = s
		}
		resp.Choices = append(resp.Choices, types.Choice{
			Index:        c.Index,
			Message:      types.Message{Role: types.Role(c.Message.Role), Content: content, ToolCalls: c.Message.ToolCalls, ToolCallID: c.Message.ToolCallID},
			FinishReason: fr,
		})
	}
	return resp, nil
}

func (a *Azure) ChatCompletionStream(ctx context.Context, req *types.ChatRequest) (<-chan types.StreamChunk, error) {
	httpResp, err := a.do(ctx, req, true)
	if err != nil {
		return nil, err
	}
	if httpResp.StatusCode != http.StatusOK {
		defer httpResp.Body.Close()
		return nil, classifyHTTPError(a.Name(), httpResp)
	}

	ch := make(chan types.StreamChunk)
	go func() {
		defer close(ch)
		defer httpResp.Body.Close()

		scanErr := httpclient.ScanSSE(httpResp.Body, func(ev httpclient.SSEEvent) bool {
			var wc wireStreamChunk
			if err := json.Unmarshal([]byte(ev.Data), &wc); err != nil {
				return send(ctx, ch, types.StreamChunk{Error: types.NewProviderError(a.Name(), types.ErrStreaming, "decoding stream event", err), Done: true})
			}
			chunk := types.StreamChunk{ID: wc.ID, Created: wc.Created, Model: wc.Model, Usage: fromWireUsage(wc.Usage)}
			for _, c := range wc.Choices {
				var fr *types.FinishReason
				if c.FinishReason != nil {
					f := types.FinishReason(*c.FinishReason)
					fr = &f
				}
				chunk.Choices = append(chunk.Choices, types.ChoiceDelta{
					Index: c.Index,
					Delta: types.Delta{Role: c.Delta.Role, Content: c.Delta.Content, ToolCalls: c.Delta.ToolCalls},
					FinishReason: fr,
				})
			}
			return send(ctx, ch, chunk)
		})
		if scanErr != nil {
			send(ctx, ch, types.StreamChunk{Error: types.NewProviderError(a.Name(), types.ErrStreaming, "reading stream", scanErr), Done: true})
			return
		}
		send(ctx, ch, types.StreamChunk{Done: true})
	}()
	return ch, nil
}
