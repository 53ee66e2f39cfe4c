package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"

	"github.com/llmgateway/gateway/internal/httpclient"
	"github.com/llmgateway/gateway/internal/provider"
	"github.com/llmgateway/gateway/internal/types"
)

// Cohere implements provider.Provider plus provider.RerankProvider. The
// chat endpoint uses a "chat_history" shape (role "CHATBOT" instead of
// "assistant") distinct from OpenAI's messages array, and rerank is a
// first-class Cohere endpoint rather than something bolted onto chat.
type Cohere struct {
	apiKey  string
	baseURL string
	client  *http.Client
	models  []types.ModelSpec
}

func NewCohere(apiKey, baseURL string, client *http.Client, models []types.ModelSpec) *Cohere {
	return &Cohere{apiKey: apiKey, baseURL: baseURL, client: client, models: models}
}

var _ provider.RerankProvider = (*Cohere)(nil)

func (c *Cohere) Name() string { return "cohere" }

func (c *Cohere) Models() []types.ModelSpec { return c.models }

func (c *Cohere) Capabilities() types.CapabilitySet {
	return types.NewCapabilitySet(types.CapChat, types.CapChatStream, types.CapRerank)
}

func (c *Cohere) SupportsModel(id string) bool {
	for _, m := range c.models {
		if m.ID == id {
			return true
		}
	}
	return false
}

func (c *Cohere) SupportedParams(modelID string) map[string]bool {
	return map[string]bool{"temperature": true, "max_tokens": true, "stop": true, "stream": true}
}

func (c *Cohere) CalculateCost(modelID string, inTokens, outTokens int) (types.Money, error) {
	for _, m := range c.models {
		if m.ID == modelID {
			amount := float64(inTokens)/1000*m.InputCostPer1K + float64(outTokens)/1000*m.OutputCostPer1K
			currency := m.Currency
			if currency == "" {
				currency = "USD"
			}
			return types.Money{Amount: amount, Currency: currency}, nil
		}
	}
	return types.Money{}, types.NewProviderError(c.Name(), types.ErrModelNotFound, "unknown model "+modelID, nil)
}

func (c *Cohere) HealthCheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/models", nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	resp, err := c.client.Do(req)
	if err != nil {
		return httpclient.ClassifyTransportError(c.Name(), err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 500 {
		return types.NewProviderError(c.Name(), types.ErrServiceUnavailable, "health check failed", nil)
	}
	return nil
}

// --- chat wire types ---

type cohereChatMessage struct {
	Role    string `json:"role"` // USER, CHATBOT, SYSTEM
	Message string `json:"message"`
}

type cohereChatRequest struct {
	Model       string               `json:"model"`
	Message     string               `json:"message"`
	ChatHistory []cohereChatMessage  `json:"chat_history,omitempty"`
	Temperature *float64             `json:"temperature,omitempty"`
	MaxTokens   *int                 `json:"max_tokens,omitempty"`
	StopSeqs    []string             `json:"stop_sequences,omitempty"`
	Stream      bool                 `json:"stream,omitempty"`
}

type cohereChatResponse struct {
	ResponseID string `json:"response_id"`
	Text       string `json:"text"`
	Meta       struct {
		Tokens struct {
			InputTokens  float64 `json:"input_tokens"`
			OutputTokens float64 `json:"output_tokens"`
		} `json:"tokens"`
	} `json:"meta"`
	FinishReason string `json:"finish_reason"`
}

func cohereRoleToWire(r types.Role) string {
	switch r {
	case types.RoleAssistant:
		return "CHATBOT"
	case types.RoleSystem:
		return "SYSTEM"
	default:
		return "USER"
	}
}

func toCohereChatRequest(req *types.ChatRequest, stream bool) *cohereChatRequest {
	cr := &cohereChatRequest{
		Model:       req.Model,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
		StopSeqs:    req.Stop,
		Stream:      stream,
	}
	n := len(req.Messages)
	for i, msg := range req.Messages {
		text := msg.Content.PlainText()
		if i == n-1 && msg.Role == types.RoleUser {
			cr.Message = text
			continue
		}
		cr.ChatHistory = append(cr.ChatHistory, cohereChatMessage{Role: cohereRoleToWire(msg.Role), Message: text})
	}
	return cr
}

func cohereFinishReason(reason string) *types.FinishReason {
	var f types.FinishReason
	switch reason {
	case "COMPLETE":
		f = types.FinishStop
	case "MAX_TOKENS":
		f = types.FinishLength
	default:
		return nil
	}
	return &f
}

func (c *Cohere) ChatCompletion(ctx context.Context, req *types.ChatRequest) (*types.ChatResponse, error) {
	req = provider.ApplySupportedParams(req, c.SupportedParams(req.Model))
	cr := toCohereChatRequest(req, false)
	body, err := json.Marshal(cr)
	if err != nil {
		return nil, types.NewProviderError(c.Name(), types.ErrInvalidRequest, "marshaling request", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat", bytes.NewReader(body))
	if err != nil {
		return nil, types.NewProviderError(c.Name(), types.ErrInternal, "creating request", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	httpResp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, httpclient.ClassifyTransportError(c.Name(), err)
	}
	defer httpResp.Body.Close()
	if httpResp.StatusCode != http.StatusOK {
		return nil, classifyHTTPError(c.Name(), httpResp)
	}

	var cres cohereChatResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&cres); err != nil {
		return nil, types.NewProviderError(c.Name(), types.ErrParsing, "decoding response", err)
	}

	in := int(cres.Meta.Tokens.InputTokens)
	out := int(cres.Meta.Tokens.OutputTokens)
	return &types.ChatResponse{
		ID:    cres.ResponseID,
		Model: req.Model,
		Choices: []types.Choice{{
			Index:        0,
			Message:      types.Message{Role: types.RoleAssistant, Content: &types.Content{Text: cres.Text}},
			FinishReason: cohereFinishReason(cres.FinishReason),
		}},
		Usage: &types.Usage{PromptTokens: in, CompletionTokens: out, TotalTokens: in + out},
	}, nil
}

// cohereStreamEvent covers the two event types we care about:
// "text-generation" (incremental text) and "stream-end" (final usage).
type cohereStreamEvent struct {
	EventType  string `json:"event_type"`
	Text       string `json:"text,omitempty"`
	Response   *cohereChatResponse `json:"response,omitempty"`
	FinishReason string `json:"finish_reason,omitempty"`
}

func (c *Cohere) ChatCompletionStream(ctx context.Context, req *types.ChatRequest) (<-chan types.StreamChunk, error) {
	req = provider.ApplySupportedParams(req, c.SupportedParams(req.Model))
	cr := toCohereChatRequest(req, true)
	body, err := json.Marshal(cr)
	if err != nil {
		return nil, types.NewProviderError(c.Name(), types.ErrInvalidRequest, "marshaling request", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat", bytes.NewReader(body))
	if err != nil {
		return nil, types.NewProviderError(c.Name(), types.ErrInternal, "creating request", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	httpResp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, httpclient.ClassifyTransportError(c.Name(), err)
	}
	if httpResp.StatusCode != http.StatusOK {
		defer httpResp.Body.Close()
		return nil, classifyHTTPError(c.Name(), httpResp)
	}

	ch := make(chan types.StreamChunk)
	go func() {
		defer close(ch)
		defer httpResp.Body.Close()

		// Cohere streams newline-delimited JSON, not "data: " SSE frames,
		// and ScanSSE skips lines without a "data:" prefix, so we decode
		// the JSON objects directly here instead.
		dec := json.NewDecoder(httpResp.Body)
		for dec.More() {
			var ev cohereStreamEvent
			if err := dec.Decode(&ev); err != nil {
				send(ctx, ch, types.StreamChunk{Error: types.NewProviderError(c.Name(), types.ErrStreaming, "decoding stream event", err), Done: true})
				return
			}
			switch ev.EventType {
			case "text-generation":
				if !send(ctx, ch, types.StreamChunk{Choices: []types.ChoiceDelta{{Delta: types.Delta{Content: ev.Text}}}}) {
					return
				}
			case "stream-end":
				chunk := types.StreamChunk{Done: true}
				if ev.Response != nil {
					in := int(ev.Response.Meta.Tokens.InputTokens)
					out := int(ev.Response.Meta.Tokens.OutputTokens)
					chunk.Usage = &types.Usage{PromptTokens: in, CompletionTokens: out, TotalTokens: in + out}
				}
				send(ctx, ch, chunk)
				return
			}
		}
		send(ctx, ch, types.StreamChunk{Done: true})
	}()
	return ch, nil
}

// --- rerank ---

type cohereRerankRequest struct {
	Model     string   `json:"model"`
	Query     string   `json:"query"`
	Documents []string `json:"documents"`
	TopN      int      `json:"top_n,omitempty"`
}

type cohereRerankResponse struct {
	Results []struct {
		Index          int     `json:"index"`
		RelevanceScore float64 `json:"relevance_score"`
	} `json:"results"`
}

func (c *Cohere) Rerank(ctx context.Context, model, query string, documents []string, topN int) ([]provider.RerankResult, error) {
	rr := cohereRerankRequest{Model: model, Query: query, Documents: documents, TopN: topN}
	body, err := json.Marshal(rr)
	if err != nil {
		return nil, types.NewProviderError(c.Name(), types.ErrInvalidRequest, "marshaling request", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/rerank", bytes.NewReader(body))
	if err != nil {
		return nil, types.NewProviderError(c.Name(), types.ErrInternal, "creating request", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	httpResp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, httpclient.ClassifyTransportError(c.Name(), err)
	}
	defer httpResp.Body.Close()
	if httpResp.StatusCode != http.StatusOK {
		return nil, classifyHTTPError(c.Name(), httpResp)
	}

	var cres cohereRerankResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&cres); err != nil {
		return nil, types.NewProviderError(c.Name(), types.ErrParsing, "decoding response", err)
	}
	results := make([]provider.RerankResult, 0, len(cres.Results))
	for _, r := range cres.Results {
		results = append(results, provider.RerankResult{Index: r.Index, Score: r.RelevanceScore})
	}
	return results, nil
}
