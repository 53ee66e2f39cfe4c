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

// Google implements provider.Provider for the Gemini generateContent API.
// Role naming ("model" instead of "assistant"), system instructions, and
// the part-array content shape all diverge from OpenAI's wire format, so
// this adapter keeps its own translation like the teacher's did, just
// generalized to the full canonical request/response surface.
type Google struct {
	apiKey  string
	baseURL string
	client  *http.Client
	models  []types.ModelSpec
}

func NewGoogle(apiKey, baseURL string, client *http.Client, models []types.ModelSpec) *Google {
	return &Google{apiKey: apiKey, baseURL: baseURL, client: client, models: models}
}

func (g *Google) Name() string { return "google" }

func (g *Google) Models() []types.ModelSpec { return g.models }

func (g *Google) Capabilities() types.CapabilitySet {
	return types.NewCapabilitySet(
		types.CapChat, types.CapChatStream, types.CapFunctionCalling,
		types.CapVision, types.CapJSONMode,
	)
}

func (g *Google) SupportsModel(id string) bool {
	for _, m := range g.models {
		if m.ID == id {
			return true
		}
	}
	return false
}

func (g *Google) SupportedParams(modelID string) map[string]bool {
	return map[string]bool{
		"temperature": true, "top_p": true, "max_tokens": true,
		"stop": true, "tools": true, "response_format": true, "stream": true,
	}
}

func (g *Google) CalculateCost(modelID string, inTokens, outTokens int) (types.Money, error) {
	for _, m := range g.models {
		if m.ID == modelID {
			amount := float64(inTokens)/1000*m.InputCostPer1K + float64(outTokens)/1000*m.OutputCostPer1K
			currency := m.Currency
			if currency == "" {
				currency = "USD"
			}
			return types.Money{Amount: amount, Currency: currency}, nil
		}
	}
	return types.Money{}, types.NewProviderError(g.Name(), types.ErrModelNotFound, "unknown model "+modelID, nil)
}

func (g *Google) HealthCheck(ctx context.Context) error {
	url := fmt.Sprintf("%s/models?key=%s", g.baseURL, g.apiKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := g.client.Do(req)
	if err != nil {
		return httpclient.ClassifyTransportError(g.Name(), err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 500 {
		return types.NewProviderError(g.Name(), types.ErrServiceUnavailable, "health check failed", nil)
	}
	return nil
}

// --- wire types ---

type geminiPart struct {
	Text             string              `json:"text,omitempty"`
	InlineData       *geminiInlineData   `json:"inlineData,omitempty"`
	FunctionCall     *geminiFunctionCall `json:"functionCall,omitempty"`
	FunctionResponse *geminiFuncResponse `json:"functionResponse,omitempty"`
}

type geminiInlineData struct {
	MimeType string `json:"mimeType"`
	Data     string `json:"data"` // base64
}

type geminiFunctionCall struct {
	Name string         `json:"name"`
	Args map[string]any `json:"args"`
}

type geminiFuncResponse struct {
	Name     string         `json:"name"`
	Response map[string]any `json:"response"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiFunctionDecl struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

type geminiTool struct {
	FunctionDeclarations []geminiFunctionDecl `json:"functionDeclarations"`
}

type geminiGenerationConfig struct {
	MaxOutputTokens int      `json:"maxOutputTokens,omitempty"`
	Temperature     *float64 `json:"temperature,omitempty"`
	TopP            *float64 `json:"topP,omitempty"`
	StopSequences   []string `json:"stopSequences,omitempty"`
	ResponseMimeType string  `json:"responseMimeType,omitempty"`
}

type geminiRequest struct {
	Contents          []geminiContent         `json:"contents"`
	SystemInstruction *geminiContent          `json:"systemInstruction,omitempty"`
	Tools             []geminiTool            `json:"tools,omitempty"`
	GenerationConfig  *geminiGenerationConfig `json:"generationConfig,omitempty"`
}

type geminiUsageMetadata struct {
	PromptTokenCount     int `json:"promptTokenCount"`
	CandidatesTokenCount int `json:"candidatesTokenCount"`
	TotalTokenCount      int `json:"totalTokenCount"`
}

type geminiCandidate struct {
	Content      geminiContent `json:"content"`
	FinishReason string        `json:"finishReason"`
}

type geminiResponse struct {
	Candidates    []geminiCandidate    `json:"candidates"`
	UsageMetadata *geminiUsageMetadata `json:"usageMetadata"`
}

func geminiFinishReason(reason string) *types.FinishReason {
	var f types.FinishReason
	switch reason {
	case "STOP":
		f = types.FinishStop
	case "MAX_TOKENS":
		f = types.FinishLength
	case "SAFETY", "RECITATION":
		f = types.FinishContentFilter
	default:
		return nil
	}
	return &f
}

// toGeminiRequest maps system messages to systemInstruction, assistant to
// "model", tool results to functionResponse parts, and tool calls to
// functionCall parts — the full version of the teacher's text-only
// toGeminiRequest.
func toGeminiRequest(req *types.ChatRequest) *geminiRequest {
	gr := &geminiRequest{}

	for _, msg := range req.Messages {
		if msg.Role == types.RoleSystem {
			part := geminiPart{Text: msg.Content.PlainText()}
			if gr.SystemInstruction == nil {
				gr.SystemInstruction = &geminiContent{Parts: []geminiPart{part}}
			} else {
				gr.SystemInstruction.Parts = append(gr.SystemInstruction.Parts, part)
			}
			continue
		}

		if msg.Role == types.RoleTool {
			gr.Contents = append(gr.Contents, geminiContent{
				Role: "function",
				Parts: []geminiPart{{
					FunctionResponse: &geminiFuncResponse{
						Name:     msg.Name,
						Response: map[string]any{"result": msg.Content.PlainText()},
					},
				}},
			})
			continue
		}

		role := string(msg.Role)
		if role == "assistant" {
			role = "model"
		}

		var parts []geminiPart
		if text := msg.Content.PlainText(); text != "" {
			parts = append(parts, geminiPart{Text: text})
		}
		for _, tc := range msg.ToolCalls {
			var args map[string]any
			_ = json.Unmarshal([]byte(tc.Function.Arguments), &args)
			parts = append(parts, geminiPart{FunctionCall: &geminiFunctionCall{Name: tc.Function.Name, Args: args}})
		}
		if len(parts) == 0 {
			parts = append(parts, geminiPart{Text: ""})
		}
		gr.Contents = append(gr.Contents, geminiContent{Role: role, Parts: parts})
	}

	if len(req.Tools) > 0 {
		var decls []geminiFunctionDecl
		for _, t := range req.Tools {
			decls = append(decls, geminiFunctionDecl{
				Name: t.Function.Name, Description: t.Function.Description, Parameters: t.Function.Parameters,
			})
		}
		gr.Tools = []geminiTool{{FunctionDeclarations: decls}}
	}

	gc := &geminiGenerationConfig{Temperature: req.Temperature, TopP: req.TopP, StopSequences: req.Stop}
	if n, ok := req.EffectiveMaxTokens(); ok {
		gc.MaxOutputTokens = n
	}
	if req.ResponseFormat != nil && req.ResponseFormat.Type == "json_object" {
		gc.ResponseMimeType = "application/json"
	}
	gr.GenerationConfig = gc

	return gr
}

func geminiCandidateToMessage(c geminiCandidate) types.Message {
	msg := types.Message{Role: types.RoleAssistant, Content: &types.Content{}}
	for _, p := range c.Content.Parts {
		switch {
		case p.FunctionCall != nil:
			argBytes, _ := json.Marshal(p.FunctionCall.Args)
			tc := types.ToolCall{Type: "function"}
			tc.Function.Name = p.FunctionCall.Name
			tc.Function.Arguments = string(argBytes)
			msg.ToolCalls = append(msg.ToolCalls, tc)
		default:
			msg.Content.Text += p.Text
		}
	}
	return msg
}

func (g *Google) ChatCompletion(ctx context.Context, req *types.ChatRequest) (*types.ChatResponse, error) {
	req = provider.ApplySupportedParams(req, g.SupportedParams(req.Model))
	gr := toGeminiRequest(req)
	body, err := json.Marshal(gr)
	if err != nil {
		return nil, types.NewProviderError(g.Name(), types.ErrInvalidRequest, "marshaling request", err)
	}

	url := fmt.Sprintf("%s/models/%s:generateContent?key=%s", g.baseURL, req.Model, g.apiKey)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, types.NewProviderError(g.Name(), types.ErrInternal, "creating request", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	httpResp, err := g.client.Do(httpReq)
	if err != nil {
		return nil, httpclient.ClassifyTransportError(g.Name(), err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode != http.StatusOK {
		return nil, classifyHTTPError(g.Name(), httpResp)
	}

	var gres geminiResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&gres); err != nil {
		return nil, types.NewProviderError(g.Name(), types.ErrParsing, "decoding response", err)
	}
	if len(gres.Candidates) == 0 {
		return nil, types.NewProviderError(g.Name(), types.ErrParsing, "no candidates returned", nil)
	}

	resp := &types.ChatResponse{
		Model: req.Model,
		Choices: []types.Choice{{
			Index:        0,
			Message:      geminiCandidateToMessage(gres.Candidates[0]),
			FinishReason: geminiFinishReason(gres.Candidates[0].FinishReason),
		}},
	}
	if gres.UsageMetadata != nil {
		resp.Usage = &types.Usage{
			PromptTokens:     gres.UsageMetadata.PromptTokenCount,
			CompletionTokens: gres.UsageMetadata.CandidatesTokenCount,
			TotalTokens:      gres.UsageMetadata.TotalTokenCount,
		}
	}
	return resp, nil
}

func (g *Google) ChatCompletionStream(ctx context.Context, req *types.ChatRequest) (<-chan types.StreamChunk, error) {
	req = provider.ApplySupportedParams(req, g.SupportedParams(req.Model))
	gr := toGeminiRequest(req)
	body, err := json.Marshal(gr)
	if err != nil {
		return nil, types.NewProviderError(g.Name(), types.ErrInvalidRequest, "marshaling request", err)
	}

	url := fmt.Sprintf("%s/models/%s:streamGenerateContent?alt=sse&key=%s", g.baseURL, req.Model, g.apiKey)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, types.NewProviderError(g.Name(), types.ErrInternal, "creating request", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	httpResp, err := g.client.Do(httpReq)
	if err != nil {
		return nil, httpclient.ClassifyTransportError(g.Name(), err)
	}
	if httpResp.StatusCode != http.StatusOK {
		defer httpResp.Body.Close()
		return nil, classifyHTTPError(g.Name(), httpResp)
	}

	ch := make(chan types.StreamChunk)

	go func() {
		defer close(ch)
		defer httpResp.Body.Close()

		scanErr := httpclient.ScanSSE(httpResp.Body, func(ev httpclient.SSEEvent) bool {
			var gres geminiResponse
			if err := json.Unmarshal([]byte(ev.Data), &gres); err != nil {
				return send(ctx, ch, types.StreamChunk{Error: types.NewProviderError(g.Name(), types.ErrStreaming, "decoding stream event", err), Done: true})
			}
			if len(gres.Candidates) == 0 {
				return true
			}
			candidate := gres.Candidates[0]
			msg := geminiCandidateToMessage(candidate)

			delta := types.Delta{Content: msg.Content.Text}
			for i, tc := range msg.ToolCalls {
				delta.ToolCalls = append(delta.ToolCalls, types.ToolCallDelta{
					Index: i, Name: tc.Function.Name, Arguments: tc.Function.Arguments, Type: "function",
				})
			}

			chunk := types.StreamChunk{
				Model:   req.Model,
				Choices: []types.ChoiceDelta{{Index: 0, Delta: delta, FinishReason: geminiFinishReason(candidate.FinishReason)}},
			}
			if gres.UsageMetadata != nil {
				chunk.Usage = &types.Usage{
					PromptTokens:     gres.UsageMetadata.PromptTokenCount,
					CompletionTokens: gres.UsageMetadata.CandidatesTokenCount,
					TotalTokens:      gres.UsageMetadata.TotalTokenCount,
				}
			}
			return send(ctx, ch, chunk)
		})

		if scanErr != nil {
			send(ctx, ch, types.StreamChunk{Error: types.NewProviderError(g.Name(), types.ErrStreaming, "reading stream", scanErr), Done: true})
			return
		}
		send(ctx, ch, types.StreamChunk{Done: true})
	}()

	return ch, nil
}
