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

// anthropicAPIVersion pins the Messages API behavior Anthropic requires on
// every request via a date-based header rather than a versioned path.
const anthropicAPIVersion = "2023-06-01"

// anthropicDefaultMaxTokens is sent when the caller didn't specify one;
// Anthropic rejects requests that omit max_tokens entirely.
const anthropicDefaultMaxTokens = 4096

// Anthropic implements provider.Provider for the Messages API. Same shape
// as OpenAICompat but a different wire format: system prompt is a
// top-level field, not a message; streaming uses named SSE events instead
// of one uniform event shape.
type Anthropic struct {
	apiKey  string
	baseURL string
	client  *http.Client
	models  []types.ModelSpec
}

func NewAnthropic(apiKey, baseURL string, client *http.Client, models []types.ModelSpec) *Anthropic {
	return &Anthropic{apiKey: apiKey, baseURL: baseURL, client: client, models: models}
}

func (a *Anthropic) Name() string { return "anthropic" }

func (a *Anthropic) Models() []types.ModelSpec { return a.models }

func (a *Anthropic) Capabilities() types.CapabilitySet {
	return types.NewCapabilitySet(
		types.CapChat, types.CapChatStream, types.CapFunctionCalling,
		types.CapVision, types.CapThinking,
	)
}

func (a *Anthropic) SupportsModel(id string) bool {
	for _, m := range a.models {
		if m.ID == id {
			return true
		}
	}
	return false
}

func (a *Anthropic) SupportedParams(modelID string) map[string]bool {
	return map[string]bool{
		"temperature": true, "top_p": true, "max_tokens": true,
		"stop": true, "tools": true, "tool_choice": true, "stream": true,
	}
}

func (a *Anthropic) CalculateCost(modelID string, inTokens, outTokens int) (types.Money, error) {
	for _, m := range a.models {
		if m.ID == modelID {
			amount := float64(inTokens)/1000*m.InputCostPer1K + float64(outTokens)/1000*m.OutputCostPer1K
			currency := m.Currency
			if currency == "" {
				currency = "USD"
			}
			return types.Money{Amount: amount, Currency: currency}, nil
		}
	}
	return types.Money{}, types.NewProviderError(a.Name(), types.ErrModelNotFound, "unknown model "+modelID, nil)
}

func (a *Anthropic) HealthCheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.baseURL+"/models", nil)
	if err != nil {
		return err
	}
	a.setHeaders(req)
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

func (a *Anthropic) setHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", a.apiKey)
	req.Header.Set("anthropic-version", anthropicAPIVersion)
}

// --- wire types ---

type anthropicMessage struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

type anthropicContentBlock struct {
	Type      string `json:"type"`
	Text      string `json:"text,omitempty"`
	ID        string `json:"id,omitempty"`
	Name      string `json:"name,omitempty"`
	Input     any    `json:"input,omitempty"`
	ToolUseID string `json:"tool_use_id,omitempty"`
	Content   string `json:"content,omitempty"`
}

type anthropicTool struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	InputSchema map[string]any `json:"input_schema,omitempty"`
}

// anthropicToolChoice mirrors Anthropic's tool_choice shape: {"type":
// "auto"|"any"|"none"} or {"type":"tool","name":"..."} to force one
// specific tool.
type anthropicToolChoice struct {
	Type string `json:"type"`
	Name string `json:"name,omitempty"`
}

func anthropicToolChoiceFrom(tc *types.ToolChoice) *anthropicToolChoice {
	if tc == nil {
		return nil
	}
	switch tc.Type {
	case types.ToolChoiceAuto:
		return &anthropicToolChoice{Type: "auto"}
	case types.ToolChoiceNone:
		return &anthropicToolChoice{Type: "none"}
	case types.ToolChoiceRequired:
		return &anthropicToolChoice{Type: "any"}
	case types.ToolChoiceFunction:
		return &anthropicToolChoice{Type: "tool", Name: tc.Function.Name}
	default:
		return nil
	}
}

type anthropicRequest struct {
	Model       string               `json:"model"`
	MaxTokens   int                  `json:"max_tokens"`
	System      string               `json:"system,omitempty"`
	Messages    []anthropicMessage   `json:"messages"`
	Temperature *float64             `json:"temperature,omitempty"`
	TopP        *float64             `json:"top_p,omitempty"`
	StopSeqs    []string             `json:"stop_sequences,omitempty"`
	Tools       []anthropicTool      `json:"tools,omitempty"`
	ToolChoice  *anthropicToolChoice `json:"tool_choice,omitempty"`
	Stream      bool                 `json:"stream,omitempty"`
}

type anthropicUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

type anthropicResponse struct {
	ID         string                  `json:"id"`
	Model      string                  `json:"model"`
	Content    []anthropicContentBlock `json:"content"`
	StopReason string                  `json:"stop_reason"`
	Usage      anthropicUsage          `json:"usage"`
}

func anthropicStopReasonToFinish(reason string) *types.FinishReason {
	var f types.FinishReason
	switch reason {
	case "end_turn", "stop_sequence":
		f = types.FinishStop
	case "max_tokens":
		f = types.FinishLength
	case "tool_use":
		f = types.FinishToolCalls
	default:
		return nil
	}
	return &f
}

// toAnthropicRequest pulls system messages into the top-level field and
// maps tool-use/tool-result content parts into Anthropic's block shape;
// generalizes the teacher's text-only translation to the full canonical
// message surface. needsDummyTool is the provider.Quirks escape hatch
// for tool_choice=auto with an empty tools array, which Anthropic
// rejects outright.
func toAnthropicRequest(req *types.ChatRequest, stream bool, needsDummyTool bool) *anthropicRequest {
	ar := &anthropicRequest{
		Model:       req.Model,
		Temperature: req.Temperature,
		TopP:        req.TopP,
		StopSeqs:    req.Stop,
		Stream:      stream,
	}

	var systemParts []string
	for _, msg := range req.Messages {
		if msg.Role == types.RoleSystem {
			systemParts = append(systemParts, msg.Content.PlainText())
			continue
		}

		role := string(msg.Role)
		if msg.Role == types.RoleTool {
			role = "user"
			ar.Messages = append(ar.Messages, anthropicMessage{
				Role: role,
				Content: []anthropicContentBlock{{
					Type:      "tool_result",
					ToolUseID: msg.ToolCallID,
					Content:   msg.Content.PlainText(),
				}},
			})
			continue
		}

		if len(msg.ToolCalls) > 0 {
			var blocks []anthropicContentBlock
			if text := msg.Content.PlainText(); text != "" {
				blocks = append(blocks, anthropicContentBlock{Type: "text", Text: text})
			}
			for _, tc := range msg.ToolCalls {
				var input any
				_ = json.Unmarshal([]byte(tc.Function.Arguments), &input)
				blocks = append(blocks, anthropicContentBlock{
					Type: "tool_use", ID: tc.ID, Name: tc.Function.Name, Input: input,
				})
			}
			ar.Messages = append(ar.Messages, anthropicMessage{Role: role, Content: blocks})
			continue
		}

		ar.Messages = append(ar.Messages, anthropicMessage{Role: role, Content: msg.Content.PlainText()})
	}

	if len(systemParts) > 0 {
		joined := ""
		for i, p := range systemParts {
			if i > 0 {
				joined += "\n"
			}
			joined += p
		}
		ar.System = joined
	}

	for _, t := range req.Tools {
		ar.Tools = append(ar.Tools, anthropicTool{
			Name: t.Function.Name, Description: t.Function.Description, InputSchema: t.Function.Parameters,
		})
	}

	ar.ToolChoice = anthropicToolChoiceFrom(req.ToolChoice)
	if needsDummyTool && req.ToolChoice != nil && req.ToolChoice.Type == types.ToolChoiceAuto && len(ar.Tools) == 0 {
		ar.Tools = append(ar.Tools, anthropicTool{
			Name:        dummyToolName,
			Description: "no-op tool, present only to satisfy tool_choice=auto",
			InputSchema: map[string]any{"type": "object", "properties": map[string]any{}},
		})
	}

	if n, ok := req.EffectiveMaxTokens(); ok {
		ar.MaxTokens = n
	} else {
		ar.MaxTokens = anthropicDefaultMaxTokens
	}

	return ar
}

func (a *Anthropic) ChatCompletion(ctx context.Context, req *types.ChatRequest) (*types.ChatResponse, error) {
	req = provider.ApplySupportedParams(req, a.SupportedParams(req.Model))
	ar := toAnthropicRequest(req, false, a.NeedsDummyToolForAutoChoice())
	body, err := json.Marshal(ar)
	if err != nil {
		return nil, types.NewProviderError(a.Name(), types.ErrInvalidRequest, "marshaling request", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/messages", bytes.NewReader(body))
	if err != nil {
		return nil, types.NewProviderError(a.Name(), types.ErrInternal, "creating request", err)
	}
	a.setHeaders(httpReq)

	httpResp, err := a.client.Do(httpReq)
	if err != nil {
		return nil, httpclient.ClassifyTransportError(a.Name(), err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode != http.StatusOK {
		return nil, classifyHTTPError(a.Name(), httpResp)
	}

	var ares anthropicResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&ares); err != nil {
		return nil, types.NewProviderError(a.Name(), types.ErrParsing, "decoding response", err)
	}

	msg := types.Message{Role: types.RoleAssistant, Content: &types.Content{}}
	for _, block := range ares.Content {
		switch block.Type {
		case "text":
			msg.Content.Text += block.Text
		case "tool_use":
			argBytes, _ := json.Marshal(block.Input)
			tc := types.ToolCall{ID: block.ID, Type: "function"}
			tc.Function.Name = block.Name
			tc.Function.Arguments = string(argBytes)
			msg.ToolCalls = append(msg.ToolCalls, tc)
		}
	}

	return &types.ChatResponse{
		ID:    ares.ID,
		Model: ares.Model,
		Choices: []types.Choice{{
			Index:        0,
			Message:      msg,
			FinishReason: anthropicStopReasonToFinish(ares.StopReason),
		}},
		Usage: &types.Usage{
			PromptTokens:     ares.Usage.InputTokens,
			CompletionTokens: ares.Usage.OutputTokens,
			TotalTokens:      ares.Usage.InputTokens + ares.Usage.OutputTokens,
		},
	}, nil
}

// anthropicStreamEvent is a discriminated-union wrapper: every SSE payload
// decodes into this struct first, and the populated fields depend on Type.
type anthropicStreamEvent struct {
	Type         string `json:"type"`
	Message      *struct {
		ID    string         `json:"id"`
		Model string         `json:"model"`
		Usage anthropicUsage `json:"usage"`
	} `json:"message,omitempty"`
	Index        int `json:"index"`
	ContentBlock *struct {
		Type string `json:"type"`
		ID   string `json:"id,omitempty"`
		Name string `json:"name,omitempty"`
	} `json:"content_block,omitempty"`
	Delta *struct {
		Type        string `json:"type,omitempty"`
		Text        string `json:"text,omitempty"`
		PartialJSON string `json:"partial_json,omitempty"`
		StopReason  string `json:"stop_reason,omitempty"`
	} `json:"delta,omitempty"`
	Usage *anthropicUsage `json:"usage,omitempty"`
}

func (a *Anthropic) ChatCompletionStream(ctx context.Context, req *types.ChatRequest) (<-chan types.StreamChunk, error) {
	req = provider.ApplySupportedParams(req, a.SupportedParams(req.Model))
	ar := toAnthropicRequest(req, true, a.NeedsDummyToolForAutoChoice())
	body, err := json.Marshal(ar)
	if err != nil {
		return nil, types.NewProviderError(a.Name(), types.ErrInvalidRequest, "marshaling request", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/messages", bytes.NewReader(body))
	if err != nil {
		return nil, types.NewProviderError(a.Name(), types.ErrInternal, "creating request", err)
	}
	a.setHeaders(httpReq)

	httpResp, err := a.client.Do(httpReq)
	if err != nil {
		return nil, httpclient.ClassifyTransportError(a.Name(), err)
	}

	if httpResp.StatusCode != http.StatusOK {
		defer httpResp.Body.Close()
		return nil, classifyHTTPError(a.Name(), httpResp)
	}

	ch := make(chan types.StreamChunk)

	go func() {
		defer close(ch)
		defer httpResp.Body.Close()

		var (
			respID       string
			model        string
			inputTokens  int
			outputTokens int
			toolIndex    = -1
		)

		scanErr := httpclient.ScanSSE(httpResp.Body, func(ev httpclient.SSEEvent) bool {
			var event anthropicStreamEvent
			if err := json.Unmarshal([]byte(ev.Data), &event); err != nil {
				return send(ctx, ch, types.StreamChunk{Error: types.NewProviderError(a.Name(), types.ErrStreaming, "decoding stream event", err), Done: true})
			}

			switch event.Type {
			case "message_start":
				if event.Message != nil {
					respID = event.Message.ID
					model = event.Message.Model
					inputTokens = event.Message.Usage.InputTokens
				}
				return true

			case "content_block_start":
				if event.ContentBlock != nil && event.ContentBlock.Type == "tool_use" {
					toolIndex = event.Index
					return send(ctx, ch, types.StreamChunk{
						ID: respID, Model: model,
						Choices: []types.ChoiceDelta{{Index: 0, Delta: types.Delta{
							ToolCalls: []types.ToolCallDelta{{Index: toolIndex, ID: event.ContentBlock.ID, Name: event.ContentBlock.Name, Type: "function"}},
						}}},
					})
				}
				return true

			case "content_block_delta":
				if event.Delta == nil {
					return true
				}
				if event.Delta.Type == "input_json_delta" {
					return send(ctx, ch, types.StreamChunk{
						ID: respID, Model: model,
						Choices: []types.ChoiceDelta{{Index: 0, Delta: types.Delta{
							ToolCalls: []types.ToolCallDelta{{Index: toolIndex, Arguments: event.Delta.PartialJSON}},
						}}},
					})
				}
				return send(ctx, ch, types.StreamChunk{
					ID: respID, Model: model,
					Choices: []types.ChoiceDelta{{Index: 0, Delta: types.Delta{Content: event.Delta.Text}}},
				})

			case "message_delta":
				if event.Usage != nil {
					outputTokens = event.Usage.OutputTokens
				}
				return true

			case "message_stop":
				return send(ctx, ch, types.StreamChunk{
					ID: respID, Model: model, Done: true,
					Usage: &types.Usage{
						PromptTokens: inputTokens, CompletionTokens: outputTokens,
						TotalTokens: inputTokens + outputTokens,
					},
				})

			default:
				return true
			}
		})

		if scanErr != nil {
			send(ctx, ch, types.StreamChunk{Error: types.NewProviderError(a.Name(), types.ErrStreaming, "reading stream", scanErr), Done: true})
		}
	}()

	return ch, nil
}

// dummyToolName is injected when tool_choice is "auto" but no tools were
// supplied and the upstream rejects that combination (see NeedsDummyToolForAutoChoice).
const dummyToolName = "__llmgateway_noop"

// NeedsDummyToolForAutoChoice implements provider.Quirks: Anthropic
// rejects tool_choice without a populated tools array.
func (a *Anthropic) NeedsDummyToolForAutoChoice() bool { return true }
