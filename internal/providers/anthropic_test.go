package providers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/llmgateway/gateway/internal/types"
)

func TestToAnthropicRequest_PullsSystemMessagesOut(t *testing.T) {
	req := &types.ChatRequest{
		Model: "claude-3-5-sonnet",
		Messages: []types.Message{
			{Role: types.RoleSystem, Content: &types.Content{Text: "be terse"}},
			{Role: types.RoleUser, Content: &types.Content{Text: "hi"}},
		},
	}
	ar := toAnthropicRequest(req, false, false)
	if ar.System != "be terse" {
		t.Errorf("System = %q, want %q", ar.System, "be terse")
	}
	if len(ar.Messages) != 1 || ar.Messages[0].Role != "user" {
		t.Fatalf("unexpected messages: %+v", ar.Messages)
	}
	if ar.MaxTokens != anthropicDefaultMaxTokens {
		t.Errorf("MaxTokens = %d, want default %d", ar.MaxTokens, anthropicDefaultMaxTokens)
	}
}

func TestToAnthropicRequest_ToolResultBecomesUserMessage(t *testing.T) {
	req := &types.ChatRequest{
		Model: "claude-3-5-sonnet",
		Messages: []types.Message{
			{Role: types.RoleUser, Content: &types.Content{Text: "what's the weather"}},
			{Role: types.RoleTool, ToolCallID: "call_1", Content: &types.Content{Text: "72F"}},
		},
	}
	ar := toAnthropicRequest(req, false, false)
	if len(ar.Messages) != 2 {
		t.Fatalf("got %d messages, want 2", len(ar.Messages))
	}
	blocks, ok := ar.Messages[1].Content.([]anthropicContentBlock)
	if !ok {
		t.Fatalf("tool message content is %T, want []anthropicContentBlock", ar.Messages[1].Content)
	}
	if blocks[0].Type != "tool_result" || blocks[0].ToolUseID != "call_1" {
		t.Errorf("unexpected tool_result block: %+v", blocks[0])
	}
}

func TestToAnthropicRequest_ToolChoiceMapsPerType(t *testing.T) {
	base := func(tc *types.ToolChoice) *types.ChatRequest {
		return &types.ChatRequest{
			Model:      "claude-3-5-sonnet",
			Messages:   []types.Message{{Role: types.RoleUser, Content: &types.Content{Text: "hi"}}},
			Tools:      []types.Tool{{Function: types.ToolFunction{Name: "get_weather"}}},
			ToolChoice: tc,
		}
	}

	cases := []struct {
		name string
		in   *types.ToolChoice
		want anthropicToolChoice
	}{
		{"auto", &types.ToolChoice{Type: types.ToolChoiceAuto}, anthropicToolChoice{Type: "auto"}},
		{"none", &types.ToolChoice{Type: types.ToolChoiceNone}, anthropicToolChoice{Type: "none"}},
		{"required", &types.ToolChoice{Type: types.ToolChoiceRequired}, anthropicToolChoice{Type: "any"}},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			ar := toAnthropicRequest(base(c.in), false, false)
			if ar.ToolChoice == nil || *ar.ToolChoice != c.want {
				t.Errorf("ToolChoice = %+v, want %+v", ar.ToolChoice, c.want)
			}
		})
	}

	t.Run("function", func(t *testing.T) {
		tc := &types.ToolChoice{Type: types.ToolChoiceFunction}
		tc.Function.Name = "get_weather"
		ar := toAnthropicRequest(base(tc), false, false)
		want := anthropicToolChoice{Type: "tool", Name: "get_weather"}
		if ar.ToolChoice == nil || *ar.ToolChoice != want {
			t.Errorf("ToolChoice = %+v, want %+v", ar.ToolChoice, want)
		}
	})
}

func TestToAnthropicRequest_InjectsDummyToolForAutoChoiceWithNoTools(t *testing.T) {
	req := &types.ChatRequest{
		Model:      "claude-3-5-sonnet",
		Messages:   []types.Message{{Role: types.RoleUser, Content: &types.Content{Text: "hi"}}},
		ToolChoice: &types.ToolChoice{Type: types.ToolChoiceAuto},
	}

	ar := toAnthropicRequest(req, false, true)
	if len(ar.Tools) != 1 || ar.Tools[0].Name != dummyToolName {
		t.Fatalf("expected dummy tool %q injected, got %+v", dummyToolName, ar.Tools)
	}

	// without the quirk flag, no dummy tool is injected.
	ar = toAnthropicRequest(req, false, false)
	if len(ar.Tools) != 0 {
		t.Errorf("expected no tools injected when needsDummyTool is false, got %+v", ar.Tools)
	}
}

func TestAnthropic_ChatCompletion_ExtractsTextBlock(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("x-api-key") != "sk-ant-test" {
			t.Errorf("missing x-api-key header")
		}
		if r.Header.Get("anthropic-version") != anthropicAPIVersion {
			t.Errorf("missing/wrong anthropic-version header")
		}
		w.Write([]byte(`{
			"id": "msg_1", "model": "claude-3-5-sonnet",
			"content": [{"type": "text", "text": "hello back"}],
			"stop_reason": "end_turn",
			"usage": {"input_tokens": 4, "output_tokens": 3}
		}`))
	}))
	defer srv.Close()

	p := NewAnthropic("sk-ant-test", srv.URL, srv.Client(), []types.ModelSpec{
		{ID: "claude-3-5-sonnet", InputCostPer1K: 0.003, OutputCostPer1K: 0.015},
	})
	resp, err := p.ChatCompletion(context.Background(), textReq("claude-3-5-sonnet", "hi"))
	if err != nil {
		t.Fatalf("ChatCompletion returned error: %v", err)
	}
	if resp.Choices[0].Message.Content.Text != "hello back" {
		t.Errorf("content = %q, want %q", resp.Choices[0].Message.Content.Text, "hello back")
	}
	if resp.Usage.TotalTokens != 7 {
		t.Errorf("total tokens = %d, want 7", resp.Usage.TotalTokens)
	}
	if *resp.Choices[0].FinishReason != types.FinishStop {
		t.Errorf("finish reason = %v, want stop", *resp.Choices[0].FinishReason)
	}
}

func TestAnthropic_ChatCompletionStream_AccumulatesTextDeltas(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		flusher := w.(http.Flusher)
		frames := []string{
			`event: message_start
data: {"type":"message_start","message":{"id":"msg_1","model":"claude-3-5-sonnet","usage":{"input_tokens":5}}}

`,
			`event: content_block_delta
data: {"type":"content_block_delta","delta":{"type":"text_delta","text":"Hi"}}

`,
			`event: content_block_delta
data: {"type":"content_block_delta","delta":{"type":"text_delta","text":" there"}}

`,
			`event: message_delta
data: {"type":"message_delta","delta":{"stop_reason":"end_turn"},"usage":{"output_tokens":2}}

`,
			`event: message_stop
data: {"type":"message_stop"}

`,
		}
		for _, f := range frames {
			w.Write([]byte(f))
			flusher.Flush()
		}
	}))
	defer srv.Close()

	p := NewAnthropic("sk-ant-test", srv.URL, srv.Client(), []types.ModelSpec{{ID: "claude-3-5-sonnet"}})
	req := textReq("claude-3-5-sonnet", "hi")
	req.Stream = true

	ch, err := p.ChatCompletionStream(context.Background(), req)
	if err != nil {
		t.Fatalf("ChatCompletionStream returned error: %v", err)
	}

	var text string
	var totalTokens int
	for chunk := range ch {
		if chunk.Error != nil {
			t.Fatalf("unexpected chunk error: %v", chunk.Error)
		}
		for _, c := range chunk.Choices {
			text += c.Delta.Content
		}
		if chunk.Usage != nil {
			totalTokens = chunk.Usage.TotalTokens
		}
	}
	if text != "Hi there" {
		t.Errorf("accumulated text = %q, want %q", text, "Hi there")
	}
	if totalTokens != 7 {
		t.Errorf("total tokens = %d, want 7", totalTokens)
	}
}
