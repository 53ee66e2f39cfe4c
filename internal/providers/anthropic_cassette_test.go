package providers

import (
	"context"
	"net/http"
	"testing"

	"gopkg.in/dnaeon/go-vcr.v4/cassette"
	"gopkg.in/dnaeon/go-vcr.v4/recorder"

	"github.com/llmgateway/gateway/internal/types"
)

// TestAnthropic_ChatCompletion_ReplaysCassette exercises the Anthropic
// adapter against a pre-recorded HTTP interaction instead of a live
// httptest.Server, the same style of fixture-based transport test the
// rest of the pack uses for providers whose wire format is fiddly
// enough to want a frozen example response.
func TestAnthropic_ChatCompletion_ReplaysCassette(t *testing.T) {
	rec, err := recorder.New("testdata/anthropic_chat_completion",
		recorder.WithMode(recorder.ModeReplayOnly),
		recorder.WithMatcher(func(r *http.Request, i cassette.Request) bool {
			return r.Method == i.Method
		}),
	)
	if err != nil {
		t.Fatalf("opening cassette: %v", err)
	}
	defer rec.Stop()

	client := &http.Client{Transport: rec}
	a := NewAnthropic("test-key", "https://api.anthropic.com/v1", client,
		[]types.ModelSpec{{ID: "claude-3-opus-20240229"}})

	req := &types.ChatRequest{
		Model:    "claude-3-opus-20240229",
		Messages: []types.Message{{Role: types.RoleUser, Content: &types.Content{Text: "hi"}}},
	}

	resp, err := a.ChatCompletion(context.Background(), req)
	if err != nil {
		t.Fatalf("ChatCompletion: %v", err)
	}
	if resp.ID != "msg_01abc" {
		t.Errorf("ID = %q, want msg_01abc", resp.ID)
	}
	if len(resp.Choices) != 1 {
		t.Fatalf("got %d choices, want 1", len(resp.Choices))
	}
	if got := resp.Choices[0].Message.Content.Text; got != "Hello from the cassette." {
		t.Errorf("content = %q, want the cassette's canned reply", got)
	}
	if resp.Usage == nil || resp.Usage.PromptTokens != 8 || resp.Usage.CompletionTokens != 5 {
		t.Errorf("usage = %+v, want {8 5 ...}", resp.Usage)
	}
}
