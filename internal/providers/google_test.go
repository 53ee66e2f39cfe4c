package providers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/llmgateway/gateway/internal/types"
)

func TestToGeminiRequest_MapsAssistantToModelRole(t *testing.T) {
	req := &types.ChatRequest{
		Model: "gemini-2.0-flash",
		Messages: []types.Message{
			{Role: types.RoleSystem, Content: &types.Content{Text: "be terse"}},
			{Role: types.RoleUser, Content: &types.Content{Text: "hi"}},
			{Role: types.RoleAssistant, Content: &types.Content{Text: "hello"}},
		},
	}
	gr := toGeminiRequest(req)
	if gr.SystemInstruction == nil || gr.SystemInstruction.Parts[0].Text != "be terse" {
		t.Fatalf("systemInstruction not set correctly: %+v", gr.SystemInstruction)
	}
	if len(gr.Contents) != 2 {
		t.Fatalf("got %d contents, want 2", len(gr.Contents))
	}
	if gr.Contents[1].Role != "model" {
		t.Errorf("assistant role mapped to %q, want model", gr.Contents[1].Role)
	}
}

func TestGoogle_ChatCompletion(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("key") != "test-key" {
			t.Errorf("missing api key query param")
		}
		w.Write([]byte(`{
			"candidates": [{"content": {"parts": [{"text": "Paris"}]}, "finishReason": "STOP"}],
			"usageMetadata": {"promptTokenCount": 3, "candidatesTokenCount": 1, "totalTokenCount": 4}
		}`))
	}))
	defer srv.Close()

	p := NewGoogle("test-key", srv.URL, srv.Client(), []types.ModelSpec{{ID: "gemini-2.0-flash"}})
	resp, err := p.ChatCompletion(context.Background(), textReq("gemini-2.0-flash", "capital of France?"))
	if err != nil {
		t.Fatalf("ChatCompletion returned error: %v", err)
	}
	if resp.Choices[0].Message.Content.Text != "Paris" {
		t.Errorf("content = %q, want Paris", resp.Choices[0].Message.Content.Text)
	}
	if resp.Usage.TotalTokens != 4 {
		t.Errorf("total tokens = %d, want 4", resp.Usage.TotalTokens)
	}
}

func TestGoogle_ChatCompletionStream(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		flusher := w.(http.Flusher)
		events := []string{
			`{"candidates":[{"content":{"parts":[{"text":"Par"}]},"finishReason":""}]}`,
			`{"candidates":[{"content":{"parts":[{"text":"is"}]},"finishReason":"STOP"}],"usageMetadata":{"promptTokenCount":3,"candidatesTokenCount":2,"totalTokenCount":5}}`,
		}
		for _, e := range events {
			w.Write([]byte("data: " + e + "\n\n"))
			flusher.Flush()
		}
	}))
	defer srv.Close()

	p := NewGoogle("test-key", srv.URL, srv.Client(), []types.ModelSpec{{ID: "gemini-2.0-flash"}})
	req := textReq("gemini-2.0-flash", "capital of France?")
	req.Stream = true

	ch, err := p.ChatCompletionStream(context.Background(), req)
	if err != nil {
		t.Fatalf("ChatCompletionStream returned error: %v", err)
	}

	var text string
	var sawFinish bool
	for chunk := range ch {
		if chunk.Error != nil {
			t.Fatalf("unexpected chunk error: %v", chunk.Error)
		}
		for _, c := range chunk.Choices {
			text += c.Delta.Content
			if c.FinishReason != nil {
				sawFinish = true
			}
		}
	}
	if text != "Paris" {
		t.Errorf("accumulated text = %q, want Paris", text)
	}
	if !sawFinish {
		t.Error("never saw a finish reason")
	}
}
