// Package stream writes a provider's StreamChunk channel to an HTTP
// response as OpenAI-compatible Server-Sent Events.
package stream

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/llmgateway/gateway/internal/types"
)

// wireChunk adds the "object" discriminator OpenAI clients expect;
// every other field already matches types.StreamChunk's JSON tags, so
// there's no separate wire struct duplicating ChoiceDelta/Delta/Usage.
type wireChunk struct {
	ID      string              `json:"id"`
	Object  string              `json:"object"`
	Created int64               `json:"created"`
	Model   string              `json:"model"`
	Choices []types.ChoiceDelta `json:"choices"`
	Usage   *types.Usage        `json:"usage,omitempty"`
}

type errorEvent struct {
	Error errorBody `json:"error"`
}

type errorBody struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Code    string `json:"code"`
}

// Write drains chunks to w as SSE, per spec.md §6: each event is
// "data: <json>\n\n"; a mid-stream provider failure emits one
// data: {"error":…} event and returns, without the [DONE] sentinel; a
// clean end of stream emits "data: [DONE]\n\n".
func Write(w http.ResponseWriter, chunks <-chan types.StreamChunk) error {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return fmt.Errorf("stream: response writer does not support flushing")
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for chunk := range chunks {
		if chunk.Error != nil {
			if err := writeJSON(w, flusher, errorEventFor(chunk.Error)); err != nil {
				return err
			}
			return chunk.Error
		}

		event := wireChunk{
			ID:      chunk.ID,
			Object:  "chat.completion.chunk",
			Created: chunk.Created,
			Model:   chunk.Model,
			Choices: chunk.Choices,
			Usage:   chunk.Usage,
		}
		if err := writeJSON(w, flusher, event); err != nil {
			return err
		}
	}

	if _, err := fmt.Fprint(w, "data: [DONE]\n\n"); err != nil {
		return fmt.Errorf("stream: writing done marker: %w", err)
	}
	flusher.Flush()
	return nil
}

func writeJSON(w http.ResponseWriter, flusher http.Flusher, v any) error {
	body, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("stream: marshaling event: %w", err)
	}
	if _, err := fmt.Fprintf(w, "data: %s\n\n", body); err != nil {
		return fmt.Errorf("stream: writing event: %w", err)
	}
	flusher.Flush()
	return nil
}

func errorEventFor(err error) errorEvent {
	if pe, ok := types.AsProviderError(err); ok {
		return errorEvent{Error: errorBody{
			Message: pe.Message,
			Type:    string(pe.Kind),
			Code:    fmt.Sprintf("%d", pe.HTTPStatusCode()),
		}}
	}
	return errorEvent{Error: errorBody{Message: err.Error(), Type: "internal"}}
}
