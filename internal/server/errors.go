package server

import (
	"encoding/json"
	"net/http"

	"github.com/llmgateway/gateway/internal/types"
)

// errorEnvelope is the OpenAI-compatible error shape of spec.md §7.
type errorEnvelope struct {
	Error errorBody `json:"error"`
}

type errorBody struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Code    string `json:"code,omitempty"`
}

// writeError maps err to an HTTP status using types.ProviderError's
// taxonomy when available, falling back to fallbackStatus for anything
// else (a decode failure, a validation error, an unauthenticated request).
func writeError(w http.ResponseWriter, err error, fallbackStatus int) {
	status := fallbackStatus
	body := errorEnvelope{Error: errorBody{Message: err.Error(), Type: "invalid_request_error"}}

	if pe, ok := types.AsProviderError(err); ok {
		status = pe.HTTPStatusCode()
		body.Error.Type = string(pe.Kind)
		body.Error.Message = pe.Message
		if pe.Provider != "" {
			body.Error.Code = pe.Provider
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
