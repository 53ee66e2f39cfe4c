package server

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/llmgateway/gateway/internal/provider"
	"github.com/llmgateway/gateway/internal/router"
	"github.com/llmgateway/gateway/internal/stream"
	"github.com/llmgateway/gateway/internal/tokencount"
	"github.com/llmgateway/gateway/internal/types"
)

// checkContextWindow returns a ContextLengthExceeded error if req would
// overflow d's model context window, using s.tokenEst to estimate the
// prompt's token count. Returns nil immediately if no estimator is
// configured or the deployment's context window isn't known.
func (s *Server) checkContextWindow(req *types.ChatRequest, d *router.Deployment) error {
	if s.tokenEst == nil {
		return nil
	}
	spec, ok := d.ModelSpec()
	if !ok || spec.MaxContextTokens <= 0 {
		return nil
	}
	promptTokens := s.tokenEst.PromptTokens(req)
	return tokencount.CheckContextWindow(d.Provider.Name(), promptTokens, req, spec.MaxContextTokens)
}

// handleChatCompletions handles POST /v1/chat/completions: it decodes
// the OpenAI-shaped body, dispatches through the router's retry/fallback
// pipeline, and either writes the complete response or switches to SSE
// when req.Stream is set.
func (s *Server) handleChatCompletions(w http.ResponseWriter, r *http.Request) {
	var req types.ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, err, http.StatusBadRequest)
		return
	}
	if err := req.Validate(); err != nil {
		writeError(w, err, http.StatusBadRequest)
		return
	}

	rc := requestContextFrom(r.Context())
	routeReq := router.Request{Model: req.Model, RoutingKey: rc.APIKey, Tags: rc.Tags}

	if req.Stream {
		chunks, err := router.Execute(r.Context(), s.router, routeReq,
			func(ctx context.Context, p provider.Provider, d *router.Deployment) (<-chan types.StreamChunk, error) {
				if err := s.checkContextWindow(&req, d); err != nil {
					return nil, err
				}
				return p.ChatCompletionStream(ctx, &req)
			})
		if err != nil {
			writeError(w, err, http.StatusBadGateway)
			return
		}
		if err := stream.Write(w, chunks); err != nil {
			return
		}
		return
	}

	compute := func(ctx context.Context) (*types.ChatResponse, error) {
		return router.Execute(ctx, s.router, routeReq,
			func(ctx context.Context, p provider.Provider, d *router.Deployment) (*types.ChatResponse, error) {
				if err := s.checkContextWindow(&req, d); err != nil {
					return nil, err
				}
				return p.ChatCompletion(ctx, &req)
			})
	}

	if s.cache == nil {
		resp, err := compute(r.Context())
		if err != nil {
			writeError(w, err, http.StatusBadGateway)
			return
		}
		writeJSON(w, http.StatusOK, resp)
		return
	}

	resp, _, err := s.cache.GetOrCompute(r.Context(), &req, compute)
	if err != nil {
		writeError(w, err, http.StatusBadGateway)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}
