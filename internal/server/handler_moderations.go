package server

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/llmgateway/gateway/internal/provider"
	"github.com/llmgateway/gateway/internal/router"
	"github.com/llmgateway/gateway/internal/types"
)

type moderationRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type moderationResultWire struct {
	Flagged    bool               `json:"flagged"`
	Categories map[string]bool    `json:"categories"`
	Scores     map[string]float64 `json:"category_scores"`
}

func (s *Server) handleModerations(w http.ResponseWriter, r *http.Request) {
	var req moderationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, err, http.StatusBadRequest)
		return
	}

	rc := requestContextFrom(r.Context())
	routeReq := router.Request{Model: req.Model, RoutingKey: rc.APIKey, Tags: rc.Tags}

	results, err := router.Execute(r.Context(), s.router, routeReq,
		func(ctx context.Context, p provider.Provider, d *router.Deployment) ([]provider.ModerationResult, error) {
			mp, ok := p.(provider.ModerationProvider)
			if !ok {
				return nil, provider.ErrNotSupportedCapability(p.Name(), types.CapModeration)
			}
			return mp.Moderate(ctx, d.Upstream, req.Input)
		})
	if err != nil {
		writeError(w, err, http.StatusBadGateway)
		return
	}

	out := make([]moderationResultWire, len(results))
	for i, res := range results {
		out[i] = moderationResultWire{Flagged: res.Flagged, Categories: res.Categories, Scores: res.Scores}
	}
	writeJSON(w, http.StatusOK, map[string]any{"model": req.Model, "results": out})
}
