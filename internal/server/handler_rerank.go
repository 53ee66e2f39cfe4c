package server

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/llmgateway/gateway/internal/provider"
	"github.com/llmgateway/gateway/internal/router"
	"github.com/llmgateway/gateway/internal/types"
)

type rerankRequest struct {
	Model     string   `json:"model"`
	Query     string   `json:"query"`
	Documents []string `json:"documents"`
	TopN      int      `json:"top_n"`
}

type rerankResultWire struct {
	Index int     `json:"index"`
	Score float64 `json:"relevance_score"`
}

func (s *Server) handleRerank(w http.ResponseWriter, r *http.Request) {
	var req rerankRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, err, http.StatusBadRequest)
		return
	}
	if req.TopN <= 0 {
		req.TopN = len(req.Documents)
	}

	rc := requestContextFrom(r.Context())
	routeReq := router.Request{Model: req.Model, RoutingKey: rc.APIKey, Tags: rc.Tags}

	results, err := router.Execute(r.Context(), s.router, routeReq,
		func(ctx context.Context, p provider.Provider, d *router.Deployment) ([]provider.RerankResult, error) {
			rp, ok := p.(provider.RerankProvider)
			if !ok {
				return nil, provider.ErrNotSupportedCapability(p.Name(), types.CapRerank)
			}
			return rp.Rerank(ctx, d.Upstream, req.Query, req.Documents, req.TopN)
		})
	if err != nil {
		writeError(w, err, http.StatusBadGateway)
		return
	}

	out := make([]rerankResultWire, len(results))
	for i, res := range results {
		out[i] = rerankResultWire{Index: res.Index, Score: res.Score}
	}
	writeJSON(w, http.StatusOK, map[string]any{"model": req.Model, "results": out})
}
