package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/llmgateway/gateway/internal/provider"
	"github.com/llmgateway/gateway/internal/router"
	"github.com/llmgateway/gateway/internal/types"
)

type embeddingRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embeddingDatum struct {
	Object    string    `json:"object"`
	Index     int       `json:"index"`
	Embedding []float32 `json:"embedding"`
}

type embeddingResponse struct {
	Object string           `json:"object"`
	Model  string           `json:"model"`
	Data   []embeddingDatum `json:"data"`
	Usage  *types.Usage     `json:"usage,omitempty"`
}

func (s *Server) handleEmbeddings(w http.ResponseWriter, r *http.Request) {
	var req embeddingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, err, http.StatusBadRequest)
		return
	}
	if len(req.Input) == 0 {
		writeError(w, errEmptyInput, http.StatusBadRequest)
		return
	}

	rc := requestContextFrom(r.Context())
	routeReq := router.Request{Model: req.Model, RoutingKey: rc.APIKey, Tags: rc.Tags}

	type result struct {
		vectors [][]float32
		usage   *types.Usage
	}
	res, err := router.Execute(r.Context(), s.router, routeReq,
		func(ctx context.Context, p provider.Provider, d *router.Deployment) (result, error) {
			ep, ok := p.(provider.EmbeddingProvider)
			if !ok {
				return result{}, provider.ErrNotSupportedCapability(p.Name(), types.CapEmbedding)
			}
			vectors, usage, err := ep.Embedding(ctx, d.Upstream, req.Input)
			return result{vectors: vectors, usage: usage}, err
		})
	if err != nil {
		writeError(w, err, http.StatusBadGateway)
		return
	}

	data := make([]embeddingDatum, len(res.vectors))
	for i, v := range res.vectors {
		data[i] = embeddingDatum{Object: "embedding", Index: i, Embedding: v}
	}
	writeJSON(w, http.StatusOK, embeddingResponse{Object: "list", Model: req.Model, Data: data, Usage: res.usage})
}

var errEmptyInput = errors.New("input must not be empty")
