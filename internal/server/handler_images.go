package server

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/llmgateway/gateway/internal/provider"
	"github.com/llmgateway/gateway/internal/router"
	"github.com/llmgateway/gateway/internal/types"
)

type imageRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
	N      int    `json:"n"`
}

type imageDatum struct {
	URL           string `json:"url,omitempty"`
	B64JSON       string `json:"b64_json,omitempty"`
	RevisedPrompt string `json:"revised_prompt,omitempty"`
}

func (s *Server) handleImageGenerations(w http.ResponseWriter, r *http.Request) {
	var req imageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, err, http.StatusBadRequest)
		return
	}
	if req.N <= 0 {
		req.N = 1
	}

	rc := requestContextFrom(r.Context())
	routeReq := router.Request{Model: req.Model, RoutingKey: rc.APIKey, Tags: rc.Tags}

	images, err := router.Execute(r.Context(), s.router, routeReq,
		func(ctx context.Context, p provider.Provider, d *router.Deployment) ([]provider.ImageResult, error) {
			ip, ok := p.(provider.ImageProvider)
			if !ok {
				return nil, provider.ErrNotSupportedCapability(p.Name(), types.CapImage)
			}
			return ip.GenerateImage(ctx, d.Upstream, req.Prompt, req.N)
		})
	if err != nil {
		writeError(w, err, http.StatusBadGateway)
		return
	}

	data := make([]imageDatum, len(images))
	for i, img := range images {
		data[i] = imageDatum{URL: img.URL, B64JSON: img.B64JSON, RevisedPrompt: img.RevisedPrompt}
	}
	writeJSON(w, http.StatusOK, map[string]any{"created": time.Now().Unix(), "data": data})
}
