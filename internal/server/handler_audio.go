package server

import (
	"context"
	"encoding/json"
	"io"
	"net/http"

	"github.com/llmgateway/gateway/internal/provider"
	"github.com/llmgateway/gateway/internal/router"
	"github.com/llmgateway/gateway/internal/types"
)

// readAudioForm pulls the model field and the "file" multipart part out
// of a transcription/translation request, per the OpenAI multipart shape.
func readAudioForm(r *http.Request) (model string, audio []byte, filename string, err error) {
	if err = r.ParseMultipartForm(32 << 20); err != nil {
		return "", nil, "", err
	}
	model = r.FormValue("model")
	file, header, err := r.FormFile("file")
	if err != nil {
		return "", nil, "", err
	}
	defer file.Close()
	audio, err = io.ReadAll(file)
	if err != nil {
		return "", nil, "", err
	}
	return model, audio, header.Filename, nil
}

func (s *Server) handleAudioTranscriptions(w http.ResponseWriter, r *http.Request) {
	model, audio, filename, err := readAudioForm(r)
	if err != nil {
		writeError(w, err, http.StatusBadRequest)
		return
	}

	rc := requestContextFrom(r.Context())
	routeReq := router.Request{Model: model, RoutingKey: rc.APIKey, Tags: rc.Tags}

	text, err := router.Execute(r.Context(), s.router, routeReq,
		func(ctx context.Context, p provider.Provider, d *router.Deployment) (string, error) {
			ap, ok := p.(provider.AudioProvider)
			if !ok {
				return "", provider.ErrNotSupportedCapability(p.Name(), types.CapAudioTranscription)
			}
			return ap.AudioTranscription(ctx, d.Upstream, audio, filename)
		})
	if err != nil {
		writeError(w, err, http.StatusBadGateway)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"text": text})
}

func (s *Server) handleAudioTranslations(w http.ResponseWriter, r *http.Request) {
	model, audio, filename, err := readAudioForm(r)
	if err != nil {
		writeError(w, err, http.StatusBadRequest)
		return
	}

	rc := requestContextFrom(r.Context())
	routeReq := router.Request{Model: model, RoutingKey: rc.APIKey, Tags: rc.Tags}

	text, err := router.Execute(r.Context(), s.router, routeReq,
		func(ctx context.Context, p provider.Provider, d *router.Deployment) (string, error) {
			ap, ok := p.(provider.AudioProvider)
			if !ok {
				return "", provider.ErrNotSupportedCapability(p.Name(), types.CapAudioTranslation)
			}
			return ap.AudioTranslation(ctx, d.Upstream, audio, filename)
		})
	if err != nil {
		writeError(w, err, http.StatusBadGateway)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"text": text})
}

type speechRequest struct {
	Model string `json:"model"`
	Voice string `json:"voice"`
	Input string `json:"input"`
}

func (s *Server) handleAudioSpeech(w http.ResponseWriter, r *http.Request) {
	var req speechRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, err, http.StatusBadRequest)
		return
	}

	rc := requestContextFrom(r.Context())
	routeReq := router.Request{Model: req.Model, RoutingKey: rc.APIKey, Tags: rc.Tags}

	audio, err := router.Execute(r.Context(), s.router, routeReq,
		func(ctx context.Context, p provider.Provider, d *router.Deployment) ([]byte, error) {
			ap, ok := p.(provider.AudioProvider)
			if !ok {
				return nil, provider.ErrNotSupportedCapability(p.Name(), types.CapAudioSpeech)
			}
			return ap.AudioSpeech(ctx, d.Upstream, req.Voice, req.Input)
		})
	if err != nil {
		writeError(w, err, http.StatusBadGateway)
		return
	}

	w.Header().Set("Content-Type", "audio/mpeg")
	w.WriteHeader(http.StatusOK)
	w.Write(audio)
}
