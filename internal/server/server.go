// Package server exposes the gateway's OpenAI-compatible HTTP API: it
// decodes requests into the canonical types, dispatches them through
// the router's Execute pipeline, and encodes the canonical response (or
// an SSE stream) back to the client.
package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/llmgateway/gateway/internal/cache"
	"github.com/llmgateway/gateway/internal/router"
	"github.com/llmgateway/gateway/internal/tokencount"
)

// Server holds the HTTP router and every collaborator a handler needs:
// the request router (model -> deployment -> provider dispatch), the
// response cache, the auth collaborator, and the Prometheus registerer
// backing /metrics.
type Server struct {
	mux      chi.Router
	router   *router.Router
	cache    *cache.Cache
	auth     Authenticator
	reg      *prometheus.Registry
	tokenEst *tokencount.Estimator
}

// New builds a Server, wires its routes, and returns it ready to serve.
// cache and reg may be nil (caching and /metrics are then disabled);
// auth defaults to NoopAuthenticator when nil.
func New(rt *router.Router, c *cache.Cache, auth Authenticator, reg *prometheus.Registry) *Server {
	if auth == nil {
		auth = NoopAuthenticator{}
	}
	s := &Server{router: rt, cache: c, auth: auth, reg: reg}
	s.routes()
	return s
}

// WithTokenEstimator attaches a tokenizer-backed prompt size estimator
// used to reject oversized chat requests before they reach a provider.
// Loading a tokenizer vocabulary is optional configuration (it needs a
// model file on disk), so this is a separate setter rather than a New
// parameter every caller and test must supply.
func (s *Server) WithTokenEstimator(e *tokencount.Estimator) *Server {
	s.tokenEst = e
	return s
}

func (s *Server) routes() {
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(s.authenticate)

	r.Get("/health", s.handleHealth)
	if s.reg != nil {
		r.Handle("/metrics", promhttp.HandlerFor(s.reg, promhttp.HandlerOpts{}))
	}

	r.Route("/v1", func(r chi.Router) {
		r.Get("/models", s.handleListModels)
		r.Post("/chat/completions", s.handleChatCompletions)
		r.Post("/embeddings", s.handleEmbeddings)
		r.Post("/images/generations", s.handleImageGenerations)
		r.Post("/audio/transcriptions", s.handleAudioTranscriptions)
		r.Post("/audio/translations", s.handleAudioTranslations)
		r.Post("/audio/speech", s.handleAudioSpeech)
		r.Post("/moderations", s.handleModerations)
		r.Post("/rerank", s.handleRerank)
	})

	s.mux = r
}

// authenticate runs every request through the auth collaborator and
// stashes the resulting RequestContext for handlers to read back via
// requestContextFrom. /health and /metrics are exempt: /health is a
// liveness probe with no dependencies, per spec.md §6.
func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" || r.URL.Path == "/metrics" {
			next.ServeHTTP(w, r)
			return
		}
		rc, err := s.auth.Authenticate(r)
		if err != nil {
			writeError(w, err, http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r.WithContext(withRequestContext(r.Context(), rc)))
	})
}

// ServeHTTP makes Server an http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}
