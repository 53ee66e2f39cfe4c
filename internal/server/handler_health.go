package server

import "net/http"

// handleHealth is a dependency-free liveness probe, per spec.md §6.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleListModels lists every distinct model name registered in the
// router's deployment registry, with owned_by taken from the provider of
// that model's first deployment.
func (s *Server) handleListModels(w http.ResponseWriter, r *http.Request) {
	reg := s.router.Registry()
	models := reg.Models()

	type modelEntry struct {
		ID      string `json:"id"`
		Object  string `json:"object"`
		OwnedBy string `json:"owned_by,omitempty"`
	}
	out := make([]modelEntry, 0, len(models))
	for _, m := range models {
		deployments := reg.Deployments(m)
		ownedBy := ""
		if len(deployments) > 0 {
			ownedBy = deployments[0].Provider.Name()
		}
		out = append(out, modelEntry{ID: m, Object: "model", OwnedBy: ownedBy})
	}

	writeJSON(w, http.StatusOK, map[string]any{"object": "list", "data": out})
}
