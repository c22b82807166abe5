package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// handleListCompetitions handles GET /competitions.
func (s *Server) handleListCompetitions(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Competitions())
}

// handleGetCompetition handles GET /competitions/{competitionID}. Judge
// access codes never leave the server.
func (s *Server) handleGetCompetition(w http.ResponseWriter, r *http.Request) {
	const op = "api.get_competition"
	comp, err := s.deps.Competition(r.Context(), chi.URLParam(r, "competitionID"))
	if err != nil {
		s.writeDomainError(w, r, op, err)
		return
	}
	writeJSON(w, http.StatusOK, comp)
}
