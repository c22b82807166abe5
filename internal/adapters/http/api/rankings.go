package api

import (
	"bytes"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/okian/tabulator/internal/adapters/cache"
	"github.com/okian/tabulator/internal/adapters/export"
	"github.com/okian/tabulator/internal/domain/ranking"
)

type rankingsResponse struct {
	CompetitionID string          `json:"competitionId"`
	SegmentID     string          `json:"segmentId"`
	Entries       []ranking.Entry `json:"entries"`
}

// handleGetRankings handles GET /competitions/{competitionID}/segments/{segmentID}/rankings.
func (s *Server) handleGetRankings(w http.ResponseWriter, r *http.Request) {
	const op = "api.get_rankings"
	compID, segID := chi.URLParam(r, "competitionID"), chi.URLParam(r, "segmentID")
	refresh, err := parseRefresh(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err)
		return
	}
	res, err := s.deps.Rankings(r.Context(), compID, segID, refresh)
	if err != nil {
		s.writeDomainError(w, r, op, err)
		return
	}
	writeJSON(w, http.StatusOK, rankingsResponse{CompetitionID: compID, SegmentID: segID, Entries: res.Entries()})
}

// handleExportRankings handles GET .../segments/{segmentID}/rankings.xlsx.
func (s *Server) handleExportRankings(w http.ResponseWriter, r *http.Request) {
	const op = "api.export_rankings"
	compID, segID := chi.URLParam(r, "competitionID"), chi.URLParam(r, "segmentID")
	refresh, err := parseRefresh(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err)
		return
	}
	comp, err := s.deps.Competition(r.Context(), compID)
	if err != nil {
		s.writeDomainError(w, r, op, err)
		return
	}
	res, err := s.deps.Rankings(r.Context(), compID, segID, refresh)
	if err != nil {
		s.writeDomainError(w, r, op, err)
		return
	}
	var buf bytes.Buffer
	if err := export.WriteRankingsXLSX(&buf, comp, segID, res); err != nil {
		s.writeDomainError(w, r, op, err)
		return
	}
	w.Header().Set("Content-Type", export.ContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", compID+"-"+segID+"-rankings.xlsx"))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
}

// handleInvalidateCache handles DELETE /competitions/{competitionID}/rankings/cache.
func (s *Server) handleInvalidateCache(w http.ResponseWriter, r *http.Request) {
	const op = "api.invalidate_cache"
	compID := chi.URLParam(r, "competitionID")
	if _, err := s.deps.Competition(r.Context(), compID); err != nil {
		s.writeDomainError(w, r, op, err)
		return
	}
	s.deps.InvalidateRankingCache(compID)
	w.WriteHeader(http.StatusNoContent)
}

// handleCacheStatus handles GET /rankings/cache.
func (s *Server) handleCacheStatus(w http.ResponseWriter, _ *http.Request) {
	status := s.deps.CacheStatus()
	if status == nil {
		status = []cache.EntryStatus{}
	}
	writeJSON(w, http.StatusOK, status)
}

func parseRefresh(r *http.Request) (bool, error) {
	v := r.URL.Query().Get("refresh")
	if v == "" {
		return false, nil
	}
	refresh, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("%w: refresh must be a boolean", ErrBadRequest)
	}
	return refresh, nil
}
