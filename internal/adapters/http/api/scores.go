package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/okian/tabulator/internal/domain/model"
)

// HeaderIdempotencyKey carries the client's retry key on PUT /scores.
const HeaderIdempotencyKey = "Idempotency-Key"

type submitResponse struct {
	Status        string `json:"status"`
	CompetitionID string `json:"competitionId,omitempty"`
	Duplicate     bool   `json:"duplicate"`
}

type deleteResponse struct {
	Deleted bool `json:"deleted"`
}

type resetResponse struct {
	Removed int `json:"removed"`
}

// handleListScores handles GET /competitions/{competitionID}/scores. The
// ETag is the fingerprint of the encoded rows, so an unchanged ledger
// answers 304 without a body.
func (s *Server) handleListScores(w http.ResponseWriter, r *http.Request) {
	const op = "api.list_scores"
	snap, err := s.deps.ListScores(r.Context(), chi.URLParam(r, "competitionID"))
	if err != nil {
		s.writeDomainError(w, r, op, err)
		return
	}
	body, err := snap.Encode()
	if err != nil {
		s.writeDomainError(w, r, op, err)
		return
	}
	etag := strconv.Quote(snap.Fingerprint())
	w.Header().Set("ETag", etag)
	w.Header().Set("Cache-Control", "no-cache")
	if etagMatches(r.Header.Get("If-None-Match"), etag) {
		w.WriteHeader(http.StatusNotModified)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}

// handlePutScore handles PUT /scores.
func (s *Server) handlePutScore(w http.ResponseWriter, r *http.Request) {
	const op = "api.put_score"
	var req model.ScoreSubmission
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", fmt.Errorf("%s: %w: %w", op, ErrBadRequest, err))
		return
	}
	res, err := s.deps.SubmitScore(r.Context(), req, strings.TrimSpace(r.Header.Get(HeaderIdempotencyKey)))
	if err != nil {
		s.writeDomainError(w, r, op, err)
		return
	}
	if res.Duplicate {
		writeJSON(w, http.StatusOK, submitResponse{Status: "duplicate", Duplicate: true})
		return
	}
	writeJSON(w, http.StatusOK, submitResponse{Status: "stored", CompetitionID: res.CompetitionID})
}

// handleDeleteScore handles DELETE /scores/{segmentID}/{contestantID}/{judgeID}/{criterionID}.
func (s *Server) handleDeleteScore(w http.ResponseWriter, r *http.Request) {
	const op = "api.delete_score"
	key := model.ScoreKey{
		SegmentID:    chi.URLParam(r, "segmentID"),
		ContestantID: chi.URLParam(r, "contestantID"),
		JudgeID:      chi.URLParam(r, "judgeID"),
		CriterionID:  chi.URLParam(r, "criterionID"),
	}
	existed, err := s.deps.DeleteScore(r.Context(), key)
	if err != nil {
		s.writeDomainError(w, r, op, err)
		return
	}
	writeJSON(w, http.StatusOK, deleteResponse{Deleted: existed})
}

// handleResetScores handles POST /competitions/{competitionID}/scores/reset.
func (s *Server) handleResetScores(w http.ResponseWriter, r *http.Request) {
	const op = "api.reset_scores"
	n, err := s.deps.ResetScores(r.Context(), chi.URLParam(r, "competitionID"))
	if err != nil {
		s.writeDomainError(w, r, op, err)
		return
	}
	writeJSON(w, http.StatusOK, resetResponse{Removed: n})
}

// etagMatches reports whether an If-None-Match header names etag.
func etagMatches(header, etag string) bool {
	if header == "" {
		return false
	}
	for _, candidate := range strings.Split(header, ",") {
		candidate = strings.TrimPrefix(strings.TrimSpace(candidate), "W/")
		if candidate == "*" || candidate == etag {
			return true
		}
	}
	return false
}
