package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/okian/tabulator/internal/domain/model"
	"github.com/okian/tabulator/pkg/logger"
	"github.com/okian/tabulator/pkg/metrics"
)

// streamBuffer bounds the events queued for one slow stream client.
const streamBuffer = 256

// EventResync tells a stream client it missed events and must refetch scores.
const EventResync = "RESYNC"

// handleStreamEvents handles GET /competitions/{competitionID}/events as a
// server-sent event stream of score events. A client that falls behind
// receives a RESYNC event and the stream ends.
func (s *Server) handleStreamEvents(w http.ResponseWriter, r *http.Request) {
	const op = "api.stream_events"
	compID := chi.URLParam(r, "competitionID")
	if _, err := s.deps.Competition(r.Context(), compID); err != nil {
		s.writeDomainError(w, r, op, err)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "internal_error", ErrStreaming)
		return
	}

	events := make(chan model.ScoreEvent, streamBuffer)
	lagged := make(chan struct{})
	var lagOnce sync.Once
	unsubscribe, err := s.deps.SubscribeScoreUpdates(func(_ context.Context, e model.ScoreEvent) {
		if e.CompetitionID != compID {
			return
		}
		select {
		case events <- e:
		default:
			lagOnce.Do(func() { close(lagged) })
		}
	})
	if err != nil {
		s.writeDomainError(w, r, op, err)
		return
	}
	defer unsubscribe()

	metrics.UpdateStreamClients(int(s.streams.Add(1)))
	defer func() { metrics.UpdateStreamClients(int(s.streams.Add(-1))) }()

	// streams outlive the server write timeout
	_ = http.NewResponseController(w).SetWriteDeadline(time.Time{})

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	_, _ = fmt.Fprint(w, ": connected\n\n")
	flusher.Flush()

	s.log.Debug(r.Context(), "stream opened", logger.String("competition_id", compID))
	defer s.log.Debug(r.Context(), "stream closed", logger.String("competition_id", compID))

	heartbeat := time.NewTicker(s.heartbeat)
	defer heartbeat.Stop()

	var seq uint64
	for {
		select {
		case <-r.Context().Done():
			return
		case <-lagged:
			_, _ = fmt.Fprintf(w, "event: %s\ndata: {}\n\n", EventResync)
			flusher.Flush()
			return
		case <-heartbeat.C:
			_, _ = fmt.Fprint(w, ": ping\n\n")
			flusher.Flush()
		case e := <-events:
			data, err := json.Marshal(e)
			if err != nil {
				s.log.Warn(r.Context(), "event not encodable", logger.Error(err))
				continue
			}
			seq++
			_, _ = fmt.Fprintf(w, "id: %d\nevent: %s\ndata: %s\n\n", seq, e.Type, data)
			flusher.Flush()
		}
	}
}
