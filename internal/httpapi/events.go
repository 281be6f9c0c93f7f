package httpapi

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/wkmp/audiocore/internal/orchestrator"
)

// eventJSON is the wire shape of orchestrator.Event sent over SSE. Only the
// fields relevant to Kind are populated by the caller; the rest marshal as
// zero values, matching §6.2's per-event parameter lists.
type eventJSON struct {
	Kind      string `json:"kind"`
	Timestamp string `json:"timestamp"`

	QueueState any `json:"queue_state,omitempty"`

	QueueEntryID string `json:"queue_entry_id,omitempty"`
	PassageID    string `json:"passage_id,omitempty"`

	FromQueueEntryID string `json:"from_queue_entry_id,omitempty"`
	ToQueueEntryID   string `json:"to_queue_entry_id,omitempty"`

	SongID string `json:"song_id,omitempty"`

	PositionMS int64 `json:"position_ms,omitempty"`
	DurationMS int64 `json:"duration_ms,omitempty"`

	Volume float64 `json:"volume,omitempty"`

	InterventionType   string `json:"intervention_type,omitempty"`
	InterventionsTotal uint64 `json:"interventions_total,omitempty"`

	Message string `json:"message,omitempty"`
}

func toEventJSON(ev orchestrator.Event) eventJSON {
	return eventJSON{
		Kind:               ev.Kind.String(),
		Timestamp:          ev.Timestamp.Format("2006-01-02T15:04:05.000Z07:00"),
		QueueState:         ev.QueueState,
		QueueEntryID:       ev.QueueEntryID,
		PassageID:          ev.PassageID,
		FromQueueEntryID:   ev.FromQueueEntryID,
		ToQueueEntryID:     ev.ToQueueEntryID,
		SongID:             ev.SongID,
		PositionMS:         ev.PositionMS,
		DurationMS:         ev.DurationMS,
		Volume:             ev.Volume,
		InterventionType:   ev.InterventionType,
		InterventionsTotal: ev.InterventionsTotal,
		Message:            ev.Message,
	}
}

// handleEvents handles GET /events: a text/event-stream connection that
// sends InitialState immediately on connect (§6.2 "on subscription"), then
// relays every subsequent broadcast event until the client disconnects.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	sub := s.engine.Subscribe(32)
	defer sub.Close()

	if !writeSSEEvent(w, flusher, s.engine.InitialState()) {
		return
	}

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-sub.C():
			if !ok {
				return
			}
			if !writeSSEEvent(w, flusher, ev) {
				return
			}
		}
	}
}

func writeSSEEvent(w http.ResponseWriter, flusher http.Flusher, ev orchestrator.Event) bool {
	payload, err := json.Marshal(toEventJSON(ev))
	if err != nil {
		slog.Error("httpapi: failed to marshal sse event", "error", err)
		return true
	}
	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Kind.String(), payload); err != nil {
		return false
	}
	flusher.Flush()
	return true
}
