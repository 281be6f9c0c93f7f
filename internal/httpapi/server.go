// Package httpapi is the concrete transport binding §6.1/§6.2 deliberately
// leave unspecified: it serves the command surface as JSON POST/DELETE/PATCH
// routes and the event stream as text/event-stream SSE.
//
// Grounded on flowpbx's internal/pushgw.Server: a chi.Mux held behind a
// small Server struct, one handler method per route, and the same
// envelope{Data, Error}/writeJSON/writeError/readJSON helpers for response
// shape and body-size-limited JSON decoding.
package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/wkmp/audiocore/internal/events"
	"github.com/wkmp/audiocore/internal/fadecurve"
	"github.com/wkmp/audiocore/internal/orchestrator"
	"github.com/wkmp/audiocore/internal/tick"
)

// Engine is the subset of *orchestrator.Engine the server depends on.
type Engine interface {
	Enqueue(req orchestrator.EnqueueRequest) (string, error)
	Remove(queueEntryID string) error
	Reorder(queueEntryID string, newIndex int) error
	Play() error
	Pause() error
	Skip() error
	ClearQueued() error
	SetVolume(volume float64) error
	WatchdogStatus() uint64
	Subscribe(buffer int) *events.Subscription[orchestrator.Event]
	InitialState() orchestrator.Event
}

// Server holds the HTTP command-surface dependencies.
type Server struct {
	router *chi.Mux
	engine Engine
}

// NewServer constructs the HTTP server with all routes mounted.
func NewServer(engine Engine) *Server {
	s := &Server{router: chi.NewRouter(), engine: engine}
	s.routes()
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Router returns the underlying chi.Mux so the caller can add middleware.
func (s *Server) Router() *chi.Mux { return s.router }

func (s *Server) routes() {
	r := s.router
	r.Post("/queue", s.handleEnqueue)
	r.Delete("/queue/queued", s.handleClearQueued)
	r.Delete("/queue/{queue_entry_id}", s.handleRemove)
	r.Patch("/queue/{queue_entry_id}", s.handleReorder)
	r.Post("/playback/play", s.handlePlay)
	r.Post("/playback/pause", s.handlePause)
	r.Post("/playback/skip", s.handleSkip)
	r.Put("/volume", s.handleSetVolume)
	r.Get("/watchdog", s.handleWatchdogStatus)
	r.Get("/events", s.handleEvents)
}

// songTimelineEntryJSON is one entry of the optional per-passage song
// timeline (§6.4 "queried on start").
type songTimelineEntryJSON struct {
	StartTickUS int64  `json:"start_tick_us"`
	SongID      string `json:"song_id"`
}

// enqueueRequestJSON mirrors §6.1's Enqueue parameters: a file reference,
// the six-tick passage timing bundle (microsecond integers matching §3
// exactly), and the two fade-curve names.
type enqueueRequestJSON struct {
	PassageID        string                  `json:"passage_id,omitempty"`
	FileRef          string                  `json:"file_ref"`
	StartTickUS      int64                   `json:"start_tick_us"`
	FadeInPointUS    int64                   `json:"fade_in_point_us"`
	LeadInPointUS    int64                   `json:"lead_in_point_us"`
	LeadOutPointUS   int64                   `json:"lead_out_point_us"`
	FadeOutPointUS   int64                   `json:"fade_out_point_us"`
	EndTickUS        int64                   `json:"end_tick_us"`
	FadeInCurve      string                  `json:"fade_in_curve"`
	FadeOutCurve     string                  `json:"fade_out_curve"`
	SongTimeline     []songTimelineEntryJSON `json:"song_timeline,omitempty"`
}

type enqueueResponseJSON struct {
	QueueEntryID string `json:"queue_entry_id"`
}

// handleEnqueue handles POST /queue.
func (s *Server) handleEnqueue(w http.ResponseWriter, r *http.Request) {
	var req enqueueRequestJSON
	if msg := readJSON(r, &req); msg != "" {
		writeError(w, http.StatusBadRequest, msg)
		return
	}
	if req.FileRef == "" {
		writeError(w, http.StatusBadRequest, "file_ref is required")
		return
	}

	spec := orchestrator.PassageSpec{
		PassageID: req.PassageID,
		FileRef:   req.FileRef,
		Timing: orchestrator.PassageTiming{
			StartTick:        tick.Tick(req.StartTickUS),
			FadeInPointTick:  tick.Tick(req.FadeInPointUS),
			LeadInPointTick:  tick.Tick(req.LeadInPointUS),
			LeadOutPointTick: tick.Tick(req.LeadOutPointUS),
			FadeOutPointTick: tick.Tick(req.FadeOutPointUS),
			EndTick:          tick.Tick(req.EndTickUS),
			FadeInCurve:      fadecurve.Parse(req.FadeInCurve),
			FadeOutCurve:     fadecurve.Parse(req.FadeOutCurve),
		},
	}
	for _, st := range req.SongTimeline {
		spec.SongTimeline = append(spec.SongTimeline, orchestrator.SongTimelineEntry{
			StartTick: tick.Tick(st.StartTickUS),
			SongID:    st.SongID,
		})
	}

	id, err := s.engine.Enqueue(orchestrator.EnqueueRequest{PassageSpec: spec})
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, enqueueResponseJSON{QueueEntryID: id})
}

// handleRemove handles DELETE /queue/{queue_entry_id}.
func (s *Server) handleRemove(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "queue_entry_id")
	if err := s.engine.Remove(id); err != nil {
		writeCommandError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, nil)
}

type reorderRequestJSON struct {
	NewIndex int `json:"new_index"`
}

// handleReorder handles PATCH /queue/{queue_entry_id}.
func (s *Server) handleReorder(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "queue_entry_id")
	var req reorderRequestJSON
	if msg := readJSON(r, &req); msg != "" {
		writeError(w, http.StatusBadRequest, msg)
		return
	}
	if err := s.engine.Reorder(id, req.NewIndex); err != nil {
		writeCommandError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, nil)
}

// handlePlay handles POST /playback/play.
func (s *Server) handlePlay(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.Play(); err != nil {
		writeCommandError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, nil)
}

// handlePause handles POST /playback/pause.
func (s *Server) handlePause(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.Pause(); err != nil {
		writeCommandError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, nil)
}

// handleSkip handles POST /playback/skip.
func (s *Server) handleSkip(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.Skip(); err != nil {
		writeCommandError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, nil)
}

// handleClearQueued handles DELETE /queue/queued.
func (s *Server) handleClearQueued(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.ClearQueued(); err != nil {
		writeCommandError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, nil)
}

type setVolumeRequestJSON struct {
	Volume float64 `json:"volume"`
}

// handleSetVolume handles PUT /volume.
func (s *Server) handleSetVolume(w http.ResponseWriter, r *http.Request) {
	var req setVolumeRequestJSON
	if msg := readJSON(r, &req); msg != "" {
		writeError(w, http.StatusBadRequest, msg)
		return
	}
	if err := s.engine.SetVolume(req.Volume); err != nil {
		writeCommandError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, nil)
}

type watchdogStatusResponseJSON struct {
	InterventionsTotal uint64 `json:"interventions_total"`
}

// handleWatchdogStatus handles GET /watchdog.
func (s *Server) handleWatchdogStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, watchdogStatusResponseJSON{InterventionsTotal: s.engine.WatchdogStatus()})
}

// writeCommandError maps an orchestrator sentinel error to the §6.1 failure
// vocabulary and an appropriate HTTP status.
func writeCommandError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, orchestrator.ErrNotFound):
		writeError(w, http.StatusNotFound, "NotFound")
	case errors.Is(err, orchestrator.ErrIndexOutOfRange):
		writeError(w, http.StatusBadRequest, "IndexOutOfRange")
	case errors.Is(err, orchestrator.ErrQueueEmpty):
		writeError(w, http.StatusConflict, "QueueEmpty")
	case errors.Is(err, orchestrator.ErrVolumeOutOfRange):
		writeError(w, http.StatusBadRequest, "OutOfRange")
	case errors.Is(err, orchestrator.ErrInvalidTiming):
		writeError(w, http.StatusBadRequest, "InvalidTiming")
	default:
		slog.Error("httpapi: command failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

// envelope is the standard response wrapper, matching flowpbx's
// push-gateway API shape.
type envelope struct {
	Data  any    `json:"data,omitempty"`
	Error string `json:"error,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(envelope{Data: data}); err != nil {
		slog.Error("httpapi: failed to encode json response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(envelope{Error: msg}); err != nil {
		slog.Error("httpapi: failed to encode json error response", "error", err)
	}
}

const maxRequestBodySize = 1 << 20

func readJSON(r *http.Request, dst any) string {
	r.Body = http.MaxBytesReader(nil, r.Body, maxRequestBodySize)

	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	if err := dec.Decode(dst); err != nil {
		return fmt.Sprintf("invalid request body: %v", err)
	}
	if dec.More() {
		return "request body must contain a single json object"
	}
	return ""
}
