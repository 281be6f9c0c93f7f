package httpapi

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/wkmp/audiocore/internal/events"
	"github.com/wkmp/audiocore/internal/orchestrator"
	"github.com/wkmp/audiocore/internal/queue"
)

// fakeEngine implements Engine with scriptable return values, so handlers
// can be exercised without a real decoder/mixer stack.
type fakeEngine struct {
	enqueueID  string
	enqueueErr error
	lastSpec   orchestrator.PassageSpec

	removeErr error
	lastRemoveID string

	reorderErr error
	lastReorderID    string
	lastReorderIndex int

	playErr, pauseErr, skipErr, clearErr error

	volumeErr    error
	lastVolume   float64

	watchdogTotal uint64

	bus *events.Bus[orchestrator.Event]
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{bus: events.New[orchestrator.Event]()}
}

func (f *fakeEngine) Enqueue(req orchestrator.EnqueueRequest) (string, error) {
	f.lastSpec = req.PassageSpec
	return f.enqueueID, f.enqueueErr
}
func (f *fakeEngine) Remove(id string) error {
	f.lastRemoveID = id
	return f.removeErr
}
func (f *fakeEngine) Reorder(id string, newIndex int) error {
	f.lastReorderID = id
	f.lastReorderIndex = newIndex
	return f.reorderErr
}
func (f *fakeEngine) Play() error        { return f.playErr }
func (f *fakeEngine) Pause() error       { return f.pauseErr }
func (f *fakeEngine) Skip() error        { return f.skipErr }
func (f *fakeEngine) ClearQueued() error { return f.clearErr }
func (f *fakeEngine) SetVolume(v float64) error {
	f.lastVolume = v
	return f.volumeErr
}
func (f *fakeEngine) WatchdogStatus() uint64 { return f.watchdogTotal }
func (f *fakeEngine) Subscribe(buffer int) *events.Subscription[orchestrator.Event] {
	return f.bus.Subscribe(buffer)
}
func (f *fakeEngine) InitialState() orchestrator.Event {
	return orchestrator.Event{Kind: orchestrator.EvInitialState, Volume: 1.0}
}

func TestHandleEnqueue_Success(t *testing.T) {
	eng := newFakeEngine()
	eng.enqueueID = "qe-1"
	srv := NewServer(eng)

	body := `{"file_ref":"/music/a.flac","start_tick_us":0,"fade_in_point_us":0,"lead_in_point_us":0,"lead_out_point_us":40000,"fade_out_point_us":45000,"end_tick_us":50000,"fade_in_curve":"linear","fade_out_curve":"linear"}`
	req := httptest.NewRequest(http.MethodPost, "/queue", strings.NewReader(body))
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)

	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201: %s", w.Code, w.Body.String())
	}
	if eng.lastSpec.FileRef != "/music/a.flac" {
		t.Errorf("FileRef = %q", eng.lastSpec.FileRef)
	}

	var env envelope
	if err := json.Unmarshal(w.Body.Bytes(), &env); err != nil {
		t.Fatalf("decode envelope: %v", err)
	}
	data, _ := json.Marshal(env.Data)
	var resp enqueueResponseJSON
	if err := json.Unmarshal(data, &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.QueueEntryID != "qe-1" {
		t.Errorf("queue_entry_id = %q, want qe-1", resp.QueueEntryID)
	}
}

func TestHandleEnqueue_MissingFileRef(t *testing.T) {
	srv := NewServer(newFakeEngine())
	req := httptest.NewRequest(http.MethodPost, "/queue", strings.NewReader(`{"start_tick_us":0}`))
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
}

func TestHandleEnqueue_RejectsUnknownFields(t *testing.T) {
	srv := NewServer(newFakeEngine())
	req := httptest.NewRequest(http.MethodPost, "/queue", strings.NewReader(`{"file_ref":"x","bogus_field":1}`))
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
}

func TestHandleEnqueue_InvalidTimingMapsToBadRequest(t *testing.T) {
	eng := newFakeEngine()
	eng.enqueueErr = orchestrator.ErrInvalidTiming
	srv := NewServer(eng)

	req := httptest.NewRequest(http.MethodPost, "/queue", strings.NewReader(`{"file_ref":"x"}`))
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
}

func TestHandleRemove_NotFoundMapsTo404(t *testing.T) {
	eng := newFakeEngine()
	eng.removeErr = orchestrator.ErrNotFound
	srv := NewServer(eng)

	req := httptest.NewRequest(http.MethodDelete, "/queue/nope", nil)
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", w.Code)
	}
	if eng.lastRemoveID != "nope" {
		t.Errorf("lastRemoveID = %q", eng.lastRemoveID)
	}
}

func TestHandleReorder_IndexOutOfRangeMapsTo400(t *testing.T) {
	eng := newFakeEngine()
	eng.reorderErr = orchestrator.ErrIndexOutOfRange
	srv := NewServer(eng)

	req := httptest.NewRequest(http.MethodPatch, "/queue/qe-1", strings.NewReader(`{"new_index":5}`))
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
	if eng.lastReorderID != "qe-1" || eng.lastReorderIndex != 5 {
		t.Errorf("lastReorder = %q/%d", eng.lastReorderID, eng.lastReorderIndex)
	}
}

func TestHandlePlayPauseSkip(t *testing.T) {
	eng := newFakeEngine()
	srv := NewServer(eng)

	for _, path := range []string{"/playback/play", "/playback/pause", "/playback/skip"} {
		req := httptest.NewRequest(http.MethodPost, path, nil)
		w := httptest.NewRecorder()
		srv.ServeHTTP(w, req)
		if w.Code != http.StatusOK {
			t.Errorf("%s: status = %d, want 200", path, w.Code)
		}
	}
}

func TestHandleSkip_QueueEmptyMapsTo409(t *testing.T) {
	eng := newFakeEngine()
	eng.skipErr = orchestrator.ErrQueueEmpty
	srv := NewServer(eng)

	req := httptest.NewRequest(http.MethodPost, "/playback/skip", nil)
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)

	if w.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409", w.Code)
	}
}

func TestHandleClearQueued(t *testing.T) {
	eng := newFakeEngine()
	srv := NewServer(eng)

	req := httptest.NewRequest(http.MethodDelete, "/queue/queued", nil)
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
}

func TestHandleSetVolume(t *testing.T) {
	eng := newFakeEngine()
	srv := NewServer(eng)

	req := httptest.NewRequest(http.MethodPut, "/volume", strings.NewReader(`{"volume":0.5}`))
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", w.Code, w.Body.String())
	}
	if eng.lastVolume != 0.5 {
		t.Errorf("lastVolume = %v, want 0.5", eng.lastVolume)
	}
}

func TestHandleSetVolume_OutOfRangeMapsTo400(t *testing.T) {
	eng := newFakeEngine()
	eng.volumeErr = orchestrator.ErrVolumeOutOfRange
	srv := NewServer(eng)

	req := httptest.NewRequest(http.MethodPut, "/volume", strings.NewReader(`{"volume":2}`))
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
}

func TestHandleWatchdogStatus(t *testing.T) {
	eng := newFakeEngine()
	eng.watchdogTotal = 3
	srv := NewServer(eng)

	req := httptest.NewRequest(http.MethodGet, "/watchdog", nil)
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)

	var env envelope
	if err := json.Unmarshal(w.Body.Bytes(), &env); err != nil {
		t.Fatalf("decode envelope: %v", err)
	}
	data, _ := json.Marshal(env.Data)
	var resp watchdogStatusResponseJSON
	if err := json.Unmarshal(data, &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.InterventionsTotal != 3 {
		t.Errorf("interventions_total = %d, want 3", resp.InterventionsTotal)
	}
}

// TestHandleEvents_SendsInitialStateThenRelaysBroadcasts drives the SSE
// endpoint in a goroutine against an httptest server (a plain ResponseRecorder
// never unblocks a streaming handler) and checks both the immediate
// InitialState frame and a subsequently published event arrive.
func TestHandleEvents_SendsInitialStateThenRelaysBroadcasts(t *testing.T) {
	eng := newFakeEngine()
	srv := NewServer(eng)
	ts := httptest.NewServer(srv)
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/events")
	if err != nil {
		t.Fatalf("GET /events: %v", err)
	}
	defer resp.Body.Close()

	if resp.Header.Get("Content-Type") != "text/event-stream" {
		t.Errorf("Content-Type = %q", resp.Header.Get("Content-Type"))
	}

	buf := make([]byte, 4096)
	n, err := resp.Body.Read(buf)
	if err != nil && n == 0 {
		t.Fatalf("read initial frame: %v", err)
	}
	if !strings.Contains(string(buf[:n]), "event: InitialState") {
		t.Errorf("first frame = %q, want an InitialState event", string(buf[:n]))
	}

	deadline := time.Now().Add(2 * time.Second)
	for eng.bus.SubscriberCount() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("timed out waiting for subscriber registration")
		}
		time.Sleep(time.Millisecond)
	}
	eng.bus.Publish(orchestrator.Event{Kind: orchestrator.EvVolumeChanged, Volume: 0.3, QueueState: queue.Snapshot{}})

	n, err = resp.Body.Read(buf)
	if err != nil && n == 0 {
		t.Fatalf("read relayed frame: %v", err)
	}
	if !strings.Contains(string(buf[:n]), "event: VolumeChanged") {
		t.Errorf("second frame = %q, want a VolumeChanged event", string(buf[:n]))
	}
}
