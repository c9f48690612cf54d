package app

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/gorilla/websocket"

	"github.com/relabs-tech/scan_capture/internal/capture"
	"github.com/relabs-tech/scan_capture/internal/catalog"
	"github.com/relabs-tech/scan_capture/internal/controller"
	"github.com/relabs-tech/scan_capture/internal/motion"
	"github.com/relabs-tech/scan_capture/internal/reconstruct"
	"github.com/relabs-tech/scan_capture/internal/sensors"
)

type fakeToken struct{ err error }

func (t *fakeToken) Wait() bool                     { return true }
func (t *fakeToken) WaitTimeout(time.Duration) bool { return true }
func (t *fakeToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}
func (t *fakeToken) Error() error { return t.err }

type sent struct {
	topic    string
	retained bool
	payload  []byte
}

type fakePublisher struct {
	mu   sync.Mutex
	msgs []sent
}

func (p *fakePublisher) Publish(topic string, _ byte, retained bool, payload interface{}) mqtt.Token {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.msgs = append(p.msgs, sent{topic: topic, retained: retained, payload: payload.([]byte)})
	return &fakeToken{}
}

func (p *fakePublisher) sent() []sent {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]sent(nil), p.msgs...)
}

// fakeControl records calls and returns canned results.
type fakeControl struct {
	mu      sync.Mutex
	calls   []string
	phase   capture.Phase
	mode    capture.Mode
	err     error
	finish  capture.FinishResult
	notes   chan controller.Notification
	aborted capture.Phase
}

func newFakeControl() *fakeControl {
	return &fakeControl{phase: capture.PhaseIdle, notes: make(chan controller.Notification, 8)}
}

func (f *fakeControl) record(name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, name)
	return f.err
}

func (f *fakeControl) called() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeControl) Snapshot(context.Context) (controller.Snapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var snap controller.Snapshot
	snap.ID = "sess-1"
	snap.Phase = f.phase
	snap.Mode = f.mode
	return snap, nil
}

func (f *fakeControl) Start(context.Context) (string, error) {
	if err := f.record("start"); err != nil {
		return "", err
	}
	return "sess-1", nil
}

func (f *fakeControl) Capture(context.Context) (capture.Sample, error) {
	if err := f.record("capture"); err != nil {
		return capture.Sample{}, err
	}
	return capture.Sample{ID: 1, Path: "/scans/sess-1/Images/IMG_0001.jpg"}, nil
}

func (f *fakeControl) ChangeMode(_ context.Context, m capture.Mode) error {
	if err := f.record("mode"); err != nil {
		return err
	}
	f.mu.Lock()
	f.mode = m
	f.mu.Unlock()
	return nil
}

func (f *fakeControl) Finish(context.Context) (capture.FinishResult, error) {
	return f.finish, f.record("finish")
}

func (f *fakeControl) Reconstruct(context.Context) error { return f.record("reconstruct") }
func (f *fakeControl) Retry(context.Context) error       { return f.record("retry") }
func (f *fakeControl) Reset(context.Context) error       { return f.record("reset") }

func (f *fakeControl) Abort(context.Context) (capture.Phase, error) {
	return f.aborted, f.record("abort")
}

func (f *fakeControl) Subscribe() (<-chan controller.Notification, func()) {
	return f.notes, func() {}
}

type fakeHistory struct {
	records []catalog.Record
	limit   int
}

func (h *fakeHistory) ListSessions(_ context.Context, limit int) ([]catalog.Record, error) {
	h.limit = limit
	return h.records, nil
}

func (h *fakeHistory) Get(_ context.Context, id string) (catalog.Record, error) {
	for _, r := range h.records {
		if r.ID == id {
			return r, nil
		}
	}
	return catalog.Record{}, catalog.ErrNotFound
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestRouterSessionLifecycle(t *testing.T) {
	ctrl := newFakeControl()
	r := NewRouter(ctrl, nil, nil)

	rec := do(t, r, "POST", "/api/session/start", "")
	if rec.Code != http.StatusCreated || !strings.Contains(rec.Body.String(), `"session_id":"sess-1"`) {
		t.Fatalf("start: %d %s", rec.Code, rec.Body.String())
	}
	rec = do(t, r, "POST", "/api/session/capture", "")
	if rec.Code != http.StatusCreated {
		t.Fatalf("capture: %d %s", rec.Code, rec.Body.String())
	}
	var sample capture.Sample
	if err := json.Unmarshal(rec.Body.Bytes(), &sample); err != nil || sample.ID != 1 {
		t.Fatalf("capture body: %v %+v", err, sample)
	}
	for _, path := range []string{"finish", "reconstruct", "retry", "reset", "abort"} {
		if rec := do(t, r, "POST", "/api/session/"+path, ""); rec.Code >= 300 {
			t.Fatalf("%s: %d %s", path, rec.Code, rec.Body.String())
		}
	}
	want := "start,capture,finish,reconstruct,retry,reset,abort"
	if got := strings.Join(ctrl.called(), ","); got != want {
		t.Fatalf("calls %s, want %s", got, want)
	}

	rec = do(t, r, "GET", "/api/session", "")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"phase":"idle"`) {
		t.Fatalf("get session: %d %s", rec.Code, rec.Body.String())
	}
}

func TestRouterMapsErrors(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{capture.ErrTooSoon, http.StatusConflict},
		{&capture.TransitionError{From: capture.PhaseIdle, To: capture.PhaseReconstructing}, http.StatusConflict},
		{capture.ErrWrongMode, http.StatusUnprocessableEntity},
		{reconstruct.ErrEngineUnsupported, http.StatusServiceUnavailable},
		{reconstruct.ErrEngineSessionCreationFailed, http.StatusBadGateway},
		{controller.ErrStopped, http.StatusServiceUnavailable},
	}
	for _, tc := range cases {
		ctrl := newFakeControl()
		ctrl.err = tc.err
		rec := do(t, NewRouter(ctrl, nil, nil), "POST", "/api/session/reconstruct", "")
		if rec.Code != tc.want {
			t.Fatalf("%v: got %d, want %d", tc.err, rec.Code, tc.want)
		}
		if !strings.Contains(rec.Body.String(), `"error"`) {
			t.Fatalf("%v: missing error body: %s", tc.err, rec.Body.String())
		}
	}
}

func TestRouterFinishLowCountBlocked(t *testing.T) {
	ctrl := newFakeControl()
	ctrl.err = capture.ErrTooFewSamples
	ctrl.finish = capture.FinishResult{Count: 3, MinRecommended: 30, LowCount: true}
	rec := do(t, NewRouter(ctrl, nil, nil), "POST", "/api/session/finish", "")
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"low_count":true`) {
		t.Fatalf("finish result missing from body: %s", rec.Body.String())
	}
}

func TestRouterChangeMode(t *testing.T) {
	ctrl := newFakeControl()
	r := NewRouter(ctrl, nil, nil)

	rec := do(t, r, "PUT", "/api/session/mode", `{"mode":"automatic","interval_ms":1500}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("mode: %d %s", rec.Code, rec.Body.String())
	}
	if !ctrl.mode.IsAutomatic() || ctrl.mode.Interval() != 1500*time.Millisecond {
		t.Fatalf("unexpected mode %s", ctrl.mode)
	}

	rec = do(t, r, "PUT", "/api/session/mode", `{"mode":"automatic","interval_ms":0}`)
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422 for zero interval, got %d", rec.Code)
	}
	if rec := do(t, r, "PUT", "/api/session/mode", `not json`); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad body, got %d", rec.Code)
	}
}

func TestRouterSessionHistory(t *testing.T) {
	hist := &fakeHistory{records: []catalog.Record{{ID: "a", Phase: "complete", SampleCount: 40}}}
	r := NewRouter(newFakeControl(), hist, nil)

	rec := do(t, r, "GET", "/api/sessions?limit=5", "")
	if rec.Code != http.StatusOK || hist.limit != 5 {
		t.Fatalf("list: %d limit=%d", rec.Code, hist.limit)
	}
	var records []catalog.Record
	if err := json.Unmarshal(rec.Body.Bytes(), &records); err != nil || len(records) != 1 {
		t.Fatalf("list body: %v %s", err, rec.Body.String())
	}
	if rec := do(t, r, "GET", "/api/sessions/a", ""); rec.Code != http.StatusOK {
		t.Fatalf("get: %d", rec.Code)
	}
	if rec := do(t, r, "GET", "/api/sessions/missing", ""); rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
	if rec := do(t, r, "GET", "/api/sessions?limit=x", ""); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestRouterHealthAndMetrics(t *testing.T) {
	metrics := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte("scan_admissions_total 1\n"))
	})
	r := NewRouter(newFakeControl(), nil, metrics)
	if rec := do(t, r, "GET", "/healthz", ""); rec.Code != http.StatusOK {
		t.Fatalf("healthz: %d", rec.Code)
	}
	rec := do(t, r, "GET", "/metrics", "")
	if !strings.Contains(rec.Body.String(), "scan_admissions_total") {
		t.Fatalf("metrics not served: %s", rec.Body.String())
	}
}

func TestSessionWebSocket(t *testing.T) {
	ctrl := newFakeControl()
	srv := httptest.NewServer(NewRouter(ctrl, nil, nil))
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/ws", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))

	var resp WSResponse
	if err := conn.ReadJSON(&resp); err != nil || resp.Type != "snapshot" {
		t.Fatalf("expected initial snapshot, got %+v %v", resp, err)
	}

	if err := conn.WriteJSON(WSMessage{Action: "start"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := conn.ReadJSON(&resp); err != nil || resp.Type != "result" || resp.Action != "start" {
		t.Fatalf("expected start result, got %+v %v", resp, err)
	}

	ctrl.notes <- controller.Notification{Kind: controller.KindPhaseChanged, Phase: capture.PhaseCapturing}
	if err := conn.ReadJSON(&resp); err != nil || resp.Type != "notification" {
		t.Fatalf("expected notification, got %+v %v", resp, err)
	}
	if resp.Notification.Phase != capture.PhaseCapturing {
		t.Fatalf("unexpected notification %+v", resp.Notification)
	}

	if err := conn.WriteJSON(WSMessage{Action: "dance"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := conn.ReadJSON(&resp); err != nil || resp.Type != "error" {
		t.Fatalf("expected error for unknown action, got %+v %v", resp, err)
	}
}

type recordingWriter struct {
	err  error
	sent []interface{}
}

func (w *recordingWriter) WriteJSON(v interface{}) error {
	if w.err != nil {
		return w.err
	}
	w.sent = append(w.sent, v)
	return nil
}

func TestSendSnapshotReportsWriteFailure(t *testing.T) {
	ctrl := newFakeControl()

	ok := &recordingWriter{}
	if err := sendSnapshot(context.Background(), ctrl, &wsClient{conn: ok}); err != nil {
		t.Fatalf("send snapshot: %v", err)
	}
	if len(ok.sent) != 1 || ok.sent[0].(WSResponse).Type != "snapshot" {
		t.Fatalf("expected one snapshot frame, got %+v", ok.sent)
	}

	broken := &recordingWriter{err: errors.New("broken pipe")}
	if err := sendSnapshot(context.Background(), ctrl, &wsClient{conn: broken}); err == nil {
		t.Fatalf("expected the write error to be returned")
	}
}

func TestRunActionMode(t *testing.T) {
	ctrl := newFakeControl()
	resp := runAction(context.Background(), ctrl, WSMessage{Action: "mode", Mode: "automatic", IntervalMS: 2000})
	if resp.Type != "result" || !ctrl.mode.IsAutomatic() {
		t.Fatalf("unexpected response %+v mode=%s", resp, ctrl.mode)
	}
	ctrl.err = errors.New("boom")
	if resp := runAction(context.Background(), ctrl, WSMessage{Action: "retry"}); resp.Type != "error" || resp.Message != "boom" {
		t.Fatalf("expected error response, got %+v", resp)
	}
}

func TestNotificationPublisher(t *testing.T) {
	pub := &fakePublisher{}
	p := NewNotificationPublisher(pub, "scan/capture/events", "scan/capture/motion")
	notes := make(chan controller.Notification, 2)
	notes <- controller.Notification{Kind: controller.KindPhaseChanged, Phase: capture.PhaseCapturing}
	notes <- controller.Notification{Kind: controller.KindMotionChanged, Motion: &motion.State{Magnitude: 1.5, Excessive: true}}
	close(notes)
	p.Run(context.Background(), notes)

	msgs := pub.sent()
	if len(msgs) != 3 {
		t.Fatalf("expected 3 publishes, got %d", len(msgs))
	}
	if msgs[0].topic != "scan/capture/events" || msgs[0].retained {
		t.Fatalf("unexpected first publish %+v", msgs[0])
	}
	if msgs[2].topic != "scan/capture/motion" || !msgs[2].retained {
		t.Fatalf("motion state must be retained on its own topic: %+v", msgs[2])
	}
	var st motion.State
	if err := json.Unmarshal(msgs[2].payload, &st); err != nil || !st.Excessive {
		t.Fatalf("motion payload: %v %+v", err, st)
	}
}

func TestPublishFixes(t *testing.T) {
	input := "$GPGGA,garbage\n" +
		"$GPRMC,220516,A,5133.82,N,00042.24,W,173.8,231.8,130694,004.2,W*70\n" +
		"noise\n"
	pub := &fakePublisher{}
	if err := publishFixes(strings.NewReader(input), pub, "scan/gps"); err != nil {
		t.Fatalf("publishFixes: %v", err)
	}
	msgs := pub.sent()
	if len(msgs) != 1 || msgs[0].topic != "scan/gps" || !msgs[0].retained {
		t.Fatalf("expected one retained fix, got %+v", msgs)
	}
	if !strings.Contains(string(msgs[0].payload), `"validity":"A"`) {
		t.Fatalf("unexpected payload %s", msgs[0].payload)
	}
}

type countingAccel struct{ n int }

func (a *countingAccel) ReadAccel() (motion.Vector, error) {
	a.n++
	if a.n == 1 {
		return motion.Vector{}, sensors.ErrUnavailable
	}
	return motion.Vector{Z: 1}, nil
}

func TestPublishAccel(t *testing.T) {
	pub := &fakePublisher{}
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Millisecond)
	defer cancel()
	if err := publishAccel(ctx, pub, &countingAccel{}, "test", "scan/accel", 5*time.Millisecond); err != nil {
		t.Fatalf("publishAccel: %v", err)
	}
	msgs := pub.sent()
	if len(msgs) == 0 {
		t.Fatalf("expected readings to be published")
	}
	var r sensors.AccelReading
	if err := json.Unmarshal(msgs[0].payload, &r); err != nil || r.Z != 1 || r.Source != "test" {
		t.Fatalf("unexpected reading %v %+v", err, r)
	}
}

func TestFormatNotification(t *testing.T) {
	at := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	line := formatNotification(controller.Notification{
		Kind:      controller.KindLowCount,
		SessionID: "0123456789abcdef",
		Finish:    &capture.FinishResult{Count: 12, MinRecommended: 30, LowCount: true},
		At:        at,
	})
	if !strings.Contains(line, "session=01234567") || !strings.Contains(line, "12 of 30") {
		t.Fatalf("unexpected line %q", line)
	}
	line = formatNotification(controller.Notification{Kind: controller.KindError, Message: "disk full", At: at})
	if !strings.Contains(line, "error: disk full") || !strings.Contains(line, "session=-") {
		t.Fatalf("unexpected line %q", line)
	}
}
