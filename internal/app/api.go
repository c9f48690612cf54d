package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/relabs-tech/scan_capture/internal/camera"
	"github.com/relabs-tech/scan_capture/internal/capture"
	"github.com/relabs-tech/scan_capture/internal/catalog"
	"github.com/relabs-tech/scan_capture/internal/controller"
	"github.com/relabs-tech/scan_capture/internal/reconstruct"
	"github.com/relabs-tech/scan_capture/internal/workspace"
)

// SessionControl is the controller surface exposed over HTTP and websocket.
type SessionControl interface {
	Snapshot(ctx context.Context) (controller.Snapshot, error)
	Start(ctx context.Context) (string, error)
	Capture(ctx context.Context) (capture.Sample, error)
	ChangeMode(ctx context.Context, m capture.Mode) error
	Finish(ctx context.Context) (capture.FinishResult, error)
	Reconstruct(ctx context.Context) error
	Retry(ctx context.Context) error
	Reset(ctx context.Context) error
	Abort(ctx context.Context) (capture.Phase, error)
	Subscribe() (<-chan controller.Notification, func())
}

// SessionHistory lists past sessions.
type SessionHistory interface {
	ListSessions(ctx context.Context, limit int) ([]catalog.Record, error)
	Get(ctx context.Context, id string) (catalog.Record, error)
}

// ModeRequest is the body of PUT /api/session/mode.
type ModeRequest struct {
	Mode       string `json:"mode"`        // "manual" or "automatic"
	IntervalMS int    `json:"interval_ms"` // automatic only
}

func (r ModeRequest) parse() (capture.Mode, error) {
	return capture.ParseMode(r.Mode, time.Duration(r.IntervalMS)*time.Millisecond)
}

// requestTimeout bounds a single API call. Capture waits for the camera, so
// it gets the longest budget.
const requestTimeout = 30 * time.Second

type api struct {
	ctrl    SessionControl
	history SessionHistory
}

// NewRouter builds the HTTP surface. history and metrics may be nil.
func NewRouter(ctrl SessionControl, history SessionHistory, metrics http.Handler) *mux.Router {
	a := &api{ctrl: ctrl, history: history}
	r := mux.NewRouter()

	r.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprintln(w, "OK")
	}).Methods("GET")

	s := r.PathPrefix("/api").Subrouter()
	s.HandleFunc("/session", a.getSession).Methods("GET")
	s.HandleFunc("/session/start", a.start).Methods("POST")
	s.HandleFunc("/session/capture", a.capture).Methods("POST")
	s.HandleFunc("/session/finish", a.finish).Methods("POST")
	s.HandleFunc("/session/reconstruct", a.reconstruct).Methods("POST")
	s.HandleFunc("/session/retry", a.simple(ctrl.Retry)).Methods("POST")
	s.HandleFunc("/session/reset", a.simple(ctrl.Reset)).Methods("POST")
	s.HandleFunc("/session/abort", a.abort).Methods("POST")
	s.HandleFunc("/session/mode", a.mode).Methods("PUT")
	s.HandleFunc("/sessions", a.listSessions).Methods("GET")
	s.HandleFunc("/sessions/{id}", a.getRecord).Methods("GET")

	r.HandleFunc("/ws", func(w http.ResponseWriter, req *http.Request) {
		HandleSessionWS(ctrl, w, req)
	})
	if metrics != nil {
		r.Handle("/metrics", metrics).Methods("GET")
	}

	// Static UI from ./web as the root
	r.PathPrefix("/").Handler(http.FileServer(http.Dir("web")))
	return r
}

func (a *api) getSession(w http.ResponseWriter, r *http.Request) {
	snap, err := a.ctrl.Snapshot(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (a *api) start(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()
	id, err := a.ctrl.Start(ctx)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"session_id": id})
}

func (a *api) capture(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()
	sample, err := a.ctrl.Capture(ctx)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, sample)
}

func (a *api) finish(w http.ResponseWriter, r *http.Request) {
	res, err := a.ctrl.Finish(r.Context())
	if err != nil {
		writeJSON(w, statusFor(err), map[string]any{"error": err.Error(), "finish": res})
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (a *api) reconstruct(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()
	if err := a.ctrl.Reconstruct(ctx); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "reconstructing"})
}

func (a *api) abort(w http.ResponseWriter, r *http.Request) {
	prev, err := a.ctrl.Abort(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]capture.Phase{"aborted_from": prev})
}

func (a *api) simple(fn func(context.Context) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := fn(r.Context()); err != nil {
			writeError(w, err)
			return
		}
		a.getSession(w, r)
	}
}

func (a *api) mode(w http.ResponseWriter, r *http.Request) {
	var req ModeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid JSON body", http.StatusBadRequest)
		return
	}
	m, err := req.parse()
	if err != nil {
		writeError(w, err)
		return
	}
	if err := a.ctrl.ChangeMode(r.Context(), m); err != nil {
		writeError(w, err)
		return
	}
	a.getSession(w, r)
}

func (a *api) listSessions(w http.ResponseWriter, r *http.Request) {
	if a.history == nil {
		http.Error(w, "catalog disabled", http.StatusNotFound)
		return
	}
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			http.Error(w, "invalid limit", http.StatusBadRequest)
			return
		}
		limit = n
	}
	records, err := a.history.ListSessions(r.Context(), limit)
	if err != nil {
		writeError(w, err)
		return
	}
	if records == nil {
		records = []catalog.Record{}
	}
	writeJSON(w, http.StatusOK, records)
}

func (a *api) getRecord(w http.ResponseWriter, r *http.Request) {
	if a.history == nil {
		http.Error(w, "catalog disabled", http.StatusNotFound)
		return
	}
	rec, err := a.history.Get(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// statusFor maps domain errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, capture.ErrTooSoon),
		errors.Is(err, capture.ErrNotReady),
		errors.Is(err, capture.ErrInvalidTransition),
		errors.Is(err, capture.ErrTooFewSamples):
		return http.StatusConflict
	case errors.Is(err, capture.ErrWrongMode),
		errors.Is(err, capture.ErrInvalidInterval),
		errors.Is(err, reconstruct.ErrIllegalOption):
		return http.StatusUnprocessableEntity
	case errors.Is(err, catalog.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, reconstruct.ErrEngineUnsupported),
		errors.Is(err, camera.ErrCameraUnavailable),
		errors.Is(err, controller.ErrStopped):
		return http.StatusServiceUnavailable
	case errors.Is(err, reconstruct.ErrEngineSessionCreationFailed):
		return http.StatusBadGateway
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, workspace.ErrIO):
		return http.StatusInternalServerError
	}
	return http.StatusBadRequest
}

func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, statusFor(err), map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("web: json encode error: %v", err)
	}
}
