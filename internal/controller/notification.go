package controller

import (
	"sync"
	"time"

	"github.com/relabs-tech/scan_capture/internal/capture"
	"github.com/relabs-tech/scan_capture/internal/motion"
)

// Kind classifies a Notification.
type Kind string

const (
	KindPhaseChanged           Kind = "phase_changed"
	KindModeChanged            Kind = "mode_changed"
	KindSampleAdmitted         Kind = "sample_admitted"
	KindSampleCaptured         Kind = "sample_captured"
	KindCaptureFailed          Kind = "capture_failed"
	KindAdmissionRejected      Kind = "admission_rejected"
	KindMotionChanged          Kind = "motion_changed"
	KindLowCount               Kind = "low_count"
	KindReconstructionProgress Kind = "reconstruction_progress"
	KindReconstructionETA      Kind = "reconstruction_eta"
	KindInvalidSample          Kind = "invalid_sample"
	KindReconstructionNotice   Kind = "reconstruction_notice"
	KindError                  Kind = "error"
)

// Notification is pushed to subscribers whenever observable state changes.
type Notification struct {
	Kind             Kind                  `json:"kind"`
	SessionID        string                `json:"session_id,omitempty"`
	Phase            capture.Phase         `json:"phase,omitempty"`
	Mode             string                `json:"mode,omitempty"`
	Admission        *capture.Admission    `json:"admission,omitempty"`
	Sample           *capture.Sample       `json:"sample,omitempty"`
	Count            int                   `json:"count,omitempty"`
	Motion           *motion.State         `json:"motion,omitempty"`
	Finish           *capture.FinishResult `json:"finish,omitempty"`
	Fraction         float64               `json:"fraction,omitempty"`
	RemainingSeconds float64               `json:"remaining_s,omitempty"`
	SampleID         uint64                `json:"sample_id,omitempty"`
	Message          string                `json:"message,omitempty"`
	At               time.Time             `json:"at"`
}

const subscriberBuffer = 64

// hub fans notifications out to subscribers. Slow subscribers lose
// notifications instead of stalling the owner loop.
type hub struct {
	mu   sync.Mutex
	next int
	subs map[int]chan Notification
}

func newHub() *hub {
	return &hub{subs: make(map[int]chan Notification)}
}

func (h *hub) subscribe() (<-chan Notification, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()
	id := h.next
	h.next++
	ch := make(chan Notification, subscriberBuffer)
	h.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			if c, ok := h.subs[id]; ok {
				delete(h.subs, id)
				close(c)
			}
		})
	}
}

func (h *hub) publish(n Notification) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, ch := range h.subs {
		select {
		case ch <- n:
		default:
		}
	}
}

func (h *hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, ch := range h.subs {
		delete(h.subs, id)
		close(ch)
	}
}
