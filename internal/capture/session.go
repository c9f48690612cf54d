// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package capture

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// DefaultMinRecommended is the photo count below which finishing raises a
// low-count warning.
const DefaultMinRecommended = 30

// Sample is one accepted photograph.
type Sample struct {
	ID         uint64    `json:"id"`
	Path       string    `json:"path"`
	Thumbnail  string    `json:"thumbnail,omitempty"`
	CapturedAt time.Time `json:"captured_at"`
}

// Trigger tells which path produced an admission.
type Trigger string

const (
	TriggerManual    Trigger = "manual"
	TriggerAutomatic Trigger = "automatic"
)

// Admission reserves a sample slot. The sample is appended once the still has
// been written; until then the session counts the camera as busy.
type Admission struct {
	ID      uint64    `json:"id"`
	At      time.Time `json:"at"`
	Trigger Trigger   `json:"trigger"`
}

// FinishResult is returned when capturing ends.
type FinishResult struct {
	Count          int  `json:"count"`
	MinRecommended int  `json:"min_recommended"`
	LowCount       bool `json:"low_count"`
}

// Options configures a Session.
type Options struct {
	Mode Mode
	// MinRecommended defaults to DefaultMinRecommended when zero.
	MinRecommended int
	// BlockOnLowCount turns the low-count warning into ErrTooFewSamples.
	BlockOnLowCount bool
}

// Session is the capture session aggregate. It is not safe for concurrent
// use; a single owner goroutine drives it.
type Session struct {
	id              string
	phase           Phase
	mode            Mode
	minRecommended  int
	blockOnLowCount bool

	samples       []Sample
	nextID        uint64
	lastAdmission time.Time
	cameraReady   bool
	pending       *Admission

	startedAt  time.Time
	finishedAt time.Time
	outputPath string
	failure    error
}

// NewSession returns an idle session.
func NewSession(opts Options) *Session {
	minPhotos := opts.MinRecommended
	if minPhotos <= 0 {
		minPhotos = DefaultMinRecommended
	}
	return &Session{
		phase:           PhaseIdle,
		mode:            opts.Mode,
		minRecommended:  minPhotos,
		blockOnLowCount: opts.BlockOnLowCount,
		cameraReady:     true,
	}
}

func (s *Session) ID() string               { return s.id }
func (s *Session) Phase() Phase             { return s.phase }
func (s *Session) Mode() Mode               { return s.mode }
func (s *Session) MinRecommended() int      { return s.minRecommended }
func (s *Session) Count() int               { return len(s.samples) }
func (s *Session) LastAdmission() time.Time { return s.lastAdmission }
func (s *Session) OutputPath() string       { return s.outputPath }
func (s *Session) Failure() error           { return s.failure }
func (s *Session) Pending() (Admission, bool) {
	if s.pending == nil {
		return Admission{}, false
	}
	return *s.pending, true
}

// Samples returns a copy of the ordered sample sequence.
func (s *Session) Samples() []Sample {
	out := make([]Sample, len(s.samples))
	copy(out, s.samples)
	return out
}

// SetCameraReady records the externally supplied camera readiness.
func (s *Session) SetCameraReady(ready bool) {
	s.cameraReady = ready
}

// Ready reports whether a new admission could be granted right now,
// ignoring interval timing.
func (s *Session) Ready() bool {
	return s.phase == PhaseCapturing && s.cameraReady && s.pending == nil
}

func (s *Session) transition(to Phase) error {
	if !CanTransition(s.phase, to) {
		return &TransitionError{From: s.phase, To: to}
	}
	s.phase = to
	return nil
}

// Start moves Idle to Capturing with a fresh sample sequence and session ID.
// The interval reference starts at now, so automatic mode's first admission
// comes one interval after start.
func (s *Session) Start(now time.Time) error {
	// Capturing→Capturing is the append edge, not a restart
	if s.phase != PhaseIdle {
		return &TransitionError{From: s.phase, To: PhaseCapturing}
	}
	if err := s.transition(PhaseCapturing); err != nil {
		return err
	}
	s.id = uuid.NewString()
	s.samples = nil
	s.nextID = 0
	s.pending = nil
	s.lastAdmission = now
	s.startedAt = now
	s.finishedAt = time.Time{}
	s.outputPath = ""
	s.failure = nil
	return nil
}

// RequestManualCapture admits a capture in Manual mode. It never rejects
// with ErrTooSoon.
func (s *Session) RequestManualCapture(now time.Time) (Admission, error) {
	if s.mode.IsAutomatic() {
		return Admission{}, fmt.Errorf("%w: manual trigger in %s mode", ErrWrongMode, s.mode)
	}
	if !s.Ready() {
		return Admission{}, s.notReady()
	}
	return s.admit(now, TriggerManual), nil
}

// Tick admits a capture in Automatic mode when a full interval has elapsed
// since the previous admission (or since the last mode change).
func (s *Session) Tick(now time.Time) (Admission, error) {
	if !s.mode.IsAutomatic() {
		return Admission{}, fmt.Errorf("%w: tick in %s mode", ErrWrongMode, s.mode)
	}
	if s.phase != PhaseCapturing {
		return Admission{}, s.notReady()
	}
	if elapsed := now.Sub(s.lastAdmission); elapsed < s.mode.Interval() {
		return Admission{}, fmt.Errorf("%w: %s of %s elapsed", ErrTooSoon, elapsed, s.mode.Interval())
	}
	if !s.Ready() {
		return Admission{}, s.notReady()
	}
	return s.admit(now, TriggerAutomatic), nil
}

func (s *Session) notReady() error {
	switch {
	case s.phase != PhaseCapturing:
		return fmt.Errorf("%w: session is %s", ErrNotReady, s.phase)
	case s.pending != nil:
		return fmt.Errorf("%w: capture %d in flight", ErrNotReady, s.pending.ID)
	default:
		return fmt.Errorf("%w: camera not ready", ErrNotReady)
	}
}

func (s *Session) admit(now time.Time, trigger Trigger) Admission {
	s.nextID++
	a := Admission{ID: s.nextID, At: now, Trigger: trigger}
	s.lastAdmission = now
	s.pending = &a
	return a
}

// Append records the still written for an outstanding admission.
func (s *Session) Append(a Admission, path, thumbnail string) (Sample, error) {
	if s.phase != PhaseCapturing {
		return Sample{}, &TransitionError{From: s.phase, To: PhaseCapturing}
	}
	if s.pending == nil || s.pending.ID != a.ID {
		return Sample{}, fmt.Errorf("%w: %d", ErrUnknownAdmission, a.ID)
	}
	if err := s.transition(PhaseCapturing); err != nil {
		return Sample{}, err
	}
	sample := Sample{ID: a.ID, Path: path, Thumbnail: thumbnail, CapturedAt: a.At}
	s.samples = append(s.samples, sample)
	s.pending = nil
	return sample, nil
}

// Abandon releases an admission whose capture failed. Its ID is not reused.
func (s *Session) Abandon(a Admission) error {
	if s.pending == nil || s.pending.ID != a.ID {
		return fmt.Errorf("%w: %d", ErrUnknownAdmission, a.ID)
	}
	s.pending = nil
	return nil
}

// ChangeMode replaces the capture mode and resets the interval reference to
// now so switching into Automatic never admits immediately.
func (s *Session) ChangeMode(m Mode, now time.Time) error {
	if m.IsAutomatic() && m.Interval() <= 0 {
		return ErrInvalidInterval
	}
	s.mode = m
	s.lastAdmission = now
	return nil
}

// Finish ends capturing. A count below MinRecommended is reported as a soft
// warning unless BlockOnLowCount is set. A capture still in flight makes
// Finish fail with ErrNotReady so its sample is not lost.
func (s *Session) Finish(now time.Time) (FinishResult, error) {
	res := FinishResult{Count: len(s.samples), MinRecommended: s.minRecommended}
	res.LowCount = res.Count < s.minRecommended
	if s.phase != PhaseCapturing {
		return res, &TransitionError{From: s.phase, To: PhaseReady}
	}
	if s.pending != nil {
		return res, s.notReady()
	}
	if res.LowCount && s.blockOnLowCount {
		return res, fmt.Errorf("%w: %d of %d", ErrTooFewSamples, res.Count, s.minRecommended)
	}
	if err := s.transition(PhaseReady); err != nil {
		return res, err
	}
	s.finishedAt = now
	return res, nil
}

// BeginReconstruction hands the ordered sample set off for reconstruction.
func (s *Session) BeginReconstruction() ([]Sample, error) {
	if err := s.transition(PhaseReconstructing); err != nil {
		return nil, err
	}
	s.failure = nil
	return s.Samples(), nil
}

// Complete records the reconstructed model path.
func (s *Session) Complete(outputPath string) error {
	if err := s.transition(PhaseComplete); err != nil {
		return err
	}
	s.outputPath = outputPath
	return nil
}

// Fail records why reconstruction did not complete.
func (s *Session) Fail(reason error) error {
	if err := s.transition(PhaseFailed); err != nil {
		return err
	}
	s.failure = reason
	return nil
}

// Retry re-arms a failed session for another reconstruction with the same samples.
func (s *Session) Retry() error {
	return s.transition(PhaseReady)
}

// Reset returns a completed session to Idle, keeping nothing.
func (s *Session) Reset() error {
	if err := s.transition(PhaseIdle); err != nil {
		return err
	}
	s.discard()
	return nil
}

// Abort discards the session from any phase and returns the phase it left.
func (s *Session) Abort() Phase {
	prev := s.phase
	s.phase = PhaseIdle
	s.discard()
	return prev
}

func (s *Session) discard() {
	s.samples = nil
	s.pending = nil
	s.nextID = 0
	s.outputPath = ""
	s.failure = nil
}

// Snapshot is a read-only copy of the session for callers outside the owner.
type Snapshot struct {
	ID             string    `json:"id"`
	Phase          Phase     `json:"phase"`
	Mode           Mode      `json:"mode"`
	Samples        []Sample  `json:"samples"`
	Count          int       `json:"count"`
	MinRecommended int       `json:"min_recommended"`
	CameraReady    bool      `json:"camera_ready"`
	Pending        bool      `json:"pending"`
	LastAdmission  time.Time `json:"last_admission"`
	StartedAt      time.Time `json:"started_at"`
	FinishedAt     time.Time `json:"finished_at"`
	OutputPath     string    `json:"output_path,omitempty"`
	Failure        string    `json:"failure,omitempty"`
}

// Snapshot copies the current session state.
func (s *Session) Snapshot() Snapshot {
	snap := Snapshot{
		ID:             s.id,
		Phase:          s.phase,
		Mode:           s.mode,
		Samples:        s.Samples(),
		Count:          len(s.samples),
		MinRecommended: s.minRecommended,
		CameraReady:    s.cameraReady,
		Pending:        s.pending != nil,
		LastAdmission:  s.lastAdmission,
		StartedAt:      s.startedAt,
		FinishedAt:     s.finishedAt,
		OutputPath:     s.outputPath,
	}
	if s.failure != nil {
		snap.Failure = s.failure.Error()
	}
	return snap
}
