package capture

import (
	"errors"
	"testing"
	"time"
)

var t0 = time.Date(2026, 5, 20, 10, 0, 0, 0, time.UTC)

func mustAutomatic(t *testing.T, d time.Duration) Mode {
	t.Helper()
	m, err := Automatic(d)
	if err != nil {
		t.Fatalf("automatic mode: %v", err)
	}
	return m
}

func startedSession(t *testing.T, opts Options) *Session {
	t.Helper()
	s := NewSession(opts)
	if err := s.Start(t0); err != nil {
		t.Fatalf("start: %v", err)
	}
	return s
}

func admitManual(t *testing.T, s *Session, now time.Time) Sample {
	t.Helper()
	a, err := s.RequestManualCapture(now)
	if err != nil {
		t.Fatalf("manual capture: %v", err)
	}
	sample, err := s.Append(a, "img.jpg", "")
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	return sample
}

func TestAutomaticRateLimit(t *testing.T) {
	s := startedSession(t, Options{Mode: mustAutomatic(t, time.Second)})

	admitted := 0
	var lastAdmitted time.Time
	for i := 0; i <= 50; i++ {
		now := t0.Add(time.Duration(i) * 300 * time.Millisecond)
		a, err := s.Tick(now)
		if err != nil {
			if !errors.Is(err, ErrTooSoon) {
				t.Fatalf("tick %d: expected ErrTooSoon, got %v", i, err)
			}
			continue
		}
		if !lastAdmitted.IsZero() && now.Sub(lastAdmitted) < time.Second {
			t.Fatalf("two admissions within one interval: %s and %s", lastAdmitted, now)
		}
		lastAdmitted = now
		admitted++
		if _, err := s.Append(a, "img.jpg", ""); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	// 15s of ticks every 300ms admit once per 1.2s step after the first interval.
	if admitted != 12 {
		t.Fatalf("expected 12 admissions, got %d", admitted)
	}
}

func TestTickSameTimestampNeverDoubleAdmits(t *testing.T) {
	s := startedSession(t, Options{Mode: mustAutomatic(t, time.Second)})
	now := t0.Add(2 * time.Second)

	a, err := s.Tick(now)
	if err != nil {
		t.Fatalf("first tick: %v", err)
	}
	if _, err := s.Tick(now); err == nil {
		t.Fatalf("second tick at same timestamp admitted")
	}
	if _, err := s.Append(a, "img.jpg", ""); err != nil {
		t.Fatalf("append: %v", err)
	}
	if _, err := s.Tick(now); !errors.Is(err, ErrTooSoon) {
		t.Fatalf("expected ErrTooSoon after append, got %v", err)
	}
}

func TestManualNeverTooSoon(t *testing.T) {
	s := startedSession(t, Options{})

	for i := 0; i < 20; i++ {
		a, err := s.RequestManualCapture(t0.Add(time.Duration(i) * time.Microsecond))
		if errors.Is(err, ErrTooSoon) {
			t.Fatalf("manual capture %d rejected as too soon", i)
		}
		if err != nil {
			t.Fatalf("manual capture %d: %v", i, err)
		}
		if _, err := s.Append(a, "img.jpg", ""); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
}

func TestManualRejectedWhileInFlightAndCameraNotReady(t *testing.T) {
	s := startedSession(t, Options{})

	if _, err := s.RequestManualCapture(t0); err != nil {
		t.Fatalf("first capture: %v", err)
	}
	if _, err := s.RequestManualCapture(t0); !errors.Is(err, ErrNotReady) {
		t.Fatalf("expected ErrNotReady while in flight, got %v", err)
	}

	s2 := startedSession(t, Options{})
	s2.SetCameraReady(false)
	if _, err := s2.RequestManualCapture(t0); !errors.Is(err, ErrNotReady) {
		t.Fatalf("expected ErrNotReady with camera down, got %v", err)
	}
}

func TestTriggerMustMatchMode(t *testing.T) {
	s := startedSession(t, Options{})
	if _, err := s.Tick(t0.Add(time.Hour)); !errors.Is(err, ErrWrongMode) {
		t.Fatalf("expected ErrWrongMode for tick in manual mode, got %v", err)
	}

	a := startedSession(t, Options{Mode: mustAutomatic(t, time.Second)})
	if _, err := a.RequestManualCapture(t0); !errors.Is(err, ErrWrongMode) {
		t.Fatalf("expected ErrWrongMode for manual trigger in automatic mode, got %v", err)
	}
}

func TestIdentifiersStrictlyIncreasingAcrossModes(t *testing.T) {
	s := startedSession(t, Options{})
	auto := mustAutomatic(t, 500*time.Millisecond)

	var ids []uint64
	now := t0
	for i := 0; i < 10; i++ {
		now = now.Add(700 * time.Millisecond)
		if i%2 == 0 {
			if err := s.ChangeMode(Manual(), now); err != nil {
				t.Fatalf("change mode: %v", err)
			}
			ids = append(ids, admitManual(t, s, now).ID)
			continue
		}
		if err := s.ChangeMode(auto, now); err != nil {
			t.Fatalf("change mode: %v", err)
		}
		now = now.Add(auto.Interval())
		a, err := s.Tick(now)
		if err != nil {
			t.Fatalf("tick: %v", err)
		}
		sample, err := s.Append(a, "img.jpg", "")
		if err != nil {
			t.Fatalf("append: %v", err)
		}
		ids = append(ids, sample.ID)
	}

	// A failed capture burns its identifier.
	a, err := s.Tick(now.Add(time.Second))
	if err != nil {
		t.Fatalf("tick: %v", err)
	}
	if err := s.Abandon(a); err != nil {
		t.Fatalf("abandon: %v", err)
	}
	b, err := s.Tick(now.Add(2 * time.Second))
	if err != nil {
		t.Fatalf("tick: %v", err)
	}
	if b.ID <= a.ID {
		t.Fatalf("identifier %d reused after abandoned %d", b.ID, a.ID)
	}

	for i := 1; i < len(ids); i++ {
		if ids[i] <= ids[i-1] {
			t.Fatalf("identifiers not strictly increasing: %v", ids)
		}
	}
}

func TestChangeModeDoesNotFlood(t *testing.T) {
	s := startedSession(t, Options{})
	now := t0.Add(time.Hour)

	if err := s.ChangeMode(mustAutomatic(t, time.Second), now); err != nil {
		t.Fatalf("change mode: %v", err)
	}
	if _, err := s.Tick(now); !errors.Is(err, ErrTooSoon) {
		t.Fatalf("expected ErrTooSoon right after mode change, got %v", err)
	}
	if _, err := s.Tick(now.Add(999 * time.Millisecond)); !errors.Is(err, ErrTooSoon) {
		t.Fatalf("expected ErrTooSoon before interval, got %v", err)
	}
	if _, err := s.Tick(now.Add(time.Second)); err != nil {
		t.Fatalf("expected admission one interval after change, got %v", err)
	}
}

func TestChangeModeKeepsAdmittedSamples(t *testing.T) {
	s := startedSession(t, Options{})
	admitManual(t, s, t0)
	admitManual(t, s, t0)

	if err := s.ChangeMode(mustAutomatic(t, time.Second), t0); err != nil {
		t.Fatalf("change mode: %v", err)
	}
	if s.Count() != 2 {
		t.Fatalf("expected 2 samples after mode change, got %d", s.Count())
	}
}

func TestAutomaticRejectsNonPositiveInterval(t *testing.T) {
	if _, err := Automatic(0); !errors.Is(err, ErrInvalidInterval) {
		t.Fatalf("expected ErrInvalidInterval, got %v", err)
	}
	if _, err := ParseMode("automatic", -time.Second); !errors.Is(err, ErrInvalidInterval) {
		t.Fatalf("expected ErrInvalidInterval, got %v", err)
	}
	if _, err := ParseMode("burst", time.Second); err == nil {
		t.Fatalf("expected error for unknown mode")
	}
}

func TestFinishLowCountIsAdvisory(t *testing.T) {
	s := startedSession(t, Options{MinRecommended: 5})
	admitManual(t, s, t0)

	res, err := s.Finish(t0)
	if err != nil {
		t.Fatalf("finish: %v", err)
	}
	if !res.LowCount || res.Count != 1 || res.MinRecommended != 5 {
		t.Fatalf("unexpected finish result: %+v", res)
	}
	if s.Phase() != PhaseReady {
		t.Fatalf("expected %s, got %s", PhaseReady, s.Phase())
	}
}

func TestFinishLowCountCanBlock(t *testing.T) {
	s := startedSession(t, Options{MinRecommended: 5, BlockOnLowCount: true})
	admitManual(t, s, t0)

	if _, err := s.Finish(t0); !errors.Is(err, ErrTooFewSamples) {
		t.Fatalf("expected ErrTooFewSamples, got %v", err)
	}
	if s.Phase() != PhaseCapturing {
		t.Fatalf("blocked finish must stay capturing, got %s", s.Phase())
	}
}

func TestFinishWithCaptureInFlight(t *testing.T) {
	s := startedSession(t, Options{})
	if _, err := s.RequestManualCapture(t0); err != nil {
		t.Fatalf("capture: %v", err)
	}
	if _, err := s.Finish(t0); !errors.Is(err, ErrNotReady) {
		t.Fatalf("expected ErrNotReady, got %v", err)
	}
}

func TestTransitionTable(t *testing.T) {
	all := []Phase{PhaseIdle, PhaseCapturing, PhaseReady, PhaseReconstructing, PhaseComplete, PhaseFailed}
	legal := map[[2]Phase]bool{
		{PhaseIdle, PhaseCapturing}:          true,
		{PhaseCapturing, PhaseCapturing}:     true,
		{PhaseCapturing, PhaseReady}:         true,
		{PhaseReady, PhaseReconstructing}:    true,
		{PhaseReconstructing, PhaseComplete}: true,
		{PhaseReconstructing, PhaseFailed}:   true,
		{PhaseFailed, PhaseReady}:            true,
		{PhaseComplete, PhaseIdle}:           true,
	}
	for _, from := range all {
		for _, to := range all {
			if got := CanTransition(from, to); got != legal[[2]Phase{from, to}] {
				t.Fatalf("CanTransition(%s, %s) = %v", from, to, got)
			}
		}
	}
}

func TestIdleCannotReconstruct(t *testing.T) {
	s := NewSession(Options{})
	_, err := s.BeginReconstruction()
	if !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
	var te *TransitionError
	if !errors.As(err, &te) || te.From != PhaseIdle || te.To != PhaseReconstructing {
		t.Fatalf("unexpected transition error: %v", err)
	}
	if s.Phase() != PhaseIdle {
		t.Fatalf("failed transition changed phase to %s", s.Phase())
	}
}

func TestIllegalOperationsPerPhase(t *testing.T) {
	s := NewSession(Options{})
	if _, err := s.Finish(t0); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("finish from idle: %v", err)
	}
	if err := s.Complete("x"); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("complete from idle: %v", err)
	}
	if err := s.Retry(); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("retry from idle: %v", err)
	}

	s = startedSession(t, Options{})
	if err := s.Start(t0); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("start twice: %v", err)
	}
	if s.Phase() != PhaseCapturing {
		t.Fatalf("rejected start changed phase to %s", s.Phase())
	}
	if err := s.Fail(errors.New("boom")); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("fail from capturing: %v", err)
	}
	if err := s.Reset(); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("reset from capturing: %v", err)
	}
}

func TestStartWhileCapturingKeepsSession(t *testing.T) {
	s := startedSession(t, Options{})
	id := s.ID()
	for i := 0; i < 3; i++ {
		admitManual(t, s, t0)
	}

	err := s.Start(t0.Add(time.Second))
	var te *TransitionError
	if !errors.As(err, &te) || te.From != PhaseCapturing || te.To != PhaseCapturing {
		t.Fatalf("expected transition error from capturing, got %v", err)
	}
	if s.ID() != id {
		t.Fatalf("session id changed from %s to %s", id, s.ID())
	}
	if s.Count() != 3 {
		t.Fatalf("samples dropped, count=%d", s.Count())
	}
	if next := admitManual(t, s, t0); next.ID != 4 {
		t.Fatalf("expected next id 4, got %d", next.ID)
	}
}

func TestFullLifecycleWithRetry(t *testing.T) {
	s := startedSession(t, Options{MinRecommended: 3})
	for i := 0; i < 3; i++ {
		admitManual(t, s, t0)
	}
	if _, err := s.Finish(t0); err != nil {
		t.Fatalf("finish: %v", err)
	}

	samples, err := s.BeginReconstruction()
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	if len(samples) != 3 {
		t.Fatalf("expected 3 samples handed off, got %d", len(samples))
	}
	if err := s.Fail(errors.New("engine error")); err != nil {
		t.Fatalf("fail: %v", err)
	}
	if err := s.Retry(); err != nil {
		t.Fatalf("retry: %v", err)
	}
	if s.Count() != 3 {
		t.Fatalf("retry must keep samples, got %d", s.Count())
	}
	if _, err := s.BeginReconstruction(); err != nil {
		t.Fatalf("second begin: %v", err)
	}
	if err := s.Complete("/out/model.usdz"); err != nil {
		t.Fatalf("complete: %v", err)
	}
	if s.OutputPath() != "/out/model.usdz" {
		t.Fatalf("unexpected output path %q", s.OutputPath())
	}
	if err := s.Reset(); err != nil {
		t.Fatalf("reset: %v", err)
	}
	if s.Phase() != PhaseIdle || s.Count() != 0 {
		t.Fatalf("reset left phase=%s count=%d", s.Phase(), s.Count())
	}
}

func TestAbortFromAnyPhaseDiscardsSamples(t *testing.T) {
	s := startedSession(t, Options{})
	admitManual(t, s, t0)
	if _, err := s.Finish(t0); err != nil {
		t.Fatalf("finish: %v", err)
	}
	if _, err := s.BeginReconstruction(); err != nil {
		t.Fatalf("begin: %v", err)
	}

	if prev := s.Abort(); prev != PhaseReconstructing {
		t.Fatalf("expected abort from reconstructing, got %s", prev)
	}
	if s.Phase() != PhaseIdle || s.Count() != 0 {
		t.Fatalf("abort left phase=%s count=%d", s.Phase(), s.Count())
	}
	if err := s.Start(t0); err != nil {
		t.Fatalf("start after abort: %v", err)
	}
	if sample := admitManual(t, s, t0); sample.ID != 1 {
		t.Fatalf("new session should restart identifiers, got %d", sample.ID)
	}
}

func TestSamplesAreCopied(t *testing.T) {
	s := startedSession(t, Options{})
	admitManual(t, s, t0)

	got := s.Samples()
	got[0].Path = "mutated"
	if s.Samples()[0].Path == "mutated" {
		t.Fatalf("Samples must return a copy")
	}
}

func TestModeTextRoundTrip(t *testing.T) {
	for _, m := range []Mode{Manual(), mustAutomatic(t, 1500*time.Millisecond)} {
		text, err := m.MarshalText()
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		var back Mode
		if err := back.UnmarshalText(text); err != nil {
			t.Fatalf("unmarshal %q: %v", text, err)
		}
		if back != m {
			t.Fatalf("round trip %q gave %s", text, back)
		}
	}
	var m Mode
	if err := m.UnmarshalText([]byte("automatic(0s)")); !errors.Is(err, ErrInvalidInterval) {
		t.Fatalf("expected ErrInvalidInterval, got %v", err)
	}
	if err := m.UnmarshalText([]byte("burst")); err == nil {
		t.Fatalf("expected error for unknown mode")
	}
}
