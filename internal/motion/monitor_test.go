package motion

import (
	"math"
	"testing"
	"time"
)

var t0 = time.Date(2026, 5, 20, 10, 0, 0, 0, time.UTC)

// axis builds a vector with the given magnitude along Z.
func axis(mag float64) Vector { return Vector{Z: mag} }

func TestMagnitude(t *testing.T) {
	v := Vector{X: 0.3, Y: 0.4, Z: 1.2}
	if got := v.Magnitude(); math.Abs(got-1.3) > 1e-9 {
		t.Fatalf("expected magnitude 1.3, got %f", got)
	}
}

func TestFlagScenario(t *testing.T) {
	m := NewMonitor(Config{})
	m.Start()

	if u := m.Process(axis(0.5), t0); u.Raised || u.State.Excessive {
		t.Fatalf("0.5g must not raise the flag: %+v", u)
	}
	u := m.Process(axis(1.5), t0)
	if !u.Raised || !u.State.Excessive {
		t.Fatalf("1.5g must raise the flag: %+v", u)
	}
	if u := m.Process(axis(0.3), t0); !u.State.Excessive || u.Changed() {
		t.Fatalf("low sample must not touch a raised flag: %+v", u)
	}

	if m.Expire(t0.Add(2900 * time.Millisecond)) {
		t.Fatalf("flag cleared before hold elapsed")
	}
	if !m.State().Excessive {
		t.Fatalf("flag should still be set at 2.9s")
	}
	if !m.Expire(t0.Add(3100 * time.Millisecond)) {
		t.Fatalf("flag should clear at 3.1s")
	}
	if m.State().Excessive {
		t.Fatalf("flag still set after expiry")
	}
}

func TestClearsAtExactlyHold(t *testing.T) {
	m := NewMonitor(Config{})
	m.Start()
	m.Process(axis(2), t0)

	if m.Expire(t0.Add(DefaultHold - time.Nanosecond)) {
		t.Fatalf("cleared before hold")
	}
	if !m.Expire(t0.Add(DefaultHold)) {
		t.Fatalf("expected clear at exactly hold")
	}
}

func TestRepeatedTriggersDoNotReraiseOrExtend(t *testing.T) {
	m := NewMonitor(Config{})
	m.Start()
	m.Process(axis(1.5), t0)
	deadline, ok := m.Deadline()
	if !ok {
		t.Fatalf("expected armed deadline")
	}

	raises := 0
	for i := 1; i <= 25; i++ {
		u := m.Process(axis(1.5), t0.Add(time.Duration(i)*100*time.Millisecond))
		if u.Raised {
			raises++
		}
	}
	if raises != 0 {
		t.Fatalf("repeated triggers raised %d times", raises)
	}
	if d, _ := m.Deadline(); !d.Equal(deadline) {
		t.Fatalf("deadline moved from %s to %s", deadline, d)
	}
	if m.State().SetAt != t0 {
		t.Fatalf("SetAt moved to %s", m.State().SetAt)
	}
}

func TestLateTriggerAfterExpiryReraises(t *testing.T) {
	m := NewMonitor(Config{})
	m.Start()
	m.Process(axis(1.5), t0)

	u := m.Process(axis(1.5), t0.Add(3500*time.Millisecond))
	if !u.Cleared || !u.Raised || !u.State.Excessive {
		t.Fatalf("expected clear then re-raise, got %+v", u)
	}
	if d, _ := m.Deadline(); !d.Equal(t0.Add(6500 * time.Millisecond)) {
		t.Fatalf("unexpected new deadline %s", d)
	}
}

func TestThresholdIsStrict(t *testing.T) {
	m := NewMonitor(Config{Threshold: 1.08})
	m.Start()
	if u := m.Process(axis(1.08), t0); u.Raised {
		t.Fatalf("magnitude equal to threshold must not raise")
	}
}

func TestStopResetsState(t *testing.T) {
	m := NewMonitor(Config{Hold: time.Second})
	m.Start()
	m.Process(axis(5), t0)

	m.Stop()
	if m.State() != (State{}) {
		t.Fatalf("stop must reset state, got %+v", m.State())
	}
	if _, ok := m.Deadline(); ok {
		t.Fatalf("stop must disarm the deadline")
	}
	if u := m.Process(axis(5), t0); u.Raised {
		t.Fatalf("stopped monitor must ignore samples")
	}
}
