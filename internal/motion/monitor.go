// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package motion turns accelerometer samples into the "moving too fast"
// warning shown while capturing.
package motion

import (
	"math"
	"time"
)

const (
	// DefaultThreshold is the acceleration magnitude, in g, above which the
	// camera is considered to be moving too fast. At rest the magnitude is ~1g.
	DefaultThreshold = 1.08
	// DefaultHold is how long the warning stays raised after it triggers.
	DefaultHold = 3 * time.Second
	// DefaultSampleInterval is the accelerometer polling period (20 Hz).
	DefaultSampleInterval = 50 * time.Millisecond
)

// Vector is a 3-axis acceleration in g.
type Vector struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// Magnitude returns sqrt(x² + y² + z²).
func (v Vector) Magnitude() float64 {
	return math.Sqrt(v.X*v.X + v.Y*v.Y + v.Z*v.Z)
}

// State is the transient motion state.
type State struct {
	Magnitude float64   `json:"magnitude"`
	Excessive bool      `json:"excessive"`
	SetAt     time.Time `json:"set_at,omitempty"`
}

// Update describes what a single Process call changed.
type Update struct {
	State   State
	Raised  bool
	Cleared bool
}

// Changed reports whether the excessive flag flipped.
func (u Update) Changed() bool { return u.Raised || u.Cleared }

// Config tunes the monitor. Zero values select the defaults.
type Config struct {
	Threshold float64
	Hold      time.Duration
}

// Monitor tracks MotionState. It is driven by a single owner and holds no
// timers itself: the owner arms a one-shot timer at Deadline and calls Expire.
type Monitor struct {
	threshold float64
	hold      time.Duration

	running  bool
	state    State
	deadline time.Time
}

// NewMonitor returns a stopped monitor.
func NewMonitor(cfg Config) *Monitor {
	if cfg.Threshold <= 0 {
		cfg.Threshold = DefaultThreshold
	}
	if cfg.Hold <= 0 {
		cfg.Hold = DefaultHold
	}
	return &Monitor{threshold: cfg.Threshold, hold: cfg.Hold}
}

func (m *Monitor) Threshold() float64  { return m.threshold }
func (m *Monitor) Hold() time.Duration { return m.hold }
func (m *Monitor) Running() bool       { return m.running }
func (m *Monitor) State() State        { return m.state }

// Start enables sample processing.
func (m *Monitor) Start() {
	m.running = true
}

// Stop disables processing and resets the state to zero.
func (m *Monitor) Stop() {
	m.running = false
	m.state = State{}
	m.deadline = time.Time{}
}

// Deadline returns when the raised flag will clear.
func (m *Monitor) Deadline() (time.Time, bool) {
	if !m.state.Excessive {
		return time.Time{}, false
	}
	return m.deadline, true
}

// Process feeds one sample. A magnitude above the threshold raises the flag
// and arms the hold deadline; further triggers while raised neither re-raise
// nor move the deadline.
func (m *Monitor) Process(v Vector, now time.Time) Update {
	if !m.running {
		return Update{State: m.state}
	}
	var u Update
	u.Cleared = m.Expire(now)

	m.state.Magnitude = v.Magnitude()
	if m.state.Magnitude > m.threshold && !m.state.Excessive {
		m.state.Excessive = true
		m.state.SetAt = now
		m.deadline = now.Add(m.hold)
		u.Raised = true
	}
	u.State = m.state
	return u
}

// Expire clears the flag once its deadline has passed.
func (m *Monitor) Expire(now time.Time) bool {
	if !m.state.Excessive || now.Before(m.deadline) {
		return false
	}
	m.state.Excessive = false
	m.state.SetAt = time.Time{}
	m.deadline = time.Time{}
	return true
}
