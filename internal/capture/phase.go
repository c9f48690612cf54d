// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package capture

// Phase is the lifecycle phase of a capture session.
type Phase string

const (
	PhaseIdle           Phase = "idle"
	PhaseCapturing      Phase = "capturing"
	PhaseReady          Phase = "ready_for_reconstruction"
	PhaseReconstructing Phase = "reconstructing"
	PhaseComplete       Phase = "complete"
	PhaseFailed         Phase = "failed"
)

// transitions lists every legal phase change. Abort is handled separately
// because it may unwind from any phase.
var transitions = map[Phase][]Phase{
	PhaseIdle:           {PhaseCapturing},
	PhaseCapturing:      {PhaseCapturing, PhaseReady},
	PhaseReady:          {PhaseReconstructing},
	PhaseReconstructing: {PhaseComplete, PhaseFailed},
	PhaseFailed:         {PhaseReady},
	PhaseComplete:       {PhaseIdle},
}

// CanTransition reports whether moving from one phase to another is legal.
func CanTransition(from, to Phase) bool {
	for _, p := range transitions[from] {
		if p == to {
			return true
		}
	}
	return false
}

// Index returns a stable numeric value for the phase, used for gauges.
func (p Phase) Index() int {
	switch p {
	case PhaseIdle:
		return 0
	case PhaseCapturing:
		return 1
	case PhaseReady:
		return 2
	case PhaseReconstructing:
		return 3
	case PhaseComplete:
		return 4
	case PhaseFailed:
		return 5
	}
	return -1
}
