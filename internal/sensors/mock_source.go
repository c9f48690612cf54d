// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package sensors

import (
	"math"
	"time"

	"github.com/relabs-tech/scan_capture/internal/motion"
)

type mockSource struct {
	start time.Time
	now   func() time.Time
}

// NewMockSource creates a source that reports gravity on Z with a small
// wobble and a short shake every ten seconds.
func NewMockSource() AccelSource {
	return &mockSource{start: time.Now(), now: time.Now}
}

func (m *mockSource) ReadAccel() (motion.Vector, error) {
	elapsed := m.now().Sub(m.start).Seconds()

	v := motion.Vector{
		X: 0.02 * math.Sin(elapsed),
		Y: 0.02 * math.Cos(elapsed*0.7),
		Z: 1,
	}
	// shake for half a second every 10s
	if math.Mod(elapsed, 10) < 0.5 {
		v.Z += 0.4
	}
	return v, nil
}
