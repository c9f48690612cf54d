// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"fmt"
	"io"
	"time"

	"github.com/relabs-tech/scan_capture/internal/motion"
	"github.com/relabs-tech/scan_capture/internal/sensors"
)

// RunMockConsole drives the motion warning from the mock accelerometer and
// prints every sample, for trying out thresholds without hardware.
func RunMockConsole(out io.Writer, cfg motion.Config, samples int) error {
	src := sensors.NewMockSource()
	ticker := time.NewTicker(motion.DefaultSampleInterval)
	defer ticker.Stop()

	mon := motion.NewMonitor(cfg)
	mon.Start()

	n := 0
	for now := range ticker.C {
		v, err := src.ReadAccel()
		if err != nil {
			return err
		}
		u := mon.Process(v, now)
		printMotion(out, v, u)

		n++
		if samples > 0 && n >= samples {
			return nil
		}
	}
	return nil
}

func printMotion(out io.Writer, v motion.Vector, u motion.Update) {
	flag := ""
	switch {
	case u.Raised:
		flag = "  <-- MOVING TOO FAST"
	case u.Cleared:
		flag = "  (cleared)"
	case u.State.Excessive:
		flag = "  (warning held)"
	}
	fmt.Fprintf(out,
		"X=%6.3f  Y=%6.3f  Z=%6.3f  |a|=%5.3f%s\n",
		v.X, v.Y, v.Z, u.State.Magnitude, flag,
	)
}
