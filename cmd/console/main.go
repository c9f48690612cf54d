// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package main

import (
	"flag"
	"log"
	"os"

	"github.com/relabs-tech/scan_capture/internal/app"
	"github.com/relabs-tech/scan_capture/internal/motion"
)

func main() {
	threshold := flag.Float64("threshold", motion.DefaultThreshold, "motion warning threshold in g")
	hold := flag.Duration("hold", motion.DefaultHold, "how long a warning stays raised")
	samples := flag.Int("n", 0, "stop after n samples (0 runs forever)")
	flag.Parse()

	log.Println("starting scan-capture (mock motion console)")

	if err := app.RunMockConsole(os.Stdout, motion.Config{Threshold: *threshold, Hold: *hold}, *samples); err != nil {
		log.Fatalf("fatal: %v", err)
	}
}
