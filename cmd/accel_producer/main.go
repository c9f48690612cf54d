// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package main

import (
	"flag"
	"log"

	"github.com/relabs-tech/scan_capture/internal/app"
	"github.com/relabs-tech/scan_capture/internal/config"
)

func main() {
	configPath := flag.String("config", "./configs/scan_config.txt", "path to configuration file")
	flag.Parse()

	log.Println("starting scan-capture accel producer (IMU → MQTT)")

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	if err := app.RunAccelProducer(cfg); err != nil {
		log.Fatalf("fatal: %v", err)
	}
}
