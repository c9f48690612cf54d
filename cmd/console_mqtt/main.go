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

	log.Println("starting scan-capture console (MQTT subscriber)")

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	if err := app.RunConsoleMQTT(cfg); err != nil {
		log.Fatalf("fatal: %v", err)
	}
}
