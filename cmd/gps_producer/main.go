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

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	if err := app.RunGPSProducer(cfg); err != nil {
		log.Fatalf("GPS producer error: %v", err)
	}
}
