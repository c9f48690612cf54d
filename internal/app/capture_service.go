// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/relabs-tech/scan_capture/internal/camera"
	"github.com/relabs-tech/scan_capture/internal/capture"
	"github.com/relabs-tech/scan_capture/internal/catalog"
	"github.com/relabs-tech/scan_capture/internal/config"
	"github.com/relabs-tech/scan_capture/internal/controller"
	"github.com/relabs-tech/scan_capture/internal/location"
	"github.com/relabs-tech/scan_capture/internal/motion"
	"github.com/relabs-tech/scan_capture/internal/observability"
	"github.com/relabs-tech/scan_capture/internal/reconstruct"
	"github.com/relabs-tech/scan_capture/internal/sensors"
	"github.com/relabs-tech/scan_capture/internal/workspace"
)

// RunCaptureService wires the capture controller to its hardware, the MQTT
// broker and the HTTP API, and serves until SIGINT/SIGTERM.
func RunCaptureService(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// --- connect to MQTT ---
	opts := mqtt.NewClientOptions().
		AddBroker(cfg.MQTTBroker).
		SetClientID(cfg.MQTTClientIDService).
		SetAutoReconnect(true)

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return fmt.Errorf("MQTT connect error: %w", token.Error())
	}
	defer client.Disconnect(250)
	log.Printf("capture: connected to MQTT broker at %s", cfg.MQTTBroker)

	// --- metrics ---
	reg := prometheus.NewRegistry()
	obs := observability.NewPromObs(reg)
	metrics := promhttp.HandlerFor(reg, promhttp.HandlerOpts{})

	// --- storage ---
	ws, err := workspace.New(cfg.WorkspaceDir)
	if err != nil {
		return err
	}
	if err := workspace.EnsureDir(filepath.Dir(cfg.CatalogDB)); err != nil {
		return err
	}
	store, err := catalog.Open(cfg.CatalogDB)
	if err != nil {
		return err
	}
	defer store.Close()

	// --- devices ---
	cam, err := newCamera(cfg)
	if err != nil {
		return err
	}

	mode, err := capture.ParseMode(cfg.CaptureMode, cfg.CaptureInterval)
	if err != nil {
		return err
	}
	reconOpts, err := reconstructOptions(cfg)
	if err != nil {
		return err
	}

	ctrlOpts := []controller.Option{
		controller.WithSessionOptions(capture.Options{
			Mode:            mode,
			MinRecommended:  cfg.MinRecommendedPhotos,
			BlockOnLowCount: cfg.MinPhotosBlocking,
		}),
		controller.WithMotionConfig(motionConfig(cfg)),
		controller.WithTickInterval(cfg.CaptureTickInterval),
		controller.WithCatalog(store),
		controller.WithReconstructOptions(reconOpts),
		controller.WithThumbnails(cfg.ThumbnailSize),
		controller.WithObserver(obs),
	}

	if src := newAccelSource(cfg, client); src != nil {
		ctrlOpts = append(ctrlOpts, controller.WithAccel(src, cfg.MotionSampleInterval))
	} else {
		log.Println("capture: running without motion warning")
	}
	if p := newLocationProvider(cfg, client); p != nil {
		ctrlOpts = append(ctrlOpts, controller.WithLocation(p, cfg.LocationTimeout))
	}

	engine := reconstruct.NewMQTTEngine(client, cfg.TopicReconRequest, cfg.TopicReconEvents,
		reconstruct.WithIdleTimeout(cfg.ReconIdleTimeout))
	ctrl := controller.New(cam, ws, engine, ctrlOpts...)

	runDone := make(chan error, 1)
	go func() { runDone <- ctrl.Run(ctx) }()

	notes, unsubscribe := ctrl.Subscribe()
	defer unsubscribe()
	pub := NewNotificationPublisher(client, cfg.TopicCaptureEvents, cfg.TopicMotion)
	go pub.Run(ctx, notes)

	// --- HTTP ---
	routerMetrics := http.Handler(metrics)
	if cfg.MetricsAddr != "" {
		routerMetrics = nil
		go serveMetrics(ctx, cfg.MetricsAddr, metrics)
	}
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.WebServerPort),
		Handler:           NewRouter(ctrl, store, routerMetrics),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	log.Printf("capture: web server listening on %s", srv.Addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		stop()
		<-runDone
		return err
	}
	log.Println("capture: shutting down")
	return <-runDone
}

func serveMetrics(ctx context.Context, addr string, h http.Handler) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", h)
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		<-ctx.Done()
		srv.Close()
	}()
	log.Printf("capture: metrics listening on %s", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Printf("capture: metrics server error: %v", err)
	}
}

func newCamera(cfg *config.Config) (camera.Camera, error) {
	switch cfg.CameraBackend {
	case "device":
		return camera.NewDeviceCamera(cfg.CameraDevice)
	default:
		cam := camera.NewCommandCamera(cfg.CameraCommand, cfg.CameraArgs)
		if !cam.Ready() {
			log.Printf("capture: WARNING: camera command %q not found, captures will be rejected", cfg.CameraCommand)
		}
		return cam, nil
	}
}

// newAccelSource returns nil when the motion warning is disabled or the
// sensor cannot be brought up; capturing works without it.
func newAccelSource(cfg *config.Config, client mqtt.Client) sensors.AccelSource {
	switch cfg.AccelSource {
	case "mpu9250":
		src, err := sensors.NewMPU9250Source(cfg.IMUSPIDevice, cfg.IMUCSPin, cfg.IMUAccelRange)
		if err != nil {
			log.Printf("capture: WARNING: accelerometer not available: %v", err)
			return nil
		}
		return src
	case "mqtt":
		// a reading older than a few sample periods means the producer is gone
		src, err := sensors.NewMQTTSource(client, cfg.TopicAccel, 10*cfg.MotionSampleInterval)
		if err != nil {
			log.Printf("capture: WARNING: %v", err)
			return nil
		}
		return src
	case "mock":
		log.Println("capture: using mock accelerometer")
		return sensors.NewMockSource()
	}
	return nil
}

func newLocationProvider(cfg *config.Config, client mqtt.Client) location.Provider {
	switch cfg.LocationSource {
	case "serial":
		return location.NewSerialProvider(cfg.GPSSerialPort, uint(cfg.GPSBaudRate))
	case "mqtt":
		p, err := location.NewMQTTProvider(client, cfg.TopicGPS)
		if err != nil {
			log.Printf("capture: WARNING: %v", err)
			return nil
		}
		return p
	}
	return nil
}

func motionConfig(cfg *config.Config) motion.Config {
	return motion.Config{Threshold: cfg.MotionThreshold, Hold: cfg.MotionWarningDuration}
}

func reconstructOptions(cfg *config.Config) (reconstruct.Options, error) {
	opts := reconstruct.DefaultOptions()
	var err error
	if opts.Detail, err = reconstruct.ParseDetail(cfg.ReconDetail); err != nil {
		return opts, err
	}
	if opts.Ordering, err = reconstruct.ParseOrdering(cfg.ReconOrdering); err != nil {
		return opts, err
	}
	if opts.Sensitivity, err = reconstruct.ParseSensitivity(cfg.ReconSensitivity); err != nil {
		return opts, err
	}
	return opts, nil
}
