package app

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/relabs-tech/scan_capture/internal/config"
	"github.com/relabs-tech/scan_capture/internal/sensors"
)

// RunAccelProducer samples the accelerometer and publishes each reading as
// JSON to TOPIC_ACCEL, for rigs where the IMU sits on another board than the
// capture service.
func RunAccelProducer(cfg *config.Config) error {
	log.Println("starting scan-capture accel producer")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// --- choose accel source (mock vs real IMU) ---
	var (
		src  sensors.AccelSource
		name string
	)
	switch cfg.AccelSource {
	case "mock":
		log.Println("using mock accel source")
		src, name = sensors.NewMockSource(), "mock"
	case "mpu9250":
		imu, err := sensors.NewMPU9250Source(cfg.IMUSPIDevice, cfg.IMUCSPin, cfg.IMUAccelRange)
		if err != nil {
			return fmt.Errorf("failed to initialize IMU: %w", err)
		}
		src, name = imu, "mpu9250"
	default:
		return fmt.Errorf("accel producer needs ACCEL_SOURCE mpu9250 or mock, got %q", cfg.AccelSource)
	}

	// --- connect to MQTT ---
	opts := mqtt.NewClientOptions().
		AddBroker(cfg.MQTTBroker).
		SetClientID(cfg.MQTTClientIDAccel)

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return fmt.Errorf("MQTT connect error: %w", token.Error())
	}
	defer client.Disconnect(250)

	log.Println("connected to MQTT, starting publish loop")
	return publishAccel(ctx, client, src, name, cfg.TopicAccel, cfg.MotionSampleInterval)
}

// publishAccel runs the tick loop until ctx ends.
func publishAccel(ctx context.Context, client Publisher, src sensors.AccelSource, name, topic string, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var published uint64
	for {
		select {
		case <-ctx.Done():
			log.Printf("accel producer: stopping after %d readings", published)
			return nil
		case t := <-ticker.C:
			v, err := src.ReadAccel()
			if err != nil {
				log.Printf("error reading accelerometer: %v", err)
				continue
			}
			reading := sensors.AccelReading{Source: name, X: v.X, Y: v.Y, Z: v.Z, Time: t}
			payload, err := json.Marshal(reading)
			if err != nil {
				log.Printf("json marshal error (accel): %v", err)
				continue
			}
			if token := client.Publish(topic, 0, false, payload); token.Wait() && token.Error() != nil {
				log.Printf("MQTT publish error (accel): %v", token.Error())
				continue
			}
			published++
			// one line per second at the default rate
			if published%20 == 0 {
				log.Printf("%s tick: accel x=%.3f y=%.3f z=%.3f |a|=%.3f",
					t.Format(time.RFC3339), v.X, v.Y, v.Z, v.Magnitude())
			}
		}
	}
}
