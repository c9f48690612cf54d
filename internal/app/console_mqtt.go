package app

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/relabs-tech/scan_capture/internal/config"
	"github.com/relabs-tech/scan_capture/internal/controller"
	"github.com/relabs-tech/scan_capture/internal/location"
	"github.com/relabs-tech/scan_capture/internal/sensors"
)

// RunConsoleMQTT prints capture notifications, motion state and GPS fixes
// as they arrive on the broker.
func RunConsoleMQTT(cfg *config.Config) error {
	opts := mqtt.NewClientOptions().
		AddBroker(cfg.MQTTBroker).
		SetClientID(cfg.MQTTClientIDConsole)

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return token.Error()
	}
	log.Printf("console: connected to MQTT broker at %s", cfg.MQTTBroker)

	// Subscribe to capture notifications
	eventsToken := client.Subscribe(cfg.TopicCaptureEvents, 0, func(_ mqtt.Client, msg mqtt.Message) {
		var n controller.Notification
		if err := json.Unmarshal(msg.Payload(), &n); err != nil {
			log.Printf("console: notification unmarshal error: %v", err)
			return
		}
		fmt.Println(formatNotification(n))
	})
	eventsToken.Wait()
	if eventsToken.Error() != nil {
		return eventsToken.Error()
	}
	log.Printf("console: subscribed to %s", cfg.TopicCaptureEvents)

	// Subscribe to raw accelerometer readings (only present with a remote producer)
	accelToken := client.Subscribe(cfg.TopicAccel, 0, func(_ mqtt.Client, msg mqtt.Message) {
		var r sensors.AccelReading
		if err := json.Unmarshal(msg.Payload(), &r); err != nil {
			log.Printf("console: accel unmarshal error: %v", err)
			return
		}
		fmt.Printf("[ACC ]  x=%6.3f y=%6.3f z=%6.3f |a|=%5.3f (%s)\n",
			r.X, r.Y, r.Z, r.Vector().Magnitude(), r.Source)
	})
	accelToken.Wait()
	if accelToken.Error() != nil {
		return accelToken.Error()
	}
	log.Printf("console: subscribed to %s", cfg.TopicAccel)

	// Subscribe to GPS
	gpsToken := client.Subscribe(cfg.TopicGPS, 0, func(_ mqtt.Client, msg mqtt.Message) {
		var f location.Fix
		if err := json.Unmarshal(msg.Payload(), &f); err != nil {
			log.Printf("console: gps unmarshal error: %v", err)
			return
		}

		fmt.Printf(
			"[GPS ]  time=%s date=%s lat=%.6f lon=%.6f speed=%.1fkn course=%.1f° validity=%s\n",
			f.Time, f.Date, f.Latitude, f.Longitude, f.SpeedKnots, f.CourseDeg, f.Validity,
		)
	})
	gpsToken.Wait()
	if gpsToken.Error() != nil {
		return gpsToken.Error()
	}
	log.Printf("console: subscribed to %s", cfg.TopicGPS)

	// Wait for Ctrl+C
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	log.Println("console: shutting down")
	client.Disconnect(250)
	return nil
}

// formatNotification renders one notification as a console line.
func formatNotification(n controller.Notification) string {
	prefix := fmt.Sprintf("[SCAN]  %s session=%s", n.At.Format("15:04:05.000"), shortID(n.SessionID))
	switch n.Kind {
	case controller.KindPhaseChanged:
		return fmt.Sprintf("%s phase=%s count=%d", prefix, n.Phase, n.Count)
	case controller.KindModeChanged:
		return fmt.Sprintf("%s mode=%s", prefix, n.Mode)
	case controller.KindSampleAdmitted:
		if n.Admission != nil {
			return fmt.Sprintf("%s admitted #%d (%s)", prefix, n.Admission.ID, n.Admission.Trigger)
		}
	case controller.KindSampleCaptured:
		if n.Sample != nil {
			return fmt.Sprintf("%s captured #%d %s count=%d", prefix, n.Sample.ID, n.Sample.Path, n.Count)
		}
	case controller.KindMotionChanged:
		if n.Motion != nil {
			state := "ok"
			if n.Motion.Excessive {
				state = "MOVING TOO FAST"
			}
			return fmt.Sprintf("%s motion=%s |a|=%.3f", prefix, state, n.Motion.Magnitude)
		}
	case controller.KindLowCount:
		if n.Finish != nil {
			return fmt.Sprintf("%s low count: %d of %d recommended", prefix, n.Finish.Count, n.Finish.MinRecommended)
		}
	case controller.KindReconstructionProgress:
		return fmt.Sprintf("%s reconstruction %5.1f%%", prefix, n.Fraction*100)
	case controller.KindReconstructionETA:
		return fmt.Sprintf("%s reconstruction eta %.0fs", prefix, n.RemainingSeconds)
	case controller.KindInvalidSample:
		return fmt.Sprintf("%s invalid sample #%d: %s", prefix, n.SampleID, n.Message)
	}
	if n.Message != "" {
		return fmt.Sprintf("%s %s: %s", prefix, n.Kind, n.Message)
	}
	return fmt.Sprintf("%s %s", prefix, n.Kind)
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	if id == "" {
		return "-"
	}
	return id
}
