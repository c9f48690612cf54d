package app

import (
	"encoding/json"
	"fmt"
	"image"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/devices/v3/ssd1306"
	"periph.io/x/devices/v3/ssd1306/image1bit"
	"periph.io/x/host/v3"

	"github.com/relabs-tech/scan_capture/internal/capture"
	"github.com/relabs-tech/scan_capture/internal/config"
	"github.com/relabs-tech/scan_capture/internal/controller"
	"github.com/relabs-tech/scan_capture/internal/motion"
)

// DisplayStatus holds the latest capture state for the OLED panel.
type DisplayStatus struct {
	mu sync.RWMutex

	haveData bool
	phase    capture.Phase
	count    int
	mode     string
	motion   motion.State
	progress float64
	message  string
}

// apply folds one notification into the status.
func (s *DisplayStatus) apply(n controller.Notification) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.haveData = true
	if n.Phase != "" {
		s.phase = n.Phase
	}
	switch n.Kind {
	case controller.KindPhaseChanged:
		s.count = n.Count
		s.message = ""
		if n.Phase != capture.PhaseReconstructing {
			s.progress = 0
		}
	case controller.KindSampleCaptured:
		s.count = n.Count
	case controller.KindModeChanged:
		s.mode = n.Mode
	case controller.KindMotionChanged:
		if n.Motion != nil {
			s.motion = *n.Motion
		}
	case controller.KindReconstructionProgress:
		s.progress = n.Fraction
	case controller.KindLowCount:
		if n.Finish != nil {
			s.message = fmt.Sprintf("Low: %d/%d", n.Finish.Count, n.Finish.MinRecommended)
		}
	case controller.KindError, controller.KindCaptureFailed:
		s.message = "Error"
	}
}

// lines renders the status as up to four 7x13 text rows (18 chars wide).
func (s *DisplayStatus) lines() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.haveData {
		return []string{"", "Scan Capture", "Waiting..."}
	}
	out := []string{phaseLabel(s.phase)}
	switch s.phase {
	case capture.PhaseCapturing:
		out = append(out, fmt.Sprintf("Photos: %d", s.count))
		if s.motion.Excessive {
			out = append(out, "MOVE SLOWER!")
		} else {
			out = append(out, fmt.Sprintf("|a| %.2fg", s.motion.Magnitude))
		}
	case capture.PhaseReconstructing:
		out = append(out, fmt.Sprintf("Progress: %3.0f%%", s.progress*100))
	default:
		out = append(out, fmt.Sprintf("Photos: %d", s.count))
	}
	if s.message != "" {
		out = append(out, s.message)
	} else if s.mode != "" {
		out = append(out, s.mode)
	}
	return out
}

func phaseLabel(p capture.Phase) string {
	switch p {
	case capture.PhaseIdle:
		return "Idle"
	case capture.PhaseCapturing:
		return "Capturing"
	case capture.PhaseReady:
		return "Ready"
	case capture.PhaseReconstructing:
		return "Reconstructing"
	case capture.PhaseComplete:
		return "Complete"
	case capture.PhaseFailed:
		return "Failed"
	}
	return string(p)
}

// RunDisplay shows the capture status on an SSD1306 panel, fed from the
// capture service's MQTT notifications.
func RunDisplay(cfg *config.Config) error {
	// Initialize periph
	if _, err := host.Init(); err != nil {
		return fmt.Errorf("failed to initialize periph: %w", err)
	}

	// Open I2C bus
	bus, err := i2creg.Open("")
	if err != nil {
		return fmt.Errorf("failed to open I2C bus: %w", err)
	}
	defer bus.Close()

	dev, err := ssd1306.NewI2C(addrBus{Bus: bus, addr: cfg.DisplayI2CAddr}, &ssd1306.DefaultOpts)
	if err != nil {
		return fmt.Errorf("failed to initialize display: %w", err)
	}
	log.Printf("display: initialized at 0x%02X", cfg.DisplayI2CAddr)

	if err := dev.Draw(dev.Bounds(), renderLines([]string{"", "Scan Capture", "Starting..."}), image.Point{}); err != nil {
		log.Printf("display: error showing splash: %v", err)
	}

	status := &DisplayStatus{}

	// Connect to MQTT
	opts := mqtt.NewClientOptions().
		AddBroker(cfg.MQTTBroker).
		SetClientID(cfg.MQTTClientIDDisplay)

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return token.Error()
	}
	defer client.Disconnect(250)
	log.Printf("display: connected to MQTT broker at %s", cfg.MQTTBroker)

	token := client.Subscribe(cfg.TopicCaptureEvents, 0, func(_ mqtt.Client, msg mqtt.Message) {
		var n controller.Notification
		if err := json.Unmarshal(msg.Payload(), &n); err != nil {
			log.Printf("display: notification unmarshal error: %v", err)
			return
		}
		status.apply(n)
	})
	token.Wait()
	if token.Error() != nil {
		return token.Error()
	}
	log.Printf("display: subscribed to %s", cfg.TopicCaptureEvents)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	// Display update loop
	ticker := time.NewTicker(cfg.DisplayUpdateInterval)
	defer ticker.Stop()

	log.Println("display: starting update loop")
	for {
		select {
		case <-ticker.C:
			if err := dev.Draw(dev.Bounds(), renderLines(status.lines()), image.Point{}); err != nil {
				log.Printf("display: error updating display: %v", err)
			}
		case <-sigCh:
			log.Println("display: shutting down")
			return dev.Halt()
		}
	}
}

// addrBus sends every transaction to addr; ssd1306.NewI2C always talks to
// 0x3C, which clashes with a second panel strapped to 0x3D.
type addrBus struct {
	i2c.Bus
	addr uint16
}

func (b addrBus) Tx(_ uint16, w, r []byte) error {
	return b.Bus.Tx(b.addr, w, r)
}

// renderLines draws text rows on a blank 128x64 1-bit frame.
func renderLines(lines []string) *image1bit.VerticalLSB {
	img := image1bit.NewVerticalLSB(image.Rect(0, 0, 128, 64))

	drawer := &font.Drawer{
		Dst:  img,
		Src:  &image.Uniform{image1bit.On},
		Face: basicfont.Face7x13,
	}
	for i, line := range lines {
		if i >= 4 {
			break
		}
		drawer.Dot = fixed.P(0, 13*(i+1))
		drawer.DrawBytes([]byte(line))
	}
	return img
}
