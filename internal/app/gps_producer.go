package app

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"strings"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	serial "github.com/jacobsa/go-serial/serial"

	"github.com/relabs-tech/scan_capture/internal/config"
	"github.com/relabs-tech/scan_capture/internal/location"
)

// RunGPSProducer opens the GPS serial port, parses NMEA sentences, and
// publishes fixes as JSON to TOPIC_GPS.
func RunGPSProducer(cfg *config.Config) error {
	// ---- 1) Connect to MQTT broker ----
	opts := mqtt.NewClientOptions().
		AddBroker(cfg.MQTTBroker).
		SetClientID(cfg.MQTTClientIDGPS)

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return token.Error()
	}
	defer client.Disconnect(250)
	log.Printf("GPS producer connected to MQTT broker at %s", cfg.MQTTBroker)

	// ---- 2) Open GPS serial port ----
	// NOTE: adjust GPS_SERIAL_PORT to match your setup: /dev/serial0, /dev/ttyAMA0, /dev/ttyUSB0, etc.
	serialOpts := serial.OpenOptions{
		PortName:              cfg.GPSSerialPort,
		BaudRate:              uint(cfg.GPSBaudRate),
		DataBits:              8,
		StopBits:              1,
		MinimumReadSize:       1,
		ParityMode:            serial.PARITY_NONE,
		InterCharacterTimeout: 0,
	}

	port, err := serial.Open(serialOpts)
	if err != nil {
		return err
	}
	defer port.Close()
	log.Printf("GPS serial port opened on %s at %d baud", serialOpts.PortName, serialOpts.BaudRate)

	return publishFixes(port, client, cfg.TopicGPS)
}

// publishFixes publishes every RMC fix read from r, valid or void. Only RMC
// carries everything a Fix needs; other sentence types are skipped.
func publishFixes(r io.Reader, client Publisher, topic string) error {
	reader := bufio.NewReader(r)
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			if err == io.EOF {
				return nil
			}
			log.Printf("GPS read error: %v", err)
			return err
		}

		fix, ok := location.ParseSentence(strings.TrimSpace(line))
		if !ok {
			continue
		}

		payload, err := json.Marshal(fix)
		if err != nil {
			log.Printf("GPS JSON marshal error: %v", err)
			continue
		}

		// retained so a capture service that starts later gets the last fix
		token := client.Publish(topic, 0, true, payload)
		token.Wait()
		if token.Error() != nil {
			log.Printf("GPS publish error: %v", token.Error())
			continue
		}

		lat, lon := fix.DMS()
		log.Printf("published GPS fix: %s %s (%s)", lat, lon, validityLabel(fix))
	}
}

func validityLabel(f location.Fix) string {
	if f.Valid() {
		return "valid"
	}
	return fmt.Sprintf("void %q", f.Validity)
}
