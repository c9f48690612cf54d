package sensors

import (
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/relabs-tech/scan_capture/internal/motion"
)

// Subscriber is the subset of mqtt.Client used by MQTTSource.
type Subscriber interface {
	Subscribe(topic string, qos byte, callback mqtt.MessageHandler) mqtt.Token
	Unsubscribe(topics ...string) mqtt.Token
}

// MQTTSource serves the latest reading published by a remote accel producer.
type MQTTSource struct {
	client Subscriber
	topic  string
	maxAge time.Duration
	now    func() time.Time

	mu       sync.Mutex
	last     AccelReading
	received time.Time
}

// NewMQTTSource subscribes to topic. Readings older than maxAge are treated as
// unavailable; zero disables the check.
func NewMQTTSource(client Subscriber, topic string, maxAge time.Duration) (*MQTTSource, error) {
	s := &MQTTSource{client: client, topic: topic, maxAge: maxAge, now: time.Now}
	tok := client.Subscribe(topic, 0, s.handle)
	tok.Wait()
	if err := tok.Error(); err != nil {
		return nil, fmt.Errorf("accel: subscribe %s: %w", topic, err)
	}
	log.Printf("accel: subscribed to %s", topic)
	return s, nil
}

func (s *MQTTSource) handle(_ mqtt.Client, msg mqtt.Message) {
	var r AccelReading
	if err := json.Unmarshal(msg.Payload(), &r); err != nil {
		log.Printf("accel: unmarshal error: %v", err)
		return
	}
	s.mu.Lock()
	s.last = r
	s.received = s.now()
	s.mu.Unlock()
}

func (s *MQTTSource) ReadAccel() (motion.Vector, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.received.IsZero() {
		return motion.Vector{}, fmt.Errorf("%w: no reading on %s yet", ErrUnavailable, s.topic)
	}
	if s.maxAge > 0 && s.now().Sub(s.received) > s.maxAge {
		return motion.Vector{}, fmt.Errorf("%w: last reading on %s is stale", ErrUnavailable, s.topic)
	}
	return s.last.Vector(), nil
}

func (s *MQTTSource) Close() {
	s.client.Unsubscribe(s.topic)
}
