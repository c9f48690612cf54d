package app

import (
	"context"
	"encoding/json"
	"log"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/relabs-tech/scan_capture/internal/controller"
)

// Publisher is the subset of mqtt.Client used to publish notifications.
type Publisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
}

// NotificationPublisher mirrors controller notifications onto MQTT. Every
// notification goes to eventsTopic; motion changes are also retained on
// motionTopic so late subscribers see the current warning state.
type NotificationPublisher struct {
	client      Publisher
	eventsTopic string
	motionTopic string
}

func NewNotificationPublisher(client Publisher, eventsTopic, motionTopic string) *NotificationPublisher {
	return &NotificationPublisher{client: client, eventsTopic: eventsTopic, motionTopic: motionTopic}
}

// Run publishes until ctx ends or notes is closed.
func (p *NotificationPublisher) Run(ctx context.Context, notes <-chan controller.Notification) {
	for {
		select {
		case n, ok := <-notes:
			if !ok {
				return
			}
			p.publish(n)
		case <-ctx.Done():
			return
		}
	}
}

func (p *NotificationPublisher) publish(n controller.Notification) {
	payload, err := json.Marshal(n)
	if err != nil {
		log.Printf("publisher: json marshal error (%s): %v", n.Kind, err)
		return
	}
	if token := p.client.Publish(p.eventsTopic, 0, false, payload); token.Wait() && token.Error() != nil {
		log.Printf("publisher: MQTT publish error (%s): %v", p.eventsTopic, token.Error())
	}
	if n.Kind == controller.KindMotionChanged && p.motionTopic != "" && n.Motion != nil {
		state, err := json.Marshal(n.Motion)
		if err != nil {
			log.Printf("publisher: json marshal error (motion): %v", err)
			return
		}
		if token := p.client.Publish(p.motionTopic, 0, true, state); token.Wait() && token.Error() != nil {
			log.Printf("publisher: MQTT publish error (%s): %v", p.motionTopic, token.Error())
		}
	}
}
