// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package reconstruct

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// Broker is the subset of mqtt.Client the engine needs.
type Broker interface {
	IsConnectionOpen() bool
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
	Subscribe(topic string, qos byte, callback mqtt.MessageHandler) mqtt.Token
	Unsubscribe(topics ...string) mqtt.Token
}

// MQTTEngine reaches a remote photogrammetry worker over MQTT. Requests are
// published as JSON on the request topic; the worker answers with JSON
// events on <events topic>/<session id>.
type MQTTEngine struct {
	broker       Broker
	requestTopic string
	eventsTopic  string
	timeout      time.Duration
	idleTimeout  time.Duration
	connCheck    time.Duration
}

// MQTTOption configures an MQTTEngine.
type MQTTOption func(*MQTTEngine)

// WithIdleTimeout ends a run's event stream when the worker sends nothing
// for d. Zero disables the bound.
func WithIdleTimeout(d time.Duration) MQTTOption {
	return func(e *MQTTEngine) { e.idleTimeout = d }
}

// WithConnectionCheck sets how often a running stream polls the broker link.
func WithConnectionCheck(d time.Duration) MQTTOption {
	return func(e *MQTTEngine) {
		if d > 0 {
			e.connCheck = d
		}
	}
}

// NewMQTTEngine creates an engine on an already connected broker client.
func NewMQTTEngine(broker Broker, requestTopic, eventsTopic string, opts ...MQTTOption) *MQTTEngine {
	e := &MQTTEngine{
		broker:       broker,
		requestTopic: requestTopic,
		eventsTopic:  eventsTopic,
		timeout:      5 * time.Second,
		idleTimeout:  5 * time.Minute,
		connCheck:    time.Second,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Supported is false while the broker connection is down.
func (e *MQTTEngine) Supported() bool {
	return e.broker != nil && e.broker.IsConnectionOpen()
}

type cancelMessage struct {
	SessionID string `json:"session_id"`
	Action    string `json:"action"`
}

func (e *MQTTEngine) eventTopic(sessionID string) string {
	return e.eventsTopic + "/" + sessionID
}

// Process subscribes to the session's event topic, then publishes the request.
func (e *MQTTEngine) Process(ctx context.Context, req Request) (<-chan Event, error) {
	if !e.Supported() {
		return nil, ErrEngineUnsupported
	}

	topic := e.eventTopic(req.SessionID)
	q := newEventQueue()
	tok := e.broker.Subscribe(topic, 1, func(_ mqtt.Client, msg mqtt.Message) {
		var ev Event
		if err := json.Unmarshal(msg.Payload(), &ev); err != nil {
			log.Printf("reconstruct: event unmarshal error on %s: %v", msg.Topic(), err)
			return
		}
		q.push(ev)
	})
	if err := waitToken(tok, e.timeout); err != nil {
		return nil, fmt.Errorf("%w: subscribe %s: %v", ErrEngineSessionCreationFailed, topic, err)
	}

	payload, err := json.Marshal(req)
	if err != nil {
		e.broker.Unsubscribe(topic)
		return nil, fmt.Errorf("%w: marshal request: %v", ErrEngineSessionCreationFailed, err)
	}
	if err := waitToken(e.broker.Publish(e.requestTopic, 1, false, payload), e.timeout); err != nil {
		e.broker.Unsubscribe(topic)
		return nil, fmt.Errorf("%w: publish request: %v", ErrEngineSessionCreationFailed, err)
	}
	log.Printf("reconstruct: request for session %s published (%d samples, detail=%s)",
		req.SessionID, len(req.Samples), req.Detail)

	out := make(chan Event)
	go e.forward(ctx, req.SessionID, topic, q, out)
	return out, nil
}

// forward drains the queue into out. The stream also ends when the broker
// link drops or the worker stays silent past the idle timeout, so a lost
// worker surfaces as a closed stream.
func (e *MQTTEngine) forward(ctx context.Context, sessionID, topic string, q *eventQueue, out chan<- Event) {
	defer close(out)
	defer e.broker.Unsubscribe(topic)

	var idle <-chan time.Time
	var idleTimer *time.Timer
	if e.idleTimeout > 0 {
		idleTimer = time.NewTimer(e.idleTimeout)
		defer idleTimer.Stop()
		idle = idleTimer.C
	}
	check := time.NewTicker(e.connCheck)
	defer check.Stop()

	for {
		for {
			ev, ok := q.pop()
			if !ok {
				break
			}
			if idleTimer != nil {
				idleTimer.Reset(e.idleTimeout)
			}
			select {
			case out <- ev:
			case <-ctx.Done():
				e.cancel(sessionID)
				return
			}
			if ev.Terminal() {
				return
			}
		}
		select {
		case <-q.signal:
		case <-idle:
			log.Printf("reconstruct: no events for session %s in %s, closing stream", sessionID, e.idleTimeout)
			e.cancel(sessionID)
			return
		case <-check.C:
			if !e.broker.IsConnectionOpen() {
				log.Printf("reconstruct: broker connection lost during session %s, closing stream", sessionID)
				return
			}
		case <-ctx.Done():
			e.cancel(sessionID)
			return
		}
	}
}

// cancel asks the worker to stop; best effort.
func (e *MQTTEngine) cancel(sessionID string) {
	payload, err := json.Marshal(cancelMessage{SessionID: sessionID, Action: "cancel"})
	if err != nil {
		return
	}
	if err := waitToken(e.broker.Publish(e.requestTopic+"/cancel", 1, false, payload), e.timeout); err != nil {
		log.Printf("reconstruct: cancel publish error for session %s: %v", sessionID, err)
	}
}

func waitToken(tok mqtt.Token, timeout time.Duration) error {
	if !tok.WaitTimeout(timeout) {
		return fmt.Errorf("timed out after %s", timeout)
	}
	return tok.Error()
}

// eventQueue is an unbounded FIFO so the MQTT callback never blocks.
type eventQueue struct {
	mu     sync.Mutex
	items  []Event
	signal chan struct{}
}

func newEventQueue() *eventQueue {
	return &eventQueue{signal: make(chan struct{}, 1)}
}

func (q *eventQueue) push(ev Event) {
	q.mu.Lock()
	q.items = append(q.items, ev)
	q.mu.Unlock()
	select {
	case q.signal <- struct{}{}:
	default:
	}
}

func (q *eventQueue) pop() (Event, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return Event{}, false
	}
	ev := q.items[0]
	q.items = q.items[1:]
	return ev, true
}
