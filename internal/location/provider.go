// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package location provides best-effort GPS fixes used to tag capture
// sessions.
package location

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"sync"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	serial "github.com/jacobsa/go-serial/serial"
)

// ErrNoFix means no valid fix was obtained.
var ErrNoFix = errors.New("location: no fix")

// Provider returns the current position.
type Provider interface {
	Locate(ctx context.Context) (Fix, error)
}

// SerialProvider reads NMEA sentences from a GPS receiver on a serial port.
// The port is opened for each lookup and closed afterwards.
type SerialProvider struct {
	PortName string
	BaudRate uint

	open func() (io.ReadWriteCloser, error)
}

func NewSerialProvider(portName string, baud uint) *SerialProvider {
	p := &SerialProvider{PortName: portName, BaudRate: baud}
	p.open = func() (io.ReadWriteCloser, error) {
		return serial.Open(serial.OpenOptions{
			PortName:              p.PortName,
			BaudRate:              p.BaudRate,
			DataBits:              8,
			StopBits:              1,
			MinimumReadSize:       1,
			ParityMode:            serial.PARITY_NONE,
			InterCharacterTimeout: 0,
		})
	}
	return p
}

// Locate returns the first valid RMC fix, or ErrNoFix when ctx ends first.
func (p *SerialProvider) Locate(ctx context.Context) (Fix, error) {
	port, err := p.open()
	if err != nil {
		return Fix{}, fmt.Errorf("location: open %s: %w", p.PortName, err)
	}

	// closing the port unblocks a pending read
	stop := context.AfterFunc(ctx, func() { port.Close() })
	defer func() {
		if stop() {
			port.Close()
		}
	}()

	return ReadFix(ctx, port)
}

// ReadFix scans r for a valid RMC sentence.
func ReadFix(ctx context.Context, r io.Reader) (Fix, error) {
	reader := bufio.NewReader(r)
	for {
		line, err := reader.ReadString('\n')
		if fix, ok := ParseSentence(line); ok && fix.Valid() {
			return fix, nil
		}
		if err != nil {
			if ctx.Err() != nil {
				return Fix{}, fmt.Errorf("%w: %v", ErrNoFix, ctx.Err())
			}
			return Fix{}, fmt.Errorf("%w: %v", ErrNoFix, err)
		}
	}
}

// Subscriber is the subset of mqtt.Client used by MQTTProvider.
type Subscriber interface {
	Subscribe(topic string, qos byte, callback mqtt.MessageHandler) mqtt.Token
	Unsubscribe(topics ...string) mqtt.Token
}

// MQTTProvider tracks fixes published by the GPS producer.
type MQTTProvider struct {
	client Subscriber
	topic  string

	mu      sync.Mutex
	last    Fix
	updated chan struct{}
}

func NewMQTTProvider(client Subscriber, topic string) (*MQTTProvider, error) {
	p := &MQTTProvider{client: client, topic: topic, updated: make(chan struct{})}
	tok := client.Subscribe(topic, 0, p.handle)
	tok.Wait()
	if err := tok.Error(); err != nil {
		return nil, fmt.Errorf("location: subscribe %s: %w", topic, err)
	}
	log.Printf("location: subscribed to %s", topic)
	return p, nil
}

func (p *MQTTProvider) handle(_ mqtt.Client, msg mqtt.Message) {
	var f Fix
	if err := json.Unmarshal(msg.Payload(), &f); err != nil {
		log.Printf("location: gps unmarshal error: %v", err)
		return
	}
	if !f.Valid() {
		return
	}
	p.mu.Lock()
	p.last = f
	close(p.updated)
	p.updated = make(chan struct{})
	p.mu.Unlock()
}

// Locate returns the latest valid fix, waiting for one if none arrived yet.
func (p *MQTTProvider) Locate(ctx context.Context) (Fix, error) {
	for {
		p.mu.Lock()
		last, updated := p.last, p.updated
		p.mu.Unlock()
		if last.Valid() {
			return last, nil
		}
		select {
		case <-updated:
		case <-ctx.Done():
			return Fix{}, fmt.Errorf("%w: %v", ErrNoFix, ctx.Err())
		}
	}
}

func (p *MQTTProvider) Close() {
	p.client.Unsubscribe(p.topic)
}
