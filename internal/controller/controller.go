// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package controller runs a capture session. A single goroutine (Run) owns
// the session and the motion monitor; public methods and background workers
// hand it closures through one inbox, so session state never needs locks.
package controller

import (
	"context"
	"errors"
	"time"

	"github.com/relabs-tech/scan_capture/internal/camera"
	"github.com/relabs-tech/scan_capture/internal/capture"
	"github.com/relabs-tech/scan_capture/internal/catalog"
	"github.com/relabs-tech/scan_capture/internal/location"
	"github.com/relabs-tech/scan_capture/internal/motion"
	"github.com/relabs-tech/scan_capture/internal/ports"
	"github.com/relabs-tech/scan_capture/internal/reconstruct"
	"github.com/relabs-tech/scan_capture/internal/sensors"
	"github.com/relabs-tech/scan_capture/internal/workspace"
)

// ErrStopped is returned once Run has exited.
var ErrStopped = errors.New("controller: stopped")

// Recorder persists session history.
type Recorder interface {
	RecordSession(ctx context.Context, r catalog.Record) error
}

// InvalidSample is a sample the engine reported as unusable.
type InvalidSample struct {
	ID     uint64 `json:"id"`
	Reason string `json:"reason"`
}

// Snapshot is the externally visible state of the controller.
type Snapshot struct {
	capture.Snapshot
	Motion           motion.State    `json:"motion"`
	MotionMonitoring bool            `json:"motion_monitoring"`
	Progress         float64         `json:"progress"`
	RemainingSeconds float64         `json:"remaining_s,omitempty"`
	InvalidSamples   []InvalidSample `json:"invalid_samples,omitempty"`
	StartLocation    *location.Fix   `json:"start_location,omitempty"`
	EndLocation      *location.Fix   `json:"end_location,omitempty"`
	EngineSupported  bool            `json:"engine_supported"`
	// Err is the failure recorded by the session, if any.
	Err error `json:"-"`
}

type Controller struct {
	cam    camera.Camera
	ws     *workspace.Workspace
	engine reconstruct.Engine

	sessionOpts     capture.Options
	accel           sensors.AccelSource
	sampleInterval  time.Duration
	motionCfg       motion.Config
	tickInterval    time.Duration
	locator         location.Provider
	locationTimeout time.Duration
	catalog         Recorder
	reconOpts       reconstruct.Options
	thumbSize       int
	obs             ports.Observer
	now             func() time.Time

	inbox   chan func()
	stopped chan struct{}
	records chan catalog.Record
	hub     *hub

	// owned by the Run goroutine
	runCtx      context.Context
	session     *capture.Session
	monitor     *motion.Monitor
	layout      workspace.Layout
	stopSampler context.CancelFunc
	stopTicker  context.CancelFunc
	motionTimer *time.Timer
	readFailing bool
	startFix    *location.Fix
	endFix      *location.Fix
	handoff     uint64
	handingOff  bool
	reconGen    uint64
	reconCancel context.CancelFunc
	progress    float64
	remaining   time.Duration
	invalid     []InvalidSample
}

// New builds a controller. Call Run before using any other method.
func New(cam camera.Camera, ws *workspace.Workspace, engine reconstruct.Engine, opts ...Option) *Controller {
	c := &Controller{
		cam:             cam,
		ws:              ws,
		engine:          engine,
		sampleInterval:  motion.DefaultSampleInterval,
		tickInterval:    DefaultTickInterval,
		locationTimeout: DefaultLocationTimeout,
		reconOpts:       reconstruct.DefaultOptions(),
		thumbSize:       workspace.DefaultThumbnailSize,
		obs:             ports.Nop{},
		now:             time.Now,
		inbox:           make(chan func(), 64),
		stopped:         make(chan struct{}),
		records:         make(chan catalog.Record, 32),
		hub:             newHub(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.session = capture.NewSession(c.sessionOpts)
	c.monitor = motion.NewMonitor(c.motionCfg)
	return c
}

// Run drives the owner loop until ctx is cancelled.
func (c *Controller) Run(ctx context.Context) error {
	c.runCtx = ctx
	writerDone := make(chan struct{})
	go c.catalogWriter(writerDone)

	defer func() {
		c.shutdown()
		close(c.stopped)
		close(c.records)
		<-writerDone
		c.hub.closeAll()
	}()

	c.obs.LogInfo("controller: running")
	c.gaugePhase()
	for {
		select {
		case fn := <-c.inbox:
			fn()
		case <-ctx.Done():
			c.obs.LogInfo("controller: stopping")
			return nil
		}
	}
}

// Subscribe registers for notifications. The returned func unsubscribes.
func (c *Controller) Subscribe() (<-chan Notification, func()) {
	return c.hub.subscribe()
}

// call runs fn on the owner loop and waits for it to finish.
func (c *Controller) call(ctx context.Context, fn func()) error {
	done := make(chan struct{})
	select {
	case c.inbox <- func() { fn(); close(done) }:
	case <-ctx.Done():
		return ctx.Err()
	case <-c.stopped:
		return ErrStopped
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-c.stopped:
		return ErrStopped
	}
}

// post queues fn from a background goroutine. It reports false once the loop
// has stopped.
func (c *Controller) post(fn func()) bool {
	select {
	case c.inbox <- fn:
		return true
	case <-c.stopped:
		return false
	}
}

func (c *Controller) notify(n Notification) {
	if n.SessionID == "" {
		n.SessionID = c.session.ID()
	}
	if n.At.IsZero() {
		n.At = c.now()
	}
	c.hub.publish(n)
}

func (c *Controller) notifyPhase() {
	c.gaugePhase()
	c.notify(Notification{
		Kind:  KindPhaseChanged,
		Phase: c.session.Phase(),
		Count: c.session.Count(),
	})
}

func (c *Controller) notifyError(msg string, err error) {
	c.obs.LogError("controller: "+msg, err, ports.Field{Key: "session", Value: c.session.ID()})
	text := msg
	if err != nil {
		text = msg + ": " + err.Error()
	}
	c.notify(Notification{Kind: KindError, Phase: c.session.Phase(), Message: text})
}

func (c *Controller) shutdown() {
	c.stopCapturing()
	if c.reconCancel != nil {
		c.reconCancel()
		c.reconCancel = nil
	}
}

// snapshot must run on the owner loop.
func (c *Controller) snapshot() Snapshot {
	snap := Snapshot{
		Snapshot:         c.session.Snapshot(),
		Motion:           c.monitor.State(),
		MotionMonitoring: c.monitor.Running(),
		Progress:         c.progress,
		RemainingSeconds: c.remaining.Seconds(),
		InvalidSamples:   append([]InvalidSample(nil), c.invalid...),
		StartLocation:    c.startFix,
		EndLocation:      c.endFix,
		EngineSupported:  c.engine != nil && c.engine.Supported(),
		Err:              c.session.Failure(),
	}
	return snap
}

// Snapshot returns a copy of the current state.
func (c *Controller) Snapshot(ctx context.Context) (Snapshot, error) {
	var snap Snapshot
	err := c.call(ctx, func() { snap = c.snapshot() })
	return snap, err
}
