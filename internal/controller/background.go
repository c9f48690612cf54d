package controller

import (
	"context"
	"time"

	"github.com/relabs-tech/scan_capture/internal/capture"
	"github.com/relabs-tech/scan_capture/internal/catalog"
	"github.com/relabs-tech/scan_capture/internal/location"
	"github.com/relabs-tech/scan_capture/internal/motion"
	"github.com/relabs-tech/scan_capture/internal/observability"
	"github.com/relabs-tech/scan_capture/internal/ports"
)

// startSampler polls the accelerometer while capturing.
func (c *Controller) startSampler() {
	if c.accel == nil || c.stopSampler != nil {
		return
	}
	ctx, cancel := context.WithCancel(c.runCtx)
	c.stopSampler = cancel
	c.monitor.Start()
	c.readFailing = false

	go func() {
		ticker := time.NewTicker(c.sampleInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
			v, err := c.accel.ReadAccel()
			c.post(func() {
				if ctx.Err() != nil {
					return
				}
				if err != nil {
					c.accelError(err)
					return
				}
				c.processMotion(v)
			})
		}
	}()
}

// accelError logs once per failure streak.
func (c *Controller) accelError(err error) {
	if !c.readFailing {
		c.obs.LogError("controller: accelerometer read", err)
	}
	c.readFailing = true
}

func (c *Controller) processMotion(v motion.Vector) {
	c.readFailing = false
	u := c.monitor.Process(v, c.now())
	c.obs.SetGauge(observability.MotionMagnitude, u.State.Magnitude)
	if !u.Changed() {
		return
	}
	if u.Raised {
		c.obs.IncCounter(observability.MotionWarnings, 1)
		c.armMotionTimer()
	}
	c.notifyMotion(u.State)
}

func (c *Controller) notifyMotion(st motion.State) {
	c.notify(Notification{Kind: KindMotionChanged, Phase: c.session.Phase(), Motion: &st})
}

// armMotionTimer schedules the warning to clear at the monitor's deadline.
func (c *Controller) armMotionTimer() {
	deadline, ok := c.monitor.Deadline()
	if !ok {
		return
	}
	if c.motionTimer != nil {
		c.motionTimer.Stop()
	}
	c.motionTimer = time.AfterFunc(deadline.Sub(c.now()), func() {
		c.post(c.expireMotion)
	})
}

func (c *Controller) expireMotion() {
	if !c.monitor.Running() {
		return
	}
	if c.monitor.Expire(c.now()) {
		c.motionTimer = nil
		c.notifyMotion(c.monitor.State())
		return
	}
	if c.monitor.State().Excessive {
		c.armMotionTimer()
	}
}

// syncTicker runs the automatic trigger only while capturing in automatic mode.
func (c *Controller) syncTicker() {
	want := c.session.Phase() == capture.PhaseCapturing && c.session.Mode().IsAutomatic()
	switch {
	case want && c.stopTicker == nil:
		ctx, cancel := context.WithCancel(c.runCtx)
		c.stopTicker = cancel
		interval := c.tickInterval
		go func() {
			ticker := time.NewTicker(interval)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					c.post(func() {
						if ctx.Err() == nil {
							c.tick()
						}
					})
				}
			}
		}()
	case !want && c.stopTicker != nil:
		c.stopTicker()
		c.stopTicker = nil
	}
}

// stopCapturing stops the sampler, the automatic trigger and the motion
// warning. A raised warning is cleared for subscribers.
func (c *Controller) stopCapturing() {
	if c.stopSampler != nil {
		c.stopSampler()
		c.stopSampler = nil
	}
	if c.stopTicker != nil {
		c.stopTicker()
		c.stopTicker = nil
	}
	if c.motionTimer != nil {
		c.motionTimer.Stop()
		c.motionTimer = nil
	}
	wasExcessive := c.monitor.State().Excessive
	c.monitor.Stop()
	if wasExcessive {
		c.notifyMotion(c.monitor.State())
	}
}

// locate tags the session start or end position in the background.
// Failures are only logged.
func (c *Controller) locate(sessionID string, start bool) {
	if c.locator == nil {
		return
	}
	ctx, cancel := context.WithTimeout(c.runCtx, c.locationTimeout)
	go func() {
		defer cancel()
		fix, err := c.locator.Locate(ctx)
		c.post(func() {
			if err != nil {
				c.obs.LogError("controller: location lookup", err, ports.Field{Key: "session", Value: sessionID})
				return
			}
			if sessionID != c.session.ID() || c.session.Phase() == capture.PhaseIdle {
				return
			}
			if start {
				c.startFix = &fix
			} else {
				c.endFix = &fix
			}
			lat, lon := fix.DMS()
			c.obs.LogInfo("controller: location tagged",
				ports.Field{Key: "session", Value: sessionID},
				ports.Field{Key: "lat", Value: lat},
				ports.Field{Key: "lon", Value: lon})
			c.record(string(c.session.Phase()))
		})
	}()
}

// record queues a catalog update for the current session.
func (c *Controller) record(phase string) {
	if c.catalog == nil || c.session.ID() == "" {
		return
	}
	snap := c.session.Snapshot()
	r := catalog.Record{
		ID:          snap.ID,
		Phase:       phase,
		Mode:        snap.Mode.String(),
		SampleCount: snap.Count,
		OutputPath:  snap.OutputPath,
		Failure:     snap.Failure,
		StartedAt:   snap.StartedAt,
		FinishedAt:  snap.FinishedAt,
		UpdatedAt:   c.now(),
	}
	r.StartLat, r.StartLon = coordinates(c.startFix)
	r.EndLat, r.EndLon = coordinates(c.endFix)

	select {
	case c.records <- r:
	default:
		c.obs.LogError("controller: catalog queue full, dropping update", nil, ports.Field{Key: "session", Value: r.ID})
	}
}

func coordinates(f *location.Fix) (*float64, *float64) {
	if f == nil {
		return nil, nil
	}
	lat, lon := f.Latitude, f.Longitude
	return &lat, &lon
}

func (c *Controller) catalogWriter(done chan<- struct{}) {
	defer close(done)
	for r := range c.records {
		if c.catalog == nil {
			continue
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := c.catalog.RecordSession(ctx, r); err != nil {
			c.obs.LogError("controller: catalog write", err, ports.Field{Key: "session", Value: r.ID})
		}
		cancel()
	}
}
