package controller

import (
	"time"

	"github.com/relabs-tech/scan_capture/internal/capture"
	"github.com/relabs-tech/scan_capture/internal/location"
	"github.com/relabs-tech/scan_capture/internal/motion"
	"github.com/relabs-tech/scan_capture/internal/ports"
	"github.com/relabs-tech/scan_capture/internal/reconstruct"
	"github.com/relabs-tech/scan_capture/internal/sensors"
)

const (
	DefaultTickInterval    = 100 * time.Millisecond
	DefaultLocationTimeout = 10 * time.Second
)

type Option func(*Controller)

// WithSessionOptions sets the initial mode and low-count policy.
func WithSessionOptions(opts capture.Options) Option {
	return func(c *Controller) { c.sessionOpts = opts }
}

// WithAccel enables the motion warning, sampling src every interval.
func WithAccel(src sensors.AccelSource, interval time.Duration) Option {
	return func(c *Controller) {
		c.accel = src
		if interval > 0 {
			c.sampleInterval = interval
		}
	}
}

func WithMotionConfig(cfg motion.Config) Option {
	return func(c *Controller) { c.motionCfg = cfg }
}

// WithTickInterval sets how often automatic mode asks for an admission. The
// session still enforces the configured capture interval.
func WithTickInterval(d time.Duration) Option {
	return func(c *Controller) {
		if d > 0 {
			c.tickInterval = d
		}
	}
}

func WithLocation(p location.Provider, timeout time.Duration) Option {
	return func(c *Controller) {
		c.locator = p
		if timeout > 0 {
			c.locationTimeout = timeout
		}
	}
}

func WithCatalog(r Recorder) Option {
	return func(c *Controller) { c.catalog = r }
}

func WithReconstructOptions(opts reconstruct.Options) Option {
	return func(c *Controller) { c.reconOpts = opts }
}

// WithThumbnails sets the thumbnail edge size; zero disables thumbnails.
func WithThumbnails(size int) Option {
	return func(c *Controller) { c.thumbSize = size }
}

func WithObserver(obs ports.Observer) Option {
	return func(c *Controller) {
		if obs != nil {
			c.obs = obs
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(c *Controller) { c.now = now }
}
