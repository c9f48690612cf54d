package controller

import (
	"context"
	"errors"
	"fmt"

	"github.com/relabs-tech/scan_capture/internal/capture"
	"github.com/relabs-tech/scan_capture/internal/observability"
	"github.com/relabs-tech/scan_capture/internal/ports"
	"github.com/relabs-tech/scan_capture/internal/reconstruct"
	"github.com/relabs-tech/scan_capture/internal/workspace"
)

// Start begins a new capture session and returns its id.
func (c *Controller) Start(ctx context.Context) (string, error) {
	var (
		id  string
		err error
	)
	if cerr := c.call(ctx, func() { id, err = c.start() }); cerr != nil {
		return "", cerr
	}
	return id, err
}

func (c *Controller) start() (string, error) {
	now := c.now()
	if err := c.session.Start(now); err != nil {
		return "", err
	}
	id := c.session.ID()
	c.layout = c.ws.Session(id)
	if err := c.layout.PrepareCapture(); err != nil {
		c.session.Abort()
		c.notifyError("prepare capture folders", err)
		return "", err
	}

	c.startFix, c.endFix = nil, nil
	c.progress, c.remaining, c.invalid = 0, 0, nil

	c.startSampler()
	c.syncTicker()
	c.locate(id, true)

	c.obs.LogInfo("controller: session started",
		ports.Field{Key: "session", Value: id},
		ports.Field{Key: "mode", Value: c.session.Mode().String()})
	c.notifyPhase()
	c.record(string(c.session.Phase()))
	return id, nil
}

type captureResult struct {
	sample capture.Sample
	err    error
}

// Capture requests a manual photograph and waits until it is stored.
func (c *Controller) Capture(ctx context.Context) (capture.Sample, error) {
	reply := make(chan captureResult, 1)
	var err error
	if cerr := c.call(ctx, func() { err = c.requestManual(reply) }); cerr != nil {
		return capture.Sample{}, cerr
	}
	if err != nil {
		return capture.Sample{}, err
	}
	select {
	case r := <-reply:
		return r.sample, r.err
	case <-ctx.Done():
		return capture.Sample{}, ctx.Err()
	}
}

func (c *Controller) requestManual(reply chan captureResult) error {
	c.session.SetCameraReady(c.cam.Ready())
	a, err := c.session.RequestManualCapture(c.now())
	if err != nil {
		if errors.Is(err, capture.ErrNotReady) {
			c.obs.IncCounter(observability.RejectionsNotReady, 1)
		}
		c.notify(Notification{Kind: KindAdmissionRejected, Phase: c.session.Phase(), Message: err.Error()})
		return err
	}
	c.launchCapture(a, reply)
	return nil
}

func (c *Controller) tick() {
	c.session.SetCameraReady(c.cam.Ready())
	a, err := c.session.Tick(c.now())
	switch {
	case err == nil:
		c.launchCapture(a, nil)
	case errors.Is(err, capture.ErrTooSoon):
		c.obs.IncCounter(observability.RejectionsTooSoon, 1)
	case errors.Is(err, capture.ErrNotReady):
		c.obs.IncCounter(observability.RejectionsNotReady, 1)
	}
}

// launchCapture takes the still for an admission off the owner loop.
func (c *Controller) launchCapture(a capture.Admission, reply chan captureResult) {
	c.obs.IncCounter(observability.Admissions, 1)
	c.notify(Notification{Kind: KindSampleAdmitted, Phase: c.session.Phase(), Admission: &a})

	ctx := c.runCtx
	sessionID := c.session.ID()
	path := c.layout.ImagePath(a.ID)
	thumb := c.layout.ThumbnailPath(a.ID)
	thumbSize := c.thumbSize

	go func() {
		err := c.cam.Capture(ctx, path)
		thumbPath := ""
		if err == nil && thumbSize > 0 {
			if terr := workspace.MakeThumbnail(path, thumb, thumbSize); terr != nil {
				c.obs.LogError("controller: thumbnail", terr, ports.Field{Key: "sample", Value: a.ID})
			} else {
				thumbPath = thumb
			}
		}
		if !c.post(func() { c.commitCapture(sessionID, a, path, thumbPath, err, reply) }) && reply != nil {
			reply <- captureResult{err: ErrStopped}
		}
	}()
}

func (c *Controller) commitCapture(sessionID string, a capture.Admission, path, thumb string, camErr error, reply chan captureResult) {
	respond := func(r captureResult) {
		if reply != nil {
			reply <- r
		}
	}

	if sessionID != c.session.ID() || c.session.Phase() != capture.PhaseCapturing {
		respond(captureResult{err: fmt.Errorf("%w: session ended during capture", capture.ErrNotReady)})
		return
	}
	if camErr != nil {
		if err := c.session.Abandon(a); err != nil {
			c.obs.LogError("controller: abandon admission", err)
		}
		c.notify(Notification{Kind: KindCaptureFailed, Phase: c.session.Phase(), SampleID: a.ID, Message: camErr.Error()})
		c.obs.LogError("controller: capture failed", camErr, ports.Field{Key: "sample", Value: a.ID})
		respond(captureResult{err: camErr})
		return
	}

	sample, err := c.session.Append(a, path, thumb)
	if err != nil {
		respond(captureResult{err: err})
		return
	}
	c.obs.SetGauge(observability.SessionSamples, float64(c.session.Count()))
	c.notify(Notification{Kind: KindSampleCaptured, Phase: c.session.Phase(), Sample: &sample, Count: c.session.Count()})
	respond(captureResult{sample: sample})
}

// ChangeMode switches between manual and automatic capture at any time.
func (c *Controller) ChangeMode(ctx context.Context, m capture.Mode) error {
	var err error
	if cerr := c.call(ctx, func() {
		if err = c.session.ChangeMode(m, c.now()); err != nil {
			return
		}
		c.syncTicker()
		c.obs.LogInfo("controller: mode changed", ports.Field{Key: "mode", Value: m.String()})
		c.notify(Notification{Kind: KindModeChanged, Phase: c.session.Phase(), Mode: m.String()})
	}); cerr != nil {
		return cerr
	}
	return err
}

// Finish ends capturing. A low sample count is reported in the result and as
// a KindLowCount notification; it is an error only when blocking is enabled.
func (c *Controller) Finish(ctx context.Context) (capture.FinishResult, error) {
	var (
		res capture.FinishResult
		err error
	)
	if cerr := c.call(ctx, func() { res, err = c.finish() }); cerr != nil {
		return res, cerr
	}
	return res, err
}

func (c *Controller) finish() (capture.FinishResult, error) {
	res, err := c.session.Finish(c.now())
	if res.LowCount && (err == nil || errors.Is(err, capture.ErrTooFewSamples)) {
		c.notify(Notification{Kind: KindLowCount, Phase: c.session.Phase(), Finish: &res, Count: res.Count})
	}
	if err != nil {
		return res, err
	}

	c.stopCapturing()
	c.locate(c.session.ID(), false)
	c.obs.LogInfo("controller: capturing finished",
		ports.Field{Key: "session", Value: c.session.ID()},
		ports.Field{Key: "count", Value: res.Count})
	c.notifyPhase()
	c.record(string(c.session.Phase()))
	return res, nil
}

// Retry re-arms a failed reconstruction with the same samples.
func (c *Controller) Retry(ctx context.Context) error {
	var err error
	if cerr := c.call(ctx, func() {
		if err = c.session.Retry(); err != nil {
			return
		}
		c.progress, c.remaining, c.invalid = 0, 0, nil
		c.notifyPhase()
		c.record(string(c.session.Phase()))
	}); cerr != nil {
		return cerr
	}
	return err
}

// Reset returns a completed session to Idle. Its files stay on disk.
func (c *Controller) Reset(ctx context.Context) error {
	var err error
	if cerr := c.call(ctx, func() {
		if err = c.session.Reset(); err != nil {
			return
		}
		c.clearRun()
		c.notifyPhase()
	}); cerr != nil {
		return cerr
	}
	return err
}

// Abort discards the session from any phase, cancelling a running
// reconstruction, and returns the phase that was left.
func (c *Controller) Abort(ctx context.Context) (capture.Phase, error) {
	var prev capture.Phase
	if cerr := c.call(ctx, func() { prev = c.abort() }); cerr != nil {
		return "", cerr
	}
	return prev, nil
}

func (c *Controller) abort() capture.Phase {
	from := c.session.Phase()
	if from == capture.PhaseIdle {
		c.handingOff = false
		return capture.PhaseIdle
	}

	if c.session.Phase() == capture.PhaseReconstructing {
		c.reconGen++
		if c.reconCancel != nil {
			c.reconCancel()
			c.reconCancel = nil
		}
		cancelled := &reconstruct.FailedError{Reason: "aborted", Code: reconstruct.CodeCancelled}
		if err := c.session.Fail(cancelled); err == nil {
			c.obs.IncCounter(observability.ReconstructionsFailed, 1)
			c.notifyPhase()
		}
	}
	c.handingOff = false
	c.stopCapturing()
	c.record("aborted")

	layout := c.layout
	c.session.Abort()
	c.clearRun()
	// a completed model stays on disk, like Reset
	if layout.Root != "" && from != capture.PhaseComplete {
		if err := layout.Discard(); err != nil {
			c.obs.LogError("controller: discard session files", err)
		}
	}
	c.obs.LogInfo("controller: session aborted", ports.Field{Key: "from", Value: string(from)})
	c.notifyPhase()
	return from
}

func (c *Controller) clearRun() {
	c.layout = workspace.Layout{}
	c.startFix, c.endFix = nil, nil
	c.progress, c.remaining, c.invalid = 0, 0, nil
	c.obs.SetGauge(observability.SessionSamples, 0)
	c.obs.SetGauge(observability.ReconstructionProgress, 0)
}

func (c *Controller) gaugePhase() {
	c.obs.SetGauge(observability.SessionPhase, float64(c.session.Phase().Index()))
}
