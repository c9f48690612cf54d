package controller

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/relabs-tech/scan_capture/internal/capture"
	"github.com/relabs-tech/scan_capture/internal/location"
	"github.com/relabs-tech/scan_capture/internal/observability"
	"github.com/relabs-tech/scan_capture/internal/ports"
	"github.com/relabs-tech/scan_capture/internal/reconstruct"
	"github.com/relabs-tech/scan_capture/internal/workspace"
)

type handoffPlan struct {
	token    uint64
	parent   context.Context
	layout   workspace.Layout
	manifest workspace.Manifest
	samples  []string
}

// Reconstruct hands the finished session to the engine. Setup failures
// (workspace, engine unavailable, engine refusal) leave the session in
// ReadyForReconstruction. It returns once the engine has accepted the run;
// progress and the final outcome arrive as notifications.
func (c *Controller) Reconstruct(ctx context.Context) error {
	var (
		plan handoffPlan
		err  error
	)
	if cerr := c.call(ctx, func() { plan, err = c.planReconstruction() }); cerr != nil {
		return cerr
	}
	if err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(plan.parent)
	events, setupErr := c.handOff(runCtx, plan)

	if cerr := c.call(ctx, func() { err = c.beginReconstruction(plan, events, setupErr, cancel) }); cerr != nil {
		cancel()
		return cerr
	}
	return err
}

func (c *Controller) planReconstruction() (handoffPlan, error) {
	if c.session.Phase() != capture.PhaseReady {
		return handoffPlan{}, &capture.TransitionError{From: c.session.Phase(), To: capture.PhaseReconstructing}
	}
	if c.handingOff {
		return handoffPlan{}, fmt.Errorf("%w: reconstruction hand-off in progress", capture.ErrNotReady)
	}
	if c.engine == nil || !c.engine.Supported() {
		return handoffPlan{}, reconstruct.ErrEngineUnsupported
	}

	snap := c.session.Snapshot()
	plan := handoffPlan{
		parent: c.runCtx,
		layout: c.layout,
		manifest: workspace.Manifest{
			SessionID: snap.ID,
			Mode:      snap.Mode.String(),
			StartedAt: snap.StartedAt,
			Finished:  snap.FinishedAt,
			Options:   c.reconOpts,
			Start:     manifestCoordinates(c.startFix),
			End:       manifestCoordinates(c.endFix),
		},
	}
	for _, s := range snap.Samples {
		plan.samples = append(plan.samples, s.Path)
		rel, err := filepath.Rel(c.layout.Root, s.Path)
		if err != nil {
			rel = s.Path
		}
		plan.manifest.Samples = append(plan.manifest.Samples, workspace.ManifestSample{ID: s.ID, File: rel, CapturedAt: s.CapturedAt})
	}

	c.handoff++
	c.handingOff = true
	plan.token = c.handoff
	return plan, nil
}

// handOff runs outside the owner loop: it touches the filesystem and waits
// for the engine to accept the request.
func (c *Controller) handOff(ctx context.Context, plan handoffPlan) (<-chan reconstruct.Event, error) {
	out, err := plan.layout.PrepareOutput()
	if err != nil {
		return nil, err
	}
	if err := workspace.WriteManifest(plan.layout.ManifestPath(), plan.manifest); err != nil {
		return nil, err
	}
	req, err := reconstruct.BuildRequest(plan.manifest.SessionID, plan.layout.ImagesPath(), out, plan.samples, c.reconOpts)
	if err != nil {
		return nil, err
	}
	return c.engine.Process(ctx, req)
}

func (c *Controller) beginReconstruction(plan handoffPlan, events <-chan reconstruct.Event, setupErr error, cancel context.CancelFunc) error {
	if !c.handingOff || plan.token != c.handoff {
		cancel()
		// the session was aborted while handOff was writing under its root
		if err := plan.layout.Discard(); err != nil {
			c.obs.LogError("controller: discard aborted hand-off", err)
		}
		return fmt.Errorf("%w: session changed during hand-off", reconstruct.ErrCancelled)
	}
	c.handingOff = false

	if setupErr != nil {
		cancel()
		c.notifyError("reconstruction setup", setupErr)
		return setupErr
	}
	if _, err := c.session.BeginReconstruction(); err != nil {
		cancel()
		return err
	}

	c.reconGen++
	gen := c.reconGen
	c.reconCancel = cancel
	c.progress, c.remaining, c.invalid = 0, 0, nil
	c.obs.SetGauge(observability.ReconstructionProgress, 0)
	c.obs.LogInfo("controller: reconstruction started",
		ports.Field{Key: "session", Value: c.session.ID()},
		ports.Field{Key: "samples", Value: c.session.Count()})
	c.notifyPhase()
	c.record(string(c.session.Phase()))

	ctx := c.runCtx
	go func() {
		out := reconstruct.Relay(ctx, events, &relayObserver{c: c, gen: gen})
		c.post(func() { c.finishReconstruction(gen, out) })
	}()
	return nil
}

func (c *Controller) finishReconstruction(gen uint64, out reconstruct.Outcome) {
	if gen != c.reconGen || c.session.Phase() != capture.PhaseReconstructing {
		return
	}
	if c.reconCancel != nil {
		c.reconCancel()
		c.reconCancel = nil
	}

	switch out.Kind {
	case reconstruct.OutcomeCompleted:
		if err := c.session.Complete(out.ModelPath); err != nil {
			c.notifyError("complete reconstruction", err)
			return
		}
		c.progress = 1
		c.obs.SetGauge(observability.ReconstructionProgress, 1)
		c.obs.IncCounter(observability.ReconstructionsComplete, 1)
		c.obs.LogInfo("controller: reconstruction complete", ports.Field{Key: "model", Value: out.ModelPath})
	default:
		failure := out.Err
		if failure == nil {
			failure = &reconstruct.FailedError{Reason: "unknown failure", Code: reconstruct.CodeUnknown}
		}
		if err := c.session.Fail(failure); err != nil {
			c.notifyError("fail reconstruction", err)
			return
		}
		c.obs.IncCounter(observability.ReconstructionsFailed, 1)
		c.notifyError("reconstruction failed", failure)
	}
	c.notifyPhase()
	c.record(string(c.session.Phase()))
}

// relayObserver forwards stream events onto the owner loop.
type relayObserver struct {
	c   *Controller
	gen uint64
}

func (o *relayObserver) current() bool {
	return o.gen == o.c.reconGen
}

func (o *relayObserver) OnOutcome(out reconstruct.Outcome) {
	o.c.post(func() {
		if !o.current() {
			return
		}
		c := o.c
		switch out.Kind {
		case reconstruct.OutcomeProgress:
			c.progress = out.Fraction
			c.obs.SetGauge(observability.ReconstructionProgress, out.Fraction)
			c.notify(Notification{Kind: KindReconstructionProgress, Phase: c.session.Phase(), Fraction: out.Fraction})
		case reconstruct.OutcomeEstimatedTime:
			c.remaining = out.Remaining
			c.notify(Notification{Kind: KindReconstructionETA, Phase: c.session.Phase(), RemainingSeconds: out.Remaining.Seconds()})
		}
	})
}

func (o *relayObserver) OnInvalidSample(e *reconstruct.InvalidSampleError) {
	o.c.post(func() {
		if !o.current() {
			return
		}
		c := o.c
		c.invalid = append(c.invalid, InvalidSample{ID: e.ID, Reason: e.Reason})
		c.obs.IncCounter(observability.InvalidSamples, 1)
		c.obs.LogError("controller: invalid sample", e)
		c.notify(Notification{Kind: KindInvalidSample, Phase: c.session.Phase(), SampleID: e.ID, Message: e.Reason})
	})
}

func (o *relayObserver) OnNotice(ev reconstruct.Event) {
	o.c.post(func() {
		if !o.current() {
			return
		}
		c := o.c
		msg := string(ev.Kind)
		if ev.Reason != "" {
			msg += ": " + ev.Reason
		}
		c.obs.LogInfo("controller: engine notice", ports.Field{Key: "event", Value: msg})
		c.notify(Notification{Kind: KindReconstructionNotice, Phase: c.session.Phase(), SampleID: ev.SampleID, Message: msg})
	})
}

func manifestCoordinates(f *location.Fix) *workspace.Coordinates {
	if f == nil {
		return nil
	}
	lat, lon := f.DMS()
	return &workspace.Coordinates{Latitude: f.Latitude, Longitude: f.Longitude, DMS: lat + " " + lon}
}
