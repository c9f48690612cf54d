package reconstruct

import (
	"context"
	"fmt"
	"time"
)

// Request is handed to the engine once capturing has finished.
type Request struct {
	SessionID  string   `json:"session_id"`
	InputDir   string   `json:"input_dir"`
	OutputPath string   `json:"output_path"`
	Samples    []string `json:"samples"`
	Options
}

// Engine is the external photogrammetry capability. Process returns an
// ordered event stream that ends after a terminal event or when the run is
// cancelled through ctx; the channel is always closed.
type Engine interface {
	Supported() bool
	Process(ctx context.Context, req Request) (<-chan Event, error)
}

// OutcomeKind classifies an Outcome.
type OutcomeKind string

const (
	OutcomeProgress      OutcomeKind = "progress"
	OutcomeEstimatedTime OutcomeKind = "estimated_time_remaining"
	OutcomeCompleted     OutcomeKind = "completed"
	OutcomeFailed        OutcomeKind = "failed"
)

// Outcome is the caller-facing view of the engine stream.
type Outcome struct {
	Kind      OutcomeKind
	Fraction  float64
	Remaining time.Duration
	ModelPath string
	Err       *FailedError
}

// Observer receives non-terminal outcomes and reportable conditions while a
// stream is relayed.
type Observer interface {
	OnOutcome(Outcome)
	OnInvalidSample(*InvalidSampleError)
	OnNotice(Event)
}

// Relay consumes events until a terminal event, stream closure or ctx
// cancellation and returns the final Completed or Failed outcome.
//
// request_complete records the model path; a stream that then closes (with or
// without processing_complete) has completed. request_error is remembered and
// becomes the failure if no model is produced.
func Relay(ctx context.Context, events <-chan Event, obs Observer) Outcome {
	var (
		modelPath string
		failure   *FailedError
	)

	finish := func() Outcome {
		if modelPath != "" {
			return Outcome{Kind: OutcomeCompleted, ModelPath: modelPath}
		}
		if failure != nil {
			return Outcome{Kind: OutcomeFailed, Err: failure}
		}
		return Outcome{Kind: OutcomeFailed, Err: &FailedError{
			Reason: "stream ended without a model",
			Code:   CodeStreamClosed,
		}}
	}

	for {
		select {
		case <-ctx.Done():
			return Outcome{Kind: OutcomeFailed, Err: &FailedError{Reason: ctx.Err().Error(), Code: CodeCancelled}}
		case ev, ok := <-events:
			if !ok {
				return finish()
			}
			switch ev.Kind {
			case EventProgress:
				obs.OnOutcome(Outcome{Kind: OutcomeProgress, Fraction: ev.Fraction})
			case EventEstimatedTime:
				obs.OnOutcome(Outcome{Kind: OutcomeEstimatedTime, Remaining: ev.Remaining()})
			case EventRequestComplete:
				modelPath = ev.OutputPath
			case EventRequestError:
				code := ev.Code
				if code == CodeUnknown {
					code = CodeRequestError
				}
				failure = &FailedError{Reason: ev.Reason, Code: code}
				obs.OnNotice(ev)
			case EventInvalidSample:
				obs.OnInvalidSample(&InvalidSampleError{ID: ev.SampleID, Reason: ev.Reason})
			case EventProcessingCancelled:
				return Outcome{Kind: OutcomeFailed, Err: &FailedError{Reason: "processing cancelled", Code: CodeCancelled}}
			case EventProcessingComplete:
				if modelPath == "" && failure == nil {
					failure = &FailedError{Reason: "processing completed without a model", Code: CodeNoModelProduced}
				}
				return finish()
			default:
				obs.OnNotice(ev)
			}
		}
	}
}

// BuildRequest assembles a Request from ordered sample paths.
func BuildRequest(sessionID, inputDir, outputPath string, samples []string, opts Options) (Request, error) {
	if inputDir == "" || outputPath == "" {
		return Request{}, fmt.Errorf("%w: input and output paths are required", ErrEngineSessionCreationFailed)
	}
	paths := make([]string, len(samples))
	copy(paths, samples)
	return Request{
		SessionID:  sessionID,
		InputDir:   inputDir,
		OutputPath: outputPath,
		Samples:    paths,
		Options:    opts,
	}, nil
}
