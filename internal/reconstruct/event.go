// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package reconstruct

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrEngineUnsupported means reconstruction is not available.
	ErrEngineUnsupported = errors.New("reconstruct: engine unsupported")
	// ErrEngineSessionCreationFailed means the engine refused or failed to start a run.
	ErrEngineSessionCreationFailed = errors.New("reconstruct: engine session creation failed")
	// ErrReconstructionFailed is wrapped by every FailedError.
	ErrReconstructionFailed = errors.New("reconstruct: reconstruction failed")
	// ErrCancelled marks a run that was cancelled before it completed.
	ErrCancelled = errors.New("reconstruct: cancelled")
)

// Failure codes carried by FailedError.
const (
	CodeUnknown         = 0
	CodeRequestError    = 1
	CodeCancelled       = 2
	CodeStreamClosed    = 3
	CodeNoModelProduced = 4
)

// FailedError is a terminal reconstruction failure.
type FailedError struct {
	Reason string `json:"reason"`
	Code   int    `json:"code"`
}

func (e *FailedError) Error() string {
	return fmt.Sprintf("reconstruction failed (code %d): %s", e.Code, e.Reason)
}

func (e *FailedError) Unwrap() []error {
	if e.Code == CodeCancelled {
		return []error{ErrReconstructionFailed, ErrCancelled}
	}
	return []error{ErrReconstructionFailed}
}

// InvalidSampleError is reported for a sample the engine could not use.
// It never terminates a run.
type InvalidSampleError struct {
	ID     uint64
	Reason string
}

func (e *InvalidSampleError) Error() string {
	return fmt.Sprintf("invalid sample %d: %s", e.ID, e.Reason)
}

// EventKind enumerates the engine's output stream.
type EventKind string

const (
	EventProgress              EventKind = "progress"
	EventEstimatedTime         EventKind = "estimated_time_remaining"
	EventRequestComplete       EventKind = "request_complete"
	EventRequestError          EventKind = "request_error"
	EventInvalidSample         EventKind = "invalid_sample"
	EventProcessingCancelled   EventKind = "processing_cancelled"
	EventProcessingComplete    EventKind = "processing_complete"
	EventInputComplete         EventKind = "input_complete"
	EventSkippedSample         EventKind = "skipped_sample"
	EventAutomaticDownsampling EventKind = "automatic_downsampling"
	EventStitchingIncomplete   EventKind = "stitching_incomplete"
)

// Event is one message from the engine.
type Event struct {
	Kind             EventKind `json:"kind"`
	Fraction         float64   `json:"fraction,omitempty"`
	RemainingSeconds float64   `json:"remaining_s,omitempty"`
	OutputPath       string    `json:"output_path,omitempty"`
	SampleID         uint64    `json:"sample_id,omitempty"`
	Reason           string    `json:"reason,omitempty"`
	Code             int       `json:"code,omitempty"`
}

func (e Event) Remaining() time.Duration {
	return time.Duration(e.RemainingSeconds * float64(time.Second))
}

// Terminal reports whether the event ends the stream.
func (e Event) Terminal() bool {
	return e.Kind == EventProcessingComplete || e.Kind == EventProcessingCancelled
}

func Progress(fraction float64) Event { return Event{Kind: EventProgress, Fraction: fraction} }
func EstimatedTime(d time.Duration) Event {
	return Event{Kind: EventEstimatedTime, RemainingSeconds: d.Seconds()}
}
func RequestComplete(path string) Event { return Event{Kind: EventRequestComplete, OutputPath: path} }
func RequestError(reason string, code int) Event {
	return Event{Kind: EventRequestError, Reason: reason, Code: code}
}
func InvalidSample(id uint64, reason string) Event {
	return Event{Kind: EventInvalidSample, SampleID: id, Reason: reason}
}
func ProcessingCancelled() Event { return Event{Kind: EventProcessingCancelled} }
func ProcessingComplete() Event  { return Event{Kind: EventProcessingComplete} }
