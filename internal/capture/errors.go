package capture

import (
	"errors"
	"fmt"
)

var (
	// ErrNotReady means the session is not capturing or the camera cannot take a still.
	ErrNotReady = errors.New("capture: not ready")
	// ErrTooSoon means the automatic interval has not elapsed since the last admission.
	ErrTooSoon = errors.New("capture: too soon")
	// ErrInvalidTransition means the requested phase change is not legal.
	ErrInvalidTransition = errors.New("capture: invalid transition")
	// ErrWrongMode means the trigger does not match the current capture mode.
	ErrWrongMode = errors.New("capture: wrong mode")
	// ErrInvalidInterval rejects a non-positive automatic interval.
	ErrInvalidInterval = errors.New("capture: interval must be positive")
	// ErrTooFewSamples is returned by Finish only when the minimum count is enforced.
	ErrTooFewSamples = errors.New("capture: too few samples")
	// ErrUnknownAdmission means Append or Abandon was given an admission that is not outstanding.
	ErrUnknownAdmission = errors.New("capture: unknown admission")
)

// TransitionError records the illegal phase change that was attempted.
type TransitionError struct {
	From Phase
	To   Phase
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("capture: invalid transition %s -> %s", e.From, e.To)
}

func (e *TransitionError) Unwrap() error { return ErrInvalidTransition }
