package reconstruct

import (
	"errors"
	"fmt"
	"strings"
)

// ErrIllegalOption is returned when an option string is not recognised.
var ErrIllegalOption = errors.New("reconstruct: illegal option")

// Detail is the requested mesh detail level.
type Detail string

const (
	DetailPreview Detail = "preview"
	DetailReduced Detail = "reduced"
	DetailMedium  Detail = "medium"
	DetailFull    Detail = "full"
	DetailRaw     Detail = "raw"
)

// Ordering hints whether samples were taken in sequence around the object.
type Ordering string

const (
	OrderingUnordered  Ordering = "unordered"
	OrderingSequential Ordering = "sequential"
)

// Sensitivity selects how hard the engine looks for features.
type Sensitivity string

const (
	SensitivityNormal Sensitivity = "normal"
	SensitivityHigh   Sensitivity = "high"
)

// Options are the quality/ordering hints passed opaquely to the engine.
type Options struct {
	Detail      Detail      `json:"detail" yaml:"detail"`
	Ordering    Ordering    `json:"sample_ordering" yaml:"sample_ordering"`
	Sensitivity Sensitivity `json:"feature_sensitivity" yaml:"feature_sensitivity"`
}

// DefaultOptions returns reduced detail, unordered samples, normal sensitivity.
func DefaultOptions() Options {
	return Options{
		Detail:      DetailReduced,
		Ordering:    OrderingUnordered,
		Sensitivity: SensitivityNormal,
	}
}

func ParseDetail(s string) (Detail, error) {
	switch d := Detail(strings.ToLower(strings.TrimSpace(s))); d {
	case DetailPreview, DetailReduced, DetailMedium, DetailFull, DetailRaw:
		return d, nil
	}
	return "", fmt.Errorf("%w: detail %q", ErrIllegalOption, s)
}

func ParseOrdering(s string) (Ordering, error) {
	switch o := Ordering(strings.ToLower(strings.TrimSpace(s))); o {
	case OrderingUnordered, OrderingSequential:
		return o, nil
	}
	return "", fmt.Errorf("%w: sample ordering %q", ErrIllegalOption, s)
}

func ParseSensitivity(s string) (Sensitivity, error) {
	switch v := Sensitivity(strings.ToLower(strings.TrimSpace(s))); v {
	case SensitivityNormal, SensitivityHigh:
		return v, nil
	}
	return "", fmt.Errorf("%w: feature sensitivity %q", ErrIllegalOption, s)
}
