// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package camera takes still photographs for capture sessions.
package camera

import (
	"context"
	"errors"
)

// ErrCameraUnavailable is returned when a still cannot be taken.
var ErrCameraUnavailable = errors.New("camera: unavailable")

// Camera writes one still image to path per Capture call.
type Camera interface {
	Ready() bool
	Capture(ctx context.Context, path string) error
}
