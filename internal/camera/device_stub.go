//go:build !gocv

package camera

import "fmt"

// NewDeviceCamera needs OpenCV; build with -tags gocv to enable it.
func NewDeviceCamera(device string) (Camera, error) {
	return nil, fmt.Errorf("%w: device camera %s requires a build with -tags gocv", ErrCameraUnavailable, device)
}
