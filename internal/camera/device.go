//go:build gocv

package camera

import (
	"context"
	"fmt"
	"sync"

	"gocv.io/x/gocv"
)

// DeviceCamera grabs frames from a V4L2 device through OpenCV.
type DeviceCamera struct {
	mu     sync.Mutex
	webcam *gocv.VideoCapture
	busy   bool
}

// NewDeviceCamera opens the capture device, e.g. 0 or "/dev/video0".
func NewDeviceCamera(device string) (Camera, error) {
	webcam, err := gocv.OpenVideoCapture(device)
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %v", ErrCameraUnavailable, device, err)
	}
	return &DeviceCamera{webcam: webcam}, nil
}

func (c *DeviceCamera) Ready() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.webcam.IsOpened() && !c.busy
}

func (c *DeviceCamera) Capture(ctx context.Context, path string) error {
	c.mu.Lock()
	if c.busy {
		c.mu.Unlock()
		return fmt.Errorf("%w: capture already in progress", ErrCameraUnavailable)
	}
	c.busy = true
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		c.busy = false
		c.mu.Unlock()
	}()

	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrCameraUnavailable, err)
	}

	img := gocv.NewMat()
	defer img.Close()
	if ok := c.webcam.Read(&img); !ok || img.Empty() {
		return fmt.Errorf("%w: no frame from device", ErrCameraUnavailable)
	}
	if ok := gocv.IMWrite(path, img); !ok {
		return fmt.Errorf("%w: write %s failed", ErrCameraUnavailable, path)
	}
	return nil
}

func (c *DeviceCamera) Close() error {
	return c.webcam.Close()
}
