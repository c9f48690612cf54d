package sensors

import (
	"errors"
	"time"

	"github.com/relabs-tech/scan_capture/internal/motion"
)

// ErrUnavailable is returned when no acceleration sample can be produced.
var ErrUnavailable = errors.New("sensors: accelerometer unavailable")

// AccelSource yields acceleration vectors in g.
type AccelSource interface {
	ReadAccel() (motion.Vector, error)
}

// AccelReading is the JSON form published by the accel producer.
type AccelReading struct {
	Source string    `json:"source"`
	X      float64   `json:"x"` // g
	Y      float64   `json:"y"`
	Z      float64   `json:"z"`
	Time   time.Time `json:"time"`
}

func (r AccelReading) Vector() motion.Vector {
	return motion.Vector{X: r.X, Y: r.Y, Z: r.Z}
}

// AccelScale returns LSB per g for an MPU9250 accelerometer range setting
// (0=±2g, 1=±4g, 2=±8g, 3=±16g). Out of range values fall back to ±2g.
func AccelScale(accelRange byte) float64 {
	switch accelRange {
	case 1:
		return 8192
	case 2:
		return 4096
	case 3:
		return 2048
	default:
		return 16384
	}
}
