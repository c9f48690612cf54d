// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package sensors

import (
	"fmt"
	"log"

	"github.com/relabs-tech/scan_capture/internal/motion"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/devices/v3/mpu9250"
	"periph.io/x/host/v3"
)

// MPU9250Source reads the accelerometer of an MPU9250 over SPI.
type MPU9250Source struct {
	imu   *mpu9250.MPU9250
	scale float64
}

// NewMPU9250Source initializes the IMU on spiDev with chip select csPin.
func NewMPU9250Source(spiDev, csPin string, accelRange byte) (*MPU9250Source, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("IMU: periph host init: %w", err)
	}

	cs := gpioreg.ByName(csPin)
	if cs == nil {
		return nil, fmt.Errorf("IMU: CS pin %q not found", csPin)
	}

	tr, err := mpu9250.NewSpiTransport(spiDev, cs)
	if err != nil {
		return nil, fmt.Errorf("IMU: SPI transport (%s): %w", spiDev, err)
	}

	imu, err := mpu9250.New(tr)
	if err != nil {
		return nil, fmt.Errorf("IMU: device creation: %w", err)
	}

	if err := imu.Init(); err != nil {
		return nil, fmt.Errorf("IMU: initialization: %w", err)
	}

	if err := imu.SetAccelRange(accelRange); err != nil {
		return nil, fmt.Errorf("IMU: set accel range: %w", err)
	}
	log.Printf("IMU: accelerometer range set to %d (±%dg)", accelRange, []int{2, 4, 8, 16}[accelRange&3])

	if _, err := imu.SelfTest(); err != nil {
		log.Printf("Warning: IMU self-test failed: %v", err)
	} else {
		log.Printf("IMU self-test passed")
	}

	if err := imu.Calibrate(); err != nil {
		log.Printf("Warning: IMU calibration failed: %v", err)
	} else {
		log.Printf("IMU calibration complete")
	}

	return &MPU9250Source{imu: imu, scale: AccelScale(accelRange)}, nil
}

// ReadAccel returns the current acceleration in g.
func (s *MPU9250Source) ReadAccel() (motion.Vector, error) {
	ax, err := s.imu.GetAccelerationX()
	if err != nil {
		return motion.Vector{}, fmt.Errorf("%w: accel X: %v", ErrUnavailable, err)
	}
	ay, err := s.imu.GetAccelerationY()
	if err != nil {
		return motion.Vector{}, fmt.Errorf("%w: accel Y: %v", ErrUnavailable, err)
	}
	az, err := s.imu.GetAccelerationZ()
	if err != nil {
		return motion.Vector{}, fmt.Errorf("%w: accel Z: %v", ErrUnavailable, err)
	}
	return motion.Vector{
		X: float64(ax) / s.scale,
		Y: float64(ay) / s.scale,
		Z: float64(az) / s.scale,
	}, nil
}
