// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package dfo2 reads the DFRobot Gravity electrochemical oxygen sensor over
// I²C and runs its two point calibration.
//
// # Datasheet
//
// https://wiki.dfrobot.com/SKU_SEN0465toSEN0476_Gravity_Gas_Sensor_Calibrated_I2C_UART
package dfo2

import (
	"errors"
	"fmt"
	"time"

	"periph.io/x/conn/v3"
	"periph.io/x/conn/v3/i2c"
)

// DefaultAddress is the factory address.
const DefaultAddress uint16 = 0x70

// CalPoint is a calibration gas.
type CalPoint byte

const (
	// CalAir calibrates against ambient air, 20.9 %vol.
	CalAir CalPoint = 0x01
	// CalPure calibrates against 99.5 %vol oxygen.
	CalPure CalPoint = 0x02
	// CalClear erases both points.
	CalClear CalPoint = 0x03
)

const (
	regOxygen      byte = 0x10
	regCalState    byte = 0x13
	regCalibration byte = 0x18

	calibrationDelay = time.Second
)

// ErrCalibrationFailed is returned when the sensor does not report the
// requested calibration state afterwards.
var ErrCalibrationFailed = errors.New("dfo2: calibration failed")

// Opts holds the optional settings of a Dev.
type Opts struct {
	// Sleep is used by the blocking calibration path. Defaults to time.Sleep.
	Sleep func(time.Duration)
}

// Dev is an oxygen sensor.
type Dev struct {
	d     i2c.Dev
	sleep func(time.Duration)
}

// New returns a Dev at addr on bus.
func New(bus i2c.Bus, addr uint16, opts *Opts) (*Dev, error) {
	if bus == nil {
		return nil, errors.New("dfo2: nil bus")
	}
	dev := &Dev{d: i2c.Dev{Bus: bus, Addr: addr}, sleep: time.Sleep}
	if opts != nil && opts.Sleep != nil {
		dev.sleep = opts.Sleep
	}
	return dev, nil
}

// Read returns the oxygen concentration in %vol. The sensor sends the
// integer part, the tenths and the hundredths as three bytes.
func (dev *Dev) Read() (float64, error) {
	r := make([]byte, 3)
	if err := dev.d.Tx([]byte{regOxygen}, r); err != nil {
		return 0, fmt.Errorf("dfo2: error reading concentration: %w", err)
	}
	return float64(r[0]) + float64(r[1])/10 + float64(r[2])/100, nil
}

// Calibrate stores a calibration point. The sensor must sit in the matching
// gas. It blocks for a second.
func (dev *Dev) Calibrate(p CalPoint) error {
	if err := dev.d.Tx([]byte{regCalibration, byte(p)}, nil); err != nil {
		return fmt.Errorf("dfo2: error sending calibration: %w", err)
	}
	dev.sleep(calibrationDelay)
	r := make([]byte, 1)
	if err := dev.d.Tx([]byte{regCalState}, r); err != nil {
		return fmt.Errorf("dfo2: error reading calibration state: %w", err)
	}
	ok := r[0]&byte(p) != 0
	if p == CalClear {
		ok = r[0] == 0
	}
	if !ok {
		return fmt.Errorf("%w: state 0x%02x", ErrCalibrationFailed, r[0])
	}
	return nil
}

func (dev *Dev) String() string {
	return "dfo2"
}

// Halt implements conn.Resource.
func (dev *Dev) Halt() error {
	return nil
}

var _ conn.Resource = &Dev{}
