// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package ssr drives a zero-crossing solid state relay with slow, time
// proportional PWM: in every period the output is on for level percent of
// the period. Switching happens from Update(), so the resolution is the
// interval between calls.
package ssr

import (
	"errors"
	"fmt"
	"time"

	"github.com/GermanBionicSystems/bioreactor/common"
	"periph.io/x/conn/v3/gpio"
)

// DefaultPeriod is long enough for 1% steps at a 10ms update interval.
const DefaultPeriod = time.Second

// Dev is a relay on a gpio output.
type Dev struct {
	pin    gpio.PinOut
	period common.Millis

	level   float64
	start   common.Millis
	started bool
	on      bool
}

// New switches the relay off and returns a Dev with the given PWM period.
func New(pin gpio.PinOut, period time.Duration) (*Dev, error) {
	if pin == nil {
		return nil, errors.New("ssr: nil pin")
	}
	if period <= 0 {
		period = DefaultPeriod
	}
	d := &Dev{pin: pin, period: common.MillisOf(period)}
	if err := pin.Out(gpio.Low); err != nil {
		return nil, fmt.Errorf("ssr: %s: %w", pin, err)
	}
	return d, nil
}

// SetLevel sets the duty cycle in percent, clamped to [0, 100]. It takes
// effect at the next Update.
func (d *Dev) SetLevel(percent float64) {
	switch {
	case percent < 0 || percent != percent:
		percent = 0
	case percent > 100:
		percent = 100
	}
	d.level = percent
}

// Level returns the duty cycle in percent.
func (d *Dev) Level() float64 {
	return d.level
}

// Update drives the output for the current position in the period.
func (d *Dev) Update(now common.Millis) error {
	if !d.started || now.Since(d.start) >= d.period {
		d.start = now
		d.started = true
	}
	onTime := common.Millis(d.level / 100 * float64(d.period))
	return d.set(now.Since(d.start) < onTime)
}

// Off switches the relay off and sets the level to 0.
func (d *Dev) Off() error {
	d.level = 0
	return d.set(false)
}

// On reports whether the output is currently driven.
func (d *Dev) On() bool {
	return d.on
}

func (d *Dev) set(on bool) error {
	if on == d.on {
		return nil
	}
	if err := d.pin.Out(gpio.Level(on)); err != nil {
		return fmt.Errorf("ssr: %s: %w", d.pin, err)
	}
	d.on = on
	return nil
}

func (d *Dev) String() string {
	return "ssr(" + d.pin.String() + ")"
}

// Halt implements conn.Resource.
func (d *Dev) Halt() error {
	return d.Off()
}
