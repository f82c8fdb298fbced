// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package tempctl regulates the culture temperature by heating the incubator
// air.
//
// The water temperature sets a target for the air: the further the water is
// below the reference, the hotter the air is driven. A PID loop then turns
// the air error into a heater duty cycle in percent. A second heater, the
// patch under the culture bag, is switched on while the water lags the
// reference by more than a fixed offset.
package tempctl

import (
	"math"
	"time"

	"github.com/GermanBionicSystems/bioreactor/common"
	"github.com/felixge/pidctrl"
)

// Config holds the controller gains.
type Config struct {
	// KpAirBelow and KpAirAbove scale (reference - water) into the air
	// target offset, the first when the water is colder than the reference.
	KpAirBelow float64 `yaml:"kp_air_below"`
	KpAirAbove float64 `yaml:"kp_air_above"`
	// MaxTargetAir bounds the air target in °C.
	MaxTargetAir float64 `yaml:"max_target_air"`
	// Kp, Ki and Kd are the heater PID gains, per °C and per second. The
	// derivative acts on the air error, so a moving target counts too.
	Kp float64 `yaml:"kp"`
	Ki float64 `yaml:"ki"`
	Kd float64 `yaml:"kd"`
	// PatchOffset is how far in °C the water may drop below the reference
	// before the patch heater turns on.
	PatchOffset float64 `yaml:"patch_offset"`
}

// DefaultConfig returns the gains tuned on the prototype.
func DefaultConfig() Config {
	return Config{
		KpAirBelow:   3,
		KpAirAbove:   2,
		MaxTargetAir: 50,
		Kp:           20,
		Ki:           0.0001,
		Kd:           0,
		PatchOffset:  1,
	}
}

// DefaultReference is the culture temperature used when none is stored.
const DefaultReference = 37.0

// Controller is the temperature loop. It is not safe for concurrent use.
type Controller struct {
	cfg       Config
	pid       *pidctrl.PIDController
	reference float64

	started bool
	last    common.Millis
	prevErr float64

	targetAir float64
	power     float64
	patch     bool
}

// New returns a Controller regulating toward reference °C.
func New(cfg Config, reference float64) *Controller {
	// pid only carries the integral, bounded to the duty cycle range.
	c := &Controller{
		cfg:       cfg,
		pid:       pidctrl.NewPIDController(0, cfg.Ki, 0),
		reference: reference,
	}
	c.pid.SetOutputLimits(0, 100)
	return c
}

// SetReference changes the culture temperature. The PID state is kept.
func (c *Controller) SetReference(t float64) {
	c.reference = t
}

// Reference returns the culture temperature.
func (c *Controller) Reference() float64 {
	return c.reference
}

// Update runs one step of the loop with the latest water and air readings.
// It is meant to run at about 1Hz; the first call has no elapsed time so only
// the proportional term acts.
//
// A NaN reading turns the heaters off without advancing the PID. The next
// valid reading restarts the loop as a first call.
func (c *Controller) Update(water, air float64, now common.Millis) {
	if math.IsNaN(water) || math.IsNaN(air) {
		c.power = 0
		c.patch = false
		c.started = false
		return
	}
	c.patch = water < c.reference-c.cfg.PatchOffset

	gain := c.cfg.KpAirAbove
	if water < c.reference {
		gain = c.cfg.KpAirBelow
	}
	c.targetAir = clamp(c.reference+gain*(c.reference-water), 0, c.cfg.MaxTargetAir)

	var dt time.Duration
	if c.started {
		dt = now.Since(c.last).Duration()
	}
	c.started = true
	c.last = now

	c.pid.Set(c.targetAir)
	integral := c.pid.UpdateDuration(air, dt)

	err := c.targetAir - air
	var derivative float64
	if dt > 0 {
		derivative = (err - c.prevErr) / dt.Seconds()
	}
	c.prevErr = err
	c.power = clamp(c.cfg.Kp*err+integral+c.cfg.Kd*derivative, 0, 100)
}

// HeaterPower returns the air heater duty cycle in percent.
func (c *Controller) HeaterPower() float64 {
	return c.power
}

// PatchHeating reports whether the patch heater should be on.
func (c *Controller) PatchHeating() bool {
	return c.patch
}

// TargetAir returns the air temperature the last Update aimed for.
func (c *Controller) TargetAir() float64 {
	return c.targetAir
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
