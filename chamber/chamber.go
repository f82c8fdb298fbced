// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package chamber regulates the O2 and CO2 content of the pressurized gas
// chamber feeding the culture.
//
// Each supply line is modelled as laminar flow through a tube (Hagen-Poiseuille):
//
//	q = π·r⁴ / (8·μ·L) · (Psupply - Pchamber)
//
// The concentration error is turned into the gas volume to inject, then into
// the time the line's valve stays open. A gas below its reference opens its own
// valve; a gas above it opens the air valve to dilute. Every Update replaces
// all the valve deadlines.
package chamber

import (
	"fmt"
	"math"

	"github.com/GermanBionicSystems/bioreactor/common"
)

// Valve identifies a chamber valve.
type Valve int

const (
	O2 Valve = iota
	CO2
	Air
	Safety
)

const valveName = "O2CO2AirSafety"

var valveIndex = [...]uint8{0, 2, 5, 8, 14}

func (v Valve) String() string {
	if v < 0 || v >= Valve(len(valveIndex)-1) {
		return fmt.Sprintf("Valve(%d)", int(v))
	}
	return valveName[valveIndex[v]:valveIndex[v+1]]
}

// PSI is one pound per square inch in Pa.
const PSI = 6895.0

// Config holds the physical model and the empirical tuning of the chamber.
type Config struct {
	// TubeRadius and TubeLength describe the supply lines, in m.
	TubeRadius float64 `yaml:"tube_radius"`
	TubeLength float64 `yaml:"tube_length"`
	// Dynamic viscosities in Pa·s.
	ViscosityAir float64 `yaml:"viscosity_air"`
	ViscosityO2  float64 `yaml:"viscosity_o2"`
	ViscosityCO2 float64 `yaml:"viscosity_co2"`
	// SupplyPressure is the regulated tank pressure, ChamberPressure the
	// chamber setpoint and MinPressure the floor below which air is forced
	// in, all in Pa.
	SupplyPressure  float64 `yaml:"supply_pressure"`
	ChamberPressure float64 `yaml:"chamber_pressure"`
	MinPressure     float64 `yaml:"min_pressure"`
	// Volume of the chamber in L.
	Volume float64 `yaml:"volume"`

	// Dead zones around the references, in % O2 and ppm CO2.
	DeadZoneO2  float64 `yaml:"dead_zone_o2"`
	DeadZoneCO2 float64 `yaml:"dead_zone_co2"`

	// Multipliers applied to the computed open time when the gas is low
	// (Factor*, or Small* when the error is under Threshold*) and when it is
	// in excess and air is injected (Reduction*).
	FactorO2       float64 `yaml:"factor_o2"`
	SmallFactorO2  float64 `yaml:"small_factor_o2"`
	ThresholdO2    float64 `yaml:"threshold_o2"`
	ReductionO2    float64 `yaml:"reduction_o2"`
	FactorCO2      float64 `yaml:"factor_co2"`
	SmallFactorCO2 float64 `yaml:"small_factor_co2"`
	ThresholdCO2   float64 `yaml:"threshold_co2"`
	ReductionCO2   float64 `yaml:"reduction_co2"`

	// ForcedAirDuration is how long the air valve opens when the pressure is
	// under MinPressure.
	ForcedAirDuration common.Millis `yaml:"forced_air_ms"`
}

// DefaultConfig returns the parameters of the prototype chamber.
func DefaultConfig() Config {
	return Config{
		TubeRadius:        0.0043,
		TubeLength:        2,
		ViscosityAir:      1.8e-5,
		ViscosityO2:       2e-5,
		ViscosityCO2:      1.5e-5,
		SupplyPressure:    30 * PSI,
		ChamberPressure:   25 * PSI,
		MinPressure:       23 * PSI,
		Volume:            1.296,
		DeadZoneO2:        0.1,
		DeadZoneCO2:       100,
		FactorO2:          0.5,
		SmallFactorO2:     1.5,
		ThresholdO2:       10,
		ReductionO2:       40,
		FactorCO2:         1,
		SmallFactorCO2:    4,
		ThresholdCO2:      15000,
		ReductionCO2:      30,
		ForcedAirDuration: 1000,
	}
}

// Default references used when none is stored.
const (
	DefaultO2  = 85.0
	DefaultCO2 = 50000.0
)

// Health reports whether a probe can be trusted.
type Health interface {
	Healthy() bool
}

// Durations are the valve open times computed by the last Update, in ms.
type Durations struct {
	O2, CO2, Air common.Millis
}

// Controller is the gas regulator. It is not safe for concurrent use.
type Controller struct {
	cfg     Config
	co2     Health
	enabled bool

	refO2, refCO2 float64

	last      Durations
	deadlines [3]common.Window
}

// New returns a disabled Controller using the default references. co2 gates
// the CO2 valve and may be nil when the probe is always trusted.
func New(cfg Config, co2 Health) *Controller {
	return &Controller{cfg: cfg, co2: co2, refO2: DefaultO2, refCO2: DefaultCO2}
}

// SetEnabled turns regulation on or off. Disabling closes every valve.
func (c *Controller) SetEnabled(on bool) {
	if !on {
		c.deadlines = [3]common.Window{}
		c.last = Durations{}
	}
	c.enabled = on
}

// Enabled reports whether regulation is on.
func (c *Controller) Enabled() bool {
	return c.enabled
}

// SetReference sets the target of O2 in % or CO2 in ppm. Other valves are
// ignored.
func (c *Controller) SetReference(v Valve, level float64) {
	switch v {
	case O2:
		c.refO2 = level
	case CO2:
		c.refCO2 = level
	}
}

// Reference returns the target of O2 or CO2, NaN for other valves.
func (c *Controller) Reference(v Valve) float64 {
	switch v {
	case O2:
		return c.refO2
	case CO2:
		return c.refCO2
	default:
		return math.NaN()
	}
}

// flow returns the Poiseuille flow of gas v through its supply line. The
// correction factors were tuned with this value read as L/s.
func (c *Controller) flow(v Valve) float64 {
	var mu float64
	switch v {
	case O2:
		mu = c.cfg.ViscosityO2
	case CO2:
		mu = c.cfg.ViscosityCO2
	default:
		mu = c.cfg.ViscosityAir
	}
	r := c.cfg.TubeRadius
	return math.Pi * r * r * r * r / (8 * mu * c.cfg.TubeLength) * (c.cfg.SupplyPressure - c.cfg.ChamberPressure)
}

// openTime returns the time in ms to inject points of gas v: % for O2
// and air, ppm for CO2.
func (c *Controller) openTime(v Valve, points float64) float64 {
	unit := 0.01
	if v == CO2 {
		unit = 1e-6
	}
	q := c.flow(v)
	if q <= 0 || points <= 0 {
		return 0
	}
	return points * unit * c.cfg.Volume / q * 1000
}

// Update computes the valve deadlines from the latest readings: O2 in %, CO2
// in ppm and pressure in Pa. A reading of 0 or less means the value is
// unknown and that gas is left alone. It does nothing while disabled.
func (c *Controller) Update(o2, co2, pressure float64, now common.Millis) {
	if !c.enabled {
		return
	}
	var d [3]float64
	if o2 > 0 {
		switch e := o2 - c.refO2; {
		case e > c.cfg.DeadZoneO2:
			d[Air] = c.openTime(Air, e/o2) * c.cfg.ReductionO2
		case e < -c.cfg.DeadZoneO2:
			f := c.cfg.FactorO2
			if -e < c.cfg.ThresholdO2 {
				f = c.cfg.SmallFactorO2
			}
			d[O2] = c.openTime(O2, -e) * f
		}
	}
	if co2 > 0 {
		switch e := co2 - c.refCO2; {
		case e > c.cfg.DeadZoneCO2:
			d[Air] = math.Max(d[Air], c.openTime(Air, e/co2)*c.cfg.ReductionCO2)
		case e < -c.cfg.DeadZoneCO2:
			f := c.cfg.FactorCO2
			if -e < c.cfg.ThresholdCO2 {
				f = c.cfg.SmallFactorCO2
			}
			d[CO2] = c.openTime(CO2, -e) * f
		}
	}
	if !math.IsNaN(pressure) && pressure < c.cfg.MinPressure {
		d[Air] = math.Max(d[Air], float64(c.cfg.ForcedAirDuration))
	}
	for i := range d {
		c.deadlines[i] = common.Window{Start: now, Length: toMillis(d[i])}
	}
	c.last = Durations{O2: c.deadlines[O2].Length, CO2: c.deadlines[CO2].Length, Air: c.deadlines[Air].Length}
}

// ValveOpen reports whether valve v should be open at now. The CO2 valve also
// requires a healthy CO2 probe. The safety valve is never opened.
func (c *Controller) ValveOpen(v Valve, now common.Millis) bool {
	if !c.enabled || v < O2 || v > Air {
		return false
	}
	if v == CO2 && c.co2 != nil && !c.co2.Healthy() {
		return false
	}
	return c.deadlines[v].Active(now)
}

// Durations returns the open times computed by the last Update.
func (c *Controller) Durations() Durations {
	return c.last
}

// toMillis rounds a duration in ms down, saturating at the largest window
// that Millis arithmetic can tell apart from the past.
func toMillis(ms float64) common.Millis {
	const limit = math.MaxUint32 / 2
	switch {
	case !(ms > 0):
		return 0
	case ms >= limit:
		return limit
	default:
		return common.Millis(ms)
	}
}
