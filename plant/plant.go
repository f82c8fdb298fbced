// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package plant maps the outputs of the process onto the hardware: eFuse
// channels of the I/O expander, the four peristaltic pumps and the heater
// relay.
package plant

import (
	"errors"
	"fmt"
	"time"

	"github.com/GermanBionicSystems/bioreactor/common"
	"github.com/GermanBionicSystems/bioreactor/process"
)

// eFuse channels of the I/O expander.
const (
	ValveSupply      = 0
	ValveCirculation = 1
	ValveReturn      = 2
	ValveO2          = 3
	ValveCO2         = 4
	ValveAir         = 5
	FanCirculation   = 6
	FanPCB           = 7
	FanHeater        = 8
	HeaterPatch      = 9
	FanRight         = 16
	FanLeft          = 17
	FanLowVolt       = 18
	FanHighVolt      = 19
)

// DefaultPumpRefresh is how often unchanged pump speeds are written again.
const DefaultPumpRefresh = 5 * time.Second

// Switches drives on/off channels. pi4ioe.Dev implements it.
type Switches interface {
	Set(ch int, on bool) error
}

// Pump is a peristaltic pump. tmc5041.Pump implements it.
type Pump interface {
	SetSpeed(mlPerMin float64) error
	Speed() float64
}

// Heater is a proportional heater. ssr.Dev implements it.
type Heater interface {
	SetLevel(percent float64)
	Update(now common.Millis) error
	Off() error
}

// Parts are the actuators of the plant. Nil pumps or heater are skipped.
type Parts struct {
	Switches    Switches
	Supply      Pump
	Circulation Pump
	Chamber1    Pump
	Chamber2    Pump
	Heater      Heater
}

// Plant implements process.Actuators.
type Plant struct {
	p       Parts
	refresh common.Millis

	pumpsStarted bool
	lastPumps    common.Millis
	failed       [4]bool
}

// New returns a Plant. refresh of 0 selects DefaultPumpRefresh.
func New(p Parts, refresh time.Duration) (*Plant, error) {
	if p.Switches == nil {
		return nil, errors.New("plant: nil switches")
	}
	if refresh <= 0 {
		refresh = DefaultPumpRefresh
	}
	return &Plant{p: p, refresh: common.MillisOf(refresh)}, nil
}

// Apply drives every output. The switches and the heater are updated on
// every call. A pump is written when its speed changes, after a failed
// write, and every refresh period.
func (pl *Plant) Apply(o process.Outputs, now common.Millis) error {
	var errs []error
	set := func(ch int, on bool) {
		if err := pl.p.Switches.Set(ch, on); err != nil {
			errs = append(errs, err)
		}
	}
	set(ValveSupply, o.Valves.Supply)
	set(ValveCirculation, o.Valves.Circulation)
	set(ValveReturn, o.Valves.Return)
	set(ValveO2, o.O2)
	set(ValveCO2, o.CO2)
	set(ValveAir, o.Air)
	set(FanCirculation, o.Fans.Circulation)
	set(FanPCB, o.Fans.PCB)
	set(FanHeater, o.Fans.Heater)
	set(HeaterPatch, o.Patch)
	set(FanRight, o.Fans.Right)
	set(FanLeft, o.Fans.Left)
	set(FanLowVolt, o.Fans.LowVolt)
	set(FanHighVolt, o.Fans.HighVolt)

	if pl.p.Heater != nil {
		pl.p.Heater.SetLevel(o.Heater)
		if err := pl.p.Heater.Update(now); err != nil {
			errs = append(errs, err)
		}
	}

	refresh := !pl.pumpsStarted || now.Since(pl.lastPumps) >= pl.refresh
	if refresh {
		pl.pumpsStarted = true
		pl.lastPumps = now
	}
	speeds := [4]float64{o.Pumps.Supply, o.Pumps.Circulation, o.Pumps.Chamber1, o.Pumps.Chamber2}
	for i, p := range pl.pumps() {
		if p == nil {
			continue
		}
		if !refresh && !pl.failed[i] && p.Speed() == speeds[i] {
			continue
		}
		err := p.SetSpeed(speeds[i])
		pl.failed[i] = err != nil
		if err != nil {
			errs = append(errs, fmt.Errorf("plant: pump %d: %w", i+1, err))
		}
	}
	return errors.Join(errs...)
}

func (pl *Plant) pumps() [4]Pump {
	return [4]Pump{pl.p.Supply, pl.p.Circulation, pl.p.Chamber1, pl.p.Chamber2}
}

// Halt stops the pumps, the heater and every switch.
func (pl *Plant) Halt() error {
	var errs []error
	for _, p := range pl.pumps() {
		if p != nil {
			errs = append(errs, p.SetSpeed(0))
		}
	}
	if pl.p.Heater != nil {
		errs = append(errs, pl.p.Heater.Off())
	}
	for _, ch := range []int{ValveSupply, ValveCirculation, ValveReturn, ValveO2, ValveCO2, ValveAir, FanCirculation, FanPCB, FanHeater, HeaterPatch, FanRight, FanLeft, FanLowVolt, FanHighVolt} {
		errs = append(errs, pl.p.Switches.Set(ch, false))
	}
	return errors.Join(errs...)
}

func (pl *Plant) String() string {
	return "plant"
}

var _ process.Actuators = &Plant{}
