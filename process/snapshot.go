// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package process

import (
	"math"

	"github.com/GermanBionicSystems/bioreactor/chamber"
	"github.com/GermanBionicSystems/bioreactor/common"
	"github.com/GermanBionicSystems/bioreactor/statusled"
)

// Reading is a sensor value with the status of its source. Value is NaN when
// the sensor is absent.
type Reading struct {
	Value  float64
	Status string
	OK     bool
}

// Snapshot is a copy of the process state for reporting.
type Snapshot struct {
	Now       common.Millis
	Phase     Phase
	InPhase   common.Millis
	Remaining common.Millis // 0 for phases waiting for a command
	Setpoints Setpoints

	PH, Water, Air, DO, DOTemperature, CO2, O2, Pressure Reading

	TargetAir float64
	Outputs   Outputs
	Valves    chamber.Durations
	DoorOpen  bool
	LED       statusled.State
	Faults    []string
}

// Snapshot returns the current state.
func (b *Bioreactor) Snapshot() Snapshot {
	return b.snapshot(b.d.Clock.Now())
}

func (b *Bioreactor) snapshot(now common.Millis) Snapshot {
	s := Snapshot{
		Now:       now,
		Phase:     b.phase,
		InPhase:   now.Since(b.phaseStart),
		Setpoints: b.setpoints,
		PH:        Reading{b.d.PH.Value(), b.d.PH.Status().String(), b.d.PH.Status().Healthy()},
		Water:     Reading{b.d.Water.Value(), b.d.Water.Status().String(), b.d.Water.Status().Healthy()},
		Air:       absent(),
		DO:        absent(),
		CO2:       absent(),
		O2:        Reading{b.o2, "", b.o2 > 0},
		Pressure:  Reading{b.pressure, "", !math.IsNaN(b.pressure)},
		TargetAir: b.temp.TargetAir(),
		Outputs:   b.out,
		Valves:    b.gas.Durations(),
		DoorOpen:  b.doorOpen,
		LED:       b.led,
		Faults:    b.faults(),
	}
	s.DOTemperature = absent()
	if d := b.setup().Duration; d != 0 && s.InPhase < d {
		s.Remaining = d - s.InPhase
	}
	if b.d.Air != nil {
		v, ok := b.d.Air.Temperature()
		s.Air = Reading{v, "", ok}
	}
	if b.d.DO != nil {
		st := b.d.DO.Status()
		s.DO = Reading{b.d.DO.Oxygen(), st.String(), st.Healthy()}
		s.DOTemperature = Reading{b.d.DO.Temperature(), st.String(), st.Healthy()}
	}
	if b.d.CO2 != nil {
		s.CO2 = Reading{b.d.CO2.Value(), b.d.CO2.Status().String(), b.d.CO2.Healthy()}
	}
	return s
}

func absent() Reading {
	return Reading{Value: math.NaN(), Status: "absent"}
}
