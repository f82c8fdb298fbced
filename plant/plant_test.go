// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package plant

import (
	"errors"
	"testing"
	"time"

	"github.com/GermanBionicSystems/bioreactor/common"
	"github.com/GermanBionicSystems/bioreactor/process"
	"github.com/GermanBionicSystems/bioreactor/ssr"
	"github.com/GermanBionicSystems/bioreactor/tmc5041"
	"github.com/google/go-cmp/cmp"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpiotest"
	"periph.io/x/conn/v3/spi/spitest"
)

type switches map[int]bool

func (s switches) Set(ch int, on bool) error {
	s[ch] = on
	return nil
}

type pump struct {
	speed  float64
	writes int
	err    error
}

func (p *pump) SetSpeed(v float64) error {
	p.writes++
	if p.err != nil {
		return p.err
	}
	p.speed = v
	return nil
}

func (p *pump) Speed() float64 { return p.speed }

func TestNewNilSwitches(t *testing.T) {
	if _, err := New(Parts{}, 0); err == nil {
		t.Fatal("expected error")
	}
}

func TestSwitches(t *testing.T) {
	sw := switches{}
	pl, err := New(Parts{Switches: sw}, 0)
	if err != nil {
		t.Fatal(err)
	}
	o := process.Outputs{
		Fans:   process.Fans{Circulation: true, LowVolt: true},
		Valves: process.Valves{Return: true},
		CO2:    true,
		Patch:  true,
	}
	if err := pl.Apply(o, 0); err != nil {
		t.Fatal(err)
	}
	want := switches{
		ValveSupply:      false,
		ValveCirculation: false,
		ValveReturn:      true,
		ValveO2:          false,
		ValveCO2:         true,
		ValveAir:         false,
		FanCirculation:   true,
		FanPCB:           false,
		FanHeater:        false,
		HeaterPatch:      true,
		FanRight:         false,
		FanLeft:          false,
		FanLowVolt:       true,
		FanHighVolt:      false,
	}
	if diff := cmp.Diff(want, sw); diff != "" {
		t.Errorf("channels (-want +got):\n%s", diff)
	}

	if err := pl.Halt(); err != nil {
		t.Fatal(err)
	}
	for ch, on := range sw {
		if on {
			t.Errorf("channel %d still on", ch)
		}
	}
}

func TestPumpRefresh(t *testing.T) {
	var p [4]pump
	pl, err := New(Parts{Switches: switches{}, Supply: &p[0], Circulation: &p[1], Chamber1: &p[2], Chamber2: &p[3]}, 5*time.Second)
	if err != nil {
		t.Fatal(err)
	}
	o := process.Outputs{Pumps: process.Pumps{Supply: 10, Circulation: -5}}
	if err := pl.Apply(o, 0); err != nil {
		t.Fatal(err)
	}
	if p[0].speed != 10 || p[1].speed != -5 || p[2].speed != 0 || p[3].speed != 0 {
		t.Fatalf("speeds %v", p)
	}
	for i := range p {
		if p[i].writes != 1 {
			t.Errorf("pump %d written %d times", i, p[i].writes)
		}
	}

	// Unchanged speeds wait for the refresh.
	for now := common.Millis(100); now < 5000; now += 100 {
		if err := pl.Apply(o, now); err != nil {
			t.Fatal(err)
		}
	}
	if p[0].writes != 1 {
		t.Errorf("written %d times", p[0].writes)
	}

	// A change is written right away.
	o.Pumps.Supply = 0
	if err := pl.Apply(o, 4950); err != nil {
		t.Fatal(err)
	}
	if p[0].writes != 2 || p[0].speed != 0 || p[1].writes != 1 {
		t.Errorf("supply %+v circulation %+v", p[0], p[1])
	}

	if err := pl.Apply(o, 5000); err != nil {
		t.Fatal(err)
	}
	for i := range p {
		if want := []int{3, 2, 2, 2}[i]; p[i].writes != want {
			t.Errorf("pump %d written %d times, expected %d", i, p[i].writes, want)
		}
	}
}

func TestPumpRetry(t *testing.T) {
	p := &pump{err: errors.New("spi")}
	pl, err := New(Parts{Switches: switches{}, Supply: p}, 0)
	if err != nil {
		t.Fatal(err)
	}
	o := process.Outputs{Pumps: process.Pumps{Supply: 0}}
	if err := pl.Apply(o, 0); err == nil {
		t.Fatal("expected error")
	}
	p.err = nil
	if err := pl.Apply(o, 100); err != nil {
		t.Fatal(err)
	}
	if p.writes != 2 {
		t.Errorf("written %d times", p.writes)
	}
	if err := pl.Apply(o, 200); err != nil {
		t.Fatal(err)
	}
	if p.writes != 2 {
		t.Errorf("written %d times", p.writes)
	}
}

func TestHeater(t *testing.T) {
	pin := &gpiotest.Pin{N: "heater"}
	h, err := ssr.New(pin, time.Second)
	if err != nil {
		t.Fatal(err)
	}
	pl, err := New(Parts{Switches: switches{}, Heater: h}, 0)
	if err != nil {
		t.Fatal(err)
	}
	if err := pl.Apply(process.Outputs{Heater: 50}, 0); err != nil {
		t.Fatal(err)
	}
	if pin.L != gpio.High {
		t.Error("heater off at the start of the period")
	}
	if err := pl.Apply(process.Outputs{Heater: 50}, 600); err != nil {
		t.Fatal(err)
	}
	if pin.L != gpio.Low {
		t.Error("heater on past half of the period")
	}
	if err := pl.Apply(process.Outputs{Heater: 50}, 1000); err != nil {
		t.Fatal(err)
	}
	if pin.L != gpio.High {
		t.Error("heater off at the start of the next period")
	}
	if err := pl.Halt(); err != nil {
		t.Fatal(err)
	}
	if pin.L != gpio.Low || h.Level() != 0 {
		t.Error("halt must switch the heater off")
	}
}

func TestStepperPumps(t *testing.T) {
	record := &spitest.Record{}
	d, err := tmc5041.New(record)
	if err != nil {
		t.Fatal(err)
	}
	pl, err := New(Parts{Switches: switches{}, Supply: d.Pump(tmc5041.Motor1), Chamber2: d.Pump(tmc5041.Motor2)}, 0)
	if err != nil {
		t.Fatal(err)
	}
	if err := pl.Apply(process.Outputs{Pumps: process.Pumps{Supply: 10}}, 0); err != nil {
		t.Fatal(err)
	}
	// GCONF, then IHOLD_IRUN, VMAX and RAMPMODE of each motor.
	if len(record.Ops) != 7 {
		t.Fatalf("%d operations", len(record.Ops))
	}
	if w := record.Ops[2].W; w[0] != 0x27|0x80 {
		t.Errorf("expected a VMAX write, got %#v", w)
	}
	if w := record.Ops[5].W; w[0] != 0x47|0x80 {
		t.Errorf("expected a VMAX write, got %#v", w)
	}
}
