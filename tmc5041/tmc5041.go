// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package tmc5041 drives the Trinamic TMC5041 dual stepper motor controller
// over SPI.
//
// The bioreactor uses two of them to run four peristaltic pumps. Each motor is
// put in velocity mode and its speed is expressed in ml/min of the pump head;
// the sign selects the direction.
//
// # Datasheet
//
// https://www.analog.com/media/en/technical-documentation/data-sheets/TMC5041_datasheet_rev1.16.pdf
package tmc5041

import (
	"errors"
	"fmt"
	"math"
	"sync"

	"periph.io/x/conn/v3"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/spi"
)

const (
	regGCONF = 0x00
	writeBit = 0x80

	// RunningTorque is the IHOLD_IRUN value while a pump turns, half of the
	// power-on default.
	RunningTorque uint32 = 0x8f82

	rampClockwise        uint32 = 1
	rampCounterClockwise uint32 = 2
)

const (
	clockHz         = 13.3e6
	microSteps      = 256
	stepsPerTurn    = 360 / 1.8
	mlPerRevolution = 0.1388
)

// MlPerMinPerUnit is the flow in ml/min of one VMAX unit, datasheet p.52:
// v[Hz] = VMAX * (fCLK/2 / 2^23), divided by microsteps and full steps per
// revolution, times the pump displacement.
var MlPerMinPerUnit = clockHz / 2 / (1 << 23) / microSteps / stepsPerTurn * 60 * mlPerRevolution

// MaxVMAX is the largest value the 23 bit VMAX register accepts.
const MaxVMAX = 1<<23 - 512

// Motor selects one of the two outputs of a TMC5041.
type Motor int

const (
	Motor1 Motor = 0
	Motor2 Motor = 1
)

type motorRegs struct {
	iholdIrun byte
	vmax      byte
	rampMode  byte
	config    [7]byte
}

var regs = [2]motorRegs{
	{iholdIrun: 0x30, vmax: 0x27, rampMode: 0x20, config: [7]byte{0x6c, 0x30, 0x2c, 0x10, 0x32, 0x31, 0x26}},
	{iholdIrun: 0x50, vmax: 0x47, rampMode: 0x40, config: [7]byte{0x7c, 0x50, 0x4c, 0x18, 0x52, 0x51, 0x46}},
}

// configData is written to the registers listed in motorRegs.config: chopper
// configuration, IHOLD_IRUN, TZEROWAIT, PWMCONF, VHIGH, VCOOLTHRS and AMAX.
var configData = [7]uint32{0x010100c5, RunningTorque * 2, 0x00002710, 0x003501c8, 0x00061a80, 0x00007530, 0x00001388}

// Dev is a handle to one TMC5041.
type Dev struct {
	mu     sync.Mutex
	c      spi.Conn
	motors [2]Pump
}

// New connects to the TMC5041 on p and writes the global configuration.
// Motors are configured separately with Pump.Begin.
func New(p spi.Port) (*Dev, error) {
	if p == nil {
		return nil, errors.New("tmc5041: nil port")
	}
	// SPI mode 3, up to 4MHz with the internal clock.
	c, err := p.Connect(physic.MegaHertz, spi.Mode3, 8)
	if err != nil {
		return nil, fmt.Errorf("tmc5041: %w", err)
	}
	d := &Dev{c: c}
	for i := range d.motors {
		d.motors[i] = Pump{d: d, m: Motor(i)}
	}
	if err := d.Write(regGCONF, 0x08); err != nil {
		return nil, err
	}
	return d, nil
}

// Write sets register reg to v.
func (d *Dev) Write(reg byte, v uint32) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	w := []byte{reg | writeBit, byte(v >> 24), byte(v >> 16), byte(v >> 8), byte(v)}
	if err := d.c.Tx(w, nil); err != nil {
		return fmt.Errorf("tmc5041: write 0x%02x: %w", reg, err)
	}
	return nil
}

// Read returns the value of register reg. The TMC5041 answers a read with the
// datagram of the previous access, so the address is sent twice.
func (d *Dev) Read(reg byte) (uint32, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	w := []byte{reg &^ writeBit, 0, 0, 0, 0}
	r := make([]byte, len(w))
	for i := 0; i < 2; i++ {
		if err := d.c.Tx(w, r); err != nil {
			return 0, fmt.Errorf("tmc5041: read 0x%02x: %w", reg, err)
		}
	}
	return uint32(r[1])<<24 | uint32(r[2])<<16 | uint32(r[3])<<8 | uint32(r[4]), nil
}

// Pump returns the handle of motor m.
func (d *Dev) Pump(m Motor) *Pump {
	return &d.motors[m&1]
}

// Halt implements conn.Resource. Both motors are stopped.
func (d *Dev) Halt() error {
	err1 := d.motors[0].Stop()
	err2 := d.motors[1].Stop()
	return errors.Join(err1, err2)
}

func (d *Dev) String() string {
	return "tmc5041"
}

// Pump is one motor output of a TMC5041 driving a peristaltic pump.
type Pump struct {
	d     *Dev
	m     Motor
	speed float64
}

// Begin writes the velocity mode configuration of the motor.
func (p *Pump) Begin() error {
	r := &regs[p.m]
	for i, reg := range r.config {
		if err := p.d.Write(reg, configData[i]); err != nil {
			return err
		}
	}
	return nil
}

// SetSpeed runs the pump at mlPerMin. Negative values turn clockwise, 0
// removes the run current.
func (p *Pump) SetSpeed(mlPerMin float64) error {
	if math.IsNaN(mlPerMin) || math.IsInf(mlPerMin, 0) {
		return errors.New("tmc5041: invalid speed")
	}
	r := &regs[p.m]
	torque := RunningTorque
	if mlPerMin == 0 {
		torque = 0
	}
	mode := rampCounterClockwise
	if mlPerMin < 0 {
		mode = rampClockwise
	}
	if err := p.d.Write(r.iholdIrun, torque); err != nil {
		return err
	}
	if err := p.d.Write(r.vmax, VMAX(mlPerMin)); err != nil {
		return err
	}
	if err := p.d.Write(r.rampMode, mode); err != nil {
		return err
	}
	p.speed = mlPerMin
	return nil
}

// Stop sets the speed to 0.
func (p *Pump) Stop() error {
	return p.SetSpeed(0)
}

// Speed returns the last speed successfully written.
func (p *Pump) Speed() float64 {
	return p.speed
}

func (p *Pump) String() string {
	return fmt.Sprintf("tmc5041-motor%d", int(p.m)+1)
}

// VMAX converts a flow in ml/min to the VMAX register value, ignoring the
// sign.
func VMAX(mlPerMin float64) uint32 {
	v := math.Round(math.Abs(mlPerMin) / MlPerMinPerUnit)
	if v > MaxVMAX {
		return MaxVMAX
	}
	return uint32(v)
}

var _ conn.Resource = &Dev{}
