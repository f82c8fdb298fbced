// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package visiferm polls a Hamilton VisiFerm DO dissolved oxygen probe over
// Modbus RTU.
//
// Each cycle reads the oxygen block (PMC1) and then the temperature block
// (PMC6), one request at a time. Update() never waits for the line.
//
// # Datasheet
//
// https://www.hamiltoncompany.com/process-analytics/sensors/dissolved-oxygen-sensors/visiferm-do
package visiferm

import (
	"encoding/binary"
	"errors"
	"math"
	"strconv"

	"github.com/GermanBionicSystems/bioreactor/common"
	"github.com/GermanBionicSystems/bioreactor/rtu"
	"go.bug.st/serial"
)

const (
	// DefaultAddress is the factory Modbus address.
	DefaultAddress byte = 1
	// BaudRate is the factory line speed, 8N2.
	BaudRate = 19200

	// RegOxygen is the first register of the PMC1 (dissolved oxygen) block.
	RegOxygen uint16 = 2090
	// RegTemperature is the first register of the PMC6 (temperature) block.
	RegTemperature uint16 = 2410

	blockRegisters = 10
	blockBytes     = 2 * blockRegisters

	readInterval    common.Millis = 500
	responseTimeout common.Millis = 200
)

// Status is the outcome of the last exchange with the probe.
type Status int

const (
	StatusInitialized Status = iota
	StatusOK
	StatusWaitingResponse
	StatusTimeout
	StatusCRCError
	StatusBadFrame
	StatusSensorStatusError
	StatusPortError
)

func (s Status) String() string {
	switch s {
	case StatusInitialized:
		return "initialized"
	case StatusOK:
		return "ok"
	case StatusWaitingResponse:
		return "waiting response"
	case StatusTimeout:
		return "timeout"
	case StatusCRCError:
		return "crc error"
	case StatusBadFrame:
		return "bad frame"
	case StatusSensorStatusError:
		return "sensor status error"
	case StatusPortError:
		return "port error"
	}
	return "Status(" + strconv.Itoa(int(s)) + ")"
}

// Healthy reports whether the last cycle went through.
func (s Status) Healthy() bool {
	return s == StatusOK || s == StatusWaitingResponse
}

// Phase is the position in the read cycle.
type Phase int

const (
	Idle Phase = iota
	WaitOxygen
	WaitTemperature
)

func (p Phase) String() string {
	switch p {
	case Idle:
		return "idle"
	case WaitOxygen:
		return "wait oxygen"
	case WaitTemperature:
		return "wait temperature"
	}
	return "Phase(" + strconv.Itoa(int(p)) + ")"
}

var errSensorStatus = errors.New("visiferm: sensor reports a fault")

// Dev is a VisiFerm probe on its own RS485 line.
type Dev struct {
	link *rtu.Link
	addr byte

	phase       Phase
	status      Status
	oxygen      float64
	temperature float64
	lastRead    common.Millis
	cycleStart  common.Millis
	seen        bool
	started     bool
}

// New returns a Dev polling the probe at addr over port.
func New(port rtu.Port, addr byte) (*Dev, error) {
	if port == nil {
		return nil, errors.New("visiferm: nil port")
	}
	return &Dev{
		link:        rtu.NewLink(port, responseTimeout),
		addr:        addr,
		oxygen:      math.NaN(),
		temperature: math.NaN(),
	}, nil
}

// Open opens the serial adapter name with the probe's line settings.
func Open(name string, addr byte) (*Dev, serial.Port, error) {
	p, err := rtu.Open(name, BaudRate)
	if err != nil {
		return nil, nil, err
	}
	d, err := New(p, addr)
	if err != nil {
		_ = p.Close()
		return nil, nil, err
	}
	return d, p, nil
}

// Update advances the read cycle and returns the resulting status.
func (d *Dev) Update(now common.Millis) Status {
	if d.phase == Idle {
		if d.started && now.Since(d.cycleStart) < readInterval {
			return d.status
		}
		d.started = true
		d.cycleStart = now
		if d.send(RegOxygen, WaitOxygen, now) {
			d.status = StatusWaitingResponse
		}
		return d.status
	}

	frame, done, err := d.link.Poll(now)
	if !done {
		return d.status
	}
	if err != nil {
		d.fail(err)
		return d.status
	}
	data, err := rtu.ParseReadResponse(frame, d.addr, blockBytes)
	if err != nil {
		d.fail(err)
		return d.status
	}
	v, err := decodeBlock(data)
	if err != nil {
		d.fail(err)
		return d.status
	}
	d.status = StatusOK
	d.lastRead = now
	d.seen = true
	if d.phase == WaitOxygen {
		d.oxygen = v
		d.send(RegTemperature, WaitTemperature, now)
	} else {
		d.temperature = v
		d.phase = Idle
	}
	return d.status
}

func (d *Dev) send(reg uint16, next Phase, now common.Millis) bool {
	if err := d.link.Send(rtu.ReadHoldingRegisters(d.addr, reg, blockRegisters), now); err != nil {
		d.phase = Idle
		d.status = StatusPortError
		return false
	}
	d.phase = next
	return true
}

// fail aborts the cycle. Cached values are kept.
func (d *Dev) fail(err error) {
	d.link.Abort()
	d.phase = Idle
	switch {
	case errors.Is(err, rtu.ErrTimeout):
		d.status = StatusTimeout
	case errors.Is(err, rtu.ErrCRC):
		d.status = StatusCRCError
	case errors.Is(err, rtu.ErrBadFrame), errors.Is(err, rtu.ErrException):
		d.status = StatusBadFrame
	case errors.Is(err, errSensorStatus):
		d.status = StatusSensorStatusError
	default:
		d.status = StatusPortError
	}
}

// decodeBlock extracts the measurement of a PMC block: registers 3-4 hold
// the value, registers 5-6 the probe status which must be clear.
func decodeBlock(data []byte) (float64, error) {
	if binary.BigEndian.Uint32(data[8:12]) != 0 {
		return 0, errSensorStatus
	}
	return float64(rtu.Float32LSWFirst(data[4:8])), nil
}

// Oxygen returns the last dissolved oxygen reading in %-saturation, or NaN.
func (d *Dev) Oxygen() float64 {
	return d.oxygen
}

// Temperature returns the last probe temperature in °C, or NaN.
func (d *Dev) Temperature() float64 {
	return d.temperature
}

// LastRead returns the time of the last accepted block and whether there was
// one.
func (d *Dev) LastRead() (common.Millis, bool) {
	return d.lastRead, d.seen
}

// Status returns the outcome of the last exchange.
func (d *Dev) Status() Status {
	return d.status
}

// Phase returns the position in the read cycle.
func (d *Dev) Phase() Phase {
	return d.phase
}

func (d *Dev) String() string {
	return "visiferm"
}
