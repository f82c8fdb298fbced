// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package gmp251 polls a Vaisala GMP251 CO2 probe over Modbus RTU.
//
// A cycle reads the CO2 concentration and then the device status register.
// The probe refreshes its measurement every two seconds, so does the cycle.
//
// # Datasheet
//
// https://docs.vaisala.com/v/u/M211897EN-F/en-US
package gmp251

import (
	"encoding/binary"
	"errors"
	"strconv"

	"github.com/GermanBionicSystems/bioreactor/common"
	"github.com/GermanBionicSystems/bioreactor/rtu"
	"go.bug.st/serial"
)

const (
	// DefaultAddress is the factory Modbus address.
	DefaultAddress byte = 240
	// BaudRate is the factory line speed, 8N2.
	BaudRate = 19200

	// RegCO2 holds the CO2 concentration in ppm as a 32 bit float.
	RegCO2 uint16 = 1
	// RegDeviceStatus is 0 when the probe is fine.
	RegDeviceStatus uint16 = 513

	readInterval    common.Millis = 2000
	responseTimeout common.Millis = 200
	commLoss        common.Millis = 15000
)

// Status is the outcome of the last exchange with the probe.
type Status int

const (
	StatusNotInitialised Status = iota
	StatusInitialized
	StatusOK
	StatusTimeout
	StatusCRCError
	StatusBadFrame
	StatusDeviceError
	StatusPortError
)

func (s Status) String() string {
	switch s {
	case StatusNotInitialised:
		return "not initialised"
	case StatusInitialized:
		return "initialized"
	case StatusOK:
		return "ok"
	case StatusTimeout:
		return "timeout"
	case StatusCRCError:
		return "crc error"
	case StatusBadFrame:
		return "bad frame"
	case StatusDeviceError:
		return "device error"
	case StatusPortError:
		return "port error"
	}
	return "Status(" + strconv.Itoa(int(s)) + ")"
}

type step int

const (
	idle step = iota
	waitCO2
	waitStatus
)

var errDevice = errors.New("gmp251: device reports an error")

// Dev is a GMP251 probe.
type Dev struct {
	link *rtu.Link
	addr byte

	step       step
	status     Status
	ppm        float64
	pending    float64
	lastRead   common.Millis
	cycleStart common.Millis
	seen       bool
	started    bool
}

// New returns a Dev polling the probe at addr over port.
func New(port rtu.Port, addr byte) (*Dev, error) {
	if port == nil {
		return nil, errors.New("gmp251: nil port")
	}
	return &Dev{
		link:   rtu.NewLink(port, responseTimeout),
		addr:   addr,
		status: StatusInitialized,
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

// Update advances the read cycle by one step.
func (d *Dev) Update(now common.Millis) {
	if d.seen && now.Since(d.lastRead) > commLoss {
		d.ppm = 0
	}
	if d.step == idle {
		if d.started && now.Since(d.cycleStart) < readInterval {
			return
		}
		d.started = true
		d.cycleStart = now
		d.send(RegCO2, 2, waitCO2, now)
		return
	}
	frame, done, err := d.link.Poll(now)
	if !done {
		return
	}
	if err != nil {
		d.fail(err)
		return
	}
	if d.step == waitCO2 {
		data, err := rtu.ParseReadResponse(frame, d.addr, 4)
		if err != nil {
			d.fail(err)
			return
		}
		d.pending = float64(rtu.Float32WordSwapped(data))
		d.send(RegDeviceStatus, 1, waitStatus, now)
		return
	}
	data, err := rtu.ParseReadResponse(frame, d.addr, 2)
	if err != nil {
		d.fail(err)
		return
	}
	if binary.BigEndian.Uint16(data) != 0 {
		d.fail(errDevice)
		return
	}
	d.ppm = d.pending
	d.lastRead = now
	d.seen = true
	d.status = StatusOK
	d.step = idle
}

func (d *Dev) send(reg, count uint16, next step, now common.Millis) {
	if err := d.link.Send(rtu.ReadHoldingRegisters(d.addr, reg, count), now); err != nil {
		d.step = idle
		d.status = StatusPortError
		return
	}
	d.step = next
}

func (d *Dev) fail(err error) {
	d.link.Abort()
	d.step = idle
	switch {
	case errors.Is(err, rtu.ErrTimeout):
		d.status = StatusTimeout
	case errors.Is(err, rtu.ErrCRC):
		d.status = StatusCRCError
	case errors.Is(err, rtu.ErrBadFrame), errors.Is(err, rtu.ErrException):
		d.status = StatusBadFrame
	case errors.Is(err, errDevice):
		d.status = StatusDeviceError
	default:
		d.status = StatusPortError
	}
}

// Value returns the last CO2 concentration in ppm. It decays to 0 once the
// probe has been silent for longer than the communication loss window.
func (d *Dev) Value() float64 {
	return d.ppm
}

// Status returns the outcome of the last exchange.
func (d *Dev) Status() Status {
	return d.status
}

// Healthy reports whether the probe can be trusted to gate CO2 dosing.
func (d *Dev) Healthy() bool {
	return d.status == StatusOK || d.status == StatusInitialized
}

func (d *Dev) String() string {
	return "gmp251"
}
