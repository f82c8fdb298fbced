// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// sht4x is a package for interfacing with the Sensirion SHT-40, SHT-41, and
// SHT-45 sensors.
//
// The bioreactor uses one to measure the incubator air. Besides the blocking
// Sense(), Update() splits a measurement over two calls so the control loop
// never sleeps: the first call starts a conversion, a later one collects it.
//
// # Datasheet
//
// https://sensirion.com/media/documents/33FD6951/67EB9032/HT_DS_Datasheet_SHT4x_5.pdf
//
// All devices have a resolution of 0.01 °C and specified range –40…+125 °C .
package sht4x

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/GermanBionicSystems/bioreactor/common"
	"periph.io/x/conn/v3"
	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/physic"
)

// Repeatability selects the measurement command. Higher repeatability takes
// longer and draws more current.
type Repeatability int

const (
	High Repeatability = iota
	Medium
	Low
)

// DefaultAddress is the I2C address of the SHT-40-AD1B.
const DefaultAddress i2c.Addr = 0x44

const (
	cmdSoftReset        byte = 0x94
	cmdReadSerialNumber byte = 0x89

	countDivisor = float64(65535)

	minTemperature = -40*physic.Kelvin + physic.ZeroCelsius
	maxTemperature = 125*physic.Kelvin + physic.ZeroCelsius

	minRH = 0 * physic.PercentRH
	maxRH = 100 * physic.PercentRH
)

var measurements = map[Repeatability]struct {
	cmd  byte
	wait time.Duration
}{
	High:   {cmd: 0xfd, wait: 10 * time.Millisecond},
	Medium: {cmd: 0xf6, wait: 5 * time.Millisecond},
	Low:    {cmd: 0xe0, wait: 2 * time.Millisecond},
}

// Opts holds the optional settings of a Dev.
type Opts struct {
	Repeatability Repeatability
}

// Dev represents a SHT-4X series temperature/humidity sensor
type Dev struct {
	d    *i2c.Dev
	mu   sync.Mutex
	cmd  byte
	wait time.Duration

	pending   bool
	startedAt common.Millis
	env       physic.Env
	valid     bool
	err       error
}

// New returns a Dev at addr on bus. opts may be nil for high repeatability.
func New(bus i2c.Bus, addr i2c.Addr, opts *Opts) (*Dev, error) {
	if bus == nil {
		return nil, errors.New("sht4x: nil bus")
	}
	r := High
	if opts != nil {
		r = opts.Repeatability
	}
	m, ok := measurements[r]
	if !ok {
		return nil, errors.New("sht4x: invalid repeatability")
	}
	return &Dev{d: &i2c.Dev{Bus: bus, Addr: uint16(addr)}, cmd: m.cmd, wait: m.wait}, nil
}

// read collects a 6 byte answer: 2 bytes of data, a CRC, 2 bytes of data,
// and a CRC.
func (dev *Dev) read(r []byte) error {
	if err := dev.d.Tx(nil, r); err != nil {
		return fmt.Errorf("sht4x: error reading %w", err)
	}
	if common.CRC8(r[:2]) != r[2] {
		return errors.New("sht4x: bytes[:2] read crc error")
	}
	if common.CRC8(r[3:5]) != r[5] {
		return errors.New("sht4x: bytes[3:5] read crc error")
	}
	return nil
}

// convert the count to a temperature value.
func countToTemp(count uint16) physic.Temperature {
	// T=-45+175*(count/countDivisor)
	val := physic.Temperature(float64(physic.Kelvin)*(-45.0+175.0*(float64(count)/countDivisor))) + physic.ZeroCelsius
	if val < minTemperature {
		val = minTemperature
	} else if val > maxTemperature {
		val = maxTemperature
	}
	return val
}

func countToHumidity(count uint16) physic.RelativeHumidity {
	// RH=-6 + 125*(count/countDivisor)
	val := physic.RelativeHumidity((-6.0 + 125.0*(float64(count)/countDivisor)) * float64(physic.PercentRH))
	if val < minRH {
		val = minRH
	} else if val > maxRH {
		val = maxRH
	}
	return val
}

func decode(r []byte, e *physic.Env) {
	e.Temperature = countToTemp(uint16(r[0])<<8 | uint16(r[1]))
	e.Humidity = countToHumidity(uint16(r[3])<<8 | uint16(r[4]))
	e.Pressure = 0
}

// Precision returns the smallest change in readings the device can produce.
// Mirrors physic.SenseEnv.
func (dev *Dev) Precision(e *physic.Env) {
	e.Temperature = physic.Kelvin / 100
	e.Humidity = physic.PercentRH / 100
	e.Pressure = 0
}

// Halt implements conn.Resource. A pending conversion is forgotten.
func (dev *Dev) Halt() error {
	dev.mu.Lock()
	defer dev.mu.Unlock()
	dev.pending = false
	return nil
}

// Reset issues a soft-reset to the device
func (dev *Dev) Reset() error {
	dev.mu.Lock()
	defer dev.mu.Unlock()
	dev.pending = false
	err := dev.d.Tx([]byte{cmdSoftReset}, nil)
	if err != nil {
		err = fmt.Errorf("sht4x: error resetting %w", err)
	}
	time.Sleep(2 * time.Millisecond)
	return err
}

// Sense reads temperature and humidity from the device, sleeping during the
// conversion.
func (dev *Dev) Sense(e *physic.Env) error {
	dev.mu.Lock()
	defer dev.mu.Unlock()
	dev.pending = false
	if err := dev.d.Tx([]byte{dev.cmd}, nil); err != nil {
		return fmt.Errorf("sht4x: error transmitting %w", err)
	}
	time.Sleep(dev.wait)
	r := make([]byte, 6)
	if err := dev.read(r); err != nil {
		e.Temperature = minTemperature
		e.Humidity = minRH
		return fmt.Errorf("sht4x: error reading device %w", err)
	}
	decode(r, e)
	return nil
}

// Update starts a conversion, or collects the one started by an earlier call
// once its conversion time has elapsed. It never sleeps.
func (dev *Dev) Update(now common.Millis) {
	dev.mu.Lock()
	defer dev.mu.Unlock()
	if !dev.pending {
		if err := dev.d.Tx([]byte{dev.cmd}, nil); err != nil {
			dev.fail(fmt.Errorf("sht4x: error transmitting %w", err))
			return
		}
		dev.pending = true
		dev.startedAt = now
		return
	}
	if now.Since(dev.startedAt) < common.MillisOf(dev.wait) {
		return
	}
	dev.pending = false
	r := make([]byte, 6)
	if err := dev.read(r); err != nil {
		dev.fail(err)
		return
	}
	decode(r, &dev.env)
	dev.valid = true
	dev.err = nil
}

func (dev *Dev) fail(err error) {
	dev.valid = false
	dev.err = err
}

// Temperature returns the last air temperature collected by Update in °C.
// ok is false when the last attempt failed.
func (dev *Dev) Temperature() (float64, bool) {
	dev.mu.Lock()
	defer dev.mu.Unlock()
	return dev.env.Temperature.Celsius(), dev.valid
}

// Humidity returns the last relative humidity collected by Update in %RH.
func (dev *Dev) Humidity() (float64, bool) {
	dev.mu.Lock()
	defer dev.mu.Unlock()
	return float64(dev.env.Humidity) / float64(physic.PercentRH), dev.valid
}

// Err returns why the last Update attempt failed, or nil.
func (dev *Dev) Err() error {
	dev.mu.Lock()
	defer dev.mu.Unlock()
	return dev.err
}

// SerialNumber returns the device serial number set at the factory.
func (dev *Dev) SerialNumber() (uint32, error) {
	dev.mu.Lock()
	defer dev.mu.Unlock()
	dev.pending = false
	if err := dev.d.Tx([]byte{cmdReadSerialNumber}, nil); err != nil {
		return 0, fmt.Errorf("sht4x: error transmitting %w", err)
	}
	time.Sleep(10 * time.Millisecond)
	r := make([]byte, 6)
	if err := dev.read(r); err != nil {
		return 0, err
	}
	return uint32(r[0])<<24 | uint32(r[1])<<16 | uint32(r[3])<<8 | uint32(r[4]), nil
}

// String returns a string representation of the device.
func (dev *Dev) String() string {
	return "sht4x"
}

var _ conn.Resource = &Dev{}
