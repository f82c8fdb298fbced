// Copyright 2022 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package pi4ioe provides an interface to the Diodes PI4IOE5V6524 24-bit I²C
// I/O expander wired as 24 push-pull outputs. On the bioreactor carrier board
// channels 0-19 switch eFuses and 20-23 drive debug LEDs.
//
// The three output ports are written together with the register auto
// increment, so one Set() is a single 4 byte bus write.
//
// # Datasheet
//
// https://www.diodes.com/assets/Datasheets/PI4IOE5V6524.pdf
package pi4ioe

import (
	"fmt"
	"strconv"
	"sync"

	"periph.io/x/conn/v3"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/conn/v3/i2c"
)

// DefaultAddress is the 7-bit address with ADDR tied low.
const DefaultAddress uint16 = 0x23

// Outputs is the number of channels.
const Outputs = 24

const (
	regInput    uint8 = 0x00
	regOutput   uint8 = 0x04
	regPolarity uint8 = 0x08
	regConfig   uint8 = 0x0c

	ports = 3
)

// Dev is a PI4IOE5V6524 with every channel set as output and low.
type Dev struct {
	mu     sync.Mutex
	name   string
	output bank

	Pins []gpio.PinIO // Pins is indexed by channel.
}

// New configures every channel as a low output and registers the channels
// as gpio pins named PI4IOE5V6524_<addr>_P<port>_<bit>.
func New(bus i2c.Bus, addr uint16) (*Dev, error) {
	d := &i2c.Dev{Bus: bus, Addr: addr}
	config := newBank(d, regConfig)
	if err := config.write([ports]byte{}, false); err != nil {
		return nil, fmt.Errorf("pi4ioe: error configuring outputs: %w", err)
	}
	dev := &Dev{
		name:   "PI4IOE5V6524_" + strconv.FormatInt(int64(addr), 16),
		output: newBank(d, regOutput),
	}
	if err := dev.output.write([ports]byte{}, false); err != nil {
		return nil, fmt.Errorf("pi4ioe: error clearing outputs: %w", err)
	}
	dev.Pins = make([]gpio.PinIO, Outputs)
	for ch := range dev.Pins {
		p := &channel{dev: dev, ch: uint8(ch)}
		dev.Pins[ch] = p
		// Ignore registration failure.
		_ = gpioreg.Register(p)
	}
	return dev, nil
}

// Set drives one channel. Writing the state a channel already has is
// omitted.
func (dev *Dev) Set(ch int, on bool) error {
	if ch < 0 || ch >= Outputs {
		return fmt.Errorf("pi4ioe: channel %d out of range", ch)
	}
	dev.mu.Lock()
	defer dev.mu.Unlock()
	v := dev.output.cache
	if on {
		v[ch/8] |= 1 << (ch % 8)
	} else {
		v[ch/8] &^= 1 << (ch % 8)
	}
	return dev.output.write(v, true)
}

// Get returns the last state written to a channel.
func (dev *Dev) Get(ch int) bool {
	if ch < 0 || ch >= Outputs {
		return false
	}
	dev.mu.Lock()
	defer dev.mu.Unlock()
	return dev.output.cache[ch/8]&(1<<(ch%8)) != 0
}

func (dev *Dev) String() string {
	return dev.name
}

// Halt switches every channel off.
func (dev *Dev) Halt() error {
	dev.mu.Lock()
	defer dev.mu.Unlock()
	return dev.output.write([ports]byte{}, true)
}

// Close removes any registration to the device.
func (dev *Dev) Close() error {
	for _, p := range dev.Pins {
		if err := gpioreg.Unregister(p.Name()); err != nil {
			return err
		}
	}
	return nil
}

var _ conn.Resource = &Dev{}
