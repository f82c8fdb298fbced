// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package statusled drives the front panel LED controller, a small
// microcontroller listening on I2C that takes a single state byte.
package statusled

import (
	"errors"
	"fmt"

	"github.com/GermanBionicSystems/bioreactor/common"
	"periph.io/x/conn/v3/i2c"
)

// DefaultAddress is the I2C address of the LED controller.
const DefaultAddress i2c.Addr = 0x10

// DefaultRefresh is how often the state is sent again when it does not
// change, so that a rebooted controller catches up.
const DefaultRefresh common.Millis = 1000

// State is the pattern shown by the LED.
type State byte

const (
	Idle     State = 0
	DoorOpen State = 1
	Error    State = 2
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case DoorOpen:
		return "door-open"
	case Error:
		return "error"
	default:
		return fmt.Sprintf("State(%d)", byte(s))
	}
}

// Dev is the LED controller.
type Dev struct {
	d       i2c.Dev
	refresh common.Millis

	sent   bool
	last   State
	sentAt common.Millis
}

// New returns a Dev at addr on bus. refresh 0 selects DefaultRefresh.
func New(bus i2c.Bus, addr i2c.Addr, refresh common.Millis) (*Dev, error) {
	if bus == nil {
		return nil, errors.New("statusled: nil bus")
	}
	if refresh == 0 {
		refresh = DefaultRefresh
	}
	return &Dev{d: i2c.Dev{Bus: bus, Addr: uint16(addr)}, refresh: refresh}, nil
}

// Send writes s to the controller immediately.
func (d *Dev) Send(s State) error {
	if err := d.d.Tx([]byte{byte(s)}, nil); err != nil {
		return fmt.Errorf("statusled: %w", err)
	}
	return nil
}

// Update sends s when it differs from the last state sent or when the refresh
// period has elapsed. A failed write is retried on the next call.
func (d *Dev) Update(s State, now common.Millis) error {
	if d.sent && s == d.last && now.Since(d.sentAt) <= d.refresh {
		return nil
	}
	if err := d.Send(s); err != nil {
		d.sent = false
		return err
	}
	d.sent = true
	d.last = s
	d.sentAt = now
	return nil
}

// Halt implements conn.Resource.
func (d *Dev) Halt() error {
	return nil
}

func (d *Dev) String() string {
	return "statusled"
}
