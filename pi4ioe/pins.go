// Copyright 2022 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package pi4ioe

import (
	"errors"
	"strconv"
	"time"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/pin"
)

// channel is one output. Input functions are refused since the expander is
// wired to loads only.
type channel struct {
	dev *Dev
	ch  uint8
}

func (c *channel) String() string {
	return c.Name()
}

func (c *channel) Halt() error {
	return c.Out(gpio.Low)
}

func (c *channel) Name() string {
	return c.dev.name + "_P" + strconv.Itoa(int(c.ch/8)) + "_" + strconv.Itoa(int(c.ch%8))
}

func (c *channel) Number() int {
	return int(c.ch)
}

func (c *channel) Function() string {
	return string(c.Func())
}

func (c *channel) Func() pin.Func {
	return gpio.OUT
}

func (c *channel) In(pull gpio.Pull, edge gpio.Edge) error {
	return errors.New("pi4ioe: channels are outputs only")
}

// Read returns the level last written.
func (c *channel) Read() gpio.Level {
	return gpio.Level(c.dev.Get(int(c.ch)))
}

func (c *channel) WaitForEdge(timeout time.Duration) bool {
	return false
}

func (c *channel) Pull() gpio.Pull {
	return gpio.PullNoChange
}

func (c *channel) DefaultPull() gpio.Pull {
	return gpio.PullNoChange
}

func (c *channel) Out(l gpio.Level) error {
	return c.dev.Set(int(c.ch), l == gpio.High)
}

func (c *channel) PWM(duty gpio.Duty, f physic.Frequency) error {
	return errors.New("pi4ioe: PWM is not supported")
}
