// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package door reads the limit switch of the incubator door.
//
// The switch pulls its line low while the door is closed; the line is pulled
// up otherwise.
package door

import (
	"fmt"
	"io"

	"periph.io/x/conn/v3/gpio"
)

// State is the position of the door.
type State int

const (
	Closed State = 0
	Open   State = 1
)

func (s State) String() string {
	if s == Closed {
		return "closed"
	}
	return "open"
}

// Line is a raw input line returning 0 or 1.
type Line interface {
	Value() (int, error)
}

// Switch is a door limit switch.
type Switch struct {
	l      Line
	closer io.Closer
}

// New returns a Switch reading l.
func New(l Line) *Switch {
	s := &Switch{l: l}
	if c, ok := l.(io.Closer); ok {
		s.closer = c
	}
	return s
}

// FromPin returns a Switch on a periph GPIO pin, enabling its pull-up.
func FromPin(p gpio.PinIn) (*Switch, error) {
	if err := p.In(gpio.PullUp, gpio.NoEdge); err != nil {
		return nil, fmt.Errorf("door: %s: %w", p, err)
	}
	return New(pinLine{p}), nil
}

// State returns the door position.
func (s *Switch) State() (State, error) {
	v, err := s.l.Value()
	if err != nil {
		return Open, fmt.Errorf("door: %w", err)
	}
	if v == 0 {
		return Closed, nil
	}
	return Open, nil
}

// IsOpen reports whether the door is open. A read failure counts as open.
func (s *Switch) IsOpen() (bool, error) {
	st, err := s.State()
	return st == Open, err
}

// Close releases the line.
func (s *Switch) Close() error {
	if s.closer == nil {
		return nil
	}
	return s.closer.Close()
}

func (s *Switch) String() string {
	return "door"
}

type pinLine struct {
	p gpio.PinIn
}

func (l pinLine) Value() (int, error) {
	if l.p.Read() == gpio.Low {
		return 0, nil
	}
	return 1, nil
}
