// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package command parses the line oriented operator protocol.
//
// Each line is KEY=VALUE:
//
//	STATE=CULTURE          change phase
//	TEMP=37.5              culture temperature in °C
//	PH=7.1                 pH setpoint
//	DO=95                  dissolved oxygen setpoint in %
//	CO2=50000              chamber CO2 in ppm
//	O2=85                  chamber O2 in %
//	PUMP-SPEED=1,2,3,4     pump speeds in ml/min
//	CALIB-PH=4|7|10        single point pH calibration
//
// Keys are case insensitive; surrounding blanks are ignored.
package command

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Kind is the action requested by a line.
type Kind int

const (
	Phase Kind = iota
	Temperature
	PH
	DO
	CO2
	O2
	PumpSpeed
	CalibratePH
)

var kindNames = map[Kind]string{
	Phase:       "STATE",
	Temperature: "TEMP",
	PH:          "PH",
	DO:          "DO",
	CO2:         "CO2",
	O2:          "O2",
	PumpSpeed:   "PUMP-SPEED",
	CalibratePH: "CALIB-PH",
}

func (k Kind) String() string {
	if n, ok := kindNames[k]; ok {
		return n
	}
	return "Kind(" + strconv.Itoa(int(k)) + ")"
}

// Command is one parsed line.
type Command struct {
	Kind Kind
	// Name is the phase name of a Phase command, upper case.
	Name string
	// Value is the setpoint, or the buffer pH for CalibratePH.
	Value float64
	// Speeds holds the four pump speeds of a PumpSpeed command.
	Speeds [4]float64
}

func (c Command) String() string {
	switch c.Kind {
	case Phase:
		return "STATE=" + c.Name
	case PumpSpeed:
		return fmt.Sprintf("PUMP-SPEED=%g,%g,%g,%g", c.Speeds[0], c.Speeds[1], c.Speeds[2], c.Speeds[3])
	default:
		return fmt.Sprintf("%s=%g", c.Kind, c.Value)
	}
}

// ErrUnknown is returned for a line that is not a command.
var ErrUnknown = errors.New("command: unknown command")

// ErrEmpty is returned for a blank line.
var ErrEmpty = errors.New("command: empty line")

var setpoints = map[string]Kind{
	"TEMP": Temperature,
	"PH":   PH,
	"DO":   DO,
	"CO2":  CO2,
	"O2":   O2,
}

// Parse decodes line.
func Parse(line string) (Command, error) {
	line = strings.TrimSpace(line)
	if line == "" {
		return Command{}, ErrEmpty
	}
	key, value, ok := strings.Cut(line, "=")
	if !ok {
		return Command{}, fmt.Errorf("%w: %q", ErrUnknown, line)
	}
	key = strings.ToUpper(strings.TrimSpace(key))
	value = strings.TrimSpace(value)

	if k, ok := setpoints[key]; ok {
		v, err := parseFloat(value)
		if err != nil {
			return Command{}, fmt.Errorf("command: %s: %w", key, err)
		}
		return Command{Kind: k, Value: v}, nil
	}
	switch key {
	case "STATE":
		if value == "" {
			return Command{}, errors.New("command: STATE: missing phase name")
		}
		return Command{Kind: Phase, Name: strings.ToUpper(value)}, nil
	case "PUMP-SPEED":
		fields := strings.Split(value, ",")
		if len(fields) != 4 {
			return Command{}, fmt.Errorf("command: PUMP-SPEED: want 4 speeds, got %d", len(fields))
		}
		c := Command{Kind: PumpSpeed}
		for i, f := range fields {
			v, err := parseFloat(strings.TrimSpace(f))
			if err != nil {
				return Command{}, fmt.Errorf("command: PUMP-SPEED: %w", err)
			}
			c.Speeds[i] = v
		}
		return c, nil
	case "CALIB-PH":
		switch value {
		case "4", "7", "10":
			v, _ := strconv.ParseFloat(value, 64)
			return Command{Kind: CalibratePH, Value: v}, nil
		}
		return Command{}, fmt.Errorf("command: CALIB-PH: unsupported buffer %q", value)
	}
	return Command{}, fmt.Errorf("%w: %q", ErrUnknown, line)
}

func parseFloat(s string) (float64, error) {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, err
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("invalid number %q", s)
	}
	return v, nil
}
