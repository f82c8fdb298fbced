// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package process

import (
	"errors"
	"fmt"
	"strings"

	"github.com/GermanBionicSystems/bioreactor/common"
)

// Phase is a step of the culture process.
type Phase int

const (
	Idle Phase = iota
	Supply
	Prepare
	Run
	CellReturn
	CleaningSupply
	CleaningCirculation
	CleaningReturn
	RinsingSupply
	RinsingCirculation
	RinsingReturn
	ReduceOverflow
	Sampling
	Test
	OpenValves
	HeatingOnly
	phaseCount
)

// ErrUnknownPhase is returned for a phase index or name that does not exist.
var ErrUnknownPhase = errors.New("process: unknown phase")

// Valid reports whether p is a known phase.
func (p Phase) Valid() bool {
	return p >= 0 && p < phaseCount
}

func (p Phase) String() string {
	if !p.Valid() {
		return fmt.Sprintf("Phase(%d)", int(p))
	}
	return Table[p].Names[0]
}

// ParsePhase returns the phase called name, case insensitive.
func ParsePhase(name string) (Phase, error) {
	name = strings.ToUpper(strings.TrimSpace(name))
	for p := range Table {
		for _, n := range Table[p].Names {
			if n == name {
				return Phase(p), nil
			}
		}
	}
	return Idle, fmt.Errorf("%w: %q", ErrUnknownPhase, name)
}

// Fans are the cooling and circulation fans.
type Fans struct {
	Heater, Circulation, Right, Left, PCB, LowVolt, HighVolt bool
}

// Valves are the liquid line valves.
type Valves struct {
	Supply, Circulation, Return bool
}

// Pumps are the peristaltic pump speeds in ml/min, negative to reverse.
type Pumps struct {
	Supply, Circulation, Chamber1, Chamber2 float64
}

// Setup is the fixed actuator configuration of a phase and what follows it.
type Setup struct {
	// Names are the operator names of the phase; the first one is canonical.
	Names  []string
	Fans   Fans
	Valves Valves
	Pumps  Pumps
	// Chamber enables the gas regulation.
	Chamber bool
	// Heating enables the temperature regulation.
	Heating bool
	// Next is entered once Duration has elapsed. A zero Duration waits for a
	// command.
	Next     Phase
	Duration common.Millis
}

// MaxPumpSpeed is the highest flow of the peristaltic pumps in ml/min.
const MaxPumpSpeed = 100.0

const minute common.Millis = 60 * 1000

var (
	cabinet  = Fans{PCB: true, LowVolt: true, HighVolt: true}
	pumping  = Fans{Right: true, Left: true, PCB: true, LowVolt: true, HighVolt: true}
	culture  = Fans{Heater: true, Circulation: true, Right: true, Left: true, PCB: true, LowVolt: true, HighVolt: true}
	heatOnly = Fans{Heater: true, Circulation: true, PCB: true, LowVolt: true, HighVolt: true}
)

// Table describes every phase, indexed by Phase.
var Table = [phaseCount]Setup{
	Idle: {
		Names: []string{"IDLE"},
	},
	Supply: {
		Names:    []string{"APPROV", "SUPPLY"},
		Fans:     pumping,
		Valves:   Valves{Supply: true},
		Pumps:    Pumps{Supply: MaxPumpSpeed},
		Next:     Prepare,
		Duration: 5 * minute,
	},
	Prepare: {
		Names:   []string{"HEAT", "PREPARE"},
		Fans:    culture,
		Valves:  Valves{Circulation: true},
		Pumps:   Pumps{Circulation: MaxPumpSpeed / 2},
		Chamber: true,
		Heating: true,
	},
	Run: {
		Names:   []string{"CULTURE", "RUN"},
		Fans:    culture,
		Valves:  Valves{Circulation: true},
		Pumps:   Pumps{Circulation: MaxPumpSpeed / 2, Chamber1: MaxPumpSpeed / 10, Chamber2: MaxPumpSpeed / 10},
		Chamber: true,
		Heating: true,
	},
	CellReturn: {
		Names:    []string{"RETURN", "CELL-RETURN"},
		Fans:     pumping,
		Valves:   Valves{Return: true},
		Pumps:    Pumps{Supply: -MaxPumpSpeed},
		Next:     Idle,
		Duration: 10 * minute,
	},
	CleaningSupply: {
		Names:    []string{"CLEANING", "CLEANING-SUPPLY"},
		Fans:     pumping,
		Valves:   Valves{Supply: true},
		Pumps:    Pumps{Supply: MaxPumpSpeed},
		Next:     CleaningCirculation,
		Duration: 5 * minute,
	},
	CleaningCirculation: {
		Names:    []string{"CLEANING-CIRCUL", "CLEANING-CIRCULATION"},
		Fans:     pumping,
		Valves:   Valves{Circulation: true},
		Pumps:    Pumps{Circulation: MaxPumpSpeed, Chamber1: MaxPumpSpeed / 2, Chamber2: MaxPumpSpeed / 2},
		Next:     CleaningReturn,
		Duration: 15 * minute,
	},
	CleaningReturn: {
		Names:    []string{"CLEANING-RETURN"},
		Fans:     pumping,
		Valves:   Valves{Return: true},
		Pumps:    Pumps{Supply: -MaxPumpSpeed},
		Next:     RinsingSupply,
		Duration: 5 * minute,
	},
	RinsingSupply: {
		Names:    []string{"RINSING", "RINSING-SUPPLY"},
		Fans:     pumping,
		Valves:   Valves{Supply: true},
		Pumps:    Pumps{Supply: MaxPumpSpeed},
		Next:     RinsingCirculation,
		Duration: 5 * minute,
	},
	RinsingCirculation: {
		Names:    []string{"RINSING-CIRCUL", "RINSING-CIRCULATION"},
		Fans:     pumping,
		Valves:   Valves{Circulation: true},
		Pumps:    Pumps{Circulation: MaxPumpSpeed, Chamber1: MaxPumpSpeed / 2, Chamber2: MaxPumpSpeed / 2},
		Next:     RinsingReturn,
		Duration: 10 * minute,
	},
	RinsingReturn: {
		Names:    []string{"RINSING-RETURN"},
		Fans:     pumping,
		Valves:   Valves{Return: true},
		Pumps:    Pumps{Supply: -MaxPumpSpeed},
		Next:     Idle,
		Duration: 5 * minute,
	},
	ReduceOverflow: {
		Names:    []string{"REDUCE-OVERFLOW"},
		Fans:     culture,
		Valves:   Valves{Return: true},
		Pumps:    Pumps{Supply: -MaxPumpSpeed / 2},
		Chamber:  true,
		Heating:  true,
		Next:     Run,
		Duration: 3 * minute,
	},
	Sampling: {
		Names:    []string{"SAMPLING"},
		Fans:     culture,
		Valves:   Valves{Circulation: true},
		Pumps:    Pumps{Circulation: MaxPumpSpeed / 4},
		Chamber:  true,
		Heating:  true,
		Next:     Run,
		Duration: 3 * minute,
	},
	Test: {
		Names:    []string{"TEST"},
		Fans:     Fans{Heater: true, PCB: true, LowVolt: true, HighVolt: true},
		Pumps:    Pumps{Supply: MaxPumpSpeed / 8},
		Heating:  true,
		Next:     Idle,
		Duration: 15 * minute,
	},
	OpenValves: {
		Names:    []string{"OPEN-VALVES"},
		Fans:     cabinet,
		Valves:   Valves{Supply: true, Circulation: true, Return: true},
		Next:     Idle,
		Duration: 3 * minute,
	},
	HeatingOnly: {
		Names:    []string{"HEATING", "HEATING-ONLY"},
		Fans:     heatOnly,
		Heating:  true,
		Next:     Idle,
		Duration: 15 * minute,
	},
}
