// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package process sequences the bioreactor through its phases.
//
// A Bioreactor owns every sensor engine, controller and actuator through the
// interfaces of Deps. Tick must be called in a loop from a single goroutine;
// each call advances every component by one bounded step. Operator commands
// are applied from the same goroutine, between ticks.
package process

import (
	"errors"
	"fmt"
	"log"
	"math"

	"github.com/GermanBionicSystems/bioreactor/chamber"
	"github.com/GermanBionicSystems/bioreactor/command"
	"github.com/GermanBionicSystems/bioreactor/common"
	"github.com/GermanBionicSystems/bioreactor/ezo"
	"github.com/GermanBionicSystems/bioreactor/gmp251"
	"github.com/GermanBionicSystems/bioreactor/statusled"
	"github.com/GermanBionicSystems/bioreactor/store"
	"github.com/GermanBionicSystems/bioreactor/tempctl"
	"github.com/GermanBionicSystems/bioreactor/visiferm"
)

// EZO is an ASCII protocol probe: pH or water temperature.
type EZO interface {
	Update(now common.Millis)
	Value() float64
	Status() ezo.Status
	Calibrate(p ezo.CalPoint) error
}

// DOProbe is the dissolved oxygen probe.
type DOProbe interface {
	Update(now common.Millis) visiferm.Status
	Oxygen() float64
	Temperature() float64
	Status() visiferm.Status
}

// CO2Probe is the chamber CO2 probe.
type CO2Probe interface {
	Update(now common.Millis)
	Value() float64
	Status() gmp251.Status
	Healthy() bool
}

// O2Gauge is the chamber O2 probe, a blocking read in %.
type O2Gauge interface {
	Read() (float64, error)
}

// AirProbe measures the incubator air temperature without blocking.
type AirProbe interface {
	Update(now common.Millis)
	Temperature() (float64, bool)
}

// PressureGauge measures the chamber pressure in Pa.
type PressureGauge interface {
	Pressure() (float64, error)
}

// Door reports the incubator door position.
type Door interface {
	IsOpen() (bool, error)
}

// LED is the front panel status light.
type LED interface {
	Update(s statusled.State, now common.Millis) error
}

// Actuators drives every output of the plant. It is called every tick and is
// responsible for the pacing of slow outputs.
type Actuators interface {
	Apply(o Outputs, now common.Millis) error
}

// Store persists setpoints and the phase.
type Store interface {
	Float(key string) (float64, error)
	PutFloat(key string, v float64) error
	Int(key string) (int, error)
	PutInt(key string, v int) error
}

// Watchdog is kicked once per tick.
type Watchdog interface {
	Kick() error
}

// Reporter publishes a periodic status snapshot.
type Reporter interface {
	Report(s Snapshot) error
}

// Deps are the collaborators of a Bioreactor. PH, Water, Actuators, Store
// and Clock are required; any other nil member is skipped.
type Deps struct {
	PH       EZO
	Water    EZO
	DO       DOProbe
	CO2      CO2Probe
	O2       O2Gauge
	Air      AirProbe
	Pressure PressureGauge
	Door     Door
	LED      LED

	Actuators Actuators
	Store     Store
	Watchdog  Watchdog
	Reporter  Reporter
	Clock     common.Clock
}

// Config holds the controller parameters and the loop timing.
type Config struct {
	Temperature tempctl.Config
	Chamber     chamber.Config

	TemperaturePeriod common.Millis
	ChamberPeriod     common.Millis
	ReportPeriod      common.Millis
	// Durations overrides the duration of timed phases.
	Durations map[Phase]common.Millis
}

// DefaultConfig returns the parameters of the prototype.
func DefaultConfig() Config {
	return Config{
		Temperature:       tempctl.DefaultConfig(),
		Chamber:           chamber.DefaultConfig(),
		TemperaturePeriod: 1000,
		ChamberPeriod:     5000,
		ReportPeriod:      5000,
	}
}

// Default setpoints used when the store has none.
const (
	DefaultPH = 7.0
	DefaultDO = 100.0
)

// Setpoints are the operator references.
type Setpoints struct {
	Temperature float64
	PH          float64
	DO          float64
	O2          float64
	CO2         float64
}

// Outputs is the state of every actuator for one tick.
type Outputs struct {
	Fans   Fans
	Valves Valves
	Pumps  Pumps
	// Gas valves of the chamber.
	O2, CO2, Air bool
	// Heater is the air heater duty cycle in percent.
	Heater float64
	Patch  bool
}

// Bioreactor is the process state machine. It is not safe for concurrent use.
type Bioreactor struct {
	d   Deps
	cfg Config

	temp *tempctl.Controller
	gas  *chamber.Controller

	phase      Phase
	phaseStart common.Millis
	setpoints  Setpoints

	o2       float64
	pressure float64
	out      Outputs
	doorOpen bool
	led      statusled.State

	tempStarted, gasStarted, reportStarted bool
	lastTemp, lastGas, lastReport          common.Millis
}

// New returns a Bioreactor in the persisted phase with the persisted
// setpoints.
func New(d Deps, cfg Config) (*Bioreactor, error) {
	if d.PH == nil || d.Water == nil || d.Actuators == nil || d.Store == nil || d.Clock == nil {
		return nil, errors.New("process: missing required dependency")
	}
	b := &Bioreactor{
		d:        d,
		cfg:      cfg,
		temp:     tempctl.New(cfg.Temperature, tempctl.DefaultReference),
		o2:       math.NaN(),
		pressure: math.NaN(),
	}
	var health chamber.Health
	if d.CO2 != nil {
		health = d.CO2
	}
	b.gas = chamber.New(cfg.Chamber, health)

	b.setpoints = Setpoints{
		Temperature: b.load(store.KeyTemperature, tempctl.DefaultReference),
		PH:          b.load(store.KeyPH, DefaultPH),
		DO:          b.load(store.KeyDO, DefaultDO),
		O2:          b.load(store.KeyO2, chamber.DefaultO2),
		CO2:         b.load(store.KeyCO2, chamber.DefaultCO2),
	}
	b.temp.SetReference(b.setpoints.Temperature)
	b.gas.SetReference(chamber.O2, b.setpoints.O2)
	b.gas.SetReference(chamber.CO2, b.setpoints.CO2)

	b.phase = Idle
	if v, err := d.Store.Int(store.KeyPhase); err == nil {
		if p := Phase(v); p.Valid() {
			b.phase = p
		} else {
			log.Printf("process: ignoring stored phase %d", v)
		}
	} else if !errors.Is(err, store.ErrNotFound) {
		log.Printf("process: %v", err)
	}
	b.phaseStart = d.Clock.Now()
	log.Printf("process: starting in %s", b.phase)
	return b, nil
}

func (b *Bioreactor) load(key string, def float64) float64 {
	v, err := b.d.Store.Float(key)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			log.Printf("process: %v", err)
		}
		return def
	}
	return v
}

// Tick advances every component by one step.
func (b *Bioreactor) Tick() {
	now := b.d.Clock.Now()
	if b.d.Watchdog != nil {
		if err := b.d.Watchdog.Kick(); err != nil {
			log.Printf("process: %v", err)
		}
	}

	b.d.PH.Update(now)
	b.d.Water.Update(now)
	if b.d.DO != nil {
		b.d.DO.Update(now)
	}
	if b.d.CO2 != nil {
		b.d.CO2.Update(now)
	}
	if b.d.Air != nil {
		b.d.Air.Update(now)
	}

	if due(&b.tempStarted, &b.lastTemp, b.cfg.TemperaturePeriod, now) {
		b.temp.Update(b.water(), b.air(), now)
	}

	setup := b.setup()
	b.gas.SetEnabled(setup.Chamber)
	if due(&b.gasStarted, &b.lastGas, b.cfg.ChamberPeriod, now) {
		b.readGas()
		b.gas.Update(b.o2, b.co2(), b.pressure, now)
	}

	b.dispatch(setup, now)
	b.transition(now)
	b.indicate(now)

	if b.d.Reporter != nil && due(&b.reportStarted, &b.lastReport, b.cfg.ReportPeriod, now) {
		if err := b.d.Reporter.Report(b.snapshot(now)); err != nil {
			log.Printf("process: report: %v", err)
		}
	}
}

// due reports whether period has elapsed since the last run, and records now
// as the last run when it has. The first call is always due.
func due(started *bool, last *common.Millis, period, now common.Millis) bool {
	if *started && now.Since(*last) < period {
		return false
	}
	*started = true
	*last = now
	return true
}

func (b *Bioreactor) setup() Setup {
	s := Table[b.phase]
	if d, ok := b.cfg.Durations[b.phase]; ok && s.Duration != 0 && d != 0 {
		s.Duration = d
	}
	return s
}

// water returns the culture temperature, NaN once the probe value has
// decayed.
func (b *Bioreactor) water() float64 {
	v := b.d.Water.Value()
	if v == 0 {
		return math.NaN()
	}
	return v
}

func (b *Bioreactor) air() float64 {
	if b.d.Air == nil {
		return math.NaN()
	}
	v, ok := b.d.Air.Temperature()
	if !ok {
		return math.NaN()
	}
	return v
}

func (b *Bioreactor) co2() float64 {
	if b.d.CO2 == nil {
		return 0
	}
	return b.d.CO2.Value()
}

// readGas refreshes the O2 and pressure readings. The O2 read blocks for one
// short bus transaction. Unknown values read as 0 and NaN.
func (b *Bioreactor) readGas() {
	b.o2 = 0
	if b.d.O2 != nil {
		if v, err := b.d.O2.Read(); err != nil {
			log.Printf("process: %v", err)
		} else {
			b.o2 = v
		}
	}
	b.pressure = b.cfg.Chamber.ChamberPressure
	if b.d.Pressure != nil {
		b.pressure = math.NaN()
		if v, err := b.d.Pressure.Pressure(); err != nil {
			log.Printf("process: %v", err)
		} else {
			b.pressure = v
		}
	}
}

func (b *Bioreactor) dispatch(s Setup, now common.Millis) {
	o := Outputs{
		Fans:   s.Fans,
		Valves: s.Valves,
		Pumps:  s.Pumps,
		O2:     b.gas.ValveOpen(chamber.O2, now),
		CO2:    b.gas.ValveOpen(chamber.CO2, now),
		Air:    b.gas.ValveOpen(chamber.Air, now),
	}
	if s.Heating {
		o.Heater = b.temp.HeaterPower()
		o.Patch = b.temp.PatchHeating()
	}
	b.out = o
	if err := b.d.Actuators.Apply(o, now); err != nil {
		log.Printf("process: actuators: %v", err)
	}
}

func (b *Bioreactor) transition(now common.Millis) {
	s := b.setup()
	if s.Duration == 0 || now.Since(b.phaseStart) < s.Duration {
		return
	}
	b.enter(s.Next, now)
}

func (b *Bioreactor) enter(p Phase, now common.Millis) {
	log.Printf("process: %s -> %s", b.phase, p)
	b.phase = p
	b.phaseStart = now
	if err := b.d.Store.PutInt(store.KeyPhase, int(p)); err != nil {
		log.Printf("process: %v", err)
	}
}

// indicate refreshes the door state and the status LED.
func (b *Bioreactor) indicate(now common.Millis) {
	if b.d.Door != nil {
		open, err := b.d.Door.IsOpen()
		if err != nil {
			log.Printf("process: %v", err)
		}
		b.doorOpen = open
	}
	switch {
	case b.doorOpen:
		b.led = statusled.DoorOpen
	case len(b.faults()) != 0:
		b.led = statusled.Error
	default:
		b.led = statusled.Idle
	}
	if b.d.LED != nil {
		if err := b.d.LED.Update(b.led, now); err != nil {
			log.Printf("process: %v", err)
		}
	}
}

// faults lists the probes whose last exchange failed.
func (b *Bioreactor) faults() []string {
	var f []string
	if !b.d.PH.Status().Healthy() {
		f = append(f, "ph: "+b.d.PH.Status().String())
	}
	if !b.d.Water.Status().Healthy() {
		f = append(f, "water: "+b.d.Water.Status().String())
	}
	if b.d.DO != nil && !b.d.DO.Status().Healthy() {
		f = append(f, "do: "+b.d.DO.Status().String())
	}
	if b.d.CO2 != nil && !b.d.CO2.Healthy() {
		f = append(f, "co2: "+b.d.CO2.Status().String())
	}
	return f
}

// Phase returns the current phase.
func (b *Bioreactor) Phase() Phase {
	return b.phase
}

// SetPhase enters p now, even if it is the current phase.
func (b *Bioreactor) SetPhase(p Phase) error {
	if !p.Valid() {
		return fmt.Errorf("%w: %d", ErrUnknownPhase, int(p))
	}
	b.enter(p, b.d.Clock.Now())
	return nil
}

// Setpoints returns the operator references.
func (b *Bioreactor) Setpoints() Setpoints {
	return b.setpoints
}

func (b *Bioreactor) persist(key string, v float64) {
	if err := b.d.Store.PutFloat(key, v); err != nil {
		log.Printf("process: %v", err)
	}
}

// Apply executes an operator command. Setpoints are persisted and take
// effect immediately. Calibration blocks for a few seconds.
func (b *Bioreactor) Apply(c command.Command) error {
	switch c.Kind {
	case command.Phase:
		p, err := ParsePhase(c.Name)
		if err != nil {
			return err
		}
		return b.SetPhase(p)
	case command.Temperature:
		b.setpoints.Temperature = c.Value
		b.temp.SetReference(c.Value)
		b.persist(store.KeyTemperature, c.Value)
	case command.PH:
		b.setpoints.PH = c.Value
		b.persist(store.KeyPH, c.Value)
	case command.DO:
		b.setpoints.DO = c.Value
		b.persist(store.KeyDO, c.Value)
	case command.O2:
		b.setpoints.O2 = c.Value
		b.gas.SetReference(chamber.O2, c.Value)
		b.persist(store.KeyO2, c.Value)
	case command.CO2:
		b.setpoints.CO2 = c.Value
		b.gas.SetReference(chamber.CO2, c.Value)
		b.persist(store.KeyCO2, c.Value)
	case command.PumpSpeed:
		// Pump speeds belong to the phase table.
		log.Printf("process: ignoring %s", c)
		return nil
	case command.CalibratePH:
		p, ok := phBuffers[c.Value]
		if !ok {
			return fmt.Errorf("process: no pH %g buffer", c.Value)
		}
		return b.Calibrate(TargetPH, p)
	default:
		return fmt.Errorf("process: unsupported command %s", c.Kind)
	}
	log.Printf("process: %s", c)
	return nil
}

var phBuffers = map[float64]ezo.CalPoint{4: ezo.CalLow, 7: ezo.CalMid, 10: ezo.CalHigh}

// Target selects the probe to calibrate.
type Target int

const (
	TargetPH Target = iota
	TargetWater
)

func (t Target) String() string {
	if t == TargetWater {
		return "water"
	}
	return "ph"
}

// Calibrate runs one calibration point on a probe. It blocks for about two
// seconds; the watchdog is kicked before and after.
func (b *Bioreactor) Calibrate(t Target, p ezo.CalPoint) error {
	probe := b.d.PH
	if t == TargetWater {
		probe = b.d.Water
	}
	b.kick()
	log.Printf("process: calibrating %s %s", t, p)
	err := probe.Calibrate(p)
	b.kick()
	if err != nil {
		return err
	}
	log.Printf("process: calibrated %s %s", t, p)
	return nil
}

func (b *Bioreactor) kick() {
	if b.d.Watchdog != nil {
		_ = b.d.Watchdog.Kick()
	}
}
