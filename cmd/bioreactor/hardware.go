// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package main

import (
	"errors"
	"fmt"
	"io"
	"log"

	"github.com/GermanBionicSystems/bioreactor/common"
	"github.com/GermanBionicSystems/bioreactor/config"
	"github.com/GermanBionicSystems/bioreactor/dfo2"
	"github.com/GermanBionicSystems/bioreactor/door"
	"github.com/GermanBionicSystems/bioreactor/ezo"
	"github.com/GermanBionicSystems/bioreactor/gmp251"
	"github.com/GermanBionicSystems/bioreactor/pi4ioe"
	"github.com/GermanBionicSystems/bioreactor/plant"
	"github.com/GermanBionicSystems/bioreactor/process"
	"github.com/GermanBionicSystems/bioreactor/report"
	"github.com/GermanBionicSystems/bioreactor/sht4x"
	"github.com/GermanBionicSystems/bioreactor/ssr"
	"github.com/GermanBionicSystems/bioreactor/statusled"
	"github.com/GermanBionicSystems/bioreactor/store"
	"github.com/GermanBionicSystems/bioreactor/tmc5041"
	"github.com/GermanBionicSystems/bioreactor/visiferm"
	"github.com/GermanBionicSystems/bioreactor/watchdog"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/conn/v3/spi/spireg"
	"periph.io/x/host/v3"
)

// hardware holds every opened device so they can be released in reverse
// order.
type hardware struct {
	deps    process.Deps
	plant   *plant.Plant
	closers []io.Closer
	halts   []interface{ Halt() error }
}

func (h *hardware) close() error {
	var errs []error
	for i := len(h.halts) - 1; i >= 0; i-- {
		errs = append(errs, h.halts[i].Halt())
	}
	for i := len(h.closers) - 1; i >= 0; i-- {
		errs = append(errs, h.closers[i].Close())
	}
	return errors.Join(errs...)
}

// openBus initializes the host drivers and opens the I2C bus.
func openBus(cfg *config.Config) (i2c.BusCloser, error) {
	if _, err := host.Init(); err != nil {
		return nil, err
	}
	bus, err := i2creg.Open(cfg.Hardware.I2CBus)
	if err != nil {
		return nil, fmt.Errorf("i2c: %w", err)
	}
	return bus, nil
}

func openProbe(bus i2c.Bus, v ezo.Variant, addr uint16) (*ezo.Dev, error) {
	if addr != 0 {
		v.Addr = addr
	}
	return ezo.New(bus, v, nil)
}

// openHardware opens every device named in cfg. The optional devices (door,
// LED, O2 and air probes) are left out with a log line when they fail to
// open; the others abort the start.
func openHardware(cfg *config.Config) (h *hardware, err error) {
	hw := cfg.Hardware
	h = &hardware{}
	defer func() {
		if err != nil {
			_ = h.close()
			h = nil
		}
	}()

	bus, err := openBus(cfg)
	if err != nil {
		return h, err
	}
	h.closers = append(h.closers, bus)

	if h.deps.PH, err = openProbe(bus, ezo.PH, hw.PHAddress); err != nil {
		return h, err
	}
	if h.deps.Water, err = openProbe(bus, ezo.RTD, hw.RTDAddress); err != nil {
		return h, err
	}

	do, port, err := visiferm.Open(hw.DOPort, hw.DOAddress)
	if err != nil {
		return h, err
	}
	h.closers = append(h.closers, port)
	h.deps.DO = do

	co2, port, err := gmp251.Open(hw.CO2Port, hw.CO2Address)
	if err != nil {
		return h, err
	}
	h.closers = append(h.closers, port)
	h.deps.CO2 = co2

	if o2, err := dfo2.New(bus, hw.O2Address, nil); err != nil {
		log.Printf("o2 probe: %v", err)
	} else {
		h.deps.O2 = o2
	}
	if air, err := sht4x.New(bus, i2c.Addr(hw.AirAddress), nil); err != nil {
		log.Printf("air probe: %v", err)
	} else {
		h.deps.Air = air
	}
	if d, err := door.OpenChip(hw.DoorChip, hw.DoorLine); err != nil {
		log.Printf("door: %v", err)
	} else {
		h.closers = append(h.closers, d)
		h.deps.Door = d
	}
	if led, err := statusled.New(bus, i2c.Addr(hw.LEDAddress), common.MillisOf(cfg.Timing.LED)); err != nil {
		log.Printf("status led: %v", err)
	} else {
		h.deps.LED = led
	}

	parts, err := openPlant(cfg, bus, h)
	if err != nil {
		return h, err
	}
	if h.plant, err = plant.New(parts, cfg.Timing.Pumps); err != nil {
		return h, err
	}
	h.halts = append(h.halts, h.plant)
	h.deps.Actuators = h.plant

	st, err := store.Open(cfg.Store.Path)
	if err != nil {
		return h, err
	}
	h.closers = append(h.closers, st)
	h.deps.Store = st

	wd, err := openWatchdog(cfg)
	if err != nil {
		return h, err
	}
	h.closers = append(h.closers, wd)
	h.deps.Watchdog = wd

	h.deps.Reporter = report.NewConsole(nil)
	h.deps.Clock = common.NewMonotonic()
	return h, nil
}

// openPlant opens the I/O expander, the two pump drivers and the heater
// relay. The first driver runs the supply pump and the second chamber pump;
// the second runs the first chamber pump and the circulation pump.
func openPlant(cfg *config.Config, bus i2c.Bus, h *hardware) (plant.Parts, error) {
	hw := cfg.Hardware
	var parts plant.Parts

	ex, err := pi4ioe.New(bus, hw.ExpanderAddress)
	if err != nil {
		return parts, err
	}
	h.closers = append(h.closers, ex)
	parts.Switches = ex

	var pumps [4]*tmc5041.Pump
	for i, name := range hw.PumpDrivers {
		p, err := spireg.Open(name)
		if err != nil {
			return parts, fmt.Errorf("spi %s: %w", name, err)
		}
		h.closers = append(h.closers, p)
		d, err := tmc5041.New(p)
		if err != nil {
			return parts, err
		}
		pumps[2*i] = d.Pump(tmc5041.Motor1)
		pumps[2*i+1] = d.Pump(tmc5041.Motor2)
	}
	for _, p := range pumps {
		if err := p.Begin(); err != nil {
			return parts, err
		}
	}
	parts.Supply = pumps[0]
	parts.Chamber2 = pumps[1]
	parts.Chamber1 = pumps[2]
	parts.Circulation = pumps[3]

	pin := gpioreg.ByName(hw.HeaterPin)
	if pin == nil {
		return parts, fmt.Errorf("heater: no pin %s", hw.HeaterPin)
	}
	heater, err := ssr.New(pin, hw.HeaterPeriod)
	if err != nil {
		return parts, err
	}
	parts.Heater = heater
	return parts, nil
}

type kickCloser interface {
	process.Watchdog
	io.Closer
}

// openWatchdog opens the kernel watchdog, or starts a software one that
// aborts the program when the device is not configured or cannot be opened.
func openWatchdog(cfg *config.Config) (kickCloser, error) {
	timeout := cfg.Watchdog.Timeout
	if cfg.Watchdog.Device != "" {
		d, err := watchdog.OpenDevice(cfg.Watchdog.Device, timeout)
		if err == nil {
			log.Printf("watchdog: %s, %s", d, timeout)
			return d, nil
		}
		log.Printf("watchdog: %v, falling back to software", err)
	}
	s, err := watchdog.NewSoft(timeout, func() {
		log.Fatalf("watchdog: not kicked for %s", timeout)
	})
	if err != nil {
		return nil, err
	}
	log.Printf("watchdog: software, %s", timeout)
	return s, nil
}
