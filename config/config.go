// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package config loads the bioreactor configuration from a YAML file.
//
// The file is read once at start. Setpoints are not part of it; they are
// persisted by the store as the operator changes them.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/GermanBionicSystems/bioreactor/chamber"
	"github.com/GermanBionicSystems/bioreactor/common"
	"github.com/GermanBionicSystems/bioreactor/dfo2"
	"github.com/GermanBionicSystems/bioreactor/gmp251"
	"github.com/GermanBionicSystems/bioreactor/pi4ioe"
	"github.com/GermanBionicSystems/bioreactor/process"
	"github.com/GermanBionicSystems/bioreactor/sht4x"
	"github.com/GermanBionicSystems/bioreactor/statusled"
	"github.com/GermanBionicSystems/bioreactor/tempctl"
	"github.com/GermanBionicSystems/bioreactor/visiferm"
	"github.com/GermanBionicSystems/bioreactor/watchdog"
	"gopkg.in/yaml.v3"
)

// Config represents the controller configuration.
type Config struct {
	Hardware    HardwareConfig           `yaml:"hardware"`
	Timing      TimingConfig             `yaml:"timing"`
	Temperature tempctl.Config           `yaml:"temperature"`
	Chamber     chamber.Config           `yaml:"chamber"`
	Phases      map[string]time.Duration `yaml:"phases"` // Overrides of timed phase durations
	Watchdog    WatchdogConfig           `yaml:"watchdog"`
	Store       StoreConfig              `yaml:"store"`
}

// HardwareConfig names the buses and addresses of every device.
type HardwareConfig struct {
	I2CBus string `yaml:"i2c_bus"`
	// PumpDrivers are the SPI ports of the two TMC5041 drivers.
	PumpDrivers []string `yaml:"pump_drivers"`

	DOPort     string `yaml:"do_port"`
	DOAddress  byte   `yaml:"do_address"`
	CO2Port    string `yaml:"co2_port"`
	CO2Address byte   `yaml:"co2_address"`

	HeaterPin    string        `yaml:"heater_pin"`
	HeaterPeriod time.Duration `yaml:"heater_period"` // PWM period of the heater relay
	DoorChip     string        `yaml:"door_chip"`
	DoorLine     int           `yaml:"door_line"`

	PHAddress       uint16 `yaml:"ph_address"`
	RTDAddress      uint16 `yaml:"rtd_address"`
	O2Address       uint16 `yaml:"o2_address"`
	AirAddress      uint16 `yaml:"air_address"`
	ExpanderAddress uint16 `yaml:"expander_address"`
	LEDAddress      uint16 `yaml:"led_address"`
}

// TimingConfig contains the periods of the control loop.
type TimingConfig struct {
	Tick        time.Duration `yaml:"tick"`
	Temperature time.Duration `yaml:"temperature"`
	Chamber     time.Duration `yaml:"chamber"`
	Report      time.Duration `yaml:"report"`
	LED         time.Duration `yaml:"led"`
	Pumps       time.Duration `yaml:"pumps"`
}

// WatchdogConfig selects the watchdog.
type WatchdogConfig struct {
	Device  string        `yaml:"device"` // Empty for the software watchdog
	Timeout time.Duration `yaml:"timeout"`
}

// StoreConfig locates the parameter database.
type StoreConfig struct {
	Path string `yaml:"path"`
}

// Default returns the configuration of the prototype.
func Default() *Config {
	return &Config{
		Hardware: HardwareConfig{
			I2CBus:          "",
			PumpDrivers:     []string{"SPI0.0", "SPI0.1"},
			DOPort:          "/dev/ttyUSB0",
			DOAddress:       visiferm.DefaultAddress,
			CO2Port:         "/dev/ttyUSB1",
			CO2Address:      gmp251.DefaultAddress,
			HeaterPin:       "GPIO17",
			HeaterPeriod:    10 * time.Second,
			DoorChip:        "gpiochip0",
			DoorLine:        27,
			PHAddress:       0x63,
			RTDAddress:      0x66,
			O2Address:       dfo2.DefaultAddress,
			AirAddress:      uint16(sht4x.DefaultAddress),
			ExpanderAddress: pi4ioe.DefaultAddress,
			LEDAddress:      uint16(statusled.DefaultAddress),
		},
		Timing: TimingConfig{
			Tick:        100 * time.Millisecond,
			Temperature: time.Second,
			Chamber:     5 * time.Second,
			Report:      5 * time.Second,
			LED:         time.Second,
			Pumps:       5 * time.Second,
		},
		Temperature: tempctl.DefaultConfig(),
		Chamber:     chamber.DefaultConfig(),
		Phases:      map[string]time.Duration{},
		Watchdog: WatchdogConfig{
			Device:  watchdog.DefaultDevice,
			Timeout: watchdog.DefaultTimeout,
		},
		Store: StoreConfig{
			Path: "/var/lib/bioreactor/parameters.db",
		},
	}
}

// Load loads the configuration from a YAML file. A missing file or missing
// fields take the default values.
func Load(filename string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(filename)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("config: failed to read %s: %w", filename, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: failed to parse %s: %w", filename, err)
	}

	cfg.ensureDefaults()

	if _, err := cfg.Process(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes the configuration to a YAML file.
func (c *Config) Save(filename string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("config: failed to marshal: %w", err)
	}

	if err := os.WriteFile(filename, data, 0644); err != nil {
		return fmt.Errorf("config: failed to write %s: %w", filename, err)
	}

	return nil
}

// ensureDefaults fills the fields a partial file left to zero.
func (c *Config) ensureDefaults() {
	def := Default()

	if len(c.Hardware.PumpDrivers) != 2 {
		c.Hardware.PumpDrivers = def.Hardware.PumpDrivers
	}
	if c.Hardware.DOPort == "" {
		c.Hardware.DOPort = def.Hardware.DOPort
	}
	if c.Hardware.DOAddress == 0 {
		c.Hardware.DOAddress = def.Hardware.DOAddress
	}
	if c.Hardware.CO2Port == "" {
		c.Hardware.CO2Port = def.Hardware.CO2Port
	}
	if c.Hardware.CO2Address == 0 {
		c.Hardware.CO2Address = def.Hardware.CO2Address
	}
	if c.Hardware.HeaterPin == "" {
		c.Hardware.HeaterPin = def.Hardware.HeaterPin
	}
	if c.Hardware.HeaterPeriod == 0 {
		c.Hardware.HeaterPeriod = def.Hardware.HeaterPeriod
	}
	if c.Hardware.DoorChip == "" {
		c.Hardware.DoorChip = def.Hardware.DoorChip
	}

	if c.Timing.Tick == 0 {
		c.Timing.Tick = def.Timing.Tick
	}
	if c.Timing.Temperature == 0 {
		c.Timing.Temperature = def.Timing.Temperature
	}
	if c.Timing.Chamber == 0 {
		c.Timing.Chamber = def.Timing.Chamber
	}
	if c.Timing.Report == 0 {
		c.Timing.Report = def.Timing.Report
	}
	if c.Timing.LED == 0 {
		c.Timing.LED = def.Timing.LED
	}
	if c.Timing.Pumps == 0 {
		c.Timing.Pumps = def.Timing.Pumps
	}

	if c.Temperature.MaxTargetAir == 0 {
		c.Temperature.MaxTargetAir = def.Temperature.MaxTargetAir
	}
	if c.Chamber.TubeRadius == 0 {
		c.Chamber.TubeRadius = def.Chamber.TubeRadius
	}
	if c.Chamber.TubeLength == 0 {
		c.Chamber.TubeLength = def.Chamber.TubeLength
	}
	if c.Chamber.Volume == 0 {
		c.Chamber.Volume = def.Chamber.Volume
	}
	if c.Chamber.SupplyPressure == 0 {
		c.Chamber.SupplyPressure = def.Chamber.SupplyPressure
	}
	if c.Chamber.ChamberPressure == 0 {
		c.Chamber.ChamberPressure = def.Chamber.ChamberPressure
	}
	if c.Chamber.ViscosityAir == 0 {
		c.Chamber.ViscosityAir = def.Chamber.ViscosityAir
	}
	if c.Chamber.ViscosityO2 == 0 {
		c.Chamber.ViscosityO2 = def.Chamber.ViscosityO2
	}
	if c.Chamber.ViscosityCO2 == 0 {
		c.Chamber.ViscosityCO2 = def.Chamber.ViscosityCO2
	}
	if c.Phases == nil {
		c.Phases = def.Phases
	}

	if c.Watchdog.Timeout == 0 {
		c.Watchdog.Timeout = def.Watchdog.Timeout
	}
	if c.Store.Path == "" {
		c.Store.Path = def.Store.Path
	}
}

// Process returns the parameters of the process state machine. It fails on
// an unknown phase name.
func (c *Config) Process() (process.Config, error) {
	p := process.DefaultConfig()
	p.Temperature = c.Temperature
	p.Chamber = c.Chamber
	p.TemperaturePeriod = common.MillisOf(c.Timing.Temperature)
	p.ChamberPeriod = common.MillisOf(c.Timing.Chamber)
	p.ReportPeriod = common.MillisOf(c.Timing.Report)
	if len(c.Phases) != 0 {
		p.Durations = make(map[process.Phase]common.Millis, len(c.Phases))
	}
	for name, d := range c.Phases {
		ph, err := process.ParsePhase(name)
		if err != nil {
			return p, fmt.Errorf("config: phases: %w", err)
		}
		if d <= 0 {
			return p, fmt.Errorf("config: phases: %s: duration must be positive", ph)
		}
		p.Durations[ph] = common.MillisOf(d)
	}
	return p, nil
}
