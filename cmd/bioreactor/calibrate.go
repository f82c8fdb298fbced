// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package main

import (
	"bufio"
	"fmt"
	"io"

	"github.com/GermanBionicSystems/bioreactor/config"
	"github.com/GermanBionicSystems/bioreactor/ezo"
	"github.com/spf13/cobra"
)

var calibratePoint string

var calibrateCmd = &cobra.Command{
	Use:   "calibrate",
	Short: "Calibrate a probe",
	Long: `Calibrate sends calibration commands to the EZO circuits. The control loop
must not be running: each point blocks for a few seconds.`,
}

var calibratePHCmd = &cobra.Command{
	Use:   "ph",
	Short: "Calibrate the pH probe",
	Long: `Calibrate the pH probe against a buffer solution.

--point is 4, 7, 10 or all. "all" runs 7, 4 then 10 and waits for Enter
before each point so the probe can be moved to the next buffer. The 7 point
clears the other points on the circuit and must be run first.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return calibrate(ezo.PH, calibratePoint, cmd.InOrStdin(), cmd.OutOrStdout())
	},
}

var calibrateTempCmd = &cobra.Command{
	Use:   "temp",
	Short: "Calibrate the water temperature probe at 100°C",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return calibrate(ezo.RTD, "reference", cmd.InOrStdin(), cmd.OutOrStdout())
	},
}

func init() {
	calibratePHCmd.Flags().StringVarP(&calibratePoint, "point", "p", "all", "Buffer: 4, 7, 10 or all")
	calibrateCmd.AddCommand(calibratePHCmd, calibrateTempCmd)
	rootCmd.AddCommand(calibrateCmd)
}

var calibrationPoints = map[string]ezo.CalPoint{
	"4":         ezo.CalLow,
	"7":         ezo.CalMid,
	"10":        ezo.CalHigh,
	"reference": ezo.CalReference,
}

func calibrate(v ezo.Variant, point string, in io.Reader, out io.Writer) error {
	p, ok := calibrationPoints[point]
	if point != "all" && !ok {
		return fmt.Errorf("unknown calibration point %q", point)
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	bus, err := openBus(cfg)
	if err != nil {
		return err
	}
	defer bus.Close()
	addr := cfg.Hardware.PHAddress
	if v.Name == ezo.RTD.Name {
		addr = cfg.Hardware.RTDAddress
	}
	dev, err := openProbe(bus, v, addr)
	if err != nil {
		return err
	}
	return runCalibration(dev, point, p, in, out)
}

var buffers = map[ezo.CalPoint]string{ezo.CalLow: "4", ezo.CalMid: "7", ezo.CalHigh: "10"}

// calibrator is the calibration part of ezo.Dev.
type calibrator interface {
	Calibrate(p ezo.CalPoint) error
	CalibrateAll(next func(ezo.CalPoint) error) error
	String() string
}

func runCalibration(dev calibrator, point string, p ezo.CalPoint, in io.Reader, out io.Writer) error {
	if point != "all" {
		fmt.Fprintf(out, "%s: calibrating %s\n", dev, p)
		if err := dev.Calibrate(p); err != nil {
			return err
		}
		fmt.Fprintf(out, "%s: done\n", dev)
		return nil
	}
	r := bufio.NewReader(in)
	err := dev.CalibrateAll(func(p ezo.CalPoint) error {
		fmt.Fprintf(out, "%s: place the probe in the pH %s buffer and press Enter\n", dev, buffers[p])
		_, err := r.ReadString('\n')
		if err == io.EOF {
			return fmt.Errorf("calibration of %s aborted", p)
		}
		return err
	})
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "%s: done\n", dev)
	return nil
}
