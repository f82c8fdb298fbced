// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Command bioreactor runs the bioreactor controller.
//
// Operator commands are read from stdin, one KEY=VALUE per line:
//
//	STATE=CULTURE
//	TEMP=37.0
//	CO2=50000
//	CALIB-PH=7
package main

import (
	"os"

	"github.com/spf13/cobra"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "bioreactor",
	Short: "Bioreactor controller",
	Long: `Bioreactor runs the culture process: it reads the probes, regulates the
water temperature and the chamber gas, and sequences the pumps and valves
through the phases of a culture or cleaning cycle.

The hardware layout is read from a YAML file. Setpoints and the current phase
are persisted and survive a restart.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "/etc/bioreactor.yaml", "Configuration file")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
