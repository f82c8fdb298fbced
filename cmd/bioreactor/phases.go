// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package main

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/GermanBionicSystems/bioreactor/common"
	"github.com/GermanBionicSystems/bioreactor/config"
	"github.com/GermanBionicSystems/bioreactor/process"
	"github.com/spf13/cobra"
)

var phasesCmd = &cobra.Command{
	Use:   "phases",
	Short: "Print the phase table",
	Long: `Phases prints every phase with the names accepted by STATE=, the phase
entered when its time is up, and its duration after configuration overrides.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		pcfg, err := cfg.Process()
		if err != nil {
			return err
		}
		return printPhases(cmd.OutOrStdout(), pcfg.Durations)
	},
}

func init() {
	rootCmd.AddCommand(phasesCmd)
}

func printPhases(w io.Writer, overrides map[process.Phase]common.Millis) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NAMES\tNEXT\tDURATION\tCHAMBER\tHEATING")
	for i, s := range process.Table {
		next, duration := "-", "waits"
		if s.Duration != 0 {
			d := s.Duration
			if o, ok := overrides[process.Phase(i)]; ok && o != 0 {
				d = o
			}
			next, duration = s.Next.String(), d.Duration().String()
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", strings.Join(s.Names, ","), next, duration, yesNo(s.Chamber), yesNo(s.Heating))
	}
	return tw.Flush()
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}
