// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package main

import (
	"bufio"
	"errors"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/GermanBionicSystems/bioreactor/command"
	"github.com/GermanBionicSystems/bioreactor/config"
	"github.com/GermanBionicSystems/bioreactor/process"
	"github.com/spf13/cobra"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the control loop",
	Long: `Run opens every device, restores the persisted phase and setpoints, and
runs the control loop until SIGINT or SIGTERM.

Operator commands are read from stdin, one per line.`,
	Args: cobra.NoArgs,
	RunE: runRun,
}

func init() {
	rootCmd.AddCommand(runCmd)
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	pcfg, err := cfg.Process()
	if err != nil {
		return err
	}
	h, err := openHardware(cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := h.close(); err != nil {
			log.Printf("shutdown: %v", err)
		}
	}()

	b, err := process.New(h.deps, pcfg)
	if err != nil {
		return err
	}

	ticker := time.NewTicker(cfg.Timing.Tick)
	defer ticker.Stop()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	log.Printf("started: tick=%s config=%s", cfg.Timing.Tick, configPath)
	return runLoop(b, ticker.C, readLines(os.Stdin), sigCh)
}

// controller is the part of process.Bioreactor the loop drives.
type controller interface {
	Tick()
	Apply(c command.Command) error
}

// runLoop owns b: it ticks it and applies operator lines between ticks until
// a signal arrives.
func runLoop(b controller, tick <-chan time.Time, lines <-chan string, sig <-chan os.Signal) error {
	for {
		select {
		case s := <-sig:
			log.Printf("received %v, shutting down", s)
			return nil

		case <-tick:
			b.Tick()

		case line, ok := <-lines:
			if !ok {
				// stdin closed; keep running on the persisted setpoints.
				lines = nil
				continue
			}
			handleLine(b, line)
		}
	}
}

func handleLine(b controller, line string) {
	c, err := command.Parse(line)
	if err != nil {
		if !errors.Is(err, command.ErrEmpty) {
			log.Printf("ignoring %q: %v", line, err)
		}
		return
	}
	if err := b.Apply(c); err != nil {
		log.Printf("%s: %v", c, err)
	}
}

// readLines forwards the lines of r to the returned channel, which is closed
// at the end of r.
func readLines(r io.Reader) <-chan string {
	ch := make(chan string)
	go func() {
		defer close(ch)
		s := bufio.NewScanner(r)
		for s.Scan() {
			ch <- s.Text()
		}
		if err := s.Err(); err != nil {
			log.Printf("stdin: %v", err)
		}
	}()
	return ch
}
