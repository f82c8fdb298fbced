// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package watchdog resets the controller when the control loop stalls.
//
// The loop must call Kick at least once per timeout. Device uses the kernel
// watchdog, which reboots the board; Soft runs a callback in-process,
// typically to exit so that the service manager restarts the controller.
package watchdog

import (
	"errors"
	"sync"
	"time"
)

// DefaultTimeout is the longest allowed gap between two kicks.
const DefaultTimeout = 60 * time.Second

// Kicker is a running watchdog.
type Kicker interface {
	Kick() error
	Close() error
}

// Soft is an in-process watchdog built on a timer.
type Soft struct {
	mu      sync.Mutex
	t       *time.Timer
	timeout time.Duration
	closed  bool
}

// NewSoft starts a watchdog calling expire from its own goroutine when Kick
// is not called for timeout.
func NewSoft(timeout time.Duration, expire func()) (*Soft, error) {
	if timeout <= 0 {
		return nil, errors.New("watchdog: timeout must be positive")
	}
	if expire == nil {
		return nil, errors.New("watchdog: nil expire callback")
	}
	return &Soft{t: time.AfterFunc(timeout, expire), timeout: timeout}, nil
}

// Kick restarts the countdown.
func (s *Soft) Kick() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errors.New("watchdog: closed")
	}
	s.t.Reset(s.timeout)
	return nil
}

// Close disarms the watchdog.
func (s *Soft) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.t.Stop()
	return nil
}

func (s *Soft) String() string {
	return "soft-watchdog"
}

var _ Kicker = &Soft{}
