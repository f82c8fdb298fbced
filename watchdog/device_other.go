// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

//go:build !linux

package watchdog

import (
	"errors"
	"time"
)

// DefaultDevice is the kernel watchdog node.
const DefaultDevice = "/dev/watchdog"

// Device is the kernel watchdog, only available on linux.
type Device struct{}

// OpenDevice always fails outside linux.
func OpenDevice(path string, timeout time.Duration) (*Device, error) {
	return nil, errors.New("watchdog: kernel watchdog requires linux")
}

// Kick implements Kicker.
func (d *Device) Kick() error {
	return errors.New("watchdog: not supported")
}

// Close implements Kicker.
func (d *Device) Close() error {
	return nil
}

var _ Kicker = &Device{}
