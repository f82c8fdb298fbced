// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

//go:build linux

package watchdog

import (
	"fmt"
	"os"
	"time"

	"golang.org/x/sys/unix"
)

// DefaultDevice is the kernel watchdog node.
const DefaultDevice = "/dev/watchdog"

// Device is the kernel watchdog. Once opened, the board reboots unless Kick
// is called within the timeout.
type Device struct {
	f *os.File
}

// OpenDevice opens the watchdog at path and sets its timeout, rounded up to
// the second.
func OpenDevice(path string, timeout time.Duration) (*Device, error) {
	f, err := os.OpenFile(path, os.O_WRONLY, 0)
	if err != nil {
		return nil, fmt.Errorf("watchdog: %w", err)
	}
	d := &Device{f: f}
	secs := int((timeout + time.Second - 1) / time.Second)
	// Not every driver allows changing the timeout; its default then applies.
	_ = unix.IoctlSetPointerInt(int(f.Fd()), unix.WDIOC_SETTIMEOUT, secs)
	return d, nil
}

// Kick implements Kicker.
func (d *Device) Kick() error {
	if err := unix.IoctlWatchdogKeepalive(int(d.f.Fd())); err != nil {
		return fmt.Errorf("watchdog: keepalive: %w", err)
	}
	return nil
}

// Close disarms the watchdog with the magic close character when the driver
// supports it, then releases the device.
func (d *Device) Close() error {
	_, _ = d.f.Write([]byte{'V'})
	return d.f.Close()
}

func (d *Device) String() string {
	return d.f.Name()
}

var _ Kicker = &Device{}
