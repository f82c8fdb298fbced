// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package bioreactor is a container for the bioreactor controller.
//
// The device drivers (ezo, visiferm, gmp251, dfo2, sht4x, pi4ioe, tmc5041,
// ssr, statusled, door, watchdog) follow the periph conventions and can be
// used on their own. The controllers (tempctl, chamber) are pure functions of
// their inputs and a millisecond clock. Package process sequences them
// through the phases of a culture, and cmd/bioreactor wires everything to
// the hardware.
package bioreactor
