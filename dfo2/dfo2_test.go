// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package dfo2

import (
	"errors"
	"math"
	"testing"
	"time"

	"periph.io/x/conn/v3/i2c/i2ctest"
)

var noSleep = &Opts{Sleep: func(time.Duration) {}}

func TestRead(t *testing.T) {
	bus := &i2ctest.Playback{
		Ops: []i2ctest.IO{
			{Addr: DefaultAddress, W: []byte{regOxygen}, R: []byte{20, 9, 4}},
		},
		DontPanic: true,
	}
	dev, err := New(bus, DefaultAddress, noSleep)
	if err != nil {
		t.Fatal(err)
	}
	v, err := dev.Read()
	if err != nil {
		t.Fatal(err)
	}
	if math.Abs(v-20.94) > 1e-9 {
		t.Errorf("got %f, expected 20.94", v)
	}
	if _, err := dev.Read(); err == nil {
		t.Error("expected an error once the playback is exhausted")
	}
}

func TestCalibrate(t *testing.T) {
	tests := []struct {
		name  string
		point CalPoint
		state byte
		err   error
	}{
		{name: "air", point: CalAir, state: 0x01},
		{name: "pure", point: CalPure, state: 0x03},
		{name: "clear", point: CalClear, state: 0x00},
		{name: "air rejected", point: CalAir, state: 0x02, err: ErrCalibrationFailed},
		{name: "clear rejected", point: CalClear, state: 0x01, err: ErrCalibrationFailed},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			bus := &i2ctest.Playback{
				Ops: []i2ctest.IO{
					{Addr: DefaultAddress, W: []byte{regCalibration, byte(tc.point)}},
					{Addr: DefaultAddress, W: []byte{regCalState}, R: []byte{tc.state}},
				},
				DontPanic: true,
			}
			dev, _ := New(bus, DefaultAddress, noSleep)
			err := dev.Calibrate(tc.point)
			if tc.err == nil && err != nil {
				t.Fatal(err)
			}
			if tc.err != nil && !errors.Is(err, tc.err) {
				t.Fatalf("got %v, expected %v", err, tc.err)
			}
		})
	}
}

func TestNilBus(t *testing.T) {
	if _, err := New(nil, DefaultAddress, nil); err == nil {
		t.Fatal("expected an error")
	}
}
