// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package command

import (
	"errors"
	"testing"
)

func TestParse(t *testing.T) {
	data := []struct {
		in   string
		want Command
	}{
		{"STATE=CULTURE", Command{Kind: Phase, Name: "CULTURE"}},
		{"state=cleaning-circul\r", Command{Kind: Phase, Name: "CLEANING-CIRCUL"}},
		{"TEMP=37.5", Command{Kind: Temperature, Value: 37.5}},
		{" PH = 7.1 ", Command{Kind: PH, Value: 7.1}},
		{"DO=95", Command{Kind: DO, Value: 95}},
		{"CO2=50000", Command{Kind: CO2, Value: 50000}},
		{"O2=85", Command{Kind: O2, Value: 85}},
		{"PUMP-SPEED=1,-2.5, 3,4", Command{Kind: PumpSpeed, Speeds: [4]float64{1, -2.5, 3, 4}}},
		{"CALIB-PH=4", Command{Kind: CalibratePH, Value: 4}},
		{"CALIB-PH=10", Command{Kind: CalibratePH, Value: 10}},
	}
	for _, line := range data {
		got, err := Parse(line.in)
		if err != nil {
			t.Errorf("%q: %v", line.in, err)
			continue
		}
		if got != line.want {
			t.Errorf("%q: got %+v, want %+v", line.in, got, line.want)
		}
	}
}

func TestParseErrors(t *testing.T) {
	data := []struct {
		in      string
		unknown bool
	}{
		{"HELLO", true},
		{"FOO=1", true},
		{"TEMP=", false},
		{"TEMP=abc", false},
		{"TEMP=NaN", false},
		{"CO2=+Inf", false},
		{"STATE=", false},
		{"PUMP-SPEED=1,2,3", false},
		{"PUMP-SPEED=1,2,x,4", false},
		{"CALIB-PH=5", false},
	}
	for _, line := range data {
		_, err := Parse(line.in)
		if err == nil {
			t.Errorf("%q: expected error", line.in)
			continue
		}
		if got := errors.Is(err, ErrUnknown); got != line.unknown {
			t.Errorf("%q: ErrUnknown=%t: %v", line.in, got, err)
		}
	}
	if _, err := Parse("  \r"); !errors.Is(err, ErrEmpty) {
		t.Errorf("blank line: %v", err)
	}
}

func TestString(t *testing.T) {
	data := []string{"STATE=IDLE", "TEMP=37.5", "PUMP-SPEED=1,2,3,4", "CALIB-PH=7"}
	for _, in := range data {
		c, err := Parse(in)
		if err != nil {
			t.Fatal(err)
		}
		if got := c.String(); got != in {
			t.Errorf("%q: String() = %q", in, got)
		}
	}
}
