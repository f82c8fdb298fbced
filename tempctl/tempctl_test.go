// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package tempctl

import (
	"math"
	"testing"

	"github.com/GermanBionicSystems/bioreactor/common"
)

func near(a, b float64) bool {
	return math.Abs(a-b) < 1e-6
}

func TestFirstUpdateProportionalOnly(t *testing.T) {
	c := New(DefaultConfig(), 37)
	c.Update(37, 36.5, 5000)
	if got := c.TargetAir(); !near(got, 37) {
		t.Fatalf("target %g", got)
	}
	if got := c.HeaterPower(); !near(got, 10) {
		t.Fatalf("power %g", got)
	}
}

func TestIntegralAccumulates(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Ki = 1
	c := New(cfg, 37)
	c.Update(37, 36.5, 0)
	first := c.HeaterPower()
	c.Update(37, 36.5, 2000)
	if got := c.HeaterPower(); !near(got, first+1) {
		t.Fatalf("power %g, want %g", got, first+1)
	}
}

func TestIntegralAcrossWraparound(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Ki = 1
	c := New(cfg, 37)
	c.Update(37, 36.5, 0xffffffff-499)
	first := c.HeaterPower()
	c.Update(37, 36.5, 500)
	if got := c.HeaterPower(); !near(got, first+0.5) {
		t.Fatalf("power %g, want %g", got, first+0.5)
	}
}

func TestClamp(t *testing.T) {
	data := []struct {
		water, air float64
		want       float64
	}{
		{37, -1e9, 100},
		{37, 1e9, 0},
		{-1e9, 20, 100},
		{1e9, 20, 0},
	}
	for i, line := range data {
		c := New(DefaultConfig(), 37)
		for now := 0; now < 10000; now += 1000 {
			c.Update(line.water, line.air, common.Millis(now))
			if p := c.HeaterPower(); p < 0 || p > 100 {
				t.Fatalf("#%d: power %g out of range", i, p)
			}
		}
		if got := c.HeaterPower(); got != line.want {
			t.Errorf("#%d: power %g, want %g", i, got, line.want)
		}
		if got := c.TargetAir(); got < 0 || got > DefaultConfig().MaxTargetAir {
			t.Errorf("#%d: target %g out of range", i, got)
		}
	}
}

func TestAsymmetricAirGain(t *testing.T) {
	c := New(DefaultConfig(), 37)
	c.Update(36, 30, 0)
	if got := c.TargetAir(); !near(got, 40) {
		t.Errorf("below: target %g, want 40", got)
	}
	c.Update(38, 30, 1000)
	if got := c.TargetAir(); !near(got, 35) {
		t.Errorf("above: target %g, want 35", got)
	}
}

func TestPatchHeating(t *testing.T) {
	c := New(DefaultConfig(), 37)
	c.Update(35.9, 40, 0)
	if !c.PatchHeating() {
		t.Error("patch should heat 1.1°C below the reference")
	}
	c.Update(36, 40, 1000)
	if c.PatchHeating() {
		t.Error("patch should be off at exactly the offset")
	}
	c.SetReference(40)
	c.Update(36, 40, 2000)
	if !c.PatchHeating() {
		t.Error("patch should follow the new reference")
	}
	if c.Reference() != 40 {
		t.Errorf("reference %g", c.Reference())
	}
}

func TestNaNTurnsHeatersOff(t *testing.T) {
	c := New(DefaultConfig(), 37)
	c.Update(30, 20, 0)
	if c.HeaterPower() == 0 || !c.PatchHeating() {
		t.Fatal("expected heating")
	}
	c.Update(math.NaN(), 20, 1000)
	if c.HeaterPower() != 0 || c.PatchHeating() {
		t.Error("NaN water must turn the heaters off")
	}
}

func TestDerivativeFollowsTarget(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Kp, cfg.Ki, cfg.Kd = 0, 0, 1
	c := New(cfg, 37)
	c.Update(37, 30, 0)
	if got := c.HeaterPower(); got != 0 {
		t.Fatalf("first update: power %g, want 0", got)
	}
	// Water drops 1°C so the target rises 37 -> 40 while the air is steady.
	c.Update(36, 30, 1000)
	if got := c.TargetAir(); !near(got, 40) {
		t.Fatalf("target %g, want 40", got)
	}
	if got := c.HeaterPower(); !near(got, 3) {
		t.Errorf("power %g, want 3", got)
	}
	// Same error over 2s: no derivative.
	c.Update(36, 30, 3000)
	if got := c.HeaterPower(); got != 0 {
		t.Errorf("steady error: power %g, want 0", got)
	}
}

func TestDerivativeAfterSaturatedProportional(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Ki, cfg.Kd = 0, 10
	c := New(cfg, 37)
	// 20 * 7 saturates on its own.
	c.Update(37, 30, 0)
	if got := c.HeaterPower(); got != 100 {
		t.Fatalf("power %g, want 100", got)
	}
	// Error 7 -> 6.5 in 1s: 130 - 5 is still above the limit.
	c.Update(37, 30.5, 1000)
	if got := c.HeaterPower(); got != 100 {
		t.Errorf("power %g, want 100", got)
	}
}

func TestRestartAfterNaN(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Ki = 1
	c := New(cfg, 37)
	c.Update(37, 36.5, 0)
	first := c.HeaterPower()
	c.Update(37, math.NaN(), 1000)
	// A 10 minute outage must not be integrated in one step.
	c.Update(37, 36.5, 601000)
	if got := c.HeaterPower(); !near(got, first) {
		t.Errorf("power %g, want %g", got, first)
	}
	c.Update(37, 36.5, 602000)
	if got := c.HeaterPower(); !near(got, first+0.5) {
		t.Errorf("power %g, want %g", got, first+0.5)
	}
}
