// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package report prints the periodic status of the bioreactor on a
// terminal: a colored strip with one block per channel followed by a text
// line.
//
// The strip reads left to right: pH, water, air, DO, CO2, O2, pressure,
// door, heater, O2 valve, CO2 valve, air valve, then the four pumps.
package report

import (
	"fmt"
	"image"
	"image/color"
	"io"
	"math"
	"strings"
	"time"

	"github.com/GermanBionicSystems/bioreactor/common"
	"github.com/GermanBionicSystems/bioreactor/process"
	"github.com/mattn/go-colorable"
	"periph.io/x/conn/v3/display"
)

// Channels is the width of the strip.
const Channels = 16

// Colors of the strip.
var (
	Healthy = color.NRGBA{0x00, 0xc0, 0x00, 0xff}
	Fault   = color.NRGBA{0xff, 0x00, 0x00, 0xff}
	Absent  = color.NRGBA{0x40, 0x40, 0x40, 0xff}
	Open    = color.NRGBA{0x00, 0x80, 0xff, 0xff}
	Closed  = color.NRGBA{0x00, 0x00, 0x00, 0xff}
	Warning = color.NRGBA{0xff, 0xa0, 0x00, 0xff}
)

// Console implements process.Reporter.
type Console struct {
	w     io.Writer
	strip display.Drawer
	img   *image.NRGBA
}

// NewConsole returns a Console writing to w, or to a color capable stdout
// when w is nil.
func NewConsole(w io.Writer) *Console {
	if w == nil {
		w = colorable.NewColorableStdout()
	}
	return &Console{
		w:     w,
		strip: NewStrip(&StripOpts{X: Channels, W: w}),
		img:   image.NewNRGBA(image.Rect(0, 0, Channels, 1)),
	}
}

// Report draws the strip then the text line for s.
func (c *Console) Report(s process.Snapshot) error {
	for i, col := range Colors(s) {
		c.img.SetNRGBA(i, 0, col)
	}
	if err := c.strip.Draw(c.img.Bounds(), c.img, image.Point{}); err != nil {
		return err
	}
	_, err := io.WriteString(c.w, Line(s)+"\033[0m\n")
	return err
}

// Halt implements conn.Resource.
func (c *Console) Halt() error {
	return c.strip.Halt()
}

func (c *Console) String() string {
	return "console"
}

// Colors returns the strip pixels for s.
func Colors(s process.Snapshot) [Channels]color.NRGBA {
	var p [Channels]color.NRGBA
	for i, r := range []process.Reading{s.PH, s.Water, s.Air, s.DO, s.CO2, s.O2, s.Pressure} {
		p[i] = reading(r)
	}
	p[7] = Closed
	if s.DoorOpen {
		p[7] = Warning
	}
	p[8] = heat(s.Outputs.Heater)
	p[9] = valve(s.Outputs.O2)
	p[10] = valve(s.Outputs.CO2)
	p[11] = valve(s.Outputs.Air)
	pumps := s.Outputs.Pumps
	for i, v := range []float64{pumps.Supply, pumps.Circulation, pumps.Chamber1, pumps.Chamber2} {
		p[12+i] = pump(v)
	}
	return p
}

func reading(r process.Reading) color.NRGBA {
	switch {
	case r.OK:
		return Healthy
	case math.IsNaN(r.Value) && r.Status == "absent":
		return Absent
	default:
		return Fault
	}
}

func valve(open bool) color.NRGBA {
	if open {
		return Open
	}
	return Closed
}

// heat fades from black to red with the duty cycle.
func heat(percent float64) color.NRGBA {
	if !(percent > 0) {
		return Closed
	}
	if percent > 100 {
		percent = 100
	}
	return color.NRGBA{byte(math.Round(55 + 2*percent)), 0, 0, 0xff}
}

// pump is green forward, orange in reverse.
func pump(mlPerMin float64) color.NRGBA {
	switch {
	case mlPerMin > 0:
		return Healthy
	case mlPerMin < 0:
		return Warning
	default:
		return Closed
	}
}

// Line formats s as one line of text.
func Line(s process.Snapshot) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s", s.Phase, duration(s.InPhase))
	if s.Remaining != 0 {
		fmt.Fprintf(&b, " (-%s)", duration(s.Remaining))
	}
	sp := s.Setpoints
	fmt.Fprintf(&b, " T=%s/%.2f air=%s>%.2f heat=%.0f%%", value(s.Water, 2), sp.Temperature, value(s.Air, 2), s.TargetAir, s.Outputs.Heater)
	if s.Outputs.Patch {
		b.WriteString("+patch")
	}
	fmt.Fprintf(&b, " pH=%s/%.2f DO=%s/%.0f", value(s.PH, 2), sp.PH, value(s.DO, 1), sp.DO)
	fmt.Fprintf(&b, " O2=%s/%.1f CO2=%s/%.0f", value(s.O2, 1), sp.O2, value(s.CO2, 0), sp.CO2)
	fmt.Fprintf(&b, " valves=%s", valves(s))
	if s.DoorOpen {
		b.WriteString(" door=open")
	}
	if len(s.Faults) != 0 {
		fmt.Fprintf(&b, " faults=%s", strings.Join(s.Faults, ","))
	}
	return b.String()
}

func value(r process.Reading, prec int) string {
	if math.IsNaN(r.Value) {
		return "--"
	}
	v := fmt.Sprintf("%.*f", prec, r.Value)
	if !r.OK {
		v += "!"
	}
	return v
}

func valves(s process.Snapshot) string {
	b := []byte("---")
	if s.Outputs.O2 {
		b[0] = 'O'
	}
	if s.Outputs.CO2 {
		b[1] = 'C'
	}
	if s.Outputs.Air {
		b[2] = 'A'
	}
	return string(b)
}

func duration(ms common.Millis) string {
	return ms.Duration().Truncate(time.Second).String()
}

var _ process.Reporter = &Console{}
