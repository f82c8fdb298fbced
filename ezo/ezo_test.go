// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package ezo

import (
	"errors"
	"testing"
	"time"

	"github.com/GermanBionicSystems/bioreactor/common"
	"periph.io/x/conn/v3/i2c/i2ctest"
)

const phAddr uint16 = 0x63

// response builds a 64 byte read buffer as returned by the circuit.
func response(code byte, text string) []byte {
	b := make([]byte, bufferSize)
	b[0] = code
	copy(b[1:], text)
	return b
}

func readCmd(addr uint16) i2ctest.IO {
	return i2ctest.IO{Addr: addr, W: []byte{'R', 0}}
}

func readResp(addr uint16, code byte, text string) i2ctest.IO {
	return i2ctest.IO{Addr: addr, R: response(code, text)}
}

func newDev(t *testing.T, v Variant, ops ...i2ctest.IO) (*Dev, *i2ctest.Playback) {
	t.Helper()
	bus := &i2ctest.Playback{Ops: ops, DontPanic: true}
	dev, err := New(bus, v, &Opts{Sleep: func(time.Duration) {}})
	if err != nil {
		t.Fatal(err)
	}
	return dev, bus
}

func TestNewNilBus(t *testing.T) {
	if _, err := New(nil, PH, nil); err == nil {
		t.Fatal("expected error for nil bus")
	}
}

func TestReadCycle(t *testing.T) {
	dev, bus := newDev(t, PH,
		readCmd(phAddr),
		readResp(phAddr, respPending, ""),
		readResp(phAddr, respSuccess, "7.00"),
	)
	if dev.Status() != StatusInitialized {
		t.Errorf("status %s, expected initialized", dev.Status())
	}
	dev.Update(1000)
	if dev.State() != Waiting {
		t.Fatalf("state %s, expected waiting", dev.State())
	}
	// Not due yet: no request is re-issued and nothing is read.
	dev.Update(1010)
	dev.Update(1049)
	if bus.Count != 2 {
		t.Fatalf("bus count %d, expected 2", bus.Count)
	}
	dev.Update(1050)
	if dev.State() != Idle || dev.Status() != StatusOK {
		t.Fatalf("state %s status %s", dev.State(), dev.Status())
	}
	if v := dev.Value(); v != 7.0 {
		t.Errorf("value %f, expected 7.0", v)
	}
	if age := dev.Age(1150); age != 100 {
		t.Errorf("age %d, expected 100", age)
	}
	if err := bus.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestTimeout(t *testing.T) {
	dev, bus := newDev(t, PH,
		readCmd(phAddr),
		readResp(phAddr, respPending, ""),
		readCmd(phAddr),
		readResp(phAddr, respPending, ""),
	)
	dev.Update(0)
	dev.Update(901)
	if dev.State() != Error || dev.Status() != StatusTimeout {
		t.Fatalf("state %s status %s, expected error/timeout", dev.State(), dev.Status())
	}
	if bus.Count != 2 {
		t.Fatalf("timeout must not touch the bus, count %d", bus.Count)
	}
	// The next tick starts a new exchange.
	dev.Update(902)
	if dev.State() != Waiting {
		t.Fatalf("state %s, expected waiting", dev.State())
	}
	if err := bus.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestTimeoutAcrossWraparound(t *testing.T) {
	dev, _ := newDev(t, PH,
		readCmd(phAddr),
		readResp(phAddr, respPending, ""),
	)
	dev.Update(0xffffff00)
	dev.Update(0x00000300)
	if dev.Status() != StatusTimeout {
		t.Fatalf("status %s, expected timeout", dev.Status())
	}
}

func TestFailedToSend(t *testing.T) {
	dev, _ := newDev(t, PH)
	dev.Update(0)
	if dev.State() != Error || dev.Status() != StatusFailedToSend {
		t.Fatalf("state %s status %s", dev.State(), dev.Status())
	}
}

func TestRejectedValues(t *testing.T) {
	tests := []struct {
		name   string
		v      Variant
		text   string
		code   byte
		status Status
	}{
		{name: "zero", v: PH, code: respSuccess, text: "0.000", status: StatusParsingError},
		{name: "no digits", v: PH, code: respSuccess, text: "*ER", status: StatusParsingError},
		{name: "probe missing", v: RTD, code: respSuccess, text: "-1023.000", status: StatusParsingError},
		{name: "no data", v: PH, code: 0xff, status: StatusDeviceError},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			addr := tc.v.Addr
			dev, _ := newDev(t, tc.v,
				readCmd(addr),
				readResp(addr, respSuccess, "25.5"),
				readCmd(addr),
				readResp(addr, tc.code, tc.text),
			)
			dev.Update(0)
			if dev.Value() != 25.5 {
				t.Fatalf("value %f", dev.Value())
			}
			dev.Update(1000)
			if dev.State() != Error || dev.Status() != tc.status {
				t.Fatalf("state %s status %s, expected %s", dev.State(), dev.Status(), tc.status)
			}
			if dev.Value() != 25.5 {
				t.Errorf("previous value must be kept, got %f", dev.Value())
			}
		})
	}
}

func TestCommLoss(t *testing.T) {
	dev, _ := newDev(t, PH,
		readCmd(phAddr),
		readResp(phAddr, respSuccess, "6.80"),
		readCmd(phAddr),
		readResp(phAddr, respPending, ""),
	)
	if dev.Age(0) != Never {
		t.Errorf("age before first read must be Never")
	}
	dev.Update(100)
	if dev.Value() != 6.8 {
		t.Fatalf("value %f", dev.Value())
	}
	dev.Update(100 + 15000)
	if dev.Value() != 6.8 {
		t.Fatalf("value must survive up to the comm loss window, got %f", dev.Value())
	}
	dev.Update(100 + 15001)
	if dev.Value() != 0 {
		t.Errorf("value %f, expected decay to 0", dev.Value())
	}
}

func TestParseValue(t *testing.T) {
	tests := []struct {
		in   string
		want float64
	}{
		{in: "\r\n7.00\r", want: 7.0},
		{in: "7.00", want: 7.0},
		{in: "  -12.5 ", want: -12.5},
		{in: "?T,25.104", want: 25.104},
		{in: "4.12,extra", want: 4.12},
		{in: "abc", want: 0},
		{in: "", want: 0},
		{in: "-.", want: 0},
		{in: "9.1\x00garbage", want: 9.1},
	}
	for _, tc := range tests {
		if got := parseValue([]byte(tc.in)); got != tc.want {
			t.Errorf("parseValue(%q)=%f, expected %f", tc.in, got, tc.want)
		}
	}
}

func TestCalibrate(t *testing.T) {
	var slept []time.Duration
	bus := &i2ctest.Playback{
		Ops: []i2ctest.IO{
			{Addr: phAddr, R: response(respPending, "")},
			{Addr: phAddr, W: append([]byte("Cal,mid,7.00"), 0)},
			{Addr: phAddr, R: response(respSuccess, "")},
		},
		DontPanic: true,
	}
	dev, err := New(bus, PH, &Opts{Sleep: func(d time.Duration) { slept = append(slept, d) }})
	if err != nil {
		t.Fatal(err)
	}
	if err := dev.Calibrate(CalMid); err != nil {
		t.Fatal(err)
	}
	if len(slept) != 2 || slept[0] != calibrationDelay || slept[1] != calibrationDelay {
		t.Errorf("unexpected sleeps %v", slept)
	}
	if err := bus.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestCalibrateRejected(t *testing.T) {
	dev, _ := newDev(t, RTD,
		i2ctest.IO{Addr: RTD.Addr, R: response(respSuccess, "")},
		i2ctest.IO{Addr: RTD.Addr, W: append([]byte("Cal,100.00"), 0)},
		i2ctest.IO{Addr: RTD.Addr, R: response(respFailed, "")},
	)
	if err := dev.Calibrate(CalReference); !errors.Is(err, ErrCalibrationRejected) {
		t.Fatalf("got %v, expected ErrCalibrationRejected", err)
	}
}

func TestCalibrateUnsupported(t *testing.T) {
	dev, bus := newDev(t, RTD)
	if err := dev.Calibrate(CalMid); !errors.Is(err, ErrUnsupportedCalibration) {
		t.Fatalf("got %v", err)
	}
	if bus.Count != 0 {
		t.Errorf("unsupported point must not touch the bus")
	}
}

func TestCalibrateAllOrder(t *testing.T) {
	var ops []i2ctest.IO
	for _, cmd := range []string{"Cal,mid,7.00", "Cal,low,4.00", "Cal,high,10.00"} {
		ops = append(ops,
			i2ctest.IO{Addr: phAddr, R: response(respSuccess, "")},
			i2ctest.IO{Addr: phAddr, W: append([]byte(cmd), 0)},
			i2ctest.IO{Addr: phAddr, R: response(respSuccess, "")},
		)
	}
	dev, bus := newDev(t, PH, ops...)
	var order []CalPoint
	err := dev.CalibrateAll(func(p CalPoint) error {
		order = append(order, p)
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(order) != 3 || order[0] != CalMid || order[1] != CalLow || order[2] != CalHigh {
		t.Errorf("order %v", order)
	}
	if err := bus.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestStrings(t *testing.T) {
	if StatusTimeout.String() != "timeout exceeded" {
		t.Error(StatusTimeout.String())
	}
	if Status(99).String() != "Status(99)" {
		t.Error(Status(99).String())
	}
	if !StatusInitialized.Healthy() || StatusDeviceError.Healthy() {
		t.Error("Healthy")
	}
	dev, _ := newDev(t, PH)
	if dev.String() != "ezo-ph" {
		t.Error(dev.String())
	}
	if Never != common.Millis(0xffffffff) {
		t.Error("Never must be the largest Millis")
	}
}
