// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package sht4x

import (
	"math"
	"testing"

	"github.com/GermanBionicSystems/bioreactor/common"
	"periph.io/x/conn/v3/i2c/i2ctest"
	"periph.io/x/conn/v3/physic"
)

const addr = uint16(DefaultAddress)

// answer builds a 6 byte measurement answer with valid CRCs.
func answer(t, rh uint16) []byte {
	b := []byte{byte(t >> 8), byte(t), 0, byte(rh >> 8), byte(rh), 0}
	b[2] = common.CRC8(b[:2])
	b[5] = common.CRC8(b[3:5])
	return b
}

func getDev(t *testing.T, r Repeatability, ops ...i2ctest.IO) (*Dev, *i2ctest.Playback) {
	t.Helper()
	bus := &i2ctest.Playback{Ops: ops, DontPanic: true}
	dev, err := New(bus, DefaultAddress, &Opts{Repeatability: r})
	if err != nil {
		t.Fatal(err)
	}
	return dev, bus
}

func TestCountToTemp(t *testing.T) {
	temp := countToTemp(0)
	if temp != minTemperature {
		t.Errorf("invalid temperature %s. Expected -40", temp)
	}
	temp = countToTemp(0xffff)
	if temp != maxTemperature {
		t.Errorf("invalid temperature %s. Expected 125", temp)
	}
	temp = countToTemp(0x8000)
	tTest := 42.5 + physic.ZeroCelsius.Celsius()
	diff := physic.Temperature(math.Abs(tTest-float64(temp.Celsius()))) * physic.Kelvin
	if diff > 2*physic.MilliKelvin {
		t.Errorf("invalid temperature expected %f. got %s diff=%s", tTest, temp, diff)
	}
}

func TestCountToHumidity(t *testing.T) {
	rh := countToHumidity(0)
	if rh != minRH {
		t.Errorf("received RH %s expected %s", rh, minRH)
	}
	rh = countToHumidity(0xffff)
	if rh != maxRH {
		t.Errorf("received RH %s expected %s", rh, maxRH)
	}
}

func TestSense(t *testing.T) {
	dev, bus := getDev(t, High,
		i2ctest.IO{Addr: addr, W: []byte{0xfd}},
		i2ctest.IO{Addr: addr, R: answer(0x6666, 0x8000)},
	)
	env := &physic.Env{}
	if err := dev.Sense(env); err != nil {
		t.Fatal(err)
	}
	// 0x6666 is 40% of full scale: -45 + 175*0.4 = 25 °C.
	if c := env.Temperature.Celsius(); math.Abs(c-25) > 0.01 {
		t.Errorf("temperature %f", c)
	}
	if err := bus.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestSenseCRC(t *testing.T) {
	bad := answer(0x6666, 0x8000)
	bad[2] ^= 0xff
	dev, _ := getDev(t, High,
		i2ctest.IO{Addr: addr, W: []byte{0xfd}},
		i2ctest.IO{Addr: addr, R: bad},
	)
	env := &physic.Env{}
	if err := dev.Sense(env); err == nil {
		t.Fatal("expected a crc error")
	}
	if env.Temperature != minTemperature {
		t.Errorf("failed read must report the minimum")
	}
}

func TestUpdate(t *testing.T) {
	dev, bus := getDev(t, Low,
		i2ctest.IO{Addr: addr, W: []byte{0xe0}},
		i2ctest.IO{Addr: addr, R: answer(0x6666, 0x8000)},
		i2ctest.IO{Addr: addr, W: []byte{0xe0}},
	)
	if _, ok := dev.Temperature(); ok {
		t.Fatal("no reading yet")
	}
	dev.Update(100)
	// The 2ms conversion is not over: the bus is left alone.
	dev.Update(101)
	if bus.Count != 1 {
		t.Fatalf("bus count %d", bus.Count)
	}
	dev.Update(102)
	c, ok := dev.Temperature()
	if !ok || math.Abs(c-25) > 0.01 {
		t.Fatalf("temperature %f ok=%t", c, ok)
	}
	if h, _ := dev.Humidity(); math.Abs(h-56.5) > 0.01 {
		t.Errorf("humidity %f", h)
	}
	dev.Update(200)
	if err := bus.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestUpdateError(t *testing.T) {
	dev, _ := getDev(t, High)
	dev.Update(0)
	if _, ok := dev.Temperature(); ok || dev.Err() == nil {
		t.Fatal("a failed transmit must invalidate the reading")
	}
}

func TestReset(t *testing.T) {
	dev, _ := getDev(t, High, i2ctest.IO{Addr: addr, W: []byte{cmdSoftReset}})
	if err := dev.Reset(); err != nil {
		t.Error(err)
	}
}

func TestSerialNumber(t *testing.T) {
	dev, _ := getDev(t, High,
		i2ctest.IO{Addr: addr, W: []byte{cmdReadSerialNumber}},
		i2ctest.IO{Addr: addr, R: answer(0x1234, 0x5678)},
	)
	sn, err := dev.SerialNumber()
	if err != nil {
		t.Fatal(err)
	}
	if sn != 0x12345678 {
		t.Errorf("serial 0x%x", sn)
	}
}

func TestNew(t *testing.T) {
	if _, err := New(nil, DefaultAddress, nil); err == nil {
		t.Error("nil bus must be rejected")
	}
	if _, err := New(&i2ctest.Playback{}, DefaultAddress, &Opts{Repeatability: Repeatability(7)}); err == nil {
		t.Error("invalid repeatability must be rejected")
	}
}
