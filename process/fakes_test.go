// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package process

import (
	"errors"

	"github.com/GermanBionicSystems/bioreactor/common"
	"github.com/GermanBionicSystems/bioreactor/ezo"
	"github.com/GermanBionicSystems/bioreactor/gmp251"
	"github.com/GermanBionicSystems/bioreactor/statusled"
	"github.com/GermanBionicSystems/bioreactor/store"
	"github.com/GermanBionicSystems/bioreactor/visiferm"
)

type fakeProbe struct {
	value      float64
	status     ezo.Status
	updates    int
	calibrated []ezo.CalPoint
	calErr     error
}

func (f *fakeProbe) Update(now common.Millis) { f.updates++ }
func (f *fakeProbe) Value() float64           { return f.value }
func (f *fakeProbe) Status() ezo.Status       { return f.status }

func (f *fakeProbe) Calibrate(p ezo.CalPoint) error {
	f.calibrated = append(f.calibrated, p)
	return f.calErr
}

type fakeDO struct {
	oxygen  float64
	status  visiferm.Status
	updates int
}

func (f *fakeDO) Update(now common.Millis) visiferm.Status {
	f.updates++
	return f.status
}
func (f *fakeDO) Oxygen() float64         { return f.oxygen }
func (f *fakeDO) Temperature() float64    { return 36.9 }
func (f *fakeDO) Status() visiferm.Status { return f.status }

type fakeCO2 struct {
	ppm    float64
	status gmp251.Status
}

func (f *fakeCO2) Update(now common.Millis) {}
func (f *fakeCO2) Value() float64           { return f.ppm }
func (f *fakeCO2) Status() gmp251.Status    { return f.status }
func (f *fakeCO2) Healthy() bool {
	return f.status == gmp251.StatusOK || f.status == gmp251.StatusInitialized
}

type fakeO2 struct {
	v     float64
	err   error
	reads int
}

func (f *fakeO2) Read() (float64, error) {
	f.reads++
	return f.v, f.err
}

type fakeAir struct {
	t  float64
	ok bool
}

func (f *fakeAir) Update(now common.Millis)     {}
func (f *fakeAir) Temperature() (float64, bool) { return f.t, f.ok }

type fakeDoor struct {
	open bool
}

func (f *fakeDoor) IsOpen() (bool, error) { return f.open, nil }

type fakeLED struct {
	states []statusled.State
}

func (f *fakeLED) Update(s statusled.State, now common.Millis) error {
	f.states = append(f.states, s)
	return nil
}

func (f *fakeLED) last() statusled.State {
	return f.states[len(f.states)-1]
}

type fakeActuators struct {
	last  Outputs
	calls int
}

func (f *fakeActuators) Apply(o Outputs, now common.Millis) error {
	f.last = o
	f.calls++
	return nil
}

type memStore struct {
	floats map[string]float64
	ints   map[string]int
	fail   bool
}

func newMemStore() *memStore {
	return &memStore{floats: map[string]float64{}, ints: map[string]int{}}
}

func (m *memStore) Float(key string) (float64, error) {
	v, ok := m.floats[key]
	if !ok {
		return 0, store.ErrNotFound
	}
	return v, nil
}

func (m *memStore) PutFloat(key string, v float64) error {
	if m.fail {
		return errors.New("disk full")
	}
	m.floats[key] = v
	return nil
}

func (m *memStore) Int(key string) (int, error) {
	v, ok := m.ints[key]
	if !ok {
		return 0, store.ErrNotFound
	}
	return v, nil
}

func (m *memStore) PutInt(key string, v int) error {
	if m.fail {
		return errors.New("disk full")
	}
	m.ints[key] = v
	return nil
}

type fakeWatchdog struct {
	kicks int
}

func (f *fakeWatchdog) Kick() error {
	f.kicks++
	return nil
}

type fakeReporter struct {
	snaps []Snapshot
}

func (f *fakeReporter) Report(s Snapshot) error {
	f.snaps = append(f.snaps, s)
	return nil
}

// rig is a Bioreactor wired to fakes.
type rig struct {
	*Bioreactor
	clock    *common.ManualClock
	ph       *fakeProbe
	water    *fakeProbe
	do       *fakeDO
	co2      *fakeCO2
	o2       *fakeO2
	air      *fakeAir
	door     *fakeDoor
	led      *fakeLED
	act      *fakeActuators
	store    *memStore
	watchdog *fakeWatchdog
	reporter *fakeReporter
}

func newRig(st *memStore, start common.Millis) (*rig, error) {
	r := &rig{
		clock:    common.NewManualClock(start),
		ph:       &fakeProbe{value: 7, status: ezo.StatusOK},
		water:    &fakeProbe{value: 37, status: ezo.StatusOK},
		do:       &fakeDO{oxygen: 98, status: visiferm.StatusOK},
		co2:      &fakeCO2{ppm: 50000, status: gmp251.StatusOK},
		o2:       &fakeO2{v: 85},
		air:      &fakeAir{t: 36.5, ok: true},
		door:     &fakeDoor{},
		led:      &fakeLED{},
		act:      &fakeActuators{},
		store:    st,
		watchdog: &fakeWatchdog{},
		reporter: &fakeReporter{},
	}
	b, err := New(Deps{
		PH:        r.ph,
		Water:     r.water,
		DO:        r.do,
		CO2:       r.co2,
		O2:        r.o2,
		Air:       r.air,
		Door:      r.door,
		LED:       r.led,
		Actuators: r.act,
		Store:     st,
		Watchdog:  r.watchdog,
		Reporter:  r.reporter,
		Clock:     r.clock,
	}, DefaultConfig())
	if err != nil {
		return nil, err
	}
	r.Bioreactor = b
	return r, nil
}
