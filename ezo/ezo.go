// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package ezo drives Atlas Scientific EZO circuits (pH, RTD temperature) over
// I²C without ever blocking the control loop.
//
// A reading is a two step exchange: the host writes the "R" command, then
// reads back a status byte followed by the ASCII value once the circuit has
// finished converting, which takes up to 900ms. Update() performs at most one
// bus transaction per call and is meant to be called from a periodic tick.
//
// Calibration is the exception: Calibrate() sleeps while the circuit
// processes the command and must only be called from a maintenance path.
//
// # Datasheet
//
// https://files.atlas-scientific.com/pH_EZO_Datasheet.pdf
//
// https://files.atlas-scientific.com/EZO_RTD_Datasheet.pdf
package ezo

import (
	"bytes"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/GermanBionicSystems/bioreactor/common"
	"periph.io/x/conn/v3"
	"periph.io/x/conn/v3/i2c"
)

// Status is the outcome of the last exchange with the circuit.
type Status int

const (
	StatusNotInitialised Status = iota
	StatusInitialized
	StatusOK
	StatusFailedToSend
	StatusTimeout
	StatusParsingError
	StatusDeviceError
)

func (s Status) String() string {
	switch s {
	case StatusNotInitialised:
		return "not initialised"
	case StatusInitialized:
		return "initialized"
	case StatusOK:
		return "ok"
	case StatusFailedToSend:
		return "failed to send request"
	case StatusTimeout:
		return "timeout exceeded"
	case StatusParsingError:
		return "parsing error"
	case StatusDeviceError:
		return "device error"
	}
	return "Status(" + strconv.Itoa(int(s)) + ")"
}

// Healthy reports whether the status permits using the cached value.
func (s Status) Healthy() bool {
	return s == StatusOK || s == StatusInitialized
}

// State is the position of the request/response exchange.
type State int

const (
	Idle State = iota
	Waiting
	Error
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Waiting:
		return "waiting"
	case Error:
		return "error"
	}
	return "State(" + strconv.Itoa(int(s)) + ")"
}

// CalPoint names a calibration reference.
type CalPoint int

const (
	CalLow CalPoint = iota
	CalMid
	CalHigh
	CalReference
)

func (p CalPoint) String() string {
	switch p {
	case CalLow:
		return "low"
	case CalMid:
		return "mid"
	case CalHigh:
		return "high"
	case CalReference:
		return "reference"
	}
	return "CalPoint(" + strconv.Itoa(int(p)) + ")"
}

// Variant describes one kind of EZO circuit.
type Variant struct {
	Name string
	Addr uint16
	// Fault reports a value the circuit produces when its probe is missing
	// or broken. nil means any non-zero value is accepted.
	Fault func(v float64) bool
	// Calibrations maps each supported point to its command text.
	Calibrations map[CalPoint]string
	// Sequence is the order CalibrateAll() runs the points in.
	Sequence []CalPoint
}

// PH is the EZO-pH circuit at its factory address.
//
// Calibrating the mid point clears the low and high points on the circuit,
// so mid must always come first.
var PH = Variant{
	Name: "ph",
	Addr: 0x63,
	Calibrations: map[CalPoint]string{
		CalLow:  "Cal,low,4.00",
		CalMid:  "Cal,mid,7.00",
		CalHigh: "Cal,high,10.00",
	},
	Sequence: []CalPoint{CalMid, CalLow, CalHigh},
}

// RTD is the EZO-RTD temperature circuit at its factory address. It reports
// -1023 °C when no probe is connected.
var RTD = Variant{
	Name:  "rtd",
	Addr:  0x66,
	Fault: func(v float64) bool { return v < -50 },
	Calibrations: map[CalPoint]string{
		CalReference: "Cal,100.00",
	},
	Sequence: []CalPoint{CalReference},
}

// ErrUnsupportedCalibration is returned when a variant has no command for
// the requested point.
var ErrUnsupportedCalibration = errors.New("ezo: unsupported calibration point")

// ErrCalibrationRejected is returned when the circuit answers a calibration
// command with a failure code.
var ErrCalibrationRejected = errors.New("ezo: calibration rejected")

// Never is the age reported before the first successful reading.
const Never = ^common.Millis(0)

const (
	respSuccess byte = 0x01
	respFailed  byte = 0x02
	respPending byte = 0xfe

	bufferSize = 64

	pollInterval  common.Millis = 50
	maxConversion common.Millis = 900
	commLoss      common.Millis = 15000

	calibrationDelay = 900 * time.Millisecond
)

var cmdRead = []byte{'R', 0}

// Opts holds the optional settings of a Dev.
type Opts struct {
	// Sleep is used by the blocking calibration path. Defaults to time.Sleep.
	Sleep func(time.Duration)
}

// Dev is one EZO circuit.
type Dev struct {
	d     i2c.Dev
	v     Variant
	sleep func(time.Duration)

	state     State
	status    Status
	value     float64
	sentAt    common.Millis
	pollAfter common.Millis // relative to sentAt
	lastRead  common.Millis
	seen      bool
	buf       [bufferSize]byte
}

// New returns a Dev talking to the circuit described by v on bus.
func New(bus i2c.Bus, v Variant, opts *Opts) (*Dev, error) {
	if bus == nil {
		return nil, errors.New("ezo: nil bus")
	}
	dev := &Dev{
		d:      i2c.Dev{Bus: bus, Addr: v.Addr},
		v:      v,
		sleep:  time.Sleep,
		status: StatusInitialized,
	}
	if opts != nil && opts.Sleep != nil {
		dev.sleep = opts.Sleep
	}
	return dev, nil
}

// Update advances the exchange by at most one bus transaction.
func (dev *Dev) Update(now common.Millis) {
	if dev.seen && now.Since(dev.lastRead) > commLoss {
		dev.value = 0
	}
	dev.request(now)
	if dev.state != Waiting {
		return
	}
	elapsed := now.Since(dev.sentAt)
	if elapsed < dev.pollAfter {
		return
	}
	if elapsed > maxConversion {
		dev.state = Error
		dev.status = StatusTimeout
		return
	}
	dev.poll(now, elapsed)
}

// request issues a read command unless one is already outstanding.
func (dev *Dev) request(now common.Millis) {
	if dev.state == Waiting {
		return
	}
	if err := dev.d.Tx(cmdRead, nil); err != nil {
		dev.state = Error
		dev.status = StatusFailedToSend
		return
	}
	dev.state = Waiting
	dev.sentAt = now
	dev.pollAfter = 0
}

func (dev *Dev) poll(now, elapsed common.Millis) {
	if err := dev.d.Tx(nil, dev.buf[:]); err != nil {
		dev.pollAfter = elapsed + pollInterval
		return
	}
	switch dev.buf[0] {
	case respSuccess:
		v := parseValue(dev.buf[1:])
		if v == 0 || (dev.v.Fault != nil && dev.v.Fault(v)) {
			dev.state = Error
			dev.status = StatusParsingError
			return
		}
		dev.value = v
		dev.lastRead = now
		dev.seen = true
		dev.state = Idle
		dev.status = StatusOK
	case respPending, respFailed:
		dev.pollAfter = elapsed + pollInterval
	default:
		dev.state = Error
		dev.status = StatusDeviceError
	}
}

// parseValue extracts the number from a response payload. It returns 0 when
// the payload holds no number.
func parseValue(b []byte) float64 {
	if i := bytes.IndexByte(b, 0); i >= 0 {
		b = b[:i]
	}
	s := strings.TrimSpace(string(b))
	s = strings.TrimLeftFunc(s, func(r rune) bool {
		return !(r >= '0' && r <= '9') && r != '-' && r != '.'
	})
	v, err := strconv.ParseFloat(s[:numericPrefix(s)], 64)
	if err != nil {
		return 0
	}
	return v
}

// numericPrefix returns the length of the leading "-ddd.ddd" run of s.
func numericPrefix(s string) int {
	dot := false
	for i, r := range s {
		switch {
		case r >= '0' && r <= '9':
		case r == '-' && i == 0:
		case r == '.' && !dot:
			dot = true
		default:
			return i
		}
	}
	return len(s)
}

// Value returns the last accepted reading. It decays to 0 once the circuit
// has been silent for longer than the communication loss window.
func (dev *Dev) Value() float64 {
	return dev.value
}

// Status returns the outcome of the last exchange.
func (dev *Dev) Status() Status {
	return dev.status
}

// State returns the position of the exchange.
func (dev *Dev) State() State {
	return dev.state
}

// Age returns the time elapsed since the last accepted reading, or Never.
func (dev *Dev) Age(now common.Millis) common.Millis {
	if !dev.seen {
		return Never
	}
	return now.Since(dev.lastRead)
}

// Calibrate sends the calibration command for point and waits for the
// circuit to process it. It blocks for about two seconds.
func (dev *Dev) Calibrate(point CalPoint) error {
	cmd, ok := dev.v.Calibrations[point]
	if !ok {
		return fmt.Errorf("%w: %s %s", ErrUnsupportedCalibration, dev.v.Name, point)
	}
	// Drop whatever response is still pending.
	dev.sleep(calibrationDelay)
	_ = dev.d.Tx(nil, dev.buf[:])
	dev.state = Idle

	if err := dev.d.Tx(append([]byte(cmd), 0), nil); err != nil {
		dev.state = Error
		dev.status = StatusFailedToSend
		return fmt.Errorf("ezo: %s calibration %s: %w", dev.v.Name, point, err)
	}
	dev.sleep(calibrationDelay)
	if err := dev.d.Tx(nil, dev.buf[:]); err != nil {
		return fmt.Errorf("ezo: %s calibration %s: %w", dev.v.Name, point, err)
	}
	switch dev.buf[0] {
	case respSuccess:
		return nil
	case respFailed:
		return fmt.Errorf("%w: %s %s", ErrCalibrationRejected, dev.v.Name, point)
	}
	return fmt.Errorf("ezo: %s calibration %s: unexpected response 0x%02x", dev.v.Name, point, dev.buf[0])
}

// CalibrateAll runs every calibration point of the variant in order. The
// probe must be moved to the matching reference solution between points, so
// next is called before each one and may block until the operator is ready.
func (dev *Dev) CalibrateAll(next func(CalPoint) error) error {
	for _, p := range dev.v.Sequence {
		if next != nil {
			if err := next(p); err != nil {
				return err
			}
		}
		if err := dev.Calibrate(p); err != nil {
			return err
		}
	}
	return nil
}

// Variant returns the circuit description.
func (dev *Dev) Variant() Variant {
	return dev.v
}

func (dev *Dev) String() string {
	return "ezo-" + dev.v.Name
}

// Halt implements conn.Resource. The circuit has nothing to stop.
func (dev *Dev) Halt() error {
	return nil
}

var _ conn.Resource = &Dev{}
