// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package rtu implements the parts of Modbus RTU needed to poll sensors over
// an RS485 line: holding register requests, response framing and checking,
// and a non-blocking request/response link.
//
// Nothing in this package waits for the line. Link.Poll() consumes whatever
// bytes are already buffered by the serial driver and returns immediately.
package rtu

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"

	"github.com/GermanBionicSystems/bioreactor/common"
	"go.bug.st/serial"
)

// FuncReadHoldingRegisters is the only function code used here.
const FuncReadHoldingRegisters byte = 0x03

// MaxFrame is the largest response accepted. Longer responses are rejected.
const MaxFrame = 64

const (
	exceptionBit byte = 0x80
	// address, function, byte count and CRC.
	overhead = 5
)

var (
	// ErrCRC is returned when a frame's checksum does not match.
	ErrCRC = errors.New("rtu: crc mismatch")
	// ErrBadFrame is returned for frames with an unexpected layout.
	ErrBadFrame = errors.New("rtu: malformed frame")
	// ErrException is returned when the slave answers with an exception.
	ErrException = errors.New("rtu: exception response")
	// ErrTimeout is returned when no complete frame arrived in time.
	ErrTimeout = errors.New("rtu: response timeout")
)

// ReadHoldingRegisters builds a read request for count registers starting at
// register. register is numbered from 1 as in device manuals; the start
// address on the wire is register-1.
func ReadHoldingRegisters(addr byte, register, count uint16) []byte {
	f := make([]byte, 6, 8)
	f[0] = addr
	f[1] = FuncReadHoldingRegisters
	binary.BigEndian.PutUint16(f[2:], register-1)
	binary.BigEndian.PutUint16(f[4:], count)
	return appendCRC(f)
}

func appendCRC(f []byte) []byte {
	c := common.CRC16(f)
	return append(f, byte(c), byte(c>>8))
}

// checkCRC verifies the trailing CRC of a frame.
func checkCRC(f []byte) bool {
	if len(f) < 3 {
		return false
	}
	n := len(f) - 2
	return common.CRC16(f[:n]) == binary.LittleEndian.Uint16(f[n:])
}

// ParseReadResponse validates a read holding registers response from addr
// and returns its data block, which must hold at least minData bytes.
func ParseReadResponse(f []byte, addr byte, minData int) ([]byte, error) {
	if len(f) < overhead {
		return nil, fmt.Errorf("%w: %d bytes", ErrBadFrame, len(f))
	}
	if !checkCRC(f) {
		return nil, ErrCRC
	}
	if f[0] != addr {
		return nil, fmt.Errorf("%w: address %d, expected %d", ErrBadFrame, f[0], addr)
	}
	if f[1] == FuncReadHoldingRegisters|exceptionBit {
		return nil, fmt.Errorf("%w: code %d", ErrException, f[2])
	}
	if f[1] != FuncReadHoldingRegisters {
		return nil, fmt.Errorf("%w: function 0x%02x", ErrBadFrame, f[1])
	}
	count := int(f[2])
	if count < minData || len(f) < count+overhead {
		return nil, fmt.Errorf("%w: byte count %d", ErrBadFrame, count)
	}
	return f[3 : 3+count], nil
}

// Float32LSWFirst decodes an IEEE-754 value sent as two 16 bit words, low
// word first, each word low byte first. {0x00, 0x00, 0x80, 0x3F} is 1.0.
func Float32LSWFirst(b []byte) float32 {
	return math.Float32frombits(binary.LittleEndian.Uint32(b))
}

// Float32WordSwapped decodes an IEEE-754 value sent as two big endian 16 bit
// words, low word first. {0x00, 0x00, 0x3F, 0x80} is 1.0.
func Float32WordSwapped(b []byte) float32 {
	lo := uint32(binary.BigEndian.Uint16(b))
	hi := uint32(binary.BigEndian.Uint16(b[2:]))
	return math.Float32frombits(hi<<16 | lo)
}

// Receiver accumulates the bytes of one response.
type Receiver struct {
	buf [MaxFrame]byte
	n   int
}

// Reset drops any buffered bytes.
func (r *Receiver) Reset() {
	r.n = 0
}

// Len returns the number of buffered bytes.
func (r *Receiver) Len() int {
	return r.n
}

// ReadFrom performs a single read from src into the free part of the buffer.
func (r *Receiver) ReadFrom(src io.Reader) error {
	if r.n == len(r.buf) {
		return nil
	}
	n, err := src.Read(r.buf[r.n:])
	if n > 0 {
		r.n += n
	}
	return err
}

// Frame returns the buffered frame once it is complete. A frame whose
// announced length cannot fit the buffer is returned with ErrBadFrame.
func (r *Receiver) Frame() ([]byte, bool, error) {
	if r.n < overhead {
		return nil, false, nil
	}
	want := int(r.buf[2]) + overhead
	if r.buf[1]&exceptionBit != 0 {
		want = overhead
	}
	if want > len(r.buf) {
		return r.buf[:r.n], true, fmt.Errorf("%w: announced %d bytes", ErrBadFrame, want)
	}
	if r.n < want {
		return nil, false, nil
	}
	return r.buf[:want], true, nil
}

// Port is the serial line. go.bug.st/serial ports opened with Open satisfy
// it.
type Port interface {
	io.ReadWriter
	ResetInputBuffer() error
}

// Open opens an RS485 adapter at baud, 8 data bits, no parity, 2 stop bits,
// with reads that never wait.
func Open(name string, baud int) (serial.Port, error) {
	p, err := serial.Open(name, &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.TwoStopBits,
	})
	if err != nil {
		return nil, fmt.Errorf("rtu: open %s: %w", name, err)
	}
	if err := p.SetReadTimeout(0); err != nil {
		_ = p.Close()
		return nil, fmt.Errorf("rtu: %s: %w", name, err)
	}
	return p, nil
}

// Link carries one outstanding request at a time over a Port.
type Link struct {
	port    Port
	timeout common.Millis
	rx      Receiver
	sentAt  common.Millis
	busy    bool
}

// NewLink returns a Link that gives up on a response after timeout.
func NewLink(port Port, timeout common.Millis) *Link {
	return &Link{port: port, timeout: timeout}
}

// Send discards stale input and writes the request.
func (l *Link) Send(frame []byte, now common.Millis) error {
	l.busy = false
	l.rx.Reset()
	if err := l.port.ResetInputBuffer(); err != nil {
		return fmt.Errorf("rtu: reset input: %w", err)
	}
	if _, err := l.port.Write(frame); err != nil {
		return fmt.Errorf("rtu: write: %w", err)
	}
	l.busy = true
	l.sentAt = now
	return nil
}

// Poll collects buffered input. done is true once the request is settled:
// either a frame is returned, or err tells why none will come.
func (l *Link) Poll(now common.Millis) (frame []byte, done bool, err error) {
	if !l.busy {
		return nil, false, nil
	}
	if err := l.rx.ReadFrom(l.port); err != nil {
		l.busy = false
		return nil, true, fmt.Errorf("rtu: read: %w", err)
	}
	if f, ok, err := l.rx.Frame(); ok {
		l.busy = false
		return f, true, err
	}
	if now.Since(l.sentAt) > l.timeout {
		l.busy = false
		return nil, true, ErrTimeout
	}
	return nil, false, nil
}

// Busy reports whether a request is outstanding.
func (l *Link) Busy() bool {
	return l.busy
}

// Abort forgets the outstanding request.
func (l *Link) Abort() {
	l.busy = false
	l.rx.Reset()
}
