// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package rtutest is meant to be used to test drivers over a fake RS485 line.
package rtutest

import (
	"sync"

	"github.com/GermanBionicSystems/bioreactor/common"
)

// Port implements rtu.Port. Bytes queued with Feed are returned by Read in
// chunks of at most Chunk bytes; Read never blocks.
type Port struct {
	sync.Mutex
	Writes   [][]byte
	Resets   int
	Chunk    int
	ReadErr  error
	WriteErr error

	in []byte
}

// Feed queues bytes as if they had arrived on the line.
func (p *Port) Feed(b ...byte) {
	p.Lock()
	defer p.Unlock()
	p.in = append(p.in, b...)
}

// Pending returns the number of queued bytes not read yet.
func (p *Port) Pending() int {
	p.Lock()
	defer p.Unlock()
	return len(p.in)
}

// Read implements io.Reader.
func (p *Port) Read(b []byte) (int, error) {
	p.Lock()
	defer p.Unlock()
	if p.ReadErr != nil {
		return 0, p.ReadErr
	}
	n := len(p.in)
	if p.Chunk > 0 && n > p.Chunk {
		n = p.Chunk
	}
	n = copy(b, p.in[:n])
	p.in = p.in[n:]
	return n, nil
}

// Write implements io.Writer.
func (p *Port) Write(b []byte) (int, error) {
	p.Lock()
	defer p.Unlock()
	if p.WriteErr != nil {
		return 0, p.WriteErr
	}
	p.Writes = append(p.Writes, append([]byte(nil), b...))
	return len(b), nil
}

// ResetInputBuffer drops the queued bytes.
func (p *Port) ResetInputBuffer() error {
	p.Lock()
	defer p.Unlock()
	p.Resets++
	p.in = nil
	return nil
}

// Last returns the last written frame, or nil.
func (p *Port) Last() []byte {
	p.Lock()
	defer p.Unlock()
	if len(p.Writes) == 0 {
		return nil
	}
	return p.Writes[len(p.Writes)-1]
}

// Response builds a read holding registers response frame carrying data.
func Response(addr byte, data []byte) []byte {
	f := append([]byte{addr, 0x03, byte(len(data))}, data...)
	c := common.CRC16(f)
	return append(f, byte(c), byte(c>>8))
}

// Exception builds an exception response frame.
func Exception(addr, function, code byte) []byte {
	f := []byte{addr, function | 0x80, code}
	c := common.CRC16(f)
	return append(f, byte(c), byte(c>>8))
}
