// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package common

import (
	"sync"
	"time"
)

// Millis is a free-running millisecond counter. It wraps around after about
// 49.7 days; every comparison must go through Since so that the wraparound is
// harmless.
type Millis uint32

// Since returns the number of milliseconds elapsed from earlier to m.
func (m Millis) Since(earlier Millis) Millis {
	return m - earlier
}

// Add returns m shifted by d.
func (m Millis) Add(d Millis) Millis {
	return m + d
}

// Duration converts a millisecond count to a time.Duration.
func (m Millis) Duration() time.Duration {
	return time.Duration(m) * time.Millisecond
}

// MillisOf converts d to milliseconds, saturating at the largest Millis value.
func MillisOf(d time.Duration) Millis {
	ms := d.Milliseconds()
	switch {
	case ms <= 0:
		return 0
	case ms > int64(^Millis(0)):
		return ^Millis(0)
	}
	return Millis(ms)
}

// Window is an interval that starts at Start and lasts Length milliseconds.
type Window struct {
	Start  Millis
	Length Millis
}

// Active reports whether now falls inside the window.
func (w Window) Active(now Millis) bool {
	return now.Since(w.Start) < w.Length
}

// Clock returns the current time as a Millis value.
type Clock interface {
	Now() Millis
}

// Monotonic is a Clock backed by the runtime monotonic clock.
type Monotonic struct {
	start time.Time
}

// NewMonotonic returns a Clock that reads 0 at creation.
func NewMonotonic() *Monotonic {
	return &Monotonic{start: time.Now()}
}

// Now implements Clock.
func (m *Monotonic) Now() Millis {
	return Millis(uint64(time.Since(m.start).Milliseconds()))
}

// ManualClock is a Clock that only moves when told to.
type ManualClock struct {
	mu  sync.Mutex
	now Millis
}

// NewManualClock returns a ManualClock set to start.
func NewManualClock(start Millis) *ManualClock {
	return &ManualClock{now: start}
}

// Now implements Clock.
func (c *ManualClock) Now() Millis {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Set moves the clock to now.
func (c *ManualClock) Set(now Millis) {
	c.mu.Lock()
	c.now = now
	c.mu.Unlock()
}

// Advance moves the clock forward by d.
func (c *ManualClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(MillisOf(d))
	c.mu.Unlock()
}

var _ Clock = &Monotonic{}
var _ Clock = &ManualClock{}
