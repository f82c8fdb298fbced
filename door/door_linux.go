// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

//go:build linux

package door

import (
	"errors"
	"fmt"

	"github.com/warthog618/go-gpiocdev"
)

// OpenChip requests line offset of the GPIO character device chip (for
// example "gpiochip0") as a pulled-up input.
func OpenChip(chip string, offset int) (*Switch, error) {
	c, err := gpiocdev.NewChip(chip)
	if err != nil {
		return nil, fmt.Errorf("door: open %s: %w", chip, err)
	}
	l, err := c.RequestLine(offset, gpiocdev.AsInput, gpiocdev.WithPullUp)
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("door: request line %d: %w", offset, err)
	}
	return New(&cdevLine{chip: c, line: l}), nil
}

type cdevLine struct {
	chip *gpiocdev.Chip
	line *gpiocdev.Line
}

func (l *cdevLine) Value() (int, error) {
	return l.line.Value()
}

// Close leaves the line as a pulled-up input before releasing it.
func (l *cdevLine) Close() error {
	var errs []error
	if err := l.line.Reconfigure(gpiocdev.AsInput, gpiocdev.WithPullUp); err != nil {
		errs = append(errs, fmt.Errorf("door: reconfigure: %w", err))
	}
	if err := l.line.Close(); err != nil {
		errs = append(errs, fmt.Errorf("door: close line: %w", err))
	}
	if err := l.chip.Close(); err != nil {
		errs = append(errs, fmt.Errorf("door: close chip: %w", err))
	}
	return errors.Join(errs...)
}
