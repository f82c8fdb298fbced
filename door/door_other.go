// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

//go:build !linux

package door

import "errors"

// OpenChip is only supported on linux.
func OpenChip(chip string, offset int) (*Switch, error) {
	return nil, errors.New("door: gpio character devices require linux")
}
