// Copyright 2022 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package pi4ioe

import "periph.io/x/conn/v3/i2c"

// bank caches a register that spans the three ports.
type bank struct {
	i2c     *i2c.Dev
	address uint8
	got     bool
	cache   [ports]byte
}

func newBank(i2c *i2c.Dev, address uint8) bank {
	return bank{i2c: i2c, address: address}
}

func (b *bank) write(value [ports]byte, cached bool) error {
	if cached && b.got && value == b.cache {
		return nil
	}
	w := []byte{b.address, value[0], value[1], value[2]}
	if err := b.i2c.Tx(w, nil); err != nil {
		return err
	}
	b.got = true
	b.cache = value
	return nil
}
