// Copyright 2026 the u-root Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package edid caches the EDID blocks of the downstream sink.
//
// Fetching the bytes and retrying on checksum errors is the job of the
// Reader; this package only decides when to (re)read and keeps what was read
// stable for the lifetime of one connection.
package edid

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
)

const (
	BlockSize = 128
	// MaxBlocks is the number of blocks the cache holds: the base block and
	// up to two extensions.
	MaxBlocks = 3

	extensionCountOffset = 126
	dtdOffset            = 54
)

var header = []byte{0x00, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0x00}

var ErrBadHeader = errors.New("edid: bad base block header")

// Reader returns count consecutive EDID blocks starting at block 0, already
// validated by checksum.
type Reader interface {
	ReadEDIDBlocks(count int) ([]byte, error)
}

// Identity identifies a sink independent of its capabilities.
type Identity struct {
	Manufacturer string
	Product      uint16
	Serial       uint32
}

func (i Identity) String() string {
	return fmt.Sprintf("%s-%04x-%08x", i.Manufacturer, i.Product, i.Serial)
}

type Cache struct {
	blocks []byte
	valid  bool
}

func (c *Cache) Valid() bool {
	return c.valid
}

// Invalidate forces the next Load to read from the sink.
func (c *Cache) Invalidate() {
	c.blocks = nil
	c.valid = false
}

// Load reads the EDID if the cache is not valid. A valid cache is returned
// unchanged.
func (c *Cache) Load(r Reader) error {
	if c.valid {
		return nil
	}
	b, err := read(r)
	if err != nil {
		return err
	}
	c.blocks = b
	c.valid = true
	return nil
}

// Refresh reads the EDID and reports whether it belongs to a different sink
// than the cached one. The cache is only replaced when the sink changed or
// nothing was cached; the same sink keeps its original blocks.
func (c *Cache) Refresh(r Reader) (replaced bool, err error) {
	b, err := read(r)
	if err != nil {
		return false, err
	}
	if !c.valid {
		c.blocks = b
		c.valid = true
		return false, nil
	}
	if identity(b) == identity(c.blocks) {
		return false, nil
	}
	c.blocks = b
	return true, nil
}

func read(r Reader) ([]byte, error) {
	base, err := r.ReadEDIDBlocks(1)
	if err != nil {
		return nil, fmt.Errorf("edid: read base block: %w", err)
	}
	if len(base) < BlockSize || !bytes.Equal(base[:len(header)], header) {
		return nil, ErrBadHeader
	}
	n := 1 + int(base[extensionCountOffset])
	if n > MaxBlocks {
		n = MaxBlocks
	}
	if n == 1 {
		return append([]byte(nil), base[:BlockSize]...), nil
	}
	all, err := r.ReadEDIDBlocks(n)
	if err != nil {
		return nil, fmt.Errorf("edid: read %d blocks: %w", n, err)
	}
	if len(all) < n*BlockSize {
		return nil, fmt.Errorf("edid: short read, %d bytes for %d blocks", len(all), n)
	}
	return append([]byte(nil), all[:n*BlockSize]...), nil
}

// Count is the number of cached blocks.
func (c *Cache) Count() int {
	return len(c.blocks) / BlockSize
}

func (c *Cache) Identity() (Identity, bool) {
	if !c.valid {
		return Identity{}, false
	}
	return identity(c.blocks), true
}

func identity(b []byte) Identity {
	if len(b) < BlockSize {
		return Identity{}
	}
	m := binary.BigEndian.Uint16(b[8:10])
	name := []byte{
		byte('A' - 1 + (m>>10)&0x1f),
		byte('A' - 1 + (m>>5)&0x1f),
		byte('A' - 1 + m&0x1f),
	}
	return Identity{
		Manufacturer: string(name),
		Product:      binary.LittleEndian.Uint16(b[10:12]),
		Serial:       binary.LittleEndian.Uint32(b[12:16]),
	}
}

// PreferredMode returns the active area of the first detailed timing
// descriptor.
func (c *Cache) PreferredMode() (h, v int, ok bool) {
	if !c.valid {
		return 0, 0, false
	}
	d := c.blocks[dtdOffset : dtdOffset+18]
	if d[0] == 0 && d[1] == 0 {
		// Display descriptor, not a timing
		return 0, 0, false
	}
	h = int(d[2]) | int(d[4]&0xf0)<<4
	v = int(d[5]) | int(d[7]&0xf0)<<4
	return h, v, true
}
