// Copyright 2026 the u-root Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package edid

import (
	"errors"
	"testing"
)

type fakeReader struct {
	data  []byte
	reads []int
	err   error
}

func (r *fakeReader) ReadEDIDBlocks(count int) ([]byte, error) {
	r.reads = append(r.reads, count)
	if r.err != nil {
		return nil, r.err
	}
	n := count * BlockSize
	if n > len(r.data) {
		n = len(r.data)
	}
	return r.data[:n], nil
}

// block builds a base block for manufacturer "UBR" with the given product
// code, extension count and a 3840x2160 preferred timing.
func block(product uint16, ext int) []byte {
	b := make([]byte, BlockSize*(1+ext))
	copy(b, header)
	// "UBR": U=21 B=2 R=18
	m := uint16(21)<<10 | uint16(2)<<5 | 18
	b[8], b[9] = byte(m>>8), byte(m)
	b[10], b[11] = byte(product), byte(product>>8)
	b[12] = 0x42
	b[extensionCountOffset] = byte(ext)
	d := b[dtdOffset:]
	d[0], d[1] = 0x08, 0xe8 // 594 MHz
	d[2], d[4] = 0x00, 0xf0 // 3840
	d[5], d[7] = 0x70, 0x80 // 2160
	return b
}

func TestLoadBaseOnly(t *testing.T) {
	r := &fakeReader{data: block(1, 0)}
	var c Cache
	if err := c.Load(r); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if c.Count() != 1 {
		t.Errorf("Expected 1 block, got %d", c.Count())
	}
	id, ok := c.Identity()
	if !ok || id.Manufacturer != "UBR" || id.Product != 1 || id.Serial != 0x42 {
		t.Errorf("Unexpected identity %+v", id)
	}
	h, v, ok := c.PreferredMode()
	if !ok || h != 3840 || v != 2160 {
		t.Errorf("Expected preferred mode 3840x2160, got %dx%d (%v)", h, v, ok)
	}
}

func TestLoadCapsExtensions(t *testing.T) {
	r := &fakeReader{data: block(1, 4)}
	var c Cache
	if err := c.Load(r); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if c.Count() != MaxBlocks {
		t.Errorf("Expected %d blocks, got %d", MaxBlocks, c.Count())
	}
	if len(r.reads) != 2 || r.reads[1] != MaxBlocks {
		t.Errorf("Expected reads [1 %d], got %v", MaxBlocks, r.reads)
	}
}

func TestLoadIsStableUntilInvalidated(t *testing.T) {
	r := &fakeReader{data: block(1, 0)}
	var c Cache
	if err := c.Load(r); err != nil {
		t.Fatal(err)
	}
	r.data = block(2, 0)
	if err := c.Load(r); err != nil {
		t.Fatal(err)
	}
	if id, _ := c.Identity(); id.Product != 1 {
		t.Errorf("Valid cache was re-read, product %d", id.Product)
	}
	c.Invalidate()
	if err := c.Load(r); err != nil {
		t.Fatal(err)
	}
	if id, _ := c.Identity(); id.Product != 2 {
		t.Errorf("Invalidated cache was not re-read, product %d", id.Product)
	}
}

func TestRefreshDetectsReplacement(t *testing.T) {
	r := &fakeReader{data: block(1, 0)}
	var c Cache
	if replaced, err := c.Refresh(r); err != nil || replaced {
		t.Fatalf("First refresh: replaced=%v err=%v", replaced, err)
	}
	if replaced, _ := c.Refresh(r); replaced {
		t.Errorf("Same sink reported as replaced")
	}
	r.data = block(9, 0)
	if replaced, _ := c.Refresh(r); !replaced {
		t.Errorf("New sink not reported as replaced")
	}
}

func TestBadHeader(t *testing.T) {
	b := block(1, 0)
	b[0] = 0x55
	var c Cache
	if err := c.Load(&fakeReader{data: b}); !errors.Is(err, ErrBadHeader) {
		t.Errorf("Expected ErrBadHeader, got %v", err)
	}
	if c.Valid() {
		t.Errorf("Cache valid after failed load")
	}
}
