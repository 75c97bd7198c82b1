// Copyright 2026 the u-root Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package platform

import (
	"encoding/binary"
	"errors"

	"github.com/u-root/u-bridge/pkg/edid"
)

var errNoSink = errors.New("sim: no sink on the DDC bus")

type simEDID Sim

func (e *simEDID) ReadEDIDBlocks(count int) ([]byte, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.tx.hpd || len(e.edid) == 0 {
		return nil, errNoSink
	}
	n := count * edid.BlockSize
	if n > len(e.edid) {
		n = len(e.edid)
	}
	return append([]byte(nil), e.edid[:n]...), nil
}

// EDIDBlock builds a checksummed base block with one detailed timing of
// w by h.
func EDIDBlock(manufacturer string, product uint16, serial uint32, w, h int) []byte {
	b := make([]byte, edid.BlockSize)
	copy(b, []byte{0x00, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0x00})
	var m uint16
	for _, c := range []byte(manufacturer)[:3] {
		m = m<<5 | uint16(c-'A'+1)&0x1f
	}
	binary.BigEndian.PutUint16(b[8:], m)
	binary.LittleEndian.PutUint16(b[10:], product)
	binary.LittleEndian.PutUint32(b[12:], serial)
	// EDID 1.4
	b[18], b[19] = 1, 4
	d := b[0x36:]
	d[0], d[1] = 0x08, 0xe8
	d[2] = byte(w)
	d[4] = byte(w>>8) << 4
	d[5] = byte(h)
	d[7] = byte(h>>8) << 4
	var sum byte
	for _, v := range b[:edid.BlockSize-1] {
		sum += v
	}
	b[edid.BlockSize-1] = -sum
	return b
}
