// Copyright 2026 the u-root Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package platform

import (
	"errors"
	"fmt"

	"github.com/u-root/u-bridge/pkg/link"
	"github.com/u-root/u-bridge/pkg/tx"
)

const dpcdSize = 0x2300

var errNack = errors.New("sim: AUX NACK")

// Op is one AUX transaction seen by the simulated sink.
type Op struct {
	Write bool
	Addr  uint32
	Data  []byte
}

func (o Op) String() string {
	t := "read"
	if o.Write {
		t = "write"
	}
	return fmt.Sprintf("{%s @ %04x, % x}", t, o.Addr, o.Data)
}

type dpcd struct {
	mem [dpcdSize]byte
	ops []Op
	// nacks fails this many transactions before answering again.
	nacks int
}

// program fills the receiver capability field for sink k.
func (d *dpcd) program(k Sink) {
	d.mem = [dpcdSize]byte{}
	caps := d.mem[tx.DPCDRevision : tx.DPCDRevision+16]
	caps[tx.DPCDRevision] = 0x14
	caps[tx.DPCDMaxLinkRate] = byte(k.Max.Rate)
	caps[tx.DPCDMaxLaneCount] = byte(k.Max.Lanes) | 0x40
	if k.Max.Params.EnhancedFraming {
		caps[tx.DPCDMaxLaneCount] |= 0x80
	}
	if k.Max.Params.SpreadSpectrum {
		caps[tx.DPCDMaxDownspread] = 0x01
	}
	if len(k.Extended) == 0 {
		return
	}
	caps[tx.DPCDTrainingAuxRd] = 0x80
	copy(d.mem[tx.DPCDExtendedCaps:], caps)
	var rates byte
	for _, r := range k.Extended {
		switch r {
		case link.RateUHBR10:
			rates |= 0x01
		case link.RateUHBR20:
			rates |= 0x02
		case link.RateUHBR13_5:
			rates |= 0x04
		}
	}
	d.mem[tx.DPCD128b132bRates] = rates
}

func (d *dpcd) setLanes(status, align byte) {
	d.mem[tx.DPCDLaneStatus01] = status
	d.mem[tx.DPCDLaneStatus23] = status
	d.mem[tx.DPCDLaneAlignStatus] = align
}

type simAux Sim

func (a *simAux) transfer(write bool, addr uint32, b []byte) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.tx.hpd {
		return errNack
	}
	if a.dpcd.nacks > 0 {
		a.dpcd.nacks--
		return errNack
	}
	if int(addr)+len(b) > dpcdSize {
		return fmt.Errorf("sim: DPCD access %#04x+%d out of range", addr, len(b))
	}
	if write {
		copy(a.dpcd.mem[addr:], b)
	} else {
		copy(b, a.dpcd.mem[addr:])
	}
	a.dpcd.ops = append(a.dpcd.ops, Op{write, addr, append([]byte(nil), b...)})
	return nil
}

func (a *simAux) ReadDPCD(addr uint32, b []byte) error {
	return a.transfer(false, addr, b)
}

func (a *simAux) WriteDPCD(addr uint32, b []byte) error {
	return a.transfer(true, addr, b)
}

// AuxOps returns the AUX transactions since the sink was connected.
func (s *Sim) AuxOps() []Op {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Op(nil), s.dpcd.ops...)
}

// NackAux makes the sink NACK the next n AUX transactions.
func (s *Sim) NackAux(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dpcd.nacks = n
}

// DPCD reads one byte of the simulated sink's DPCD.
func (s *Sim) DPCD(addr uint32) byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dpcd.mem[addr]
}
