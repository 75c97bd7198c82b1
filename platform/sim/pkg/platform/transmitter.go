// Copyright 2026 the u-root Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package platform

import (
	"github.com/u-root/u-bridge/pkg/link"
	"github.com/u-root/u-bridge/pkg/tx"
)

// Sink describes a simulated downstream display.
type Sink struct {
	// Max is the legacy rate and lane count advertised in the receiver
	// capability field.
	Max link.Config
	// Extended lists 128b/132b rates; non-empty sets the extended
	// capability bit.
	Extended []link.Rate
	Product  uint16
	Serial   uint32
	// Width and Height of the preferred timing in the EDID.
	Width, Height int
	// Accept decides whether training at a configuration locks. Nil
	// accepts anything within the advertised capability.
	Accept func(link.Config) bool
}

func (k Sink) max() link.Config {
	m := k.Max
	for _, r := range k.Extended {
		if r.Mbps() > m.Rate.Mbps() {
			m.Rate = r
		}
	}
	return m
}

func (k Sink) accepts(c link.Config) bool {
	if k.Accept != nil {
		return k.Accept(c)
	}
	return c.Within(k.max())
}

type transmitter struct {
	hpd      bool
	sink     Sink
	polls    int
	trained  []link.Config
	stream   link.StreamAttributes
	mainLink bool
}

type simTransmitter Sim

func (t *simTransmitter) HPDAsserted() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.tx.hpd
}

func (t *simTransmitter) StartTraining(cfg link.Config) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.tx.trained = append(t.tx.trained, cfg)
	t.tx.polls = 0
	programmed := link.Rate(t.dpcd.mem[tx.DPCDLinkBWSet]) == cfg.Rate &&
		int(t.dpcd.mem[tx.DPCDLaneCountSet]&0x1f) == cfg.Lanes
	if t.tx.hpd && programmed && t.tx.sink.accepts(cfg) {
		t.dpcd.setLanes(0x77, 0x01)
	} else {
		// Clock recovery only.
		t.dpcd.setLanes(0x11, 0x00)
	}
	return nil
}

// TrainingDone completes on the second poll.
func (t *simTransmitter) TrainingDone() (bool, error) {
	t.mu.Lock()
	t.tx.polls++
	done := t.tx.polls > 1
	hook := t.OnTrainingPoll
	t.mu.Unlock()
	if hook != nil {
		hook()
	}
	return done, nil
}

func (t *simTransmitter) SetStream(s link.StreamAttributes) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.tx.stream = s
	return nil
}

func (t *simTransmitter) EnableMainLink(on bool) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.tx.mainLink = on
	return nil
}

// ConnectSink attaches display k and asserts HPD.
func (s *Sim) ConnectSink(k Sink) {
	s.mu.Lock()
	s.tx = transmitter{hpd: true, sink: k, trained: s.tx.trained}
	s.dpcd.program(k)
	s.dpcd.ops = nil
	s.edid = EDIDBlock("SIM", k.Product, k.Serial, k.Width, k.Height)
	s.mu.Unlock()
	s.raiseTx(tx.EventConnect)
}

func (s *Sim) DisconnectSink() {
	s.mu.Lock()
	s.tx.hpd = false
	s.tx.mainLink = false
	s.mu.Unlock()
	s.raiseTx(tx.EventDisconnect)
}

// PulseHPD is the sink asking for a link status check.
func (s *Sim) PulseHPD() {
	s.raiseTx(tx.EventPulse)
}

// DegradeLink drops equalization and alignment on every lane, as a sink
// that lost lock would report.
func (s *Sim) DegradeLink() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dpcd.setLanes(0x11, 0x00)
}

// Trainings lists every configuration training was started at.
func (s *Sim) Trainings() []link.Config {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]link.Config(nil), s.tx.trained...)
}

// Output is what the transmitter is currently sending.
func (s *Sim) Output() (st link.StreamAttributes, mainLink bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tx.stream, s.tx.mainLink
}
