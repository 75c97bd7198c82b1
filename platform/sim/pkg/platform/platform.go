// Copyright 2026 the u-root Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package platform is a simulated bridge board. Both links, the sink's DPCD
// and EDID, the PHYs and the frame buffer path live in memory, and the
// scripting methods raise the interrupts real hardware would.
package platform

import (
	"sync"

	"github.com/jmhodges/clock"
	"github.com/u-root/u-bridge/pkg/edid"
	"github.com/u-root/u-bridge/pkg/link"
	"github.com/u-root/u-bridge/pkg/logger"
	"github.com/u-root/u-bridge/pkg/rx"
	"github.com/u-root/u-bridge/pkg/tx"
)

var log = logger.LogContainer.GetSimpleLogger()

type Sim struct {
	clk clock.Clock

	mu    sync.Mutex
	rxIRQ func(rx.Event)
	txIRQ func(tx.Event)

	rx     receiver
	tx     transmitter
	dpcd   dpcd
	phy    phy
	buffer buffer
	edid   []byte

	// OnTrainingPoll runs, unlocked, every time the transmit side polls for
	// training completion.
	OnTrainingPoll func()
}

// Platform returns a simulated board with nothing plugged in.
func Platform(clk clock.Clock) *Sim {
	return &Sim{
		clk: clk,
		phy: phy{unsupported: map[link.Rate]bool{}},
	}
}

func (s *Sim) Clock() clock.Clock          { return s.clk }
func (s *Sim) Receiver() rx.Receiver       { return (*simReceiver)(s) }
func (s *Sim) Transmitter() tx.Transmitter { return (*simTransmitter)(s) }
func (s *Sim) Aux() tx.Aux                 { return (*simAux)(s) }
func (s *Sim) EDID() edid.Reader           { return (*simEDID)(s) }

// ConfigurePhy records the PHY setting and fails for rates marked
// unsupported with SetPhyUnsupported.
func (s *Sim) ConfigurePhy(dir link.Direction, rate link.Rate, lanes int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.phy.calls = append(s.phy.calls, PhyCall{dir, rate, lanes})
	if dir == link.Transmit && s.phy.unsupported[rate] {
		return tx.ErrUnsupported
	}
	return nil
}

// Attach routes the simulated interrupts to the given handlers.
func (s *Sim) Attach(rxIRQ func(rx.Event), txIRQ func(tx.Event)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rxIRQ = rxIRQ
	s.txIRQ = txIRQ
}

func (s *Sim) Close() {
	s.Attach(nil, nil)
}

func (s *Sim) raiseRx(e rx.Event) {
	s.mu.Lock()
	irq := s.rxIRQ
	s.mu.Unlock()
	if irq != nil {
		irq(e)
	}
}

func (s *Sim) raiseTx(e tx.Event) {
	s.mu.Lock()
	irq := s.txIRQ
	s.mu.Unlock()
	if irq != nil {
		irq(e)
	}
}

// PhyCall is one ConfigurePhy invocation.
type PhyCall struct {
	Dir   link.Direction
	Rate  link.Rate
	Lanes int
}

type phy struct {
	unsupported map[link.Rate]bool
	calls       []PhyCall
}

// SetPhyUnsupported makes the transmit PHY reject rate.
func (s *Sim) SetPhyUnsupported(rate link.Rate) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.phy.unsupported[rate] = true
}

func (s *Sim) PhyCalls() []PhyCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]PhyCall(nil), s.phy.calls...)
}
