// Copyright 2026 the u-root Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package bridge is the pass-through orchestrator. It owns the session and
// drives the receive monitor, the reconciler, the transmit controller and
// the buffer path from a single polling goroutine.
package bridge

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/jmhodges/clock"
	"github.com/u-root/u-bridge/config"
	"github.com/u-root/u-bridge/pkg/edid"
	"github.com/u-root/u-bridge/pkg/link"
	"github.com/u-root/u-bridge/pkg/logger"
	"github.com/u-root/u-bridge/pkg/reconcile"
	"github.com/u-root/u-bridge/pkg/rx"
	"github.com/u-root/u-bridge/pkg/telemetry"
	"github.com/u-root/u-bridge/pkg/tx"
)

var log = logger.LogContainer.GetSimpleLogger()

// BufferPath is the frame buffer between the two links. Both calls are
// idempotent.
type BufferPath interface {
	StartBufferedPath(attrs link.StreamAttributes) error
	StopBufferedPath() error
}

// Telemetry receives reports. It never influences negotiation.
type Telemetry interface {
	NegotiationFailed(f telemetry.Failure)
	LinkTransition(side link.Direction, from, to link.State)
	Streaming(seq uint64, s link.StreamAttributes, c link.Config, clipped bool)
	Stopped()
}

// Platform is the board the bridge runs on.
type Platform interface {
	BufferPath
	rx.Phy
	Clock() clock.Clock
	Receiver() rx.Receiver
	Transmitter() tx.Transmitter
	Aux() tx.Aux
	EDID() edid.Reader
	// Attach routes hardware notifications to the handlers.
	Attach(rxIRQ func(rx.Event), txIRQ func(tx.Event))
	Close()
}

type Bridge struct {
	conf *config.Config
	plat Platform
	clk  clock.Clock
	rx   *rx.Monitor
	tx   *tx.Controller
	rec  *reconcile.Reconciler
	buf  BufferPath
	tel  Telemetry

	session      Session
	bufferActive bool
	// renegotiate is armed by events that warrant a new negotiation and
	// consumed by the next one.
	renegotiate bool

	// Set from interrupt context.
	mu          sync.Mutex
	cancel      context.CancelFunc
	edidRefresh atomic.Bool

	// Published by the poll loop for other goroutines.
	snap atomic.Pointer[snapshot]
}

type snapshot struct {
	session Session
	status  link.Status
}

// New builds the bridge for plat. A nil tel reports to the process logger
// and the exported metrics.
func New(plat Platform, conf *config.Config, tel Telemetry) (*Bridge, error) {
	if err := conf.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if tel == nil {
		tel = telemetry.New(nil)
	}
	b := &Bridge{
		conf: conf,
		plat: plat,
		clk:  plat.Clock(),
		rec:  reconcile.New(conf.Policy(), conf.Tx.Fallback),
		buf:  plat,
		tel:  tel,
	}
	if conf.Role.Receives() {
		b.rx = rx.NewMonitor(plat.Receiver(), plat, tel.LinkTransition)
	}
	if conf.Role.Transmits() {
		b.tx = tx.New(plat.Aux(), plat, plat.Transmitter(), plat.EDID(), b.clk, txOptions(conf), tel.LinkTransition)
	}
	plat.Attach(b.RxInterrupt, b.TxInterrupt)
	if b.tx != nil {
		// Pick up a sink that was connected before we started.
		b.tx.Unmask()
	}
	b.publish()
	log.Infof("Bridge running as %s", conf.Role)
	return b, nil
}

func txOptions(c *config.Config) tx.Options {
	return tx.Options{
		Source:        c.Tx.Capability,
		Fallback:      c.Tx.Fallback,
		TrainTimeout:  c.Tx.TrainTimeout.Duration,
		PollInterval:  c.Tx.PollInterval.Duration,
		TrainRetries:  c.Tx.TrainRetries,
		AuxRetries:    c.Tx.AuxRetries,
		AuxInterval:   c.Tx.AuxInterval.Duration,
		StatusRetries: c.Tx.StatusRetries,
		WakeDelay:     c.Tx.WakeDelay.Duration,
	}
}

// RxInterrupt takes a receive link notification. Unplug and training loss
// abandon a negotiation in progress.
func (b *Bridge) RxInterrupt(e rx.Event) {
	if b.rx == nil {
		return
	}
	b.rx.Interrupt(e)
	if e&(rx.EventUnplug|rx.EventTrainingLost) != 0 {
		b.abort()
	}
}

// TxInterrupt takes a hot-plug notification. A disconnect abandons a
// negotiation in progress unless hot-plug is masked.
func (b *Bridge) TxInterrupt(e tx.Event) {
	if b.tx == nil {
		return
	}
	b.tx.Interrupt(e)
	if e&tx.EventDisconnect != 0 && !b.tx.Masked() {
		b.abort()
	}
}

func (b *Bridge) abort() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.cancel != nil {
		b.cancel()
	}
}

// RefreshEDID asks the next poll to re-read the sink's EDID.
func (b *Bridge) RefreshEDID() {
	b.edidRefresh.Store(true)
}

func (b *Bridge) publish() {
	s := &snapshot{session: b.session}
	if b.rx != nil {
		s.status.Rx = b.rx.Status()
	}
	if b.tx != nil {
		s.status.Tx = b.tx.Status()
	}
	b.snap.Store(s)
}

// Session returns the session as of the last poll. It is safe to call
// while Run is running.
func (b *Bridge) Session() Session {
	return b.snap.Load().session
}

// Status returns both links as of the last poll.
func (b *Bridge) Status() link.Status {
	return b.snap.Load().status
}
