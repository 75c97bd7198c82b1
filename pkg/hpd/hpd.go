// Copyright 2018 the u-root Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package hpd watches a hot-plug detect line on boards that cannot raise an
// interrupt for it, and turns its level changes into hot-plug events.
package hpd

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/jmhodges/clock"
	"github.com/u-root/u-bridge/pkg/logger"
	"github.com/u-root/u-bridge/pkg/tx"
)

var log = logger.LogContainer.GetSimpleLogger()

// DefaultPulseMax is the longest low period read as an IRQ pulse. Anything
// longer is an unplug.
const DefaultPulseMax = 2 * time.Millisecond

// Line reads the hot-plug detect level.
type Line interface {
	HPDAsserted() bool
}

// Decoder classifies HPD samples. A sink asserts the line while attached,
// drops it for up to PulseMax to ask for attention and for longer when it
// goes away.
type Decoder struct {
	PulseMax time.Duration

	connected bool
	low       bool
	lowAt     time.Time
}

// Sample feeds one level reading taken at now and returns the events it
// completes.
func (d *Decoder) Sample(now time.Time, high bool) tx.Event {
	switch {
	case high && !d.low:
		if !d.connected {
			d.connected = true
			return tx.EventConnect
		}
	case high:
		d.low = false
		switch {
		case !d.connected:
			d.connected = true
			return tx.EventConnect
		case now.Sub(d.lowAt) <= d.PulseMax:
			return tx.EventPulse
		default:
			// Unplugged and back between two samples.
			return tx.EventDisconnect | tx.EventConnect
		}
	case !d.low:
		d.low = true
		d.lowAt = now
	default:
		if d.connected && now.Sub(d.lowAt) > d.PulseMax {
			d.connected = false
			return tx.EventDisconnect
		}
	}
	return 0
}

// Watcher samples a line at a fixed interval.
type Watcher struct {
	Line     Line
	Clock    clock.Clock
	Interval time.Duration
	Decoder  Decoder
	// Trace, if set, receives every sample in the format ReadTrace reads.
	Trace io.Writer
}

// Run samples until ctx is done, handing every decoded event to irq.
func (w *Watcher) Run(ctx context.Context, irq func(tx.Event)) error {
	log.Infof("Sampling HPD every %v", w.Interval)
	for ctx.Err() == nil {
		s := Sample{At: w.Clock.Now(), High: w.Line.HPDAsserted()}
		if w.Trace != nil {
			if err := s.write(w.Trace); err != nil {
				return fmt.Errorf("writing HPD trace: %w", err)
			}
		}
		if ev := w.Decoder.Sample(s.At, s.High); ev != 0 {
			log.Infof("HPD %v", ev)
			irq(ev)
		}
		w.Clock.Sleep(w.Interval)
	}
	return nil
}
