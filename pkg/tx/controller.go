// Copyright 2026 the u-root Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package tx drives the display-facing link: hot-plug handling, sink
// capability negotiation over the AUX channel, link training with fallback
// and stream output.
package tx

import (
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jmhodges/clock"
	"github.com/u-root/u-bridge/pkg/edid"
	"github.com/u-root/u-bridge/pkg/link"
	"github.com/u-root/u-bridge/pkg/logger"
)

var log = logger.LogContainer.GetSimpleLogger()

var (
	// ErrUnsupported is returned by a Phy that cannot run the requested
	// rate, and by the controller for capabilities it cannot use.
	ErrUnsupported       = errors.New("unsupported link configuration")
	ErrExceedsCapability = errors.New("link configuration exceeds capability")
	ErrTrainingTimeout   = errors.New("link training timed out")
	ErrLinkUnhealthy     = errors.New("link status unhealthy")
	ErrAborted           = errors.New("link training aborted")
	ErrNoUsableConfig    = errors.New("no usable link configuration")
	ErrNotTrained        = errors.New("transmit link not trained")
)

// TrainError records the configuration a training attempt failed at.
type TrainError struct {
	Config link.Config
	Err    error
}

func (e *TrainError) Error() string {
	return fmt.Sprintf("training at %v: %v", e.Config, e.Err)
}

func (e *TrainError) Unwrap() error {
	return e.Err
}

// Event is a hot-plug notification for the transmit link.
type Event uint32

const (
	EventConnect Event = 1 << iota
	EventDisconnect
	// EventPulse is a short HPD pulse: the sink asks for a status check.
	EventPulse
)

func (e Event) String() string {
	var parts []string
	for _, n := range []struct {
		e    Event
		name string
	}{{EventConnect, "connect"}, {EventDisconnect, "disconnect"}, {EventPulse, "pulse"}} {
		if e&n.e != 0 {
			parts = append(parts, n.name)
		}
	}
	if len(parts) == 0 {
		return "none"
	}
	return strings.Join(parts, "|")
}

type Request uint32

const (
	RequestConnected Request = 1 << iota
	RequestDisconnected
	RequestStatusCheck
)

func (r Request) Has(o Request) bool {
	return r&o != 0
}

// Aux reads and writes the sink's DPCD over the AUX channel.
type Aux interface {
	ReadDPCD(addr uint32, b []byte) error
	WriteDPCD(addr uint32, b []byte) error
}

type Phy interface {
	ConfigurePhy(dir link.Direction, rate link.Rate, lanes int) error
}

// Transmitter is the source-role link controller.
type Transmitter interface {
	HPDAsserted() bool
	// StartTraining kicks off hardware link training at cfg.
	StartTraining(cfg link.Config) error
	// TrainingDone reports whether the hardware finished the training
	// sequence. It does not say whether the lanes are usable.
	TrainingDone() (bool, error)
	SetStream(s link.StreamAttributes) error
	EnableMainLink(on bool) error
}

// Options tune the controller.
type Options struct {
	// Source is the capability of this transmitter. Zero means the
	// maximum of Fallback.
	Source   link.Config
	Fallback link.Fallback

	TrainTimeout  time.Duration
	PollInterval  time.Duration
	TrainRetries  int
	AuxRetries    int
	AuxInterval   time.Duration
	StatusRetries int
	WakeDelay     time.Duration
}

type Controller struct {
	aux  Aux
	phy  Phy
	hw   Transmitter
	edid edid.Reader
	clk  clock.Clock
	opts Options

	// Written from interrupt context.
	pending atomic.Uint32
	masked  atomic.Bool

	state    *link.Machine
	caps     Capabilities
	limit    link.Config
	config   link.Config
	stream   link.StreamAttributes
	lastGood link.Config
	cache    edid.Cache
	requests Request
}

func New(aux Aux, phy Phy, hw Transmitter, er edid.Reader, clk clock.Clock, opts Options, o link.Observer) *Controller {
	if opts.Source.IsZero() {
		opts.Source = opts.Fallback.Max()
	}
	return &Controller{
		aux:   aux,
		phy:   phy,
		hw:    hw,
		edid:  er,
		clk:   clk,
		opts:  opts,
		state: link.NewMachine(link.Transmit, o),
	}
}

// Interrupt records an HPD notification unless hot-plug is masked.
func (c *Controller) Interrupt(e Event) {
	if c.masked.Load() {
		return
	}
	for {
		old := c.pending.Load()
		if c.pending.CompareAndSwap(old, old|uint32(e)) {
			return
		}
	}
}

func (c *Controller) Pending(e Event) bool {
	return Event(c.pending.Load())&e != 0
}

// MaskHPD drops pending and future HPD notifications until Unmask.
func (c *Controller) MaskHPD() {
	c.masked.Store(true)
	c.pending.Store(0)
}

func (c *Controller) Masked() bool {
	return c.masked.Load()
}

// Unmask re-enables HPD notifications and re-samples the HPD line so a
// change that happened while masked is not lost. A sink seen at the end of
// a mask window is treated as newly connected so its identity is re-read.
func (c *Controller) Unmask() {
	wasMasked := c.masked.Swap(false)
	asserted := c.hw.HPDAsserted()
	switch {
	case asserted && (wasMasked || c.state.State() == link.Unplugged || !c.cache.Valid()):
		c.Interrupt(EventConnect)
	case !asserted && c.state.State() != link.Unplugged:
		c.Interrupt(EventDisconnect)
	}
}

// Service handles pending HPD events: disconnect first, then connect, then
// pulses.
func (c *Controller) Service() Request {
	ev := Event(c.pending.Swap(0))
	if ev&EventDisconnect != 0 {
		c.onDisconnect()
	}
	if ev&EventConnect != 0 {
		c.onConnect()
	}
	if ev&EventPulse != 0 && c.state.State().LinkUp() {
		c.requests |= RequestStatusCheck
	}
	r := c.requests
	c.requests = 0
	return r
}

func (c *Controller) to(s link.State) {
	if err := c.state.To(s); err != nil {
		log.Errorf("Transmit link: %v", err)
	}
}

func (c *Controller) onDisconnect() {
	if c.state.State() == link.Unplugged {
		return
	}
	c.to(link.Unplugged)
	c.config = link.Config{}
	c.stream = link.StreamAttributes{}
	c.limit = link.Config{}
	c.caps = Capabilities{}
	c.requests |= RequestDisconnected
	log.Warnf("Sink disconnected")
}

func (c *Controller) onConnect() {
	if c.state.State() == link.Unplugged {
		c.to(link.Idle)
	}
	replaced, err := c.cache.Refresh(c.edid)
	if err != nil {
		log.Warnf("Reading sink EDID: %v", err)
	}
	id, _ := c.cache.Identity()
	if replaced {
		log.Infof("Sink replaced by %v, dropping last known good %v", id, c.lastGood)
		c.lastGood = link.Config{}
	} else if err == nil {
		log.Infof("Sink %v connected", id)
	}
	if h, v, ok := c.cache.PreferredMode(); ok {
		log.Infof("Sink prefers %dx%d, %d EDID blocks", h, v, c.cache.Count())
	}
	c.requests |= RequestConnected
}

// RefreshEDID re-reads the EDID of the connected sink.
func (c *Controller) RefreshEDID() error {
	c.cache.Invalidate()
	return c.cache.Load(c.edid)
}

func (c *Controller) EDID() *edid.Cache {
	return &c.cache
}

// retry runs op until it succeeds or the AUX retry budget is spent.
func (c *Controller) retry(op func() error) error {
	b := backoff.WithMaxRetries(&backoff.ConstantBackOff{Interval: c.opts.AuxInterval}, uint64(c.opts.AuxRetries))
	b.Reset()
	for {
		err := op()
		if err == nil {
			return nil
		}
		d := b.NextBackOff()
		if d == backoff.Stop {
			return err
		}
		c.clk.Sleep(d)
	}
}

func (c *Controller) read(addr uint32, n int) ([]byte, error) {
	b := make([]byte, n)
	err := c.retry(func() error { return c.aux.ReadDPCD(addr, b) })
	if err != nil {
		return nil, fmt.Errorf("DPCD read %#04x: %w", addr, err)
	}
	return b, nil
}

func (c *Controller) write(addr uint32, v ...byte) error {
	err := c.retry(func() error { return c.aux.WriteDPCD(addr, v) })
	if err != nil {
		return fmt.Errorf("DPCD write %#04x: %w", addr, err)
	}
	return nil
}

// NegotiateCapabilities wakes the sink, reads its receiver capabilities and
// returns the limit any transmit configuration must stay within: the lower
// of what the sink and this transmitter support.
func (c *Controller) NegotiateCapabilities() (link.Config, error) {
	if c.state.State() == link.Unplugged {
		return link.Config{}, ErrAborted
	}
	if err := c.write(DPCDSetPower, setPowerD0); err != nil {
		return link.Config{}, fmt.Errorf("waking sink: %w", err)
	}
	c.clk.Sleep(c.opts.WakeDelay)

	raw, err := c.read(DPCDRevision, receiverCapsSize)
	if err != nil {
		return link.Config{}, err
	}
	extended := raw[DPCDTrainingAuxRd]&extendedCapsPresent != 0
	if extended {
		if raw, err = c.read(DPCDExtendedCaps, receiverCapsSize); err != nil {
			return link.Config{}, err
		}
	}
	caps, err := parseCaps(raw)
	if err != nil {
		return link.Config{}, err
	}
	if extended {
		r, err := c.read(DPCD128b132bRates, 1)
		if err != nil {
			return link.Config{}, err
		}
		caps.Extended = extendedRates(r[0])
		for _, e := range caps.Extended {
			if e.Mbps() > caps.Max.Rate.Mbps() {
				caps.Max.Rate = e
			}
		}
	}
	c.caps = caps
	c.limit = link.Min(caps.Max, c.opts.Source)
	log.Infof("Sink capabilities %v, negotiated limit %v", caps, c.limit)
	return c.limit, nil
}

func (c *Controller) Capabilities() Capabilities {
	return c.caps
}

// Limit is the last negotiated capability limit.
func (c *Controller) Limit() link.Config {
	return c.limit
}

// LastKnownGood is the most recent configuration that trained successfully
// with the current sink.
func (c *Controller) LastKnownGood() (link.Config, bool) {
	return c.lastGood, !c.lastGood.IsZero()
}

func (c *Controller) Fallback() link.Fallback {
	return c.opts.Fallback
}

func (c *Controller) State() link.State {
	return c.state.State()
}

func (c *Controller) Status() link.SideStatus {
	return link.SideStatus{State: c.state.State(), Config: c.config, Stream: c.stream}
}

// StartStream programs the stream attributes and enables the main link.
func (c *Controller) StartStream(s link.StreamAttributes) error {
	if !c.state.State().LinkUp() {
		return ErrNotTrained
	}
	if !c.config.Carries(s) {
		return fmt.Errorf("%w: %v cannot carry %v", ErrExceedsCapability, c.config, s)
	}
	if err := c.hw.SetStream(s); err != nil {
		return fmt.Errorf("programming stream: %w", err)
	}
	if err := c.hw.EnableMainLink(true); err != nil {
		return fmt.Errorf("enabling main link: %w", err)
	}
	c.stream = s
	c.to(link.VideoValid)
	return nil
}

// StopStream disables the main link. Stopping a stopped stream does nothing.
func (c *Controller) StopStream() error {
	if c.state.State() != link.VideoValid {
		return nil
	}
	c.stream = link.StreamAttributes{}
	c.to(link.Trained)
	return c.hw.EnableMainLink(false)
}

// Reset drops the trained configuration after a session teardown. The last
// known good configuration survives; only a sink replacement clears it.
func (c *Controller) Reset() {
	if c.state.State() == link.VideoValid {
		if err := c.hw.EnableMainLink(false); err != nil {
			log.Warnf("Disabling main link: %v", err)
		}
	}
	c.state.Reset()
	c.config = link.Config{}
	c.stream = link.StreamAttributes{}
	c.limit = link.Config{}
	c.requests = 0
}
