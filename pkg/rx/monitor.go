// Copyright 2026 the u-root Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package rx tracks the sink-facing link: training, video validity and cable
// state, translated from hardware notifications into LinkState transitions.
package rx

import (
	"sync/atomic"

	"github.com/u-root/u-bridge/pkg/link"
	"github.com/u-root/u-bridge/pkg/logger"
)

var log = logger.LogContainer.GetSimpleLogger()

// Event is a hardware notification for the receive link. Several may be
// pending at once.
type Event uint32

const (
	EventTrainingStart Event = 1 << iota
	EventTrainingDone
	EventTrainingLost
	EventVideo
	EventNoVideo
	EventVBlank
	EventPlug
	EventUnplug
)

// Request is what the monitor asks of the orchestrator after servicing
// events.
type Request uint32

const (
	// RequestLinkDown: the receive link lost training.
	RequestLinkDown Request = 1 << iota
	// RequestUnplugged: the receive cable went away.
	RequestUnplugged
	// RequestMaskTxHPD: the transmit side must ignore hot-plug until the
	// session is rebuilt.
	RequestMaskTxHPD
	// RequestVideoPending: video is present and waiting for detection.
	RequestVideoPending
	// RequestStreamLost: a valid stream stopped.
	RequestStreamLost
)

func (r Request) Has(o Request) bool {
	return r&o != 0
}

// Receiver is the sink-role link controller.
type Receiver interface {
	EnableVideoDetect(on bool) error
	EnableInfoPacketDetect(on bool) error
	ResetCRC() error
	// MaskNotifications suppresses downstream notifications while the link
	// is down.
	MaskNotifications(mask bool) error
	// LinkConfig is the rate and lane count the upstream source trains with.
	LinkConfig() (link.Config, error)
	// ReadStreamAttributes reads the main stream attributes.
	ReadStreamAttributes() (link.StreamAttributes, error)
}

// Phy configures the physical layer of one link direction.
type Phy interface {
	ConfigurePhy(dir link.Direction, rate link.Rate, lanes int) error
}

type Monitor struct {
	hw  Receiver
	phy Phy

	// Written from interrupt context.
	pending atomic.Uint32
	vblanks atomic.Uint32

	state        *link.Machine
	config       link.Config
	stream       link.StreamAttributes
	videoPending bool
	masked       bool
	requests     Request
}

func NewMonitor(hw Receiver, phy Phy, o link.Observer) *Monitor {
	return &Monitor{
		hw:    hw,
		phy:   phy,
		state: link.NewMachine(link.Receive, o),
	}
}

// Interrupt records a hardware notification. It only touches atomics and may
// be called from any goroutine.
func (m *Monitor) Interrupt(e Event) {
	if e&EventVBlank != 0 {
		m.vblanks.Add(1)
		e &^= EventVBlank
	}
	for {
		old := m.pending.Load()
		if m.pending.CompareAndSwap(old, old|uint32(e)) {
			return
		}
	}
}

// Pending reports whether e is raised and not yet serviced.
func (m *Monitor) Pending(e Event) bool {
	return Event(m.pending.Load())&e != 0
}

// Service runs the handlers for every pending event and returns the
// accumulated requests. Events are handled in a fixed order: cable first,
// then training, then video.
func (m *Monitor) Service() Request {
	ev := Event(m.pending.Swap(0))
	if ev&EventUnplug != 0 {
		m.OnUnplug()
	}
	if ev&EventPlug != 0 {
		m.OnPlug()
	}
	if ev&EventTrainingLost != 0 {
		m.OnTrainingLost()
	}
	if ev&EventTrainingStart != 0 {
		m.OnTrainingStart()
	}
	if ev&EventTrainingDone != 0 {
		m.OnTrainingDone()
	}
	if ev&EventNoVideo != 0 {
		m.OnNoVideo()
	}
	if ev&EventVideo != 0 {
		m.OnVideoValid()
	}
	r := m.requests
	m.requests = 0
	return r
}

func (m *Monitor) to(s link.State) {
	if err := m.state.To(s); err != nil {
		log.Errorf("Receive link: %v", err)
	}
}

// OnTrainingStart configures the receive PHY for the rate the source asks
// for.
func (m *Monitor) OnTrainingStart() {
	if m.state.State() == link.Training {
		return
	}
	m.to(link.Training)
	cfg, err := m.hw.LinkConfig()
	if err != nil {
		log.Warnf("Receive link: reading requested link config: %v", err)
		return
	}
	if err := m.phy.ConfigurePhy(link.Receive, cfg.Rate, cfg.Lanes); err != nil {
		log.Errorf("Receive link: configuring PHY for %v: %v", cfg, err)
	}
}

// OnTrainingDone marks the link trained and arms video detection. On an
// already trained link it only re-arms detection. Video seen before a fresh
// training is forgotten.
func (m *Monitor) OnTrainingDone() {
	if !m.state.State().LinkUp() {
		if m.state.State() != link.Training {
			m.to(link.Training)
		}
		m.to(link.Trained)
		m.vblanks.Store(0)
		m.videoPending = false
		if cfg, err := m.hw.LinkConfig(); err == nil {
			m.config = cfg
		} else {
			log.Warnf("Receive link: reading trained link config: %v", err)
		}
		log.Infof("Receive link trained at %v", m.config)
	}
	m.Unmask()
	if err := m.hw.EnableVideoDetect(true); err != nil {
		log.Warnf("Receive link: enable video detect: %v", err)
	}
}

// OnTrainingLost drops the link to Idle and masks notifications so a
// flapping link does not storm the orchestrator.
func (m *Monitor) OnTrainingLost() {
	s := m.state.State()
	if s == link.Unplugged || (s == link.Idle && m.masked) {
		return
	}
	m.to(link.Idle)
	m.config = link.Config{}
	m.stream = link.StreamAttributes{}
	m.videoPending = false
	if err := m.hw.ResetCRC(); err != nil {
		log.Warnf("Receive link: reset CRC: %v", err)
	}
	m.Mask()
	m.requests |= RequestLinkDown
	log.Warnf("Receive link lost training")
}

// OnNoVideo handles loss of active video on a trained link. Info packets may
// still arrive, so their detection is re-enabled.
func (m *Monitor) OnNoVideo() {
	s := m.state.State()
	if s != link.Trained && s != link.VideoValid {
		return
	}
	m.to(link.NoVideo)
	m.videoPending = false
	if err := m.hw.EnableVideoDetect(false); err != nil {
		log.Warnf("Receive link: disable video detect: %v", err)
	}
	if err := m.hw.EnableInfoPacketDetect(true); err != nil {
		log.Warnf("Receive link: enable info packet detect: %v", err)
	}
	if s == link.VideoValid {
		m.requests |= RequestStreamLost
	}
}

// OnVideoValid only flags the video as present; promotion to VideoValid
// waits for stream detection. Video on a link that is not trained is stale.
func (m *Monitor) OnVideoValid() {
	if !m.state.State().LinkUp() {
		return
	}
	m.videoPending = true
	m.requests |= RequestVideoPending
}

// OnUnplug moves the link to Unplugged and asks the transmit side to stop
// reacting to its own hot-plug line until the session is rebuilt.
func (m *Monitor) OnUnplug() {
	if m.state.State() == link.Unplugged {
		return
	}
	m.to(link.Unplugged)
	m.vblanks.Store(0)
	m.config = link.Config{}
	m.stream = link.StreamAttributes{}
	m.videoPending = false
	m.requests |= RequestUnplugged | RequestMaskTxHPD
	log.Warnf("Receive cable unplugged")
}

// OnPlug returns an unplugged link to Idle to wait for training.
func (m *Monitor) OnPlug() {
	if m.state.State() != link.Unplugged {
		return
	}
	m.to(link.Idle)
	log.Infof("Receive cable plugged")
}

// Settled reports whether at least n vertical blanks were seen since the
// link trained.
func (m *Monitor) Settled(n int) bool {
	return int(m.vblanks.Load()) >= n
}

// Mask suppresses downstream notifications until the link retrains or
// Unmask is called.
func (m *Monitor) Mask() {
	if m.masked {
		return
	}
	if err := m.hw.MaskNotifications(true); err != nil {
		log.Warnf("Receive link: mask notifications: %v", err)
	}
	m.masked = true
}

func (m *Monitor) Unmask() {
	if !m.masked {
		return
	}
	if err := m.hw.MaskNotifications(false); err != nil {
		log.Warnf("Receive link: unmask notifications: %v", err)
	}
	m.masked = false
}

func (m *Monitor) Masked() bool {
	return m.masked
}

func (m *Monitor) VideoPending() bool {
	return m.videoPending
}

// ClearVideoPending drops the pending video flag without promoting.
func (m *Monitor) ClearVideoPending() {
	m.videoPending = false
}

func (m *Monitor) State() link.State {
	return m.state.State()
}

func (m *Monitor) Status() link.SideStatus {
	return link.SideStatus{State: m.state.State(), Config: m.config, Stream: m.stream}
}

// Reset returns the monitor to its initial state after a session teardown.
// An unplugged link stays unplugged.
func (m *Monitor) Reset() {
	m.state.Reset()
	m.config = link.Config{}
	m.stream = link.StreamAttributes{}
	m.videoPending = false
	m.requests = 0
	m.vblanks.Store(0)
}
