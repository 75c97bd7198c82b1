// Copyright 2026 the u-root Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package platform

import (
	"errors"

	"github.com/u-root/u-bridge/pkg/link"
	"github.com/u-root/u-bridge/pkg/rx"
)

var errNoSource = errors.New("sim: no source trained")

type receiver struct {
	config      link.Config
	stream      link.StreamAttributes
	videoDetect bool
	infoDetect  bool
	masked      bool
	crcResets   int
}

type simReceiver Sim

func (r *simReceiver) EnableVideoDetect(on bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rx.videoDetect = on
	return nil
}

func (r *simReceiver) EnableInfoPacketDetect(on bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rx.infoDetect = on
	return nil
}

func (r *simReceiver) ResetCRC() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rx.crcResets++
	return nil
}

func (r *simReceiver) MaskNotifications(mask bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rx.masked = mask
	return nil
}

func (r *simReceiver) LinkConfig() (link.Config, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.rx.config.IsZero() {
		return link.Config{}, errNoSource
	}
	return r.rx.config, nil
}

func (r *simReceiver) ReadStreamAttributes() (link.StreamAttributes, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rx.stream, nil
}

// ConnectSource plugs an upstream source and trains the receive link at
// cfg.
func (s *Sim) ConnectSource(cfg link.Config) {
	s.mu.Lock()
	s.rx.config = cfg
	s.mu.Unlock()
	s.raiseRx(rx.EventPlug | rx.EventTrainingStart | rx.EventTrainingDone)
}

// SendVideo starts stream st on the receive link and lets vblanks vertical
// blanks pass before flagging video.
func (s *Sim) SendVideo(st link.StreamAttributes, vblanks int) {
	s.mu.Lock()
	s.rx.stream = st
	s.mu.Unlock()
	s.VBlank(vblanks)
	s.raiseRx(rx.EventVideo)
}

func (s *Sim) VBlank(n int) {
	for i := 0; i < n; i++ {
		s.raiseRx(rx.EventVBlank)
	}
}

func (s *Sim) StopVideo() {
	s.mu.Lock()
	s.rx.stream = link.StreamAttributes{}
	s.mu.Unlock()
	s.raiseRx(rx.EventNoVideo)
}

// LoseTraining drops the receive link without removing the cable.
func (s *Sim) LoseTraining() {
	s.mu.Lock()
	s.rx.stream = link.StreamAttributes{}
	s.mu.Unlock()
	s.raiseRx(rx.EventTrainingLost)
}

// RetrainSource re-trains a receive link that lost training.
func (s *Sim) RetrainSource() {
	s.raiseRx(rx.EventTrainingStart | rx.EventTrainingDone)
}

func (s *Sim) UnplugSource() {
	s.mu.Lock()
	s.rx = receiver{masked: s.rx.masked}
	s.mu.Unlock()
	s.raiseRx(rx.EventUnplug)
}

// ReceiverMasked reports whether the receive side has masked its
// notifications.
func (s *Sim) ReceiverMasked() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rx.masked
}

func (s *Sim) VideoDetectEnabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rx.videoDetect
}
