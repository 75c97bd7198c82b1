// Copyright 2026 the u-root Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package platform

import "github.com/u-root/u-bridge/pkg/link"

type buffer struct {
	active bool
	attrs  link.StreamAttributes
	starts int
	stops  int
}

// StartBufferedPath starts the simulated DMA path. Starting it again with
// new attributes reconfigures it.
func (s *Sim) StartBufferedPath(attrs link.StreamAttributes) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.buffer.starts++
	s.buffer.active = true
	s.buffer.attrs = attrs
	log.Debugf("sim: buffer path running %v", attrs)
	return nil
}

func (s *Sim) StopBufferedPath() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.buffer.stops++
	s.buffer.active = false
	return nil
}

// BufferStats reports how often the buffer path was started and stopped.
func (s *Sim) BufferStats() (starts, stops int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buffer.starts, s.buffer.stops
}

// BufferActive reports whether the buffer path runs, and with what.
func (s *Sim) BufferActive() (bool, link.StreamAttributes) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buffer.active, s.buffer.attrs
}
