// Copyright 2026 the u-root Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package rx

import (
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jmhodges/clock"
	"github.com/u-root/u-bridge/pkg/link"
)

var (
	ErrNotTrained     = errors.New("receive link not trained")
	ErrNoVideo        = errors.New("no video pending")
	ErrStreamUnstable = errors.New("stream attributes did not settle")
)

// DetectStream reads the main stream attributes until two consecutive reads
// agree and describe a valid stream, sleeping interval between reads and
// giving up after retries further reads.
func (m *Monitor) DetectStream(clk clock.Clock, retries int, interval time.Duration) (link.StreamAttributes, error) {
	if !m.state.State().LinkUp() {
		return link.StreamAttributes{}, ErrNotTrained
	}
	b := backoff.WithMaxRetries(&backoff.ConstantBackOff{Interval: interval}, uint64(retries))
	b.Reset()
	var prev link.StreamAttributes
	var lastErr error
	for {
		s, err := m.hw.ReadStreamAttributes()
		switch {
		case err != nil:
			lastErr = err
		case s.Validate() != nil:
			lastErr = s.Validate()
		case s == prev:
			return s, nil
		default:
			lastErr = nil
		}
		prev = s
		delay := b.NextBackOff()
		if delay == backoff.Stop {
			break
		}
		clk.Sleep(delay)
	}
	if lastErr != nil {
		return link.StreamAttributes{}, fmt.Errorf("%w: %v", ErrStreamUnstable, lastErr)
	}
	return link.StreamAttributes{}, ErrStreamUnstable
}

// Promote moves a trained link with pending video to VideoValid and records
// the detected stream.
func (m *Monitor) Promote(s link.StreamAttributes) error {
	switch m.state.State() {
	case link.Trained, link.NoVideo, link.VideoValid:
	default:
		return ErrNotTrained
	}
	if !m.videoPending {
		return ErrNoVideo
	}
	if err := m.state.To(link.VideoValid); err != nil {
		return err
	}
	m.videoPending = false
	if s != m.stream {
		log.Infof("Receive stream %v", s)
	}
	m.stream = s
	return nil
}
