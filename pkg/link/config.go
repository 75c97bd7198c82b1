// Copyright 2026 the u-root Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package link

import (
	"fmt"
	"sort"
)

// Params are the training-algorithm parameters that travel with a link
// configuration.
type Params struct {
	EnhancedFraming bool `toml:"enhanced_framing"`
	SpreadSpectrum  bool `toml:"spread_spectrum"`
}

// Config is a rate/lane-count pair as requested from (transmit) or observed
// on (receive) a physical link.
type Config struct {
	Rate   Rate   `toml:"rate"`
	Lanes  int    `toml:"lanes"`
	Params Params `toml:"params"`
}

func (c Config) IsZero() bool {
	return c.Rate == 0 && c.Lanes == 0
}

func (c Config) Validate() error {
	if !c.Rate.Known() {
		return fmt.Errorf("unknown link rate %#02x", uint8(c.Rate))
	}
	if !ValidLanes(c.Lanes) {
		return fmt.Errorf("invalid lane count %d", c.Lanes)
	}
	return nil
}

// PayloadKbps is the aggregate payload bandwidth of the link.
func (c Config) PayloadKbps() uint64 {
	return c.Rate.PayloadKbps() * uint64(c.Lanes)
}

// Within reports whether neither the rate nor the lane count of c exceeds
// the capability limit.
func (c Config) Within(limit Config) bool {
	return c.Rate.Mbps() <= limit.Rate.Mbps() && c.Lanes <= limit.Lanes
}

// Carries reports whether the link has enough payload bandwidth for s.
func (c Config) Carries(s StreamAttributes) bool {
	return c.PayloadKbps() >= s.RequiredKbps()
}

// Same compares rate and lane count, ignoring training parameters.
func (c Config) Same(o Config) bool {
	return c.Rate == o.Rate && c.Lanes == o.Lanes
}

func (c Config) String() string {
	if c.IsZero() {
		return "none"
	}
	return fmt.Sprintf("%s x%d", c.Rate, c.Lanes)
}

// Min returns the per-field minimum of two capability limits.
func Min(a, b Config) Config {
	m := a
	if b.Rate.Mbps() < a.Rate.Mbps() {
		m.Rate = b.Rate
	}
	if b.Lanes < a.Lanes {
		m.Lanes = b.Lanes
	}
	m.Params.EnhancedFraming = a.Params.EnhancedFraming && b.Params.EnhancedFraming
	m.Params.SpreadSpectrum = a.Params.SpreadSpectrum && b.Params.SpreadSpectrum
	return m
}

// Fallback is the fixed-priority list of link configurations tried when
// negotiation fails, highest priority first.
type Fallback []Config

func (f Fallback) Validate() error {
	if len(f) == 0 {
		return fmt.Errorf("fallback list is empty")
	}
	for i, c := range f {
		if err := c.Validate(); err != nil {
			return fmt.Errorf("fallback entry %d: %w", i, err)
		}
	}
	return nil
}

// Max combines the fastest rate and the widest lane count found in any entry,
// with the parameters of the first entry. It need not be an entry itself and
// is the hard upper bound of any transmit configuration.
func (f Fallback) Max() Config {
	if len(f) == 0 {
		return Config{}
	}
	m := f[0]
	for _, c := range f[1:] {
		m = maxConfig(m, c)
	}
	return m
}

func maxConfig(a, b Config) Config {
	if b.Rate.Mbps() > a.Rate.Mbps() {
		a.Rate = b.Rate
	}
	if b.Lanes > a.Lanes {
		a.Lanes = b.Lanes
	}
	return a
}

// Within returns the entries that fit under limit, in list order.
func (f Fallback) Within(limit Config) Fallback {
	var out Fallback
	for _, c := range f {
		if c.Within(limit) {
			out = append(out, c)
		}
	}
	return out
}

// Descending returns a copy ordered by payload bandwidth, highest first.
// Entries with equal bandwidth keep their list order.
func (f Fallback) Descending() Fallback {
	out := append(Fallback(nil), f...)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].PayloadKbps() > out[j].PayloadKbps()
	})
	return out
}

// Below returns the highest-priority entry that is strictly slower than c
// and fits under limit.
func (f Fallback) Below(c Config, limit Config) (Config, bool) {
	for _, e := range f.Descending() {
		if e.PayloadKbps() < c.PayloadKbps() && e.Within(limit) {
			return e, true
		}
	}
	return Config{}, false
}

// Contains reports whether an entry has the same rate and lane count as c.
func (f Fallback) Contains(c Config) bool {
	for _, e := range f {
		if e.Same(c) {
			return true
		}
	}
	return false
}
