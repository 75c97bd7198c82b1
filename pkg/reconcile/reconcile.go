// Copyright 2026 the u-root Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package reconcile decides what the transmit side should output for a given
// receive stream.
package reconcile

import (
	"errors"
	"fmt"

	"github.com/u-root/u-bridge/pkg/link"
)

var (
	ErrEncodingMismatch = errors.New("receive encoding has no transmit mapping")
	ErrNoLinkConfig     = errors.New("no fallback entry within capability")
)

// encodings maps receive encodings to transmit encodings. No conversion is
// done, so every entry maps to itself.
var encodings = map[link.Encoding]link.Encoding{
	link.EncodingRGB:      link.EncodingRGB,
	link.EncodingYCbCr422: link.EncodingYCbCr422,
	link.EncodingYCbCr444: link.EncodingYCbCr444,
}

// Policy is the bandwidth downscale policy.
type Policy struct {
	// Threshold in active pixels per second. Streams strictly above it are
	// clipped to Reference.
	Threshold uint64
	// Reference supplies the output geometry of a clipped stream. Only its
	// timing fields are used.
	Reference link.StreamAttributes
}

// DefaultPolicy clips anything above 3840x2160@60 to CEA 3840x2160@30.
func DefaultPolicy() Policy {
	return Policy{
		Threshold: 3840 * 2160 * 60,
		Reference: link.StreamAttributes{
			HActive:   3840,
			VActive:   2160,
			FrameRate: 30,
			Blanking: link.Blanking{
				HFrontPorch: 176,
				HSync:       88,
				HBackPorch:  296,
				VFrontPorch: 8,
				VSync:       10,
				VBackPorch:  72,
			},
		},
	}
}

func (p Policy) Validate() error {
	if p.Threshold == 0 {
		return fmt.Errorf("downscale threshold must be positive")
	}
	g := p.Reference
	g.BPC, g.Encoding = 8, link.EncodingRGB
	if err := g.Validate(); err != nil {
		return fmt.Errorf("reference mode: %w", err)
	}
	if g.PixelRate() > p.Threshold {
		return fmt.Errorf("reference mode %dx%d@%d exceeds the downscale threshold", g.HActive, g.VActive, g.FrameRate)
	}
	return nil
}

// Target is the transmit-side configuration derived from a receive stream.
type Target struct {
	Stream link.StreamAttributes
	// Original is the receive stream Stream was derived from.
	Original link.StreamAttributes
	Clipped  bool
	Link     link.Config
	// FormatChanged is set when the encoding differs from the previous
	// target; the buffered path must be fully restarted.
	FormatChanged bool
}

// Same reports whether t and o describe the same output on the same link.
func (t Target) Same(o Target) bool {
	return t.Stream == o.Stream && t.Link.Same(o.Link)
}

func (t Target) String() string {
	s := fmt.Sprintf("%v on %v", t.Stream, t.Link)
	if t.Clipped {
		s += fmt.Sprintf(" (clipped from %v)", t.Original)
	}
	return s
}

type Reconciler struct {
	policy   Policy
	fallback link.Fallback
}

func New(p Policy, f link.Fallback) *Reconciler {
	return &Reconciler{policy: p, fallback: f}
}

func (r *Reconciler) Policy() Policy {
	return r.policy
}

// Output computes the transmit stream for in: the downscale policy applied
// to its geometry and its encoding mapped.
func (r *Reconciler) Output(in link.StreamAttributes) (out link.StreamAttributes, clipped bool, err error) {
	enc, ok := encodings[in.Encoding]
	if !ok {
		return link.StreamAttributes{}, false, fmt.Errorf("%w: %v", ErrEncodingMismatch, in.Encoding)
	}
	out = in
	out.Encoding = enc
	if in.PixelRate() > r.policy.Threshold {
		out = out.WithGeometry(r.policy.Reference)
		clipped = true
	}
	return out, clipped, nil
}

// InitialLink picks the configuration training starts at: lastGood when it
// fits limit and carries s, otherwise the slowest fallback entry within limit
// that carries s, otherwise the fastest entry within limit.
func (r *Reconciler) InitialLink(s link.StreamAttributes, limit, lastGood link.Config) (link.Config, error) {
	if !lastGood.IsZero() && lastGood.Within(limit) && lastGood.Carries(s) {
		return lastGood, nil
	}
	usable := r.fallback.Within(limit).Descending()
	if len(usable) == 0 {
		return link.Config{}, fmt.Errorf("%w: limit %v", ErrNoLinkConfig, limit)
	}
	for i := len(usable) - 1; i >= 0; i-- {
		if usable[i].Carries(s) {
			return usable[i], nil
		}
	}
	return usable[0], nil
}

// Reconcile computes the target for the receive stream in. limit is the
// negotiated transmit capability and prev the target currently streaming,
// if any.
func (r *Reconciler) Reconcile(in link.StreamAttributes, limit, lastGood link.Config, prev *Target) (Target, error) {
	if err := in.Validate(); err != nil {
		return Target{}, err
	}
	out, clipped, err := r.Output(in)
	if err != nil {
		return Target{}, err
	}
	cfg, err := r.InitialLink(out, limit, lastGood)
	if err != nil {
		return Target{}, err
	}
	t := Target{
		Stream:   out,
		Original: in,
		Clipped:  clipped,
		Link:     cfg,
	}
	if prev != nil && !prev.Stream.IsZero() && prev.Stream.Encoding != out.Encoding {
		t.FormatChanged = true
	}
	return t, nil
}
