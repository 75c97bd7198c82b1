// Copyright 2026 the u-root Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package link

import (
	"errors"
	"fmt"
	"strings"
)

// Encoding is the color encoding of a video stream.
type Encoding int

const (
	EncodingUnknown Encoding = iota
	EncodingRGB
	EncodingYCbCr422
	EncodingYCbCr444
	EncodingYCbCr420
)

var encodingNames = map[Encoding]string{
	EncodingUnknown:  "unknown",
	EncodingRGB:      "RGB",
	EncodingYCbCr422: "YCbCr422",
	EncodingYCbCr444: "YCbCr444",
	EncodingYCbCr420: "YCbCr420",
}

func (e Encoding) String() string {
	if n, ok := encodingNames[e]; ok {
		return n
	}
	return fmt.Sprintf("encoding(%d)", int(e))
}

func (e Encoding) MarshalText() ([]byte, error) {
	return []byte(e.String()), nil
}

func (e *Encoding) UnmarshalText(b []byte) error {
	s := strings.TrimSpace(string(b))
	for k, n := range encodingNames {
		if strings.EqualFold(n, s) {
			*e = k
			return nil
		}
	}
	return fmt.Errorf("unknown color encoding %q", s)
}

// halfComponents is twice the components per pixel so 4:2:0 stays integral.
func (e Encoding) halfComponents() uint64 {
	switch e {
	case EncodingRGB, EncodingYCbCr444:
		return 6
	case EncodingYCbCr422:
		return 4
	case EncodingYCbCr420:
		return 3
	}
	return 0
}

// Blanking is the horizontal and vertical blanking geometry around the
// active area.
type Blanking struct {
	HFrontPorch int `toml:"h_front_porch"`
	HSync       int `toml:"h_sync"`
	HBackPorch  int `toml:"h_back_porch"`
	VFrontPorch int `toml:"v_front_porch"`
	VSync       int `toml:"v_sync"`
	VBackPorch  int `toml:"v_back_porch"`
}

// StreamAttributes is the main stream attribute set of a video stream.
type StreamAttributes struct {
	HActive   int      `toml:"h_active"`
	VActive   int      `toml:"v_active"`
	FrameRate int      `toml:"frame_rate"`
	BPC       int      `toml:"bpc"`
	Encoding  Encoding `toml:"encoding"`
	Blanking  Blanking `toml:"blanking"`
}

var ErrInvalidStream = errors.New("invalid stream attributes")

func (s StreamAttributes) IsZero() bool {
	return s == StreamAttributes{}
}

func validBPC(b int) bool {
	switch b {
	case 6, 8, 10, 12, 16:
		return true
	}
	return false
}

// Validate checks that s describes a stream that can be timed; it does not
// judge whether the encoding can be carried through the bridge.
func (s StreamAttributes) Validate() error {
	switch {
	case s.HActive <= 0 || s.VActive <= 0:
		return fmt.Errorf("%w: active area %dx%d", ErrInvalidStream, s.HActive, s.VActive)
	case s.FrameRate <= 0:
		return fmt.Errorf("%w: frame rate %d", ErrInvalidStream, s.FrameRate)
	case !validBPC(s.BPC):
		return fmt.Errorf("%w: %d bits per component", ErrInvalidStream, s.BPC)
	case s.Encoding == EncodingUnknown:
		return fmt.Errorf("%w: unknown color encoding", ErrInvalidStream)
	}
	return nil
}

func (s StreamAttributes) HTotal() int {
	b := s.Blanking
	return s.HActive + b.HFrontPorch + b.HSync + b.HBackPorch
}

func (s StreamAttributes) VTotal() int {
	b := s.Blanking
	return s.VActive + b.VFrontPorch + b.VSync + b.VBackPorch
}

// PixelRate is active pixels per second, the figure the downscale threshold
// is compared against.
func (s StreamAttributes) PixelRate() uint64 {
	return uint64(s.HActive) * uint64(s.VActive) * uint64(s.FrameRate)
}

// PixelClock is total (active plus blanking) pixels per second.
func (s StreamAttributes) PixelClock() uint64 {
	return uint64(s.HTotal()) * uint64(s.VTotal()) * uint64(s.FrameRate)
}

// BitsPerPixel rounds 4:2:0 up to a whole bit.
func (s StreamAttributes) BitsPerPixel() uint64 {
	return (uint64(s.BPC)*s.Encoding.halfComponents() + 1) / 2
}

// RequiredKbps is the link payload bandwidth the stream occupies.
func (s StreamAttributes) RequiredKbps() uint64 {
	return s.PixelClock() * s.BitsPerPixel() / 1000
}

// Geometry returns s with only the timing fields set.
func (s StreamAttributes) Geometry() StreamAttributes {
	return StreamAttributes{
		HActive:   s.HActive,
		VActive:   s.VActive,
		FrameRate: s.FrameRate,
		Blanking:  s.Blanking,
	}
}

// WithGeometry replaces the timing fields of s with those of g.
func (s StreamAttributes) WithGeometry(g StreamAttributes) StreamAttributes {
	s.HActive = g.HActive
	s.VActive = g.VActive
	s.FrameRate = g.FrameRate
	s.Blanking = g.Blanking
	return s
}

func (s StreamAttributes) String() string {
	if s.IsZero() {
		return "none"
	}
	return fmt.Sprintf("%dx%d@%d %dbpc %s", s.HActive, s.VActive, s.FrameRate, s.BPC, s.Encoding)
}
