// Copyright 2026 the u-root Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package reconcile

import (
	"errors"
	"math/rand"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/u-root/u-bridge/pkg/link"
)

var fallback = link.Fallback{
	{Rate: link.RateHBR3, Lanes: 4},
	{Rate: link.RateHBR2, Lanes: 4},
	{Rate: link.RateHBR2, Lanes: 2},
	{Rate: link.RateHBR, Lanes: 2},
}

var cea = link.Blanking{HFrontPorch: 176, HSync: 88, HBackPorch: 296, VFrontPorch: 8, VSync: 10, VBackPorch: 72}

func mode(h, v, hz, bpc int, e link.Encoding) link.StreamAttributes {
	return link.StreamAttributes{HActive: h, VActive: v, FrameRate: hz, BPC: bpc, Encoding: e, Blanking: cea}
}

func TestUnclippedStreamPassesThrough(t *testing.T) {
	r := New(DefaultPolicy(), fallback)
	in := mode(3840, 2160, 60, 10, link.EncodingRGB)
	got, err := r.Reconcile(in, fallback.Max(), link.Config{}, nil)
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if got.Stream != in {
		t.Errorf("Expected target %v, got %v", in, got.Stream)
	}
	if got.Clipped || got.FormatChanged {
		t.Errorf("Expected no flags, got clipped=%v format-changed=%v", got.Clipped, got.FormatChanged)
	}
	// 4K60 10bpc needs 17.82 Gbps: the slowest entry carrying it is HBR3 x4.
	if !got.Link.Same(fallback[0]) {
		t.Errorf("Expected initial link %v, got %v", fallback[0], got.Link)
	}
}

func TestOversizedStreamIsClipped(t *testing.T) {
	r := New(DefaultPolicy(), fallback)
	in := mode(7680, 4320, 30, 10, link.EncodingRGB)
	got, err := r.Reconcile(in, fallback.Max(), link.Config{}, nil)
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	want := mode(3840, 2160, 30, 10, link.EncodingRGB)
	if diff := cmp.Diff(want, got.Stream); diff != "" {
		t.Errorf("Target stream (-want +got):\n%s", diff)
	}
	if !got.Clipped {
		t.Errorf("Expected bandwidth-clipped")
	}
	if got.Original != in {
		t.Errorf("Original geometry not kept: %v", got.Original)
	}
}

func TestThresholdIsExclusive(t *testing.T) {
	p := DefaultPolicy()
	r := New(p, fallback)
	at := mode(3840, 2160, 60, 8, link.EncodingRGB)
	if at.PixelRate() != p.Threshold {
		t.Fatalf("Test mode at %d, threshold %d", at.PixelRate(), p.Threshold)
	}
	if _, clipped, _ := r.Output(at); clipped {
		t.Errorf("Stream exactly at the threshold was clipped")
	}
	above := mode(3840, 2160, 61, 8, link.EncodingRGB)
	if _, clipped, _ := r.Output(above); !clipped {
		t.Errorf("Stream above the threshold was not clipped")
	}
}

func TestDownscaleIsDeterministic(t *testing.T) {
	r := New(DefaultPolicy(), fallback)
	ref := DefaultPolicy().Reference.Geometry()
	rnd := rand.New(rand.NewSource(1))
	for i := 0; i < 200; i++ {
		in := link.StreamAttributes{
			HActive:   3841 + rnd.Intn(4000),
			VActive:   2160 + rnd.Intn(2200),
			FrameRate: 60 + rnd.Intn(180),
			BPC:       []int{8, 10, 12}[rnd.Intn(3)],
			Encoding:  []link.Encoding{link.EncodingRGB, link.EncodingYCbCr422, link.EncodingYCbCr444}[rnd.Intn(3)],
			Blanking:  link.Blanking{HFrontPorch: rnd.Intn(300), HSync: 1 + rnd.Intn(100), VSync: 1 + rnd.Intn(10)},
		}
		out, clipped, err := r.Output(in)
		if err != nil {
			t.Fatalf("%v: %v", in, err)
		}
		if !clipped {
			t.Fatalf("%v above threshold was not clipped", in)
		}
		if diff := cmp.Diff(ref, out.Geometry()); diff != "" {
			t.Fatalf("%v clipped to a different geometry (-want +got):\n%s", in, diff)
		}
		if out.BPC != in.BPC || out.Encoding != in.Encoding {
			t.Fatalf("%v: depth or encoding not carried, got %v", in, out)
		}
	}
}

func TestEncodingMismatch(t *testing.T) {
	r := New(DefaultPolicy(), fallback)
	_, err := r.Reconcile(mode(1920, 1080, 60, 8, link.EncodingYCbCr420), fallback.Max(), link.Config{}, nil)
	if !errors.Is(err, ErrEncodingMismatch) {
		t.Errorf("Expected ErrEncodingMismatch, got %v", err)
	}
}

func TestFormatChanged(t *testing.T) {
	r := New(DefaultPolicy(), fallback)
	limit := fallback.Max()
	prev, err := r.Reconcile(mode(1920, 1080, 60, 8, link.EncodingRGB), limit, link.Config{}, nil)
	if err != nil {
		t.Fatal(err)
	}
	geometry, _ := r.Reconcile(mode(1280, 720, 60, 8, link.EncodingRGB), limit, link.Config{}, &prev)
	if geometry.FormatChanged {
		t.Errorf("Geometry change flagged as a format change")
	}
	format, _ := r.Reconcile(mode(1920, 1080, 60, 8, link.EncodingYCbCr422), limit, link.Config{}, &prev)
	if !format.FormatChanged {
		t.Errorf("Encoding change not flagged")
	}
	empty := Target{}
	if t2, _ := r.Reconcile(mode(1920, 1080, 60, 8, link.EncodingYCbCr422), limit, link.Config{}, &empty); t2.FormatChanged {
		t.Errorf("Change flagged without a previous stream")
	}
}

func TestInitialLink(t *testing.T) {
	r := New(DefaultPolicy(), fallback)
	fhd := mode(1920, 1080, 60, 8, link.EncodingRGB)
	for _, tt := range []struct {
		name     string
		limit    link.Config
		lastGood link.Config
		want     link.Config
		err      error
	}{
		{"last known good", fallback.Max(), fallback[1], fallback[1], nil},
		{"last known good above limit", fallback[2], fallback[1], fallback[3], nil},
		{"slowest that carries", fallback.Max(), link.Config{}, fallback[3], nil},
		{"nothing within limit", link.Config{Rate: link.RateRBR, Lanes: 1}, link.Config{}, link.Config{}, ErrNoLinkConfig},
	} {
		t.Run(tt.name, func(t *testing.T) {
			got, err := r.InitialLink(fhd, tt.limit, tt.lastGood)
			if !errors.Is(err, tt.err) {
				t.Fatalf("Expected error %v, got %v", tt.err, err)
			}
			if !got.Same(tt.want) {
				t.Errorf("Expected %v, got %v", tt.want, got)
			}
		})
	}
}

func TestPolicyValidate(t *testing.T) {
	if err := DefaultPolicy().Validate(); err != nil {
		t.Errorf("Default policy invalid: %v", err)
	}
	p := DefaultPolicy()
	p.Threshold = 1920 * 1080 * 60
	if err := p.Validate(); err == nil {
		t.Errorf("Reference above threshold accepted")
	}
}
