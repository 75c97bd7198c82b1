// Copyright 2026 the u-root Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package telemetry

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	pt "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/u-root/u-bridge/pkg/link"
	"github.com/u-root/u-bridge/pkg/metric"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func observed(level zapcore.Level) (*Reporter, *observer.ObservedLogs) {
	core, logs := observer.New(level)
	return New(zap.New(core)), logs
}

func TestNegotiationFailedReportsTuple(t *testing.T) {
	r, logs := observed(zap.InfoLevel)
	before := pt.ToFloat64(metric.NegotiationFailures)
	r.NegotiationFailed(Failure{
		Link:   link.Config{Rate: link.RateHBR2, Lanes: 2},
		Stream: link.StreamAttributes{HActive: 1920, VActive: 1080, FrameRate: 60, BPC: 8, Encoding: link.EncodingRGB},
		Err:    errors.New("lane 1 status 0x1"),
	})
	if got := pt.ToFloat64(metric.NegotiationFailures) - before; got != 1 {
		t.Errorf("Expected 1 new failure, got %v", got)
	}
	entries := logs.All()
	if len(entries) != 1 {
		t.Fatalf("Expected 1 log entry, got %d", len(entries))
	}
	f := entries[0].ContextMap()
	if f["rate"] != "HBR2" || f["lanes"] != int64(2) || f["stream"] != "1920x1080@60 8bpc RGB" {
		t.Errorf("Unexpected fields %v", f)
	}
	if f["error"] != "lane 1 status 0x1" {
		t.Errorf("Expected error field, got %v", f["error"])
	}
}

func TestLinkTransition(t *testing.T) {
	r, logs := observed(zap.DebugLevel)
	unplugs := pt.ToFloat64(metric.Unplugs.WithLabelValues("tx"))
	r.LinkTransition(link.Transmit, link.Trained, link.Unplugged)
	if got := pt.ToFloat64(metric.LinkState.WithLabelValues("tx")); got != float64(link.Unplugged) {
		t.Errorf("Expected state gauge %v, got %v", float64(link.Unplugged), got)
	}
	if got := pt.ToFloat64(metric.Unplugs.WithLabelValues("tx")) - unplugs; got != 1 {
		t.Errorf("Expected 1 unplug, got %v", got)
	}
	if logs.FilterField(zap.Stringer("to", link.Unplugged)).Len() != 1 {
		t.Errorf("Transition not logged: %v", logs.All())
	}
}

func TestStreaming(t *testing.T) {
	r, _ := observed(zap.InfoLevel)
	r.Streaming(4, link.StreamAttributes{}, link.Config{Rate: link.RateHBR3, Lanes: 4}, true)
	if pt.ToFloat64(metric.SessionSequence) != 4 || pt.ToFloat64(metric.BandwidthClipped) != 1 || pt.ToFloat64(metric.Streaming) != 1 {
		t.Errorf("Streaming gauges not set")
	}
	r.Stopped()
	if pt.ToFloat64(metric.Streaming) != 0 || pt.ToFloat64(metric.BandwidthClipped) != 0 {
		t.Errorf("Stopped did not clear gauges")
	}
}

func TestDump(t *testing.T) {
	var b bytes.Buffer
	err := Dump(&b, link.Status{
		Rx: link.SideStatus{State: link.VideoValid, Config: link.Config{Rate: link.RateHBR3, Lanes: 4}},
		Tx: link.SideStatus{State: link.Unplugged},
	})
	if err != nil {
		t.Fatal(err)
	}
	out := b.String()
	for _, want := range []string{"video-valid", "HBR3 x4", "25920", "unplugged"} {
		if !strings.Contains(out, want) {
			t.Errorf("Dump missing %q:\n%s", want, out)
		}
	}
}
