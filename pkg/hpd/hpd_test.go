// Copyright 2018 the u-root Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package hpd

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/jmhodges/clock"
	"github.com/u-root/u-bridge/pkg/tx"
)

func TestDecoder(t *testing.T) {
	t0 := time.Unix(1000, 0)
	ms := func(n int) time.Time { return t0.Add(time.Duration(n) * time.Millisecond) }
	var tests = []struct {
		name    string
		samples []Sample
		want    []tx.Event
	}{
		{
			name:    "plugged at start",
			samples: []Sample{{ms(0), true}, {ms(1), true}},
			want:    []tx.Event{tx.EventConnect},
		},
		{
			name:    "nothing plugged",
			samples: []Sample{{ms(0), false}, {ms(10), false}},
		},
		{
			name:    "irq pulse",
			samples: []Sample{{ms(0), true}, {ms(1), false}, {ms(2), true}},
			want:    []tx.Event{tx.EventConnect, tx.EventPulse},
		},
		{
			name:    "pulse at the limit",
			samples: []Sample{{ms(0), true}, {ms(1), false}, {ms(3), true}},
			want:    []tx.Event{tx.EventConnect, tx.EventPulse},
		},
		{
			name:    "unplug",
			samples: []Sample{{ms(0), true}, {ms(1), false}, {ms(2), false}, {ms(4), false}, {ms(9), false}},
			want:    []tx.Event{tx.EventConnect, tx.EventDisconnect},
		},
		{
			name:    "replug",
			samples: []Sample{{ms(0), true}, {ms(1), false}, {ms(5), false}, {ms(6), true}},
			want:    []tx.Event{tx.EventConnect, tx.EventDisconnect, tx.EventConnect},
		},
		{
			name:    "replug between samples",
			samples: []Sample{{ms(0), true}, {ms(1), false}, {ms(10), true}},
			want:    []tx.Event{tx.EventConnect, tx.EventDisconnect | tx.EventConnect},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Replay(tt.samples, DefaultPulseMax)
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("Unexpected events (-want +got):\n%s", diff)
			}
		})
	}
}

type scriptedLine struct {
	levels []bool
	cancel context.CancelFunc
	n      int
}

func (l *scriptedLine) HPDAsserted() bool {
	v := l.levels[l.n]
	l.n++
	if l.n == len(l.levels) {
		l.cancel()
	}
	return v
}

func TestWatcher(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	line := &scriptedLine{
		levels: []bool{true, true, false, true, true, false, false, false, false, true},
		cancel: cancel,
	}
	var trace bytes.Buffer
	w := &Watcher{
		Line:     line,
		Clock:    clock.NewFake(),
		Interval: time.Millisecond,
		Decoder:  Decoder{PulseMax: DefaultPulseMax},
		Trace:    &trace,
	}
	var got []tx.Event
	if err := w.Run(ctx, func(e tx.Event) { got = append(got, e) }); err != nil {
		t.Fatalf("Run: %v", err)
	}
	want := []tx.Event{tx.EventConnect, tx.EventPulse, tx.EventDisconnect, tx.EventConnect}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Unexpected events (-want +got):\n%s", diff)
	}

	samples, err := ReadTrace(&trace)
	if err != nil {
		t.Fatalf("ReadTrace: %v", err)
	}
	if len(samples) != len(line.levels) {
		t.Fatalf("Expected %d samples, got %d", len(line.levels), len(samples))
	}
	if d := samples[1].At.Sub(samples[0].At); d != time.Millisecond {
		t.Errorf("Expected samples 1ms apart, got %v", d)
	}
	if diff := cmp.Diff(want, Replay(samples, DefaultPulseMax)); diff != "" {
		t.Errorf("Replayed trace differs (-want +got):\n%s", diff)
	}
}

func TestEventString(t *testing.T) {
	if s := (tx.EventDisconnect | tx.EventConnect).String(); s != "connect|disconnect" {
		t.Errorf("Expected connect|disconnect, got %q", s)
	}
}
