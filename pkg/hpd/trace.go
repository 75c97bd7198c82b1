// Copyright 2018 the u-root Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package hpd

import (
	"encoding/binary"
	"errors"
	"io"
	"time"

	"github.com/u-root/u-bridge/pkg/tx"
)

// Sample is one reading of the line.
type Sample struct {
	At   time.Time
	High bool
}

type record struct {
	Nanos int64
	High  uint8
}

func (s Sample) write(w io.Writer) error {
	r := record{Nanos: s.At.UnixNano()}
	if s.High {
		r.High = 1
	}
	return binary.Write(w, binary.LittleEndian, r)
}

// ReadTrace reads samples written by a Watcher until EOF.
func ReadTrace(r io.Reader) ([]Sample, error) {
	var out []Sample
	for {
		var rec record
		err := binary.Read(r, binary.LittleEndian, &rec)
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return out, err
		}
		out = append(out, Sample{At: time.Unix(0, rec.Nanos), High: rec.High != 0})
	}
}

// Replay runs recorded samples through a fresh decoder.
func Replay(samples []Sample, pulseMax time.Duration) []tx.Event {
	d := Decoder{PulseMax: pulseMax}
	var out []tx.Event
	for _, s := range samples {
		if ev := d.Sample(s.At, s.High); ev != 0 {
			out = append(out, ev)
		}
	}
	return out
}
