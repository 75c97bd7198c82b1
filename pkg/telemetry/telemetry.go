// Copyright 2026 the u-root Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package telemetry reports link events to the log and to the exported
// metrics. Nothing here feeds back into negotiation.
package telemetry

import (
	"fmt"
	"io"
	"strconv"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/u-root/u-bridge/pkg/link"
	"github.com/u-root/u-bridge/pkg/logger"
	"github.com/u-root/u-bridge/pkg/metric"
	"go.uber.org/zap"
)

// Failure is a negotiation that could not produce a stream: the link
// configuration and stream it was attempting.
type Failure struct {
	Link   link.Config
	Stream link.StreamAttributes
	Err    error
}

type Reporter struct {
	log *zap.Logger
}

// New returns a Reporter logging to l, or to the process logger if l is nil.
func New(l *zap.Logger) *Reporter {
	if l == nil {
		l = logger.LogContainer.GetLogger()
	}
	return &Reporter{log: l.Named("telemetry")}
}

func (r *Reporter) NegotiationFailed(f Failure) {
	metric.NegotiationFailures.Inc()
	r.log.Error("Negotiation failed",
		zap.Stringer("rate", f.Link.Rate),
		zap.Int("lanes", f.Link.Lanes),
		zap.Stringer("stream", f.Stream),
		zap.Error(f.Err))
}

func (r *Reporter) LinkTransition(side link.Direction, from, to link.State) {
	metric.LinkState.WithLabelValues(side.String()).Set(float64(to))
	if to == link.Unplugged {
		metric.Unplugs.WithLabelValues(side.String()).Inc()
	}
	r.log.Debug("Link transition",
		zap.Stringer("side", side),
		zap.Stringer("from", from),
		zap.Stringer("to", to))
}

// Streaming records a successful negotiation.
func (r *Reporter) Streaming(seq uint64, s link.StreamAttributes, c link.Config, clipped bool) {
	metric.SessionSequence.Set(float64(seq))
	metric.BandwidthClipped.Set(metric.Bool(clipped))
	metric.Streaming.Set(1)
	r.log.Info("Streaming",
		zap.Uint64("seq", seq),
		zap.Stringer("stream", s),
		zap.Stringer("link", c),
		zap.Bool("clipped", clipped))
}

func (r *Reporter) Stopped() {
	metric.Streaming.Set(0)
	metric.BandwidthClipped.Set(0)
}

// Dump writes a table of both links.
func Dump(w io.Writer, s link.Status) error {
	tw := table.NewWriter()
	tw.SetStyle(table.StyleRounded)
	tw.AppendHeader(table.Row{"Side", "State", "Link", "Payload Mbps", "Stream"})
	for _, d := range []link.Direction{link.Receive, link.Transmit} {
		st := s.Side(d)
		payload := ""
		if !st.Config.IsZero() {
			payload = strconv.FormatUint(st.Config.PayloadKbps()/1000, 10)
		}
		tw.AppendRow(table.Row{d, st.State, st.Config, payload, st.Stream})
	}
	tw.SetColumnConfigs([]table.ColumnConfig{
		{Number: 4, Align: text.AlignRight, AlignHeader: text.AlignLeft},
	})
	_, err := fmt.Fprintln(w, tw.Render())
	return err
}
