// Copyright 2026 the u-root Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package bridge

import (
	"context"
	"fmt"
	"os"

	"github.com/jpillora/backoff"
	"github.com/u-root/u-bridge/config"
	"github.com/u-root/u-bridge/pkg/hpd"
	"github.com/u-root/u-bridge/pkg/metric"
	"golang.org/x/sync/errgroup"
)

// Run polls until ctx is done. The interval between polls grows while
// nothing happens and snaps back to the minimum on any activity. The buffer
// path is stopped on the way out.
func (b *Bridge) Run(ctx context.Context) error {
	idle := &backoff.Backoff{
		Min:    b.conf.Poll.Min.Duration,
		Max:    b.conf.Poll.Max.Duration,
		Factor: 2,
	}
	defer b.shutdown()
	for {
		if b.Poll(ctx) {
			idle.Reset()
		}
		select {
		case <-ctx.Done():
			return nil
		case <-b.clk.After(idle.Duration()):
		}
	}
}

func (b *Bridge) shutdown() {
	if err := b.buf.StopBufferedPath(); err != nil {
		log.Warnf("Stopping buffer path: %v", err)
	}
	b.bufferActive = false
	if b.tx != nil {
		b.tx.Reset()
	}
	b.tel.Stopped()
	b.session.Reset()
	b.publish()
	log.Infof("Bridge stopped")
}

// Startup runs a bridge on plat until ctx is done or the poll loop or the
// metrics endpoint fails.
func Startup(ctx context.Context, plat Platform, conf *config.Config) error {
	b, err := New(plat, conf, nil)
	if err != nil {
		return err
	}
	return b.Serve(ctx)
}

// Serve runs the poll loop and, if configured, the metrics endpoint and the
// hot-plug sampler.
func (b *Bridge) Serve(ctx context.Context) error {
	conf := b.conf
	log.Infof("Starting u-bridge %s %s", conf.Version.Version, conf.Version.GitHash)
	defer b.plat.Close()

	var w *hpd.Watcher
	if b.tx != nil && conf.Tx.HPDPoll.Duration > 0 {
		var err error
		if w, err = b.hpdWatcher(); err != nil {
			return err
		}
		if f, ok := w.Trace.(*os.File); ok {
			defer f.Close()
		}
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Infof("Starting poll loop")
		return b.Run(ctx)
	})
	if w != nil {
		g.Go(func() error {
			return w.Run(ctx, b.TxInterrupt)
		})
	}
	if conf.Metrics.Address != "" {
		g.Go(func() error {
			log.Infof("Serving metrics on %s", conf.Metrics.Address)
			return metric.Serve(ctx, conf.Metrics.Address)
		})
	}
	return g.Wait()
}

func (b *Bridge) hpdWatcher() (*hpd.Watcher, error) {
	w := &hpd.Watcher{
		Line:     b.plat.Transmitter(),
		Clock:    b.clk,
		Interval: b.conf.Tx.HPDPoll.Duration,
		Decoder:  hpd.Decoder{PulseMax: b.conf.Tx.HPDPulseMax.Duration},
	}
	if b.conf.Tx.HPDTrace != "" {
		f, err := os.Create(b.conf.Tx.HPDTrace)
		if err != nil {
			return nil, fmt.Errorf("opening HPD trace: %w", err)
		}
		w.Trace = f
	}
	return w, nil
}
