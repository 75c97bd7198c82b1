// Copyright 2026 the u-root Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package bridge

import (
	"context"
	"errors"
	"fmt"

	"github.com/u-root/u-bridge/pkg/link"
	"github.com/u-root/u-bridge/pkg/reconcile"
	"github.com/u-root/u-bridge/pkg/rx"
	"github.com/u-root/u-bridge/pkg/telemetry"
	"github.com/u-root/u-bridge/pkg/tx"
)

// Poll runs one iteration of the orchestrator and reports whether anything
// happened. It must only be called from one goroutine.
func (b *Bridge) Poll(ctx context.Context) bool {
	var rr rx.Request
	var tr tx.Request
	if b.rx != nil {
		rr = b.rx.Service()
	}
	if b.tx != nil {
		tr = b.tx.Service()
	}
	busy := rr != 0 || tr != 0
	defer b.publish()

	if b.edidRefresh.Swap(false) && b.tx != nil {
		busy = true
		if err := b.tx.RefreshEDID(); err != nil {
			log.Warnf("Refreshing sink EDID: %v", err)
		}
	}

	// A mask window opened by a teardown stays open for at least one poll
	// and closes once the receive side is up, re-sampling hot-plug.
	if b.tx != nil && b.tx.Masked() && (b.rx == nil || b.rx.State().LinkUp()) {
		b.tx.Unmask()
	}

	switch {
	case rr.Has(rx.RequestUnplugged|rx.RequestLinkDown|rx.RequestMaskTxHPD) || tr.Has(tx.RequestDisconnected):
		b.teardown()
	case rr.Has(rx.RequestStreamLost):
		b.streamLost()
	}
	if tr.Has(tx.RequestConnected) && b.tx.State() != link.Unplugged {
		b.renegotiate = true
	}
	if tr.Has(tx.RequestStatusCheck) && b.session.Phase == Streaming {
		b.revalidate(ctx)
	}
	if b.rx != nil && b.rx.VideoPending() {
		if b.detect() {
			busy = true
		}
	}
	if b.renegotiate {
		b.renegotiate = false
		b.negotiate(ctx)
		busy = true
	}
	return busy
}

// teardown unwinds the session after a cable or training loss on either
// side. The buffer path is stopped whether or not it is believed to run, and
// both sides mask their notifications until the session is rebuilt.
func (b *Bridge) teardown() {
	if b.session.Phase != WaitForLink {
		log.Infof("Tearing down session %v", b.session)
	}
	if err := b.buf.StopBufferedPath(); err != nil {
		log.Warnf("Stopping buffer path: %v", err)
	}
	b.bufferActive = false
	if b.rx != nil {
		b.rx.Mask()
		if !b.rx.State().LinkUp() {
			b.rx.Reset()
		}
	}
	if b.tx != nil {
		b.tx.MaskHPD()
		b.tx.Reset()
	}
	b.tel.Stopped()
	b.session.Reset()
	b.renegotiate = false
}

// streamLost stops the output when the receive stream goes away but the
// link stays trained. The session is kept so the stream can resume.
func (b *Bridge) streamLost() {
	if b.session.Phase != Streaming {
		return
	}
	log.Infof("Receive stream lost, waiting for video")
	b.stopOutput()
	b.session.Phase = WaitForLink
	b.session.Rx = b.rx.State()
	b.tel.Stopped()
}

// detect reads and promotes a pending receive stream once the link has
// settled.
func (b *Bridge) detect() bool {
	switch b.rx.State() {
	case link.Trained, link.NoVideo, link.VideoValid:
	default:
		return false
	}
	if !b.rx.Settled(b.conf.Rx.SettleVBlanks) {
		return false
	}
	s, err := b.rx.DetectStream(b.clk, b.conf.Rx.DetectRetries, b.conf.Rx.DetectInterval.Duration)
	if err != nil {
		log.Warnf("Receive stream detection: %v", err)
		b.rx.ClearVideoPending()
		return true
	}
	if err := b.rx.Promote(s); err != nil {
		log.Errorf("Promoting receive stream: %v", err)
		return true
	}
	b.session.Rx = b.rx.State()
	b.session.RxLink = b.rx.Status().Config
	if b.session.Phase != Streaming || s != b.session.Stream {
		b.renegotiate = true
	}
	return true
}

// input is the stream the transmit side should carry.
func (b *Bridge) input() link.StreamAttributes {
	switch {
	case b.rx == nil:
		return b.conf.Source
	case b.rx.State() == link.VideoValid:
		return b.rx.Status().Stream
	}
	return link.StreamAttributes{}
}

func (b *Bridge) negotiate(ctx context.Context) {
	in := b.input()
	if in.IsZero() {
		return
	}
	if b.tx == nil {
		b.passThrough(in)
		return
	}
	if b.tx.State() == link.Unplugged {
		log.Infof("Stream %v waiting for a sink", in)
		return
	}
	// Reject what cannot be carried before waking the sink.
	if _, _, err := b.rec.Output(in); err != nil {
		b.fail(link.Config{}, in, err)
		return
	}
	limit, err := b.tx.NegotiateCapabilities()
	if err != nil {
		if !errors.Is(err, tx.ErrAborted) {
			b.fail(link.Config{}, in, err)
		}
		return
	}
	lastGood, _ := b.tx.LastKnownGood()
	var prev *reconcile.Target
	if !b.session.Target.Stream.IsZero() {
		p := b.session.Target
		prev = &p
	}
	t, err := b.rec.Reconcile(in, limit, lastGood, prev)
	if err != nil {
		b.fail(limit, in, err)
		return
	}

	cur := b.tx.Status().Config
	if b.session.Phase == Streaming && b.tx.State() == link.VideoValid && t.Stream == b.session.Target.Stream {
		b.session.Stream = in
		return
	}
	if prev != nil && !t.FormatChanged && b.tx.State().LinkUp() && cur.Carries(t.Stream) {
		t.Link = cur
		b.hotUpdate(in, t)
		return
	}

	log.Infof("Negotiating %v", t)
	b.session.Phase = Negotiating
	b.stopOutput()
	cfg, err := b.abortable(ctx, func(ctx context.Context) (link.Config, error) {
		return b.tx.TrainWithFallback(ctx, t.Link, t.Stream)
	})
	if errors.Is(err, tx.ErrAborted) {
		log.Infof("Negotiation abandoned")
		return
	}
	if err != nil {
		failed := t.Link
		var te *tx.TrainError
		if errors.As(err, &te) {
			failed = te.Config
		}
		b.fail(failed, t.Stream, err)
		return
	}
	t.Link = cfg
	if err := b.output(t); err != nil {
		b.fail(cfg, t.Stream, err)
		return
	}
	b.commit(in, t)
}

// hotUpdate re-programs the stream on the link already trained.
func (b *Bridge) hotUpdate(in link.StreamAttributes, t reconcile.Target) {
	log.Infof("Updating stream to %v without retraining", t)
	b.stopBuffer()
	if err := b.output(t); err != nil {
		b.fail(t.Link, t.Stream, err)
		return
	}
	b.commit(in, t)
}

// output starts the transmit stream and then the buffer path.
func (b *Bridge) output(t reconcile.Target) error {
	if err := b.tx.StartStream(t.Stream); err != nil {
		return err
	}
	if err := b.startBuffer(t.Stream); err != nil {
		if serr := b.tx.StopStream(); serr != nil {
			log.Warnf("Stopping transmit stream: %v", serr)
		}
		return err
	}
	return nil
}

func (b *Bridge) commit(in link.StreamAttributes, t reconcile.Target) {
	b.session.Stream = in
	b.session.Target = t
	b.session.TxLink = t.Link
	b.session.Tx = b.tx.State()
	if b.rx != nil {
		b.session.Rx = b.rx.State()
		b.session.RxLink = b.rx.Status().Config
	}
	b.session.FormatChanged = t.FormatChanged
	b.session.BandwidthClipped = t.Clipped
	b.session.Seq++
	b.session.Phase = Streaming
	if b.rx != nil {
		b.rx.Unmask()
	}
	b.tel.Streaming(b.session.Seq, t.Stream, t.Link, t.Clipped)
}

// passThrough buffers the receive stream as is when there is no transmit
// side.
func (b *Bridge) passThrough(in link.StreamAttributes) {
	if b.session.Phase == Streaming && b.session.Stream == in {
		return
	}
	b.stopBuffer()
	if err := b.startBuffer(in); err != nil {
		b.fail(link.Config{}, in, err)
		return
	}
	b.session.Stream = in
	b.session.Target = reconcile.Target{Stream: in, Original: in}
	b.session.Rx = b.rx.State()
	b.session.RxLink = b.rx.Status().Config
	b.session.Seq++
	b.session.Phase = Streaming
	b.rx.Unmask()
	b.tel.Streaming(b.session.Seq, in, b.session.RxLink, false)
}

// revalidate answers an HPD pulse: a healthy link is left alone, an
// unhealthy one is retrained in place at the last known good configuration
// and renegotiated from scratch if that fails.
func (b *Bridge) revalidate(ctx context.Context) {
	err := b.tx.CheckLinkStatus(ctx)
	if err == nil {
		return
	}
	lastGood, ok := b.tx.LastKnownGood()
	if !ok {
		log.Warnf("Transmit link unhealthy: %v", err)
		b.renegotiate = true
		return
	}
	log.Warnf("Transmit link unhealthy: %v, retraining at %v", err, lastGood)
	t := b.session.Target
	cfg, err := b.abortable(ctx, func(ctx context.Context) (link.Config, error) {
		return b.tx.Train(ctx, lastGood, t.Stream)
	})
	if errors.Is(err, tx.ErrAborted) {
		return
	}
	if err == nil {
		if err = b.tx.StartStream(t.Stream); err == nil {
			b.session.TxLink = cfg
			b.session.Target.Link = cfg
			b.session.Tx = b.tx.State()
			return
		}
	}
	log.Warnf("Retraining at %v failed: %v", lastGood, err)
	b.renegotiate = true
}

// abortable runs a training step with a context an unplug interrupt can
// cancel.
func (b *Bridge) abortable(ctx context.Context, f func(context.Context) (link.Config, error)) (link.Config, error) {
	ctx, cancel := context.WithCancel(ctx)
	b.mu.Lock()
	b.cancel = cancel
	b.mu.Unlock()
	defer func() {
		b.mu.Lock()
		b.cancel = nil
		b.mu.Unlock()
		cancel()
	}()
	// An unplug that arrived before the context was armed.
	if (b.rx != nil && b.rx.Pending(rx.EventUnplug|rx.EventTrainingLost)) || b.tx.Pending(tx.EventDisconnect) {
		cancel()
	}
	return f(ctx)
}

// fail reports a negotiation that cannot stream and stops any output.
func (b *Bridge) fail(c link.Config, s link.StreamAttributes, err error) {
	b.tel.NegotiationFailed(telemetry.Failure{Link: c, Stream: s, Err: err})
	b.stopOutput()
	b.session.Phase = WaitForLink
	b.tel.Stopped()
}

// stopOutput stops the buffer path, then the transmit stream.
func (b *Bridge) stopOutput() {
	b.stopBuffer()
	if b.tx == nil {
		return
	}
	if err := b.tx.StopStream(); err != nil {
		log.Warnf("Stopping transmit stream: %v", err)
	}
}

func (b *Bridge) stopBuffer() {
	if !b.bufferActive {
		return
	}
	if err := b.buf.StopBufferedPath(); err != nil {
		log.Warnf("Stopping buffer path: %v", err)
	}
	b.bufferActive = false
}

func (b *Bridge) startBuffer(s link.StreamAttributes) error {
	if err := b.buf.StartBufferedPath(s); err != nil {
		return fmt.Errorf("starting buffer path: %w", err)
	}
	b.bufferActive = true
	return nil
}
