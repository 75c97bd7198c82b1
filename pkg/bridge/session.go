// Copyright 2026 the u-root Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package bridge

import (
	"fmt"

	"github.com/u-root/u-bridge/pkg/link"
	"github.com/u-root/u-bridge/pkg/reconcile"
)

type Phase int

const (
	WaitForLink Phase = iota
	Negotiating
	Streaming
)

func (p Phase) String() string {
	switch p {
	case WaitForLink:
		return "wait-for-link"
	case Negotiating:
		return "negotiating"
	case Streaming:
		return "streaming"
	}
	return fmt.Sprintf("Phase(%d)", int(p))
}

// Session is the negotiated state of one pass-through. Only the poll loop
// writes it.
type Session struct {
	Phase Phase
	// Stream is the input stream the session was built for.
	Stream link.StreamAttributes
	Target reconcile.Target
	Rx     link.State
	Tx     link.State
	RxLink link.Config
	TxLink link.Config

	FormatChanged    bool
	BandwidthClipped bool
	// Seq counts successful negotiations over the life of the process.
	Seq uint64
}

// Reset clears everything but the sequence number.
func (s *Session) Reset() {
	*s = Session{Seq: s.Seq}
}

func (s Session) String() string {
	return fmt.Sprintf("#%d %v %v", s.Seq, s.Phase, s.Target)
}
