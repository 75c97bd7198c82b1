// Copyright 2026 the u-root Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package link holds the observed state of both physical links of the
// bridge: link state machines, rate/lane configurations and stream
// attributes. It has no behaviour beyond enforcing its own invariants.
package link

// SideStatus is a snapshot of one link.
type SideStatus struct {
	State  State
	Config Config
	Stream StreamAttributes
}

// Plugged reports whether a cable is believed to be present.
func (s SideStatus) Plugged() bool {
	return s.State != Unplugged
}

// Status is a snapshot of both links.
type Status struct {
	Rx SideStatus
	Tx SideStatus
}

func (s Status) Side(d Direction) SideStatus {
	if d == Receive {
		return s.Rx
	}
	return s.Tx
}
