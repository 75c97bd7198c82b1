// Copyright 2026 the u-root Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package link

import (
	"fmt"
)

// Direction names one side of the bridge.
type Direction int

const (
	// Receive is the sink-role link facing the upstream video source.
	Receive Direction = iota
	// Transmit is the source-role link facing the downstream display.
	Transmit
)

func (d Direction) String() string {
	if d == Receive {
		return "rx"
	}
	return "tx"
}

// State is the lifecycle state of one physical link.
type State int

const (
	Idle State = iota
	Training
	Trained
	VideoValid
	NoVideo
	Unplugged
)

var stateNames = [...]string{"idle", "training", "trained", "video-valid", "no-video", "unplugged"}

func (s State) String() string {
	if s >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// transitions lists the allowed successors of every state. VideoValid is
// only reachable from states that themselves require a trained link.
var transitions = map[State][]State{
	Idle:       {Training, Unplugged},
	Training:   {Trained, Idle, Unplugged},
	Trained:    {VideoValid, NoVideo, Training, Idle, Unplugged},
	VideoValid: {Trained, NoVideo, Training, Idle, Unplugged},
	NoVideo:    {VideoValid, Trained, Training, Idle, Unplugged},
	Unplugged:  {Idle, Training},
}

// CanTransition reports whether s may move to next. Staying put is always
// allowed.
func (s State) CanTransition(next State) bool {
	if s == next {
		return true
	}
	for _, t := range transitions[s] {
		if t == next {
			return true
		}
	}
	return false
}

// LinkUp reports whether the state implies a trained link.
func (s State) LinkUp() bool {
	return s == Trained || s == VideoValid || s == NoVideo
}

type TransitionError struct {
	Side     Direction
	From, To State
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("%s link: invalid transition %s -> %s", e.Side, e.From, e.To)
}

// Observer is told about every effective state change.
type Observer func(side Direction, from, to State)

// Machine owns the LinkState of one side. It is not safe for concurrent use;
// the poll loop is its only writer.
type Machine struct {
	side     Direction
	state    State
	observer Observer
}

func NewMachine(side Direction, o Observer) *Machine {
	return &Machine{side: side, state: Idle, observer: o}
}

func (m *Machine) Side() Direction {
	return m.side
}

func (m *Machine) State() State {
	return m.state
}

// To moves the machine to next. Moving to the current state is a no-op.
func (m *Machine) To(next State) error {
	if m.state == next {
		return nil
	}
	if !m.state.CanTransition(next) {
		return &TransitionError{Side: m.side, From: m.state, To: next}
	}
	prev := m.state
	m.state = next
	if m.observer != nil {
		m.observer(m.side, prev, next)
	}
	return nil
}

// Reset returns the machine to Idle unless it is Unplugged, which only a
// plug event clears.
func (m *Machine) Reset() {
	if m.state == Unplugged {
		return
	}
	// Every state except Unplugged may go to Idle.
	_ = m.To(Idle)
}
