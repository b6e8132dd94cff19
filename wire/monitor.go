// Copyright 2024 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package wire

import (
	"fmt"

	"periph.io/x/periph/conn/gpio"
)

// EventKind is a bus condition decoded by a Monitor.
type EventKind uint8

// Bus conditions.
const (
	Start EventKind = iota
	RepeatedStart
	Stop
	Byte
)

func (e EventKind) String() string {
	switch e {
	case Start:
		return "START"
	case RepeatedStart:
		return "RESTART"
	case Stop:
		return "STOP"
	case Byte:
		return "BYTE"
	default:
		return fmt.Sprintf("EventKind(%d)", uint8(e))
	}
}

// Event is one decoded bus condition.
//
// Value and Ack are only meaningful for Byte events. Ack is true when the
// receiver pulled SDA low during the 9th clock.
type Event struct {
	Cycle uint64
	Kind  EventKind
	Value byte
	Ack   bool
}

func (e Event) String() string {
	if e.Kind != Byte {
		return fmt.Sprintf("@%d %s", e.Cycle, e.Kind)
	}
	a := "NACK"
	if e.Ack {
		a = "ACK"
	}
	return fmt.Sprintf("@%d %#02x %s", e.Cycle, e.Value, a)
}

// Violation is a framing error seen on the bus.
type Violation struct {
	Cycle  uint64
	Reason string
}

func (v Violation) String() string {
	return fmt.Sprintf("@%d %s", v.Cycle, v.Reason)
}

// Sample is the level of both lines during one cycle.
type Sample struct {
	SCL gpio.Level
	SDA gpio.Level
}

// Monitor is a passive observer decoding the raw bus lines. It never drives
// the bus.
//
// Attach it to the simulation kernel; it samples the lines once per cycle.
type Monitor struct {
	bus     *Bus
	prevSCL gpio.Level
	prevSDA gpio.Level
	active  bool
	latched bool
	pending gpio.Level // SDA latched on the last SCL rising edge
	bits    int        // bits committed in the current 9-bit frame
	shift   uint16

	events     []Event
	violations []Violation
	history    []Sample
	keep       int
}

// NewMonitor returns a monitor of b, assuming an idle bus.
func NewMonitor(b *Bus) *Monitor {
	return &Monitor{bus: b, prevSCL: gpio.High, prevSDA: gpio.High}
}

// Record makes the monitor keep the first n samples of the lines.
func (m *Monitor) Record(n int) {
	m.keep = n
	m.history = make([]Sample, 0, n)
}

// Tick implements sim.Agent.
func (m *Monitor) Tick(cycle uint64) {
	scl := m.bus.SCL.Read()
	sda := m.bus.SDA.Read()
	if len(m.history) < m.keep {
		m.history = append(m.history, Sample{SCL: scl, SDA: sda})
	}
	switch {
	case bool(scl && m.prevSCL && sda != m.prevSDA):
		// SDA moved while SCL was high: this is a bus condition, never data.
		if !sda {
			m.start(cycle)
		} else {
			m.stop(cycle)
		}
	case bool(scl && !m.prevSCL):
		m.pending = sda
		m.latched = true
	case bool(!scl && m.prevSCL) && m.latched:
		m.latched = false
		if m.active {
			m.commit(cycle)
		}
	}
	m.prevSCL = scl
	m.prevSDA = sda
}

func (m *Monitor) start(cycle uint64) {
	k := Start
	if m.active {
		k = RepeatedStart
	}
	if m.bits != 0 {
		m.violate(cycle, fmt.Sprintf("%s after %d bits of a byte", k, m.bits))
	}
	m.events = append(m.events, Event{Cycle: cycle, Kind: k})
	m.active = true
	m.latched = false
	m.bits = 0
	m.shift = 0
}

func (m *Monitor) stop(cycle uint64) {
	if !m.active {
		m.violate(cycle, "STOP without START")
	} else if m.bits != 0 {
		m.violate(cycle, fmt.Sprintf("STOP after %d bits of a byte", m.bits))
	}
	m.events = append(m.events, Event{Cycle: cycle, Kind: Stop})
	m.active = false
	m.latched = false
	m.bits = 0
	m.shift = 0
}

func (m *Monitor) commit(cycle uint64) {
	m.shift <<= 1
	if m.pending {
		m.shift |= 1
	}
	m.bits++
	if m.bits == 9 {
		m.events = append(m.events, Event{Cycle: cycle, Kind: Byte, Value: byte(m.shift >> 1), Ack: m.shift&1 == 0})
		m.bits = 0
		m.shift = 0
	}
}

func (m *Monitor) violate(cycle uint64, reason string) {
	m.violations = append(m.violations, Violation{Cycle: cycle, Reason: reason})
}

// Events returns the decoded conditions so far.
func (m *Monitor) Events() []Event {
	return m.events
}

// Violations returns the framing errors so far.
func (m *Monitor) Violations() []Violation {
	return m.violations
}

// History returns the recorded samples, see Record.
func (m *Monitor) History() []Sample {
	return m.history
}

// Count returns how many events of kind k were seen.
func (m *Monitor) Count(k EventKind) int {
	n := 0
	for _, e := range m.events {
		if e.Kind == k {
			n++
		}
	}
	return n
}

// Reset forgets all events, violations and samples.
func (m *Monitor) Reset() {
	m.events = nil
	m.violations = nil
	if m.keep != 0 {
		m.history = m.history[:0]
	}
	m.active = false
	m.latched = false
	m.bits = 0
	m.shift = 0
}
