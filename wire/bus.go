// Copyright 2024 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package wire emulates the two open-drain wires of an I²C bus.
//
// Each line carries a pull-up: it reads high unless at least one participant
// drives it low (wired-AND). Participants never write a level into the line,
// they only assert or withdraw their own "driving low" flag, so any number of
// them can share a line without an owner.
//
// There is no locking. All participants live on the same simulated timeline
// and the I²C protocol is what keeps them from fighting.
package wire // import "periph.io/x/i2cbench/wire"

import (
	"fmt"

	"periph.io/x/periph/conn/gpio"
)

// MaxParticipants is the maximum number of ports a Bus can hand out.
const MaxParticipants = 32

// Participant identifies one agent connected to a Line.
type Participant uint8

func (p Participant) mask() uint32 {
	return 1 << p
}

// Line is a single open-drain wire with a pull-up.
type Line struct {
	name string
	low  uint32 // one bit per participant currently driving low
}

// NewLine returns a released line.
func NewLine(name string) *Line {
	return &Line{name: name}
}

func (l *Line) String() string {
	return l.name
}

// DriveLow makes p pull the line low.
func (l *Line) DriveLow(p Participant) {
	l.low |= p.mask()
}

// Release lets go of the line; it floats back high unless someone else still
// drives it.
func (l *Line) Release(p Participant) {
	l.low &^= p.mask()
}

// Driving reports whether p currently pulls the line low.
func (l *Line) Driving(p Participant) bool {
	return l.low&p.mask() != 0
}

// Read returns the effective level.
func (l *Line) Read() gpio.Level {
	return l.low == 0
}

// reset releases the line for every participant.
func (l *Line) reset() {
	l.low = 0
}

// Bus is the pair of I²C wires.
type Bus struct {
	name  string
	SDA   *Line
	SCL   *Line
	ports []*Port
}

// New returns an idle bus, both lines released.
func New(name string) *Bus {
	return &Bus{
		name: name,
		SDA:  NewLine(name + ".SDA"),
		SCL:  NewLine(name + ".SCL"),
	}
}

// Attach connects a new participant to the bus.
func (b *Bus) Attach(name string) (*Port, error) {
	if len(b.ports) == MaxParticipants {
		return nil, fmt.Errorf("wire: too many participants on %s, max %d", b, MaxParticipants)
	}
	p := &Port{name: name, id: Participant(len(b.ports)), bus: b}
	p.scl = portPin{port: p, line: b.SCL, num: 0}
	p.sda = portPin{port: p, line: b.SDA, num: 1}
	b.ports = append(b.ports, p)
	return p, nil
}

func (b *Bus) String() string {
	return b.name
}

// Idle reports whether both lines read high.
func (b *Bus) Idle() bool {
	return b.SDA.Read() == gpio.High && b.SCL.Read() == gpio.High
}

// Reset releases both lines for all participants. It is the power-up state.
func (b *Bus) Reset() {
	b.SDA.reset()
	b.SCL.reset()
}

// Port is one participant's connection to the bus.
type Port struct {
	name string
	id   Participant
	bus  *Bus
	scl  portPin
	sda  portPin
}

func (p *Port) String() string {
	return p.name
}

// Participant returns the identifier used on the lines.
func (p *Port) Participant() Participant {
	return p.id
}

// SCL returns the clock line as seen and driven by this participant.
func (p *Port) SCL() gpio.PinIO {
	return &p.scl
}

// SDA returns the data line as seen and driven by this participant.
func (p *Port) SDA() gpio.PinIO {
	return &p.sda
}

// Release lets go of both lines.
func (p *Port) Release() {
	p.bus.SCL.Release(p.id)
	p.bus.SDA.Release(p.id)
}
