// Copyright 2024 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package master

import (
	"fmt"

	"periph.io/x/periph/conn/gpio"
)

// State is the position of the engine within a transaction.
type State uint8

// Engine states. Every state but Idle and Hold clocks one bit per four
// phases: setup (SCL low, SDA set), rise (SCL released), sample, fall.
const (
	Idle    State = iota // bus released, no transaction open
	Start                // (repeated) START condition
	Addr                 // address byte, MSB first, R/W bit last
	AddrAck              // target acknowledges the address
	Data                 // payload byte, either direction
	DataAck              // receiver acknowledges a payload byte
	Stop                 // STOP condition
	Hold                 // transaction done, bus still owned, SCL low
)

func (s State) String() string {
	switch s {
	case Idle:
		return "Idle"
	case Start:
		return "Start"
	case Addr:
		return "Addr"
	case AddrAck:
		return "AddrAck"
	case Data:
		return "Data"
	case DataAck:
		return "DataAck"
	case Stop:
		return "Stop"
	case Hold:
		return "Hold"
	default:
		return fmt.Sprintf("State(%d)", uint8(s))
	}
}

// Dir is the transfer direction encoded in the address byte.
type Dir uint8

// Directions.
const (
	Write Dir = 0
	Read  Dir = 1
)

func (d Dir) String() string {
	if d == Read {
		return "R"
	}
	return "W"
}

// wait is what the runner must do before the next step.
type wait struct {
	// release, when set, is a line that was just released; the runner waits
	// for it to actually read high. This is where clock stretching is
	// tolerated.
	release gpio.PinIn
	// cycles to wait afterward.
	cycles int
}

// engine is the bit level state machine.
//
// It never advances time by itself: each call to step performs one phase and
// tells the caller how long to wait. This keeps every phase testable without
// a simulation kernel.
type engine struct {
	scl gpio.PinIO
	sda gpio.PinIO
	q   int // quarter of a bit period, in cycles

	state State
	phase int
	owned bool // a START was sent and no STOP since

	dir  Dir
	out  []byte // address byte followed by the payload when writing
	idx  int    // byte being transferred; 0 is the address byte
	bit  int    // 7..0
	cur  byte
	in   []byte
	want int
	ack  bool
	err  error
}

// begin opens a transaction. The first step sends a START, or a repeated
// START when the bus is still owned.
func (e *engine) begin(dir Dir, addr uint16, payload []byte, want int) {
	e.dir = dir
	e.out = append(e.out[:0], byte(addr<<1)|byte(dir))
	e.out = append(e.out, payload...)
	e.idx = 0
	e.in = make([]byte, 0, want)
	e.want = want
	e.err = nil
	e.enter(Start)
}

// beginStop closes the transaction. It returns false when there is nothing to
// close.
func (e *engine) beginStop() bool {
	if !e.owned {
		return false
	}
	e.err = nil
	e.enter(Stop)
	return true
}

func (e *engine) enter(s State) {
	e.state = s
	e.phase = 0
}

// done reports whether the current transaction or STOP is complete.
func (e *engine) done() bool {
	return e.state == Hold || e.state == Idle
}

// step performs one phase of the current state.
func (e *engine) step() (wait, error) {
	switch e.state {
	case Start:
		return e.stepStart()
	case Addr, AddrAck, Data, DataAck:
		return e.stepBit()
	case Stop:
		return e.stepStop()
	default:
		return wait{}, fmt.Errorf("master: step in state %s", e.state)
	}
}

func (e *engine) stepStart() (wait, error) {
	switch e.phase {
	case 0:
		// SCL is low when the bus is owned, high when idle; either way SDA can
		// be released safely.
		e.phase++
		return wait{release: e.sda, cycles: e.q}, e.sda.Out(gpio.High)
	case 1:
		e.phase++
		return wait{release: e.scl, cycles: e.q}, e.scl.Out(gpio.High)
	case 2:
		e.phase++
		return wait{cycles: 2 * e.q}, e.sda.Out(gpio.Low)
	default:
		e.owned = true
		e.bit = 7
		e.cur = e.out[0]
		e.enter(Addr)
		return wait{cycles: e.q}, e.scl.Out(gpio.Low)
	}
}

func (e *engine) stepStop() (wait, error) {
	switch e.phase {
	case 0:
		e.phase++
		return wait{cycles: e.q}, e.sda.Out(gpio.Low)
	case 1:
		e.phase++
		return wait{release: e.scl, cycles: e.q}, e.scl.Out(gpio.High)
	default:
		e.owned = false
		e.enter(Idle)
		return wait{release: e.sda, cycles: 2 * e.q}, e.sda.Out(gpio.High)
	}
}

// sending reports whether the master drives SDA during the current bit.
func (e *engine) sending() bool {
	switch e.state {
	case Addr:
		return true
	case Data:
		return e.dir == Write
	case DataAck:
		return e.dir == Read
	default:
		return false
	}
}

func (e *engine) stepBit() (wait, error) {
	switch e.phase {
	case 0:
		e.phase++
		l := gpio.High
		if e.sending() {
			switch e.state {
			case DataAck:
				// ACK every byte but the last one.
				l = gpio.Level(len(e.in) == e.want)
			default:
				l = gpio.Level(e.cur&(1<<uint(e.bit)) != 0)
			}
		}
		return wait{cycles: e.q}, e.sda.Out(l)
	case 1:
		e.phase++
		return wait{release: e.scl, cycles: e.q}, e.scl.Out(gpio.High)
	case 2:
		e.phase++
		switch {
		case e.state == AddrAck || (e.state == DataAck && e.dir == Write):
			e.ack = e.sda.Read() == gpio.Low
		case e.state == Data && e.dir == Read:
			e.cur <<= 1
			if e.sda.Read() {
				e.cur |= 1
			}
		}
		return wait{cycles: e.q}, nil
	default:
		err := e.scl.Out(gpio.Low)
		e.advance()
		return wait{cycles: e.q}, err
	}
}

// advance moves to the next bit or state once SCL went low.
func (e *engine) advance() {
	switch e.state {
	case Addr:
		if e.bit--; e.bit < 0 {
			e.enter(AddrAck)
			return
		}
	case Data:
		if e.bit--; e.bit < 0 {
			if e.dir == Read {
				e.in = append(e.in, e.cur)
			}
			e.enter(DataAck)
			return
		}
	case AddrAck, DataAck:
		if e.dir == Write || e.state == AddrAck {
			if !e.ack {
				e.err = &NackError{Index: e.idx, Addr: uint16(e.out[0] >> 1), Dir: e.dir}
				e.enter(Hold)
				return
			}
		}
		if e.dir == Write {
			if e.idx++; e.idx < len(e.out) {
				e.bit = 7
				e.cur = e.out[e.idx]
				e.enter(Data)
				return
			}
			e.enter(Hold)
			return
		}
		if len(e.in) < e.want {
			e.idx++
			e.bit = 7
			e.cur = 0
			e.enter(Data)
			return
		}
		e.enter(Hold)
		return
	}
	e.phase = 0
}
