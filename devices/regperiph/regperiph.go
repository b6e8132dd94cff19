// Copyright 2024 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package regperiph simulates a small register file peripheral reachable
// either through a direct parallel interface or as an I²C target.
//
// The interface is chosen by the mode-select input: high selects I²C, low
// the parallel port. The peripheral is synchronous to the simulation clock and
// sees SCL, SDA and mode-select through two-flop synchronisers, like real
// logic would.
//
// I²C protocol: the first byte of a write sets the register pointer, every
// following byte is stored at the pointer which then increments. A read
// returns the register at the pointer, incrementing it after each byte. The
// pointer wraps at the end of the register file and survives STOP.
//
// The active-low reset must be held for at least MinResetCycles after power
// up; until then the peripheral does not respond at all.
package regperiph // import "periph.io/x/i2cbench/devices/regperiph"

import (
	"errors"
	"fmt"

	"gopkg.in/Sirupsen/logrus.v0"
	"periph.io/x/periph/conn/gpio"

	"periph.io/x/i2cbench/sim"
	"periph.io/x/i2cbench/wire"
)

// DefaultAddr is the 7 bit I²C address of the peripheral.
const DefaultAddr = 0x70

// DefaultSize is the number of registers.
const DefaultSize = 16

// MinResetCycles is how long reset must be held after power up.
const MinResetCycles = 10

var (
	// ErrNotReady is returned by the parallel port when the peripheral is in
	// reset or was never properly reset.
	ErrNotReady = errors.New("regperiph: not out of reset")
	// ErrMode is returned by the parallel port while I²C mode is selected.
	ErrMode = errors.New("regperiph: parallel interface disabled in I2C mode")
)

// Opts configures a Dev.
type Opts struct {
	// Addr is the I²C address. Defaults to DefaultAddr.
	Addr uint16
	// Size is the number of registers. Defaults to DefaultSize, max 256.
	Size int
	// Stretch holds SCL low for this many cycles after each acknowledged
	// byte. 0 disables clock stretching.
	Stretch int
	// Log receives bus level debug traces.
	Log *logrus.Entry
}

type tstate uint8

const (
	tIdle tstate = iota
	tAddr
	tAddrAck
	tWrite
	tWriteAck
	tRead
	tReadAck
	tIgnore // not addressed, wait for the next START or STOP
)

// Dev is the simulated peripheral. It implements sim.Agent.
type Dev struct {
	port    *wire.Port
	rstN    gpio.PinIn
	mode    gpio.PinIn
	addr    uint16
	stretch int
	log     *logrus.Entry

	regs  []byte
	ptr   int
	ready bool
	inRst int // consecutive cycles seen in reset

	// Synchronisers, index 1 is the registered output.
	scl     [2]gpio.Level
	sda     [2]gpio.Level
	sel     [2]gpio.Level
	prevSCL gpio.Level
	prevSDA gpio.Level

	state tstate
	dir   byte
	bits  int
	shift byte
	first bool // next written byte is the register pointer
	ack   bool
	hold  int
}

// New returns a powered up but not yet reset peripheral.
//
// rstN and mode are inputs driven by the test bench; port is the
// peripheral's connection to the I²C bus.
func New(port *wire.Port, rstN, mode gpio.PinIn, opts *Opts) (*Dev, error) {
	d := &Dev{port: port, rstN: rstN, mode: mode, addr: DefaultAddr, log: sim.Discard()}
	size := DefaultSize
	if opts != nil {
		if opts.Addr != 0 {
			d.addr = opts.Addr
		}
		if opts.Size != 0 {
			size = opts.Size
		}
		if opts.Stretch < 0 {
			return nil, fmt.Errorf("regperiph: invalid stretch %d", opts.Stretch)
		}
		d.stretch = opts.Stretch
		if opts.Log != nil {
			d.log = opts.Log
		}
	}
	if d.addr > 0x7F {
		return nil, fmt.Errorf("regperiph: invalid address %#x", d.addr)
	}
	if size < 1 || size > 256 {
		return nil, fmt.Errorf("regperiph: invalid size %d", size)
	}
	d.regs = make([]byte, size)
	d.clear()
	return d, nil
}

func (d *Dev) String() string {
	return fmt.Sprintf("regperiph(%#02x)", d.addr)
}

// Addr returns the I²C address.
func (d *Dev) Addr() uint16 {
	return d.addr
}

// Ready reports whether the peripheral went through a proper reset.
func (d *Dev) Ready() bool {
	return d.ready
}

// Pointer returns the register pointer.
func (d *Dev) Pointer() int {
	return d.ptr
}

// Registers returns a copy of the register file.
func (d *Dev) Registers() []byte {
	out := make([]byte, len(d.regs))
	copy(out, d.regs)
	return out
}

// ParallelWrite stores v in register reg through the direct interface.
func (d *Dev) ParallelWrite(reg int, v byte) error {
	if err := d.parallel(reg); err != nil {
		return err
	}
	d.regs[reg] = v
	return nil
}

// ParallelRead returns register reg through the direct interface.
func (d *Dev) ParallelRead(reg int) (byte, error) {
	if err := d.parallel(reg); err != nil {
		return 0, err
	}
	return d.regs[reg], nil
}

func (d *Dev) parallel(reg int) error {
	if !d.ready || d.inRst != 0 {
		return ErrNotReady
	}
	if d.sel[1] == gpio.High {
		return ErrMode
	}
	if reg < 0 || reg >= len(d.regs) {
		return fmt.Errorf("regperiph: register %d out of range", reg)
	}
	return nil
}

// clear is the reset state.
func (d *Dev) clear() {
	for i := range d.regs {
		d.regs[i] = 0
	}
	d.ptr = 0
	d.scl = [2]gpio.Level{gpio.High, gpio.High}
	d.sda = [2]gpio.Level{gpio.High, gpio.High}
	d.sel = [2]gpio.Level{gpio.Low, gpio.Low}
	d.prevSCL = gpio.High
	d.prevSDA = gpio.High
	d.state = tIdle
	d.hold = 0
	d.port.Release()
}

// Tick implements sim.Agent.
func (d *Dev) Tick(cycle uint64) {
	if d.rstN.Read() == gpio.Low {
		if d.inRst++; d.inRst >= MinResetCycles {
			d.ready = true
		}
		d.clear()
		return
	}
	d.inRst = 0
	if !d.ready {
		return
	}

	scl, sda, sel := d.scl[1], d.sda[1], d.sel[1]
	d.scl = [2]gpio.Level{d.port.SCL().Read(), d.scl[0]}
	d.sda = [2]gpio.Level{d.port.SDA().Read(), d.sda[0]}
	d.sel = [2]gpio.Level{d.mode.Read(), d.sel[0]}

	if d.hold != 0 {
		if d.hold--; d.hold == 0 {
			_ = d.port.SCL().Out(gpio.High)
		}
	}

	if sel == gpio.Low {
		if d.state != tIdle {
			d.state = tIdle
			d.hold = 0
			d.port.Release()
		}
		d.prevSCL, d.prevSDA = scl, sda
		return
	}

	switch {
	case bool(scl && d.prevSCL && sda != d.prevSDA):
		if !sda {
			d.start(cycle)
		} else {
			d.stop(cycle)
		}
	case bool(scl && !d.prevSCL):
		d.rise(sda)
	case bool(!scl && d.prevSCL):
		d.fall(cycle)
	}
	d.prevSCL, d.prevSDA = scl, sda
}

func (d *Dev) start(cycle uint64) {
	d.log.WithField("cycle", cycle).Debug("start")
	d.release()
	d.state = tAddr
	d.bits = 0
	d.shift = 0
}

func (d *Dev) stop(cycle uint64) {
	d.log.WithField("cycle", cycle).Debug("stop")
	d.release()
	d.state = tIdle
}

func (d *Dev) rise(sda gpio.Level) {
	switch d.state {
	case tAddr, tWrite:
		d.shift <<= 1
		if sda {
			d.shift |= 1
		}
		d.bits++
	case tRead:
		d.bits++
	case tReadAck:
		d.ack = sda == gpio.Low
	}
}

func (d *Dev) fall(cycle uint64) {
	switch d.state {
	case tAddr:
		if d.bits < 8 {
			return
		}
		if uint16(d.shift>>1) != d.addr {
			d.state = tIgnore
			return
		}
		d.dir = d.shift & 1
		d.drive(gpio.Low)
		d.state = tAddrAck
	case tAddrAck:
		d.stretchClock()
		if d.dir == 1 {
			d.load()
			return
		}
		d.release()
		d.state = tWrite
		d.first = true
		d.bits = 0
		d.shift = 0
	case tWrite:
		if d.bits < 8 {
			return
		}
		if d.first {
			d.ptr = int(d.shift) % len(d.regs)
			d.first = false
		} else {
			d.regs[d.ptr] = d.shift
			d.ptr = (d.ptr + 1) % len(d.regs)
		}
		d.log.WithField("cycle", cycle).Debugf("rx %#02x, pointer %d", d.shift, d.ptr)
		d.drive(gpio.Low)
		d.state = tWriteAck
	case tWriteAck:
		d.stretchClock()
		d.release()
		d.state = tWrite
		d.bits = 0
		d.shift = 0
	case tRead:
		if d.bits < 8 {
			d.drive(gpio.Level(d.shift&(1<<uint(7-d.bits)) != 0))
			return
		}
		d.release()
		d.state = tReadAck
	case tReadAck:
		if !d.ack {
			d.release()
			d.state = tIgnore
			return
		}
		d.stretchClock()
		d.load()
	}
}

// load fetches the register at the pointer and drives its MSB.
func (d *Dev) load() {
	d.shift = d.regs[d.ptr]
	d.ptr = (d.ptr + 1) % len(d.regs)
	d.bits = 0
	d.state = tRead
	d.drive(gpio.Level(d.shift&0x80 != 0))
}

func (d *Dev) drive(l gpio.Level) {
	_ = d.port.SDA().Out(l)
}

func (d *Dev) release() {
	_ = d.port.SDA().Out(gpio.High)
}

func (d *Dev) stretchClock() {
	if d.stretch == 0 {
		return
	}
	_ = d.port.SCL().Out(gpio.Low)
	d.hold = d.stretch
}

var _ sim.Agent = &Dev{}
