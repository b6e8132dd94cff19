// Copyright 2024 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package master implements a bit-banged I²C bus master on simulated
// open-drain wires.
//
// Only what is needed to drive a register based target is supported: a single
// master, 7 bit addresses, byte transfers. There is no arbitration. Clock
// stretching by the target is tolerated, up to a bounded number of cycles.
//
// Write and Read leave the bus owned so that the caller decides the framing:
// call SendStop to release it, or issue another Write or Read to get a
// repeated START.
package master // import "periph.io/x/i2cbench/master"

import (
	"context"
	"fmt"

	"gopkg.in/Sirupsen/logrus.v0"
	"periph.io/x/periph/conn"
	"periph.io/x/periph/conn/gpio"
	"periph.io/x/periph/conn/i2c"
	"periph.io/x/periph/conn/physic"

	"periph.io/x/i2cbench/sim"
	"periph.io/x/i2cbench/wire"
)

// DefaultSpeed is the bus speed used when none is specified. It is very slow
// compared to the peripheral clock on purpose: the target logic samples the
// lines through synchronisers.
const DefaultSpeed = 400 * physic.Hertz

// minQuarter is the shortest quarter bit, in peripheral clock cycles. The
// target sees the lines two cycles late; SDA must not move before it saw SCL
// go low.
const minQuarter = 4

// Stats counts bus activity since the Dev was created.
type Stats struct {
	Starts         int
	RepeatedStarts int
	Stops          int
	BytesOut       int
	BytesIn        int
	Nacks          int
}

// Opts configures a Dev.
type Opts struct {
	// Speed is the SCL frequency. Defaults to DefaultSpeed.
	Speed physic.Frequency
	// StretchLimit is how many cycles a released line may stay low before
	// the transaction fails with a *sim.TimeoutError. Defaults to 16 bit
	// periods.
	StretchLimit int
	// Log receives one debug entry per transaction.
	Log *logrus.Entry
}

// Dev is an I²C bus master.
//
// It is not safe for concurrent use; it drives the kernel it was created
// with.
type Dev struct {
	k       *sim.Kernel
	port    *wire.Port
	e       engine
	speed   physic.Frequency
	stretch int
	fixed   bool // StretchLimit was set explicitly
	log     *logrus.Entry
	stats   Stats
}

// New returns a master connected to the bus through port.
func New(k *sim.Kernel, port *wire.Port, opts *Opts) (*Dev, error) {
	d := &Dev{k: k, port: port, log: sim.Discard()}
	d.e.scl = port.SCL()
	d.e.sda = port.SDA()
	speed := DefaultSpeed
	if opts != nil {
		if opts.Speed != 0 {
			speed = opts.Speed
		}
		if opts.StretchLimit != 0 {
			d.stretch = opts.StretchLimit
			d.fixed = true
		}
		if opts.Log != nil {
			d.log = opts.Log
		}
	}
	if err := d.SetSpeed(speed); err != nil {
		return nil, err
	}
	port.Release()
	return d, nil
}

// String implements conn.Resource.
func (d *Dev) String() string {
	return "master(" + d.port.String() + ")"
}

// Halt implements conn.Resource.
//
// It releases both lines without generating a STOP.
func (d *Dev) Halt() error {
	d.port.Release()
	d.e.owned = false
	d.e.enter(Idle)
	return nil
}

// Close implements i2c.BusCloser.
func (d *Dev) Close() error {
	return d.Halt()
}

// Duplex implements conn.Conn.
func (d *Dev) Duplex() conn.Duplex {
	return conn.Half
}

// SetSpeed implements i2c.Bus.
func (d *Dev) SetSpeed(f physic.Frequency) error {
	if f <= 0 {
		return fmt.Errorf("master: invalid speed %s", f)
	}
	if q := d.k.CyclesPer(f) / 4; q < minQuarter {
		return fmt.Errorf("master: invalid speed %s; maximum supported clock is %s with a %s peripheral clock", f, d.k.Clock()/(4*minQuarter), d.k.Clock())
	}
	d.speed = f
	d.e.q = d.k.CyclesPer(f) / 4
	if !d.fixed {
		d.stretch = 16 * 4 * d.e.q
	}
	return nil
}

// Speed returns the current SCL frequency.
func (d *Dev) Speed() physic.Frequency {
	return d.speed
}

// SCL implements i2c.Pins.
func (d *Dev) SCL() gpio.PinIO {
	return d.e.scl
}

// SDA implements i2c.Pins.
func (d *Dev) SDA() gpio.PinIO {
	return d.e.sda
}

// State returns the engine state; Hold means a transaction completed and
// SendStop was not called yet.
func (d *Dev) State() State {
	return d.e.state
}

// Stats returns the activity counters.
func (d *Dev) Stats() Stats {
	return d.stats
}

// Write sends a START (or repeated START), the address with the write bit and
// every byte of b, checking the ACK after each.
//
// On success the bus is left owned; call SendStop to release it. A missing
// ACK is reported as a *NackError.
func (d *Dev) Write(ctx context.Context, addr uint16, b []byte) error {
	if addr > 0x7F {
		return ErrAddress
	}
	if len(b) == 0 {
		return ErrEmptyWrite
	}
	d.open(Write, addr, b, 0)
	err := d.run(ctx)
	d.account(err)
	if err == nil {
		d.stats.BytesOut += len(b)
	}
	d.log.WithFields(logrus.Fields{"addr": fmt.Sprintf("%#02x", addr), "len": len(b), "cycle": d.k.Cycle()}).Debugf("write % x: %v", b, errOK(err))
	return err
}

// Read sends a START (or repeated START) and the address with the read bit,
// then clocks in n bytes. Every byte is acknowledged but the last one, which
// gets a NACK to tell the target to stop driving SDA.
//
// A zero length read returns immediately without touching the bus.
func (d *Dev) Read(ctx context.Context, addr uint16, n int) ([]byte, error) {
	if addr > 0x7F {
		return nil, ErrAddress
	}
	if n < 0 {
		return nil, fmt.Errorf("master: invalid read length %d", n)
	}
	if n == 0 {
		return []byte{}, nil
	}
	d.open(Read, addr, nil, n)
	err := d.run(ctx)
	d.account(err)
	var out []byte
	if err == nil {
		out = make([]byte, len(d.e.in))
		copy(out, d.e.in)
		d.stats.BytesIn += len(out)
	}
	d.log.WithFields(logrus.Fields{"addr": fmt.Sprintf("%#02x", addr), "len": n, "cycle": d.k.Cycle()}).Debugf("read % x: %v", out, errOK(err))
	return out, err
}

// SendStop issues a STOP condition and leaves both lines released.
//
// It does nothing when no transaction is open.
func (d *Dev) SendStop(ctx context.Context) error {
	if !d.e.beginStop() {
		return nil
	}
	d.stats.Stops++
	err := d.run(ctx)
	d.log.WithField("cycle", d.k.Cycle()).Debugf("stop: %v", errOK(err))
	return err
}

// Tx implements i2c.Bus.
//
// It writes w, then reads into r through a repeated START, then sends a STOP.
// The STOP is attempted even when a transfer failed.
func (d *Dev) Tx(addr uint16, w, r []byte) error {
	if len(w) == 0 && len(r) == 0 {
		return fmt.Errorf("master: nothing to transfer to %#02x", addr)
	}
	ctx := context.Background()
	if len(w) != 0 {
		if err := d.Write(ctx, addr, w); err != nil {
			_ = d.SendStop(ctx)
			return err
		}
	}
	if len(r) != 0 {
		b, err := d.Read(ctx, addr, len(r))
		if err != nil {
			_ = d.SendStop(ctx)
			return err
		}
		copy(r, b)
	}
	return d.SendStop(ctx)
}

func (d *Dev) open(dir Dir, addr uint16, payload []byte, n int) {
	if d.e.owned {
		d.stats.RepeatedStarts++
	} else {
		d.stats.Starts++
	}
	d.e.begin(dir, addr, payload, n)
}

func (d *Dev) account(err error) {
	if _, ok := err.(*NackError); ok {
		d.stats.Nacks++
	}
}

// run steps the engine until the transaction or STOP completes, performing
// the waits it asks for on the kernel.
func (d *Dev) run(ctx context.Context) error {
	for {
		w, err := d.e.step()
		if err != nil {
			return err
		}
		if w.release != nil {
			if err := d.k.WaitLevel(ctx, w.release, gpio.High, d.stretch); err != nil {
				return err
			}
		}
		if err := d.k.WaitCycles(ctx, w.cycles); err != nil {
			return err
		}
		if d.e.done() {
			return d.e.err
		}
	}
}

func errOK(err error) interface{} {
	if err == nil {
		return "ok"
	}
	return err
}

var _ i2c.BusCloser = &Dev{}
var _ i2c.Pins = &Dev{}
