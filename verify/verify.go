// Copyright 2024 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package verify assembles a simulated bench around the register peripheral
// and runs the write-then-read acceptance sequence against it.
//
// The peripheral always answers at regperiph.DefaultAddr; Config.Address is
// the address the master talks to, so pointing it elsewhere exercises the
// missing target path.
package verify // import "periph.io/x/i2cbench/verify"

import (
	"bytes"
	"context"
	"fmt"

	"go.uber.org/multierr"
	"gopkg.in/Sirupsen/logrus.v0"
	"periph.io/x/periph/conn/gpio"

	"periph.io/x/i2cbench/devices/regperiph"
	"periph.io/x/i2cbench/master"
	"periph.io/x/i2cbench/sim"
	"periph.io/x/i2cbench/wire"
)

// historySamples bounds the recorded waveform, enough for the reference run
// at the default speed.
const historySamples = 1 << 16

// Report is what a run observed.
type Report struct {
	// Read is the data read back, nil if the read never completed.
	Read       []byte
	Cycles     uint64
	Events     []wire.Event
	Violations []wire.Violation
	Stats      master.Stats
}

// Bench is one simulated setup: a kernel, a bus, the peripheral and its
// inputs, a bus master and a monitor.
//
// A Bench is not safe for concurrent use. Independent benches share nothing.
type Bench struct {
	cfg  Config
	log  *logrus.Entry
	k    *sim.Kernel
	bus  *wire.Bus
	mon  *wire.Monitor
	m    *master.Dev
	dut  *regperiph.Dev
	rstN *wire.Signal
	mode *wire.Signal
}

// NewBench validates cfg and wires a bench. The peripheral is powered but
// held in reset; it is unusable until Bringup is called.
func NewBench(cfg Config) (*Bench, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	b := &Bench{cfg: cfg, log: cfg.Log}
	if b.log == nil {
		b.log = sim.Discard()
	}
	b.k = sim.New(&sim.Opts{Clock: cfg.clock(), Log: b.log})
	b.bus = wire.New(cfg.Bus)
	mp, err := b.bus.Attach("master")
	if err != nil {
		return nil, err
	}
	tp, err := b.bus.Attach("regperiph")
	if err != nil {
		return nil, err
	}
	b.rstN = wire.NewSignal(cfg.Bus+".RST_N", 0, gpio.Low)
	b.mode = wire.NewSignal(cfg.Bus+".MODE", 1, gpio.Low)
	if b.dut, err = regperiph.New(tp, b.rstN, b.mode, &regperiph.Opts{Size: cfg.Registers, Stretch: cfg.Stretch, Log: b.log}); err != nil {
		return nil, err
	}
	b.mon = wire.NewMonitor(b.bus)
	b.mon.Record(historySamples)
	b.k.Attach(b.dut)
	b.k.Attach(b.mon)
	if b.m, err = master.New(b.k, mp, &master.Opts{Speed: cfg.speed(), StretchLimit: cfg.StretchLimit, Log: b.log}); err != nil {
		return nil, err
	}
	return b, nil
}

func (b *Bench) String() string {
	return fmt.Sprintf("bench(%s, %s)", b.k, b.bus)
}

// Config returns the configuration the bench was built with.
func (b *Bench) Config() Config {
	return b.cfg
}

// Kernel returns the simulation kernel.
func (b *Bench) Kernel() *sim.Kernel {
	return b.k
}

// Bus returns the shared SCL/SDA lines.
func (b *Bench) Bus() *wire.Bus {
	return b.bus
}

// Monitor returns the passive bus decoder.
func (b *Bench) Monitor() *wire.Monitor {
	return b.mon
}

// Master returns the bus master.
func (b *Bench) Master() *master.Dev {
	return b.m
}

// Target returns the simulated peripheral.
func (b *Bench) Target() *regperiph.Dev {
	return b.dut
}

// Reset returns the active-low reset input of the peripheral.
func (b *Bench) Reset() *wire.Signal {
	return b.rstN
}

// Mode returns the mode-select input of the peripheral; high selects I²C.
func (b *Bench) Mode() *wire.Signal {
	return b.mode
}

// Close releases the bus and the peripheral inputs.
func (b *Bench) Close() error {
	return multierr.Combine(b.m.Close(), b.mode.Out(gpio.Low), b.rstN.Out(gpio.Low))
}

// Run executes the whole acceptance sequence: Bringup then RoundTrip.
//
// The returned Report is never nil, even on failure.
func (b *Bench) Run(ctx context.Context) (*Report, error) {
	if b.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, b.cfg.Timeout)
		defer cancel()
	}
	start := b.k.Cycle()
	err := b.Bringup(ctx)
	var read []byte
	if err == nil {
		read, err = b.RoundTrip(ctx)
	}
	r := b.report(start, read)
	if err != nil {
		b.log.WithField("cycle", b.k.Cycle()).Errorf("run failed: %v", err)
	} else {
		b.log.WithField("cycles", r.Cycles).Info("round trip ok")
	}
	return r, err
}

// Bringup resets the peripheral with the bus idle, then selects I²C mode.
func (b *Bench) Bringup(ctx context.Context) error {
	if err := b.m.Halt(); err != nil {
		return err
	}
	b.bus.Reset()
	b.mon.Reset()
	if err := b.rstN.Out(gpio.Low); err != nil {
		return err
	}
	b.log.WithField("cycles", b.cfg.ResetCycles).Info("reset")
	if err := b.k.WaitCycles(ctx, b.cfg.ResetCycles); err != nil {
		return err
	}
	if err := b.rstN.Out(gpio.High); err != nil {
		return err
	}
	if err := b.k.WaitCycles(ctx, b.cfg.ModeSettle); err != nil {
		return err
	}
	b.log.WithField("cycle", b.k.Cycle()).Info("I2C mode")
	if err := b.mode.Out(gpio.High); err != nil {
		return err
	}
	return b.k.WaitCycles(ctx, b.cfg.TrafficSettle)
}

// RoundTrip writes the payload at the configured register, sets the pointer
// back and reads the payload length. It returns what was read.
//
// A mismatch is reported as an *AssertionError along with the data.
func (b *Bench) RoundTrip(ctx context.Context) ([]byte, error) {
	reg := []byte{b.cfg.Register}
	b.log.WithField("cycle", b.k.Cycle()).Infof("write [% x] at %d", b.cfg.Payload, b.cfg.Register)
	if err := b.write(ctx, append(reg, b.cfg.Payload...), true); err != nil {
		return nil, err
	}
	if err := b.k.WaitCycles(ctx, b.cfg.Gap); err != nil {
		return nil, err
	}
	if err := b.write(ctx, reg, !b.cfg.RepeatedStart); err != nil {
		return nil, err
	}
	got, err := b.m.Read(ctx, b.cfg.Address, len(b.cfg.Payload))
	if err != nil {
		b.abort()
		return nil, err
	}
	if err := b.m.SendStop(ctx); err != nil {
		return got, err
	}
	b.log.WithField("cycle", b.k.Cycle()).Infof("read [% x]", got)
	if !bytes.Equal(got, b.cfg.Payload) {
		return got, &AssertionError{Want: b.cfg.Payload, Got: got}
	}
	return got, nil
}

// Probe reads one byte from addr and terminates the transaction. It returns
// a *master.NackError when nothing answers.
func (b *Bench) Probe(ctx context.Context, addr uint16) error {
	if _, err := b.m.Read(ctx, addr, 1); err != nil {
		b.abort()
		return err
	}
	return b.m.SendStop(ctx)
}

func (b *Bench) write(ctx context.Context, p []byte, stop bool) error {
	if err := b.m.Write(ctx, b.cfg.Address, p); err != nil {
		b.abort()
		return err
	}
	if !stop {
		return nil
	}
	return b.m.SendStop(ctx)
}

// abort tries to leave the bus idle after a failed transaction. The STOP
// outcome is only logged; the caller returns the first error.
func (b *Bench) abort() {
	if err := b.m.SendStop(context.Background()); err != nil {
		b.log.WithField("cycle", b.k.Cycle()).Warnf("STOP after failure: %v", err)
	}
}

func (b *Bench) report(start uint64, read []byte) *Report {
	return &Report{
		Read:       read,
		Cycles:     b.k.Cycle() - start,
		Events:     b.mon.Events(),
		Violations: b.mon.Violations(),
		Stats:      b.m.Stats(),
	}
}
