// Copyright 2024 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package smoketest is leveraged by i2cbench to verify that the master and
// the simulated peripheral behave as expected, both on the nominal round trip
// and on the failure paths.
package smoketest // import "periph.io/x/i2cbench/verify/smoketest"

import (
	"context"
	"errors"
	"fmt"

	"periph.io/x/periph/conn/gpio"

	"periph.io/x/i2cbench/master"
	"periph.io/x/i2cbench/sim"
	"periph.io/x/i2cbench/verify"
	"periph.io/x/i2cbench/wire"
)

// syncCycles is long enough for the peripheral to notice a mode change.
const syncCycles = 10

// SmokeTest is one scenario.
type SmokeTest interface {
	// Name is a short identifier usable on the command line.
	Name() string
	Description() string
	// Run builds its own bench from cfg.
	Run(ctx context.Context, cfg verify.Config) error
}

// All returns every scenario, nominal first.
func All() []SmokeTest {
	return []SmokeTest{
		&roundTrip{},
		&repeatedStart{},
		&stretch{},
		&absent{},
		&parallel{},
		&shortReset{},
		&stuckClock{},
	}
}

// Get returns the scenario called name, or nil.
func Get(name string) SmokeTest {
	for _, s := range All() {
		if s.Name() == name {
			return s
		}
	}
	return nil
}

//

type roundTrip struct{}

func (r *roundTrip) Name() string {
	return "roundtrip"
}

func (r *roundTrip) Description() string {
	return "Writes the payload, reads it back, checks the framing"
}

func (r *roundTrip) Run(ctx context.Context, cfg verify.Config) error {
	cfg.RepeatedStart = false
	rep, err := run(ctx, cfg)
	if err != nil {
		return err
	}
	if rep.Stats.Starts != 3 || rep.Stats.Stops != 3 || rep.Stats.RepeatedStarts != 0 {
		return fmt.Errorf("expected 3 START/STOP pairs, got %+v", rep.Stats)
	}
	return nil
}

type repeatedStart struct{}

func (r *repeatedStart) Name() string {
	return "restart"
}

func (r *repeatedStart) Description() string {
	return "Reads back through a repeated START after setting the pointer"
}

func (r *repeatedStart) Run(ctx context.Context, cfg verify.Config) error {
	cfg.RepeatedStart = true
	rep, err := run(ctx, cfg)
	if err != nil {
		return err
	}
	n := 0
	for _, e := range rep.Events {
		if e.Kind == wire.RepeatedStart {
			n++
		}
	}
	if n != 1 || rep.Stats.RepeatedStarts != 1 {
		return fmt.Errorf("expected exactly one repeated START, saw %d", n)
	}
	return nil
}

type stretch struct{}

func (s *stretch) Name() string {
	return "stretch"
}

func (s *stretch) Description() string {
	return "Round trip with the peripheral stretching the clock after each byte"
}

func (s *stretch) Run(ctx context.Context, cfg verify.Config) error {
	cfg.Stretch = 200
	cfg.StretchLimit = 0
	_, err := run(ctx, cfg)
	return err
}

type absent struct{}

func (a *absent) Name() string {
	return "absent"
}

func (a *absent) Description() string {
	return "Probes an address nobody answers to; expects an address NACK and an idle bus"
}

func (a *absent) Run(ctx context.Context, cfg verify.Config) error {
	b, err := bringup(ctx, cfg)
	if err != nil {
		return err
	}
	defer b.Close()
	addr := uint16(0x50)
	if cfg.Address == addr {
		addr++
	}
	if err := expectAddrNack(b.Probe(ctx, addr)); err != nil {
		return err
	}
	if !b.Bus().Idle() {
		return errors.New("bus left busy after NACK")
	}
	return nil
}

type parallel struct{}

func (p *parallel) Name() string {
	return "parallel"
}

func (p *parallel) Description() string {
	return "Writes through the parallel port, checks I²C is off meanwhile, reads it back over I²C"
}

func (p *parallel) Run(ctx context.Context, cfg verify.Config) error {
	b, err := bringup(ctx, cfg)
	if err != nil {
		return err
	}
	defer b.Close()
	if err := b.Mode().Out(gpio.Low); err != nil {
		return err
	}
	if err := b.Kernel().WaitCycles(ctx, syncCycles); err != nil {
		return err
	}
	if err := expectAddrNack(b.Probe(ctx, b.Target().Addr())); err != nil {
		return err
	}
	if err := b.Target().ParallelWrite(int(cfg.Register), 0x5A); err != nil {
		return err
	}
	if err := b.Mode().Out(gpio.High); err != nil {
		return err
	}
	if err := b.Kernel().WaitCycles(ctx, syncCycles); err != nil {
		return err
	}
	r := make([]byte, 1)
	if err := b.Master().Tx(b.Target().Addr(), []byte{cfg.Register}, r); err != nil {
		return err
	}
	if r[0] != 0x5A {
		return &verify.AssertionError{Want: []byte{0x5A}, Got: r}
	}
	return nil
}

type shortReset struct{}

func (s *shortReset) Name() string {
	return "shortreset"
}

func (s *shortReset) Description() string {
	return "Releases reset too early; the peripheral must stay silent"
}

func (s *shortReset) Run(ctx context.Context, cfg verify.Config) error {
	b, err := verify.NewBench(cfg)
	if err != nil {
		return err
	}
	defer b.Close()
	k := b.Kernel()
	if err := k.WaitCycles(ctx, 1); err != nil {
		return err
	}
	// The bench starts in reset; release it after a single cycle.
	if err := b.Reset().Out(gpio.High); err != nil {
		return err
	}
	if err := b.Mode().Out(gpio.High); err != nil {
		return err
	}
	if err := k.WaitCycles(ctx, syncCycles); err != nil {
		return err
	}
	return expectAddrNack(b.Probe(ctx, b.Target().Addr()))
}

type stuckClock struct{}

func (s *stuckClock) Name() string {
	return "stuckclock"
}

func (s *stuckClock) Description() string {
	return "The peripheral holds SCL past the master limit; expects a protocol timeout"
}

func (s *stuckClock) Run(ctx context.Context, cfg verify.Config) error {
	cfg.Stretch = 1 << 20
	cfg.StretchLimit = 1000
	_, err := run(ctx, cfg)
	var te *sim.TimeoutError
	if !errors.As(err, &te) {
		return fmt.Errorf("expected a timeout, got %v", err)
	}
	return nil
}

//

func run(ctx context.Context, cfg verify.Config) (*verify.Report, error) {
	b, err := verify.NewBench(cfg)
	if err != nil {
		return nil, err
	}
	defer b.Close()
	rep, err := b.Run(ctx)
	if err != nil {
		return rep, err
	}
	if len(rep.Violations) != 0 {
		return rep, fmt.Errorf("framing violations: %v", rep.Violations)
	}
	return rep, nil
}

func bringup(ctx context.Context, cfg verify.Config) (*verify.Bench, error) {
	b, err := verify.NewBench(cfg)
	if err != nil {
		return nil, err
	}
	if err := b.Bringup(ctx); err != nil {
		_ = b.Close()
		return nil, err
	}
	return b, nil
}

func expectAddrNack(err error) error {
	var nack *master.NackError
	if !errors.As(err, &nack) {
		return fmt.Errorf("expected a NACK, got %v", err)
	}
	if nack.Index != 0 {
		return fmt.Errorf("expected an address NACK, got %v", err)
	}
	return nil
}
