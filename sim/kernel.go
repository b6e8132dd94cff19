// Copyright 2024 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package sim is a tiny cycle based simulation kernel.
//
// A Kernel owns a single logical timeline: the peripheral clock. Agents
// attached to the kernel are ticked once per clock cycle, in attach order.
// Whoever drives the simulation (usually a bus master) advances time only
// through the two suspension primitives WaitCycles and WaitLevel.
package sim // import "periph.io/x/i2cbench/sim"

import (
	"context"
	"io"

	"gopkg.in/Sirupsen/logrus.v0"
	"periph.io/x/periph/conn/gpio"
	"periph.io/x/periph/conn/physic"
)

// DefaultClock is the peripheral clock: a 10µs period.
const DefaultClock = 100 * physic.KiloHertz

// ctxPoll is how many cycles pass between two context checks.
const ctxPoll = 256

// Agent is a participant reacting to the peripheral clock.
type Agent interface {
	// Tick is called once per clock cycle, after the cycle counter was
	// incremented.
	Tick(cycle uint64)
}

// AgentFunc adapts a function to Agent.
type AgentFunc func(cycle uint64)

// Tick implements Agent.
func (f AgentFunc) Tick(cycle uint64) {
	f(cycle)
}

// Opts configures a Kernel.
type Opts struct {
	// Clock is the frequency of the simulated peripheral clock. Defaults to
	// DefaultClock.
	Clock physic.Frequency
	// Log receives debug traces. Defaults to a discarding logger.
	Log *logrus.Entry
}

// Kernel is the simulation clock.
//
// It is not safe for concurrent use; independent kernels share nothing.
type Kernel struct {
	clock  physic.Frequency
	cycle  uint64
	agents []Agent
	log    *logrus.Entry
}

// New returns a Kernel at cycle 0.
func New(opts *Opts) *Kernel {
	k := &Kernel{clock: DefaultClock, log: Discard()}
	if opts != nil {
		if opts.Clock != 0 {
			k.clock = opts.Clock
		}
		if opts.Log != nil {
			k.log = opts.Log
		}
	}
	return k
}

func (k *Kernel) String() string {
	return "sim(" + k.clock.String() + ")"
}

// Clock returns the simulated peripheral clock frequency.
func (k *Kernel) Clock() physic.Frequency {
	return k.clock
}

// Cycle returns the number of clock cycles elapsed.
func (k *Kernel) Cycle() uint64 {
	return k.cycle
}

// Attach adds an agent. Agents are ticked in the order they were attached.
func (k *Kernel) Attach(a Agent) {
	k.agents = append(k.agents, a)
}

// Step advances the timeline by exactly one clock cycle.
func (k *Kernel) Step() {
	k.cycle++
	for _, a := range k.agents {
		a.Tick(k.cycle)
	}
}

// WaitCycles advances the timeline by n clock cycles.
//
// It only returns early when ctx is done.
func (k *Kernel) WaitCycles(ctx context.Context, n int) error {
	for i := 0; i < n; i++ {
		if i%ctxPoll == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}
		k.Step()
	}
	return nil
}

// WaitLevel advances the timeline until p reads l, for at most limit cycles.
//
// It returns immediately when p already reads l. When the limit is reached, a
// *TimeoutError describing the stuck line is returned.
func (k *Kernel) WaitLevel(ctx context.Context, p gpio.PinIn, l gpio.Level, limit int) error {
	for i := 0; ; i++ {
		if p.Read() == l {
			return nil
		}
		if i == limit {
			err := &TimeoutError{Line: p.String(), Want: l, Last: p.Read(), Cycles: limit}
			k.log.WithField("cycle", k.cycle).Debug(err)
			return err
		}
		if i%ctxPoll == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}
		k.Step()
	}
}

// CyclesPer returns how many kernel cycles fit in one period of f, rounded
// down.
func (k *Kernel) CyclesPer(f physic.Frequency) int {
	if f <= 0 {
		return 0
	}
	return int(k.clock / f)
}

// Discard returns a logger entry that writes nowhere.
func Discard() *logrus.Entry {
	l := logrus.New()
	l.Out = io.Discard
	return logrus.NewEntry(l)
}
