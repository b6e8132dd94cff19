// Copyright 2024 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package simhost

import (
	"context"
	"errors"
	"sync"

	"periph.io/x/periph/conn"
	"periph.io/x/periph/conn/gpio"
	"periph.io/x/periph/conn/i2c"
	"periph.io/x/periph/conn/physic"
	"periph.io/x/periph/conn/pin"

	"periph.io/x/i2cbench/verify"
)

// Host is a simulated bench exposed through the periph registries.
//
// Every bus handle returned by I2C shares the same bench; transactions are
// serialized.
type Host struct {
	name string

	mu     sync.Mutex
	b      *verify.Bench
	up     bool
	opened int
}

// newHost wires a bench for cfg, named after its bus. The peripheral is
// brought up on first use.
func newHost(cfg verify.Config) (*Host, error) {
	b, err := verify.NewBench(cfg)
	if err != nil {
		return nil, err
	}
	return &Host{name: cfg.Bus, b: b}, nil
}

func (h *Host) String() string {
	return h.name
}

// Bench returns the underlying bench.
//
// It must not be used while a bus handle is in use.
func (h *Host) Bench() *verify.Bench {
	return h.b
}

// Header returns the bench pins: the master side of SCL and SDA, then the
// reset and mode-select inputs of the peripheral.
func (h *Host) Header() []pin.Pin {
	m := h.b.Master()
	return []pin.Pin{m.SCL(), m.SDA(), h.b.Reset(), h.b.Mode()}
}

// I2C returns a handle on the bench bus, bringing the peripheral up first if
// needed.
func (h *Host) I2C() (i2c.BusCloser, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.up {
		if err := h.b.Bringup(context.Background()); err != nil {
			return nil, err
		}
		h.up = true
	}
	h.opened++
	return &bus{h: h}, nil
}

// bus is one handle returned by the registry.
type bus struct {
	h      *Host
	closed bool
}

func (b *bus) String() string {
	return b.h.name
}

func (b *bus) Halt() error {
	b.h.mu.Lock()
	defer b.h.mu.Unlock()
	return b.h.b.Master().Halt()
}

func (b *bus) Close() error {
	b.h.mu.Lock()
	defer b.h.mu.Unlock()
	if b.closed {
		return errors.New("simhost: already closed")
	}
	b.closed = true
	// The last handle puts the peripheral back in reset.
	if b.h.opened--; b.h.opened == 0 {
		b.h.up = false
		return b.h.b.Close()
	}
	return nil
}

func (b *bus) Duplex() conn.Duplex {
	return conn.Half
}

func (b *bus) Tx(addr uint16, w, r []byte) error {
	b.h.mu.Lock()
	defer b.h.mu.Unlock()
	if b.closed {
		return errors.New("simhost: closed")
	}
	return b.h.b.Master().Tx(addr, w, r)
}

func (b *bus) SetSpeed(f physic.Frequency) error {
	b.h.mu.Lock()
	defer b.h.mu.Unlock()
	return b.h.b.Master().SetSpeed(f)
}

func (b *bus) SCL() gpio.PinIO {
	return b.h.b.Master().SCL()
}

func (b *bus) SDA() gpio.PinIO {
	return b.h.b.Master().SDA()
}

var _ i2c.BusCloser = &bus{}
var _ i2c.Pins = &bus{}
