// Copyright 2024 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package regperiph

import (
	"context"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"periph.io/x/periph/conn/gpio"

	"periph.io/x/i2cbench/master"
	"periph.io/x/i2cbench/sim"
	"periph.io/x/i2cbench/wire"
)

type rig struct {
	k    *sim.Kernel
	d    *Dev
	m    *master.Dev
	rst  *wire.Signal
	mode *wire.Signal
}

func newRig(t *testing.T, opts *Opts) *rig {
	k := sim.New(nil)
	b := wire.New("I2C0")
	mp, err := b.Attach("master")
	if err != nil {
		t.Fatal(err)
	}
	tp, err := b.Attach("target")
	if err != nil {
		t.Fatal(err)
	}
	r := &rig{k: k, rst: wire.NewSignal("RST_N", 0, gpio.Low), mode: wire.NewSignal("MODE", 1, gpio.Low)}
	if r.d, err = New(tp, r.rst, r.mode, opts); err != nil {
		t.Fatal(err)
	}
	k.Attach(r.d)
	if r.m, err = master.New(k, mp, nil); err != nil {
		t.Fatal(err)
	}
	return r
}

// reset holds reset for n cycles then lets the peripheral run.
func (r *rig) reset(t *testing.T, n int) {
	_ = r.rst.Out(gpio.Low)
	if err := r.k.WaitCycles(context.Background(), n); err != nil {
		t.Fatal(err)
	}
	_ = r.rst.Out(gpio.High)
	_ = r.k.WaitCycles(context.Background(), 5)
}

func (r *rig) i2cMode(t *testing.T) {
	_ = r.mode.Out(gpio.High)
	_ = r.k.WaitCycles(context.Background(), 5)
}

func TestDev_ResetTooShort(t *testing.T) {
	r := newRig(t, nil)
	r.reset(t, MinResetCycles-1)
	if r.d.Ready() {
		t.Fatal("a short reset must not bring the peripheral up")
	}
	if _, err := r.d.ParallelRead(0); err != ErrNotReady {
		t.Fatalf("ParallelRead() = %v, want ErrNotReady", err)
	}
	r.i2cMode(t)
	err := r.m.Tx(DefaultAddr, []byte{0x00, 0x01}, nil)
	var nack *master.NackError
	if !errors.As(err, &nack) || nack.Index != 0 {
		t.Fatalf("Tx() = %v, want an address NACK", err)
	}

	// A proper reset recovers.
	_ = r.mode.Out(gpio.Low)
	r.reset(t, MinResetCycles)
	if !r.d.Ready() {
		t.Fatal("Ready() = false")
	}
	r.i2cMode(t)
	if err := r.m.Tx(DefaultAddr, []byte{0x00, 0x01}, nil); err != nil {
		t.Fatal(err)
	}
}

func TestDev_ParallelPort(t *testing.T) {
	r := newRig(t, nil)
	r.reset(t, MinResetCycles)
	if err := r.d.ParallelWrite(2, 0x33); err != nil {
		t.Fatal(err)
	}
	if v, err := r.d.ParallelRead(2); err != nil || v != 0x33 {
		t.Fatalf("ParallelRead() = %#x, %v", v, err)
	}
	if err := r.d.ParallelWrite(DefaultSize, 0); err == nil {
		t.Fatal("out of range register must fail")
	}
	if _, err := r.d.ParallelRead(-1); err == nil {
		t.Fatal("out of range register must fail")
	}

	// Visible through I²C.
	r.i2cMode(t)
	if err := r.d.ParallelWrite(2, 0); err != ErrMode {
		t.Fatalf("ParallelWrite() = %v, want ErrMode", err)
	}
	b := make([]byte, 1)
	if err := r.m.Tx(DefaultAddr, []byte{0x02}, b); err != nil {
		t.Fatal(err)
	}
	if b[0] != 0x33 {
		t.Fatalf("read %#x, want 0x33", b[0])
	}

	// Reset clears the register file.
	_ = r.mode.Out(gpio.Low)
	r.reset(t, MinResetCycles)
	if diff := cmp.Diff(make([]byte, DefaultSize), r.d.Registers()); diff != "" {
		t.Fatalf("(-want +got):\n%s", diff)
	}
}

func TestDev_PointerWraps(t *testing.T) {
	r := newRig(t, &Opts{Size: 4})
	r.reset(t, MinResetCycles)
	r.i2cMode(t)
	if err := r.m.Tx(DefaultAddr, []byte{0x03, 0x0A, 0x0B}, nil); err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]byte{0x0B, 0, 0, 0x0A}, r.d.Registers()); diff != "" {
		t.Fatalf("(-want +got):\n%s", diff)
	}
	if p := r.d.Pointer(); p != 1 {
		t.Fatalf("Pointer() = %d, want 1", p)
	}
	// The pointer survives STOP and a read continues from it.
	b := make([]byte, 4)
	if err := r.m.Tx(DefaultAddr, nil, b); err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]byte{0, 0, 0x0A, 0x0B}, b); diff != "" {
		t.Fatalf("(-want +got):\n%s", diff)
	}
	// A pointer byte is reduced modulo the register count.
	if err := r.m.Tx(DefaultAddr, []byte{0x06}, nil); err != nil {
		t.Fatal(err)
	}
	if p := r.d.Pointer(); p != 2 {
		t.Fatalf("Pointer() = %d, want 2", p)
	}
}

func TestDev_OtherAddress(t *testing.T) {
	r := newRig(t, &Opts{Addr: 0x21})
	r.reset(t, MinResetCycles)
	r.i2cMode(t)
	if err := r.m.Tx(DefaultAddr, []byte{0x00}, nil); !errors.Is(err, master.ErrNack) {
		t.Fatalf("Tx(%#x) = %v, want a NACK", DefaultAddr, err)
	}
	if err := r.m.Tx(0x21, []byte{0x00, 0x99}, nil); err != nil {
		t.Fatal(err)
	}
	if r.d.Registers()[0] != 0x99 {
		t.Fatal("write was lost")
	}
	if s := r.d.String(); s != "regperiph(0x21)" {
		t.Fatalf("String() = %q", s)
	}
}

func TestNew_invalid(t *testing.T) {
	b := wire.New("I2C0")
	p, err := b.Attach("target")
	if err != nil {
		t.Fatal(err)
	}
	rst := wire.NewSignal("RST_N", 0, gpio.Low)
	for _, o := range []Opts{{Addr: 0x80}, {Size: 257}, {Size: -1}, {Stretch: -1}} {
		o := o
		if _, err := New(p, rst, rst, &o); err == nil {
			t.Fatalf("New(%+v) must fail", o)
		}
	}
}
