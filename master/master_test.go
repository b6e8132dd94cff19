// Copyright 2024 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package master

import (
	"context"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"periph.io/x/periph/conn/gpio"
	"periph.io/x/periph/conn/i2c"
	"periph.io/x/periph/conn/i2c/i2ctest"
	"periph.io/x/periph/conn/physic"

	"periph.io/x/i2cbench/devices/regperiph"
	"periph.io/x/i2cbench/sim"
	"periph.io/x/i2cbench/wire"
)

type bench struct {
	k    *sim.Kernel
	bus  *wire.Bus
	mon  *wire.Monitor
	m    *Dev
	dut  *regperiph.Dev
	mode *wire.Signal
}

// newBench returns a reset peripheral in I²C mode and its master.
func newBench(t *testing.T, mo *Opts, po *regperiph.Opts) *bench {
	k := sim.New(nil)
	bus := wire.New("I2C0")
	mp, err := bus.Attach("master")
	if err != nil {
		t.Fatal(err)
	}
	tp, err := bus.Attach("target")
	if err != nil {
		t.Fatal(err)
	}
	rst := wire.NewSignal("RST_N", 0, gpio.Low)
	mode := wire.NewSignal("MODE", 1, gpio.Low)
	dut, err := regperiph.New(tp, rst, mode, po)
	if err != nil {
		t.Fatal(err)
	}
	mon := wire.NewMonitor(bus)
	k.Attach(dut)
	k.Attach(mon)
	m, err := New(k, mp, mo)
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	if err := k.WaitCycles(ctx, regperiph.MinResetCycles); err != nil {
		t.Fatal(err)
	}
	_ = rst.Out(gpio.High)
	_ = k.WaitCycles(ctx, 100)
	_ = mode.Out(gpio.High)
	_ = k.WaitCycles(ctx, 100)
	return &bench{k: k, bus: bus, mon: mon, m: m, dut: dut, mode: mode}
}

func (b *bench) checkFraming(t *testing.T) {
	if v := b.mon.Violations(); len(v) != 0 {
		t.Fatalf("framing violations: %v", v)
	}
	if s, p := b.mon.Count(wire.Start), b.mon.Count(wire.Stop); s != p {
		t.Fatalf("%d START for %d STOP", s, p)
	}
}

func TestDev_RoundTrip(t *testing.T) {
	b := newBench(t, nil, nil)
	ctx := context.Background()
	if err := b.m.Write(ctx, 0x70, []byte{0x00, 0xAA, 0xBB, 0xCC, 0xDD}); err != nil {
		t.Fatal(err)
	}
	if s := b.m.State(); s != Hold {
		t.Fatalf("State() = %s, want Hold", s)
	}
	if err := b.m.SendStop(ctx); err != nil {
		t.Fatal(err)
	}
	if err := b.k.WaitCycles(ctx, 20); err != nil {
		t.Fatal(err)
	}
	if err := b.m.Write(ctx, 0x70, []byte{0x00}); err != nil {
		t.Fatal(err)
	}
	if err := b.m.SendStop(ctx); err != nil {
		t.Fatal(err)
	}
	got, err := b.m.Read(ctx, 0x70, 4)
	if err != nil {
		t.Fatal(err)
	}
	if err := b.m.SendStop(ctx); err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]byte{0xAA, 0xBB, 0xCC, 0xDD}, got); diff != "" {
		t.Fatalf("read back (-want +got):\n%s", diff)
	}
	b.checkFraming(t)
	if n := b.mon.Count(wire.Start); n != 3 {
		t.Fatalf("%d START, want 3", n)
	}
	for _, e := range b.mon.Events() {
		if e.Kind != wire.Byte {
			continue
		}
		// Only the very last byte read is NACKed, by the master.
		if !e.Ack && e.Value != 0xDD {
			t.Fatalf("byte not acknowledged: %v", e)
		}
	}
	want := Stats{Starts: 3, Stops: 3, BytesOut: 6, BytesIn: 4}
	if diff := cmp.Diff(want, b.m.Stats()); diff != "" {
		t.Fatalf("Stats() (-want +got):\n%s", diff)
	}
	if !b.bus.Idle() {
		t.Fatal("bus must be idle")
	}
}

func TestDev_RepeatedStart(t *testing.T) {
	b := newBench(t, nil, nil)
	ctx := context.Background()
	if err := b.m.Write(ctx, 0x70, []byte{0x03, 0x01, 0x02}); err != nil {
		t.Fatal(err)
	}
	if err := b.m.Write(ctx, 0x70, []byte{0x03}); err != nil {
		t.Fatal(err)
	}
	got, err := b.m.Read(ctx, 0x70, 2)
	if err != nil {
		t.Fatal(err)
	}
	if err := b.m.SendStop(ctx); err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]byte{0x01, 0x02}, got); diff != "" {
		t.Fatalf("read back (-want +got):\n%s", diff)
	}
	b.checkFraming(t)
	if n := b.mon.Count(wire.RepeatedStart); n != 2 {
		t.Fatalf("%d repeated START, want 2", n)
	}
	if s := b.m.Stats(); s.Starts != 1 || s.RepeatedStarts != 2 || s.Stops != 1 {
		t.Fatalf("Stats() = %+v", s)
	}
}

func TestDev_PointerOnlyWrite(t *testing.T) {
	b := newBench(t, nil, nil)
	ctx := context.Background()
	if err := b.m.Tx(0x70, []byte{0x00, 0x10, 0x20, 0x30}, nil); err != nil {
		t.Fatal(err)
	}
	before := b.dut.Registers()
	if err := b.m.Tx(0x70, []byte{0x01}, nil); err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(before, b.dut.Registers()); diff != "" {
		t.Fatalf("pointer write altered registers (-want +got):\n%s", diff)
	}
	if p := b.dut.Pointer(); p != 1 {
		t.Fatalf("Pointer() = %d, want 1", p)
	}
	got, err := b.m.Read(ctx, 0x70, 2)
	if err != nil {
		t.Fatal(err)
	}
	_ = b.m.SendStop(ctx)
	if diff := cmp.Diff([]byte{0x20, 0x30}, got); diff != "" {
		t.Fatalf("(-want +got):\n%s", diff)
	}
}

func TestDev_AbsentTarget(t *testing.T) {
	b := newBench(t, nil, nil)
	ctx := context.Background()
	_, err := b.m.Read(ctx, 0x50, 4)
	var nack *NackError
	if !errors.As(err, &nack) {
		t.Fatalf("Read() = %v, want *NackError", err)
	}
	if nack.Index != 0 {
		t.Fatalf("Index = %d, want 0", nack.Index)
	}
	if err := b.m.SendStop(ctx); err != nil {
		t.Fatal(err)
	}
	if !b.bus.Idle() {
		t.Fatal("bus must be idle")
	}
	b.checkFraming(t)
	if s := b.m.Stats(); s.Nacks != 1 || s.BytesIn != 0 {
		t.Fatalf("Stats() = %+v", s)
	}
}

func TestDev_ParallelMode(t *testing.T) {
	b := newBench(t, nil, nil)
	ctx := context.Background()
	_ = b.mode.Out(gpio.Low)
	_ = b.k.WaitCycles(ctx, 10)
	err := b.m.Write(ctx, 0x70, []byte{0x00, 0x01})
	if !errors.Is(err, ErrNack) || err.(*NackError).Index != 0 {
		t.Fatalf("Write() = %v, want address NACK", err)
	}
	_ = b.m.SendStop(ctx)
}

func TestDev_ClockStretching(t *testing.T) {
	plain := newBench(t, nil, nil)
	stretched := newBench(t, nil, &regperiph.Opts{Stretch: 300})
	ctx := context.Background()
	for _, b := range []*bench{plain, stretched} {
		if err := b.m.Write(ctx, 0x70, []byte{0x00, 0x5A, 0xA5}); err != nil {
			t.Fatal(err)
		}
		if err := b.m.SendStop(ctx); err != nil {
			t.Fatal(err)
		}
		if err := b.m.Write(ctx, 0x70, []byte{0x00}); err != nil {
			t.Fatal(err)
		}
		if err := b.m.SendStop(ctx); err != nil {
			t.Fatal(err)
		}
		r, err := b.m.Read(ctx, 0x70, 2)
		if err != nil {
			t.Fatal(err)
		}
		if err := b.m.SendStop(ctx); err != nil {
			t.Fatal(err)
		}
		if diff := cmp.Diff([]byte{0x5A, 0xA5}, r); diff != "" {
			t.Fatalf("(-want +got):\n%s", diff)
		}
		b.checkFraming(t)
	}
	if stretched.k.Cycle() <= plain.k.Cycle() {
		t.Fatalf("stretching did not slow down the bus: %d <= %d", stretched.k.Cycle(), plain.k.Cycle())
	}
}

func TestDev_StretchTimeout(t *testing.T) {
	b := newBench(t, &Opts{StretchLimit: 500}, &regperiph.Opts{Stretch: 1000000})
	err := b.m.Write(context.Background(), 0x70, []byte{0x00, 0x01})
	var te *sim.TimeoutError
	if !errors.As(err, &te) {
		t.Fatalf("Write() = %v, want *sim.TimeoutError", err)
	}
	if te.Line != b.m.SCL().String() || te.Last != gpio.Low || te.Cycles != 500 {
		t.Fatalf("unexpected timeout %+v", te)
	}
}

func TestDev_Canceled(t *testing.T) {
	b := newBench(t, nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := b.m.Write(ctx, 0x70, []byte{0x00}); !errors.Is(err, context.Canceled) {
		t.Fatalf("Write() = %v, want context.Canceled", err)
	}
}

func TestDev_Tx_Record(t *testing.T) {
	b := newBench(t, nil, nil)
	rec := &i2ctest.Record{Bus: b.m}
	d := i2c.Dev{Bus: rec, Addr: 0x70}
	if err := d.Tx([]byte{0x02, 0xCA, 0xFE}, nil); err != nil {
		t.Fatal(err)
	}
	r := make([]byte, 2)
	if err := d.Tx([]byte{0x02}, r); err != nil {
		t.Fatal(err)
	}
	want := []i2ctest.IO{
		{Addr: 0x70, W: []byte{0x02, 0xCA, 0xFE}},
		{Addr: 0x70, W: []byte{0x02}, R: []byte{0xCA, 0xFE}},
	}
	if diff := cmp.Diff(want, rec.Ops); diff != "" {
		t.Fatalf("(-want +got):\n%s", diff)
	}
	if err := d.Tx(nil, nil); err == nil {
		t.Fatal("empty Tx must fail")
	}
	b.checkFraming(t)
}

func TestDev_Args(t *testing.T) {
	b := newBench(t, nil, nil)
	ctx := context.Background()
	if err := b.m.Write(ctx, 0x80, []byte{0}); err != ErrAddress {
		t.Fatalf("Write(0x80) = %v", err)
	}
	if _, err := b.m.Read(ctx, 0x80, 1); err != ErrAddress {
		t.Fatalf("Read(0x80) = %v", err)
	}
	if err := b.m.Write(ctx, 0x70, nil); err != ErrEmptyWrite {
		t.Fatalf("Write(nil) = %v", err)
	}
	if _, err := b.m.Read(ctx, 0x70, -1); err == nil {
		t.Fatal("negative read must fail")
	}
	c := b.k.Cycle()
	got, err := b.m.Read(ctx, 0x70, 0)
	if err != nil || len(got) != 0 {
		t.Fatalf("Read(0) = %v, %v", got, err)
	}
	if b.k.Cycle() != c {
		t.Fatal("a zero length read must not touch the bus")
	}
	// STOP with nothing open is a no-op.
	if err := b.m.SendStop(ctx); err != nil || b.k.Cycle() != c {
		t.Fatalf("SendStop() = %v", err)
	}
}

func TestDev_SetSpeed(t *testing.T) {
	b := newBench(t, nil, nil)
	if err := b.m.SetSpeed(0); err == nil {
		t.Fatal("expected error")
	}
	// 100kHz / 16 cycles per bit.
	if err := b.m.SetSpeed(6250 * physic.Hertz); err != nil {
		t.Fatal(err)
	}
	if err := b.m.SetSpeed(6251 * physic.Hertz); err == nil {
		t.Fatal("expected error for a bit shorter than 16 cycles")
	}
	if b.m.Speed() != 6250*physic.Hertz {
		t.Fatalf("Speed() = %s", b.m.Speed())
	}
	// The fastest speed still round trips.
	if err := b.m.Tx(0x70, []byte{0x00, 0x42}, nil); err != nil {
		t.Fatal(err)
	}
	r := make([]byte, 1)
	if err := b.m.Tx(0x70, []byte{0x00}, r); err != nil {
		t.Fatal(err)
	}
	if r[0] != 0x42 {
		t.Fatalf("read %#02x, want 0x42", r[0])
	}
	b.checkFraming(t)
}

func TestDev_Halt(t *testing.T) {
	b := newBench(t, nil, nil)
	if err := b.m.Write(context.Background(), 0x70, []byte{0x00}); err != nil {
		t.Fatal(err)
	}
	if err := b.m.Close(); err != nil {
		t.Fatal(err)
	}
	if b.m.State() != Idle || b.bus.SCL.Read() != gpio.High {
		t.Fatal("Close() must release the bus")
	}
	if s := b.m.String(); s != "master(master)" {
		t.Fatalf("String() = %q", s)
	}
}
