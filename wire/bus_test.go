// Copyright 2024 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package wire

import (
	"fmt"
	"testing"

	"github.com/google/go-cmp/cmp"
	"periph.io/x/periph/conn/gpio"
)

func TestLine_WiredAND(t *testing.T) {
	l := NewLine("SDA")
	if l.Read() != gpio.High {
		t.Fatal("released line must read high")
	}
	l.DriveLow(0)
	l.DriveLow(3)
	l.Release(0)
	if l.Read() != gpio.Low {
		t.Fatal("line must stay low while participant 3 drives it")
	}
	if l.Driving(0) || !l.Driving(3) {
		t.Fatal("unexpected driving flags")
	}
	// Releasing twice is harmless.
	l.Release(3)
	l.Release(3)
	if l.Read() != gpio.High {
		t.Fatal("line must float high once everyone released it")
	}
}

func TestBus_Ports(t *testing.T) {
	b := New("I2C0")
	m, err := b.Attach("master")
	if err != nil {
		t.Fatal(err)
	}
	s, err := b.Attach("target")
	if err != nil {
		t.Fatal(err)
	}
	if !b.Idle() {
		t.Fatal("new bus must be idle")
	}
	if err := m.SCL().Out(gpio.Low); err != nil {
		t.Fatal(err)
	}
	if s.SCL().Read() != gpio.Low {
		t.Fatal("target must see the clock held low")
	}
	// Out(High) only releases: the target still holding SDA wins.
	if err := s.SDA().Out(gpio.Low); err != nil {
		t.Fatal(err)
	}
	if err := m.SDA().Out(gpio.High); err != nil {
		t.Fatal(err)
	}
	if m.SDA().Read() != gpio.Low {
		t.Fatal("master cannot drive high an open-drain line")
	}
	if got := s.SDA().Function(); got != "Out/Low" {
		t.Fatalf("Function() = %q", got)
	}
	if err := s.SDA().In(gpio.PullUp, gpio.NoEdge); err != nil {
		t.Fatal(err)
	}
	if err := s.SDA().In(gpio.PullDown, gpio.NoEdge); err == nil {
		t.Fatal("pull-down must be rejected")
	}
	m.Release()
	if !b.Idle() {
		t.Fatal("bus must be idle after releases")
	}
	if got := m.SCL().String(); got != "master:I2C0.SCL" {
		t.Fatalf("String() = %q", got)
	}
	b.SDA.DriveLow(s.Participant())
	b.Reset()
	if !b.Idle() {
		t.Fatal("Reset() must release every participant")
	}
}

func TestBus_TooManyParticipants(t *testing.T) {
	b := New("I2C0")
	for i := 0; i < MaxParticipants; i++ {
		if _, err := b.Attach("p"); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := b.Attach("one too many"); err == nil {
		t.Fatal("expected error")
	}
}

func TestSignal(t *testing.T) {
	s := NewSignal("RST_N", 0, gpio.Low)
	if s.Read() != gpio.Low {
		t.Fatal("initial level")
	}
	if err := s.Out(gpio.High); err != nil {
		t.Fatal(err)
	}
	if s.Read() != gpio.High {
		t.Fatal("Out(High) not applied")
	}
	if err := s.In(gpio.PullUp, gpio.NoEdge); err == nil {
		t.Fatal("expected pull to be rejected")
	}
}

// driver plays a sequence of (SCL, SDA) levels on a bus, one per cycle, and
// ticks the monitor after each.
type driver struct {
	p *Port
	m *Monitor
	c uint64
}

func (d *driver) set(scl, sda gpio.Level) {
	_ = d.p.SCL().Out(scl)
	_ = d.p.SDA().Out(sda)
	d.c++
	d.m.Tick(d.c)
}

func (d *driver) start() {
	d.set(gpio.High, gpio.Low)
	d.set(gpio.Low, gpio.Low)
}

func (d *driver) bit(b gpio.Level) {
	d.set(gpio.Low, b)
	d.set(gpio.High, b)
	d.set(gpio.Low, b)
}

func (d *driver) byte(v byte, ack bool) {
	for i := 7; i >= 0; i-- {
		d.bit(v&(1<<uint(i)) != 0)
	}
	d.bit(!gpio.Level(ack))
}

func (d *driver) stop() {
	d.set(gpio.Low, gpio.Low)
	d.set(gpio.High, gpio.Low)
	d.set(gpio.High, gpio.High)
}

func kinds(ev []Event) []string {
	var out []string
	for _, e := range ev {
		if e.Kind != Byte {
			out = append(out, e.Kind.String())
			continue
		}
		a := "NACK"
		if e.Ack {
			a = "ACK"
		}
		out = append(out, fmt.Sprintf("BYTE %02x %s", e.Value, a))
	}
	return out
}

func TestMonitor_Decode(t *testing.T) {
	b := New("I2C0")
	p, _ := b.Attach("master")
	m := NewMonitor(b)
	m.Record(8)
	d := &driver{p: p, m: m}

	d.start()
	d.byte(0xe0, true)
	d.byte(0x00, true)
	// Repeated start: release SDA with SCL low, then raise SCL.
	d.set(gpio.Low, gpio.High)
	d.set(gpio.High, gpio.High)
	d.start()
	d.byte(0xe1, true)
	d.byte(0xaa, false)
	d.stop()

	want := []string{"START", "BYTE e0 ACK", "BYTE 00 ACK", "RESTART", "BYTE e1 ACK", "BYTE aa NACK", "STOP"}
	if diff := cmp.Diff(want, kinds(m.Events())); diff != "" {
		t.Fatalf("events (-want +got):\n%s", diff)
	}
	if v := m.Violations(); len(v) != 0 {
		t.Fatalf("unexpected violations %v", v)
	}
	if m.Count(Start) != 1 || m.Count(Stop) != 1 || m.Count(RepeatedStart) != 1 {
		t.Fatal("unexpected condition counts")
	}
	if n := len(m.History()); n != 8 {
		t.Fatalf("len(History()) = %d, want 8", n)
	}
}

func TestMonitor_Violations(t *testing.T) {
	b := New("I2C0")
	p, _ := b.Attach("master")
	m := NewMonitor(b)
	d := &driver{p: p, m: m}

	// STOP on an idle bus.
	d.set(gpio.Low, gpio.Low)
	d.set(gpio.High, gpio.Low)
	d.set(gpio.High, gpio.High)
	// STOP in the middle of a byte.
	d.start()
	d.bit(gpio.High)
	d.bit(gpio.Low)
	d.stop()

	want := []Violation{
		{Cycle: 3, Reason: "STOP without START"},
		{Cycle: 14, Reason: "STOP after 2 bits of a byte"},
	}
	if diff := cmp.Diff(want, m.Violations()); diff != "" {
		t.Fatalf("violations (-want +got):\n%s", diff)
	}
	m.Reset()
	if len(m.Events()) != 0 || len(m.Violations()) != 0 {
		t.Fatal("Reset() must clear the log")
	}
}
