// Copyright 2024 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Expose the simulated wires as GPIOs.

package wire

import (
	"errors"
	"time"

	"periph.io/x/periph/conn/gpio"
	"periph.io/x/periph/conn/physic"
)

// portPin is one participant's view of an open-drain line.
//
// Out(High) cannot drive the line high, it releases it to the pull-up.
type portPin struct {
	port *Port
	line *Line
	num  int
}

// String implements conn.Resource.
func (p *portPin) String() string {
	return p.port.name + ":" + p.line.name
}

// Halt implements conn.Resource.
//
// It releases the line.
func (p *portPin) Halt() error {
	p.line.Release(p.port.id)
	return nil
}

// Name implements pin.Pin.
func (p *portPin) Name() string {
	return p.line.name
}

// Number implements pin.Pin.
func (p *portPin) Number() int {
	return p.num
}

// Function implements pin.Pin.
func (p *portPin) Function() string {
	if p.line.Driving(p.port.id) {
		return "Out/Low"
	}
	return "In/PullUp"
}

// In implements gpio.PinIn.
//
// Only the pull-up is supported; it is the open-drain released state.
func (p *portPin) In(pull gpio.Pull, e gpio.Edge) error {
	if e != gpio.NoEdge {
		return errors.New("wire: edge triggering is not supported")
	}
	if pull != gpio.PullUp && pull != gpio.PullNoChange {
		return errors.New("wire: open-drain lines only have a pull-up")
	}
	p.line.Release(p.port.id)
	return nil
}

// Read implements gpio.PinIn.
func (p *portPin) Read() gpio.Level {
	return p.line.Read()
}

// WaitForEdge implements gpio.PinIn.
//
// Time is simulated; use sim.Kernel.WaitLevel instead.
func (p *portPin) WaitForEdge(t time.Duration) bool {
	return false
}

// DefaultPull implements gpio.PinIn.
func (p *portPin) DefaultPull() gpio.Pull {
	return gpio.PullUp
}

// Pull implements gpio.PinIn.
func (p *portPin) Pull() gpio.Pull {
	return gpio.PullUp
}

// Out implements gpio.PinOut.
func (p *portPin) Out(l gpio.Level) error {
	if l == gpio.Low {
		p.line.DriveLow(p.port.id)
	} else {
		p.line.Release(p.port.id)
	}
	return nil
}

// PWM implements gpio.PinOut.
func (p *portPin) PWM(d gpio.Duty, f physic.Frequency) error {
	return errors.New("wire: not implemented")
}

//

// Signal is a push-pull, single driver digital input of the simulated
// peripheral, like its reset or mode-select pin.
//
// The test bench drives it with Out() and the peripheral samples it with
// Read().
type Signal struct {
	n   string
	num int
	l   gpio.Level
}

// NewSignal returns a signal at level l.
func NewSignal(name string, num int, l gpio.Level) *Signal {
	return &Signal{n: name, num: num, l: l}
}

// String implements conn.Resource.
func (s *Signal) String() string {
	return s.n
}

// Halt implements conn.Resource.
func (s *Signal) Halt() error {
	return nil
}

// Name implements pin.Pin.
func (s *Signal) Name() string {
	return s.n
}

// Number implements pin.Pin.
func (s *Signal) Number() int {
	return s.num
}

// Function implements pin.Pin.
func (s *Signal) Function() string {
	return "In"
}

// In implements gpio.PinIn.
func (s *Signal) In(pull gpio.Pull, e gpio.Edge) error {
	if e != gpio.NoEdge {
		return errors.New("wire: edge triggering is not supported")
	}
	if pull != gpio.Float && pull != gpio.PullNoChange {
		return errors.New("wire: pull is not supported")
	}
	return nil
}

// Read implements gpio.PinIn.
func (s *Signal) Read() gpio.Level {
	return s.l
}

// WaitForEdge implements gpio.PinIn.
func (s *Signal) WaitForEdge(t time.Duration) bool {
	return false
}

// DefaultPull implements gpio.PinIn.
func (s *Signal) DefaultPull() gpio.Pull {
	return gpio.Float
}

// Pull implements gpio.PinIn.
func (s *Signal) Pull() gpio.Pull {
	return gpio.Float
}

// Out implements gpio.PinOut.
func (s *Signal) Out(l gpio.Level) error {
	s.l = l
	return nil
}

// PWM implements gpio.PinOut.
func (s *Signal) PWM(d gpio.Duty, f physic.Frequency) error {
	return errors.New("wire: not implemented")
}

var _ gpio.PinIO = &portPin{}
var _ gpio.PinIO = &Signal{}
