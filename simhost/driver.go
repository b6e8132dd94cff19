// Copyright 2024 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package simhost

import (
	"sync"

	"periph.io/x/periph"
	"periph.io/x/periph/conn/i2c/i2creg"
	"periph.io/x/periph/conn/pin"
	"periph.io/x/periph/conn/pin/pinreg"

	"periph.io/x/i2cbench/verify"
)

// DefaultName is the bus registered by the driver.
const DefaultName = "SIM0"

// Init calls periph.Init() and returns it as-is.
//
// Calling it instead of periph.Init() guarantees the simulated benches driver
// is linked in.
func Init() (*periph.State, error) {
	return periph.Init()
}

// All enumerates the registered benches.
func All() []*Host {
	mu.Lock()
	defer mu.Unlock()
	out := make([]*Host, len(all))
	copy(out, all)
	return out
}

// Register adds a bench built from cfg to i2creg and pinreg under name.
//
// number is the bus number in i2creg, -1 for none.
func Register(name string, number int, cfg verify.Config) (*Host, error) {
	mu.Lock()
	defer mu.Unlock()
	cfg.Bus = name
	h, err := newHost(cfg)
	if err != nil {
		return nil, err
	}
	if err := registerHost(h, number); err != nil {
		return nil, err
	}
	all = append(all, h)
	return h, nil
}

//

var (
	mu  sync.Mutex
	all []*Host
)

// registerHost registers the header and the bus in the relevant registries.
//
// Must be called with mu held.
func registerHost(h *Host, number int) error {
	hdr := h.Header()
	p := make([][]pin.Pin, len(hdr))
	for i := range hdr {
		p[i] = []pin.Pin{hdr[i]}
	}
	if err := pinreg.Register(h.String(), p); err != nil {
		return err
	}
	if err := i2creg.Register(h.String(), nil, number, h.I2C); err != nil {
		_ = pinreg.Unregister(h.String())
		return err
	}
	return nil
}

// driver implements periph.Driver.
type driver struct {
}

func (d *driver) String() string {
	return "simhost"
}

func (d *driver) Prerequisites() []string {
	return nil
}

func (d *driver) After() []string {
	return nil
}

func (d *driver) Init() (bool, error) {
	mu.Lock()
	defer mu.Unlock()
	cfg := verify.DefaultConfig()
	cfg.Bus = DefaultName
	h, err := newHost(cfg)
	if err != nil {
		return true, err
	}
	if err := registerHost(h, 0); err != nil {
		return true, err
	}
	all = append(all, h)
	return true, nil
}

func init() {
	periph.MustRegister(&driver{})
}

var _ periph.Driver = &driver{}
