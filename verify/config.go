// Copyright 2024 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package verify

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/Sirupsen/logrus.v0"
	"periph.io/x/periph/conn/physic"

	"periph.io/x/i2cbench/devices/regperiph"
)

// Config describes one bench and its acceptance sequence.
//
// All durations except Timeout are in peripheral clock cycles.
type Config struct {
	// Bus names the bench lines and pins.
	Bus string `toml:"bus"`
	// Address is the 7 bit address of the peripheral.
	Address uint16 `toml:"address"`
	// Register is the pointer written before the payload and before reading
	// it back.
	Register uint8 `toml:"register"`
	// Payload is written then read back. It must hold at least one byte.
	Payload []byte `toml:"payload"`
	// Registers is the size of the peripheral register file.
	Registers int `toml:"registers"`

	ResetCycles   int `toml:"reset_cycles"`
	ModeSettle    int `toml:"mode_settle"`
	TrafficSettle int `toml:"traffic_settle"`
	Gap           int `toml:"gap"`

	// ClockHz is the peripheral clock.
	ClockHz int64 `toml:"clock_hz"`
	// SpeedHz is the SCL frequency, much slower than ClockHz.
	SpeedHz int64 `toml:"speed_hz"`
	// RepeatedStart skips the STOP after the pointer write so that the read
	// starts with a repeated START.
	RepeatedStart bool `toml:"repeated_start"`
	// Stretch makes the peripheral hold SCL low for this many cycles after
	// each acknowledged byte.
	Stretch int `toml:"stretch"`
	// StretchLimit bounds how long the master waits for a released line. 0
	// uses the master default.
	StretchLimit int `toml:"stretch_limit"`
	// Timeout bounds a whole run in wall time. 0 disables it.
	Timeout time.Duration `toml:"timeout"`

	// Log receives the bench traces. Defaults to discarding them.
	Log *logrus.Entry `toml:"-"`
}

// DefaultConfig returns the reference round trip: 0xAA 0xBB 0xCC 0xDD through
// register 0 of a peripheral at 0x70 clocked at 100kHz, with a 400Hz SCL.
func DefaultConfig() Config {
	return Config{
		Bus:           "I2C0",
		Address:       regperiph.DefaultAddr,
		Payload:       []byte{0xAA, 0xBB, 0xCC, 0xDD},
		Registers:     regperiph.DefaultSize,
		ResetCycles:   regperiph.MinResetCycles,
		ModeSettle:    100,
		TrafficSettle: 100,
		Gap:           20,
		ClockHz:       100000,
		SpeedHz:       400,
		Timeout:       10 * time.Second,
	}
}

// LoadConfig reads a TOML file on top of DefaultConfig.
//
// Unknown keys are rejected.
func LoadConfig(path string) (Config, error) {
	c := DefaultConfig()
	md, err := toml.DecodeFile(path, &c)
	if err != nil {
		return c, fmt.Errorf("verify: %w", err)
	}
	if u := md.Undecoded(); len(u) != 0 {
		keys := make([]string, 0, len(u))
		for _, k := range u {
			keys = append(keys, k.String())
		}
		sort.Strings(keys)
		return c, fmt.Errorf("verify: %s: unknown keys %s", path, strings.Join(keys, ", "))
	}
	return c, c.Validate()
}

// Validate returns an error if the configuration cannot run.
func (c *Config) Validate() error {
	switch {
	case c.Bus == "":
		return fmt.Errorf("verify: missing bus name")
	case c.Address > 0x7F:
		return fmt.Errorf("verify: invalid address %#x", c.Address)
	case len(c.Payload) == 0:
		return fmt.Errorf("verify: empty payload")
	case c.Registers < 1 || c.Registers > 256:
		return fmt.Errorf("verify: invalid register count %d", c.Registers)
	case len(c.Payload) > c.Registers:
		return fmt.Errorf("verify: %d bytes payload does not fit in %d registers", len(c.Payload), c.Registers)
	case int(c.Register) >= c.Registers:
		return fmt.Errorf("verify: register %d out of range", c.Register)
	case c.ResetCycles < regperiph.MinResetCycles:
		return fmt.Errorf("verify: reset must last at least %d cycles, got %d", regperiph.MinResetCycles, c.ResetCycles)
	case c.ModeSettle < 0 || c.TrafficSettle < 0 || c.Gap < 0:
		return fmt.Errorf("verify: negative settle time")
	case c.ClockHz <= 0 || c.SpeedHz <= 0:
		return fmt.Errorf("verify: invalid clock %dHz / %dHz", c.ClockHz, c.SpeedHz)
	case c.Stretch < 0 || c.StretchLimit < 0 || c.Timeout < 0:
		return fmt.Errorf("verify: negative limit")
	}
	return nil
}

func (c *Config) clock() physic.Frequency {
	return physic.Frequency(c.ClockHz) * physic.Hertz
}

func (c *Config) speed() physic.Frequency {
	return physic.Frequency(c.SpeedHz) * physic.Hertz
}
