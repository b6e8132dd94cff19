// Copyright 2024 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package i2cbench is for documentation only. Explains how the packages fit
// together.
//
// Layout
//
// The simulation is a single timeline advanced one peripheral clock cycle at a
// time:
//
//  sim               cycle kernel; agents are ticked every cycle
//  wire              open-drain SCL/SDA lines, participant ports, bus monitor
//  master            bit-banged I²C master, implements i2c.BusCloser
//  devices/regperiph the register peripheral under test
//  devices/waveform  ANSI rendering of the recorded lines
//  verify            bench assembly and the write-then-read acceptance run
//  simhost           exposes benches through i2creg and pinreg
//
// Running
//
// The command line tool runs the acceptance sequence with the defaults: reset
// for 10 cycles, select I²C, write 0xAA 0xBB 0xCC 0xDD at register 0 of the
// peripheral at 0x70, set the pointer back to 0, read 4 bytes back.
//
//  go run ./cmd/i2cbench run --waveform
//
// A TOML file passed with --config overrides the defaults:
//
//  address = 0x70
//  register = 4
//  payload = [0x01, 0x02, 0x03]
//  repeated_start = true
//  speed_hz = 1000
//
// Use --log-level debug to trace every transaction.
package i2cbench // import "periph.io/x/i2cbench"
