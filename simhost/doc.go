// Copyright 2024 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package simhost registers simulated I²C benches as periph buses.
//
// Importing the package adds a driver; once periph.Init() ran, the default
// bench is available as i2creg.Open("SIM0") with its pins in pinreg. Each
// bench is a register peripheral at 0x70 behind a bit-banged master.
//
// More benches can be added with Register.
package simhost // import "periph.io/x/i2cbench/simhost"
