// Copyright 2024 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package sim

import (
	"errors"
	"fmt"

	"periph.io/x/periph/conn/gpio"
)

// ErrTimeout matches any *TimeoutError with errors.Is.
var ErrTimeout = errors.New("sim: protocol timeout")

// TimeoutError is returned when a line did not reach the expected level
// within the allowed number of cycles, e.g. a target holding SCL low forever.
type TimeoutError struct {
	Line   string
	Want   gpio.Level
	Last   gpio.Level
	Cycles int
}

func (t *TimeoutError) Error() string {
	return fmt.Sprintf("sim: %s stuck %s, expected %s within %d cycles", t.Line, t.Last, t.Want, t.Cycles)
}

// Is implements errors.Is.
func (t *TimeoutError) Is(target error) bool {
	return target == ErrTimeout
}
