// Copyright 2024 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package verify

import (
	"errors"
	"fmt"
)

// ErrMismatch matches any *AssertionError with errors.Is.
var ErrMismatch = errors.New("verify: read back mismatch")

// AssertionError is returned when the data read back differs from what was
// written.
type AssertionError struct {
	Want []byte
	Got  []byte
}

func (a *AssertionError) Error() string {
	return fmt.Sprintf("verify: read back [% x], want [% x]", a.Got, a.Want)
}

// Is implements errors.Is.
func (a *AssertionError) Is(target error) bool {
	return target == ErrMismatch
}
