// Copyright 2024 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package master

import (
	"errors"
	"fmt"
)

var (
	// ErrNack matches any *NackError with errors.Is.
	ErrNack = errors.New("master: NACK received")
	// ErrAddress is returned for addresses that do not fit in 7 bits.
	ErrAddress = errors.New("master: only 7 bit addresses are supported")
	// ErrEmptyWrite is returned when a write does not even carry a register
	// pointer.
	ErrEmptyWrite = errors.New("master: write needs at least one byte")
)

// NackError signals that a byte was not acknowledged.
//
// Index 0 is the address byte; payload byte k has Index k+1. A NACK on the
// address byte means no target answered: wrong address, or a target not
// listening on I²C.
type NackError struct {
	Index int
	Addr  uint16
	Dir   Dir
}

func (n *NackError) Error() string {
	if n.Index == 0 {
		return fmt.Sprintf("master: no ACK for address %#02x/%s", n.Addr, n.Dir)
	}
	return fmt.Sprintf("master: no ACK for byte %d to address %#02x", n.Index, n.Addr)
}

// Is implements errors.Is.
func (n *NackError) Is(target error) bool {
	return target == ErrNack
}
