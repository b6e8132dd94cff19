// Copyright 2024 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package verify

import (
	"fmt"

	"github.com/go-faster/jx"

	"periph.io/x/i2cbench/wire"
)

// Encode writes r as a JSON object.
func (r *Report) Encode(e *jx.Encoder) {
	e.ObjStart()
	e.FieldStart("read")
	hexBytes(e, r.Read)
	e.FieldStart("cycles")
	e.UInt64(r.Cycles)

	e.FieldStart("stats")
	e.ObjStart()
	for _, f := range []struct {
		name string
		v    int
	}{
		{"starts", r.Stats.Starts},
		{"repeated_starts", r.Stats.RepeatedStarts},
		{"stops", r.Stats.Stops},
		{"bytes_out", r.Stats.BytesOut},
		{"bytes_in", r.Stats.BytesIn},
		{"nacks", r.Stats.Nacks},
	} {
		e.FieldStart(f.name)
		e.Int(f.v)
	}
	e.ObjEnd()

	e.FieldStart("events")
	e.ArrStart()
	for _, ev := range r.Events {
		e.ObjStart()
		e.FieldStart("cycle")
		e.UInt64(ev.Cycle)
		e.FieldStart("kind")
		e.Str(ev.Kind.String())
		if ev.Kind == wire.Byte {
			e.FieldStart("value")
			e.Str(fmt.Sprintf("%#02x", ev.Value))
			e.FieldStart("ack")
			e.Bool(ev.Ack)
		}
		e.ObjEnd()
	}
	e.ArrEnd()

	e.FieldStart("violations")
	e.ArrStart()
	for _, v := range r.Violations {
		e.ObjStart()
		e.FieldStart("cycle")
		e.UInt64(v.Cycle)
		e.FieldStart("reason")
		e.Str(v.Reason)
		e.ObjEnd()
	}
	e.ArrEnd()
	e.ObjEnd()
}

// JSON returns r encoded as a JSON object.
func (r *Report) JSON() []byte {
	var e jx.Encoder
	r.Encode(&e)
	return e.Bytes()
}

// hexBytes encodes b as an array of "0x.." strings, or null.
func hexBytes(e *jx.Encoder, b []byte) {
	if b == nil {
		e.Null()
		return
	}
	e.ArrStart()
	for _, v := range b {
		e.Str(fmt.Sprintf("%#02x", v))
	}
	e.ArrEnd()
}
