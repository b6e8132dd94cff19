// Copyright 2024 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package waveform implements a two row display.Drawer that renders the SCL
// and SDA lines of a simulated bus to a terminal using ANSI color codes.
//
// Each column is one sample; row 0 is SCL and row 1 is SDA.
package waveform // import "periph.io/x/i2cbench/devices/waveform"

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"
	"io"

	"github.com/maruel/ansi256"
	"github.com/mattn/go-colorable"
	"periph.io/x/periph/conn/display"
	"periph.io/x/periph/conn/gpio"

	"periph.io/x/i2cbench/wire"
)

// DefaultWidth is the number of columns when none is specified.
const DefaultWidth = 120

var (
	// High is the default color of a released line.
	High = color.NRGBA{0x00, 0xD0, 0x00, 0xFF}
	// Low is the default color of a line pulled low.
	Low = color.NRGBA{0x20, 0x20, 0x60, 0xFF}
)

// Opts configures a Dev.
type Opts struct {
	// Width is the number of columns. Defaults to DefaultWidth.
	Width int
	// Stride is how many bus samples are folded into one column. A column is
	// low if any of its samples is low. Defaults to 1.
	Stride int
}

// Dev renders bus waveforms to a terminal.
type Dev struct {
	w      io.Writer
	width  int
	stride int
	pixels []byte // 2 rows of RGB
	buf    bytes.Buffer
}

// New returns a Dev writing to w, or to the console when w is nil.
func New(w io.Writer, opts *Opts) (*Dev, error) {
	if w == nil {
		w = colorable.NewColorableStdout()
	}
	d := &Dev{w: w, width: DefaultWidth, stride: 1}
	if opts != nil {
		if opts.Width < 0 || opts.Stride < 0 {
			return nil, fmt.Errorf("waveform: invalid options %+v", *opts)
		}
		if opts.Width != 0 {
			d.width = opts.Width
		}
		if opts.Stride != 0 {
			d.stride = opts.Stride
		}
	}
	d.pixels = make([]byte, 3*2*d.width)
	return d, nil
}

func (d *Dev) String() string {
	return "Waveform"
}

// Halt implements conn.Resource.
//
// It resets the terminal colors.
func (d *Dev) Halt() error {
	_, err := d.w.Write([]byte("\033[0m"))
	return err
}

// ColorModel implements display.Drawer.
func (d *Dev) ColorModel() color.Model {
	return color.NRGBAModel
}

// Bounds implements display.Drawer.
func (d *Dev) Bounds() image.Rectangle {
	return image.Rectangle{Max: image.Point{X: d.width, Y: 2}}
}

// Draw implements display.Drawer.
func (d *Dev) Draw(r image.Rectangle, src image.Image, sp image.Point) error {
	r = r.Intersect(d.Bounds())
	if r.Empty() {
		return errors.New("waveform: nothing to draw")
	}
	for y := r.Min.Y; y < r.Max.Y; y++ {
		for x := r.Min.X; x < r.Max.X; x++ {
			r16, g16, b16, _ := src.At(sp.X+x-r.Min.X, sp.Y+y-r.Min.Y).RGBA()
			i := 3 * (y*d.width + x)
			d.pixels[i] = byte(r16 >> 8)
			d.pixels[i+1] = byte(g16 >> 8)
			d.pixels[i+2] = byte(b16 >> 8)
		}
	}
	return d.refresh()
}

// Plot renders the most recent samples that fit on screen.
func (d *Dev) Plot(samples []wire.Sample) error {
	img := image.NewNRGBA(d.Bounds())
	cols := (len(samples) + d.stride - 1) / d.stride
	if cols > d.width {
		samples = samples[len(samples)-d.width*d.stride:]
		cols = d.width
	}
	for x := 0; x < d.width; x++ {
		scl, sda := gpio.High, gpio.High
		if x >= cols {
			img.SetNRGBA(x, 0, color.NRGBA{A: 0xFF})
			img.SetNRGBA(x, 1, color.NRGBA{A: 0xFF})
			continue
		}
		for _, s := range samples[x*d.stride : min(len(samples), (x+1)*d.stride)] {
			scl = scl && s.SCL
			sda = sda && s.SDA
		}
		img.SetNRGBA(x, 0, level(scl))
		img.SetNRGBA(x, 1, level(sda))
	}
	return d.Draw(d.Bounds(), img, image.Point{})
}

// Events writes one line per decoded bus event.
func (d *Dev) Events(events []wire.Event) error {
	d.buf.Reset()
	for _, e := range events {
		_, _ = fmt.Fprintln(&d.buf, e)
	}
	_, err := d.buf.WriteTo(d.w)
	return err
}

func (d *Dev) refresh() error {
	d.buf.Reset()
	for y, name := range []string{"SCL ", "SDA "} {
		_, _ = d.buf.WriteString("\033[0m" + name)
		for x := 0; x < d.width; x++ {
			i := 3 * (y*d.width + x)
			_, _ = io.WriteString(&d.buf, ansi256.Default.Block(color.NRGBA{d.pixels[i], d.pixels[i+1], d.pixels[i+2], 255}))
		}
		_, _ = d.buf.WriteString("\033[0m\n")
	}
	_, err := d.buf.WriteTo(d.w)
	return err
}

func level(l gpio.Level) color.NRGBA {
	if l {
		return High
	}
	return Low
}

var _ display.Drawer = &Dev{}
var _ fmt.Stringer = &Dev{}
