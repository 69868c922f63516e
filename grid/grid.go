// Package grid describes touch sensor node matrices and the frames of
// samples captured from them.
package grid

import (
	"encoding/binary"
	"fmt"
)

// Orientation selects whether firmware frames are transposed before
// display and validation.
type Orientation int

const (
	Native Orientation = iota
	Transposed
)

func (o Orientation) String() string {
	switch o {
	case Native:
		return "native"
	case Transposed:
		return "transposed"
	default:
		return fmt.Sprintf("Orientation(%d)", int(o))
	}
}

// Dims are the firmware dimensions of a sensor.
type Dims struct {
	Rows, Cols  int
	Orientation Orientation
}

// Displayed returns the dimensions after applying the orientation.
func (d Dims) Displayed() (rows, cols int) {
	if d.Orientation == Transposed {
		return d.Cols, d.Rows
	}
	return d.Rows, d.Cols
}

func (d Dims) NumNodes() int {
	return d.Rows * d.Cols
}

func (d Dims) Valid() bool {
	return d.Rows > 0 && d.Cols > 0
}

// Width is the number of bytes per sample in a firmware capture.
type Width int

const (
	Word Width = 2
	Byte Width = 1
)

// Frame is a matrix of samples in displayed coordinates.
type Frame struct {
	Rows, Cols int
	Width      Width
	Samples    []uint16
}

func New(rows, cols int, w Width) *Frame {
	return &Frame{
		Rows:    rows,
		Cols:    cols,
		Width:   w,
		Samples: make([]uint16, rows*cols),
	}
}

// Decode converts a capture in firmware layout into a frame in
// displayed layout.
func Decode(d Dims, w Width, b []byte) (*Frame, error) {
	n := d.NumNodes()
	if len(b) < n*int(w) {
		return nil, fmt.Errorf("grid: capture of %d bytes is too short for %dx%d nodes", len(b), d.Rows, d.Cols)
	}
	rows, cols := d.Displayed()
	f := New(rows, cols, w)
	for r := range d.Rows {
		for c := range d.Cols {
			i := r*d.Cols + c
			var v uint16
			if w == Word {
				v = binary.LittleEndian.Uint16(b[i*2:])
			} else {
				v = uint16(b[i])
			}
			if d.Orientation == Transposed {
				f.Set(c, r, v)
			} else {
				f.Set(r, c, v)
			}
		}
	}
	return f, nil
}

// Size returns the encoded size of the frame in bytes.
func (f *Frame) Size() int {
	return len(f.Samples) * int(f.Width)
}

// Encode returns the samples in displayed order, little endian for
// word frames.
func (f *Frame) Encode() []byte {
	b := make([]byte, f.Size())
	for i, v := range f.Samples {
		if f.Width == Word {
			binary.LittleEndian.PutUint16(b[i*2:], v)
		} else {
			b[i] = byte(v)
		}
	}
	return b
}

func (f *Frame) At(row, col int) uint16 {
	return f.Samples[row*f.Cols+col]
}

func (f *Frame) Set(row, col int, v uint16) {
	f.Samples[row*f.Cols+col] = v
}

func (f *Frame) Clone() *Frame {
	c := *f
	c.Samples = append([]uint16(nil), f.Samples...)
	return &c
}

// Count returns the number of samples equal to v.
func (f *Frame) Count(v uint16) int {
	n := 0
	for _, s := range f.Samples {
		if s == v {
			n++
		}
	}
	return n
}
