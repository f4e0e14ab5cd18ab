// Copyright 2023 Skysift, Inc.  All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

package tf

import (
	"github.com/grailbio/base/log"
	"github.com/grailbio/base/simd"
)

// Mask is a row-padded two-dimensional boolean array parallel to an Image.
// true means "flagged".  Samples are stored one byte each so that flag runs
// can be filled with byte-level memset and so vectorized kernels can load
// whole stripes.  Pad bytes beyond Width() are kept true: a pad column can
// then never contribute to a window sum in the stripe kernels.
type Mask struct {
	width, height int
	stride        int
	values        []byte
}

// NewMask returns an all-false width x height mask.
func NewMask(width, height int) *Mask {
	if width < 0 || height < 0 {
		log.Panicf("tf.NewMask: negative shape %dx%d", width, height)
	}
	stride := strideFor(width)
	m := &Mask{
		width:  width,
		height: height,
		stride: stride,
		values: simd.MakeUnsafe(stride * height),
	}
	m.SetAll(false)
	return m
}

// NewSetMask returns a width x height mask with every sample set to value.
func NewSetMask(width, height int, value bool) *Mask {
	m := NewMask(width, height)
	if value {
		m.SetAll(true)
	}
	return m
}

// MaskFromValues returns a mask initialized from values, which holds height
// rows of width samples each, row-major and unpadded.
func MaskFromValues(width, height int, values []bool) *Mask {
	if len(values) != width*height {
		log.Panicf("tf.MaskFromValues: got %d values for %dx%d mask", len(values), width, height)
	}
	m := NewMask(width, height)
	for y := 0; y < height; y++ {
		row := m.Row(y)
		for x := 0; x < width; x++ {
			if values[y*width+x] {
				row[x] = 1
			}
		}
	}
	return m
}

// Width returns the number of samples per row.
func (m *Mask) Width() int { return m.width }

// Height returns the number of rows.
func (m *Mask) Height() int { return m.height }

// Stride returns the padded row length.
func (m *Mask) Stride() int { return m.stride }

// Value returns the flag at (x, y).
func (m *Mask) Value(x, y int) bool {
	return m.values[y*m.stride+x] != 0
}

// SetValue sets the flag at (x, y).
func (m *Mask) SetValue(x, y int, v bool) {
	if v {
		m.values[y*m.stride+x] = 1
	} else {
		m.values[y*m.stride+x] = 0
	}
}

// Row returns row y as raw bytes, including pad bytes.
func (m *Mask) Row(y int) []byte {
	return m.values[y*m.stride : (y+1)*m.stride]
}

// SetHorizontalValues sets count consecutive flags starting at (x, y).
func (m *Mask) SetHorizontalValues(x, y int, v bool, count int) {
	var b byte
	if v {
		b = 1
	}
	simd.Memset8(m.values[y*m.stride+x:y*m.stride+x+count], b)
}

// SetVerticalValues sets count consecutive flags in column x starting at row y.
func (m *Mask) SetVerticalValues(x, y int, v bool, count int) {
	var b byte
	if v {
		b = 1
	}
	for i := 0; i < count; i++ {
		m.values[(y+i)*m.stride+x] = b
	}
}

// SetAll sets every sample to value, and restores the pad-byte invariant.
func (m *Mask) SetAll(value bool) {
	var b byte
	if value {
		b = 1
	}
	simd.Memset8(m.values, b)
	if !value {
		for y := 0; y < m.height; y++ {
			simd.Memset8(m.values[y*m.stride+m.width:(y+1)*m.stride], 1)
		}
	}
}

// Copy returns a deep copy.
func (m *Mask) Copy() *Mask {
	c := &Mask{width: m.width, height: m.height, stride: m.stride}
	c.values = simd.MakeUnsafe(len(m.values))
	copy(c.values, m.values)
	return c
}

// CopyFrom overwrites m with other's samples.  The shapes must match.
func (m *Mask) CopyFrom(other *Mask) {
	if m.width != other.width || m.height != other.height {
		log.Panicf("tf.Mask.CopyFrom: shape mismatch %dx%d vs %dx%d", m.width, m.height, other.width, other.height)
	}
	copy(m.values, other.values)
}

// Equal reports whether the two masks have the same shape and flags.  Pad
// bytes are not compared.
func (m *Mask) Equal(other *Mask) bool {
	if m.width != other.width || m.height != other.height {
		return false
	}
	for y := 0; y < m.height; y++ {
		a, b := m.Row(y), other.Row(y)
		for x := 0; x < m.width; x++ {
			if (a[x] != 0) != (b[x] != 0) {
				return false
			}
		}
	}
	return true
}

// Or sets m to the elementwise OR of m and other.
func (m *Mask) Or(other *Mask) {
	if m.width != other.width || m.height != other.height {
		log.Panicf("tf.Mask.Or: shape mismatch %dx%d vs %dx%d", m.width, m.height, other.width, other.height)
	}
	for i, v := range other.values {
		m.values[i] |= v
	}
}

// And sets m to the elementwise AND of m and other.
func (m *Mask) And(other *Mask) {
	if m.width != other.width || m.height != other.height {
		log.Panicf("tf.Mask.And: shape mismatch %dx%d vs %dx%d", m.width, m.height, other.width, other.height)
	}
	for i, v := range other.values {
		m.values[i] &= v
	}
}

// Count returns the number of flagged samples.
func (m *Mask) Count() int {
	n := 0
	for y := 0; y < m.height; y++ {
		row := m.Row(y)
		for x := 0; x < m.width; x++ {
			if row[x] != 0 {
				n++
			}
		}
	}
	return n
}

// Transpose returns a new mask with x and y axes swapped.
func (m *Mask) Transpose() *Mask {
	t := NewMask(m.height, m.width)
	for y := 0; y < m.height; y++ {
		row := m.Row(y)
		for x := 0; x < m.width; x++ {
			if row[x] != 0 {
				t.SetValue(y, x, true)
			}
		}
	}
	return t
}

// ShrinkHorizontally returns the mask downsampled in x by factor.  A shrunk
// sample is flagged if any sample in its group was flagged.
func (m *Mask) ShrinkHorizontally(factor int) *Mask {
	if factor <= 1 {
		return m.Copy()
	}
	newWidth := (m.width + factor - 1) / factor
	out := NewMask(newWidth, m.height)
	for y := 0; y < m.height; y++ {
		row, orow := m.Row(y), out.Row(y)
		for x := 0; x < newWidth; x++ {
			end := (x + 1) * factor
			if end > m.width {
				end = m.width
			}
			for i := x * factor; i < end; i++ {
				if row[i] != 0 {
					orow[x] = 1
					break
				}
			}
		}
	}
	return out
}

// ShrinkVertically returns the mask downsampled in y by factor, OR-ing each
// group of factor rows.
func (m *Mask) ShrinkVertically(factor int) *Mask {
	if factor <= 1 {
		return m.Copy()
	}
	newHeight := (m.height + factor - 1) / factor
	out := NewMask(m.width, newHeight)
	for y := 0; y < newHeight; y++ {
		end := (y + 1) * factor
		if end > m.height {
			end = m.height
		}
		orow := out.Row(y)
		for i := y * factor; i < end; i++ {
			row := m.Row(i)
			for x := 0; x < m.width; x++ {
				orow[x] |= row[x]
			}
		}
	}
	return out
}

// EnlargeHorizontally returns the mask upsampled in x to newWidth by nearest
// neighbour.
func (m *Mask) EnlargeHorizontally(factor, newWidth int) *Mask {
	if factor <= 1 {
		return m.Copy()
	}
	out := NewMask(newWidth, m.height)
	for y := 0; y < m.height; y++ {
		row, orow := m.Row(y), out.Row(y)
		for x := 0; x < newWidth; x++ {
			orow[x] = row[x/factor]
		}
	}
	return out
}

// EnlargeVertically returns the mask upsampled in y to newHeight by nearest
// neighbour.
func (m *Mask) EnlargeVertically(factor, newHeight int) *Mask {
	if factor <= 1 {
		return m.Copy()
	}
	out := NewMask(m.width, newHeight)
	for y := 0; y < newHeight; y++ {
		copy(out.Row(y), m.Row(y/factor))
	}
	return out
}
