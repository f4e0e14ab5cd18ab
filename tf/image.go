// Copyright 2023 Skysift, Inc.  All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

package tf

import (
	"math"

	"github.com/grailbio/base/log"
)

// imageAlign is the number of float32 samples a row stride is rounded up to.
// Vectorized kernels read whole stripes of this width without branching, so
// trailing pad samples must stay at a benign value (zero).
const imageAlign = 8

// strideFor returns the padded row length for the given width.
func strideFor(width int) int {
	return (width + imageAlign - 1) &^ (imageAlign - 1)
}

// Image is a row-padded two-dimensional array of float32 samples.  x indexes
// time, y indexes frequency channel.  Rows are stored contiguously with a
// stride that is a multiple of imageAlign; the pad samples beyond Width() are
// zero.
type Image struct {
	width, height int
	stride        int
	values        []float32
}

// NewImage returns a zero-filled width x height image.
func NewImage(width, height int) *Image {
	if width < 0 || height < 0 {
		log.Panicf("tf.NewImage: negative shape %dx%d", width, height)
	}
	stride := strideFor(width)
	return &Image{
		width:  width,
		height: height,
		stride: stride,
		values: make([]float32, stride*height),
	}
}

// NewFilledImage returns a width x height image with every sample set to
// value.  Pad samples remain zero.
func NewFilledImage(width, height int, value float32) *Image {
	im := NewImage(width, height)
	for y := 0; y < height; y++ {
		row := im.Row(y)
		for x := 0; x < width; x++ {
			row[x] = value
		}
	}
	return im
}

// ImageFromValues returns an image initialized from values, which holds
// height rows of width samples each, row-major and unpadded.
func ImageFromValues(width, height int, values []float32) *Image {
	if len(values) != width*height {
		log.Panicf("tf.ImageFromValues: got %d values for %dx%d image", len(values), width, height)
	}
	im := NewImage(width, height)
	for y := 0; y < height; y++ {
		copy(im.Row(y), values[y*width:(y+1)*width])
	}
	return im
}

// Width returns the number of samples per row.
func (im *Image) Width() int { return im.width }

// Height returns the number of rows.
func (im *Image) Height() int { return im.height }

// Stride returns the padded row length.
func (im *Image) Stride() int { return im.stride }

// Value returns the sample at (x, y).
func (im *Image) Value(x, y int) float32 {
	return im.values[y*im.stride+x]
}

// SetValue sets the sample at (x, y).
func (im *Image) SetValue(x, y int, v float32) {
	im.values[y*im.stride+x] = v
}

// Row returns row y including its pad samples.
func (im *Image) Row(y int) []float32 {
	return im.values[y*im.stride : (y+1)*im.stride]
}

// SetHorizontalValues sets count consecutive samples starting at (x, y).
func (im *Image) SetHorizontalValues(x, y int, v float32, count int) {
	row := im.values[y*im.stride+x : y*im.stride+x+count]
	for i := range row {
		row[i] = v
	}
}

// Copy returns a deep copy.
func (im *Image) Copy() *Image {
	c := &Image{width: im.width, height: im.height, stride: im.stride}
	c.values = make([]float32, len(im.values))
	copy(c.values, im.values)
	return c
}

// Equal reports whether the two images have the same shape and samples.
// Pad samples are not compared.
func (im *Image) Equal(other *Image) bool {
	if im.width != other.width || im.height != other.height {
		return false
	}
	for y := 0; y < im.height; y++ {
		a, b := im.Row(y), other.Row(y)
		for x := 0; x < im.width; x++ {
			if a[x] != b[x] {
				return false
			}
		}
	}
	return true
}

// Transpose returns a new image with x and y axes swapped.
func (im *Image) Transpose() *Image {
	t := NewImage(im.height, im.width)
	for y := 0; y < im.height; y++ {
		row := im.Row(y)
		for x := 0; x < im.width; x++ {
			t.SetValue(y, x, row[x])
		}
	}
	return t
}

// Subtract returns a - b.  The shapes must match.
func Subtract(a, b *Image) *Image {
	if a.width != b.width || a.height != b.height {
		log.Panicf("tf.Subtract: shape mismatch %dx%d vs %dx%d", a.width, a.height, b.width, b.height)
	}
	out := NewImage(a.width, a.height)
	for y := 0; y < a.height; y++ {
		ra, rb, ro := a.Row(y), b.Row(y), out.Row(y)
		for x := 0; x < a.width; x++ {
			ro[x] = ra[x] - rb[x]
		}
	}
	return out
}

// Amplitude returns the elementwise magnitude sqrt(re^2 + im^2).
func Amplitude(re, imag *Image) *Image {
	if re.width != imag.width || re.height != imag.height {
		log.Panicf("tf.Amplitude: shape mismatch %dx%d vs %dx%d", re.width, re.height, imag.width, imag.height)
	}
	out := NewImage(re.width, re.height)
	for y := 0; y < re.height; y++ {
		rr, ri, ro := re.Row(y), imag.Row(y), out.Row(y)
		for x := 0; x < re.width; x++ {
			ro[x] = float32(math.Sqrt(float64(rr[x])*float64(rr[x]) + float64(ri[x])*float64(ri[x])))
		}
	}
	return out
}

// ShrinkHorizontally returns the image downsampled in x by factor, averaging
// each group of factor samples.  The last group may be smaller.
func (im *Image) ShrinkHorizontally(factor int) *Image {
	if factor <= 1 {
		return im.Copy()
	}
	newWidth := (im.width + factor - 1) / factor
	out := NewImage(newWidth, im.height)
	for y := 0; y < im.height; y++ {
		row, orow := im.Row(y), out.Row(y)
		for x := 0; x < newWidth; x++ {
			end := (x + 1) * factor
			if end > im.width {
				end = im.width
			}
			var sum float32
			for i := x * factor; i < end; i++ {
				sum += row[i]
			}
			orow[x] = sum / float32(end-x*factor)
		}
	}
	return out
}

// ShrinkVertically returns the image downsampled in y by factor, averaging
// each group of factor rows.
func (im *Image) ShrinkVertically(factor int) *Image {
	if factor <= 1 {
		return im.Copy()
	}
	newHeight := (im.height + factor - 1) / factor
	out := NewImage(im.width, newHeight)
	for y := 0; y < newHeight; y++ {
		end := (y + 1) * factor
		if end > im.height {
			end = im.height
		}
		orow := out.Row(y)
		for i := y * factor; i < end; i++ {
			row := im.Row(i)
			for x := 0; x < im.width; x++ {
				orow[x] += row[x]
			}
		}
		n := float32(end - y*factor)
		for x := 0; x < im.width; x++ {
			orow[x] /= n
		}
	}
	return out
}

// EnlargeHorizontally returns the image upsampled in x to newWidth by nearest
// neighbour, undoing a ShrinkHorizontally by factor.
func (im *Image) EnlargeHorizontally(factor, newWidth int) *Image {
	if factor <= 1 {
		return im.Copy()
	}
	out := NewImage(newWidth, im.height)
	for y := 0; y < im.height; y++ {
		row, orow := im.Row(y), out.Row(y)
		for x := 0; x < newWidth; x++ {
			orow[x] = row[x/factor]
		}
	}
	return out
}

// EnlargeVertically returns the image upsampled in y to newHeight by nearest
// neighbour.
func (im *Image) EnlargeVertically(factor, newHeight int) *Image {
	if factor <= 1 {
		return im.Copy()
	}
	out := NewImage(im.width, newHeight)
	for y := 0; y < newHeight; y++ {
		copy(out.Row(y), im.Row(y/factor))
	}
	return out
}
