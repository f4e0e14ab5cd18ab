// Copyright 2023 Skysift, Inc.  All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

package tf

// The detection kernels are written once against these small interfaces and
// instantiated for both the native types and the XY-swapped views, so a
// vertical pass is the horizontal kernel monomorphized over a swapped view
// rather than a second copy of the loop.

// ImageLike is the read surface shared by Image and XYSwappedImage.
type ImageLike interface {
	Width() int
	Height() int
	Value(x, y int) float32
}

// MaskLike is the access surface shared by Mask and XYSwappedMask.
type MaskLike interface {
	Width() int
	Height() int
	Value(x, y int) bool
	SetValue(x, y int, v bool)
}

// XYSwappedImage presents an Image with its axes exchanged, without copying.
type XYSwappedImage struct {
	im *Image
}

// Swapped returns a zero-copy axis-swapped view of im.
func (im *Image) Swapped() XYSwappedImage { return XYSwappedImage{im} }

// Width returns the underlying image's height.
func (v XYSwappedImage) Width() int { return v.im.Height() }

// Height returns the underlying image's width.
func (v XYSwappedImage) Height() int { return v.im.Width() }

// Value returns the underlying sample at (y, x).
func (v XYSwappedImage) Value(x, y int) float32 { return v.im.Value(y, x) }

// XYSwappedMask presents a Mask with its axes exchanged, without copying.
type XYSwappedMask struct {
	m *Mask
}

// Swapped returns a zero-copy axis-swapped view of m.
func (m *Mask) Swapped() XYSwappedMask { return XYSwappedMask{m} }

// Width returns the underlying mask's height.
func (v XYSwappedMask) Width() int { return v.m.Height() }

// Height returns the underlying mask's width.
func (v XYSwappedMask) Height() int { return v.m.Width() }

// Value returns the underlying flag at (y, x).
func (v XYSwappedMask) Value(x, y int) bool { return v.m.Value(y, x) }

// SetValue sets the underlying flag at (y, x).
func (v XYSwappedMask) SetValue(x, y int, b bool) { v.m.SetValue(y, x, b) }
