// Copyright 2023 Skysift, Inc.  All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

package detect

import (
	"math"

	"github.com/grailbio/base/errors"
	"github.com/skysift/rfi/tf"
)

// HighPassFilter estimates a smooth background by Gaussian-weighted sliding
// window, using 1-mask as the per-sample weight so flagged samples do not
// drag the estimate.  The residual image-background is what the next
// thresholding iteration operates on: smooth astronomical signal is absorbed
// into the background while compact RFI survives in the residual.
type HighPassFilter struct {
	// WindowWidth and WindowHeight are the kernel extents in samples.
	WindowWidth, WindowHeight int
	// HKernelSigmaSq and VKernelSigmaSq are the Gaussian sigma^2 along the
	// time and frequency axes.
	HKernelSigmaSq, VKernelSigmaSq float64
}

func (f *HighPassFilter) check(image *tf.Image, mask *tf.Mask) error {
	if f.WindowWidth <= 0 || f.WindowHeight <= 0 {
		return errors.E("highpass: non-positive window", f.WindowWidth, f.WindowHeight)
	}
	if math.IsNaN(f.HKernelSigmaSq) || math.IsNaN(f.VKernelSigmaSq) ||
		math.IsInf(f.HKernelSigmaSq, 0) || math.IsInf(f.VKernelSigmaSq, 0) {
		return errors.New("highpass: non-finite kernel sigma")
	}
	if image.Width() != mask.Width() || image.Height() != mask.Height() {
		return errors.E("highpass: image and mask shapes differ")
	}
	return nil
}

// kernel returns the Gaussian taps for a window of the given extent.  A
// sigma^2 of zero degenerates to a single-tap kernel.
func kernel(extent int, sigmaSq float64) []float32 {
	taps := make([]float32, extent)
	mid := float64(extent-1) / 2
	for i := range taps {
		x := float64(i) - mid
		if sigmaSq <= 0 {
			if x == 0 {
				taps[i] = 1
			}
			continue
		}
		taps[i] = float32(math.Exp(-x * x / (2 * sigmaSq)))
	}
	return taps
}

// Background returns the fitted background image.  A sample whose window
// holds no unflagged samples gets background 0.
func (f *HighPassFilter) Background(image *tf.Image, mask *tf.Mask) (*tf.Image, error) {
	if err := f.check(image, mask); err != nil {
		return nil, err
	}
	width, height := image.Width(), image.Height()

	// Weighted separable convolution: convolve image*weight and weight with
	// the same kernel, then divide.  This renormalises every window by its
	// effective weight sum, so edges and heavily flagged regions need no
	// special casing.
	numerator := tf.NewImage(width, height)
	denominator := tf.NewImage(width, height)
	for y := 0; y < height; y++ {
		irow, nrow, drow := image.Row(y), numerator.Row(y), denominator.Row(y)
		for x := 0; x < width; x++ {
			if !mask.Value(x, y) {
				nrow[x] = irow[x]
				drow[x] = 1
			}
		}
	}

	hTaps := kernel(f.WindowWidth, f.HKernelSigmaSq)
	vTaps := kernel(f.WindowHeight, f.VKernelSigmaSq)
	numerator = convolveHorizontally(numerator, hTaps)
	numerator = convolveVertically(numerator, vTaps)
	denominator = convolveHorizontally(denominator, hTaps)
	denominator = convolveVertically(denominator, vTaps)

	background := tf.NewImage(width, height)
	for y := 0; y < height; y++ {
		nrow, drow, brow := numerator.Row(y), denominator.Row(y), background.Row(y)
		for x := 0; x < width; x++ {
			if drow[x] != 0 {
				brow[x] = nrow[x] / drow[x]
			}
		}
	}
	return background, nil
}

// Apply returns the background and the residual image-background.
func (f *HighPassFilter) Apply(image *tf.Image, mask *tf.Mask) (background, residual *tf.Image, err error) {
	background, err = f.Background(image, mask)
	if err != nil {
		return nil, nil, err
	}
	return background, tf.Subtract(image, background), nil
}

func convolveHorizontally(im *tf.Image, taps []float32) *tf.Image {
	width, height := im.Width(), im.Height()
	out := tf.NewImage(width, height)
	mid := len(taps) / 2
	for y := 0; y < height; y++ {
		row, orow := im.Row(y), out.Row(y)
		for x := 0; x < width; x++ {
			var sum float32
			start := x - mid
			for i, tap := range taps {
				xi := start + i
				if xi >= 0 && xi < width {
					sum += tap * row[xi]
				}
			}
			orow[x] = sum
		}
	}
	return out
}

func convolveVertically(im *tf.Image, taps []float32) *tf.Image {
	width, height := im.Width(), im.Height()
	out := tf.NewImage(width, height)
	mid := len(taps) / 2
	for y := 0; y < height; y++ {
		orow := out.Row(y)
		start := y - mid
		for i, tap := range taps {
			yi := start + i
			if yi < 0 || yi >= height {
				continue
			}
			row := im.Row(yi)
			for x := 0; x < width; x++ {
				orow[x] += tap * row[x]
			}
		}
	}
	return out
}
