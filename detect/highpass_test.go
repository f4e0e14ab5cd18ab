// Copyright 2023 Skysift, Inc.  All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

package detect

import (
	"testing"

	"github.com/grailbio/testutil/expect"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skysift/rfi/tf"
)

func defaultFilter() HighPassFilter {
	return HighPassFilter{
		WindowWidth:    21,
		WindowHeight:   31,
		HKernelSigmaSq: 2.5,
		VKernelSigmaSq: 5.0,
	}
}

func TestHighPassConstantImage(t *testing.T) {
	image := tf.NewFilledImage(30, 20, 4.25)
	mask := tf.NewMask(30, 20)
	f := defaultFilter()
	background, residual, err := f.Apply(image, mask)
	require.NoError(t, err)
	for y := 0; y < 20; y++ {
		for x := 0; x < 30; x++ {
			assert.InDelta(t, 4.25, background.Value(x, y), 1e-4)
			assert.InDelta(t, 0, residual.Value(x, y), 1e-4)
		}
	}
}

func TestHighPassFullyMaskedIsZero(t *testing.T) {
	image := tf.NewFilledImage(10, 10, 100)
	mask := tf.NewSetMask(10, 10, true)
	f := defaultFilter()
	background, err := f.Background(image, mask)
	require.NoError(t, err)
	for y := 0; y < 10; y++ {
		for x := 0; x < 10; x++ {
			expect.EQ(t, background.Value(x, y), float32(0))
		}
	}
}

func TestHighPassFlaggedSpikeExcluded(t *testing.T) {
	image := tf.NewFilledImage(20, 20, 1)
	image.SetValue(10, 10, 1000)
	mask := tf.NewMask(20, 20)
	mask.SetValue(10, 10, true)
	f := defaultFilter()
	background, err := f.Background(image, mask)
	require.NoError(t, err)
	// The flagged spike contributes nothing; the fit sees a constant 1.
	for y := 0; y < 20; y++ {
		for x := 0; x < 20; x++ {
			assert.InDelta(t, 1.0, background.Value(x, y), 1e-4)
		}
	}
}

func TestHighPassAbsorbsSmoothSignal(t *testing.T) {
	// A slow vertical gradient is mostly absorbed into the background; the
	// residual stays well below the gradient's range.
	image := tf.NewImage(24, 24)
	for y := 0; y < 24; y++ {
		for x := 0; x < 24; x++ {
			image.SetValue(x, y, float32(y)*0.1)
		}
	}
	mask := tf.NewMask(24, 24)
	f := defaultFilter()
	_, residual, err := f.Apply(image, mask)
	require.NoError(t, err)
	for y := 2; y < 22; y++ {
		for x := 0; x < 24; x++ {
			assert.InDelta(t, 0, residual.Value(x, y), 0.3)
		}
	}
}

func TestHighPassValidation(t *testing.T) {
	image := tf.NewImage(4, 4)
	mask := tf.NewMask(4, 4)
	bad := HighPassFilter{WindowWidth: 0, WindowHeight: 3}
	_, err := bad.Background(image, mask)
	assert.Error(t, err)

	mismatched := defaultFilter()
	_, err = mismatched.Background(image, tf.NewMask(3, 4))
	assert.Error(t, err)
}
