// Copyright 2023 Skysift, Inc.  All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

package detect

import (
	"math"

	"github.com/grailbio/base/errors"
	"github.com/skysift/rfi/tf"
)

// The SumThreshold kernel flags every sample inside a fully contained window
// of the given length whose mean over non-flagged samples exceeds the
// threshold in magnitude.  Flags found at one window length feed the next,
// so the mask only ever grows.
//
// The scalar row walk below is the reference implementation; the stripe
// kernels in sumthreshold_amd64.go must produce masks with identical
// comparison outcomes and are selected at init time.

// The active kernel implementations, chosen at init by the per-arch files.
var (
	horizontalSumThresholdVec func(input *tf.Image, mask, scratch *tf.Mask, length int, threshold float32)
	verticalSumThresholdVec   func(input *tf.Image, mask, scratch *tf.Mask, length int, threshold float32)
)

// checkSumThresholdArgs validates the exported kernel contract.
func checkSumThresholdArgs(input *tf.Image, mask, scratch *tf.Mask, length int, threshold float32) error {
	if length <= 0 {
		return errors.New("sumthreshold: window length must be positive")
	}
	if math.IsNaN(float64(threshold)) || math.IsInf(float64(threshold), 0) {
		return errors.New("sumthreshold: non-finite threshold")
	}
	if input.Width() != mask.Width() || input.Height() != mask.Height() {
		return errors.E("sumthreshold: image and mask shapes differ")
	}
	if scratch.Width() != mask.Width() || scratch.Height() != mask.Height() {
		return errors.E("sumthreshold: scratch and mask shapes differ")
	}
	return nil
}

// HorizontalSumThreshold runs one window length along the time axis,
// OR-ing new flags into mask.  scratch must have the same shape as mask and
// is overwritten.
func HorizontalSumThreshold(input *tf.Image, mask, scratch *tf.Mask, length int, threshold float32) error {
	if err := checkSumThresholdArgs(input, mask, scratch, length, threshold); err != nil {
		return err
	}
	horizontalSumThresholdVec(input, mask, scratch, length, threshold)
	return nil
}

// VerticalSumThreshold runs one window length along the frequency axis.
func VerticalSumThreshold(input *tf.Image, mask, scratch *tf.Mask, length int, threshold float32) error {
	if err := checkSumThresholdArgs(input, mask, scratch, length, threshold); err != nil {
		return err
	}
	verticalSumThresholdVec(input, mask, scratch, length, threshold)
	return nil
}

// horizontalSumThresholdRef is the scalar reference: a sliding window per
// row, excluding already-flagged samples from both sum and count.  A window
// whose samples are all flagged never triggers.  Triggered windows are
// recorded in scratch so in-window flags do not perturb later windows of the
// same pass.
func horizontalSumThresholdRef(input *tf.Image, mask, scratch *tf.Mask, length int, threshold float32) {
	scratch.CopyFrom(mask)
	width, height := mask.Width(), mask.Height()
	if length <= width {
		for y := 0; y < height; y++ {
			irow := input.Row(y)
			mrow := mask.Row(y)
			var sum float32
			count := 0
			xRight := 0
			for ; xRight < length-1; xRight++ {
				if mrow[xRight] == 0 {
					sum += irow[xRight]
					count++
				}
			}
			xLeft := 0
			for xRight < width {
				if mrow[xRight] == 0 {
					sum += irow[xRight]
					count++
				}
				if count > 0 && absf(sum/float32(count)) > threshold {
					scratch.SetHorizontalValues(xLeft, y, true, length)
				}
				if mrow[xLeft] == 0 {
					sum -= irow[xLeft]
					count--
				}
				xLeft++
				xRight++
			}
		}
	}
	mask.CopyFrom(scratch)
}

// verticalSumThresholdRef is the scalar reference for the frequency
// direction: one running window per column, advanced row by row so the image
// is still walked in row-major order.
func verticalSumThresholdRef(input *tf.Image, mask, scratch *tf.Mask, length int, threshold float32) {
	scratch.CopyFrom(mask)
	width, height := mask.Width(), mask.Height()
	if length > height {
		mask.CopyFrom(scratch)
		return
	}
	sums := make([]float32, width)
	counts := make([]int32, width)
	for y := 0; y < length-1; y++ {
		irow, mrow := input.Row(y), mask.Row(y)
		for x := 0; x < width; x++ {
			if mrow[x] == 0 {
				sums[x] += irow[x]
				counts[x]++
			}
		}
	}
	for yRight := length - 1; yRight < height; yRight++ {
		yTop := yRight - length + 1
		irow, mrow := input.Row(yRight), mask.Row(yRight)
		tirow, tmrow := input.Row(yTop), mask.Row(yTop)
		for x := 0; x < width; x++ {
			if mrow[x] == 0 {
				sums[x] += irow[x]
				counts[x]++
			}
			if counts[x] > 0 && absf(sums[x]/float32(counts[x])) > threshold {
				scratch.SetVerticalValues(x, yTop, true, length)
			}
			if tmrow[x] == 0 {
				sums[x] -= tirow[x]
				counts[x]--
			}
		}
	}
	mask.CopyFrom(scratch)
}

func absf(v float32) float32 {
	if v < 0 {
		return -v
	}
	return v
}
