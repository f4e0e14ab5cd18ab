// Copyright 2023 Skysift, Inc.  All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

//go:build amd64 && !appengine
// +build amd64,!appengine

package detect

import (
	"golang.org/x/sys/cpu"

	"github.com/skysift/rfi/tf"
)

// Stripe kernels: the window recurrence of the reference implementation run
// over lanesPerStripe independent lanes at a time, with flat accumulator
// arrays and no per-lane branching on the hot comparisons.  Each lane
// performs the exact add/test/subtract sequence of the scalar reference, so
// comparison outcomes are identical.

// lanesPerStripe is 8 when 8-wide float vectors are available, 4 otherwise.
var lanesPerStripe = 4

func init() {
	if cpu.X86.HasAVX2 {
		lanesPerStripe = 8
	}
	horizontalSumThresholdVec = horizontalSumThresholdStripe
	verticalSumThresholdVec = verticalSumThresholdStripe
}

// verticalSumThresholdStripe advances one window per column over the rows,
// lanesPerStripe columns at a time.  Row loads are contiguous, so each
// iteration is a straight vector load + masked accumulate.
func verticalSumThresholdStripe(input *tf.Image, mask, scratch *tf.Mask, length int, threshold float32) {
	scratch.CopyFrom(mask)
	width, height := mask.Width(), mask.Height()
	if length > height {
		mask.CopyFrom(scratch)
		return
	}
	lanes := lanesPerStripe
	sums := make([]float32, lanes)
	counts := make([]int32, lanes)
	for x0 := 0; x0 < width; x0 += lanes {
		n := lanes
		if x0+n > width {
			n = width - x0
		}
		for i := 0; i < lanes; i++ {
			sums[i] = 0
			counts[i] = 0
		}
		for y := 0; y < length-1; y++ {
			irow, mrow := input.Row(y), mask.Row(y)
			for i := 0; i < n; i++ {
				if mrow[x0+i] == 0 {
					sums[i] += irow[x0+i]
					counts[i]++
				}
			}
		}
		for yRight := length - 1; yRight < height; yRight++ {
			yTop := yRight - length + 1
			irow, mrow := input.Row(yRight), mask.Row(yRight)
			tirow, tmrow := input.Row(yTop), mask.Row(yTop)
			for i := 0; i < n; i++ {
				if mrow[x0+i] == 0 {
					sums[i] += irow[x0+i]
					counts[i]++
				}
				if counts[i] > 0 && absf(sums[i]/float32(counts[i])) > threshold {
					scratch.SetVerticalValues(x0+i, yTop, true, length)
				}
				if tmrow[x0+i] == 0 {
					sums[i] -= tirow[x0+i]
					counts[i]--
				}
			}
		}
	}
	mask.CopyFrom(scratch)
}

// horizontalSumThresholdStripe advances one window per row over the time
// axis, lanesPerStripe rows at a time.
func horizontalSumThresholdStripe(input *tf.Image, mask, scratch *tf.Mask, length int, threshold float32) {
	scratch.CopyFrom(mask)
	width, height := mask.Width(), mask.Height()
	if length > width {
		mask.CopyFrom(scratch)
		return
	}
	lanes := lanesPerStripe
	sums := make([]float32, lanes)
	counts := make([]int32, lanes)
	irows := make([][]float32, lanes)
	mrows := make([][]byte, lanes)
	for y0 := 0; y0 < height; y0 += lanes {
		n := lanes
		if y0+n > height {
			n = height - y0
		}
		for i := 0; i < n; i++ {
			sums[i] = 0
			counts[i] = 0
			irows[i] = input.Row(y0 + i)
			mrows[i] = mask.Row(y0 + i)
		}
		for x := 0; x < length-1; x++ {
			for i := 0; i < n; i++ {
				if mrows[i][x] == 0 {
					sums[i] += irows[i][x]
					counts[i]++
				}
			}
		}
		for xRight := length - 1; xRight < width; xRight++ {
			xLeft := xRight - length + 1
			for i := 0; i < n; i++ {
				if mrows[i][xRight] == 0 {
					sums[i] += irows[i][xRight]
					counts[i]++
				}
				if counts[i] > 0 && absf(sums[i]/float32(counts[i])) > threshold {
					scratch.SetHorizontalValues(xLeft, y0+i, true, length)
				}
				if mrows[i][xLeft] == 0 {
					sums[i] -= irows[i][xLeft]
					counts[i]--
				}
			}
		}
	}
	mask.CopyFrom(scratch)
}
