// Copyright 2023 Skysift, Inc.  All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

package detect

import (
	"math"

	"github.com/grailbio/base/errors"
	"github.com/skysift/rfi/tf"
)

func checkMissingMask(mask, missing *tf.Mask) error {
	if missing.Width() != mask.Width() || missing.Height() != mask.Height() {
		return errors.E("sumthreshold: missing mask shape differs")
	}
	return nil
}

// Missing-aware SumThreshold.  Samples marked in the missing mask behave as
// if they were never recorded: the window slides over the subsequence of
// recorded samples, so a window of length L may span more than L raw
// positions.  Output flags are never written to missing positions.
//
// Two equivalent implementations are provided.  The consecutive form
// advances two pointers that skip missing positions and maintains a running
// sum; the stacked form compacts recorded samples into a dense auxiliary
// image, runs the plain kernel, and scatters the result back.

// HorizontalSumThresholdMissing is the consecutive (two-pointer) form along
// the time axis.
func HorizontalSumThresholdMissing(input *tf.Image, mask, missing, scratch *tf.Mask, length int, threshold float32) error {
	if err := checkSumThresholdArgs(input, mask, scratch, length, threshold); err != nil {
		return err
	}
	if err := checkMissingMask(mask, missing); err != nil {
		return err
	}
	sumThresholdMissingConsecutive(input, mask, missing, scratch, length, threshold)
	return nil
}

// VerticalSumThresholdMissing is the consecutive form along the frequency
// axis, the horizontal walk monomorphized over axis-swapped views.
func VerticalSumThresholdMissing(input *tf.Image, mask, missing, scratch *tf.Mask, length int, threshold float32) error {
	if err := checkSumThresholdArgs(input, mask, scratch, length, threshold); err != nil {
		return err
	}
	if err := checkMissingMask(mask, missing); err != nil {
		return err
	}
	sumThresholdMissingConsecutive(input.Swapped(), mask.Swapped(), missing.Swapped(), scratch.Swapped(), length, threshold)
	return nil
}

func sumThresholdMissingConsecutive[I tf.ImageLike, M tf.MaskLike](input I, mask, missing, scratch M, length int, threshold float32) {
	width, height := mask.Width(), mask.Height()
	copyMask(scratch, mask)
	if length <= width {
		for y := 0; y < height; y++ {
			var sum float32

			// xLeft starts at the first recorded position of the row.
			xLeft := 0
			for xLeft != width && missing.Value(xLeft, y) {
				xLeft++
			}

			// Fill the window until it holds length-1 recorded samples;
			// xRight then points at the position that completes it.
			xRight := xLeft
			countAdded, countTotal := 0, 0
			for countTotal+1 < length && xRight != width {
				if !missing.Value(xRight, y) {
					if !mask.Value(xRight, y) {
						sum += input.Value(xRight, y)
						countAdded++
					}
					countTotal++
				}
				xRight++
			}
			for xRight != width && missing.Value(xRight, y) {
				xRight++
			}

			for xRight != width {
				if !mask.Value(xRight, y) {
					sum += input.Value(xRight, y)
					countAdded++
				}
				if countAdded > 0 && absf(sum/float32(countAdded)) > threshold {
					for x := xLeft; x <= xRight; x++ {
						if !missing.Value(x, y) {
							scratch.SetValue(x, y, true)
						}
					}
				}
				if !mask.Value(xLeft, y) {
					sum -= input.Value(xLeft, y)
					countAdded--
				}
				for {
					xRight++
					if xRight == width || !missing.Value(xRight, y) {
						break
					}
				}
				// xLeft can reach width here when the length is one.
				for {
					xLeft++
					if xLeft == width || !missing.Value(xLeft, y) {
						break
					}
				}
			}
		}
	}
	copyMask(mask, scratch)
}

// copyMask copies src into dst elementwise; shapes must already match.
func copyMask[M tf.MaskLike](dst, src M) {
	width, height := src.Width(), src.Height()
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			dst.SetValue(x, y, src.Value(x, y))
		}
	}
}

// VerticalMissingCache holds the compacted image and scratch buffers reused
// across the window lengths of one stacked vertical sequence.  The compacted
// image only depends on (input, missing), so it is built once per baseline.
type VerticalMissingCache struct {
	positions  []int
	validImage *tf.Image
	validMask  *tf.Mask
}

// InitializeVerticalMissing compacts each column's recorded samples toward
// row zero.
func InitializeVerticalMissing(input *tf.Image, missing *tf.Mask) *VerticalMissingCache {
	width, height := input.Width(), input.Height()
	c := &VerticalMissingCache{
		positions:  make([]int, width),
		validImage: tf.NewImage(width, height),
		validMask:  tf.NewMask(width, height),
	}
	for y := 0; y < height; y++ {
		irow := input.Row(y)
		for x := 0; x < width; x++ {
			if !missing.Value(x, y) {
				c.validImage.SetValue(x, c.positions[x], irow[x])
				c.positions[x]++
			}
		}
	}
	return c
}

// VerticalSumThresholdMissingStacked is the stacked form along the frequency
// axis: compact, run the plain vertical kernel, scatter back.
func VerticalSumThresholdMissingStacked(c *VerticalMissingCache, input *tf.Image, mask, missing, scratch *tf.Mask, length int, threshold float32) error {
	if err := checkSumThresholdArgs(input, mask, scratch, length, threshold); err != nil {
		return err
	}
	if err := checkMissingMask(mask, missing); err != nil {
		return err
	}
	width, height := input.Width(), input.Height()

	// Below each column's recorded samples the compacted image holds NaN, so
	// a window reaching into that tail has a NaN mean and never triggers:
	// only windows of length recorded samples are tested.
	c.validMask.SetAll(false)
	for i := range c.positions {
		c.positions[i] = 0
	}
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			if !missing.Value(x, y) {
				c.validMask.SetValue(x, c.positions[x], mask.Value(x, y))
				c.positions[x]++
			}
		}
	}
	for x := 0; x < width; x++ {
		for y := c.positions[x]; y < height; y++ {
			c.validImage.SetValue(x, y, float32(math.NaN()))
		}
	}

	verticalSumThresholdVec(c.validImage, c.validMask, scratch, length, threshold)

	for i := range c.positions {
		c.positions[i] = 0
	}
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			if !missing.Value(x, y) {
				if c.validMask.Value(x, c.positions[x]) {
					mask.SetValue(x, y, true)
				}
				c.positions[x]++
			}
		}
	}
	return nil
}

// HorizontalSumThresholdMissingPenalty treats each missing sample as if it
// had been recorded with the given penalty value.  Unlike the skip-the-gap
// forms, a window overlapping a missing region keeps its raw extent; with a
// small penalty the missing samples are dead weight that dilutes the mean,
// so such windows trigger less readily.
func HorizontalSumThresholdMissingPenalty(input *tf.Image, mask, missing, scratch *tf.Mask, length int, threshold, penalty float32) error {
	if err := checkSumThresholdArgs(input, mask, scratch, length, threshold); err != nil {
		return err
	}
	if err := checkMissingMask(mask, missing); err != nil {
		return err
	}
	sumThresholdMissingPenalty(input, mask, missing, scratch, length, threshold, penalty)
	return nil
}

// VerticalSumThresholdMissingPenalty is the penalty form along the frequency
// axis.
func VerticalSumThresholdMissingPenalty(input *tf.Image, mask, missing, scratch *tf.Mask, length int, threshold, penalty float32) error {
	if err := checkSumThresholdArgs(input, mask, scratch, length, threshold); err != nil {
		return err
	}
	if err := checkMissingMask(mask, missing); err != nil {
		return err
	}
	sumThresholdMissingPenalty(input.Swapped(), mask.Swapped(), missing.Swapped(), scratch.Swapped(), length, threshold, penalty)
	return nil
}

func sumThresholdMissingPenalty[I tf.ImageLike, M tf.MaskLike](input I, mask, missing, scratch M, length int, threshold, penalty float32) {
	width, height := mask.Width(), mask.Height()
	copyMask(scratch, mask)
	if length <= width {
		value := func(x, y int) float32 {
			if missing.Value(x, y) {
				return penalty
			}
			return input.Value(x, y)
		}
		for y := 0; y < height; y++ {
			var sum float32
			count := 0
			xRight := 0
			for ; xRight < length-1; xRight++ {
				if !mask.Value(xRight, y) {
					sum += value(xRight, y)
					count++
				}
			}
			xLeft := 0
			for xRight < width {
				if !mask.Value(xRight, y) {
					sum += value(xRight, y)
					count++
				}
				if count > 0 && absf(sum/float32(count)) > threshold {
					for x := xLeft; x <= xRight; x++ {
						if !missing.Value(x, y) {
							scratch.SetValue(x, y, true)
						}
					}
				}
				if !mask.Value(xLeft, y) {
					sum -= value(xLeft, y)
					count--
				}
				xLeft++
				xRight++
			}
		}
	}
	copyMask(mask, scratch)
}
