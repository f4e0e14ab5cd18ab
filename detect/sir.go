// Copyright 2023 Skysift, Inc.  All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

package detect

import (
	"github.com/grailbio/base/errors"
	"github.com/skysift/rfi/tf"
)

// The scale-invariant rank (SIR) operator dilates a flag mask along one
// axis.  A sample y is flagged iff some interval [Y1, Y2) containing y keeps
// an unflagged fraction of at most eta, so small flag clusters grow a
// little and large clusters grow a lot.
//
// The test can be rewritten as sum_{Y1 <= i < Y2} (eta - w(i)) >= 0 with
// w(i) = 0 for flagged and 1 for unflagged samples.  With the prefix sums
// W(x) = sum_{i < x} values(i), the best interval containing x runs from the
// prefix minimum at or before x to the suffix maximum after x, giving the
// O(N) row walk below.

// sirRow dilates one row of flags in place.  values, w, minIndices and
// maxIndices are caller scratch of size >= n and n+1.
func sirRow(flags []byte, n int, eta float32, values, w []float32, minIndices, maxIndices []int) {
	if n == 0 {
		return
	}
	for i := 0; i < n; i++ {
		if flags[i] != 0 {
			values[i] = eta
		} else {
			values[i] = eta - 1.0
		}
	}

	wSize := n + 1
	w[0] = 0.0
	currentMinIndex := 0
	minIndices[0] = 0
	for i := 1; i != wSize; i++ {
		w[i] = w[i-1] + values[i-1]
		if w[i] < w[currentMinIndex] {
			currentMinIndex = i
		}
		minIndices[i] = currentMinIndex
	}

	// maxIndices[i] is the max index strictly above i, so it is recorded
	// before i itself is considered.
	currentMaxIndex := wSize - 1
	for i := n - 1; i != 0; i-- {
		maxIndices[i] = currentMaxIndex
		if w[i] > w[currentMaxIndex] {
			currentMaxIndex = i
		}
	}
	maxIndices[0] = currentMaxIndex

	for i := 0; i != n; i++ {
		if w[maxIndices[i]]-w[minIndices[i]] >= 0.0 {
			flags[i] = 1
		} else {
			flags[i] = 0
		}
	}
}

func checkSIRArgs(eta float32) error {
	if eta < 0 || eta > 1 {
		return errors.E("sir: eta out of range", eta)
	}
	return nil
}

// SIROperateHorizontally dilates mask along the time axis.
func SIROperateHorizontally(mask *tf.Mask, eta float32) error {
	if err := checkSIRArgs(eta); err != nil {
		return err
	}
	width := mask.Width()
	values := make([]float32, width)
	w := make([]float32, width+1)
	minIndices := make([]int, width+1)
	maxIndices := make([]int, width+1)
	for y := 0; y < mask.Height(); y++ {
		sirRow(mask.Row(y)[:width], width, eta, values, w, minIndices, maxIndices)
	}
	return nil
}

// SIROperateVertically dilates mask along the frequency axis.
func SIROperateVertically(mask *tf.Mask, eta float32) error {
	if err := checkSIRArgs(eta); err != nil {
		return err
	}
	height := mask.Height()
	flags := make([]byte, height)
	values := make([]float32, height)
	w := make([]float32, height+1)
	minIndices := make([]int, height+1)
	maxIndices := make([]int, height+1)
	for x := 0; x < mask.Width(); x++ {
		for y := 0; y < height; y++ {
			if mask.Value(x, y) {
				flags[y] = 1
			} else {
				flags[y] = 0
			}
		}
		sirRow(flags, height, eta, values, w, minIndices, maxIndices)
		for y := 0; y < height; y++ {
			mask.SetValue(x, y, flags[y] != 0)
		}
	}
	return nil
}

// SIROperateHorizontallyMissing dilates along the time axis over the
// subsequence of recorded samples.  Missing positions are skipped by the
// interval test and keep their flag value.
func SIROperateHorizontallyMissing(mask, missing *tf.Mask, eta float32) error {
	if err := checkSIRArgs(eta); err != nil {
		return err
	}
	sirOperateMissing(mask, missing, eta)
	return nil
}

// SIROperateVerticallyMissing is the missing-aware dilation along the
// frequency axis.
func SIROperateVerticallyMissing(mask, missing *tf.Mask, eta float32) error {
	if err := checkSIRArgs(eta); err != nil {
		return err
	}
	sirOperateMissing(mask.Swapped(), missing.Swapped(), eta)
	return nil
}

func sirOperateMissing[M tf.MaskLike](mask, missing M, eta float32) {
	width := mask.Width()
	flags := make([]byte, width)
	values := make([]float32, width)
	w := make([]float32, width+1)
	minIndices := make([]int, width+1)
	maxIndices := make([]int, width+1)
	for y := 0; y < mask.Height(); y++ {
		nAvailable := 0
		for x := 0; x < width; x++ {
			if !missing.Value(x, y) {
				if mask.Value(x, y) {
					flags[nAvailable] = 1
				} else {
					flags[nAvailable] = 0
				}
				nAvailable++
			}
		}
		if nAvailable == 0 {
			continue
		}
		sirRow(flags, nAvailable, eta, values, w, minIndices, maxIndices)
		nAvailable = 0
		for x := 0; x < width; x++ {
			if !missing.Value(x, y) {
				mask.SetValue(x, y, flags[nAvailable] != 0)
				nAvailable++
			}
		}
	}
}

// SIROperateHorizontallyPenalized runs the interval test over all positions,
// substituting (eta-1)*penalty for each missing sample so that missing
// regions make dilation strictly less likely.  penalty >= 1; missing
// positions keep their flag value.
func SIROperateHorizontallyPenalized(mask, missing *tf.Mask, eta, penalty float32) error {
	if err := checkSIRArgs(eta); err != nil {
		return err
	}
	sirOperatePenalized(mask, missing, eta, penalty)
	return nil
}

// SIROperateVerticallyPenalized is the penalized dilation along the
// frequency axis.
func SIROperateVerticallyPenalized(mask, missing *tf.Mask, eta, penalty float32) error {
	if err := checkSIRArgs(eta); err != nil {
		return err
	}
	sirOperatePenalized(mask.Swapped(), missing.Swapped(), eta, penalty)
	return nil
}

func sirOperatePenalized[M tf.MaskLike](mask, missing M, eta, penalty float32) {
	width := mask.Width()
	if width == 0 {
		return
	}
	values := make([]float32, width)
	w := make([]float32, width+1)
	minIndices := make([]int, width+1)
	maxIndices := make([]int, width+1)
	penaltyValue := (eta - 1.0) * penalty
	for y := 0; y < mask.Height(); y++ {
		for x := 0; x < width; x++ {
			switch {
			case missing.Value(x, y):
				values[x] = penaltyValue
			case mask.Value(x, y):
				values[x] = eta
			default:
				values[x] = eta - 1.0
			}
		}

		wSize := width + 1
		w[0] = 0.0
		currentMinIndex := 0
		minIndices[0] = 0
		for i := 1; i != wSize; i++ {
			w[i] = w[i-1] + values[i-1]
			if w[i] < w[currentMinIndex] {
				currentMinIndex = i
			}
			minIndices[i] = currentMinIndex
		}
		currentMaxIndex := wSize - 1
		for i := width - 1; i != 0; i-- {
			maxIndices[i] = currentMaxIndex
			if w[i] > w[currentMaxIndex] {
				currentMaxIndex = i
			}
		}
		maxIndices[0] = currentMaxIndex

		for x := 0; x < width; x++ {
			if !missing.Value(x, y) {
				mask.SetValue(x, y, w[maxIndices[x]]-w[minIndices[x]] >= 0.0)
			}
		}
	}
}
