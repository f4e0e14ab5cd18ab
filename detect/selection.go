// Copyright 2023 Skysift, Inc.  All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

package detect

import "github.com/skysift/rfi/tf"

// Whole-line selection: once a large enough fraction of a time step or a
// channel is flagged, the remaining samples are rarely trustworthy, so the
// whole line is collapsed.

// SelectTimeSteps flags every time column whose flagged fraction exceeds
// maxFlaggedRatio.
func SelectTimeSteps(mask *tf.Mask, maxFlaggedRatio float64) {
	width, height := mask.Width(), mask.Height()
	if height == 0 {
		return
	}
	for x := 0; x < width; x++ {
		count := 0
		for y := 0; y < height; y++ {
			if mask.Value(x, y) {
				count++
			}
		}
		if float64(count) > float64(height)*maxFlaggedRatio {
			FlagTime(mask, x)
		}
	}
}

// SelectChannels flags every channel row whose flagged fraction exceeds
// maxFlaggedRatio.
func SelectChannels(mask *tf.Mask, maxFlaggedRatio float64) {
	width, height := mask.Width(), mask.Height()
	if width == 0 {
		return
	}
	for y := 0; y < height; y++ {
		count := 0
		for x := 0; x < width; x++ {
			if mask.Value(x, y) {
				count++
			}
		}
		if float64(count) > float64(width)*maxFlaggedRatio {
			FlagFrequency(mask, y)
		}
	}
}

// CollapseUnavailable applies the availability floor: a channel row keeping
// less than minTimesRatio of its time steps is flagged whole, a time column
// keeping less than minFrequenciesRatio of its channels is flagged whole,
// and when less than minTFRatio of all samples remain the whole mask is
// flagged.  A ratio of zero disables that collapse.
func CollapseUnavailable(mask *tf.Mask, minTimesRatio, minFrequenciesRatio, minTFRatio float64) {
	width, height := mask.Width(), mask.Height()
	if minTimesRatio > 0 {
		for y := 0; y < height; y++ {
			count := 0
			for x := 0; x < width; x++ {
				if mask.Value(x, y) {
					count++
				}
			}
			if float64(count) > float64(width)*(1.0-minTimesRatio) {
				FlagFrequency(mask, y)
			}
		}
	}
	if minFrequenciesRatio > 0 {
		for x := 0; x < width; x++ {
			count := 0
			for y := 0; y < height; y++ {
				if mask.Value(x, y) {
					count++
				}
			}
			if float64(count) > float64(height)*(1.0-minFrequenciesRatio) {
				FlagTime(mask, x)
			}
		}
	}
	if minTFRatio > 0 {
		if float64(mask.Count()) > float64(width*height)*(1.0-minTFRatio) {
			for y := 0; y < height; y++ {
				FlagFrequency(mask, y)
			}
		}
	}
}
