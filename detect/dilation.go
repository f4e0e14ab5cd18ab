// Copyright 2023 Skysift, Inc.  All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

package detect

import "github.com/skysift/rfi/tf"

// DilateHorizontally grows every flag run by timeSize samples to each side.
// A radius of zero is a no-op.  The walk keeps the distance to the most
// recent flag inside a window of 2*timeSize+1 samples, so each row is one
// linear pass.
func DilateHorizontally(mask *tf.Mask, timeSize int) {
	if timeSize == 0 {
		return
	}
	width, height := mask.Width(), mask.Height()
	if timeSize > width {
		timeSize = width
	}
	out := tf.NewMask(width, height)
	for y := 0; y < height; y++ {
		dist := timeSize + 1
		for x := 0; x < timeSize; x++ {
			if mask.Value(x, y) {
				dist = -timeSize
			}
			dist++
		}
		for x := 0; x < width-timeSize; x++ {
			if mask.Value(x+timeSize, y) {
				dist = -timeSize
			}
			if dist <= timeSize {
				out.SetValue(x, y, true)
				dist++
			}
		}
		for x := width - timeSize; x < width; x++ {
			if dist <= timeSize {
				out.SetValue(x, y, true)
				dist++
			}
		}
	}
	mask.CopyFrom(out)
}

// DilateVertically grows every flag run by frequencySize channels up and
// down.
func DilateVertically(mask *tf.Mask, frequencySize int) {
	if frequencySize == 0 {
		return
	}
	width, height := mask.Width(), mask.Height()
	if frequencySize > height {
		frequencySize = height
	}
	out := tf.NewMask(width, height)
	for x := 0; x < width; x++ {
		dist := frequencySize + 1
		for y := 0; y < frequencySize; y++ {
			if mask.Value(x, y) {
				dist = -frequencySize
			}
			dist++
		}
		for y := 0; y < height-frequencySize; y++ {
			if mask.Value(x, y+frequencySize) {
				dist = -frequencySize
			}
			if dist <= frequencySize {
				out.SetValue(x, y, true)
				dist++
			}
		}
		for y := height - frequencySize; y < height; y++ {
			if dist <= frequencySize {
				out.SetValue(x, y, true)
				dist++
			}
		}
	}
	mask.CopyFrom(out)
}

// Dilate grows flags by the given radii in both directions.
func Dilate(mask *tf.Mask, timeSize, frequencySize int) {
	DilateHorizontally(mask, timeSize)
	DilateVertically(mask, frequencySize)
}

// FlagTime flags the whole time column x.
func FlagTime(mask *tf.Mask, x int) {
	for y := 0; y < mask.Height(); y++ {
		mask.SetValue(x, y, true)
	}
}

// FlagFrequency flags the whole channel row y.
func FlagFrequency(mask *tf.Mask, y int) {
	mask.SetHorizontalValues(0, y, true, mask.Width())
}

// LineRemover collapses heavily contaminated lines: a time column with more
// than maxFreqContamination flags is flagged whole, then a channel row with
// more than maxTimeContamination flags is flagged whole.
func LineRemover(mask *tf.Mask, maxTimeContamination, maxFreqContamination int) {
	width, height := mask.Width(), mask.Height()
	for x := 0; x < width; x++ {
		count := 0
		for y := 0; y < height; y++ {
			if mask.Value(x, y) {
				count++
			}
		}
		if count > maxFreqContamination {
			FlagTime(mask, x)
		}
	}
	for y := 0; y < height; y++ {
		count := 0
		for x := 0; x < width; x++ {
			if mask.Value(x, y) {
				count++
			}
		}
		if count > maxTimeContamination {
			FlagFrequency(mask, y)
		}
	}
}
