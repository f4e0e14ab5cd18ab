// Copyright 2023 Skysift, Inc.  All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

package detect

import (
	"math/rand"
	"testing"

	"github.com/grailbio/testutil/expect"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/skysift/rfi/tf"
)

func TestHorizontalSumThresholdBrightRun(t *testing.T) {
	// A four-sample run of 1.0 in row 3; two-sample windows fully inside the
	// run have mean 1.0 > 0.8, windows straddling the edge have mean 0.5.
	image := tf.NewImage(10, 10)
	for x := 3; x <= 6; x++ {
		image.SetValue(x, 3, 1.0)
	}
	mask := tf.NewMask(10, 10)
	scratch := tf.NewMask(10, 10)
	require.NoError(t, HorizontalSumThreshold(image, mask, scratch, 2, 0.8))

	for y := 0; y < 10; y++ {
		for x := 0; x < 10; x++ {
			expect.EQ(t, mask.Value(x, y), y == 3 && x >= 3 && x <= 6)
		}
	}
}

func TestVerticalSumThresholdBrightRows(t *testing.T) {
	// Mirror of the original simple vertical case: rows 3 and 4 bright,
	// window length 2, threshold 0.8.
	image := tf.NewImage(8, 8)
	for x := 0; x < 8; x++ {
		image.SetValue(x, 3, 1.0)
		image.SetValue(x, 4, 1.0)
	}
	mask := tf.NewMask(8, 8)
	scratch := tf.NewMask(8, 8)
	require.NoError(t, VerticalSumThreshold(image, mask, scratch, 2, 0.8))

	for x := 0; x < 8; x++ {
		expect.True(t, mask.Value(x, 3))
		expect.True(t, mask.Value(x, 4))
		expect.False(t, mask.Value(x, 0))
		expect.False(t, mask.Value(x, 2))
		expect.False(t, mask.Value(x, 5))
	}
}

func TestSumThresholdExcludesFlagged(t *testing.T) {
	// A pre-flagged bright sample must not drag its neighbours over the
	// threshold.
	image := tf.NewImage(8, 1)
	image.SetValue(4, 0, 100)
	mask := tf.NewMask(8, 1)
	mask.SetValue(4, 0, true)
	scratch := tf.NewMask(8, 1)
	require.NoError(t, HorizontalSumThreshold(image, mask, scratch, 2, 0.8))
	for x := 0; x < 8; x++ {
		expect.EQ(t, mask.Value(x, 0), x == 4)
	}
}

func TestSumThresholdAllFlaggedWindowNoTrigger(t *testing.T) {
	image := tf.NewFilledImage(4, 1, 100)
	mask := tf.NewSetMask(4, 1, true)
	scratch := tf.NewMask(4, 1)
	before := mask.Copy()
	require.NoError(t, HorizontalSumThreshold(image, mask, scratch, 2, 0.1))
	expect.True(t, mask.Equal(before))
}

func TestSumThresholdTieDoesNotFlag(t *testing.T) {
	image := tf.NewFilledImage(6, 1, 0.8)
	mask := tf.NewMask(6, 1)
	scratch := tf.NewMask(6, 1)
	require.NoError(t, HorizontalSumThreshold(image, mask, scratch, 2, 0.8))
	expect.EQ(t, mask.Count(), 0)
}

func TestSumThresholdArgValidation(t *testing.T) {
	image := tf.NewImage(4, 4)
	mask := tf.NewMask(4, 4)
	scratch := tf.NewMask(4, 4)
	assert.Error(t, HorizontalSumThreshold(image, mask, scratch, 0, 1))
	assert.Error(t, HorizontalSumThreshold(image, mask, scratch, 2, float32(nan())))
	assert.Error(t, HorizontalSumThreshold(image, tf.NewMask(3, 4), scratch, 2, 1))
	assert.Error(t, VerticalSumThreshold(image, mask, tf.NewMask(4, 3), 2, 1))
}

func TestSumThresholdMaskGrowsMonotonically(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	image := tf.NewImage(64, 48)
	for y := 0; y < 48; y++ {
		for x := 0; x < 64; x++ {
			image.SetValue(x, y, float32(rng.NormFloat64()))
		}
	}
	mask := tf.NewMask(64, 48)
	scratch := tf.NewMask(64, 48)
	prev := mask.Copy()
	for _, length := range []int{1, 2, 4, 8, 16} {
		require.NoError(t, HorizontalSumThreshold(image, mask, scratch, length, 1.2))
		for y := 0; y < 48; y++ {
			for x := 0; x < 64; x++ {
				if prev.Value(x, y) {
					expect.True(t, mask.Value(x, y))
				}
			}
		}
		prev = mask.Copy()
	}
}

// The stripe kernels must agree with the scalar reference on every
// comparison outcome.
func TestSumThresholdStripeMatchesReference(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	for _, dims := range [][2]int{{1, 1}, {2, 2}, {3, 3}, {4, 4}, {37, 29}, {200, 50}} {
		width, height := dims[0], dims[1]
		image := tf.NewImage(width, height)
		preMask := tf.NewMask(width, height)
		for y := 0; y < height; y++ {
			for x := 0; x < width; x++ {
				image.SetValue(x, y, float32(rng.NormFloat64()))
				if rng.Intn(20) == 0 {
					preMask.SetValue(x, y, true)
				}
			}
		}
		for _, length := range []int{1, 2, 4, 8, 32} {
			for _, vertical := range []bool{false, true} {
				ref := preMask.Copy()
				vec := preMask.Copy()
				scratch := tf.NewMask(width, height)
				threshold := float32(0.7)
				if vertical {
					verticalSumThresholdRef(image, ref, scratch, length, threshold)
					verticalSumThresholdVec(image, vec, scratch, length, threshold)
				} else {
					horizontalSumThresholdRef(image, ref, scratch, length, threshold)
					horizontalSumThresholdVec(image, vec, scratch, length, threshold)
				}
				if !ref.Equal(vec) {
					t.Fatalf("stripe/reference mismatch at %dx%d length %d vertical %v",
						width, height, length, vertical)
				}
			}
		}
	}
}

func TestSumThresholdMissingSkipsMissing(t *testing.T) {
	// Two bright columns separated by a missing one: the window spans the
	// gap as if the missing column were never recorded.
	image := tf.NewImage(8, 4)
	missing := tf.NewMask(8, 4)
	for y := 0; y < 4; y++ {
		image.SetValue(3, y, 1.0)
		image.SetValue(5, y, 1.0)
		missing.SetValue(4, y, true)
	}
	mask := tf.NewMask(8, 4)
	scratch := tf.NewMask(8, 4)
	require.NoError(t, HorizontalSumThresholdMissing(image, mask, missing, scratch, 2, 0.8))
	for y := 0; y < 4; y++ {
		expect.True(t, mask.Value(3, y))
		expect.True(t, mask.Value(5, y))
		// The missing position itself is never marked.
		expect.False(t, mask.Value(4, y))
		expect.False(t, mask.Value(2, y))
		expect.False(t, mask.Value(6, y))
	}
}

func TestSumThresholdMissingNoneMatchesPlain(t *testing.T) {
	image := tf.NewImage(8, 8)
	for x := 3; x <= 4; x++ {
		for y := 0; y < 8; y++ {
			image.SetValue(x, y, 1.0)
		}
	}
	missing := tf.NewMask(8, 8)
	mask := tf.NewMask(8, 8)
	scratch := tf.NewMask(8, 8)
	require.NoError(t, HorizontalSumThresholdMissing(image, mask, missing, scratch, 2, 0.8))
	for y := 0; y < 8; y++ {
		expect.True(t, mask.Value(3, y))
		expect.True(t, mask.Value(4, y))
		expect.False(t, mask.Value(0, y))
		expect.False(t, mask.Value(2, y))
		expect.False(t, mask.Value(5, y))
	}
}

// Missing symmetry: running the missing-aware kernel equals compacting the
// recorded samples, running the plain kernel, and scattering back.
func TestSumThresholdMissingSymmetry(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		width := rapid.IntRange(1, 24).Draw(rt, "width")
		height := rapid.IntRange(1, 8).Draw(rt, "height")
		length := rapid.SampledFrom([]int{1, 2, 3, 4}).Draw(rt, "length")

		image := tf.NewImage(width, height)
		missing := tf.NewMask(width, height)
		for y := 0; y < height; y++ {
			for x := 0; x < width; x++ {
				image.SetValue(x, y, float32(rapid.Float64Range(-3, 3).Draw(rt, "v")))
				if rapid.Float64Range(0, 1).Draw(rt, "miss") < 0.3 {
					missing.SetValue(x, y, true)
				}
			}
		}

		got := tf.NewMask(width, height)
		scratch := tf.NewMask(width, height)
		require.NoError(t, HorizontalSumThresholdMissing(image, got, missing, scratch, length, 0.5))

		// Reference: compact each row, run the plain kernel on a 1-high
		// image, scatter back.
		want := tf.NewMask(width, height)
		for y := 0; y < height; y++ {
			var values []float32
			var positions []int
			for x := 0; x < width; x++ {
				if !missing.Value(x, y) {
					values = append(values, image.Value(x, y))
					positions = append(positions, x)
				}
			}
			if len(values) == 0 {
				continue
			}
			compact := tf.ImageFromValues(len(values), 1, values)
			compactMask := tf.NewMask(len(values), 1)
			compactScratch := tf.NewMask(len(values), 1)
			require.NoError(t, HorizontalSumThreshold(compact, compactMask, compactScratch, length, 0.5))
			for i, x := range positions {
				if compactMask.Value(i, 0) {
					want.SetValue(x, y, true)
				}
			}
		}
		if !got.Equal(want) {
			rt.Fatalf("missing-aware mask differs from compacted reference")
		}
	})
}

// The stacked vertical variant agrees with the consecutive one.
func TestVerticalSumThresholdStackedMatchesConsecutive(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	width, height := 23, 31
	image := tf.NewImage(width, height)
	missing := tf.NewMask(width, height)
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			image.SetValue(x, y, float32(rng.NormFloat64()))
			if rng.Intn(5) == 0 {
				missing.SetValue(x, y, true)
			}
		}
	}
	for _, length := range []int{1, 2, 4, 8} {
		consecutive := tf.NewMask(width, height)
		stacked := tf.NewMask(width, height)
		scratch := tf.NewMask(width, height)
		require.NoError(t, VerticalSumThresholdMissing(image, consecutive, missing, scratch, length, 0.9))
		cache := InitializeVerticalMissing(image, missing)
		require.NoError(t, VerticalSumThresholdMissingStacked(cache, image, stacked, missing, scratch, length, 0.9))
		if !consecutive.Equal(stacked) {
			t.Fatalf("stacked and consecutive masks differ at length %d", length)
		}
	}
}

func TestSumThresholdMissingPenaltyDiscouragesFlagging(t *testing.T) {
	// A zero penalty keeps missing samples in the window as dead weight and
	// windows keep their raw extent, so no window holding the bright sample
	// at 2 reaches past the gap to 4; window [2,3] has mean 0.5 and flags 2
	// only.  The skip-the-gap variant pairs 2 with 4 and flags position 4;
	// the penalty form must not.
	image := tf.NewImage(6, 1)
	image.SetValue(2, 0, 1.0)
	missing := tf.NewMask(6, 1)
	missing.SetValue(3, 0, true)
	mask := tf.NewMask(6, 1)
	scratch := tf.NewMask(6, 1)
	require.NoError(t, HorizontalSumThresholdMissingPenalty(image, mask, missing, scratch, 2, 0.4, 0))
	expect.True(t, mask.Value(1, 0))
	expect.True(t, mask.Value(2, 0))
	expect.False(t, mask.Value(3, 0))
	expect.False(t, mask.Value(4, 0))

	skipGap := tf.NewMask(6, 1)
	require.NoError(t, HorizontalSumThresholdMissing(image, skipGap, missing, scratch, 2, 0.4))
	expect.True(t, skipGap.Value(4, 0))
}

func nan() float64 {
	var zero float64
	return zero / zero
}
