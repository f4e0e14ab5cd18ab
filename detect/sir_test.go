// Copyright 2023 Skysift, Inc.  All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

package detect

import (
	"strings"
	"testing"

	"github.com/grailbio/testutil/expect"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/skysift/rfi/tf"
)

func maskFromString(s string) *tf.Mask {
	m := tf.NewMask(len(s), 1)
	for i, c := range s {
		if c == 'x' {
			m.SetValue(i, 0, true)
		}
	}
	return m
}

func maskToString(m *tf.Mask) string {
	var b strings.Builder
	for y := 0; y < m.Height(); y++ {
		for x := 0; x < m.Width(); x++ {
			if m.Value(x, y) {
				b.WriteByte('x')
			} else {
				b.WriteByte(' ')
			}
		}
	}
	return b.String()
}

func sirHorizontal(t *testing.T, in string, eta float32) string {
	m := maskFromString(in)
	require.NoError(t, SIROperateHorizontally(m, eta))
	return maskToString(m)
}

func TestSIROperatorKnownSequences(t *testing.T) {
	// Successive dilations of a single flag.
	expect.EQ(t, sirHorizontal(t, "     x    ", 0.0), "     x    ")
	expect.EQ(t, sirHorizontal(t, "     x    ", 0.4), "     x    ")
	expect.EQ(t, sirHorizontal(t, "     x    ", 0.5), "    xxx   ")
	expect.EQ(t, sirHorizontal(t, "    xxx   ", 0.0), "    xxx   ")
	expect.EQ(t, sirHorizontal(t, "    xxx   ", 0.25), "   xxxxx  ")
	expect.EQ(t, sirHorizontal(t, "   xxxxx  ", 0.16), "   xxxxx  ")
	expect.EQ(t, sirHorizontal(t, "   xxxxx  ", 0.17), "  xxxxxxx ")
	expect.EQ(t, sirHorizontal(t, "   xxxxx  ", 1.0), "xxxxxxxxxx")

	// Nearby runs merge once eta admits the gap.
	expect.EQ(t, sirHorizontal(t, "xx xx     ", 0.0), "xx xx     ")
	expect.EQ(t, sirHorizontal(t, "xx xx     ", 0.19), "xx xx     ")
	expect.EQ(t, sirHorizontal(t, "xx xx     ", 0.2), "xxxxx     ")

	// Edge behavior.
	expect.EQ(t, sirHorizontal(t, "x         ", 0.5), "xx        ")
	expect.EQ(t, sirHorizontal(t, "xx        ", 0.4), "xxx       ")
	expect.EQ(t, sirHorizontal(t, "         x", 0.5), "        xx")
	expect.EQ(t, sirHorizontal(t, "        xx", 0.4), "       xxx")
	expect.EQ(t, sirHorizontal(t, " x        ", 0.4), " x        ")
	expect.EQ(t, sirHorizontal(t, "        x ", 0.4), "        x ")

	// Mixed cluster patterns.
	expect.EQ(t,
		sirHorizontal(t, "     xxxxxx xx xx x x xxx xxxxx         ", 0.2),
		"    xxxxxxxxxxxxx x xxxxxxxxxxxx        ")
	expect.EQ(t,
		sirHorizontal(t, "     xxxxxx xx xx x x xxx xxxxx         ", 0.3),
		"   xxxxxxxxxxxxxxxxxxxxxxxxxxxxxx       ")
	expect.EQ(t,
		sirHorizontal(t, "     xxxxxx xx xx x x xxx xxxxx         ", 0.4),
		"xxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxx  ")
	expect.EQ(t,
		sirHorizontal(t, "xxxxxxxxxxxxxxx       xxxxxxxxxxxxxxxxxx", 0.3),
		"xxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxx")
	expect.EQ(t,
		sirHorizontal(t, "      x   x  x xx xxx    ", 0.5),
		"     xxxxxxxxxxxxxxxxxxxx")
}

func TestSIRRunExtension(t *testing.T) {
	// A three-sample run at positions 5..7 of a 20-wide row grows by one
	// sample per side at eta 0.25: an admissible interval holds the run plus
	// one unflagged sample on either side (four samples, unflagged fraction
	// 1/4).
	m := tf.NewMask(20, 1)
	for x := 5; x <= 7; x++ {
		m.SetValue(x, 0, true)
	}
	require.NoError(t, SIROperateHorizontally(m, 0.25))
	for x := 0; x < 20; x++ {
		expect.EQ(t, m.Value(x, 0), x >= 4 && x <= 8)
	}
}

func TestSIRVerticalMatchesHorizontalOnTranspose(t *testing.T) {
	m := tf.NewMask(12, 9)
	m.SetValue(4, 3, true)
	m.SetValue(4, 4, true)
	m.SetValue(7, 1, true)

	vertical := m.Copy()
	require.NoError(t, SIROperateVertically(vertical, 0.4))

	horizontal := m.Transpose()
	require.NoError(t, SIROperateHorizontally(horizontal, 0.4))
	expect.True(t, vertical.Equal(horizontal.Transpose()))
}

// Scale invariance: stretching the input pattern by an integer factor
// stretches every flag the operator produced.  Any interval witnessing a
// flag in the base sequence has a k-fold stretch with k times its sum, so
// every copy of a flagged position stays flagged.  (Stretched edges can
// additionally gain flags of their own, which is the operator working as
// intended on the larger cluster.)
func TestSIRScaleInvariance(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		width := rapid.IntRange(1, 16).Draw(rt, "width")
		factor := rapid.IntRange(2, 4).Draw(rt, "factor")
		// Dyadic etas keep every prefix sum exact in float32, so the
		// stretch argument holds without rounding slop.
		eta := rapid.SampledFrom([]float32{0.125, 0.25, 0.375, 0.5, 0.625, 0.75, 0.875}).Draw(rt, "eta")

		base := tf.NewMask(width, 1)
		for x := 0; x < width; x++ {
			if rapid.Float64Range(0, 1).Draw(rt, "f") < 0.3 {
				base.SetValue(x, 0, true)
			}
		}
		stretched := tf.NewMask(width*factor, 1)
		for x := 0; x < width*factor; x++ {
			stretched.SetValue(x, 0, base.Value(x/factor, 0))
		}

		require.NoError(rt, SIROperateHorizontally(base, eta))
		require.NoError(rt, SIROperateHorizontally(stretched, eta))

		for x := 0; x < width*factor; x++ {
			if base.Value(x/factor, 0) && !stretched.Value(x, 0) {
				rt.Fatalf("flag lost under stretch at %d (factor %d)", x, factor)
			}
		}
	})
}

func TestSIRMissingSkipsMissingPositions(t *testing.T) {
	// With the gap marked missing, the two runs are adjacent on the
	// recorded subsequence and dilate as one run; the missing position
	// keeps its value.
	mask := maskFromString("xx xx     ")
	missing := maskFromString("  x       ")

	// eta 0.19 cannot extend the recorded run of four.
	unchanged := mask.Copy()
	require.NoError(t, SIROperateHorizontallyMissing(unchanged, missing, 0.19))
	expect.EQ(t, maskToString(unchanged), "xx xx     ")

	// eta 0.2 extends it by one recorded sample; the missing position keeps
	// its value.
	require.NoError(t, SIROperateHorizontallyMissing(mask, missing, 0.2))
	expect.EQ(t, maskToString(mask), "xx xxx    ")
}

func TestSIRMissingMatchesCompactReference(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		width := rapid.IntRange(1, 30).Draw(rt, "width")
		eta := float32(rapid.Float64Range(0.05, 0.95).Draw(rt, "eta"))
		mask := tf.NewMask(width, 1)
		missing := tf.NewMask(width, 1)
		for x := 0; x < width; x++ {
			if rapid.Float64Range(0, 1).Draw(rt, "f") < 0.3 {
				mask.SetValue(x, 0, true)
			}
			if rapid.Float64Range(0, 1).Draw(rt, "m") < 0.3 {
				missing.SetValue(x, 0, true)
			}
		}

		got := mask.Copy()
		require.NoError(rt, SIROperateHorizontallyMissing(got, missing, eta))

		// Reference: compact, dilate, scatter.
		var positions []int
		for x := 0; x < width; x++ {
			if !missing.Value(x, 0) {
				positions = append(positions, x)
			}
		}
		want := mask.Copy()
		if len(positions) > 0 {
			compact := tf.NewMask(len(positions), 1)
			for i, x := range positions {
				compact.SetValue(i, 0, mask.Value(x, 0))
			}
			require.NoError(rt, SIROperateHorizontally(compact, eta))
			for i, x := range positions {
				want.SetValue(x, 0, compact.Value(i, 0))
			}
		}
		if !got.Equal(want) {
			rt.Fatalf("missing-aware SIR differs from compacted reference")
		}
	})
}

func TestSIRPenalizedKeepsMissingUnchanged(t *testing.T) {
	mask := maskFromString("    xxx   ")
	missing := maskFromString("   x   x  ")
	before := mask.Copy()
	require.NoError(t, SIROperateHorizontallyPenalized(mask, missing, 0.25, 1.0))
	for x := 0; x < 10; x++ {
		if missing.Value(x, 0) {
			expect.EQ(t, mask.Value(x, 0), before.Value(x, 0))
		}
	}
}

func TestSIREtaValidation(t *testing.T) {
	m := tf.NewMask(4, 1)
	expect.True(t, SIROperateHorizontally(m, -0.1) != nil)
	expect.True(t, SIROperateVertically(m, 1.1) != nil)
}
