// Copyright 2023 Skysift, Inc.  All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

package detect

import (
	"math"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/log"
	"github.com/skysift/rfi/tf"
)

// defaultLadderCount gives window lengths 1, 2, 4, ..., 256.
const defaultLadderCount = 9

// thresholdFalloff is the factor by which the per-sample threshold drops for
// every doubling of the window length.
const thresholdFalloff = 1.5

// ThresholdOperation is one rung of the SumThreshold ladder.
type ThresholdOperation struct {
	Length    int
	Threshold float32
}

// ThresholdConfig holds the geometric sequence of (length, threshold) pairs
// one SumThreshold pass runs through.  Flags found at one rung are carried
// into the next, so short bright bursts and long faint runs both trigger.
type ThresholdConfig struct {
	ops []ThresholdOperation
}

// NewThresholdConfig returns a ladder of count window lengths 1, 2, 4, ...
// Thresholds are unset until InitializeThresholdsFromFirstThreshold.
func NewThresholdConfig(count int) *ThresholdConfig {
	if count <= 0 {
		count = defaultLadderCount
	}
	c := &ThresholdConfig{ops: make([]ThresholdOperation, count)}
	length := 1
	for i := range c.ops {
		c.ops[i].Length = length
		length *= 2
	}
	return c
}

// Operations returns the ladder rungs.
func (c *ThresholdConfig) Operations() []ThresholdOperation { return c.ops }

// InitializeThresholdsFromFirstThreshold derives each rung's threshold from
// the single-sample threshold: T(L) = T(1) / falloff^log2(L).
func (c *ThresholdConfig) InitializeThresholdsFromFirstThreshold(first float64) {
	for i := range c.ops {
		l := float64(c.ops[i].Length)
		c.ops[i].Threshold = float32(first / math.Pow(thresholdFalloff, math.Log2(l)))
	}
}

// ExecuteOpts selects directions and the missing-sample handling of one
// ladder execution.
type ExecuteOpts struct {
	// TimeDirection and FrequencyDirection enable the horizontal and
	// vertical passes.
	TimeDirection, FrequencyDirection bool
	// TimeSensitivity and FrequencySensitivity multiply every rung's
	// threshold; above one flags less.
	TimeSensitivity, FrequencySensitivity float64
	// Missing marks samples that were never recorded; nil when all samples
	// are present.
	Missing *tf.Mask
	// MissingCache is the compacted-column cache for the stacked vertical
	// kernel; built on demand when nil.
	MissingCache *VerticalMissingCache
}

// Execute runs the full ladder on image, OR-ing new flags into mask.
// scratch must match the mask shape.
func (c *ThresholdConfig) Execute(image *tf.Image, mask, scratch *tf.Mask, opts ExecuteOpts) error {
	if opts.TimeSensitivity <= 0 || opts.FrequencySensitivity <= 0 {
		return errors.E("thresholdconfig: non-positive sensitivity")
	}
	if opts.TimeDirection {
		for _, op := range c.ops {
			threshold := float32(float64(op.Threshold) * opts.TimeSensitivity)
			var err error
			if opts.Missing == nil {
				err = HorizontalSumThreshold(image, mask, scratch, op.Length, threshold)
			} else {
				err = HorizontalSumThresholdMissing(image, mask, opts.Missing, scratch, op.Length, threshold)
			}
			if err != nil {
				return err
			}
		}
	}
	if opts.FrequencyDirection {
		cache := opts.MissingCache
		if opts.Missing != nil && cache == nil {
			cache = InitializeVerticalMissing(image, opts.Missing)
		}
		for _, op := range c.ops {
			threshold := float32(float64(op.Threshold) * opts.FrequencySensitivity)
			var err error
			if opts.Missing == nil {
				err = VerticalSumThreshold(image, mask, scratch, op.Length, threshold)
			} else {
				err = VerticalSumThresholdMissingStacked(cache, image, mask, opts.Missing, scratch, op.Length, threshold)
			}
			if err != nil {
				return err
			}
		}
	}
	return nil
}

// ImageMode estimates the mode of a Rayleigh-distributed amplitude image as
// sqrt(sum(v^2) / (2 n)).  Non-finite samples are skipped.
func ImageMode(image *tf.Image) float64 {
	var sum float64
	n := 0
	for y := 0; y < image.Height(); y++ {
		row := image.Row(y)
		for x := 0; x < image.Width(); x++ {
			v := float64(row[x])
			if math.IsNaN(v) || math.IsInf(v, 0) {
				continue
			}
			sum += v * v
			n++
		}
	}
	if n == 0 {
		return 0
	}
	mode := math.Sqrt(sum / (2.0 * float64(n)))
	if mode == 0 {
		// A fully zero image still needs a usable ladder; any positive
		// threshold keeps zero windows untriggered.
		log.Debug.Printf("thresholdconfig: zero-power image, using unit mode")
		mode = 1.0
	}
	return mode
}
