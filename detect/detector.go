// Copyright 2023 Skysift, Inc.  All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

package detect

import (
	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/traverse"
	"github.com/skysift/rfi/tf"
)

// Detector drives the iterative detection loop over one baseline: threshold
// the contaminated image, refit the background with the grown mask, subtract,
// halve the sensitivity, repeat.  Early iterations at high sensitivity pick
// only the brightest interference, which keeps it out of the background fit
// that later, more sensitive iterations rely on.
//
// A Detector reuses its scratch buffers between baselines and must not be
// shared between goroutines; the scheduler gives each worker its own.
type Detector struct {
	strategy Strategy
	config   *ThresholdConfig
	scratch  *tf.Mask
}

// NewDetector returns a Detector for the given strategy.
func NewDetector(strategy Strategy) (*Detector, error) {
	if err := strategy.Validate(); err != nil {
		return nil, err
	}
	return &Detector{
		strategy: strategy,
		config:   NewThresholdConfig(0),
	}, nil
}

// Strategy returns the detector's configuration.
func (d *Detector) Strategy() Strategy { return d.strategy }

func (d *Detector) scratchFor(width, height int) *tf.Mask {
	if d.scratch == nil || d.scratch.Width() != width || d.scratch.Height() != height {
		d.scratch = tf.NewMask(width, height)
	}
	return d.scratch
}

// Run detects interference in one baseline's data and returns the flag
// mask.  Non-finite samples are zeroed and flagged before detection.  The
// input data's attached masks are read (and extended by SanitizeNonFinite)
// but the returned mask is fresh.
func (d *Detector) Run(data *tf.Data) (*tf.Mask, error) {
	if data.PolarizationCount() == 0 {
		return nil, errors.New("detect: no polarizations in input")
	}
	width, height := data.Width(), data.Height()
	if width == 0 || height == 0 {
		return nil, errors.E("detect: empty input", width, height)
	}
	data.SanitizeNonFinite()
	inputMask := data.JoinMasks()

	// The input mask seeds the progression.  Under use_original_flags it is
	// additionally treated as structurally missing: excluded from every
	// kernel and OR-ed back each iteration.
	mask := inputMask.Copy()
	var missing *tf.Mask
	if d.strategy.UseOriginalFlags {
		missing = inputMask
	}

	amps, err := d.amplitudes(data)
	if err != nil {
		return nil, err
	}
	for _, amp := range amps {
		if err := d.iterate(amp, mask, missing); err != nil {
			return nil, err
		}
	}

	Dilate(mask, d.strategy.DilationTimeSize, d.strategy.DilationFrequencySize)

	if missing != nil {
		if err := SIROperateHorizontallyMissing(mask, missing, float32(d.strategy.SIREtaTime)); err != nil {
			return nil, err
		}
		if err := SIROperateVerticallyMissing(mask, missing, float32(d.strategy.SIREtaFreq)); err != nil {
			return nil, err
		}
	} else {
		if err := SIROperateHorizontally(mask, float32(d.strategy.SIREtaTime)); err != nil {
			return nil, err
		}
		if err := SIROperateVertically(mask, float32(d.strategy.SIREtaFreq)); err != nil {
			return nil, err
		}
	}

	CollapseUnavailable(mask,
		d.strategy.MinAvailableTimesRatio,
		d.strategy.MinAvailableFrequenciesRatio,
		d.strategy.MinAvailableTFRatio)
	return mask, nil
}

// amplitudes returns the amplitude images detection runs on: the derived
// Stokes I and Q pair on the fast path, each stored polarization otherwise.
func (d *Detector) amplitudes(data *tf.Data) ([]*tf.Image, error) {
	var sources []*tf.Data
	if d.strategy.OnStokesIQ && data.HasParallelHands() {
		for _, pol := range []tf.Polarization{tf.PolStokesI, tf.PolStokesQ} {
			sources = append(sources, data.MakeStokes(pol))
		}
	}
	if sources == nil {
		for i := 0; i < data.PolarizationCount(); i++ {
			sources = append(sources, nil)
		}
	}
	amps := make([]*tf.Image, len(sources))
	err := traverse.Each(len(sources), func(i int) error {
		if sources[i] != nil {
			amps[i] = sources[i].AmplitudeImage(0)
		} else {
			amps[i] = data.AmplitudeImage(i)
		}
		return nil
	})
	return amps, err
}

// iterate runs the threshold/fit/subtract loop for one amplitude image,
// OR-ing flags into mask.
func (d *Detector) iterate(image *tf.Image, mask, missing *tf.Mask) error {
	s := &d.strategy
	sensitivity := s.SensitivityStartOrDefault()
	contaminated := image

	for i := 0; i < s.IterationCount; i++ {
		if err := d.thresholdPass(contaminated, mask, missing, sensitivity); err != nil {
			return err
		}

		if !s.KeepTransients && s.TimeSelectionRatio > 0 {
			SelectTimeSteps(mask, s.TimeSelectionRatio)
		}
		if s.FrequencySelectionRatio > 0 {
			SelectChannels(mask, s.FrequencySelectionRatio)
		}
		if missing != nil {
			mask.Or(missing)
		}

		background, err := d.fitBackground(image, mask)
		if err != nil {
			return err
		}
		contaminated = tf.Subtract(image, background)
		sensitivity /= 2
	}

	return d.thresholdPass(contaminated, mask, missing, 1.0)
}

// thresholdPass runs the full SumThreshold ladder with thresholds derived
// from the image's current noise estimate.
func (d *Detector) thresholdPass(image *tf.Image, mask, missing *tf.Mask, sensitivity float64) error {
	mode := ImageMode(image)
	d.config.InitializeThresholdsFromFirstThreshold(6.0 * mode)
	scratch := d.scratchFor(image.Width(), image.Height())
	return d.config.Execute(image, mask, scratch, ExecuteOpts{
		TimeDirection:        true,
		FrequencyDirection:   !d.strategy.KeepTransients,
		TimeSensitivity:      sensitivity * d.strategy.SumThresholdSensitivity,
		FrequencySensitivity: sensitivity * d.strategy.SumThresholdSensitivity,
		Missing:              missing,
	})
}

// fitBackground estimates the smooth background of the original image under
// the current mask, optionally at reduced resolution.
func (d *Detector) fitBackground(image *tf.Image, mask *tf.Mask) (*tf.Image, error) {
	s := &d.strategy
	timeFactor := 3
	if s.KeepTransients {
		timeFactor = 1
	}
	freqFactor := 1
	if s.ChangeResVertically {
		freqFactor = 3
	}

	filter := HighPassFilter{
		WindowWidth:    s.HighPassWindowW,
		WindowHeight:   s.HighPassWindowH,
		HKernelSigmaSq: s.HighPassSigmaSqH,
		VKernelSigmaSq: s.VerticalSmoothingOrSigmaSqV(),
	}
	if s.KeepTransients {
		filter.WindowWidth = 1
	}

	if timeFactor == 1 && freqFactor == 1 {
		return filter.Background(image, mask)
	}
	small := image.ShrinkHorizontally(timeFactor).ShrinkVertically(freqFactor)
	smallMask := mask.ShrinkHorizontally(timeFactor).ShrinkVertically(freqFactor)
	background, err := filter.Background(small, smallMask)
	if err != nil {
		return nil, err
	}
	background = background.EnlargeHorizontally(timeFactor, image.Width())
	background = background.EnlargeVertically(freqFactor, image.Height())
	return background, nil
}
