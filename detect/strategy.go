// Copyright 2023 Skysift, Inc.  All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

package detect

import (
	"bytes"
	"io"
	"math"
	"os"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Strategy is the configuration of one detection run.  The zero value is
// not usable; start from DefaultStrategy.
type Strategy struct {
	// Baselines selects which baselines the scheduler processes: "all",
	// "cross" or "auto".
	Baselines string `yaml:"baselines"`

	// IterationCount is the number of threshold/fit/subtract rounds before
	// the final full-sensitivity pass.
	IterationCount int `yaml:"iteration_count"`

	// SensitivityStart overrides the starting sensitivity; zero derives the
	// default 2 * 2^(IterationCount/2).
	SensitivityStart float64 `yaml:"sensitivity_start"`

	// KeepTransients disables frequency-direction flagging and time-step
	// selection so single-timestep astronomical transients survive.
	KeepTransients bool `yaml:"keep_transients"`

	// ChangeResVertically downsamples the frequency axis before the
	// background fit.
	ChangeResVertically bool `yaml:"change_res_vertically"`

	// UseOriginalFlags treats the input mask as missing data: it is OR-ed
	// back in every iteration and excluded from the kernels.
	UseOriginalFlags bool `yaml:"use_original_flags"`

	// SumThresholdSensitivity multiplies every SumThreshold threshold.
	SumThresholdSensitivity float64 `yaml:"sum_threshold_sensitivity"`

	// VerticalSmoothing is the background fit's sigma^2 along the frequency
	// axis.
	VerticalSmoothing float64 `yaml:"vertical_smoothing"`

	// OnStokesIQ runs detection on derived Stokes I and Q only instead of
	// every stored polarization.
	OnStokesIQ bool `yaml:"on_stokes_iq"`

	HighPassSigmaSqH float64 `yaml:"high_pass_sigma_sq_h"`
	HighPassSigmaSqV float64 `yaml:"high_pass_sigma_sq_v"`
	HighPassWindowW  int     `yaml:"high_pass_window_w"`
	HighPassWindowH  int     `yaml:"high_pass_window_h"`

	// DilationTimeSize and DilationFrequencySize are the radii of the final
	// morphological dilation; zero disables it.
	DilationTimeSize      int `yaml:"dilation_time_size"`
	DilationFrequencySize int `yaml:"dilation_frequency_size"`

	// SIREtaTime and SIREtaFreq drive the final scale-invariant dilation.
	SIREtaTime float64 `yaml:"sir_eta_time"`
	SIREtaFreq float64 `yaml:"sir_eta_freq"`

	// TimeSelectionRatio and FrequencySelectionRatio bound the per-iteration
	// whole-line selection: a time step (or channel) with a higher flagged
	// fraction is flagged whole.
	TimeSelectionRatio      float64 `yaml:"time_selection_ratio"`
	FrequencySelectionRatio float64 `yaml:"frequency_selection_ratio"`

	// MinGoodTimeRatio and MinGoodFrequencyRatio are loaded from the
	// strategy file and defaulted; the detector does not read them.
	MinGoodTimeRatio      float64 `yaml:"min_good_time_ratio"`
	MinGoodFrequencyRatio float64 `yaml:"min_good_frequency_ratio"`

	// MinAvailableTimesRatio, MinAvailableFrequenciesRatio and
	// MinAvailableTFRatio collapse rows, columns or the whole mask once too
	// little data remains; zero disables each collapse.
	MinAvailableTimesRatio       float64 `yaml:"min_available_times_ratio"`
	MinAvailableFrequenciesRatio float64 `yaml:"min_available_frequencies_ratio"`
	MinAvailableTFRatio          float64 `yaml:"min_available_tf_ratio"`
}

// DefaultStrategy returns the stock generic strategy.
func DefaultStrategy() Strategy {
	return Strategy{
		Baselines:               "cross",
		IterationCount:          2,
		KeepTransients:          false,
		ChangeResVertically:     true,
		SumThresholdSensitivity: 1.0,
		VerticalSmoothing:       5.0,
		HighPassSigmaSqH:        2.5,
		HighPassSigmaSqV:        5.0,
		HighPassWindowW:         21,
		HighPassWindowH:         31,
		SIREtaTime:              0.2,
		SIREtaFreq:              0.2,
		TimeSelectionRatio:      0.8,
		FrequencySelectionRatio: 0.8,
		MinGoodTimeRatio:        0.2,
		MinGoodFrequencyRatio:   0.2,
	}
}

// RobustStrategy returns the stock strategy with twice the iterations, for
// observations with strong or varied interference.
func RobustStrategy() Strategy {
	s := DefaultStrategy()
	s.IterationCount = 4
	return s
}

// SensitivityStartOrDefault returns the configured starting sensitivity, or
// 2 * 2^(IterationCount/2) when unset.
func (s *Strategy) SensitivityStartOrDefault() float64 {
	if s.SensitivityStart > 0 {
		return s.SensitivityStart
	}
	return 2.0 * math.Pow(2.0, float64(s.IterationCount)/2.0)
}

// VerticalSmoothingOrSigmaSqV returns the background fit's sigma^2 along the
// frequency axis: vertical_smoothing when set, high_pass_sigma_sq_v
// otherwise.
func (s *Strategy) VerticalSmoothingOrSigmaSqV() float64 {
	if s.VerticalSmoothing > 0 {
		return s.VerticalSmoothing
	}
	return s.HighPassSigmaSqV
}

// Validate reports the first configuration error.
func (s *Strategy) Validate() error {
	switch s.Baselines {
	case "", "all", "cross", "auto":
	default:
		return errors.Errorf("strategy: unknown baselines selection %q", s.Baselines)
	}
	if s.IterationCount <= 0 {
		return errors.Errorf("strategy: iteration_count must be positive, got %d", s.IterationCount)
	}
	if s.SensitivityStart < 0 {
		return errors.Errorf("strategy: negative sensitivity_start %g", s.SensitivityStart)
	}
	if s.SumThresholdSensitivity <= 0 {
		return errors.Errorf("strategy: sum_threshold_sensitivity must be positive, got %g", s.SumThresholdSensitivity)
	}
	if s.HighPassWindowW <= 0 || s.HighPassWindowH <= 0 {
		return errors.Errorf("strategy: non-positive high-pass window %dx%d", s.HighPassWindowW, s.HighPassWindowH)
	}
	if s.SIREtaTime < 0 || s.SIREtaTime > 1 || s.SIREtaFreq < 0 || s.SIREtaFreq > 1 {
		return errors.Errorf("strategy: sir eta out of [0,1]: %g, %g", s.SIREtaTime, s.SIREtaFreq)
	}
	if s.DilationTimeSize < 0 || s.DilationFrequencySize < 0 {
		return errors.Errorf("strategy: negative dilation size")
	}
	return nil
}

// LoadStrategy reads a YAML strategy file.  Options not present keep their
// DefaultStrategy values; unknown options are an error.
func LoadStrategy(path string) (Strategy, error) {
	s := DefaultStrategy()
	data, err := os.ReadFile(path)
	if err != nil {
		return s, errors.Wrapf(err, "strategy %s", path)
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&s); err != nil && err != io.EOF {
		return s, errors.Wrapf(err, "strategy %s", path)
	}
	if err := s.Validate(); err != nil {
		return s, errors.Wrapf(err, "strategy %s", path)
	}
	return s, nil
}
