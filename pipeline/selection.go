// Copyright 2023 Skysift, Inc.  All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

package pipeline

import "github.com/grailbio/base/errors"

// BaselineSelection is the class of baselines a run processes.
type BaselineSelection int

const (
	// AllBaselines accepts every baseline.
	AllBaselines BaselineSelection = iota
	// CrossCorrelations accepts baselines between two different antennas.
	CrossCorrelations
	// AutoCorrelations accepts baselines of an antenna with itself.
	AutoCorrelations
	// AutoOfCurrentAntennae accepts auto-correlations of the filter's
	// CurrentAntennae only.
	AutoOfCurrentAntennae
)

// ParseBaselineSelection maps the strategy file's baselines option.
func ParseBaselineSelection(s string) (BaselineSelection, error) {
	switch s {
	case "", "cross":
		return CrossCorrelations, nil
	case "all":
		return AllBaselines, nil
	case "auto":
		return AutoCorrelations, nil
	}
	return AllBaselines, errors.E("unknown baseline selection", s)
}

// Filter decides which baselines a run processes.
type Filter struct {
	Selection BaselineSelection
	// IncludeAntennae, when non-empty, restricts to baselines touching one
	// of these antennas.  SkipAntennae rejects baselines touching one.
	IncludeAntennae map[int]bool
	SkipAntennae    map[int]bool
	// Bands and Fields, when non-empty, restrict to these bands/fields.
	Bands  map[int]bool
	Fields map[int]bool
	// CurrentAntennae is consulted by AutoOfCurrentAntennae.
	CurrentAntennae [2]int
}

// Accept reports whether the baseline passes the filter.
func (f *Filter) Accept(info BaselineInfo) bool {
	if len(f.Bands) > 0 && !f.Bands[info.Band] {
		return false
	}
	if len(f.Fields) > 0 && !f.Fields[info.Field] {
		return false
	}
	if f.SkipAntennae[info.Antenna1] || f.SkipAntennae[info.Antenna2] {
		return false
	}
	if len(f.IncludeAntennae) > 0 &&
		!f.IncludeAntennae[info.Antenna1] && !f.IncludeAntennae[info.Antenna2] {
		return false
	}
	switch f.Selection {
	case AllBaselines:
		return true
	case CrossCorrelations:
		return info.Antenna1 != info.Antenna2
	case AutoCorrelations:
		return info.Antenna1 == info.Antenna2
	case AutoOfCurrentAntennae:
		return info.Antenna1 == info.Antenna2 &&
			(info.Antenna1 == f.CurrentAntennae[0] || info.Antenna1 == f.CurrentAntennae[1])
	}
	return false
}
