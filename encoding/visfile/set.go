// Copyright 2023 Skysift, Inc.  All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

package visfile

import (
	"os"

	"github.com/grailbio/base/errors"

	"github.com/skysift/rfi/pipeline"
	"github.com/skysift/rfi/tf"
)

// ReadMode is the caller's hint for how the archive should be accessed.
// Archives are small enough that every mode currently reads into memory;
// the hint is kept for interface parity with heavier set implementations.
type ReadMode int

// Read modes.
const (
	AutoReadMode ReadMode = iota
	DirectReadMode
	IndirectReadMode
	MemoryReadMode
)

// Opts configures Open.
type Opts struct {
	ReadMode ReadMode
	// ReadUVW asks for UVW coordinates in the metadata.
	ReadUVW bool
	// DataColumn names the visibility column; archives store a single
	// column, so anything but the default is rejected.
	DataColumn string
	// CombineSPWs treats all spectral windows as one band.
	CombineSPWs bool
}

// Set is an in-memory visibility archive behind the ImageSetReader surface.
type Set struct {
	path      string
	opts      Opts
	baselines []*Baseline
	requests  []int
}

// Open loads the archive at path.
func Open(path string, opts Opts) (*Set, error) {
	if opts.DataColumn != "" && opts.DataColumn != "DATA" {
		return nil, errors.E("visfile: archive has no column", opts.DataColumn)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	baselines, err := ReadAll(f)
	if err != nil {
		return nil, err
	}
	return &Set{path: path, opts: opts, baselines: baselines}, nil
}

type setIndex struct {
	pos, n int
}

// Valid implements pipeline.Index.
func (i *setIndex) Valid() bool { return i.pos < i.n }

// Next implements pipeline.Index.
func (i *setIndex) Next() { i.pos++ }

// Clone implements pipeline.Index.
func (i *setIndex) Clone() pipeline.Index {
	c := *i
	return &c
}

// StartIndex implements pipeline.ImageSetReader.
func (s *Set) StartIndex() pipeline.Index {
	return &setIndex{n: len(s.baselines)}
}

func (s *Set) at(index pipeline.Index) *Baseline {
	i := index.(*setIndex)
	return s.baselines[i.pos]
}

// BaselineInfo implements pipeline.ImageSetReader.
func (s *Set) BaselineInfo(index pipeline.Index) pipeline.BaselineInfo {
	b := s.at(index)
	band := b.Band
	if s.opts.CombineSPWs {
		band = 0
	}
	return pipeline.BaselineInfo{
		Antenna1: b.Antenna1,
		Antenna2: b.Antenna2,
		Band:     band,
		Field:    b.Field,
	}
}

// Identity returns the archive identity of the baseline at index.
func (s *Set) Identity(index pipeline.Index) (antenna1, antenna2, band, sequence int) {
	b := s.at(index)
	return b.Antenna1, b.Antenna2, b.Band, b.Sequence
}

// Dimensions implements pipeline.ImageSetReader.
func (s *Set) Dimensions() (polarizations, timeSteps, channels int) {
	for _, b := range s.baselines {
		if len(b.Pols) > polarizations {
			polarizations = len(b.Pols)
		}
		if len(b.Times) > timeSteps {
			timeSteps = len(b.Times)
		}
		if len(b.Frequencies) > channels {
			channels = len(b.Frequencies)
		}
	}
	return polarizations, timeSteps, channels
}

// AddReadRequest implements pipeline.ImageSetReader.
func (s *Set) AddReadRequest(index pipeline.Index) {
	s.requests = append(s.requests, index.(*setIndex).pos)
}

// PerformReadRequests implements pipeline.ImageSetReader.  The archive is
// already in memory, so requests complete immediately.
func (s *Set) PerformReadRequests() error { return nil }

// GetNextRequested implements pipeline.ImageSetReader.  The returned data
// is a private copy: the detector mutates it.
func (s *Set) GetNextRequested() (*pipeline.BaselineData, error) {
	if len(s.requests) == 0 {
		return nil, errors.New("visfile: no outstanding read requests")
	}
	pos := s.requests[0]
	s.requests = s.requests[1:]
	b := s.baselines[pos]

	data := &tf.Data{}
	for i, pol := range b.Pols {
		p := tf.PolImage{Pol: pol, Real: b.Real[i].Copy()}
		if b.Imag[i] != nil {
			p.Imag = b.Imag[i].Copy()
		}
		if b.Masks[i] != nil {
			p.Mask = b.Masks[i].Copy()
		}
		data.Append(p)
	}
	meta := &tf.Metadata{
		Antenna1:           tf.Antenna{ID: b.Antenna1, Name: b.Antenna1Name},
		Antenna2:           tf.Antenna{ID: b.Antenna2, Name: b.Antenna2Name},
		Band:               b.Band,
		Field:              b.Field,
		Sequence:           b.Sequence,
		ObservationTimes:   b.Times,
		ChannelFrequencies: b.Frequencies,
	}
	return &pipeline.BaselineData{
		Data:     data,
		Metadata: meta,
		Index:    &setIndex{pos: pos, n: len(s.baselines)},
	}, nil
}

// MinRecommendedBuffer implements pipeline.ImageSetReader.
func (s *Set) MinRecommendedBuffer(workers int) int { return workers }

// MaxRecommendedBuffer implements pipeline.ImageSetReader.
func (s *Set) MaxRecommendedBuffer(workers int) int { return 2 * workers }

// Clone implements pipeline.ImageSetReader.  The clone shares the read-only
// archive contents.
func (s *Set) Clone() (pipeline.ImageSetReader, error) {
	return &Set{path: s.path, opts: s.opts, baselines: s.baselines}, nil
}

// Close implements pipeline.ImageSetReader.
func (s *Set) Close() error { return nil }
