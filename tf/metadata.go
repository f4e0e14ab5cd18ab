// Copyright 2023 Skysift, Inc.  All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

package tf

// Antenna identifies one receiver of a baseline.
type Antenna struct {
	ID   int
	Name string
}

// UVW is the baseline coordinate at one timestep, in meters.
type UVW struct {
	U, V, W float64
}

// Metadata carries the observation context of one baseline.  The detection
// core reads it but never mutates it.
type Metadata struct {
	Antenna1, Antenna2 Antenna
	Band               int
	Field              int
	Sequence           int

	// ObservationTimes holds one MJD timestamp per time step (image column).
	ObservationTimes []float64
	// ChannelFrequencies holds one frequency in Hz per channel (image row).
	ChannelFrequencies []float64
	// UVW holds one coordinate per time step; may be empty when the reader
	// was not asked for it.
	UVW []UVW
}

// AutoCorrelation reports whether both receivers are the same antenna.
func (m *Metadata) AutoCorrelation() bool {
	return m.Antenna1.ID == m.Antenna2.ID
}
