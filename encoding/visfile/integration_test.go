// Copyright 2023 Skysift, Inc.  All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

package visfile_test

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skysift/rfi/detect"
	"github.com/skysift/rfi/encoding/flagfile"
	"github.com/skysift/rfi/encoding/visfile"
	"github.com/skysift/rfi/pipeline"
	"github.com/skysift/rfi/tf"
)

// End to end: visibility archive in, scheduler over all baselines, flag
// archive out.
func TestArchiveDetectionRoundtrip(t *testing.T) {
	visPath := t.TempDir() + "/vis.rfivis"

	f, err := os.Create(visPath)
	require.NoError(t, err)
	w := visfile.NewWriter(f)
	const n = 12
	for i := 0; i < n; i++ {
		re := tf.NewImage(20, 10)
		im := tf.NewImage(20, 10)
		re.SetValue(3+i%10, i%10, 400)
		require.NoError(t, w.Append(&visfile.Baseline{
			Antenna1:     i,
			Antenna2:     i + 1,
			Antenna1Name: "A",
			Antenna2Name: "B",
			Sequence:     i,
			Times:        make([]float64, 20),
			Frequencies:  make([]float64, 10),
			Pols:         []tf.Polarization{tf.PolXX},
			Real:         []*tf.Image{re},
			Imag:         []*tf.Image{im},
			Masks:        []*tf.Mask{nil},
		}))
	}
	require.NoError(t, w.Finish())
	require.NoError(t, f.Close())

	set, err := visfile.Open(visPath, visfile.Opts{})
	require.NoError(t, err)

	flagPath := visPath + ".rfiflags"
	out, err := os.Create(flagPath)
	require.NoError(t, err)
	archive := flagfile.NewWriter(out)
	writer := flagfile.NewTaskWriter(archive, func(index pipeline.Index) (flagfile.BaselineID, error) {
		a1, a2, band, seq := set.Identity(index)
		return flagfile.BaselineID{Antenna1: a1, Antenna2: a2, Band: band, Sequence: seq}, nil
	})

	scheduler := pipeline.NewScheduler(set, writer, pipeline.Filter{Selection: pipeline.AllBaselines}, pipeline.Opts{
		Workers:  3,
		Strategy: detect.DefaultStrategy(),
	})
	require.NoError(t, scheduler.Run())
	require.NoError(t, archive.Finish())
	require.NoError(t, out.Close())

	in, err := os.Open(flagPath)
	require.NoError(t, err)
	defer in.Close()
	records, err := flagfile.Scan(in)
	require.NoError(t, err)
	assert.Equal(t, n, len(records))

	seen := map[int]bool{}
	for _, rec := range records {
		seen[rec.ID.Sequence] = true
		assert.Equal(t, 20, rec.Width)
		assert.Equal(t, 10, rec.Height)
		mask, err := flagfile.UnpackMask(rec.Bitmaps[0], rec.Width, rec.Height)
		require.NoError(t, err)
		assert.True(t, mask.Count() >= 1, "baseline %d has no flags", rec.ID.Sequence)
	}
	assert.Equal(t, n, len(seen))
}
