// Copyright 2023 Skysift, Inc.  All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

package flagfile

import (
	"bytes"
	"testing"

	"github.com/grailbio/testutil/expect"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skysift/rfi/tf"
)

func TestPackUnpackMask(t *testing.T) {
	mask := tf.NewMask(13, 7)
	mask.SetValue(0, 0, true)
	mask.SetValue(12, 6, true)
	mask.SetValue(5, 3, true)

	bits := PackMask(mask)
	expect.EQ(t, len(bits), (13*7+7)/8)
	back, err := UnpackMask(bits, 13, 7)
	require.NoError(t, err)
	expect.True(t, back.Equal(mask))

	_, err = UnpackMask(bits, 14, 7)
	assert.Error(t, err)
}

func TestFlagfileRoundtrip(t *testing.T) {
	maskA := tf.NewMask(10, 6)
	maskA.SetValue(3, 2, true)
	maskA.SetHorizontalValues(0, 5, true, 10)
	maskB := tf.NewMask(10, 6)
	maskB.SetValue(9, 0, true)

	var buf bytes.Buffer
	w := NewWriter(&buf)
	require.NoError(t, w.AppendMasks(
		BaselineID{Antenna1: 1, Antenna2: 4, Band: 0, Sequence: 2},
		[]*tf.Mask{maskA, maskB}))
	require.NoError(t, w.AppendMasks(
		BaselineID{Antenna1: 2, Antenna2: 3},
		[]*tf.Mask{maskB}))
	require.NoError(t, w.Finish())

	records, err := Scan(bytes.NewReader(buf.Bytes()))
	require.NoError(t, err)
	require.Equal(t, 2, len(records))

	rec := records[0]
	expect.EQ(t, rec.ID, BaselineID{Antenna1: 1, Antenna2: 4, Band: 0, Sequence: 2})
	expect.EQ(t, rec.Width, 10)
	expect.EQ(t, rec.Height, 6)
	require.Equal(t, 2, len(rec.Bitmaps))
	backA, err := UnpackMask(rec.Bitmaps[0], rec.Width, rec.Height)
	require.NoError(t, err)
	expect.True(t, backA.Equal(maskA))
	backB, err := UnpackMask(rec.Bitmaps[1], rec.Width, rec.Height)
	require.NoError(t, err)
	expect.True(t, backB.Equal(maskB))

	expect.EQ(t, records[1].ID.Antenna1, 2)
}

func TestFlagfileRejectsMismatchedMasks(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)
	err := w.AppendMasks(BaselineID{}, []*tf.Mask{
		tf.NewMask(4, 4),
		tf.NewMask(5, 4),
	})
	assert.Error(t, err)

	assert.Error(t, w.AppendMasks(BaselineID{}, nil))
}

func TestFlagfileDigestDetectsCorruption(t *testing.T) {
	rec := &Record{
		ID:      BaselineID{Antenna1: 1, Antenna2: 2},
		Width:   8,
		Height:  4,
		Bitmaps: [][]byte{PackMask(tf.NewSetMask(8, 4, true))},
	}
	payload, err := marshalRecord(nil, rec)
	require.NoError(t, err)
	if _, err := unmarshalRecord(payload); err != nil {
		t.Fatalf("clean record failed to unmarshal: %v", err)
	}
	corrupted := append([]byte(nil), payload...)
	corrupted[33] ^= 0x01 // inside the first bitmap's payload
	_, err = unmarshalRecord(corrupted)
	assert.Error(t, err)
}

func TestScanRejectsForeignFile(t *testing.T) {
	_, err := Scan(bytes.NewReader([]byte("not a recordio file")))
	assert.Error(t, err)
}
