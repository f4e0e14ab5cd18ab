// Copyright 2023 Skysift, Inc.  All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

// Package flagfile stores per-baseline flag masks as a zstd-compressed
// recordio archive.  It backs the pipeline in environments without a
// measurement-set library, and gives tests a durable flag sink.  One record
// holds one baseline: its identity, the mask shape, one packed bitmap per
// polarization, and a HighwayHash-64 digest of the bitmaps that is verified
// on read-back.
package flagfile

import (
	"encoding/binary"
	"io"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/recordio"
	"github.com/grailbio/base/recordio/recordiozstd"
	"github.com/minio/highwayhash"

	"github.com/skysift/rfi/tf"
)

func init() {
	recordiozstd.Init()
}

// formatHeaderKey marks the archive as a flag file; the value is the format
// version.
const formatHeaderKey = "skysift-rfi-flags"

const formatVersion = "1"

// digestKey is the fixed HighwayHash key.  The digest guards against
// corruption, not tampering, so a public key is fine.
var digestKey = [32]byte{
	's', 'k', 'y', 's', 'i', 'f', 't', '-',
	'r', 'f', 'i', '-', 'f', 'l', 'a', 'g',
	'f', 'i', 'l', 'e', '-', 'd', 'i', 'g',
	'e', 's', 't', '-', 'k', 'e', 'y', '1',
}

// BaselineID identifies one baseline within an observation.
type BaselineID struct {
	Antenna1, Antenna2 int
	Band, Sequence     int
}

// Record is one baseline's flag masks.
type Record struct {
	ID            BaselineID
	Width, Height int
	// Bitmaps holds one packed row-major bitmap per polarization.
	Bitmaps [][]byte
}

// PackMask packs a mask into a row-major bitmap, eight samples per byte.
func PackMask(mask *tf.Mask) []byte {
	width, height := mask.Width(), mask.Height()
	out := make([]byte, (width*height+7)/8)
	bit := 0
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			if mask.Value(x, y) {
				out[bit>>3] |= 1 << uint(bit&7)
			}
			bit++
		}
	}
	return out
}

// UnpackMask expands a packed bitmap back into a mask.
func UnpackMask(bits []byte, width, height int) (*tf.Mask, error) {
	if len(bits) != (width*height+7)/8 {
		return nil, errors.E("flagfile: bitmap length mismatch", len(bits), width, height)
	}
	mask := tf.NewMask(width, height)
	bit := 0
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			if bits[bit>>3]&(1<<uint(bit&7)) != 0 {
				mask.SetValue(x, y, true)
			}
			bit++
		}
	}
	return mask, nil
}

func digestBitmaps(bitmaps [][]byte) uint64 {
	h, _ := highwayhash.New64(digestKey[:])
	for _, b := range bitmaps {
		h.Write(b) // nolint: errcheck
	}
	return h.Sum64()
}

// marshalRecord lays a record out as little-endian fixed header, per-bitmap
// lengths and payloads, and the trailing digest.
func marshalRecord(scratch []byte, v interface{}) ([]byte, error) {
	rec := v.(*Record)
	need := 7*4 + 8
	for _, b := range rec.Bitmaps {
		need += 4 + len(b)
	}
	t := scratch
	if cap(t) < need {
		t = make([]byte, need)
	}
	t = t[:need]

	le := binary.LittleEndian
	le.PutUint32(t[0:], uint32(rec.ID.Antenna1))
	le.PutUint32(t[4:], uint32(rec.ID.Antenna2))
	le.PutUint32(t[8:], uint32(rec.ID.Band))
	le.PutUint32(t[12:], uint32(rec.ID.Sequence))
	le.PutUint32(t[16:], uint32(rec.Width))
	le.PutUint32(t[20:], uint32(rec.Height))
	le.PutUint32(t[24:], uint32(len(rec.Bitmaps)))
	offset := 28
	for _, b := range rec.Bitmaps {
		le.PutUint32(t[offset:], uint32(len(b)))
		offset += 4
		copy(t[offset:], b)
		offset += len(b)
	}
	le.PutUint64(t[offset:], digestBitmaps(rec.Bitmaps))
	return t, nil
}

func unmarshalRecord(in []byte) (interface{}, error) {
	if len(in) < 28+8 {
		return nil, errors.New("flagfile: truncated record")
	}
	le := binary.LittleEndian
	rec := &Record{
		ID: BaselineID{
			Antenna1: int(le.Uint32(in[0:])),
			Antenna2: int(le.Uint32(in[4:])),
			Band:     int(le.Uint32(in[8:])),
			Sequence: int(le.Uint32(in[12:])),
		},
		Width:  int(le.Uint32(in[16:])),
		Height: int(le.Uint32(in[20:])),
	}
	nPol := int(le.Uint32(in[24:]))
	offset := 28
	rec.Bitmaps = make([][]byte, nPol)
	for i := 0; i < nPol; i++ {
		if offset+4 > len(in)-8 {
			return nil, errors.New("flagfile: truncated bitmap header")
		}
		n := int(le.Uint32(in[offset:]))
		offset += 4
		if offset+n > len(in)-8 {
			return nil, errors.New("flagfile: truncated bitmap")
		}
		rec.Bitmaps[i] = append([]byte(nil), in[offset:offset+n]...)
		offset += n
	}
	want := le.Uint64(in[offset:])
	if got := digestBitmaps(rec.Bitmaps); got != want {
		return nil, errors.E("flagfile: digest mismatch for baseline",
			rec.ID.Antenna1, rec.ID.Antenna2)
	}
	return rec, nil
}

// Writer appends baseline flag records to an archive.
type Writer struct {
	w recordio.Writer
}

// NewWriter returns a Writer over out.
func NewWriter(out io.Writer) *Writer {
	w := recordio.NewWriter(out, recordio.WriterOpts{
		Marshal:      marshalRecord,
		Transformers: []string{recordiozstd.Name},
	})
	w.AddHeader(formatHeaderKey, formatVersion)
	return &Writer{w: w}
}

// Append adds one record.
func (w *Writer) Append(rec *Record) {
	w.w.Append(rec)
}

// AppendMasks packs and adds one baseline's masks.
func (w *Writer) AppendMasks(id BaselineID, masks []*tf.Mask) error {
	if len(masks) == 0 {
		return errors.New("flagfile: no masks to append")
	}
	rec := &Record{
		ID:     id,
		Width:  masks[0].Width(),
		Height: masks[0].Height(),
	}
	for _, m := range masks {
		if m.Width() != rec.Width || m.Height() != rec.Height {
			return errors.E("flagfile: mask shapes differ within baseline",
				id.Antenna1, id.Antenna2)
		}
		rec.Bitmaps = append(rec.Bitmaps, PackMask(m))
	}
	w.Append(rec)
	return nil
}

// Finish flushes the archive; no appends may follow.
func (w *Writer) Finish() error {
	return w.w.Finish()
}

// Scan reads every record of an archive, verifying digests.
func Scan(rs io.ReadSeeker) ([]*Record, error) {
	scanner := recordio.NewScanner(rs, recordio.ScannerOpts{
		Unmarshal: unmarshalRecord,
	})
	version := ""
	for _, kv := range scanner.Header() {
		if kv.Key == formatHeaderKey {
			version, _ = kv.Value.(string)
		}
	}
	if version != formatVersion {
		return nil, errors.E("flagfile: not a flag archive (version", version, ")")
	}
	var records []*Record
	for scanner.Scan() {
		records = append(records, scanner.Get().(*Record))
	}
	return records, scanner.Err()
}
