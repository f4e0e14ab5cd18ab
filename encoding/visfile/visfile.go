// Copyright 2023 Skysift, Inc.  All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

// Package visfile reads and writes visibility archives: zstd recordio files
// holding per-baseline complex time-frequency samples with their metadata.
// The Set type adapts an archive to the scheduler's ImageSetReader surface.
package visfile

import (
	"encoding/binary"
	"io"
	"math"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/recordio"
	"github.com/grailbio/base/recordio/recordiozstd"

	"github.com/skysift/rfi/tf"
)

func init() {
	recordiozstd.Init()
}

const formatHeaderKey = "skysift-rfi-visibilities"

const formatVersion = "1"

// Baseline is one archived baseline: identity, metadata and samples.
type Baseline struct {
	Antenna1, Antenna2 int
	Antenna1Name       string
	Antenna2Name       string
	Band, Field        int
	Sequence           int

	Times       []float64
	Frequencies []float64

	// Pols holds the stored correlation products.
	Pols []tf.Polarization
	// Real and Imag hold one image per polarization.
	Real, Imag []*tf.Image
	// Masks holds optional pre-existing flag masks, nil entries allowed.
	Masks []*tf.Mask
}

func putString(t []byte, offset int, s string) int {
	binary.LittleEndian.PutUint32(t[offset:], uint32(len(s)))
	offset += 4
	copy(t[offset:], s)
	return offset + len(s)
}

func getString(in []byte, offset int) (string, int, error) {
	if offset+4 > len(in) {
		return "", 0, errors.New("visfile: truncated string")
	}
	n := int(binary.LittleEndian.Uint32(in[offset:]))
	offset += 4
	if offset+n > len(in) {
		return "", 0, errors.New("visfile: truncated string")
	}
	return string(in[offset : offset+n]), offset + n, nil
}

func imageBytes(im *tf.Image) int { return 4 * im.Width() * im.Height() }

func putImage(t []byte, offset int, im *tf.Image) int {
	le := binary.LittleEndian
	for y := 0; y < im.Height(); y++ {
		row := im.Row(y)
		for x := 0; x < im.Width(); x++ {
			le.PutUint32(t[offset:], math.Float32bits(row[x]))
			offset += 4
		}
	}
	return offset
}

func getImage(in []byte, offset, width, height int) (*tf.Image, int, error) {
	if offset+4*width*height > len(in) {
		return nil, 0, errors.New("visfile: truncated image")
	}
	le := binary.LittleEndian
	im := tf.NewImage(width, height)
	for y := 0; y < height; y++ {
		row := im.Row(y)
		for x := 0; x < width; x++ {
			row[x] = math.Float32frombits(le.Uint32(in[offset:]))
			offset += 4
		}
	}
	return im, offset, nil
}

func marshalBaseline(scratch []byte, v interface{}) ([]byte, error) {
	b := v.(*Baseline)
	width := len(b.Times)
	height := len(b.Frequencies)
	need := 8*4 + 4 + len(b.Antenna1Name) + 4 + len(b.Antenna2Name) +
		8*(width+height)
	for i := range b.Pols {
		need += 4 + 1
		need += imageBytes(b.Real[i])
		if b.Imag[i] != nil {
			need += imageBytes(b.Imag[i])
		}
		if b.Masks[i] != nil {
			need += (width*height + 7) / 8
		}
	}
	t := scratch
	if cap(t) < need {
		t = make([]byte, need)
	}
	t = t[:need]

	le := binary.LittleEndian
	le.PutUint32(t[0:], uint32(b.Antenna1))
	le.PutUint32(t[4:], uint32(b.Antenna2))
	le.PutUint32(t[8:], uint32(b.Band))
	le.PutUint32(t[12:], uint32(b.Field))
	le.PutUint32(t[16:], uint32(b.Sequence))
	le.PutUint32(t[20:], uint32(width))
	le.PutUint32(t[24:], uint32(height))
	le.PutUint32(t[28:], uint32(len(b.Pols)))
	offset := 32
	offset = putString(t, offset, b.Antenna1Name)
	offset = putString(t, offset, b.Antenna2Name)
	for _, v := range b.Times {
		le.PutUint64(t[offset:], math.Float64bits(v))
		offset += 8
	}
	for _, v := range b.Frequencies {
		le.PutUint64(t[offset:], math.Float64bits(v))
		offset += 8
	}
	for i, pol := range b.Pols {
		le.PutUint32(t[offset:], uint32(pol))
		offset += 4
		var presence byte = 1
		if b.Imag[i] != nil {
			presence |= 2
		}
		if b.Masks[i] != nil {
			presence |= 4
		}
		t[offset] = presence
		offset++
		offset = putImage(t, offset, b.Real[i])
		if b.Imag[i] != nil {
			offset = putImage(t, offset, b.Imag[i])
		}
		if b.Masks[i] != nil {
			bits := t[offset : offset+(width*height+7)/8]
			for j := range bits {
				bits[j] = 0
			}
			bit := 0
			for y := 0; y < height; y++ {
				for x := 0; x < width; x++ {
					if b.Masks[i].Value(x, y) {
						bits[bit>>3] |= 1 << uint(bit&7)
					}
					bit++
				}
			}
			offset += len(bits)
		}
	}
	return t[:offset], nil
}

func unmarshalBaseline(in []byte) (interface{}, error) {
	if len(in) < 32 {
		return nil, errors.New("visfile: truncated record")
	}
	le := binary.LittleEndian
	b := &Baseline{
		Antenna1: int(le.Uint32(in[0:])),
		Antenna2: int(le.Uint32(in[4:])),
		Band:     int(le.Uint32(in[8:])),
		Field:    int(le.Uint32(in[12:])),
		Sequence: int(le.Uint32(in[16:])),
	}
	width := int(le.Uint32(in[20:]))
	height := int(le.Uint32(in[24:]))
	nPol := int(le.Uint32(in[28:]))
	offset := 32
	var err error
	if b.Antenna1Name, offset, err = getString(in, offset); err != nil {
		return nil, err
	}
	if b.Antenna2Name, offset, err = getString(in, offset); err != nil {
		return nil, err
	}
	if offset+8*(width+height) > len(in) {
		return nil, errors.New("visfile: truncated axes")
	}
	b.Times = make([]float64, width)
	for i := range b.Times {
		b.Times[i] = math.Float64frombits(le.Uint64(in[offset:]))
		offset += 8
	}
	b.Frequencies = make([]float64, height)
	for i := range b.Frequencies {
		b.Frequencies[i] = math.Float64frombits(le.Uint64(in[offset:]))
		offset += 8
	}
	for i := 0; i < nPol; i++ {
		if offset+5 > len(in) {
			return nil, errors.New("visfile: truncated polarization header")
		}
		pol := tf.Polarization(le.Uint32(in[offset:]))
		presence := in[offset+4]
		offset += 5
		var re, im *tf.Image
		if re, offset, err = getImage(in, offset, width, height); err != nil {
			return nil, err
		}
		if presence&2 != 0 {
			if im, offset, err = getImage(in, offset, width, height); err != nil {
				return nil, err
			}
		}
		var mask *tf.Mask
		if presence&4 != 0 {
			n := (width*height + 7) / 8
			if offset+n > len(in) {
				return nil, errors.New("visfile: truncated mask")
			}
			mask = tf.NewMask(width, height)
			bit := 0
			for y := 0; y < height; y++ {
				for x := 0; x < width; x++ {
					if in[offset+(bit>>3)]&(1<<uint(bit&7)) != 0 {
						mask.SetValue(x, y, true)
					}
					bit++
				}
			}
			offset += n
		}
		b.Pols = append(b.Pols, pol)
		b.Real = append(b.Real, re)
		b.Imag = append(b.Imag, im)
		b.Masks = append(b.Masks, mask)
	}
	return b, nil
}

// Writer appends baselines to a visibility archive.
type Writer struct {
	w recordio.Writer
}

// NewWriter returns a Writer over out.
func NewWriter(out io.Writer) *Writer {
	w := recordio.NewWriter(out, recordio.WriterOpts{
		Marshal:      marshalBaseline,
		Transformers: []string{recordiozstd.Name},
	})
	w.AddHeader(formatHeaderKey, formatVersion)
	return &Writer{w: w}
}

// Append adds one baseline.  Pols, Real, Imag and Masks must have equal
// lengths; Times and Frequencies must match every image's shape.
func (w *Writer) Append(b *Baseline) error {
	if len(b.Pols) == 0 || len(b.Real) != len(b.Pols) ||
		len(b.Imag) != len(b.Pols) || len(b.Masks) != len(b.Pols) {
		return errors.New("visfile: inconsistent polarization slices")
	}
	for i := range b.Pols {
		if b.Real[i].Width() != len(b.Times) || b.Real[i].Height() != len(b.Frequencies) {
			return errors.E("visfile: image shape does not match axes")
		}
	}
	w.w.Append(b)
	return nil
}

// Finish flushes the archive.
func (w *Writer) Finish() error {
	return w.w.Finish()
}

// ReadAll loads every baseline of an archive.
func ReadAll(rs io.ReadSeeker) ([]*Baseline, error) {
	scanner := recordio.NewScanner(rs, recordio.ScannerOpts{
		Unmarshal: unmarshalBaseline,
	})
	version := ""
	for _, kv := range scanner.Header() {
		if kv.Key == formatHeaderKey {
			version, _ = kv.Value.(string)
		}
	}
	if version != formatVersion {
		return nil, errors.E("visfile: not a visibility archive (version", version, ")")
	}
	var baselines []*Baseline
	for scanner.Scan() {
		baselines = append(baselines, scanner.Get().(*Baseline))
	}
	return baselines, scanner.Err()
}
