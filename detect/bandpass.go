// Copyright 2023 Skysift, Inc.  All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

package detect

import (
	"bufio"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/pkg/errors"

	"github.com/skysift/rfi/tf"
)

// Bandpass holds per-antenna, per-polarization channel gains used to flatten
// the band before detection, so steep band edges are not mistaken for
// interference.
//
// The file format is one correction per line: antenna name, polarization
// letter (X or Y), channel index and gain, whitespace separated.  Lines
// starting with '#' are ignored.  Files ending in .gz are decompressed.
type Bandpass struct {
	gains map[bandpassKey]float64
}

type bandpassKey struct {
	antenna string
	pol     byte
	channel int
}

// LoadBandpass reads a bandpass correction file.
func LoadBandpass(path string) (*Bandpass, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "bandpass %s", path)
	}
	defer f.Close()
	var r io.Reader = f
	if strings.HasSuffix(path, ".gz") {
		gz, err := gzip.NewReader(f)
		if err != nil {
			return nil, errors.Wrapf(err, "bandpass %s", path)
		}
		defer gz.Close()
		r = gz
	}
	b := &Bandpass{gains: make(map[bandpassKey]float64)}
	scanner := bufio.NewScanner(r)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) != 4 {
			return nil, errors.Errorf("bandpass %s:%d: expected 4 fields, got %d", path, lineNo, len(fields))
		}
		if len(fields[1]) != 1 || (fields[1][0] != 'X' && fields[1][0] != 'Y') {
			return nil, errors.Errorf("bandpass %s:%d: bad polarization %q", path, lineNo, fields[1])
		}
		channel, err := strconv.Atoi(fields[2])
		if err != nil {
			return nil, errors.Wrapf(err, "bandpass %s:%d", path, lineNo)
		}
		gain, err := strconv.ParseFloat(fields[3], 64)
		if err != nil {
			return nil, errors.Wrapf(err, "bandpass %s:%d", path, lineNo)
		}
		if gain == 0 {
			return nil, errors.Errorf("bandpass %s:%d: zero gain", path, lineNo)
		}
		b.gains[bandpassKey{fields[0], fields[1][0], channel}] = gain
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrapf(err, "bandpass %s", path)
	}
	return b, nil
}

func (b *Bandpass) gain(antenna string, pol byte, channel int) float64 {
	if g, ok := b.gains[bandpassKey{antenna, pol, channel}]; ok {
		return g
	}
	return 1.0
}

// polLetters maps a correlation product to the receiver feeds it combines.
func polLetters(pol tf.Polarization) (byte, byte) {
	switch pol {
	case tf.PolXX:
		return 'X', 'X'
	case tf.PolXY:
		return 'X', 'Y'
	case tf.PolYX:
		return 'Y', 'X'
	default:
		return 'Y', 'Y'
	}
}

// Apply divides every sample by the gain product of the two receivers
// involved, channel by channel.
func (b *Bandpass) Apply(data *tf.Data, meta *tf.Metadata) {
	for i := 0; i < data.PolarizationCount(); i++ {
		p := data.Pol(i)
		l1, l2 := polLetters(p.Pol)
		for y := 0; y < data.Height(); y++ {
			g := b.gain(meta.Antenna1.Name, l1, y) * b.gain(meta.Antenna2.Name, l2, y)
			if g == 1.0 {
				continue
			}
			factor := float32(1.0 / g)
			rows := [][]float32{p.Real.Row(y)}
			if p.Imag != nil {
				rows = append(rows, p.Imag.Row(y))
			}
			for _, row := range rows {
				for x := 0; x < data.Width(); x++ {
					row[x] *= factor
				}
			}
		}
	}
}
