// Copyright 2023 Skysift, Inc.  All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

package tf

import (
	"math"

	"github.com/grailbio/base/log"
)

// Polarization identifies one polarized correlation product.
type Polarization int

// Linear and circular correlation products, plus the derived Stokes
// parameters.  Derived polarizations are computed on demand from the
// products that are present and never stored back.
const (
	PolXX Polarization = iota
	PolXY
	PolYX
	PolYY
	PolRR
	PolRL
	PolLR
	PolLL
	PolStokesI
	PolStokesQ
)

var polNames = map[Polarization]string{
	PolXX:      "XX",
	PolXY:      "XY",
	PolYX:      "YX",
	PolYY:      "YY",
	PolRR:      "RR",
	PolRL:      "RL",
	PolLR:      "LR",
	PolLL:      "LL",
	PolStokesI: "I",
	PolStokesQ: "Q",
}

// String returns the conventional short name.
func (p Polarization) String() string { return polNames[p] }

// PolImage holds one polarization's samples: either a (real, imaginary) pair
// or an amplitude-only image (Imag == nil), plus an optional flag mask.
type PolImage struct {
	Pol  Polarization
	Real *Image
	Imag *Image
	Mask *Mask
}

// Data bundles the per-polarization images of one baseline.  Every image and
// mask in a Data has identical width, height and stride.
type Data struct {
	pols []PolImage
}

// NewComplexData returns a single-polarization bundle from a (real,
// imaginary) image pair.
func NewComplexData(pol Polarization, re, im *Image) *Data {
	d := &Data{}
	d.Append(PolImage{Pol: pol, Real: re, Imag: im})
	return d
}

// NewAmplitudeData returns a single-polarization amplitude-only bundle.
func NewAmplitudeData(pol Polarization, amp *Image) *Data {
	d := &Data{}
	d.Append(PolImage{Pol: pol, Real: amp})
	return d
}

// Append adds one polarization to the bundle, validating the shape
// invariant.
func (d *Data) Append(p PolImage) {
	if p.Real == nil {
		log.Panicf("tf.Data: polarization %v has no image", p.Pol)
	}
	w, h := p.Real.Width(), p.Real.Height()
	if p.Imag != nil && (p.Imag.Width() != w || p.Imag.Height() != h) {
		log.Panicf("tf.Data: %v imaginary image is %dx%d, real is %dx%d",
			p.Pol, p.Imag.Width(), p.Imag.Height(), w, h)
	}
	if p.Mask != nil && (p.Mask.Width() != w || p.Mask.Height() != h) {
		log.Panicf("tf.Data: %v mask is %dx%d, image is %dx%d",
			p.Pol, p.Mask.Width(), p.Mask.Height(), w, h)
	}
	if len(d.pols) > 0 && (w != d.Width() || h != d.Height()) {
		log.Panicf("tf.Data: polarization %v is %dx%d, bundle is %dx%d",
			p.Pol, w, h, d.Width(), d.Height())
	}
	d.pols = append(d.pols, p)
}

// Width returns the time-axis extent.
func (d *Data) Width() int {
	if len(d.pols) == 0 {
		return 0
	}
	return d.pols[0].Real.Width()
}

// Height returns the channel-axis extent.
func (d *Data) Height() int {
	if len(d.pols) == 0 {
		return 0
	}
	return d.pols[0].Real.Height()
}

// PolarizationCount returns the number of stored polarizations.
func (d *Data) PolarizationCount() int { return len(d.pols) }

// Polarizations returns the stored polarization set.
func (d *Data) Polarizations() []Polarization {
	pols := make([]Polarization, len(d.pols))
	for i, p := range d.pols {
		pols[i] = p.Pol
	}
	return pols
}

// Pol returns the i'th stored polarization.
func (d *Data) Pol(i int) *PolImage { return &d.pols[i] }

// PolByType returns the stored polarization p, or nil.
func (d *Data) PolByType(pol Polarization) *PolImage {
	for i := range d.pols {
		if d.pols[i].Pol == pol {
			return &d.pols[i]
		}
	}
	return nil
}

// AmplitudeImage returns |samples| for the i'th polarization, computing it
// from the complex pair when one is stored.
func (d *Data) AmplitudeImage(i int) *Image {
	p := &d.pols[i]
	if p.Imag == nil {
		return p.Real.Copy()
	}
	return Amplitude(p.Real, p.Imag)
}

// MaskOrNew returns the i'th polarization's mask, creating an empty one if
// none is attached yet.
func (d *Data) MaskOrNew(i int) *Mask {
	p := &d.pols[i]
	if p.Mask == nil {
		p.Mask = NewMask(d.Width(), d.Height())
	}
	return p.Mask
}

// JoinMasks returns the OR over all attached masks.  Polarizations without a
// mask contribute nothing.
func (d *Data) JoinMasks() *Mask {
	out := NewMask(d.Width(), d.Height())
	for i := range d.pols {
		if d.pols[i].Mask != nil {
			out.Or(d.pols[i].Mask)
		}
	}
	return out
}

// SetGlobalMask attaches a copy of mask to every polarization, so that a
// sample flagged in any polarization is flagged in all.
func (d *Data) SetGlobalMask(mask *Mask) {
	if mask.Width() != d.Width() || mask.Height() != d.Height() {
		log.Panicf("tf.Data.SetGlobalMask: mask is %dx%d, bundle is %dx%d",
			mask.Width(), mask.Height(), d.Width(), d.Height())
	}
	for i := range d.pols {
		d.pols[i].Mask = mask.Copy()
	}
}

// Copy returns a deep copy of the bundle.
func (d *Data) Copy() *Data {
	c := &Data{pols: make([]PolImage, len(d.pols))}
	for i, p := range d.pols {
		c.pols[i] = PolImage{Pol: p.Pol, Real: p.Real.Copy()}
		if p.Imag != nil {
			c.pols[i].Imag = p.Imag.Copy()
		}
		if p.Mask != nil {
			c.pols[i].Mask = p.Mask.Copy()
		}
	}
	return c
}

// stokesPair locates the two parallel-hand products needed for Stokes
// derivation (XX/YY or RR/LL).
func (d *Data) stokesPair() (a, b *PolImage) {
	a, b = d.PolByType(PolXX), d.PolByType(PolYY)
	if a == nil || b == nil {
		a, b = d.PolByType(PolRR), d.PolByType(PolLL)
	}
	return a, b
}

// HasParallelHands reports whether Stokes parameters can be derived.
func (d *Data) HasParallelHands() bool {
	a, b := d.stokesPair()
	return a != nil && b != nil
}

// MakeStokes derives PolStokesI or PolStokesQ from the parallel-hand
// products.  The result is freshly allocated and never cached back.
func (d *Data) MakeStokes(pol Polarization) *Data {
	a, b := d.stokesPair()
	if a == nil || b == nil {
		log.Panicf("tf.Data.MakeStokes: no parallel-hand pair present")
	}
	sign := float32(1)
	if pol == PolStokesQ {
		sign = -1
	} else if pol != PolStokesI {
		log.Panicf("tf.Data.MakeStokes: %v is not a derivable polarization", pol)
	}
	re := NewImage(d.Width(), d.Height())
	var im *Image
	if a.Imag != nil && b.Imag != nil {
		im = NewImage(d.Width(), d.Height())
	}
	for y := 0; y < d.Height(); y++ {
		ra, rb, ro := a.Real.Row(y), b.Real.Row(y), re.Row(y)
		for x := 0; x < d.Width(); x++ {
			ro[x] = ra[x] + sign*rb[x]
		}
		if im != nil {
			ia, ib, io := a.Imag.Row(y), b.Imag.Row(y), im.Row(y)
			for x := 0; x < d.Width(); x++ {
				io[x] = ia[x] + sign*ib[x]
			}
		}
	}
	out := &Data{}
	p := PolImage{Pol: pol, Real: re, Imag: im}
	if a.Mask != nil && b.Mask != nil {
		p.Mask = a.Mask.Copy()
		p.Mask.Or(b.Mask)
	}
	out.Append(p)
	return out
}

// SanitizeNonFinite replaces NaN and infinity samples with zero and flags
// them in the polarization's mask, so they can never poison a window
// accumulator downstream.  It returns the number of samples replaced.
func (d *Data) SanitizeNonFinite() int {
	n := 0
	for i := range d.pols {
		p := &d.pols[i]
		images := []*Image{p.Real}
		if p.Imag != nil {
			images = append(images, p.Imag)
		}
		for _, im := range images {
			for y := 0; y < im.Height(); y++ {
				row := im.Row(y)
				for x := 0; x < im.Width(); x++ {
					f := float64(row[x])
					if math.IsNaN(f) || math.IsInf(f, 0) {
						row[x] = 0
						d.MaskOrNew(i).SetValue(x, y, true)
						n++
					}
				}
			}
		}
	}
	return n
}
