// Copyright 2023 Skysift, Inc.  All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

package detect

import (
	"github.com/grailbio/base/log"
	"github.com/skysift/rfi/tf"
)

// Reserved segment ids written by Classify.  Freshly allocated segment ids
// start at 1 as well; classification merges every surviving segment into one
// of these three, so the overlap is harmless.
const (
	BroadbandSegment uint32 = 1
	LineSegment      uint32 = 2
	BlobSegment      uint32 = 3
)

// Morphology segments a flag mask into connected regions, merges regions
// that belong to the same interferer, and classifies the survivors.
type Morphology struct {
	// HLineEnlarging and VLineEnlarging are the dilation radii applied to
	// the horizontal and vertical sub-masks before length-ratio
	// segmentation.
	HLineEnlarging, VLineEnlarging int
	// HDensityEnlargeRatio and VDensityEnlargeRatio are the SIR eta values
	// applied to the sub-masks.
	HDensityEnlargeRatio, VDensityEnlargeRatio float32
}

// NewMorphology returns a Morphology with the stock parameters.
func NewMorphology() *Morphology {
	return &Morphology{
		HLineEnlarging:       1,
		VLineEnlarging:       1,
		HDensityEnlargeRatio: 0.5,
		VDensityEnlargeRatio: 0.5,
	}
}

// SegmentByMaxLength labels 4-connected regions of the mask, with fills
// restricted to neighbours whose opening length has the same sign: positive
// for horizontally dominant samples, negative for vertically dominant ones.
func (m *Morphology) SegmentByMaxLength(mask *tf.Mask) *tf.SegmentedImage {
	width, height := mask.Width(), mask.Height()
	openings := make([]int32, width*height)
	calculateOpenings(mask, openings)

	output := tf.NewSegmentedImage(width, height)
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			if mask.Value(x, y) && output.Value(x, y) == 0 {
				floodFillMaxLength(mask, output, openings, x, y, output.NewSegmentID())
			}
		}
	}
	return output
}

// calculateOpenings fills values with, per sample, the horizontal run length
// it belongs to, or the negated vertical run length when that run is longer.
func calculateOpenings(mask *tf.Mask, values []int32) {
	width, height := mask.Width(), mask.Height()
	for y := 0; y < height; y++ {
		row := values[y*width : (y+1)*width]
		length := 0
		for x := 0; x < width; x++ {
			if mask.Value(x, y) {
				length++
			} else if length > 0 {
				for i := x - length; i < x; i++ {
					row[i] = int32(length)
				}
				length = 0
				row[x] = 0
			} else {
				row[x] = 0
			}
		}
		if length > 0 {
			for i := width - length; i < width; i++ {
				row[i] = int32(length)
			}
		}
	}

	for x := 0; x < width; x++ {
		length := 0
		for y := 0; y < height; y++ {
			if mask.Value(x, y) {
				length++
			} else if length > 0 {
				for i := y - length; i < y; i++ {
					if values[i*width+x] < int32(length) {
						values[i*width+x] = -int32(length)
					}
				}
				length = 0
			}
		}
		if length > 0 {
			for i := height - length; i < height; i++ {
				if values[i*width+x] < int32(length) {
					values[i*width+x] = -int32(length)
				}
			}
		}
	}
}

// calculateHorizontalCounts fills values with each sample's horizontal run
// length (0 outside the mask).
func calculateHorizontalCounts(mask *tf.Mask, values []int32) {
	width, height := mask.Width(), mask.Height()
	for y := 0; y < height; y++ {
		row := values[y*width : (y+1)*width]
		length := 0
		for x := 0; x < width; x++ {
			if mask.Value(x, y) {
				length++
			} else if length > 0 {
				for i := x - length; i < x; i++ {
					row[i] = int32(length)
				}
				length = 0
				row[x] = 0
			} else {
				row[x] = 0
			}
		}
		for i := width - length; i < width; i++ {
			row[i] = int32(length)
		}
	}
}

// calculateVerticalCounts fills values with each sample's vertical run
// length.
func calculateVerticalCounts(mask *tf.Mask, values []int32) {
	width, height := mask.Width(), mask.Height()
	for x := 0; x < width; x++ {
		length := 0
		for y := 0; y < height; y++ {
			if mask.Value(x, y) {
				length++
			} else if length > 0 {
				for i := y - length; i < y; i++ {
					values[i*width+x] = int32(length)
				}
				length = 0
				values[y*width+x] = 0
			} else {
				values[y*width+x] = 0
			}
		}
		for i := height - length; i < height; i++ {
			values[i*width+x] = int32(length)
		}
	}
}

type point2d struct{ x, y int }

func floodFillMaxLength(mask *tf.Mask, output *tf.SegmentedImage, openings []int32, x, y int, id uint32) {
	width, height := mask.Width(), mask.Height()
	stack := []point2d{{x, y}}
	for len(stack) != 0 {
		p := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		output.SetValue(p.x, p.y, id)
		z := openings[p.y*width+p.x]
		sameSign := func(o int32) bool {
			return (o > 0 && z > 0) || (o < 0 && z < 0)
		}
		if p.x > 0 && output.Value(p.x-1, p.y) == 0 && mask.Value(p.x-1, p.y) &&
			sameSign(openings[p.y*width+p.x-1]) {
			stack = append(stack, point2d{p.x - 1, p.y})
		}
		if p.x < width-1 && output.Value(p.x+1, p.y) == 0 && mask.Value(p.x+1, p.y) &&
			sameSign(openings[p.y*width+p.x+1]) {
			stack = append(stack, point2d{p.x + 1, p.y})
		}
		if p.y > 0 && output.Value(p.x, p.y-1) == 0 && mask.Value(p.x, p.y-1) &&
			sameSign(openings[(p.y-1)*width+p.x]) {
			stack = append(stack, point2d{p.x, p.y - 1})
		}
		if p.y < height-1 && output.Value(p.x, p.y+1) == 0 && mask.Value(p.x, p.y+1) &&
			sameSign(openings[(p.y+1)*width+p.x]) {
			stack = append(stack, point2d{p.x, p.y + 1})
		}
	}
}

// SegmentByLengthRatio splits the flagged samples into horizontally and
// vertically dominant sub-masks, enlarges each sub-mask by dilation and SIR,
// and labels 4-connected regions within each.  A sample claimed by both
// sub-masks goes to the vertical segment when its vertical run is strictly
// longer.
//
// The middle "ambiguous" sub-mask is intentionally left empty; the upstream
// implementation disables it, so every flagged sample ends up horizontal or
// vertical.
func (m *Morphology) SegmentByLengthRatio(mask *tf.Mask) *tf.SegmentedImage {
	width, height := mask.Width(), mask.Height()
	var matrices [3]*tf.Mask
	for i := range matrices {
		matrices[i] = tf.NewMask(width, height)
	}
	hCounts := make([]int32, width*height)
	vCounts := make([]int32, width*height)
	calculateHorizontalCounts(mask, hCounts)
	calculateVerticalCounts(mask, vCounts)

	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			v := mask.Value(x, y)
			i := y*width + x
			matrices[0].SetValue(x, y, v && hCounts[i] > vCounts[i])
			matrices[1].SetValue(x, y, false)
			matrices[2].SetValue(x, y, v && hCounts[i] <= vCounts[i])
		}
	}

	DilateHorizontally(matrices[0], m.HLineEnlarging)
	DilateVertically(matrices[2], m.VLineEnlarging)
	if err := SIROperateHorizontally(matrices[0], m.HDensityEnlargeRatio); err != nil {
		log.Panicf("morphology: %v", err)
	}
	if err := SIROperateVertically(matrices[2], m.VDensityEnlargeRatio); err != nil {
		log.Panicf("morphology: %v", err)
	}

	// The counts are refreshed against the enlarged sub-masks; the override
	// rule below compares them.
	calculateHorizontalCounts(matrices[0], hCounts)
	calculateVerticalCounts(matrices[2], vCounts)

	output := tf.NewSegmentedImage(width, height)
	for z := 0; z < 3; z += 2 {
		for y := 0; y < height; y++ {
			for x := 0; x < width; x++ {
				if matrices[z].Value(x, y) && output.Value(x, y) == 0 {
					floodFillLengthRatio(mask, output, &matrices, x, y, z, output.NewSegmentID(), hCounts, vCounts)
				}
			}
		}
	}
	return output
}

type point3d struct{ x, y, z int }

func floodFillLengthRatio(mask *tf.Mask, output *tf.SegmentedImage, matrices *[3]*tf.Mask, x, y, z int, id uint32, hCounts, vCounts []int32) {
	width, height := mask.Width(), mask.Height()
	stack := []point3d{{x, y, z}}
	for len(stack) != 0 {
		p := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if mask.Value(p.x, p.y) {
			if output.Value(p.x, p.y) == 0 {
				output.SetValue(p.x, p.y, id)
			} else if hCounts[p.y*width+p.x] < vCounts[p.y*width+p.x] && p.z == 2 {
				output.SetValue(p.x, p.y, id)
			}
		}
		matrix := matrices[p.z]
		matrix.SetValue(p.x, p.y, false)
		if (p.z == 0 || p.z == 2) && matrices[1].Value(p.x, p.y) {
			stack = append(stack, point3d{p.x, p.y, 1})
		}
		if p.x > 0 && matrix.Value(p.x-1, p.y) {
			stack = append(stack, point3d{p.x - 1, p.y, p.z})
		}
		if p.x < width-1 && matrix.Value(p.x+1, p.y) {
			stack = append(stack, point3d{p.x + 1, p.y, p.z})
		}
		if p.y > 0 && matrix.Value(p.x, p.y-1) {
			stack = append(stack, point3d{p.x, p.y - 1, p.z})
		}
		if p.y < height-1 && matrix.Value(p.x, p.y+1) {
			stack = append(stack, point3d{p.x, p.y + 1, p.z})
		}
	}
}

// segmentInfo accumulates per-segment bounding box, area and centre of mass.
type segmentInfo struct {
	segment        uint32
	top, left      int
	bottom, right  int
	count          int
	width, height  int
	xTotal, yTotal int
	mark           bool
}

func (s *segmentInfo) addPoint(x, y int) {
	if x < s.left {
		s.left = x
	}
	if x >= s.right {
		s.right = x + 1
	}
	if y < s.top {
		s.top = y
	}
	if y >= s.bottom {
		s.bottom = y + 1
	}
	s.xTotal += x
	s.yTotal += y
	s.count++
}

// horizontalDistance is 0 for overlapping boxes.  Zero-area boxes cannot
// occur here: every segment in the map owns at least one sample.
func (s *segmentInfo) horizontalDistance(o *segmentInfo) int {
	if o.left > s.right {
		return o.left - s.right
	}
	if s.left > o.right {
		return s.left - o.right
	}
	return 0
}

func (s *segmentInfo) verticalDistance(o *segmentInfo) int {
	if o.top > s.bottom {
		return o.top - s.bottom
	}
	if s.top > o.bottom {
		return s.top - o.bottom
	}
	return 0
}

func createSegmentMap(s *tf.SegmentedImage) map[uint32]*segmentInfo {
	segments := make(map[uint32]*segmentInfo)
	for y := 0; y < s.Height(); y++ {
		for x := 0; x < s.Width(); x++ {
			id := s.Value(x, y)
			if id == 0 {
				continue
			}
			info, ok := segments[id]
			if !ok {
				info = &segmentInfo{segment: id, left: x, right: x + 1, top: y, bottom: y + 1}
				segments[id] = info
			}
			info.addPoint(x, y)
		}
	}
	for _, info := range segments {
		info.width = info.right - info.left
		info.height = info.bottom - info.top
	}
	return segments
}

// sortedSegments returns the map's values in ascending id order, so cluster
// results do not depend on map iteration order.
func sortedSegments(segments map[uint32]*segmentInfo) []*segmentInfo {
	out := make([]*segmentInfo, 0, len(segments))
	for _, info := range segments {
		out = append(out, info)
	}
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j-1].segment > out[j].segment; j-- {
			out[j-1], out[j] = out[j], out[j-1]
		}
	}
	return out
}

// Cluster merges segments that belong to the same interferer: tiny fragments
// adjacent to a much larger segment (noise around a persistent transmitter),
// and same-shaped segments covering the same channels.
func (m *Morphology) Cluster(s *tf.SegmentedImage) {
	segments := createSegmentMap(s)
	log.Debug.Printf("morphology: %d segments before clustering", len(segments))
	ordered := sortedSegments(segments)

	for _, info1 := range ordered {
		for _, info2 := range ordered {
			if info1.segment == info2.segment || info1.mark || info2.mark {
				continue
			}
			hDist := info1.horizontalDistance(info2)
			vDist := info1.verticalDistance(info2)

			maxDist := hDist
			if vDist > maxDist {
				maxDist = vDist
			}
			minCount := info1.count
			if info2.count < minCount {
				minCount = info2.count
			}
			maxWidth := info1.width
			if info2.width > maxWidth {
				maxWidth = info2.width
			}
			maxHeight, minHeight := info1.height, info2.height
			if maxHeight < minHeight {
				maxHeight, minHeight = minHeight, maxHeight
			}
			widthDist := info1.width - info2.width
			if widthDist < 0 {
				widthDist = -widthDist
			}
			heightDist := info1.height - info2.height
			if heightDist < 0 {
				heightDist = -heightDist
			}
			y1Mean := float64(info1.yTotal) / float64(info1.count)
			y2Mean := float64(info2.yTotal) / float64(info2.count)
			yMeanDist := y1Mean - y2Mean
			if yMeanDist < 0 {
				yMeanDist = -yMeanDist
			}

			cluster := false
			remove1, remove2 := false, false

			// A tiny fragment within distance 1 of a much larger segment is
			// noise around a persistent transmitter.
			noiseH1 := maxDist <= 1 && info2.count > info1.count*20 &&
				info2.width > info1.width*8 && info1.height < 16 &&
				info1.width < s.Width()/10
			noiseH2 := maxDist <= 1 && info1.count > info2.count*20 &&
				info1.width > info2.width*8 && info2.height < 16 &&
				info2.width < s.Width()/10
			cluster = cluster || noiseH1 || noiseH2
			remove1 = remove1 || noiseH1
			remove2 = remove2 || noiseH2

			noiseV1 := maxDist <= 1 && info2.count > info1.count*20 &&
				info2.height > info1.height*8 && info1.height < 16 &&
				info1.width < s.Width()/10
			noiseV2 := maxDist <= 1 && info1.count > info2.count*20 &&
				info1.height > info2.height*8 && info2.height < 16 &&
				info2.width < s.Width()/10
			cluster = cluster || noiseV1 || noiseV2
			remove1 = remove1 || noiseV1
			remove2 = remove2 || noiseV2

			// Same-shaped segments in the same channels.
			cluster = cluster ||
				(vDist == 0 && yMeanDist*8 <= float64(maxHeight+minHeight) &&
					widthDist <= maxWidth/4+2 &&
					heightDist <= maxHeight/4+2 && maxDist < minCount*32)

			if cluster {
				oldSegment := info2.segment
				s.MergeSegments(info1.segment, oldSegment)
				for _, info := range ordered {
					if info.segment == oldSegment {
						info.segment = info1.segment
					}
				}
			}
			if remove1 {
				info1.mark = true
			}
			if remove2 {
				info2.mark = true
			}
		}
	}
}

// Classify merges every surviving segment into one of the three reserved
// class segments: much wider than tall is a line, much taller than wide is
// broadband, anything else a blob.
func Classify(s *tf.SegmentedImage) {
	segments := createSegmentMap(s)
	for _, info := range sortedSegments(segments) {
		switch {
		case info.width > info.height*10:
			s.MergeSegments(LineSegment, info.segment)
		case info.height > info.width*10:
			s.MergeSegments(BroadbandSegment, info.segment)
		default:
			s.MergeSegments(BlobSegment, info.segment)
		}
	}
}

// RemoveSmallSegments erases every segment whose sample count is at most
// threshold.
func RemoveSmallSegments(s *tf.SegmentedImage, threshold int) {
	segments := createSegmentMap(s)
	removed := 0
	for _, info := range segments {
		if info.count <= threshold {
			removed++
			s.RemoveSegmentInBox(info.segment, info.left, info.right, info.top, info.bottom)
		}
	}
	log.Debug.Printf("morphology: removed %d segments of size <= %d", removed, threshold)
}

// MaskFromSegments rewrites mask so that a sample is flagged iff it belongs
// to a surviving segment.
func MaskFromSegments(s *tf.SegmentedImage, mask *tf.Mask) {
	if s.Width() != mask.Width() || s.Height() != mask.Height() {
		log.Panicf("morphology: segmented image is %dx%d, mask is %dx%d",
			s.Width(), s.Height(), mask.Width(), mask.Height())
	}
	for y := 0; y < s.Height(); y++ {
		for x := 0; x < s.Width(); x++ {
			mask.SetValue(x, y, s.Value(x, y) != 0)
		}
	}
}
