// Copyright 2023 Skysift, Inc.  All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

package tf

import "github.com/grailbio/base/log"

// SegmentedImage assigns a segment id to every sample of a mask.  Id 0 means
// unassigned.  Ids are handed out by NewSegmentID and only ever grow; merge
// and remove rewrite samples but never reuse ids.
type SegmentedImage struct {
	width, height int
	values        []uint32
	segmentCount  uint32
}

// NewSegmentedImage returns an all-unassigned segmented image.
func NewSegmentedImage(width, height int) *SegmentedImage {
	if width < 0 || height < 0 {
		log.Panicf("tf.NewSegmentedImage: negative shape %dx%d", width, height)
	}
	return &SegmentedImage{
		width:  width,
		height: height,
		values: make([]uint32, width*height),
	}
}

// Width returns the number of samples per row.
func (s *SegmentedImage) Width() int { return s.width }

// Height returns the number of rows.
func (s *SegmentedImage) Height() int { return s.height }

// Value returns the segment id at (x, y).
func (s *SegmentedImage) Value(x, y int) uint32 {
	return s.values[y*s.width+x]
}

// SetValue sets the segment id at (x, y).
func (s *SegmentedImage) SetValue(x, y int, id uint32) {
	s.values[y*s.width+x] = id
}

// NewSegmentID allocates and returns a fresh segment id.
func (s *SegmentedImage) NewSegmentID() uint32 {
	s.segmentCount++
	return s.segmentCount
}

// SegmentCount returns the number of ids handed out so far.
func (s *SegmentedImage) SegmentCount() uint32 { return s.segmentCount }

// MergeSegments rewrites every sample of src to dst.
func (s *SegmentedImage) MergeSegments(dst, src uint32) {
	for i, v := range s.values {
		if v == src {
			s.values[i] = dst
		}
	}
}

// RemoveSegment clears every sample of id back to unassigned.
func (s *SegmentedImage) RemoveSegment(id uint32) {
	for i, v := range s.values {
		if v == id {
			s.values[i] = 0
		}
	}
}

// RemoveSegmentInBox clears samples of id within the half-open bounding box
// [left, right) x [top, bottom).
func (s *SegmentedImage) RemoveSegmentInBox(id uint32, left, right, top, bottom int) {
	for y := top; y < bottom; y++ {
		row := s.values[y*s.width : (y+1)*s.width]
		for x := left; x < right; x++ {
			if row[x] == id {
				row[x] = 0
			}
		}
	}
}
