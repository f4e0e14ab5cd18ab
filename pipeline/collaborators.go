// Copyright 2023 Skysift, Inc.  All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

package pipeline

import "github.com/skysift/rfi/tf"

// The scheduler drives three small collaborator interfaces.  Their
// implementations own all storage-format knowledge; the core never sees
// more than these surfaces.

// Index identifies one baseline within an image set and iterates over the
// set's (antenna1, antenna2, band, sequence) tuples.
type Index interface {
	// Valid reports whether the index still points at a baseline.
	Valid() bool
	// Next advances to the next baseline; the index becomes invalid past
	// the last one.
	Next()
	// Clone returns an independent copy.
	Clone() Index
}

// BaselineInfo is the selection-relevant identity of one baseline.
type BaselineInfo struct {
	Antenna1, Antenna2 int
	Band, Field        int
}

// BaselineData is one baseline's worth of samples queued for detection.
// Exactly one pipeline stage owns an in-flight BaselineData at a time.
type BaselineData struct {
	Data     *tf.Data
	Metadata *tf.Metadata
	Index    Index
}

// ImageSetReader reads baselines from an image set.  All calls except Clone
// must be made under the scheduler's I/O lock; Clone'd readers serve
// per-worker metadata access without contending for it.
type ImageSetReader interface {
	// StartIndex returns an index at the first baseline.
	StartIndex() Index
	// BaselineInfo returns the identity of the baseline at index.
	BaselineInfo(index Index) BaselineInfo
	// Dimensions returns the per-baseline data shape, used for memory
	// sizing.
	Dimensions() (polarizations, timeSteps, channels int)
	// AddReadRequest queues a read of the baseline at index.
	AddReadRequest(index Index)
	// PerformReadRequests executes all queued reads.
	PerformReadRequests() error
	// GetNextRequested returns one completed read, in request order.
	GetNextRequested() (*BaselineData, error)
	// MinRecommendedBuffer and MaxRecommendedBuffer bound the read queue
	// for the given worker count.
	MinRecommendedBuffer(workers int) int
	MaxRecommendedBuffer(workers int) int
	// Clone returns an independent handle onto the same set.
	Clone() (ImageSetReader, error)
	// Close releases the handle.
	Close() error
}

// FlagWriter stores finished flag masks, one per polarization.  Calls are
// serialized under the scheduler's I/O lock.  A baseline's flags are written
// atomically: a failed run never leaves a partially updated baseline.
type FlagWriter interface {
	AddWriteTask(index Index, masks []*tf.Mask) error
	PerformWriteTasks() error
}

// ProgressListener receives scheduler progress.  OnProgress is monotone and
// rate-limited by the scheduler.
type ProgressListener interface {
	OnStartTask(description string)
	OnProgress(done, total int)
	OnFinish()
	OnException(err error)
}

// NopProgress discards all progress events.
type NopProgress struct{}

// OnStartTask implements ProgressListener.
func (NopProgress) OnStartTask(string) {}

// OnProgress implements ProgressListener.
func (NopProgress) OnProgress(int, int) {}

// OnFinish implements ProgressListener.
func (NopProgress) OnFinish() {}

// OnException implements ProgressListener.
func (NopProgress) OnException(error) {}
