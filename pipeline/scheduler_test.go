// Copyright 2023 Skysift, Inc.  All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

package pipeline

import (
	"sync"
	"testing"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/testutil/expect"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skysift/rfi/detect"
	"github.com/skysift/rfi/tf"
)

// fakeSet serves synthetic baselines: a small image with one bright sample
// whose position depends on the baseline number.
type fakeSet struct {
	mu            sync.Mutex
	n             int
	maxBuffer     int
	requests      []int
	maxBatch      int
	failAt        int // baseline index whose read fails; -1 disables
	width, height int
}

func newFakeSet(n, maxBuffer int) *fakeSet {
	return &fakeSet{n: n, maxBuffer: maxBuffer, failAt: -1, width: 16, height: 8}
}

type fakeIndex struct{ pos, n int }

func (i *fakeIndex) Valid() bool { return i.pos < i.n }
func (i *fakeIndex) Next()       { i.pos++ }
func (i *fakeIndex) Clone() Index {
	c := *i
	return &c
}

func (s *fakeSet) StartIndex() Index { return &fakeIndex{n: s.n} }

func (s *fakeSet) BaselineInfo(index Index) BaselineInfo {
	pos := index.(*fakeIndex).pos
	// Distinct antenna pairs; all cross-correlations.
	return BaselineInfo{Antenna1: pos, Antenna2: pos + 1}
}

func (s *fakeSet) Dimensions() (int, int, int) { return 1, s.width, s.height }

func (s *fakeSet) AddReadRequest(index Index) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests = append(s.requests, index.(*fakeIndex).pos)
	if len(s.requests) > s.maxBatch {
		s.maxBatch = len(s.requests)
	}
}

func (s *fakeSet) PerformReadRequests() error { return nil }

// baselineImage returns the synthetic image for one baseline, with a bright
// sample whose position is derived from the baseline number.
func (s *fakeSet) baselineImage(pos int) *tf.Image {
	image := tf.NewImage(s.width, s.height)
	image.SetValue(pos%s.width, (pos/3)%s.height, 500)
	return image
}

func (s *fakeSet) GetNextRequested() (*BaselineData, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.requests) == 0 {
		return nil, errors.New("fakeSet: no requests")
	}
	pos := s.requests[0]
	s.requests = s.requests[1:]
	if pos == s.failAt {
		return nil, errors.E("fakeSet: synthetic read failure at", pos)
	}
	data := tf.NewAmplitudeData(tf.PolXX, s.baselineImage(pos))
	return &BaselineData{
		Data: data,
		Metadata: &tf.Metadata{
			Antenna1: tf.Antenna{ID: pos, Name: "A"},
			Antenna2: tf.Antenna{ID: pos + 1, Name: "B"},
		},
		Index: &fakeIndex{pos: pos, n: s.n},
	}, nil
}

func (s *fakeSet) MinRecommendedBuffer(workers int) int { return s.maxBuffer / 2 }
func (s *fakeSet) MaxRecommendedBuffer(workers int) int { return s.maxBuffer }

func (s *fakeSet) Clone() (ImageSetReader, error) { return s, nil }
func (s *fakeSet) Close() error                   { return nil }

// countingWriter records every written mask.
type countingWriter struct {
	mu     sync.Mutex
	counts map[int]int
}

func newCountingWriter() *countingWriter {
	return &countingWriter{counts: make(map[int]int)}
}

func (w *countingWriter) AddWriteTask(index Index, masks []*tf.Mask) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	pos := index.(*fakeIndex).pos
	w.counts[pos] = masks[0].Count()
	return nil
}

func (w *countingWriter) PerformWriteTasks() error { return nil }

// recordingProgress captures listener calls.
type recordingProgress struct {
	mu        sync.Mutex
	started   bool
	finished  bool
	exception error
	updates   [][2]int
}

func (p *recordingProgress) OnStartTask(string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.started = true
}

func (p *recordingProgress) OnProgress(done, total int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.updates = append(p.updates, [2]int{done, total})
}

func (p *recordingProgress) OnFinish() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.finished = true
}

func (p *recordingProgress) OnException(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.exception = err
}

func testStrategy() detect.Strategy {
	s := detect.DefaultStrategy()
	// Keep the synthetic masks minimal and deterministic.
	s.SIREtaTime = 0
	s.SIREtaFreq = 0
	return s
}

func TestSchedulerProcessesAllBaselines(t *testing.T) {
	const baselines = 100
	set := newFakeSet(baselines, 4)
	writer := newCountingWriter()
	progress := &recordingProgress{}

	s := NewScheduler(set, writer, Filter{Selection: AllBaselines}, Opts{
		Workers:  2,
		Strategy: testStrategy(),
		Progress: progress,
	})
	require.NoError(t, s.Run())

	// Exactly one mask per baseline reached the writer.
	assert.Equal(t, baselines, len(writer.counts))

	// The reader never had more than the maximum buffer outstanding.
	expect.True(t, set.maxBatch <= 4)

	// Every 25th baseline's mask matches an independent detection of the
	// same baseline.
	detector, err := detect.NewDetector(testStrategy())
	require.NoError(t, err)
	total := 0
	for pos, count := range writer.counts {
		total += count
		if pos%25 == 0 {
			data := tf.NewAmplitudeData(tf.PolXX, set.baselineImage(pos))
			mask, err := detector.Run(data)
			require.NoError(t, err)
			assert.Equal(t, mask.Count(), count, "baseline %d", pos)
		}
	}
	expect.True(t, total >= baselines)

	expect.True(t, progress.started)
	expect.True(t, progress.finished)
	expect.Nil(t, progress.exception)
	// Progress is monotone and ends at (100, 100).
	last := [2]int{-1, baselines}
	for _, u := range progress.updates {
		expect.True(t, u[0] >= last[0])
		expect.EQ(t, u[1], baselines)
		last = u
	}
	expect.EQ(t, last[0], baselines)
}

func TestSchedulerSelectionFilter(t *testing.T) {
	set := newFakeSet(20, 4)
	writer := newCountingWriter()
	filter := Filter{
		Selection:    AllBaselines,
		SkipAntennae: map[int]bool{3: true},
	}
	s := NewScheduler(set, writer, filter, Opts{
		Workers:  2,
		Strategy: testStrategy(),
	})
	require.NoError(t, s.Run())
	// Baselines 2 (antennae 2,3) and 3 (antennae 3,4) are skipped.
	assert.Equal(t, 18, len(writer.counts))
	_, ok := writer.counts[2]
	expect.False(t, ok)
	_, ok = writer.counts[3]
	expect.False(t, ok)
}

func TestSchedulerSurfacesReadFailure(t *testing.T) {
	set := newFakeSet(50, 4)
	set.failAt = 30
	writer := newCountingWriter()
	progress := &recordingProgress{}
	s := NewScheduler(set, writer, Filter{Selection: AllBaselines}, Opts{
		Workers:  2,
		Strategy: testStrategy(),
		Progress: progress,
	})
	err := s.Run()
	assert.Error(t, err)
	expect.NotNil(t, progress.exception)
	// Completed baselines stay written.
	expect.True(t, len(writer.counts) <= 50)
}

func TestFilterSelection(t *testing.T) {
	cross := Filter{Selection: CrossCorrelations}
	expect.True(t, cross.Accept(BaselineInfo{Antenna1: 1, Antenna2: 2}))
	expect.False(t, cross.Accept(BaselineInfo{Antenna1: 1, Antenna2: 1}))

	auto := Filter{Selection: AutoCorrelations}
	expect.True(t, auto.Accept(BaselineInfo{Antenna1: 1, Antenna2: 1}))
	expect.False(t, auto.Accept(BaselineInfo{Antenna1: 1, Antenna2: 2}))

	current := Filter{
		Selection:       AutoOfCurrentAntennae,
		CurrentAntennae: [2]int{4, 7},
	}
	expect.True(t, current.Accept(BaselineInfo{Antenna1: 4, Antenna2: 4}))
	expect.False(t, current.Accept(BaselineInfo{Antenna1: 5, Antenna2: 5}))

	bands := Filter{Selection: AllBaselines, Bands: map[int]bool{1: true}}
	expect.True(t, bands.Accept(BaselineInfo{Band: 1}))
	expect.False(t, bands.Accept(BaselineInfo{Band: 2}))

	include := Filter{
		Selection:       AllBaselines,
		IncludeAntennae: map[int]bool{5: true},
	}
	expect.True(t, include.Accept(BaselineInfo{Antenna1: 5, Antenna2: 9}))
	expect.False(t, include.Accept(BaselineInfo{Antenna1: 1, Antenna2: 2}))
}

func TestParseBaselineSelection(t *testing.T) {
	for _, tc := range []struct {
		in   string
		want BaselineSelection
	}{
		{"", CrossCorrelations},
		{"cross", CrossCorrelations},
		{"all", AllBaselines},
		{"auto", AutoCorrelations},
	} {
		got, err := ParseBaselineSelection(tc.in)
		require.NoError(t, err)
		expect.EQ(t, got, tc.want)
	}
	_, err := ParseBaselineSelection("bogus")
	assert.Error(t, err)
}
