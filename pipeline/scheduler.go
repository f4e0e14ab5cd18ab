// Copyright 2023 Skysift, Inc.  All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

package pipeline

import (
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/log"

	"github.com/skysift/rfi/detect"
	"github.com/skysift/rfi/tf"
)

// progressInterval rate-limits ProgressListener.OnProgress calls.
const progressInterval = 100 * time.Millisecond

// Opts configures a scheduler run.
type Opts struct {
	// Workers is the number of detection goroutines; 0 uses all CPUs.
	Workers int
	// Strategy configures the per-baseline detector.
	Strategy detect.Strategy
	// Bandpass, when non-nil, is applied to every baseline before
	// detection.
	Bandpass *detect.Bandpass
	// Progress receives run progress; nil discards it.
	Progress ProgressListener
}

// Scheduler processes every selected baseline of an image set through the
// detection pipeline: one reader goroutine owning the I/O handle, Workers
// detection goroutines, and one writer goroutine draining finished masks.
// Masks may be written in any order; a baseline's flags are complete before
// they are handed to the writer.
type Scheduler struct {
	reader ImageSetReader
	writer FlagWriter
	filter Filter
	opts   Opts

	ioMu sync.Mutex

	mu            sync.Mutex
	dataAvailable *sync.Cond
	dataProcessed *sync.Cond
	buffer        []*BaselineData
	finished      bool

	failed   atomic.Bool
	firstErr errors.Once

	baselineCount    int
	baselineProgress atomic.Int64

	loopIndex Index
}

type writeTask struct {
	index Index
	masks []*tf.Mask
}

// NewScheduler returns a scheduler over the given collaborators.
func NewScheduler(reader ImageSetReader, writer FlagWriter, filter Filter, opts Opts) *Scheduler {
	s := &Scheduler{
		reader: reader,
		writer: writer,
		filter: filter,
		opts:   opts,
	}
	if s.opts.Workers <= 0 {
		s.opts.Workers = runtime.NumCPU()
	}
	if s.opts.Progress == nil {
		s.opts.Progress = NopProgress{}
	}
	s.dataAvailable = sync.NewCond(&s.mu)
	s.dataProcessed = sync.NewCond(&s.mu)
	return s
}

// Run processes all selected baselines.  The first failure from any
// goroutine aborts the run and is returned; flags already written stay
// written.
func (s *Scheduler) Run() error {
	// Fit the worker count to physical memory before spawning anything.
	pols, timeSteps, channels := s.reader.Dimensions()
	perWorker := estimatePerWorkerMemory(pols, timeSteps, channels)
	workers := fitWorkerCount(s.opts.Workers, perWorker)
	log.Debug.Printf("pipeline: %d workers, estimated %.1f MB per worker",
		workers, perWorker/(1024*1024))

	// Count the baselines to be processed.
	s.baselineCount = 0
	for index := s.reader.StartIndex(); index.Valid(); index.Next() {
		if s.filter.Accept(s.reader.BaselineInfo(index)) {
			s.baselineCount++
		}
	}
	log.Debug.Printf("pipeline: will process %d baselines", s.baselineCount)
	s.loopIndex = s.reader.StartIndex()

	s.opts.Progress.OnStartTask("Detecting interference")

	writeCh := make(chan writeTask, 2*workers)
	var readerWG, workerWG, writerWG sync.WaitGroup

	readerWG.Add(1)
	go func() {
		defer readerWG.Done()
		s.readLoop(workers)
	}()

	workerWG.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer workerWG.Done()
			s.workLoop(writeCh)
		}()
	}

	writerWG.Add(1)
	go func() {
		defer writerWG.Done()
		s.writeLoop(writeCh)
	}()

	stopProgress := make(chan struct{})
	var progressWG sync.WaitGroup
	progressWG.Add(1)
	go func() {
		defer progressWG.Done()
		s.progressLoop(stopProgress)
	}()

	readerWG.Wait()
	workerWG.Wait()
	close(writeCh)
	writerWG.Wait()
	close(stopProgress)
	progressWG.Wait()

	err := s.firstErr.Err()
	if err != nil {
		s.opts.Progress.OnException(err)
	}
	s.opts.Progress.OnProgress(int(s.baselineProgress.Load()), s.baselineCount)
	s.opts.Progress.OnFinish()
	return err
}

// fail records the first error and wakes every waiter.
func (s *Scheduler) fail(err error) {
	s.firstErr.Set(err)
	s.failed.Store(true)
	s.mu.Lock()
	s.dataAvailable.Broadcast()
	s.dataProcessed.Broadcast()
	s.mu.Unlock()
}

// nextIndex returns a clone of the next selected index, or nil at the end.
func (s *Scheduler) nextIndex() Index {
	s.mu.Lock()
	defer s.mu.Unlock()
	for s.loopIndex.Valid() {
		if s.filter.Accept(s.reader.BaselineInfo(s.loopIndex)) {
			index := s.loopIndex.Clone()
			s.loopIndex.Next()
			return index
		}
		s.loopIndex.Next()
	}
	return nil
}

// waitForBufferBelow blocks the reader until the buffer drains to the given
// size, so reads resume in batches rather than one at a time.
func (s *Scheduler) waitForBufferBelow(size int) {
	s.mu.Lock()
	for len(s.buffer) > size && !s.failed.Load() {
		s.dataProcessed.Wait()
	}
	s.mu.Unlock()
}

func (s *Scheduler) bufferLen() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.buffer)
}

// readLoop owns the shared I/O handle: it requests batches of selected
// baselines and appends them to the bounded buffer, blocking while the
// buffer is above the minimum recommended size.
func (s *Scheduler) readLoop(workers int) {
	minBuffer := s.reader.MinRecommendedBuffer(workers)
	maxBuffer := s.reader.MaxRecommendedBuffer(workers)
	if minBuffer < 1 {
		minBuffer = 1
	}
	if maxBuffer < minBuffer {
		maxBuffer = minBuffer
	}
	finished := false
	for !finished && !s.failed.Load() {
		s.waitForBufferBelow(minBuffer)
		var err error
		finished, err = s.readBatch(maxBuffer)
		if err != nil {
			s.fail(err)
			break
		}
		s.mu.Lock()
		s.dataAvailable.Broadcast()
		s.mu.Unlock()
	}
	s.mu.Lock()
	s.finished = true
	s.dataAvailable.Broadcast()
	s.mu.Unlock()
}

// readBatch fills the buffer back up to max under the I/O lock.  It reports
// whether the index iterator is exhausted.
func (s *Scheduler) readBatch(max int) (finished bool, err error) {
	wanted := max - s.bufferLen()
	requested := 0

	s.ioMu.Lock()
	defer s.ioMu.Unlock()
	for i := 0; i < wanted; i++ {
		index := s.nextIndex()
		if index == nil {
			finished = true
			break
		}
		s.reader.AddReadRequest(index)
		requested++
	}
	if requested == 0 {
		return finished, nil
	}
	if err := s.reader.PerformReadRequests(); err != nil {
		return finished, err
	}
	for i := 0; i < requested; i++ {
		baseline, err := s.reader.GetNextRequested()
		if err != nil {
			return finished, err
		}
		s.mu.Lock()
		s.buffer = append(s.buffer, baseline)
		s.mu.Unlock()
	}
	return finished, nil
}

// nextBaseline blocks until a baseline is available; nil means the run is
// over (drained or failed).
func (s *Scheduler) nextBaseline() *BaselineData {
	s.mu.Lock()
	defer s.mu.Unlock()
	for len(s.buffer) == 0 && !s.finished && !s.failed.Load() {
		s.dataAvailable.Wait()
	}
	if len(s.buffer) == 0 || s.failed.Load() {
		return nil
	}
	baseline := s.buffer[len(s.buffer)-1]
	s.buffer = s.buffer[:len(s.buffer)-1]
	s.dataProcessed.Signal()
	return baseline
}

// workLoop clones a private image-set handle, then detects baselines until
// the buffer drains.
func (s *Scheduler) workLoop(writeCh chan<- writeTask) {
	s.ioMu.Lock()
	private, err := s.reader.Clone()
	s.ioMu.Unlock()
	if err != nil {
		s.fail(err)
		return
	}
	defer func() {
		if err := private.Close(); err != nil {
			log.Error.Printf("pipeline: closing private reader: %v", err)
		}
	}()

	detector, err := detect.NewDetector(s.opts.Strategy)
	if err != nil {
		s.fail(err)
		return
	}

	for baseline := s.nextBaseline(); baseline != nil; baseline = s.nextBaseline() {
		if baseline.Metadata != nil {
			log.Debug.Printf("pipeline: processing %s x %s",
				baseline.Metadata.Antenna1.Name, baseline.Metadata.Antenna2.Name)
		}
		if s.opts.Bandpass != nil && baseline.Metadata != nil {
			s.opts.Bandpass.Apply(baseline.Data, baseline.Metadata)
		}
		mask, err := detector.Run(baseline.Data)
		if err != nil {
			s.fail(err)
			return
		}
		masks := make([]*tf.Mask, baseline.Data.PolarizationCount())
		for i := range masks {
			masks[i] = mask
		}
		writeCh <- writeTask{index: baseline.Index, masks: masks}
		s.baselineProgress.Add(1)
	}
}

// writeLoop drains finished masks through the flag writer under the I/O
// lock.  After a failure it keeps draining without writing so workers are
// never blocked on the channel.
func (s *Scheduler) writeLoop(writeCh <-chan writeTask) {
	for task := range writeCh {
		if s.failed.Load() {
			continue
		}
		s.ioMu.Lock()
		err := s.writer.AddWriteTask(task.index, task.masks)
		if err == nil {
			err = s.writer.PerformWriteTasks()
		}
		s.ioMu.Unlock()
		if err != nil {
			s.fail(err)
		}
	}
}

// progressLoop emits monotone progress at most every 100 ms.
func (s *Scheduler) progressLoop(stop <-chan struct{}) {
	ticker := time.NewTicker(progressInterval)
	defer ticker.Stop()
	last := -1
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			done := int(s.baselineProgress.Load())
			if done > last {
				last = done
				s.opts.Progress.OnProgress(done, s.baselineCount)
			}
		}
	}
}
