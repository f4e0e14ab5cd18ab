// Copyright 2023 Skysift, Inc.  All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

package pipeline

import (
	"github.com/grailbio/base/log"
)

// inFlightCopies approximates how many copies of a baseline's data are alive
// while it moves through the pipeline.
const inFlightCopies = 3.0

// estimatePerWorkerMemory returns the expected bytes one worker holds for
// one baseline: complex float32 samples per polarization, times the
// in-flight copy factor.
func estimatePerWorkerMemory(polarizations, timeSteps, channels int) float64 {
	return 8.0 * float64(polarizations) * float64(timeSteps) * float64(channels) * inFlightCopies
}

// fitWorkerCount reduces the requested worker count until the estimated
// memory use fits in physical memory, with a floor of one worker.
func fitWorkerCount(workers int, perWorker float64) int {
	total := totalPhysicalMemory()
	if total <= 0 {
		return workers
	}
	if perWorker*float64(workers) <= float64(total) {
		return workers
	}
	fit := int(float64(total) / perWorker)
	if fit < 1 {
		fit = 1
	}
	log.Error.Printf("pipeline: %d workers would need %.1f GB but %.1f GB physical memory detected; using %d workers",
		workers, perWorker*float64(workers)/(1024*1024*1024), float64(total)/(1024*1024*1024), fit)
	return fit
}
