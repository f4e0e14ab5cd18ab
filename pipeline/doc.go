// Copyright 2023 Skysift, Inc.  All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

// Package pipeline schedules per-baseline detection over an image set: a
// reader goroutine owning the single I/O handle, a pool of detection
// workers, and a writer goroutine, joined by bounded queues.  Each baseline
// is CPU-bound for milliseconds to seconds, so the pipeline is deliberately
// coarse-grained at the baseline level.
package pipeline
