// Copyright 2023 Skysift, Inc.  All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

package flagfile

import (
	"github.com/skysift/rfi/pipeline"
	"github.com/skysift/rfi/tf"
)

// TaskWriter adapts a flag archive to the scheduler's FlagWriter surface.
// The resolver maps an image-set index to the baseline identity stored in
// the archive.
type TaskWriter struct {
	w       *Writer
	resolve func(pipeline.Index) (BaselineID, error)
}

// NewTaskWriter returns a FlagWriter appending to w.
func NewTaskWriter(w *Writer, resolve func(pipeline.Index) (BaselineID, error)) *TaskWriter {
	return &TaskWriter{w: w, resolve: resolve}
}

// AddWriteTask implements pipeline.FlagWriter.
func (t *TaskWriter) AddWriteTask(index pipeline.Index, masks []*tf.Mask) error {
	id, err := t.resolve(index)
	if err != nil {
		return err
	}
	return t.w.AppendMasks(id, masks)
}

// PerformWriteTasks implements pipeline.FlagWriter.  Appends are written
// eagerly, so there is nothing to flush per task.
func (t *TaskWriter) PerformWriteTasks() error { return nil }
