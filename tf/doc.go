// Copyright 2023 Skysift, Inc.  All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

// Package tf provides the time-frequency containers the detection kernels
// operate on: row-padded float32 images, parallel boolean flag masks,
// segmented images for morphological labeling, and the per-baseline
// polarization bundle.
//
// Rows are stored contiguously with a stride rounded up to a multiple of
// eight samples so that stripe-oriented kernels can read past the row width
// without branching.  Image pad samples are zero; mask pad bytes are true.
package tf
