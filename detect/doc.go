// Copyright 2023 Skysift, Inc.  All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

// Package detect implements the per-baseline RFI detection engine: the
// SumThreshold combinatorial thresholder (plain and missing-aware), the
// scale-invariant rank operator, morphological segmentation and
// classification, the Gaussian high-pass background fitter, and the
// iterative detector that drives them.
//
// All kernels are pure functions of their inputs plus caller-supplied
// scratch buffers; two goroutines running different baselines share no
// mutable state.
package detect
