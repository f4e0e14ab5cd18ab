// Copyright 2023 Skysift, Inc.  All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

//go:build !linux
// +build !linux

package pipeline

// totalPhysicalMemory returns 0: memory-based worker fitting is skipped on
// platforms without a sysinfo call.
func totalPhysicalMemory() int64 { return 0 }
