// Copyright 2020 Google Inc. All Rights Reserved.
// This file is available under the Apache license.

// Package waker signals idle routines that it's time to look for new
// work.  The scan-based event sources block on a Waker between sweeps so
// that tests can drive them deterministically.
package waker

// A Waker is used to signal to idle routines it's time to look for new work.
type Waker interface {
	// Wake returns a channel that's closed when the idle routine should wake up.
	Wake() <-chan struct{}
}
