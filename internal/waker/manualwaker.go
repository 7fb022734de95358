// Copyright 2024 Google Inc. All Rights Reserved.
// This file is available under the Apache license.

package waker

import "sync"

// A Manual is a Waker woken explicitly by a test.  A Broadcast before any
// sleeper is waiting is remembered and satisfies the next Wake, so tests
// cannot lose a wakeup to scheduling; a sleeper may observe one extra
// wake as a consequence, which idle scan sweeps tolerate.
type Manual struct {
	mu    sync.Mutex // protects following fields
	wake  chan struct{}
	fired bool
}

func NewManual() *Manual {
	return &Manual{wake: make(chan struct{})}
}

// Wake implements the Waker interface.
func (m *Manual) Wake() <-chan struct{} {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := m.wake
	if m.fired {
		m.fired = false
		m.wake = make(chan struct{})
	}
	return c
}

// Broadcast wakes every sleeper, or the next one to arrive.
func (m *Manual) Broadcast() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.fired {
		close(m.wake)
		m.fired = true
	}
}
