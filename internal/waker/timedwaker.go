// Copyright 2020 Google Inc. All Rights Reserved.
// This file is available under the Apache license.

package waker

import (
	"context"
	"sync"
	"time"
)

// A timedWaker wakes callers on a regular interval.
type timedWaker struct {
	Waker

	ticker *time.Ticker

	mu   sync.Mutex // protects following fields
	wake chan struct{}
}

// NewTimed returns a Waker that wakes all sleepers every interval, until
// the context is cancelled.
func NewTimed(ctx context.Context, interval time.Duration) Waker {
	w := &timedWaker{
		ticker: time.NewTicker(interval),
		wake:   make(chan struct{}),
	}
	go func() {
		defer w.ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-w.ticker.C:
				w.mu.Lock()
				close(w.wake)
				w.wake = make(chan struct{})
				w.mu.Unlock()
			}
		}
	}()
	return w
}

// Wake implements the Waker interface.
func (w *timedWaker) Wake() (c <-chan struct{}) {
	w.mu.Lock()
	c = w.wake
	w.mu.Unlock()
	return c
}
