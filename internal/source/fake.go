// Copyright 2024 Google Inc. All Rights Reserved.
// This file is available under the Apache license.

package source

import (
	"sync"
	"time"

	"github.com/golang/glog"

	"github.com/google/pathwatch/internal/event"
)

// Fake is a Source for tests, fed by direct injection.
type Fake struct {
	events chan event.Raw

	mu     sync.Mutex // protects following fields
	roots  []string
	subErr error
	err    error

	closeOnce sync.Once
}

// NewFake returns a new Fake source.
func NewFake() *Fake {
	return &Fake{events: make(chan event.Raw)}
}

// SubscribeError arranges for the next Subscribe to fail with err.
func (f *Fake) SubscribeError(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subErr = err
}

func (f *Fake) Subscribe(roots []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.subErr != nil {
		err := f.subErr
		f.subErr = nil
		return err
	}
	f.roots = append(f.roots, roots...)
	return nil
}

// Roots returns the roots subscribed so far.
func (f *Fake) Roots() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.roots...)
}

// Inject delivers one raw event, blocking until the consumer receives it.
func (f *Fake) Inject(raw event.Raw) {
	glog.V(2).Infof("Injecting %v", raw)
	f.events <- raw
}

// InjectChange delivers a raw event of the given kind for path.
func (f *Fake) InjectChange(path string, kind event.Kind) {
	f.Inject(event.Raw{Path: path, Kind: kind, When: time.Now()})
}

// InjectOverflow delivers the synthetic overflow event.
func (f *Fake) InjectOverflow() {
	f.Inject(event.Raw{Kind: event.Overflow, When: time.Now()})
}

// Fail simulates the backend dying: the feed closes and Err reports a
// BackendFatalError wrapping err.
func (f *Fake) Fail(err error) {
	f.mu.Lock()
	f.err = &BackendFatalError{Err: err}
	f.mu.Unlock()
	f.closeOnce.Do(func() { close(f.events) })
}

func (f *Fake) Events() <-chan event.Raw {
	return f.events
}

func (f *Fake) Err() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.err
}

func (f *Fake) Close() error {
	f.closeOnce.Do(func() { close(f.events) })
	return nil
}
