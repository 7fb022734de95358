// Copyright 2024 Google Inc. All Rights Reserved.
// This file is available under the Apache license.

package source

import (
	"expvar"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/golang/glog"

	"github.com/google/pathwatch/internal/event"
	"github.com/google/pathwatch/internal/waker"
)

var (
	pollScanCount  = expvar.NewInt("poll_scan_count")
	pollEventCount = expvar.NewInt("poll_event_count")
)

// pollEntry is the last observed state of one path.
type pollEntry struct {
	mod   time.Time
	isDir bool
}

// pollSource rescans every watched root on each wake of its waker,
// comparing modification times against the last sweep.  Latency is
// bounded below by the scan interval, but there are no kernel queue
// limits and so no overflow condition.
type pollSource struct {
	wake   waker.Waker
	events chan event.Raw
	stop   chan struct{}

	mu      sync.Mutex // protects following fields
	roots   []string
	seen    map[string]pollEntry
	present map[string]bool // whether each root existed at the last sweep

	runDone   chan struct{}
	closeOnce sync.Once
}

// NewPoll returns a Source that sweeps once per wake of scanWaker.
func NewPoll(scanWaker waker.Waker) Source {
	s := &pollSource{
		wake:    scanWaker,
		events:  make(chan event.Raw),
		stop:    make(chan struct{}),
		seen:    make(map[string]pollEntry),
		present: make(map[string]bool),
	}
	s.runDone = make(chan struct{})
	go s.run()
	return s
}

// Subscribe verifies each root is scannable and primes the baseline
// sweep, which emits nothing.  Verification is all or nothing.
func (s *pollSource) Subscribe(roots []string) error {
	for _, root := range roots {
		fi, err := os.Lstat(root)
		if err != nil && !os.IsNotExist(err) {
			return &SubscriptionError{Root: root, Err: err}
		}
		if err == nil && fi.IsDir() {
			if _, err := os.ReadDir(root); err != nil {
				return &SubscriptionError{Root: root, Err: err}
			}
		}
	}
	s.mu.Lock()
	s.roots = append(s.roots, roots...)
	s.mu.Unlock()
	for _, root := range roots {
		for _, raw := range s.sweep(root) {
			// Baseline: record state, report nothing.
			glog.V(2).Infof("Priming %q, suppressed %v", root, raw)
		}
	}
	return nil
}

func (s *pollSource) run() {
	defer close(s.runDone)
	defer close(s.events)
	for {
		select {
		case <-s.stop:
			return
		case <-s.wake.Wake():
			s.scan()
		}
	}
}

func (s *pollSource) scan() {
	pollScanCount.Add(1)
	s.mu.Lock()
	roots := append([]string(nil), s.roots...)
	s.mu.Unlock()
	for _, root := range roots {
		for _, raw := range s.sweep(root) {
			pollEventCount.Add(1)
			s.send(raw)
		}
	}
}

// sweep stats root and its descendants, returning one raw event per
// difference from the previous sweep and updating the recorded state.
func (s *pollSource) sweep(root string) (changed []event.Raw) {
	now := time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := os.Lstat(root); err != nil {
		if !os.IsNotExist(err) {
			glog.V(1).Infof("Couldn't stat %q: %s", root, err)
			return nil
		}
		if s.present[root] {
			// The root itself went away; one event covers the subtree.
			s.present[root] = false
			s.forgetLocked(root)
			changed = append(changed, event.Raw{Path: root, Kind: event.Removed | event.RootChanged, When: now})
		}
		return changed
	}
	s.present[root] = true
	visited := make(map[string]struct{})
	werr := filepath.Walk(root, func(path string, fi os.FileInfo, err error) error {
		if err != nil {
			glog.V(1).Infof("Couldn't visit %q: %s", path, err)
			return nil
		}
		visited[path] = struct{}{}
		prev, ok := s.seen[path]
		switch {
		case !ok:
			changed = append(changed, event.Raw{Path: path, Kind: event.Created, When: now})
		case !fi.IsDir() && !fi.ModTime().Equal(prev.mod):
			changed = append(changed, event.Raw{Path: path, Kind: event.Modified, When: now})
		}
		s.seen[path] = pollEntry{mod: fi.ModTime(), isDir: fi.IsDir()}
		return nil
	})
	if werr != nil {
		glog.V(1).Infof("Walking %q: %s", root, werr)
	}
	for path := range s.seen {
		if path != root && !strings.HasPrefix(path, root+string(filepath.Separator)) {
			continue
		}
		if _, ok := visited[path]; !ok {
			changed = append(changed, event.Raw{Path: path, Kind: event.Removed, When: now})
			delete(s.seen, path)
		}
	}
	return changed
}

// forgetLocked drops recorded state for root and everything under it.
func (s *pollSource) forgetLocked(root string) {
	for path := range s.seen {
		if path == root || strings.HasPrefix(path, root+string(filepath.Separator)) {
			delete(s.seen, path)
		}
	}
}

func (s *pollSource) send(raw event.Raw) {
	select {
	case s.events <- raw:
	case <-s.stop:
	}
}

func (s *pollSource) Events() <-chan event.Raw {
	return s.events
}

// Err always returns nil: a scan loop has no backend to die underneath it.
func (s *pollSource) Err() error {
	return nil
}

func (s *pollSource) Close() error {
	s.closeOnce.Do(func() {
		close(s.stop)
		<-s.runDone
	})
	return nil
}
