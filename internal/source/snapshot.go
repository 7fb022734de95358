// Copyright 2024 Google Inc. All Rights Reserved.
// This file is available under the Apache license.

package source

import (
	"expvar"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/golang/glog"

	"github.com/google/pathwatch/internal/event"
	"github.com/google/pathwatch/internal/waker"
)

var (
	snapshotScanCount   = expvar.NewInt("snapshot_scan_count")
	snapshotEventCount  = expvar.NewInt("snapshot_event_count")
	snapshotRenameCount = expvar.NewInt("snapshot_rename_count")
)

// snapEntry is one path's recorded identity and state.
type snapEntry struct {
	id    uint64 // inode, or 0 where the platform has none
	size  int64
	mod   time.Time
	isDir bool
}

// snapshot is the recorded state of one root's whole tree.
type snapshot map[string]snapEntry

// snapshotSource diffs full tree snapshots taken on each wake.  It is the
// fallback for filesystems with no native notification support.  Where
// the platform exposes inode identity, a path that disappears while its
// inode reappears elsewhere in the same sweep is reported as a rename
// rather than a remove/create pair.
type snapshotSource struct {
	wake   waker.Waker
	events chan event.Raw
	stop   chan struct{}

	mu    sync.Mutex // protects following fields
	roots []string
	snaps map[string]snapshot

	runDone   chan struct{}
	closeOnce sync.Once
}

// NewSnapshot returns a snapshot-diffing Source sweeping once per wake of
// scanWaker.
func NewSnapshot(scanWaker waker.Waker) Source {
	s := &snapshotSource{
		wake:    scanWaker,
		events:  make(chan event.Raw),
		stop:    make(chan struct{}),
		snaps:   make(map[string]snapshot),
		runDone: make(chan struct{}),
	}
	go s.run()
	return s
}

// Subscribe records a baseline snapshot of every root.  All or nothing.
func (s *snapshotSource) Subscribe(roots []string) error {
	baselines := make(map[string]snapshot, len(roots))
	for _, root := range roots {
		if fi, err := os.Lstat(root); err == nil && fi.IsDir() {
			if _, err := os.ReadDir(root); err != nil {
				return &SubscriptionError{Root: root, Err: err}
			}
		} else if err != nil && !os.IsNotExist(err) {
			return &SubscriptionError{Root: root, Err: err}
		}
		baselines[root] = takeSnapshot(root)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.roots = append(s.roots, roots...)
	for root, snap := range baselines {
		s.snaps[root] = snap
		glog.V(1).Infof("Baseline snapshot of %q holds %d paths", root, len(snap))
	}
	return nil
}

func (s *snapshotSource) run() {
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

func (s *snapshotSource) scan() {
	snapshotScanCount.Add(1)
	s.mu.Lock()
	roots := append([]string(nil), s.roots...)
	s.mu.Unlock()
	for _, root := range roots {
		cur := takeSnapshot(root)
		s.mu.Lock()
		prev := s.snaps[root]
		s.snaps[root] = cur
		s.mu.Unlock()
		for _, raw := range diffSnapshots(root, prev, cur) {
			snapshotEventCount.Add(1)
			s.send(raw)
		}
	}
}

// takeSnapshot walks root recording every reachable path.  A missing root
// yields an empty snapshot.
func takeSnapshot(root string) snapshot {
	snap := make(snapshot)
	err := filepath.Walk(root, func(path string, fi os.FileInfo, err error) error {
		if err != nil {
			if !os.IsNotExist(err) {
				glog.V(1).Infof("Couldn't visit %q: %s", path, err)
			}
			return nil
		}
		id, _ := fileID(path)
		snap[path] = snapEntry{id: id, size: fi.Size(), mod: fi.ModTime(), isDir: fi.IsDir()}
		return nil
	})
	if err != nil {
		glog.V(1).Infof("Walking %q: %s", root, err)
	}
	return snap
}

// diffSnapshots reports the changes between two sweeps of one root, in a
// deterministic order: the root transition first, then modifications,
// renames, creations, and removals in snapshot iteration order.
func diffSnapshots(root string, prev, cur snapshot) (changed []event.Raw) {
	now := time.Now()
	prevRoot, hadRoot := prev[root]
	curRoot, haveRoot := cur[root]
	switch {
	case hadRoot && !haveRoot:
		// One event covers the whole lost subtree.
		return []event.Raw{{Path: root, Kind: event.Removed | event.RootChanged, When: now}}
	case !hadRoot && haveRoot:
		for path := range cur {
			kind := event.Created
			if path == root {
				kind |= event.RootChanged
			}
			changed = append(changed, event.Raw{Path: path, Kind: kind, When: now})
		}
		return changed
	case hadRoot && haveRoot && prevRoot.id != 0 && curRoot.id != 0 && prevRoot.id != curRoot.id:
		// The root was replaced wholesale.
		changed = append(changed, event.Raw{Path: root, Kind: event.Renamed | event.RootChanged, When: now})
	}

	// Index the paths that vanished by identity so reappearances of the
	// same inode become renames.
	vanished := make(map[uint64]string)
	for path, entry := range prev {
		if _, ok := cur[path]; !ok && entry.id != 0 {
			vanished[entry.id] = path
		}
	}
	renamed := make(map[string]struct{})
	for path, entry := range cur {
		old, wasThere := prev[path]
		switch {
		case !wasThere:
			if from, ok := vanished[entry.id]; ok && entry.id != 0 {
				snapshotRenameCount.Add(1)
				changed = append(changed,
					event.Raw{Path: from, Kind: event.Renamed, When: now},
					event.Raw{Path: path, Kind: event.Renamed, When: now})
				renamed[from] = struct{}{}
				continue
			}
			changed = append(changed, event.Raw{Path: path, Kind: event.Created, When: now})
		case !entry.isDir && (entry.size != old.size || !entry.mod.Equal(old.mod)):
			changed = append(changed, event.Raw{Path: path, Kind: event.Modified, When: now})
		}
	}
	for path := range prev {
		if _, ok := cur[path]; ok {
			continue
		}
		if _, ok := renamed[path]; ok {
			continue
		}
		changed = append(changed, event.Raw{Path: path, Kind: event.Removed, When: now})
	}
	return changed
}

func (s *snapshotSource) send(raw event.Raw) {
	select {
	case s.events <- raw:
	case <-s.stop:
	}
}

func (s *snapshotSource) Events() <-chan event.Raw {
	return s.events
}

// Err always returns nil: a scan loop has no backend to die underneath it.
func (s *snapshotSource) Err() error {
	return nil
}

func (s *snapshotSource) Close() error {
	s.closeOnce.Do(func() {
		close(s.stop)
		<-s.runDone
	})
	return nil
}
