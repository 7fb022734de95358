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

	"github.com/fsnotify/fsnotify"
	"github.com/golang/glog"
	"github.com/pkg/errors"

	"github.com/google/pathwatch/internal/event"
)

var (
	notifyEventCount    = expvar.NewInt("notify_event_count")
	notifyErrorCount    = expvar.NewInt("notify_error_count")
	notifyOverflowCount = expvar.NewInt("notify_overflow_count")
)

// notifySource feeds raw events from the kernel notification queue.  The
// kernel primitive watches single directories, so a subscription expands
// each root into a recursive set of directory watches, extended on the
// fly as new subdirectories appear.
type notifySource struct {
	w      *fsnotify.Watcher
	events chan event.Raw
	stop   chan struct{}

	mu      sync.Mutex // protects following fields
	roots   []string
	watches map[string]struct{} // directories with an active kernel watch
	closing bool
	err     error

	runDone   chan struct{}
	closeOnce sync.Once
}

// NewNotify returns a Source backed by the kernel notification service.
func NewNotify() (Source, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, errors.Wrap(err, "creating kernel watcher")
	}
	s := &notifySource{
		w:       w,
		events:  make(chan event.Raw),
		stop:    make(chan struct{}),
		watches: make(map[string]struct{}),
		runDone: make(chan struct{}),
	}
	go s.run()
	return s, nil
}

// Subscribe adds recursive directory watches for every root.  Any failure
// rolls back the watches already established and fails the whole
// subscription.
func (s *notifySource) Subscribe(roots []string) error {
	var added []string
	for _, root := range roots {
		dirs, err := watchableDirs(root)
		if err != nil {
			s.rollback(added)
			return &SubscriptionError{Root: root, Err: err}
		}
		for _, dir := range dirs {
			if err := s.addDir(dir); err != nil {
				s.rollback(added)
				return &SubscriptionError{Root: root, Err: err}
			}
			added = append(added, dir)
		}
		s.mu.Lock()
		s.roots = append(s.roots, root)
		s.mu.Unlock()
		glog.V(1).Infof("Subscribed %q with %d directory watches", root, len(dirs))
	}
	return nil
}

// watchableDirs expands a root into the directories needing kernel
// watches.  A file root watches its parent; a root that doesn't exist yet
// watches the nearest parent so its creation is observed.
func watchableDirs(root string) ([]string, error) {
	fi, err := os.Stat(root)
	if err != nil {
		if os.IsNotExist(err) {
			parent := filepath.Dir(root)
			if _, perr := os.Stat(parent); perr != nil {
				return nil, perr
			}
			return []string{parent}, nil
		}
		return nil, err
	}
	if !fi.IsDir() {
		return []string{filepath.Dir(root)}, nil
	}
	var dirs []string
	err = filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			dirs = append(dirs, path)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return dirs, nil
}

func (s *notifySource) addDir(dir string) error {
	s.mu.Lock()
	_, ok := s.watches[dir]
	s.mu.Unlock()
	if ok {
		return nil
	}
	if err := s.w.Add(dir); err != nil {
		return err
	}
	s.mu.Lock()
	s.watches[dir] = struct{}{}
	s.mu.Unlock()
	glog.V(2).Infof("Added kernel watch on %q", dir)
	return nil
}

func (s *notifySource) rollback(dirs []string) {
	for _, dir := range dirs {
		if err := s.w.Remove(dir); err != nil {
			glog.V(1).Infof("Couldn't remove watch on %q during rollback: %s", dir, err)
		}
		s.mu.Lock()
		delete(s.watches, dir)
		s.mu.Unlock()
	}
}

func (s *notifySource) run() {
	defer close(s.runDone)
	defer close(s.events)
	for {
		select {
		case err, ok := <-s.w.Errors:
			if !ok {
				s.exit()
				return
			}
			notifyErrorCount.Add(1)
			if errors.Is(err, fsnotify.ErrEventOverflow) {
				glog.Warningf("Kernel event queue overflowed: %s", err)
				notifyOverflowCount.Add(1)
				s.send(event.Raw{Kind: event.Overflow, When: time.Now()})
				continue
			}
			glog.Errorf("Watcher error: %s", err)
		case e, ok := <-s.w.Events:
			if !ok {
				s.exit()
				return
			}
			glog.V(2).Infof("Kernel event %v", e)
			raw, ok := s.translate(e)
			if !ok {
				continue
			}
			notifyEventCount.Add(1)
			s.send(raw)
		}
	}
}

// exit records why the feed closed.  A close not requested by the caller
// means the backend died underneath us.
func (s *notifySource) exit() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closing && s.err == nil {
		s.err = &BackendFatalError{errors.New("kernel event channel closed unexpectedly")}
	}
}

func (s *notifySource) send(raw event.Raw) {
	select {
	case s.events <- raw:
	case <-s.stop:
	}
}

// translate maps a kernel event onto a raw event, dropping events for
// paths outside every subscribed root.
func (s *notifySource) translate(e fsnotify.Event) (event.Raw, bool) {
	root, ok := s.owner(e.Name)
	if !ok {
		glog.V(2).Infof("No watch root owns %q", e.Name)
		return event.Raw{}, false
	}
	var kind event.Kind
	if e.Has(fsnotify.Create) {
		kind |= event.Created
		if fi, err := os.Stat(e.Name); err == nil && fi.IsDir() {
			s.extend(e.Name)
		}
	}
	if e.Has(fsnotify.Write) || e.Has(fsnotify.Chmod) {
		kind |= event.Modified
	}
	if e.Has(fsnotify.Remove) {
		kind |= event.Removed
	}
	if e.Has(fsnotify.Rename) {
		kind |= event.Renamed
	}
	if kind == 0 {
		return event.Raw{}, false
	}
	if e.Name == root && kind&(event.Removed|event.Renamed) != 0 {
		kind |= event.RootChanged
	}
	return event.Raw{Path: e.Name, Kind: kind, When: time.Now()}, true
}

// extend adds watches for a directory created under a subscribed root.
// Failure here is not fatal; the watch just has a blind spot until the
// next event touches it.
func (s *notifySource) extend(dir string) {
	dirs, err := watchableDirs(dir)
	if err != nil {
		glog.V(1).Infof("Couldn't expand new directory %q: %s", dir, err)
		return
	}
	for _, d := range dirs {
		if err := s.addDir(d); err != nil {
			glog.V(1).Infof("Couldn't watch new directory %q: %s", d, err)
		}
	}
}

// owner returns the subscribed root containing path.
func (s *notifySource) owner(path string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, root := range s.roots {
		if path == root || strings.HasPrefix(path, root+string(filepath.Separator)) {
			return root, true
		}
	}
	return "", false
}

func (s *notifySource) Events() <-chan event.Raw {
	return s.events
}

func (s *notifySource) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Close shuts down the kernel watcher.  Safe to call from multiple
// clients.
func (s *notifySource) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closing = true
		s.mu.Unlock()
		close(s.stop)
		err = s.w.Close()
		<-s.runDone
	})
	return err
}
