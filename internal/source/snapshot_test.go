// Copyright 2024 Google Inc. All Rights Reserved.
// This file is available under the Apache license.

package source

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/pathwatch/internal/event"
	"github.com/google/pathwatch/internal/testutil"
	"github.com/google/pathwatch/internal/waker"
)

func makeSnapshot(t *testing.T, roots ...string) (Source, *waker.Manual) {
	t.Helper()
	wk := waker.NewManual()
	s := NewSnapshot(wk)
	t.Cleanup(func() { s.Close() })
	testutil.FatalIfErr(t, s.Subscribe(roots))
	return s, wk
}

func TestSnapshotCreate(t *testing.T) {
	tmp := testutil.TestTempDir(t)
	s, wk := makeSnapshot(t, tmp)
	path := filepath.Join(tmp, "a.txt")
	testutil.WriteString(t, path, "hi\n")
	wk.Broadcast()
	awaitEvent(t, s, scanDeadline, pathAndKind(path, event.Created))
}

func TestSnapshotModify(t *testing.T) {
	tmp := testutil.TestTempDir(t)
	path := filepath.Join(tmp, "a.txt")
	testutil.WriteString(t, path, "hi\n")
	s, wk := makeSnapshot(t, tmp)
	// A size change is seen even if the timestamp granularity hides it.
	testutil.WriteString(t, path, "more\n")
	wk.Broadcast()
	awaitEvent(t, s, scanDeadline, pathAndKind(path, event.Modified))
}

func TestSnapshotRemove(t *testing.T) {
	tmp := testutil.TestTempDir(t)
	path := filepath.Join(tmp, "a.txt")
	testutil.WriteString(t, path, "hi\n")
	s, wk := makeSnapshot(t, tmp)
	testutil.FatalIfErr(t, os.Remove(path))
	wk.Broadcast()
	awaitEvent(t, s, scanDeadline, pathAndKind(path, event.Removed))
}

func TestSnapshotRootRemovalReportsRootChanged(t *testing.T) {
	tmp := testutil.TestTempDir(t)
	root := filepath.Join(tmp, "root")
	testutil.FatalIfErr(t, os.Mkdir(root, 0o700))
	testutil.WriteString(t, filepath.Join(root, "a.txt"), "hi\n")
	s, wk := makeSnapshot(t, root)
	testutil.FatalIfErr(t, os.RemoveAll(root))
	wk.Broadcast()
	raw := awaitEvent(t, s, scanDeadline, pathAndKind(root, event.RootChanged))
	if !raw.Kind.Has(event.Removed) {
		t.Errorf("root loss carries %v, want a Removed bit", raw.Kind)
	}
}

func TestSnapshotQuiescentSweepEmitsNothing(t *testing.T) {
	tmp := testutil.TestTempDir(t)
	testutil.WriteString(t, filepath.Join(tmp, "a.txt"), "hi\n")
	s, wk := makeSnapshot(t, tmp)
	wk.Broadcast()
	select {
	case raw := <-s.Events():
		t.Errorf("quiescent sweep emitted %v", raw)
	case <-time.After(100 * time.Millisecond):
	}
}
