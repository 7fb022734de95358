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

const scanDeadline = 5 * time.Second

func makePoll(t *testing.T, roots ...string) (Source, *waker.Manual) {
	t.Helper()
	wk := waker.NewManual()
	s := NewPoll(wk)
	t.Cleanup(func() { s.Close() })
	testutil.FatalIfErr(t, s.Subscribe(roots))
	return s, wk
}

func TestPollCreate(t *testing.T) {
	tmp := testutil.TestTempDir(t)
	s, wk := makePoll(t, tmp)
	path := filepath.Join(tmp, "a.txt")
	testutil.WriteString(t, path, "hi\n")
	wk.Broadcast()
	awaitEvent(t, s, scanDeadline, pathAndKind(path, event.Created))
}

func TestPollModify(t *testing.T) {
	tmp := testutil.TestTempDir(t)
	path := filepath.Join(tmp, "a.txt")
	testutil.WriteString(t, path, "hi\n")
	s, wk := makePoll(t, tmp)
	// Advance the modtime explicitly so coarse filesystem timestamp
	// granularity can't hide the write.
	future := time.Now().Add(2 * time.Second)
	testutil.FatalIfErr(t, os.Chtimes(path, future, future))
	wk.Broadcast()
	awaitEvent(t, s, scanDeadline, pathAndKind(path, event.Modified))
}

func TestPollRemove(t *testing.T) {
	tmp := testutil.TestTempDir(t)
	path := filepath.Join(tmp, "a.txt")
	testutil.WriteString(t, path, "hi\n")
	s, wk := makePoll(t, tmp)
	testutil.FatalIfErr(t, os.Remove(path))
	wk.Broadcast()
	awaitEvent(t, s, scanDeadline, pathAndKind(path, event.Removed))
}

func TestPollRootRemovalReportsRootChanged(t *testing.T) {
	tmp := testutil.TestTempDir(t)
	root := filepath.Join(tmp, "root")
	testutil.FatalIfErr(t, os.Mkdir(root, 0o700))
	testutil.WriteString(t, filepath.Join(root, "a.txt"), "hi\n")
	s, wk := makePoll(t, root)
	testutil.FatalIfErr(t, os.RemoveAll(root))
	wk.Broadcast()
	raw := awaitEvent(t, s, scanDeadline, pathAndKind(root, event.RootChanged))
	if !raw.Kind.Has(event.Removed) {
		t.Errorf("root loss carries %v, want a Removed bit", raw.Kind)
	}
}

func TestPollRootCreatedLater(t *testing.T) {
	tmp := testutil.TestTempDir(t)
	root := filepath.Join(tmp, "later")
	// Subscribing to a path that doesn't exist yet is not an error.
	s, wk := makePoll(t, root)
	testutil.FatalIfErr(t, os.Mkdir(root, 0o700))
	wk.Broadcast()
	awaitEvent(t, s, scanDeadline, pathAndKind(root, event.Created))
}
