// Copyright 2024 Google Inc. All Rights Reserved.
// This file is available under the Apache license.

package pathwatch

import (
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/pathwatch/internal/source"
	"github.com/google/pathwatch/internal/testutil"
)

func TestBasicWatchStream(t *testing.T) {
	testutil.SkipIfShort(t)
	tmp := testutil.TestTempDir(t)
	src, err := source.NewNotify()
	testutil.FatalIfErr(t, err)
	m, buf, stop := TestStartServer(t, src, Paths(tmp), Latency(50*time.Millisecond), FileEvents)
	defer stop()

	testutil.WriteString(t, filepath.Join(tmp, "a.txt"), "hi\n")

	ok, err := testutil.DoOrTimeout(func() (bool, error) {
		return strings.Contains(buf.String(), "a.txt:"), nil
	}, 10*time.Second, 10*time.Millisecond)
	testutil.FatalIfErr(t, err)
	if !ok {
		t.Fatalf("no classic batch for a.txt; stream so far: %q", buf.String())
	}
	if m.Cursor() == 0 {
		t.Error("cursor did not advance after a delivered batch")
	}
}

func TestBatchTerminatedByNewline(t *testing.T) {
	testutil.SkipIfShort(t)
	tmp := testutil.TestTempDir(t)
	src, err := source.NewNotify()
	testutil.FatalIfErr(t, err)
	_, buf, stop := TestStartServer(t, src, Paths(tmp), Latency(50*time.Millisecond), FileEvents)
	defer stop()

	testutil.WriteString(t, filepath.Join(tmp, "b.txt"), "hi\n")

	ok, err := testutil.DoOrTimeout(func() (bool, error) {
		s := buf.String()
		return strings.Contains(s, "b.txt:") && strings.HasSuffix(s, "\n"), nil
	}, 10*time.Second, 10*time.Millisecond)
	testutil.FatalIfErr(t, err)
	if !ok {
		t.Fatalf("batch not newline terminated: %q", buf.String())
	}
}
