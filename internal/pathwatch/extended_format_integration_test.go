// Copyright 2024 Google Inc. All Rights Reserved.
// This file is available under the Apache license.

package pathwatch

import (
	"fmt"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/pathwatch/internal/event"
	"github.com/google/pathwatch/internal/sink"
	"github.com/google/pathwatch/internal/source"
	"github.com/google/pathwatch/internal/testutil"
)

func TestExtendedFormatStream(t *testing.T) {
	tmp := testutil.TestTempDir(t)
	fake := source.NewFake()
	m, buf, stop := TestStartServer(t, fake,
		Paths(tmp), NoDefer, FileEvents, OutputFormat(sink.Extended))
	defer stop()

	root := m.Roots()[0]
	path := filepath.Join(root, "x.txt")
	fake.InjectChange(path, event.Created)

	want := fmt.Sprintf("%d:1:%s\n\n", uint32(event.Created), path)
	ok, err := testutil.DoOrTimeout(func() (bool, error) {
		return buf.String() == want, nil
	}, 5*time.Second, 10*time.Millisecond)
	testutil.FatalIfErr(t, err)
	if !ok {
		t.Fatalf("stream = %q, want %q", buf.String(), want)
	}
}

func TestOverflowSentinelOnStream(t *testing.T) {
	tmp := testutil.TestTempDir(t)
	fake := source.NewFake()
	_, buf, stop := TestStartServer(t, fake,
		Paths(tmp), FileEvents, OutputFormat(sink.Extended))
	defer stop()

	fake.InjectOverflow()

	ok, err := testutil.DoOrTimeout(func() (bool, error) {
		// The sentinel has the overflow flag and no path.
		return strings.Contains(buf.String(), fmt.Sprintf("%d:1:\n", uint32(event.Overflow))), nil
	}, 5*time.Second, 10*time.Millisecond)
	testutil.FatalIfErr(t, err)
	if !ok {
		t.Fatalf("no overflow sentinel on stream: %q", buf.String())
	}
}
