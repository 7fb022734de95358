// Copyright 2024 Google Inc. All Rights Reserved.
// This file is available under the Apache license.

package pathwatch

import (
	"bytes"
	"context"
	"sync"
	"testing"

	"github.com/google/pathwatch/internal/source"
	"github.com/google/pathwatch/internal/testutil"
)

// SyncBuffer is a bytes.Buffer safe for concurrent append and read, used
// to capture the notification stream in tests.
type SyncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (s *SyncBuffer) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buf.Write(p)
}

func (s *SyncBuffer) String() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buf.String()
}

// TestMakeServer makes a Server for tests with its notification stream
// captured, but does not start it.
func TestMakeServer(tb testing.TB, src source.Source, options ...Option) (*Server, *SyncBuffer) {
	tb.Helper()
	buf := &SyncBuffer{}
	options = append(options, OutputTo(buf))
	m, err := New(context.Background(), src, options...)
	testutil.FatalIfErr(tb, err)
	return m, buf
}

// TestStartServer makes and starts a Server for tests, returning a
// cleanup function that shuts it down and fails the test on error.
func TestStartServer(tb testing.TB, src source.Source, options ...Option) (*Server, *SyncBuffer, func()) {
	tb.Helper()
	m, buf := TestMakeServer(tb, src, options...)
	errc := make(chan error, 1)
	go func() {
		errc <- m.Run()
	}()
	return m, buf, func() {
		tb.Helper()
		m.Close()
		testutil.FatalIfErr(tb, <-errc)
	}
}
