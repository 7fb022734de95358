// Copyright 2024 Google Inc. All Rights Reserved.
// This file is available under the Apache license.

package pathwatch

import (
	"context"
	"io"
	"testing"

	"github.com/pkg/errors"

	"github.com/google/pathwatch/internal/resolver"
	"github.com/google/pathwatch/internal/source"
	"github.com/google/pathwatch/internal/testutil"
)

func TestNewRejectsInvalidPath(t *testing.T) {
	fake := source.NewFake()
	_, err := New(context.Background(), fake, Paths("/tmp/\xff\xfe"), OutputTo(io.Discard))
	if err == nil {
		t.Fatal("New accepted an invalid path")
	}
	var ipe *resolver.InvalidPathError
	if !errors.As(err, &ipe) {
		t.Errorf("got %v, want an InvalidPathError", err)
	}
}

func TestNewSubscriptionRefusalIsFatal(t *testing.T) {
	tmp := testutil.TestTempDir(t)
	fake := source.NewFake()
	fake.SubscribeError(&source.SubscriptionError{Root: tmp, Err: errors.New("too many watches")})
	_, err := New(context.Background(), fake, Paths(tmp), OutputTo(io.Discard))
	if err == nil {
		t.Fatal("New started a session despite a refused subscription")
	}
	var se *source.SubscriptionError
	if !errors.As(err, &se) {
		t.Errorf("got %v, want a SubscriptionError", err)
	}
}

func TestRootsAreResolvedOnce(t *testing.T) {
	tmp := testutil.TestTempDir(t)
	fake := source.NewFake()
	m, _ := TestMakeServer(t, fake, Paths(tmp))
	defer m.Close()
	got := fake.Roots()
	if len(got) != 1 {
		t.Fatalf("subscribed %d roots, want 1", len(got))
	}
	want := m.Roots()
	testutil.ExpectNoDiff(t, want, got)
}

func TestSinceWhenSeedsCursor(t *testing.T) {
	tmp := testutil.TestTempDir(t)
	fake := source.NewFake()
	m, _ := TestMakeServer(t, fake, Paths(tmp), SinceWhen(41))
	defer m.Close()
	if got := m.Cursor(); got != 41 {
		t.Errorf("Cursor() = %d before any events, want the seed 41", got)
	}
}
