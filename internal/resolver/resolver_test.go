// Copyright 2024 Google Inc. All Rights Reserved.
// This file is available under the Apache license.

package resolver

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/pathwatch/internal/testutil"
)

func TestResolveDot(t *testing.T) {
	tmp := testutil.TestTempDir(t)
	testutil.Chdir(t, tmp)
	r := New()
	root, err := r.Resolve(".")
	testutil.FatalIfErr(t, err)
	// The tempdir itself may live behind a symlink (e.g. /tmp on darwin).
	want, err := filepath.EvalSymlinks(tmp)
	testutil.FatalIfErr(t, err)
	if root != want {
		t.Errorf("Resolve(\".\") = %q, want %q", root, want)
	}
}

func TestResolveNonexistentAbsolute(t *testing.T) {
	r := New()
	root, err := r.Resolve("/tmp/does-not-exist-yet")
	testutil.FatalIfErr(t, err)
	if root != "/tmp/does-not-exist-yet" {
		t.Errorf("got %q, want the path back verbatim", root)
	}
}

func TestResolveNonexistentRelative(t *testing.T) {
	tmp := testutil.TestTempDir(t)
	testutil.Chdir(t, tmp)
	r := New()
	root, err := r.Resolve("not-here-yet")
	testutil.FatalIfErr(t, err)
	if !filepath.IsAbs(root) {
		t.Errorf("Resolve returned relative path %q", root)
	}
	if filepath.Base(root) != "not-here-yet" {
		t.Errorf("got %q, want it anchored under the working directory", root)
	}
}

func TestResolveSymlink(t *testing.T) {
	tmp := testutil.TestTempDir(t)
	target := filepath.Join(tmp, "target")
	testutil.FatalIfErr(t, os.Mkdir(target, 0o700))
	link := filepath.Join(tmp, "link")
	testutil.FatalIfErr(t, os.Symlink(target, link))
	r := New()
	root, err := r.Resolve(link)
	testutil.FatalIfErr(t, err)
	want, err := filepath.EvalSymlinks(target)
	testutil.FatalIfErr(t, err)
	if root != want {
		t.Errorf("Resolve(%q) = %q, want %q", link, root, want)
	}
}

func TestResolveInvalid(t *testing.T) {
	r := New()
	for _, tc := range []struct {
		name string
		path string
	}{
		{"empty", ""},
		{"too long", "/" + strings.Repeat("a", 4096)},
		{"bad encoding", "/tmp/\xff\xfe"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			_, err := r.Resolve(tc.path)
			if err == nil {
				t.Fatalf("Resolve(%q) succeeded, want InvalidPathError", tc.path)
			}
			if _, ok := err.(*InvalidPathError); !ok {
				t.Errorf("Resolve(%q) = %v, want InvalidPathError", tc.path, err)
			}
		})
	}
}

func TestResolveMemoised(t *testing.T) {
	tmp := testutil.TestTempDir(t)
	r := New()
	first, err := r.Resolve(tmp)
	testutil.FatalIfErr(t, err)
	second, err := r.Resolve(tmp)
	testutil.FatalIfErr(t, err)
	if first != second {
		t.Errorf("memoised resolution differs: %q then %q", first, second)
	}
}
