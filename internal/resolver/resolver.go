// Copyright 2024 Google Inc. All Rights Reserved.
// This file is available under the Apache license.

// Package resolver canonicalises user-supplied watch targets into
// absolute watch root paths before subscription.
package resolver

import (
	"expvar"
	"fmt"
	"path/filepath"
	"sync"
	"unicode/utf8"

	"github.com/golang/glog"
	"github.com/golang/groupcache/lru"
	"github.com/pkg/errors"
)

var (
	resolveCount     = expvar.NewInt("path_resolve_count")
	resolveHitCount  = expvar.NewInt("path_resolve_cache_hit_count")
	resolveFailCount = expvar.NewInt("path_resolve_error_count")
)

// maxPathLen matches PATH_MAX on the platforms we support.
const maxPathLen = 4096

// memoSize bounds the resolution memo; a watch session rarely has more
// than a handful of roots but the resolver is shared.
const memoSize = 1024

// InvalidPathError reports a watch target that can never name a valid
// filesystem path.  Nonexistent targets are not invalid; they may be
// created after the watch starts.
type InvalidPathError struct {
	Path   string
	Reason string
}

func (e *InvalidPathError) Error() string {
	return fmt.Sprintf("invalid path %q: %s", e.Path, e.Reason)
}

// Resolver resolves raw paths to canonical absolute watch roots,
// memoising results.  Resolution happens once per root at subscription
// time; roots are never re-resolved per event.
type Resolver struct {
	mu   sync.Mutex // protects memo
	memo *lru.Cache
}

func New() *Resolver {
	return &Resolver{memo: lru.New(memoSize)}
}

// Resolve canonicalises rawPath.  If the target exists, all symlinks and
// relative segments are resolved.  If it does not exist yet, a relative
// path is resolved against the current working directory and an absolute
// path is accepted verbatim; neither is an error.  Resolve never touches
// watch state.
func (r *Resolver) Resolve(rawPath string) (string, error) {
	if rawPath == "" {
		resolveFailCount.Add(1)
		return "", &InvalidPathError{rawPath, "empty path"}
	}
	if len(rawPath) > maxPathLen {
		resolveFailCount.Add(1)
		return "", &InvalidPathError{rawPath, "exceeds maximum path length"}
	}
	if !utf8.ValidString(rawPath) {
		resolveFailCount.Add(1)
		return "", &InvalidPathError{rawPath, "not valid UTF-8"}
	}
	r.mu.Lock()
	cached, ok := r.memo.Get(lru.Key(rawPath))
	r.mu.Unlock()
	if ok {
		resolveHitCount.Add(1)
		return cached.(string), nil
	}
	resolveCount.Add(1)
	root, err := resolve(rawPath)
	if err != nil {
		resolveFailCount.Add(1)
		return "", err
	}
	glog.V(2).Infof("Resolved %q to watch root %q", rawPath, root)
	r.mu.Lock()
	r.memo.Add(lru.Key(rawPath), root)
	r.mu.Unlock()
	return root, nil
}

func resolve(rawPath string) (string, error) {
	if resolved, err := filepath.EvalSymlinks(rawPath); err == nil {
		abs, err := filepath.Abs(resolved)
		if err != nil {
			return "", errors.Wrapf(err, "resolving %q against the working directory", rawPath)
		}
		return abs, nil
	}
	// The target doesn't exist yet.  Accept it; it may be created after
	// the watch starts.
	if filepath.IsAbs(rawPath) {
		return filepath.Clean(rawPath), nil
	}
	abs, err := filepath.Abs(rawPath)
	if err != nil {
		return "", errors.Wrapf(err, "resolving %q against the working directory", rawPath)
	}
	return abs, nil
}
