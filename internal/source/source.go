// Copyright 2024 Google Inc. All Rights Reserved.
// This file is available under the Apache license.

// Package source abstracts the platform's change-notification primitive
// into a uniform raw event feed.
//
// Three backends are provided: notify rides the kernel notification
// queues through fsnotify; poll rescans watched paths on a fixed
// interval, trading latency for immunity to queue limits; snapshot diffs
// full directory tree snapshots and is the fallback for filesystems with
// no native support, recovering renames by inode identity where the
// platform exposes one.
package source

import (
	"fmt"

	"github.com/pkg/errors"

	"github.com/google/pathwatch/internal/event"
	"github.com/google/pathwatch/internal/waker"
)

// Mode selects the backing primitive for a watch session.
type Mode string

const (
	Notify   Mode = "notify"
	Poll     Mode = "poll"
	Snapshot Mode = "snapshot"
)

// ParseMode converts a mode name from the command line or config file.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case Notify, Poll, Snapshot:
		return Mode(s), nil
	}
	return "", errors.Errorf("unknown watch backend %q", s)
}

// A SubscriptionError reports that the backing primitive refused a watch
// root.  It is fatal to the whole session; there is no partial watch.
type SubscriptionError struct {
	Root string
	Err  error
}

func (e *SubscriptionError) Error() string {
	return fmt.Sprintf("subscribing to %q: %s", e.Root, e.Err)
}

func (e *SubscriptionError) Unwrap() error { return e.Err }

// A BackendFatalError reports that the backing primitive terminated
// unexpectedly.  It is not retried; restart policy belongs to the caller.
type BackendFatalError struct {
	Err error
}

func (e *BackendFatalError) Error() string {
	return fmt.Sprintf("watch backend terminated: %s", e.Err)
}

func (e *BackendFatalError) Unwrap() error { return e.Err }

// Source is a uniform feed of raw change events over some backing
// primitive.  Delivery is a single producer channel: the platform's
// callback or scan loop runs on the source's own routine and the consumer
// receives from Events, making the suspension points explicit.
type Source interface {
	// Subscribe registers every root, all or nothing.  On failure any
	// watches already established are rolled back and a SubscriptionError
	// is returned.
	Subscribe(roots []string) error
	// Events returns the raw feed.  It is closed by Close, or on a fatal
	// backend error, after which Err reports the reason.
	Events() <-chan event.Raw
	// Err returns the fatal error that closed the event feed, if any.
	Err() error
	// Close unsubscribes everything and releases the backend.  It is safe
	// to call more than once.
	Close() error
}

// New constructs a Source for the given mode.  Scan-based modes sweep
// once per wake of scanWaker; the notify mode ignores it.
func New(mode Mode, scanWaker waker.Waker) (Source, error) {
	switch mode {
	case Notify:
		return NewNotify()
	case Poll:
		return NewPoll(scanWaker), nil
	case Snapshot:
		return NewSnapshot(scanWaker), nil
	}
	return nil, errors.Errorf("unknown watch backend %q", mode)
}
