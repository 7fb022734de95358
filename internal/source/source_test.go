// Copyright 2024 Google Inc. All Rights Reserved.
// This file is available under the Apache license.

package source

import (
	"testing"
	"time"

	"github.com/google/pathwatch/internal/event"
)

func TestParseMode(t *testing.T) {
	for _, name := range []string{"notify", "poll", "snapshot"} {
		m, err := ParseMode(name)
		if err != nil {
			t.Errorf("ParseMode(%q): %s", name, err)
		}
		if string(m) != name {
			t.Errorf("ParseMode(%q) = %q", name, m)
		}
	}
	if _, err := ParseMode("inotify"); err == nil {
		t.Error("ParseMode accepted an unknown backend")
	}
}

// awaitEvent receives from s until an event satisfies match, failing the
// test after deadline.  Backends may deliver incidental events (a Chmod
// alongside a Create, say) so tests match rather than compare streams.
func awaitEvent(tb testing.TB, s Source, deadline time.Duration, match func(event.Raw) bool) event.Raw {
	tb.Helper()
	timeout := time.After(deadline)
	for {
		select {
		case raw, ok := <-s.Events():
			if !ok {
				tb.Fatal("event channel closed while waiting")
			}
			if match(raw) {
				return raw
			}
			tb.Logf("skipping %v", raw)
		case <-timeout:
			tb.Fatal("timed out waiting for a matching event")
		}
	}
}

func pathAndKind(path string, kind event.Kind) func(event.Raw) bool {
	return func(raw event.Raw) bool {
		return raw.Path == path && raw.Kind.Has(kind)
	}
}
