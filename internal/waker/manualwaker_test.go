// Copyright 2024 Google Inc. All Rights Reserved.
// This file is available under the Apache license.

package waker

import (
	"testing"
	"time"
)

func TestManualWakesSleeper(t *testing.T) {
	w := NewManual()
	woke := make(chan struct{})
	go func() {
		<-w.Wake()
		close(woke)
	}()
	w.Broadcast()
	select {
	case <-woke:
	case <-time.After(5 * time.Second):
		t.Fatal("sleeper never woke")
	}
}

func TestManualRemembersEarlyBroadcast(t *testing.T) {
	w := NewManual()
	w.Broadcast()
	select {
	case <-w.Wake():
	case <-time.After(5 * time.Second):
		t.Fatal("broadcast before Wake was lost")
	}
	// The remembered broadcast is consumed; the next Wake blocks again.
	select {
	case <-w.Wake():
		t.Fatal("second Wake should block until another Broadcast")
	case <-time.After(10 * time.Millisecond):
	}
}
