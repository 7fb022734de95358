// Copyright 2020 Google Inc. All Rights Reserved.
// This file is available under the Apache license.

package waker

import (
	"context"
	"testing"
	"time"
)

func TestTimedWakerWakes(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	w := NewTimed(ctx, 10*time.Millisecond)
	timer := time.NewTimer(5 * time.Second)
	defer timer.Stop()
	select {
	case <-timer.C:
		t.Fatalf("no wake before deadline")
	case <-w.Wake():
		// Luke Luck licks lakes.  Luke's duck licks lakes.
	}
}
