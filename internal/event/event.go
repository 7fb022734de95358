// Copyright 2024 Google Inc. All Rights Reserved.
// This file is available under the Apache license.

// Package event defines the change notifications passed between the event
// sources, the coalescing engine, and the output sink.
package event

import (
	"strings"
	"time"
)

// Kind is a bitmask of change kinds reported for a path.  A raw event
// usually carries a single bit; a coalesced event carries the union of
// every raw event merged into it.
type Kind uint32

const (
	// Created indicates the path came into existence.
	Created Kind = 1 << iota
	// Modified indicates the path's contents or metadata changed.
	Modified
	// Removed indicates the path was deleted.
	Removed
	// Renamed indicates the path was moved.  Sources that cannot track
	// identity across a move report a Removed/Created pair instead.
	Renamed
	// RootChanged indicates a watch root itself was moved, renamed, or
	// deleted.  Callers must re-resolve the root or stop watching it.
	RootChanged
	// OwnProcess marks an event attributed to this process, for sources
	// able to make that attribution.
	OwnProcess
	// Overflow is a synthetic kind reporting that the backing primitive's
	// event queue wrapped around.  It carries no path; every watched root
	// must be treated as possibly changed.
	Overflow
)

var kindNames = []struct {
	k Kind
	n string
}{
	{Created, "Created"},
	{Modified, "Modified"},
	{Removed, "Removed"},
	{Renamed, "Renamed"},
	{RootChanged, "RootChanged"},
	{OwnProcess, "OwnProcess"},
	{Overflow, "Overflow"},
}

func (k Kind) String() string {
	if k == 0 {
		return "None"
	}
	var parts []string
	for _, kn := range kindNames {
		if k.Has(kn.k) {
			parts = append(parts, kn.n)
		}
	}
	return strings.Join(parts, "|")
}

// Has reports whether every bit in f is set in k.
func (k Kind) Has(f Kind) bool {
	return k&f == f
}

// Raw is a single change notification as reported by a source.  Raw
// events are ephemeral: they are consumed by the coalescing engine as
// soon as they are delivered.
type Raw struct {
	Path string
	Kind Kind
	When time.Time
}

// Coalesced is one merged, ordered change notification.  ID is strictly
// increasing across the whole watch session and is never reused.
type Coalesced struct {
	Path string
	Kind Kind
	ID   uint64
}

// Batch is an ordered sequence of coalesced events sharing one flush
// cycle.  Within a batch IDs are non-decreasing in emission order.  Seq
// numbers batches in arrival order, starting at 1.
type Batch struct {
	Seq    uint64
	Events []Coalesced
}
