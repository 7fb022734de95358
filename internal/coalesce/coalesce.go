// Copyright 2024 Google Inc. All Rights Reserved.
// This file is available under the Apache license.

// Package coalesce merges raw change events over a latency window into
// ordered, deduplicated batches.
//
// Bursts of writes to the same path (an editor's write-then-rename, say)
// arrive as several raw events; buffering them for the latency window and
// merging by path bounds the output volume, while the window bounds the
// worst-case notification delay.  Event ids are assigned at flush time so
// they are strictly increasing across the whole session in emission order.
package coalesce

import (
	"expvar"
	"sync"
	"time"

	"github.com/golang/glog"
	"github.com/juju/clock"

	"github.com/google/pathwatch/internal/event"
)

var (
	ingestCount   = expvar.NewInt("coalesce_ingest_count")
	mergeCount    = expvar.NewInt("coalesce_merge_count")
	batchCount    = expvar.NewInt("coalesce_batch_count")
	overflowCount = expvar.NewInt("coalesce_overflow_count")
)

// pending is one buffered path awaiting flush.
type pending struct {
	kind  event.Kind
	first time.Time // arrival of the earliest raw event merged in
}

// Engine buffers raw events per path and flushes them as batches.  It is
// safe for concurrent use; a source delivery thread may ingest while
// another routine flushes.
type Engine struct {
	clock   clock.Clock
	latency time.Duration
	noDefer bool

	mu       sync.Mutex // protects following fields
	buf      map[string]*pending
	order    []string // paths in first-seen order
	overflow bool     // an overflow sentinel is queued
	forced   bool     // next Flush emits regardless of the window
	cursor   uint64   // last assigned event id
	batchSeq uint64   // last emitted batch sequence number
}

// New returns an Engine flushing after latency of quiescence.  sinceWhen
// seeds the event id cursor, so a session resumed from a prior cursor
// never reassigns an already-emitted id.  With noDefer the first event of
// each batch triggers an immediate flush instead of waiting out the
// window.
func New(clk clock.Clock, latency time.Duration, sinceWhen uint64, noDefer bool) *Engine {
	return &Engine{
		clock:   clk,
		latency: latency,
		noDefer: noDefer,
		cursor:  sinceWhen,
		buf:     make(map[string]*pending),
	}
}

// Ingest buffers one raw event, merging kind flags into any event already
// buffered for the same path.  It returns true when the caller should
// flush immediately: always on overflow, and on the first event of a
// batch in noDefer mode.
func (e *Engine) Ingest(raw event.Raw) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	ingestCount.Add(1)
	if raw.Kind.Has(event.Overflow) {
		glog.Warning("Event queue overflow; forcing a flush")
		overflowCount.Add(1)
		e.overflow = true
		e.forced = true
		return true
	}
	wasEmpty := len(e.buf) == 0
	if p, ok := e.buf[raw.Path]; ok {
		p.kind |= raw.Kind
		mergeCount.Add(1)
		return false
	}
	// The window is measured from arrival on the engine's clock, not the
	// source's report timestamp, so every backend ages uniformly.
	e.buf[raw.Path] = &pending{kind: raw.Kind, first: e.clock.Now()}
	e.order = append(e.order, raw.Path)
	return e.noDefer && wasEmpty
}

// Flush emits everything buffered as one batch if the oldest buffered
// event has aged past the latency window, a flush has been forced, or the
// engine is in noDefer mode.  It returns nil when nothing is due.
func (e *Engine) Flush() *event.Batch {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.dueLocked() {
		return nil
	}
	return e.flushLocked()
}

// FlushNow emits everything buffered regardless of the window.  A final
// FlushNow on shutdown guarantees no ingested event is dropped.
func (e *Engine) FlushNow() *event.Batch {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.flushLocked()
}

func (e *Engine) dueLocked() bool {
	if e.forced || e.overflow {
		return true
	}
	if len(e.order) == 0 {
		return false
	}
	if e.noDefer {
		return true
	}
	oldest := e.buf[e.order[0]].first
	return e.clock.Now().Sub(oldest) >= e.latency
}

func (e *Engine) flushLocked() *event.Batch {
	batch := &event.Batch{Seq: e.batchSeq + 1}
	if e.overflow {
		// The sentinel has no path; the whole watched tree is suspect.
		e.cursor++
		batch.Events = append(batch.Events, event.Coalesced{Kind: event.Overflow, ID: e.cursor})
		e.overflow = false
	}
	for _, path := range e.order {
		e.cursor++
		batch.Events = append(batch.Events, event.Coalesced{Path: path, Kind: e.buf[path].kind, ID: e.cursor})
		delete(e.buf, path)
	}
	e.order = e.order[:0]
	e.forced = false
	if len(batch.Events) == 0 {
		return nil
	}
	e.batchSeq++
	batchCount.Add(1)
	glog.V(2).Infof("Flushed batch %d with %d events, cursor now %d", batch.Seq, len(batch.Events), e.cursor)
	return batch
}

// Deadline reports when the oldest buffered event falls due, if anything
// is buffered.  The pump loop arms its flush timer from this.
func (e *Engine) Deadline() (time.Time, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.forced || e.overflow {
		return e.clock.Now(), true
	}
	if len(e.order) == 0 {
		return time.Time{}, false
	}
	return e.buf[e.order[0]].first.Add(e.latency), true
}

// Cursor returns the last assigned event id.
func (e *Engine) Cursor() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cursor
}

// Pending returns the number of paths currently buffered.
func (e *Engine) Pending() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.order)
}
