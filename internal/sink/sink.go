// Copyright 2024 Google Inc. All Rights Reserved.
// This file is available under the Apache license.

// Package sink encodes coalesced event batches onto an output stream.
package sink

import (
	"bufio"
	"expvar"
	"fmt"
	"io"
	"sync"

	"github.com/pkg/errors"

	"github.com/google/pathwatch/internal/event"
)

var (
	batchCount = expvar.NewInt("sink_batch_count")
	eventCount = expvar.NewInt("sink_event_count")
)

// Format selects the batch encoding.
type Format int

const (
	// Classic prints each changed path followed by a colon, with one
	// newline terminating the batch.
	Classic Format = iota
	// Extended prints one "<kindFlags>:<eventId>:<path>" line per event,
	// with a blank line terminating the batch.
	Extended
)

// ParseFormat converts a format name from the command line or config file.
func ParseFormat(s string) (Format, error) {
	switch s {
	case "classic":
		return Classic, nil
	case "extended":
		return Extended, nil
	}
	return 0, errors.Errorf("unknown output format %q", s)
}

func (f Format) String() string {
	switch f {
	case Classic:
		return "classic"
	case Extended:
		return "extended"
	}
	return fmt.Sprintf("Format(%d)", int(f))
}

// A Sink consumes flushed event batches.
type Sink interface {
	Write(b *event.Batch) error
}

// Writer is a Sink encoding batches onto an io.Writer.  The stream is
// flushed after every batch so consumers see notifications without
// buffering delay.
type Writer struct {
	mu     sync.Mutex
	w      *bufio.Writer
	format Format
}

// Option configures a Writer.
type Option func(*Writer) error

// WithFormat sets the batch encoding.
func WithFormat(f Format) Option {
	return func(w *Writer) error {
		w.format = f
		return nil
	}
}

// New creates a Writer around w.
func New(w io.Writer, options ...Option) (*Writer, error) {
	s := &Writer{w: bufio.NewWriter(w)}
	for _, option := range options {
		if err := option(s); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// Write encodes one batch and flushes the stream.
func (s *Writer) Write(b *event.Batch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.format {
	case Classic:
		for _, e := range b.Events {
			if _, err := fmt.Fprintf(s.w, "%s:", e.Path); err != nil {
				return errors.Wrap(err, "writing batch")
			}
		}
		if err := s.w.WriteByte('\n'); err != nil {
			return errors.Wrap(err, "terminating batch")
		}
	case Extended:
		for _, e := range b.Events {
			if _, err := fmt.Fprintf(s.w, "%d:%d:%s\n", uint32(e.Kind), e.ID, e.Path); err != nil {
				return errors.Wrap(err, "writing batch")
			}
		}
		if err := s.w.WriteByte('\n'); err != nil {
			return errors.Wrap(err, "terminating batch")
		}
	default:
		return errors.Errorf("unknown output format %v", s.format)
	}
	batchCount.Add(1)
	eventCount.Add(int64(len(b.Events)))
	return errors.Wrap(s.w.Flush(), "flushing batch")
}
