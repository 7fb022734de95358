// Copyright 2024 Google Inc. All Rights Reserved.
// This file is available under the Apache license.

// Package stream owns the lifecycle of a watch session.  The controller
// pumps raw events from the source through the coalescing engine and
// delivers flushed batches, in order, to the sink.
package stream

import (
	"context"
	"expvar"
	"path/filepath"
	"sync"
	"time"

	"github.com/golang/glog"
	"github.com/juju/clock"
	"github.com/pkg/errors"
	"go.opencensus.io/trace"

	"github.com/google/pathwatch/internal/coalesce"
	"github.com/google/pathwatch/internal/event"
	"github.com/google/pathwatch/internal/sink"
	"github.com/google/pathwatch/internal/source"
)

var (
	rawEventCount  = expvar.NewInt("stream_raw_event_count")
	dropCount      = expvar.NewInt("stream_dropped_event_count")
	batchCount     = expvar.NewInt("stream_batch_count")
	sinkErrorCount = expvar.NewInt("stream_sink_error_count")
)

// State is the lifecycle position of a Controller.
type State int

const (
	Created State = iota
	Subscribed
	Running
	Stopped
)

func (s State) String() string {
	switch s {
	case Created:
		return "Created"
	case Subscribed:
		return "Subscribed"
	case Running:
		return "Running"
	case Stopped:
		return "Stopped"
	}
	return "Unknown"
}

// Config is one session's immutable flag set.
type Config struct {
	// Roots are the resolved watch roots.
	Roots []string
	// FileEvents reports per-file paths; otherwise events are reported at
	// the granularity of their containing directory.
	FileEvents bool
	// WatchRoot enables reporting of changes to the roots themselves.
	WatchRoot bool
	// IgnoreSelf drops events attributed to this process.
	IgnoreSelf bool
}

// Controller drives a session through Created, Subscribed, Running, and
// Stopped.  Stopped is terminal.
type Controller struct {
	cfg    Config
	src    source.Source
	engine *coalesce.Engine
	out    sink.Sink
	clk    clock.Clock
	roots  map[string]struct{}

	mu     sync.Mutex // protects following fields
	state  State
	cancel context.CancelFunc
	done   chan struct{}
}

// New returns a Controller in the Created state.
func New(cfg Config, src source.Source, engine *coalesce.Engine, out sink.Sink, clk clock.Clock) *Controller {
	roots := make(map[string]struct{}, len(cfg.Roots))
	for _, r := range cfg.Roots {
		roots[r] = struct{}{}
	}
	return &Controller{
		cfg:    cfg,
		src:    src,
		engine: engine,
		out:    out,
		clk:    clk,
		roots:  roots,
	}
}

// Subscribe registers every watch root with the source.  Any refusal is
// fatal to the whole session; there is no partial watch and no retry.
func (c *Controller) Subscribe() error {
	c.mu.Lock()
	if c.state != Created {
		defer c.mu.Unlock()
		return errors.Errorf("subscribe in state %v, want %v", c.state, Created)
	}
	c.mu.Unlock()
	_, span := trace.StartSpan(context.Background(), "stream.Subscribe")
	defer span.End()
	if err := c.src.Subscribe(c.cfg.Roots); err != nil {
		c.setState(Stopped)
		return err
	}
	c.setState(Subscribed)
	glog.Infof("Subscribed to %d watch roots", len(c.cfg.Roots))
	return nil
}

// Run pumps the source until the context is cancelled, Stop is called, or
// the source fails.  A final synchronous flush always runs before Run
// returns, so no ingested event is dropped.
func (c *Controller) Run(ctx context.Context) error {
	c.mu.Lock()
	if c.state != Subscribed {
		defer c.mu.Unlock()
		return errors.Errorf("run in state %v, want %v", c.state, Subscribed)
	}
	ctx, c.cancel = context.WithCancel(ctx)
	c.done = make(chan struct{})
	c.state = Running
	c.mu.Unlock()
	defer close(c.done)
	defer c.setState(Stopped)

	var timer clock.Timer
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()
	for {
		var due <-chan time.Time
		if deadline, ok := c.engine.Deadline(); ok {
			d := deadline.Sub(c.clk.Now())
			if d < 0 {
				d = 0
			}
			if timer == nil {
				timer = c.clk.NewTimer(d)
			} else {
				timer.Reset(d)
			}
			due = timer.Chan()
		}
		select {
		case <-ctx.Done():
			glog.Info("Stopping; final flush")
			return c.deliver(c.engine.FlushNow())
		case raw, ok := <-c.src.Events():
			if !ok {
				err := c.src.Err()
				glog.Infof("Event source closed (err: %v); final flush", err)
				if derr := c.deliver(c.engine.FlushNow()); derr != nil && err == nil {
					err = derr
				}
				return err
			}
			rawEventCount.Add(1)
			raw, drop := c.filter(raw)
			if drop {
				dropCount.Add(1)
				continue
			}
			if c.engine.Ingest(raw) {
				if err := c.deliver(c.engine.Flush()); err != nil {
					return err
				}
			}
		case <-due:
			// A stale timer fire is harmless: Flush re-checks the window.
			if err := c.deliver(c.engine.Flush()); err != nil {
				return err
			}
		}
	}
}

// filter applies the session flag set to one raw event.
func (c *Controller) filter(raw event.Raw) (event.Raw, bool) {
	if raw.Kind.Has(event.Overflow) {
		return raw, false
	}
	if c.cfg.IgnoreSelf && raw.Kind.Has(event.OwnProcess) {
		return raw, true
	}
	if !c.cfg.WatchRoot && raw.Kind.Has(event.RootChanged) {
		raw.Kind &^= event.RootChanged
		if raw.Kind == 0 {
			return raw, true
		}
	}
	if !c.cfg.FileEvents {
		// Directory granularity: report the directory containing the
		// change, not the changed path itself.
		if _, isRoot := c.roots[raw.Path]; !isRoot {
			raw.Path = filepath.Dir(raw.Path)
		}
	}
	return raw, false
}

// deliver writes one batch to the sink.  Batches are delivered in flush
// order, never concurrently.
func (c *Controller) deliver(b *event.Batch) error {
	if b == nil {
		return nil
	}
	_, span := trace.StartSpan(context.Background(), "stream.deliver")
	defer span.End()
	if err := c.out.Write(b); err != nil {
		sinkErrorCount.Add(1)
		return errors.Wrapf(err, "delivering batch %d", b.Seq)
	}
	batchCount.Add(1)
	return nil
}

// Stop cancels the pump and blocks until the final flush has completed
// and the controller is Stopped.  It is safe to call from outside the
// pump, including from a signal handler, and at any state.
func (c *Controller) Stop() {
	c.mu.Lock()
	cancel, done := c.cancel, c.done
	if cancel == nil {
		// Never ran; nothing buffered, nothing to flush.
		c.state = Stopped
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()
	cancel()
	<-done
}

// Cursor returns the current event id cursor, for resumption.
func (c *Controller) Cursor() uint64 {
	return c.engine.Cursor()
}

// State returns the controller's lifecycle state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Controller) setState(s State) {
	c.mu.Lock()
	defer c.mu.Unlock()
	glog.V(2).Infof("Controller state %v -> %v", c.state, s)
	c.state = s
}
