// Copyright 2024 Google Inc. All Rights Reserved.
// This file is available under the Apache license.

// Package pathwatch ties one watch session together: it resolves the
// watch targets, wires the event source through the coalescing engine to
// the output sink, and owns startup, the optional status server, and
// shutdown.
package pathwatch

import (
	"context"
	"expvar"
	"io"
	"net"
	"net/http"
	"net/http/pprof"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/golang/glog"
	"github.com/google/uuid"
	"github.com/juju/clock"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/prometheus/common/version"
	"go.opencensus.io/zpages"

	"github.com/google/pathwatch/internal/coalesce"
	"github.com/google/pathwatch/internal/resolver"
	"github.com/google/pathwatch/internal/sink"
	"github.com/google/pathwatch/internal/source"
	"github.com/google/pathwatch/internal/stream"
)

// defaultLatency matches the classic tool's 0.3s window.
const defaultLatency = 300 * time.Millisecond

// Server contains the state of one pathwatch session.
type Server struct {
	ctx    context.Context
	cancel context.CancelFunc

	sessionID uuid.UUID
	buildInfo BuildInfo

	src    source.Source
	rsv    *resolver.Resolver
	engine *coalesce.Engine
	ctrl   *stream.Controller
	out    sink.Sink

	reg      *prometheus.Registry
	h        *http.Server
	listener net.Listener

	webquit   chan struct{} // Channel to signal shutdown from web UI
	closeOnce sync.Once

	clk       clock.Clock
	outWriter io.Writer

	bindAddress string
	paths       []string
	roots       []string
	latency     time.Duration
	sinceWhen   uint64
	format      sink.Format
	noDefer     bool
	watchRoot   bool
	ignoreSelf  bool
	fileEvents  bool
}

// New creates a Server watching through the supplied Source, configured
// by the Options.  All watch targets are resolved and subscribed before
// New returns; any resolution or subscription failure aborts the whole
// session.
func New(ctx context.Context, src source.Source, options ...Option) (*Server, error) {
	m := &Server{
		src:       src,
		sessionID: uuid.New(),
		rsv:       resolver.New(),
		reg:       prometheus.NewRegistry(),
		h:         &http.Server{},
		webquit:   make(chan struct{}),
		clk:       clock.WallClock,
		outWriter: os.Stdout,
		paths:     []string{"."},
		latency:   defaultLatency,
		format:    sink.Classic,
	}
	m.ctx, m.cancel = context.WithCancel(ctx)
	if err := m.SetOption(options...); err != nil {
		return nil, err
	}
	m.initRegistry()
	for _, path := range m.paths {
		root, err := m.rsv.Resolve(path)
		if err != nil {
			return nil, err
		}
		m.roots = append(m.roots, root)
	}
	m.engine = coalesce.New(m.clk, m.latency, m.sinceWhen, m.noDefer)
	var err error
	m.out, err = sink.New(m.outWriter, sink.WithFormat(m.format))
	if err != nil {
		return nil, err
	}
	m.ctrl = stream.New(stream.Config{
		Roots:      m.roots,
		FileEvents: m.fileEvents,
		WatchRoot:  m.watchRoot,
		IgnoreSelf: m.ignoreSelf,
	}, m.src, m.engine, m.out, m.clk)
	if err := m.ctrl.Subscribe(); err != nil {
		return nil, err
	}
	glog.Infof("Session %s watching %q", m.sessionID, m.roots)
	return m, nil
}

// SetOption takes one or more option functions and applies them in order.
func (m *Server) SetOption(options ...Option) error {
	for _, option := range options {
		if err := option.apply(m); err != nil {
			return err
		}
	}
	return nil
}

// initRegistry wires the package expvar counters into the prometheus
// registry under a pathwatch_ prefix, alongside the standard collectors.
func (m *Server) initRegistry() {
	expvarDescs := map[string]*prometheus.Desc{}
	for _, name := range []string{
		// internal/resolver
		"path_resolve_count", "path_resolve_cache_hit_count", "path_resolve_error_count",
		// internal/source
		"notify_event_count", "notify_error_count", "notify_overflow_count",
		"poll_scan_count", "poll_event_count",
		"snapshot_scan_count", "snapshot_event_count", "snapshot_rename_count",
		// internal/coalesce
		"coalesce_ingest_count", "coalesce_merge_count", "coalesce_batch_count", "coalesce_overflow_count",
		// internal/stream
		"stream_raw_event_count", "stream_dropped_event_count", "stream_batch_count", "stream_sink_error_count",
		// internal/sink
		"sink_batch_count", "sink_event_count",
	} {
		expvarDescs[name] = prometheus.NewDesc(name, "pathwatch internal counter "+name, nil, nil)
	}
	m.reg.MustRegister(
		prometheus.NewGoCollector(),
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))
	prometheus.WrapRegistererWithPrefix("pathwatch_", m.reg).MustRegister(
		prometheus.NewExpvarCollector(expvarDescs))
	version.Branch = m.buildInfo.Branch
	version.Version = m.buildInfo.Version
	version.Revision = m.buildInfo.Revision
	m.reg.MustRegister(version.NewCollector("pathwatch"))
}

// serveStatus starts the status HTTP server on the configured listener.
func (m *Server) serveStatus() {
	mux := http.NewServeMux()
	mux.Handle("/", m)
	mux.Handle("/metrics", promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{}))
	mux.HandleFunc("/quitquitquit", m.quitHandler)
	mux.Handle("/debug/vars", expvar.Handler())
	mux.HandleFunc("/debug/pprof/", pprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	zpages.Handle(mux, "/")
	m.h.Handler = mux
	glog.Infof("Status server listening on %s", m.listener.Addr())
	if err := m.h.Serve(m.listener); err != nil && err != http.ErrServerClosed {
		glog.Error(err)
	}
}

// Run pumps the watch session until a signal, the web UI, context
// cancellation, or a fatal source error ends it, then shuts down cleanly.
// The final flush has completed by the time Run returns.
func (m *Server) Run() error {
	if m.listener != nil {
		go m.serveStatus()
	}
	errc := make(chan error, 1)
	go func() {
		errc <- m.ctrl.Run(m.ctx)
	}()
	n := make(chan os.Signal, 1)
	signal.Notify(n, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(n)
	var err error
	select {
	case err = <-errc:
		glog.Info("Watch session ended.")
	case <-n:
		glog.Info("Received signal, exiting...")
		m.ctrl.Stop()
		err = <-errc
	case <-m.webquit:
		glog.Info("Received quit from HTTP, exiting...")
		m.ctrl.Stop()
		err = <-errc
	case <-m.ctx.Done():
		glog.Info("External shutdown, exiting...")
		m.ctrl.Stop()
		err = <-errc
	}
	m.Close()
	glog.Infof("Session %s ended at cursor %d", m.sessionID, m.Cursor())
	return err
}

// quitHandler implements the /quitquitquit endpoint.
func (m *Server) quitHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Only POST allowed", http.StatusMethodNotAllowed)
		return
	}
	w.Header().Add("Content-type", "text/html")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("Exiting..."))
	close(m.webquit)
}

// Close shuts the session down, ensuring that it only happens once.
func (m *Server) Close() {
	m.closeOnce.Do(func() {
		glog.Info("Shutdown requested.")
		m.cancel()
		m.ctrl.Stop()
		if err := m.src.Close(); err != nil {
			glog.Infof("Source close failed: %s", err)
		}
		if m.listener != nil {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			if err := m.h.Shutdown(ctx); err != nil {
				glog.Error(err)
			}
			cancel()
		}
		glog.Info("END OF LINE")
	})
}

// Cursor returns the session's current event id cursor, for resumption.
func (m *Server) Cursor() uint64 {
	return m.ctrl.Cursor()
}

// Roots returns the resolved watch roots.
func (m *Server) Roots() []string {
	return append([]string(nil), m.roots...)
}

// Addr returns the status server address.
func (m *Server) Addr() string {
	if m.listener == nil {
		return "none"
	}
	return m.listener.Addr().String()
}
