// Copyright 2024 Google Inc. All Rights Reserved.
// This file is available under the Apache license.

package pathwatch

import (
	"io"
	"net"
	"time"

	"contrib.go.opencensus.io/exporter/jaeger"
	"github.com/juju/clock"
	"go.opencensus.io/trace"

	"github.com/google/pathwatch/internal/sink"
)

// Option configures a pathwatch Server.
type Option interface {
	apply(*Server) error
}

// Paths sets the watch targets for the session.  The default is the
// current directory.
func Paths(paths ...string) Option {
	return watchPaths(paths)
}

type watchPaths []string

func (opt watchPaths) apply(m *Server) error {
	m.paths = opt
	return nil
}

// Latency sets the coalescing window.
type Latency time.Duration

func (opt Latency) apply(m *Server) error {
	m.latency = time.Duration(opt)
	return nil
}

// SinceWhen seeds the event id cursor, resuming a previous session.
type SinceWhen uint64

func (opt SinceWhen) apply(m *Server) error {
	m.sinceWhen = uint64(opt)
	return nil
}

// OutputFormat sets the batch encoding on the output stream.
type OutputFormat sink.Format

func (opt OutputFormat) apply(m *Server) error {
	m.format = sink.Format(opt)
	return nil
}

// BindAddress sets the status HTTP server address.
func BindAddress(address, port string) Option {
	return &bindAddress{address, port}
}

type bindAddress struct {
	address, port string
}

func (opt bindAddress) apply(m *Server) error {
	m.bindAddress = net.JoinHostPort(opt.address, opt.port)
	var err error
	m.listener, err = net.Listen("tcp", m.bindAddress)
	return err
}

// SetBuildInfo sets the program build information in the Server.
type SetBuildInfo BuildInfo

func (opt SetBuildInfo) apply(m *Server) error {
	m.buildInfo = BuildInfo(opt)
	return nil
}

// OverrideClock substitutes the session clock, for tests.
func OverrideClock(clk clock.Clock) Option {
	return &overrideClock{clk}
}

type overrideClock struct {
	clock.Clock
}

func (opt overrideClock) apply(m *Server) error {
	m.clk = opt.Clock
	return nil
}

// OutputTo redirects the notification stream away from stdout.
func OutputTo(w io.Writer) Option {
	return &outputTo{w}
}

type outputTo struct {
	io.Writer
}

func (opt outputTo) apply(m *Server) error {
	m.outWriter = opt.Writer
	return nil
}

// JaegerReporter creates a jaeger trace exporter sending to the given
// collector endpoint.
type JaegerReporter string

func (opt JaegerReporter) apply(m *Server) error {
	je, err := jaeger.NewExporter(jaeger.Options{
		CollectorEndpoint: string(opt),
		Process: jaeger.Process{
			ServiceName: "pathwatch",
		},
	})
	if err != nil {
		return err
	}
	trace.RegisterExporter(je)
	return nil
}

type niladicOption struct {
	applyfunc func(m *Server) error
}

func (n *niladicOption) apply(m *Server) error {
	return n.applyfunc(m)
}

// NoDefer flushes the first event of each batch immediately instead of
// waiting out the latency window.
var NoDefer = &niladicOption{
	func(m *Server) error {
		m.noDefer = true
		return nil
	}}

// WatchRoot reports changes to the watch roots themselves.
var WatchRoot = &niladicOption{
	func(m *Server) error {
		m.watchRoot = true
		return nil
	}}

// IgnoreSelf suppresses events caused by this process, where the backend
// can attribute them.
var IgnoreSelf = &niladicOption{
	func(m *Server) error {
		m.ignoreSelf = true
		return nil
	}}

// FileEvents reports per-file paths rather than per-directory.
var FileEvents = &niladicOption{
	func(m *Server) error {
		m.fileEvents = true
		return nil
	}}
