// Copyright 2024 Google Inc. All Rights Reserved.
// This file is available under the Apache license.

// pathwatch watches filesystem paths and streams coalesced change
// notifications to stdout.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/golang/glog"

	"github.com/google/pathwatch/internal/pathwatch"
	"github.com/google/pathwatch/internal/sink"
	"github.com/google/pathwatch/internal/source"
	"github.com/google/pathwatch/internal/waker"
)

var (
	sinceWhen    = flag.Uint64("since_when", 0, "Resume the event id cursor from a previously reported value.  0 means start now.")
	latency      = flag.Duration("latency", 300*time.Millisecond, "Coalescing window: raw events for the same path within this window merge into one notification.")
	noDefer      = flag.Bool("no_defer", false, "Flush the first event of a batch immediately instead of waiting for quiescence.")
	watchRoot    = flag.Bool("watch_root", false, "Report changes to the watched paths themselves (move, rename, delete).")
	ignoreSelf   = flag.Bool("ignore_self", false, "Suppress events caused by this process, where the backend can attribute them.")
	fileEvents   = flag.Bool("file_events", false, "Report per-file paths instead of per-directory.")
	format       = flag.String("format", "classic", "Output format: classic or extended.")
	backend      = flag.String("backend", "notify", "Watch backend: notify (kernel), poll, or snapshot.")
	pollInterval = flag.Duration("poll_interval", 250*time.Millisecond, "Scan interval for the poll and snapshot backends.")
	configFile   = flag.String("config", "", "Path to a YAML session config file.  Explicit flags win over the file.")

	address = flag.String("address", "", "Host or IP address on which to bind the status HTTP listener.")
	port    = flag.String("port", "", "HTTP port for the status listener; empty disables it.")

	jaegerEndpoint = flag.String("jaeger_endpoint", "", "If set, collector endpoint URL of the jaeger thrift service.")

	versionFlag = flag.Bool("version", false, "Print pathwatch version information.")
)

var (
	// Branch, Version and Revision identify where in the git history the
	// build came from, as supplied by the linker when compiled with `make'.
	Branch   = "invalid:-use-make-to-build"
	Version  = "invalid:-use-make-to-build"
	Revision = "invalid:-use-make-to-build"
)

func main() {
	buildInfo := pathwatch.BuildInfo{
		Branch:   Branch,
		Version:  Version,
		Revision: Revision,
	}
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "%s\n", buildInfo.String())
		fmt.Fprintf(os.Stderr, "\nUsage: %s [options] [path ...]\n\nWatches each path (default \".\") and streams change batches to stdout.\n\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()
	if *versionFlag {
		fmt.Println(buildInfo.String())
		os.Exit(0)
	}
	glog.Info(buildInfo.String())
	glog.Infof("Commandline: %q", os.Args)

	opts := []pathwatch.Option{pathwatch.SetBuildInfo(buildInfo)}

	mode := source.Mode(*backend)
	interval := *pollInterval
	if *configFile != "" {
		cfg, err := pathwatch.LoadConfig(*configFile)
		if err != nil {
			glog.Exitf("%s", err)
		}
		cfgOpts, err := cfg.Options()
		if err != nil {
			glog.Exitf("%s", err)
		}
		opts = append(opts, cfgOpts...)
		if cfg.Backend != "" {
			mode = source.Mode(cfg.Backend)
		}
		if cfg.PollInterval != 0 {
			interval = time.Duration(cfg.PollInterval)
		}
	}
	// Explicit flags override the config file.
	set := map[string]bool{}
	flag.Visit(func(f *flag.Flag) { set[f.Name] = true })
	if set["since_when"] {
		opts = append(opts, pathwatch.SinceWhen(*sinceWhen))
	}
	if set["latency"] {
		opts = append(opts, pathwatch.Latency(*latency))
	}
	if set["no_defer"] && *noDefer {
		opts = append(opts, pathwatch.NoDefer)
	}
	if set["watch_root"] && *watchRoot {
		opts = append(opts, pathwatch.WatchRoot)
	}
	if set["ignore_self"] && *ignoreSelf {
		opts = append(opts, pathwatch.IgnoreSelf)
	}
	if set["file_events"] && *fileEvents {
		opts = append(opts, pathwatch.FileEvents)
	}
	if set["format"] {
		f, err := sink.ParseFormat(*format)
		if err != nil {
			glog.Exitf("%s", err)
		}
		opts = append(opts, pathwatch.OutputFormat(f))
	}
	if set["backend"] {
		mode = source.Mode(*backend)
	}
	if set["poll_interval"] {
		interval = *pollInterval
	}
	if len(flag.Args()) > 0 {
		opts = append(opts, pathwatch.Paths(flag.Args()...))
	}
	if *port != "" {
		opts = append(opts, pathwatch.BindAddress(*address, *port))
	}
	if *jaegerEndpoint != "" {
		opts = append(opts, pathwatch.JaegerReporter(*jaegerEndpoint))
	}

	mode, err := source.ParseMode(string(mode))
	if err != nil {
		glog.Exitf("%s", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var scanWaker waker.Waker
	if mode != source.Notify {
		if interval <= 0 {
			glog.Exitf("The %s backend needs a positive -poll_interval, got %v", mode, interval)
		}
		scanWaker = waker.NewTimed(ctx, interval)
	}
	src, err := source.New(mode, scanWaker)
	if err != nil {
		glog.Exitf("%s", err)
	}

	m, err := pathwatch.New(ctx, src, opts...)
	if err != nil {
		glog.Exitf("%s", err)
	}
	if err := m.Run(); err != nil {
		glog.Exitf("%s", err)
	}
	glog.Flush()
}
