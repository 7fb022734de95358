// Copyright 2024 Google Inc. All Rights Reserved.
// This file is available under the Apache license.

package pathwatch

import (
	"os"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/google/pathwatch/internal/sink"
)

// Duration is a time.Duration that decodes from YAML duration strings
// like "300ms".
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return errors.Wrapf(err, "parsing duration %q", s)
	}
	*d = Duration(parsed)
	return nil
}

// Config mirrors the command line session options in a YAML file.
// Unset fields keep their defaults; explicit command line flags win over
// the file.
type Config struct {
	Paths        []string `yaml:"paths"`
	Latency      Duration `yaml:"latency"`
	SinceWhen    uint64   `yaml:"since_when"`
	NoDefer      bool     `yaml:"no_defer"`
	WatchRoot    bool     `yaml:"watch_root"`
	IgnoreSelf   bool     `yaml:"ignore_self"`
	FileEvents   bool     `yaml:"file_events"`
	Format       string   `yaml:"format"`
	Backend      string   `yaml:"backend"`
	PollInterval Duration `yaml:"poll_interval"`
}

// LoadConfig reads and decodes a session config file.
func LoadConfig(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "reading config %q", path)
	}
	c := &Config{}
	if err := yaml.Unmarshal(b, c); err != nil {
		return nil, errors.Wrapf(err, "decoding config %q", path)
	}
	return c, nil
}

// Options converts the set fields into server Options.
func (c *Config) Options() ([]Option, error) {
	var opts []Option
	if len(c.Paths) > 0 {
		opts = append(opts, Paths(c.Paths...))
	}
	if c.Latency != 0 {
		opts = append(opts, Latency(c.Latency))
	}
	if c.SinceWhen != 0 {
		opts = append(opts, SinceWhen(c.SinceWhen))
	}
	if c.NoDefer {
		opts = append(opts, NoDefer)
	}
	if c.WatchRoot {
		opts = append(opts, WatchRoot)
	}
	if c.IgnoreSelf {
		opts = append(opts, IgnoreSelf)
	}
	if c.FileEvents {
		opts = append(opts, FileEvents)
	}
	if c.Format != "" {
		f, err := sink.ParseFormat(c.Format)
		if err != nil {
			return nil, err
		}
		opts = append(opts, OutputFormat(f))
	}
	return opts, nil
}
