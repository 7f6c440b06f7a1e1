package main

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/cockroachdb/errors"
	"gopkg.in/yaml.v3"

	"github.com/gogpu/aerogpu"
)

// config is the aerogpu CLI configuration. It is read from a TOML or YAML
// file; command line flags override the file.
type config struct {
	// Backend names a registered backend. Empty selects the best available.
	Backend string `toml:"backend" yaml:"backend"`
	// Mode is "blocking" or "async".
	Mode string `toml:"mode" yaml:"mode"`
	// LogLevel is a logrus level name.
	LogLevel      string  `toml:"log_level" yaml:"log_level"`
	MaxStreamSize uint32  `toml:"max_stream_size" yaml:"max_stream_size"`
	Traces        []trace `toml:"trace" yaml:"traces"`
}

// trace is a guest RAM image and the submissions to run against it.
type trace struct {
	Name string `toml:"name" yaml:"name"`
	// Memory is the path of the raw guest RAM image, relative to the
	// configuration file.
	Memory string `toml:"memory" yaml:"memory"`
	// Writable maps the image read-write so writebacks reach the file.
	Writable    bool         `toml:"writable" yaml:"writable"`
	Submissions []submission `toml:"submission" yaml:"submissions"`
}

type submission struct {
	CmdAddr   uint64 `toml:"cmd_addr" yaml:"cmd_addr"`
	CmdSize   uint32 `toml:"cmd_size" yaml:"cmd_size"`
	AllocAddr uint64 `toml:"alloc_addr" yaml:"alloc_addr"`
	AllocSize uint32 `toml:"alloc_size" yaml:"alloc_size"`
}

func (s submission) descriptor() aerogpu.Submission {
	return aerogpu.Submission{CmdAddr: s.CmdAddr, CmdSize: s.CmdSize, AllocAddr: s.AllocAddr, AllocSize: s.AllocSize}
}

// loadConfig reads the configuration at path. The format follows the
// extension: .yaml and .yml are YAML, anything else is TOML.
func loadConfig(path string) (*config, error) {
	var c config
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		f, err := os.Open(path)
		if err != nil {
			return nil, errors.Wrap(err, "open config")
		}
		defer f.Close()
		dec := yaml.NewDecoder(f)
		dec.KnownFields(true)
		if err := dec.Decode(&c); err != nil {
			return nil, errors.Wrapf(err, "parse %s", path)
		}
	default:
		md, err := toml.DecodeFile(path, &c)
		if err != nil {
			return nil, errors.Wrapf(err, "parse %s", path)
		}
		if undec := md.Undecoded(); len(undec) > 0 {
			return nil, errors.Newf("parse %s: unknown key %q", path, undec[0].String())
		}
	}
	dir := filepath.Dir(path)
	for i := range c.Traces {
		if m := c.Traces[i].Memory; m != "" && !filepath.IsAbs(m) {
			c.Traces[i].Memory = filepath.Join(dir, m)
		}
	}
	return &c, c.validate()
}

func (c *config) validate() error {
	if _, err := parseMode(c.Mode); err != nil {
		return err
	}
	seen := make(map[string]bool, len(c.Traces))
	for i, t := range c.Traces {
		if t.Name == "" {
			return errors.Newf("trace %d has no name", i)
		}
		if seen[t.Name] {
			return errors.Newf("trace %q is defined twice", t.Name)
		}
		seen[t.Name] = true
		if t.Memory == "" {
			return errors.Newf("trace %q has no memory image", t.Name)
		}
	}
	return nil
}

// find returns the traces named in names, or all traces if names is empty.
func (c *config) find(names []string) ([]trace, error) {
	if len(names) == 0 {
		return c.Traces, nil
	}
	out := make([]trace, 0, len(names))
	for _, n := range names {
		i := -1
		for j := range c.Traces {
			if c.Traces[j].Name == n {
				i = j
				break
			}
		}
		if i < 0 {
			return nil, errors.Newf("no trace named %q", n)
		}
		out = append(out, c.Traces[i])
	}
	return out, nil
}

func parseMode(s string) (aerogpu.Mode, error) {
	switch strings.ToLower(s) {
	case "", "blocking":
		return aerogpu.ModeBlocking, nil
	case "async":
		return aerogpu.ModeAsync, nil
	}
	return 0, errors.Newf("unknown mode %q", s)
}

// options returns the executor options the configuration selects.
func (c *config) options() []aerogpu.Option {
	var opts []aerogpu.Option
	if c.Backend != "" {
		opts = append(opts, aerogpu.WithBackend(c.Backend))
	}
	mode, _ := parseMode(c.Mode)
	opts = append(opts, aerogpu.WithMode(mode))
	if c.MaxStreamSize != 0 {
		opts = append(opts, aerogpu.WithMaxStreamSize(c.MaxStreamSize))
	}
	return opts
}
