// Copyright 2018 The gVisor Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package config provides basic infrastructure to set configuration settings
// for lacd. Each setting that can be changed from the command line must have
// a corresponding flag and a "flag" struct tag; settings read from a
// configuration file have a "toml" struct tag.
package config

import (
	"fmt"
	"net"

	"gvisor.dev/lacd/pkg/hostarch"
	"gvisor.dev/lacd/pkg/log"
	"gvisor.dev/lacd/pkg/sentry/pathmap"
)

// Config holds configuration that is not part of the request protocol.
type Config struct {
	// ConfigFile is the TOML file that settings are read from. Flags set on
	// the command line override it.
	ConfigFile string `flag:"config" toml:"-"`

	// RootDir is the runtime root directory. It holds the lock file and the
	// default trap socket.
	RootDir string `flag:"root" toml:"root_dir"`

	// Socket is the path of the trap socket. It defaults to lacd.sock in
	// RootDir.
	Socket string `flag:"socket" toml:"socket"`

	// FileRoot is the host directory backing the "file" namespace.
	FileRoot string `flag:"file-root" toml:"file_root"`

	// SysRoot is the host directory mirrored by the "sys" namespace.
	SysRoot string `flag:"sys-root" toml:"sys_root"`

	// MetricsAddr is the TCP address /metrics is served on. Empty disables
	// the metrics server.
	MetricsAddr string `flag:"metrics-addr" toml:"metrics_addr"`

	// Debug indicates that debug logging should be enabled.
	Debug bool `flag:"debug" toml:"debug"`

	// LogFilename is the file to log to, if not empty. %TIMESTAMP%, %PID%
	// and %COMMAND% are expanded.
	LogFilename string `flag:"log" toml:"log"`

	// LogFormat is the log format: text, json or json-k8s.
	LogFormat string `flag:"log-format" toml:"log_format"`

	// Strace indicates that strace should be enabled.
	Strace bool `flag:"strace" toml:"strace"`

	// StraceSyscalls is the set of syscalls to trace (comma-separated
	// values). If StraceEnable is true and this string is empty, then all
	// syscalls will be traced.
	StraceSyscalls string `flag:"strace-syscalls" toml:"strace_syscalls"`

	// StraceLogSize is the max size of data blobs to display.
	StraceLogSize uint `flag:"strace-log-size" toml:"strace_log_size"`

	// MaxProcesses bounds the number of guest processes, zombies included.
	MaxProcesses int `flag:"max-processes" toml:"max_processes"`

	// DefaultStackSize is the initial stack size of new images, in bytes.
	DefaultStackSize uint64 `flag:"default-stack-size" toml:"default_stack_size"`

	// MemoryBudget is the per-process mapped-bytes budget. Zero is
	// unlimited.
	MemoryBudget uint64 `flag:"memory-budget" toml:"memory_budget"`

	// Hostname is reported to guests by uname(2).
	Hostname string `flag:"hostname" toml:"hostname"`

	// PathMappings replaces the default path mapping rules if not empty.
	PathMappings []pathmap.Rule `toml:"path_mapping"`
}

// Defaults.
const (
	DefaultRootDir          = "/var/run/lacd"
	DefaultMaxProcesses     = 1024
	DefaultStackSize        = 8 << 20
	DefaultMemoryBudget     = 1 << 30
	defaultSocketName       = "lacd.sock"
	defaultLockName         = "lacd.lock"
	defaultStraceLogSize    = 1024
	defaultLogFormat        = "text"
)

func (c *Config) validate() error {
	if c.MaxProcesses <= 0 {
		return fmt.Errorf("max_processes must be positive, got %d", c.MaxProcesses)
	}
	if c.DefaultStackSize == 0 || c.DefaultStackSize%hostarch.PageSize != 0 {
		return fmt.Errorf("default_stack_size must be a positive multiple of %d, got %d", hostarch.PageSize, c.DefaultStackSize)
	}
	switch c.LogFormat {
	case "text", "json", "json-k8s":
	default:
		return fmt.Errorf("invalid log format %q, must be 'text', 'json', or 'json-k8s'", c.LogFormat)
	}
	if c.MetricsAddr != "" {
		if _, _, err := net.SplitHostPort(c.MetricsAddr); err != nil {
			return fmt.Errorf("invalid metrics_addr %q: %w", c.MetricsAddr, err)
		}
	}
	if _, err := pathmap.New(c.Rules()); err != nil {
		return err
	}
	return nil
}

// Rules returns the path mapping rules in effect.
func (c *Config) Rules() []pathmap.Rule {
	if len(c.PathMappings) == 0 {
		return pathmap.DefaultRules()
	}
	return c.PathMappings
}

// SocketPath returns the trap socket path.
func (c *Config) SocketPath() string {
	if c.Socket != "" {
		return c.Socket
	}
	return c.RootDir + "/" + defaultSocketName
}

// LockPath returns the path of the single-instance lock file.
func (c *Config) LockPath() string {
	return c.RootDir + "/" + defaultLockName
}

// Log logs important aspects of the configuration to the given log function.
func (c *Config) Log() {
	log.Infof("Config.RootDir: %s", c.RootDir)
	log.Infof("Config.Socket: %s", c.SocketPath())
	log.Infof("Config.FileRoot: %s", c.FileRoot)
	log.Infof("Config.MaxProcesses: %d", c.MaxProcesses)
	log.Infof("Config.DefaultStackSize: %d", c.DefaultStackSize)
	log.Infof("Config.MemoryBudget: %d", c.MemoryBudget)
	log.Infof("Config.Debug: %t", c.Debug)
	log.Infof("Config.Strace: %t, Syscalls: %s, Log size: %d", c.Strace, c.StraceSyscalls, c.StraceLogSize)
	for _, r := range c.Rules() {
		log.Infof("Config.PathMapping: %v", r)
	}
}
