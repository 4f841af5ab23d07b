// Copyright 2020 The gVisor Authors.
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

package config

import (
	"flag"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"gvisor.dev/lacd/pkg/sentry/pathmap"
)

func newFlagSet(t *testing.T, args ...string) *flag.FlagSet {
	t.Helper()
	flagSet := flag.NewFlagSet("test", flag.ContinueOnError)
	RegisterFlags(flagSet)
	if err := flagSet.Parse(args); err != nil {
		t.Fatalf("Parse(%v) failed: %v", args, err)
	}
	return flagSet
}

func writeFile(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "lacd.toml")
	if err := os.WriteFile(path, []byte(contents), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestDefault(t *testing.T) {
	t.Setenv("XDG_RUNTIME_DIR", "")
	c, err := NewFromFlags(newFlagSet(t))
	if err != nil {
		t.Fatalf("NewFromFlags() failed: %v", err)
	}
	if c.RootDir != DefaultRootDir {
		t.Errorf("RootDir got %q, want %q", c.RootDir, DefaultRootDir)
	}
	if c.MaxProcesses != DefaultMaxProcesses || c.DefaultStackSize != DefaultStackSize || c.MemoryBudget != DefaultMemoryBudget {
		t.Errorf("limits got (%d, %d, %d), want defaults", c.MaxProcesses, c.DefaultStackSize, c.MemoryBudget)
	}
	if want := DefaultRootDir + "/lacd.sock"; c.SocketPath() != want {
		t.Errorf("SocketPath() got %q, want %q", c.SocketPath(), want)
	}
	if diff := cmp.Diff(pathmap.DefaultRules(), c.Rules()); diff != "" {
		t.Errorf("Rules() mismatch (-want +got):\n%s", diff)
	}
	// Default values must not be emitted.
	if flags := c.ToFlags(); len(flags) != 1 || !strings.HasPrefix(flags[0], "--root=") {
		t.Errorf("ToFlags() got %v, want only --root", flags)
	}
}

func TestFromFlags(t *testing.T) {
	c, err := NewFromFlags(newFlagSet(t, "--root=/r", "--debug", "--max-processes=10", "--strace-log-size=64"))
	if err != nil {
		t.Fatalf("NewFromFlags() failed: %v", err)
	}
	if c.RootDir != "/r" || !c.Debug || c.MaxProcesses != 10 || c.StraceLogSize != 64 {
		t.Errorf("NewFromFlags() got %+v", c)
	}
	if c.LockPath() != "/r/lacd.lock" {
		t.Errorf("LockPath() got %q", c.LockPath())
	}

	// ToFlags output parses back into the same config.
	c2, err := NewFromFlags(newFlagSet(t, c.ToFlags()...))
	if err != nil {
		t.Fatalf("NewFromFlags(ToFlags()) failed: %v", err)
	}
	if diff := cmp.Diff(c, c2); diff != "" {
		t.Errorf("ToFlags round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestConfigFile(t *testing.T) {
	path := writeFile(t, `
root_dir = "/from/file"
max_processes = 50
debug = true
log_format = "json"

[[path_mapping]]
guest = "/"
host = "file:/srv/root"

[[path_mapping]]
guest = "/proc"
host = "proc:"
priority = 1
`)
	// --max-processes is explicit and wins over the file.
	c, err := NewFromFlags(newFlagSet(t, "--config="+path, "--max-processes=7"))
	if err != nil {
		t.Fatalf("NewFromFlags() failed: %v", err)
	}
	if c.RootDir != "/from/file" || !c.Debug || c.LogFormat != "json" {
		t.Errorf("file settings not applied: %+v", c)
	}
	if c.MaxProcesses != 7 {
		t.Errorf("MaxProcesses got %d, want 7", c.MaxProcesses)
	}
	// Settings absent from the file keep their flag defaults.
	if c.DefaultStackSize != DefaultStackSize {
		t.Errorf("DefaultStackSize got %d, want %d", c.DefaultStackSize, DefaultStackSize)
	}
	want := []pathmap.Rule{
		{Guest: "/", Host: "file:/srv/root"},
		{Guest: "/proc", Host: "proc:", Priority: 1},
	}
	if diff := cmp.Diff(want, c.Rules()); diff != "" {
		t.Errorf("Rules() mismatch (-want +got):\n%s", diff)
	}
}

func TestInvalid(t *testing.T) {
	for _, tc := range []struct {
		name string
		args []string
		file string
	}{
		{name: "max processes", args: []string{"--max-processes=0"}},
		{name: "stack size", args: []string{"--default-stack-size=1000"}},
		{name: "log format", args: []string{"--log-format=xml"}},
		{name: "metrics addr", args: []string{"--metrics-addr=nohost"}},
		{name: "missing root rule", file: "[[path_mapping]]\nguest = \"/tmp\"\nhost = \"file:/tmp\"\n"},
		{name: "unknown key", file: "no_such_key = 1\n"},
		{name: "syntax", file: "max_processes = \n"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			args := tc.args
			if tc.file != "" {
				args = append(args, "--config="+writeFile(t, tc.file))
			}
			if _, err := NewFromFlags(newFlagSet(t, args...)); err == nil {
				t.Errorf("NewFromFlags(%v) succeeded, want error", args)
			}
		})
	}
	if _, err := NewFromFlags(newFlagSet(t, "--config=/no/such/file.toml")); err == nil {
		t.Errorf("NewFromFlags(missing file) succeeded, want error")
	}
}
