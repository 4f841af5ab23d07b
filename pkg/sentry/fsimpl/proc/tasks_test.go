// Copyright 2019 The gVisor Authors.
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

package proc

import (
	"fmt"
	"strconv"
	"strings"
	"testing"

	"gvisor.dev/lacd/pkg/abi/linux"
	"gvisor.dev/lacd/pkg/errors/linuxerr"
	"gvisor.dev/lacd/pkg/sentry/fsimpl/testutil"
	"gvisor.dev/lacd/pkg/sentry/pathmap"
	sys "gvisor.dev/lacd/pkg/sentry/syscalls/linux"
)

func setup(t *testing.T) *testutil.System {
	t.Helper()
	s := testutil.NewSystem(t, sys.AMD64, testutil.SystemOpts{
		Rules: []pathmap.Rule{{Guest: "/proc", Host: Name + ":"}},
	})
	s.VFS.RegisterFilesystem(Name, New(s.Kernel))
	return s
}

func TestRootListing(t *testing.T) {
	s := setup(t)
	p := s.Spawn()

	collector := s.ListDirents("/proc")
	s.AssertAllDirentTypes(collector, map[string]testutil.DirentType{
		"loadavg":                  linux.DT_REG,
		"meminfo":                  linux.DT_REG,
		"uptime":                   linux.DT_REG,
		"version":                  linux.DT_REG,
		"self":                     linux.DT_LNK,
		strconv.Itoa(int(p.PID())): linux.DT_DIR,
	})
}

func TestTaskListing(t *testing.T) {
	s := setup(t)
	p := s.Spawn()

	dir := fmt.Sprintf("/proc/%d", p.PID())
	s.AssertAllDirentTypes(s.ListDirents(dir), map[string]testutil.DirentType{
		"cmdline": linux.DT_REG,
		"comm":    linux.DT_REG,
		"cwd":     linux.DT_LNK,
		"environ": linux.DT_REG,
		"exe":     linux.DT_LNK,
		"fd":      linux.DT_DIR,
		"maps":    linux.DT_REG,
		"stat":    linux.DT_REG,
		"status":  linux.DT_REG,
	})
}

func TestTaskFiles(t *testing.T) {
	s := setup(t)
	p := s.Spawn()
	dir := fmt.Sprintf("/proc/%d", p.PID())

	status := s.ReadFile(dir + "/status")
	for _, want := range []string{
		fmt.Sprintf("Pid:\t%d\n", p.PID()),
		fmt.Sprintf("PPid:\t%d\n", p.PPID()),
		"VmSize:",
	} {
		if !strings.Contains(status, want) {
			t.Errorf("status does not contain %q:\n%s", want, status)
		}
	}

	stat := s.ReadFile(dir + "/stat")
	fields := strings.Fields(stat)
	if len(fields) != 52 {
		t.Errorf("stat has %d fields, want 52: %q", len(fields), stat)
	}
	if fields[0] != strconv.Itoa(int(p.PID())) {
		t.Errorf("stat pid got %s, want %d", fields[0], p.PID())
	}

	if maps := s.ReadFile(dir + "/maps"); !strings.Contains(maps, "[stack]") {
		t.Errorf("maps has no stack region:\n%s", maps)
	}
	if cmdline := s.ReadFile(dir + "/cmdline"); !strings.HasPrefix(cmdline, testutil.ExecutablePath) {
		t.Errorf("cmdline got %q, want prefix %q", cmdline, testutil.ExecutablePath)
	}
}

func TestSymlinks(t *testing.T) {
	s := setup(t)
	p := s.Spawn()
	dir := fmt.Sprintf("/proc/%d", p.PID())

	fs := New(s.Kernel)
	n, err := fs.lookup(fmt.Sprintf("/%d/exe", p.PID()))
	if err != nil {
		t.Fatalf("lookup(exe) failed: %v", err)
	}
	if target, err := n.target(); err != nil || target != testutil.ExecutablePath {
		t.Errorf("exe target got (%q, %v), want %q", target, err, testutil.ExecutablePath)
	}

	// Following exe reaches the executable in the root filesystem.
	st, err := s.VFS.StatAt(dir+"/exe", true)
	if err != nil || st.Mode&linux.S_IFMT != linux.S_IFREG {
		t.Errorf("StatAt(exe) got (%#o, %v), want a regular file", st.Mode, err)
	}
	st, err = s.VFS.StatAt(dir+"/exe", false)
	if err != nil || st.Mode&linux.S_IFMT != linux.S_IFLNK {
		t.Errorf("StatAt(exe, nofollow) got (%#o, %v), want a symlink", st.Mode, err)
	}
}

func TestSelfResolvesToCaller(t *testing.T) {
	s := setup(t)
	p := s.Spawn()
	want := fmt.Sprintf("/proc/%d/status", p.PID())
	if got := p.ResolvePath("/proc/self/status"); got != want {
		t.Errorf("ResolvePath(/proc/self/status) got %q, want %q", got, want)
	}
	if got := p.ResolvePath("/proc/selfish"); got != "/proc/selfish" {
		t.Errorf("ResolvePath(/proc/selfish) got %q, want unchanged", got)
	}
}

func TestReadOnly(t *testing.T) {
	s := setup(t)
	p := s.Spawn()
	path := fmt.Sprintf("/proc/%d/status", p.PID())

	if _, err := s.VFS.OpenAt(path, linux.O_WRONLY, 0); !linuxerr.Equals(linuxerr.EACCES, err) {
		t.Errorf("OpenAt(O_WRONLY) got %v, want EACCES", err)
	}
	if err := s.VFS.UnlinkAt(path); !linuxerr.Equals(linuxerr.EPERM, err) {
		t.Errorf("UnlinkAt() got %v, want EPERM", err)
	}
	if _, err := s.VFS.StatAt("/proc/99999", true); !linuxerr.Equals(linuxerr.ENOENT, err) {
		t.Errorf("StatAt(missing pid) got %v, want ENOENT", err)
	}
	if _, err := s.VFS.StatAt("/proc/0"+strconv.Itoa(int(p.PID())), true); !linuxerr.Equals(linuxerr.ENOENT, err) {
		t.Errorf("StatAt(non-canonical pid) got %v, want ENOENT", err)
	}
}
