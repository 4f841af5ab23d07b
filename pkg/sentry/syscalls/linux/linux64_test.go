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

package linux

import (
	"testing"
	"time"

	"gvisor.dev/lacd/pkg/errors/linuxerr"
	"gvisor.dev/lacd/pkg/sentry/fsimpl/testutil"
	"gvisor.dev/lacd/pkg/sentry/kernel"
)

// sysno returns the number of the named syscall in AMD64.
func sysno(t *testing.T, name string) uintptr {
	t.Helper()
	nr, err := AMD64.LookupNo(name)
	if err != nil {
		t.Fatalf("LookupNo(%q) failed: %v", name, err)
	}
	return nr
}

func newSystem(t *testing.T) *testutil.System {
	return testutil.NewSystem(t, AMD64, testutil.SystemOpts{})
}

// waitBlocked waits until p parks in a blocking syscall.
func waitBlocked(t *testing.T, p *testutil.Process) {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for p.State() != kernel.ProcessBlocked {
		if time.Now().After(deadline) {
			t.Fatalf("process %d never blocked, state %v", p.PID(), p.State())
		}
		time.Sleep(time.Millisecond)
	}
}

func TestTableArgCounts(t *testing.T) {
	// Argument counts of the x86-64 calling convention.
	for name, want := range map[string]int{
		"read":            3,
		"write":           3,
		"openat":          4,
		"mmap":            6,
		"rt_sigaction":    4,
		"rt_sigreturn":    0,
		"clone":           5,
		"wait4":           4,
		"futex":           6,
		"futex_waitv":     5,
		"semtimedop":      4,
		"msgrcv":          5,
		"clock_nanosleep": 4,
		"prlimit64":       4,
		"getpid":          0,
		"socket":          3,
	} {
		sc, ok := AMD64.Lookup(sysno(t, name))
		if !ok {
			t.Errorf("Lookup(%s) found nothing", name)
			continue
		}
		if sc.ArgCount != want {
			t.Errorf("%s ArgCount got %d, want %d", name, sc.ArgCount, want)
		}
	}
}

func TestTableEntries(t *testing.T) {
	names := make(map[string]uintptr)
	for nr, sc := range AMD64.Table {
		if sc.Number != nr {
			t.Errorf("syscall %s registered as %d but numbered %d", sc.Name, nr, sc.Number)
		}
		if prev, ok := names[sc.Name]; ok {
			t.Errorf("syscall %s registered as both %d and %d", sc.Name, prev, nr)
		}
		names[sc.Name] = nr
		if sc.SupportLevel != kernel.SupportUnimplemented && sc.Fn == nil {
			t.Errorf("syscall %s is %v but has no implementation", sc.Name, sc.SupportLevel)
		}
	}

	for _, tc := range []struct {
		name string
		nr   uintptr
		cat  kernel.Category
	}{
		{"read", 0, kernel.CategoryFile},
		{"shmget", 29, kernel.CategoryIPC},
		{"fork", 57, kernel.CategoryProcess},
		{"kill", 62, kernel.CategorySignal},
		{"uname", 63, kernel.CategoryIdentity},
		{"clock_gettime", 228, kernel.CategoryTime},
		{"pipe2", 293, kernel.CategoryFile},
	} {
		if got := sysno(t, tc.name); got != tc.nr {
			t.Errorf("LookupNo(%s) got %d, want %d", tc.name, got, tc.nr)
		}
		if sc, _ := AMD64.Lookup(tc.nr); sc.Category != tc.cat {
			t.Errorf("%s category got %v, want %v", tc.name, sc.Category, tc.cat)
		}
	}
}

func TestUnknownSyscall(t *testing.T) {
	s := newSystem(t)
	p := s.Spawn()
	if _, errno := p.Call(1999); errno != testutil.ErrnoOf(linuxerr.ENOSYS) {
		t.Errorf("syscall 1999 got errno %d, want ENOSYS", errno)
	}
	// Networking is registered but not emulated.
	if _, errno := p.Call(sysno(t, "socket"), 2, 1, 0); errno != testutil.ErrnoOf(linuxerr.ENOSYS) {
		t.Errorf("socket() got errno %d, want ENOSYS", errno)
	}
}
