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

	"gvisor.dev/lacd/pkg/abi/linux"
	"gvisor.dev/lacd/pkg/errors/linuxerr"
	"gvisor.dev/lacd/pkg/sentry/fsimpl/testutil"
	"gvisor.dev/lacd/pkg/sentry/kernel"
)

func TestForkExitWait(t *testing.T) {
	s := newSystem(t)
	parent := s.Spawn()

	act := linux.SignalAct{Handler: linux.SIG_IGN}
	buf := make([]byte, act.SizeBytes())
	act.MarshalBytes(buf)
	parent.MustCall(sysno(t, "rt_sigaction"), uintptr(linux.SIGUSR2), uintptr(parent.Bytes(buf)), 0, 8)

	pid := kernel.ThreadID(parent.MustCall(sysno(t, "fork")))
	if pid == parent.PID() {
		t.Fatalf("fork() returned the parent's pid %d", pid)
	}
	child := s.Process(pid)
	if got := child.PPID(); got != parent.PID() {
		t.Errorf("child PPID got %d, want %d", got, parent.PID())
	}
	if got := kernel.ThreadID(child.MustCall(sysno(t, "getppid"))); got != parent.PID() {
		t.Errorf("getppid() got %d, want %d", got, parent.PID())
	}

	// The child inherits the parent's dispositions.
	old := child.Alloc(act.SizeBytes())
	child.MustCall(sysno(t, "rt_sigaction"), uintptr(linux.SIGUSR2), 0, uintptr(old), 8)
	var got linux.SignalAct
	got.UnmarshalBytes(child.Read(old, got.SizeBytes()))
	if !got.IsIgnored() {
		t.Errorf("child SIGUSR2 disposition got %+v, want SIG_IGN", got)
	}

	// Memory is copied, not shared.
	addr := parent.Bytes([]byte{1})
	child.MemoryManager().CopyOutBytes(addr, []byte{2})
	if b := parent.Read(addr, 1)[0]; b != 1 {
		t.Errorf("parent memory got %d after child write, want 1", b)
	}

	if r := child.Syscall(sysno(t, "exit_group"), 7); !r.Exited {
		t.Fatalf("exit_group(7) did not exit the child")
	}
	if got := child.State(); got != kernel.ProcessZombie {
		t.Errorf("child state got %v, want %v", got, kernel.ProcessZombie)
	}

	status := parent.Alloc(4)
	if got := kernel.ThreadID(parent.MustCall(sysno(t, "wait4"), uintptr(pid), uintptr(status), 0, 0)); got != pid {
		t.Errorf("wait4() got pid %d, want %d", got, pid)
	}
	ws := linux.WaitStatus(parent.Uint32(status))
	if !ws.Exited() || ws.ExitStatus() != 7 {
		t.Errorf("wait4() status got %#x, want exit 7", uint32(ws))
	}
	if got := child.State(); got != kernel.ProcessTerminated {
		t.Errorf("child state got %v after wait, want %v", got, kernel.ProcessTerminated)
	}
	if s.Kernel.ProcessWithID(pid) != nil {
		t.Errorf("reaped child %d is still registered", pid)
	}

	// There is nothing left to wait for.
	if _, errno := parent.Call(sysno(t, "wait4"), ^uintptr(0), 0, linux.WNOHANG, 0); errno != testutil.ErrnoOf(linuxerr.ECHILD) {
		t.Errorf("wait4(-1) got errno %d, want ECHILD", errno)
	}
}

func TestCloneThreadUnsupported(t *testing.T) {
	s := newSystem(t)
	p := s.Spawn()
	flags := uintptr(linux.CLONE_VM | linux.CLONE_THREAD | linux.CLONE_SIGHAND)
	if _, errno := p.Call(sysno(t, "clone"), flags, 0, 0, 0, 0); errno != testutil.ErrnoOf(linuxerr.EINVAL) {
		t.Errorf("clone(CLONE_THREAD) got errno %d, want EINVAL", errno)
	}
}

func TestProcessLimit(t *testing.T) {
	s := testutil.NewSystem(t, AMD64, testutil.SystemOpts{Args: kernel.InitKernelArgs{MaxProcesses: 2}})
	p := s.Spawn()
	p.MustCall(sysno(t, "fork"))
	if _, errno := p.Call(sysno(t, "fork")); errno != testutil.ErrnoOf(linuxerr.EAGAIN) {
		t.Errorf("fork() beyond the limit got errno %d, want EAGAIN", errno)
	}
}
