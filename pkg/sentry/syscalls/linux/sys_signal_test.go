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
	"encoding/binary"
	"testing"

	"gvisor.dev/lacd/pkg/abi/linux"
	"gvisor.dev/lacd/pkg/errors/linuxerr"
	"gvisor.dev/lacd/pkg/hostarch"
	"gvisor.dev/lacd/pkg/sentry/fsimpl/testutil"
)

func sigset(p *testutil.Process, sigs ...linux.Signal) hostarch.Addr {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], uint64(linux.MakeSignalSet(sigs...)))
	return p.Bytes(b[:])
}

func TestBlockedSignalStaysPending(t *testing.T) {
	s := newSystem(t)
	p := s.Spawn()

	p.MustCall(sysno(t, "rt_sigprocmask"), linux.SIG_BLOCK, uintptr(sigset(p, linux.SIGUSR1)), 0, 8)
	p.MustCall(sysno(t, "kill"), uintptr(p.PID()), uintptr(linux.SIGUSR1))

	pending := p.Alloc(8)
	p.MustCall(sysno(t, "rt_sigpending"), uintptr(pending), 8)
	if got := linux.SignalSet(p.Uint64(pending)); !got.Has(linux.SIGUSR1) {
		t.Errorf("rt_sigpending() got %#x, want SIGUSR1 pending", uint64(got))
	}

	// Unblocking delivers the signal before the process resumes. Its
	// default action terminates the process.
	r := p.Syscall(sysno(t, "rt_sigprocmask"), linux.SIG_UNBLOCK, uintptr(sigset(p, linux.SIGUSR1)), 0, 8)
	if !r.Exited {
		t.Fatalf("rt_sigprocmask(SIG_UNBLOCK) returned to the guest")
	}
	if !r.ExitStatus.Signaled() || r.ExitStatus.TerminationSignal() != linux.SIGUSR1 {
		t.Errorf("exit status got %#x, want termination by SIGUSR1", uint32(r.ExitStatus))
	}
}

func TestSignalKillCannotBeBlocked(t *testing.T) {
	s := newSystem(t)
	p := s.Spawn()

	p.MustCall(sysno(t, "rt_sigprocmask"), linux.SIG_SETMASK, uintptr(sigset(p, linux.SIGKILL, linux.SIGSTOP, linux.SIGUSR2)), 0, 8)
	old := p.Alloc(8)
	p.MustCall(sysno(t, "rt_sigprocmask"), linux.SIG_BLOCK, 0, uintptr(old), 8)
	got := linux.SignalSet(p.Uint64(old))
	if got.Has(linux.SIGKILL) || got.Has(linux.SIGSTOP) || !got.Has(linux.SIGUSR2) {
		t.Errorf("signal mask got %#x, want only SIGUSR2", uint64(got))
	}

	act := linux.SignalAct{Handler: linux.SIG_IGN}
	buf := make([]byte, act.SizeBytes())
	act.MarshalBytes(buf)
	if _, errno := p.Call(sysno(t, "rt_sigaction"), uintptr(linux.SIGKILL), uintptr(p.Bytes(buf)), 0, 8); errno != testutil.ErrnoOf(linuxerr.EINVAL) {
		t.Errorf("rt_sigaction(SIGKILL) got errno %d, want EINVAL", errno)
	}
}

func TestSignalHandlerResumption(t *testing.T) {
	const (
		handler  = 0x400100
		restorer = 0x400200
	)
	s := newSystem(t)
	p := s.Spawn()

	act := linux.SignalAct{Handler: handler, Flags: linux.SA_RESTORER, Restorer: restorer}
	buf := make([]byte, act.SizeBytes())
	act.MarshalBytes(buf)
	p.MustCall(sysno(t, "rt_sigaction"), uintptr(linux.SIGUSR1), uintptr(p.Bytes(buf)), 0, 8)

	r := p.Syscall(sysno(t, "kill"), uintptr(p.PID()), uintptr(linux.SIGUSR1))
	if r.Exited {
		t.Fatalf("kill() exited the process")
	}
	if r.Signal == nil {
		t.Fatalf("kill() response has no signal resumption")
	}
	if r.Signal.Signal != linux.SIGUSR1 || r.Signal.Handler != handler {
		t.Errorf("resumption got %+v, want SIGUSR1 at %#x", *r.Signal, handler)
	}
	if r.Regs.Rip != handler {
		t.Errorf("resume IP got %#x, want %#x", r.Regs.Rip, handler)
	}
	// The handler returns to the restorer.
	if got := p.Uint64(r.Signal.Frame); got != restorer {
		t.Errorf("return address got %#x, want %#x", got, restorer)
	}
}

func TestSigtimedwait(t *testing.T) {
	s := newSystem(t)
	p := s.Spawn()

	p.MustCall(sysno(t, "rt_sigprocmask"), linux.SIG_BLOCK, uintptr(sigset(p, linux.SIGUSR2)), 0, 8)
	p.MustCall(sysno(t, "tgkill"), uintptr(p.PID()), uintptr(p.PID()), uintptr(linux.SIGUSR2))

	info := p.Alloc(128)
	if got := p.MustCall(sysno(t, "rt_sigtimedwait"), uintptr(sigset(p, linux.SIGUSR2)), uintptr(info), 0, 8); got != uintptr(linux.SIGUSR2) {
		t.Errorf("rt_sigtimedwait() got %d, want %d", got, linux.SIGUSR2)
	}
	if signo := p.Uint32(info); signo != uint32(linux.SIGUSR2) {
		t.Errorf("siginfo.si_signo got %d, want %d", signo, linux.SIGUSR2)
	}
}
