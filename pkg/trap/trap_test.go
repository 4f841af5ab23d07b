// Copyright 2024 The gVisor Authors.
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

package trap

import (
	"bytes"
	"context"
	"errors"
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"gvisor.dev/lacd/pkg/abi/linux"
	lerrors "gvisor.dev/lacd/pkg/errors"
	"gvisor.dev/lacd/pkg/errors/linuxerr"
	"gvisor.dev/lacd/pkg/sentry/arch"
	"gvisor.dev/lacd/pkg/sentry/fsimpl/testutil"
	"gvisor.dev/lacd/pkg/sentry/kernel"
	sys "gvisor.dev/lacd/pkg/sentry/syscalls/linux"
)

func sysno(t *testing.T, name string) uintptr {
	t.Helper()
	nr, err := sys.AMD64.LookupNo(name)
	if err != nil {
		t.Fatalf("LookupNo(%q) failed: %v", name, err)
	}
	return nr
}

// serve starts a Server for a new system and returns a connected client.
func serve(t *testing.T) (*testutil.System, *Client) {
	t.Helper()
	s := testutil.NewSystem(t, sys.AMD64, testutil.SystemOpts{})
	sock := filepath.Join(t.TempDir(), "trap.sock")
	ln, err := net.Listen("unix", sock)
	if err != nil {
		t.Fatalf("Listen(%q) failed: %v", sock, err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- NewServer(s.Kernel).Serve(ctx, ln) }()
	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			if err != nil {
				t.Errorf("Serve() got %v, want nil", err)
			}
		case <-time.After(10 * time.Second):
			t.Errorf("Serve() did not return after cancel")
		}
	})

	c, err := Dial(sock)
	if err != nil {
		t.Fatalf("Dial(%q) failed: %v", sock, err)
	}
	t.Cleanup(func() { c.Close() })
	return s, c
}

func errnoOf(err error) *lerrors.Error {
	var e *lerrors.Error
	if errors.As(err, &e) {
		return e
	}
	return nil
}

func TestSpawnAndSyscall(t *testing.T) {
	s, c := serve(t)

	spawned, err := c.Spawn(&SpawnRequest{Filename: testutil.ExecutablePath, Argv: []string{"true", "-v"}})
	if err != nil {
		t.Fatalf("Spawn() failed: %v", err)
	}
	if spawned.PID < int32(kernel.FirstPID) {
		t.Errorf("Spawn() pid got %d, want >= %d", spawned.PID, kernel.FirstPID)
	}
	p := s.Kernel.ProcessWithID(kernel.ThreadID(spawned.PID))
	if p == nil {
		t.Fatalf("process %d not found", spawned.PID)
	}
	if diff := cmp.Diff(p.Arch().Regs, spawned.Regs); diff != "" {
		t.Errorf("Spawn() registers differ (-want +got):\n%s", diff)
	}

	resp, err := c.Syscall(&kernel.Request{PID: kernel.ThreadID(spawned.PID), Sysno: sysno(t, "getpid")})
	if err != nil {
		t.Fatalf("Syscall(getpid) failed: %v", err)
	}
	if resp.Exited || resp.Return != uintptr(spawned.PID) {
		t.Errorf("getpid got (%d, exited %t), want (%d, false)", resp.Return, resp.Exited, spawned.PID)
	}
	if resp.Regs.Rax != uint64(spawned.PID) {
		t.Errorf("getpid rax got %d, want %d", resp.Regs.Rax, spawned.PID)
	}

	// A complete register file replaces the process registers.
	regs := resp.Regs
	regs.Orig_rax = uint64(sysno(t, "getppid"))
	regs.Rax = regs.Orig_rax
	resp, err = c.Syscall(&kernel.Request{PID: kernel.ThreadID(spawned.PID), Regs: regs, HaveRegs: true})
	if err != nil {
		t.Fatalf("Syscall(getppid) failed: %v", err)
	}
	if resp.Return != uintptr(kernel.InitPID) {
		t.Errorf("getppid got %d, want %d", resp.Return, kernel.InitPID)
	}
	if resp.Regs.Rip != regs.Rip {
		t.Errorf("getppid rip got %#x, want %#x", resp.Regs.Rip, regs.Rip)
	}

	resp, err = c.Syscall(&kernel.Request{PID: kernel.ThreadID(spawned.PID), Sysno: sysno(t, "exit_group"), Args: arch.Args(3)})
	if err != nil {
		t.Fatalf("Syscall(exit_group) failed: %v", err)
	}
	if !resp.Exited || resp.ExitStatus != linux.WaitStatusExit(3) {
		t.Errorf("exit_group got (exited %t, status %#x), want (true, %#x)", resp.Exited, resp.ExitStatus, linux.WaitStatusExit(3))
	}
}

func TestErrors(t *testing.T) {
	_, c := serve(t)

	if _, err := c.Syscall(&kernel.Request{PID: 99999, Sysno: 39}); !linuxerr.Equals(linuxerr.ESRCH, errnoOf(err)) {
		t.Errorf("Syscall(missing pid) got %v, want ESRCH", err)
	}
	if _, err := c.Spawn(&SpawnRequest{Filename: "/no/such/file"}); !linuxerr.Equals(linuxerr.ENOENT, errnoOf(err)) {
		t.Errorf("Spawn(missing) got %v, want ENOENT", err)
	}
	if _, err := c.Fault(99999, linux.SIGSEGV, 0); !linuxerr.Equals(linuxerr.ESRCH, errnoOf(err)) {
		t.Errorf("Fault(missing pid) got %v, want ESRCH", err)
	}
	// The connection survives failed requests.
	if _, err := c.Spawn(&SpawnRequest{Filename: testutil.ExecutablePath}); err != nil {
		t.Errorf("Spawn() after errors failed: %v", err)
	}
}

func TestFault(t *testing.T) {
	_, c := serve(t)
	spawned, err := c.Spawn(&SpawnRequest{Filename: testutil.ExecutablePath})
	if err != nil {
		t.Fatalf("Spawn() failed: %v", err)
	}
	pid := kernel.ThreadID(spawned.PID)

	if _, err := c.Fault(pid, linux.SIGUSR1, 0); !linuxerr.Equals(linuxerr.EINVAL, errnoOf(err)) {
		t.Errorf("Fault(SIGUSR1) got %v, want EINVAL", err)
	}
	resp, err := c.Fault(pid, linux.SIGSEGV, 0x10)
	if err != nil {
		t.Fatalf("Fault(SIGSEGV) failed: %v", err)
	}
	if !resp.Exited || resp.ExitStatus.TerminationSignal() != linux.SIGSEGV {
		t.Errorf("Fault(SIGSEGV) got (exited %t, status %#x), want termination by SIGSEGV", resp.Exited, resp.ExitStatus)
	}
}

func TestResumeDeliversPendingSignal(t *testing.T) {
	const (
		handler  = 0x400100
		restorer = 0x400200
	)
	s, c := serve(t)
	spawned, err := c.Spawn(&SpawnRequest{Filename: testutil.ExecutablePath})
	if err != nil {
		t.Fatalf("Spawn() failed: %v", err)
	}
	pid := kernel.ThreadID(spawned.PID)
	p := s.Process(pid)

	act := linux.SignalAct{Handler: handler, Flags: linux.SA_RESTORER, Restorer: restorer}
	buf := make([]byte, act.SizeBytes())
	act.MarshalBytes(buf)
	p.MustCall(sysno(t, "rt_sigaction"), uintptr(linux.SIGUSR1), uintptr(p.Bytes(buf)), 0, 8)

	// The target is running guest code, so the handled signal stays pending
	// until it next resumes.
	sender := s.Spawn()
	sender.MustCall(sysno(t, "kill"), uintptr(pid), uintptr(linux.SIGUSR1))
	if !p.PendingSignals().Has(linux.SIGUSR1) {
		t.Fatalf("SIGUSR1 not pending after kill()")
	}

	resp, err := c.Resume(pid, p.Arch().Regs)
	if err != nil {
		t.Fatalf("Resume() failed: %v", err)
	}
	if resp.Exited || resp.Signal == nil {
		t.Fatalf("Resume() got (exited %t, signal %v), want a handler resumption", resp.Exited, resp.Signal)
	}
	if resp.Signal.Signal != linux.SIGUSR1 || resp.Regs.Rip != handler {
		t.Errorf("Resume() got signal %v at rip %#x, want SIGUSR1 at %#x", resp.Signal.Signal, resp.Regs.Rip, handler)
	}
	if p.PendingSignals().Has(linux.SIGUSR1) {
		t.Errorf("SIGUSR1 still pending after Resume()")
	}

	if _, err := c.Resume(99999, spawned.Regs); !linuxerr.Equals(linuxerr.ESRCH, errnoOf(err)) {
		t.Errorf("Resume(missing pid) got %v, want ESRCH", err)
	}
}

func TestMalformedFrames(t *testing.T) {
	var buf bytes.Buffer
	buf.Write([]byte{1, 2, 3, 4, 0, 0, 0, 0, 0, 0, 0, 0})
	if _, _, err := readFrame(&buf); err != ErrBadMagic {
		t.Errorf("readFrame(bad magic) got %v, want ErrBadMagic", err)
	}

	buf.Reset()
	if err := writeFrame(&buf, KindSyscall, []byte{1, 2, 3}); err != nil {
		t.Fatalf("writeFrame() failed: %v", err)
	}
	buf.Truncate(buf.Len() - 1)
	if _, _, err := readFrame(&buf); err == nil {
		t.Errorf("readFrame(truncated) succeeded")
	}

	if _, err := decodeSyscallRequest(make([]byte, 10)); err != ErrShortPayload {
		t.Errorf("decodeSyscallRequest(short) got %v, want ErrShortPayload", err)
	}
	if _, err := decodeSpawnRequest([]byte{0xff, 0xff, 0xff, 0xff}); err != ErrShortPayload {
		t.Errorf("decodeSpawnRequest(huge string) got %v, want ErrShortPayload", err)
	}

	// Unknown kinds are answered with an error frame.
	kind, payload := NewServer(nil).handleOne(Kind(0x42), nil)
	if kind != KindError {
		t.Fatalf("handleOne(unknown) got kind %v, want %v", kind, KindError)
	}
	if err := decodeError(payload); !linuxerr.Equals(linuxerr.EINVAL, errnoOf(err)) {
		t.Errorf("handleOne(unknown) got %v, want EINVAL", err)
	}
}

func TestSpawnRequestEncoding(t *testing.T) {
	want := &SpawnRequest{
		Filename:         "/bin/sh",
		Argv:             []string{"sh", "-c", ""},
		Envv:             []string{"HOME=/home/guest"},
		WorkingDirectory: "/tmp",
	}
	got, err := decodeSpawnRequest(want.encode())
	if err != nil {
		t.Fatalf("decodeSpawnRequest() failed: %v", err)
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("SpawnRequest mismatch (-want +got):\n%s", diff)
	}
}
