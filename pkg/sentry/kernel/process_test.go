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

package kernel

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"gvisor.dev/lacd/pkg/abi/linux"
	"gvisor.dev/lacd/pkg/errors/linuxerr"
	"gvisor.dev/lacd/pkg/hostarch"
	"gvisor.dev/lacd/pkg/sentry/kernel/pipe"
	"gvisor.dev/lacd/pkg/sentry/vfs"
)

func TestCreateProcess(t *testing.T) {
	k := newTestKernel(t, InitKernelArgs{})
	p := k.spawn(t)

	if got := p.PID(); got != FirstPID {
		t.Errorf("PID() got %d, want %d", got, FirstPID)
	}
	if got := p.PPID(); got != InitPID {
		t.Errorf("PPID() got %d, want %d", got, InitPID)
	}
	if got := p.State(); got != ProcessRunning {
		t.Errorf("State() got %v, want %v", got, ProcessRunning)
	}
	if got := p.Name(); got != "true" {
		t.Errorf("Name() got %q, want %q", got, "true")
	}
	if got := p.Arch().IP(); got != testEntry {
		t.Errorf("IP() got %#x, want %#x", got, testEntry)
	}
	if sp := p.Arch().Stack(); sp%16 != 0 || sp == 0 {
		t.Errorf("Stack() got %#x, want non-zero 16-byte aligned", sp)
	}
	if got := p.ProcessGroupID(); got != p.PID() {
		t.Errorf("ProcessGroupID() got %d, want %d", got, p.PID())
	}
	if k.ProcessWithID(p.PID()) != p {
		t.Errorf("ProcessWithID(%d) did not return the process", p.PID())
	}

	q := k.spawn(t)
	if got := q.PID(); got != FirstPID+1 {
		t.Errorf("second PID() got %d, want %d", got, FirstPID+1)
	}
}

func TestCreateProcessErrors(t *testing.T) {
	k := newTestKernel(t, InitKernelArgs{})
	for _, tc := range []struct {
		name string
		path string
		want error
	}{
		{"missing", "/bin/nope", linuxerr.ENOENT},
		{"not executable", "/etc/passwd", linuxerr.EACCES},
		{"directory", "/bin", linuxerr.EACCES},
	} {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := k.CreateProcess(CreateProcessArgs{Filename: tc.path}); err != tc.want {
				t.Errorf("CreateProcess(%q) got %v, want %v", tc.path, err, tc.want)
			}
		})
	}
	if got := k.ProcessCount(); got != 0 {
		t.Errorf("ProcessCount() after failures got %d, want 0", got)
	}
}

func TestCreateProcessNotELF(t *testing.T) {
	k := newTestKernel(t, InitKernelArgs{})
	if err := k.fs.WriteFile("/bin/junk", []byte("\x7fELF garbage"), 0755); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
	if _, err := k.CreateProcess(CreateProcessArgs{Filename: "/bin/junk"}); err != linuxerr.ENOEXEC {
		t.Errorf("CreateProcess(junk) got %v, want ENOEXEC", err)
	}
}

func TestMaxProcesses(t *testing.T) {
	k := newTestKernel(t, InitKernelArgs{MaxProcesses: 2})
	p := k.spawn(t)
	k.spawn(t)
	if _, err := k.CreateProcess(CreateProcessArgs{Filename: "/bin/true"}); err != linuxerr.EAGAIN {
		t.Errorf("CreateProcess() over limit got %v, want EAGAIN", err)
	}
	if _, err := p.Clone(&CloneOptions{ExitSignal: linux.SIGCHLD}); err != linuxerr.EAGAIN {
		t.Errorf("Clone() over limit got %v, want EAGAIN", err)
	}
}

func TestPIDReuseAfterWrap(t *testing.T) {
	k := newTestKernel(t, InitKernelArgs{PIDMax: FirstPID + 2})
	p1 := k.spawn(t)
	p2 := k.spawn(t)
	if p1.PID() != FirstPID || p2.PID() != FirstPID+1 {
		t.Fatalf("pids got %d, %d; want %d, %d", p1.PID(), p2.PID(), FirstPID, FirstPID+1)
	}
	if _, err := k.CreateProcess(CreateProcessArgs{Filename: "/bin/true"}); err != linuxerr.EAGAIN {
		t.Fatalf("CreateProcess() with no free pid got %v, want EAGAIN", err)
	}

	// Children of init are reaped on exit, freeing their pid.
	p1.Exit(linux.WaitStatusExit(0))
	if got := p1.State(); got != ProcessTerminated {
		t.Errorf("State() of exited child of init got %v, want %v", got, ProcessTerminated)
	}
	p3 := k.spawn(t)
	if got := p3.PID(); got != FirstPID {
		t.Errorf("reused PID() got %d, want %d", got, FirstPID)
	}
}

func TestForkWaitExit(t *testing.T) {
	k := newTestKernel(t, InitKernelArgs{})
	parent := k.spawn(t)
	// SIGCHLD is discarded under its default disposition.
	installHandler(t, parent, linux.SIGCHLD, 0)

	pid, err := parent.Clone(&CloneOptions{ExitSignal: linux.SIGCHLD})
	if err != nil {
		t.Fatalf("Clone() failed: %v", err)
	}
	child := k.ProcessWithID(pid)
	if child == nil {
		t.Fatalf("ProcessWithID(%d) got nil", pid)
	}
	if got := child.PPID(); got != parent.PID() {
		t.Errorf("child PPID() got %d, want %d", got, parent.PID())
	}
	if diff := cmp.Diff([]ThreadID{pid}, parent.Children()); diff != "" {
		t.Errorf("Children() mismatch (-want +got):\n%s", diff)
	}
	if child.MemoryManager() == parent.MemoryManager() {
		t.Errorf("fork child shares the parent's address space")
	}
	if got := child.Arch().Return(); got != 0 {
		t.Errorf("child return register got %d, want 0", got)
	}

	// Nothing to collect yet.
	opts := &WaitOptions{Events: EventExit, ConsumeEvent: true, NonBlocking: true}
	if wr, err := parent.Wait(opts); wr != nil || err != nil {
		t.Errorf("non-blocking Wait() got (%+v, %v), want (nil, nil)", wr, err)
	}

	child.Exit(linux.WaitStatusExit(7))
	if got := child.State(); got != ProcessZombie {
		t.Errorf("child State() after exit got %v, want %v", got, ProcessZombie)
	}
	if !parent.PendingSignals().Has(linux.SIGCHLD) {
		t.Errorf("parent has no pending SIGCHLD")
	}

	opts.NonBlocking = false
	wr, err := parent.Wait(opts)
	if err != nil {
		t.Fatalf("Wait() failed: %v", err)
	}
	if wr.PID != pid || !wr.Status.Exited() || wr.Status.ExitStatus() != 7 {
		t.Errorf("Wait() got %+v, want pid %d exit status 7", wr, pid)
	}
	if wr.Code != linux.CLD_EXITED {
		t.Errorf("Wait() code got %d, want CLD_EXITED", wr.Code)
	}
	if got := child.State(); got != ProcessTerminated {
		t.Errorf("child State() after reap got %v, want %v", got, ProcessTerminated)
	}
	if k.ProcessWithID(pid) != nil {
		t.Errorf("reaped child still registered")
	}
	if _, err := parent.Wait(opts); err != linuxerr.ECHILD {
		t.Errorf("Wait() with no children got %v, want ECHILD", err)
	}
}

func TestStartAfterExit(t *testing.T) {
	k := newTestKernel(t, InitKernelArgs{})
	parent := k.spawn(t)
	pid, err := parent.Clone(&CloneOptions{ExitSignal: linux.SIGCHLD})
	if err != nil {
		t.Fatalf("Clone() failed: %v", err)
	}
	child := k.ProcessWithID(pid)
	if got := child.State(); got != ProcessRunning {
		t.Fatalf("published child State() got %v, want %v", got, ProcessRunning)
	}

	// A kill racing with creation can make the process exit before it is
	// started; starting it then leaves it dead.
	child.Exit(linux.WaitStatusTerminationSignal(linux.SIGKILL))
	child.Start()
	if got := child.State(); got != ProcessZombie {
		t.Errorf("State() after late Start() got %v, want %v", got, ProcessZombie)
	}
}

func TestDefaultSIGCHLDDiscarded(t *testing.T) {
	k := newTestKernel(t, InitKernelArgs{})
	parent := k.spawn(t)
	pid, err := parent.Clone(&CloneOptions{ExitSignal: linux.SIGCHLD})
	if err != nil {
		t.Fatalf("Clone() failed: %v", err)
	}
	k.ProcessWithID(pid).Exit(linux.WaitStatusExit(3))
	if parent.PendingSignals().Has(linux.SIGCHLD) {
		t.Errorf("SIGCHLD with default disposition left pending")
	}

	// The exit is still reported to wait.
	wr, err := parent.Wait(&WaitOptions{Events: EventExit, ConsumeEvent: true, NonBlocking: true})
	if err != nil || wr == nil {
		t.Fatalf("Wait() got (%+v, %v), want the exited child", wr, err)
	}
	if wr.PID != pid || wr.Status.ExitStatus() != 3 {
		t.Errorf("Wait() got %+v, want pid %d exit status 3", wr, pid)
	}
}

func TestWaitBlocksUntilExit(t *testing.T) {
	k := newTestKernel(t, InitKernelArgs{})
	parent := k.spawn(t)
	pid, err := parent.Clone(&CloneOptions{ExitSignal: linux.SIGCHLD})
	if err != nil {
		t.Fatalf("Clone() failed: %v", err)
	}
	child := k.ProcessWithID(pid)

	done := make(chan *WaitResult)
	go func() {
		wr, err := parent.Wait(&WaitOptions{SpecificPID: pid, Events: EventExit, ConsumeEvent: true})
		if err != nil {
			t.Errorf("Wait() failed: %v", err)
		}
		done <- wr
	}()

	select {
	case <-done:
		t.Fatalf("Wait() returned before the child exited")
	case <-time.After(50 * time.Millisecond):
	}
	child.Exit(linux.WaitStatusExit(1))
	select {
	case wr := <-done:
		if wr == nil || wr.PID != pid {
			t.Errorf("Wait() got %+v, want pid %d", wr, pid)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("Wait() did not return after the child exited")
	}
}

func TestExitReparentsChildren(t *testing.T) {
	k := newTestKernel(t, InitKernelArgs{})
	grandparent := k.spawn(t)
	ppid, err := grandparent.Clone(&CloneOptions{ExitSignal: linux.SIGCHLD})
	if err != nil {
		t.Fatalf("Clone() failed: %v", err)
	}
	parent := k.ProcessWithID(ppid)
	cpid, err := parent.Clone(&CloneOptions{ExitSignal: linux.SIGCHLD})
	if err != nil {
		t.Fatalf("Clone() failed: %v", err)
	}
	child := k.ProcessWithID(cpid)

	parent.Exit(linux.WaitStatusExit(0))
	if got := child.PPID(); got != grandparent.PID() {
		t.Errorf("orphan PPID() got %d, want %d", got, grandparent.PID())
	}
	if diff := cmp.Diff([]ThreadID{ppid, cpid}, grandparent.Children()); diff != "" {
		t.Errorf("grandparent Children() mismatch (-want +got):\n%s", diff)
	}
}

func TestCloneSharing(t *testing.T) {
	k := newTestKernel(t, InitKernelArgs{})
	p := k.spawn(t)

	pid, err := p.Clone(&CloneOptions{
		ShareAddressSpace:   true,
		ShareFiles:          true,
		ShareSignalHandlers: true,
		ExitSignal:          linux.SIGCHLD,
	})
	if err != nil {
		t.Fatalf("Clone(CLONE_VM|CLONE_FILES|CLONE_SIGHAND) failed: %v", err)
	}
	c := k.ProcessWithID(pid)
	if c.MemoryManager() != p.MemoryManager() {
		t.Errorf("CLONE_VM child has a different address space")
	}
	if c.FDTable() != p.FDTable() {
		t.Errorf("CLONE_FILES child has a different fd table")
	}
	if c.SignalHandlers() != p.SignalHandlers() {
		t.Errorf("CLONE_SIGHAND child has different signal handlers")
	}
	if _, err := p.Clone(&CloneOptions{ShareSignalHandlers: true}); err != linuxerr.EINVAL {
		t.Errorf("Clone(CLONE_SIGHAND without CLONE_VM) got %v, want EINVAL", err)
	}
}

func TestCloneTIDs(t *testing.T) {
	k := newTestKernel(t, InitKernelArgs{})
	p := k.spawn(t)
	tidAddr := hostarch.Addr(p.Arch().Stack()) - 64

	pid, err := p.Clone(&CloneOptions{
		ParentSetTID:  true,
		ParentTID:     tidAddr,
		ChildClearTID: true,
		ChildTID:      tidAddr,
		ExitSignal:    linux.SIGCHLD,
	})
	if err != nil {
		t.Fatalf("Clone() failed: %v", err)
	}
	got, err := p.MemoryManager().LoadUint32(tidAddr)
	if err != nil {
		t.Fatalf("LoadUint32 failed: %v", err)
	}
	if ThreadID(got) != pid {
		t.Errorf("parent tid word got %d, want %d", got, pid)
	}
}

func TestVforkBlocksParent(t *testing.T) {
	k := newTestKernel(t, InitKernelArgs{})
	p := k.spawn(t)

	pids := make(chan ThreadID, 1)
	returned := make(chan struct{})
	go func() {
		defer close(returned)
		pid, err := p.Clone(&CloneOptions{ShareAddressSpace: true, Vfork: true, ExitSignal: linux.SIGCHLD})
		if err != nil {
			t.Errorf("Clone(CLONE_VFORK) failed: %v", err)
		}
		pids <- pid
	}()

	// The child is registered before the parent blocks.
	var child *Process
	for deadline := time.Now().Add(5 * time.Second); child == nil && time.Now().Before(deadline); {
		for _, q := range k.Processes() {
			if q != p {
				child = q
			}
		}
		time.Sleep(time.Millisecond)
	}
	if child == nil {
		t.Fatalf("vfork child was not created")
	}
	select {
	case <-returned:
		t.Fatalf("vfork parent returned before the child exited")
	case <-time.After(50 * time.Millisecond):
	}
	child.Exit(linux.WaitStatusExit(0))
	select {
	case <-returned:
	case <-time.After(5 * time.Second):
		t.Fatalf("vfork parent still blocked after the child exited")
	}
	if pid := <-pids; pid != child.PID() {
		t.Errorf("Clone() got pid %d, want %d", pid, child.PID())
	}
}

func TestExecve(t *testing.T) {
	k := newTestKernel(t, InitKernelArgs{})
	p := k.spawn(t)

	r, w := pipe.NewConnectedPipe(pipe.DefaultPipeSize, 0)
	defer r.DecRef()
	defer w.DecRef()
	fds, err := p.FDTable().NewFDs(p.Limits(), 0, []*vfs.FileDescription{r, w}, FDFlags{})
	if err != nil {
		t.Fatalf("NewFDs failed: %v", err)
	}
	if err := p.FDTable().SetFlags(fds[1], FDFlags{CloseOnExec: true}); err != nil {
		t.Fatalf("SetFlags failed: %v", err)
	}
	if _, err := p.SetSignalAct(linux.SIGUSR1, &linux.SignalAct{Handler: testHandler, Flags: linux.SA_RESTORER, Restorer: testRestore}); err != nil {
		t.Fatalf("SetSignalAct failed: %v", err)
	}
	if _, err := p.SetSignalAct(linux.SIGUSR2, &linux.SignalAct{Handler: linux.SIG_IGN}); err != nil {
		t.Fatalf("SetSignalAct failed: %v", err)
	}
	oldMM := p.MemoryManager()

	if err := k.fs.WriteFile("/bin/other", testExecutable(t), 0755); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
	if _, err := p.Execve("/bin/nope", nil, nil); err != linuxerr.ENOENT {
		t.Errorf("Execve(missing) got %v, want ENOENT", err)
	}
	if p.MemoryManager() != oldMM {
		t.Errorf("failed Execve replaced the address space")
	}

	if _, err := p.Execve("/bin/other", []string{"other"}, nil); err != nil {
		t.Fatalf("Execve failed: %v", err)
	}
	if p.MemoryManager() == oldMM {
		t.Errorf("Execve kept the old address space")
	}
	if got := p.Name(); got != "other" {
		t.Errorf("Name() after exec got %q, want %q", got, "other")
	}
	if diff := cmp.Diff([]int32{fds[0]}, p.FDTable().GetFDs()); diff != "" {
		t.Errorf("fds after exec mismatch (-want +got):\n%s", diff)
	}
	if act := p.SignalHandlers().Action(linux.SIGUSR1); !act.IsDefault() {
		t.Errorf("caught signal action after exec got %+v, want default", act)
	}
	if act := p.SignalHandlers().Action(linux.SIGUSR2); !act.IsIgnored() {
		t.Errorf("ignored signal action after exec got %+v, want ignored", act)
	}
	if got := p.Arch().IP(); got != testEntry {
		t.Errorf("IP() after exec got %#x, want %#x", got, testEntry)
	}
}

func TestSetSessionAndGroup(t *testing.T) {
	k := newTestKernel(t, InitKernelArgs{})
	p := k.spawn(t)
	if _, err := p.SetSessionID(); err != linuxerr.EPERM {
		t.Errorf("SetSessionID() by group leader got %v, want EPERM", err)
	}
	pid, err := p.Clone(&CloneOptions{ExitSignal: linux.SIGCHLD})
	if err != nil {
		t.Fatalf("Clone failed: %v", err)
	}
	c := k.ProcessWithID(pid)
	if got := c.ProcessGroupID(); got != p.PID() {
		t.Errorf("child ProcessGroupID() got %d, want %d", got, p.PID())
	}
	if err := p.SetProcessGroupID(c, 0); err != nil {
		t.Fatalf("SetProcessGroupID(child, 0) failed: %v", err)
	}
	if got := c.ProcessGroupID(); got != pid {
		t.Errorf("child ProcessGroupID() got %d, want %d", got, pid)
	}
	if err := p.SetProcessGroupID(c, 4242); err != linuxerr.EPERM {
		t.Errorf("SetProcessGroupID(nonexistent group) got %v, want EPERM", err)
	}
	if err := p.SetProcessGroupID(c, p.PID()); err != nil {
		t.Errorf("SetProcessGroupID(join parent group) got %v, want nil", err)
	}
	sid, err := c.SetSessionID()
	if err != nil || sid != pid {
		t.Errorf("SetSessionID() got (%d, %v), want (%d, nil)", sid, err, pid)
	}
	if err := p.SetProcessGroupID(c, 0); err != linuxerr.EPERM {
		t.Errorf("SetProcessGroupID(session leader) got %v, want EPERM", err)
	}
}
