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

package kernel

import (
	"fmt"
	"slices"
	"sync"
	"time"

	"gvisor.dev/lacd/pkg/abi/linux"
	"gvisor.dev/lacd/pkg/hostarch"
	"gvisor.dev/lacd/pkg/log"
	"gvisor.dev/lacd/pkg/sentry/arch"
	"gvisor.dev/lacd/pkg/sentry/kernel/auth"
	"gvisor.dev/lacd/pkg/sentry/limits"
	"gvisor.dev/lacd/pkg/sentry/mm"
	"gvisor.dev/lacd/pkg/waiter"
)

// ThreadID is a process identifier. Guest processes are single-threaded,
// so a ThreadID names both the thread and its thread group.
type ThreadID int32

// ProcessState is the lifecycle state of a Process.
type ProcessState int

// Process states.
const (
	// ProcessCreated is the state of a process whose image has been loaded
	// but which has not yet been started.
	ProcessCreated ProcessState = iota

	// ProcessRunning is the state of a process that is executing guest
	// code or a syscall.
	ProcessRunning

	// ProcessBlocked is the state of a process parked in a blocking
	// syscall.
	ProcessBlocked

	// ProcessZombie is the state of a process that has exited but has not
	// been reaped by its parent.
	ProcessZombie

	// ProcessTerminated is the state of a reaped process. It is no longer in
	// the process registry.
	ProcessTerminated
)

var processStateNames = [...]string{
	ProcessCreated:    "created",
	ProcessRunning:    "running",
	ProcessBlocked:    "blocked",
	ProcessZombie:     "zombie",
	ProcessTerminated: "terminated",
}

// String implements fmt.Stringer.
func (s ProcessState) String() string {
	if s < 0 || int(s) >= len(processStateNames) {
		return fmt.Sprintf("ProcessState(%d)", int(s))
	}
	return processStateNames[s]
}

// legalTransitions maps each state to the states it may move to.
var legalTransitions = map[ProcessState][]ProcessState{
	ProcessCreated: {ProcessRunning, ProcessZombie},
	ProcessRunning: {ProcessBlocked, ProcessZombie},
	ProcessBlocked: {ProcessRunning, ProcessZombie},
	ProcessZombie:  {ProcessTerminated},
}

// Process represents a guest process.
//
// Lock order: Kernel.mu > Process.mu (parent before child) > SignalHandlers.mu.
type Process struct {
	// k and pid are immutable.
	k   *Kernel
	pid ThreadID

	// dispatchMu is held for the duration of each syscall dispatched for
	// the process. Fields documented as "exclusive to the dispatch
	// goroutine" may only be used with dispatchMu held.
	dispatchMu sync.Mutex

	// regs is the register state of the process. regs is exclusive to the
	// dispatch goroutine.
	regs arch.Context64

	// syscallRestartBlock is the restart function registered by a syscall
	// that returned ERESTART_RESTARTBLOCK. It is exclusive to the dispatch
	// goroutine.
	syscallRestartBlock SyscallRestartBlock

	// interruptChan is notified whenever the process should stop blocking
	// (usually because of a pending signal). It has a buffer of one.
	interruptChan chan struct{}

	// exitedChan is closed when the process becomes a zombie.
	exitedChan chan struct{}

	// childQueue is notified when a child changes state.
	childQueue waiter.Queue

	// parent and children are protected by Kernel.mu. parent is nil for
	// processes whose parent is the virtual init process.
	parent   *Process
	children map[*Process]struct{}

	// vforkDone is closed when a vfork child releases its parent by
	// exec or exit. It is nil for processes not created by vfork(2), and
	// is protected by Kernel.mu.
	vforkDone chan struct{}

	// mu protects the fields below.
	mu sync.Mutex

	state ProcessState

	// stopped is true while the process is stopped by a stop signal. A
	// stopped process stays Running from the state machine's point of
	// view; its dispatch goroutine parks at the next resumption point.
	stopped bool

	// inSyscall is true while a syscall is being dispatched.
	inSyscall bool

	// Pending wait events reported to the parent by waitid(WSTOPPED) and
	// waitid(WCONTINUED).
	stopEventPending     bool
	continueEventPending bool
	stopSignal           linux.Signal

	name      string
	mm        *mm.MemoryManager
	fdTable   *FDTable
	fsContext *FSContext
	creds     *auth.Credentials
	limits    *limits.LimitSet
	pgid      ThreadID
	sid       ThreadID
	startTime time.Time

	// exitStatus is valid once state is ProcessZombie.
	exitStatus linux.WaitStatus

	// exitSignal is sent to the parent when the process exits.
	exitSignal linux.Signal

	// clearTID is the address cleared and woken on exit, set by
	// set_tid_address(2) and CLONE_CHILD_CLEARTID.
	clearTID hostarch.Addr

	// Signal state.
	signalMask          linux.SignalSet
	haveSavedSignalMask bool
	savedSignalMask     linux.SignalSet
	pendingSignals      pendingSignals
	signalHandlers      *SignalHandlers
	signalStack         linux.SignalStack

	// parentDeathSignal is sent to the process when its parent exits.
	parentDeathSignal linux.Signal

	// syscallCount is the number of syscalls dispatched for the process.
	syscallCount uint64
}

// newProcess returns a process in state ProcessCreated. It is not yet
// registered with k.
func newProcess(k *Kernel, name string, m *mm.MemoryManager, regs *arch.Context64, fdTable *FDTable, fsc *FSContext, creds *auth.Credentials, ls *limits.LimitSet, sh *SignalHandlers) *Process {
	return &Process{
		k:              k,
		regs:           *regs,
		interruptChan:  make(chan struct{}, 1),
		exitedChan:     make(chan struct{}),
		children:       make(map[*Process]struct{}),
		state:          ProcessCreated,
		name:           name,
		mm:             m,
		fdTable:        fdTable,
		fsContext:      fsc,
		creds:          creds,
		limits:         ls,
		signalHandlers: sh,
		exitSignal:     linux.SIGCHLD,
		startTime:      time.Now(),
	}
}

// setStateLocked moves p to state to. Illegal transitions are bugs in the
// caller and panic.
//
// Preconditions: p.mu must be locked.
func (p *Process) setStateLocked(to ProcessState) {
	if !slices.Contains(legalTransitions[p.state], to) {
		panic(fmt.Sprintf("process %d: illegal state transition %v -> %v", p.pid, p.state, to))
	}
	p.state = to
}

// Start moves a newly created process to ProcessRunning. It does nothing if
// the process already exited.
func (p *Process) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state != ProcessCreated {
		return
	}
	p.setStateLocked(ProcessRunning)
	log.Debugf("Process %d (%s) started at %#x", p.pid, p.name, p.regs.IP())
}

// Kernel returns the kernel p belongs to.
func (p *Process) Kernel() *Kernel {
	return p.k
}

// PID returns p's pid.
func (p *Process) PID() ThreadID {
	return p.pid
}

// State returns p's current lifecycle state.
func (p *Process) State() ProcessState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Stopped returns true if p is stopped by a stop signal.
func (p *Process) Stopped() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stopped
}

// Name returns p's command name.
func (p *Process) Name() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.name
}

// SetName sets p's command name, truncating it like Linux's comm.
func (p *Process) SetName(name string) {
	if len(name) > linux.TASK_COMM_LEN-1 {
		name = name[:linux.TASK_COMM_LEN-1]
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.name = name
}

// MemoryManager returns p's address space. It is the memory access
// capability passed to syscall handlers: every access through it is bounds
// and permission checked.
func (p *Process) MemoryManager() *mm.MemoryManager {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.mm
}

// FDTable returns p's file descriptor table.
func (p *Process) FDTable() *FDTable {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.fdTable
}

// FSContext returns p's working directory and umask.
func (p *Process) FSContext() *FSContext {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.fsContext
}

// Credentials returns p's credentials. The returned value must not be
// modified; see SetCredentials.
func (p *Process) Credentials() *auth.Credentials {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.creds
}

// SetCredentials replaces p's credentials.
func (p *Process) SetCredentials(creds *auth.Credentials) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.creds = creds
}

// Limits returns p's resource limits.
func (p *Process) Limits() *limits.LimitSet {
	return p.limits
}

// Arch returns p's register state.
//
// Preconditions: The caller must be the dispatch goroutine, or p must not
// have been started.
func (p *Process) Arch() *arch.Context64 {
	return &p.regs
}

// StartTime returns the time p was created.
func (p *Process) StartTime() time.Time {
	return p.startTime
}

// SyscallCount returns the number of syscalls dispatched for p.
func (p *Process) SyscallCount() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.syscallCount
}

// ExitStatus returns p's exit status. ok is false if p has not exited.
func (p *Process) ExitStatus() (linux.WaitStatus, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state != ProcessZombie && p.state != ProcessTerminated {
		return 0, false
	}
	return p.exitStatus, true
}

// Exited returns a channel that is closed when p exits.
func (p *Process) Exited() <-chan struct{} {
	return p.exitedChan
}

// PPID returns the pid of p's parent.
func (p *Process) PPID() ThreadID {
	p.k.mu.RLock()
	defer p.k.mu.RUnlock()
	return p.ppidLocked()
}

// ppidLocked returns the pid of p's parent.
//
// Preconditions: p.k.mu must be locked.
func (p *Process) ppidLocked() ThreadID {
	if p.parent == nil {
		return InitPID
	}
	return p.parent.pid
}

// Children returns the pids of p's children, sorted.
func (p *Process) Children() []ThreadID {
	p.k.mu.RLock()
	defer p.k.mu.RUnlock()
	pids := make([]ThreadID, 0, len(p.children))
	for c := range p.children {
		pids = append(pids, c.pid)
	}
	slices.Sort(pids)
	return pids
}

// ProcessGroupID returns p's process group ID.
func (p *Process) ProcessGroupID() ThreadID {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.pgid
}

// SessionID returns p's session ID.
func (p *Process) SessionID() ThreadID {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.sid
}

// SetClearTID sets the address cleared and woken when p exits.
func (p *Process) SetClearTID(addr hostarch.Addr) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.clearTID = addr
}

// SetParentDeathSignal sets the signal p receives when its parent exits.
func (p *Process) SetParentDeathSignal(sig linux.Signal) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.parentDeathSignal = sig
}

// ParentDeathSignal returns the signal p receives when its parent exits.
func (p *Process) ParentDeathSignal() linux.Signal {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.parentDeathSignal
}

// SetSyscallRestartBlock sets the restart block for use in
// restart_syscall(2). After registering a restart block, a syscall should
// return ERESTART_RESTARTBLOCK to request a restart using the block.
//
// Preconditions: The caller must be the dispatch goroutine.
func (p *Process) SetSyscallRestartBlock(r SyscallRestartBlock) {
	p.syscallRestartBlock = r
}

// SyscallRestartBlock returns the currently registered restart block for use
// in restart_syscall(2). It may be called once per syscall: the block is
// cleared so that a later syscall cannot reuse it.
//
// Preconditions: The caller must be the dispatch goroutine.
func (p *Process) SyscallRestartBlock() SyscallRestartBlock {
	r := p.syscallRestartBlock
	p.syscallRestartBlock = nil
	return r
}

// Debugf logs a debug message prefixed with p's pid.
func (p *Process) Debugf(format string, v ...any) {
	if log.IsLogging(log.Debug) {
		log.DebugfAtDepth(1, "[%6d] "+format, append([]any{p.pid}, v...)...)
	}
}

// Warningf logs a warning prefixed with p's pid.
func (p *Process) Warningf(format string, v ...any) {
	log.Warningf("[%6d] "+format, append([]any{p.pid}, v...)...)
}

// String implements fmt.Stringer.
func (p *Process) String() string {
	return fmt.Sprintf("%d(%s)", p.pid, p.Name())
}
