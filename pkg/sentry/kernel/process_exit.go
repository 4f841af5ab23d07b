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

// This file implements the process exit cycle:
//
//	- A process exits (exit(2), a fatal signal or a fault) and becomes a
//	  zombie. Its address space, file descriptors and filesystem context are
//	  released immediately; its pid and exit status are not.
//
//	- Its children are reparented to its own parent.
//
//	- Its parent is sent the exit signal (usually SIGCHLD) and the parent's
//	  child queue is notified.
//
//	- The parent reaps the zombie with wait4(2) or waitid(2), or the zombie
//	  is reaped automatically if its parent is the virtual init process or
//	  ignores SIGCHLD. Reaping moves it to ProcessTerminated and frees its
//	  pid.

import (
	"slices"

	"gvisor.dev/lacd/pkg/abi/linux"
	"gvisor.dev/lacd/pkg/errors/linuxerr"
	"gvisor.dev/lacd/pkg/hostarch"
	"gvisor.dev/lacd/pkg/sentry/mm"
	"gvisor.dev/lacd/pkg/waiter"
)

// Events for a process's childQueue.
const (
	// EventExit represents an exiting child.
	EventExit waiter.EventMask = waiter.EventInternal << iota

	// EventChildGroupStop represents a child that has stopped.
	EventChildGroupStop

	// EventGroupContinue represents a child that has been continued.
	EventGroupContinue
)

// Exit terminates p with the given status, as exit_group(2).
func (p *Process) Exit(status linux.WaitStatus) {
	p.exit(status)
}

// exit moves p to ProcessZombie, releases its resources and notifies its
// parent. It is a no-op if p has already exited.
func (p *Process) exit(status linux.WaitStatus) {
	p.mu.Lock()
	if p.state == ProcessZombie || p.state == ProcessTerminated {
		p.mu.Unlock()
		return
	}
	p.setStateLocked(ProcessZombie)
	p.stopped = false
	p.stopEventPending = false
	p.continueEventPending = false
	p.exitStatus = status
	m := p.mm
	fdt := p.fdTable
	fsc := p.fsContext
	clearTID := p.clearTID
	p.mm = nil
	p.fdTable = nil
	p.fsContext = nil
	p.pendingSignals.clear()
	p.mu.Unlock()

	// Wake anyone blocked on our exit, such as a vfork parent or the
	// dispatch goroutine parked in a stop.
	p.interrupt()

	if m != nil {
		if clearTID != 0 {
			p.clearChildTID(m, clearTID)
		}
		m.DecUsers()
	}
	if fdt != nil {
		fdt.DecRef()
	}
	if fsc != nil {
		fsc.DecRef()
	}

	k := p.k
	k.mu.Lock()
	p.releaseVforkParentLocked()

	// Reparent children to our parent. Zombie children that end up owned
	// by init are reaped now since nobody is left to wait for them.
	var deathSignals []*Process
	notifyNewParent := false
	newParent := p.parent
	for c := range p.children {
		delete(p.children, c)
		c.parent = newParent
		if newParent != nil {
			newParent.children[c] = struct{}{}
		}
		if c.ParentDeathSignal() != 0 {
			deathSignals = append(deathSignals, c)
		}
		if _, exited := c.ExitStatus(); exited {
			if newParent == nil {
				k.reapLocked(c)
			} else {
				notifyNewParent = true
			}
		}
	}

	parent := p.parent
	autoReap := parent == nil
	if parent != nil {
		act := parent.SignalHandlers().Action(linux.SIGCHLD)
		if p.exitSignal == linux.SIGCHLD && (act.IsIgnored() || act.Flags&linux.SA_NOCLDWAIT != 0) {
			autoReap = true
		}
	}
	if autoReap {
		k.reapLocked(p)
	}
	k.mu.Unlock()

	close(p.exitedChan)

	for _, c := range deathSignals {
		c.SendSignal(SignalInfoPriv(c.ParentDeathSignal()))
	}

	if notifyNewParent {
		newParent.childQueue.Notify(EventExit)
	}
	if parent != nil {
		if p.exitSignal.IsValid() {
			code, st := exitCode(status)
			parent.SendSignal(p.childSignalInfo(p.exitSignal, code, st))
		}
		parent.childQueue.Notify(EventExit)
	}
	k.processExited(p)

	if status.Exited() {
		p.Debugf("Exited with status %d", status.ExitStatus())
	} else {
		p.Debugf("Killed by signal %v", status.TerminationSignal())
	}
}

// exitCode returns the si_code and si_status used to report status to a
// parent.
func exitCode(status linux.WaitStatus) (int32, int32) {
	switch {
	case status.Exited():
		return linux.CLD_EXITED, int32(status.ExitStatus())
	case status.CoreDumped():
		return linux.CLD_DUMPED, int32(status.TerminationSignal())
	default:
		return linux.CLD_KILLED, int32(status.TerminationSignal())
	}
}

// clearChildTID implements CLONE_CHILD_CLEARTID and set_tid_address(2): it
// zeroes the word at addr and wakes one futex waiter on it. Errors are
// ignored, as in Linux.
func (p *Process) clearChildTID(m *mm.MemoryManager, addr hostarch.Addr) {
	if _, err := m.CopyOutBytes(addr, make([]byte, 4)); err != nil {
		p.Debugf("Failed to clear tid address %v: %v", addr, err)
		return
	}
	p.k.futexes.Wake(m, addr, false, ^uint32(0), 1)
}

// releaseVforkParentLocked releases a parent blocked in vfork(2) on p.
//
// Preconditions: p.k.mu must be locked.
func (p *Process) releaseVforkParentLocked() {
	if p.vforkDone != nil {
		close(p.vforkDone)
		p.vforkDone = nil
	}
}

// reapLocked moves the zombie c to ProcessTerminated and removes it from the
// process registry.
//
// Preconditions: k.mu must be locked.
func (k *Kernel) reapLocked(c *Process) {
	c.mu.Lock()
	c.setStateLocked(ProcessTerminated)
	c.mu.Unlock()
	delete(k.processes, c.pid)
	if c.parent != nil {
		delete(c.parent.children, c)
	}
	processCount.Set(uint64(len(k.processes)))
	c.Debugf("Reaped")
}

// WaitOptions controls the behavior of Process.Wait.
type WaitOptions struct {
	// If SpecificPID is non-zero, only events from the child with that pid
	// are eligible.
	SpecificPID ThreadID

	// If SpecificPGID is non-zero, only events from children in that
	// process group are eligible. SpecificPID and SpecificPGID are mutually
	// exclusive.
	SpecificPGID ThreadID

	// Events is a bitwise combination of the events defined above that
	// specify what events are of interest to the caller.
	Events waiter.EventMask

	// If ConsumeEvent is true, the Wait should consume the event such that
	// it cannot be returned by a future Wait. Note that if a child exit is
	// consumed, the child is reaped.
	ConsumeEvent bool

	// If NonBlocking is true, Wait returns (nil, nil) rather than blocking
	// when eligible children exist but none have an event.
	NonBlocking bool
}

// WaitResult contains information about a waited-for event.
type WaitResult struct {
	// PID is the pid of the child that generated the event.
	PID ThreadID

	// UID is the real UID of the child.
	UID uint32

	// Event is exactly one of the events defined above.
	Event waiter.EventMask

	// Status is the wait status associated with the event, as returned by
	// wait4(2).
	Status linux.WaitStatus

	// Code and CodeStatus are the si_code and si_status reported by
	// waitid(2).
	Code       int32
	CodeStatus int32
}

// Wait waits for an event from a child of p, as wait4(2) and waitid(2).
//
// The following errors may be returned:
//
//	ECHILD - p has no child matching opts.
//	ERESTARTSYS - p was interrupted by a signal.
//
// Preconditions: The caller must be the dispatch goroutine.
func (p *Process) Wait(opts *WaitOptions) (*WaitResult, error) {
	e, ch := waiter.NewChannelEntry(opts.Events)
	p.childQueue.EventRegister(&e)
	defer p.childQueue.EventUnregister(&e)
	for {
		wr, err := p.waitOnce(opts)
		if wr != nil || err != linuxerr.ErrWouldBlock {
			return wr, err
		}
		if opts.NonBlocking {
			return nil, nil
		}
		if err := p.Block(ch); err != nil {
			return nil, linuxerr.ERESTARTSYS
		}
	}
}

// waitOnce checks each eligible child for an event once. It returns
// ErrWouldBlock if eligible children exist but none have an event.
func (p *Process) waitOnce(opts *WaitOptions) (*WaitResult, error) {
	k := p.k
	k.mu.Lock()
	defer k.mu.Unlock()

	children := make([]*Process, 0, len(p.children))
	for c := range p.children {
		children = append(children, c)
	}
	slices.SortFunc(children, func(a, b *Process) int { return int(a.pid - b.pid) })

	anyEligible := false
	for _, c := range children {
		if !opts.eligible(c) {
			continue
		}
		anyEligible = true
		if wr, reap := p.waitCollectLocked(c, opts); wr != nil {
			if reap {
				k.reapLocked(c)
			}
			return wr, nil
		}
	}
	if !anyEligible {
		return nil, linuxerr.ECHILD
	}
	return nil, linuxerr.ErrWouldBlock
}

// eligible returns true if c matches the pid or process group in o.
func (o *WaitOptions) eligible(c *Process) bool {
	if o.SpecificPID != 0 && c.pid != o.SpecificPID {
		return false
	}
	if o.SpecificPGID != 0 && c.ProcessGroupID() != o.SpecificPGID {
		return false
	}
	return true
}

// waitCollectLocked returns the event of interest pending for c, if any.
// reap is true if c's exit was consumed and c must be reaped.
//
// Preconditions: p.k.mu must be locked.
func (p *Process) waitCollectLocked(c *Process, opts *WaitOptions) (wr *WaitResult, reap bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	uid := uint32(c.creds.RealKUID)

	if opts.Events&EventExit != 0 && c.state == ProcessZombie {
		code, st := exitCode(c.exitStatus)
		return &WaitResult{
			PID:        c.pid,
			UID:        uid,
			Event:      EventExit,
			Status:     c.exitStatus,
			Code:       code,
			CodeStatus: st,
		}, opts.ConsumeEvent
	}
	if opts.Events&EventChildGroupStop != 0 && c.stopEventPending {
		if opts.ConsumeEvent {
			c.stopEventPending = false
		}
		return &WaitResult{
			PID:        c.pid,
			UID:        uid,
			Event:      EventChildGroupStop,
			Status:     linux.WaitStatus(0x7f | uint32(c.stopSignal)<<8),
			Code:       linux.CLD_STOPPED,
			CodeStatus: int32(c.stopSignal),
		}, false
	}
	if opts.Events&EventGroupContinue != 0 && c.continueEventPending {
		if opts.ConsumeEvent {
			c.continueEventPending = false
		}
		return &WaitResult{
			PID:        c.pid,
			UID:        uid,
			Event:      EventGroupContinue,
			Status:     0xffff,
			Code:       linux.CLD_CONTINUED,
			CodeStatus: int32(linux.SIGCONT),
		}, false
	}
	return nil, false
}
