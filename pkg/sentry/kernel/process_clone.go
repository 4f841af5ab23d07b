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
	"gvisor.dev/lacd/pkg/abi/linux"
	"gvisor.dev/lacd/pkg/errors/linuxerr"
	"gvisor.dev/lacd/pkg/hostarch"
	"gvisor.dev/lacd/pkg/sentry/mm"
)

// CloneOptions controls the behavior of Process.Clone.
type CloneOptions struct {
	// If ShareAddressSpace is true, the child shares p's address space
	// (CLONE_VM). Otherwise the child receives a copy.
	ShareAddressSpace bool

	// If ShareFiles is true, the child shares p's file descriptor table
	// (CLONE_FILES).
	ShareFiles bool

	// If ShareFSContext is true, the child shares p's working directory and
	// umask (CLONE_FS).
	ShareFSContext bool

	// If ShareSignalHandlers is true, the child shares p's signal handlers
	// (CLONE_SIGHAND). ShareSignalHandlers requires ShareAddressSpace.
	ShareSignalHandlers bool

	// If Vfork is true, p blocks until the child exits or execs
	// (CLONE_VFORK).
	Vfork bool

	// If InheritParent is true, the child's parent is p's parent
	// (CLONE_PARENT).
	InheritParent bool

	// Stack is the child's initial stack pointer. If zero, the child uses
	// p's stack pointer.
	Stack hostarch.Addr

	// If SetTLS is true, the child's TLS base is TLS (CLONE_SETTLS).
	SetTLS bool
	TLS    uint64

	// ChildClearTID, ChildSetTID and ParentSetTID correspond to
	// CLONE_CHILD_CLEARTID, CLONE_CHILD_SETTID and CLONE_PARENT_SETTID.
	ChildClearTID bool
	ChildSetTID   bool
	ParentSetTID  bool
	ChildTID      hostarch.Addr
	ParentTID     hostarch.Addr

	// ExitSignal is the signal sent to the parent when the child exits.
	ExitSignal linux.Signal
}

// Clone implements the process creation half of fork(2), vfork(2) and
// clone(2). It returns the child's pid.
//
// Preconditions: The caller must be the dispatch goroutine.
func (p *Process) Clone(opts *CloneOptions) (ThreadID, error) {
	if opts.ShareSignalHandlers && !opts.ShareAddressSpace {
		return 0, linuxerr.EINVAL
	}
	if opts.ExitSignal != 0 && !opts.ExitSignal.IsValid() {
		return 0, linuxerr.EINVAL
	}

	p.mu.Lock()
	if p.state == ProcessZombie || p.state == ProcessTerminated {
		p.mu.Unlock()
		return 0, linuxerr.ESRCH
	}
	parentMM := p.mm
	parentFDs := p.fdTable
	parentFS := p.fsContext
	parentSH := p.signalHandlers
	creds := p.creds
	name := p.name
	mask := p.signalMask
	alt := p.signalStack
	pgid, sid := p.pgid, p.sid
	p.mu.Unlock()

	var m *mm.MemoryManager
	if opts.ShareAddressSpace {
		if !parentMM.IncUsers() {
			return 0, linuxerr.EINTR
		}
		m = parentMM
	} else {
		m = parentMM.Fork()
	}

	var fdt *FDTable
	if opts.ShareFiles {
		parentFDs.IncRef()
		fdt = parentFDs
	} else {
		fdt = parentFDs.Fork()
	}

	var fsc *FSContext
	if opts.ShareFSContext {
		parentFS.IncRef()
		fsc = parentFS
	} else {
		fsc = parentFS.Fork()
	}

	sh := parentSH
	if !opts.ShareSignalHandlers {
		sh = parentSH.Fork()
	}

	regs := p.regs.Fork()
	regs.SetReturn(0)
	if opts.Stack != 0 {
		regs.SetStack(uintptr(opts.Stack))
	}
	if opts.SetTLS && !regs.SetTLS(uintptr(opts.TLS)) {
		m.DecUsers()
		fdt.DecRef()
		fsc.DecRef()
		return 0, linuxerr.EPERM
	}

	child := newProcess(p.k, name, m, regs, fdt, fsc, creds.Fork(), p.limits.GetCopy(), sh)
	child.signalMask = mask
	// A child sharing the address space outside of vfork runs on its own
	// stack, so it does not inherit the alternate signal stack.
	if opts.ShareAddressSpace && !opts.Vfork {
		alt = linux.SignalStack{Flags: linux.SS_DISABLE}
	}
	child.signalStack = alt
	child.pgid, child.sid = pgid, sid
	child.exitSignal = opts.ExitSignal

	var done chan struct{}
	if opts.Vfork {
		done = make(chan struct{})
		child.vforkDone = done
	}

	k := p.k
	k.mu.Lock()
	pid, err := k.allocatePIDLocked()
	if err != nil {
		k.mu.Unlock()
		m.DecUsers()
		fdt.DecRef()
		fsc.DecRef()
		return 0, err
	}
	child.pid = pid
	parent := p
	if opts.InheritParent {
		parent = p.parent
	}
	child.parent = parent
	if parent != nil {
		parent.children[child] = struct{}{}
	}
	// The child is running before its pid becomes visible to kill(2).
	child.Start()
	k.processes[pid] = child
	processCount.Set(uint64(len(k.processes)))
	k.mu.Unlock()

	if opts.ChildClearTID {
		child.clearTID = opts.ChildTID
	}
	var tid [4]byte
	hostarch.ByteOrder.PutUint32(tid[:], uint32(pid))
	if opts.ChildSetTID {
		if _, err := m.CopyOutBytes(opts.ChildTID, tid[:]); err != nil {
			child.Debugf("Failed to write child tid to %v: %v", opts.ChildTID, err)
		}
	}
	if opts.ParentSetTID {
		if _, err := parentMM.CopyOutBytes(opts.ParentTID, tid[:]); err != nil {
			p.Debugf("Failed to write parent tid to %v: %v", opts.ParentTID, err)
		}
	}

	k.processStarted(child)
	p.Debugf("Cloned child %d (vm=%t files=%t fs=%t sighand=%t vfork=%t)", pid,
		opts.ShareAddressSpace, opts.ShareFiles, opts.ShareFSContext, opts.ShareSignalHandlers, opts.Vfork)

	if opts.Vfork {
		p.waitVfork(done)
	}
	return pid, nil
}

// waitVfork blocks p until its vfork child releases it by exec or exit.
// Only SIGKILL ends the wait early, as in Linux.
func (p *Process) waitVfork(done <-chan struct{}) {
	for {
		select {
		case <-done:
			return
		case <-p.interruptChan:
			p.mu.Lock()
			killed := p.pendingSignals.pendingSet.Has(linux.SIGKILL) || p.state == ProcessZombie
			p.mu.Unlock()
			if killed {
				// Leave the token for deliverSignals.
				p.interrupt()
				return
			}
		}
	}
}
