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
	"time"

	"gvisor.dev/lacd/pkg/abi/linux"
	"gvisor.dev/lacd/pkg/errors/linuxerr"
	"gvisor.dev/lacd/pkg/hostarch"
	"gvisor.dev/lacd/pkg/sentry/arch"
	"gvisor.dev/lacd/pkg/waiter"
)

// Resumption records a signal handler invocation set up at a resumption
// point. The handler frame has been written to the guest stack and the
// process registers point at the handler.
type Resumption struct {
	// Signal is the signal being handled.
	Signal linux.Signal

	// Handler is the handler entry point.
	Handler hostarch.Addr

	// Frame is the stack pointer at handler entry. The restorer return
	// address is stored there.
	Frame hostarch.Addr
}

// SendSignal sends the given signal to p.
//
// The following errors may be returned:
//
//	EINVAL - The signal is not valid.
//	EAGAIN - The realtime signal queue is full.
func (p *Process) SendSignal(info *linux.SignalInfo) error {
	sig := linux.Signal(info.Signo)
	if sig == 0 {
		return nil
	}
	if !sig.IsValid() {
		return linuxerr.EINVAL
	}

	p.mu.Lock()
	async, continued, err := p.sendSignalLocked(info)
	p.mu.Unlock()

	if continued {
		p.notifyParent(linux.CLD_CONTINUED, int32(linux.SIGCONT), EventGroupContinue)
	}
	if async {
		p.deliverAsync()
	}
	return err
}

// sendSignalLocked queues info. async is true if the signal is deliverable
// while p is executing guest code; continued is true if the signal resumed
// a stopped process.
//
// Preconditions: p.mu must be locked.
func (p *Process) sendSignalLocked(info *linux.SignalInfo) (async, continued bool, err error) {
	if p.state == ProcessZombie || p.state == ProcessTerminated {
		return false, false, nil
	}
	sig := linux.Signal(info.Signo)

	switch {
	case sig == linux.SIGKILL:
		// SIGKILL resumes a stopped process so that it can die.
		if p.stopped {
			p.stopped = false
			p.interrupt()
		}
	case sig == linux.SIGCONT:
		linux.ForEachSignal(stopSignals, p.pendingSignals.discard)
		if p.stopped {
			p.stopped = false
			p.stopEventPending = false
			p.continueEventPending = true
			continued = true
			p.interrupt()
		}
	case isStopSignal(sig):
		p.pendingSignals.discard(linux.SIGCONT)
	}

	if !p.signalMask.Has(sig) && p.signalHandlers.isDiscarded(sig) {
		p.Debugf("Discarding ignored signal %d", sig)
		return false, continued, nil
	}

	queued, err := p.pendingSignals.enqueue(info)
	if err != nil || !queued {
		return false, continued, err
	}
	if p.signalMask.Has(sig) {
		return false, continued, nil
	}
	p.interrupt()
	return !p.inSyscall, continued, nil
}

// deliverAsync applies the default actions of pending signals to a process
// that is executing guest code. Signals with handlers stay pending until the
// next resumption point, since guest registers can only be changed in a
// syscall response.
func (p *Process) deliverAsync() {
	if !p.dispatchMu.TryLock() {
		// A syscall is being dispatched; it delivers on return.
		return
	}
	defer p.dispatchMu.Unlock()

	for {
		p.mu.Lock()
		var (
			info *linux.SignalInfo
			act  linux.SignalAct
		)
		set := p.pendingSignals.pendingSet &^ p.signalMask
		linux.ForEachSignal(set, func(sig linux.Signal) {
			if info != nil {
				return
			}
			if a := p.signalHandlers.Action(sig); !a.IsHandler() {
				info = p.pendingSignals.dequeueSpecific(sig)
				act = a
			}
		})
		p.mu.Unlock()
		if info == nil {
			return
		}
		if p.applyDefaultAction(linux.Signal(info.Signo), act) {
			return
		}
	}
}

// applyDefaultAction handles sig, whose action is not a handler. It returns
// true if p exited.
func (p *Process) applyDefaultAction(sig linux.Signal, act linux.SignalAct) bool {
	if act.IsIgnored() && sig != linux.SIGKILL {
		return false
	}
	switch DefaultAction(sig) {
	case SignalActionTerm:
		p.Debugf("Terminated by signal %v", sig)
		p.exit(linux.WaitStatusTerminationSignal(sig))
		return true
	case SignalActionCore:
		p.Debugf("Killed by signal %v (core dumped)", sig)
		p.exit(linux.WaitStatusCoreDump(sig))
		return true
	case SignalActionStop:
		p.stop(sig)
	}
	return false
}

// stop stops p in response to sig.
func (p *Process) stop(sig linux.Signal) {
	p.mu.Lock()
	if p.stopped || p.state == ProcessZombie || p.state == ProcessTerminated {
		p.mu.Unlock()
		return
	}
	p.stopped = true
	p.stopEventPending = true
	p.continueEventPending = false
	p.stopSignal = sig
	p.mu.Unlock()
	p.Debugf("Stopped by signal %v", sig)
	p.notifyParent(linux.CLD_STOPPED, int32(sig), EventChildGroupStop)
}

// notifyParent reports a stop or continue of p to its parent.
func (p *Process) notifyParent(code int32, status int32, event waiter.EventMask) {
	p.k.mu.RLock()
	parent := p.parent
	p.k.mu.RUnlock()
	if parent == nil {
		return
	}
	if parent.SignalHandlers().Action(linux.SIGCHLD).Flags&linux.SA_NOCLDSTOP == 0 {
		parent.SendSignal(p.childSignalInfo(linux.SIGCHLD, code, status))
	}
	parent.childQueue.Notify(event)
}

// childSignalInfo returns the SignalInfo sent to p's parent to report a
// state change.
func (p *Process) childSignalInfo(sig linux.Signal, code int32, status int32) *linux.SignalInfo {
	info := &linux.SignalInfo{
		Signo: int32(sig),
		Code:  code,
	}
	info.SetPID(int32(p.pid))
	info.SetUID(int32(p.Credentials().RealKUID))
	info.SetStatus(status)
	return info
}

// waitWhileStopped parks the dispatch goroutine while p is stopped. It
// returns when p is continued or a signal that must be handled now (such
// as SIGKILL) arrives.
func (p *Process) waitWhileStopped() {
	for {
		p.mu.Lock()
		stopped := p.stopped
		p.mu.Unlock()
		if !stopped {
			return
		}
		<-p.interruptChan
	}
}

// deliverSignals runs at every resumption point. It dequeues deliverable
// signals, applying default actions, until one is delivered to a user
// handler or none are left.
//
// If haveSyscallReturn is true, the return register holds the result of
// the syscall being completed; restart errors in it are converted to EINTR
// or a restart according to the handler that runs.
//
// It returns the handler invocation, if any, and whether p exited.
//
// Preconditions: The caller must be the dispatch goroutine.
func (p *Process) deliverSignals(haveSyscallReturn bool) (*Resumption, bool) {
	for {
		p.waitWhileStopped()

		p.mu.Lock()
		if p.state == ProcessZombie {
			p.mu.Unlock()
			return nil, true
		}
		info := p.pendingSignals.dequeue(p.signalMask)
		if info == nil {
			stopped := p.stopped
			p.mu.Unlock()
			if stopped {
				continue
			}
			break
		}
		sig := linux.Signal(info.Signo)
		act := p.signalHandlers.dequeueAction(sig)
		p.mu.Unlock()

		if !act.IsHandler() {
			if p.applyDefaultAction(sig, act) {
				return nil, true
			}
			continue
		}

		r, err := p.setupHandler(sig, info, act, haveSyscallReturn)
		if err != nil {
			p.Debugf("Failed to deliver signal %v to handler %#x: %v", sig, act.Handler, err)
			p.forceSignal(linux.SIGSEGV)
			continue
		}
		return r, false
	}

	// No handler ran. If the syscall asked to be restarted, restart it.
	if haveSyscallReturn {
		if sre, ok := linuxerr.SyscallRestartErrorFromReturn(p.regs.Return()); ok {
			if sre == linuxerr.ERESTART_RESTARTBLOCK {
				p.Debugf("Restarting syscall %d with restart block: not interrupted by handled signal", p.regs.SyscallNo())
				p.regs.RestartSyscallWithRestartBlock()
			} else {
				p.Debugf("Restarting syscall %d after %v: not interrupted by handled signal", p.regs.SyscallNo(), sre)
				p.regs.RestartSyscall()
			}
		}
	}
	p.mu.Lock()
	if p.haveSavedSignalMask {
		p.signalMask = p.savedSignalMask
		p.haveSavedSignalMask = false
	}
	p.mu.Unlock()
	return nil, false
}

// setupHandler builds a signal frame for sig on the guest stack and points
// the registers at the handler.
func (p *Process) setupHandler(sig linux.Signal, info *linux.SignalInfo, act linux.SignalAct, haveSyscallReturn bool) (*Resumption, error) {
	if haveSyscallReturn {
		if sre, ok := linuxerr.SyscallRestartErrorFromReturn(p.regs.Return()); ok {
			switch sre {
			case linuxerr.ERESTARTNOINTR:
				p.regs.RestartSyscall()
			case linuxerr.ERESTARTSYS:
				if act.IsRestart() {
					p.regs.RestartSyscall()
				} else {
					p.regs.SetReturn(linuxerr.EINTR.Return())
				}
			case linuxerr.ERESTARTNOHAND, linuxerr.ERESTART_RESTARTBLOCK:
				p.regs.SetReturn(linuxerr.EINTR.Return())
			}
		}
	}

	p.mu.Lock()
	mask := p.signalMask
	if p.haveSavedSignalMask {
		mask = p.savedSignalMask
		p.haveSavedSignalMask = false
	}
	alt := p.signalStack
	m := p.mm
	p.mu.Unlock()

	st := &arch.Stack{IO: m, Bottom: hostarch.Addr(p.regs.Stack())}
	if err := p.regs.SignalSetup(st, &act, info, &alt, mask); err != nil {
		return nil, err
	}

	newMask := mask | act.Mask
	if !act.IsNoDefer() {
		newMask |= linux.SignalSetOf(sig)
	}
	p.SetSignalMask(newMask)

	p.Debugf("Delivering signal %v to handler %#x", sig, act.Handler)
	return &Resumption{
		Signal:  sig,
		Handler: hostarch.Addr(act.Handler),
		Frame:   hostarch.Addr(p.regs.Stack()),
	}, nil
}

// forceSignal sends sig to p such that it cannot be blocked or ignored, as
// Linux's force_sig_info.
func (p *Process) forceSignal(sig linux.Signal) {
	act := p.signalHandlers.Action(sig)
	p.mu.Lock()
	defer p.mu.Unlock()
	if act.IsIgnored() || p.signalMask.Has(sig) {
		p.signalHandlers.setAction(sig, linux.SignalAct{})
	}
	p.signalMask &^= linux.SignalSetOf(sig)
	p.sendSignalLocked(SignalInfoPriv(sig))
}

// SignalReturn implements rt_sigreturn(2). The stack pointer points just
// past the restorer return address popped by the handler's ret.
//
// Preconditions: The caller must be the dispatch goroutine.
func (p *Process) SignalReturn() (*SyscallControl, error) {
	st := &arch.Stack{IO: p.MemoryManager(), Bottom: hostarch.Addr(p.regs.Stack())}
	sigset, alt, err := p.regs.SignalRestore(st)
	if err != nil {
		p.Debugf("Bad rt_sigreturn frame at %#x: %v", p.regs.Stack(), err)
		p.forceSignal(linux.SIGSEGV)
		return ctrlResume, nil
	}
	p.SetSignalMask(sigset)

	alt.Flags &^= linux.SS_ONSTACK
	p.mu.Lock()
	if alt.Flags&linux.SS_DISABLE != 0 || alt.Size >= linux.MINSIGSTKSZ {
		p.signalStack = alt
	}
	p.mu.Unlock()
	return ctrlResume, nil
}

// SignalMask returns p's signal mask.
func (p *Process) SignalMask() linux.SignalSet {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.signalMask
}

// SetSignalMask sets p's signal mask. SIGKILL and SIGSTOP are never
// blocked.
func (p *Process) SetSignalMask(mask linux.SignalSet) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.setSignalMaskLocked(mask)
}

// setSignalMaskLocked sets p's signal mask.
//
// Preconditions: p.mu must be locked.
func (p *Process) setSignalMaskLocked(mask linux.SignalSet) {
	p.signalMask = mask &^ linux.UnblockableSignals
	if p.interruptedLocked() {
		p.interrupt()
	}
}

// SetSavedSignalMask sets the mask restored at the next resumption point,
// after a handler has been set up or the syscall returns. It is used by
// rt_sigsuspend(2) and ppoll(2).
//
// Preconditions: The caller must be the dispatch goroutine.
func (p *Process) SetSavedSignalMask(mask linux.SignalSet) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.savedSignalMask = mask
	p.haveSavedSignalMask = true
}

// PendingSignals returns the set of signals pending for p.
func (p *Process) PendingSignals() linux.SignalSet {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.pendingSignals.pendingSet
}

// SignalHandlers returns p's signal handlers.
func (p *Process) SignalHandlers() *SignalHandlers {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.signalHandlers
}

// SetSignalAct atomically sets the action for sig to *actptr (if actptr is
// not nil) and returns the old action.
func (p *Process) SetSignalAct(sig linux.Signal, actptr *linux.SignalAct) (linux.SignalAct, error) {
	if !sig.IsValid() {
		return linux.SignalAct{}, linuxerr.EINVAL
	}
	sh := p.SignalHandlers()
	if actptr == nil {
		return sh.Action(sig), nil
	}
	if linux.UnblockableSignals.Has(sig) {
		return linux.SignalAct{}, linuxerr.EINVAL
	}
	act := *actptr
	act.Mask &^= linux.UnblockableSignals
	old := sh.setAction(sig, act)

	// POSIX: setting a pending signal's action to ignore discards it,
	// blocked or not.
	if sh.isDiscarded(sig) {
		p.mu.Lock()
		p.pendingSignals.discard(sig)
		p.mu.Unlock()
	}
	return old, nil
}

// SignalStack returns p's alternate signal stack. SS_ONSTACK is set in
// Flags if the stack pointer is currently on it.
//
// Preconditions: The caller must be the dispatch goroutine.
func (p *Process) SignalStack() linux.SignalStack {
	p.mu.Lock()
	alt := p.signalStack
	p.mu.Unlock()
	if alt.IsEnabled() && alt.Contains(hostarch.Addr(p.regs.Stack())) {
		alt.Flags |= linux.SS_ONSTACK
	}
	return alt
}

// SetSignalStack sets p's alternate signal stack. It fails with EPERM if
// the stack is in use.
//
// Preconditions: The caller must be the dispatch goroutine.
func (p *Process) SetSignalStack(alt linux.SignalStack) error {
	if p.SignalStack().Flags&linux.SS_ONSTACK != 0 {
		return linuxerr.EPERM
	}
	switch alt.Flags &^ linux.SS_ONSTACK {
	case 0:
		if alt.Size < linux.MINSIGSTKSZ {
			return linuxerr.ENOMEM
		}
	case linux.SS_DISABLE:
		alt = linux.SignalStack{Flags: linux.SS_DISABLE}
	default:
		return linuxerr.EINVAL
	}
	alt.Flags &^= linux.SS_ONSTACK
	p.mu.Lock()
	defer p.mu.Unlock()
	p.signalStack = alt
	return nil
}

// Sigtimedwait implements the semantics of sigtimedwait(2). It returns
// EAGAIN if the timeout elapses and EINTR if p is interrupted by a signal
// outside set.
//
// Preconditions: The caller must be the dispatch goroutine.
func (p *Process) Sigtimedwait(set linux.SignalSet, haveTimeout bool, timeout time.Duration) (*linux.SignalInfo, error) {
	set &^= linux.UnblockableSignals

	p.mu.Lock()
	if info := p.pendingSignals.dequeue(^set); info != nil {
		p.mu.Unlock()
		return info, nil
	}
	if haveTimeout && timeout <= 0 {
		p.mu.Unlock()
		return nil, linuxerr.EAGAIN
	}
	// Unblock the waited-for signals so that their arrival interrupts the
	// wait.
	realMask := p.signalMask
	p.signalMask &^= set
	p.mu.Unlock()

	_, err := p.BlockWithTimeout(nil, haveTimeout, timeout)

	p.mu.Lock()
	p.signalMask = realMask
	info := p.pendingSignals.dequeue(^set)
	p.mu.Unlock()
	if info != nil {
		return info, nil
	}
	if err == linuxerr.ErrDeadlineExceeded {
		return nil, linuxerr.EAGAIN
	}
	return nil, linuxerr.EINTR
}

// Fault reports a synchronous hardware fault (SIGSEGV, SIGBUS, SIGILL,
// SIGFPE) raised by guest code. Only p is affected.
func (p *Process) Fault(sig linux.Signal, addr hostarch.Addr) {
	info := SignalInfoPriv(sig)
	info.SetAddr(uint64(addr))
	p.signalHandlers.setAction(sig, linux.SignalAct{})
	p.mu.Lock()
	p.signalMask &^= linux.SignalSetOf(sig)
	p.sendSignalLocked(info)
	p.mu.Unlock()
	p.deliverAsync()
}
