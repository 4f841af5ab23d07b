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
	"time"

	"gvisor.dev/lacd/pkg/abi/linux"
	"gvisor.dev/lacd/pkg/errors/linuxerr"
	"gvisor.dev/lacd/pkg/marshal"
	"gvisor.dev/lacd/pkg/sentry/arch"
	"gvisor.dev/lacd/pkg/sentry/kernel"
)

// Kill implements linux syscall kill(2).
func Kill(p *kernel.Process, args arch.SyscallArguments) (uintptr, *kernel.SyscallControl, error) {
	pid := kernel.ThreadID(args[0].Int())
	sig := linux.Signal(args[1].Int())
	return 0, nil, p.Kill(pid, sig)
}

// tkill sends sig to the process tid. Processes are single-threaded, so a
// thread ID names exactly one process.
func tkill(p *kernel.Process, tid kernel.ThreadID, sig linux.Signal) error {
	if tid <= 0 {
		return linuxerr.EINVAL
	}
	if sig != 0 && !sig.IsValid() {
		return linuxerr.EINVAL
	}
	target := p.Kernel().ProcessWithID(tid)
	if target == nil {
		return linuxerr.ESRCH
	}
	if !p.Credentials().CanSignal(target.Credentials()) {
		return linuxerr.EPERM
	}
	if sig == 0 {
		return nil
	}
	info := &linux.SignalInfo{
		Signo: int32(sig),
		Code:  linux.SI_TKILL,
	}
	info.SetPID(int32(p.PID()))
	info.SetUID(int32(p.Credentials().RealKUID))
	return target.SendSignal(info)
}

// Tkill implements linux syscall tkill(2).
func Tkill(p *kernel.Process, args arch.SyscallArguments) (uintptr, *kernel.SyscallControl, error) {
	tid := kernel.ThreadID(args[0].Int())
	sig := linux.Signal(args[1].Int())
	return 0, nil, tkill(p, tid, sig)
}

// Tgkill implements linux syscall tgkill(2).
func Tgkill(p *kernel.Process, args arch.SyscallArguments) (uintptr, *kernel.SyscallControl, error) {
	tgid := kernel.ThreadID(args[0].Int())
	tid := kernel.ThreadID(args[1].Int())
	sig := linux.Signal(args[2].Int())

	if tgid <= 0 || tid <= 0 {
		return 0, nil, linuxerr.EINVAL
	}
	if tgid != tid {
		return 0, nil, linuxerr.ESRCH
	}
	return 0, nil, tkill(p, tid, sig)
}

// RtSigaction implements linux syscall rt_sigaction(2).
func RtSigaction(p *kernel.Process, args arch.SyscallArguments) (uintptr, *kernel.SyscallControl, error) {
	sig := linux.Signal(args[0].Int())
	newactarg := args[1].Pointer()
	oldactarg := args[2].Pointer()
	sigsetsize := args[3].SizeT()

	if sigsetsize != linux.SignalSetSize {
		return 0, nil, linuxerr.EINVAL
	}

	var newactptr *linux.SignalAct
	if newactarg != 0 {
		var newact linux.SignalAct
		if _, err := marshal.CopyIn(p.MemoryManager(), newactarg, &newact); err != nil {
			return 0, nil, err
		}
		newactptr = &newact
	}
	oldact, err := p.SetSignalAct(sig, newactptr)
	if err != nil {
		return 0, nil, err
	}
	if oldactarg != 0 {
		if _, err := marshal.CopyOut(p.MemoryManager(), oldactarg, &oldact); err != nil {
			return 0, nil, err
		}
	}
	return 0, nil, nil
}

// RtSigreturn implements linux syscall rt_sigreturn(2).
func RtSigreturn(p *kernel.Process, args arch.SyscallArguments) (uintptr, *kernel.SyscallControl, error) {
	ctrl, err := p.SignalReturn()
	return 0, ctrl, err
}

// RtSigprocmask implements linux syscall rt_sigprocmask(2).
func RtSigprocmask(p *kernel.Process, args arch.SyscallArguments) (uintptr, *kernel.SyscallControl, error) {
	how := args[0].Int()
	setaddr := args[1].Pointer()
	oldaddr := args[2].Pointer()
	sigsetsize := args[3].SizeT()

	if sigsetsize != linux.SignalSetSize {
		return 0, nil, linuxerr.EINVAL
	}
	oldmask := p.SignalMask()
	if setaddr != 0 {
		mask, err := copyInSigSet(p, setaddr, sigsetsize)
		if err != nil {
			return 0, nil, err
		}

		switch how {
		case linux.SIG_BLOCK:
			p.SetSignalMask(oldmask | mask)
		case linux.SIG_UNBLOCK:
			p.SetSignalMask(oldmask &^ mask)
		case linux.SIG_SETMASK:
			p.SetSignalMask(mask)
		default:
			return 0, nil, linuxerr.EINVAL
		}
	}
	if oldaddr != 0 {
		return 0, nil, copyOutSigSet(p, oldaddr, oldmask)
	}
	return 0, nil, nil
}

// Sigaltstack implements linux syscall sigaltstack(2).
func Sigaltstack(p *kernel.Process, args arch.SyscallArguments) (uintptr, *kernel.SyscallControl, error) {
	setaddr := args[0].Pointer()
	oldaddr := args[1].Pointer()

	alt := p.SignalStack()
	if oldaddr != 0 {
		if _, err := marshal.CopyOut(p.MemoryManager(), oldaddr, &alt); err != nil {
			return 0, nil, err
		}
	}
	if setaddr != 0 {
		if _, err := marshal.CopyIn(p.MemoryManager(), setaddr, &alt); err != nil {
			return 0, nil, err
		}
		if err := p.SetSignalStack(alt); err != nil {
			return 0, nil, err
		}
	}
	return 0, nil, nil
}

// Pause implements linux syscall pause(2).
func Pause(p *kernel.Process, args arch.SyscallArguments) (uintptr, *kernel.SyscallControl, error) {
	return 0, nil, linuxerr.ConvertIntr(p.Block(nil), linuxerr.ERESTARTNOHAND)
}

// RtSigpending implements linux syscall rt_sigpending(2).
func RtSigpending(p *kernel.Process, args arch.SyscallArguments) (uintptr, *kernel.SyscallControl, error) {
	addr := args[0].Pointer()
	pending := p.PendingSignals()
	return 0, nil, copyOutSigSet(p, addr, pending)
}

// RtSigtimedwait implements linux syscall rt_sigtimedwait(2).
func RtSigtimedwait(p *kernel.Process, args arch.SyscallArguments) (uintptr, *kernel.SyscallControl, error) {
	sigset := args[0].Pointer()
	siginfo := args[1].Pointer()
	timespec := args[2].Pointer()
	sigsetsize := args[3].SizeT()

	mask, err := copyInSigSet(p, sigset, sigsetsize)
	if err != nil {
		return 0, nil, err
	}

	var timeout time.Duration
	if timespec != 0 {
		var ts linux.Timespec
		if _, err := marshal.CopyIn(p.MemoryManager(), timespec, &ts); err != nil {
			return 0, nil, err
		}
		if !ts.Valid() {
			return 0, nil, linuxerr.EINVAL
		}
		timeout = ts.ToDuration()
	}

	si, err := p.Sigtimedwait(mask, timespec != 0, timeout)
	if err != nil {
		return 0, nil, err
	}

	if siginfo != 0 {
		si.FixSignalCodeForUser()
		if _, err := marshal.CopyOut(p.MemoryManager(), siginfo, si); err != nil {
			return 0, nil, err
		}
	}
	return uintptr(si.Signo), nil, nil
}

// RtSigqueueinfo implements linux syscall rt_sigqueueinfo(2).
func RtSigqueueinfo(p *kernel.Process, args arch.SyscallArguments) (uintptr, *kernel.SyscallControl, error) {
	pid := kernel.ThreadID(args[0].Int())
	sig := linux.Signal(args[1].Int())
	infoAddr := args[2].Pointer()

	// Linux overrides Signo with sig in the same way.
	var info linux.SignalInfo
	if _, err := marshal.CopyIn(p.MemoryManager(), infoAddr, &info); err != nil {
		return 0, nil, err
	}
	info.Signo = int32(sig)

	if !sig.IsValid() {
		return 0, nil, linuxerr.EINVAL
	}
	target := p.Kernel().ProcessWithID(pid)
	if target == nil {
		return 0, nil, linuxerr.ESRCH
	}

	// If the sender is not the receiver, it can't use si_codes used by the
	// kernel or SI_TKILL.
	if (info.Code >= 0 || info.Code == linux.SI_TKILL) && target != p {
		return 0, nil, linuxerr.EPERM
	}
	if !p.Credentials().CanSignal(target.Credentials()) {
		return 0, nil, linuxerr.EPERM
	}
	return 0, nil, target.SendSignal(&info)
}

// RtSigsuspend implements linux syscall rt_sigsuspend(2).
func RtSigsuspend(p *kernel.Process, args arch.SyscallArguments) (uintptr, *kernel.SyscallControl, error) {
	sigset := args[0].Pointer()
	sigsetsize := args[1].SizeT()

	// Copy in the signal mask.
	mask, err := copyInSigSet(p, sigset, sigsetsize)
	if err != nil {
		return 0, nil, err
	}

	// Swap the mask. The original is restored after the handler for the
	// waking signal runs.
	oldmask := p.SignalMask()
	p.SetSignalMask(mask)
	p.SetSavedSignalMask(oldmask)

	// Perform the wait.
	return 0, nil, linuxerr.ConvertIntr(p.Block(nil), linuxerr.ERESTARTNOHAND)
}

// RestartSyscall implements the linux syscall restart_syscall(2).
func RestartSyscall(p *kernel.Process, args arch.SyscallArguments) (uintptr, *kernel.SyscallControl, error) {
	if r := p.SyscallRestartBlock(); r != nil {
		n, err := r.Restart(p)
		return n, nil, err
	}
	// No restart block is registered, either because the guest invoked
	// restart_syscall directly or because the block was already consumed.
	// Linux's do_no_restart_syscall returns EINTR.
	return 0, nil, linuxerr.EINTR
}
