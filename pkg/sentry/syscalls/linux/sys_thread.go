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
	"gvisor.dev/lacd/pkg/abi/linux"
	"gvisor.dev/lacd/pkg/errors/linuxerr"
	"gvisor.dev/lacd/pkg/hostarch"
	"gvisor.dev/lacd/pkg/marshal"
	"gvisor.dev/lacd/pkg/marshal/primitive"
	"gvisor.dev/lacd/pkg/sentry/arch"
	"gvisor.dev/lacd/pkg/sentry/kernel"
)

const (
	// exitSignalMask is the signal mask to be sent at exit. Same as CSIGNAL in linux.
	exitSignalMask = 0xff

	// Flags that are not yet supported by clone(2).
	unsupportedCloneFlags = linux.CLONE_THREAD | linux.CLONE_NEWNS | linux.CLONE_NEWCGROUP |
		linux.CLONE_NEWUTS | linux.CLONE_NEWIPC | linux.CLONE_NEWUSER | linux.CLONE_NEWPID |
		linux.CLONE_NEWNET | linux.CLONE_PIDFD
)

// Getppid implements linux syscall getppid(2).
func Getppid(p *kernel.Process, args arch.SyscallArguments) (uintptr, *kernel.SyscallControl, error) {
	return uintptr(p.PPID()), nil, nil
}

// Getpid implements linux syscall getpid(2).
func Getpid(p *kernel.Process, args arch.SyscallArguments) (uintptr, *kernel.SyscallControl, error) {
	return uintptr(p.PID()), nil, nil
}

// Gettid implements linux syscall gettid(2). Every process has exactly one
// thread, whose tid is the pid.
func Gettid(p *kernel.Process, args arch.SyscallArguments) (uintptr, *kernel.SyscallControl, error) {
	return uintptr(p.PID()), nil, nil
}

// Execve implements linux syscall execve(2).
func Execve(p *kernel.Process, args arch.SyscallArguments) (uintptr, *kernel.SyscallControl, error) {
	filenameAddr := args[0].Pointer()
	argvAddr := args[1].Pointer()
	envvAddr := args[2].Pointer()
	return execveat(p, linux.AT_FDCWD, filenameAddr, argvAddr, envvAddr, 0 /* flags */)
}

// Execveat implements linux syscall execveat(2).
func Execveat(p *kernel.Process, args arch.SyscallArguments) (uintptr, *kernel.SyscallControl, error) {
	dirfd := args[0].Int()
	pathnameAddr := args[1].Pointer()
	argvAddr := args[2].Pointer()
	envvAddr := args[3].Pointer()
	flags := args[4].Int()
	return execveat(p, dirfd, pathnameAddr, argvAddr, envvAddr, flags)
}

func execveat(p *kernel.Process, dirfd int32, pathnameAddr, argvAddr, envvAddr hostarch.Addr, flags int32) (uintptr, *kernel.SyscallControl, error) {
	if flags&^(linux.AT_EMPTY_PATH|linux.AT_SYMLINK_NOFOLLOW) != 0 {
		return 0, nil, linuxerr.EINVAL
	}

	pathname, err := copyInPath(p, pathnameAddr)
	if err != nil {
		return 0, nil, err
	}
	var argv, envv []string
	if argvAddr != 0 {
		var err error
		argv, err = p.MemoryManager().CopyInVector(argvAddr, linux.ExecMaxElemSize, linux.ExecMaxTotalSize)
		if err != nil {
			return 0, nil, err
		}
	}
	if envvAddr != 0 {
		var err error
		envv, err = p.MemoryManager().CopyInVector(envvAddr, linux.ExecMaxElemSize, linux.ExecMaxTotalSize)
		if err != nil {
			return 0, nil, err
		}
	}

	path, err := resolveAt(p, dirfd, pathname, flags&linux.AT_EMPTY_PATH != 0)
	if err != nil {
		return 0, nil, err
	}
	if flags&linux.AT_SYMLINK_NOFOLLOW != 0 {
		stat, err := p.Kernel().VFS().StatAt(path, false /* follow */)
		if err != nil {
			return 0, nil, err
		}
		if stat.Mode&linux.S_IFMT == linux.S_IFLNK {
			return 0, nil, linuxerr.ELOOP
		}
	}

	ctrl, err := p.Execve(path, argv, envv)
	return 0, ctrl, err
}

// Exit implements linux syscall exit(2).
func Exit(p *kernel.Process, args arch.SyscallArguments) (uintptr, *kernel.SyscallControl, error) {
	status := args[0].Int()
	p.Exit(linux.WaitStatusExit(status & 0xff))
	return 0, kernel.CtrlDoExit, nil
}

// ExitGroup implements linux syscall exit_group(2).
func ExitGroup(p *kernel.Process, args arch.SyscallArguments) (uintptr, *kernel.SyscallControl, error) {
	status := args[0].Int()
	p.Exit(linux.WaitStatusExit(status & 0xff))
	return 0, kernel.CtrlDoExit, nil
}

// clone is used by Clone, Fork, and VFork.
func clone(p *kernel.Process, flags int, stack hostarch.Addr, parentTID hostarch.Addr, childTID hostarch.Addr, tls hostarch.Addr) (uintptr, *kernel.SyscallControl, error) {
	if flags&unsupportedCloneFlags != 0 {
		// Threads and namespaces need kernel support this daemon does
		// not emulate.
		return 0, nil, linuxerr.EINVAL
	}
	opts := kernel.CloneOptions{
		ShareAddressSpace:   flags&linux.CLONE_VM != 0,
		ShareFiles:          flags&linux.CLONE_FILES != 0,
		ShareFSContext:      flags&linux.CLONE_FS != 0,
		ShareSignalHandlers: flags&linux.CLONE_SIGHAND != 0,
		Vfork:               flags&linux.CLONE_VFORK != 0,
		InheritParent:       flags&linux.CLONE_PARENT != 0,
		Stack:               stack,
		SetTLS:              flags&linux.CLONE_SETTLS != 0,
		TLS:                 uint64(tls),
		ChildClearTID:       flags&linux.CLONE_CHILD_CLEARTID != 0,
		ChildSetTID:         flags&linux.CLONE_CHILD_SETTID != 0,
		ParentSetTID:        flags&linux.CLONE_PARENT_SETTID != 0,
		ChildTID:            childTID,
		ParentTID:           parentTID,
		ExitSignal:          linux.Signal(flags & exitSignalMask),
	}
	ntid, err := p.Clone(&opts)
	return uintptr(ntid), nil, err
}

// Fork implements Linux syscall fork(2).
func Fork(p *kernel.Process, args arch.SyscallArguments) (uintptr, *kernel.SyscallControl, error) {
	// "A call to fork() is equivalent to a call to clone(2) specifying flags
	// as just SIGCHLD." - fork(2)
	return clone(p, int(linux.SIGCHLD), 0, 0, 0, 0)
}

// Vfork implements Linux syscall vfork(2).
func Vfork(p *kernel.Process, args arch.SyscallArguments) (uintptr, *kernel.SyscallControl, error) {
	// """
	// A call to vfork() is equivalent to calling clone(2) with flags specified as:
	//
	//     CLONE_VM | CLONE_VFORK | SIGCHLD
	// """ - vfork(2)
	return clone(p, linux.CLONE_VM|linux.CLONE_VFORK|int(linux.SIGCHLD), 0, 0, 0, 0)
}

// wait4 waits for the given child process to exit.
func wait4(p *kernel.Process, pid int, statusAddr hostarch.Addr, options int, rusageAddr hostarch.Addr) (uintptr, error) {
	if options&^(linux.WNOHANG|linux.WUNTRACED|linux.WCONTINUED|linux.WNOTHREAD|linux.WALL|linux.WCLONE) != 0 {
		return 0, linuxerr.EINVAL
	}
	wopts := kernel.WaitOptions{
		Events:       kernel.EventExit,
		ConsumeEvent: true,
	}
	// There are four cases to consider:
	//
	// pid < -1    any child process whose process group ID is equal to the absolute value of pid
	// pid == -1   any child process
	// pid == 0    any child process whose process group ID is equal to that of the calling process
	// pid > 0     the child whose process ID is equal to the value of pid
	switch {
	case pid < -1:
		wopts.SpecificPGID = kernel.ThreadID(-pid)
	case pid == -1:
		// Any process is appropriate.
	case pid == 0:
		wopts.SpecificPGID = p.ProcessGroupID()
	default:
		wopts.SpecificPID = kernel.ThreadID(pid)
	}

	if options&linux.WUNTRACED != 0 {
		wopts.Events |= kernel.EventChildGroupStop
	}
	if options&linux.WCONTINUED != 0 {
		wopts.Events |= kernel.EventGroupContinue
	}
	if options&linux.WNOHANG != 0 {
		wopts.NonBlocking = true
	}

	wr, err := p.Wait(&wopts)
	if err != nil {
		return 0, err
	}
	if wr == nil {
		// WNOHANG and no child has changed state.
		return 0, nil
	}
	if statusAddr != 0 {
		if _, err := primitive.CopyUint32Out(p.MemoryManager(), statusAddr, uint32(wr.Status)); err != nil {
			return 0, err
		}
	}
	if rusageAddr != 0 {
		ru := linux.Rusage{}
		if _, err := marshal.CopyOut(p.MemoryManager(), rusageAddr, &ru); err != nil {
			return 0, err
		}
	}
	return uintptr(wr.PID), nil
}

// Wait4 implements linux syscall wait4(2).
func Wait4(p *kernel.Process, args arch.SyscallArguments) (uintptr, *kernel.SyscallControl, error) {
	pid := int(args[0].Int())
	statusAddr := args[1].Pointer()
	options := int(args[2].Uint())
	rusageAddr := args[3].Pointer()

	n, err := wait4(p, pid, statusAddr, options, rusageAddr)
	return n, nil, err
}

// Waitid implements linux syscall waitid(2).
func Waitid(p *kernel.Process, args arch.SyscallArguments) (uintptr, *kernel.SyscallControl, error) {
	idtype := args[0].Int()
	id := args[1].Int()
	infop := args[2].Pointer()
	options := int(args[3].Uint())
	rusageAddr := args[4].Pointer()

	if options&^(linux.WNOHANG|linux.WEXITED|linux.WSTOPPED|linux.WCONTINUED|linux.WNOWAIT|linux.WNOTHREAD|linux.WALL|linux.WCLONE) != 0 {
		return 0, nil, linuxerr.EINVAL
	}
	if options&(linux.WEXITED|linux.WSTOPPED|linux.WCONTINUED) == 0 {
		return 0, nil, linuxerr.EINVAL
	}
	wopts := kernel.WaitOptions{
		NonBlocking:  options&linux.WNOHANG != 0,
		ConsumeEvent: options&linux.WNOWAIT == 0,
	}
	switch idtype {
	case linux.P_ALL:
	case linux.P_PID:
		wopts.SpecificPID = kernel.ThreadID(id)
	case linux.P_PGID:
		wopts.SpecificPGID = kernel.ThreadID(id)
		if id == 0 {
			wopts.SpecificPGID = p.ProcessGroupID()
		}
	default:
		return 0, nil, linuxerr.EINVAL
	}

	if options&linux.WEXITED != 0 {
		wopts.Events |= kernel.EventExit
	}
	if options&linux.WSTOPPED != 0 {
		wopts.Events |= kernel.EventChildGroupStop
	}
	if options&linux.WCONTINUED != 0 {
		wopts.Events |= kernel.EventGroupContinue
	}

	wr, err := p.Wait(&wopts)
	if err != nil {
		return 0, nil, err
	}
	if rusageAddr != 0 {
		ru := linux.Rusage{}
		if _, err := marshal.CopyOut(p.MemoryManager(), rusageAddr, &ru); err != nil {
			return 0, nil, err
		}
	}
	if infop == 0 {
		return 0, nil, nil
	}
	si := linux.SignalInfo{}
	if wr != nil {
		// "If WNOHANG was specified in options and there were no children
		// in a waitable state, then waitid() returns 0 immediately and the
		// state of the siginfo_t structure pointed to by infop depends on the
		// implementation. To (portably) distinguish this case from that where
		// a child was in a waitable state, zero out the si_pid field before
		// the call and check for a nonzero value in this field after the call
		// returns." - waitid(2)
		si.Signo = int32(linux.SIGCHLD)
		si.Code = wr.Code
		si.SetPID(int32(wr.PID))
		si.SetUID(int32(wr.UID))
		si.SetStatus(wr.CodeStatus)
	}
	_, err = marshal.CopyOut(p.MemoryManager(), infop, &si)
	return 0, nil, err
}

// SetTidAddress implements linux syscall set_tid_address(2).
func SetTidAddress(p *kernel.Process, args arch.SyscallArguments) (uintptr, *kernel.SyscallControl, error) {
	addr := args[0].Pointer()

	// Always succeed, return caller's tid.
	p.SetClearTID(addr)
	return uintptr(p.PID()), nil, nil
}

// Setpgid implements the linux syscall setpgid(2).
func Setpgid(p *kernel.Process, args arch.SyscallArguments) (uintptr, *kernel.SyscallControl, error) {
	// Note that throughout this function, pgid is interpreted with respect
	// to p's namespace, not with respect to the selected ThreadGroup's
	// namespace (which may be different).
	pid := kernel.ThreadID(args[0].Int())
	pgid := kernel.ThreadID(args[1].Int())

	target := p
	if pid != 0 && pid != p.PID() {
		target = p.Kernel().ProcessWithID(pid)
		if target == nil {
			return 0, nil, linuxerr.ESRCH
		}
	}
	return 0, nil, p.SetProcessGroupID(target, pgid)
}

// Getpgrp implements the linux syscall getpgrp(2).
func Getpgrp(p *kernel.Process, args arch.SyscallArguments) (uintptr, *kernel.SyscallControl, error) {
	return uintptr(p.ProcessGroupID()), nil, nil
}

// Getpgid implements the linux syscall getpgid(2).
func Getpgid(p *kernel.Process, args arch.SyscallArguments) (uintptr, *kernel.SyscallControl, error) {
	pid := kernel.ThreadID(args[0].Int())
	if pid == 0 {
		return Getpgrp(p, args)
	}

	target := p.Kernel().ProcessWithID(pid)
	if target == nil {
		return 0, nil, linuxerr.ESRCH
	}
	return uintptr(target.ProcessGroupID()), nil, nil
}

// Setsid implements the linux syscall setsid(2).
func Setsid(p *kernel.Process, args arch.SyscallArguments) (uintptr, *kernel.SyscallControl, error) {
	sid, err := p.SetSessionID()
	return uintptr(sid), nil, err
}

// Getsid implements the linux syscall getsid(2).
func Getsid(p *kernel.Process, args arch.SyscallArguments) (uintptr, *kernel.SyscallControl, error) {
	pid := kernel.ThreadID(args[0].Int())
	if pid == 0 {
		return uintptr(p.SessionID()), nil, nil
	}

	target := p.Kernel().ProcessWithID(pid)
	if target == nil {
		return 0, nil, linuxerr.ESRCH
	}
	return uintptr(target.SessionID()), nil, nil
}

// SchedYield implements linux syscall sched_yield(2).
func SchedYield(p *kernel.Process, args arch.SyscallArguments) (uintptr, *kernel.SyscallControl, error) {
	return 0, nil, nil
}
