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
	"runtime/debug"
	"time"

	"gvisor.dev/lacd/pkg/abi/linux"
	"gvisor.dev/lacd/pkg/errors/linuxerr"
	"gvisor.dev/lacd/pkg/hostarch"
	"gvisor.dev/lacd/pkg/log"
	"gvisor.dev/lacd/pkg/metric"
	"gvisor.dev/lacd/pkg/sentry/arch"
	"gvisor.dev/lacd/pkg/sentry/hosterr"
)

var (
	syscallsDispatched = metric.MustCreateNewUint64Metric("/syscalls/dispatched", metric.Counter, "Number of syscalls dispatched, by result.",
		metric.NewField("result", []string{"ok", "error", "unimplemented", "unknown"}))
	syscallErrors = metric.MustCreateNewUint64Metric("/syscalls/errors", metric.Counter, "Number of failed syscalls, by error kind.",
		metric.NewField("kind", hosterr.KindNames()))
	syscallPanics = metric.MustCreateNewUint64Metric("/syscalls/panics", metric.Counter, "Number of syscall handlers that panicked.")
	signalsDelivered = metric.MustCreateNewUint64Metric("/signals/delivered", metric.Counter, "Number of signals delivered to user handlers.")
)

// unimplementedLog rate limits warnings about unimplemented syscalls, which
// a guest may call in a loop.
var unimplementedLog = log.BasicRateLimitedLogger(30 * time.Second)

// Request is a trapped syscall forwarded to the daemon.
type Request struct {
	// PID identifies the calling process.
	PID ThreadID

	// Sysno and Args are the syscall number and arguments. They are ignored
	// if HaveRegs is true.
	Sysno uintptr
	Args  arch.SyscallArguments

	// Regs is the complete register file at the trap, with the instruction
	// pointer just past the syscall instruction. It is used if HaveRegs is
	// true; otherwise only the syscall registers of the process are
	// updated.
	Regs     arch.Registers
	HaveRegs bool
}

// Response is the result of a dispatched request.
type Response struct {
	// Return is the value of the return register: a result, or a negated
	// errno.
	Return uintptr

	// Regs is the register file to resume the process with. It differs
	// from the request's registers only in the return register unless the
	// syscall replaced the image (execve), returned from a signal handler
	// (rt_sigreturn), was restarted, or a signal handler was set up.
	Regs arch.Registers

	// Signal describes the signal handler the process resumes in, if any.
	Signal *Resumption

	// Exited is true if the process no longer runs. ExitStatus is its
	// wait status.
	Exited     bool
	ExitStatus linux.WaitStatus
}

// Dispatch executes a trapped syscall for the process identified by
// req.PID and returns the state it resumes with.
//
// Dispatch never fails for a bad request: every handler error, including a
// panic, becomes an errno in the response. It returns ESRCH only if the
// process does not exist.
func (k *Kernel) Dispatch(req *Request) (*Response, error) {
	p := k.ProcessWithID(req.PID)
	if p == nil {
		return nil, linuxerr.ESRCH
	}
	return p.Dispatch(req), nil
}

// Dispatch executes a trapped syscall for p. Concurrent requests for the
// same process are serialized.
func (p *Process) Dispatch(req *Request) *Response {
	p.dispatchMu.Lock()
	defer p.dispatchMu.Unlock()

	if status, exited := p.ExitStatus(); exited {
		return &Response{Exited: true, ExitStatus: status}
	}

	if req.HaveRegs {
		p.regs.Regs = req.Regs
	} else {
		p.regs.SetSyscall(req.Sysno, req.Args)
	}

	// A stopped process does not run syscalls until it is continued.
	p.waitWhileStopped()

	p.mu.Lock()
	if p.state == ProcessZombie || p.state == ProcessTerminated {
		status := p.exitStatus
		p.mu.Unlock()
		return &Response{Exited: true, ExitStatus: status}
	}
	// Drop an interrupt token left behind by a signal that was delivered
	// before this syscall.
	p.clearInterrupt()
	if p.interruptedLocked() {
		p.interrupt()
	}
	p.inSyscall = true
	p.syscallCount++
	p.mu.Unlock()

	ctrl := p.executeSyscall(p.regs.SyscallNo(), p.regs.SyscallArgs())

	p.mu.Lock()
	p.inSyscall = false
	p.mu.Unlock()

	if ctrl != nil && ctrl.exited {
		status, _ := p.ExitStatus()
		return &Response{Exited: true, ExitStatus: status}
	}

	haveReturn := ctrl == nil || !ctrl.ignoreReturn
	r, exited := p.deliverSignals(haveReturn)
	if exited {
		status, _ := p.ExitStatus()
		return &Response{Exited: true, ExitStatus: status}
	}
	if r != nil {
		signalsDelivered.Increment()
	}
	return &Response{
		Return: p.regs.Return(),
		Regs:   p.regs.Regs,
		Signal: r,
	}
}

// executeSyscall runs the handler for sysno and stores its result in the
// return register.
func (p *Process) executeSyscall(sysno uintptr, args arch.SyscallArguments) (ctrl *SyscallControl) {
	s := p.k.syscalls
	sc, known := s.Lookup(sysno)

	var (
		rval    uintptr
		err     error
		strace  any
		tracing = p.k.strace.Load() && s.Stracer != nil
	)
	if tracing {
		strace = s.Stracer.SyscallEnter(p, sysno, args)
	}

	switch {
	case !known:
		unimplementedLog.Warningf("[%6d] Unknown syscall %d", p.pid, sysno)
		syscallsDispatched.Increment("unknown")
		_, err = s.Missing(p, sysno, args)
	case sc.Fn == nil:
		unimplementedLog.Warningf("[%6d] Unimplemented syscall %s", p.pid, sc.Name)
		syscallsDispatched.Increment("unimplemented")
		_, err = s.Missing(p, sysno, args)
	default:
		rval, ctrl, err = p.invokeHandler(sc, args)
		if err != nil {
			syscallsDispatched.Increment("error")
		} else {
			syscallsDispatched.Increment("ok")
		}
	}

	if tracing {
		s.Stracer.SyscallExit(strace, p, sysno, rval, err)
	} else if log.IsLogging(log.Debug) && err != nil && known {
		p.Debugf("%s: %v", sc.Name, err)
	}

	if ctrl != nil && ctrl.ignoreReturn {
		return ctrl
	}
	if err != nil {
		e := hosterr.FromHost(err)
		syscallErrors.Increment(hosterr.Classify(e).String())
		rval = e.Return()
	}
	p.regs.SetReturn(rval)
	return ctrl
}

// invokeHandler calls sc.Fn. A panicking handler fails the syscall with
// EFAULT; the daemon keeps running.
func (p *Process) invokeHandler(sc *Syscall, args arch.SyscallArguments) (rval uintptr, ctrl *SyscallControl, err error) {
	defer func() {
		if r := recover(); r != nil {
			syscallPanics.Increment()
			log.Warningf("[%6d] Syscall %s panicked: %v\n%s", p.pid, sc.Name, r, debug.Stack())
			rval, ctrl, err = 0, nil, linuxerr.EFAULT
		}
	}()
	return sc.Fn(p, args)
}

// Resume runs the signal delivery that happens whenever p resumes guest
// code, outside of a syscall. The trap layer calls it when it regains
// control of a process without a syscall, for example on a timer tick.
func (k *Kernel) Resume(pid ThreadID, regs arch.Registers) (*Response, error) {
	p := k.ProcessWithID(pid)
	if p == nil {
		return nil, linuxerr.ESRCH
	}
	p.dispatchMu.Lock()
	defer p.dispatchMu.Unlock()
	if status, exited := p.ExitStatus(); exited {
		return &Response{Exited: true, ExitStatus: status}, nil
	}
	p.regs.Regs = regs
	r, exited := p.deliverSignals(false)
	if exited {
		status, _ := p.ExitStatus()
		return &Response{Exited: true, ExitStatus: status}, nil
	}
	return &Response{Return: p.regs.Return(), Regs: p.regs.Regs, Signal: r}, nil
}

// Fault reports a hardware fault raised by guest code in process pid. The
// process is terminated by sig; the daemon and other processes are not
// affected.
func (k *Kernel) Fault(pid ThreadID, sig linux.Signal, addr hostarch.Addr) (*Response, error) {
	switch sig {
	case linux.SIGSEGV, linux.SIGBUS, linux.SIGILL, linux.SIGFPE, linux.SIGTRAP, linux.SIGSYS:
	default:
		return nil, fmt.Errorf("signal %v is not a fault", sig)
	}
	p := k.ProcessWithID(pid)
	if p == nil {
		return nil, linuxerr.ESRCH
	}
	p.Warningf("Fault %v at %v", sig, addr)
	p.Fault(sig, addr)
	status, exited := p.ExitStatus()
	return &Response{Exited: exited, ExitStatus: status}, nil
}
