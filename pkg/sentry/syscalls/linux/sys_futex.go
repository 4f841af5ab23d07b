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
	"gvisor.dev/lacd/pkg/hostarch"
	"gvisor.dev/lacd/pkg/marshal"
	"gvisor.dev/lacd/pkg/sentry/arch"
	"gvisor.dev/lacd/pkg/sentry/kernel"
	"gvisor.dev/lacd/pkg/sentry/kernel/futex"
	ktime "gvisor.dev/lacd/pkg/sentry/kernel/time"
)

// futexWaitRestartBlock encapsulates the state required to restart futex(2)
// via restart_syscall(2).
type futexWaitRestartBlock struct {
	duration time.Duration

	addr    hostarch.Addr
	private bool
	val     uint32
	mask    uint32
}

// Restart implements kernel.SyscallRestartBlock.Restart.
func (f *futexWaitRestartBlock) Restart(p *kernel.Process) (uintptr, error) {
	return futexWaitDuration(p, f.duration, false, f.addr, f.private, f.val, f.mask)
}

// futexWaitAbsolute performs a FUTEX_WAIT_BITSET, blocking until the wait is
// complete.
//
// The wait blocks forever if forever is true, otherwise it blocks until ts.
//
// If blocking is interrupted, the syscall is restarted with the original
// arguments.
func futexWaitAbsolute(p *kernel.Process, c ktime.Clock, ts linux.Timespec, forever bool, addr hostarch.Addr, private bool, val, mask uint32) (uintptr, error) {
	w := futex.NewWaiter()
	m := p.Kernel().Futexes()
	if err := m.WaitPrepare(w, p.MemoryManager(), addr, private, val, mask); err != nil {
		return 0, err
	}

	var err error
	if forever {
		err = p.Block(w.C)
	} else {
		err = p.BlockWithDeadline(w.C, true, ktime.Deadline(c, ts.ToDuration()))
	}

	m.WaitComplete(w)
	if w.Woken() {
		return 0, nil
	}
	if err == linuxerr.ErrDeadlineExceeded {
		return 0, linuxerr.ETIMEDOUT
	}
	return 0, linuxerr.ConvertIntr(err, linuxerr.ERESTARTSYS)
}

// futexWaitDuration performs a FUTEX_WAIT, blocking until the wait is
// complete.
//
// The wait blocks forever if forever is true, otherwise it blocks for
// duration.
//
// If blocking is interrupted, forever determines how to restart the
// syscall. If forever is true, the syscall is restarted with the original
// arguments. If forever is false, duration is a relative timeout and the
// syscall is restarted with the remaining timeout.
func futexWaitDuration(p *kernel.Process, duration time.Duration, forever bool, addr hostarch.Addr, private bool, val, mask uint32) (uintptr, error) {
	w := futex.NewWaiter()
	m := p.Kernel().Futexes()
	if err := m.WaitPrepare(w, p.MemoryManager(), addr, private, val, mask); err != nil {
		return 0, err
	}

	remaining, err := p.BlockWithTimeout(w.C, !forever, duration)
	m.WaitComplete(w)
	if w.Woken() {
		return 0, nil
	}

	// The wait was unsuccessful for some reason other than interruption. Simply
	// forward the error.
	if err != linuxerr.ErrInterrupted {
		if err == linuxerr.ErrDeadlineExceeded {
			return 0, linuxerr.ETIMEDOUT
		}
		return 0, err
	}

	// The wait was interrupted and we need to restart. Decide how.

	// The wait duration was absolute, restart with the original arguments.
	if forever {
		return 0, linuxerr.ERESTARTSYS
	}

	// The wait duration was relative, restart with the remaining duration.
	p.SetSyscallRestartBlock(&futexWaitRestartBlock{
		duration: remaining,
		addr:     addr,
		private:  private,
		val:      val,
		mask:     mask,
	})
	return 0, linuxerr.ERESTART_RESTARTBLOCK
}

// Futex implements linux syscall futex(2).
// It provides a method for a program to wait for a value at a given address to
// change, and a method to wake up anyone waiting on a particular address.
func Futex(p *kernel.Process, args arch.SyscallArguments) (uintptr, *kernel.SyscallControl, error) {
	addr := args[0].Pointer()
	futexOp := args[1].Int()
	val := int(args[2].Int())
	nreq := int(args[3].Int())
	timeout := args[3].Pointer()
	naddr := args[4].Pointer()
	val3 := args[5].Int()

	cmd := futexOp &^ (linux.FUTEX_PRIVATE_FLAG | linux.FUTEX_CLOCK_REALTIME)
	private := (futexOp & linux.FUTEX_PRIVATE_FLAG) != 0
	clockRealtime := (futexOp & linux.FUTEX_CLOCK_REALTIME) == linux.FUTEX_CLOCK_REALTIME
	mask := uint32(val3)

	if clockRealtime && cmd != linux.FUTEX_WAIT_BITSET && cmd != linux.FUTEX_WAIT {
		return 0, nil, linuxerr.ENOSYS
	}

	m := p.Kernel().Futexes()
	mm := p.MemoryManager()
	switch cmd {
	case linux.FUTEX_WAIT, linux.FUTEX_WAIT_BITSET:
		// WAIT{_BITSET} wait forever if the timeout isn't passed.
		forever := (timeout == 0)

		var timespec linux.Timespec
		if !forever {
			var err error
			timespec, err = copyTimespecIn(p, timeout)
			if err != nil {
				return 0, nil, err
			}
			if !timespec.Valid() {
				return 0, nil, linuxerr.EINVAL
			}
		}

		switch cmd {
		case linux.FUTEX_WAIT:
			// WAIT uses a relative timeout.
			mask = linux.FUTEX_BITSET_MATCH_ANY
			var timeoutDur time.Duration
			if !forever {
				timeoutDur = timespec.ToDuration()
			}
			n, err := futexWaitDuration(p, timeoutDur, forever, addr, private, uint32(val), mask)
			return n, nil, err

		case linux.FUTEX_WAIT_BITSET:
			// WAIT_BITSET uses an absolute timeout which is either
			// CLOCK_MONOTONIC or CLOCK_REALTIME.
			if mask == 0 {
				return 0, nil, linuxerr.EINVAL
			}
			clockID := int32(linux.CLOCK_MONOTONIC)
			if clockRealtime {
				clockID = linux.CLOCK_REALTIME
			}
			c, err := getClock(p, clockID)
			if err != nil {
				return 0, nil, err
			}
			n, err := futexWaitAbsolute(p, c, timespec, forever, addr, private, uint32(val), mask)
			return n, nil, err
		default:
			panic("unreachable")
		}

	case linux.FUTEX_WAKE:
		mask = ^uint32(0)
		fallthrough

	case linux.FUTEX_WAKE_BITSET:
		if mask == 0 {
			return 0, nil, linuxerr.EINVAL
		}
		if val <= 0 {
			// The Linux kernel wakes one waiter even if val is
			// non-positive.
			val = 1
		}
		n, err := m.Wake(mm, addr, private, mask, val)
		return uintptr(n), nil, err

	case linux.FUTEX_REQUEUE:
		n, err := m.Requeue(mm, addr, naddr, private, val, nreq)
		return uintptr(n), nil, err

	case linux.FUTEX_CMP_REQUEUE:
		// 'val3' contains the value to be checked at 'addr' and
		// 'val' is the number of waiters that should be woken up.
		nval := uint32(val3)
		n, err := m.RequeueCmp(mm, addr, naddr, private, nval, val, nreq)
		return uintptr(n), nil, err

	case linux.FUTEX_WAKE_OP:
		op := uint32(val3)
		if val <= 0 {
			// The Linux kernel wakes one waiter even if val is
			// non-positive.
			val = 1
		}
		n, err := m.WakeOp(mm, addr, naddr, private, val, nreq, op)
		return uintptr(n), nil, err

	case linux.FUTEX_LOCK_PI, linux.FUTEX_UNLOCK_PI, linux.FUTEX_TRYLOCK_PI,
		linux.FUTEX_WAIT_REQUEUE_PI, linux.FUTEX_CMP_REQUEUE_PI:
		// Priority inheritance futexes are not supported.
		return 0, nil, linuxerr.ENOSYS

	default:
		// We don't even know about this command.
		return 0, nil, linuxerr.ENOSYS
	}
}

// FutexWaitv implements linux syscall futex_waitv(2).
func FutexWaitv(p *kernel.Process, args arch.SyscallArguments) (uintptr, *kernel.SyscallControl, error) {
	waitersAddr := args[0].Pointer()
	nrWaiters := int(args[1].Int())
	flags := args[2].Uint()
	timeoutAddr := args[3].Pointer()
	clockID := args[4].Int()

	if flags != 0 {
		return 0, nil, linuxerr.EINVAL
	}
	if nrWaiters <= 0 || nrWaiters > linux.FUTEX_WAITV_MAX {
		return 0, nil, linuxerr.EINVAL
	}

	var (
		haveDeadline bool
		deadline     time.Time
	)
	if timeoutAddr != 0 {
		if clockID != linux.CLOCK_MONOTONIC && clockID != linux.CLOCK_REALTIME {
			return 0, nil, linuxerr.EINVAL
		}
		ts, err := copyTimespecIn(p, timeoutAddr)
		if err != nil {
			return 0, nil, err
		}
		if !ts.Valid() {
			return 0, nil, linuxerr.EINVAL
		}
		c, err := getClock(p, clockID)
		if err != nil {
			return 0, nil, err
		}
		haveDeadline = true
		deadline = ktime.Deadline(c, ts.ToDuration())
	}

	entries := make([]futex.WaitvEntry, nrWaiters)
	var fw linux.FutexWaitv
	for i := range entries {
		addr, ok := waitersAddr.AddLength(uint64(i * fw.SizeBytes()))
		if !ok {
			return 0, nil, linuxerr.EFAULT
		}
		if _, err := marshal.CopyIn(p.MemoryManager(), addr, &fw); err != nil {
			return 0, nil, err
		}
		if fw.Flags&^(linux.FUTEX2_SIZE_MASK|linux.FUTEX2_PRIVATE) != 0 || fw.Reserved != 0 {
			return 0, nil, linuxerr.EINVAL
		}
		// Only 32-bit futexes are supported.
		if fw.Flags&linux.FUTEX2_SIZE_MASK != linux.FUTEX2_SIZE_U32 {
			return 0, nil, linuxerr.EINVAL
		}
		if fw.Val > uint64(^uint32(0)) {
			return 0, nil, linuxerr.EINVAL
		}
		entries[i] = futex.WaitvEntry{
			Addr:    hostarch.Addr(fw.Uaddr),
			Val:     uint32(fw.Val),
			Private: fw.Flags&linux.FUTEX2_PRIVATE != 0,
		}
	}

	m := p.Kernel().Futexes()
	c := make(chan struct{}, 1)
	ws, err := m.WaitMultiplePrepare(p.MemoryManager(), entries, c)
	if err != nil {
		return 0, nil, err
	}
	err = p.BlockWithDeadline(c, haveDeadline, deadline)
	if woken := m.WaitMultipleComplete(ws); woken >= 0 {
		return uintptr(woken), nil, nil
	}
	if err == linuxerr.ErrDeadlineExceeded {
		return 0, nil, linuxerr.ETIMEDOUT
	}
	return 0, nil, linuxerr.ConvertIntr(err, linuxerr.ERESTARTSYS)
}
