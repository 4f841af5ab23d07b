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
	"gvisor.dev/lacd/pkg/marshal/primitive"
	"gvisor.dev/lacd/pkg/sentry/arch"
	"gvisor.dev/lacd/pkg/sentry/kernel"
	ktime "gvisor.dev/lacd/pkg/sentry/kernel/time"
)

// getClock returns the clock named by clockID for p.
func getClock(p *kernel.Process, clockID int32) (ktime.Clock, error) {
	src := ktime.Source{
		Boot:         p.Kernel().BootTime(),
		ProcessStart: p.StartTime(),
	}
	return src.Lookup(clockID)
}

func copyTimespecIn(p *kernel.Process, addr hostarch.Addr) (linux.Timespec, error) {
	var ts linux.Timespec
	_, err := marshal.CopyIn(p.MemoryManager(), addr, &ts)
	return ts, err
}

func copyTimespecOut(p *kernel.Process, addr hostarch.Addr, ts *linux.Timespec) error {
	_, err := marshal.CopyOut(p.MemoryManager(), addr, ts)
	return err
}

// ClockGetres implements linux syscall clock_getres(2).
func ClockGetres(p *kernel.Process, args arch.SyscallArguments) (uintptr, *kernel.SyscallControl, error) {
	clockID := args[0].Int()
	addr := args[1].Pointer()

	if _, err := getClock(p, clockID); err != nil {
		return 0, nil, linuxerr.EINVAL
	}

	if addr == 0 {
		// Don't need to copy out.
		return 0, nil, nil
	}

	r := linux.DurationToTimespec(ktime.Resolution)
	return 0, nil, copyTimespecOut(p, addr, &r)
}

// ClockGettime implements linux syscall clock_gettime(2).
func ClockGettime(p *kernel.Process, args arch.SyscallArguments) (uintptr, *kernel.SyscallControl, error) {
	clockID := args[0].Int()
	addr := args[1].Pointer()

	c, err := getClock(p, clockID)
	if err != nil {
		return 0, nil, err
	}
	ts := linux.DurationToTimespec(c.Now())
	return 0, nil, copyTimespecOut(p, addr, &ts)
}

// ClockSettime implements linux syscall clock_settime(2).
func ClockSettime(*kernel.Process, arch.SyscallArguments) (uintptr, *kernel.SyscallControl, error) {
	return 0, nil, linuxerr.EPERM
}

// Time implements linux syscall time(2).
func Time(p *kernel.Process, args arch.SyscallArguments) (uintptr, *kernel.SyscallControl, error) {
	addr := args[0].Pointer()

	r := int64(ktime.Realtime.Now() / time.Second)
	if addr == 0 {
		return uintptr(r), nil, nil
	}

	if _, err := primitive.CopyInt64Out(p.MemoryManager(), addr, r); err != nil {
		return 0, nil, err
	}
	return uintptr(r), nil, nil
}

// clockNanosleepRestartBlock encapsulates the state required to restart
// clock_nanosleep(2) via restart_syscall(2).
type clockNanosleepRestartBlock struct {
	c        ktime.Clock
	duration time.Duration
	rem      hostarch.Addr
}

// Restart implements kernel.SyscallRestartBlock.Restart.
func (n *clockNanosleepRestartBlock) Restart(p *kernel.Process) (uintptr, error) {
	return 0, clockNanosleepFor(p, n.c, n.duration, n.rem)
}

// clockNanosleepUntil blocks until a specified time.
//
// If blocking is interrupted, the syscall is restarted with the original
// arguments.
func clockNanosleepUntil(p *kernel.Process, c ktime.Clock, ts linux.Timespec) error {
	err := p.BlockWithDeadline(nil, true, ktime.Deadline(c, ts.ToDuration()))

	// Did we just block until the timeout happened?
	if err == linuxerr.ErrDeadlineExceeded {
		return nil
	}

	return linuxerr.ConvertIntr(err, linuxerr.ERESTARTNOHAND)
}

// clockNanosleepFor blocks for a specified duration.
//
// If blocking is interrupted, the syscall is restarted with the remaining
// duration timeout.
func clockNanosleepFor(p *kernel.Process, c ktime.Clock, dur time.Duration, rem hostarch.Addr) error {
	remaining, err := p.BlockWithTimeout(nil, true, dur)

	// Did we just block for the entire duration?
	if err == linuxerr.ErrDeadlineExceeded {
		return nil
	}

	// Copy out remaining time.
	if rem != 0 {
		timeleft := linux.DurationToTimespec(remaining)
		if err := copyTimespecOut(p, rem, &timeleft); err != nil {
			return err
		}
	}

	// If interrupted, arrange for a restart with the remaining duration.
	if err == linuxerr.ErrInterrupted {
		p.SetSyscallRestartBlock(&clockNanosleepRestartBlock{
			c:        c,
			duration: remaining,
			rem:      rem,
		})
		return linuxerr.ERESTART_RESTARTBLOCK
	}

	return err
}

// Nanosleep implements linux syscall Nanosleep(2).
func Nanosleep(p *kernel.Process, args arch.SyscallArguments) (uintptr, *kernel.SyscallControl, error) {
	addr := args[0].Pointer()
	rem := args[1].Pointer()

	ts, err := copyTimespecIn(p, addr)
	if err != nil {
		return 0, nil, err
	}

	if !ts.Valid() {
		return 0, nil, linuxerr.EINVAL
	}

	c, _ := getClock(p, linux.CLOCK_MONOTONIC)
	return 0, nil, clockNanosleepFor(p, c, ts.ToDuration(), rem)
}

// ClockNanosleep implements linux syscall clock_nanosleep(2).
func ClockNanosleep(p *kernel.Process, args arch.SyscallArguments) (uintptr, *kernel.SyscallControl, error) {
	clockID := args[0].Int()
	flags := args[1].Int()
	addr := args[2].Pointer()
	rem := args[3].Pointer()

	req, err := copyTimespecIn(p, addr)
	if err != nil {
		return 0, nil, err
	}

	if !req.Valid() {
		return 0, nil, linuxerr.EINVAL
	}

	// Only allow clock constants also allowed by Linux.
	if clockID != linux.CLOCK_REALTIME &&
		clockID != linux.CLOCK_MONOTONIC &&
		clockID != linux.CLOCK_BOOTTIME &&
		clockID != linux.CLOCK_PROCESS_CPUTIME_ID {
		return 0, nil, linuxerr.EINVAL
	}

	c, err := getClock(p, clockID)
	if err != nil {
		return 0, nil, err
	}

	if flags&linux.TIMER_ABSTIME != 0 {
		return 0, nil, clockNanosleepUntil(p, c, req)
	}

	return 0, nil, clockNanosleepFor(p, c, req.ToDuration(), rem)
}

// Gettimeofday implements linux syscall gettimeofday(2).
func Gettimeofday(p *kernel.Process, args arch.SyscallArguments) (uintptr, *kernel.SyscallControl, error) {
	tv := args[0].Pointer()
	tz := args[1].Pointer()

	if tv != 0 {
		nowTv := linux.NsecToTimeval(int64(ktime.Realtime.Now()))
		if _, err := marshal.CopyOut(p.MemoryManager(), tv, &nowTv); err != nil {
			return 0, nil, err
		}
	}

	if tz != 0 {
		// Ask the time package for the timezone.
		_, offset := time.Now().Zone()
		// This mimics linux's struct timezone.
		var buf [8]byte
		hostarch.ByteOrder.PutUint32(buf[0:], uint32(-int32(offset)/60))
		_, err := p.MemoryManager().CopyOutBytes(tz, buf[:])
		return 0, nil, err
	}
	return 0, nil, nil
}
