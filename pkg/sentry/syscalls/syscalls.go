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

// Package syscalls is the interface from the application to the kernel.
// Traditionally, syscalls is the interface that is used by applications to
// request services from the kernel of a operating system. We provide a
// user-mode kernel that needs to handle those requests coming from unmodified
// applications. Therefore, we still use the term "syscalls" to denote this
// interface.
//
// Note that the stubs in this package may merely provide the interface, not
// the actual implementation. It just makes writing syscall stubs
// straightforward.
package syscalls

import (
	"time"

	"gvisor.dev/lacd/pkg/abi/linux"
	"gvisor.dev/lacd/pkg/errors/linuxerr"
	"gvisor.dev/lacd/pkg/log"
	"gvisor.dev/lacd/pkg/metric"
	"gvisor.dev/lacd/pkg/sentry/arch"
	"gvisor.dev/lacd/pkg/sentry/kernel"
)

var unimplementedCalls = metric.MustCreateNewUint64Metric("/syscalls/unimplemented_events", metric.Counter, "Number of calls to syscalls that are registered but not emulated.")

// eventLog rate limits UnimplementedEvent.
var eventLog = log.BasicRateLimitedLogger(time.Minute)

// Supported returns a syscall that is fully supported.
func Supported(name string, argc int, fn kernel.SyscallFn) kernel.Syscall {
	return kernel.Syscall{
		Name:         name,
		ArgCount:     argc,
		Category:     CategoryOf(name),
		Fn:           fn,
		SupportLevel: kernel.SupportFull,
		Note:         "Fully Supported.",
	}
}

// PartiallySupported returns a syscall that has a partial implementation.
func PartiallySupported(name string, argc int, fn kernel.SyscallFn, note string) kernel.Syscall {
	return kernel.Syscall{
		Name:         name,
		ArgCount:     argc,
		Category:     CategoryOf(name),
		Fn:           fn,
		SupportLevel: kernel.SupportPartial,
		Note:         note,
	}
}

// Error returns a syscall handler that will always give the passed error.
func Error(name string, argc int, err error, note string) kernel.Syscall {
	if note != "" {
		note = note + "; "
	}
	return kernel.Syscall{
		Name:     name,
		ArgCount: argc,
		Category: CategoryOf(name),
		Fn: func(*kernel.Process, arch.SyscallArguments) (uintptr, *kernel.SyscallControl, error) {
			return 0, nil, err
		},
		SupportLevel: kernel.SupportUnimplemented,
		Note:         note + "Returns " + err.Error() + ".",
	}
}

// ErrorWithEvent gives a syscall function that logs an unimplemented
// syscall event and returns the passed error.
func ErrorWithEvent(name string, argc int, err error, note string) kernel.Syscall {
	if note != "" {
		note = note + "; "
	}
	return kernel.Syscall{
		Name:     name,
		ArgCount: argc,
		Category: CategoryOf(name),
		Fn: func(p *kernel.Process, args arch.SyscallArguments) (uintptr, *kernel.SyscallControl, error) {
			UnimplementedEvent(p, name)
			return 0, nil, err
		},
		SupportLevel: kernel.SupportUnimplemented,
		Note:         note + "Returns " + err.Error() + ".",
	}
}

// CapError gives a syscall function that checks for capability c. If the
// process has the capability, it returns ENOSYS, otherwise EPERM. To
// unprivileged processes, it will seem like there is an implementation.
func CapError(name string, argc int, c linux.Capability, note string) kernel.Syscall {
	if note != "" {
		note = note + "; "
	}
	return kernel.Syscall{
		Name:     name,
		ArgCount: argc,
		Category: CategoryOf(name),
		Fn: func(p *kernel.Process, args arch.SyscallArguments) (uintptr, *kernel.SyscallControl, error) {
			if !p.Credentials().HasCapability(c) {
				return 0, nil, linuxerr.EPERM
			}
			UnimplementedEvent(p, name)
			return 0, nil, linuxerr.ENOSYS
		},
		SupportLevel: kernel.SupportUnimplemented,
		Note:         note + "Returns " + linuxerr.ENOSYS.Error() + " with " + c.String() + ", otherwise " + linuxerr.EPERM.Error() + ".",
	}
}

// NotImplemented returns a syscall that is known but has no
// implementation. The dispatcher answers it with ENOSYS and a rate-limited
// warning.
func NotImplemented(name string, argc int, note string) kernel.Syscall {
	return kernel.Syscall{
		Name:         name,
		ArgCount:     argc,
		Category:     CategoryOf(name),
		SupportLevel: kernel.SupportUnimplemented,
		Note:         note,
	}
}

// UnimplementedEvent records a call to a syscall that is registered but
// not emulated.
func UnimplementedEvent(p *kernel.Process, name string) {
	unimplementedCalls.Increment()
	eventLog.Warningf("[%6d] Unsupported syscall %s(%#x, %#x, %#x, ...)", p.PID(), name, p.Arch().Regs.Rdi, p.Arch().Regs.Rsi, p.Arch().Regs.Rdx)
}
