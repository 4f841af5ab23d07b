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
	"gvisor.dev/lacd/pkg/marshal"
	"gvisor.dev/lacd/pkg/sentry/arch"
	"gvisor.dev/lacd/pkg/sentry/kernel"
)

// Uname implements linux syscall uname.
func Uname(p *kernel.Process, args arch.SyscallArguments) (uintptr, *kernel.SyscallControl, error) {
	version := p.Kernel().SyscallTable().Version

	// Fill in structure fields.
	var u linux.UtsName
	linux.SetUtsNameString(&u.Sysname, version.Sysname)
	linux.SetUtsNameString(&u.Nodename, p.Kernel().Hostname())
	linux.SetUtsNameString(&u.Release, version.Release)
	linux.SetUtsNameString(&u.Version, version.Version)
	linux.SetUtsNameString(&u.Machine, "x86_64")
	linux.SetUtsNameString(&u.Domainname, "(none)")

	// Copy out the result.
	va := args[0].Pointer()
	_, err := marshal.CopyOut(p.MemoryManager(), va, &u)
	return 0, nil, err
}

// Sethostname implements linux syscall sethostname.
func Sethostname(p *kernel.Process, args arch.SyscallArguments) (uintptr, *kernel.SyscallControl, error) {
	size := args[1].Int()
	if size < 0 || size > linux.UTSLen {
		return 0, nil, linuxerr.EINVAL
	}
	// The hostname is shared by every guest process and is not writable
	// from inside.
	return 0, nil, linuxerr.EPERM
}
