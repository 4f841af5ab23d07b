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
	"bytes"

	"gvisor.dev/lacd/pkg/abi/linux"
	"gvisor.dev/lacd/pkg/errors/linuxerr"
	"gvisor.dev/lacd/pkg/marshal/primitive"
	"gvisor.dev/lacd/pkg/sentry/arch"
	"gvisor.dev/lacd/pkg/sentry/kernel"
	"gvisor.dev/lacd/pkg/sentry/mm"
)

// Prctl implements linux syscall prctl(2).
// It has a list of subfunctions which operate on the process. The arguments are
// all based on each subfunction.
func Prctl(p *kernel.Process, args arch.SyscallArguments) (uintptr, *kernel.SyscallControl, error) {
	option := args[0].Int()

	switch option {
	case linux.PR_SET_PDEATHSIG:
		sig := linux.Signal(args[1].Int())
		if sig != 0 && !sig.IsValid() {
			return 0, nil, linuxerr.EINVAL
		}
		p.SetParentDeathSignal(sig)
		return 0, nil, nil

	case linux.PR_GET_PDEATHSIG:
		_, err := primitive.CopyInt32Out(p.MemoryManager(), args[1].Pointer(), int32(p.ParentDeathSignal()))
		return 0, nil, err

	case linux.PR_GET_DUMPABLE:
		return 1, nil, nil

	case linux.PR_SET_DUMPABLE:
		switch args[1].Int() {
		case 0, 1:
			return 0, nil, nil
		default:
			return 0, nil, linuxerr.EINVAL
		}

	case linux.PR_SET_NAME:
		addr := args[1].Pointer()
		buf := make([]byte, linux.TASK_COMM_LEN)
		n, err := p.MemoryManager().CopyIn(addr, buf, mm.IOOpts{})
		if n == 0 && err != nil {
			return 0, nil, err
		}
		buf = buf[:n]
		if i := bytes.IndexByte(buf, 0); i >= 0 {
			buf = buf[:i]
		}
		p.SetName(string(buf))

	case linux.PR_GET_NAME:
		addr := args[1].Pointer()
		buf := make([]byte, linux.TASK_COMM_LEN)
		name := p.Name()
		if len(name) > linux.TASK_COMM_LEN-1 {
			name = name[:linux.TASK_COMM_LEN-1]
		}
		copy(buf, name)
		_, err := p.MemoryManager().CopyOutBytes(addr, buf[:len(name)+1])
		if err != nil {
			return 0, nil, err
		}

	default:
		p.Warningf("Unsupported prctl %d", option)
		return 0, nil, linuxerr.EINVAL
	}

	return 0, nil, nil
}

// ArchPrctl implements linux syscall arch_prctl(2).
// It sets architecture-specific process or thread state for t.
func ArchPrctl(p *kernel.Process, args arch.SyscallArguments) (uintptr, *kernel.SyscallControl, error) {
	switch args[0].Int() {
	case linux.ARCH_GET_FS:
		addr := args[1].Pointer()
		fsbase := p.Arch().TLS()
		_, err := primitive.CopyUint64Out(p.MemoryManager(), addr, uint64(fsbase))
		if err != nil {
			return 0, nil, err
		}

	case linux.ARCH_SET_FS:
		fsbase := args[1].Uint64()
		if !p.Arch().SetTLS(uintptr(fsbase)) {
			return 0, nil, linuxerr.EPERM
		}

	case linux.ARCH_GET_GS:
		_, err := primitive.CopyUint64Out(p.MemoryManager(), args[1].Pointer(), p.Arch().Regs.Gs_base)
		return 0, nil, err

	case linux.ARCH_SET_GS:
		gsbase := args[1].Uint64()
		if int64(gsbase) < 0 {
			return 0, nil, linuxerr.EPERM
		}
		p.Arch().Regs.Gs_base = gsbase

	default:
		return 0, nil, linuxerr.EINVAL
	}

	return 0, nil, nil
}
