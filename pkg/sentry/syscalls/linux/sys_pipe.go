// Copyright 2020 The gVisor Authors.
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
	"gvisor.dev/lacd/pkg/sentry/kernel/pipe"
	"gvisor.dev/lacd/pkg/sentry/vfs"
)

// Pipe implements Linux syscall pipe(2).
func Pipe(p *kernel.Process, args arch.SyscallArguments) (uintptr, *kernel.SyscallControl, error) {
	addr := args[0].Pointer()
	return 0, nil, pipe2(p, addr, 0)
}

// Pipe2 implements Linux syscall pipe2(2).
func Pipe2(p *kernel.Process, args arch.SyscallArguments) (uintptr, *kernel.SyscallControl, error) {
	addr := args[0].Pointer()
	flags := args[1].Int()
	return 0, nil, pipe2(p, addr, flags)
}

func pipe2(p *kernel.Process, addr hostarch.Addr, flags int32) error {
	if flags&^(linux.O_NONBLOCK|linux.O_CLOEXEC|linux.O_DIRECT) != 0 {
		return linuxerr.EINVAL
	}
	// O_DIRECT (packet mode) is accepted and ignored.
	r, w := pipe.NewConnectedPipe(pipe.DefaultPipeSize, uint32(flags&linux.O_NONBLOCK))
	defer r.DecRef()
	defer w.DecRef()

	fds, err := p.FDTable().NewFDs(p.Limits(), 0, []*vfs.FileDescription{r, w}, kernel.FDFlags{
		CloseOnExec: flags&linux.O_CLOEXEC != 0,
	})
	if err != nil {
		return err
	}
	pipeFDs := [2]primitive.Int32{primitive.Int32(fds[0]), primitive.Int32(fds[1])}
	if _, err := marshal.CopySliceOut(p.MemoryManager(), addr, pipeFDs[:]); err != nil {
		for _, fd := range fds {
			if file := p.FDTable().Remove(fd); file != nil {
				file.DecRef()
			}
		}
		return err
	}
	return nil
}
