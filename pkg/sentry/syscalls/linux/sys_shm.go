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
	"gvisor.dev/lacd/pkg/sentry/kernel/ipc"
	"gvisor.dev/lacd/pkg/sentry/kernel/shm"
)

// Shmget implements shmget(2).
func Shmget(p *kernel.Process, args arch.SyscallArguments) (uintptr, *kernel.SyscallControl, error) {
	key := ipc.Key(args[0].Int())
	size := uint64(args[1].SizeT())
	flag := args[2].Int()

	private := key == linux.IPC_PRIVATE
	create := flag&linux.IPC_CREAT == linux.IPC_CREAT
	exclusive := flag&linux.IPC_EXCL == linux.IPC_EXCL
	mode := uint16(flag & 0777)

	r := p.Kernel().ShmRegistry()
	segment, err := r.FindOrCreate(p.Credentials(), int32(p.PID()), key, size, mode, private, create, exclusive)
	if err != nil {
		return 0, nil, err
	}
	return uintptr(segment.ID()), nil, nil
}

// findSegment retrieves a shm segment by the given id.
func findSegment(p *kernel.Process, id ipc.ID) (*shm.Shm, error) {
	segment := p.Kernel().ShmRegistry().FindByID(id)
	if segment == nil {
		// No segment with provided id.
		return nil, linuxerr.EINVAL
	}
	return segment, nil
}

// Shmat implements shmat(2).
func Shmat(p *kernel.Process, args arch.SyscallArguments) (uintptr, *kernel.SyscallControl, error) {
	id := ipc.ID(args[0].Int())
	addr := args[1].Pointer()
	flag := args[2].Int()

	segment, err := findSegment(p, id)
	if err != nil {
		return 0, nil, err
	}

	opts := shm.AttachOpts{
		Execute:  flag&linux.SHM_EXEC == linux.SHM_EXEC,
		Readonly: flag&linux.SHM_RDONLY == linux.SHM_RDONLY,
		Remap:    flag&linux.SHM_REMAP == linux.SHM_REMAP,
		Round:    flag&linux.SHM_RND == linux.SHM_RND,
	}
	at, err := segment.Attach(p.MemoryManager(), p.Credentials(), addr, opts, int32(p.PID()))
	if err != nil {
		return 0, nil, err
	}
	return uintptr(at), nil, nil
}

// Shmdt implements shmdt(2).
func Shmdt(p *kernel.Process, args arch.SyscallArguments) (uintptr, *kernel.SyscallControl, error) {
	addr := args[0].Pointer()
	return 0, nil, shm.Detach(p.MemoryManager(), addr, int32(p.PID()))
}

// Shmctl implements shmctl(2).
func Shmctl(p *kernel.Process, args arch.SyscallArguments) (uintptr, *kernel.SyscallControl, error) {
	id := ipc.ID(args[0].Int())
	cmd := args[1].Int()
	buf := args[2].Pointer()

	segment, err := findSegment(p, id)
	if err != nil {
		return 0, nil, linuxerr.EINVAL
	}

	switch cmd {
	case linux.IPC_STAT:
		stat, err := segment.IPCStat(p.Credentials())
		if err == nil {
			_, err = marshal.CopyOut(p.MemoryManager(), buf, stat)
		}
		return 0, nil, err

	case linux.IPC_SET:
		var ds linux.ShmidDS
		if _, err = marshal.CopyIn(p.MemoryManager(), buf, &ds); err != nil {
			return 0, nil, err
		}
		return 0, nil, segment.Set(p.Credentials(), &ds)

	case linux.IPC_RMID:
		return 0, nil, segment.MarkDestroyed(p.Credentials())

	case linux.SHM_LOCK, linux.SHM_UNLOCK:
		// We currently do not support memory locking anywhere.
		// mlock(2)/munlock(2) are currently stubbed out as no-ops so do the
		// same here.
		p.Debugf("Ignoring shmctl(%d) on segment %d", cmd, id)
		return 0, nil, nil

	default:
		return 0, nil, linuxerr.EINVAL
	}
}
