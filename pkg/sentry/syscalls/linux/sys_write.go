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
	"gvisor.dev/lacd/pkg/errors/linuxerr"
	"gvisor.dev/lacd/pkg/sentry/arch"
	"gvisor.dev/lacd/pkg/sentry/kernel"
	"gvisor.dev/lacd/pkg/sentry/vfs"
	"gvisor.dev/lacd/pkg/waiter"
)

// Write implements linux syscall write(2).
func Write(p *kernel.Process, args arch.SyscallArguments) (uintptr, *kernel.SyscallControl, error) {
	fd := args[0].Int()
	addr := args[1].Pointer()
	size := args[2].SizeT()

	file, _, err := getFile(p, fd)
	if err != nil {
		return 0, nil, err
	}
	defer file.DecRef()

	// Check that the file is writable.
	if !file.IsWritable() {
		return 0, nil, linuxerr.EBADF
	}

	n, err := clampRW(size)
	if err != nil {
		return 0, nil, err
	}
	buf := make([]byte, n)
	if _, err := p.MemoryManager().CopyInBytes(addr, buf); err != nil {
		return 0, nil, err
	}

	n, err = write(p, file, buf)
	return uintptr(n), nil, handleIOError(p, n != 0, err, linuxerr.ERESTARTSYS, "write")
}

// Writev implements linux syscall writev(2).
func Writev(p *kernel.Process, args arch.SyscallArguments) (uintptr, *kernel.SyscallControl, error) {
	fd := args[0].Int()
	addr := args[1].Pointer()
	iovcnt := int(args[2].Int())

	file, _, err := getFile(p, fd)
	if err != nil {
		return 0, nil, err
	}
	defer file.DecRef()

	// Check that the file is writable.
	if !file.IsWritable() {
		return 0, nil, linuxerr.EBADF
	}

	iovs, err := p.MemoryManager().CopyInIovecs(addr, iovcnt)
	if err != nil {
		return 0, nil, err
	}
	buf, err := gather(p, iovs)
	if err != nil {
		return 0, nil, err
	}

	n, err := write(p, file, buf)
	return uintptr(n), nil, handleIOError(p, n != 0, err, linuxerr.ERESTARTSYS, "write")
}

// Pwrite64 implements linux syscall pwrite64(2).
func Pwrite64(p *kernel.Process, args arch.SyscallArguments) (uintptr, *kernel.SyscallControl, error) {
	fd := args[0].Int()
	addr := args[1].Pointer()
	size := args[2].SizeT()
	offset := args[3].Int64()

	file, _, err := getFile(p, fd)
	if err != nil {
		return 0, nil, err
	}
	defer file.DecRef()

	// Check that the offset is legitimate and does not overflow.
	if offset < 0 || offset+int64(size) < 0 {
		return 0, nil, linuxerr.EINVAL
	}

	n, err := clampRW(size)
	if err != nil {
		return 0, nil, err
	}
	buf := make([]byte, n)
	if _, err := p.MemoryManager().CopyInBytes(addr, buf); err != nil {
		return 0, nil, err
	}

	n, err = file.PWrite(buf, offset)
	return uintptr(n), nil, handleIOError(p, n != 0, err, linuxerr.ERESTARTSYS, "pwrite64")
}

// Pwritev implements linux syscall pwritev(2).
func Pwritev(p *kernel.Process, args arch.SyscallArguments) (uintptr, *kernel.SyscallControl, error) {
	fd := args[0].Int()
	addr := args[1].Pointer()
	iovcnt := int(args[2].Int())
	offset := args[3].Int64()

	file, _, err := getFile(p, fd)
	if err != nil {
		return 0, nil, err
	}
	defer file.DecRef()

	if offset < 0 {
		return 0, nil, linuxerr.EINVAL
	}

	iovs, err := p.MemoryManager().CopyInIovecs(addr, iovcnt)
	if err != nil {
		return 0, nil, err
	}
	buf, err := gather(p, iovs)
	if err != nil {
		return 0, nil, err
	}

	n, err := file.PWrite(buf, offset)
	return uintptr(n), nil, handleIOError(p, n != 0, err, linuxerr.ERESTARTSYS, "pwritev")
}

// write writes src, blocking until all of it is accepted unless file is in
// non-blocking mode.
func write(p *kernel.Process, file *vfs.FileDescription, src []byte) (int, error) {
	n, err := file.Write(src)
	if err != linuxerr.ErrWouldBlock || file.NonBlocking() {
		return n, err
	}

	// Register for notifications.
	e, ch := waiter.NewChannelEntry(waiter.WritableEvents)
	if err := file.EventRegister(&e); err != nil {
		return n, err
	}
	defer file.EventUnregister(&e)

	total := n
	for total < len(src) {
		// Always try to write before blocking.
		n, err = file.Write(src[total:])
		total += n
		if err == nil {
			if n == 0 {
				break
			}
			continue
		}
		if err != linuxerr.ErrWouldBlock {
			break
		}

		// Wait for a notification that we should retry.
		if err = p.Block(ch); err != nil {
			break
		}
	}
	return total, err
}
