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
	"gvisor.dev/lacd/pkg/hostarch"
	"gvisor.dev/lacd/pkg/sentry/arch"
	"gvisor.dev/lacd/pkg/sentry/kernel"
	"gvisor.dev/lacd/pkg/sentry/vfs"
	"gvisor.dev/lacd/pkg/waiter"
)

// maxRWCount bounds the number of bytes transferred by a single read or
// write. Larger requests are truncated, which Linux permits for all file
// types.
const maxRWCount = 16 << 20

// clampRW returns the number of bytes to transfer for a request of size
// bytes, or EINVAL if size is not representable.
func clampRW(size uint) (int, error) {
	if int(size) < 0 {
		return 0, linuxerr.EINVAL
	}
	if size > maxRWCount {
		size = maxRWCount
	}
	return int(size), nil
}

// Read implements linux syscall read(2). Note that we try to get a buffer
// that is exactly the size requested because some applications like qemu
// expect they can do large reads all at once. Bug for bug. Same for other
// read calls below.
func Read(p *kernel.Process, args arch.SyscallArguments) (uintptr, *kernel.SyscallControl, error) {
	fd := args[0].Int()
	addr := args[1].Pointer()
	size := args[2].SizeT()

	file, _, err := getFile(p, fd)
	if err != nil {
		return 0, nil, err
	}
	defer file.DecRef()

	// Check that the file is readable.
	if !file.IsReadable() {
		return 0, nil, linuxerr.EBADF
	}

	n, err := clampRW(size)
	if err != nil {
		return 0, nil, err
	}
	if _, ok := p.MemoryManager().CheckIORange(addr, int64(n)); !ok {
		return 0, nil, linuxerr.EFAULT
	}

	buf := make([]byte, n)
	n, err = read(p, file, buf)
	if n > 0 {
		if _, cerr := p.MemoryManager().CopyOutBytes(addr, buf[:n]); cerr != nil {
			return 0, nil, cerr
		}
	}
	return uintptr(n), nil, handleIOError(p, n != 0, err, linuxerr.ERESTARTSYS, "read")
}

// Readv implements linux syscall readv(2).
func Readv(p *kernel.Process, args arch.SyscallArguments) (uintptr, *kernel.SyscallControl, error) {
	fd := args[0].Int()
	addr := args[1].Pointer()
	iovcnt := int(args[2].Int())

	file, _, err := getFile(p, fd)
	if err != nil {
		return 0, nil, err
	}
	defer file.DecRef()

	// Check that the file is readable.
	if !file.IsReadable() {
		return 0, nil, linuxerr.EBADF
	}

	iovs, err := p.MemoryManager().CopyInIovecs(addr, iovcnt)
	if err != nil {
		return 0, nil, err
	}
	buf := make([]byte, iovecsLength(iovs))
	n, err := read(p, file, buf)
	if n > 0 {
		if cerr := scatter(p, iovs, buf[:n]); cerr != nil {
			return 0, nil, cerr
		}
	}
	return uintptr(n), nil, handleIOError(p, n != 0, err, linuxerr.ERESTARTSYS, "readv")
}

// Pread64 implements linux syscall pread64(2).
func Pread64(p *kernel.Process, args arch.SyscallArguments) (uintptr, *kernel.SyscallControl, error) {
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
	if _, ok := p.MemoryManager().CheckIORange(addr, int64(n)); !ok {
		return 0, nil, linuxerr.EFAULT
	}

	buf := make([]byte, n)
	n, err = file.PRead(buf, offset)
	if n > 0 {
		if _, cerr := p.MemoryManager().CopyOutBytes(addr, buf[:n]); cerr != nil {
			return 0, nil, cerr
		}
	}
	return uintptr(n), nil, handleIOError(p, n != 0, err, linuxerr.ERESTARTSYS, "pread64")
}

// Preadv implements linux syscall preadv(2).
func Preadv(p *kernel.Process, args arch.SyscallArguments) (uintptr, *kernel.SyscallControl, error) {
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
	buf := make([]byte, iovecsLength(iovs))
	n, err := file.PRead(buf, offset)
	if n > 0 {
		if cerr := scatter(p, iovs, buf[:n]); cerr != nil {
			return 0, nil, cerr
		}
	}
	return uintptr(n), nil, handleIOError(p, n != 0, err, linuxerr.ERESTARTSYS, "preadv")
}

// read reads into dst, blocking until data is available unless file is in
// non-blocking mode.
func read(p *kernel.Process, file *vfs.FileDescription, dst []byte) (int, error) {
	n, err := file.Read(dst)
	if err != linuxerr.ErrWouldBlock || file.NonBlocking() {
		return n, err
	}

	// Register for notifications.
	e, ch := waiter.NewChannelEntry(waiter.ReadableEvents | waiter.EventHUp)
	if err := file.EventRegister(&e); err != nil {
		return n, err
	}
	defer file.EventUnregister(&e)

	total := n
	for {
		// Always try to read before blocking; the file may have become
		// readable between the first attempt and registration.
		n, err = file.Read(dst[total:])
		total += n
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

// iovecsLength returns the total length of iovs, capped at maxRWCount.
func iovecsLength(iovs []hostarch.AddrRange) int {
	var total uint64
	for _, ar := range iovs {
		total += ar.Length()
		if total > maxRWCount {
			return maxRWCount
		}
	}
	return int(total)
}

// scatter copies src out to the guest ranges iovs in order.
func scatter(p *kernel.Process, iovs []hostarch.AddrRange, src []byte) error {
	for _, ar := range iovs {
		if len(src) == 0 {
			break
		}
		n := int(ar.Length())
		if n > len(src) {
			n = len(src)
		}
		if _, err := p.MemoryManager().CopyOutBytes(ar.Start, src[:n]); err != nil {
			return err
		}
		src = src[n:]
	}
	return nil
}

// gather copies the guest ranges iovs into a single buffer.
func gather(p *kernel.Process, iovs []hostarch.AddrRange) ([]byte, error) {
	buf := make([]byte, iovecsLength(iovs))
	dst := buf
	for _, ar := range iovs {
		if len(dst) == 0 {
			break
		}
		n := int(ar.Length())
		if n > len(dst) {
			n = len(dst)
		}
		if _, err := p.MemoryManager().CopyInBytes(ar.Start, dst[:n]); err != nil {
			return nil, err
		}
		dst = dst[n:]
	}
	return buf, nil
}
