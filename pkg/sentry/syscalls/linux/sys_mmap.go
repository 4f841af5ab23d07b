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
	"io"

	"gvisor.dev/lacd/pkg/abi/linux"
	"gvisor.dev/lacd/pkg/errors/linuxerr"
	"gvisor.dev/lacd/pkg/hostarch"
	"gvisor.dev/lacd/pkg/sentry/arch"
	"gvisor.dev/lacd/pkg/sentry/kernel"
	"gvisor.dev/lacd/pkg/sentry/mm"
)

// Brk implements linux syscall brk(2).
func Brk(p *kernel.Process, args arch.SyscallArguments) (uintptr, *kernel.SyscallControl, error) {
	addr, _ := p.MemoryManager().Brk(args[0].Pointer())
	// "However, the actual Linux system call returns the new program break on
	// success. On failure, the system call returns the current break." -
	// brk(2)
	return uintptr(addr), nil, nil
}

// Mmap implements linux syscall mmap(2).
func Mmap(p *kernel.Process, args arch.SyscallArguments) (uintptr, *kernel.SyscallControl, error) {
	prot := args[2].Int()
	flags := args[3].Int()
	fd := args[4].Int()
	fixed := flags&linux.MAP_FIXED != 0
	noReplace := flags&linux.MAP_FIXED_NOREPLACE != 0
	private := flags&linux.MAP_PRIVATE != 0
	shared := flags&linux.MAP_SHARED != 0
	anon := flags&linux.MAP_ANONYMOUS != 0

	// Require exactly one of MAP_PRIVATE and MAP_SHARED.
	if private == shared {
		return 0, nil, linuxerr.EINVAL
	}

	opts := mm.MMapOpts{
		Length:   args[1].Uint64(),
		Offset:   args[5].Uint64(),
		Addr:     args[0].Pointer(),
		Fixed:    fixed || noReplace,
		Unmap:    fixed && !noReplace,
		Private:  private,
		Perms:    hostarch.ProtToAccessType(uint64(prot)),
		MaxPerms: hostarch.AnyAccess,
		Kind:     mm.RegionAnonymous,
	}

	if !anon {
		// Convert the passed FD to a file reference.
		file, _, err := getFile(p, fd)
		if err != nil {
			return 0, nil, err
		}
		defer file.DecRef()

		// mmap unconditionally requires that the FD is readable.
		if !file.IsReadable() {
			return 0, nil, linuxerr.EACCES
		}
		// MAP_SHARED requires that the FD be writable for PROT_WRITE.
		if shared && !file.IsWritable() {
			opts.MaxPerms.Write = false
		}
		if opts.Length == 0 || opts.Offset%hostarch.PageSize != 0 {
			return 0, nil, linuxerr.EINVAL
		}
		size, ok := hostarch.PageRoundUp(opts.Length)
		if !ok || int64(opts.Offset) < 0 {
			return 0, nil, linuxerr.ENOMEM
		}

		// The mapping is populated with a snapshot of the file. Writes
		// through the mapping are not written back.
		contents := make([]byte, size)
		n, err := file.PRead(contents, int64(opts.Offset))
		if err != nil && err != io.EOF {
			if linuxerr.Equals(linuxerr.ESPIPE, err) || linuxerr.Equals(linuxerr.EISDIR, err) {
				return 0, nil, linuxerr.ENODEV
			}
			return 0, nil, err
		}
		b := mm.NewBacking(size)
		b.WriteAt(contents[:n], 0)
		opts.Backing = b
		opts.Offset = 0
		opts.Kind = mm.RegionFile
		opts.Name = file.Path()
	}

	rv, err := p.MemoryManager().MMap(opts)
	return uintptr(rv), nil, err
}

// Munmap implements linux syscall munmap(2).
func Munmap(p *kernel.Process, args arch.SyscallArguments) (uintptr, *kernel.SyscallControl, error) {
	return 0, nil, p.MemoryManager().MUnmap(args[0].Pointer(), args[1].Uint64())
}

// Mprotect implements linux syscall mprotect(2).
func Mprotect(p *kernel.Process, args arch.SyscallArguments) (uintptr, *kernel.SyscallControl, error) {
	length := args[1].Uint64()
	prot := args[2].Int()
	if prot&^(linux.PROT_READ|linux.PROT_WRITE|linux.PROT_EXEC|linux.PROT_GROWSDOWN|linux.PROT_GROWSUP) != 0 {
		return 0, nil, linuxerr.EINVAL
	}
	err := p.MemoryManager().MProtect(args[0].Pointer(), length, hostarch.ProtToAccessType(uint64(prot)))
	return 0, nil, err
}

// Madvise implements linux syscall madvise(2).
func Madvise(p *kernel.Process, args arch.SyscallArguments) (uintptr, *kernel.SyscallControl, error) {
	addr := args[0].Pointer()
	length := uint64(args[1].SizeT())
	adv := args[2].Int()

	// "The Linux implementation requires that the address addr be
	// page-aligned, and allows length to be zero." - madvise(2)
	if addr.RoundDown() != addr {
		return 0, nil, linuxerr.EINVAL
	}
	if length == 0 {
		return 0, nil, nil
	}
	// Not explicitly stated: length need not be page-aligned.
	lenAddr, ok := hostarch.Addr(length).RoundUp()
	if !ok {
		return 0, nil, linuxerr.EINVAL
	}
	length = uint64(lenAddr)

	switch adv {
	case linux.MADV_DONTNEED:
		// Discarding pages of a private anonymous mapping reads back
		// as zeroes.
		_, err := p.MemoryManager().ZeroOut(addr, int64(length), mm.IOOpts{IgnorePermissions: true})
		if err != nil {
			return 0, nil, linuxerr.ENOMEM
		}
		return 0, nil, nil
	case linux.MADV_NORMAL, linux.MADV_RANDOM, linux.MADV_SEQUENTIAL, linux.MADV_WILLNEED,
		linux.MADV_FREE, linux.MADV_HUGEPAGE, linux.MADV_NOHUGEPAGE, linux.MADV_DONTFORK,
		linux.MADV_DOFORK, linux.MADV_DONTDUMP, linux.MADV_DODUMP:
		// Do nothing, we totally ignore the suggestions above.
		return 0, nil, nil
	default:
		return 0, nil, linuxerr.EINVAL
	}
}
