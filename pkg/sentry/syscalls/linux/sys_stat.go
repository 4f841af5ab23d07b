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
	"gvisor.dev/lacd/pkg/hostarch"
	"gvisor.dev/lacd/pkg/marshal"
	"gvisor.dev/lacd/pkg/sentry/arch"
	"gvisor.dev/lacd/pkg/sentry/kernel"
)

// Stat implements linux syscall stat(2).
func Stat(p *kernel.Process, args arch.SyscallArguments) (uintptr, *kernel.SyscallControl, error) {
	addr := args[0].Pointer()
	statAddr := args[1].Pointer()
	return 0, nil, fstatat(p, linux.AT_FDCWD, addr, statAddr, 0 /* flags */)
}

// Lstat implements linux syscall lstat(2).
func Lstat(p *kernel.Process, args arch.SyscallArguments) (uintptr, *kernel.SyscallControl, error) {
	addr := args[0].Pointer()
	statAddr := args[1].Pointer()
	return 0, nil, fstatat(p, linux.AT_FDCWD, addr, statAddr, linux.AT_SYMLINK_NOFOLLOW)
}

// Newfstatat implements linux syscall newfstatat, which backs fstatat(2).
func Newfstatat(p *kernel.Process, args arch.SyscallArguments) (uintptr, *kernel.SyscallControl, error) {
	dirfd := args[0].Int()
	addr := args[1].Pointer()
	statAddr := args[2].Pointer()
	flags := args[3].Int()
	return 0, nil, fstatat(p, dirfd, addr, statAddr, flags)
}

func fstatat(p *kernel.Process, dirfd int32, addr, statAddr hostarch.Addr, flags int32) error {
	if flags&^(linux.AT_SYMLINK_NOFOLLOW|linux.AT_EMPTY_PATH) != 0 {
		return linuxerr.EINVAL
	}

	path, err := copyInPath(p, addr)
	if err != nil {
		return err
	}

	// An empty path with AT_EMPTY_PATH describes dirfd itself, which
	// need not be a directory.
	if path == "" && flags&linux.AT_EMPTY_PATH != 0 && dirfd != linux.AT_FDCWD {
		return fstat(p, dirfd, statAddr)
	}

	guest, err := resolveAt(p, dirfd, path, flags&linux.AT_EMPTY_PATH != 0)
	if err != nil {
		return err
	}
	stat, err := p.Kernel().VFS().StatAt(guest, flags&linux.AT_SYMLINK_NOFOLLOW == 0)
	if err != nil {
		return err
	}
	_, err = marshal.CopyOut(p.MemoryManager(), statAddr, &stat)
	return err
}

// Fstat implements linux syscall fstat(2).
func Fstat(p *kernel.Process, args arch.SyscallArguments) (uintptr, *kernel.SyscallControl, error) {
	fd := args[0].Int()
	statAddr := args[1].Pointer()
	return 0, nil, fstat(p, fd, statAddr)
}

func fstat(p *kernel.Process, fd int32, statAddr hostarch.Addr) error {
	file, _, err := getFile(p, fd)
	if err != nil {
		return err
	}
	defer file.DecRef()

	stat, err := file.Stat()
	if err != nil {
		return err
	}
	_, err = marshal.CopyOut(p.MemoryManager(), statAddr, &stat)
	return err
}
