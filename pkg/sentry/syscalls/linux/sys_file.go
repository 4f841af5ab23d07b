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
	"gvisor.dev/lacd/pkg/marshal/primitive"
	"gvisor.dev/lacd/pkg/sentry/arch"
	"gvisor.dev/lacd/pkg/sentry/kernel"
	"gvisor.dev/lacd/pkg/sentry/kernel/pipe"
	"gvisor.dev/lacd/pkg/sentry/vfs"
)

// Open implements Linux syscall open(2).
func Open(p *kernel.Process, args arch.SyscallArguments) (uintptr, *kernel.SyscallControl, error) {
	addr := args[0].Pointer()
	flags := args[1].Uint()
	mode := args[2].ModeT()
	return openat(p, linux.AT_FDCWD, addr, flags, mode)
}

// Openat implements Linux syscall openat(2).
func Openat(p *kernel.Process, args arch.SyscallArguments) (uintptr, *kernel.SyscallControl, error) {
	dirfd := args[0].Int()
	addr := args[1].Pointer()
	flags := args[2].Uint()
	mode := args[3].ModeT()
	return openat(p, dirfd, addr, flags, mode)
}

// Creat implements Linux syscall creat(2).
func Creat(p *kernel.Process, args arch.SyscallArguments) (uintptr, *kernel.SyscallControl, error) {
	addr := args[0].Pointer()
	mode := args[1].ModeT()
	return openat(p, linux.AT_FDCWD, addr, linux.O_WRONLY|linux.O_CREAT|linux.O_TRUNC, mode)
}

func openat(p *kernel.Process, dirfd int32, pathAddr hostarch.Addr, flags uint32, mode uint) (uintptr, *kernel.SyscallControl, error) {
	path, err := copyInPathAt(p, dirfd, pathAddr, false /* emptyOK */)
	if err != nil {
		return 0, nil, err
	}
	if flags&linux.O_TMPFILE == linux.O_TMPFILE {
		return 0, nil, linuxerr.EOPNOTSUPP
	}
	if flags&linux.O_CREAT != 0 {
		mode &^= p.FSContext().Umask()
	}

	file, err := p.Kernel().VFS().OpenAt(path, flags, uint32(mode&0o7777))
	if err != nil {
		return 0, nil, err
	}
	defer file.DecRef()

	fds, err := p.FDTable().NewFDs(p.Limits(), 0, []*vfs.FileDescription{file}, kernel.FDFlags{
		CloseOnExec: flags&linux.O_CLOEXEC != 0,
	})
	if err != nil {
		return 0, nil, err
	}
	return uintptr(fds[0]), nil, nil
}

// Close implements Linux syscall close(2).
func Close(p *kernel.Process, args arch.SyscallArguments) (uintptr, *kernel.SyscallControl, error) {
	fd := args[0].Int()

	file := p.FDTable().Remove(fd)
	if file == nil {
		return 0, nil, linuxerr.EBADF
	}
	file.DecRef()
	return 0, nil, nil
}

// Dup implements Linux syscall dup(2).
func Dup(p *kernel.Process, args arch.SyscallArguments) (uintptr, *kernel.SyscallControl, error) {
	fd := args[0].Int()

	file, _, err := getFile(p, fd)
	if err != nil {
		return 0, nil, err
	}
	defer file.DecRef()

	newFD, err := p.FDTable().NewFDs(p.Limits(), 0, []*vfs.FileDescription{file}, kernel.FDFlags{})
	if err != nil {
		return 0, nil, linuxerr.EMFILE
	}
	return uintptr(newFD[0]), nil, nil
}

// Dup2 implements Linux syscall dup2(2).
func Dup2(p *kernel.Process, args arch.SyscallArguments) (uintptr, *kernel.SyscallControl, error) {
	oldfd := args[0].Int()
	newfd := args[1].Int()

	if oldfd == newfd {
		// As long as oldfd is valid, dup2() does nothing and returns
		// newfd.
		file, _, err := getFile(p, oldfd)
		if err != nil {
			return 0, nil, err
		}
		file.DecRef()
		return uintptr(newfd), nil, nil
	}

	return dup3(p, oldfd, newfd, 0)
}

// Dup3 implements Linux syscall dup3(2).
func Dup3(p *kernel.Process, args arch.SyscallArguments) (uintptr, *kernel.SyscallControl, error) {
	oldfd := args[0].Int()
	newfd := args[1].Int()
	flags := args[2].Uint()

	if oldfd == newfd {
		return 0, nil, linuxerr.EINVAL
	}
	return dup3(p, oldfd, newfd, flags)
}

func dup3(p *kernel.Process, oldfd, newfd int32, flags uint32) (uintptr, *kernel.SyscallControl, error) {
	if flags&^linux.O_CLOEXEC != 0 {
		return 0, nil, linuxerr.EINVAL
	}

	file, _, err := getFile(p, oldfd)
	if err != nil {
		return 0, nil, err
	}
	defer file.DecRef()

	if err := p.FDTable().NewFDAt(p.Limits(), newfd, file, kernel.FDFlags{CloseOnExec: flags&linux.O_CLOEXEC != 0}); err != nil {
		return 0, nil, err
	}
	return uintptr(newfd), nil, nil
}

// Fcntl implements Linux syscall fcntl(2).
func Fcntl(p *kernel.Process, args arch.SyscallArguments) (uintptr, *kernel.SyscallControl, error) {
	fd := args[0].Int()
	cmd := args[1].Int()

	file, flags, err := getFile(p, fd)
	if err != nil {
		return 0, nil, err
	}
	defer file.DecRef()

	switch cmd {
	case linux.F_DUPFD, linux.F_DUPFD_CLOEXEC:
		from := args[2].Int()
		fds, err := p.FDTable().NewFDs(p.Limits(), from, []*vfs.FileDescription{file}, kernel.FDFlags{
			CloseOnExec: cmd == linux.F_DUPFD_CLOEXEC,
		})
		if err != nil {
			return 0, nil, err
		}
		return uintptr(fds[0]), nil, nil
	case linux.F_GETFD:
		return uintptr(flags.ToLinuxFDFlags()), nil, nil
	case linux.F_SETFD:
		flags := args[2].Uint()
		err := p.FDTable().SetFlags(fd, kernel.FDFlags{
			CloseOnExec: flags&linux.FD_CLOEXEC != 0,
		})
		return 0, nil, err
	case linux.F_GETFL:
		return uintptr(file.StatusFlags()), nil, nil
	case linux.F_SETFL:
		file.SetStatusFlags(args[2].Uint())
		return 0, nil, nil
	case linux.F_GETPIPE_SZ:
		pfd, ok := file.Impl().(*pipe.VFSPipeFD)
		if !ok {
			return 0, nil, linuxerr.EINVAL
		}
		return uintptr(pfd.PipeSize()), nil, nil
	case linux.F_SETPIPE_SZ:
		pfd, ok := file.Impl().(*pipe.VFSPipeFD)
		if !ok {
			return 0, nil, linuxerr.EINVAL
		}
		n, err := pfd.SetPipeSize(int64(args[2].Int()))
		return uintptr(n), nil, err
	default:
		// Everything else is not yet supported.
		return 0, nil, linuxerr.EINVAL
	}
}

// Access implements Linux syscall access(2).
func Access(p *kernel.Process, args arch.SyscallArguments) (uintptr, *kernel.SyscallControl, error) {
	addr := args[0].Pointer()
	mode := args[1].ModeT()
	return 0, nil, accessAt(p, linux.AT_FDCWD, addr, mode, 0 /* flags */)
}

// Faccessat implements Linux syscall faccessat(2).
func Faccessat(p *kernel.Process, args arch.SyscallArguments) (uintptr, *kernel.SyscallControl, error) {
	dirfd := args[0].Int()
	addr := args[1].Pointer()
	mode := args[2].ModeT()
	return 0, nil, accessAt(p, dirfd, addr, mode, 0 /* flags */)
}

// Faccessat2 implements Linux syscall faccessat2(2).
func Faccessat2(p *kernel.Process, args arch.SyscallArguments) (uintptr, *kernel.SyscallControl, error) {
	dirfd := args[0].Int()
	addr := args[1].Pointer()
	mode := args[2].ModeT()
	flags := args[3].Int()
	return 0, nil, accessAt(p, dirfd, addr, mode, flags)
}

func accessAt(p *kernel.Process, dirfd int32, pathAddr hostarch.Addr, mode uint, flags int32) error {
	const rOK = 4
	const wOK = 2
	const xOK = 1

	// Sanity check the mode.
	if mode&^(rOK|wOK|xOK) != 0 {
		return linuxerr.EINVAL
	}
	if flags&^(linux.AT_EACCESS|linux.AT_SYMLINK_NOFOLLOW|linux.AT_EMPTY_PATH) != 0 {
		return linuxerr.EINVAL
	}

	path, err := copyInPathAt(p, dirfd, pathAddr, flags&linux.AT_EMPTY_PATH != 0)
	if err != nil {
		return err
	}
	return p.Kernel().VFS().AccessAt(path, uint32(mode))
}

// Mkdir implements Linux syscall mkdir(2).
func Mkdir(p *kernel.Process, args arch.SyscallArguments) (uintptr, *kernel.SyscallControl, error) {
	addr := args[0].Pointer()
	mode := args[1].ModeT()
	return 0, nil, mkdirat(p, linux.AT_FDCWD, addr, mode)
}

// Mkdirat implements Linux syscall mkdirat(2).
func Mkdirat(p *kernel.Process, args arch.SyscallArguments) (uintptr, *kernel.SyscallControl, error) {
	dirfd := args[0].Int()
	addr := args[1].Pointer()
	mode := args[2].ModeT()
	return 0, nil, mkdirat(p, dirfd, addr, mode)
}

func mkdirat(p *kernel.Process, dirfd int32, addr hostarch.Addr, mode uint) error {
	path, err := copyInPathAt(p, dirfd, addr, false /* emptyOK */)
	if err != nil {
		return err
	}
	mode = mode &^ p.FSContext().Umask() & 0o777
	return p.Kernel().VFS().MkdirAt(path, uint32(mode))
}

// Rmdir implements Linux syscall rmdir(2).
func Rmdir(p *kernel.Process, args arch.SyscallArguments) (uintptr, *kernel.SyscallControl, error) {
	addr := args[0].Pointer()
	path, err := copyInPathAt(p, linux.AT_FDCWD, addr, false /* emptyOK */)
	if err != nil {
		return 0, nil, err
	}
	return 0, nil, p.Kernel().VFS().RmdirAt(path)
}

// Unlink implements Linux syscall unlink(2).
func Unlink(p *kernel.Process, args arch.SyscallArguments) (uintptr, *kernel.SyscallControl, error) {
	addr := args[0].Pointer()
	path, err := copyInPathAt(p, linux.AT_FDCWD, addr, false /* emptyOK */)
	if err != nil {
		return 0, nil, err
	}
	return 0, nil, p.Kernel().VFS().UnlinkAt(path)
}

// Unlinkat implements Linux syscall unlinkat(2).
func Unlinkat(p *kernel.Process, args arch.SyscallArguments) (uintptr, *kernel.SyscallControl, error) {
	dirfd := args[0].Int()
	addr := args[1].Pointer()
	flags := args[2].Uint()

	if flags&^linux.AT_REMOVEDIR != 0 {
		return 0, nil, linuxerr.EINVAL
	}
	path, err := copyInPathAt(p, dirfd, addr, false /* emptyOK */)
	if err != nil {
		return 0, nil, err
	}
	if flags&linux.AT_REMOVEDIR != 0 {
		return 0, nil, p.Kernel().VFS().RmdirAt(path)
	}
	return 0, nil, p.Kernel().VFS().UnlinkAt(path)
}

// Rename implements Linux syscall rename(2).
func Rename(p *kernel.Process, args arch.SyscallArguments) (uintptr, *kernel.SyscallControl, error) {
	oldAddr := args[0].Pointer()
	newAddr := args[1].Pointer()
	return 0, nil, renameat(p, linux.AT_FDCWD, oldAddr, linux.AT_FDCWD, newAddr, 0 /* flags */)
}

// Renameat implements Linux syscall renameat(2).
func Renameat(p *kernel.Process, args arch.SyscallArguments) (uintptr, *kernel.SyscallControl, error) {
	oldDirFD := args[0].Int()
	oldAddr := args[1].Pointer()
	newDirFD := args[2].Int()
	newAddr := args[3].Pointer()
	return 0, nil, renameat(p, oldDirFD, oldAddr, newDirFD, newAddr, 0 /* flags */)
}

// Renameat2 implements Linux syscall renameat2(2).
func Renameat2(p *kernel.Process, args arch.SyscallArguments) (uintptr, *kernel.SyscallControl, error) {
	oldDirFD := args[0].Int()
	oldAddr := args[1].Pointer()
	newDirFD := args[2].Int()
	newAddr := args[3].Pointer()
	flags := args[4].Uint()
	return 0, nil, renameat(p, oldDirFD, oldAddr, newDirFD, newAddr, flags)
}

func renameat(p *kernel.Process, oldDirFD int32, oldAddr hostarch.Addr, newDirFD int32, newAddr hostarch.Addr, flags uint32) error {
	// RENAME_NOREPLACE, RENAME_EXCHANGE and RENAME_WHITEOUT are not
	// supported.
	if flags != 0 {
		return linuxerr.EINVAL
	}
	oldPath, err := copyInPathAt(p, oldDirFD, oldAddr, false /* emptyOK */)
	if err != nil {
		return err
	}
	newPath, err := copyInPathAt(p, newDirFD, newAddr, false /* emptyOK */)
	if err != nil {
		return err
	}
	return p.Kernel().VFS().RenameAt(oldPath, newPath)
}

// Readlink implements Linux syscall readlink(2).
func Readlink(p *kernel.Process, args arch.SyscallArguments) (uintptr, *kernel.SyscallControl, error) {
	addr := args[0].Pointer()
	bufAddr := args[1].Pointer()
	size := args[2].SizeT()
	return readlinkat(p, linux.AT_FDCWD, addr, bufAddr, size)
}

// Readlinkat implements Linux syscall readlinkat(2).
func Readlinkat(p *kernel.Process, args arch.SyscallArguments) (uintptr, *kernel.SyscallControl, error) {
	dirfd := args[0].Int()
	addr := args[1].Pointer()
	bufAddr := args[2].Pointer()
	size := args[3].SizeT()
	return readlinkat(p, dirfd, addr, bufAddr, size)
}

func readlinkat(p *kernel.Process, dirfd int32, addr, bufAddr hostarch.Addr, size uint) (uintptr, *kernel.SyscallControl, error) {
	// Linux uses int as the return value.
	if int(size) <= 0 {
		return 0, nil, linuxerr.EINVAL
	}
	path, err := copyInPathAt(p, dirfd, addr, false /* emptyOK */)
	if err != nil {
		return 0, nil, err
	}
	target, err := p.Kernel().VFS().ReadlinkAt(path)
	if err != nil {
		return 0, nil, err
	}
	if len(target) > int(size) {
		target = target[:size]
	}
	n, err := p.MemoryManager().CopyOutBytes(bufAddr, []byte(target))
	if n == 0 {
		return 0, nil, err
	}
	return uintptr(n), nil, nil
}

// Getcwd implements Linux syscall getcwd(2).
func Getcwd(p *kernel.Process, args arch.SyscallArguments) (uintptr, *kernel.SyscallControl, error) {
	addr := args[0].Pointer()
	size := args[1].SizeT()

	s := p.FSContext().WorkingDirectory()
	// Note this is >= because we need a terminator.
	if uint(len(s)) >= size {
		return 0, nil, linuxerr.ERANGE
	}

	// Construct a byte slice containing a NUL terminator.
	buf := make([]byte, len(s)+1)
	copy(buf, s)

	// Write the pathname slice.
	n, err := p.MemoryManager().CopyOutBytes(addr, buf)
	if err != nil {
		return 0, nil, err
	}
	return uintptr(n), nil, nil
}

// Chdir implements Linux syscall chdir(2).
func Chdir(p *kernel.Process, args arch.SyscallArguments) (uintptr, *kernel.SyscallControl, error) {
	addr := args[0].Pointer()
	path, err := copyInPathAt(p, linux.AT_FDCWD, addr, false /* emptyOK */)
	if err != nil {
		return 0, nil, err
	}
	return 0, nil, chdir(p, path)
}

// Fchdir implements Linux syscall fchdir(2).
func Fchdir(p *kernel.Process, args arch.SyscallArguments) (uintptr, *kernel.SyscallControl, error) {
	fd := args[0].Int()

	file, _, err := getFile(p, fd)
	if err != nil {
		return 0, nil, err
	}
	defer file.DecRef()
	return 0, nil, chdir(p, file.Path())
}

func chdir(p *kernel.Process, path string) error {
	stat, err := p.Kernel().VFS().StatAt(path, true /* follow */)
	if err != nil {
		return err
	}
	if stat.Mode&linux.S_IFMT != linux.S_IFDIR {
		return linuxerr.ENOTDIR
	}
	if err := p.Kernel().VFS().AccessAt(path, linux.X_OK); err != nil {
		return err
	}
	p.FSContext().SetWorkingDirectory(path)
	return nil
}

// Umask implements Linux syscall umask(2).
func Umask(p *kernel.Process, args arch.SyscallArguments) (uintptr, *kernel.SyscallControl, error) {
	mask := args[0].ModeT()
	mask = p.FSContext().SwapUmask(mask & 0o777)
	return uintptr(mask), nil, nil
}

// Ftruncate implements Linux syscall ftruncate(2).
func Ftruncate(p *kernel.Process, args arch.SyscallArguments) (uintptr, *kernel.SyscallControl, error) {
	fd := args[0].Int()
	length := args[1].Int64()

	if length < 0 {
		return 0, nil, linuxerr.EINVAL
	}

	file, _, err := getFile(p, fd)
	if err != nil {
		return 0, nil, err
	}
	defer file.DecRef()

	if !file.IsWritable() {
		return 0, nil, linuxerr.EINVAL
	}
	return 0, nil, file.Truncate(length)
}

// Truncate implements Linux syscall truncate(2).
func Truncate(p *kernel.Process, args arch.SyscallArguments) (uintptr, *kernel.SyscallControl, error) {
	addr := args[0].Pointer()
	length := args[1].Int64()

	if length < 0 {
		return 0, nil, linuxerr.EINVAL
	}
	path, err := copyInPathAt(p, linux.AT_FDCWD, addr, false /* emptyOK */)
	if err != nil {
		return 0, nil, err
	}
	file, err := p.Kernel().VFS().OpenAt(path, linux.O_WRONLY, 0)
	if err != nil {
		return 0, nil, err
	}
	defer file.DecRef()
	return 0, nil, file.Truncate(length)
}

// Fsync implements Linux syscall fsync(2).
func Fsync(p *kernel.Process, args arch.SyscallArguments) (uintptr, *kernel.SyscallControl, error) {
	fd := args[0].Int()

	file, _, err := getFile(p, fd)
	if err != nil {
		return 0, nil, err
	}
	defer file.DecRef()
	return 0, nil, file.Sync()
}

// Fdatasync implements Linux syscall fdatasync(2).
//
// At the moment, it just calls Fsync, which is a big hammer, but correct.
func Fdatasync(p *kernel.Process, args arch.SyscallArguments) (uintptr, *kernel.SyscallControl, error) {
	return Fsync(p, args)
}

// Ioctl implements Linux syscall ioctl(2).
func Ioctl(p *kernel.Process, args arch.SyscallArguments) (uintptr, *kernel.SyscallControl, error) {
	fd := args[0].Int()
	cmd := args[1].Uint64()

	file, _, err := getFile(p, fd)
	if err != nil {
		return 0, nil, err
	}
	defer file.DecRef()

	// Handle ioctls that apply to all FDs.
	switch cmd {
	case linux.FIONCLEX:
		p.FDTable().SetFlags(fd, kernel.FDFlags{CloseOnExec: false})
		return 0, nil, nil
	case linux.FIOCLEX:
		p.FDTable().SetFlags(fd, kernel.FDFlags{CloseOnExec: true})
		return 0, nil, nil
	case linux.FIONBIO:
		var set int32
		if _, err := primitive.CopyInt32In(p.MemoryManager(), args[2].Pointer(), &set); err != nil {
			return 0, nil, err
		}
		status := file.StatusFlags()
		if set != 0 {
			status |= linux.O_NONBLOCK
		} else {
			status &^= linux.O_NONBLOCK
		}
		file.SetStatusFlags(status)
		return 0, nil, nil
	}

	ret, err := file.Ioctl(cmd, uintptr(args[2].Pointer()))
	return ret, nil, err
}
