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

package host

import (
	"golang.org/x/sys/unix"
	"gvisor.dev/lacd/pkg/abi/linux"
	"gvisor.dev/lacd/pkg/errors/linuxerr"
)

// openFlags maps guest open(2) flags to host flags. Flags absent from the
// table are either handled by vfs (O_APPEND, O_NONBLOCK, O_ASYNC) or have no
// effect on a host file opened on the guest's behalf.
var openFlags = []struct {
	guest uint32
	host  int
}{
	{linux.O_CREAT, unix.O_CREAT},
	{linux.O_EXCL, unix.O_EXCL},
	{linux.O_NOCTTY, unix.O_NOCTTY},
	{linux.O_TRUNC, unix.O_TRUNC},
	{linux.O_DSYNC, unix.O_DSYNC},
	{linux.O_SYNC, unix.O_SYNC},
	{linux.O_DIRECTORY, unix.O_DIRECTORY},
	{linux.O_NOFOLLOW, unix.O_NOFOLLOW},
}

// hostOpenFlags translates guest open flags. O_APPEND is deliberately not
// passed through, since pwrite(2) on a host O_APPEND file ignores the offset.
func hostOpenFlags(flags uint32) (int, error) {
	if flags&(linux.O_PATH|linux.O_TMPFILE) != 0 {
		return 0, linuxerr.EOPNOTSUPP
	}
	var host int
	switch flags & linux.O_ACCMODE {
	case linux.O_RDONLY:
		host = unix.O_RDONLY
	case linux.O_WRONLY:
		host = unix.O_WRONLY
	case linux.O_RDWR:
		host = unix.O_RDWR
	default:
		return 0, linuxerr.EINVAL
	}
	for _, f := range openFlags {
		if flags&f.guest != 0 {
			host |= f.host
		}
	}
	return host | unix.O_CLOEXEC, nil
}

func unixToLinuxStat(s *unix.Stat_t) linux.Stat {
	return linux.Stat{
		Dev:     uint64(s.Dev),
		Ino:     s.Ino,
		Nlink:   uint64(s.Nlink),
		Mode:    s.Mode,
		UID:     s.Uid,
		GID:     s.Gid,
		Rdev:    uint64(s.Rdev),
		Size:    s.Size,
		Blksize: int64(s.Blksize),
		Blocks:  s.Blocks,
		ATime:   linux.Timespec{Sec: int64(s.Atim.Sec), Nsec: int64(s.Atim.Nsec)},
		MTime:   linux.Timespec{Sec: int64(s.Mtim.Sec), Nsec: int64(s.Mtim.Nsec)},
		CTime:   linux.Timespec{Sec: int64(s.Ctim.Sec), Nsec: int64(s.Ctim.Nsec)},
	}
}

// wouldBlock returns true for file types that can return EWOULDBLOCK
// for blocking operations, e.g. pipes, character devices, and sockets.
func wouldBlock(fileType uint32) bool {
	return fileType == unix.S_IFIFO || fileType == unix.S_IFCHR || fileType == unix.S_IFSOCK
}

// isBlockError checks if an error is EAGAIN or EWOULDBLOCK.
// If so, they can be transformed into linuxerr.ErrWouldBlock.
func isBlockError(err error) bool {
	return err == unix.EAGAIN || err == unix.EWOULDBLOCK
}
