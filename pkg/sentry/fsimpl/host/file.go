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
	"sync"

	"golang.org/x/sys/unix"
	"gvisor.dev/lacd/pkg/abi/linux"
	"gvisor.dev/lacd/pkg/errors/linuxerr"
	"gvisor.dev/lacd/pkg/log"
	"gvisor.dev/lacd/pkg/sentry/vfs"
)

// fileFD implements vfs.FileDescriptionImpl for non-directory host files.
type fileFD struct {
	vfs.FileDescriptionDefaultImpl

	// hostFD is owned by fileFD and closed on Release. Immutable.
	hostFD int

	// isStream is true if the host file is a pipe or character device. Such
	// files are not seekable. Immutable.
	isStream bool

	// mu protects off.
	mu  sync.Mutex
	off int64
}

// Release implements vfs.FileDescriptionImpl.Release.
func (fd *fileFD) Release() {
	if err := unix.Close(fd.hostFD); err != nil {
		log.Warningf("Failed to close host fd %d: %v", fd.hostFD, err)
	}
}

// Stat implements vfs.FileDescriptionImpl.Stat.
func (fd *fileFD) Stat() (linux.Stat, error) {
	var st unix.Stat_t
	if err := unix.Fstat(fd.hostFD, &st); err != nil {
		return linux.Stat{}, translate(err)
	}
	return unixToLinuxStat(&st), nil
}

// PRead implements vfs.FileDescriptionImpl.PRead.
func (fd *fileFD) PRead(dst []byte, offset int64) (int, error) {
	n, err := unix.Pread(fd.hostFD, dst, offset)
	return fd.result(n, err)
}

// Read implements vfs.FileDescriptionImpl.Read.
func (fd *fileFD) Read(dst []byte) (int, error) {
	if fd.isStream {
		n, err := unix.Read(fd.hostFD, dst)
		return fd.result(n, err)
	}
	fd.mu.Lock()
	defer fd.mu.Unlock()
	n, err := fd.PRead(dst, fd.off)
	fd.off += int64(n)
	return n, err
}

// PWrite implements vfs.FileDescriptionImpl.PWrite.
func (fd *fileFD) PWrite(src []byte, offset int64) (int, error) {
	n, err := unix.Pwrite(fd.hostFD, src, offset)
	return fd.result(n, err)
}

// Write implements vfs.FileDescriptionImpl.Write.
func (fd *fileFD) Write(src []byte, append bool) (int, error) {
	if fd.isStream {
		n, err := unix.Write(fd.hostFD, src)
		return fd.result(n, err)
	}
	fd.mu.Lock()
	defer fd.mu.Unlock()
	if append {
		var st unix.Stat_t
		if err := unix.Fstat(fd.hostFD, &st); err != nil {
			return 0, translate(err)
		}
		fd.off = st.Size
	}
	n, err := fd.PWrite(src, fd.off)
	fd.off += int64(n)
	return n, err
}

// result normalizes the return values of a host I/O call.
func (fd *fileFD) result(n int, err error) (int, error) {
	if n < 0 {
		n = 0
	}
	if err == nil {
		return n, nil
	}
	if isBlockError(err) {
		return n, linuxerr.ErrWouldBlock
	}
	return n, translate(err)
}

// Seek implements vfs.FileDescriptionImpl.Seek.
func (fd *fileFD) Seek(offset int64, whence int32) (int64, error) {
	if fd.isStream {
		return 0, linuxerr.ESPIPE
	}
	fd.mu.Lock()
	defer fd.mu.Unlock()
	switch whence {
	case linux.SEEK_SET:
	case linux.SEEK_CUR:
		offset += fd.off
	case linux.SEEK_END:
		var st unix.Stat_t
		if err := unix.Fstat(fd.hostFD, &st); err != nil {
			return 0, translate(err)
		}
		offset += st.Size
	default:
		return 0, linuxerr.EINVAL
	}
	if offset < 0 {
		return 0, linuxerr.EINVAL
	}
	fd.off = offset
	return offset, nil
}

// Truncate implements vfs.FileDescriptionImpl.Truncate.
func (fd *fileFD) Truncate(size int64) error {
	return translate(unix.Ftruncate(fd.hostFD, size))
}

// Sync implements vfs.FileDescriptionImpl.Sync.
func (fd *fileFD) Sync() error {
	return translate(unix.Fsync(fd.hostFD))
}
