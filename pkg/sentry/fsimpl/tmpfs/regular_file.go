// Copyright 2019 The gVisor Authors.
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

package tmpfs

import (
	"io"
	"math"
	"sync"
	"time"

	"gvisor.dev/lacd/pkg/abi/linux"
	"gvisor.dev/lacd/pkg/errors/linuxerr"
	"gvisor.dev/lacd/pkg/sentry/vfs"
)

// maxFileSize bounds regular files; tmpfs data lives in the daemon's heap.
const maxFileSize = 1 << 30

func (fs *Filesystem) newRegularFile(mode uint32) *inode {
	return fs.newInode(linux.S_IFREG | mode)
}

// regularFileFD implements vfs.FileDescriptionImpl for regular files.
type regularFileFD struct {
	vfs.FileDescriptionDefaultImpl

	inode *inode

	// offMu serializes operations that may mutate off.
	offMu sync.Mutex
	off   int64
}

// Stat implements vfs.FileDescriptionImpl.Stat.
func (fd *regularFileFD) Stat() (linux.Stat, error) {
	return fd.inode.stat(), nil
}

// PRead implements vfs.FileDescriptionImpl.PRead.
func (fd *regularFileFD) PRead(dst []byte, offset int64) (int, error) {
	i := fd.inode
	i.mu.Lock()
	defer i.mu.Unlock()
	i.atime = time.Now()
	if offset >= int64(len(i.data)) {
		if len(dst) == 0 {
			return 0, nil
		}
		return 0, io.EOF
	}
	return copy(dst, i.data[offset:]), nil
}

// Read implements vfs.FileDescriptionImpl.Read.
func (fd *regularFileFD) Read(dst []byte) (int, error) {
	fd.offMu.Lock()
	defer fd.offMu.Unlock()
	n, err := fd.PRead(dst, fd.off)
	fd.off += int64(n)
	return n, err
}

// PWrite implements vfs.FileDescriptionImpl.PWrite.
func (fd *regularFileFD) PWrite(src []byte, offset int64) (int, error) {
	i := fd.inode
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.writeLocked(src, offset)
}

// writeLocked writes src at offset, growing the file as needed.
//
// Preconditions: i.mu must be locked.
func (i *inode) writeLocked(src []byte, offset int64) (int, error) {
	if len(src) == 0 {
		return 0, nil
	}
	if offset > math.MaxInt64-int64(len(src)) {
		return 0, linuxerr.EFBIG
	}
	end := offset + int64(len(src))
	if end > maxFileSize {
		return 0, linuxerr.EFBIG
	}
	if end > int64(len(i.data)) {
		if end > int64(cap(i.data)) {
			grown := make([]byte, end, end+end/4)
			copy(grown, i.data)
			i.data = grown
		} else {
			i.data = i.data[:end]
		}
	}
	n := copy(i.data[offset:], src)
	i.touchLocked()
	return n, nil
}

// Write implements vfs.FileDescriptionImpl.Write.
func (fd *regularFileFD) Write(src []byte, append bool) (int, error) {
	fd.offMu.Lock()
	defer fd.offMu.Unlock()
	i := fd.inode
	i.mu.Lock()
	defer i.mu.Unlock()
	if append {
		fd.off = int64(len(i.data))
	}
	n, err := i.writeLocked(src, fd.off)
	fd.off += int64(n)
	return n, err
}

// Seek implements vfs.FileDescriptionImpl.Seek.
func (fd *regularFileFD) Seek(offset int64, whence int32) (int64, error) {
	fd.offMu.Lock()
	defer fd.offMu.Unlock()
	switch whence {
	case linux.SEEK_SET:
		// Use offset as specified.
	case linux.SEEK_CUR:
		offset += fd.off
	case linux.SEEK_END:
		fd.inode.mu.Lock()
		offset += int64(len(fd.inode.data))
		fd.inode.mu.Unlock()
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
func (fd *regularFileFD) Truncate(size int64) error {
	if size > maxFileSize {
		return linuxerr.EFBIG
	}
	i := fd.inode
	i.mu.Lock()
	defer i.mu.Unlock()
	switch {
	case size < int64(len(i.data)):
		clear(i.data[size:])
		i.data = i.data[:size]
	case size > int64(len(i.data)):
		grown := make([]byte, size)
		copy(grown, i.data)
		i.data = grown
	default:
		return nil
	}
	i.touchLocked()
	return nil
}

// Sync implements vfs.FileDescriptionImpl.Sync.
func (fd *regularFileFD) Sync() error {
	return nil
}
