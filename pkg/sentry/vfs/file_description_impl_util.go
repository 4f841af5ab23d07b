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

package vfs

import (
	"bytes"
	"sync"

	"gvisor.dev/lacd/pkg/abi/linux"
	"gvisor.dev/lacd/pkg/errors/linuxerr"
	"gvisor.dev/lacd/pkg/waiter"
)

// The following design pattern is strongly recommended for filesystem
// implementations to adapt:
//   - Have a local fileDescription struct which embeds
//     FileDescriptionDefaultImpl and overrides the default methods which are
//     common to all fd implementations for that filesystem like Stat.
//   - Directory FDs would also embed DirectoryFileDescriptionDefaultImpl.

// FileDescriptionDefaultImpl may be embedded by implementations of
// FileDescriptionImpl to obtain implementations of many FileDescriptionImpl
// methods with default behavior analogous to Linux's.
type FileDescriptionDefaultImpl struct{}

// Release implements FileDescriptionImpl.Release.
func (FileDescriptionDefaultImpl) Release() {}

// Readiness implements waiter.Waitable.Readiness analogously to
// file_operations::poll == NULL in Linux.
func (FileDescriptionDefaultImpl) Readiness(mask waiter.EventMask) waiter.EventMask {
	// include/linux/poll.h:vfs_poll() => DEFAULT_POLLMASK
	return waiter.ReadableEvents | waiter.WritableEvents
}

// EventRegister implements waiter.Waitable.EventRegister analogously to
// file_operations::poll == NULL in Linux.
func (FileDescriptionDefaultImpl) EventRegister(e *waiter.Entry) error {
	return nil
}

// EventUnregister implements waiter.Waitable.EventUnregister analogously to
// file_operations::poll == NULL in Linux.
func (FileDescriptionDefaultImpl) EventUnregister(e *waiter.Entry) {
}

// PRead implements FileDescriptionImpl.PRead analogously to
// file_operations::read == file_operations::read_iter == NULL in Linux.
func (FileDescriptionDefaultImpl) PRead(dst []byte, offset int64) (int, error) {
	return 0, linuxerr.EINVAL
}

// Read implements FileDescriptionImpl.Read analogously to
// file_operations::read == file_operations::read_iter == NULL in Linux.
func (FileDescriptionDefaultImpl) Read(dst []byte) (int, error) {
	return 0, linuxerr.EINVAL
}

// PWrite implements FileDescriptionImpl.PWrite analogously to
// file_operations::write == file_operations::write_iter == NULL in Linux.
func (FileDescriptionDefaultImpl) PWrite(src []byte, offset int64) (int, error) {
	return 0, linuxerr.EINVAL
}

// Write implements FileDescriptionImpl.Write analogously to
// file_operations::write == file_operations::write_iter == NULL in Linux.
func (FileDescriptionDefaultImpl) Write(src []byte, append bool) (int, error) {
	return 0, linuxerr.EINVAL
}

// IterDirents implements FileDescriptionImpl.IterDirents analogously to
// file_operations::iterate == file_operations::iterate_shared == NULL in
// Linux.
func (FileDescriptionDefaultImpl) IterDirents(cb IterDirentsCallback) error {
	return linuxerr.ENOTDIR
}

// Seek implements FileDescriptionImpl.Seek analogously to
// file_operations::llseek == NULL in Linux.
func (FileDescriptionDefaultImpl) Seek(offset int64, whence int32) (int64, error) {
	return 0, linuxerr.ESPIPE
}

// Truncate implements FileDescriptionImpl.Truncate.
func (FileDescriptionDefaultImpl) Truncate(size int64) error {
	return linuxerr.EINVAL
}

// Sync implements FileDescriptionImpl.Sync analogously to
// file_operations::fsync == NULL in Linux.
func (FileDescriptionDefaultImpl) Sync() error {
	return linuxerr.EINVAL
}

// Ioctl implements FileDescriptionImpl.Ioctl analogously to
// file_operations::unlocked_ioctl == NULL in Linux.
func (FileDescriptionDefaultImpl) Ioctl(cmd uint64, arg uintptr) (uintptr, error) {
	return 0, linuxerr.ENOTTY
}

// DirectoryFileDescriptionDefaultImpl may be embedded by implementations of
// FileDescriptionImpl that always represent directories to obtain
// implementations of non-directory I/O methods that return EISDIR.
type DirectoryFileDescriptionDefaultImpl struct{}

// PRead implements FileDescriptionImpl.PRead.
func (DirectoryFileDescriptionDefaultImpl) PRead(dst []byte, offset int64) (int, error) {
	return 0, linuxerr.EISDIR
}

// Read implements FileDescriptionImpl.Read.
func (DirectoryFileDescriptionDefaultImpl) Read(dst []byte) (int, error) {
	return 0, linuxerr.EISDIR
}

// PWrite implements FileDescriptionImpl.PWrite.
func (DirectoryFileDescriptionDefaultImpl) PWrite(src []byte, offset int64) (int, error) {
	return 0, linuxerr.EISDIR
}

// Write implements FileDescriptionImpl.Write.
func (DirectoryFileDescriptionDefaultImpl) Write(src []byte, append bool) (int, error) {
	return 0, linuxerr.EISDIR
}

// DynamicBytesSource represents a data source for a
// DynamicBytesFileDescriptionImpl.
type DynamicBytesSource interface {
	// Generate writes the file's contents to buf.
	Generate(buf *bytes.Buffer) error
}

// StaticData implements DynamicBytesSource over static data.
type StaticData struct {
	Data string
}

// Generate implements DynamicBytesSource.
func (s *StaticData) Generate(buf *bytes.Buffer) error {
	buf.WriteString(s.Data)
	return nil
}

// DynamicBytesFileDescriptionImpl may be embedded by implementations of
// FileDescriptionImpl that represent read-only regular files whose contents
// are backed by a bytes.Buffer that is regenerated when necessary, consistent
// with Linux's fs/seq_file.c:single_open().
//
// If data additionally implements WritableDynamicBytesSource, writes are
// dispatched to the implementer. The source data is not automatically
// modified.
//
// DynamicBytesFileDescriptionImpl.Init() must be called before first
// use.
type DynamicBytesFileDescriptionImpl struct {
	FileDescriptionDefaultImpl

	data     DynamicBytesSource // immutable
	mu       sync.Mutex         // protects the following fields
	buf      bytes.Buffer
	off      int64
	lastRead int64 // offset at which the last Read, PRead, or Seek ended
}

// Init must be called before first use.
func (fd *DynamicBytesFileDescriptionImpl) Init(data DynamicBytesSource) {
	fd.data = data
}

// Preconditions: fd.mu must be locked.
func (fd *DynamicBytesFileDescriptionImpl) preadLocked(dst []byte, offset int64) (int, error) {
	// Regenerate the buffer if it's empty, or before pread() at a new offset.
	// Compare fs/seq_file.c:seq_read() => traverse().
	switch {
	case offset != fd.lastRead:
		fd.buf.Reset()
		fallthrough
	case fd.buf.Len() == 0:
		if err := fd.data.Generate(&fd.buf); err != nil {
			fd.buf.Reset()
			// fd.off is not updated in this case.
			fd.lastRead = 0
			return 0, err
		}
	}
	bs := fd.buf.Bytes()
	if offset >= int64(len(bs)) {
		return 0, nil
	}
	n := copy(dst, bs[offset:])
	fd.lastRead = offset + int64(n)
	return n, nil
}

// PRead implements FileDescriptionImpl.PRead.
func (fd *DynamicBytesFileDescriptionImpl) PRead(dst []byte, offset int64) (int, error) {
	fd.mu.Lock()
	n, err := fd.preadLocked(dst, offset)
	fd.mu.Unlock()
	return n, err
}

// Read implements FileDescriptionImpl.Read.
func (fd *DynamicBytesFileDescriptionImpl) Read(dst []byte) (int, error) {
	fd.mu.Lock()
	n, err := fd.preadLocked(dst, fd.off)
	fd.off += int64(n)
	fd.mu.Unlock()
	return n, err
}

// Seek implements FileDescriptionImpl.Seek.
func (fd *DynamicBytesFileDescriptionImpl) Seek(offset int64, whence int32) (int64, error) {
	fd.mu.Lock()
	defer fd.mu.Unlock()

	switch whence {
	case linux.SEEK_SET:
		// Use offset as given.
	case linux.SEEK_CUR:
		offset += fd.off
	default:
		// fs/seq_file:seq_lseek() rejects SEEK_END etc.
		return 0, linuxerr.EINVAL
	}
	if offset < 0 {
		return 0, linuxerr.EINVAL
	}
	if offset != fd.lastRead {
		// Regenerate the file's contents immediately. Compare
		// fs/seq_file.c:seq_lseek() => traverse().
		fd.buf.Reset()
		if err := fd.data.Generate(&fd.buf); err != nil {
			fd.buf.Reset()
			fd.off = 0
			fd.lastRead = 0
			return 0, err
		}
		fd.lastRead = offset
	}
	fd.off = offset
	return offset, nil
}

// Stat implements FileDescriptionImpl.Stat.
func (fd *DynamicBytesFileDescriptionImpl) Stat() (linux.Stat, error) {
	return linux.Stat{Mode: linux.S_IFREG | 0444, Nlink: 1, Blksize: 4096}, nil
}

// StaticDirectoryFD is a directory FileDescriptionImpl over a fixed list of
// entries captured at open time.
type StaticDirectoryFD struct {
	FileDescriptionDefaultImpl
	DirectoryFileDescriptionDefaultImpl

	mu      sync.Mutex
	entries []Dirent
	off     int64
	mode    uint32
}

// NewStaticDirectoryFD returns a directory listing entries. NextOff fields
// are filled in.
func NewStaticDirectoryFD(entries []Dirent, mode uint32) *StaticDirectoryFD {
	for i := range entries {
		entries[i].NextOff = int64(i + 1)
	}
	return &StaticDirectoryFD{entries: entries, mode: mode}
}

// PRead implements FileDescriptionImpl.PRead.
func (d *StaticDirectoryFD) PRead(dst []byte, offset int64) (int, error) {
	return 0, linuxerr.EISDIR
}

// Read implements FileDescriptionImpl.Read.
func (d *StaticDirectoryFD) Read(dst []byte) (int, error) {
	return 0, linuxerr.EISDIR
}

// PWrite implements FileDescriptionImpl.PWrite.
func (d *StaticDirectoryFD) PWrite(src []byte, offset int64) (int, error) {
	return 0, linuxerr.EISDIR
}

// Write implements FileDescriptionImpl.Write.
func (d *StaticDirectoryFD) Write(src []byte, append bool) (int, error) {
	return 0, linuxerr.EISDIR
}

// IterDirents implements FileDescriptionImpl.IterDirents.
func (d *StaticDirectoryFD) IterDirents(cb IterDirentsCallback) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	for d.off < int64(len(d.entries)) {
		if err := cb.Handle(d.entries[d.off]); err != nil {
			return err
		}
		d.off++
	}
	return nil
}

// Seek implements FileDescriptionImpl.Seek.
func (d *StaticDirectoryFD) Seek(offset int64, whence int32) (int64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	switch whence {
	case linux.SEEK_SET:
	case linux.SEEK_CUR:
		offset += d.off
	default:
		return 0, linuxerr.EINVAL
	}
	if offset < 0 {
		return 0, linuxerr.EINVAL
	}
	d.off = offset
	return offset, nil
}

// Stat implements FileDescriptionImpl.Stat.
func (d *StaticDirectoryFD) Stat() (linux.Stat, error) {
	return linux.Stat{Mode: linux.S_IFDIR | d.mode, Nlink: 2, Blksize: 4096}, nil
}
