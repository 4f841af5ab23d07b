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

// Package vfs implements the guest-visible file layer: open file
// descriptions, and the routing of guest paths to the filesystem
// implementations that back each host namespace.
//
// Lock order:
//
//	VirtualFilesystem.mu
//		FileDescriptionImpl locks
package vfs

import (
	"fmt"
	"sync/atomic"

	"gvisor.dev/lacd/pkg/abi/linux"
	"gvisor.dev/lacd/pkg/errors/linuxerr"
	"gvisor.dev/lacd/pkg/waiter"
)

// A FileDescription represents an open file description, which is the entity
// referred to by a file descriptor (POSIX.1-2017 3.258 "Open File
// Description").
//
// FileDescriptions are reference-counted. Unless otherwise specified, all
// FileDescription methods require that a reference is held.
//
// FileDescription is analogous to Linux's struct file.
type FileDescription struct {
	refs atomic.Int64

	// statusFlags contains status flags, "initialized by open(2) and possibly
	// modified by fcntl()" - fcntl(2).
	statusFlags atomic.Uint32

	// path is the guest path this FileDescription was opened at. Immutable.
	path string

	// opts contains options passed to FileDescription.Init(). opts is
	// immutable.
	opts FileDescriptionOptions

	// readable is analogous to Linux's FMODE_READ. Immutable.
	readable bool

	// writable is analogous to Linux's FMODE_WRITE. Immutable.
	writable bool

	// impl is the FileDescriptionImpl associated with this Filesystem. impl is
	// immutable. This should be the last field in FileDescription.
	impl FileDescriptionImpl
}

// FileDescriptionOptions contains options to FileDescription.Init().
type FileDescriptionOptions struct {
	// If DenyPRead is true, calls to FileDescription.PRead() return ESPIPE.
	DenyPRead bool

	// If DenyPWrite is true, calls to FileDescription.PWrite() return
	// ESPIPE.
	DenyPWrite bool
}

// FileCreationFlags are the set of flags passed to FileDescription.Init() but
// omitted from FileDescription.StatusFlags().
const FileCreationFlags = linux.O_CREAT | linux.O_EXCL | linux.O_NOCTTY | linux.O_TRUNC | linux.O_CLOEXEC

// settableStatusFlags is the set of flags fcntl(F_SETFL) may change.
const settableStatusFlags = linux.O_APPEND | linux.O_ASYNC | linux.O_DIRECT | linux.O_NOATIME | linux.O_NONBLOCK

// Init must be called before first use of fd. The caller receives the
// initial reference.
func (fd *FileDescription) Init(impl FileDescriptionImpl, flags uint32, path string, opts *FileDescriptionOptions) {
	fd.refs.Store(1)
	fd.statusFlags.Store(flags &^ FileCreationFlags)
	fd.path = path
	if opts != nil {
		fd.opts = *opts
	}
	fd.readable = MayReadFileWithOpenFlags(flags)
	fd.writable = MayWriteFileWithOpenFlags(flags)
	fd.impl = impl
}

// NewFileDescription returns an initialized FileDescription wrapping impl.
func NewFileDescription(impl FileDescriptionImpl, flags uint32, path string, opts *FileDescriptionOptions) *FileDescription {
	fd := &FileDescription{}
	fd.Init(impl, flags, path, opts)
	return fd
}

// MayReadFileWithOpenFlags returns true if a file with the given open flags
// should be readable.
func MayReadFileWithOpenFlags(flags uint32) bool {
	switch flags & linux.O_ACCMODE {
	case linux.O_RDONLY, linux.O_RDWR:
		return true
	default:
		return false
	}
}

// MayWriteFileWithOpenFlags returns true if a file with the given open flags
// should be writable.
func MayWriteFileWithOpenFlags(flags uint32) bool {
	switch flags & linux.O_ACCMODE {
	case linux.O_WRONLY, linux.O_RDWR:
		return true
	default:
		return false
	}
}

// IncRef increments fd's reference count.
func (fd *FileDescription) IncRef() {
	if fd.refs.Add(1) <= 1 {
		panic(fmt.Sprintf("IncRef on released FileDescription %q", fd.path))
	}
}

// DecRef decrements fd's reference count, releasing the implementation when
// it reaches zero.
func (fd *FileDescription) DecRef() {
	switch n := fd.refs.Add(-1); {
	case n == 0:
		fd.impl.Release()
	case n < 0:
		panic(fmt.Sprintf("DecRef on released FileDescription %q", fd.path))
	}
}

// ReadRefs returns the current reference count.
func (fd *FileDescription) ReadRefs() int64 {
	return fd.refs.Load()
}

// Impl returns the FileDescriptionImpl associated with fd.
func (fd *FileDescription) Impl() FileDescriptionImpl {
	return fd.impl
}

// Path returns the guest path fd was opened at.
func (fd *FileDescription) Path() string {
	return fd.path
}

// StatusFlags returns file description status flags, as for fcntl(F_GETFL).
func (fd *FileDescription) StatusFlags() uint32 {
	return fd.statusFlags.Load()
}

// SetStatusFlags sets file description status flags, as for fcntl(F_SETFL).
// Flags that fcntl cannot change are ignored.
func (fd *FileDescription) SetStatusFlags(flags uint32) {
	for {
		old := fd.statusFlags.Load()
		n := old&^settableStatusFlags | flags&settableStatusFlags
		if fd.statusFlags.CompareAndSwap(old, n) {
			return
		}
	}
}

// IsReadable returns true if fd was opened for reading.
func (fd *FileDescription) IsReadable() bool {
	return fd.readable
}

// IsWritable returns true if fd was opened for writing.
func (fd *FileDescription) IsWritable() bool {
	return fd.writable
}

// NonBlocking returns true if O_NONBLOCK is set.
func (fd *FileDescription) NonBlocking() bool {
	return fd.StatusFlags()&linux.O_NONBLOCK != 0
}

// Stat returns metadata for the file represented by fd.
func (fd *FileDescription) Stat() (linux.Stat, error) {
	return fd.impl.Stat()
}

// Readiness implements waiter.Waitable.Readiness.
func (fd *FileDescription) Readiness(mask waiter.EventMask) waiter.EventMask {
	return fd.impl.Readiness(mask)
}

// EventRegister implements waiter.Waitable.EventRegister.
func (fd *FileDescription) EventRegister(e *waiter.Entry) error {
	return fd.impl.EventRegister(e)
}

// EventUnregister implements waiter.Waitable.EventUnregister.
func (fd *FileDescription) EventUnregister(e *waiter.Entry) {
	fd.impl.EventUnregister(e)
}

// PRead reads from the file represented by fd into dst, starting at the given
// offset, and returns the number of bytes read. PRead is permitted to return
// partial reads with a nil error.
func (fd *FileDescription) PRead(dst []byte, offset int64) (int, error) {
	if fd.opts.DenyPRead {
		return 0, linuxerr.ESPIPE
	}
	if !fd.readable {
		return 0, linuxerr.EBADF
	}
	if offset < 0 {
		return 0, linuxerr.EINVAL
	}
	return fd.impl.PRead(dst, offset)
}

// Read is similar to PRead, but does not specify an offset.
func (fd *FileDescription) Read(dst []byte) (int, error) {
	if !fd.readable {
		return 0, linuxerr.EBADF
	}
	return fd.impl.Read(dst)
}

// PWrite writes src to the file represented by fd, starting at the given
// offset, and returns the number of bytes written. PWrite is permitted to
// return partial writes with a nil error.
func (fd *FileDescription) PWrite(src []byte, offset int64) (int, error) {
	if fd.opts.DenyPWrite {
		return 0, linuxerr.ESPIPE
	}
	if !fd.writable {
		return 0, linuxerr.EBADF
	}
	if offset < 0 {
		return 0, linuxerr.EINVAL
	}
	return fd.impl.PWrite(src, offset)
}

// Write is similar to PWrite, but does not specify an offset.
func (fd *FileDescription) Write(src []byte) (int, error) {
	if !fd.writable {
		return 0, linuxerr.EBADF
	}
	return fd.impl.Write(src, fd.StatusFlags()&linux.O_APPEND != 0)
}

// IterDirents invokes cb on each entry in the directory represented by fd,
// starting at the current offset.
func (fd *FileDescription) IterDirents(cb IterDirentsCallback) error {
	return fd.impl.IterDirents(cb)
}

// Seek changes fd's offset (assuming one exists) and returns its new value.
func (fd *FileDescription) Seek(offset int64, whence int32) (int64, error) {
	return fd.impl.Seek(offset, whence)
}

// Truncate changes the size of the file represented by fd.
func (fd *FileDescription) Truncate(size int64) error {
	if !fd.writable {
		return linuxerr.EINVAL
	}
	if size < 0 {
		return linuxerr.EINVAL
	}
	return fd.impl.Truncate(size)
}

// Sync has the semantics of fsync(2).
func (fd *FileDescription) Sync() error {
	return fd.impl.Sync()
}

// Ioctl implements the ioctl(2) syscall.
func (fd *FileDescription) Ioctl(cmd uint64, arg uintptr) (uintptr, error) {
	return fd.impl.Ioctl(cmd, arg)
}

// FileDescriptionImpl contains implementation details for an FileDescription.
// Implementations of FileDescriptionImpl should contain their associated
// FileDescription by value as their first field.
//
// For all functions that return linux.Stat, Stat.Ino and Stat.Dev are filled
// by the implementation.
type FileDescriptionImpl interface {
	// Release is called when the associated FileDescription reaches zero
	// references.
	Release()

	// Stat returns metadata for the file represented by the
	// FileDescription.
	Stat() (linux.Stat, error)

	// waiter.Waitable methods may be used to poll for I/O events.
	waiter.Waitable

	// PRead reads from the file into dst, starting at the given offset, and
	// returns the number of bytes read.
	PRead(dst []byte, offset int64) (int, error)

	// Read is similar to PRead, but does not specify an offset. It may
	// return linuxerr.ErrWouldBlock if no data is available yet.
	Read(dst []byte) (int, error)

	// PWrite writes src to the file, starting at the given offset, and
	// returns the number of bytes written.
	PWrite(src []byte, offset int64) (int, error)

	// Write is similar to PWrite, but does not specify an offset. If append
	// is true, data goes to the end of the file. It may return a partial
	// count together with linuxerr.ErrWouldBlock.
	Write(src []byte, append bool) (int, error)

	// IterDirents invokes cb on each entry in the directory represented by
	// the FileDescription, starting at the current offset.
	IterDirents(cb IterDirentsCallback) error

	// Seek changes the FileDescription offset (assuming one exists) and
	// returns its new value.
	Seek(offset int64, whence int32) (int64, error)

	// Truncate changes the file size.
	Truncate(size int64) error

	// Sync requests that cached state associated with the file represented
	// by the FileDescription is synchronized with persistent storage.
	Sync() error

	// Ioctl implements the ioctl(2) syscall.
	Ioctl(cmd uint64, arg uintptr) (uintptr, error)
}

// Dirent holds the information contained in struct linux_dirent64.
type Dirent struct {
	// Name is the filename.
	Name string

	// Type is the file type, a linux.DT_* constant.
	Type uint8

	// Ino is the inode number.
	Ino uint64

	// NextOff is the offset of the *next* Dirent in the directory; that is,
	// FileDescription.Seek(NextOff, SEEK_SET) (as called by seekdir(3)) will
	// cause the next call to FileDescription.IterDirents() to yield the next
	// Dirent. (The offset of the first Dirent in a directory is always 0.)
	NextOff int64
}

// IterDirentsCallback receives Dirents from FileDescriptionImpl.IterDirents.
type IterDirentsCallback interface {
	// Handle handles the given iterated Dirent. If Handle returns a non-nil
	// error, FileDescriptionImpl.IterDirents must stop iteration and return
	// the error; the next call to FileDescriptionImpl.IterDirents should
	// restart with the same Dirent.
	Handle(dirent Dirent) error
}

// IterDirentsCallbackFunc implements IterDirentsCallback for a function with
// the semantics of IterDirentsCallback.Handle.
type IterDirentsCallbackFunc func(dirent Dirent) error

// Handle implements IterDirentsCallback.Handle.
func (f IterDirentsCallbackFunc) Handle(dirent Dirent) error {
	return f(dirent)
}
