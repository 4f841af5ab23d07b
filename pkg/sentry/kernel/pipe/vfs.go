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

package pipe

import (
	"fmt"

	"gvisor.dev/lacd/pkg/abi/linux"
	"gvisor.dev/lacd/pkg/errors/linuxerr"
	"gvisor.dev/lacd/pkg/sentry/vfs"
	"gvisor.dev/lacd/pkg/waiter"
)

// This file contains types enabling the pipe package to be used with the vfs
// package.

// NewConnectedPipe initializes a pipe and returns read-only and write-only
// FDs for it. statusFlags may contain O_NONBLOCK; it must not contain an
// open access mode. Pipes for pipe(2) and pipe2(2) are created this way.
func NewConnectedPipe(sizeBytes int64, statusFlags uint32) (*vfs.FileDescription, *vfs.FileDescription) {
	p := NewPipe(sizeBytes)
	r := p.newFD(linux.O_RDONLY | statusFlags)
	w := p.newFD(linux.O_WRONLY | statusFlags)
	return r, w
}

func (p *Pipe) newFD(statusFlags uint32) *vfs.FileDescription {
	fd := &VFSPipeFD{pipe: p}
	fd.vfsfd.Init(fd, statusFlags, fmt.Sprintf("pipe:[%d]", p.ino), &vfs.FileDescriptionOptions{
		DenyPRead:  true,
		DenyPWrite: true,
	})

	switch {
	case fd.vfsfd.IsReadable() && fd.vfsfd.IsWritable():
		p.rOpen()
		p.wOpen()
	case fd.vfsfd.IsReadable():
		p.rOpen()
	case fd.vfsfd.IsWritable():
		p.wOpen()
	default:
		panic("invalid pipe flags: must be readable, writable, or both")
	}
	return &fd.vfsfd
}

// VFSPipeFD implements vfs.FileDescriptionImpl for pipes.
type VFSPipeFD struct {
	vfsfd vfs.FileDescription
	vfs.FileDescriptionDefaultImpl

	pipe *Pipe
}

// Release implements vfs.FileDescriptionImpl.Release.
func (fd *VFSPipeFD) Release() {
	var event waiter.EventMask
	if fd.vfsfd.IsReadable() {
		fd.pipe.rClose()
		event |= waiter.WritableEvents
	}
	if fd.vfsfd.IsWritable() {
		fd.pipe.wClose()
		event |= waiter.ReadableEvents | waiter.EventHUp
	}
	if event == 0 {
		panic("invalid pipe flags: must be readable, writable, or both")
	}
	fd.pipe.queue.Notify(event)
}

// Stat implements vfs.FileDescriptionImpl.Stat.
func (fd *VFSPipeFD) Stat() (linux.Stat, error) {
	return linux.Stat{
		Ino:     fd.pipe.ino,
		Mode:    linux.S_IFIFO | 0600,
		Nlink:   1,
		Size:    int64(fd.pipe.queued()),
		Blksize: atomicIOBytes,
	}, nil
}

// Readiness implements waiter.Waitable.Readiness.
func (fd *VFSPipeFD) Readiness(mask waiter.EventMask) waiter.EventMask {
	return mask & fd.pipe.rwReadiness(fd.vfsfd.IsReadable(), fd.vfsfd.IsWritable())
}

// EventRegister implements waiter.Waitable.EventRegister.
func (fd *VFSPipeFD) EventRegister(e *waiter.Entry) error {
	fd.pipe.queue.EventRegister(e)
	return nil
}

// EventUnregister implements waiter.Waitable.EventUnregister.
func (fd *VFSPipeFD) EventUnregister(e *waiter.Entry) {
	fd.pipe.queue.EventUnregister(e)
}

// Read implements vfs.FileDescriptionImpl.Read.
func (fd *VFSPipeFD) Read(dst []byte) (int, error) {
	return fd.pipe.read(dst)
}

// Write implements vfs.FileDescriptionImpl.Write.
func (fd *VFSPipeFD) Write(src []byte, _ bool) (int, error) {
	return fd.pipe.write(src)
}

// PipeSize implements fcntl(F_GETPIPE_SZ).
func (fd *VFSPipeFD) PipeSize() int64 {
	return fd.pipe.capacity()
}

// SetPipeSize implements fcntl(F_SETPIPE_SZ).
func (fd *VFSPipeFD) SetPipeSize(size int64) (int64, error) {
	return fd.pipe.setSize(size)
}

// Ioctl implements vfs.FileDescriptionImpl.Ioctl.
func (fd *VFSPipeFD) Ioctl(cmd uint64, arg uintptr) (uintptr, error) {
	return 0, linuxerr.ENOTTY
}
