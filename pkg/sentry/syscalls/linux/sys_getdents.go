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
	"errors"

	"gvisor.dev/lacd/pkg/abi/linux"
	"gvisor.dev/lacd/pkg/errors/linuxerr"
	"gvisor.dev/lacd/pkg/sentry/arch"
	"gvisor.dev/lacd/pkg/sentry/kernel"
	"gvisor.dev/lacd/pkg/sentry/vfs"
)

// errDirentsFull stops directory iteration once the guest buffer is full.
var errDirentsFull = errors.New("dirent buffer full")

// smallestDirent64 is the size of the smallest possible linux_dirent64.
var smallestDirent64 = (&linux.Dirent64{}).RecLen()

// Getdents64 implements linux syscall getdents64(2).
func Getdents64(p *kernel.Process, args arch.SyscallArguments) (uintptr, *kernel.SyscallControl, error) {
	fd := args[0].Int()
	addr := args[1].Pointer()
	size := int(args[2].Uint())

	if size < smallestDirent64 {
		// size is smaller than smallest possible dirent.
		return 0, nil, linuxerr.EINVAL
	}
	if size > maxRWCount {
		size = maxRWCount
	}

	dir, _, err := getFile(p, fd)
	if err != nil {
		return 0, nil, err
	}
	defer dir.DecRef()

	buf := make([]byte, 0, size)
	rerr := dir.IterDirents(vfs.IterDirentsCallbackFunc(func(d vfs.Dirent) error {
		rec := linux.Dirent64{
			Ino:  d.Ino,
			Off:  d.NextOff,
			Type: d.Type,
			Name: d.Name,
		}
		if len(buf)+rec.RecLen() > size {
			return errDirentsFull
		}
		buf = append(buf, make([]byte, rec.RecLen())...)
		rec.MarshalBytes(buf[len(buf)-rec.RecLen():])
		return nil
	}))
	if rerr == errDirentsFull {
		if len(buf) == 0 {
			// The next entry does not fit at all.
			return 0, nil, linuxerr.EINVAL
		}
		rerr = nil
	}
	if len(buf) > 0 {
		if _, err := p.MemoryManager().CopyOutBytes(addr, buf); err != nil {
			return 0, nil, err
		}
	}
	return uintptr(len(buf)), nil, handleIOError(p, len(buf) > 0, rerr, linuxerr.ERESTARTSYS, "getdents64")
}
