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
	"bytes"
	"encoding/binary"

	"golang.org/x/sys/unix"
	"gvisor.dev/lacd/pkg/abi/linux"
	"gvisor.dev/lacd/pkg/log"
	"gvisor.dev/lacd/pkg/sentry/vfs"
)

// direntHeaderSize is the size of struct linux_dirent64 up to d_name.
const direntHeaderSize = 19

// directoryFD implements vfs.FileDescriptionImpl for host directories. The
// entries are read once, when the directory is opened.
type directoryFD struct {
	*vfs.StaticDirectoryFD

	// hostFD is owned by directoryFD. Immutable.
	hostFD int
}

func newDirectoryFD(hostFD int) (*directoryFD, error) {
	entries, err := readDirents(hostFD)
	if err != nil {
		return nil, err
	}
	return &directoryFD{
		StaticDirectoryFD: vfs.NewStaticDirectoryFD(entries, 0),
		hostFD:            hostFD,
	}, nil
}

// readDirents returns every entry of the host directory open at hostFD.
func readDirents(hostFD int) ([]vfs.Dirent, error) {
	var entries []vfs.Dirent
	buf := make([]byte, 8192)
	for {
		n, err := unix.Getdents(hostFD, buf)
		if err != nil {
			return nil, translate(err)
		}
		if n <= 0 {
			return entries, nil
		}
		entries = parseDirents(buf[:n], entries)
	}
}

// parseDirents appends the linux_dirent64 records in buf to entries.
func parseDirents(buf []byte, entries []vfs.Dirent) []vfs.Dirent {
	for len(buf) >= direntHeaderSize {
		reclen := int(binary.NativeEndian.Uint16(buf[16:18]))
		if reclen < direntHeaderSize || reclen > len(buf) {
			break
		}
		name := buf[direntHeaderSize:reclen]
		if i := bytes.IndexByte(name, 0); i >= 0 {
			name = name[:i]
		}
		entries = append(entries, vfs.Dirent{
			Name: string(name),
			Type: buf[18],
			Ino:  binary.NativeEndian.Uint64(buf[0:8]),
		})
		buf = buf[reclen:]
	}
	return entries
}

// Release implements vfs.FileDescriptionImpl.Release.
func (fd *directoryFD) Release() {
	if err := unix.Close(fd.hostFD); err != nil {
		log.Warningf("Failed to close host fd %d: %v", fd.hostFD, err)
	}
}

// Stat implements vfs.FileDescriptionImpl.Stat.
func (fd *directoryFD) Stat() (linux.Stat, error) {
	var st unix.Stat_t
	if err := unix.Fstat(fd.hostFD, &st); err != nil {
		return linux.Stat{}, translate(err)
	}
	return unixToLinuxStat(&st), nil
}

// Sync implements vfs.FileDescriptionImpl.Sync.
func (fd *directoryFD) Sync() error {
	return translate(unix.Fsync(fd.hostFD))
}
