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

// Package host provides a filesystem implementation backed by a directory on
// the host. Guest operations are forwarded to the host kernel with
// golang.org/x/sys/unix and host errors are translated with hosterr.
package host

import (
	"path/filepath"
	"strings"

	"golang.org/x/sys/unix"
	"gvisor.dev/lacd/pkg/abi/linux"
	"gvisor.dev/lacd/pkg/errors/linuxerr"
	"gvisor.dev/lacd/pkg/log"
	"gvisor.dev/lacd/pkg/sentry/hosterr"
	"gvisor.dev/lacd/pkg/sentry/vfs"
)

// Name is the default namespace name.
const Name = "file"

// Filesystem implements vfs.Filesystem over the host directory tree rooted
// at root.
type Filesystem struct {
	// root is the clean absolute host path that namespace path "/" maps to.
	// It is immutable.
	root string
}

var _ vfs.Filesystem = (*Filesystem)(nil)

// New returns a Filesystem rooted at the host directory root.
func New(root string) (*Filesystem, error) {
	if root == "" {
		root = "/"
	}
	root, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	var st unix.Stat_t
	if err := unix.Stat(root, &st); err != nil {
		return nil, err
	}
	if st.Mode&unix.S_IFMT != unix.S_IFDIR {
		return nil, unix.ENOTDIR
	}
	return &Filesystem{root: root}, nil
}

// Root returns the host directory backing the namespace.
func (fs *Filesystem) Root() string {
	return fs.root
}

// hostPath returns the host path for pop. pop.Path is clean and absolute, so
// the result never escapes fs.root lexically.
func (fs *Filesystem) hostPath(pop *vfs.PathOperation) string {
	return filepath.Join(fs.root, pop.Path)
}

// translate converts a host error to a guest error.
func translate(err error) error {
	if err == nil {
		return nil
	}
	return hosterr.FromHost(err)
}

// OpenAt implements vfs.Filesystem.OpenAt.
func (fs *Filesystem) OpenAt(pop *vfs.PathOperation, flags uint32, mode uint32) (*vfs.FileDescription, error) {
	hostFlags, err := hostOpenFlags(flags)
	if err != nil {
		return nil, err
	}
	name := fs.hostPath(pop)
	hostFD, err := unix.Open(name, hostFlags, mode&07777)
	if err != nil {
		return nil, translate(err)
	}

	var st unix.Stat_t
	if err := unix.Fstat(hostFD, &st); err != nil {
		unix.Close(hostFD)
		return nil, translate(err)
	}
	switch fileType := st.Mode & unix.S_IFMT; fileType {
	case unix.S_IFDIR:
		if vfs.MayWriteFileWithOpenFlags(flags) {
			unix.Close(hostFD)
			return nil, linuxerr.EISDIR
		}
		fd, err := newDirectoryFD(hostFD)
		if err != nil {
			unix.Close(hostFD)
			return nil, err
		}
		return vfs.NewFileDescription(fd, flags, pop.Guest, nil), nil
	case unix.S_IFSOCK:
		unix.Close(hostFD)
		return nil, linuxerr.ENXIO
	default:
		fd := &fileFD{hostFD: hostFD, isStream: wouldBlock(fileType)}
		opts := &vfs.FileDescriptionOptions{
			DenyPRead:  fd.isStream,
			DenyPWrite: fd.isStream,
		}
		log.Debugf("Opened host file %q as fd %d for %q", name, hostFD, pop.Guest)
		return vfs.NewFileDescription(fd, flags, pop.Guest, opts), nil
	}
}

// StatAt implements vfs.Filesystem.StatAt.
func (fs *Filesystem) StatAt(pop *vfs.PathOperation, follow bool) (linux.Stat, error) {
	var st unix.Stat_t
	var err error
	if follow {
		err = unix.Stat(fs.hostPath(pop), &st)
	} else {
		err = unix.Lstat(fs.hostPath(pop), &st)
	}
	if err != nil {
		return linux.Stat{}, translate(err)
	}
	return unixToLinuxStat(&st), nil
}

// AccessAt implements vfs.Filesystem.AccessAt. The check is made by the host
// against the daemon's credentials.
func (fs *Filesystem) AccessAt(pop *vfs.PathOperation, mode uint32) error {
	return translate(unix.Access(fs.hostPath(pop), mode&(linux.R_OK|linux.W_OK|linux.X_OK)))
}

// MkdirAt implements vfs.Filesystem.MkdirAt.
func (fs *Filesystem) MkdirAt(pop *vfs.PathOperation, mode uint32) error {
	if pop.Path == "/" {
		return linuxerr.EEXIST
	}
	return translate(unix.Mkdir(fs.hostPath(pop), mode&07777))
}

// RmdirAt implements vfs.Filesystem.RmdirAt.
func (fs *Filesystem) RmdirAt(pop *vfs.PathOperation) error {
	if pop.Path == "/" {
		return linuxerr.EBUSY
	}
	return translate(unix.Rmdir(fs.hostPath(pop)))
}

// UnlinkAt implements vfs.Filesystem.UnlinkAt.
func (fs *Filesystem) UnlinkAt(pop *vfs.PathOperation) error {
	return translate(unix.Unlink(fs.hostPath(pop)))
}

// RenameAt implements vfs.Filesystem.RenameAt.
func (fs *Filesystem) RenameAt(oldpop, newpop *vfs.PathOperation) error {
	if oldpop.Path == "/" || newpop.Path == "/" {
		return linuxerr.EBUSY
	}
	// Moving a directory below itself is rejected by the host, but check
	// here so that the guest sees the Linux errno on every host.
	if strings.HasPrefix(newpop.Path, oldpop.Path+"/") {
		return linuxerr.EINVAL
	}
	return translate(unix.Rename(fs.hostPath(oldpop), fs.hostPath(newpop)))
}

// ReadlinkAt implements vfs.Filesystem.ReadlinkAt.
func (fs *Filesystem) ReadlinkAt(pop *vfs.PathOperation) (string, error) {
	buf := make([]byte, linux.PATH_MAX)
	n, err := unix.Readlink(fs.hostPath(pop), buf)
	if err != nil {
		return "", translate(err)
	}
	return string(buf[:n]), nil
}
