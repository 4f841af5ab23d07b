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
	"sync"

	"gvisor.dev/lacd/pkg/abi/linux"
	"gvisor.dev/lacd/pkg/errors/linuxerr"
	"gvisor.dev/lacd/pkg/sentry/pathmap"
)

// A PathOperation names the target of a path-based operation after it has
// been routed to a filesystem.
type PathOperation struct {
	// Guest is the cleaned absolute guest path.
	Guest string

	// Path is the absolute path within the filesystem's namespace.
	Path string

	// Rule is the mapping rule that routed Guest.
	Rule pathmap.Rule
}

// Filesystem is implemented by each host namespace that guest paths can be
// routed to. All paths passed to Filesystem methods are absolute within the
// namespace; read-only enforcement has already been applied by
// VirtualFilesystem.
type Filesystem interface {
	// OpenAt returns a new FileDescription for pop. The FileDescription's
	// path must be pop.Guest.
	OpenAt(pop *PathOperation, flags uint32, mode uint32) (*FileDescription, error)

	// StatAt returns metadata for the file at pop. If follow is false and
	// the final component is a symbolic link, the link itself is described.
	StatAt(pop *PathOperation, follow bool) (linux.Stat, error)

	// AccessAt checks whether the caller may access pop with the given
	// linux.*_OK bits.
	AccessAt(pop *PathOperation, mode uint32) error

	// MkdirAt creates a directory at pop.
	MkdirAt(pop *PathOperation, mode uint32) error

	// RmdirAt removes the directory at pop.
	RmdirAt(pop *PathOperation) error

	// UnlinkAt removes the non-directory file at pop.
	UnlinkAt(pop *PathOperation) error

	// RenameAt renames oldpop to newpop. Both are in this filesystem.
	RenameAt(oldpop, newpop *PathOperation) error

	// ReadlinkAt returns the target of the symbolic link at pop.
	ReadlinkAt(pop *PathOperation) (string, error)
}

// VirtualFilesystem routes guest paths to the Filesystem registered for the
// namespace selected by the path mapper.
type VirtualFilesystem struct {
	mapper *pathmap.Mapper

	mu          sync.RWMutex
	filesystems map[string]Filesystem
}

// New returns a VirtualFilesystem routing with mapper.
func New(mapper *pathmap.Mapper) *VirtualFilesystem {
	return &VirtualFilesystem{
		mapper:      mapper,
		filesystems: make(map[string]Filesystem),
	}
}

// Mapper returns the path mapper.
func (vfs *VirtualFilesystem) Mapper() *pathmap.Mapper {
	return vfs.mapper
}

// RegisterFilesystem makes fs serve namespace. It replaces any existing
// registration.
func (vfs *VirtualFilesystem) RegisterFilesystem(namespace string, fs Filesystem) {
	vfs.mu.Lock()
	defer vfs.mu.Unlock()
	vfs.filesystems[namespace] = fs
}

// Resolve routes guest to its filesystem. A namespace with no registered
// filesystem yields ENOENT.
func (vfs *VirtualFilesystem) Resolve(guest string) (*PathOperation, Filesystem, error) {
	res := vfs.mapper.Resolve(guest)
	vfs.mu.RLock()
	fs, ok := vfs.filesystems[res.Namespace]
	vfs.mu.RUnlock()
	if !ok {
		return nil, nil, linuxerr.ENOENT
	}
	return &PathOperation{
		Guest: pathmap.Clean(guest),
		Path:  res.Path,
		Rule:  res.Rule,
	}, fs, nil
}

func (vfs *VirtualFilesystem) resolveWritable(guest string) (*PathOperation, Filesystem, error) {
	pop, fs, err := vfs.Resolve(guest)
	if err != nil {
		return nil, nil, err
	}
	if pop.Rule.ReadOnly {
		return nil, nil, linuxerr.EROFS
	}
	return pop, fs, nil
}

// OpenAt opens the file at guest.
func (vfs *VirtualFilesystem) OpenAt(guest string, flags uint32, mode uint32) (*FileDescription, error) {
	pop, fs, err := vfs.Resolve(guest)
	if err != nil {
		return nil, err
	}
	if pop.Rule.ReadOnly && (MayWriteFileWithOpenFlags(flags) || flags&(linux.O_CREAT|linux.O_TRUNC) != 0) {
		return nil, linuxerr.EROFS
	}
	return fs.OpenAt(pop, flags, mode)
}

// StatAt returns metadata for the file at guest.
func (vfs *VirtualFilesystem) StatAt(guest string, follow bool) (linux.Stat, error) {
	pop, fs, err := vfs.Resolve(guest)
	if err != nil {
		return linux.Stat{}, err
	}
	return fs.StatAt(pop, follow)
}

// AccessAt checks access to the file at guest.
func (vfs *VirtualFilesystem) AccessAt(guest string, mode uint32) error {
	pop, fs, err := vfs.Resolve(guest)
	if err != nil {
		return err
	}
	if mode&linux.W_OK != 0 && pop.Rule.ReadOnly {
		return linuxerr.EROFS
	}
	return fs.AccessAt(pop, mode)
}

// MkdirAt creates a directory at guest.
func (vfs *VirtualFilesystem) MkdirAt(guest string, mode uint32) error {
	pop, fs, err := vfs.resolveWritable(guest)
	if err != nil {
		return err
	}
	return fs.MkdirAt(pop, mode)
}

// RmdirAt removes the directory at guest.
func (vfs *VirtualFilesystem) RmdirAt(guest string) error {
	pop, fs, err := vfs.resolveWritable(guest)
	if err != nil {
		return err
	}
	if pop.Guest == "/" {
		return linuxerr.EBUSY
	}
	return fs.RmdirAt(pop)
}

// UnlinkAt removes the file at guest.
func (vfs *VirtualFilesystem) UnlinkAt(guest string) error {
	pop, fs, err := vfs.resolveWritable(guest)
	if err != nil {
		return err
	}
	return fs.UnlinkAt(pop)
}

// RenameAt renames oldGuest to newGuest. Renames across namespaces or
// filesystems fail with EXDEV, as renames across mounts do on Linux.
func (vfs *VirtualFilesystem) RenameAt(oldGuest, newGuest string) error {
	oldpop, oldfs, err := vfs.resolveWritable(oldGuest)
	if err != nil {
		return err
	}
	newpop, newfs, err := vfs.resolveWritable(newGuest)
	if err != nil {
		return err
	}
	if oldfs != newfs || oldpop.Rule.Namespace() != newpop.Rule.Namespace() {
		return linuxerr.EXDEV
	}
	return oldfs.RenameAt(oldpop, newpop)
}

// ReadlinkAt returns the target of the symbolic link at guest.
func (vfs *VirtualFilesystem) ReadlinkAt(guest string) (string, error) {
	pop, fs, err := vfs.Resolve(guest)
	if err != nil {
		return "", err
	}
	return fs.ReadlinkAt(pop)
}
