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

// Package proc implements a synthesized procfs. Nothing is stored: every
// lookup, listing, and read is generated from the current kernel state.
package proc

import (
	"bytes"
	"hash/fnv"
	"strconv"
	"strings"

	"gvisor.dev/lacd/pkg/abi/linux"
	"gvisor.dev/lacd/pkg/errors/linuxerr"
	"gvisor.dev/lacd/pkg/sentry/kernel"
	"gvisor.dev/lacd/pkg/sentry/vfs"
)

// Name is the default namespace name.
const Name = "proc"

// procDev is the device number reported for all proc files.
const procDev = 0x16

// Filesystem implements vfs.Filesystem for the proc namespace of a kernel.
type Filesystem struct {
	k *kernel.Kernel
}

var _ vfs.Filesystem = (*Filesystem)(nil)

// New returns a procfs describing k.
func New(k *kernel.Kernel) *Filesystem {
	return &Filesystem{k: k}
}

type nodeKind int

const (
	kindDirectory nodeKind = iota
	kindFile
	kindSymlink
)

// generator implements vfs.DynamicBytesSource for a function.
type generator func(buf *bytes.Buffer) error

// Generate implements vfs.DynamicBytesSource.Generate.
func (g generator) Generate(buf *bytes.Buffer) error {
	return g(buf)
}

// node is the result of looking up a proc path. Exactly one of list,
// contents, and target is set, according to kind.
type node struct {
	kind nodeKind
	path string

	// p is the process that the node describes, or nil for top-level nodes.
	p *kernel.Process

	list     func() []vfs.Dirent
	contents generator
	target   func() (string, error)
}

func (n *node) ino() uint64 {
	h := fnv.New64a()
	h.Write([]byte(n.path))
	return h.Sum64()
}

func (n *node) stat(k *kernel.Kernel) linux.Stat {
	s := linux.Stat{
		Dev:     procDev,
		Ino:     n.ino(),
		Nlink:   1,
		Blksize: 4096,
	}
	switch n.kind {
	case kindDirectory:
		s.Mode = linux.S_IFDIR | 0555
		s.Nlink = 2
	case kindFile:
		s.Mode = linux.S_IFREG | 0444
	case kindSymlink:
		s.Mode = linux.S_IFLNK | 0777
	}
	start := k.BootTime()
	if n.p != nil {
		c := n.p.Credentials()
		s.UID = uint32(c.EffectiveKUID)
		s.GID = uint32(c.EffectiveKGID)
		start = n.p.StartTime()
	}
	ts := linux.Timespec{Sec: start.Unix(), Nsec: int64(start.Nanosecond())}
	s.ATime, s.MTime, s.CTime = ts, ts, ts
	return s
}

// lookup resolves p, an absolute path within the namespace.
func (fs *Filesystem) lookup(p string) (*node, error) {
	comps := strings.FieldsFunc(p, func(r rune) bool { return r == '/' })
	if len(comps) == 0 {
		return &node{kind: kindDirectory, path: "/", list: fs.rootEntries}, nil
	}
	if pid, err := strconv.ParseInt(comps[0], 10, 32); err == nil {
		proc := fs.k.ProcessWithID(kernel.ThreadID(pid))
		if proc == nil || strconv.FormatInt(pid, 10) != comps[0] {
			return nil, linuxerr.ENOENT
		}
		return fs.lookupTask(proc, comps[1:])
	}
	if len(comps) != 1 {
		return nil, linuxerr.ENOENT
	}
	return fs.lookupRoot(comps[0])
}

// follow returns the guest path that the symlink n points to.
func (n *node) follow() (string, error) {
	target, err := n.target()
	if err != nil {
		return "", err
	}
	if !strings.HasPrefix(target, "/") {
		return "", linuxerr.ENOENT
	}
	return target, nil
}

// OpenAt implements vfs.Filesystem.OpenAt.
func (fs *Filesystem) OpenAt(pop *vfs.PathOperation, flags uint32, mode uint32) (*vfs.FileDescription, error) {
	n, err := fs.lookup(pop.Path)
	if err != nil {
		if flags&linux.O_CREAT != 0 && linuxerr.Equals(linuxerr.ENOENT, err) {
			return nil, linuxerr.EACCES
		}
		return nil, err
	}
	if flags&(linux.O_CREAT|linux.O_EXCL) == linux.O_CREAT|linux.O_EXCL {
		return nil, linuxerr.EEXIST
	}
	switch n.kind {
	case kindSymlink:
		if flags&linux.O_NOFOLLOW != 0 {
			return nil, linuxerr.ELOOP
		}
		target, err := n.follow()
		if err != nil {
			return nil, err
		}
		return fs.k.VFS().OpenAt(target, flags, mode)
	case kindDirectory:
		if vfs.MayWriteFileWithOpenFlags(flags) {
			return nil, linuxerr.EISDIR
		}
		return vfs.NewFileDescription(vfs.NewStaticDirectoryFD(n.list(), 0555), flags, pop.Guest, nil), nil
	default:
		if flags&linux.O_DIRECTORY != 0 {
			return nil, linuxerr.ENOTDIR
		}
		if vfs.MayWriteFileWithOpenFlags(flags) || flags&linux.O_TRUNC != 0 {
			return nil, linuxerr.EACCES
		}
		fd := &vfs.DynamicBytesFileDescriptionImpl{}
		fd.Init(n.contents)
		return vfs.NewFileDescription(fd, flags, pop.Guest, nil), nil
	}
}

// StatAt implements vfs.Filesystem.StatAt.
func (fs *Filesystem) StatAt(pop *vfs.PathOperation, follow bool) (linux.Stat, error) {
	n, err := fs.lookup(pop.Path)
	if err != nil {
		return linux.Stat{}, err
	}
	if n.kind == kindSymlink && follow {
		target, err := n.follow()
		if err != nil {
			return linux.Stat{}, err
		}
		return fs.k.VFS().StatAt(target, true)
	}
	return n.stat(fs.k), nil
}

// AccessAt implements vfs.Filesystem.AccessAt.
func (fs *Filesystem) AccessAt(pop *vfs.PathOperation, mode uint32) error {
	n, err := fs.lookup(pop.Path)
	if err != nil {
		return err
	}
	if mode&linux.W_OK != 0 || (mode&linux.X_OK != 0 && n.kind == kindFile) {
		return linuxerr.EACCES
	}
	return nil
}

// MkdirAt implements vfs.Filesystem.MkdirAt.
func (fs *Filesystem) MkdirAt(pop *vfs.PathOperation, mode uint32) error {
	if _, err := fs.lookup(pop.Path); err == nil {
		return linuxerr.EEXIST
	}
	return linuxerr.EPERM
}

// RmdirAt implements vfs.Filesystem.RmdirAt.
func (fs *Filesystem) RmdirAt(pop *vfs.PathOperation) error {
	if _, err := fs.lookup(pop.Path); err != nil {
		return err
	}
	return linuxerr.EPERM
}

// UnlinkAt implements vfs.Filesystem.UnlinkAt.
func (fs *Filesystem) UnlinkAt(pop *vfs.PathOperation) error {
	if _, err := fs.lookup(pop.Path); err != nil {
		return err
	}
	return linuxerr.EPERM
}

// RenameAt implements vfs.Filesystem.RenameAt.
func (fs *Filesystem) RenameAt(oldpop, newpop *vfs.PathOperation) error {
	if _, err := fs.lookup(oldpop.Path); err != nil {
		return err
	}
	return linuxerr.EPERM
}

// ReadlinkAt implements vfs.Filesystem.ReadlinkAt.
func (fs *Filesystem) ReadlinkAt(pop *vfs.PathOperation) (string, error) {
	n, err := fs.lookup(pop.Path)
	if err != nil {
		return "", err
	}
	if n.kind != kindSymlink {
		return "", linuxerr.EINVAL
	}
	return n.target()
}
