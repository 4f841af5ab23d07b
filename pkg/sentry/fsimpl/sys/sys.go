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

// Package sys implements the "sys" namespace: a read-only view of the host's
// sysfs, with CPU topology files synthesized from the host CPU count.
package sys

import (
	"bytes"
	"fmt"
	"runtime"

	"github.com/shirou/gopsutil/v4/cpu"
	"gvisor.dev/lacd/pkg/abi/linux"
	"gvisor.dev/lacd/pkg/errors/linuxerr"
	"gvisor.dev/lacd/pkg/log"
	"gvisor.dev/lacd/pkg/sentry/fsimpl/host"
	"gvisor.dev/lacd/pkg/sentry/vfs"
)

const (
	// Name is the namespace served by Filesystem.
	Name = "sys"

	// DefaultRoot is the host directory mirrored when none is configured.
	DefaultRoot = "/sys"

	cpuDir = "/devices/system/cpu"
)

// Filesystem implements vfs.Filesystem.
type Filesystem struct {
	host  *host.Filesystem
	cores int
}

var _ vfs.Filesystem = (*Filesystem)(nil)

// New returns a Filesystem mirroring the host directory root.
func New(root string) (*Filesystem, error) {
	if root == "" {
		root = DefaultRoot
	}
	h, err := host.New(root)
	if err != nil {
		return nil, err
	}
	cores, err := cpu.Counts(true)
	if err != nil || cores <= 0 {
		log.Debugf("sys: cpu.Counts failed (%v), using runtime.NumCPU", err)
		cores = runtime.NumCPU()
	}
	return &Filesystem{host: h, cores: cores}, nil
}

// synthetic returns the generator for a synthesized file at p, if any.
func (fs *Filesystem) synthetic(p string) (func(*bytes.Buffer) error, bool) {
	switch p {
	case cpuDir + "/online", cpuDir + "/possible", cpuDir + "/present":
		return fs.cpuRange, true
	}
	return nil, false
}

func (fs *Filesystem) cpuRange(buf *bytes.Buffer) error {
	fmt.Fprintf(buf, "0-%d\n", fs.cores-1)
	return nil
}

type generator func(*bytes.Buffer) error

// Generate implements vfs.DynamicBytesSource.Generate.
func (g generator) Generate(buf *bytes.Buffer) error {
	return g(buf)
}

// OpenAt implements vfs.Filesystem.OpenAt.
func (fs *Filesystem) OpenAt(pop *vfs.PathOperation, flags uint32, mode uint32) (*vfs.FileDescription, error) {
	if vfs.MayWriteFileWithOpenFlags(flags) || flags&(linux.O_CREAT|linux.O_TRUNC) != 0 {
		return nil, linuxerr.EACCES
	}
	if gen, ok := fs.synthetic(pop.Path); ok {
		if flags&linux.O_DIRECTORY != 0 {
			return nil, linuxerr.ENOTDIR
		}
		fd := &vfs.DynamicBytesFileDescriptionImpl{}
		fd.Init(generator(gen))
		return vfs.NewFileDescription(fd, flags, pop.Guest, nil), nil
	}
	return fs.host.OpenAt(pop, flags, mode)
}

// StatAt implements vfs.Filesystem.StatAt.
func (fs *Filesystem) StatAt(pop *vfs.PathOperation, follow bool) (linux.Stat, error) {
	st, err := fs.host.StatAt(pop, follow)
	if _, ok := fs.synthetic(pop.Path); ok {
		if err != nil {
			st = linux.Stat{Nlink: 1, Blksize: 4096}
		}
		st.Mode = linux.S_IFREG | 0444
		st.Size = 0
		return st, nil
	}
	return st, err
}

// AccessAt implements vfs.Filesystem.AccessAt.
func (fs *Filesystem) AccessAt(pop *vfs.PathOperation, mode uint32) error {
	if mode&linux.W_OK != 0 {
		return linuxerr.EACCES
	}
	if _, ok := fs.synthetic(pop.Path); ok {
		if mode&linux.X_OK != 0 {
			return linuxerr.EACCES
		}
		return nil
	}
	return fs.host.AccessAt(pop, mode)
}

// MkdirAt implements vfs.Filesystem.MkdirAt.
func (fs *Filesystem) MkdirAt(pop *vfs.PathOperation, mode uint32) error {
	if _, err := fs.StatAt(pop, false); err == nil {
		return linuxerr.EEXIST
	}
	return linuxerr.EPERM
}

// RmdirAt implements vfs.Filesystem.RmdirAt.
func (fs *Filesystem) RmdirAt(pop *vfs.PathOperation) error {
	return fs.deny(pop)
}

// UnlinkAt implements vfs.Filesystem.UnlinkAt.
func (fs *Filesystem) UnlinkAt(pop *vfs.PathOperation) error {
	return fs.deny(pop)
}

// RenameAt implements vfs.Filesystem.RenameAt.
func (fs *Filesystem) RenameAt(oldpop, newpop *vfs.PathOperation) error {
	return fs.deny(oldpop)
}

// ReadlinkAt implements vfs.Filesystem.ReadlinkAt.
func (fs *Filesystem) ReadlinkAt(pop *vfs.PathOperation) (string, error) {
	if _, ok := fs.synthetic(pop.Path); ok {
		return "", linuxerr.EINVAL
	}
	return fs.host.ReadlinkAt(pop)
}

// deny fails a mutation of pop with EPERM, or with the lookup error if pop
// does not exist.
func (fs *Filesystem) deny(pop *vfs.PathOperation) error {
	if _, err := fs.StatAt(pop, false); err != nil {
		return err
	}
	return linuxerr.EPERM
}
