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

// Package tmpfs provides a filesystem implementation that behaves like tmpfs:
// the inode tree is the sole source of truth for the state of the filesystem.
//
// Lock order:
//
//	Filesystem.mu
//	  regularFileFD.offMu
//	    inode.mu
package tmpfs

import (
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"gvisor.dev/lacd/pkg/abi/linux"
	"gvisor.dev/lacd/pkg/errors/linuxerr"
	"gvisor.dev/lacd/pkg/sentry/vfs"
)

// Name is the default namespace name.
const Name = "tmpfs"

const (
	// maxSymlinkTraversals is the maximum number of symbolic links followed
	// while resolving one path, as Linux's MAXSYMLINKS.
	maxSymlinkTraversals = 40

	// maxFilenameLen is the maximum length of a path component, as Linux's
	// NAME_MAX.
	maxFilenameLen = 255
)

// nextDev gives each Filesystem its own device number.
var nextDev atomic.Uint64

// Filesystem is an in-memory vfs.Filesystem.
type Filesystem struct {
	dev uint64

	// mu serializes changes to the inode tree.
	mu sync.RWMutex

	root *inode

	nextInoMinusOne atomic.Uint64
}

var _ vfs.Filesystem = (*Filesystem)(nil)

// New returns an empty filesystem whose root directory has mode 01777.
func New() *Filesystem {
	fs := &Filesystem{dev: nextDev.Add(1)}
	fs.root = fs.newDirectory(01777)
	return fs
}

// inode represents a file in the tree.
type inode struct {
	fs  *Filesystem
	ino uint64

	// mu protects the fields below, and the contents of regular files.
	mu sync.Mutex

	// mode includes the file type. The type is immutable.
	mode  uint32
	uid   uint32
	gid   uint32
	nlink uint64
	atime time.Time
	mtime time.Time
	ctime time.Time

	// Exactly one of the following is used, according to the file type.
	// children is protected by Filesystem.mu rather than inode.mu.
	data     []byte
	children map[string]*inode
	target   string
}

func (fs *Filesystem) newInode(mode uint32) *inode {
	now := time.Now()
	return &inode{
		fs:    fs,
		ino:   fs.nextInoMinusOne.Add(1),
		mode:  mode,
		nlink: 1,
		atime: now,
		mtime: now,
		ctime: now,
	}
}

func (i *inode) fileType() uint32 {
	return i.mode & linux.S_IFMT
}

func (i *inode) isDir() bool {
	return i.fileType() == linux.S_IFDIR
}

func (i *inode) isSymlink() bool {
	return i.fileType() == linux.S_IFLNK
}

func (i *inode) stat() linux.Stat {
	i.mu.Lock()
	defer i.mu.Unlock()
	var size int64
	switch i.fileType() {
	case linux.S_IFREG:
		size = int64(len(i.data))
	case linux.S_IFLNK:
		size = int64(len(i.target))
	case linux.S_IFDIR:
		size = 4096
	}
	return linux.Stat{
		Dev:     i.fs.dev,
		Ino:     i.ino,
		Nlink:   i.nlink,
		Mode:    i.mode,
		UID:     i.uid,
		GID:     i.gid,
		Size:    size,
		Blksize: 4096,
		Blocks:  (size + 511) / 512,
		ATime:   linux.NsecToTimespec(i.atime.UnixNano()),
		MTime:   linux.NsecToTimespec(i.mtime.UnixNano()),
		CTime:   linux.NsecToTimespec(i.ctime.UnixNano()),
	}
}

// touchLocked updates modification times.
//
// Preconditions: i.mu must be locked.
func (i *inode) touchLocked() {
	now := time.Now()
	i.mtime = now
	i.ctime = now
}

// splitPath returns the components of the absolute path p.
func splitPath(p string) ([]string, error) {
	var comps []string
	for _, c := range strings.Split(p, "/") {
		if c == "" || c == "." {
			continue
		}
		if len(c) > maxFilenameLen {
			return nil, linuxerr.ENAMETOOLONG
		}
		comps = append(comps, c)
	}
	return comps, nil
}

// resolver walks paths, following symbolic links.
type resolver struct {
	fs    *Filesystem
	links int
}

// walk resolves the components in comps starting at the root. If follow is
// true, a symlink in the final component is followed.
//
// Preconditions: fs.mu must be locked.
func (r *resolver) walk(comps []string, follow bool) (*inode, error) {
	// stack holds the directories from the root to the current one, so that
	// ".." and relative symlinks can be resolved.
	stack := []*inode{r.fs.root}
	for len(comps) > 0 {
		c := comps[0]
		comps = comps[1:]
		dir := stack[len(stack)-1]
		if !dir.isDir() {
			return nil, linuxerr.ENOTDIR
		}
		if c == ".." {
			if len(stack) > 1 {
				stack = stack[:len(stack)-1]
			}
			continue
		}
		child, ok := dir.children[c]
		if !ok {
			return nil, linuxerr.ENOENT
		}
		if child.isSymlink() && (len(comps) > 0 || follow) {
			r.links++
			if r.links > maxSymlinkTraversals {
				return nil, linuxerr.ELOOP
			}
			target, err := splitPath(child.target)
			if err != nil {
				return nil, err
			}
			if strings.HasPrefix(child.target, "/") {
				stack = stack[:1]
			}
			comps = append(target, comps...)
			continue
		}
		stack = append(stack, child)
	}
	return stack[len(stack)-1], nil
}

// lookup resolves the absolute path p.
//
// Preconditions: fs.mu must be locked.
func (fs *Filesystem) lookup(p string, follow bool) (*inode, error) {
	comps, err := splitPath(p)
	if err != nil {
		return nil, err
	}
	r := resolver{fs: fs}
	return r.walk(comps, follow)
}

// lookupParent resolves the parent directory of p and returns it with the
// final component. The final component of the root is "".
//
// Preconditions: fs.mu must be locked.
func (fs *Filesystem) lookupParent(p string) (*inode, string, error) {
	comps, err := splitPath(p)
	if err != nil {
		return nil, "", err
	}
	if len(comps) == 0 {
		return fs.root, "", nil
	}
	r := resolver{fs: fs}
	parent, err := r.walk(comps[:len(comps)-1], true /* follow */)
	if err != nil {
		return nil, "", err
	}
	if !parent.isDir() {
		return nil, "", linuxerr.ENOTDIR
	}
	return parent, comps[len(comps)-1], nil
}

// linkLocked adds child to dir under name.
//
// Preconditions: fs.mu must be locked for writing.
func (dir *inode) linkLocked(name string, child *inode) {
	dir.children[name] = child
	if child.isDir() {
		dir.mu.Lock()
		dir.nlink++
		dir.mu.Unlock()
	}
	dir.mu.Lock()
	dir.touchLocked()
	dir.mu.Unlock()
}

// unlinkLocked removes name from dir.
//
// Preconditions: fs.mu must be locked for writing.
func (dir *inode) unlinkLocked(name string) {
	child := dir.children[name]
	delete(dir.children, name)
	dir.mu.Lock()
	if child.isDir() {
		dir.nlink--
	}
	dir.touchLocked()
	dir.mu.Unlock()
	child.mu.Lock()
	child.nlink--
	child.ctime = time.Now()
	child.mu.Unlock()
}

// OpenAt implements vfs.Filesystem.OpenAt.
func (fs *Filesystem) OpenAt(pop *vfs.PathOperation, flags uint32, mode uint32) (*vfs.FileDescription, error) {
	if flags&linux.O_CREAT != 0 {
		fs.mu.Lock()
		defer fs.mu.Unlock()
	} else {
		fs.mu.RLock()
		defer fs.mu.RUnlock()
	}

	var i *inode
	if flags&linux.O_CREAT != 0 {
		parent, name, err := fs.lookupParent(pop.Path)
		if err != nil {
			return nil, err
		}
		if name == "" {
			return nil, linuxerr.EISDIR
		}
		child, ok := parent.children[name]
		switch {
		case !ok:
			i = fs.newRegularFile(mode & 07777)
			parent.linkLocked(name, i)
			// A new file is never truncated.
			flags &^= linux.O_TRUNC
		case flags&linux.O_EXCL != 0:
			return nil, linuxerr.EEXIST
		case child.isSymlink():
			if flags&linux.O_NOFOLLOW != 0 {
				return nil, linuxerr.ELOOP
			}
			if i, err = fs.lookup(pop.Path, true /* follow */); err != nil {
				return nil, err
			}
		default:
			i = child
		}
	} else {
		var err error
		i, err = fs.lookup(pop.Path, flags&linux.O_NOFOLLOW == 0)
		if err != nil {
			return nil, err
		}
		if i.isSymlink() {
			return nil, linuxerr.ELOOP
		}
	}

	if flags&linux.O_DIRECTORY != 0 && !i.isDir() {
		return nil, linuxerr.ENOTDIR
	}
	switch i.fileType() {
	case linux.S_IFDIR:
		if vfs.MayWriteFileWithOpenFlags(flags) || flags&linux.O_CREAT != 0 {
			return nil, linuxerr.EISDIR
		}
		return vfs.NewFileDescription(i.newDirectoryFD(), flags, pop.Guest, nil), nil
	case linux.S_IFREG:
		if flags&linux.O_TRUNC != 0 && vfs.MayWriteFileWithOpenFlags(flags) {
			i.mu.Lock()
			if len(i.data) != 0 {
				i.data = nil
				i.touchLocked()
			}
			i.mu.Unlock()
		}
		return vfs.NewFileDescription(&regularFileFD{inode: i}, flags, pop.Guest, nil), nil
	default:
		return nil, linuxerr.ENXIO
	}
}

// StatAt implements vfs.Filesystem.StatAt.
func (fs *Filesystem) StatAt(pop *vfs.PathOperation, follow bool) (linux.Stat, error) {
	fs.mu.RLock()
	defer fs.mu.RUnlock()
	i, err := fs.lookup(pop.Path, follow)
	if err != nil {
		return linux.Stat{}, err
	}
	return i.stat(), nil
}

// AccessAt implements vfs.Filesystem.AccessAt. Permission is checked against
// the owner bits, since every guest file in a tmpfs is owned by the guest.
func (fs *Filesystem) AccessAt(pop *vfs.PathOperation, mode uint32) error {
	fs.mu.RLock()
	defer fs.mu.RUnlock()
	i, err := fs.lookup(pop.Path, true /* follow */)
	if err != nil {
		return err
	}
	i.mu.Lock()
	perms := (i.mode >> 6) & 7
	i.mu.Unlock()
	if mode&^perms&(linux.R_OK|linux.W_OK|linux.X_OK) != 0 {
		return linuxerr.EACCES
	}
	return nil
}

// MkdirAt implements vfs.Filesystem.MkdirAt.
func (fs *Filesystem) MkdirAt(pop *vfs.PathOperation, mode uint32) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	parent, name, err := fs.lookupParent(pop.Path)
	if err != nil {
		return err
	}
	if name == "" {
		return linuxerr.EEXIST
	}
	if _, ok := parent.children[name]; ok {
		return linuxerr.EEXIST
	}
	parent.linkLocked(name, fs.newDirectory(mode&07777))
	return nil
}

// RmdirAt implements vfs.Filesystem.RmdirAt.
func (fs *Filesystem) RmdirAt(pop *vfs.PathOperation) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	parent, name, err := fs.lookupParent(pop.Path)
	if err != nil {
		return err
	}
	if name == "" {
		return linuxerr.EBUSY
	}
	child, ok := parent.children[name]
	if !ok {
		return linuxerr.ENOENT
	}
	if !child.isDir() {
		return linuxerr.ENOTDIR
	}
	if len(child.children) != 0 {
		return linuxerr.ENOTEMPTY
	}
	parent.unlinkLocked(name)
	return nil
}

// UnlinkAt implements vfs.Filesystem.UnlinkAt.
func (fs *Filesystem) UnlinkAt(pop *vfs.PathOperation) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	parent, name, err := fs.lookupParent(pop.Path)
	if err != nil {
		return err
	}
	if name == "" {
		return linuxerr.EISDIR
	}
	child, ok := parent.children[name]
	if !ok {
		return linuxerr.ENOENT
	}
	if child.isDir() {
		return linuxerr.EISDIR
	}
	parent.unlinkLocked(name)
	return nil
}

// RenameAt implements vfs.Filesystem.RenameAt.
func (fs *Filesystem) RenameAt(oldpop, newpop *vfs.PathOperation) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	oldParent, oldName, err := fs.lookupParent(oldpop.Path)
	if err != nil {
		return err
	}
	newParent, newName, err := fs.lookupParent(newpop.Path)
	if err != nil {
		return err
	}
	if oldName == "" || newName == "" {
		return linuxerr.EBUSY
	}
	renamed, ok := oldParent.children[oldName]
	if !ok {
		return linuxerr.ENOENT
	}
	if renamed.isDir() {
		// A directory cannot become its own descendant.
		oldComps, _ := splitPath(oldpop.Path)
		newComps, _ := splitPath(newpop.Path)
		if len(newComps) > len(oldComps) && strings.Join(newComps[:len(oldComps)], "/") == strings.Join(oldComps, "/") {
			return linuxerr.EINVAL
		}
	}
	if replaced, ok := newParent.children[newName]; ok {
		if replaced == renamed {
			return nil
		}
		switch {
		case renamed.isDir() && !replaced.isDir():
			return linuxerr.ENOTDIR
		case !renamed.isDir() && replaced.isDir():
			return linuxerr.EISDIR
		case replaced.isDir() && len(replaced.children) != 0:
			return linuxerr.ENOTEMPTY
		}
		newParent.unlinkLocked(newName)
	}
	delete(oldParent.children, oldName)
	if renamed.isDir() {
		oldParent.mu.Lock()
		oldParent.nlink--
		oldParent.mu.Unlock()
	}
	newParent.linkLocked(newName, renamed)
	renamed.mu.Lock()
	renamed.ctime = time.Now()
	renamed.mu.Unlock()
	return nil
}

// ReadlinkAt implements vfs.Filesystem.ReadlinkAt.
func (fs *Filesystem) ReadlinkAt(pop *vfs.PathOperation) (string, error) {
	fs.mu.RLock()
	defer fs.mu.RUnlock()
	i, err := fs.lookup(pop.Path, false /* follow */)
	if err != nil {
		return "", err
	}
	if !i.isSymlink() {
		return "", linuxerr.EINVAL
	}
	return i.target, nil
}

// mkdirAllLocked creates the directory p and any missing parents.
//
// Preconditions: fs.mu must be locked for writing.
func (fs *Filesystem) mkdirAllLocked(p string) (*inode, error) {
	comps, err := splitPath(p)
	if err != nil {
		return nil, err
	}
	dir := fs.root
	for _, c := range comps {
		child, ok := dir.children[c]
		if !ok {
			child = fs.newDirectory(0755)
			dir.linkLocked(c, child)
		}
		if !child.isDir() {
			return nil, linuxerr.ENOTDIR
		}
		dir = child
	}
	return dir, nil
}

// WriteFile creates or replaces the regular file at the namespace path p
// with data, creating parent directories as needed. It is used to populate
// a filesystem before guests run.
func (fs *Filesystem) WriteFile(p string, data []byte, mode uint32) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	comps, err := splitPath(p)
	if err != nil {
		return err
	}
	if len(comps) == 0 {
		return linuxerr.EISDIR
	}
	dir, err := fs.mkdirAllLocked(strings.Join(comps[:len(comps)-1], "/"))
	if err != nil {
		return err
	}
	name := comps[len(comps)-1]
	if old, ok := dir.children[name]; ok {
		if old.isDir() {
			return linuxerr.EISDIR
		}
		dir.unlinkLocked(name)
	}
	f := fs.newRegularFile(mode & 07777)
	f.data = append([]byte(nil), data...)
	dir.linkLocked(name, f)
	return nil
}

// MkdirAll creates the directory at the namespace path p and any missing
// parents.
func (fs *Filesystem) MkdirAll(p string) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	_, err := fs.mkdirAllLocked(p)
	return err
}
