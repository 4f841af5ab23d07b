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

package tmpfs

import (
	"sort"

	"gvisor.dev/lacd/pkg/abi/linux"
	"gvisor.dev/lacd/pkg/sentry/vfs"
)

func (fs *Filesystem) newDirectory(mode uint32) *inode {
	i := fs.newInode(linux.S_IFDIR | mode)
	i.children = make(map[string]*inode)
	// "." and the entry in the parent.
	i.nlink = 2
	return i
}

// directoryFD lists a directory as of the time it was opened.
type directoryFD struct {
	*vfs.StaticDirectoryFD
	inode *inode
}

// newDirectoryFD snapshots the entries of i.
//
// Preconditions: i.fs.mu must be locked.
func (i *inode) newDirectoryFD() *directoryFD {
	names := make([]string, 0, len(i.children))
	for name := range i.children {
		names = append(names, name)
	}
	sort.Strings(names)
	entries := make([]vfs.Dirent, 0, len(names)+2)
	entries = append(entries,
		vfs.Dirent{Name: ".", Type: linux.DT_DIR, Ino: i.ino},
		vfs.Dirent{Name: "..", Type: linux.DT_DIR, Ino: i.ino},
	)
	for _, name := range names {
		child := i.children[name]
		entries = append(entries, vfs.Dirent{
			Name: name,
			Type: linux.DirentType(child.mode),
			Ino:  child.ino,
		})
	}
	return &directoryFD{
		StaticDirectoryFD: vfs.NewStaticDirectoryFD(entries, i.mode&07777),
		inode:             i,
	}
}

// Stat implements vfs.FileDescriptionImpl.Stat.
func (fd *directoryFD) Stat() (linux.Stat, error) {
	return fd.inode.stat(), nil
}
