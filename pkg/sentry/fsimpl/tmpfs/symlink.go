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
	"gvisor.dev/lacd/pkg/abi/linux"
	"gvisor.dev/lacd/pkg/errors/linuxerr"
)

func (fs *Filesystem) newSymlink(target string) *inode {
	i := fs.newInode(linux.S_IFLNK | 0777)
	i.target = target
	return i
}

// Symlink creates a symbolic link at the namespace path p pointing to
// target. Absolute targets are interpreted within this filesystem.
func (fs *Filesystem) Symlink(target, p string) error {
	if target == "" {
		return linuxerr.ENOENT
	}
	fs.mu.Lock()
	defer fs.mu.Unlock()
	parent, name, err := fs.lookupParent(p)
	if err != nil {
		return err
	}
	if name == "" {
		return linuxerr.EEXIST
	}
	if _, ok := parent.children[name]; ok {
		return linuxerr.EEXIST
	}
	parent.linkLocked(name, fs.newSymlink(target))
	return nil
}
