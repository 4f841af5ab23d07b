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

package linux

import (
	"gvisor.dev/lacd/pkg/abi/linux"
	"gvisor.dev/lacd/pkg/errors/linuxerr"
	"gvisor.dev/lacd/pkg/hostarch"
	"gvisor.dev/lacd/pkg/sentry/kernel"
	"gvisor.dev/lacd/pkg/sentry/vfs"
)

// copyInPath copies in a NUL-terminated path from guest memory.
func copyInPath(p *kernel.Process, addr hostarch.Addr) (string, error) {
	return p.MemoryManager().CopyInString(addr, linux.PATH_MAX)
}

// getFile returns the file installed at fd with a reference held.
func getFile(p *kernel.Process, fd int32) (*vfs.FileDescription, kernel.FDFlags, error) {
	file, flags := p.FDTable().Get(fd)
	if file == nil {
		return nil, flags, linuxerr.EBADF
	}
	return file, flags, nil
}

// resolveAt returns the clean absolute guest path named by path relative to
// dirfd, with the semantics of the *at(2) family. If path is empty and
// emptyOK is set, the path of dirfd itself is returned.
func resolveAt(p *kernel.Process, dirfd int32, path string, emptyOK bool) (string, error) {
	if path == "" {
		if !emptyOK {
			return "", linuxerr.ENOENT
		}
		if dirfd == linux.AT_FDCWD {
			return p.FSContext().WorkingDirectory(), nil
		}
		file, _, err := getFile(p, dirfd)
		if err != nil {
			return "", err
		}
		defer file.DecRef()
		return file.Path(), nil
	}
	if path[0] == '/' || dirfd == linux.AT_FDCWD {
		return p.ResolvePath(path), nil
	}

	dir, _, err := getFile(p, dirfd)
	if err != nil {
		return "", err
	}
	defer dir.DecRef()
	stat, err := dir.Stat()
	if err != nil {
		return "", err
	}
	if stat.Mode&linux.S_IFMT != linux.S_IFDIR {
		return "", linuxerr.ENOTDIR
	}
	return p.ResolvePath(kernel.JoinPath(dir.Path(), path)), nil
}

// copyInPathAt copies in the path at addr and resolves it relative to dirfd.
func copyInPathAt(p *kernel.Process, dirfd int32, addr hostarch.Addr, emptyOK bool) (string, error) {
	path, err := copyInPath(p, addr)
	if err != nil {
		return "", err
	}
	return resolveAt(p, dirfd, path, emptyOK)
}
