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

package proc

import (
	"path"
	"strconv"

	"gvisor.dev/lacd/pkg/abi/linux"
	"gvisor.dev/lacd/pkg/errors/linuxerr"
	"gvisor.dev/lacd/pkg/sentry/kernel"
	"gvisor.dev/lacd/pkg/sentry/vfs"
)

// lookupFD resolves comps below /proc/[pid]/fd, which is at dir.
func lookupFD(p *kernel.Process, dir string, comps []string) (*node, error) {
	switch len(comps) {
	case 0:
		return &node{
			kind: kindDirectory,
			path: dir,
			p:    p,
			list: func() []vfs.Dirent { return fdDirents(p, dir) },
		}, nil
	case 1:
		fd, err := strconv.ParseInt(comps[0], 10, 32)
		if err != nil || strconv.FormatInt(fd, 10) != comps[0] {
			return nil, linuxerr.ENOENT
		}
		if _, err := fdTarget(p, int32(fd)); err != nil {
			return nil, err
		}
		return &node{
			kind:   kindSymlink,
			path:   path.Join(dir, comps[0]),
			p:      p,
			target: func() (string, error) { return fdTarget(p, int32(fd)) },
		}, nil
	default:
		return nil, linuxerr.ENOENT
	}
}

// fdTarget returns the path that fd in p was opened at.
func fdTarget(p *kernel.Process, fd int32) (string, error) {
	t := p.FDTable()
	if t == nil {
		return "", linuxerr.ENOENT
	}
	file, _ := t.Get(fd)
	if file == nil {
		return "", linuxerr.ENOENT
	}
	defer file.DecRef()
	return file.Path(), nil
}

func fdDirents(p *kernel.Process, dir string) []vfs.Dirent {
	entries := []vfs.Dirent{
		{Name: ".", Type: linux.DT_DIR},
		{Name: "..", Type: linux.DT_DIR},
	}
	t := p.FDTable()
	if t == nil {
		return entries
	}
	for _, fd := range t.GetFDs() {
		name := strconv.Itoa(int(fd))
		n := node{path: path.Join(dir, name)}
		entries = append(entries, vfs.Dirent{Name: name, Type: linux.DT_LNK, Ino: n.ino()})
	}
	return entries
}
