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

// taskEntry describes one child of /proc/[pid].
type taskEntry struct {
	kind     nodeKind
	contents func(p *kernel.Process) generator
	target   func(p *kernel.Process) (string, error)
}

// taskEntries are the children of /proc/[pid], except fd.
var taskEntries = map[string]taskEntry{
	"cmdline": {kind: kindFile, contents: cmdline},
	"comm":    {kind: kindFile, contents: comm},
	"cwd":     {kind: kindSymlink, target: cwd},
	"environ": {kind: kindFile, contents: environ},
	"exe":     {kind: kindSymlink, target: exe},
	"maps":    {kind: kindFile, contents: maps},
	"stat":    {kind: kindFile, contents: stat},
	"status":  {kind: kindFile, contents: status},
}

// fdDirName is the directory of open file descriptor links.
const fdDirName = "fd"

// lookupTask resolves the path comps below /proc/[pid] for process p.
func (fs *Filesystem) lookupTask(p *kernel.Process, comps []string) (*node, error) {
	dir := "/" + strconv.Itoa(int(p.PID()))
	if len(comps) == 0 {
		return &node{
			kind: kindDirectory,
			path: dir,
			p:    p,
			list: func() []vfs.Dirent { return taskDirents(p) },
		}, nil
	}
	if comps[0] == fdDirName {
		return lookupFD(p, path.Join(dir, fdDirName), comps[1:])
	}
	e, ok := taskEntries[comps[0]]
	if !ok || len(comps) != 1 {
		return nil, linuxerr.ENOENT
	}
	n := &node{kind: e.kind, path: path.Join(dir, comps[0]), p: p}
	switch e.kind {
	case kindFile:
		n.contents = e.contents(p)
	case kindSymlink:
		n.target = func() (string, error) { return e.target(p) }
	}
	return n, nil
}

func taskDirents(p *kernel.Process) []vfs.Dirent {
	dir := "/" + strconv.Itoa(int(p.PID()))
	entries := []vfs.Dirent{
		{Name: ".", Type: linux.DT_DIR},
		{Name: "..", Type: linux.DT_DIR},
	}
	for _, name := range []string{"cmdline", "comm", "cwd", "environ", "exe", fdDirName, "maps", "stat", "status"} {
		typ := uint8(linux.DT_DIR)
		if e, ok := taskEntries[name]; ok {
			typ = linux.DT_REG
			if e.kind == kindSymlink {
				typ = linux.DT_LNK
			}
		}
		n := node{path: path.Join(dir, name)}
		entries = append(entries, vfs.Dirent{Name: name, Type: typ, Ino: n.ino()})
	}
	return entries
}

// cwd backs /proc/[pid]/cwd.
func cwd(p *kernel.Process) (string, error) {
	fsc := p.FSContext()
	if fsc == nil {
		return "", linuxerr.ENOENT
	}
	return fsc.WorkingDirectory(), nil
}

// exe backs /proc/[pid]/exe.
func exe(p *kernel.Process) (string, error) {
	m := p.MemoryManager()
	if m == nil {
		return "", linuxerr.ENOENT
	}
	if name := m.Metadata().Executable; name != "" {
		return name, nil
	}
	return "", linuxerr.ENOENT
}
