// Copyright 2018 The gVisor Authors.
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

package kernel

import (
	"fmt"
	"path"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
)

// procNamespace is the host namespace that serves /proc. Paths routed to it
// may name the calling process as "self".
const procNamespace = "proc"

// FSContext contains filesystem context.
//
// This includes umask and working directory.
type FSContext struct {
	refs atomic.Int64

	// mu protects below.
	mu sync.Mutex

	// cwd is the current working directory, as a clean absolute guest path.
	cwd string

	// umask is the current file mode creation mask. When a thread using this
	// context invokes a syscall that creates a file, bits set in umask are
	// removed from the permissions that the file is created with.
	umask uint
}

// NewFSContext returns a new filesystem context.
func NewFSContext(cwd string, umask uint) *FSContext {
	f := FSContext{
		cwd:   JoinPath("/", cwd),
		umask: umask,
	}
	f.refs.Store(1)
	return &f
}

// IncRef takes a reference, as done by clone(CLONE_FS).
func (f *FSContext) IncRef() {
	f.refs.Add(1)
}

// DecRef drops a reference.
func (f *FSContext) DecRef() {
	if n := f.refs.Add(-1); n < 0 {
		panic(fmt.Sprintf("FSContext.DecRef with no references: %d", n))
	}
}

// Fork forks this FSContext.
//
// This is not a valid call after f is destroyed.
func (f *FSContext) Fork() *FSContext {
	f.mu.Lock()
	defer f.mu.Unlock()
	return NewFSContext(f.cwd, f.umask)
}

// WorkingDirectory returns the current working directory.
func (f *FSContext) WorkingDirectory() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cwd
}

// SetWorkingDirectory sets the current working directory. The caller has
// already checked that p names a searchable directory.
func (f *FSContext) SetWorkingDirectory(p string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cwd = JoinPath(f.cwd, p)
}

// Umask returns the current umask.
func (f *FSContext) Umask() uint {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.umask
}

// SwapUmask atomically sets the current umask and returns the old umask.
func (f *FSContext) SwapUmask(mask uint) uint {
	f.mu.Lock()
	defer f.mu.Unlock()
	old := f.umask
	f.umask = mask
	return old
}

// Resolve returns p as a clean absolute guest path, interpreting relative
// paths against the working directory.
func (f *FSContext) Resolve(p string) string {
	return JoinPath(f.WorkingDirectory(), p)
}

// JoinPath interprets p relative to the absolute directory base and returns
// the cleaned result. An absolute p ignores base.
func JoinPath(base, p string) string {
	if path.IsAbs(p) {
		return path.Clean(p)
	}
	return path.Clean(path.Join("/", base, p))
}

// ResolvePath returns path as a clean absolute guest path for p, interpreting
// relative paths against p's working directory. A leading "self" component
// below a path routed to the proc namespace is replaced with p's pid, so that
// every Filesystem sees caller-independent paths.
func (p *Process) ResolvePath(path string) string {
	guest := p.FSContext().Resolve(path)
	res := p.k.vfs.Mapper().Resolve(guest)
	if res.Namespace != procNamespace {
		return guest
	}
	rest, ok := strings.CutPrefix(res.Relative, "self")
	if !ok || (rest != "" && rest[0] != '/') {
		return guest
	}
	prefix := strings.TrimSuffix(guest, res.Relative)
	return JoinPath("/", prefix+strconv.Itoa(int(p.PID()))+rest)
}
