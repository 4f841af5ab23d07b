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
	"bytes"
	"fmt"
	"math"
	"sort"
	"sync"
	"sync/atomic"

	"gvisor.dev/lacd/pkg/abi/linux"
	"gvisor.dev/lacd/pkg/errors/linuxerr"
	"gvisor.dev/lacd/pkg/sentry/limits"
	"gvisor.dev/lacd/pkg/sentry/vfs"
)

// FDFlags define flags for an individual descriptor.
type FDFlags struct {
	// CloseOnExec indicates the descriptor should be closed on exec.
	CloseOnExec bool
}

// ToLinuxFileFlags converts a kernel.FDFlags object to a Linux file flags
// representation.
func (f FDFlags) ToLinuxFileFlags() (mask uint) {
	if f.CloseOnExec {
		mask |= linux.O_CLOEXEC
	}
	return
}

// ToLinuxFDFlags converts a kernel.FDFlags object to a Linux descriptor flags
// representation.
func (f FDFlags) ToLinuxFDFlags() (mask uint) {
	if f.CloseOnExec {
		mask |= linux.FD_CLOEXEC
	}
	return
}

// descriptor holds the details about a file descriptor, namely a pointer to
// the file itself and the descriptor flags.
//
// Note that this is immutable and can only be changed via operations on the
// FDTable.
type descriptor struct {
	file  *vfs.FileDescription
	flags FDFlags
}

// FDTable is used to manage File references and flags.
type FDTable struct {
	refs atomic.Int64

	// uid is a unique identifier.
	uid uint64

	// mu protects below.
	mu sync.Mutex

	// descriptors maps fds to descriptors. Every descriptor holds a
	// reference on its file.
	descriptors map[int32]descriptor
}

var fdTableUIDs atomic.Uint64

// NewFDTable allocates a new, empty FDTable.
func NewFDTable() *FDTable {
	f := &FDTable{
		uid:         fdTableUIDs.Add(1),
		descriptors: make(map[int32]descriptor),
	}
	f.refs.Store(1)
	return f
}

// ID returns a unique identifier for this FDTable.
func (f *FDTable) ID() uint64 {
	return f.uid
}

// IncRef takes a reference on the table, as done by clone(CLONE_FILES).
func (f *FDTable) IncRef() {
	f.refs.Add(1)
}

// DecRef drops a reference on the table. The last reference closes every
// descriptor.
func (f *FDTable) DecRef() {
	switch n := f.refs.Add(-1); {
	case n == 0:
		f.RemoveIf(func(*vfs.FileDescription, FDFlags) bool {
			return true
		})
	case n < 0:
		panic(fmt.Sprintf("FDTable %d: DecRef with no references", f.uid))
	}
}

// Size returns the number of file descriptors currently allocated.
func (f *FDTable) Size() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.descriptors)
}

// String is a stringer for FDTable.
func (f *FDTable) String() string {
	var b bytes.Buffer
	for _, fd := range f.GetFDs() {
		file, _ := f.Get(fd)
		if file == nil {
			continue
		}
		b.WriteString(fmt.Sprintf("\tfd:%d => name %s\n", fd, file.Path()))
		file.DecRef()
	}
	return b.String()
}

// setLocked installs file at fd, dropping the table reference on any file
// previously installed there. A nil file clears the entry.
//
// Preconditions: f.mu must be locked. The caller's reference on file, if any,
// is not consumed.
func (f *FDTable) setLocked(fd int32, file *vfs.FileDescription, flags FDFlags) {
	if file != nil {
		file.IncRef()
	}
	orig, ok := f.descriptors[fd]
	if file == nil {
		delete(f.descriptors, fd)
	} else {
		f.descriptors[fd] = descriptor{file: file, flags: flags}
	}
	if ok {
		orig.file.DecRef()
	}
}

// fileLimit returns the exclusive upper bound on fd numbers under ls.
func fileLimit(ls *limits.LimitSet) int32 {
	end := int32(math.MaxInt32)
	if ls == nil {
		return end
	}
	if lim := ls.Get(limits.NumberOfFiles); lim.Cur != limits.Infinity && lim.Cur < uint64(end) {
		end = int32(lim.Cur)
	}
	return end
}

// NewFDs allocates new FDs guaranteed to be the lowest number available
// greater than or equal to the fd parameter. All files will share the set
// flags. Success is guaranteed to be all or none.
func (f *FDTable) NewFDs(ls *limits.LimitSet, fd int32, files []*vfs.FileDescription, flags FDFlags) (fds []int32, err error) {
	if fd < 0 {
		// Don't accept negative FDs.
		return nil, linuxerr.EINVAL
	}

	// Ensure we don't get past the provided limit.
	end := fileLimit(ls)
	if fd >= end {
		return nil, linuxerr.EMFILE
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	// Install all entries.
	for i := fd; i < end && len(fds) < len(files); i++ {
		if _, ok := f.descriptors[i]; !ok {
			f.setLocked(i, files[len(fds)], flags) // Set the descriptor.
			fds = append(fds, i)                   // Record the file descriptor.
		}
	}

	// Failure? Unwind existing FDs.
	if len(fds) < len(files) {
		for _, i := range fds {
			f.setLocked(i, nil, FDFlags{}) // Zap entry.
		}
		return nil, linuxerr.EMFILE
	}

	return fds, nil
}

// NewFDAt sets the file reference for the given FD. If there is an active
// reference for that FD, the ref count for that existing reference is
// decremented.
func (f *FDTable) NewFDAt(ls *limits.LimitSet, fd int32, file *vfs.FileDescription, flags FDFlags) error {
	if fd < 0 {
		// Don't accept negative FDs.
		return linuxerr.EBADF
	}

	// Check the limit for the provided file.
	if fd >= fileLimit(ls) {
		return linuxerr.EMFILE
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	// Install the entry.
	f.setLocked(fd, file, flags)
	return nil
}

// SetFlags sets the flags for the given file descriptor.
func (f *FDTable) SetFlags(fd int32, flags FDFlags) error {
	if fd < 0 {
		// Don't accept negative FDs.
		return linuxerr.EBADF
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	d, ok := f.descriptors[fd]
	if !ok {
		// No file found.
		return linuxerr.EBADF
	}

	// Update the flags.
	f.descriptors[fd] = descriptor{file: d.file, flags: flags}
	return nil
}

// Get returns a reference to the file and the flags for the FD or nil if no
// file is defined for the given fd.
//
// N.B. Callers are required to use DecRef when they are done.
func (f *FDTable) Get(fd int32) (*vfs.FileDescription, FDFlags) {
	if fd < 0 {
		return nil, FDFlags{}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.descriptors[fd]
	if !ok {
		// No file available.
		return nil, FDFlags{}
	}
	d.file.IncRef()
	return d.file, d.flags
}

// GetFDs returns a sorted list of valid fds.
func (f *FDTable) GetFDs() []int32 {
	f.mu.Lock()
	fds := make([]int32, 0, len(f.descriptors))
	for fd := range f.descriptors {
		fds = append(fds, fd)
	}
	f.mu.Unlock()
	sort.Slice(fds, func(i, j int) bool { return fds[i] < fds[j] })
	return fds
}

// Fork returns an independent FDTable holding the same files.
func (f *FDTable) Fork() *FDTable {
	clone := NewFDTable()

	f.mu.Lock()
	defer f.mu.Unlock()
	for fd, d := range f.descriptors {
		// The set function here will acquire an appropriate table
		// reference for the clone. We don't need anything else.
		clone.setLocked(fd, d.file, d.flags)
	}
	return clone
}

// Remove removes an FD from and returns a non-file iff successful.
//
// N.B. Callers are required to use DecRef when they are done.
func (f *FDTable) Remove(fd int32) *vfs.FileDescription {
	if fd < 0 {
		return nil
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	d, ok := f.descriptors[fd]
	if !ok {
		return nil
	}
	// The table reference is transferred to the caller.
	delete(f.descriptors, fd)
	return d.file
}

// RemoveIf removes all FDs where cond is true.
func (f *FDTable) RemoveIf(cond func(*vfs.FileDescription, FDFlags) bool) {
	f.mu.Lock()
	var removed []*vfs.FileDescription
	for fd, d := range f.descriptors {
		if cond(d.file, d.flags) {
			delete(f.descriptors, fd)
			removed = append(removed, d.file)
		}
	}
	f.mu.Unlock()

	// Drop the table references without holding f.mu.
	for _, file := range removed {
		file.DecRef()
	}
}
