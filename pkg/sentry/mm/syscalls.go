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

package mm

import (
	"github.com/mohae/deepcopy"

	"gvisor.dev/lacd/pkg/errors/linuxerr"
	"gvisor.dev/lacd/pkg/hostarch"
	"gvisor.dev/lacd/pkg/sentry/arch"
)

// MMapOpts specifies a request to create a memory mapping.
type MMapOpts struct {
	// Length is the length of the mapping.
	Length uint64

	// Addr is the suggested address for the mapping.
	Addr hostarch.Addr

	// Fixed specifies whether this is a fixed mapping (it must be located at
	// Addr).
	Fixed bool

	// Unmap specifies whether existing mappings in the range being mapped may
	// be replaced. If Unmap is true, Fixed must be true.
	Unmap bool

	// Perms is the set of permissions to the applied to this mapping.
	Perms hostarch.AccessType

	// MaxPerms limits the set of permissions that may ever apply to this
	// mapping. If zero, any access is allowed.
	MaxPerms hostarch.AccessType

	// Private is true if writes to the mapping are not visible to other
	// address spaces.
	Private bool

	// Kind describes the contents of the mapping.
	Kind RegionKind

	// Name is shown in /proc/[pid]/maps.
	Name string

	// Backing is the shared page store to map. If nil, a new zero-filled
	// backing is created.
	Backing *Backing

	// Offset is the offset into Backing.
	Offset uint64

	// Mappable is notified of mapping creation and removal.
	Mappable Mappable
}

// MMap establishes a memory mapping.
func (mm *MemoryManager) MMap(opts MMapOpts) (hostarch.Addr, error) {
	if opts.Length == 0 {
		return 0, linuxerr.EINVAL
	}
	length, ok := hostarch.PageRoundUp(opts.Length)
	if !ok {
		return 0, linuxerr.ENOMEM
	}
	opts.Length = length
	if opts.Offset%hostarch.PageSize != 0 {
		return 0, linuxerr.EINVAL
	}
	if opts.Backing != nil && opts.Offset+opts.Length > opts.Backing.Size() {
		return 0, linuxerr.EINVAL
	}
	if opts.Unmap && !opts.Fixed {
		return 0, linuxerr.EINVAL
	}
	if !opts.MaxPerms.Any() {
		opts.MaxPerms = hostarch.AnyAccess
	}
	if !opts.MaxPerms.SupersetOf(opts.Perms) {
		return 0, linuxerr.EACCES
	}

	mm.mu.Lock()
	defer mm.mu.Unlock()
	return mm.mmapLocked(opts)
}

// mmapLocked implements MMap.
//
// Preconditions: mm.mu must be locked. opts.Length is page-aligned.
func (mm *MemoryManager) mmapLocked(opts MMapOpts) (hostarch.Addr, error) {
	var ar hostarch.AddrRange
	if opts.Fixed {
		if !opts.Addr.IsPageAligned() {
			return 0, linuxerr.EINVAL
		}
		end, ok := opts.Addr.AddLength(opts.Length)
		if !ok || end > arch.MaxUserAddress+hostarch.PageSize || opts.Addr < hostarch.PageSize {
			return 0, linuxerr.ENOMEM
		}
		ar = hostarch.AddrRange{Start: opts.Addr, End: end}
		if !mm.isFreeLocked(ar) && !opts.Unmap {
			return 0, linuxerr.EEXIST
		}
	} else {
		hint := opts.Addr.RoundDown()
		if end, ok := hint.AddLength(opts.Length); hint >= minUserAddress && ok && end <= arch.MaxUserAddress && mm.isFreeLocked(hostarch.AddrRange{Start: hint, End: end}) {
			ar = hostarch.AddrRange{Start: hint, End: end}
		} else {
			addr, ok := mm.findAvailableLocked(opts.Length)
			if !ok {
				return 0, linuxerr.ENOMEM
			}
			ar = hostarch.AddrRange{Start: addr, End: addr + hostarch.Addr(opts.Length)}
		}
	}

	if mm.budget != 0 && mm.usage-mm.overlapBytesLocked(ar)+opts.Length > mm.budget {
		return 0, linuxerr.ENOMEM
	}
	mm.unmapLocked(ar)

	b := opts.Backing
	if b == nil {
		b = NewBacking(opts.Length)
		opts.Offset = 0
	}
	r := &Region{
		Start:    ar.Start,
		Length:   opts.Length,
		Perms:    opts.Perms,
		MaxPerms: opts.MaxPerms,
		Kind:     opts.Kind,
		Name:     opts.Name,
		Private:  opts.Private,
		Offset:   opts.Offset,
		backing:  b,
		mappable: opts.Mappable,
	}
	mm.insertLocked(r)
	if r.mappable != nil {
		r.mappable.AddMapping()
	}
	return ar.Start, nil
}

// MUnmap implements the semantics of Linux's munmap(2).
func (mm *MemoryManager) MUnmap(addr hostarch.Addr, length uint64) error {
	if !addr.IsPageAligned() {
		return linuxerr.EINVAL
	}
	la, ok := hostarch.PageRoundUp(length)
	if !ok || la == 0 {
		return linuxerr.EINVAL
	}
	ar, ok := addr.ToRange(la)
	if !ok {
		return linuxerr.EINVAL
	}

	mm.mu.Lock()
	defer mm.mu.Unlock()
	mm.unmapLocked(ar)
	return nil
}

// MProtect implements the semantics of Linux's mprotect(2).
func (mm *MemoryManager) MProtect(addr hostarch.Addr, length uint64, perms hostarch.AccessType) error {
	if !addr.IsPageAligned() {
		return linuxerr.EINVAL
	}
	if length == 0 {
		return nil
	}
	la, ok := hostarch.PageRoundUp(length)
	if !ok {
		return linuxerr.ENOMEM
	}
	ar, ok := addr.ToRange(la)
	if !ok {
		return linuxerr.ENOMEM
	}

	mm.mu.Lock()
	defer mm.mu.Unlock()
	if !mm.coveredLocked(ar) {
		return linuxerr.ENOMEM
	}
	rs := mm.overlappingLocked(ar)
	for _, r := range rs {
		if !r.MaxPerms.SupersetOf(perms) {
			return linuxerr.EACCES
		}
	}
	for _, r := range rs {
		var pieces []*Region
		if r.Start < ar.Start {
			pieces = append(pieces, r.slice(hostarch.AddrRange{Start: r.Start, End: ar.Start}))
		}
		mid := r.slice(r.Range().Intersect(ar))
		mid.Perms = perms
		pieces = append(pieces, mid)
		if r.End() > ar.End {
			pieces = append(pieces, r.slice(hostarch.AddrRange{Start: ar.End, End: r.End()}))
		}
		mm.replaceLocked(r, pieces...)
	}
	return nil
}

// BrkSetup sets mm's brk address to addr and its brk size to 0.
func (mm *MemoryManager) BrkSetup(addr hostarch.Addr) {
	mm.mu.Lock()
	defer mm.mu.Unlock()
	mm.brkStart = addr.MustRoundUp()
	mm.brk = mm.brkStart
}

// Brk implements the semantics of Linux's brk(2), except that it returns an
// error on failure. It always returns the resulting program break.
func (mm *MemoryManager) Brk(addr hostarch.Addr) (hostarch.Addr, error) {
	mm.mu.Lock()
	defer mm.mu.Unlock()

	if addr < mm.brkStart {
		return mm.brk, linuxerr.EINVAL
	}
	oldEnd := mm.brk.MustRoundUp()
	newEnd, ok := addr.RoundUp()
	if !ok {
		return mm.brk, linuxerr.EFAULT
	}

	switch {
	case newEnd > oldEnd:
		ar := hostarch.AddrRange{Start: oldEnd, End: newEnd}
		if !mm.isFreeLocked(ar) {
			return mm.brk, linuxerr.ENOMEM
		}
		if _, err := mm.mmapLocked(MMapOpts{
			Length:   ar.Length(),
			Addr:     ar.Start,
			Fixed:    true,
			Perms:    hostarch.ReadWrite,
			MaxPerms: hostarch.AnyAccess,
			Private:  true,
			Kind:     RegionHeap,
			Name:     "[heap]",
		}); err != nil {
			return mm.brk, err
		}
	case newEnd < oldEnd:
		mm.unmapLocked(hostarch.AddrRange{Start: newEnd, End: oldEnd})
	}
	mm.brk = addr
	return addr, nil
}

// MapStack allocates the initial process stack below top.
func (mm *MemoryManager) MapStack(top hostarch.Addr, size uint64) (hostarch.AddrRange, error) {
	sz, ok := hostarch.PageRoundUp(size)
	if !ok || sz == 0 || uint64(top) < sz {
		return hostarch.AddrRange{}, linuxerr.EINVAL
	}
	start := top.RoundDown() - hostarch.Addr(sz)

	mm.mu.Lock()
	defer mm.mu.Unlock()
	if _, err := mm.mmapLocked(MMapOpts{
		Length:   sz,
		Addr:     start,
		Fixed:    true,
		Unmap:    true,
		Perms:    hostarch.ReadWrite,
		MaxPerms: hostarch.AnyAccess,
		Private:  true,
		Kind:     RegionStack,
		Name:     "[stack]",
	}); err != nil {
		return hostarch.AddrRange{}, err
	}
	mm.stack = hostarch.AddrRange{Start: start, End: start + hostarch.Addr(sz)}
	return mm.stack, nil
}

// Fork creates a copy of mm. Private regions get a copy of their pages;
// shared regions share the same backing.
func (mm *MemoryManager) Fork() *MemoryManager {
	mm.mu.RLock()
	defer mm.mu.RUnlock()

	mm2 := NewMemoryManager(mm.budget)
	mm.regions.Ascend(func(r *Region) bool {
		nr := *r
		if r.Private {
			nr.backing = r.backing.cloneRange(r.Offset, r.Length)
			nr.Offset = 0
		}
		mm2.insertLocked(&nr)
		if nr.mappable != nil {
			nr.mappable.AddMapping()
		}
		return true
	})
	mm2.brkStart = mm.brkStart
	mm2.brk = mm.brk
	mm2.stack = mm.stack
	mm2.meta = deepcopy.Copy(mm.meta).(Metadata)
	return mm2
}

// Release unmaps everything. It is called when the address space is
// discarded by exec or exit.
func (mm *MemoryManager) Release() {
	mm.mu.Lock()
	defer mm.mu.Unlock()
	mm.unmapLocked(hostarch.AddrRange{Start: 0, End: arch.MaxUserAddress + hostarch.PageSize})
	mm.brkStart, mm.brk = 0, 0
	mm.stack = hostarch.AddrRange{}
	mm.meta = Metadata{}
}
