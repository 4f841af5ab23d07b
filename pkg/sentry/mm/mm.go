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

// Package mm provides a guest address space model: an ordered set of
// non-overlapping regions backed by sparse page stores, plus the
// bounds-checked memory-access capability used by syscall handlers.
//
// Lock order:
//
//	MemoryManager.mu
//		Backing.mu
package mm

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/google/btree"

	"gvisor.dev/lacd/pkg/hostarch"
	"gvisor.dev/lacd/pkg/sentry/arch"
)

// RegionKind describes what a region holds.
type RegionKind int

// Region kinds.
const (
	RegionAnonymous RegionKind = iota
	RegionFile
	RegionStack
	RegionHeap
	RegionShm
)

// String implements fmt.Stringer.
func (k RegionKind) String() string {
	switch k {
	case RegionAnonymous:
		return "anonymous"
	case RegionFile:
		return "file"
	case RegionStack:
		return "stack"
	case RegionHeap:
		return "heap"
	case RegionShm:
		return "shm"
	default:
		return "unknown"
	}
}

// Mappable is implemented by shared objects that track how many regions map
// them, such as System V shared memory segments.
type Mappable interface {
	// AddMapping is called when a region mapping the object is created,
	// including by split or fork.
	AddMapping()

	// RemoveMapping is called when a region mapping the object goes away.
	RemoveMapping()
}

// Region is a contiguous range of guest address space with uniform
// permissions and backing.
type Region struct {
	// Start is the page-aligned first address.
	Start hostarch.Addr

	// Length is the page-aligned length in bytes.
	Length uint64

	// Perms are the current permissions.
	Perms hostarch.AccessType

	// MaxPerms bounds what mprotect may grant.
	MaxPerms hostarch.AccessType

	// Kind describes the contents.
	Kind RegionKind

	// Name is shown in /proc/[pid]/maps, e.g. a file path or "[stack]".
	Name string

	// Private regions are copied on fork; shared regions are shared.
	Private bool

	// Offset is the offset of Start within backing.
	Offset uint64

	backing  *Backing
	mappable Mappable
}

// End returns the first address past the region.
func (r *Region) End() hostarch.Addr {
	return r.Start + hostarch.Addr(r.Length)
}

// Range returns the range covered by r.
func (r *Region) Range() hostarch.AddrRange {
	return hostarch.AddrRange{Start: r.Start, End: r.End()}
}

// slice returns a copy of r restricted to ar, which must be a page-aligned
// subrange of r.
func (r *Region) slice(ar hostarch.AddrRange) *Region {
	nr := *r
	nr.Start = ar.Start
	nr.Length = ar.Length()
	nr.Offset = r.Offset + uint64(ar.Start-r.Start)
	return &nr
}

// Metadata is per-image information used by /proc and exec.
type Metadata struct {
	// Argv is the address range of the argument strings.
	Argv hostarch.AddrRange

	// Envv is the address range of the environment strings.
	Envv hostarch.AddrRange

	// Auxv is the auxiliary vector of the loaded image.
	Auxv arch.Auxv

	// Executable is the guest path of the loaded image.
	Executable string
}

// MemoryManager implements a guest address space.
type MemoryManager struct {
	// mu protects all fields below.
	mu sync.RWMutex

	// regions is ordered by Start. Regions never overlap.
	regions *btree.BTreeG[*Region]

	// usage is the sum of region lengths.
	usage uint64

	// budget is the maximum value of usage. Zero means unlimited.
	budget uint64

	// brkStart is the start of the heap; brk is the current program break.
	brkStart hostarch.Addr
	brk      hostarch.Addr

	// stack is the range of the initial stack region.
	stack hostarch.AddrRange

	meta Metadata

	// users is the number of processes sharing this address space.
	users atomic.Int32
}

func regionLess(a, b *Region) bool {
	return a.Start < b.Start
}

// NewMemoryManager returns an empty address space limited to budget mapped
// bytes. A zero budget is unlimited.
func NewMemoryManager(budget uint64) *MemoryManager {
	mm := &MemoryManager{
		regions: btree.NewG(8, regionLess),
		budget:  budget,
	}
	mm.users.Store(1)
	return mm
}

// IncUsers increments mm's user count and returns true. If the user count is
// already 0, IncUsers does nothing and returns false.
func (mm *MemoryManager) IncUsers() bool {
	for {
		users := mm.users.Load()
		if users == 0 {
			return false
		}
		if mm.users.CompareAndSwap(users, users+1) {
			return true
		}
	}
}

// DecUsers decrements mm's user count. If the user count reaches 0, all
// mappings in mm are unmapped.
func (mm *MemoryManager) DecUsers() {
	if users := mm.users.Add(-1); users > 0 {
		return
	} else if users < 0 {
		panic(fmt.Sprintf("Invalid MemoryManager.users: %d", users))
	}
	mm.Release()
}

// Budget returns the mapped-bytes budget.
func (mm *MemoryManager) Budget() uint64 {
	return mm.budget
}

// Metadata returns a copy of the image metadata.
func (mm *MemoryManager) Metadata() Metadata {
	mm.mu.RLock()
	defer mm.mu.RUnlock()
	return mm.meta
}

// SetMetadata replaces the image metadata.
func (mm *MemoryManager) SetMetadata(m Metadata) {
	mm.mu.Lock()
	mm.meta = m
	mm.mu.Unlock()
}

// Regions returns a snapshot of all regions in address order.
func (mm *MemoryManager) Regions() []Region {
	mm.mu.RLock()
	defer mm.mu.RUnlock()
	rs := make([]Region, 0, mm.regions.Len())
	mm.regions.Ascend(func(r *Region) bool {
		rs = append(rs, *r)
		return true
	})
	return rs
}

// VirtualMemorySize returns the total mapped size in bytes.
func (mm *MemoryManager) VirtualMemorySize() uint64 {
	mm.mu.RLock()
	defer mm.mu.RUnlock()
	return mm.usage
}

// ResidentSetSize returns the number of bytes of populated pages.
func (mm *MemoryManager) ResidentSetSize() uint64 {
	mm.mu.RLock()
	defer mm.mu.RUnlock()
	var rss uint64
	mm.regions.Ascend(func(r *Region) bool {
		rss += r.backing.residentIn(r.Offset, r.Length)
		return true
	})
	return rss
}

// StackRange returns the range of the initial stack.
func (mm *MemoryManager) StackRange() hostarch.AddrRange {
	mm.mu.RLock()
	defer mm.mu.RUnlock()
	return mm.stack
}
