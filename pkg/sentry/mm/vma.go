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
	"gvisor.dev/lacd/pkg/hostarch"
	"gvisor.dev/lacd/pkg/sentry/arch"
)

// minUserAddress is the lowest address mmap will hand out.
const minUserAddress hostarch.Addr = 0x10000

// findLocked returns the region containing addr, or nil.
//
// Preconditions: mm.mu must be locked.
func (mm *MemoryManager) findLocked(addr hostarch.Addr) *Region {
	var found *Region
	mm.regions.DescendLessOrEqual(&Region{Start: addr}, func(r *Region) bool {
		if r.Start <= addr && addr < r.End() {
			found = r
		}
		return false
	})
	return found
}

// overlappingLocked returns the regions overlapping ar in address order.
//
// Preconditions: mm.mu must be locked.
func (mm *MemoryManager) overlappingLocked(ar hostarch.AddrRange) []*Region {
	var rs []*Region
	if r := mm.findLocked(ar.Start); r != nil {
		rs = append(rs, r)
	}
	mm.regions.AscendRange(&Region{Start: ar.Start + 1}, &Region{Start: ar.End}, func(r *Region) bool {
		rs = append(rs, r)
		return true
	})
	return rs
}

// coveredLocked returns true if every byte of ar is mapped.
//
// Preconditions: mm.mu must be locked.
func (mm *MemoryManager) coveredLocked(ar hostarch.AddrRange) bool {
	cur := ar.Start
	for _, r := range mm.overlappingLocked(ar) {
		if r.Start > cur {
			return false
		}
		cur = r.End()
	}
	return cur >= ar.End
}

// insertLocked adds r to the tree.
//
// Preconditions: mm.mu must be locked. r must not overlap any region.
func (mm *MemoryManager) insertLocked(r *Region) {
	mm.regions.ReplaceOrInsert(r)
	mm.usage += r.Length
}

// removeLocked deletes r from the tree.
//
// Preconditions: mm.mu must be locked.
func (mm *MemoryManager) removeLocked(r *Region) {
	mm.regions.Delete(r)
	mm.usage -= r.Length
}

// replaceLocked removes r and inserts pieces in its place, keeping mapping
// counts of shared objects in step.
//
// Preconditions: mm.mu must be locked. Every piece is a slice of r.
func (mm *MemoryManager) replaceLocked(r *Region, pieces ...*Region) {
	mm.removeLocked(r)
	for _, p := range pieces {
		mm.insertLocked(p)
		if p.mappable != nil {
			p.mappable.AddMapping()
		}
	}
	if r.mappable != nil {
		r.mappable.RemoveMapping()
	}
}

// unmapLocked removes all mappings in ar, splitting regions that straddle
// its edges.
//
// Preconditions: mm.mu must be locked. ar is page-aligned.
func (mm *MemoryManager) unmapLocked(ar hostarch.AddrRange) {
	for _, r := range mm.overlappingLocked(ar) {
		var keep []*Region
		if r.Start < ar.Start {
			keep = append(keep, r.slice(hostarch.AddrRange{Start: r.Start, End: ar.Start}))
		}
		if r.End() > ar.End {
			keep = append(keep, r.slice(hostarch.AddrRange{Start: ar.End, End: r.End()}))
		}
		mm.replaceLocked(r, keep...)
	}
}

// overlapBytesLocked returns the number of mapped bytes within ar.
//
// Preconditions: mm.mu must be locked.
func (mm *MemoryManager) overlapBytesLocked(ar hostarch.AddrRange) uint64 {
	var n uint64
	for _, r := range mm.overlappingLocked(ar) {
		n += r.Range().Intersect(ar).Length()
	}
	return n
}

// findAvailableLocked finds a free range of length bytes, searching top-down
// from arch.MmapBase.
//
// Preconditions: mm.mu must be locked. length is page-aligned.
func (mm *MemoryManager) findAvailableLocked(length uint64) (hostarch.Addr, bool) {
	top := arch.MmapBase
	var (
		addr  hostarch.Addr
		found bool
	)
	mm.regions.Descend(func(r *Region) bool {
		if r.Start >= top {
			return true
		}
		if r.End() <= top && uint64(top-r.End()) >= length {
			addr, found = top-hostarch.Addr(length), true
			return false
		}
		top = r.Start
		return true
	})
	if !found && top >= minUserAddress && uint64(top-minUserAddress) >= length {
		addr, found = top-hostarch.Addr(length), true
	}
	return addr, found
}

// isFreeLocked returns true if nothing is mapped in ar.
//
// Preconditions: mm.mu must be locked.
func (mm *MemoryManager) isFreeLocked(ar hostarch.AddrRange) bool {
	return len(mm.overlappingLocked(ar)) == 0
}
