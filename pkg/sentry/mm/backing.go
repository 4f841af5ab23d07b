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
	"sync"

	"gvisor.dev/lacd/pkg/hostarch"
)

type page [hostarch.PageSize]byte

// Backing is a sparse page store. Pages that were never written read as
// zero and use no memory.
type Backing struct {
	mu    sync.Mutex
	pages map[uint64]*page
	size  uint64
}

// NewBacking returns an empty backing of the given size in bytes.
func NewBacking(size uint64) *Backing {
	return &Backing{pages: make(map[uint64]*page), size: size}
}

// Size returns the size of b in bytes.
func (b *Backing) Size() uint64 {
	return b.size
}

// ReadAt copies from b at off into dst. Reads past the end are truncated.
func (b *Backing) ReadAt(dst []byte, off uint64) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.readLocked(dst, off)
}

func (b *Backing) readLocked(dst []byte, off uint64) int {
	if off >= b.size {
		return 0
	}
	if rem := b.size - off; uint64(len(dst)) > rem {
		dst = dst[:rem]
	}
	done := 0
	for done < len(dst) {
		idx, pgoff := (off+uint64(done))/hostarch.PageSize, (off+uint64(done))%hostarch.PageSize
		n := len(dst) - done
		if max := int(hostarch.PageSize - pgoff); n > max {
			n = max
		}
		if p, ok := b.pages[idx]; ok {
			copy(dst[done:done+n], p[pgoff:])
		} else {
			clear(dst[done : done+n])
		}
		done += n
	}
	return done
}

// WriteAt copies src into b at off. Writes past the end are truncated.
func (b *Backing) WriteAt(src []byte, off uint64) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.writeLocked(src, off)
}

func (b *Backing) writeLocked(src []byte, off uint64) int {
	if off >= b.size {
		return 0
	}
	if rem := b.size - off; uint64(len(src)) > rem {
		src = src[:rem]
	}
	done := 0
	for done < len(src) {
		idx, pgoff := (off+uint64(done))/hostarch.PageSize, (off+uint64(done))%hostarch.PageSize
		n := len(src) - done
		if max := int(hostarch.PageSize - pgoff); n > max {
			n = max
		}
		p, ok := b.pages[idx]
		if !ok {
			p = new(page)
			b.pages[idx] = p
		}
		copy(p[pgoff:], src[done:done+n])
		done += n
	}
	return done
}

// zeroLocked zeroes n bytes at off, dropping whole pages.
func (b *Backing) zeroLocked(off, n uint64) {
	end := off + n
	for off < end {
		idx, pgoff := off/hostarch.PageSize, off%hostarch.PageSize
		chunk := hostarch.PageSize - pgoff
		if chunk > end-off {
			chunk = end - off
		}
		if p, ok := b.pages[idx]; ok {
			if chunk == hostarch.PageSize {
				delete(b.pages, idx)
			} else {
				clear(p[pgoff : pgoff+chunk])
			}
		}
		off += chunk
	}
}

// cloneRange returns a new backing holding a copy of [off, off+n) of b,
// rebased to offset zero. off must be page-aligned.
func (b *Backing) cloneRange(off, n uint64) *Backing {
	b.mu.Lock()
	defer b.mu.Unlock()
	nb := NewBacking(n)
	first, last := off/hostarch.PageSize, (off+n+hostarch.PageSize-1)/hostarch.PageSize
	for idx, p := range b.pages {
		if idx < first || idx >= last {
			continue
		}
		cp := *p
		nb.pages[idx-first] = &cp
	}
	return nb
}

// residentIn returns the populated bytes within [off, off+n).
func (b *Backing) residentIn(off, n uint64) uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	first, last := off/hostarch.PageSize, (off+n+hostarch.PageSize-1)/hostarch.PageSize
	var count uint64
	for idx := range b.pages {
		if idx >= first && idx < last {
			count++
		}
	}
	return count * hostarch.PageSize
}
