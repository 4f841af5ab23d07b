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
	"gvisor.dev/lacd/pkg/errors/linuxerr"
	"gvisor.dev/lacd/pkg/hostarch"
)

// DetachShm implements the semantics of Linux's shmdt(2). It unmaps every
// shared memory region that starts at addr and belongs to the same segment,
// and returns that segment's Mappable.
func (mm *MemoryManager) DetachShm(addr hostarch.Addr) (Mappable, error) {
	mm.mu.Lock()
	defer mm.mu.Unlock()

	r := mm.findLocked(addr)
	if r == nil || r.Start != addr || r.Kind != RegionShm || r.mappable == nil || r.Offset != 0 {
		return nil, linuxerr.EINVAL
	}
	m := r.mappable
	end := r.End()
	for {
		next := mm.findLocked(end)
		if next == nil || next.mappable != m || next.Offset != uint64(end-addr) {
			break
		}
		end = next.End()
	}
	mm.unmapLocked(hostarch.AddrRange{Start: addr, End: end})
	return m, nil
}
