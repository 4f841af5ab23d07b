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

package mm

import (
	"gvisor.dev/lacd/pkg/errors/linuxerr"
	"gvisor.dev/lacd/pkg/hostarch"
	"gvisor.dev/lacd/pkg/sentry/kernel/futex"
)

// GetSharedFutexKey returns the key identifying the shared futex at addr.
func (mm *MemoryManager) GetSharedFutexKey(addr hostarch.Addr) (futex.Key, error) {
	mm.mu.RLock()
	defer mm.mu.RUnlock()
	r := mm.findLocked(addr)
	if r == nil || !r.Perms.Read {
		return futex.Key{}, linuxerr.EFAULT
	}
	if r.Private {
		return futex.Key{
			Kind:     futex.KindSharedPrivate,
			Mappable: mm,
			Offset:   uint64(addr),
		}, nil
	}
	return futex.Key{
		Kind:     futex.KindSharedMappable,
		Mappable: r.backing,
		Offset:   r.Offset + uint64(addr-r.Start),
	}, nil
}

// GetSharedKey implements futex.Target.GetSharedKey.
func (mm *MemoryManager) GetSharedKey(addr hostarch.Addr) (futex.Key, error) {
	return mm.GetSharedFutexKey(addr)
}
