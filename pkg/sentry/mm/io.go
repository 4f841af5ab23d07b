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
	"bytes"

	"gvisor.dev/lacd/pkg/abi/linux"
	"gvisor.dev/lacd/pkg/errors/linuxerr"
	"gvisor.dev/lacd/pkg/hostarch"
	"gvisor.dev/lacd/pkg/marshal"
	"gvisor.dev/lacd/pkg/sentry/arch"
)

// IOOpts contains options applicable to memory copying.
type IOOpts struct {
	// If IgnorePermissions is true, application-defined memory protections set
	// by mmap(2) or mprotect(2) will be ignored. (Memory protections required
	// by the target of the mapping are never ignored.)
	IgnorePermissions bool
}

// CheckIORange is similar to hostarch.Addr.ToRange, but applies bounds checks
// consistent with Linux's arch/x86/include/asm/uaccess.h:access_ok().
//
// Preconditions: length >= 0.
func (mm *MemoryManager) CheckIORange(addr hostarch.Addr, length int64) (hostarch.AddrRange, bool) {
	// Note that access_ok() constrains end even if length == 0.
	ar, ok := addr.ToRange(uint64(length))
	return ar, (ok && ar.End <= arch.MaxUserAddress+hostarch.PageSize)
}

// withRegionsLocked calls fn for each region-sized chunk of ar, in order. It stops
// with EFAULT at the first unmapped byte or the first byte whose region does
// not permit at.
//
// Preconditions: mm.mu must be locked.
func (mm *MemoryManager) withRegionsLocked(ar hostarch.AddrRange, at hostarch.AccessType, opts IOOpts, fn func(r *Region, chunk hostarch.AddrRange, done int)) (int, error) {
	cur := ar.Start
	for cur < ar.End {
		r := mm.findLocked(cur)
		if r == nil {
			return int(cur - ar.Start), linuxerr.EFAULT
		}
		if !opts.IgnorePermissions && !r.Perms.SupersetOf(at) {
			return int(cur - ar.Start), linuxerr.EFAULT
		}
		end := r.End()
		if end > ar.End {
			end = ar.End
		}
		fn(r, hostarch.AddrRange{Start: cur, End: end}, int(cur-ar.Start))
		cur = end
	}
	return int(ar.Length()), nil
}

// CopyOut copies src to guest memory at addr.
func (mm *MemoryManager) CopyOut(addr hostarch.Addr, src []byte, opts IOOpts) (int, error) {
	ar, ok := mm.CheckIORange(addr, int64(len(src)))
	if !ok {
		return 0, linuxerr.EFAULT
	}
	mm.mu.RLock()
	defer mm.mu.RUnlock()
	return mm.withRegionsLocked(ar, hostarch.Write, opts, func(r *Region, chunk hostarch.AddrRange, done int) {
		r.backing.WriteAt(src[done:done+int(chunk.Length())], r.Offset+uint64(chunk.Start-r.Start))
	})
}

// CopyIn copies len(dst) bytes of guest memory at addr into dst.
func (mm *MemoryManager) CopyIn(addr hostarch.Addr, dst []byte, opts IOOpts) (int, error) {
	ar, ok := mm.CheckIORange(addr, int64(len(dst)))
	if !ok {
		return 0, linuxerr.EFAULT
	}
	mm.mu.RLock()
	defer mm.mu.RUnlock()
	return mm.withRegionsLocked(ar, hostarch.Read, opts, func(r *Region, chunk hostarch.AddrRange, done int) {
		r.backing.ReadAt(dst[done:done+int(chunk.Length())], r.Offset+uint64(chunk.Start-r.Start))
	})
}

// CopyOutBytes implements marshal.CopyContext.CopyOutBytes.
func (mm *MemoryManager) CopyOutBytes(addr hostarch.Addr, src []byte) (int, error) {
	return mm.CopyOut(addr, src, IOOpts{})
}

// CopyInBytes implements marshal.CopyContext.CopyInBytes.
func (mm *MemoryManager) CopyInBytes(addr hostarch.Addr, dst []byte) (int, error) {
	return mm.CopyIn(addr, dst, IOOpts{})
}

// ZeroOut zeroes toZero bytes of guest memory at addr.
func (mm *MemoryManager) ZeroOut(addr hostarch.Addr, toZero int64, opts IOOpts) (int64, error) {
	ar, ok := mm.CheckIORange(addr, toZero)
	if !ok {
		return 0, linuxerr.EFAULT
	}
	mm.mu.RLock()
	defer mm.mu.RUnlock()
	n, err := mm.withRegionsLocked(ar, hostarch.Write, opts, func(r *Region, chunk hostarch.AddrRange, done int) {
		r.backing.mu.Lock()
		r.backing.zeroLocked(r.Offset+uint64(chunk.Start-r.Start), chunk.Length())
		r.backing.mu.Unlock()
	})
	return int64(n), err
}

// CopyInString copies a NUL-terminated string of length at most maxlen from
// guest memory at addr. If no NUL is found within maxlen bytes it returns
// ENAMETOOLONG.
func (mm *MemoryManager) CopyInString(addr hostarch.Addr, maxlen int) (string, error) {
	var buf []byte
	for len(buf) < maxlen {
		// Read up to the end of the page, so that a string ending just
		// before an unmapped page succeeds.
		chunk := int(hostarch.PageSize - addr.PageOffset())
		if rem := maxlen - len(buf); chunk > rem {
			chunk = rem
		}
		b := make([]byte, chunk)
		n, err := mm.CopyIn(addr, b, IOOpts{})
		if i := bytes.IndexByte(b[:n], 0); i >= 0 {
			return string(append(buf, b[:i]...)), nil
		}
		if err != nil {
			return "", err
		}
		buf = append(buf, b...)
		addr += hostarch.Addr(chunk)
	}
	return "", linuxerr.ENAMETOOLONG
}

// CopyOutString copies s followed by a NUL to guest memory at addr.
func (mm *MemoryManager) CopyOutString(addr hostarch.Addr, s string) (int, error) {
	return mm.CopyOut(addr, append([]byte(s), 0), IOOpts{})
}

// CopyInVector copies a NULL-terminated vector of strings from guest memory
// at addr, as the argv and envp arguments of execve(2). Each string may be
// at most maxElemSize bytes including its NUL; the total, including
// pointers, may be at most maxTotalSize bytes. It returns E2BIG if either
// limit is exceeded.
func (mm *MemoryManager) CopyInVector(addr hostarch.Addr, maxElemSize, maxTotalSize int) ([]string, error) {
	var v []string
	total := 0
	var ptr [8]byte
	for {
		if _, err := mm.CopyInBytes(addr, ptr[:]); err != nil {
			return nil, err
		}
		p := hostarch.Addr(hostarch.ByteOrder.Uint64(ptr[:]))
		if p == 0 {
			return v, nil
		}
		s, err := mm.CopyInString(p, maxElemSize)
		if err != nil {
			if err == linuxerr.ENAMETOOLONG {
				return nil, linuxerr.E2BIG
			}
			return nil, err
		}
		total += len(s) + 1 + len(ptr)
		if total > maxTotalSize {
			return nil, linuxerr.E2BIG
		}
		v = append(v, s)
		addr += hostarch.Addr(len(ptr))
	}
}

// CopyInIovecs copies in count iovecs from addr and returns them as address
// ranges. Zero-length iovecs are skipped.
func (mm *MemoryManager) CopyInIovecs(addr hostarch.Addr, count int) ([]hostarch.AddrRange, error) {
	if count < 0 || count > linux.UIO_MAXIOV {
		return nil, linuxerr.EINVAL
	}
	iovs := make([]linux.IOVec, count)
	if _, err := marshal.CopySliceIn(mm, addr, iovs); err != nil {
		return nil, err
	}
	var total uint64
	ars := make([]hostarch.AddrRange, 0, count)
	for _, iov := range iovs {
		if int64(iov.Len) < 0 {
			return nil, linuxerr.EINVAL
		}
		total += iov.Len
		if int64(total) < 0 {
			return nil, linuxerr.EINVAL
		}
		if iov.Len == 0 {
			continue
		}
		ar, ok := mm.CheckIORange(hostarch.Addr(iov.Base), int64(iov.Len))
		if !ok {
			return nil, linuxerr.EFAULT
		}
		ars = append(ars, ar)
	}
	return ars, nil
}

// atomicUint32 runs fn on the backing bytes of the aligned word at addr with
// the backing locked, so that it is atomic with respect to all other
// accessors of the backing.
func (mm *MemoryManager) atomicUint32(addr hostarch.Addr, at hostarch.AccessType, fn func(cur uint32) (uint32, bool)) (uint32, error) {
	if addr&3 != 0 {
		return 0, linuxerr.EINVAL
	}
	mm.mu.RLock()
	defer mm.mu.RUnlock()
	r := mm.findLocked(addr)
	if r == nil || !r.Perms.SupersetOf(at) {
		return 0, linuxerr.EFAULT
	}
	off := r.Offset + uint64(addr-r.Start)
	b := r.backing
	b.mu.Lock()
	defer b.mu.Unlock()
	var buf [4]byte
	b.readLocked(buf[:], off)
	cur := hostarch.ByteOrder.Uint32(buf[:])
	if nv, store := fn(cur); store {
		hostarch.ByteOrder.PutUint32(buf[:], nv)
		b.writeLocked(buf[:], off)
	}
	return cur, nil
}

// LoadUint32 atomically loads the 32-bit value at addr.
func (mm *MemoryManager) LoadUint32(addr hostarch.Addr) (uint32, error) {
	return mm.atomicUint32(addr, hostarch.Read, func(uint32) (uint32, bool) { return 0, false })
}

// SwapUint32 atomically sets the 32-bit value at addr to new and returns the
// previous value.
func (mm *MemoryManager) SwapUint32(addr hostarch.Addr, new uint32) (uint32, error) {
	return mm.atomicUint32(addr, hostarch.ReadWrite, func(uint32) (uint32, bool) { return new, true })
}

// CompareAndSwapUint32 atomically compares the 32-bit value at addr to old;
// if they are equal, the value is set to new. In either case the previous
// value is returned.
func (mm *MemoryManager) CompareAndSwapUint32(addr hostarch.Addr, old, new uint32) (uint32, error) {
	return mm.atomicUint32(addr, hostarch.ReadWrite, func(cur uint32) (uint32, bool) { return new, cur == old })
}
