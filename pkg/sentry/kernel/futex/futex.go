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

// Package futex provides an implementation of the futex interface as found in
// the Linux kernel. It allows one to easily transform Wait() calls into waits
// on a channel, which is useful in a Go-based kernel, for example.
//
// A single Manager serves every guest process. Waiters on different
// addresses are queued independently, each in FIFO order.
package futex

import (
	"sync"
	"sync/atomic"

	"gvisor.dev/lacd/pkg/abi/linux"
	"gvisor.dev/lacd/pkg/errors/linuxerr"
	"gvisor.dev/lacd/pkg/hostarch"
	"gvisor.dev/lacd/pkg/ilist"
)

// KeyKind indicates the type of a Key.
type KeyKind int

const (
	// KindPrivate indicates a private futex (a futex syscall with the
	// FUTEX_PRIVATE_FLAG set).
	KindPrivate KeyKind = iota

	// KindSharedPrivate indicates a shared futex on a private memory mapping.
	// Although KindPrivate and KindSharedPrivate futexes both use memory
	// addresses to identify futexes, they do not interoperate (in Linux, the
	// two are distinguished by the FUT_OFF_MMSHARED flag, which is used in key
	// comparison).
	KindSharedPrivate

	// KindSharedMappable indicates a shared futex on a memory mapping other
	// than a private anonymous memory mapping.
	KindSharedMappable
)

// Key represents something that a futex waiter may wait on.
type Key struct {
	// Kind is the type of the Key.
	Kind KeyKind

	// Mappable identifies the address space (for KindPrivate and
	// KindSharedPrivate) or the shared memory object (for
	// KindSharedMappable). It is compared by identity.
	Mappable any

	// If Kind is KindPrivate or KindSharedPrivate, Offset is the represented
	// memory address. Otherwise, Offset is the represented offset into
	// Mappable.
	Offset uint64
}

// matches returns true if a wakeup on k2 should wake a waiter waiting on k.
func (k *Key) matches(k2 *Key) bool {
	return k.Kind == k2.Kind && k.Mappable == k2.Mappable && k.Offset == k2.Offset
}

// Target abstracts memory accesses and keys of futexes.
type Target interface {
	// LoadUint32 atomically loads the 32-bit value at addr.
	LoadUint32(addr hostarch.Addr) (uint32, error)

	// CompareAndSwapUint32 atomically compares the value at addr with old
	// and, if equal, stores new. It returns the previous value.
	CompareAndSwapUint32(addr hostarch.Addr, old, new uint32) (uint32, error)

	// GetSharedKey returns a Key with kind KindSharedPrivate or
	// KindSharedMappable corresponding to the memory mapped at address addr.
	GetSharedKey(addr hostarch.Addr) (Key, error)
}

// check performs a basic equality check on the given address.
func check(t Target, addr hostarch.Addr, val uint32) error {
	cur, err := t.LoadUint32(addr)
	if err != nil {
		return err
	}
	if cur != val {
		return linuxerr.EAGAIN
	}
	return nil
}

// atomicOp performs a complex operation on the given address.
func atomicOp(t Target, addr hostarch.Addr, opIn uint32) (bool, error) {
	opType := (opIn >> 28) & 0xf
	cmp := (opIn >> 24) & 0xf
	opArg := signExtend12((opIn >> 12) & 0xfff)
	cmpArg := signExtend12(opIn & 0xfff)

	if opType&linux.FUTEX_OP_OPARG_SHIFT != 0 {
		opArg = 1 << (uint32(opArg) & 31)
		opType &^= linux.FUTEX_OP_OPARG_SHIFT
	}

	var oldVal uint32
	for {
		cur, err := t.LoadUint32(addr)
		if err != nil {
			return false, err
		}
		var newVal uint32
		switch opType {
		case linux.FUTEX_OP_SET:
			newVal = uint32(opArg)
		case linux.FUTEX_OP_ADD:
			newVal = cur + uint32(opArg)
		case linux.FUTEX_OP_OR:
			newVal = cur | uint32(opArg)
		case linux.FUTEX_OP_ANDN:
			newVal = cur &^ uint32(opArg)
		case linux.FUTEX_OP_XOR:
			newVal = cur ^ uint32(opArg)
		default:
			return false, linuxerr.ENOSYS
		}
		prev, err := t.CompareAndSwapUint32(addr, cur, newVal)
		if err != nil {
			return false, err
		}
		if prev == cur {
			oldVal = cur
			break
		}
	}

	switch cmp {
	case linux.FUTEX_OP_CMP_EQ:
		return int32(oldVal) == cmpArg, nil
	case linux.FUTEX_OP_CMP_NE:
		return int32(oldVal) != cmpArg, nil
	case linux.FUTEX_OP_CMP_LT:
		return int32(oldVal) < cmpArg, nil
	case linux.FUTEX_OP_CMP_LE:
		return int32(oldVal) <= cmpArg, nil
	case linux.FUTEX_OP_CMP_GT:
		return int32(oldVal) > cmpArg, nil
	case linux.FUTEX_OP_CMP_GE:
		return int32(oldVal) >= cmpArg, nil
	default:
		return false, linuxerr.ENOSYS
	}
}

func signExtend12(v uint32) int32 {
	return int32(v<<20) >> 20
}

// getKey returns a Key representing address addr in t.
func getKey(t Target, addr hostarch.Addr, private bool) (Key, error) {
	// Ensure the address is aligned.
	// It must be a DWORD boundary.
	if addr&0x3 != 0 {
		return Key{}, linuxerr.EINVAL
	}
	if private {
		return Key{Kind: KindPrivate, Mappable: t, Offset: uint64(addr)}, nil
	}
	return t.GetSharedKey(addr)
}

// Waiter is the struct which gets enqueued into buckets for wake up routines
// and requeue routines to scan and notify. Once a Waiter has been enqueued by
// WaitPrepare(), callers may listen on C for wake up events.
type Waiter struct {
	// Synchronization:
	//
	// - A Waiter that is not enqueued in a bucket is exclusively owned (no
	// synchronization applies).
	//
	// - A Waiter is enqueued in a bucket by calling WaitPrepare(). After this,
	// the list entry, bucket, and key are protected by the bucket.mu ("bucket
	// lock") of the containing bucket, and bitmask is immutable. Note that
	// since bucket is mutated using atomic memory operations, bucket.Load()
	// may be called without holding the bucket lock, although it may change
	// racily. See WaitComplete().
	//
	// - A Waiter is only guaranteed to be no longer queued after calling
	// WaitComplete().

	ilist.Entry[*Waiter]

	// bucket is the bucket this waiter is queued in. If bucket is nil, the
	// waiter is not waiting and is not in any bucket.
	bucket atomic.Pointer[bucket]

	// C is sent to when the Waiter is woken. It may be shared by several
	// waiters, see NewWaiterOn.
	C chan struct{}

	// wokenFlag is set when the waiter is dequeued by a wakeup.
	wokenFlag atomic.Bool

	// key is what this waiter is waiting on.
	key Key

	// The bitmask we're waiting on.
	// This is used the case of a FUTEX_WAKE_BITSET.
	bitmask uint32
}

// NewWaiter returns a new unqueued Waiter.
func NewWaiter() *Waiter {
	return NewWaiterOn(make(chan struct{}, 1))
}

// NewWaiterOn returns a new unqueued Waiter that signals c when woken. c
// must be buffered.
func NewWaiterOn(c chan struct{}) *Waiter {
	return &Waiter{C: c}
}

// Woken returns true if w has been woken since the last call to
// WaitPrepare.
func (w *Waiter) Woken() bool {
	return w.wokenFlag.Load()
}

// bucket holds a list of waiters for a given address hash.
type bucket struct {
	// mu protects waiters and contained Waiter state. See comment in Waiter.
	mu sync.Mutex

	waiters ilist.List[*Waiter]
}

// wakeLocked wakes up to n waiters matching the bitmask at the addr for this
// bucket and returns the number of waiters woken.
//
// Preconditions: b.mu must be locked.
func (b *bucket) wakeLocked(key *Key, bitmask uint32, n int) int {
	done := 0
	for w := b.waiters.Front(); done < n && w != nil; {
		if !w.key.matches(key) || w.bitmask&bitmask == 0 {
			// Not matching.
			w = w.Next()
			continue
		}

		// Remove from the bucket and wake the waiter.
		woke := w
		w = w.Next() // Next iteration.
		b.waiters.Remove(woke)
		woke.wokenFlag.Store(true)
		select {
		case woke.C <- struct{}{}:
		default:
		}

		// NOTE: The above channel write establishes a write barrier according
		// to the memory model, so nothing may be ordered around it. Since
		// we've dequeued woke and will never touch it again, we can safely
		// store nil to woke.bucket here and allow the WaitComplete() to
		// short-circuit grabbing the bucket lock. If they somehow miss the
		// store, we are still holding the lock, so we can know that they won't
		// dequeue woke, assume it's free and have the below operation
		// afterwards.
		woke.bucket.Store(nil)
		done++
	}
	return done
}

// requeueLocked takes n waiters from the bucket and moves them to naddr on the
// bucket "to".
//
// Preconditions: b and to must be locked.
func (b *bucket) requeueLocked(to *bucket, key, nkey *Key, n int) int {
	done := 0
	for w := b.waiters.Front(); done < n && w != nil; {
		if !w.key.matches(key) {
			// Not matching.
			w = w.Next()
			continue
		}

		requeued := w
		w = w.Next() // Next iteration.
		b.waiters.Remove(requeued)
		requeued.key = *nkey
		to.waiters.PushBack(requeued)
		requeued.bucket.Store(to)
		done++
	}
	return done
}

const (
	// bucketCount is the number of buckets per Manager. By having many of
	// these we reduce contention when concurrent yet unrelated calls are made.
	bucketCount     = 1 << bucketCountBits
	bucketCountBits = 10
)

// bucketIndexForAddr returns the index into Manager.buckets for addr.
func bucketIndexForAddr(addr uint64) uint64 {
	// - The bottom 2 bits of addr must be 0, per getKey.
	//
	// - On amd64, the top 16 bits of addr (bits 48-63) must be equal to bit 47
	// for a canonical address, and (on all existing platforms) bit 47 must be
	// 0 for an application address.
	//
	// Thus 19 bits of addr are "useless" for hashing, leaving only 45 "useful"
	// bits. We choose one of the simplest possible hash functions that at
	// least uses all 45 useful bits in the output, given that bucketCountBits
	// == 10. This hash function also has the property that it will usually map
	// adjacent addresses to adjacent buckets, slightly improving memory
	// locality when an application synchronization structure uses multiple
	// nearby futexes.
	h1 := (addr >> 2) + (addr >> 12) + (addr >> 22)
	h2 := (addr >> 32) + (addr >> 42)
	return (h1 + h2) % bucketCount
}

// Manager holds futex state for all guest address spaces.
type Manager struct {
	buckets [bucketCount]bucket
}

// NewManager returns an initialized futex manager.
func NewManager() *Manager {
	return &Manager{}
}

// lockBucket returns a locked bucket for the given key.
func (m *Manager) lockBucket(k *Key) *bucket {
	b := &m.buckets[bucketIndexForAddr(k.Offset)]
	b.mu.Lock()
	return b
}

// lockBuckets returns locked buckets for the given keys.
func (m *Manager) lockBuckets(k1, k2 *Key) (*bucket, *bucket) {
	// Buckets must be consistently ordered to avoid circular lock
	// dependencies. We order buckets by index (lowest index first).
	i1 := bucketIndexForAddr(k1.Offset)
	i2 := bucketIndexForAddr(k2.Offset)
	b1 := &m.buckets[i1]
	b2 := &m.buckets[i2]
	switch {
	case i1 < i2:
		b1.mu.Lock()
		b2.mu.Lock()
	case i2 < i1:
		b2.mu.Lock()
		b1.mu.Lock()
	default:
		b1.mu.Lock()
	}
	return b1, b2
}

func unlockBuckets(b1, b2 *bucket) {
	b1.mu.Unlock()
	if b2 != b1 {
		b2.mu.Unlock()
	}
}

// Wake wakes up to n waiters matching the bitmask on the given addr.
// The number of waiters woken is returned.
func (m *Manager) Wake(t Target, addr hostarch.Addr, private bool, bitmask uint32, n int) (int, error) {
	// This function is very hot; avoid defer.
	k, err := getKey(t, addr, private)
	if err != nil {
		return 0, err
	}

	b := m.lockBucket(&k)
	r := b.wakeLocked(&k, bitmask, n)

	b.mu.Unlock()
	return r, nil
}

func (m *Manager) doRequeue(t Target, addr, naddr hostarch.Addr, private bool, checkval bool, val uint32, nwake int, nreq int) (int, error) {
	k1, err := getKey(t, addr, private)
	if err != nil {
		return 0, err
	}
	k2, err := getKey(t, naddr, private)
	if err != nil {
		return 0, err
	}

	b1, b2 := m.lockBuckets(&k1, &k2)
	defer unlockBuckets(b1, b2)

	if checkval {
		if err := check(t, addr, val); err != nil {
			return 0, err
		}
	}

	// Wake the number required.
	done := b1.wakeLocked(&k1, ^uint32(0), nwake)

	// Requeue the number required.
	b1.requeueLocked(b2, &k1, &k2, nreq)

	return done, nil
}

// Requeue wakes up to nwake waiters on the given addr, and unconditionally
// requeues up to nreq waiters on naddr.
func (m *Manager) Requeue(t Target, addr, naddr hostarch.Addr, private bool, nwake int, nreq int) (int, error) {
	return m.doRequeue(t, addr, naddr, private, false, 0, nwake, nreq)
}

// RequeueCmp atomically checks that the addr contains val (via the Target),
// wakes up to nwake waiters on addr and then unconditionally requeues nreq
// waiters on naddr.
func (m *Manager) RequeueCmp(t Target, addr, naddr hostarch.Addr, private bool, val uint32, nwake int, nreq int) (int, error) {
	return m.doRequeue(t, addr, naddr, private, true, val, nwake, nreq)
}

// WakeOp atomically applies op to the memory address addr2, wakes up to nwake1
// waiters unconditionally from addr1, and, based on the original value at addr2
// and a comparison encoded in op, wakes up to nwake2 waiters from addr2.
// It returns the total number of waiters woken.
func (m *Manager) WakeOp(t Target, addr1, addr2 hostarch.Addr, private bool, nwake1 int, nwake2 int, op uint32) (int, error) {
	k1, err := getKey(t, addr1, private)
	if err != nil {
		return 0, err
	}
	k2, err := getKey(t, addr2, private)
	if err != nil {
		return 0, err
	}

	b1, b2 := m.lockBuckets(&k1, &k2)
	defer unlockBuckets(b1, b2)

	done := 0
	cond, err := atomicOp(t, addr2, op)
	if err != nil {
		return 0, err
	}

	// Wake up up to nwake1 entries from the first bucket.
	done = b1.wakeLocked(&k1, ^uint32(0), nwake1)

	// Wake up up to nwake2 entries from the second bucket if the
	// operation yielded true.
	if cond {
		done += b2.wakeLocked(&k2, ^uint32(0), nwake2)
	}

	return done, nil
}

// WaitPrepare atomically checks that addr contains val (via the Target), then
// enqueues w to be woken by a send to w.C. If WaitPrepare returns nil, the
// Waiter must be subsequently removed by calling WaitComplete, whether or not
// a wakeup is received on w.C.
func (m *Manager) WaitPrepare(w *Waiter, t Target, addr hostarch.Addr, private bool, val uint32, bitmask uint32) error {
	k, err := getKey(t, addr, private)
	if err != nil {
		return err
	}
	if bitmask == 0 {
		return linuxerr.EINVAL
	}

	// Prepare the Waiter before taking the bucket lock.
	w.wokenFlag.Store(false)
	w.key = k
	w.bitmask = bitmask

	b := m.lockBucket(&k)
	// This function is very hot; avoid defer.

	// Perform our atomic check.
	if err := check(t, addr, val); err != nil {
		b.mu.Unlock()
		return err
	}

	// Add the waiter to the bucket.
	b.waiters.PushBack(w)
	w.bucket.Store(b)

	b.mu.Unlock()
	return nil
}

// WaitComplete must be called when a Waiter previously added by WaitPrepare is
// no longer eligible to be woken.
func (m *Manager) WaitComplete(w *Waiter) {
	// Remove w from the bucket it's in.
	for {
		b := w.bucket.Load()

		// If b is nil, the waiter isn't in any bucket anymore. This can't be
		// racy because the waiter can't be concurrently re-queued in another
		// bucket.
		if b == nil {
			break
		}

		// Take the bucket lock. Note that without holding the bucket lock, the
		// waiter is not guaranteed to stay in that bucket, so after we take
		// the bucket lock, we must ensure that the bucket hasn't changed: if
		// it happens to have changed, we release the old bucket lock and try
		// again with the new bucket; if it hasn't changed, we know it won't
		// change now because we hold the lock.
		b.mu.Lock()
		if b != w.bucket.Load() {
			b.mu.Unlock()
			continue
		}

		// Remove w from b.
		b.waiters.Remove(w)
		w.bucket.Store(nil)
		b.mu.Unlock()
		break
	}
	w.key = Key{}
}

// WaitvEntry is one address of a futex_waitv(2) call.
type WaitvEntry struct {
	Addr    hostarch.Addr
	Val     uint32
	Private bool
}

// WaitMultiplePrepare enqueues one waiter per entry, all signalling c. If any
// value check fails, every waiter already enqueued is removed and the error
// is returned. On success the caller must pass the returned waiters to
// WaitMultipleComplete.
func (m *Manager) WaitMultiplePrepare(t Target, entries []WaitvEntry, c chan struct{}) ([]*Waiter, error) {
	if len(entries) == 0 || len(entries) > linux.FUTEX_WAITV_MAX {
		return nil, linuxerr.EINVAL
	}
	ws := make([]*Waiter, 0, len(entries))
	for _, e := range entries {
		w := NewWaiterOn(c)
		if err := m.WaitPrepare(w, t, e.Addr, e.Private, e.Val, linux.FUTEX_BITSET_MATCH_ANY); err != nil {
			m.WaitMultipleComplete(ws)
			return nil, err
		}
		ws = append(ws, w)
	}
	return ws, nil
}

// WaitMultipleComplete dequeues all waiters and returns the index of the
// first one that was woken, or -1.
func (m *Manager) WaitMultipleComplete(ws []*Waiter) int {
	woken := -1
	for i, w := range ws {
		m.WaitComplete(w)
		if woken < 0 && w.Woken() {
			woken = i
		}
	}
	return woken
}
