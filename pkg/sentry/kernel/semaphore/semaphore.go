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

// Package semaphore implements System V semaphores.
package semaphore

import (
	"fmt"
	"sync"
	"time"

	"gvisor.dev/lacd/pkg/abi/linux"
	"gvisor.dev/lacd/pkg/errors/linuxerr"
	"gvisor.dev/lacd/pkg/hostarch"
	"gvisor.dev/lacd/pkg/ilist"
	"gvisor.dev/lacd/pkg/sentry/kernel/auth"
	"gvisor.dev/lacd/pkg/sentry/kernel/ipc"
)

const (
	// Maximum semaphore value.
	valueMax = linux.SEMVMX

	// Maximum number of semaphore sets.
	setsMax = linux.SEMMNI

	// Maximum number of semaphores in a semaphore set.
	semsMax = linux.SEMMSL

	// Maximum number of semaphores in all semaphore sets.
	semsTotalMax = linux.SEMMNS
)

// Registry maintains a set of semaphores that can be found by key or ID.
type Registry struct {
	// mu protects all fields below.
	mu sync.Mutex

	// reg defines basic fields and operations needed for all SysV registries.
	reg *ipc.Registry
}

// Set represents a set of semaphores that can be operated atomically.
type Set struct {
	// registry owning this sem set. Immutable.
	registry *Registry

	// mu protects all fields below.
	mu sync.Mutex

	obj *ipc.Object

	opTime     time.Time
	changeTime time.Time

	// sems holds all semaphores in the set. The slice itself is immutable after
	// it's been set, however each 'sem' object in the slice requires 'mu' lock.
	sems []sem

	// dead is set to true when the set is removed and can't be reached anymore.
	// All waiters must wake up and fail when set is dead.
	dead bool
}

// sem represents a single semaphore from a set.
type sem struct {
	value   int16
	waiters ilist.List[*Waiter]
	pid     int32
}

// Waiter represents a caller whose operations could not be applied yet. It
// is queued on the semaphore it blocked on, and its operations are applied on
// its behalf, in arrival order, once they can all succeed. C is notified when
// that happens or when the set is removed.
type Waiter struct {
	ilist.Entry[*Waiter]

	// value represents how much resource the waiter needs to wake up.
	// The value is either 0 or negative.
	value int16

	// num is the semaphore the waiter is queued on.
	num int32

	// ops and pid are immutable.
	ops []linux.Sembuf
	pid int32

	// done and err are protected by Set.mu. They are stable once ch has been
	// notified.
	done bool
	err  error

	ch chan struct{}
}

// C returns the channel notified when the waiter completes.
func (w *Waiter) C() <-chan struct{} {
	return w.ch
}

// Err returns the result of the operations. It may only be called after C
// has been notified.
func (w *Waiter) Err() error {
	return w.err
}

// complete records the result and notifies the waiter.
//
// Preconditions: Set.mu must be held.
func (w *Waiter) complete(err error) {
	w.done = true
	w.err = err
	w.ch <- struct{}{}
}

// NewRegistry creates a new semaphore set registry.
func NewRegistry() *Registry {
	return &Registry{reg: ipc.NewRegistry()}
}

// FindOrCreate searches for a semaphore set that matches 'key'. If not found,
// it may create a new one if requested. If private is true, key is ignored and
// a new set is always created. If create is false, it fails if a set cannot
// be found. If exclusive is true, it fails if a set with the same key already
// exists.
func (r *Registry) FindOrCreate(creds *auth.Credentials, key ipc.Key, nsems int32, mode uint16, private, create, exclusive bool) (*Set, error) {
	if nsems < 0 || nsems > semsMax {
		return nil, linuxerr.EINVAL
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if !private {
		set, err := r.reg.Find(creds, key, mode, create, exclusive)
		if err != nil {
			return nil, err
		}

		// Validate semaphore-specific parameters.
		if set != nil {
			set := set.(*Set)
			if nsems > int32(set.Size()) {
				return nil, linuxerr.EINVAL
			}
			return set, nil
		}
	}

	// Zero is only valid if an existing set is found.
	if nsems == 0 {
		return nil, linuxerr.EINVAL
	}

	// Apply system limits.
	if r.reg.ObjectCount() >= setsMax {
		return nil, linuxerr.ENOSPC
	}
	if r.totalSems() > int(semsTotalMax-nsems) {
		return nil, linuxerr.ENOSPC
	}

	// Finally create a new set.
	return r.newSetLocked(key, ipc.OwnerFromCredentials(creds), mode, nsems, private)
}

// Remove removes set with give 'id' from the registry and marks the set as
// dead. All waiters will be awakened and fail.
func (r *Registry) Remove(id ipc.ID, creds *auth.Credentials) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.reg.Remove(id, creds)
}

// newSetLocked creates a new Set using given fields. An error is returned if there
// are no more available identifiers.
//
// Precondition: r.mu must be held.
func (r *Registry) newSetLocked(key ipc.Key, creator ipc.Owner, mode uint16, nsems int32, private bool) (*Set, error) {
	set := &Set{
		registry:   r,
		obj:        ipc.NewObject(key, creator, mode),
		changeTime: time.Now(),
		sems:       make([]sem, nsems),
	}

	if err := r.reg.Register(set, private); err != nil {
		return nil, err
	}
	return set, nil
}

// FindByID looks up a set given an ID.
func (r *Registry) FindByID(id ipc.ID) *Set {
	r.mu.Lock()
	defer r.mu.Unlock()
	mech := r.reg.FindByID(id)
	if mech == nil {
		return nil
	}
	return mech.(*Set)
}

func (r *Registry) totalSems() int {
	totalSems := 0
	r.reg.ForAllObjects(
		func(o ipc.Mechanism) {
			totalSems += o.(*Set).Size()
		},
	)
	return totalSems
}

// ID returns semaphore's ID.
func (s *Set) ID() ipc.ID {
	return s.obj.ID
}

// Object implements ipc.Mechanism.Object.
func (s *Set) Object() *ipc.Object {
	return s.obj
}

// Lock implements ipc.Mechanism.Lock.
func (s *Set) Lock() {
	s.mu.Lock()
}

// Unlock implements ipc.mechanism.Unlock.
func (s *Set) Unlock() {
	s.mu.Unlock()
}

func (s *Set) findSem(num int32) *sem {
	if num < 0 || int(num) >= s.Size() {
		return nil
	}
	return &s.sems[num]
}

// Size returns the number of semaphores in the set. Size is immutable.
func (s *Set) Size() int {
	return len(s.sems)
}

// Set modifies attributes for a semaphore set. See semctl(IPC_SET).
func (s *Set) Set(creds *auth.Credentials, ds *linux.SemidDS) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.obj.Set(creds, &ds.SemPerm); err != nil {
		return err
	}

	s.changeTime = time.Now()
	return nil
}

// GetStat extracts semid_ds information from the set.
func (s *Set) GetStat(creds *auth.Credentials) (*linux.SemidDS, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	// "The calling process must have read permission on the semaphore set."
	if !s.obj.CheckPermissions(creds, hostarch.Read) {
		return nil, linuxerr.EACCES
	}

	return &linux.SemidDS{
		SemPerm:  s.obj.Perm(),
		SemOTime: unixTime(s.opTime),
		SemCTime: unixTime(s.changeTime),
		SemNSems: uint64(s.Size()),
	}, nil
}

func unixTime(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.Unix()
}

// SetVal overrides a semaphore value, waking up waiters as needed.
func (s *Set) SetVal(num int32, val int32, creds *auth.Credentials, pid int32) error {
	if val < 0 || val > valueMax {
		return linuxerr.ERANGE
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// "The calling process must have alter permission on the semaphore set."
	if !s.obj.CheckPermissions(creds, hostarch.Write) {
		return linuxerr.EACCES
	}

	sem := s.findSem(num)
	if sem == nil {
		return linuxerr.ERANGE
	}

	sem.value = int16(val)
	sem.pid = pid
	s.changeTime = time.Now()
	s.wakeWaitersLocked()
	return nil
}

// SetValAll overrides all semaphores values, waking up waiters as needed. It also
// sets semaphore's PID which was fixed in Linux 4.6.
//
// 'len(vals)' must be equal to 's.Size()'.
func (s *Set) SetValAll(vals []uint16, creds *auth.Credentials, pid int32) error {
	if len(vals) != s.Size() {
		panic(fmt.Sprintf("vals length (%d) different that Set.Size() (%d)", len(vals), s.Size()))
	}

	for _, val := range vals {
		if val > valueMax {
			return linuxerr.ERANGE
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// "The calling process must have alter permission on the semaphore set."
	if !s.obj.CheckPermissions(creds, hostarch.Write) {
		return linuxerr.EACCES
	}

	for i, val := range vals {
		sem := &s.sems[i]
		sem.value = int16(val)
		sem.pid = pid
	}
	s.changeTime = time.Now()
	s.wakeWaitersLocked()
	return nil
}

// GetVal returns a semaphore value.
func (s *Set) GetVal(num int32, creds *auth.Credentials) (int16, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	// "The calling process must have read permission on the semaphore set."
	if !s.obj.CheckPermissions(creds, hostarch.Read) {
		return 0, linuxerr.EACCES
	}

	sem := s.findSem(num)
	if sem == nil {
		return 0, linuxerr.ERANGE
	}
	return sem.value, nil
}

// GetValAll returns value for all semaphores.
func (s *Set) GetValAll(creds *auth.Credentials) ([]uint16, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	// "The calling process must have read permission on the semaphore set."
	if !s.obj.CheckPermissions(creds, hostarch.Read) {
		return nil, linuxerr.EACCES
	}

	vals := make([]uint16, s.Size())
	for i, sem := range s.sems {
		vals[i] = uint16(sem.value)
	}
	return vals, nil
}

// GetPID returns the PID set when performing operations in the semaphore.
func (s *Set) GetPID(num int32, creds *auth.Credentials) (int32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	// "The calling process must have read permission on the semaphore set."
	if !s.obj.CheckPermissions(creds, hostarch.Read) {
		return 0, linuxerr.EACCES
	}

	sem := s.findSem(num)
	if sem == nil {
		return 0, linuxerr.ERANGE
	}
	return sem.pid, nil
}

func (s *Set) countWaiters(num int32, creds *auth.Credentials, pred func(w *Waiter) bool) (uint16, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	// The calling process must have read permission on the semaphore set.
	if !s.obj.CheckPermissions(creds, hostarch.Read) {
		return 0, linuxerr.EACCES
	}

	sem := s.findSem(num)
	if sem == nil {
		return 0, linuxerr.ERANGE
	}
	var cnt uint16
	for w := sem.waiters.Front(); w != nil; w = w.Next() {
		if pred(w) {
			cnt++
		}
	}
	return cnt, nil
}

// CountZeroWaiters returns number of waiters waiting for the sem to go to zero.
func (s *Set) CountZeroWaiters(num int32, creds *auth.Credentials) (uint16, error) {
	return s.countWaiters(num, creds, func(w *Waiter) bool {
		return w.value == 0
	})
}

// CountNegativeWaiters returns number of waiters waiting for the sem's value to increase.
func (s *Set) CountNegativeWaiters(num int32, creds *auth.Credentials) (uint16, error) {
	return s.countWaiters(num, creds, func(w *Waiter) bool {
		return w.value < 0
	})
}

// ExecuteOps attempts to execute a list of operations to the set. It only
// succeeds when all operations can be applied. No changes are made if it fails.
//
// On failure, it may return an error (retries are hopeless) or it may return
// a Waiter. The operations are then applied on the caller's behalf once they
// can all succeed, and the Waiter's channel is notified.
func (s *Set) ExecuteOps(ops []linux.Sembuf, creds *auth.Credentials, pid int32) (*Waiter, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Did it race with a removal operation?
	if s.dead {
		return nil, linuxerr.EIDRM
	}

	// Validate the operations.
	readOnly := true
	for _, op := range ops {
		if s.findSem(int32(op.SemNum)) == nil {
			return nil, linuxerr.EFBIG
		}
		if op.SemOp != 0 {
			readOnly = false
		}
	}

	if !s.obj.CheckPermissions(creds, hostarch.AccessType{Read: readOnly, Write: !readOnly}) {
		return nil, linuxerr.EACCES
	}

	return s.executeOps(ops, pid)
}

func (s *Set) executeOps(ops []linux.Sembuf, pid int32) (*Waiter, error) {
	blocked, err := s.tryOps(ops, pid)
	if err == nil {
		s.wakeWaitersLocked()
		return nil, nil
	}
	if err != linuxerr.ErrWouldBlock {
		return nil, err
	}

	op := ops[blocked]
	if op.SemFlg&linux.IPC_NOWAIT != 0 {
		return nil, linuxerr.ErrWouldBlock
	}
	w := &Waiter{
		value: op.SemOp,
		num:   int32(op.SemNum),
		ops:   append([]linux.Sembuf(nil), ops...),
		pid:   pid,
		ch:    make(chan struct{}, 1),
	}
	s.sems[op.SemNum].waiters.PushBack(w)
	return w, nil
}

// tryOps applies all operations if none of them has to wait. Otherwise it
// returns ErrWouldBlock and the index of the first operation that must wait.
// Nothing is changed on failure.
//
// SEM_UNDO is accepted, but adjustments are not reverted when the process
// exits.
//
// Preconditions: s.mu must be held.
func (s *Set) tryOps(ops []linux.Sembuf, pid int32) (int, error) {
	// Changes to semaphores go to this slice temporarily until they all succeed.
	tmpVals := make([]int16, len(s.sems))
	for i := range s.sems {
		tmpVals[i] = s.sems[i].value
	}

	for i, op := range ops {
		cur := tmpVals[op.SemNum]
		if op.SemOp == 0 {
			// Handle 'wait for zero' operation.
			if cur != 0 {
				return i, linuxerr.ErrWouldBlock
			}
			continue
		}
		next := int32(cur) + int32(op.SemOp)
		if next < 0 {
			// Not enough resources, must wait.
			return i, linuxerr.ErrWouldBlock
		}
		if next > valueMax {
			return i, linuxerr.ERANGE
		}
		tmpVals[op.SemNum] = int16(next)
	}

	// All operations succeeded, apply them.
	for i, v := range tmpVals {
		s.sems[i].value = v
	}
	for _, op := range ops {
		s.sems[op.SemNum].pid = pid
	}
	s.opTime = time.Now()
	return 0, nil
}

// AbortWait notifies that a waiter is giving up and will not wait on the
// channel anymore. If the waiter completed in the meantime, AbortWait returns
// true and the result of its operations, which must be reported instead.
func (s *Set) AbortWait(w *Waiter) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if w.done {
		return true, w.err
	}
	s.sems[w.num].waiters.Remove(w)
	return false, nil
}

// Destroy implements ipc.Mechanism.Destroy.
//
// Preconditions: Caller must hold 's.mu'.
func (s *Set) Destroy() {
	// Notify all waiters, they fail with EIDRM.
	s.dead = true
	for i := range s.sems {
		sem := &s.sems[i]
		for w := sem.waiters.Front(); w != nil; w = w.Next() {
			w.complete(linuxerr.EIDRM)
		}
		sem.waiters.Reset()
	}
}

// wakeWaitersLocked goes over the waiters of every semaphore in arrival
// order and applies the operations of those that can now proceed. An
// increment therefore goes to the longest waiting decrementer that it can
// satisfy, before any later caller gets a chance to take it. Applying a
// waiter's operations may unblock waiters already passed over, so the scan
// repeats until nothing changes.
//
// Preconditions: s.mu must be held.
func (s *Set) wakeWaitersLocked() {
	for progress := true; progress; {
		progress = false
		for i := range s.sems {
			sem := &s.sems[i]
			for w := sem.waiters.Front(); w != nil; {
				next := w.Next()
				if _, err := s.tryOps(w.ops, w.pid); err != linuxerr.ErrWouldBlock {
					sem.waiters.Remove(w)
					w.complete(err)
					progress = true
				}
				w = next
			}
		}
	}
}
