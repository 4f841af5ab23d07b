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

// Package shm implements sysv shared memory segments.
//
// Known missing features:
//
//   - SHM_LOCK/SHM_UNLOCK are no-ops. Memory locking is not modelled.
//
//   - SHM_HUGETLB and SHM_NORESERVE for shmget(2) are ignored.
//
// Lock ordering: mm.MemoryManager.mu -> shm registry lock -> shm lock
package shm

import (
	"fmt"
	"sync"
	"time"

	"gvisor.dev/lacd/pkg/abi/linux"
	"gvisor.dev/lacd/pkg/errors/linuxerr"
	"gvisor.dev/lacd/pkg/hostarch"
	"gvisor.dev/lacd/pkg/log"
	"gvisor.dev/lacd/pkg/sentry/kernel/auth"
	"gvisor.dev/lacd/pkg/sentry/kernel/ipc"
	"gvisor.dev/lacd/pkg/sentry/mm"
)

// Registry tracks all shared memory segments. The registry provides the
// mechanisms for creating and finding segments, and reporting global shm
// parameters.
type Registry struct {
	// mu protects all fields below.
	mu sync.Mutex

	// reg holds the segments by ID and key.
	reg *ipc.Registry

	// Sum of the sizes of all existing segments rounded up to page size, in
	// units of page size.
	totalPages uint64
}

// NewRegistry creates a new shm registry.
func NewRegistry() *Registry {
	return &Registry{reg: ipc.NewRegistryWithLimit(linux.SHMMNI)}
}

// FindByID looks up a segment given an ID.
func (r *Registry) FindByID(id ipc.ID) *Shm {
	r.mu.Lock()
	defer r.mu.Unlock()
	mech := r.reg.FindByID(id)
	if mech == nil {
		return nil
	}
	return mech.(*Shm)
}

// dissociateKey removes the association between a segment and its key,
// preventing it from being discovered in the registry. This doesn't necessarily
// mean the segment is about to be destroyed. This is analogous to unlinking a
// file; the segment can still be used by a process already referencing it, but
// cannot be discovered by a new process.
func (r *Registry) dissociateKey(s *Shm) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.obj.Key != linux.IPC_PRIVATE {
		r.reg.DissociateKey(s.obj.Key)
		s.obj.Key = linux.IPC_PRIVATE
	}
}

// FindOrCreate looks up or creates a segment in the registry. It's functionally
// analogous to open(2).
func (r *Registry) FindOrCreate(creds *auth.Credentials, pid int32, key ipc.Key, size uint64, mode uint16, private, create, exclusive bool) (*Shm, error) {
	if (create || private) && (size < linux.SHMMIN || size > linux.SHMMAX) {
		// "A new segment was to be created and size is less than SHMMIN or
		// greater than SHMMAX." - man shmget(2)
		//
		// Note that 'private' always implies the creation of a new segment
		// whether IPC_CREAT is specified or not.
		return nil, linuxerr.EINVAL
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if !private {
		// Look up an existing segment.
		mech, err := r.reg.Find(creds, key, mode, create, exclusive)
		if err != nil {
			return nil, err
		}
		if mech != nil {
			shm := mech.(*Shm)
			if size > shm.size {
				// "A segment for the given key exists, but size is greater than
				// the size of that segment." - man shmget(2)
				return nil, linuxerr.EINVAL
			}
			return shm, nil
		}
	}

	if r.reg.ObjectCount() >= linux.SHMMNI {
		// "All possible shared memory IDs have been taken (SHMMNI) ..."
		//   - man shmget(2)
		return nil, linuxerr.ENOSPC
	}

	sizeAligned, ok := hostarch.PageRoundUp(size)
	if !ok {
		return nil, linuxerr.EINVAL
	}

	if numPages := sizeAligned / hostarch.PageSize; r.totalPages+numPages > linux.SHMALL {
		// "... allocating a segment of the requested size would cause the
		// system to exceed the system-wide limit on shared memory (SHMALL)."
		//   - man shmget(2)
		return nil, linuxerr.ENOSPC
	}

	// Need to create a new segment.
	return r.newShmLocked(pid, key, ipc.OwnerFromCredentials(creds), mode, size, sizeAligned, private)
}

// newShmLocked creates a new segment in the registry.
//
// Precondition: Caller must hold r.mu.
func (r *Registry) newShmLocked(pid int32, key ipc.Key, creator ipc.Owner, mode uint16, size, effectiveSize uint64, private bool) (*Shm, error) {
	shm := &Shm{
		registry:      r,
		obj:           ipc.NewObject(key, creator, mode),
		size:          size,
		effectiveSize: effectiveSize,
		backing:       mm.NewBacking(effectiveSize),
		creatorPID:    pid,
		changeTime:    time.Now(),
		// The segment holds a reference to itself until it is marked for
		// destruction.
		refs: 1,
	}
	if private {
		shm.obj.Key = linux.IPC_PRIVATE
	}
	if err := r.reg.Register(shm, private); err != nil {
		log.Warningf("Shm ids exhausted, they may be leaking")
		return nil, err
	}
	r.totalPages += effectiveSize / hostarch.PageSize
	return shm, nil
}

// remove deletes a segment from this registry, deaccounting the memory used by
// the segment.
//
// Precondition: Must follow a call to r.dissociateKey(s).
func (r *Registry) remove(s *Shm) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.obj.Key != linux.IPC_PRIVATE {
		panic(fmt.Sprintf("Attempted to remove %s from the registry whose key is still associated", s.debugLocked()))
	}

	r.reg.DissociateID(s.obj.ID)
	r.totalPages -= s.effectiveSize / hostarch.PageSize
}

// TotalPages returns the number of pages used by all segments.
func (r *Registry) TotalPages() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.totalPages
}

// Shm represents a single shared memory segment.
//
// Shm segments are backed by an mm.Backing shared by every region attaching
// them. munmap and mprotect calls may cause the region for a segment to
// become fragmented; every fragment counts as an attachment, as in Linux.
//
// Segments persist until they are explicitly marked for destruction via
// MarkDestroyed() and the last attachment goes away.
//
// Shm implements mm.Mappable and ipc.Mechanism.
type Shm struct {
	// registry points to the shm registry containing this segment. Immutable.
	registry *Registry

	// size is the requested size of the segment at creation, in
	// bytes. Immutable.
	size uint64

	// effectiveSize of the segment, rounding up to the next page
	// boundary. Immutable.
	//
	// Invariant: effectiveSize must be a multiple of hostarch.PageSize.
	effectiveSize uint64

	// backing holds the contents of the segment. Immutable.
	backing *mm.Backing

	// mu protects all fields below.
	mu sync.Mutex

	obj *ipc.Object

	// attachTime is updated on every successful shmat.
	attachTime time.Time
	// detachTime is updated on every successful shmdt.
	detachTime time.Time
	// changeTime is updated on every successful changes to the segment via
	// shmctl(IPC_SET).
	changeTime time.Time

	// creatorPID is the PID of the process that created the segment.
	creatorPID int32
	// lastAttachDetachPID is the pid of the process that issued the last shmat
	// or shmdt syscall.
	lastAttachDetachPID int32

	// nattach is the number of regions mapping the segment.
	nattach uint64

	// refs is nattach, plus one for the self-reference held until
	// destruction, plus one for each attach in progress.
	refs int64

	// pendingDestruction indicates the segment was marked as destroyed through
	// shmctl(IPC_RMID). When marked as destroyed, the segment will not be found
	// in the registry and can no longer be attached. When the last user
	// detaches from the segment, it is destroyed.
	pendingDestruction bool

	// destroyed is set once the segment has been removed from the registry.
	destroyed bool
}

// Precondition: Caller must hold s.mu.
func (s *Shm) debugLocked() string {
	return fmt.Sprintf("Shm{id: %d, key: %d, size: %d bytes, refs: %d, destroyed: %v}",
		s.obj.ID, s.obj.Key, s.size, s.refs, s.pendingDestruction)
}

// ID returns the segment's ID.
func (s *Shm) ID() ipc.ID {
	return s.obj.ID
}

// Object implements ipc.Mechanism.Object.
func (s *Shm) Object() *ipc.Object {
	return s.obj
}

// Lock implements ipc.Mechanism.Lock.
func (s *Shm) Lock() {
	s.mu.Lock()
}

// Unlock implements ipc.Mechanism.Unlock.
func (s *Shm) Unlock() {
	s.mu.Unlock()
}

// Destroy implements ipc.Mechanism.Destroy. Segments are removed through
// MarkDestroyed, never directly by the ipc.Registry.
func (s *Shm) Destroy() {
	panic(fmt.Sprintf("%s destroyed through the ipc registry", s.debugLocked()))
}

func (s *Shm) incRefLocked() {
	s.refs++
}

// decRef drops a reference on s, removing it from the registry on the last
// one.
//
// Precondition: Caller must not hold s.mu.
func (s *Shm) decRef() {
	s.mu.Lock()
	s.refs--
	if s.refs < 0 {
		panic(fmt.Sprintf("negative refcount on %s", s.debugLocked()))
	}
	last := s.refs == 0
	if last {
		s.destroyed = true
	}
	s.mu.Unlock()
	if last {
		s.registry.remove(s)
	}
}

// AddMapping implements mm.Mappable.AddMapping.
func (s *Shm) AddMapping() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nattach++
	s.incRefLocked()
}

// RemoveMapping implements mm.Mappable.RemoveMapping.
func (s *Shm) RemoveMapping() {
	s.mu.Lock()
	s.nattach--
	s.mu.Unlock()
	s.decRef()
}

// AttachOpts describes various flags passed to shmat(2).
type AttachOpts struct {
	Execute  bool
	Readonly bool
	Remap    bool
	Round    bool
}

// Attach maps the segment into m. See shmat(2).
func (s *Shm) Attach(m *mm.MemoryManager, creds *auth.Credentials, addr hostarch.Addr, opts AttachOpts, pid int32) (hostarch.Addr, error) {
	if !addr.IsPageAligned() {
		if !opts.Round {
			return 0, linuxerr.EINVAL
		}
		addr = addr.RoundDown()
	}
	if opts.Remap && addr == 0 {
		return 0, linuxerr.EINVAL
	}
	perms := hostarch.AccessType{
		Read:    true,
		Write:   !opts.Readonly,
		Execute: opts.Execute,
	}

	s.mu.Lock()
	if s.pendingDestruction && s.refs == 0 || s.destroyed {
		s.mu.Unlock()
		return 0, linuxerr.EIDRM
	}
	if !s.obj.CheckPermissions(creds, perms) {
		// "The calling process does not have the required permissions for the
		// requested attach type, and does not have the CAP_IPC_OWNER
		// capability." - man shmat(2)
		s.mu.Unlock()
		return 0, linuxerr.EACCES
	}
	// Hold a reference across the mapping so a concurrent last detach
	// cannot destroy the segment under us.
	s.incRefLocked()
	name := fmt.Sprintf("/SYSV%08x", uint32(s.obj.Key))
	s.mu.Unlock()
	defer s.decRef()

	at, err := m.MMap(mm.MMapOpts{
		Length:   s.effectiveSize,
		Addr:     addr,
		Fixed:    addr != 0,
		Unmap:    opts.Remap,
		Perms:    perms,
		MaxPerms: hostarch.AnyAccess,
		Kind:     mm.RegionShm,
		Name:     name,
		Backing:  s.backing,
		Mappable: s,
	})
	if linuxerr.Equals(linuxerr.EEXIST, err) {
		// "shmaddr is not aligned or the range overlaps an existing mapping
		// and SHM_REMAP was not given" - man shmat(2)
		return 0, linuxerr.EINVAL
	}
	if err != nil {
		return 0, err
	}

	s.mu.Lock()
	s.attachTime = time.Now()
	s.lastAttachDetachPID = pid
	s.mu.Unlock()
	return at, nil
}

// Detach unmaps the segment attached at addr from m. See shmdt(2).
func Detach(m *mm.MemoryManager, addr hostarch.Addr, pid int32) error {
	mappable, err := m.DetachShm(addr)
	if err != nil {
		return err
	}
	if s, ok := mappable.(*Shm); ok {
		s.mu.Lock()
		s.detachTime = time.Now()
		s.lastAttachDetachPID = pid
		s.mu.Unlock()
	}
	return nil
}

// EffectiveSize returns the size of the underlying shared memory segment. This
// may be larger than the requested size at creation, due to rounding to page
// boundaries.
func (s *Shm) EffectiveSize() uint64 {
	return s.effectiveSize
}

// IPCStat returns information about a shm. See shmctl(IPC_STAT).
func (s *Shm) IPCStat(creds *auth.Credentials) (*linux.ShmidDS, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	// "The caller must have read permission on the shared memory segment."
	//   - man shmctl(2)
	if !s.obj.CheckPermissions(creds, hostarch.Read) {
		// "IPC_STAT or SHM_STAT is requested and shm_perm.mode does not allow
		// read access for shmid, and the calling process does not have the
		// CAP_IPC_OWNER capability." - man shmctl(2)
		return nil, linuxerr.EACCES
	}

	perm := s.obj.Perm()
	if s.pendingDestruction {
		perm.Mode |= linux.SHM_DEST
	}

	return &linux.ShmidDS{
		ShmPerm:    perm,
		ShmSegsz:   s.size,
		ShmAtime:   unixTime(s.attachTime),
		ShmDtime:   unixTime(s.detachTime),
		ShmCtime:   unixTime(s.changeTime),
		ShmCpid:    s.creatorPID,
		ShmLpid:    s.lastAttachDetachPID,
		ShmNattach: s.nattach,
	}, nil
}

func unixTime(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.Unix()
}

// Set modifies attributes for a segment. See shmctl(IPC_SET).
func (s *Shm) Set(creds *auth.Credentials, ds *linux.ShmidDS) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.obj.Set(creds, &ds.ShmPerm); err != nil {
		return err
	}
	s.changeTime = time.Now()
	return nil
}

// MarkDestroyed marks a segment for destruction. The segment is actually
// destroyed once it has no attachments. MarkDestroyed may be called multiple
// times, and is safe to call after a segment has already been destroyed. See
// shmctl(IPC_RMID).
func (s *Shm) MarkDestroyed(creds *auth.Credentials) error {
	s.mu.Lock()
	if !s.obj.CheckOwnership(creds) {
		s.mu.Unlock()
		return linuxerr.EPERM
	}
	s.mu.Unlock()

	s.registry.dissociateKey(s)

	s.mu.Lock()
	if s.pendingDestruction {
		s.mu.Unlock()
		return nil
	}
	s.pendingDestruction = true
	s.mu.Unlock()

	// Drop the self-reference so destruction occurs when all
	// attachments are gone.
	s.decRef()
	return nil
}

// Destroyed reports whether the segment has been removed from the registry.
func (s *Shm) Destroyed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.destroyed
}
