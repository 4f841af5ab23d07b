// Copyright 2021 The gVisor Authors.
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

// Package ipc defines functionality and utilities common to sysvipc mechanisms.
package ipc

import (
	"gvisor.dev/lacd/pkg/abi/linux"
	"gvisor.dev/lacd/pkg/errors/linuxerr"
	"gvisor.dev/lacd/pkg/hostarch"
	"gvisor.dev/lacd/pkg/sentry/kernel/auth"
)

// Key is a user-provided identifier for IPC objects.
type Key int32

// ID is a kernel identifier for IPC objects.
type ID int32

// Owner identifies the user and group owning an IPC object.
type Owner struct {
	UID auth.UID
	GID auth.GID
}

// OwnerFromCredentials returns the owner an object created by creds gets.
func OwnerFromCredentials(creds *auth.Credentials) Owner {
	return Owner{UID: creds.EffectiveKUID, GID: creds.EffectiveKGID}
}

// Object represents an abstract IPC object with fields common to all IPC
// mechanisms.
type Object struct {
	// ID is a kernel identifier for the IPC object. Immutable.
	ID ID

	// Key is a user-provided identifier for the IPC object. Immutable.
	Key Key

	// Creator is the user who created the IPC object. Immutable.
	Creator Owner

	// Owner is the current owner of the IPC object.
	Owner Owner

	// Mode holds the low nine permission bits of the object.
	Mode uint16
}

// Mechanism represents a SysV mechanism that holds an IPC object. It can also
// be looked at as a container for an ipc.Object, which is by definition a fully
// functional SysV object.
type Mechanism interface {
	// Object returns a pointer to the mechanism's ipc.Object. Mechanism.Lock,
	// and Mechanism.Unlock should be used when the object is used.
	Object() *Object

	// Lock behaves the same as Mutex.Lock on the mechanism.
	Lock()

	// Unlock behaves the same as Mutex.Unlock on the mechanism.
	Unlock()

	// Destroy destroys the mechanism.
	//
	// Preconditions: Mechanism is locked.
	Destroy()
}

// NewObject returns a new, initialized ipc.Object. The ID is assigned by
// Registry.Register.
func NewObject(key Key, creator Owner, mode uint16) *Object {
	return &Object{
		Key:     key,
		Creator: creator,
		Owner:   creator,
		Mode:    mode & 0777,
	}
}

// CheckOwnership verifies whether an IPC object may be accessed using creds as
// an owner. See ipc/util.c:ipcctl_obtain_check() in Linux.
func (o *Object) CheckOwnership(creds *auth.Credentials) bool {
	if o.Owner.UID == creds.EffectiveKUID || o.Creator.UID == creds.EffectiveKUID {
		return true
	}

	// Tasks with CAP_SYS_ADMIN may bypass ownership checks. Strangely, Linux
	// doesn't use CAP_IPC_OWNER for this despite CAP_IPC_OWNER being documented
	// for use to "override IPC ownership checks".
	return creds.HasCapability(linux.CAP_SYS_ADMIN)
}

// CheckPermissions verifies whether an IPC object is accessible using creds for
// access described by req. See ipc/util.c:ipcperms() in Linux.
func (o *Object) CheckPermissions(creds *auth.Credentials, req hostarch.AccessType) bool {
	p := o.Mode & 07
	if o.Owner.UID == creds.EffectiveKUID {
		p = (o.Mode >> 6) & 07
	} else if creds.InGroup(o.Owner.GID) {
		p = (o.Mode >> 3) & 07
	}

	if uint16(modeBits(req))&^p == 0 {
		return true
	}
	return creds.HasCapability(linux.CAP_IPC_OWNER)
}

func modeBits(at hostarch.AccessType) uint16 {
	var b uint16
	if at.Read {
		b |= 04
	}
	if at.Write {
		b |= 02
	}
	if at.Execute {
		b |= 01
	}
	return b
}

// AccessFromMode converts a requested mode, as passed to the *get syscalls,
// into an access type. The owner, group and other bits are folded together,
// so any class asking for a permission requests it.
func AccessFromMode(mode uint16) hostarch.AccessType {
	bits := (mode>>6 | mode>>3 | mode) & 07
	return hostarch.AccessType{
		Read:    bits&04 != 0,
		Write:   bits&02 != 0,
		Execute: bits&01 != 0,
	}
}

// Perm returns the object's ipc64_perm.
func (o *Object) Perm() linux.IPCPerm {
	return linux.IPCPerm{
		Key:  uint32(o.Key),
		UID:  uint32(o.Owner.UID),
		GID:  uint32(o.Owner.GID),
		CUID: uint32(o.Creator.UID),
		CGID: uint32(o.Creator.GID),
		Mode: o.Mode,
		Seq:  0, // IPC sequence not supported.
	}
}

// Set modifies attributes for an IPC object. See *ctl(IPC_SET).
//
// Precondition: Mechanism.mu must be held.
func (o *Object) Set(creds *auth.Credentials, perm *linux.IPCPerm) error {
	if !o.CheckOwnership(creds) {
		// "The argument cmd has the value IPC_SET or IPC_RMID, but the
		//  effective user ID of the calling process is not the creator (as
		//  found in msg_perm.cuid) or the owner (as found in msg_perm.uid)
		//  of the message queue, and the caller is not privileged (Linux:
		//  does not have the CAP_SYS_ADMIN capability)."
		return linuxerr.EPERM
	}
	o.Owner = Owner{UID: auth.UID(perm.UID), GID: auth.GID(perm.GID)}
	o.Mode = perm.Mode & 0777
	return nil
}
