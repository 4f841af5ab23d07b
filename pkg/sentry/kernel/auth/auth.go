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

// Package auth implements an access control model that is a subset of Linux's.
//
// Guest processes carry user and group IDs. There are no user namespaces or
// capability sets: a process whose effective UID is root holds every
// capability, and no other process holds any.
package auth

import (
	"slices"

	"gvisor.dev/lacd/pkg/abi/linux"
	"gvisor.dev/lacd/pkg/errors/linuxerr"
)

// UID is a user ID.
type UID uint32

// GID is a group ID.
type GID uint32

const (
	// RootUID is the user ID of the superuser.
	RootUID UID = 0

	// RootGID is the group ID of the superuser's group.
	RootGID GID = 0

	// NoID is uid_t(-1), used by setres*id to leave an ID unchanged.
	NoID = ^uint32(0)

	// DefaultUID and DefaultGID are the IDs of processes spawned by the
	// daemon unless configured otherwise.
	DefaultUID UID = 1000
	DefaultGID GID = 1000
)

// Credentials contains information required to authorize privileged
// operations.
type Credentials struct {
	RealKUID      UID
	EffectiveKUID UID
	SavedKUID     UID
	RealKGID      GID
	EffectiveKGID GID
	SavedKGID     GID

	// ExtraKGIDs is the set of supplementary groups.
	ExtraKGIDs []GID
}

// NewUserCredentials returns credentials with all IDs set to uid and gid.
func NewUserCredentials(uid UID, gid GID, extra ...GID) *Credentials {
	return &Credentials{
		RealKUID:      uid,
		EffectiveKUID: uid,
		SavedKUID:     uid,
		RealKGID:      gid,
		EffectiveKGID: gid,
		SavedKGID:     gid,
		ExtraKGIDs:    slices.Clone(extra),
	}
}

// Fork generates an identical copy of a set of credentials.
func (c *Credentials) Fork() *Credentials {
	nc := *c
	nc.ExtraKGIDs = slices.Clone(c.ExtraKGIDs)
	return &nc
}

// InGroup returns true if c is in group kgid. Compare Linux's
// kernel/groups.c:in_group_p().
func (c *Credentials) InGroup(kgid GID) bool {
	return c.EffectiveKGID == kgid || slices.Contains(c.ExtraKGIDs, kgid)
}

// HasCapability returns true if c holds capability cp.
func (c *Credentials) HasCapability(cp linux.Capability) bool {
	return cp >= 0 && cp <= linux.CAP_LAST_CAP && c.EffectiveKUID == RootUID
}

// SetUID implements setuid(2).
func (c *Credentials) SetUID(uid UID) error {
	// "setuid() sets the effective user ID of the calling process. If the
	// effective UID of the caller is root (more precisely: if the caller has
	// the CAP_SETUID capability), the real UID and saved set-user-ID are also
	// set." - setuid(2)
	if c.HasCapability(linux.CAP_SETUID) {
		c.RealKUID, c.EffectiveKUID, c.SavedKUID = uid, uid, uid
		return nil
	}
	if uid != c.RealKUID && uid != c.SavedKUID {
		return linuxerr.EPERM
	}
	c.EffectiveKUID = uid
	return nil
}

// SetGID implements setgid(2).
func (c *Credentials) SetGID(gid GID) error {
	if c.HasCapability(linux.CAP_SETGID) {
		c.RealKGID, c.EffectiveKGID, c.SavedKGID = gid, gid, gid
		return nil
	}
	if gid != c.RealKGID && gid != c.SavedKGID {
		return linuxerr.EPERM
	}
	c.EffectiveKGID = gid
	return nil
}

// SetREUID implements setreuid(2). An argument of NoID leaves the
// corresponding ID unchanged.
func (c *Credentials) SetREUID(r, e UID) error {
	priv := c.HasCapability(linux.CAP_SETUID)
	if r != UID(NoID) && !priv && r != c.RealKUID && r != c.EffectiveKUID {
		return linuxerr.EPERM
	}
	if e != UID(NoID) && !priv && e != c.RealKUID && e != c.EffectiveKUID && e != c.SavedKUID {
		return linuxerr.EPERM
	}
	oldReal := c.RealKUID
	if r != UID(NoID) {
		c.RealKUID = r
	}
	if e != UID(NoID) {
		c.EffectiveKUID = e
	}
	// "If the real user ID is set (i.e., ruid is not -1) or the effective
	// user ID is set to a value not equal to the previous real user ID, the
	// saved set-user-ID will be set to the new effective user ID."
	//   - setreuid(2)
	if r != UID(NoID) || (e != UID(NoID) && e != oldReal) {
		c.SavedKUID = c.EffectiveKUID
	}
	return nil
}

// SetRESUID implements setresuid(2). An argument of NoID leaves the
// corresponding ID unchanged.
func (c *Credentials) SetRESUID(r, e, s UID) error {
	if !c.HasCapability(linux.CAP_SETUID) {
		for _, id := range []UID{r, e, s} {
			if id != UID(NoID) && id != c.RealKUID && id != c.EffectiveKUID && id != c.SavedKUID {
				return linuxerr.EPERM
			}
		}
	}
	if r != UID(NoID) {
		c.RealKUID = r
	}
	if e != UID(NoID) {
		c.EffectiveKUID = e
	}
	if s != UID(NoID) {
		c.SavedKUID = s
	}
	return nil
}

// SetREGID implements setregid(2).
func (c *Credentials) SetREGID(r, e GID) error {
	priv := c.HasCapability(linux.CAP_SETGID)
	if r != GID(NoID) && !priv && r != c.RealKGID && r != c.EffectiveKGID {
		return linuxerr.EPERM
	}
	if e != GID(NoID) && !priv && e != c.RealKGID && e != c.EffectiveKGID && e != c.SavedKGID {
		return linuxerr.EPERM
	}
	oldReal := c.RealKGID
	if r != GID(NoID) {
		c.RealKGID = r
	}
	if e != GID(NoID) {
		c.EffectiveKGID = e
	}
	if r != GID(NoID) || (e != GID(NoID) && e != oldReal) {
		c.SavedKGID = c.EffectiveKGID
	}
	return nil
}

// SetRESGID implements setresgid(2).
func (c *Credentials) SetRESGID(r, e, s GID) error {
	if !c.HasCapability(linux.CAP_SETGID) {
		for _, id := range []GID{r, e, s} {
			if id != GID(NoID) && id != c.RealKGID && id != c.EffectiveKGID && id != c.SavedKGID {
				return linuxerr.EPERM
			}
		}
	}
	if r != GID(NoID) {
		c.RealKGID = r
	}
	if e != GID(NoID) {
		c.EffectiveKGID = e
	}
	if s != GID(NoID) {
		c.SavedKGID = s
	}
	return nil
}

// SetExtraGIDs implements setgroups(2).
func (c *Credentials) SetExtraGIDs(gids []GID) error {
	if !c.HasCapability(linux.CAP_SETGID) {
		return linuxerr.EPERM
	}
	c.ExtraKGIDs = slices.Clone(gids)
	return nil
}

// CanSignal returns true if c may send a signal to a process with
// credentials target. See kernel/signal.c:kill_ok_by_cred() in Linux.
func (c *Credentials) CanSignal(target *Credentials) bool {
	if c.HasCapability(linux.CAP_KILL) {
		return true
	}
	return c.EffectiveKUID == target.SavedKUID || c.EffectiveKUID == target.RealKUID ||
		c.RealKUID == target.SavedKUID || c.RealKUID == target.RealKUID
}
