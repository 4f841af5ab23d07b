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

package auth

import (
	"testing"

	"gvisor.dev/lacd/pkg/abi/linux"
	"gvisor.dev/lacd/pkg/errors/linuxerr"
)

func TestSetUID(t *testing.T) {
	c := NewUserCredentials(DefaultUID, DefaultGID)
	if err := c.SetUID(0); !linuxerr.Equals(linuxerr.EPERM, err) {
		t.Errorf("unprivileged SetUID(0) got %v, want EPERM", err)
	}
	root := NewUserCredentials(RootUID, RootGID)
	if err := root.SetUID(42); err != nil {
		t.Fatalf("root SetUID(42) failed: %v", err)
	}
	if root.RealKUID != 42 || root.EffectiveKUID != 42 || root.SavedKUID != 42 {
		t.Errorf("root SetUID did not set all IDs: %+v", root)
	}
}

func TestForkIsDeep(t *testing.T) {
	c := NewUserCredentials(RootUID, RootGID, 10, 20)
	f := c.Fork()
	f.ExtraKGIDs[0] = 99
	if !c.InGroup(10) {
		t.Errorf("fork shares supplementary groups with parent")
	}
}

func TestCapabilities(t *testing.T) {
	if NewUserCredentials(DefaultUID, DefaultGID).HasCapability(linux.CAP_KILL) {
		t.Errorf("unprivileged credentials hold CAP_KILL")
	}
	if !NewUserCredentials(RootUID, RootGID).HasCapability(linux.CAP_SYS_ADMIN) {
		t.Errorf("root lacks CAP_SYS_ADMIN")
	}
}

func TestCanSignal(t *testing.T) {
	a := NewUserCredentials(1000, 1000)
	b := NewUserCredentials(1001, 1001)
	if a.CanSignal(b) {
		t.Errorf("uid 1000 may signal uid 1001")
	}
	if !a.CanSignal(NewUserCredentials(1000, 5)) {
		t.Errorf("uid 1000 may not signal its own uid")
	}
}

func TestSetRESUID(t *testing.T) {
	c := NewUserCredentials(DefaultUID, DefaultGID)
	c.SavedKUID = 2000
	if err := c.SetRESUID(UID(NoID), 2000, UID(NoID)); err != nil {
		t.Fatalf("SetRESUID to saved uid failed: %v", err)
	}
	if c.RealKUID != DefaultUID || c.EffectiveKUID != 2000 || c.SavedKUID != 2000 {
		t.Errorf("unexpected credentials after SetRESUID: %+v", c)
	}
	if err := c.SetRESUID(0, UID(NoID), UID(NoID)); !linuxerr.Equals(linuxerr.EPERM, err) {
		t.Errorf("unprivileged SetRESUID(0) got %v, want EPERM", err)
	}
}

func TestSetREUIDUpdatesSaved(t *testing.T) {
	c := NewUserCredentials(RootUID, RootGID)
	if err := c.SetREUID(UID(NoID), 500); err != nil {
		t.Fatalf("SetREUID failed: %v", err)
	}
	if c.SavedKUID != 500 {
		t.Errorf("SavedKUID = %d, want 500", c.SavedKUID)
	}
	if c.RealKUID != RootUID {
		t.Errorf("RealKUID = %d, want unchanged", c.RealKUID)
	}
}

func TestSetRESGID(t *testing.T) {
	c := NewUserCredentials(DefaultUID, DefaultGID)
	if err := c.SetRESGID(0, 0, 0); !linuxerr.Equals(linuxerr.EPERM, err) {
		t.Errorf("unprivileged SetRESGID(0) got %v, want EPERM", err)
	}
	if err := c.SetREGID(DefaultGID, DefaultGID); err != nil {
		t.Errorf("SetREGID to own gid failed: %v", err)
	}
}
