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

package ipc

import (
	"sync"
	"testing"

	"gvisor.dev/lacd/pkg/abi/linux"
	"gvisor.dev/lacd/pkg/errors/linuxerr"
	"gvisor.dev/lacd/pkg/hostarch"
	"gvisor.dev/lacd/pkg/sentry/kernel/auth"
)

type testMech struct {
	mu        sync.Mutex
	obj       *Object
	destroyed bool
}

func (m *testMech) Object() *Object { return m.obj }
func (m *testMech) Lock()           { m.mu.Lock() }
func (m *testMech) Unlock()         { m.mu.Unlock() }
func (m *testMech) Destroy()        { m.destroyed = true }

func newMech(creds *auth.Credentials, key Key, mode uint16) *testMech {
	return &testMech{obj: NewObject(key, OwnerFromCredentials(creds), mode)}
}

func TestFind(t *testing.T) {
	owner := auth.NewUserCredentials(1000, 1000)
	r := NewRegistry()

	if _, err := r.Find(owner, 7, 0600, false, false); !linuxerr.Equals(linuxerr.ENOENT, err) {
		t.Fatalf("Find() on empty registry got %v, want ENOENT", err)
	}
	m, err := r.Find(owner, 7, 0600, true, false)
	if err != nil || m != nil {
		t.Fatalf("Find(create) got (%v, %v), want (nil, nil)", m, err)
	}
	mech := newMech(owner, 7, 0600)
	if err := r.Register(mech, false); err != nil {
		t.Fatalf("Register() failed: %v", err)
	}

	if got, err := r.Find(owner, 7, 0600, true, false); err != nil || got != mech {
		t.Errorf("Find() got (%v, %v), want (%v, nil)", got, err, mech)
	}
	if _, err := r.Find(owner, 7, 0600, true, true); !linuxerr.Equals(linuxerr.EEXIST, err) {
		t.Errorf("Find(IPC_EXCL) got %v, want EEXIST", err)
	}
	other := auth.NewUserCredentials(2000, 2000)
	if _, err := r.Find(other, 7, 0400, false, false); !linuxerr.Equals(linuxerr.EACCES, err) {
		t.Errorf("Find() by stranger got %v, want EACCES", err)
	}
	if _, err := r.Find(other, 7, 0600, false, false); !linuxerr.Equals(linuxerr.EACCES, err) {
		t.Errorf("Find(0600) by stranger got %v, want EACCES", err)
	}
	if got, err := r.Find(other, 7, 0, false, false); err != nil || got != mech {
		t.Errorf("Find(0) by stranger got (%v, %v), want (%v, nil)", got, err, mech)
	}
}

func TestAccessFromMode(t *testing.T) {
	for _, tc := range []struct {
		mode uint16
		want hostarch.AccessType
	}{
		{mode: 0, want: hostarch.AccessType{}},
		{mode: 0400, want: hostarch.Read},
		{mode: 0600, want: hostarch.ReadWrite},
		{mode: 0060, want: hostarch.ReadWrite},
		{mode: 0002, want: hostarch.Write},
		{mode: 0741, want: hostarch.AnyAccess},
	} {
		if got := AccessFromMode(tc.mode); got != tc.want {
			t.Errorf("AccessFromMode(%#o) got %+v, want %+v", tc.mode, got, tc.want)
		}
	}
}

func TestPrivateNotIndexed(t *testing.T) {
	creds := auth.NewUserCredentials(1000, 1000)
	r := NewRegistry()
	a, b := newMech(creds, linux.IPC_PRIVATE, 0600), newMech(creds, linux.IPC_PRIVATE, 0600)
	if err := r.Register(a, true); err != nil {
		t.Fatal(err)
	}
	if err := r.Register(b, true); err != nil {
		t.Fatal(err)
	}
	if a.obj.ID == b.obj.ID {
		t.Errorf("private objects share ID %d", a.obj.ID)
	}
	if _, err := r.Find(creds, linux.IPC_PRIVATE, 0, false, false); !linuxerr.Equals(linuxerr.ENOENT, err) {
		t.Errorf("Find(IPC_PRIVATE) got %v, want ENOENT", err)
	}
}

func TestIDWraparound(t *testing.T) {
	creds := auth.NewUserCredentials(1000, 1000)
	r := NewRegistryWithLimit(3)
	var mechs []*testMech
	for i := 0; i < 3; i++ {
		m := newMech(creds, Key(i+1), 0600)
		if err := r.Register(m, false); err != nil {
			t.Fatalf("Register(%d) failed: %v", i, err)
		}
		mechs = append(mechs, m)
	}
	if err := r.Register(newMech(creds, 9, 0600), false); !linuxerr.Equals(linuxerr.ENOSPC, err) {
		t.Fatalf("Register() on full registry got %v, want ENOSPC", err)
	}
	if err := r.Remove(mechs[1].obj.ID, creds); err != nil {
		t.Fatalf("Remove() failed: %v", err)
	}
	if !mechs[1].destroyed {
		t.Errorf("Remove() did not destroy the mechanism")
	}
	m := newMech(creds, 9, 0600)
	if err := r.Register(m, false); err != nil {
		t.Fatalf("Register() after Remove failed: %v", err)
	}
	if m.obj.ID != 1 {
		t.Errorf("Register() after wrap got ID %d, want 1", m.obj.ID)
	}
}

func TestRemoveRequiresOwnership(t *testing.T) {
	creds := auth.NewUserCredentials(1000, 1000)
	r := NewRegistry()
	m := newMech(creds, 1, 0666)
	if err := r.Register(m, false); err != nil {
		t.Fatal(err)
	}
	if err := r.Remove(m.obj.ID, auth.NewUserCredentials(2000, 2000)); !linuxerr.Equals(linuxerr.EPERM, err) {
		t.Errorf("Remove() by stranger got %v, want EPERM", err)
	}
	if err := r.Remove(m.obj.ID, auth.NewUserCredentials(auth.RootUID, auth.RootGID)); err != nil {
		t.Errorf("Remove() by root got %v, want nil", err)
	}
	if err := r.Remove(m.obj.ID, creds); !linuxerr.Equals(linuxerr.EINVAL, err) {
		t.Errorf("second Remove() got %v, want EINVAL", err)
	}
}

func TestCheckPermissions(t *testing.T) {
	owner := auth.NewUserCredentials(1000, 100)
	obj := NewObject(1, OwnerFromCredentials(owner), 0640)
	for _, tc := range []struct {
		name  string
		creds *auth.Credentials
		req   hostarch.AccessType
		want  bool
	}{
		{"owner write", owner, hostarch.Write, true},
		{"group read", auth.NewUserCredentials(1001, 100), hostarch.Read, true},
		{"group write", auth.NewUserCredentials(1001, 100), hostarch.Write, false},
		{"other read", auth.NewUserCredentials(1001, 101), hostarch.Read, false},
		{"root", auth.NewUserCredentials(auth.RootUID, auth.RootGID), hostarch.ReadWrite, true},
	} {
		t.Run(tc.name, func(t *testing.T) {
			if got := obj.CheckPermissions(tc.creds, tc.req); got != tc.want {
				t.Errorf("CheckPermissions() got %v, want %v", got, tc.want)
			}
		})
	}
}
