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

package shm

import (
	"testing"

	"gvisor.dev/lacd/pkg/errors/linuxerr"
	"gvisor.dev/lacd/pkg/hostarch"
	"gvisor.dev/lacd/pkg/sentry/kernel/auth"
	"gvisor.dev/lacd/pkg/sentry/kernel/ipc"
	"gvisor.dev/lacd/pkg/sentry/mm"
)

var creds = auth.NewUserCredentials(1000, 1000)

func TestAttachSharesMemory(t *testing.T) {
	r := NewRegistry()
	s, err := r.FindOrCreate(creds, 1000, 77, 100, 0600, false, true, false)
	if err != nil {
		t.Fatalf("FindOrCreate() failed: %v", err)
	}
	if s.EffectiveSize() != hostarch.PageSize {
		t.Errorf("EffectiveSize() got %d, want %d", s.EffectiveSize(), hostarch.PageSize)
	}

	a, b := mm.NewMemoryManager(0), mm.NewMemoryManager(0)
	addrA, err := s.Attach(a, creds, 0, AttachOpts{}, 1000)
	if err != nil {
		t.Fatalf("Attach(a) failed: %v", err)
	}
	addrB, err := s.Attach(b, creds, 0, AttachOpts{}, 1001)
	if err != nil {
		t.Fatalf("Attach(b) failed: %v", err)
	}
	if _, err := a.CopyOutBytes(addrA+8, []byte("shared")); err != nil {
		t.Fatalf("CopyOutBytes() failed: %v", err)
	}
	buf := make([]byte, 6)
	if _, err := b.CopyInBytes(addrB+8, buf); err != nil {
		t.Fatalf("CopyInBytes() failed: %v", err)
	}
	if string(buf) != "shared" {
		t.Errorf("read through second attachment got %q, want %q", buf, "shared")
	}

	ds, err := s.IPCStat(creds)
	if err != nil {
		t.Fatalf("IPCStat() failed: %v", err)
	}
	if ds.ShmNattach != 2 || ds.ShmCpid != 1000 || ds.ShmLpid != 1001 || ds.ShmSegsz != 100 {
		t.Errorf("IPCStat() got %+v", ds)
	}
}

func TestDestroyOnLastDetach(t *testing.T) {
	r := NewRegistry()
	s, err := r.FindOrCreate(creds, 1, 5, hostarch.PageSize, 0600, false, true, false)
	if err != nil {
		t.Fatal(err)
	}
	m := mm.NewMemoryManager(0)
	addr, err := s.Attach(m, creds, 0, AttachOpts{}, 1)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.MarkDestroyed(creds); err != nil {
		t.Fatalf("MarkDestroyed() failed: %v", err)
	}
	if s.Destroyed() {
		t.Fatalf("segment destroyed while still attached")
	}
	if _, err := r.FindOrCreate(creds, 1, 5, hostarch.PageSize, 0600, false, false, false); !linuxerr.Equals(linuxerr.ENOENT, err) {
		t.Errorf("FindOrCreate() of marked segment got %v, want ENOENT", err)
	}
	if err := Detach(m, addr, 1); err != nil {
		t.Fatalf("Detach() failed: %v", err)
	}
	if !s.Destroyed() {
		t.Errorf("segment survived its last detach")
	}
	if r.FindByID(s.ID()) != nil {
		t.Errorf("FindByID() found a destroyed segment")
	}
	if r.TotalPages() != 0 {
		t.Errorf("TotalPages() got %d, want 0", r.TotalPages())
	}
}

func TestProcessReleaseDetaches(t *testing.T) {
	r := NewRegistry()
	s, err := r.FindOrCreate(creds, 1, ipc.Key(0), hostarch.PageSize, 0600, true, true, false)
	if err != nil {
		t.Fatal(err)
	}
	m := mm.NewMemoryManager(0)
	if _, err := s.Attach(m, creds, 0, AttachOpts{}, 1); err != nil {
		t.Fatal(err)
	}
	child := m.Fork()
	if err := s.MarkDestroyed(creds); err != nil {
		t.Fatal(err)
	}
	m.Release()
	if s.Destroyed() {
		t.Fatalf("segment destroyed while the forked child still maps it")
	}
	child.Release()
	if !s.Destroyed() {
		t.Errorf("segment survived release of every attaching process")
	}
}

func TestAttachErrors(t *testing.T) {
	r := NewRegistry()
	s, err := r.FindOrCreate(creds, 1, 9, hostarch.PageSize, 0400, false, true, false)
	if err != nil {
		t.Fatal(err)
	}
	m := mm.NewMemoryManager(0)
	if _, err := s.Attach(m, creds, 0, AttachOpts{}, 1); !linuxerr.Equals(linuxerr.EACCES, err) {
		t.Errorf("read-write Attach() of read-only segment got %v, want EACCES", err)
	}
	if _, err := s.Attach(m, creds, 0x10001, AttachOpts{Readonly: true}, 1); !linuxerr.Equals(linuxerr.EINVAL, err) {
		t.Errorf("Attach(unaligned) got %v, want EINVAL", err)
	}
	if _, err := s.Attach(m, creds, 0x10001, AttachOpts{Readonly: true, Round: true}, 1); err != nil {
		t.Errorf("Attach(unaligned, SHM_RND) got %v, want nil", err)
	}
	if err := Detach(m, 0x20000, 1); !linuxerr.Equals(linuxerr.EINVAL, err) {
		t.Errorf("Detach() of unattached address got %v, want EINVAL", err)
	}
	if err := s.MarkDestroyed(auth.NewUserCredentials(2000, 2000)); !linuxerr.Equals(linuxerr.EPERM, err) {
		t.Errorf("MarkDestroyed() by stranger got %v, want EPERM", err)
	}
}

func TestFindOrCreateErrors(t *testing.T) {
	r := NewRegistry()
	if _, err := r.FindOrCreate(creds, 1, 3, 0, 0600, false, true, false); !linuxerr.Equals(linuxerr.EINVAL, err) {
		t.Errorf("FindOrCreate(size 0) got %v, want EINVAL", err)
	}
	if _, err := r.FindOrCreate(creds, 1, 3, 10, 0600, false, true, false); err != nil {
		t.Fatal(err)
	}
	if _, err := r.FindOrCreate(creds, 1, 3, 20, 0600, false, true, false); !linuxerr.Equals(linuxerr.EINVAL, err) {
		t.Errorf("FindOrCreate(larger size) got %v, want EINVAL", err)
	}
	if _, err := r.FindOrCreate(creds, 1, 3, 10, 0600, false, true, true); !linuxerr.Equals(linuxerr.EEXIST, err) {
		t.Errorf("FindOrCreate(IPC_EXCL) got %v, want EEXIST", err)
	}
}
