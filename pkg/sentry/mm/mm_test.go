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
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"pgregory.net/rapid"

	"gvisor.dev/lacd/pkg/errors/linuxerr"
	"gvisor.dev/lacd/pkg/hostarch"
	"gvisor.dev/lacd/pkg/sentry/arch"
	"gvisor.dev/lacd/pkg/sentry/kernel/futex"
)

func testMemoryManager() *MemoryManager {
	return NewMemoryManager(0)
}

func mapAnon(t *testing.T, mm *MemoryManager, addr hostarch.Addr, length uint64, perms hostarch.AccessType) hostarch.Addr {
	t.Helper()
	got, err := mm.MMap(MMapOpts{
		Length:  length,
		Addr:    addr,
		Fixed:   addr != 0,
		Perms:   perms,
		Private: true,
	})
	if err != nil {
		t.Fatalf("MMap(%v, %d) failed: %v", addr, length, err)
	}
	return got
}

func TestMMapFindsFreeRange(t *testing.T) {
	mm := testMemoryManager()
	a := mapAnon(t, mm, 0, 3*hostarch.PageSize, hostarch.ReadWrite)
	b := mapAnon(t, mm, 0, hostarch.PageSize, hostarch.ReadWrite)
	if a+3*hostarch.PageSize > arch.MmapBase || b+hostarch.PageSize > a {
		t.Errorf("allocations not top-down and disjoint: a=%v b=%v", a, b)
	}
	if got, want := mm.VirtualMemorySize(), uint64(4*hostarch.PageSize); got != want {
		t.Errorf("VirtualMemorySize() got %d, want %d", got, want)
	}
}

func TestMMapFixedNoReplace(t *testing.T) {
	mm := testMemoryManager()
	mapAnon(t, mm, 0x400000, hostarch.PageSize, hostarch.Read)
	_, err := mm.MMap(MMapOpts{Length: hostarch.PageSize, Addr: 0x400000, Fixed: true, Perms: hostarch.Read})
	if !linuxerr.Equals(linuxerr.EEXIST, err) {
		t.Errorf("MMap over existing fixed mapping: got %v, want EEXIST", err)
	}
	if _, err := mm.MMap(MMapOpts{Length: hostarch.PageSize, Addr: 0x400000, Fixed: true, Unmap: true, Perms: hostarch.ReadWrite}); err != nil {
		t.Errorf("MMap with Unmap failed: %v", err)
	}
	if rs := mm.Regions(); len(rs) != 1 || !rs[0].Perms.Write {
		t.Errorf("replacement did not take effect: %+v", rs)
	}
}

func TestMUnmapSplits(t *testing.T) {
	mm := testMemoryManager()
	base := mapAnon(t, mm, 0x400000, 3*hostarch.PageSize, hostarch.ReadWrite)
	if err := mm.MUnmap(base+hostarch.PageSize, hostarch.PageSize); err != nil {
		t.Fatalf("MUnmap failed: %v", err)
	}
	var got []hostarch.AddrRange
	for _, r := range mm.Regions() {
		got = append(got, r.Range())
	}
	want := []hostarch.AddrRange{
		{Start: base, End: base + hostarch.PageSize},
		{Start: base + 2*hostarch.PageSize, End: base + 3*hostarch.PageSize},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("regions mismatch (-want +got):\n%s", diff)
	}
	if _, err := mm.CopyInBytes(base+hostarch.PageSize, make([]byte, 1)); !linuxerr.Equals(linuxerr.EFAULT, err) {
		t.Errorf("read of unmapped hole: got %v, want EFAULT", err)
	}
}

func TestCopyRespectsPermissions(t *testing.T) {
	mm := testMemoryManager()
	ro := mapAnon(t, mm, 0x400000, hostarch.PageSize, hostarch.Read)
	if _, err := mm.CopyOutBytes(ro, []byte("x")); !linuxerr.Equals(linuxerr.EFAULT, err) {
		t.Errorf("write to read-only page: got %v, want EFAULT", err)
	}
	if _, err := mm.CopyOut(ro, []byte("x"), IOOpts{IgnorePermissions: true}); err != nil {
		t.Errorf("write ignoring permissions failed: %v", err)
	}
	buf := make([]byte, 1)
	if _, err := mm.CopyInBytes(ro, buf); err != nil || buf[0] != 'x' {
		t.Errorf("read back got (%q, %v), want (\"x\", nil)", buf, err)
	}
}

func TestCopyAcrossRegions(t *testing.T) {
	mm := testMemoryManager()
	base := mapAnon(t, mm, 0x400000, hostarch.PageSize, hostarch.ReadWrite)
	mapAnon(t, mm, 0x401000, hostarch.PageSize, hostarch.ReadWrite)
	src := bytes.Repeat([]byte{0xab}, 100)
	addr := base + hostarch.PageSize - 50
	if n, err := mm.CopyOutBytes(addr, src); err != nil || n != len(src) {
		t.Fatalf("CopyOutBytes across regions got (%d, %v)", n, err)
	}
	dst := make([]byte, len(src))
	if _, err := mm.CopyInBytes(addr, dst); err != nil || !bytes.Equal(src, dst) {
		t.Errorf("CopyInBytes across regions got (%x, %v)", dst, err)
	}

	// A copy running off the end reports the partial count.
	end := base + 2*hostarch.PageSize - 10
	n, err := mm.CopyOutBytes(end, src)
	if !linuxerr.Equals(linuxerr.EFAULT, err) || n != 10 {
		t.Errorf("partial copy got (%d, %v), want (10, EFAULT)", n, err)
	}
}

func TestCopyInString(t *testing.T) {
	mm := testMemoryManager()
	base := mapAnon(t, mm, 0x400000, hostarch.PageSize, hostarch.ReadWrite)

	// A string ending right before the unmapped page.
	s := "hello"
	addr := base + hostarch.PageSize - hostarch.Addr(len(s)+1)
	if _, err := mm.CopyOutString(addr, s); err != nil {
		t.Fatalf("CopyOutString failed: %v", err)
	}
	if got, err := mm.CopyInString(addr, 4096); err != nil || got != s {
		t.Errorf("CopyInString got (%q, %v), want (%q, nil)", got, err, s)
	}
	if _, err := mm.CopyInString(addr, 3); !linuxerr.Equals(linuxerr.ENAMETOOLONG, err) {
		t.Errorf("CopyInString with short limit: got %v, want ENAMETOOLONG", err)
	}

	// An unterminated string running into unmapped memory.
	if _, err := mm.CopyOutBytes(base+hostarch.PageSize-4, []byte("abcd")); err != nil {
		t.Fatalf("CopyOutBytes failed: %v", err)
	}
	if _, err := mm.CopyInString(base+hostarch.PageSize-4, 4096); !linuxerr.Equals(linuxerr.EFAULT, err) {
		t.Errorf("CopyInString into unmapped page: got %v, want EFAULT", err)
	}
}

func TestMProtect(t *testing.T) {
	mm := testMemoryManager()
	base := mapAnon(t, mm, 0x400000, 2*hostarch.PageSize, hostarch.ReadWrite)
	if err := mm.MProtect(base, hostarch.PageSize, hostarch.Read); err != nil {
		t.Fatalf("MProtect failed: %v", err)
	}
	if _, err := mm.CopyOutBytes(base, []byte{1}); !linuxerr.Equals(linuxerr.EFAULT, err) {
		t.Errorf("write after mprotect(PROT_READ): got %v, want EFAULT", err)
	}
	if _, err := mm.CopyOutBytes(base+hostarch.PageSize, []byte{1}); err != nil {
		t.Errorf("write to untouched page failed: %v", err)
	}
	if err := mm.MProtect(base, 4*hostarch.PageSize, hostarch.Read); !linuxerr.Equals(linuxerr.ENOMEM, err) {
		t.Errorf("MProtect over unmapped range: got %v, want ENOMEM", err)
	}
	if err := mm.MProtect(base+1, hostarch.PageSize, hostarch.Read); !linuxerr.Equals(linuxerr.EINVAL, err) {
		t.Errorf("MProtect unaligned: got %v, want EINVAL", err)
	}
}

func TestBrk(t *testing.T) {
	mm := testMemoryManager()
	mm.BrkSetup(0x600123)
	start, _ := mm.Brk(0)
	if start != 0x601000 {
		t.Fatalf("initial brk got %v, want 0x601000", start)
	}
	got, err := mm.Brk(start + 0x2345)
	if err != nil || got != start+0x2345 {
		t.Fatalf("Brk grow got (%v, %v)", got, err)
	}
	if _, err := mm.CopyOutBytes(start+0x2000, []byte{1}); err != nil {
		t.Errorf("write to heap failed: %v", err)
	}
	if got, err := mm.Brk(start); err != nil || got != start {
		t.Fatalf("Brk shrink got (%v, %v)", got, err)
	}
	if _, err := mm.CopyOutBytes(start, []byte{1}); !linuxerr.Equals(linuxerr.EFAULT, err) {
		t.Errorf("write to released heap: got %v, want EFAULT", err)
	}
}

func TestBudget(t *testing.T) {
	mm := NewMemoryManager(2 * hostarch.PageSize)
	mapAnon(t, mm, 0, 2*hostarch.PageSize, hostarch.ReadWrite)
	if _, err := mm.MMap(MMapOpts{Length: 1, Perms: hostarch.Read}); !linuxerr.Equals(linuxerr.ENOMEM, err) {
		t.Errorf("MMap beyond budget: got %v, want ENOMEM", err)
	}
}

type countingMappable struct{ n int }

func (c *countingMappable) AddMapping()    { c.n++ }
func (c *countingMappable) RemoveMapping() { c.n-- }

func TestForkCopiesPrivateSharesShared(t *testing.T) {
	mm := testMemoryManager()
	priv := mapAnon(t, mm, 0x400000, hostarch.PageSize, hostarch.ReadWrite)
	cm := &countingMappable{}
	shared, err := mm.MMap(MMapOpts{
		Length:   hostarch.PageSize,
		Addr:     0x500000,
		Fixed:    true,
		Perms:    hostarch.ReadWrite,
		Backing:  NewBacking(hostarch.PageSize),
		Kind:     RegionShm,
		Mappable: cm,
	})
	if err != nil {
		t.Fatalf("MMap shared failed: %v", err)
	}
	mm.CopyOutBytes(priv, []byte("parent"))
	mm.SetMetadata(Metadata{Executable: "/bin/sh"})

	child := mm.Fork()
	if cm.n != 2 {
		t.Errorf("mapping count after fork got %d, want 2", cm.n)
	}
	child.CopyOutBytes(priv, []byte("child!"))
	child.CopyOutBytes(shared, []byte("shared"))

	buf := make([]byte, 6)
	mm.CopyInBytes(priv, buf)
	if string(buf) != "parent" {
		t.Errorf("private page changed by child: %q", buf)
	}
	mm.CopyInBytes(shared, buf)
	if string(buf) != "shared" {
		t.Errorf("shared page not visible to parent: %q", buf)
	}
	if got := child.Metadata().Executable; got != "/bin/sh" {
		t.Errorf("child metadata got %q, want /bin/sh", got)
	}

	child.Release()
	if cm.n != 1 {
		t.Errorf("mapping count after child release got %d, want 1", cm.n)
	}
}

func TestAtomics(t *testing.T) {
	mm := testMemoryManager()
	base := mapAnon(t, mm, 0x400000, hostarch.PageSize, hostarch.ReadWrite)
	if prev, err := mm.CompareAndSwapUint32(base, 0, 5); err != nil || prev != 0 {
		t.Fatalf("CAS got (%d, %v), want (0, nil)", prev, err)
	}
	if prev, err := mm.CompareAndSwapUint32(base, 0, 9); err != nil || prev != 5 {
		t.Fatalf("failing CAS got (%d, %v), want (5, nil)", prev, err)
	}
	if v, err := mm.LoadUint32(base); err != nil || v != 5 {
		t.Errorf("LoadUint32 got (%d, %v), want (5, nil)", v, err)
	}
	if _, err := mm.LoadUint32(base + 2); !linuxerr.Equals(linuxerr.EINVAL, err) {
		t.Errorf("unaligned load: got %v, want EINVAL", err)
	}
	if _, err := mm.LoadUint32(0x10); !linuxerr.Equals(linuxerr.EFAULT, err) {
		t.Errorf("unmapped load: got %v, want EFAULT", err)
	}
}

func TestSharedFutexKey(t *testing.T) {
	mm := testMemoryManager()
	b := NewBacking(hostarch.PageSize)
	a1, _ := mm.MMap(MMapOpts{Length: hostarch.PageSize, Perms: hostarch.ReadWrite, Backing: b})
	a2, _ := mm.MMap(MMapOpts{Length: hostarch.PageSize, Perms: hostarch.ReadWrite, Backing: b})
	k1, err1 := mm.GetSharedFutexKey(a1 + 8)
	k2, err2 := mm.GetSharedFutexKey(a2 + 8)
	if err1 != nil || err2 != nil {
		t.Fatalf("GetSharedFutexKey failed: %v, %v", err1, err2)
	}
	if k1 != k2 || k1.Kind != futex.KindSharedMappable {
		t.Errorf("aliases of one shared page got keys %+v and %+v", k1, k2)
	}
}

func TestMapsText(t *testing.T) {
	mm := testMemoryManager()
	if _, err := mm.MapStack(arch.StackTop, 8*hostarch.PageSize); err != nil {
		t.Fatalf("MapStack failed: %v", err)
	}
	mapAnon(t, mm, 0x400000, hostarch.PageSize, hostarch.Read)
	lines := strings.Split(strings.TrimSpace(string(mm.MapsText())), "\n")
	if len(lines) != 2 {
		t.Fatalf("MapsText got %d lines, want 2:\n%s", len(lines), strings.Join(lines, "\n"))
	}
	if !strings.HasPrefix(lines[0], "00400000-00401000 r--p 00000000 00:00 0") {
		t.Errorf("first line got %q", lines[0])
	}
	if !strings.HasSuffix(lines[1], "[stack]") || !strings.Contains(lines[1], " rw-p ") {
		t.Errorf("stack line got %q", lines[1])
	}
}

// TestRegionsNeverOverlap applies random map and unmap operations and checks
// the region set stays ordered and disjoint.
func TestRegionsNeverOverlap(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		mm := testMemoryManager()
		ops := rapid.IntRange(1, 30).Draw(t, "ops")
		for i := 0; i < ops; i++ {
			page := hostarch.Addr(rapid.IntRange(16, 64).Draw(t, "page")) * hostarch.PageSize
			pages := uint64(rapid.IntRange(1, 8).Draw(t, "pages"))
			if rapid.Bool().Draw(t, "unmap") {
				mm.MUnmap(page, pages*hostarch.PageSize)
			} else {
				mm.MMap(MMapOpts{Length: pages * hostarch.PageSize, Addr: page, Fixed: true, Unmap: true, Perms: hostarch.Read, Private: true})
			}
		}
		var prev hostarch.Addr
		var total uint64
		for _, r := range mm.Regions() {
			if r.Start < prev {
				t.Fatalf("region %v overlaps previous end %v", r.Range(), prev)
			}
			prev = r.End()
			total += r.Length
		}
		if total != mm.VirtualMemorySize() {
			t.Fatalf("usage %d does not match region total %d", mm.VirtualMemorySize(), total)
		}
	})
}
