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

package loader

import (
	"bytes"
	"debug/elf"
	"encoding/binary"
	"testing"

	"github.com/google/go-cmp/cmp"

	"gvisor.dev/lacd/pkg/errors/linuxerr"
	"gvisor.dev/lacd/pkg/hostarch"
	"gvisor.dev/lacd/pkg/sentry/arch"
	"gvisor.dev/lacd/pkg/sentry/mm"
)

// testSegment describes a program header and its file contents.
type testSegment struct {
	typ    elf.ProgType
	flags  elf.ProgFlag
	vaddr  uint64
	data   []byte
	memsz  uint64
	offset uint64 // if zero, data is placed after the previous segment
}

// testELF builds a 64-bit little-endian ELF image.
type testELF struct {
	class   elf.Class
	data    elf.Data
	typ     elf.Type
	machine elf.Machine
	entry   uint64
	segs    []testSegment
}

func newTestELF(typ elf.Type, entry uint64, segs ...testSegment) *testELF {
	return &testELF{
		class:   elf.ELFCLASS64,
		data:    elf.ELFDATA2LSB,
		typ:     typ,
		machine: elf.EM_X86_64,
		entry:   entry,
		segs:    segs,
	}
}

func (e *testELF) bytes(t *testing.T) []byte {
	t.Helper()
	phoff := uint64(header64Size)
	dataOff := phoff + uint64(len(e.segs)*prog64Size)

	var phdrs []elf.Prog64
	var contents bytes.Buffer
	for _, s := range e.segs {
		off := s.offset
		if off == 0 {
			off = dataOff + uint64(contents.Len())
			contents.Write(s.data)
		}
		memsz := s.memsz
		if memsz == 0 {
			memsz = uint64(len(s.data))
		}
		phdrs = append(phdrs, elf.Prog64{
			Type:   uint32(s.typ),
			Flags:  uint32(s.flags),
			Off:    off,
			Vaddr:  s.vaddr,
			Paddr:  s.vaddr,
			Filesz: uint64(len(s.data)),
			Memsz:  memsz,
			Align:  hostarch.PageSize,
		})
	}

	hdr := elf.Header64{
		Type:      uint16(e.typ),
		Machine:   uint16(e.machine),
		Version:   uint32(elf.EV_CURRENT),
		Entry:     e.entry,
		Phoff:     phoff,
		Ehsize:    uint16(header64Size),
		Phentsize: uint16(prog64Size),
		Phnum:     uint16(len(e.segs)),
	}
	copy(hdr.Ident[:], elfMagic)
	hdr.Ident[elf.EI_CLASS] = byte(e.class)
	hdr.Ident[elf.EI_DATA] = byte(e.data)
	hdr.Ident[elf.EI_VERSION] = byte(elf.EV_CURRENT)

	var buf bytes.Buffer
	if err := binary.Write(&buf, binary.LittleEndian, &hdr); err != nil {
		t.Fatalf("binary.Write(header) failed: %v", err)
	}
	for i := range phdrs {
		if err := binary.Write(&buf, binary.LittleEndian, &phdrs[i]); err != nil {
			t.Fatalf("binary.Write(phdr) failed: %v", err)
		}
	}
	buf.Write(contents.Bytes())
	return buf.Bytes()
}

func (e *testELF) file(t *testing.T) File {
	return bytes.NewReader(e.bytes(t))
}

func staticELF() *testELF {
	return newTestELF(elf.ET_EXEC, 0x401000,
		testSegment{typ: elf.PT_LOAD, flags: elf.PF_R | elf.PF_X, vaddr: 0x401000, data: []byte("text")},
		testSegment{typ: elf.PT_LOAD, flags: elf.PF_R | elf.PF_W, vaddr: 0x403000, data: []byte("data"), memsz: 0x2000},
		testSegment{typ: elf.PT_GNU_STACK, flags: elf.PF_R | elf.PF_W},
	)
}

func readMem(t *testing.T, m *mm.MemoryManager, addr hostarch.Addr, n int) []byte {
	t.Helper()
	buf := make([]byte, n)
	if _, err := m.CopyIn(addr, buf, mm.IOOpts{IgnorePermissions: true}); err != nil {
		t.Fatalf("CopyIn(%#x) failed: %v", addr, err)
	}
	return buf
}

func TestLoadStaticELF(t *testing.T) {
	m := mm.NewMemoryManager(0)
	ii, err := LoadELF(m, staticELF().file(t), "/bin/static", nil)
	if err != nil {
		t.Fatalf("LoadELF failed: %v", err)
	}
	if ii.Entry != 0x401000 || ii.ImageEntry != 0x401000 {
		t.Errorf("entry got (%#x, %#x), want 0x401000", ii.Entry, ii.ImageEntry)
	}
	if ii.Start != 0x401000 || ii.End != 0x405000 {
		t.Errorf("image range got [%#x, %#x), want [0x401000, 0x405000)", ii.Start, ii.End)
	}
	if ii.InterpreterBase != 0 || ii.Interpreter != "" {
		t.Errorf("unexpected interpreter %q at %#x", ii.Interpreter, ii.InterpreterBase)
	}
	if ii.ExecStack {
		t.Errorf("ExecStack got true, want false")
	}

	type region struct {
		Start  hostarch.Addr
		Length uint64
		Perms  string
	}
	var got []region
	for _, r := range m.Regions() {
		got = append(got, region{r.Start, r.Length, r.Perms.String()})
	}
	want := []region{
		{0x401000, hostarch.PageSize, "r-x"},
		{0x403000, 2 * hostarch.PageSize, "rw-"},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("regions mismatch (-want +got):\n%s", diff)
	}

	if got := string(readMem(t, m, 0x401000, 4)); got != "text" {
		t.Errorf("text got %q, want %q", got, "text")
	}
	// The file bytes are followed by zeroes up to memsz.
	if got := readMem(t, m, 0x403000, 8); !bytes.Equal(got, []byte("data\x00\x00\x00\x00")) {
		t.Errorf("data got %q", got)
	}
	if got := readMem(t, m, 0x404ff8, 8); !bytes.Equal(got, make([]byte, 8)) {
		t.Errorf("bss tail got %q, want zeroes", got)
	}
}

func TestLoadSharedPage(t *testing.T) {
	e := newTestELF(elf.ET_EXEC, 0x401000,
		testSegment{typ: elf.PT_LOAD, flags: elf.PF_R | elf.PF_X, vaddr: 0x401000, data: []byte("text"), memsz: 0x1800},
		testSegment{typ: elf.PT_LOAD, flags: elf.PF_R | elf.PF_W, vaddr: 0x402900, data: []byte("data")},
	)
	m := mm.NewMemoryManager(0)
	if _, err := LoadELF(m, e.file(t), "/bin/shared", nil); err != nil {
		t.Fatalf("LoadELF failed: %v", err)
	}
	var perms []string
	for _, r := range m.Regions() {
		perms = append(perms, r.Start.String()+" "+r.Perms.String())
	}
	want := []string{"0x401000 r-x", "0x402000 rwx"}
	if diff := cmp.Diff(want, perms); diff != "" {
		t.Errorf("regions mismatch (-want +got):\n%s", diff)
	}
	if got := string(readMem(t, m, 0x402900, 4)); got != "data" {
		t.Errorf("data got %q, want %q", got, "data")
	}
}

func TestLoadPIE(t *testing.T) {
	e := newTestELF(elf.ET_DYN, 0x1000,
		testSegment{typ: elf.PT_PHDR, flags: elf.PF_R, vaddr: uint64(header64Size)},
		testSegment{typ: elf.PT_LOAD, flags: elf.PF_R | elf.PF_X, vaddr: 0, data: []byte("code")},
		testSegment{typ: elf.PT_DYNAMIC, flags: elf.PF_R, vaddr: 0x2000},
		testSegment{typ: elf.PT_GNU_STACK, flags: elf.PF_R | elf.PF_W | elf.PF_X},
	)
	m := mm.NewMemoryManager(0)
	ii, err := LoadELF(m, e.file(t), "/bin/pie", nil)
	if err != nil {
		t.Fatalf("LoadELF failed: %v", err)
	}
	base := arch.PIELoadAddress
	if ii.Entry != base+0x1000 {
		t.Errorf("Entry got %#x, want %#x", ii.Entry, base+0x1000)
	}
	if ii.PhdrAddr != base+hostarch.Addr(header64Size) {
		t.Errorf("PhdrAddr got %#x, want %#x", ii.PhdrAddr, base+hostarch.Addr(header64Size))
	}
	if ii.Dynamic != base+0x2000 {
		t.Errorf("Dynamic got %#x, want %#x", ii.Dynamic, base+0x2000)
	}
	if ii.PhdrNum != 4 || ii.PhdrSize != prog64Size {
		t.Errorf("phdrs got (%d, %d), want (4, %d)", ii.PhdrNum, ii.PhdrSize, prog64Size)
	}
	if !ii.ExecStack {
		t.Errorf("ExecStack got false, want true")
	}
}

func interpELF() *testELF {
	return newTestELF(elf.ET_DYN, 0x10,
		testSegment{typ: elf.PT_LOAD, flags: elf.PF_R | elf.PF_X, vaddr: 0, data: []byte("ld.so")},
	)
}

func dynamicELF() *testELF {
	return newTestELF(elf.ET_EXEC, 0x401000,
		testSegment{typ: elf.PT_INTERP, flags: elf.PF_R, data: []byte("/lib/ld.so\x00")},
		testSegment{typ: elf.PT_LOAD, flags: elf.PF_R | elf.PF_X, vaddr: 0x401000, data: []byte("main")},
	)
}

func TestLoadInterpreter(t *testing.T) {
	var opened []string
	open := func(p string) (File, error) {
		opened = append(opened, p)
		if p != "/lib/ld.so" {
			return nil, linuxerr.ENOENT
		}
		return interpELF().file(t), nil
	}

	m := mm.NewMemoryManager(0)
	ii, err := LoadELF(m, dynamicELF().file(t), "/bin/dyn", open)
	if err != nil {
		t.Fatalf("LoadELF failed: %v", err)
	}
	if diff := cmp.Diff([]string{"/lib/ld.so"}, opened); diff != "" {
		t.Errorf("opened mismatch (-want +got):\n%s", diff)
	}
	if ii.Interpreter != "/lib/ld.so" {
		t.Errorf("Interpreter got %q, want /lib/ld.so", ii.Interpreter)
	}
	if ii.InterpreterBase != arch.InterpreterLoadAddress {
		t.Errorf("InterpreterBase got %#x, want %#x", ii.InterpreterBase, arch.InterpreterLoadAddress)
	}
	if want := arch.InterpreterLoadAddress + 0x10; ii.Entry != want {
		t.Errorf("Entry got %#x, want interpreter entry %#x", ii.Entry, want)
	}
	if ii.ImageEntry != 0x401000 {
		t.Errorf("ImageEntry got %#x, want 0x401000", ii.ImageEntry)
	}
	if got := string(readMem(t, m, arch.InterpreterLoadAddress, 5)); got != "ld.so" {
		t.Errorf("interpreter contents got %q", got)
	}
	if got := len(m.Regions()); got != 2 {
		t.Errorf("got %d regions, want 2", got)
	}
}

func TestLoadInterpreterMissing(t *testing.T) {
	m := mm.NewMemoryManager(0)
	open := func(string) (File, error) { return nil, linuxerr.ENOENT }
	if _, err := LoadELF(m, dynamicELF().file(t), "/bin/dyn", open); !linuxerr.Equals(linuxerr.ENOENT, err) {
		t.Errorf("LoadELF got %v, want ENOENT", err)
	}
	if got := len(m.Regions()); got != 0 {
		t.Errorf("got %d regions after failed load, want 0", got)
	}
}

func TestLoadELFInvalid(t *testing.T) {
	for _, tc := range []struct {
		name   string
		mutate func(e *testELF)
		raw    []byte
	}{
		{name: "truncated", raw: []byte("\x7fELF\x02")},
		{name: "bad magic", raw: append([]byte("\x7fELG"), make([]byte, 60)...)},
		{name: "32-bit", mutate: func(e *testELF) { e.class = elf.ELFCLASS32 }},
		{name: "big endian", mutate: func(e *testELF) { e.data = elf.ELFDATA2MSB }},
		{name: "bad machine", mutate: func(e *testELF) { e.machine = elf.EM_386 }},
		{name: "relocatable", mutate: func(e *testELF) { e.typ = elf.ET_REL }},
		{name: "no PT_LOAD", mutate: func(e *testELF) { e.segs = e.segs[2:] }},
		{name: "segment beyond file", mutate: func(e *testELF) { e.segs[0].offset = 1 << 20 }},
		{name: "filesz above memsz", mutate: func(e *testELF) { e.segs[0].memsz = 1 }},
		{name: "overlapping segments", mutate: func(e *testELF) { e.segs[1].vaddr = 0x401002 }},
		{name: "null page", mutate: func(e *testELF) { e.segs[0].vaddr = 0 }},
	} {
		t.Run(tc.name, func(t *testing.T) {
			raw := tc.raw
			if raw == nil {
				e := staticELF()
				tc.mutate(e)
				raw = e.bytes(t)
			}
			m := mm.NewMemoryManager(0)
			if _, err := LoadELF(m, bytes.NewReader(raw), "/bin/bad", nil); !linuxerr.Equals(linuxerr.ENOEXEC, err) {
				t.Errorf("LoadELF got %v, want ENOEXEC", err)
			}
			if got := len(m.Regions()); got != 0 {
				t.Errorf("got %d regions after failed load, want 0", got)
			}
		})
	}
}

func TestLoadELFBudget(t *testing.T) {
	// The image needs three pages.
	m := mm.NewMemoryManager(2 * hostarch.PageSize)
	if _, err := LoadELF(m, staticELF().file(t), "/bin/static", nil); !linuxerr.Equals(linuxerr.ENOMEM, err) {
		t.Errorf("LoadELF got %v, want ENOMEM", err)
	}
	if got := len(m.Regions()); got != 0 {
		t.Errorf("got %d regions after failed load, want 0", got)
	}
}
