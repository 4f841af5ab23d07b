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

package arch

import (
	"bytes"
	"testing"

	"gvisor.dev/lacd/pkg/abi/linux"
	"gvisor.dev/lacd/pkg/errors/linuxerr"
	"gvisor.dev/lacd/pkg/hostarch"
)

// flatMemory is a CopyContext over a single contiguous range.
type flatMemory struct {
	base hostarch.Addr
	buf  []byte
}

func newFlatMemory(base hostarch.Addr, size int) *flatMemory {
	return &flatMemory{base: base, buf: make([]byte, size)}
}

func (m *flatMemory) slice(addr hostarch.Addr, n int) ([]byte, error) {
	if addr < m.base || uint64(addr-m.base)+uint64(n) > uint64(len(m.buf)) {
		return nil, linuxerr.EFAULT
	}
	off := int(addr - m.base)
	return m.buf[off : off+n], nil
}

func (m *flatMemory) CopyInBytes(addr hostarch.Addr, dst []byte) (int, error) {
	b, err := m.slice(addr, len(dst))
	if err != nil {
		return 0, err
	}
	return copy(dst, b), nil
}

func (m *flatMemory) CopyOutBytes(addr hostarch.Addr, src []byte) (int, error) {
	b, err := m.slice(addr, len(src))
	if err != nil {
		return 0, err
	}
	return copy(b, src), nil
}

func (m *flatMemory) word(t *testing.T, addr hostarch.Addr) uint64 {
	t.Helper()
	b, err := m.slice(addr, 8)
	if err != nil {
		t.Fatalf("read word at %v: %v", addr, err)
	}
	return hostarch.ByteOrder.Uint64(b)
}

func (m *flatMemory) cstring(t *testing.T, addr hostarch.Addr) string {
	t.Helper()
	off := int(addr - m.base)
	end := bytes.IndexByte(m.buf[off:], 0)
	if end < 0 {
		t.Fatalf("unterminated string at %v", addr)
	}
	return string(m.buf[off : off+end])
}

const testStackTop = hostarch.Addr(0x10000)

func TestStackLoad(t *testing.T) {
	mem := newFlatMemory(0, int(testStackTop))
	for _, tc := range []struct {
		args []string
		env  []string
	}{
		{[]string{"/bin/true"}, nil},
		{[]string{"/bin/echo", "hello", "world"}, []string{"HOME=/home/user"}},
		{[]string{"a", "bb", "ccc"}, []string{"X=1", "Y=22", "Z=333"}},
	} {
		st := &Stack{IO: mem, Bottom: testStackTop - 3}
		aux := Auxv{{Key: linux.AT_PAGESZ, Value: hostarch.PageSize}, {Key: linux.AT_ENTRY, Value: 0x401000}}
		l, err := st.Load(tc.args, tc.env, aux)
		if err != nil {
			t.Fatalf("Load(%v) failed: %v", tc.args, err)
		}
		sp := st.Bottom
		if sp%16 != 0 {
			t.Errorf("Load(%v) final stack pointer %v is not 16-byte aligned", tc.args, sp)
		}
		if argc := mem.word(t, sp); argc != uint64(len(tc.args)) {
			t.Errorf("argc got %d, want %d", argc, len(tc.args))
		}
		p := sp + 8
		for i, want := range tc.args {
			if got := mem.cstring(t, hostarch.Addr(mem.word(t, p))); got != want {
				t.Errorf("argv[%d] got %q, want %q", i, got, want)
			}
			p += 8
		}
		if mem.word(t, p) != 0 {
			t.Errorf("argv not null terminated")
		}
		p += 8
		for i, want := range tc.env {
			if got := mem.cstring(t, hostarch.Addr(mem.word(t, p))); got != want {
				t.Errorf("envp[%d] got %q, want %q", i, got, want)
			}
			p += 8
		}
		if mem.word(t, p) != 0 {
			t.Errorf("envp not null terminated")
		}
		p += 8
		for _, e := range aux {
			if k, v := mem.word(t, p), mem.word(t, p+8); k != e.Key || hostarch.Addr(v) != e.Value {
				t.Errorf("auxv entry got (%d, %#x), want (%d, %#x)", k, v, e.Key, e.Value)
			}
			p += 16
		}
		if mem.word(t, p) != linux.AT_NULL {
			t.Errorf("auxv not terminated by AT_NULL")
		}
		if l.ArgvStart > l.ArgvEnd || l.ArgvEnd != l.EnvvStart || l.EnvvStart > l.EnvvEnd {
			t.Errorf("bad layout %+v", l)
		}
	}
}

func TestSignalSetupRestore(t *testing.T) {
	mem := newFlatMemory(0, int(testStackTop))
	c := NewContext64(0x401000, testStackTop-0x100)
	c.Regs.Rax = 42
	c.Regs.Rbx = 7
	c.Regs.R12 = 0xdead
	orig := c.Regs

	act := &linux.SignalAct{Handler: 0x402000, Flags: linux.SA_SIGINFO | linux.SA_RESTORER, Restorer: 0x403000}
	info := &linux.SignalInfo{Signo: int32(linux.SIGUSR1), Code: linux.SI_USER}
	alt := &linux.SignalStack{Flags: linux.SS_DISABLE}
	oldMask := linux.MakeSignalSet(linux.SIGUSR2)

	st := &Stack{IO: mem, Bottom: hostarch.Addr(c.Regs.Rsp)}
	if err := c.SignalSetup(st, act, info, alt, oldMask); err != nil {
		t.Fatalf("SignalSetup failed: %v", err)
	}
	if c.Regs.Rip != act.Handler {
		t.Errorf("Rip got %#x, want handler %#x", c.Regs.Rip, act.Handler)
	}
	if c.Regs.Rdi != uint64(linux.SIGUSR1) {
		t.Errorf("Rdi got %d, want %d", c.Regs.Rdi, linux.SIGUSR1)
	}
	if (c.Regs.Rsp+8)%16 != 0 {
		t.Errorf("handler entry stack %#x not at 16n-8", c.Regs.Rsp)
	}
	if ret := mem.word(t, hostarch.Addr(c.Regs.Rsp)); ret != act.Restorer {
		t.Errorf("return address got %#x, want restorer %#x", ret, act.Restorer)
	}
	if c.Regs.Rsp >= orig.Rsp-redZoneSize {
		t.Errorf("frame at %#x overlaps red zone below %#x", c.Regs.Rsp, orig.Rsp)
	}

	// Emulate the handler returning into the restorer: ret pops 8 bytes.
	rst := &Stack{IO: mem, Bottom: hostarch.Addr(c.Regs.Rsp + 8)}
	mask, _, err := c.SignalRestore(rst)
	if err != nil {
		t.Fatalf("SignalRestore failed: %v", err)
	}
	if mask != oldMask {
		t.Errorf("restored mask got %#x, want %#x", mask, oldMask)
	}
	if c.Regs.Rip != orig.Rip || c.Regs.Rsp != orig.Rsp || c.Regs.Rax != orig.Rax || c.Regs.Rbx != orig.Rbx || c.Regs.R12 != orig.R12 {
		t.Errorf("registers not restored: got %+v, want %+v", c.Regs, orig)
	}
}

func TestSignalSetupAltStack(t *testing.T) {
	mem := newFlatMemory(0, int(testStackTop))
	c := NewContext64(0x401000, testStackTop-0x100)
	act := &linux.SignalAct{Handler: 0x402000, Flags: linux.SA_ONSTACK | linux.SA_RESTORER, Restorer: 0x403000}
	alt := &linux.SignalStack{Addr: 0x4000, Size: 0x2000}
	info := &linux.SignalInfo{Signo: int32(linux.SIGSEGV)}
	st := &Stack{IO: mem, Bottom: hostarch.Addr(c.Regs.Rsp)}
	if err := c.SignalSetup(st, act, info, alt, 0); err != nil {
		t.Fatalf("SignalSetup failed: %v", err)
	}
	if !alt.Contains(hostarch.Addr(c.Regs.Rsp)) {
		t.Errorf("frame at %#x not on alternate stack [%#x, %#x)", c.Regs.Rsp, alt.Addr, alt.Addr+alt.Size)
	}
}

func TestSignalSetupNoRestorer(t *testing.T) {
	mem := newFlatMemory(0, int(testStackTop))
	c := NewContext64(0x401000, testStackTop-0x100)
	act := &linux.SignalAct{Handler: 0x402000}
	st := &Stack{IO: mem, Bottom: hostarch.Addr(c.Regs.Rsp)}
	err := c.SignalSetup(st, act, &linux.SignalInfo{Signo: 10}, &linux.SignalStack{Flags: linux.SS_DISABLE}, 0)
	if !linuxerr.Equals(linuxerr.EFAULT, err) {
		t.Errorf("SignalSetup without restorer got %v, want EFAULT", err)
	}
}

func TestRestartSyscall(t *testing.T) {
	c := NewContext64(0x401002, 0x7000)
	c.SetSyscall(202, Args(0x1000, 0, 1))
	c.SetReturn(^uintptr(511)) // -ERESTARTSYS
	c.RestartSyscall()
	if c.IP() != 0x401000 {
		t.Errorf("IP after restart got %#x, want %#x", c.IP(), 0x401000)
	}
	if c.Return() != 202 {
		t.Errorf("Rax after restart got %d, want syscall number 202", c.Return())
	}
	if got := c.SyscallArgs()[2].Int(); got != 1 {
		t.Errorf("arg 2 got %d, want 1", got)
	}
}

func TestRegistersMarshal(t *testing.T) {
	r := Registers{Rip: 1, Rsp: 2, Gs: 3}
	buf := make([]byte, RegistersSize)
	r.MarshalBytes(buf)
	if got := hostarch.ByteOrder.Uint64(buf[16*8:]); got != 1 {
		t.Errorf("Rip at offset 128 got %d, want 1", got)
	}
	if got := hostarch.ByteOrder.Uint64(buf[26*8:]); got != 3 {
		t.Errorf("Gs at offset 208 got %d, want 3", got)
	}
}
