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
	"gvisor.dev/lacd/pkg/abi/linux"
	"gvisor.dev/lacd/pkg/errors/linuxerr"
	"gvisor.dev/lacd/pkg/hostarch"
)

// Registers is the x86-64 general purpose register file, in the layout of
// Linux's struct user_regs_struct.
type Registers struct {
	R15      uint64
	R14      uint64
	R13      uint64
	R12      uint64
	Rbp      uint64
	Rbx      uint64
	R11      uint64
	R10      uint64
	R9       uint64
	R8       uint64
	Rax      uint64
	Rcx      uint64
	Rdx      uint64
	Rsi      uint64
	Rdi      uint64
	Orig_rax uint64
	Rip      uint64
	Cs       uint64
	Eflags   uint64
	Rsp      uint64
	Ss       uint64
	Fs_base  uint64
	Gs_base  uint64
	Ds       uint64
	Es       uint64
	Fs       uint64
	Gs       uint64
}

// RegistersSize is the size of Registers in bytes.
const RegistersSize = 27 * 8

func (r *Registers) fields() []*uint64 {
	return []*uint64{
		&r.R15, &r.R14, &r.R13, &r.R12, &r.Rbp, &r.Rbx, &r.R11, &r.R10,
		&r.R9, &r.R8, &r.Rax, &r.Rcx, &r.Rdx, &r.Rsi, &r.Rdi, &r.Orig_rax,
		&r.Rip, &r.Cs, &r.Eflags, &r.Rsp, &r.Ss, &r.Fs_base, &r.Gs_base,
		&r.Ds, &r.Es, &r.Fs, &r.Gs,
	}
}

// SizeBytes implements marshal.Marshallable.SizeBytes.
func (r *Registers) SizeBytes() int {
	return RegistersSize
}

// MarshalBytes implements marshal.Marshallable.MarshalBytes.
func (r *Registers) MarshalBytes(dst []byte) []byte {
	for _, f := range r.fields() {
		hostarch.ByteOrder.PutUint64(dst, *f)
		dst = dst[8:]
	}
	return dst
}

// UnmarshalBytes implements marshal.Marshallable.UnmarshalBytes.
func (r *Registers) UnmarshalBytes(src []byte) []byte {
	for _, f := range r.fields() {
		*f = hostarch.ByteOrder.Uint64(src)
		src = src[8:]
	}
	return src
}

// User segment selectors, from arch/x86/include/asm/segment.h.
const (
	userCS = 0x33
	userDS = 0x2b
)

// eflags bits a signal handler may change through sigreturn. See
// arch/x86/kernel/signal.c:FIX_EFLAGS.
const eflagsRestorable = 0x1 | 0x4 | 0x10 | 0x40 | 0x80 | 0x100 | 0x400 | 0x800 | 0x10000 | 0x40000

// Context64 is the register state of a 64-bit guest process.
type Context64 struct {
	Regs Registers
}

// NewContext64 returns a context with user segments set and execution
// starting at entry with the given stack pointer.
func NewContext64(entry, sp hostarch.Addr) *Context64 {
	return &Context64{Regs: Registers{
		Rip:    uint64(entry),
		Rsp:    uint64(sp),
		Cs:     userCS,
		Ss:     userDS,
		Ds:     userDS,
		Es:     userDS,
		Eflags: 0x202,
	}}
}

// Arch returns the architecture of c.
func (c *Context64) Arch() Arch {
	return AMD64
}

// Fork returns an exact copy of this context.
func (c *Context64) Fork() *Context64 {
	return &Context64{Regs: c.Regs}
}

// SyscallNo returns the syscall number according to the 64-bit convention.
func (c *Context64) SyscallNo() uintptr {
	return uintptr(c.Regs.Orig_rax)
}

// SyscallArgs provides syscall arguments according to the 64-bit convention.
//
// Due to the way addresses are mapped for the sentry this binary *must* be
// built in 64-bit mode. So we can just assume the syscall numbers that come
// back match the expected host system call numbers.
func (c *Context64) SyscallArgs() SyscallArguments {
	return SyscallArguments{
		SyscallArgument{Value: uintptr(c.Regs.Rdi)},
		SyscallArgument{Value: uintptr(c.Regs.Rsi)},
		SyscallArgument{Value: uintptr(c.Regs.Rdx)},
		SyscallArgument{Value: uintptr(c.Regs.R10)},
		SyscallArgument{Value: uintptr(c.Regs.R8)},
		SyscallArgument{Value: uintptr(c.Regs.R9)},
	}
}

// SetSyscall loads a syscall number and arguments into the registers, the
// way the syscall instruction leaves them.
func (c *Context64) SetSyscall(nr uintptr, args SyscallArguments) {
	c.Regs.Orig_rax = uint64(nr)
	c.Regs.Rax = uint64(nr)
	c.Regs.Rdi = uint64(args[0].Value)
	c.Regs.Rsi = uint64(args[1].Value)
	c.Regs.Rdx = uint64(args[2].Value)
	c.Regs.R10 = uint64(args[3].Value)
	c.Regs.R8 = uint64(args[4].Value)
	c.Regs.R9 = uint64(args[5].Value)
}

// Return returns the current syscall return value.
func (c *Context64) Return() uintptr {
	return uintptr(c.Regs.Rax)
}

// SetReturn sets the syscall return value.
func (c *Context64) SetReturn(value uintptr) {
	c.Regs.Rax = uint64(value)
}

// IP returns the current instruction pointer.
func (c *Context64) IP() uintptr {
	return uintptr(c.Regs.Rip)
}

// SetIP sets the current instruction pointer.
func (c *Context64) SetIP(value uintptr) {
	c.Regs.Rip = uint64(value)
}

// Stack returns the current stack pointer.
func (c *Context64) Stack() uintptr {
	return uintptr(c.Regs.Rsp)
}

// SetStack sets the current stack pointer.
func (c *Context64) SetStack(value uintptr) {
	c.Regs.Rsp = uint64(value)
}

// TLS returns the current TLS pointer.
func (c *Context64) TLS() uintptr {
	return uintptr(c.Regs.Fs_base)
}

// SetTLS sets the current TLS pointer. Returns false if value is invalid.
func (c *Context64) SetTLS(value uintptr) bool {
	if hostarch.Addr(value) >= MaxUserAddress+hostarch.PageSize {
		return false
	}
	c.Regs.Fs_base = uint64(value)
	return true
}

// RestartSyscall implements Context.RestartSyscall. It rewinds the
// instruction pointer over the two-byte syscall instruction.
func (c *Context64) RestartSyscall() {
	c.Regs.Rip -= 2
	c.Regs.Rax = c.Regs.Orig_rax
}

// RestartSyscallWithRestartBlock implements Context.RestartSyscallWithRestartBlock.
func (c *Context64) RestartSyscallWithRestartBlock() {
	c.Regs.Rip -= 2
	c.Regs.Rax = restartSyscallNr
}

// restartSyscallNr is the x86-64 number of restart_syscall(2).
const restartSyscallNr = 219

// SignalContext64 is equivalent to struct sigcontext, the type passed as the
// second argument to signal handlers set by signal(2).
type SignalContext64 struct {
	R8      uint64
	R9      uint64
	R10     uint64
	R11     uint64
	R12     uint64
	R13     uint64
	R14     uint64
	R15     uint64
	Rdi     uint64
	Rsi     uint64
	Rbp     uint64
	Rbx     uint64
	Rdx     uint64
	Rax     uint64
	Rcx     uint64
	Rsp     uint64
	Rip     uint64
	Eflags  uint64
	Cs      uint16
	Gs      uint16 // always 0 on amd64.
	Fs      uint16 // always 0 on amd64.
	Ss      uint16 // only restored if _UC_STRICT_RESTORE_SS (unsupported).
	Err     uint64
	Trapno  uint64
	Oldmask linux.SignalSet
	Cr2     uint64
	// Pointer to a struct _fpstate. Floating point state is not saved, so
	// this is always zero.
	Fpstate  uint64
	Reserved [8]uint64
}

func (sc *SignalContext64) words() []*uint64 {
	return []*uint64{
		&sc.R8, &sc.R9, &sc.R10, &sc.R11, &sc.R12, &sc.R13, &sc.R14, &sc.R15,
		&sc.Rdi, &sc.Rsi, &sc.Rbp, &sc.Rbx, &sc.Rdx, &sc.Rax, &sc.Rcx, &sc.Rsp,
		&sc.Rip, &sc.Eflags,
	}
}

// SizeBytes implements marshal.Marshallable.SizeBytes.
func (sc *SignalContext64) SizeBytes() int {
	return 256
}

// MarshalBytes implements marshal.Marshallable.MarshalBytes.
func (sc *SignalContext64) MarshalBytes(dst []byte) []byte {
	for _, w := range sc.words() {
		hostarch.ByteOrder.PutUint64(dst, *w)
		dst = dst[8:]
	}
	for _, s := range []uint16{sc.Cs, sc.Gs, sc.Fs, sc.Ss} {
		hostarch.ByteOrder.PutUint16(dst, s)
		dst = dst[2:]
	}
	for _, w := range []uint64{sc.Err, sc.Trapno, uint64(sc.Oldmask), sc.Cr2, sc.Fpstate} {
		hostarch.ByteOrder.PutUint64(dst, w)
		dst = dst[8:]
	}
	for _, w := range sc.Reserved {
		hostarch.ByteOrder.PutUint64(dst, w)
		dst = dst[8:]
	}
	return dst
}

// UnmarshalBytes implements marshal.Marshallable.UnmarshalBytes.
func (sc *SignalContext64) UnmarshalBytes(src []byte) []byte {
	for _, w := range sc.words() {
		*w = hostarch.ByteOrder.Uint64(src)
		src = src[8:]
	}
	for _, s := range []*uint16{&sc.Cs, &sc.Gs, &sc.Fs, &sc.Ss} {
		*s = hostarch.ByteOrder.Uint16(src)
		src = src[2:]
	}
	sc.Err = hostarch.ByteOrder.Uint64(src)
	sc.Trapno = hostarch.ByteOrder.Uint64(src[8:])
	sc.Oldmask = linux.SignalSet(hostarch.ByteOrder.Uint64(src[16:]))
	sc.Cr2 = hostarch.ByteOrder.Uint64(src[24:])
	sc.Fpstate = hostarch.ByteOrder.Uint64(src[32:])
	src = src[40:]
	for i := range sc.Reserved {
		sc.Reserved[i] = hostarch.ByteOrder.Uint64(src)
		src = src[8:]
	}
	return src
}

// UContext64 is equivalent to ucontext_t on 64-bit x86.
type UContext64 struct {
	Flags    uint64
	Link     uint64
	Stack    linux.SignalStack
	MContext SignalContext64
	Sigset   linux.SignalSet
}

// SizeBytes implements marshal.Marshallable.SizeBytes.
func (uc *UContext64) SizeBytes() int {
	return 16 + uc.Stack.SizeBytes() + uc.MContext.SizeBytes() + 8
}

// MarshalBytes implements marshal.Marshallable.MarshalBytes.
func (uc *UContext64) MarshalBytes(dst []byte) []byte {
	hostarch.ByteOrder.PutUint64(dst, uc.Flags)
	hostarch.ByteOrder.PutUint64(dst[8:], uc.Link)
	dst = uc.Stack.MarshalBytes(dst[16:])
	dst = uc.MContext.MarshalBytes(dst)
	hostarch.ByteOrder.PutUint64(dst, uint64(uc.Sigset))
	return dst[8:]
}

// UnmarshalBytes implements marshal.Marshallable.UnmarshalBytes.
func (uc *UContext64) UnmarshalBytes(src []byte) []byte {
	uc.Flags = hostarch.ByteOrder.Uint64(src)
	uc.Link = hostarch.ByteOrder.Uint64(src[8:])
	src = uc.Stack.UnmarshalBytes(src[16:])
	src = uc.MContext.UnmarshalBytes(src)
	uc.Sigset = linux.SignalSet(hostarch.ByteOrder.Uint64(src))
	return src[8:]
}

// SignalSetup implements Context.SignalSetup. It builds an rt_sigframe on
// st (or on the alternate stack when the action requests it) and points the
// registers at the handler.
func (c *Context64) SignalSetup(st *Stack, act *linux.SignalAct, info *linux.SignalInfo, alt *linux.SignalStack, sigset linux.SignalSet) error {
	sp := st.Bottom

	// Switch to the alternate stack if requested and we are not already
	// running on it.
	if act.IsOnStack() && alt.IsEnabled() && !alt.Contains(sp) {
		sp = alt.Top()
	}

	// Skip over the red zone.
	sp -= redZoneSize

	uc := &UContext64{
		Flags: 0,
		Stack: *alt,
		MContext: SignalContext64{
			R8:      c.Regs.R8,
			R9:      c.Regs.R9,
			R10:     c.Regs.R10,
			R11:     c.Regs.R11,
			R12:     c.Regs.R12,
			R13:     c.Regs.R13,
			R14:     c.Regs.R14,
			R15:     c.Regs.R15,
			Rdi:     c.Regs.Rdi,
			Rsi:     c.Regs.Rsi,
			Rbp:     c.Regs.Rbp,
			Rbx:     c.Regs.Rbx,
			Rdx:     c.Regs.Rdx,
			Rax:     c.Regs.Rax,
			Rcx:     c.Regs.Rcx,
			Rsp:     c.Regs.Rsp,
			Rip:     c.Regs.Rip,
			Eflags:  c.Regs.Eflags,
			Cs:      uint16(c.Regs.Cs),
			Ss:      uint16(c.Regs.Ss),
			Oldmask: sigset,
		},
		Sigset: sigset,
	}
	if linux.Signal(info.Signo) == linux.SIGSEGV {
		uc.MContext.Cr2 = info.Addr()
	}

	// The frame is the return address, the ucontext, then the siginfo. The
	// handler is entered as if called, so the return address slot sits at
	// 16n-8.
	frameSize := uintptr(uc.SizeBytes() + info.SizeBytes())
	frameBottom := (sp-hostarch.Addr(frameSize))&^15 - 8
	st.Bottom = frameBottom + hostarch.Addr(frameSize)

	infoAddr, err := st.Push(info)
	if err != nil {
		return err
	}
	ucAddr, err := st.Push(uc)
	if err != nil {
		return err
	}
	if !act.HasRestorer() {
		// There is no vsyscall page to return through.
		return linuxerr.EFAULT
	}
	if _, err := st.PushUint64(act.Restorer); err != nil {
		return err
	}

	c.Regs.Rip = act.Handler
	c.Regs.Rsp = uint64(st.Bottom)
	c.Regs.Rdi = uint64(info.Signo)
	c.Regs.Rsi = uint64(infoAddr)
	c.Regs.Rdx = uint64(ucAddr)
	c.Regs.Rax = 0
	c.Regs.Ds = userDS
	c.Regs.Es = userDS
	c.Regs.Cs = userCS
	c.Regs.Ss = userDS

	// Clear the direction and trap flags for the handler.
	c.Regs.Eflags &^= 0x400 | 0x100
	return nil
}

// SignalRestore implements Context.SignalRestore. It is called by
// rt_sigreturn with the stack pointing just past the popped return address.
func (c *Context64) SignalRestore(st *Stack) (linux.SignalSet, linux.SignalStack, error) {
	var uc UContext64
	if _, err := st.Pop(&uc); err != nil {
		return 0, linux.SignalStack{}, err
	}

	// Restore registers.
	m := &uc.MContext
	c.Regs.R8 = m.R8
	c.Regs.R9 = m.R9
	c.Regs.R10 = m.R10
	c.Regs.R11 = m.R11
	c.Regs.R12 = m.R12
	c.Regs.R13 = m.R13
	c.Regs.R14 = m.R14
	c.Regs.R15 = m.R15
	c.Regs.Rdi = m.Rdi
	c.Regs.Rsi = m.Rsi
	c.Regs.Rbp = m.Rbp
	c.Regs.Rbx = m.Rbx
	c.Regs.Rdx = m.Rdx
	c.Regs.Rax = m.Rax
	c.Regs.Rcx = m.Rcx
	c.Regs.Rsp = m.Rsp
	c.Regs.Rip = m.Rip
	c.Regs.Eflags = (c.Regs.Eflags & ^uint64(eflagsRestorable)) | (m.Eflags & eflagsRestorable)
	c.Regs.Cs = userCS
	c.Regs.Ss = userDS

	// N.B. _UC_STRICT_RESTORE_SS not supported.
	c.Regs.Orig_rax = ^uint64(0)

	return uc.Sigset, uc.Stack, nil
}
