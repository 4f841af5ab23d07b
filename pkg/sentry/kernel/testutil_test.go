// Copyright 2020 The gVisor Authors.
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

package kernel

import (
	"bytes"
	"debug/elf"
	"encoding/binary"
	"testing"

	"gvisor.dev/lacd/pkg/abi"
	"gvisor.dev/lacd/pkg/abi/linux"
	"gvisor.dev/lacd/pkg/errors/linuxerr"
	"gvisor.dev/lacd/pkg/sentry/arch"
	"gvisor.dev/lacd/pkg/sentry/fsimpl/tmpfs"
	"gvisor.dev/lacd/pkg/sentry/pathmap"
	"gvisor.dev/lacd/pkg/sentry/vfs"
)

const (
	testEntry   = 0x400078
	testHandler = 0x400100
	testRestore = 0x400200
)

// Syscall numbers of the test table.
const (
	sysGetpid    = 39
	sysFail      = 500
	sysPanic     = 501
	sysBlock     = 502
	sysUnimpl    = 503
	sysRestart   = 504
	sysSigreturn = 15
	sysExit      = 60
)

// testExecutable returns a minimal static x86-64 executable whose single
// PT_LOAD segment maps the file at 0x400000.
func testExecutable(t *testing.T) []byte {
	t.Helper()
	const (
		ehsize = 64
		phsize = 56
	)
	hdr := elf.Header64{
		Type:      uint16(elf.ET_EXEC),
		Machine:   uint16(elf.EM_X86_64),
		Version:   uint32(elf.EV_CURRENT),
		Entry:     testEntry,
		Phoff:     ehsize,
		Ehsize:    ehsize,
		Phentsize: phsize,
		Phnum:     1,
	}
	copy(hdr.Ident[:], elf.ELFMAG)
	hdr.Ident[elf.EI_CLASS] = byte(elf.ELFCLASS64)
	hdr.Ident[elf.EI_DATA] = byte(elf.ELFDATA2LSB)
	hdr.Ident[elf.EI_VERSION] = byte(elf.EV_CURRENT)

	code := []byte{0x0f, 0x05, 0xeb, 0xfc} // syscall; jmp .-2
	size := uint64(ehsize + phsize + len(code))
	prog := elf.Prog64{
		Type:   uint32(elf.PT_LOAD),
		Flags:  uint32(elf.PF_R | elf.PF_X),
		Vaddr:  0x400000,
		Paddr:  0x400000,
		Filesz: size,
		Memsz:  0x1000,
		Align:  0x1000,
	}

	var buf bytes.Buffer
	if err := binary.Write(&buf, binary.LittleEndian, &hdr); err != nil {
		t.Fatalf("binary.Write(header) failed: %v", err)
	}
	if err := binary.Write(&buf, binary.LittleEndian, &prog); err != nil {
		t.Fatalf("binary.Write(phdr) failed: %v", err)
	}
	buf.Write(code)
	return buf.Bytes()
}

// testSyscallTable returns an initialized table that is not registered
// globally.
func testSyscallTable() *SyscallTable {
	s := &SyscallTable{
		OS:   abi.Linux,
		Arch: arch.AMD64,
		Table: map[uintptr]Syscall{
			sysGetpid: {Name: "getpid", Category: CategoryIdentity, SupportLevel: SupportFull,
				Fn: func(p *Process, _ arch.SyscallArguments) (uintptr, *SyscallControl, error) {
					return uintptr(p.PID()), nil, nil
				}},
			sysFail: {Name: "fail", ArgCount: 1, SupportLevel: SupportFull,
				Fn: func(*Process, arch.SyscallArguments) (uintptr, *SyscallControl, error) {
					return 0, nil, linuxerr.EINVAL
				}},
			sysPanic: {Name: "panic", SupportLevel: SupportFull,
				Fn: func(*Process, arch.SyscallArguments) (uintptr, *SyscallControl, error) {
					panic("handler bug")
				}},
			sysBlock: {Name: "block", SupportLevel: SupportFull,
				Fn: func(p *Process, _ arch.SyscallArguments) (uintptr, *SyscallControl, error) {
					if err := p.Block(nil); err != nil {
						return 0, nil, linuxerr.ERESTARTSYS
					}
					return 0, nil, nil
				}},
			sysUnimpl: {Name: "unimpl", SupportLevel: SupportUnimplemented},
			sysRestart: {Name: "restart", SupportLevel: SupportFull,
				Fn: func(*Process, arch.SyscallArguments) (uintptr, *SyscallControl, error) {
					return 0, nil, linuxerr.ERESTARTSYS
				}},
			sysSigreturn: {Name: "rt_sigreturn", Category: CategorySignal, SupportLevel: SupportFull,
				Fn: func(p *Process, _ arch.SyscallArguments) (uintptr, *SyscallControl, error) {
					ctrl, err := p.SignalReturn()
					return 0, ctrl, err
				}},
			sysExit: {Name: "exit_group", ArgCount: 1, Category: CategoryProcess, SupportLevel: SupportFull,
				Fn: func(p *Process, args arch.SyscallArguments) (uintptr, *SyscallControl, error) {
					p.Exit(linux.WaitStatusExit(args[0].Int() & 0xff))
					return 0, CtrlDoExit, nil
				}},
		},
	}
	s.Init()
	return s
}

type testKernel struct {
	*Kernel
	fs *tmpfs.Filesystem
}

// newTestKernel returns a kernel whose root filesystem is a tmpfs holding
// an executable at /bin/true.
func newTestKernel(t *testing.T, args InitKernelArgs) *testKernel {
	t.Helper()
	fs := tmpfs.New()
	if err := fs.WriteFile("/bin/true", testExecutable(t), 0755); err != nil {
		t.Fatalf("WriteFile(/bin/true) failed: %v", err)
	}
	if err := fs.WriteFile("/etc/passwd", []byte("root:x:0:0::/:/bin/true\n"), 0644); err != nil {
		t.Fatalf("WriteFile(/etc/passwd) failed: %v", err)
	}
	vfsObj := vfs.New(pathmap.MustNew([]pathmap.Rule{{Guest: "/", Host: tmpfs.Name + ":/"}}))
	vfsObj.RegisterFilesystem(tmpfs.Name, fs)
	if args.SyscallTable == nil {
		args.SyscallTable = testSyscallTable()
	}
	args.VFS = vfsObj
	k, err := New(args)
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	t.Cleanup(k.Kill)
	return &testKernel{Kernel: k, fs: fs}
}

func (k *testKernel) spawn(t *testing.T) *Process {
	t.Helper()
	p, err := k.CreateProcess(CreateProcessArgs{Filename: "/bin/true"})
	if err != nil {
		t.Fatalf("CreateProcess() failed: %v", err)
	}
	return p
}

// syscall dispatches sysno for p with args and returns the response.
func syscall(t *testing.T, p *Process, sysno uintptr, args ...uintptr) *Response {
	t.Helper()
	return p.Dispatch(&Request{PID: p.PID(), Sysno: sysno, Args: arch.Args(args...)})
}

// errnoOf returns the errno encoded in a syscall return value, or 0.
func errnoOf(rval uintptr) int {
	if v := int64(rval); v < 0 && v > -4096 {
		return int(-v)
	}
	return 0
}
