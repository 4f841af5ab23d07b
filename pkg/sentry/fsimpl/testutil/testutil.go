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

// Package testutil provides a test kernel backed by an in-memory root
// filesystem, for tests of filesystems and syscall handlers.
package testutil

import (
	"bytes"
	"debug/elf"
	"encoding/binary"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
	"gvisor.dev/lacd/pkg/abi/linux"
	"gvisor.dev/lacd/pkg/errors"
	"gvisor.dev/lacd/pkg/hostarch"
	"gvisor.dev/lacd/pkg/sentry/arch"
	"gvisor.dev/lacd/pkg/sentry/fsimpl/tmpfs"
	"gvisor.dev/lacd/pkg/sentry/kernel"
	"gvisor.dev/lacd/pkg/sentry/mm"
	"gvisor.dev/lacd/pkg/sentry/pathmap"
	"gvisor.dev/lacd/pkg/sentry/vfs"
)

// ExecutablePath is the path of the executable installed by NewSystem.
const ExecutablePath = "/bin/true"

// Entry is the entry point of Executable.
const Entry = 0x400078

// Executable returns a minimal static x86-64 executable whose single
// PT_LOAD segment maps the file at 0x400000.
func Executable() []byte {
	const (
		ehsize = 64
		phsize = 56
	)
	hdr := elf.Header64{
		Type:      uint16(elf.ET_EXEC),
		Machine:   uint16(elf.EM_X86_64),
		Version:   uint32(elf.EV_CURRENT),
		Entry:     Entry,
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
	prog := elf.Prog64{
		Type:   uint32(elf.PT_LOAD),
		Flags:  uint32(elf.PF_R | elf.PF_X),
		Vaddr:  0x400000,
		Paddr:  0x400000,
		Filesz: uint64(ehsize + phsize + len(code)),
		Memsz:  0x1000,
		Align:  0x1000,
	}

	var buf bytes.Buffer
	binary.Write(&buf, binary.LittleEndian, &hdr)
	binary.Write(&buf, binary.LittleEndian, &prog)
	buf.Write(code)
	return buf.Bytes()
}

// System represents the context for a single test.
type System struct {
	t *testing.T

	// Kernel is the test kernel. It is killed when the test ends.
	Kernel *kernel.Kernel

	// Root is the tmpfs mounted at "/".
	Root *tmpfs.Filesystem

	// VFS routes guest paths. Extra filesystems may be registered on it.
	VFS *vfs.VirtualFilesystem
}

// SystemOpts holds options to NewSystem.
type SystemOpts struct {
	// Rules are the path mapping rules. The root rule routing "/" to the
	// tmpfs is always present.
	Rules []pathmap.Rule

	// Args are passed to kernel.New. SyscallTable and VFS are filled in.
	Args kernel.InitKernelArgs
}

// NewSystem constructs a System whose root filesystem holds an executable
// at ExecutablePath.
func NewSystem(t *testing.T, table *kernel.SyscallTable, opts SystemOpts) *System {
	t.Helper()
	root := tmpfs.New()
	if err := root.WriteFile(ExecutablePath, Executable(), 0755); err != nil {
		t.Fatalf("WriteFile(%s) failed: %v", ExecutablePath, err)
	}
	rules := append([]pathmap.Rule{{Guest: "/", Host: tmpfs.Name + ":/"}}, opts.Rules...)
	mapper, err := pathmap.New(rules)
	if err != nil {
		t.Fatalf("pathmap.New(%v) failed: %v", rules, err)
	}
	v := vfs.New(mapper)
	v.RegisterFilesystem(tmpfs.Name, root)

	args := opts.Args
	args.SyscallTable = table
	args.VFS = v
	k, err := kernel.New(args)
	if err != nil {
		t.Fatalf("kernel.New() failed: %v", err)
	}
	t.Cleanup(k.Kill)
	return &System{t: t, Kernel: k, Root: root, VFS: v}
}

// WithSubtest returns a System sharing all resources with s but reporting
// failures to t.
func (s *System) WithSubtest(t *testing.T) *System {
	return &System{t: t, Kernel: s.Kernel, Root: s.Root, VFS: s.VFS}
}

// Spawn creates a process running ExecutablePath.
func (s *System) Spawn() *Process {
	s.t.Helper()
	p, err := s.Kernel.CreateProcess(kernel.CreateProcessArgs{Filename: ExecutablePath})
	if err != nil {
		s.t.Fatalf("CreateProcess(%s) failed: %v", ExecutablePath, err)
	}
	return &Process{Process: p, t: s.t}
}

// Process returns the live process with the given pid.
func (s *System) Process(pid kernel.ThreadID) *Process {
	s.t.Helper()
	p := s.Kernel.ProcessWithID(pid)
	if p == nil {
		s.t.Fatalf("no process with pid %d", pid)
	}
	return &Process{Process: p, t: s.t}
}

// Process wraps a kernel.Process with helpers that fail the test on error.
type Process struct {
	*kernel.Process
	t *testing.T

	scratch hostarch.Addr
	next    hostarch.Addr
}

// scratchSize is the size of the region used by Alloc.
const scratchSize = 1 << 20

// Alloc returns the address of n zeroed bytes of guest memory that the
// process may read and write.
func (p *Process) Alloc(n int) hostarch.Addr {
	p.t.Helper()
	if p.scratch == 0 {
		addr, err := p.MemoryManager().MMap(mm.MMapOpts{
			Length:  scratchSize,
			Perms:   hostarch.ReadWrite,
			Private: true,
			Kind:    mm.RegionAnonymous,
			Name:    "[test]",
		})
		if err != nil {
			p.t.Fatalf("MMap(scratch) failed: %v", err)
		}
		p.scratch, p.next = addr, addr
	}
	// Keep allocations 8-byte aligned.
	size := hostarch.Addr((n + 7) &^ 7)
	if p.next+size > p.scratch+scratchSize {
		p.t.Fatalf("scratch region exhausted allocating %d bytes", n)
	}
	addr := p.next
	p.next += size
	return addr
}

// String copies s, NUL terminated, into guest memory and returns its
// address.
func (p *Process) String(s string) hostarch.Addr {
	p.t.Helper()
	addr := p.Alloc(len(s) + 1)
	if _, err := p.MemoryManager().CopyOutString(addr, s); err != nil {
		p.t.Fatalf("CopyOutString(%q) failed: %v", s, err)
	}
	return addr
}

// Bytes copies b into guest memory and returns its address.
func (p *Process) Bytes(b []byte) hostarch.Addr {
	p.t.Helper()
	addr := p.Alloc(len(b))
	if _, err := p.MemoryManager().CopyOutBytes(addr, b); err != nil {
		p.t.Fatalf("CopyOutBytes() failed: %v", err)
	}
	return addr
}

// Read returns n bytes of guest memory at addr.
func (p *Process) Read(addr hostarch.Addr, n int) []byte {
	p.t.Helper()
	buf := make([]byte, n)
	if _, err := p.MemoryManager().CopyInBytes(addr, buf); err != nil {
		p.t.Fatalf("CopyInBytes(%v, %d) failed: %v", addr, n, err)
	}
	return buf
}

// Uint64 returns the little-endian word at addr.
func (p *Process) Uint64(addr hostarch.Addr) uint64 {
	p.t.Helper()
	return binary.LittleEndian.Uint64(p.Read(addr, 8))
}

// Uint32 returns the little-endian 32-bit value at addr.
func (p *Process) Uint32(addr hostarch.Addr) uint32 {
	p.t.Helper()
	return binary.LittleEndian.Uint32(p.Read(addr, 4))
}

// Syscall dispatches sysno with args, as the trap layer would, and
// returns the response.
func (p *Process) Syscall(sysno uintptr, args ...uintptr) *kernel.Response {
	p.t.Helper()
	return p.Dispatch(&kernel.Request{PID: p.PID(), Sysno: sysno, Args: arch.Args(args...)})
}

// Call dispatches sysno and returns its result and errno. The errno is 0
// on success.
func (p *Process) Call(sysno uintptr, args ...uintptr) (uintptr, int) {
	p.t.Helper()
	r := p.Syscall(sysno, args...)
	if r.Exited {
		p.t.Fatalf("syscall %d: process exited with status %#x", sysno, r.ExitStatus)
	}
	return r.Return, Errno(r.Return)
}

// MustCall dispatches sysno and fails the test if it returns an error.
func (p *Process) MustCall(sysno uintptr, args ...uintptr) uintptr {
	p.t.Helper()
	rval, errno := p.Call(sysno, args...)
	if errno != 0 {
		p.t.Fatalf("syscall %d%v failed: errno %d", sysno, args, errno)
	}
	return rval
}

// Errno returns the errno encoded in a syscall return value, or 0.
func Errno(rval uintptr) int {
	if v := int64(rval); v < 0 && v > -4096 {
		return int(-v)
	}
	return 0
}

// ErrnoOf returns the errno of a canonical error.
func ErrnoOf(err *errors.Error) int {
	return int(err.Errno())
}

// ReadToEnd reads the contents of fd until EOF to a string.
func ReadToEnd(fd *vfs.FileDescription) (string, error) {
	buf := make([]byte, hostarch.PageSize)
	var content strings.Builder
	for {
		n, err := fd.Read(buf)
		content.Write(buf[:n])
		if n == 0 || err != nil {
			if err == io.EOF {
				err = nil
			}
			return content.String(), err
		}
	}
}

// ReadFile opens the guest path and returns its contents.
func (s *System) ReadFile(path string) string {
	s.t.Helper()
	fd, err := s.VFS.OpenAt(path, linux.O_RDONLY, 0)
	if err != nil {
		s.t.Fatalf("OpenAt(%s) failed: %v", path, err)
	}
	defer fd.DecRef()
	content, err := ReadToEnd(fd)
	if err != nil {
		s.t.Fatalf("Read(%s) failed: %v", path, err)
	}
	return content
}

// ListDirents lists the Dirents for the directory at path.
func (s *System) ListDirents(path string) *DirentCollector {
	s.t.Helper()
	fd, err := s.VFS.OpenAt(path, linux.O_RDONLY|linux.O_DIRECTORY, 0)
	if err != nil {
		s.t.Fatalf("OpenAt(%s) failed: %v", path, err)
	}
	defer fd.DecRef()

	collector := &DirentCollector{}
	if err := fd.IterDirents(collector); err != nil {
		s.t.Fatalf("IterDirents(%s) failed: %v", path, err)
	}
	return collector
}

// DirentType is an alias for values for linux_dirent64.d_type.
type DirentType = uint8

// AssertAllDirentTypes verifies that the set of dirents in collector contains
// exactly the specified set of expected entries. "." and ".." are not
// checked.
func (s *System) AssertAllDirentTypes(collector *DirentCollector, expected map[string]DirentType) {
	s.t.Helper()
	if expected == nil {
		expected = make(map[string]DirentType)
	}
	dentryTypes := make(map[string]DirentType)
	for name, dirent := range collector.Dirents() {
		if name == "." || name == ".." {
			continue
		}
		dentryTypes[name] = dirent.Type
	}
	if diff := cmp.Diff(expected, dentryTypes); diff != "" {
		s.t.Fatalf("IterDirents had unexpected results:\n--- want\n+++ got\n%v", diff)
	}
}

// DirentCollector provides an implementation for vfs.IterDirentsCallback for
// testing. It simply iterates to the end of a given directory FD and collects
// all dirents emitted by the callback.
type DirentCollector struct {
	mu      sync.Mutex
	order   []*vfs.Dirent
	dirents map[string]*vfs.Dirent
}

// Handle implements vfs.IterDirentsCallback.Handle.
func (d *DirentCollector) Handle(dirent vfs.Dirent) error {
	d.mu.Lock()
	if d.dirents == nil {
		d.dirents = make(map[string]*vfs.Dirent)
	}
	d.order = append(d.order, &dirent)
	d.dirents[dirent.Name] = &dirent
	d.mu.Unlock()
	return nil
}

// Count returns the number of dirents currently in the collector.
func (d *DirentCollector) Count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.dirents)
}

// Contains checks whether the collector has a dirent with the given name and
// type.
func (d *DirentCollector) Contains(name string, typ uint8) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	dirent, ok := d.dirents[name]
	if !ok {
		return fmt.Errorf("no dirent named %q found", name)
	}
	if dirent.Type != typ {
		return fmt.Errorf("dirent named %q found, but was expecting type %d, got: %+v", name, typ, dirent)
	}
	return nil
}

// Dirents returns all dirents discovered by this collector.
func (d *DirentCollector) Dirents() map[string]*vfs.Dirent {
	d.mu.Lock()
	dirents := make(map[string]*vfs.Dirent)
	for n, d := range d.dirents {
		dirents[n] = d
	}
	d.mu.Unlock()
	return dirents
}

// OrderedDirents returns an ordered list of dirents as discovered by this
// collector.
func (d *DirentCollector) OrderedDirents() []*vfs.Dirent {
	d.mu.Lock()
	dirents := make([]*vfs.Dirent, len(d.order))
	copy(dirents, d.order)
	d.mu.Unlock()
	return dirents
}
