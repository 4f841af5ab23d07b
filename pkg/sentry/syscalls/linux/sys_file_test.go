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

package linux

import (
	"bytes"
	"testing"

	"gvisor.dev/lacd/pkg/abi/linux"
	"gvisor.dev/lacd/pkg/errors/linuxerr"
	"gvisor.dev/lacd/pkg/sentry/fsimpl/testutil"
)

var atFDCWD = int64(linux.AT_FDCWD)

func TestOpenWriteReadStat(t *testing.T) {
	s := newSystem(t)
	p := s.Spawn()

	path := p.String("/tmp/data")
	if _, errno := p.Call(sysno(t, "mkdir"), uintptr(p.String("/tmp")), 0755); errno != 0 {
		t.Fatalf("mkdir(/tmp) got errno %d", errno)
	}
	fd := p.MustCall(sysno(t, "openat"), uintptr(atFDCWD), uintptr(path), linux.O_RDWR|linux.O_CREAT, 0644)

	data := []byte("hello, guest")
	if n := p.MustCall(sysno(t, "write"), fd, uintptr(p.Bytes(data)), uintptr(len(data))); n != uintptr(len(data)) {
		t.Errorf("write() got %d, want %d", n, len(data))
	}
	if off := p.MustCall(sysno(t, "lseek"), fd, 0, linux.SEEK_SET); off != 0 {
		t.Errorf("lseek() got %d, want 0", off)
	}
	buf := p.Alloc(64)
	n := p.MustCall(sysno(t, "read"), fd, uintptr(buf), 64)
	if got := p.Read(buf, int(n)); !bytes.Equal(got, data) {
		t.Errorf("read() got %q, want %q", got, data)
	}

	var st linux.Stat
	statAddr := p.Alloc(st.SizeBytes())
	p.MustCall(sysno(t, "fstat"), fd, uintptr(statAddr))
	st.UnmarshalBytes(p.Read(statAddr, st.SizeBytes()))
	if st.Size != int64(len(data)) {
		t.Errorf("fstat() size got %d, want %d", st.Size, len(data))
	}
	if st.Mode&linux.S_IFMT != linux.S_IFREG {
		t.Errorf("fstat() mode got %#o, want a regular file", st.Mode)
	}

	p.MustCall(sysno(t, "close"), fd)
	if _, errno := p.Call(sysno(t, "close"), fd); errno != testutil.ErrnoOf(linuxerr.EBADF) {
		t.Errorf("second close() got errno %d, want EBADF", errno)
	}

	// The file is visible to the host side of the namespace.
	if got := s.ReadFile("/tmp/data"); got != string(data) {
		t.Errorf("ReadFile() got %q, want %q", got, data)
	}
}

func TestInvalidPointer(t *testing.T) {
	s := newSystem(t)
	p := s.Spawn()

	// Nothing is mapped at address 16.
	if _, errno := p.Call(sysno(t, "open"), 16, linux.O_RDONLY, 0); errno != testutil.ErrnoOf(linuxerr.EFAULT) {
		t.Errorf("open(bad pointer) got errno %d, want EFAULT", errno)
	}
	if _, errno := p.Call(sysno(t, "uname"), 16); errno != testutil.ErrnoOf(linuxerr.EFAULT) {
		t.Errorf("uname(bad pointer) got errno %d, want EFAULT", errno)
	}
}

func TestRelativePaths(t *testing.T) {
	s := newSystem(t)
	if err := s.Root.WriteFile("/home/user/notes", []byte("x"), 0644); err != nil {
		t.Fatalf("WriteFile() failed: %v", err)
	}
	p := s.Spawn()

	p.MustCall(sysno(t, "chdir"), uintptr(p.String("/home")))
	if _, errno := p.Call(sysno(t, "access"), uintptr(p.String("user/notes")), linux.R_OK); errno != 0 {
		t.Errorf("access(user/notes) got errno %d", errno)
	}

	buf := p.Alloc(linux.PATH_MAX)
	n := p.MustCall(sysno(t, "getcwd"), uintptr(buf), linux.PATH_MAX)
	if got := string(p.Read(buf, int(n))); got != "/home\x00" {
		t.Errorf("getcwd() got %q, want %q", got, "/home\x00")
	}

	if _, errno := p.Call(sysno(t, "stat"), uintptr(p.String("missing")), uintptr(p.Alloc(144))); errno != testutil.ErrnoOf(linuxerr.ENOENT) {
		t.Errorf("stat(missing) got errno %d, want ENOENT", errno)
	}
}
