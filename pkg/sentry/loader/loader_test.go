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
	"testing"

	"github.com/google/go-cmp/cmp"

	"gvisor.dev/lacd/pkg/abi/linux"
	"gvisor.dev/lacd/pkg/errors/linuxerr"
	"gvisor.dev/lacd/pkg/hostarch"
	"gvisor.dev/lacd/pkg/sentry/arch"
	"gvisor.dev/lacd/pkg/sentry/kernel/auth"
	"gvisor.dev/lacd/pkg/sentry/mm"
)

func readUint64(t *testing.T, m *mm.MemoryManager, addr hostarch.Addr) uint64 {
	t.Helper()
	return hostarch.ByteOrder.Uint64(readMem(t, m, addr, 8))
}

func TestLoadStack(t *testing.T) {
	m := mm.NewMemoryManager(0)
	res, err := Load(LoadArgs{
		MemoryManager: m,
		Filename:      "/usr/bin/a-very-long-program-name",
		File:          staticELF().file(t),
		Argv:          []string{"prog", "arg1"},
		Envv:          []string{"HOME=/home/user"},
		StackSize:     64 << 10,
		Credentials:   auth.NewUserCredentials(1000, 1001),
	})
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	sp := res.StackPointer
	if sp%16 != 0 {
		t.Errorf("StackPointer %#x is not 16-byte aligned", sp)
	}
	if stack := m.StackRange(); stack.End != arch.StackTop || stack.Length() != 64<<10 || !stack.Contains(sp) {
		t.Errorf("stack %v does not match StackTop with SP %#x", stack, sp)
	}
	if got := readUint64(t, m, sp); got != 2 {
		t.Fatalf("argc got %d, want 2", got)
	}
	var argv []string
	for i := 0; i < 2; i++ {
		s, err := m.CopyInString(hostarch.Addr(readUint64(t, m, sp+8+hostarch.Addr(8*i))), 64)
		if err != nil {
			t.Fatalf("CopyInString failed: %v", err)
		}
		argv = append(argv, s)
	}
	if diff := cmp.Diff([]string{"prog", "arg1"}, argv); diff != "" {
		t.Errorf("argv mismatch (-want +got):\n%s", diff)
	}
	if got := readUint64(t, m, sp+24); got != 0 {
		t.Errorf("argv terminator got %#x, want 0", got)
	}

	execfn, ok := res.Auxv.Lookup(linux.AT_EXECFN)
	if !ok {
		t.Fatalf("AT_EXECFN missing")
	}
	if s, err := m.CopyInString(execfn, 64); err != nil || s != "/usr/bin/a-very-long-program-name" {
		t.Errorf("AT_EXECFN string got (%q, %v)", s, err)
	}
	if _, ok := res.Auxv.Lookup(linux.AT_RANDOM); !ok {
		t.Errorf("AT_RANDOM missing")
	}
	for _, want := range []arch.AuxEntry{
		{Key: linux.AT_PAGESZ, Value: hostarch.PageSize},
		{Key: linux.AT_ENTRY, Value: 0x401000},
		{Key: linux.AT_UID, Value: 1000},
		{Key: linux.AT_GID, Value: 1001},
		{Key: linux.AT_BASE, Value: 0},
	} {
		if got, ok := res.Auxv.Lookup(want.Key); !ok || got != want.Value {
			t.Errorf("auxv[%d] got (%#x, %v), want %#x", want.Key, got, ok, want.Value)
		}
	}

	if got, want := res.Name, "a-very-long-pro"; got != want {
		t.Errorf("Name got %q, want %q", got, want)
	}
	meta := m.Metadata()
	if meta.Executable != "/usr/bin/a-very-long-program-name" {
		t.Errorf("Metadata.Executable got %q", meta.Executable)
	}
	if got := readMem(t, m, meta.Argv.Start, int(meta.Argv.Length())); !bytes.Equal(got, []byte("prog\x00arg1\x00")) {
		t.Errorf("argv block got %q", got)
	}

	// The program break starts after the image.
	if brk, err := m.Brk(0); brk != 0x405000 || !linuxerr.Equals(linuxerr.EINVAL, err) {
		t.Errorf("Brk(0) got (%#x, %v), want (0x405000, EINVAL)", brk, err)
	}
}

func TestLoadScript(t *testing.T) {
	files := map[string][]byte{
		"/bin/interp": staticELF().bytes(t),
	}
	open := func(p string) (File, error) {
		b, ok := files[p]
		if !ok {
			return nil, linuxerr.ENOENT
		}
		return bytes.NewReader(b), nil
	}
	m := mm.NewMemoryManager(0)
	res, err := Load(LoadArgs{
		MemoryManager: m,
		Filename:      "/home/user/script.sh",
		File:          bytes.NewReader([]byte("#! /bin/interp  -x -y \necho hi\n")),
		Open:          open,
		Argv:          []string{"script.sh", "a"},
	})
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	want := []string{"/bin/interp", "-x -y", "/home/user/script.sh", "a"}
	if diff := cmp.Diff(want, res.Argv); diff != "" {
		t.Errorf("argv mismatch (-want +got):\n%s", diff)
	}
	if res.Entry != 0x401000 {
		t.Errorf("Entry got %#x, want 0x401000", res.Entry)
	}
}

func TestLoadScriptLoop(t *testing.T) {
	script := []byte("#!/bin/self\n")
	open := func(string) (File, error) { return bytes.NewReader(script), nil }
	_, err := Load(LoadArgs{
		MemoryManager: mm.NewMemoryManager(0),
		Filename:      "/bin/self",
		File:          bytes.NewReader(script),
		Open:          open,
		Argv:          []string{"self"},
	})
	if !linuxerr.Equals(linuxerr.ELOOP, err) {
		t.Errorf("Load got %v, want ELOOP", err)
	}
}

func TestLoadUnknownFormat(t *testing.T) {
	_, err := Load(LoadArgs{
		MemoryManager: mm.NewMemoryManager(0),
		Filename:      "/bin/text",
		File:          bytes.NewReader([]byte("plain text")),
	})
	if !linuxerr.Equals(linuxerr.ENOEXEC, err) {
		t.Errorf("Load got %v, want ENOEXEC", err)
	}
}

func TestParseInterpreterScript(t *testing.T) {
	for _, tc := range []struct {
		name     string
		script   string
		argv     []string
		wantPath string
		wantArgv []string
		wantErr  error
	}{
		{
			name:     "no argument",
			script:   "#!/bin/sh\n",
			argv:     []string{"x"},
			wantPath: "/bin/sh",
			wantArgv: []string{"/bin/sh", "/s"},
		},
		{
			name:     "single argument keeps spaces",
			script:   "#!/usr/bin/env python3 -u\nprint()\n",
			argv:     []string{"x", "1"},
			wantPath: "/usr/bin/env",
			wantArgv: []string{"/usr/bin/env", "python3 -u", "/s", "1"},
		},
		{
			name:     "empty argv",
			script:   "#!\t/bin/sh",
			wantPath: "/bin/sh",
			wantArgv: []string{"/bin/sh", "/s"},
		},
		{
			name:    "no interpreter",
			script:  "#!   \n",
			wantErr: linuxerr.ENOEXEC,
		},
		{
			name:    "not a script",
			script:  "echo hi",
			wantErr: linuxerr.ENOEXEC,
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			path, argv, err := ParseInterpreterScript("/s", bytes.NewReader([]byte(tc.script)), tc.argv)
			if tc.wantErr != nil {
				if !linuxerr.Equals(linuxerr.ENOEXEC, err) {
					t.Errorf("ParseInterpreterScript got %v, want %v", err, tc.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseInterpreterScript failed: %v", err)
			}
			if path != tc.wantPath {
				t.Errorf("path got %q, want %q", path, tc.wantPath)
			}
			if diff := cmp.Diff(tc.wantArgv, argv); diff != "" {
				t.Errorf("argv mismatch (-want +got):\n%s", diff)
			}
		})
	}
}
