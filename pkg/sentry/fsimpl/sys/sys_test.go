// Copyright 2019 The gVisor Authors.
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

package sys

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"gvisor.dev/lacd/pkg/abi/linux"
	"gvisor.dev/lacd/pkg/errors/linuxerr"
	"gvisor.dev/lacd/pkg/sentry/fsimpl/testutil"
	"gvisor.dev/lacd/pkg/sentry/vfs"
)

func pop(p string) *vfs.PathOperation {
	return &vfs.PathOperation{Guest: "/sys" + p, Path: p}
}

func newFilesystem(t *testing.T) *Filesystem {
	t.Helper()
	dir := t.TempDir()
	if err := os.MkdirAll(filepath.Join(dir, "kernel"), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "kernel", "osrelease"), []byte("6.1.0\n"), 0444); err != nil {
		t.Fatal(err)
	}
	fs, err := New(dir)
	if err != nil {
		t.Fatalf("New(%q) failed: %v", dir, err)
	}
	return fs
}

func TestCPUFiles(t *testing.T) {
	fs := newFilesystem(t)
	want := fmt.Sprintf("0-%d\n", fs.cores-1)
	for _, name := range []string{"online", "possible", "present"} {
		p := cpuDir + "/" + name
		fd, err := fs.OpenAt(pop(p), linux.O_RDONLY, 0)
		if err != nil {
			t.Fatalf("OpenAt(%s) failed: %v", p, err)
		}
		got, err := testutil.ReadToEnd(fd)
		fd.DecRef()
		if err != nil {
			t.Fatalf("read %s failed: %v", p, err)
		}
		if got != want {
			t.Errorf("%s got %q, want %q", p, got, want)
		}
		st, err := fs.StatAt(pop(p), true)
		if err != nil || st.Mode != linux.S_IFREG|0444 {
			t.Errorf("StatAt(%s) got (%#o, %v), want regular 0444", p, st.Mode, err)
		}
	}
}

func TestPassthrough(t *testing.T) {
	fs := newFilesystem(t)
	fd, err := fs.OpenAt(pop("/kernel/osrelease"), linux.O_RDONLY, 0)
	if err != nil {
		t.Fatalf("OpenAt failed: %v", err)
	}
	defer fd.DecRef()
	if got, err := testutil.ReadToEnd(fd); err != nil || got != "6.1.0\n" {
		t.Errorf("osrelease got (%q, %v), want %q", got, err, "6.1.0\n")
	}
	if _, err := fs.StatAt(pop("/missing"), true); !linuxerr.Equals(linuxerr.ENOENT, err) {
		t.Errorf("StatAt(missing) got %v, want ENOENT", err)
	}
}

func TestReadOnly(t *testing.T) {
	fs := newFilesystem(t)
	if _, err := fs.OpenAt(pop("/kernel/osrelease"), linux.O_WRONLY, 0); !linuxerr.Equals(linuxerr.EACCES, err) {
		t.Errorf("OpenAt(O_WRONLY) got %v, want EACCES", err)
	}
	if _, err := fs.OpenAt(pop("/kernel/new"), linux.O_RDONLY|linux.O_CREAT, 0644); !linuxerr.Equals(linuxerr.EACCES, err) {
		t.Errorf("OpenAt(O_CREAT) got %v, want EACCES", err)
	}
	if err := fs.UnlinkAt(pop("/kernel/osrelease")); !linuxerr.Equals(linuxerr.EPERM, err) {
		t.Errorf("UnlinkAt got %v, want EPERM", err)
	}
	if err := fs.MkdirAt(pop("/kernel"), 0755); !linuxerr.Equals(linuxerr.EEXIST, err) {
		t.Errorf("MkdirAt(existing) got %v, want EEXIST", err)
	}
	if err := fs.RmdirAt(pop("/missing")); !linuxerr.Equals(linuxerr.ENOENT, err) {
		t.Errorf("RmdirAt(missing) got %v, want ENOENT", err)
	}
	if err := fs.AccessAt(pop("/kernel/osrelease"), linux.W_OK); !linuxerr.Equals(linuxerr.EACCES, err) {
		t.Errorf("AccessAt(W_OK) got %v, want EACCES", err)
	}
}
