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

package host

import (
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/google/go-cmp/cmp"
	"gvisor.dev/lacd/pkg/abi/linux"
	"gvisor.dev/lacd/pkg/errors/linuxerr"
	"gvisor.dev/lacd/pkg/sentry/vfs"
)

func pop(p string) *vfs.PathOperation {
	return &vfs.PathOperation{Guest: p, Path: p}
}

func newFilesystem(t *testing.T) (*Filesystem, string) {
	t.Helper()
	dir := t.TempDir()
	fs, err := New(dir)
	if err != nil {
		t.Fatalf("New(%q) failed: %v", dir, err)
	}
	return fs, dir
}

func TestNewRejectsFile(t *testing.T) {
	f := filepath.Join(t.TempDir(), "f")
	if err := os.WriteFile(f, nil, 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := New(f); err == nil {
		t.Errorf("New(%q) succeeded, want error", f)
	}
}

func TestCreateWriteRead(t *testing.T) {
	fs, dir := newFilesystem(t)

	fd, err := fs.OpenAt(pop("/file"), linux.O_RDWR|linux.O_CREAT|linux.O_EXCL, 0644)
	if err != nil {
		t.Fatalf("OpenAt(O_CREAT) failed: %v", err)
	}
	defer fd.DecRef()
	if n, err := fd.Write([]byte("hello")); err != nil || n != 5 {
		t.Fatalf("Write() got (%d, %v), want (5, nil)", n, err)
	}
	if _, err := fd.Seek(0, linux.SEEK_SET); err != nil {
		t.Fatalf("Seek() failed: %v", err)
	}
	buf := make([]byte, 16)
	n, err := fd.Read(buf)
	if err != nil || string(buf[:n]) != "hello" {
		t.Errorf("Read() got (%q, %v), want (%q, nil)", buf[:n], err, "hello")
	}

	got, err := os.ReadFile(filepath.Join(dir, "file"))
	if err != nil || string(got) != "hello" {
		t.Errorf("host file contains (%q, %v), want %q", got, err, "hello")
	}

	if _, err := fs.OpenAt(pop("/file"), linux.O_RDWR|linux.O_CREAT|linux.O_EXCL, 0644); !linuxerr.Equals(linuxerr.EEXIST, err) {
		t.Errorf("second OpenAt(O_EXCL) got %v, want EEXIST", err)
	}
	if _, err := fs.OpenAt(pop("/missing"), linux.O_RDONLY, 0); !linuxerr.Equals(linuxerr.ENOENT, err) {
		t.Errorf("OpenAt(missing) got %v, want ENOENT", err)
	}
}

func TestAppend(t *testing.T) {
	fs, dir := newFilesystem(t)
	if err := os.WriteFile(filepath.Join(dir, "log"), []byte("ab"), 0644); err != nil {
		t.Fatal(err)
	}
	fd, err := fs.OpenAt(pop("/log"), linux.O_WRONLY|linux.O_APPEND, 0)
	if err != nil {
		t.Fatalf("OpenAt() failed: %v", err)
	}
	defer fd.DecRef()
	if _, err := fd.Write([]byte("cd")); err != nil {
		t.Fatalf("Write() failed: %v", err)
	}
	got, _ := os.ReadFile(filepath.Join(dir, "log"))
	if string(got) != "abcd" {
		t.Errorf("file contains %q, want %q", got, "abcd")
	}
}

func TestDirectories(t *testing.T) {
	fs, _ := newFilesystem(t)

	if err := fs.MkdirAt(pop("/d"), 0755); err != nil {
		t.Fatalf("MkdirAt() failed: %v", err)
	}
	for _, name := range []string{"/d/a", "/d/b"} {
		fd, err := fs.OpenAt(pop(name), linux.O_WRONLY|linux.O_CREAT, 0600)
		if err != nil {
			t.Fatalf("OpenAt(%q) failed: %v", name, err)
		}
		fd.DecRef()
	}

	st, err := fs.StatAt(pop("/d"), true)
	if err != nil || st.Mode&linux.S_IFMT != linux.S_IFDIR {
		t.Fatalf("StatAt(/d) got (%#o, %v), want a directory", st.Mode, err)
	}

	fd, err := fs.OpenAt(pop("/d"), linux.O_RDONLY|linux.O_DIRECTORY, 0)
	if err != nil {
		t.Fatalf("OpenAt(/d) failed: %v", err)
	}
	var names []string
	types := make(map[string]uint8)
	if err := fd.IterDirents(vfs.IterDirentsCallbackFunc(func(d vfs.Dirent) error {
		names = append(names, d.Name)
		types[d.Name] = d.Type
		return nil
	})); err != nil {
		t.Fatalf("IterDirents() failed: %v", err)
	}
	fd.DecRef()
	sort.Strings(names)
	if want := []string{".", "..", "a", "b"}; !cmp.Equal(names, want) {
		t.Errorf("IterDirents() got %v, want %v", names, want)
	}
	if types["a"] != linux.DT_REG {
		t.Errorf("type of a got %d, want DT_REG", types["a"])
	}

	if _, err := fs.OpenAt(pop("/d"), linux.O_RDWR, 0); !linuxerr.Equals(linuxerr.EISDIR, err) {
		t.Errorf("OpenAt(/d, O_RDWR) got %v, want EISDIR", err)
	}
	if err := fs.RmdirAt(pop("/d")); !linuxerr.Equals(linuxerr.ENOTEMPTY, err) {
		t.Errorf("RmdirAt(non-empty) got %v, want ENOTEMPTY", err)
	}
	if err := fs.RenameAt(pop("/d/a"), pop("/d/c")); err != nil {
		t.Errorf("RenameAt() failed: %v", err)
	}
	if err := fs.RenameAt(pop("/d"), pop("/d/e")); !linuxerr.Equals(linuxerr.EINVAL, err) {
		t.Errorf("RenameAt(into itself) got %v, want EINVAL", err)
	}
	for _, name := range []string{"/d/b", "/d/c"} {
		if err := fs.UnlinkAt(pop(name)); err != nil {
			t.Errorf("UnlinkAt(%q) failed: %v", name, err)
		}
	}
	if err := fs.RmdirAt(pop("/d")); err != nil {
		t.Errorf("RmdirAt() failed: %v", err)
	}
	if err := fs.RmdirAt(pop("/")); !linuxerr.Equals(linuxerr.EBUSY, err) {
		t.Errorf("RmdirAt(/) got %v, want EBUSY", err)
	}
}

func TestSymlink(t *testing.T) {
	fs, dir := newFilesystem(t)
	if err := os.Symlink("target", filepath.Join(dir, "link")); err != nil {
		t.Fatal(err)
	}
	got, err := fs.ReadlinkAt(pop("/link"))
	if err != nil || got != "target" {
		t.Errorf("ReadlinkAt() got (%q, %v), want (%q, nil)", got, err, "target")
	}
	st, err := fs.StatAt(pop("/link"), false)
	if err != nil || st.Mode&linux.S_IFMT != linux.S_IFLNK {
		t.Errorf("StatAt(nofollow) got (%#o, %v), want a symlink", st.Mode, err)
	}
	if _, err := fs.StatAt(pop("/link"), true); !linuxerr.Equals(linuxerr.ENOENT, err) {
		t.Errorf("StatAt(dangling, follow) got %v, want ENOENT", err)
	}
}

func TestParseDirents(t *testing.T) {
	// Two records: ino 7 "x" (DT_REG) and ino 9 "yz" (DT_DIR), each padded
	// to 24 bytes.
	rec := func(ino uint64, typ uint8, name string) []byte {
		b := make([]byte, 24)
		b[0] = byte(ino)
		b[16] = 24
		b[18] = typ
		copy(b[19:], name)
		return b
	}
	buf := append(rec(7, linux.DT_REG, "x"), rec(9, linux.DT_DIR, "yz")...)
	got := parseDirents(buf, nil)
	want := []vfs.Dirent{
		{Name: "x", Type: linux.DT_REG, Ino: 7},
		{Name: "yz", Type: linux.DT_DIR, Ino: 9},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("parseDirents() mismatch (-want +got):\n%s", diff)
	}
}

func TestOpenFlags(t *testing.T) {
	if _, err := hostOpenFlags(linux.O_PATH); !linuxerr.Equals(linuxerr.EOPNOTSUPP, err) {
		t.Errorf("hostOpenFlags(O_PATH) got %v, want EOPNOTSUPP", err)
	}
	if _, err := hostOpenFlags(linux.O_ACCMODE); !linuxerr.Equals(linuxerr.EINVAL, err) {
		t.Errorf("hostOpenFlags(O_ACCMODE) got %v, want EINVAL", err)
	}
}
