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

package vfs

import (
	"bytes"
	"fmt"
	"testing"

	"github.com/google/go-cmp/cmp"
	"gvisor.dev/lacd/pkg/abi/linux"
	"gvisor.dev/lacd/pkg/errors/linuxerr"
	"gvisor.dev/lacd/pkg/sentry/pathmap"
)

type recordingFD struct {
	FileDescriptionDefaultImpl
}

func (recordingFD) Stat() (linux.Stat, error) { return linux.Stat{Mode: linux.S_IFREG}, nil }

// recordingFS records the namespace path of each call.
type recordingFS struct {
	calls []string
}

func (fs *recordingFS) record(op string, pop *PathOperation) {
	fs.calls = append(fs.calls, op+" "+pop.Path)
}

func (fs *recordingFS) OpenAt(pop *PathOperation, flags, mode uint32) (*FileDescription, error) {
	fs.record("open", pop)
	return NewFileDescription(recordingFD{}, flags, pop.Guest, nil), nil
}

func (fs *recordingFS) StatAt(pop *PathOperation, follow bool) (linux.Stat, error) {
	fs.record("stat", pop)
	return linux.Stat{}, nil
}

func (fs *recordingFS) AccessAt(pop *PathOperation, mode uint32) error {
	fs.record("access", pop)
	return nil
}

func (fs *recordingFS) MkdirAt(pop *PathOperation, mode uint32) error {
	fs.record("mkdir", pop)
	return nil
}

func (fs *recordingFS) RmdirAt(pop *PathOperation) error {
	fs.record("rmdir", pop)
	return nil
}

func (fs *recordingFS) UnlinkAt(pop *PathOperation) error {
	fs.record("unlink", pop)
	return nil
}

func (fs *recordingFS) RenameAt(oldpop, newpop *PathOperation) error {
	fs.calls = append(fs.calls, "rename "+oldpop.Path+" "+newpop.Path)
	return nil
}

func (fs *recordingFS) ReadlinkAt(pop *PathOperation) (string, error) {
	fs.record("readlink", pop)
	return "target", nil
}

func newTestVFS(t *testing.T) (*VirtualFilesystem, *recordingFS, *recordingFS) {
	t.Helper()
	m, err := pathmap.New([]pathmap.Rule{
		{Guest: "/", Host: "file:/srv/root"},
		{Guest: "/tmp", Host: "file:/var/tmp"},
		{Guest: "/proc", Host: "proc:"},
		{Guest: "/sys", Host: "sys:", ReadOnly: true},
	})
	if err != nil {
		t.Fatalf("pathmap.New failed: %v", err)
	}
	vfs := New(m)
	file, proc := &recordingFS{}, &recordingFS{}
	vfs.RegisterFilesystem("file", file)
	vfs.RegisterFilesystem("proc", proc)
	return vfs, file, proc
}

func TestRouting(t *testing.T) {
	vfs, file, proc := newTestVFS(t)

	fd, err := vfs.OpenAt("/tmp/../etc/passwd", linux.O_RDONLY, 0)
	if err != nil {
		t.Fatalf("OpenAt failed: %v", err)
	}
	if got, want := fd.Path(), "/etc/passwd"; got != want {
		t.Errorf("Path() got %q, want %q", got, want)
	}
	fd.DecRef()
	if _, err := vfs.StatAt("/tmp/x", true); err != nil {
		t.Fatalf("StatAt failed: %v", err)
	}
	if err := vfs.RenameAt("/tmp/a", "/home/b"); err != nil {
		t.Fatalf("RenameAt failed: %v", err)
	}
	if _, err := vfs.ReadlinkAt("/proc/self"); err != nil {
		t.Fatalf("ReadlinkAt failed: %v", err)
	}

	wantFile := []string{
		"open /srv/root/etc/passwd",
		"stat /var/tmp/x",
		"rename /var/tmp/a /srv/root/home/b",
	}
	if diff := cmp.Diff(wantFile, file.calls); diff != "" {
		t.Errorf("file calls mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"readlink /self"}, proc.calls); diff != "" {
		t.Errorf("proc calls mismatch (-want +got):\n%s", diff)
	}
}

func TestUnregisteredNamespace(t *testing.T) {
	vfs, _, _ := newTestVFS(t)
	if _, err := vfs.StatAt("/sys/kernel", true); !linuxerr.Equals(linuxerr.ENOENT, err) {
		t.Errorf("StatAt(/sys/kernel) got %v, want ENOENT", err)
	}
}

func TestReadOnlyRule(t *testing.T) {
	vfs, _, _ := newTestVFS(t)
	vfs.RegisterFilesystem("sys", &recordingFS{})

	for _, tc := range []struct {
		name string
		op   func() error
	}{
		{"open for write", func() error {
			_, err := vfs.OpenAt("/sys/x", linux.O_WRONLY, 0)
			return err
		}},
		{"open with O_CREAT", func() error {
			_, err := vfs.OpenAt("/sys/x", linux.O_RDONLY|linux.O_CREAT, 0644)
			return err
		}},
		{"mkdir", func() error { return vfs.MkdirAt("/sys/d", 0755) }},
		{"unlink", func() error { return vfs.UnlinkAt("/sys/x") }},
		{"access W_OK", func() error { return vfs.AccessAt("/sys/x", linux.W_OK) }},
	} {
		t.Run(tc.name, func(t *testing.T) {
			if err := tc.op(); !linuxerr.Equals(linuxerr.EROFS, err) {
				t.Errorf("got %v, want EROFS", err)
			}
		})
	}

	fd, err := vfs.OpenAt("/sys/x", linux.O_RDONLY, 0)
	if err != nil {
		t.Fatalf("read-only OpenAt failed: %v", err)
	}
	fd.DecRef()
}

func TestRenameAcrossNamespaces(t *testing.T) {
	vfs, _, _ := newTestVFS(t)
	if err := vfs.RenameAt("/tmp/a", "/proc/b"); !linuxerr.Equals(linuxerr.EXDEV, err) {
		t.Errorf("RenameAt across namespaces got %v, want EXDEV", err)
	}
}

type counterSource struct {
	n int
}

func (c *counterSource) Generate(buf *bytes.Buffer) error {
	c.n++
	fmt.Fprintf(buf, "generation %d\n", c.n)
	return nil
}

type dynamicFD struct {
	DynamicBytesFileDescriptionImpl
}

func TestDynamicBytes(t *testing.T) {
	src := &counterSource{}
	impl := &dynamicFD{}
	impl.Init(src)
	fd := NewFileDescription(impl, linux.O_RDONLY, "/proc/test", nil)
	defer fd.DecRef()

	buf := make([]byte, 5)
	n, err := fd.Read(buf)
	if err != nil || string(buf[:n]) != "gener" {
		t.Fatalf("Read got (%q, %v), want (\"gener\", nil)", buf[:n], err)
	}
	// Sequential reads continue from the same generation.
	rest := make([]byte, 64)
	n, err = fd.Read(rest)
	if err != nil || string(rest[:n]) != "ation 1\n" {
		t.Fatalf("Read got (%q, %v), want (\"ation 1\\n\", nil)", rest[:n], err)
	}
	if n, err := fd.Read(rest); n != 0 || err != nil {
		t.Errorf("Read at EOF got (%d, %v), want (0, nil)", n, err)
	}

	// Seeking back regenerates.
	if _, err := fd.Seek(0, linux.SEEK_SET); err != nil {
		t.Fatalf("Seek failed: %v", err)
	}
	n, _ = fd.Read(rest)
	if got, want := string(rest[:n]), "generation 2\n"; got != want {
		t.Errorf("Read after Seek got %q, want %q", got, want)
	}
	if _, err := fd.Seek(0, linux.SEEK_END); !linuxerr.Equals(linuxerr.EINVAL, err) {
		t.Errorf("Seek(SEEK_END) got %v, want EINVAL", err)
	}
	if _, err := fd.Write([]byte("x")); !linuxerr.Equals(linuxerr.EBADF, err) {
		t.Errorf("Write on O_RDONLY got %v, want EBADF", err)
	}
}

func TestStaticDirectory(t *testing.T) {
	impl := NewStaticDirectoryFD([]Dirent{
		{Name: ".", Type: linux.DT_DIR},
		{Name: "..", Type: linux.DT_DIR},
		{Name: "self", Type: linux.DT_LNK},
	}, 0555)
	fd := NewFileDescription(impl, linux.O_RDONLY|linux.O_DIRECTORY, "/proc", nil)
	defer fd.DecRef()

	var names []string
	stopAfter := 2
	err := fd.IterDirents(IterDirentsCallbackFunc(func(d Dirent) error {
		if len(names) == stopAfter {
			return linuxerr.EINVAL
		}
		names = append(names, d.Name)
		return nil
	}))
	if !linuxerr.Equals(linuxerr.EINVAL, err) {
		t.Fatalf("IterDirents got %v, want EINVAL", err)
	}
	// Iteration resumes with the entry that was refused.
	stopAfter = -1
	if err := fd.IterDirents(IterDirentsCallbackFunc(func(d Dirent) error {
		names = append(names, d.Name)
		return nil
	})); err != nil {
		t.Fatalf("IterDirents failed: %v", err)
	}
	if diff := cmp.Diff([]string{".", "..", "self"}, names); diff != "" {
		t.Errorf("entries mismatch (-want +got):\n%s", diff)
	}
	if _, err := fd.Read(make([]byte, 1)); !linuxerr.Equals(linuxerr.EISDIR, err) {
		t.Errorf("Read on directory got %v, want EISDIR", err)
	}
}
