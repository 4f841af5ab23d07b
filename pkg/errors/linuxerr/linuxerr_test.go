// Copyright 2024 The gVisor Authors.
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

package linuxerr

import (
	"fmt"
	"io"
	"testing"

	"golang.org/x/sys/unix"
	"gvisor.dev/lacd/pkg/abi/linux/errno"
)

func TestCanonicalUnique(t *testing.T) {
	seen := make(map[errno.Errno]string)
	for _, e := range All() {
		if prev, ok := seen[e.Errno()]; ok {
			t.Errorf("errno %d listed twice: %q and %q", e.Errno(), prev, e.Error())
		}
		seen[e.Errno()] = e.Error()
	}
	if got, want := len(seen), 131; got != want {
		t.Errorf("len(All()) got %d, want %d", got, want)
	}
}

func TestLookup(t *testing.T) {
	for _, tc := range []struct {
		no   errno.Errno
		want error
		ok   bool
	}{
		{no: errno.EPERM, want: EPERM, ok: true},
		{no: errno.EAGAIN, want: EWOULDBLOCK, ok: true},
		{no: errno.EHWPOISON, want: EHWPOISON, ok: true},
		{no: 41, ok: false},
		{no: 58, ok: false},
		{no: 0, ok: false},
		{no: 9999, ok: false},
	} {
		got, ok := Lookup(tc.no)
		if ok != tc.ok {
			t.Errorf("Lookup(%d) ok got %t, want %t", tc.no, ok, tc.ok)
			continue
		}
		if ok && got != tc.want {
			t.Errorf("Lookup(%d) got %v, want %v", tc.no, got, tc.want)
		}
	}
}

func TestEquals(t *testing.T) {
	if !Equals(ENOENT, ENOENT) {
		t.Errorf("Equals(ENOENT, ENOENT) = false")
	}
	if !Equals(ENOENT, unix.ENOENT) {
		t.Errorf("Equals(ENOENT, unix.ENOENT) = false")
	}
	if Equals(ENOENT, EPERM) {
		t.Errorf("Equals(ENOENT, EPERM) = true")
	}
	if !Equals(nil, nil) {
		t.Errorf("Equals(nil, nil) = false")
	}
}

func TestErrorFromUnix(t *testing.T) {
	if err := ErrorFromUnix(0); err != nil {
		t.Errorf("ErrorFromUnix(0) got %v, want nil", err)
	}
	if err := ErrorFromUnix(unix.Errno(41)); err != EIO {
		t.Errorf("ErrorFromUnix(41) got %v, want EIO", err)
	}
}

func TestTranslateInternal(t *testing.T) {
	for from, want := range map[error]error{
		ErrWouldBlock:       EAGAIN,
		ErrInterrupted:      EINTR,
		ErrDeadlineExceeded: ETIMEDOUT,
	} {
		got, ok := TranslateError(from)
		if !ok || got != want {
			t.Errorf("TranslateError(%v) got (%v, %t), want (%v, true)", from, got, ok, want)
		}
	}
	if got, ok := TranslateError(fmt.Errorf("pipe read: %w", ErrInterrupted)); !ok || got != EINTR {
		t.Errorf("TranslateError(wrapped) got (%v, %t), want (EINTR, true)", got, ok)
	}
	if got, ok := TranslateError(ENOENT); !ok || got != ENOENT {
		t.Errorf("TranslateError(ENOENT) got (%v, %t), want (ENOENT, true)", got, ok)
	}
	if _, ok := TranslateError(io.EOF); ok {
		t.Errorf("TranslateError(io.EOF) succeeded")
	}
	if !IsRestartError(ERESTARTSYS) || IsRestartError(EINTR) {
		t.Errorf("IsRestartError misclassified")
	}
	if got, ok := SyscallRestartErrorFromReturn(ERESTARTNOHAND.Return()); !ok || got != ERESTARTNOHAND {
		t.Errorf("SyscallRestartErrorFromReturn(ERESTARTNOHAND) got (%v, %t)", got, ok)
	}
	if _, ok := SyscallRestartErrorFromReturn(EINTR.Return()); ok {
		t.Errorf("SyscallRestartErrorFromReturn(EINTR) succeeded")
	}
}

func TestReturn(t *testing.T) {
	if got, want := int64(ENOSYS.Return()), int64(-38); got != want {
		t.Errorf("ENOSYS.Return() got %d, want %d", got, want)
	}
}
