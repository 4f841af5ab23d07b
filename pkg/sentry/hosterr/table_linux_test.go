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

//go:build linux

package hosterr

import (
	"testing"

	"golang.org/x/sys/unix"
	"gvisor.dev/lacd/pkg/errors/linuxerr"
)

func TestLinuxTableComplete(t *testing.T) {
	for _, e := range linuxerr.All() {
		if got := ToHost(e); got != unix.Errno(e.Errno()) {
			t.Errorf("ToHost(%v) got %d, want %d", e, int(got), e.Errno())
		}
	}
	// 41 is a hole in the Linux errno numbering.
	if got := FromHostErrno(unix.Errno(41)); got != Fallback {
		t.Errorf("FromHostErrno(41) got %v, want %v", got, Fallback)
	}
}
