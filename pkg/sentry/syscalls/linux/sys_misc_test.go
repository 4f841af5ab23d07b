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

package linux

import (
	"bytes"
	"encoding/binary"
	"testing"
	"time"

	"golang.org/x/sys/unix"
	"gvisor.dev/lacd/pkg/abi/linux"
	"gvisor.dev/lacd/pkg/errors/linuxerr"
	"gvisor.dev/lacd/pkg/hostarch"
	"gvisor.dev/lacd/pkg/rand"
	"gvisor.dev/lacd/pkg/sentry/fsimpl/testutil"
)

func cString(b []byte) string {
	if i := bytes.IndexByte(b, 0); i >= 0 {
		b = b[:i]
	}
	return string(b)
}

func TestUname(t *testing.T) {
	p := newSystem(t).Spawn()

	var u linux.UtsName
	addr := p.Alloc(u.SizeBytes())
	p.MustCall(sysno(t, "uname"), uintptr(addr))
	u.UnmarshalBytes(p.Read(addr, u.SizeBytes()))

	if got := cString(u.Sysname[:]); got != "Linux" {
		t.Errorf("Sysname got %q, want %q", got, "Linux")
	}
	if got := cString(u.Machine[:]); got != "x86_64" {
		t.Errorf("Machine got %q, want %q", got, "x86_64")
	}
	if got, want := cString(u.Nodename[:]), p.Kernel().Hostname(); got != want {
		t.Errorf("Nodename got %q, want %q", got, want)
	}
	if cString(u.Release[:]) == "" {
		t.Errorf("Release is empty")
	}

	name := p.String("guest")
	if _, errno := p.Call(sysno(t, "sethostname"), uintptr(name), 5); errno != testutil.ErrnoOf(linuxerr.EPERM) {
		t.Errorf("sethostname() got errno %d, want EPERM", errno)
	}
}

func TestGetRandom(t *testing.T) {
	p := newSystem(t).Spawn()

	addr := p.Alloc(64)
	if n := p.MustCall(sysno(t, "getrandom"), uintptr(addr), 64, linux.GRND_NONBLOCK); n != 64 {
		t.Errorf("getrandom() got %d bytes, want 64", n)
	}
	if bytes.Equal(p.Read(addr, 64), make([]byte, 64)) {
		t.Errorf("getrandom() left the buffer zeroed")
	}
	if _, errno := p.Call(sysno(t, "getrandom"), uintptr(addr), 64, 0x80); errno != testutil.ErrnoOf(linuxerr.EINVAL) {
		t.Errorf("getrandom(bad flags) got errno %d, want EINVAL", errno)
	}
	if _, errno := p.Call(sysno(t, "getrandom"), 16, 64, 0); errno != testutil.ErrnoOf(linuxerr.EFAULT) {
		t.Errorf("getrandom(bad address) got errno %d, want EFAULT", errno)
	}

	old := rand.Source
	rand.Source = func(b []byte, flags int) (int, error) { return 0, unix.EAGAIN }
	defer func() { rand.Source = old }()
	if _, errno := p.Call(sysno(t, "getrandom"), uintptr(addr), 64, linux.GRND_NONBLOCK); errno != testutil.ErrnoOf(linuxerr.EAGAIN) {
		t.Errorf("getrandom(uninitialized pool) got errno %d, want EAGAIN", errno)
	}
}

func TestSysinfo(t *testing.T) {
	s := newSystem(t)
	p := s.Spawn()
	s.Spawn()

	var info linux.Sysinfo
	addr := p.Alloc(info.SizeBytes())
	p.MustCall(sysno(t, "sysinfo"), uintptr(addr))
	info.UnmarshalBytes(p.Read(addr, info.SizeBytes()))

	if info.Uptime < 0 {
		t.Errorf("Uptime got %d, want >= 0", info.Uptime)
	}
	if info.Procs != 2 {
		t.Errorf("Procs got %d, want 2", info.Procs)
	}
	if info.Unit != 1 {
		t.Errorf("Unit got %d, want 1", info.Unit)
	}
}

func TestRlimit(t *testing.T) {
	s := newSystem(t)
	p := s.Spawn()

	addr := p.Alloc(16)
	p.MustCall(sysno(t, "getrlimit"), linux.RLIMIT_NOFILE, uintptr(addr))
	if cur, max := p.Uint64(addr), p.Uint64(addr+8); cur != linux.DefaultNofileSoftLimit || max != linux.DefaultNofileHardLimit {
		t.Errorf("getrlimit(RLIMIT_NOFILE) got {%d, %d}, want {%d, %d}", cur, max, linux.DefaultNofileSoftLimit, linux.DefaultNofileHardLimit)
	}

	// Lowering the soft limit is always permitted.
	var lim [16]byte
	binary.LittleEndian.PutUint64(lim[:], 64)
	binary.LittleEndian.PutUint64(lim[8:], linux.DefaultNofileHardLimit)
	p.MustCall(sysno(t, "setrlimit"), linux.RLIMIT_NOFILE, uintptr(p.Bytes(lim[:])))
	p.MustCall(sysno(t, "prlimit64"), 0, linux.RLIMIT_NOFILE, 0, uintptr(addr))
	if cur := p.Uint64(addr); cur != 64 {
		t.Errorf("prlimit64(RLIMIT_NOFILE) soft limit got %d, want 64", cur)
	}

	// Raising the hard limit is not.
	binary.LittleEndian.PutUint64(lim[8:], linux.DefaultNofileHardLimit+1)
	if _, errno := p.Call(sysno(t, "setrlimit"), linux.RLIMIT_NOFILE, uintptr(p.Bytes(lim[:]))); errno != testutil.ErrnoOf(linuxerr.EPERM) {
		t.Errorf("setrlimit(raise hard limit) got errno %d, want EPERM", errno)
	}

	// A soft limit above the hard limit is invalid.
	binary.LittleEndian.PutUint64(lim[:], 100)
	binary.LittleEndian.PutUint64(lim[8:], 50)
	if _, errno := p.Call(sysno(t, "setrlimit"), linux.RLIMIT_NOFILE, uintptr(p.Bytes(lim[:]))); errno != testutil.ErrnoOf(linuxerr.EINVAL) {
		t.Errorf("setrlimit(cur > max) got errno %d, want EINVAL", errno)
	}
	if _, errno := p.Call(sysno(t, "getrlimit"), 1000, uintptr(addr)); errno != testutil.ErrnoOf(linuxerr.EINVAL) {
		t.Errorf("getrlimit(1000) got errno %d, want EINVAL", errno)
	}
}

func TestIdentity(t *testing.T) {
	p := newSystem(t).Spawn()

	uid := p.MustCall(sysno(t, "getuid"))
	if euid := p.MustCall(sysno(t, "geteuid")); euid != uid {
		t.Errorf("geteuid() got %d, want %d", euid, uid)
	}
	if uid == 0 {
		t.Skip("test requires an unprivileged process")
	}
	if _, errno := p.Call(sysno(t, "setuid"), 0); errno != testutil.ErrnoOf(linuxerr.EPERM) {
		t.Errorf("setuid(0) got errno %d, want EPERM", errno)
	}
	// Setting the effective ID to the real ID is always allowed.
	p.MustCall(sysno(t, "setuid"), uid)

	ids := p.Alloc(12)
	p.MustCall(sysno(t, "getresuid"), uintptr(ids), uintptr(ids+4), uintptr(ids+8))
	for i := 0; i < 3; i++ {
		if got := p.Uint32(ids + hostarch.Addr(4*i)); uintptr(got) != uid {
			t.Errorf("getresuid()[%d] got %d, want %d", i, got, uid)
		}
	}
}

func TestClocks(t *testing.T) {
	p := newSystem(t).Spawn()

	ts := p.Alloc(16)
	p.MustCall(sysno(t, "clock_gettime"), linux.CLOCK_MONOTONIC, uintptr(ts))
	first := time.Duration(p.Uint64(ts))*time.Second + time.Duration(p.Uint64(ts+8))
	p.MustCall(sysno(t, "clock_gettime"), linux.CLOCK_MONOTONIC, uintptr(ts))
	second := time.Duration(p.Uint64(ts))*time.Second + time.Duration(p.Uint64(ts+8))
	if second < first {
		t.Errorf("CLOCK_MONOTONIC went backwards: %v then %v", first, second)
	}

	p.MustCall(sysno(t, "clock_gettime"), linux.CLOCK_REALTIME, uintptr(ts))
	now := time.Now().Unix()
	if sec := int64(p.Uint64(ts)); sec < now-60 || sec > now+60 {
		t.Errorf("CLOCK_REALTIME got %d seconds, want about %d", sec, now)
	}
	if sec := int64(p.MustCall(sysno(t, "time"), 0)); sec < now-60 || sec > now+60 {
		t.Errorf("time() got %d, want about %d", sec, now)
	}

	if _, errno := p.Call(sysno(t, "clock_gettime"), 1000, uintptr(ts)); errno != testutil.ErrnoOf(linuxerr.EINVAL) {
		t.Errorf("clock_gettime(1000) got errno %d, want EINVAL", errno)
	}
	if _, errno := p.Call(sysno(t, "clock_settime"), linux.CLOCK_REALTIME, uintptr(ts)); errno != testutil.ErrnoOf(linuxerr.EPERM) {
		t.Errorf("clock_settime() got errno %d, want EPERM", errno)
	}

	// A zero-length sleep completes.
	p.MustCall(sysno(t, "nanosleep"), uintptr(p.Bytes(make([]byte, 16))), 0)
}
