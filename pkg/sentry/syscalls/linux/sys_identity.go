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
	"gvisor.dev/lacd/pkg/errors/linuxerr"
	"gvisor.dev/lacd/pkg/hostarch"
	"gvisor.dev/lacd/pkg/marshal"
	"gvisor.dev/lacd/pkg/marshal/primitive"
	"gvisor.dev/lacd/pkg/sentry/arch"
	"gvisor.dev/lacd/pkg/sentry/kernel"
	"gvisor.dev/lacd/pkg/sentry/kernel/auth"
)

const (
	// As NGROUPS_MAX in include/uapi/linux/limits.h.
	maxNGroups = 65536
)

// Getuid implements the Linux syscall getuid.
func Getuid(p *kernel.Process, args arch.SyscallArguments) (uintptr, *kernel.SyscallControl, error) {
	return uintptr(p.Credentials().RealKUID), nil, nil
}

// Geteuid implements the Linux syscall geteuid.
func Geteuid(p *kernel.Process, args arch.SyscallArguments) (uintptr, *kernel.SyscallControl, error) {
	return uintptr(p.Credentials().EffectiveKUID), nil, nil
}

// copyOutIDs copies out the three IDs of a getres*id(2) call.
func copyOutIDs(p *kernel.Process, addrs [3]hostarch.Addr, ids [3]uint32) error {
	for i, addr := range addrs {
		if _, err := primitive.CopyUint32Out(p.MemoryManager(), addr, ids[i]); err != nil {
			return err
		}
	}
	return nil
}

// Getresuid implements the Linux syscall getresuid.
func Getresuid(p *kernel.Process, args arch.SyscallArguments) (uintptr, *kernel.SyscallControl, error) {
	c := p.Credentials()
	addrs := [3]hostarch.Addr{args[0].Pointer(), args[1].Pointer(), args[2].Pointer()}
	ids := [3]uint32{uint32(c.RealKUID), uint32(c.EffectiveKUID), uint32(c.SavedKUID)}
	return 0, nil, copyOutIDs(p, addrs, ids)
}

// Getgid implements the Linux syscall getgid.
func Getgid(p *kernel.Process, args arch.SyscallArguments) (uintptr, *kernel.SyscallControl, error) {
	return uintptr(p.Credentials().RealKGID), nil, nil
}

// Getegid implements the Linux syscall getegid.
func Getegid(p *kernel.Process, args arch.SyscallArguments) (uintptr, *kernel.SyscallControl, error) {
	return uintptr(p.Credentials().EffectiveKGID), nil, nil
}

// Getresgid implements the Linux syscall getresgid.
func Getresgid(p *kernel.Process, args arch.SyscallArguments) (uintptr, *kernel.SyscallControl, error) {
	c := p.Credentials()
	addrs := [3]hostarch.Addr{args[0].Pointer(), args[1].Pointer(), args[2].Pointer()}
	ids := [3]uint32{uint32(c.RealKGID), uint32(c.EffectiveKGID), uint32(c.SavedKGID)}
	return 0, nil, copyOutIDs(p, addrs, ids)
}

// updateCredentials applies f to a copy of p's credentials and installs the
// result if f succeeds.
func updateCredentials(p *kernel.Process, f func(c *auth.Credentials) error) error {
	c := p.Credentials().Fork()
	if err := f(c); err != nil {
		return err
	}
	p.SetCredentials(c)
	return nil
}

// Setuid implements the Linux syscall setuid.
func Setuid(p *kernel.Process, args arch.SyscallArguments) (uintptr, *kernel.SyscallControl, error) {
	uid := auth.UID(args[0].Int())
	return 0, nil, updateCredentials(p, func(c *auth.Credentials) error {
		return c.SetUID(uid)
	})
}

// Setreuid implements the Linux syscall setreuid.
func Setreuid(p *kernel.Process, args arch.SyscallArguments) (uintptr, *kernel.SyscallControl, error) {
	ruid := auth.UID(args[0].Int())
	euid := auth.UID(args[1].Int())
	return 0, nil, updateCredentials(p, func(c *auth.Credentials) error {
		return c.SetREUID(ruid, euid)
	})
}

// Setresuid implements the Linux syscall setreuid.
func Setresuid(p *kernel.Process, args arch.SyscallArguments) (uintptr, *kernel.SyscallControl, error) {
	ruid := auth.UID(args[0].Int())
	euid := auth.UID(args[1].Int())
	suid := auth.UID(args[2].Int())
	return 0, nil, updateCredentials(p, func(c *auth.Credentials) error {
		return c.SetRESUID(ruid, euid, suid)
	})
}

// Setgid implements the Linux syscall setgid.
func Setgid(p *kernel.Process, args arch.SyscallArguments) (uintptr, *kernel.SyscallControl, error) {
	gid := auth.GID(args[0].Int())
	return 0, nil, updateCredentials(p, func(c *auth.Credentials) error {
		return c.SetGID(gid)
	})
}

// Setregid implements the Linux syscall setregid.
func Setregid(p *kernel.Process, args arch.SyscallArguments) (uintptr, *kernel.SyscallControl, error) {
	rgid := auth.GID(args[0].Int())
	egid := auth.GID(args[1].Int())
	return 0, nil, updateCredentials(p, func(c *auth.Credentials) error {
		return c.SetREGID(rgid, egid)
	})
}

// Setresgid implements the Linux syscall setregid.
func Setresgid(p *kernel.Process, args arch.SyscallArguments) (uintptr, *kernel.SyscallControl, error) {
	rgid := auth.GID(args[0].Int())
	egid := auth.GID(args[1].Int())
	sgid := auth.GID(args[2].Int())
	return 0, nil, updateCredentials(p, func(c *auth.Credentials) error {
		return c.SetRESGID(rgid, egid, sgid)
	})
}

// Getgroups implements the Linux syscall getgroups.
func Getgroups(p *kernel.Process, args arch.SyscallArguments) (uintptr, *kernel.SyscallControl, error) {
	size := int(args[0].Int())
	if size < 0 {
		return 0, nil, linuxerr.EINVAL
	}
	kgids := p.Credentials().ExtraKGIDs
	// "If size is zero, list is not modified, but the total number of
	// supplementary group IDs for the process is returned." - getgroups(2)
	if size == 0 {
		return uintptr(len(kgids)), nil, nil
	}
	if size < len(kgids) {
		return 0, nil, linuxerr.EINVAL
	}
	gids := make([]primitive.Uint32, len(kgids))
	for i, kgid := range kgids {
		gids[i] = primitive.Uint32(kgid)
	}
	if _, err := marshal.CopySliceOut(p.MemoryManager(), args[1].Pointer(), gids); err != nil {
		return 0, nil, err
	}
	return uintptr(len(gids)), nil, nil
}

// Setgroups implements the Linux syscall setgroups.
func Setgroups(p *kernel.Process, args arch.SyscallArguments) (uintptr, *kernel.SyscallControl, error) {
	size := args[0].Int()
	if size < 0 || size > maxNGroups {
		return 0, nil, linuxerr.EINVAL
	}
	if size == 0 {
		return 0, nil, updateCredentials(p, func(c *auth.Credentials) error {
			return c.SetExtraGIDs(nil)
		})
	}
	buf := make([]primitive.Uint32, size)
	if _, err := marshal.CopySliceIn(p.MemoryManager(), args[1].Pointer(), buf); err != nil {
		return 0, nil, err
	}
	gids := make([]auth.GID, size)
	for i := range buf {
		gids[i] = auth.GID(buf[i])
	}
	return 0, nil, updateCredentials(p, func(c *auth.Credentials) error {
		return c.SetExtraGIDs(gids)
	})
}
