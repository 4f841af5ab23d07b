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
	"golang.org/x/sys/unix"

	"gvisor.dev/lacd/pkg/abi/linux"
	"gvisor.dev/lacd/pkg/errors/linuxerr"
	"gvisor.dev/lacd/pkg/rand"
	"gvisor.dev/lacd/pkg/sentry/arch"
	"gvisor.dev/lacd/pkg/sentry/kernel"
)

const (
	_GRND_ALL = linux.GRND_NONBLOCK | linux.GRND_RANDOM

	// maxRandomBytes is the largest single getrandom request honored.
	// Linux truncates requests at 32 MiB minus one page; short reads are
	// permitted.
	maxRandomBytes = 32<<20 - 4096
)

// GetRandom implements the linux syscall getrandom(2).
//
// In a multi-tenant/shared environment, the only valid implementation is to
// fetch data from the urandom pool, otherwise starvation attacks become
// possible. The urandom pool is also used by the host, so the guest sees the
// same entropy quality.
func GetRandom(p *kernel.Process, args arch.SyscallArguments) (uintptr, *kernel.SyscallControl, error) {
	addr := args[0].Pointer()
	length := args[1].SizeT()
	flags := args[2].Int()

	// GRND_RANDOM is accepted but ignored. See above.
	if flags & ^_GRND_ALL != 0 {
		return 0, nil, linuxerr.EINVAL
	}

	if length > maxRandomBytes {
		length = maxRandomBytes
	}
	if length == 0 {
		return 0, nil, nil
	}
	if _, ok := p.MemoryManager().CheckIORange(addr, int64(length)); !ok {
		return 0, nil, linuxerr.EFAULT
	}

	buf := make([]byte, length)
	got, err := rand.Read(buf, flags&linux.GRND_NONBLOCK != 0)
	if got == 0 && err == unix.EAGAIN {
		return 0, nil, linuxerr.EAGAIN
	}
	if got == 0 && err != nil {
		return 0, nil, linuxerr.EIO
	}
	n, err := p.MemoryManager().CopyOutBytes(addr, buf[:got])
	return uintptr(n), nil, err
}
