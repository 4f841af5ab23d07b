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
	"gvisor.dev/lacd/pkg/abi/linux"
	"gvisor.dev/lacd/pkg/errors/linuxerr"
	"gvisor.dev/lacd/pkg/sentry/arch"
	"gvisor.dev/lacd/pkg/sentry/kernel"
)

// Lseek implements linux syscall lseek(2).
func Lseek(p *kernel.Process, args arch.SyscallArguments) (uintptr, *kernel.SyscallControl, error) {
	fd := args[0].Int()
	offset := args[1].Int64()
	whence := args[2].Int()

	file, _, err := getFile(p, fd)
	if err != nil {
		return 0, nil, err
	}
	defer file.DecRef()

	switch whence {
	case linux.SEEK_SET, linux.SEEK_CUR, linux.SEEK_END:
	default:
		return 0, nil, linuxerr.EINVAL
	}

	offset, serr := file.Seek(offset, whence)
	err = handleIOError(p, false /* partialResult */, serr, linuxerr.ERESTARTSYS, "lseek")
	if err != nil {
		return 0, nil, err
	}
	return uintptr(offset), nil, err
}
