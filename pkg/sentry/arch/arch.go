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

// Package arch provides abstractions around architecture-dependent details,
// such as syscall calling conventions, native types, etc.
package arch

import (
	"fmt"

	"gvisor.dev/lacd/pkg/hostarch"
)

// Arch describes an architecture.
type Arch int

const (
	// AMD64 is the x86-64 architecture.
	AMD64 Arch = iota

	// ARM64 is the aarch64 architecture.
	ARM64
)

// String implements fmt.Stringer.
func (a Arch) String() string {
	switch a {
	case AMD64:
		return "amd64"
	case ARM64:
		return "arm64"
	default:
		return fmt.Sprintf("Arch(%d)", a)
	}
}

// These constants come directly from Linux.
const (
	// MaxUserAddress is the maximum userspace address. It is TASK_SIZE in
	// Linux for a 64-bit process.
	MaxUserAddress hostarch.Addr = (1 << 47) - hostarch.PageSize

	// StackTop is the address just above the initial stack of a loaded
	// image.
	StackTop hostarch.Addr = 0x7fff_ffff_f000

	// PIELoadAddress is the base at which ET_DYN executables are loaded.
	PIELoadAddress hostarch.Addr = 0x5555_5555_4000

	// InterpreterLoadAddress is the base at which ET_DYN interpreters are
	// loaded.
	InterpreterLoadAddress hostarch.Addr = 0x7f00_0000_0000

	// MmapBase is the upper bound of top-down mmap allocations.
	MmapBase hostarch.Addr = 0x7ef0_0000_0000

	// redZoneSize is the x86-64 ABI red zone below the stack pointer that
	// signal frames must not clobber.
	redZoneSize = 128
)

// SyscallArgument is an argument supplied to a syscall implementation. The
// methods used to access the arguments are named after the ***C type name***
// and they convert to the closest Go type available. For example, Int() refers to a
// 32-bit signed integer argument represented in Go as an int32.
//
// Using the accessor methods guarantees that the conversion between types is
// correct, taking into account size and signedness (i.e., zero-extension vs
// signed-extension).
type SyscallArgument struct {
	// Prefer to use accessor methods instead of 'Value' directly.
	Value uintptr
}

// SyscallArguments represents the set of arguments passed to a syscall.
type SyscallArguments [6]SyscallArgument

// Pointer returns the hostarch.Addr representation of a pointer argument.
func (a SyscallArgument) Pointer() hostarch.Addr {
	return hostarch.Addr(a.Value)
}

// Int returns the int32 representation of a 32-bit signed integer argument.
func (a SyscallArgument) Int() int32 {
	return int32(a.Value)
}

// Uint returns the uint32 representation of a 32-bit unsigned integer argument.
func (a SyscallArgument) Uint() uint32 {
	return uint32(a.Value)
}

// Int64 returns the int64 representation of a 64-bit signed integer argument.
func (a SyscallArgument) Int64() int64 {
	return int64(a.Value)
}

// Uint64 returns the uint64 representation of a 64-bit unsigned integer argument.
func (a SyscallArgument) Uint64() uint64 {
	return uint64(a.Value)
}

// SizeT returns the uint representation of a size_t argument.
func (a SyscallArgument) SizeT() uint {
	return uint(a.Value)
}

// ModeT returns the int representation of a mode_t argument.
func (a SyscallArgument) ModeT() uint {
	return uint(uint16(a.Value))
}

// Args builds SyscallArguments from raw values. Missing trailing arguments
// are zero.
func Args(vals ...uintptr) SyscallArguments {
	var args SyscallArguments
	for i, v := range vals {
		args[i].Value = v
	}
	return args
}
