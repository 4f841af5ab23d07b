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

package strace

import (
	"gvisor.dev/lacd/pkg/abi"
	"gvisor.dev/lacd/pkg/sentry/arch"
	"gvisor.dev/lacd/pkg/sentry/kernel"
)

// FormatSpecifier describes how a syscall argument is printed.
type FormatSpecifier int

// Arguments are printed on entry with the same text repeated on exit,
// except where noted.
const (
	// Hex and Oct print the raw value.
	Hex FormatSpecifier = iota
	Oct

	// FD is a file descriptor, printed with the path it refers to.
	FD

	// ReadBuffer is filled by the call; the return value is its length.
	// Printed on exit.
	ReadBuffer

	// WriteBuffer is consumed by the call; the next argument is its
	// length. Contents are printed on entry only.
	WriteBuffer

	// ReadIOVec and WriteIOVec are the iovec arrays of readv(2) and
	// writev(2); the next argument is the count. Contents are printed on
	// exit and entry respectively.
	ReadIOVec
	WriteIOVec

	// Path is a NUL-terminated guest path. PostPath is printed on exit.
	Path
	PostPath

	// ExecveStringVector is a NULL-terminated array of strings.
	ExecveStringVector

	// PipeFDs is an int[2], printed on exit.
	PipeFDs

	// Stat is a struct stat, printed on exit.
	Stat

	// Timespec is a struct timespec. PostTimespec is printed on exit.
	Timespec
	PostTimespec

	// Symbolic flag and value arguments.
	CloneFlags
	OpenFlags
	Mode
	FutexOp
	MmapProt
	MmapFlags
	Signal
	SignalMaskAction

	// SigSet is a sigset_t and SigAction a struct sigaction. The Post
	// variants are printed on exit.
	SigSet
	PostSigSet
	SigAction
	PostSigAction
)

// defaultFormat prints all six arguments as hex.
var defaultFormat = []FormatSpecifier{Hex, Hex, Hex, Hex, Hex, Hex}

// SyscallInfo is the name and argument formats of a syscall. Arguments past
// the end of format are not printed.
type SyscallInfo struct {
	name   string
	format []FormatSpecifier
}

func makeSyscallInfo(name string, f ...FormatSpecifier) SyscallInfo {
	return SyscallInfo{name: name, format: f}
}

// SyscallMap maps syscall numbers to their SyscallInfo.
type SyscallMap map[uintptr]SyscallInfo

var _ kernel.Stracer = (SyscallMap)(nil)

type tableKey struct {
	os   abi.OS
	arch arch.Arch
}

var syscallTables = map[tableKey]SyscallMap{
	{abi.Linux, arch.AMD64}: linuxAMD64,
}

// Lookup returns the SyscallMap for the OS/Arch combination. The returned map
// must not be changed.
func Lookup(os abi.OS, a arch.Arch) (SyscallMap, bool) {
	m, ok := syscallTables[tableKey{os, a}]
	return m, ok
}
