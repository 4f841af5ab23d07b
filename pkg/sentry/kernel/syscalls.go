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

package kernel

import (
	"fmt"

	"gvisor.dev/lacd/pkg/abi"
	"gvisor.dev/lacd/pkg/errors/linuxerr"
	"gvisor.dev/lacd/pkg/sentry/arch"
)

// maxSyscallNum is the highest supported syscall number.
//
// The types below create fast lookup slices for all syscalls. This maximum
// serves as a sanity check that we don't allocate huge slices for a very
// large syscall number.
const maxSyscallNum = 2000

// SupportLevel is a syscall support levels.
type SupportLevel int

// String returns a human readable representation of the support level.
func (l SupportLevel) String() string {
	switch l {
	case SupportUnimplemented:
		return "Unimplemented"
	case SupportPartial:
		return "Partial Support"
	case SupportFull:
		return "Full Support"
	default:
		return "Undocumented"
	}
}

const (
	// SupportUndocumented indicates the syscall is not documented yet.
	SupportUndocumented = iota

	// SupportUnimplemented indicates the syscall is unimplemented.
	SupportUnimplemented

	// SupportPartial indicates the syscall is partially supported.
	SupportPartial

	// SupportFull indicates the syscall is fully supported.
	SupportFull
)

// Category groups syscalls by the subsystem that implements them.
type Category int

// Syscall categories.
const (
	CategoryMisc Category = iota
	CategoryFile
	CategoryMemory
	CategoryProcess
	CategorySignal
	CategoryIPC
	CategoryTime
	CategoryIdentity
	CategoryNetwork
)

var categoryNames = []string{
	CategoryMisc:     "misc",
	CategoryFile:     "file",
	CategoryMemory:   "memory",
	CategoryProcess:  "process",
	CategorySignal:   "signal",
	CategoryIPC:      "ipc",
	CategoryTime:     "time",
	CategoryIdentity: "identity",
	CategoryNetwork:  "network",
}

// String implements fmt.Stringer.
func (c Category) String() string {
	if int(c) < len(categoryNames) {
		return categoryNames[c]
	}
	return fmt.Sprintf("Category(%d)", int(c))
}

// CategoryNames returns the names of all categories.
func CategoryNames() []string {
	return append([]string(nil), categoryNames...)
}

// Syscall includes the syscall implementation and compatibility information.
type Syscall struct {
	// Number is the syscall number. It is filled in by SyscallTable.Init if
	// left zero.
	Number uintptr

	// Name is the syscall name.
	Name string

	// ArgCount is the number of arguments the syscall takes, between 0 and
	// 6. Only that many arguments are logged.
	ArgCount int

	// Category is the subsystem the syscall belongs to.
	Category Category

	// Fn is the implementation of the syscall.
	Fn SyscallFn

	// SupportLevel is the level of support implemented.
	SupportLevel SupportLevel

	// Note contains additional information about syscall support.
	Note string
}

// SyscallFn is a syscall implementation.
type SyscallFn func(p *Process, args arch.SyscallArguments) (uintptr, *SyscallControl, error)

// MissingFn is a syscall to be called when an implementation is missing.
type MissingFn func(p *Process, sysno uintptr, args arch.SyscallArguments) (uintptr, error)

// Stracer traces syscall execution.
type Stracer interface {
	// SyscallEnter is called on syscall entry.
	//
	// The returned private data is passed to SyscallExit.
	SyscallEnter(p *Process, sysno uintptr, args arch.SyscallArguments) any

	// SyscallExit is called on syscall exit.
	SyscallExit(context any, p *Process, sysno, rval uintptr, err error)
}

// SyscallTable is a lookup table of system calls.
type SyscallTable struct {
	// OS is the operating system that this syscall table implements.
	OS abi.OS

	// Arch is the architecture that this syscall table targets.
	Arch arch.Arch

	// The OS version that this syscall table implements.
	Version Version

	// Table is the collection of functions.
	Table map[uintptr]Syscall

	// lookup is a fixed-size array that holds the syscalls (indexed by
	// their numbers). It is used for fast look ups.
	lookup []*Syscall

	// Missing is the function to call if the syscall is not defined in
	// Table or has no implementation.
	Missing MissingFn

	// Stracer traces this syscall table.
	Stracer Stracer
}

// MaxSysno returns the largest system call number.
func (s *SyscallTable) MaxSysno() (max uintptr) {
	for num := range s.Table {
		if num > max {
			max = num
		}
	}
	return max
}

// allSyscallTables contains all known tables.
var allSyscallTables []*SyscallTable

// SyscallTables returns a read-only slice of registered SyscallTables.
func SyscallTables() []*SyscallTable {
	return allSyscallTables
}

// LookupSyscallTable returns the SyscallCall table for the OS/Arch combination.
func LookupSyscallTable(os abi.OS, a arch.Arch) (*SyscallTable, bool) {
	for _, s := range allSyscallTables {
		if s.OS == os && s.Arch == a {
			return s, true
		}
	}
	return nil, false
}

// RegisterSyscallTable registers a new syscall table for use by a Kernel.
func RegisterSyscallTable(s *SyscallTable) {
	if max := s.MaxSysno(); max > maxSyscallNum {
		panic(fmt.Sprintf("SyscallTable %+v contains too large syscall number %d", s, max))
	}
	if _, ok := LookupSyscallTable(s.OS, s.Arch); ok {
		panic(fmt.Sprintf("Duplicate SyscallTable registered for OS %v Arch %v", s.OS, s.Arch))
	}
	allSyscallTables = append(allSyscallTables, s)
	s.Init()
}

// Init initializes the system call table.
//
// This should normally be called only during registration. It panics if an
// entry is malformed: a corrupted table is a programming error that must
// stop the daemon at startup.
func (s *SyscallTable) Init() {
	if s.Table == nil {
		// Ensure non-nil lookup table.
		s.Table = make(map[uintptr]Syscall)
	}
	if s.Missing == nil {
		// Ensure there is always a missing handler.
		s.Missing = func(*Process, uintptr, arch.SyscallArguments) (uintptr, error) {
			return 0, linuxerr.ENOSYS
		}
	}

	max := s.MaxSysno() // Checked during RegisterSyscallTable.

	// Initialize the fast-lookup table.
	s.lookup = make([]*Syscall, max+1)
	for num, sc := range s.Table {
		if sc.Name == "" {
			panic(fmt.Sprintf("syscall %d has no name", num))
		}
		if sc.ArgCount < 0 || sc.ArgCount > len(arch.SyscallArguments{}) {
			panic(fmt.Sprintf("syscall %d (%s) has invalid argument count %d", num, sc.Name, sc.ArgCount))
		}
		if sc.Number != 0 && sc.Number != num {
			panic(fmt.Sprintf("syscall %s registered as %d but numbered %d", sc.Name, num, sc.Number))
		}
		sc.Number = num
		s.Table[num] = sc
		s.lookup[num] = &sc
	}
}

// Lookup returns the syscall descriptor for the given number, if any.
func (s *SyscallTable) Lookup(sysno uintptr) (*Syscall, bool) {
	if sysno < uintptr(len(s.lookup)) {
		if sc := s.lookup[sysno]; sc != nil {
			return sc, true
		}
	}
	return nil, false
}

// LookupName looks up a syscall name.
func (s *SyscallTable) LookupName(sysno uintptr) string {
	if sc, ok := s.Table[sysno]; ok {
		return sc.Name
	}
	return fmt.Sprintf("sys_%d", sysno) // Unlikely.
}

// LookupNo looks up a syscall number by name.
func (s *SyscallTable) LookupNo(name string) (uintptr, error) {
	for i, syscall := range s.Table {
		if syscall.Name == name {
			return uintptr(i), nil
		}
	}
	return 0, fmt.Errorf("syscall %q not found", name)
}

// mapLookup is similar to Lookup, except that it only uses the syscall table,
// that is, it skips the fast look array. This is available for benchmarking.
func (s *SyscallTable) mapLookup(sysno uintptr) SyscallFn {
	if sc, ok := s.Table[sysno]; ok {
		return sc.Fn
	}
	return nil
}

// Version defines the OS version reported to the guest.
type Version struct {
	// Sysname is the name of the OS.
	Sysname string

	// Release is the OS release.
	Release string

	// Version is the OS version.
	Version string
}

// SyscallControl is returned by syscalls to control the behavior of
// Process.Dispatch.
type SyscallControl struct {
	// ignoreReturn is true if the return value of the syscall must not be
	// written to the return register. It is set when the syscall replaced
	// the register file, as execve and rt_sigreturn do.
	ignoreReturn bool

	// exited is true if the calling process no longer exists.
	exited bool
}

var (
	// CtrlDoExit is returned by the implementations of the exit and exit_group
	// syscalls to enter the task exit path directly, skipping syscall exit
	// tracing.
	CtrlDoExit = &SyscallControl{exited: true, ignoreReturn: true}

	// ctrlResume is returned when the registers were replaced wholesale.
	ctrlResume = &SyscallControl{ignoreReturn: true}
)
