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
	"testing"

	"gvisor.dev/lacd/pkg/abi"
	"gvisor.dev/lacd/pkg/sentry/arch"
)

const (
	maxTestSyscall = 1000
)

func createSyscallTable() *SyscallTable {
	m := make(map[uintptr]Syscall)
	for i := uintptr(0); i <= maxTestSyscall; i++ {
		j := i
		m[i] = Syscall{
			Name: "test",
			Fn: func(*Process, arch.SyscallArguments) (uintptr, *SyscallControl, error) {
				return j, nil, nil
			},
		}
	}

	s := &SyscallTable{
		OS:    abi.Linux,
		Arch:  arch.AMD64,
		Table: m,
	}

	RegisterSyscallTable(s)
	return s
}

func TestTable(t *testing.T) {
	table := createSyscallTable()
	defer func() {
		// Cleanup registered tables to keep tests separate.
		allSyscallTables = []*SyscallTable{}
	}()

	// Go through all functions and check that they return the right value.
	for i := uintptr(0); i < maxTestSyscall; i++ {
		sc, ok := table.Lookup(i)
		if !ok {
			t.Errorf("Syscall %v is not registered", i)
			continue
		}
		if sc.Number != i {
			t.Errorf("Syscall %v has Number %v", i, sc.Number)
		}

		v, _, _ := sc.Fn(nil, arch.SyscallArguments{})
		if v != i {
			t.Errorf("Wrong return value for syscall %v: expected %v, got %v", i, i, v)
		}
	}

	// Check that values outside the range return nil.
	for i := uintptr(maxTestSyscall + 1); i < maxTestSyscall+100; i++ {
		if sc, ok := table.Lookup(i); ok {
			t.Errorf("Syscall %v is not nil: %v", i, sc)
			continue
		}
	}
}

func TestTableInitRejectsCorruptEntries(t *testing.T) {
	for _, tc := range []struct {
		name string
		sc   Syscall
	}{
		{"no name", Syscall{ArgCount: 1}},
		{"negative args", Syscall{Name: "x", ArgCount: -1}},
		{"too many args", Syscall{Name: "x", ArgCount: 7}},
		{"wrong number", Syscall{Name: "x", Number: 9}},
	} {
		t.Run(tc.name, func(t *testing.T) {
			defer func() {
				if recover() == nil {
					t.Errorf("Init() did not panic")
				}
			}()
			s := &SyscallTable{Table: map[uintptr]Syscall{3: tc.sc}}
			s.Init()
		})
	}
}

func TestLookupNo(t *testing.T) {
	s := &SyscallTable{Table: map[uintptr]Syscall{
		0: {Name: "read", ArgCount: 3},
		1: {Name: "write", ArgCount: 3},
	}}
	s.Init()
	if no, err := s.LookupNo("write"); err != nil || no != 1 {
		t.Errorf("LookupNo(write) got (%d, %v), want (1, nil)", no, err)
	}
	if _, err := s.LookupNo("nope"); err == nil {
		t.Errorf("LookupNo(nope) succeeded")
	}
	if got := s.LookupName(7); got != "sys_7" {
		t.Errorf("LookupName(7) got %q, want sys_7", got)
	}
}

func BenchmarkTableLookup(b *testing.B) {
	table := createSyscallTable()

	b.ResetTimer()

	j := uintptr(0)
	for i := 0; i < b.N; i++ {
		table.Lookup(j)
		j = (j + 1) % 310
	}

	b.StopTimer()
	// Cleanup registered tables to keep tests separate.
	allSyscallTables = []*SyscallTable{}
}

func BenchmarkTableMapLookup(b *testing.B) {
	table := createSyscallTable()

	b.ResetTimer()

	j := uintptr(0)
	for i := 0; i < b.N; i++ {
		table.mapLookup(j)
		j = (j + 1) % 310
	}

	b.StopTimer()
	// Cleanup registered tables to keep tests separate.
	allSyscallTables = []*SyscallTable{}
}
