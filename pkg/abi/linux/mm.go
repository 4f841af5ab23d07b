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

// Protections for mmap(2).
const (
	PROT_NONE      = 0
	PROT_READ      = 1 << 0
	PROT_WRITE     = 1 << 1
	PROT_EXEC      = 1 << 2
	PROT_GROWSDOWN = 1 << 24
	PROT_GROWSUP   = 1 << 25
)

// Flags for mmap(2).
const (
	MAP_SHARED          = 1 << 0
	MAP_PRIVATE         = 1 << 1
	MAP_SHARED_VALIDATE = MAP_SHARED | MAP_PRIVATE
	MAP_FIXED           = 1 << 4
	MAP_ANONYMOUS       = 1 << 5
	MAP_GROWSDOWN       = 1 << 8
	MAP_DENYWRITE       = 1 << 11
	MAP_EXECUTABLE      = 1 << 12
	MAP_LOCKED          = 1 << 13
	MAP_NORESERVE       = 1 << 14
	MAP_POPULATE        = 1 << 15
	MAP_NONBLOCK        = 1 << 16
	MAP_STACK           = 1 << 17
	MAP_HUGETLB         = 1 << 18
	MAP_FIXED_NOREPLACE = 1 << 20
)

// MAP_FAILED is returned by mmap on failure in libc.
const MAP_FAILED = ^uintptr(0)

// Advice for madvise(2).
const (
	MADV_NORMAL     = 0
	MADV_RANDOM     = 1
	MADV_SEQUENTIAL = 2
	MADV_WILLNEED   = 3
	MADV_DONTNEED   = 4
	MADV_FREE       = 8
	MADV_REMOVE     = 9
	MADV_DONTFORK   = 10
	MADV_DOFORK     = 11
	MADV_HUGEPAGE   = 14
	MADV_NOHUGEPAGE = 15
	MADV_DONTDUMP   = 16
	MADV_DODUMP     = 17
)
