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

// Package loader loads an executable into a MemoryManager.
package loader

import (
	"bytes"
	"crypto/rand"
	"path"

	"gvisor.dev/lacd/pkg/abi/linux"
	"gvisor.dev/lacd/pkg/errors/linuxerr"
	"gvisor.dev/lacd/pkg/hostarch"
	"gvisor.dev/lacd/pkg/log"
	"gvisor.dev/lacd/pkg/sentry/arch"
	"gvisor.dev/lacd/pkg/sentry/kernel/auth"
	"gvisor.dev/lacd/pkg/sentry/mm"
)

const (
	// maxLoaderAttempts is the maximum number of attempts to try to load
	// an interpreter scripts, to prevent loops. 6 (initial + 5 changes) is
	// what the Linux kernel allows (fs/exec.c:search_binary_handler).
	maxLoaderAttempts = 6

	// DefaultStackSize is the stack size used when LoadArgs.StackSize is
	// zero.
	DefaultStackSize = 8 << 20

	// clockTicks is AT_CLKTCK.
	clockTicks = 100
)

// LoadArgs holds specifications for an executable file to be loaded.
type LoadArgs struct {
	// MemoryManager is the memory manager to load the executable into. It
	// should be empty.
	MemoryManager *mm.MemoryManager

	// Filename is the guest path of the executable.
	Filename string

	// File is the opened executable.
	File File

	// Open opens interpreters named by #! lines and PT_INTERP.
	Open OpenFunc

	// Argv is the vector of arguments to pass to the executable.
	Argv []string

	// Envv is the vector of environment variables to pass to the
	// executable.
	Envv []string

	// StackSize is the size of the initial stack region.
	StackSize uint64

	// Credentials supply AT_UID, AT_EUID, AT_GID and AT_EGID.
	Credentials *auth.Credentials
}

// LoadResult describes the loaded executable.
type LoadResult struct {
	ImageInfo

	// StackPointer is the initial stack pointer. It points at argc and is
	// 16-byte aligned.
	StackPointer hostarch.Addr

	// Auxv is the auxiliary vector pushed on the stack.
	Auxv arch.Auxv

	// Name is the process name derived from the executable path.
	Name string

	// Argv is the final argument vector, after #! rewriting.
	Argv []string
}

// loadExecutable loads the executable, following #! scripts, and returns
// its image info and the final argv.
func loadExecutable(args LoadArgs) (ImageInfo, []string, error) {
	filename, f, argv := args.Filename, args.File, args.Argv
	for i := 0; i < maxLoaderAttempts; i++ {
		var hdr [4]byte
		n, _ := f.ReadAt(hdr[:], 0)
		switch {
		case n == len(hdr) && bytes.Equal(hdr[:], []byte(elfMagic)):
			ii, err := LoadELF(args.MemoryManager, f, filename, args.Open)
			if err != nil {
				log.Infof("Error loading ELF %q: %v", filename, err)
				return ImageInfo{}, nil, err
			}
			return ii, argv, nil

		case n >= 2 && bytes.Equal(hdr[:2], []byte(interpreterScriptMagic)):
			newpath, newargv, err := ParseInterpreterScript(filename, f, argv)
			if err != nil {
				log.Infof("Error loading interpreter script %q: %v", filename, err)
				return ImageInfo{}, nil, err
			}
			if args.Open == nil {
				return ImageInfo{}, nil, linuxerr.ENOEXEC
			}
			nf, err := args.Open(newpath)
			if err != nil {
				log.Infof("Error opening script interpreter %q: %v", newpath, err)
				return ImageInfo{}, nil, err
			}
			filename, f, argv = newpath, nf, newargv

		default:
			log.Infof("Unknown magic: %v", hdr)
			return ImageInfo{}, nil, linuxerr.ENOEXEC
		}
	}
	return ImageInfo{}, nil, linuxerr.ELOOP
}

// Load loads args.File into args.MemoryManager, sets up its stack and heap,
// and records its metadata.
//
// On failure the MemoryManager may be partially populated; callers load into
// a fresh MemoryManager and discard it.
func Load(args LoadArgs) (LoadResult, error) {
	m := args.MemoryManager
	ii, argv, err := loadExecutable(args)
	if err != nil {
		return LoadResult{}, err
	}

	// The heap starts just past the image.
	m.BrkSetup(ii.End)

	stackSize := args.StackSize
	if stackSize == 0 {
		stackSize = DefaultStackSize
	}
	stackRange, err := m.MapStack(arch.StackTop, stackSize)
	if err != nil {
		log.Infof("Failed to map stack: %v", err)
		return LoadResult{}, err
	}
	if ii.ExecStack {
		if err := m.MProtect(stackRange.Start, stackRange.Length(), hostarch.AnyAccess); err != nil {
			return LoadResult{}, err
		}
	}

	stack := &arch.Stack{IO: m, Bottom: stackRange.End}

	// Push the original filename to the stack, for AT_EXECFN.
	execfn, err := stack.PushNullTerminatedByteSlice([]byte(args.Filename))
	if err != nil {
		return LoadResult{}, err
	}

	// Push 16 random bytes on the stack which AT_RANDOM will point to.
	var b [16]byte
	if _, err := rand.Read(b[:]); err != nil {
		return LoadResult{}, err
	}
	random, err := stack.PushBytes(b[:])
	if err != nil {
		return LoadResult{}, err
	}

	creds := args.Credentials
	if creds == nil {
		creds = auth.NewUserCredentials(auth.DefaultUID, auth.DefaultGID)
	}
	auxv := arch.Auxv{
		{linux.AT_PHDR, ii.PhdrAddr},
		{linux.AT_PHENT, hostarch.Addr(ii.PhdrSize)},
		{linux.AT_PHNUM, hostarch.Addr(ii.PhdrNum)},
		{linux.AT_PAGESZ, hostarch.PageSize},
		{linux.AT_BASE, ii.InterpreterBase},
		{linux.AT_FLAGS, 0},
		{linux.AT_ENTRY, ii.ImageEntry},
		{linux.AT_UID, hostarch.Addr(creds.RealKUID)},
		{linux.AT_EUID, hostarch.Addr(creds.EffectiveKUID)},
		{linux.AT_GID, hostarch.Addr(creds.RealKGID)},
		{linux.AT_EGID, hostarch.Addr(creds.EffectiveKGID)},
		{linux.AT_SECURE, 0},
		{linux.AT_CLKTCK, clockTicks},
		{linux.AT_HWCAP, 0},
		{linux.AT_RANDOM, random},
		{linux.AT_EXECFN, execfn},
	}

	sl, err := stack.Load(argv, args.Envv, auxv)
	if err != nil {
		log.Infof("Failed to load stack: %v", err)
		return LoadResult{}, err
	}

	m.SetMetadata(mm.Metadata{
		Argv:       hostarch.AddrRange{Start: sl.ArgvStart, End: sl.ArgvEnd},
		Envv:       hostarch.AddrRange{Start: sl.EnvvStart, End: sl.EnvvEnd},
		Auxv:       auxv,
		Executable: args.Filename,
	})

	return LoadResult{
		ImageInfo:    ii,
		StackPointer: stack.Bottom,
		Auxv:         auxv,
		Name:         processName(args.Filename),
		Argv:         argv,
	}, nil
}

// processName returns the process name for filename, truncated like
// Linux's comm.
func processName(filename string) string {
	name := path.Base(filename)
	if len(name) > linux.TASK_COMM_LEN-1 {
		name = name[:linux.TASK_COMM_LEN-1]
	}
	return name
}
