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

package arch

import (
	"gvisor.dev/lacd/pkg/abi/linux"
	"gvisor.dev/lacd/pkg/errors/linuxerr"
	"gvisor.dev/lacd/pkg/hostarch"
	"gvisor.dev/lacd/pkg/marshal"
	"gvisor.dev/lacd/pkg/marshal/primitive"
)

// Stack is a simple wrapper around a hostarch.IO and an address. Stack
// implements marshal.CopyContext, and marshallable values can be pushed or
// popped from the stack through the marshal.Marshallable interface.
//
// Stack is not thread-safe.
type Stack struct {
	// Our backing IO object.
	IO marshal.CopyContext

	// Bottom is the top of the stack frame; the stack grows down from it.
	Bottom hostarch.Addr
}

// CopyInBytes implements marshal.CopyContext.CopyInBytes.
func (s *Stack) CopyInBytes(addr hostarch.Addr, dst []byte) (int, error) {
	return s.IO.CopyInBytes(addr, dst)
}

// CopyOutBytes implements marshal.CopyContext.CopyOutBytes.
func (s *Stack) CopyOutBytes(addr hostarch.Addr, src []byte) (int, error) {
	return s.IO.CopyOutBytes(addr, src)
}

// PushBytes writes b just below Bottom and returns its address.
func (s *Stack) PushBytes(b []byte) (hostarch.Addr, error) {
	if uint64(s.Bottom) < uint64(len(b)) {
		return 0, linuxerr.EFAULT
	}
	addr := s.Bottom - hostarch.Addr(len(b))
	if _, err := s.IO.CopyOutBytes(addr, b); err != nil {
		return 0, err
	}
	s.Bottom = addr
	return addr, nil
}

// Push pushes each value in order and returns the address of the last.
func (s *Stack) Push(vals ...marshal.Marshallable) (hostarch.Addr, error) {
	for _, v := range vals {
		if _, err := s.PushBytes(marshal.Marshal(v)); err != nil {
			return 0, err
		}
	}
	return s.Bottom, nil
}

// PushUint64 pushes a single 64-bit word.
func (s *Stack) PushUint64(v uint64) (hostarch.Addr, error) {
	w := primitive.Uint64(v)
	return s.Push(&w)
}

// PushNullTerminatedByteSlice writes bs to the stack followed by an extra null
// byte at the end. On error, the contents of the stack and the bottom cursor
// are undefined.
func (s *Stack) PushNullTerminatedByteSlice(bs []byte) (hostarch.Addr, error) {
	buf := make([]byte, len(bs)+1)
	copy(buf, bs)
	return s.PushBytes(buf)
}

// Pop pops each value in order from the bottom of the stack.
func (s *Stack) Pop(vals ...marshal.Marshallable) (hostarch.Addr, error) {
	for _, v := range vals {
		n, err := marshal.CopyIn(s.IO, s.Bottom, v)
		if err != nil {
			return 0, err
		}
		s.Bottom += hostarch.Addr(n)
	}
	return s.Bottom, nil
}

// Align aligns the stack to the given offset.
func (s *Stack) Align(offset int) {
	if s.Bottom%hostarch.Addr(offset) != 0 {
		s.Bottom -= s.Bottom % hostarch.Addr(offset)
	}
}

// StackLayout describes the location of the arguments and environment on the
// stack.
type StackLayout struct {
	// ArgvStart is the beginning of the argument vector.
	ArgvStart hostarch.Addr

	// ArgvEnd is the end of the argument vector.
	ArgvEnd hostarch.Addr

	// EnvvStart is the beginning of the environment vector.
	EnvvStart hostarch.Addr

	// EnvvEnd is the end of the environment vector.
	EnvvEnd hostarch.Addr
}

// AuxEntry represents an entry in an ELF auxiliary vector.
type AuxEntry struct {
	Key   uint64
	Value hostarch.Addr
}

// Auxv represents an ELF auxiliary vector.
type Auxv []AuxEntry

// Lookup returns the value of key, if present.
func (a Auxv) Lookup(key uint64) (hostarch.Addr, bool) {
	for _, e := range a {
		if e.Key == key {
			return e.Value, true
		}
	}
	return 0, false
}

// Load pushes the given args, env and aux vector to the stack using the
// well-known format for a new executable. It returns the start and end
// of the argument and environment vectors.
//
// On return, Bottom is the initial stack pointer: it points at argc and is
// 16-byte aligned.
func (s *Stack) Load(args []string, env []string, aux Auxv) (StackLayout, error) {
	l := StackLayout{}

	// Make sure we start with a 16-byte alignment.
	s.Align(16)

	// Push the environment vector so the end of the argument vector is adjacent to
	// the beginning of the environment vector.
	// While the System V abi for x86_64 does not specify an ordering to the
	// Information Block (the block holding the arg, env, and aux vectors),
	// support features like setproctitle(3) naturally expect these segments
	// to be in this order. See: https://www.uclibc.org/docs/psABI-x86_64.pdf
	// page 29.
	l.EnvvEnd = s.Bottom
	envAddrs := make([]hostarch.Addr, len(env))
	for i := len(env) - 1; i >= 0; i-- {
		addr, err := s.PushNullTerminatedByteSlice([]byte(env[i]))
		if err != nil {
			return StackLayout{}, err
		}
		envAddrs[i] = addr
	}
	l.EnvvStart = s.Bottom

	// Push our strings.
	l.ArgvEnd = s.Bottom
	argAddrs := make([]hostarch.Addr, len(args))
	for i := len(args) - 1; i >= 0; i-- {
		addr, err := s.PushNullTerminatedByteSlice([]byte(args[i]))
		if err != nil {
			return StackLayout{}, err
		}
		argAddrs[i] = addr
	}
	l.ArgvStart = s.Bottom

	// We need to align the arguments appropriately.
	//
	// We must finish on a 16-byte alignment, but we'll play it
	// conservatively and finish at 32-bytes. It would be nice to be able
	// to call Align here, but unfortunately we need to align the stack
	// with all the variable sized arrays pushed. So we just need to do
	// some calculations.
	argvSize := 8 * uint(len(args)+1)
	envvSize := 8 * uint(len(env)+1)
	auxvSize := 8 * 2 * uint(len(aux)+1)
	total := hostarch.Addr(argvSize) + hostarch.Addr(envvSize) + hostarch.Addr(auxvSize) + 8
	expectedBottom := s.Bottom - total
	if expectedBottom%32 != 0 {
		s.Bottom -= expectedBottom % 32
	}

	// Push the auxvec.
	// NOTE: The x86-64 ABI requires an extra zero here.
	// The Push function will automatically terminate
	// strings and arrays with a single null value.
	auxv := make([]hostarch.Addr, 0, 2*(len(aux)+1))
	for _, a := range aux {
		auxv = append(auxv, hostarch.Addr(a.Key), a.Value)
	}
	auxv = append(auxv, hostarch.Addr(linux.AT_NULL))
	if err := s.pushAddrSliceAndTerminator(auxv); err != nil {
		return StackLayout{}, err
	}

	// Push environment.
	if err := s.pushAddrSliceAndTerminator(envAddrs); err != nil {
		return StackLayout{}, err
	}

	// Push our args.
	if err := s.pushAddrSliceAndTerminator(argAddrs); err != nil {
		return StackLayout{}, err
	}

	// Push arg count.
	if _, err := s.PushUint64(uint64(len(args))); err != nil {
		return StackLayout{}, err
	}

	return l, nil
}

// pushAddrSliceAndTerminator copies a slice of addresses to the stack, and
// also pushes an extra null address element at the end of the slice.
//
// On error, the contents of the stack and the bottom cursor are undefined.
func (s *Stack) pushAddrSliceAndTerminator(src []hostarch.Addr) error {
	buf := make([]byte, 8*(len(src)+1))
	for i, a := range src {
		hostarch.ByteOrder.PutUint64(buf[8*i:], uint64(a))
	}
	_, err := s.PushBytes(buf)
	return err
}
