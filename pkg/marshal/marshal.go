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

// Package marshal defines the Marshallable interface for serializing guest
// ABI structs to and from guest memory.
//
// Implementations encode in hostarch.ByteOrder with the exact field layout
// of the guest's C struct, including explicit padding.
package marshal

import (
	"gvisor.dev/lacd/pkg/hostarch"
)

// CopyContext defines the memory operations required to marshal to and from
// guest memory. It is implemented by the memory manager of a process.
type CopyContext interface {
	// CopyInBytes copies len(dst) bytes starting at addr into dst.
	CopyInBytes(addr hostarch.Addr, dst []byte) (int, error)

	// CopyOutBytes copies src to guest memory starting at addr.
	CopyOutBytes(addr hostarch.Addr, src []byte) (int, error)
}

// Marshallable represents operations on a type that can be marshalled to and
// from guest memory.
type Marshallable interface {
	// SizeBytes is the size of the memory representation of a type in
	// marshalled form.
	SizeBytes() int

	// MarshalBytes serializes a copy of a type to dst and returns the
	// remaining portion of dst.
	//
	// Precondition: dst must be at least SizeBytes() in length.
	MarshalBytes(dst []byte) []byte

	// UnmarshalBytes deserializes a type from src and returns the
	// remaining portion of src.
	//
	// Precondition: src must be at least SizeBytes() in length.
	UnmarshalBytes(src []byte) []byte
}

// Marshal returns the serialized contents of m in a newly allocated
// byte slice.
func Marshal(m Marshallable) []byte {
	buf := make([]byte, m.SizeBytes())
	m.MarshalBytes(buf)
	return buf
}

// CopyOut serializes m and copies it to guest memory at addr.
func CopyOut(cc CopyContext, addr hostarch.Addr, m Marshallable) (int, error) {
	return cc.CopyOutBytes(addr, Marshal(m))
}

// CopyIn copies m.SizeBytes() bytes of guest memory at addr and
// deserializes them into m.
func CopyIn(cc CopyContext, addr hostarch.Addr, m Marshallable) (int, error) {
	buf := make([]byte, m.SizeBytes())
	n, err := cc.CopyInBytes(addr, buf)
	if err != nil {
		return n, err
	}
	m.UnmarshalBytes(buf)
	return n, nil
}

// CopySliceIn copies len(dst) marshallable elements of equal size starting
// at addr.
func CopySliceIn[T any, PT interface {
	*T
	Marshallable
}](cc CopyContext, addr hostarch.Addr, dst []T) (int, error) {
	total := 0
	for i := range dst {
		n, err := CopyIn(cc, addr+hostarch.Addr(total), PT(&dst[i]))
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

// CopySliceOut copies the marshallable elements of src to consecutive
// addresses starting at addr.
func CopySliceOut[T any, PT interface {
	*T
	Marshallable
}](cc CopyContext, addr hostarch.Addr, src []T) (int, error) {
	total := 0
	for i := range src {
		n, err := CopyOut(cc, addr+hostarch.Addr(total), PT(&src[i]))
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}
