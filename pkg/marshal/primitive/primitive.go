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

// Package primitive defines marshal.Marshallable implementations for
// primitive types.
package primitive

import (
	"gvisor.dev/lacd/pkg/hostarch"
	"gvisor.dev/lacd/pkg/marshal"
)

// Uint16 is a marshal.Marshallable implementation for uint16.
type Uint16 uint16

// SizeBytes implements marshal.Marshallable.SizeBytes.
func (u *Uint16) SizeBytes() int { return 2 }

// MarshalBytes implements marshal.Marshallable.MarshalBytes.
func (u *Uint16) MarshalBytes(dst []byte) []byte {
	hostarch.ByteOrder.PutUint16(dst[:2], uint16(*u))
	return dst[2:]
}

// UnmarshalBytes implements marshal.Marshallable.UnmarshalBytes.
func (u *Uint16) UnmarshalBytes(src []byte) []byte {
	*u = Uint16(hostarch.ByteOrder.Uint16(src[:2]))
	return src[2:]
}

// Int32 is a marshal.Marshallable implementation for int32.
type Int32 int32

// SizeBytes implements marshal.Marshallable.SizeBytes.
func (i *Int32) SizeBytes() int { return 4 }

// MarshalBytes implements marshal.Marshallable.MarshalBytes.
func (i *Int32) MarshalBytes(dst []byte) []byte {
	hostarch.ByteOrder.PutUint32(dst[:4], uint32(*i))
	return dst[4:]
}

// UnmarshalBytes implements marshal.Marshallable.UnmarshalBytes.
func (i *Int32) UnmarshalBytes(src []byte) []byte {
	*i = Int32(hostarch.ByteOrder.Uint32(src[:4]))
	return src[4:]
}

// Uint32 is a marshal.Marshallable implementation for uint32.
type Uint32 uint32

// SizeBytes implements marshal.Marshallable.SizeBytes.
func (u *Uint32) SizeBytes() int { return 4 }

// MarshalBytes implements marshal.Marshallable.MarshalBytes.
func (u *Uint32) MarshalBytes(dst []byte) []byte {
	hostarch.ByteOrder.PutUint32(dst[:4], uint32(*u))
	return dst[4:]
}

// UnmarshalBytes implements marshal.Marshallable.UnmarshalBytes.
func (u *Uint32) UnmarshalBytes(src []byte) []byte {
	*u = Uint32(hostarch.ByteOrder.Uint32(src[:4]))
	return src[4:]
}

// Int64 is a marshal.Marshallable implementation for int64.
type Int64 int64

// SizeBytes implements marshal.Marshallable.SizeBytes.
func (i *Int64) SizeBytes() int { return 8 }

// MarshalBytes implements marshal.Marshallable.MarshalBytes.
func (i *Int64) MarshalBytes(dst []byte) []byte {
	hostarch.ByteOrder.PutUint64(dst[:8], uint64(*i))
	return dst[8:]
}

// UnmarshalBytes implements marshal.Marshallable.UnmarshalBytes.
func (i *Int64) UnmarshalBytes(src []byte) []byte {
	*i = Int64(hostarch.ByteOrder.Uint64(src[:8]))
	return src[8:]
}

// Uint64 is a marshal.Marshallable implementation for uint64.
type Uint64 uint64

// SizeBytes implements marshal.Marshallable.SizeBytes.
func (u *Uint64) SizeBytes() int { return 8 }

// MarshalBytes implements marshal.Marshallable.MarshalBytes.
func (u *Uint64) MarshalBytes(dst []byte) []byte {
	hostarch.ByteOrder.PutUint64(dst[:8], uint64(*u))
	return dst[8:]
}

// UnmarshalBytes implements marshal.Marshallable.UnmarshalBytes.
func (u *Uint64) UnmarshalBytes(src []byte) []byte {
	*u = Uint64(hostarch.ByteOrder.Uint64(src[:8]))
	return src[8:]
}

// CopyInt32Out is a convenient wrapper for copying out an int32 value.
func CopyInt32Out(cc marshal.CopyContext, addr hostarch.Addr, src int32) (int, error) {
	i := Int32(src)
	return marshal.CopyOut(cc, addr, &i)
}

// CopyInt32In is a convenient wrapper for copying in an int32 value.
func CopyInt32In(cc marshal.CopyContext, addr hostarch.Addr, dst *int32) (int, error) {
	var i Int32
	n, err := marshal.CopyIn(cc, addr, &i)
	*dst = int32(i)
	return n, err
}

// CopyUint32Out is a convenient wrapper for copying out a uint32 value.
func CopyUint32Out(cc marshal.CopyContext, addr hostarch.Addr, src uint32) (int, error) {
	u := Uint32(src)
	return marshal.CopyOut(cc, addr, &u)
}

// CopyUint32In is a convenient wrapper for copying in a uint32 value.
func CopyUint32In(cc marshal.CopyContext, addr hostarch.Addr, dst *uint32) (int, error) {
	var u Uint32
	n, err := marshal.CopyIn(cc, addr, &u)
	*dst = uint32(u)
	return n, err
}

// CopyInt64Out is a convenient wrapper for copying out an int64 value.
func CopyInt64Out(cc marshal.CopyContext, addr hostarch.Addr, src int64) (int, error) {
	i := Int64(src)
	return marshal.CopyOut(cc, addr, &i)
}

// CopyUint64Out is a convenient wrapper for copying out a uint64 value.
func CopyUint64Out(cc marshal.CopyContext, addr hostarch.Addr, src uint64) (int, error) {
	u := Uint64(src)
	return marshal.CopyOut(cc, addr, &u)
}

// CopyUint64In is a convenient wrapper for copying in a uint64 value.
func CopyUint64In(cc marshal.CopyContext, addr hostarch.Addr, dst *uint64) (int, error) {
	var u Uint64
	n, err := marshal.CopyIn(cc, addr, &u)
	*dst = uint64(u)
	return n, err
}

// CopyUint16SliceIn copies in a slice of uint16 values.
func CopyUint16SliceIn(cc marshal.CopyContext, addr hostarch.Addr, dst []uint16) (int, error) {
	buf := make([]Uint16, len(dst))
	n, err := marshal.CopySliceIn(cc, addr, buf)
	for i := range buf {
		dst[i] = uint16(buf[i])
	}
	return n, err
}

// CopyUint16SliceOut copies out a slice of uint16 values.
func CopyUint16SliceOut(cc marshal.CopyContext, addr hostarch.Addr, src []uint16) (int, error) {
	buf := make([]Uint16, len(src))
	for i := range src {
		buf[i] = Uint16(src[i])
	}
	return marshal.CopySliceOut(cc, addr, buf)
}
