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

import "gvisor.dev/lacd/pkg/hostarch"

const (
	// UTSLen is the maximum length of strings contained in fields of
	// UtsName.
	UTSLen = 64
)

// UtsName represents struct utsname, the struct returned by uname(2).
//
// +marshal
type UtsName struct {
	Sysname    [UTSLen + 1]byte
	Nodename   [UTSLen + 1]byte
	Release    [UTSLen + 1]byte
	Version    [UTSLen + 1]byte
	Machine    [UTSLen + 1]byte
	Domainname [UTSLen + 1]byte
}

// SizeBytes implements marshal.Marshallable.SizeBytes.
func (u *UtsName) SizeBytes() int { return 6 * (UTSLen + 1) }

// MarshalBytes implements marshal.Marshallable.MarshalBytes.
func (u *UtsName) MarshalBytes(dst []byte) []byte {
	for _, f := range [][UTSLen + 1]byte{u.Sysname, u.Nodename, u.Release, u.Version, u.Machine, u.Domainname} {
		dst = dst[copy(dst, f[:]):]
	}
	return dst
}

// UnmarshalBytes implements marshal.Marshallable.UnmarshalBytes.
func (u *UtsName) UnmarshalBytes(src []byte) []byte {
	for _, f := range []*[UTSLen + 1]byte{&u.Sysname, &u.Nodename, &u.Release, &u.Version, &u.Machine, &u.Domainname} {
		src = src[copy(f[:], src):]
	}
	return src
}

// UtsNameString converts a UtsName entry to a string without any trailing
// NUL bytes.
func UtsNameString(s [UTSLen + 1]byte) string {
	for i, b := range s {
		if b == 0 {
			return string(s[:i])
		}
	}
	return string(s[:])
}

// SetUtsNameString stores v, truncated, NUL terminated, in s.
func SetUtsNameString(s *[UTSLen + 1]byte, v string) {
	*s = [UTSLen + 1]byte{}
	copy(s[:UTSLen], v)
}

// Sysinfo is the structure provided by sysinfo on linux versions > 2.3.48.
//
// +marshal
type Sysinfo struct {
	Uptime    int64
	Loads     [3]uint64
	TotalRAM  uint64
	FreeRAM   uint64
	SharedRAM uint64
	BufferRAM uint64
	TotalSwap uint64
	FreeSwap  uint64
	Procs     uint16
	TotalHigh uint64
	FreeHigh  uint64
	Unit      uint32
}

// SizeBytes implements marshal.Marshallable.SizeBytes.
func (s *Sysinfo) SizeBytes() int { return 112 }

// MarshalBytes implements marshal.Marshallable.MarshalBytes.
func (s *Sysinfo) MarshalBytes(dst []byte) []byte {
	for i := range dst[:112] {
		dst[i] = 0
	}
	hostarch.ByteOrder.PutUint64(dst[0:], uint64(s.Uptime))
	for i, l := range s.Loads {
		hostarch.ByteOrder.PutUint64(dst[8+8*i:], l)
	}
	hostarch.ByteOrder.PutUint64(dst[32:], s.TotalRAM)
	hostarch.ByteOrder.PutUint64(dst[40:], s.FreeRAM)
	hostarch.ByteOrder.PutUint64(dst[48:], s.SharedRAM)
	hostarch.ByteOrder.PutUint64(dst[56:], s.BufferRAM)
	hostarch.ByteOrder.PutUint64(dst[64:], s.TotalSwap)
	hostarch.ByteOrder.PutUint64(dst[72:], s.FreeSwap)
	hostarch.ByteOrder.PutUint16(dst[80:], s.Procs)
	hostarch.ByteOrder.PutUint64(dst[88:], s.TotalHigh)
	hostarch.ByteOrder.PutUint64(dst[96:], s.FreeHigh)
	hostarch.ByteOrder.PutUint32(dst[104:], s.Unit)
	return dst[112:]
}

// UnmarshalBytes implements marshal.Marshallable.UnmarshalBytes.
func (s *Sysinfo) UnmarshalBytes(src []byte) []byte {
	s.Uptime = int64(hostarch.ByteOrder.Uint64(src[0:]))
	for i := range s.Loads {
		s.Loads[i] = hostarch.ByteOrder.Uint64(src[8+8*i:])
	}
	s.TotalRAM = hostarch.ByteOrder.Uint64(src[32:])
	s.FreeRAM = hostarch.ByteOrder.Uint64(src[40:])
	s.SharedRAM = hostarch.ByteOrder.Uint64(src[48:])
	s.BufferRAM = hostarch.ByteOrder.Uint64(src[56:])
	s.TotalSwap = hostarch.ByteOrder.Uint64(src[64:])
	s.FreeSwap = hostarch.ByteOrder.Uint64(src[72:])
	s.Procs = hostarch.ByteOrder.Uint16(src[80:])
	s.TotalHigh = hostarch.ByteOrder.Uint64(src[88:])
	s.FreeHigh = hostarch.ByteOrder.Uint64(src[96:])
	s.Unit = hostarch.ByteOrder.Uint32(src[104:])
	return src[112:]
}
