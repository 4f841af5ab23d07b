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

import (
	"strconv"

	"gvisor.dev/lacd/pkg/hostarch"
)

// Constants for open(2).
const (
	O_ACCMODE   = 000000003
	O_RDONLY    = 000000000
	O_WRONLY    = 000000001
	O_RDWR      = 000000002
	O_CREAT     = 000000100
	O_EXCL      = 000000200
	O_NOCTTY    = 000000400
	O_TRUNC     = 000001000
	O_APPEND    = 000002000
	O_NONBLOCK  = 000004000
	O_DSYNC     = 000010000
	O_ASYNC     = 000020000
	O_DIRECT    = 000040000
	O_LARGEFILE = 000100000
	O_DIRECTORY = 000200000
	O_NOFOLLOW  = 000400000
	O_NOATIME   = 001000000
	O_CLOEXEC   = 002000000
	O_SYNC      = 004000000
	O_PATH      = 010000000
	O_TMPFILE   = 020000000
)

// Constants for fstatat(2) and friends.
const (
	AT_FDCWD            = -100
	AT_SYMLINK_NOFOLLOW = 0x100
	AT_REMOVEDIR        = 0x200
	AT_EACCESS          = 0x200
	AT_SYMLINK_FOLLOW   = 0x400
	AT_EMPTY_PATH       = 0x1000
)

// Constants for access(2).
const (
	F_OK = 0
	X_OK = 1
	W_OK = 2
	R_OK = 4
)

// Constants for fcntl(2).
const (
	F_DUPFD         = 0
	F_GETFD         = 1
	F_SETFD         = 2
	F_GETFL         = 3
	F_SETFL         = 4
	F_DUPFD_CLOEXEC = 1030
	F_SETPIPE_SZ    = 1031
	F_GETPIPE_SZ    = 1032
)

// FD_CLOEXEC is the close-on-exec descriptor flag.
const FD_CLOEXEC = 1

// Values for lseek(2) whence.
const (
	SEEK_SET = 0
	SEEK_CUR = 1
	SEEK_END = 2
)

// File mode bits.
const (
	S_IFMT   = 0170000
	S_IFSOCK = 0140000
	S_IFLNK  = 0120000
	S_IFREG  = 0100000
	S_IFBLK  = 060000
	S_IFDIR  = 040000
	S_IFCHR  = 020000
	S_IFIFO  = 010000

	FileTypeMask    = S_IFMT
	PermissionsMask = 07777
)

// Dirent types, as used by getdents64(2).
const (
	DT_UNKNOWN = 0
	DT_FIFO    = 1
	DT_CHR     = 2
	DT_DIR     = 4
	DT_BLK     = 6
	DT_REG     = 8
	DT_LNK     = 10
	DT_SOCK    = 12
)

// DirentType converts S_IF* mode bits to a DT_* value.
func DirentType(mode uint32) uint8 {
	switch mode & S_IFMT {
	case S_IFSOCK:
		return DT_SOCK
	case S_IFLNK:
		return DT_LNK
	case S_IFREG:
		return DT_REG
	case S_IFBLK:
		return DT_BLK
	case S_IFDIR:
		return DT_DIR
	case S_IFCHR:
		return DT_CHR
	case S_IFIFO:
		return DT_FIFO
	}
	return DT_UNKNOWN
}

// Path limits.
const (
	PATH_MAX = 4096
	NAME_MAX = 255
)

// FileMode represents a mode_t.
type FileMode uint16

// Permissions returns just the permission bits.
func (m FileMode) Permissions() FileMode {
	return m & PermissionsMask
}

// FileType returns just the file type bits.
func (m FileMode) FileType() FileMode {
	return m & FileTypeMask
}

var fileTypeNames = map[FileMode]string{
	S_IFSOCK: "S_IFSOCK",
	S_IFLNK:  "S_IFLNK",
	S_IFREG:  "S_IFREG",
	S_IFBLK:  "S_IFBLK",
	S_IFDIR:  "S_IFDIR",
	S_IFCHR:  "S_IFCHR",
	S_IFIFO:  "S_IFIFO",
}

// String returns a string representation of m, such as "S_IFREG|0o644".
func (m FileMode) String() string {
	perm := "0o" + strconv.FormatUint(uint64(m.Permissions()), 8)
	if m.FileType() == 0 {
		return perm
	}
	name, ok := fileTypeNames[m.FileType()]
	if !ok {
		name = "0o" + strconv.FormatUint(uint64(m.FileType()), 8)
	}
	return name + "|" + perm
}

// Stat represents struct stat on amd64.
//
// +marshal
type Stat struct {
	Dev     uint64
	Ino     uint64
	Nlink   uint64
	Mode    uint32
	UID     uint32
	GID     uint32
	Rdev    uint64
	Size    int64
	Blksize int64
	Blocks  int64
	ATime   Timespec
	MTime   Timespec
	CTime   Timespec
}

// SizeOfStat is the size of a Stat struct.
const SizeOfStat = 144

// SizeBytes implements marshal.Marshallable.SizeBytes.
func (s *Stat) SizeBytes() int { return SizeOfStat }

// MarshalBytes implements marshal.Marshallable.MarshalBytes.
func (s *Stat) MarshalBytes(dst []byte) []byte {
	for i := range dst[:SizeOfStat] {
		dst[i] = 0
	}
	hostarch.ByteOrder.PutUint64(dst[0:], s.Dev)
	hostarch.ByteOrder.PutUint64(dst[8:], s.Ino)
	hostarch.ByteOrder.PutUint64(dst[16:], s.Nlink)
	hostarch.ByteOrder.PutUint32(dst[24:], s.Mode)
	hostarch.ByteOrder.PutUint32(dst[28:], s.UID)
	hostarch.ByteOrder.PutUint32(dst[32:], s.GID)
	// 4 bytes of padding at 36.
	hostarch.ByteOrder.PutUint64(dst[40:], s.Rdev)
	hostarch.ByteOrder.PutUint64(dst[48:], uint64(s.Size))
	hostarch.ByteOrder.PutUint64(dst[56:], uint64(s.Blksize))
	hostarch.ByteOrder.PutUint64(dst[64:], uint64(s.Blocks))
	s.ATime.MarshalBytes(dst[72:])
	s.MTime.MarshalBytes(dst[88:])
	s.CTime.MarshalBytes(dst[104:])
	return dst[SizeOfStat:]
}

// UnmarshalBytes implements marshal.Marshallable.UnmarshalBytes.
func (s *Stat) UnmarshalBytes(src []byte) []byte {
	s.Dev = hostarch.ByteOrder.Uint64(src[0:])
	s.Ino = hostarch.ByteOrder.Uint64(src[8:])
	s.Nlink = hostarch.ByteOrder.Uint64(src[16:])
	s.Mode = hostarch.ByteOrder.Uint32(src[24:])
	s.UID = hostarch.ByteOrder.Uint32(src[28:])
	s.GID = hostarch.ByteOrder.Uint32(src[32:])
	s.Rdev = hostarch.ByteOrder.Uint64(src[40:])
	s.Size = int64(hostarch.ByteOrder.Uint64(src[48:]))
	s.Blksize = int64(hostarch.ByteOrder.Uint64(src[56:]))
	s.Blocks = int64(hostarch.ByteOrder.Uint64(src[64:]))
	s.ATime.UnmarshalBytes(src[72:])
	s.MTime.UnmarshalBytes(src[88:])
	s.CTime.UnmarshalBytes(src[104:])
	return src[SizeOfStat:]
}

// Dirent64 is the fixed header of struct linux_dirent64; the NUL-terminated
// name follows it.
type Dirent64 struct {
	Ino  uint64
	Off  int64
	Type uint8
	Name string
}

// direntHeaderSize is the size of d_ino, d_off, d_reclen and d_type.
const direntHeaderSize = 19

// RecLen returns the 8-byte aligned length of the serialized record.
func (d *Dirent64) RecLen() int {
	return (direntHeaderSize + len(d.Name) + 1 + 7) &^ 7
}

// SizeBytes implements marshal.Marshallable.SizeBytes.
func (d *Dirent64) SizeBytes() int { return d.RecLen() }

// MarshalBytes implements marshal.Marshallable.MarshalBytes.
func (d *Dirent64) MarshalBytes(dst []byte) []byte {
	n := d.RecLen()
	for i := range dst[:n] {
		dst[i] = 0
	}
	hostarch.ByteOrder.PutUint64(dst[0:], d.Ino)
	hostarch.ByteOrder.PutUint64(dst[8:], uint64(d.Off))
	hostarch.ByteOrder.PutUint16(dst[16:], uint16(n))
	dst[18] = d.Type
	copy(dst[direntHeaderSize:], d.Name)
	return dst[n:]
}

// UnmarshalBytes implements marshal.Marshallable.UnmarshalBytes.
func (d *Dirent64) UnmarshalBytes(src []byte) []byte {
	d.Ino = hostarch.ByteOrder.Uint64(src[0:])
	d.Off = int64(hostarch.ByteOrder.Uint64(src[8:]))
	n := int(hostarch.ByteOrder.Uint16(src[16:]))
	d.Type = src[18]
	name := src[direntHeaderSize:n]
	for i, c := range name {
		if c == 0 {
			name = name[:i]
			break
		}
	}
	d.Name = string(name)
	return src[n:]
}

// Constants for ioctl(2) on terminals.
const (
	TCGETS     = 0x00005401
	TIOCGWINSZ = 0x00005413
)

// Generic ioctl(2) commands applying to all file descriptors.
const (
	FIONBIO  = 0x00005421
	FIONCLEX = 0x00005450
	FIOCLEX  = 0x00005451
)

// PIPE_BUF is the maximum size of an atomic pipe write.
const PIPE_BUF = 4096

// UIO_MAXIOV is the maximum number of iovecs accepted by readv and writev.
const UIO_MAXIOV = 1024

// IOVec is struct iovec.
type IOVec struct {
	Base uint64
	Len  uint64
}

// SizeOfIOVec is the size of an IOVec in bytes.
const SizeOfIOVec = 16

// SizeBytes implements marshal.Marshallable.SizeBytes.
func (v *IOVec) SizeBytes() int { return SizeOfIOVec }

// MarshalBytes implements marshal.Marshallable.MarshalBytes.
func (v *IOVec) MarshalBytes(dst []byte) []byte {
	hostarch.ByteOrder.PutUint64(dst, v.Base)
	hostarch.ByteOrder.PutUint64(dst[8:], v.Len)
	return dst[16:]
}

// UnmarshalBytes implements marshal.Marshallable.UnmarshalBytes.
func (v *IOVec) UnmarshalBytes(src []byte) []byte {
	v.Base = hostarch.ByteOrder.Uint64(src)
	v.Len = hostarch.ByteOrder.Uint64(src[8:])
	return src[16:]
}
