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

// Control commands used with semctl, shmctl, and msgctl. Source:
// include/uapi/linux/ipc.h.
const (
	IPC_RMID = 0
	IPC_SET  = 1
	IPC_STAT = 2
	IPC_INFO = 3
)

// Resource get request flags. Source: include/uapi/linux/ipc.h.
const (
	IPC_CREAT  = 00001000
	IPC_EXCL   = 00002000
	IPC_NOWAIT = 00004000
)

// IPC_PRIVATE is the key used to request a new, unkeyed object.
const IPC_PRIVATE = 0

// In Linux, amd64 does not enable CONFIG_ARCH_WANT_IPC_PARSE_VERSION, so SysV
// IPC unconditionally uses the "new" 64-bit structures that are needed for
// features like 32-bit UIDs.

// IPCPerm is equivalent to struct ipc64_perm.
type IPCPerm struct {
	Key  uint32
	UID  uint32
	GID  uint32
	CUID uint32
	CGID uint32
	Mode uint16
	Seq  uint16
}

const ipcPermSize = 48

func (p *IPCPerm) marshal(dst []byte) []byte {
	for i := range dst[:ipcPermSize] {
		dst[i] = 0
	}
	hostarch.ByteOrder.PutUint32(dst[0:], p.Key)
	hostarch.ByteOrder.PutUint32(dst[4:], p.UID)
	hostarch.ByteOrder.PutUint32(dst[8:], p.GID)
	hostarch.ByteOrder.PutUint32(dst[12:], p.CUID)
	hostarch.ByteOrder.PutUint32(dst[16:], p.CGID)
	hostarch.ByteOrder.PutUint16(dst[20:], p.Mode)
	hostarch.ByteOrder.PutUint16(dst[24:], p.Seq)
	return dst[ipcPermSize:]
}

func (p *IPCPerm) unmarshal(src []byte) []byte {
	p.Key = hostarch.ByteOrder.Uint32(src[0:])
	p.UID = hostarch.ByteOrder.Uint32(src[4:])
	p.GID = hostarch.ByteOrder.Uint32(src[8:])
	p.CUID = hostarch.ByteOrder.Uint32(src[12:])
	p.CGID = hostarch.ByteOrder.Uint32(src[16:])
	p.Mode = hostarch.ByteOrder.Uint16(src[20:])
	p.Seq = hostarch.ByteOrder.Uint16(src[24:])
	return src[ipcPermSize:]
}

// semctl Command Definitions. Source: include/uapi/linux/sem.h
const (
	GETPID  = 11
	GETVAL  = 12
	GETALL  = 13
	GETNCNT = 14
	GETZCNT = 15
	SETVAL  = 16
	SETALL  = 17
)

// ipcs ctl cmds. Source: include/uapi/linux/sem.h
const (
	SEM_STAT = 18
	SEM_INFO = 19
)

// SEM_UNDO requests that the operation be undone on exit.
const SEM_UNDO = 0x1000

// Semaphore limits. Source: include/uapi/linux/sem.h.
const (
	SEMMNI = 32000
	SEMMSL = 32000
	SEMMNS = SEMMNI * SEMMSL
	SEMOPM = 500
	SEMVMX = 32767
)

// SemidDS is equivalent to struct semid64_ds.
type SemidDS struct {
	SemPerm  IPCPerm
	SemOTime int64
	SemCTime int64
	SemNSems uint64
}

// SizeBytes implements marshal.Marshallable.SizeBytes.
func (s *SemidDS) SizeBytes() int { return ipcPermSize + 40 }

// MarshalBytes implements marshal.Marshallable.MarshalBytes.
func (s *SemidDS) MarshalBytes(dst []byte) []byte {
	dst = s.SemPerm.marshal(dst)
	hostarch.ByteOrder.PutUint64(dst[0:], uint64(s.SemOTime))
	hostarch.ByteOrder.PutUint64(dst[8:], uint64(s.SemCTime))
	hostarch.ByteOrder.PutUint64(dst[16:], s.SemNSems)
	hostarch.ByteOrder.PutUint64(dst[24:], 0)
	hostarch.ByteOrder.PutUint64(dst[32:], 0)
	return dst[40:]
}

// UnmarshalBytes implements marshal.Marshallable.UnmarshalBytes.
func (s *SemidDS) UnmarshalBytes(src []byte) []byte {
	src = s.SemPerm.unmarshal(src)
	s.SemOTime = int64(hostarch.ByteOrder.Uint64(src[0:]))
	s.SemCTime = int64(hostarch.ByteOrder.Uint64(src[8:]))
	s.SemNSems = hostarch.ByteOrder.Uint64(src[16:])
	return src[40:]
}

// Sembuf is equivalent to struct sembuf.
type Sembuf struct {
	SemNum uint16
	SemOp  int16
	SemFlg int16
}

// SizeBytes implements marshal.Marshallable.SizeBytes.
func (s *Sembuf) SizeBytes() int { return 6 }

// MarshalBytes implements marshal.Marshallable.MarshalBytes.
func (s *Sembuf) MarshalBytes(dst []byte) []byte {
	hostarch.ByteOrder.PutUint16(dst[0:], s.SemNum)
	hostarch.ByteOrder.PutUint16(dst[2:], uint16(s.SemOp))
	hostarch.ByteOrder.PutUint16(dst[4:], uint16(s.SemFlg))
	return dst[6:]
}

// UnmarshalBytes implements marshal.Marshallable.UnmarshalBytes.
func (s *Sembuf) UnmarshalBytes(src []byte) []byte {
	s.SemNum = hostarch.ByteOrder.Uint16(src[0:])
	s.SemOp = int16(hostarch.ByteOrder.Uint16(src[2:]))
	s.SemFlg = int16(hostarch.ByteOrder.Uint16(src[4:]))
	return src[6:]
}

// msgrcv(2) flags and limits. Source: include/uapi/linux/msg.h.
const (
	MSG_NOERROR = 010000
	MSG_EXCEPT  = 020000
	MSG_COPY    = 040000

	MSG_STAT = 11
	MSG_INFO = 12

	MSGMNI = 32000
	MSGMAX = 8192
	MSGMNB = 16384
)

// MsqidDS is equivalent to struct msqid64_ds.
type MsqidDS struct {
	MsgPerm   IPCPerm
	MsgStime  int64
	MsgRtime  int64
	MsgCtime  int64
	MsgCbytes uint64
	MsgQnum   uint64
	MsgQbytes uint64
	MsgLspid  int32
	MsgLrpid  int32
}

// SizeBytes implements marshal.Marshallable.SizeBytes.
func (m *MsqidDS) SizeBytes() int { return ipcPermSize + 72 }

// MarshalBytes implements marshal.Marshallable.MarshalBytes.
func (m *MsqidDS) MarshalBytes(dst []byte) []byte {
	dst = m.MsgPerm.marshal(dst)
	hostarch.ByteOrder.PutUint64(dst[0:], uint64(m.MsgStime))
	hostarch.ByteOrder.PutUint64(dst[8:], uint64(m.MsgRtime))
	hostarch.ByteOrder.PutUint64(dst[16:], uint64(m.MsgCtime))
	hostarch.ByteOrder.PutUint64(dst[24:], m.MsgCbytes)
	hostarch.ByteOrder.PutUint64(dst[32:], m.MsgQnum)
	hostarch.ByteOrder.PutUint64(dst[40:], m.MsgQbytes)
	hostarch.ByteOrder.PutUint32(dst[48:], uint32(m.MsgLspid))
	hostarch.ByteOrder.PutUint32(dst[52:], uint32(m.MsgLrpid))
	hostarch.ByteOrder.PutUint64(dst[56:], 0)
	hostarch.ByteOrder.PutUint64(dst[64:], 0)
	return dst[72:]
}

// UnmarshalBytes implements marshal.Marshallable.UnmarshalBytes.
func (m *MsqidDS) UnmarshalBytes(src []byte) []byte {
	src = m.MsgPerm.unmarshal(src)
	m.MsgStime = int64(hostarch.ByteOrder.Uint64(src[0:]))
	m.MsgRtime = int64(hostarch.ByteOrder.Uint64(src[8:]))
	m.MsgCtime = int64(hostarch.ByteOrder.Uint64(src[16:]))
	m.MsgCbytes = hostarch.ByteOrder.Uint64(src[24:])
	m.MsgQnum = hostarch.ByteOrder.Uint64(src[32:])
	m.MsgQbytes = hostarch.ByteOrder.Uint64(src[40:])
	m.MsgLspid = int32(hostarch.ByteOrder.Uint32(src[48:]))
	m.MsgLrpid = int32(hostarch.ByteOrder.Uint32(src[52:]))
	return src[72:]
}

// shmat(2) and shmctl(2) flags. Source: include/uapi/linux/shm.h.
const (
	SHM_RDONLY = 010000
	SHM_RND    = 020000
	SHM_REMAP  = 040000
	SHM_EXEC   = 0100000

	SHM_LOCK   = 11
	SHM_UNLOCK = 12
	SHM_STAT   = 13
	SHM_INFO   = 14

	// SHM_DEST is set in IPCPerm.Mode when the segment is marked for
	// destruction.
	SHM_DEST = 01000
)

// Shared memory limits. Source: include/uapi/linux/shm.h.
const (
	SHMMIN = 1
	SHMMNI = 4096
	SHMMAX = ^uint64(0) - 1<<24
	SHMALL = ^uint64(0) - 1<<24
)

// ShmidDS is equivalent to struct shmid64_ds.
type ShmidDS struct {
	ShmPerm    IPCPerm
	ShmSegsz   uint64
	ShmAtime   int64
	ShmDtime   int64
	ShmCtime   int64
	ShmCpid    int32
	ShmLpid    int32
	ShmNattach uint64
}

// SizeBytes implements marshal.Marshallable.SizeBytes.
func (s *ShmidDS) SizeBytes() int { return ipcPermSize + 64 }

// MarshalBytes implements marshal.Marshallable.MarshalBytes.
func (s *ShmidDS) MarshalBytes(dst []byte) []byte {
	dst = s.ShmPerm.marshal(dst)
	hostarch.ByteOrder.PutUint64(dst[0:], s.ShmSegsz)
	hostarch.ByteOrder.PutUint64(dst[8:], uint64(s.ShmAtime))
	hostarch.ByteOrder.PutUint64(dst[16:], uint64(s.ShmDtime))
	hostarch.ByteOrder.PutUint64(dst[24:], uint64(s.ShmCtime))
	hostarch.ByteOrder.PutUint32(dst[32:], uint32(s.ShmCpid))
	hostarch.ByteOrder.PutUint32(dst[36:], uint32(s.ShmLpid))
	hostarch.ByteOrder.PutUint64(dst[40:], s.ShmNattach)
	hostarch.ByteOrder.PutUint64(dst[48:], 0)
	hostarch.ByteOrder.PutUint64(dst[56:], 0)
	return dst[64:]
}

// UnmarshalBytes implements marshal.Marshallable.UnmarshalBytes.
func (s *ShmidDS) UnmarshalBytes(src []byte) []byte {
	src = s.ShmPerm.unmarshal(src)
	s.ShmSegsz = hostarch.ByteOrder.Uint64(src[0:])
	s.ShmAtime = int64(hostarch.ByteOrder.Uint64(src[8:]))
	s.ShmDtime = int64(hostarch.ByteOrder.Uint64(src[16:]))
	s.ShmCtime = int64(hostarch.ByteOrder.Uint64(src[24:]))
	s.ShmCpid = int32(hostarch.ByteOrder.Uint32(src[32:]))
	s.ShmLpid = int32(hostarch.ByteOrder.Uint32(src[36:]))
	s.ShmNattach = hostarch.ByteOrder.Uint64(src[40:])
	return src[64:]
}
