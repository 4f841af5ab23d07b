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

// Resources for getrlimit(2)/setrlimit(2)/prlimit(2).
const (
	RLIMIT_CPU        = 0
	RLIMIT_FSIZE      = 1
	RLIMIT_DATA       = 2
	RLIMIT_STACK      = 3
	RLIMIT_CORE       = 4
	RLIMIT_RSS        = 5
	RLIMIT_NPROC      = 6
	RLIMIT_NOFILE     = 7
	RLIMIT_MEMLOCK    = 8
	RLIMIT_AS         = 9
	RLIMIT_LOCKS      = 10
	RLIMIT_SIGPENDING = 11
	RLIMIT_MSGQUEUE   = 12
	RLIMIT_NICE       = 13
	RLIMIT_RTPRIO     = 14
	RLIMIT_RTTIME     = 15

	// RLIM_NLIMITS is the number of resource limits.
	RLIM_NLIMITS = 16
)

// RLimInfinity is RLIM_INFINITY on Linux.
const RLimInfinity = ^uint64(0)

// Default values for resource limits, from include/asm-generic/resource.h.
const (
	// DefaultStackSoftLimit is the default soft limit on the stack size.
	DefaultStackSoftLimit = 8 << 20

	// DefaultNofileSoftLimit is the default soft limit on the number of
	// open files.
	DefaultNofileSoftLimit = 1024

	// DefaultNofileHardLimit is the default hard limit on the number of
	// open files.
	DefaultNofileHardLimit = 4096

	// DefaultMemlockLimit is the default limit on locked memory.
	DefaultMemlockLimit = 64 << 10

	// DefaultMsgqueueLimit is the default limit on POSIX message queue
	// bytes.
	DefaultMsgqueueLimit = 819200

	// DefaultNprocLimit is the default limit on the number of processes.
	DefaultNprocLimit = 1024
)

// InitRLimits is a map of initial rlimits set by Linux in
// include/asm-generic/resource.h.
var InitRLimits = map[int]RLimit{
	RLIMIT_CPU:        {RLimInfinity, RLimInfinity},
	RLIMIT_FSIZE:      {RLimInfinity, RLimInfinity},
	RLIMIT_DATA:       {RLimInfinity, RLimInfinity},
	RLIMIT_STACK:      {DefaultStackSoftLimit, RLimInfinity},
	RLIMIT_CORE:       {0, RLimInfinity},
	RLIMIT_RSS:        {RLimInfinity, RLimInfinity},
	RLIMIT_NPROC:      {DefaultNprocLimit, DefaultNprocLimit},
	RLIMIT_NOFILE:     {DefaultNofileSoftLimit, DefaultNofileHardLimit},
	RLIMIT_MEMLOCK:    {DefaultMemlockLimit, DefaultMemlockLimit},
	RLIMIT_AS:         {RLimInfinity, RLimInfinity},
	RLIMIT_LOCKS:      {RLimInfinity, RLimInfinity},
	RLIMIT_SIGPENDING: {0, 0},
	RLIMIT_MSGQUEUE:   {DefaultMsgqueueLimit, DefaultMsgqueueLimit},
	RLIMIT_NICE:       {0, 0},
	RLIMIT_RTPRIO:     {0, 0},
	RLIMIT_RTTIME:     {RLimInfinity, RLimInfinity},
}

// RLimit is a pair of soft and hard limits.
type RLimit struct {
	Cur uint64
	Max uint64
}

// Rlimit specifies the resource limits for getrlimit(2)/setrlimit(2).
//
// +marshal
type Rlimit struct {
	Cur uint64
	Max uint64
}

// SizeBytes implements marshal.Marshallable.SizeBytes.
func (r *Rlimit) SizeBytes() int { return 16 }

// MarshalBytes implements marshal.Marshallable.MarshalBytes.
func (r *Rlimit) MarshalBytes(dst []byte) []byte {
	hostarch.ByteOrder.PutUint64(dst[0:], r.Cur)
	hostarch.ByteOrder.PutUint64(dst[8:], r.Max)
	return dst[16:]
}

// UnmarshalBytes implements marshal.Marshallable.UnmarshalBytes.
func (r *Rlimit) UnmarshalBytes(src []byte) []byte {
	r.Cur = hostarch.ByteOrder.Uint64(src[0:])
	r.Max = hostarch.ByteOrder.Uint64(src[8:])
	return src[16:]
}

// Flags that may be used with wait4(2) and getrusage(2).
const (
	// wait4(2) uses this to aggregate RUSAGE_SELF and RUSAGE_CHILDREN.
	RUSAGE_BOTH = -0x2

	// getrusage(2) flags.
	RUSAGE_CHILDREN = -0x1
	RUSAGE_SELF     = 0x0
	RUSAGE_THREAD   = 0x1
)

// Rusage represents the Linux struct rusage.
//
// +marshal
type Rusage struct {
	UTime    Timeval
	STime    Timeval
	MaxRSS   int64
	IXRSS    int64
	IDRSS    int64
	ISRSS    int64
	MinFlt   int64
	MajFlt   int64
	NSwap    int64
	InBlock  int64
	OuBlock  int64
	MsgSnd   int64
	MsgRcv   int64
	NSignals int64
	NVCSw    int64
	NIvCSw   int64
}

// SizeBytes implements marshal.Marshallable.SizeBytes.
func (r *Rusage) SizeBytes() int { return 144 }

// MarshalBytes implements marshal.Marshallable.MarshalBytes.
func (r *Rusage) MarshalBytes(dst []byte) []byte {
	dst = r.UTime.MarshalBytes(dst)
	dst = r.STime.MarshalBytes(dst)
	for _, v := range []int64{r.MaxRSS, r.IXRSS, r.IDRSS, r.ISRSS, r.MinFlt, r.MajFlt, r.NSwap, r.InBlock, r.OuBlock, r.MsgSnd, r.MsgRcv, r.NSignals, r.NVCSw, r.NIvCSw} {
		hostarch.ByteOrder.PutUint64(dst, uint64(v))
		dst = dst[8:]
	}
	return dst
}

// UnmarshalBytes implements marshal.Marshallable.UnmarshalBytes.
func (r *Rusage) UnmarshalBytes(src []byte) []byte {
	src = r.UTime.UnmarshalBytes(src)
	src = r.STime.UnmarshalBytes(src)
	for _, v := range []*int64{&r.MaxRSS, &r.IXRSS, &r.IDRSS, &r.ISRSS, &r.MinFlt, &r.MajFlt, &r.NSwap, &r.InBlock, &r.OuBlock, &r.MsgSnd, &r.MsgRcv, &r.NSignals, &r.NVCSw, &r.NIvCSw} {
		*v = int64(hostarch.ByteOrder.Uint64(src))
		src = src[8:]
	}
	return src
}
