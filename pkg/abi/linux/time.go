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
	"time"

	"gvisor.dev/lacd/pkg/hostarch"
)

// Clock identifiers for clock_gettime(2) and friends.
const (
	CLOCK_REALTIME           = 0
	CLOCK_MONOTONIC          = 1
	CLOCK_PROCESS_CPUTIME_ID = 2
	CLOCK_THREAD_CPUTIME_ID  = 3
	CLOCK_MONOTONIC_RAW      = 4
	CLOCK_REALTIME_COARSE    = 5
	CLOCK_MONOTONIC_COARSE   = 6
	CLOCK_BOOTTIME           = 7
)

// TIMER_ABSTIME makes clock_nanosleep(2) interpret the request as an absolute
// time.
const TIMER_ABSTIME = 1

// Timespec represents struct timespec in <time.h>.
//
// +marshal
type Timespec struct {
	Sec  int64
	Nsec int64
}

// SizeBytes implements marshal.Marshallable.SizeBytes.
func (ts *Timespec) SizeBytes() int { return 16 }

// MarshalBytes implements marshal.Marshallable.MarshalBytes.
func (ts *Timespec) MarshalBytes(dst []byte) []byte {
	hostarch.ByteOrder.PutUint64(dst[0:], uint64(ts.Sec))
	hostarch.ByteOrder.PutUint64(dst[8:], uint64(ts.Nsec))
	return dst[16:]
}

// UnmarshalBytes implements marshal.Marshallable.UnmarshalBytes.
func (ts *Timespec) UnmarshalBytes(src []byte) []byte {
	ts.Sec = int64(hostarch.ByteOrder.Uint64(src[0:]))
	ts.Nsec = int64(hostarch.ByteOrder.Uint64(src[8:]))
	return src[16:]
}

// Valid returns whether the timespec contains valid values.
func (ts Timespec) Valid() bool {
	return !(ts.Sec < 0 || ts.Nsec < 0 || ts.Nsec >= int64(time.Second))
}

// ToDuration returns the safe nanosecond representation as time.Duration.
func (ts Timespec) ToDuration() time.Duration {
	return time.Duration(ts.Sec)*time.Second + time.Duration(ts.Nsec)
}

// ToTime returns the Go time.Time representation.
func (ts Timespec) ToTime() time.Time {
	return time.Unix(ts.Sec, ts.Nsec)
}

// NsecToTimespec translates nanoseconds to Timespec.
func NsecToTimespec(nsec int64) Timespec {
	return Timespec{Sec: nsec / 1e9, Nsec: nsec % 1e9}
}

// DurationToTimespec translates time.Duration to Timespec.
func DurationToTimespec(dur time.Duration) Timespec {
	return NsecToTimespec(dur.Nanoseconds())
}

// Timeval represents struct timeval in <time.h>.
//
// +marshal
type Timeval struct {
	Sec  int64
	Usec int64
}

// SizeBytes implements marshal.Marshallable.SizeBytes.
func (tv *Timeval) SizeBytes() int { return 16 }

// MarshalBytes implements marshal.Marshallable.MarshalBytes.
func (tv *Timeval) MarshalBytes(dst []byte) []byte {
	hostarch.ByteOrder.PutUint64(dst[0:], uint64(tv.Sec))
	hostarch.ByteOrder.PutUint64(dst[8:], uint64(tv.Usec))
	return dst[16:]
}

// UnmarshalBytes implements marshal.Marshallable.UnmarshalBytes.
func (tv *Timeval) UnmarshalBytes(src []byte) []byte {
	tv.Sec = int64(hostarch.ByteOrder.Uint64(src[0:]))
	tv.Usec = int64(hostarch.ByteOrder.Uint64(src[8:]))
	return src[16:]
}

// NsecToTimeval translates nanosecond to Timeval.
func NsecToTimeval(nsec int64) Timeval {
	return Timeval{Sec: nsec / 1e9, Usec: (nsec % 1e9) / 1e3}
}

// Itimer types for getitimer(2) and setitimer(2).
const (
	ITIMER_REAL    = 0
	ITIMER_VIRTUAL = 1
	ITIMER_PROF    = 2
)

// ItimerVal mimics the following struct in <sys/time.h>
//
//	struct itimerval {
//	  struct timeval it_interval; /* next value */
//	  struct timeval it_value;    /* current value */
//	};
type ItimerVal struct {
	Interval Timeval
	Value    Timeval
}

// SizeBytes implements marshal.Marshallable.SizeBytes.
func (iv *ItimerVal) SizeBytes() int { return 32 }

// MarshalBytes implements marshal.Marshallable.MarshalBytes.
func (iv *ItimerVal) MarshalBytes(dst []byte) []byte {
	dst = iv.Interval.MarshalBytes(dst)
	return iv.Value.MarshalBytes(dst)
}

// UnmarshalBytes implements marshal.Marshallable.UnmarshalBytes.
func (iv *ItimerVal) UnmarshalBytes(src []byte) []byte {
	src = iv.Interval.UnmarshalBytes(src)
	return iv.Value.UnmarshalBytes(src)
}

// ToDuration returns the duration tv represents.
func (tv Timeval) ToDuration() time.Duration {
	return time.Duration(tv.Sec)*time.Second + time.Duration(tv.Usec)*time.Microsecond
}

// DurationToTimeval returns a Timeval for dur.
func DurationToTimeval(dur time.Duration) Timeval {
	return NsecToTimeval(dur.Nanoseconds())
}
