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

// Package time provides the clocks visible to guest processes.
package time

import (
	"time"

	"gvisor.dev/lacd/pkg/abi/linux"
	"gvisor.dev/lacd/pkg/errors/linuxerr"
)

// Resolution is the resolution reported for every clock by clock_getres(2).
const Resolution = time.Nanosecond

// Clock is a guest-visible clock.
type Clock interface {
	// Now returns the current reading of the clock, as an offset from the
	// clock's epoch.
	Now() time.Duration
}

type realtimeClock struct{}

// Now implements Clock.Now.
func (realtimeClock) Now() time.Duration {
	return time.Duration(time.Now().UnixNano())
}

// Realtime is CLOCK_REALTIME: wall-clock time since the Unix epoch.
var Realtime Clock = realtimeClock{}

// ElapsedClock counts time elapsed since Epoch using the host's monotonic
// clock, so it never jumps when wall-clock time is stepped.
type ElapsedClock struct {
	Epoch time.Time
}

// Now implements Clock.Now.
func (c ElapsedClock) Now() time.Duration {
	return time.Since(c.Epoch)
}

// Deadline returns the host time at which c will read abs.
func Deadline(c Clock, abs time.Duration) time.Time {
	return time.Now().Add(abs - c.Now())
}

// Source supplies the epochs of the clocks that are not wall-clock time.
type Source struct {
	// Boot is the epoch of CLOCK_MONOTONIC and CLOCK_BOOTTIME.
	Boot time.Time

	// ProcessStart is the epoch of the CPU-time clocks. Guest CPU
	// consumption is not observable by the daemon, so these clocks
	// advance with elapsed time since the process started.
	ProcessStart time.Time
}

// Lookup returns the clock named by a clockid_t, or EINVAL.
func (s Source) Lookup(id int32) (Clock, error) {
	switch id {
	case linux.CLOCK_REALTIME, linux.CLOCK_REALTIME_COARSE:
		return Realtime, nil
	case linux.CLOCK_MONOTONIC, linux.CLOCK_MONOTONIC_COARSE, linux.CLOCK_MONOTONIC_RAW, linux.CLOCK_BOOTTIME:
		return ElapsedClock{Epoch: s.Boot}, nil
	case linux.CLOCK_PROCESS_CPUTIME_ID, linux.CLOCK_THREAD_CPUTIME_ID:
		return ElapsedClock{Epoch: s.ProcessStart}, nil
	default:
		return nil, linuxerr.EINVAL
	}
}
