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

// Package rand reads host entropy on behalf of guests.
package rand

import (
	"golang.org/x/sys/unix"
)

// Source fills b from the host entropy pool. It follows getrandom(2): flags
// are unix.GRND_* values and short reads are permitted.
var Source = getrandom

func getrandom(b []byte, flags int) (int, error) {
	for {
		n, err := unix.Getrandom(b, flags)
		if err != unix.EINTR {
			return n, err
		}
	}
}

// Read fills b with random bytes.
//
// If nonblock is false, Read waits for the pool to be initialized and loops
// until b is full. Otherwise it makes a single attempt: it may return fewer
// bytes than requested, or unix.EAGAIN if no entropy is available yet.
func Read(b []byte, nonblock bool) (int, error) {
	if nonblock {
		return Source(b, unix.GRND_NONBLOCK)
	}
	done := 0
	for done < len(b) {
		n, err := Source(b[done:], 0)
		done += n
		if err != nil {
			return done, err
		}
	}
	return done, nil
}
