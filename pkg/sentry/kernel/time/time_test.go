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

package time

import (
	"testing"
	"time"

	"gvisor.dev/lacd/pkg/abi/linux"
	"gvisor.dev/lacd/pkg/errors/linuxerr"
)

func TestLookup(t *testing.T) {
	boot := time.Now().Add(-time.Hour)
	start := time.Now().Add(-time.Minute)
	s := Source{Boot: boot, ProcessStart: start}

	for _, tc := range []struct {
		name string
		id   int32
		min  time.Duration
		max  time.Duration
	}{
		{"monotonic", linux.CLOCK_MONOTONIC, time.Hour, time.Hour + time.Minute},
		{"boottime", linux.CLOCK_BOOTTIME, time.Hour, time.Hour + time.Minute},
		{"cputime", linux.CLOCK_PROCESS_CPUTIME_ID, time.Minute, 2 * time.Minute},
	} {
		t.Run(tc.name, func(t *testing.T) {
			c, err := s.Lookup(tc.id)
			if err != nil {
				t.Fatalf("Lookup(%d) failed: %v", tc.id, err)
			}
			if now := c.Now(); now < tc.min || now > tc.max {
				t.Errorf("Now() = %v, want in [%v, %v]", now, tc.min, tc.max)
			}
		})
	}

	if _, err := s.Lookup(42); err != linuxerr.EINVAL {
		t.Errorf("Lookup(42) = %v, want EINVAL", err)
	}
}

func TestRealtime(t *testing.T) {
	c, err := Source{}.Lookup(linux.CLOCK_REALTIME)
	if err != nil {
		t.Fatalf("Lookup failed: %v", err)
	}
	got := time.Unix(0, int64(c.Now()))
	if d := time.Since(got); d < 0 || d > time.Second {
		t.Errorf("realtime clock off by %v", d)
	}
}

func TestDeadline(t *testing.T) {
	c := ElapsedClock{Epoch: time.Now()}
	d := Deadline(c, c.Now()+time.Second)
	if until := time.Until(d); until <= 0 || until > time.Second {
		t.Errorf("Deadline is %v away, want (0, 1s]", until)
	}
}
