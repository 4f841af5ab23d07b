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

package log

import (
	"fmt"
	"strings"
	"testing"
	"time"
)

type testWriter struct {
	lines []string
	fail  bool
}

func (w *testWriter) Write(bytes []byte) (int, error) {
	if w.fail {
		return 0, fmt.Errorf("simulated failure")
	}
	w.lines = append(w.lines, string(bytes))
	return len(bytes), nil
}

func TestDropMessages(t *testing.T) {
	tw := &testWriter{}
	w := Writer{Next: tw}
	if _, err := w.Write([]byte("line 1\n")); err != nil {
		t.Fatalf("Write failed, err: %v", err)
	}

	tw.fail = true
	if _, err := w.Write([]byte("error\n")); err == nil {
		t.Fatalf("Write should have failed")
	}
	if _, err := w.Write([]byte("error\n")); err == nil {
		t.Fatalf("Write should have failed")
	}

	tw.fail = false
	if _, err := w.Write([]byte("line 2\n")); err != nil {
		t.Fatalf("Write failed, err: %v", err)
	}

	expected := []string{
		"line 1\n",
		"line 2\n",
		"\n*** Dropped 2 log messages ***\n",
	}
	if len(tw.lines) != len(expected) {
		t.Fatalf("Writer should have logged %d lines, got: %v, expected: %v", len(expected), tw.lines, expected)
	}
	for i, l := range tw.lines {
		if l != expected[i] {
			t.Fatalf("line %d doesn't match, got: %q, expected: %q", i, l, expected[i])
		}
	}
}

type collector struct {
	msgs []string
}

func (c *collector) Emit(_ int, _ Level, _ time.Time, format string, v ...any) {
	c.msgs = append(c.msgs, fmt.Sprintf(format, v...))
}

func TestRateLimitedLogger(t *testing.T) {
	c := &collector{}
	rl := RateLimitedLogger(&BasicLogger{Level: Debug, Emitter: c}, time.Hour)
	for i := 0; i < 5; i++ {
		rl.Warningf("unimplemented syscall %d", i)
	}
	if got := len(c.msgs); got != 1 {
		t.Fatalf("RateLimitedLogger emitted %d messages, want 1: %v", got, c.msgs)
	}
	if c.msgs[0] != "unimplemented syscall 0" {
		t.Errorf("first message got %q, want the first call", c.msgs[0])
	}
}

func TestGoogleEmitterFormat(t *testing.T) {
	tw := &testWriter{}
	e := GoogleEmitter{&Writer{Next: tw}}
	ts := time.Date(2024, time.May, 3, 4, 5, 6, 7000, time.UTC)
	e.Emit(0, Warning, ts, "hello %s", "world")
	if len(tw.lines) != 1 {
		t.Fatalf("got %d lines, want 1", len(tw.lines))
	}
	line := tw.lines[0]
	if !strings.HasPrefix(line, "W0503 04:05:06.000007 ") {
		t.Errorf("header got %q", line)
	}
	if !strings.HasSuffix(line, "] hello world\n") {
		t.Errorf("message got %q", line)
	}
}

func TestEmitterForFormat(t *testing.T) {
	w := &Writer{Next: &testWriter{}}
	for _, f := range []string{"text", "json", "json-k8s"} {
		if _, err := EmitterForFormat(f, w); err != nil {
			t.Errorf("EmitterForFormat(%q) failed: %v", f, err)
		}
	}
	if _, err := EmitterForFormat("xml", w); err == nil {
		t.Errorf("EmitterForFormat(xml) succeeded")
	}
}
