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

package metric

import (
	"bytes"
	"testing"

	"github.com/google/go-cmp/cmp"
)

// reset clears all global state in the metric package.
func reset() {
	mu.Lock()
	defer mu.Unlock()
	initialized = false
	allMetrics = make(map[string]any)
}

func TestRegisterAfterInitialize(t *testing.T) {
	reset()
	MustCreateNewUint64Metric("lacd_test_before", Counter, "before")
	Initialize()
	if _, err := NewUint64Metric("lacd_test_after", Counter, "after"); err != ErrInitializationDone {
		t.Errorf("NewUint64Metric after Initialize got %v, want %v", err, ErrInitializationDone)
	}
}

func TestNameInUse(t *testing.T) {
	reset()
	MustCreateNewUint64Metric("lacd_dup", Counter, "x")
	if _, err := NewUint64Metric("lacd_dup", Counter, "y"); err != ErrNameInUse {
		t.Errorf("NewUint64Metric(dup) got %v, want %v", err, ErrNameInUse)
	}
}

func TestFieldsRequireValues(t *testing.T) {
	reset()
	if _, err := NewUint64Metric("lacd_nofields", Counter, "x", NewField("f", nil)); err != ErrFieldHasNoAllowedValues {
		t.Errorf("NewUint64Metric got %v, want %v", err, ErrFieldHasNoAllowedValues)
	}
}

func TestFieldMapperRoundTrip(t *testing.T) {
	m, err := newFieldMapper(NewField("a", []string{"x", "y"}), NewField("b", []string{"1", "2", "3"}))
	if err != nil {
		t.Fatalf("newFieldMapper: %v", err)
	}
	seen := make(map[int]bool)
	for _, a := range []string{"x", "y"} {
		for _, b := range []string{"1", "2", "3"} {
			key := m.lookup(a, b)
			if seen[key] {
				t.Errorf("duplicate key %d for (%s, %s)", key, a, b)
			}
			seen[key] = true
			if diff := cmp.Diff([]string{a, b}, m.keyToFields(key)); diff != "" {
				t.Errorf("keyToFields(%d) mismatch (-want +got):\n%s", key, diff)
			}
		}
	}
}

func TestPrometheusExport(t *testing.T) {
	reset()
	calls := MustCreateNewUint64Metric("/syscalls/total", Counter, "Syscalls dispatched.", NewField("syscall", []string{"read", "write"}))
	if err := RegisterCustomUint64Metric("lacd_processes", Gauge, "Live processes.", func() uint64 { return 3 }); err != nil {
		t.Fatalf("RegisterCustomUint64Metric: %v", err)
	}
	calls.Increment("read")
	calls.IncrementBy(4, "write")

	var buf bytes.Buffer
	if err := WritePrometheus(&buf); err != nil {
		t.Fatalf("WritePrometheus: %v", err)
	}
	got, err := ParsePrometheus(&buf)
	if err != nil {
		t.Fatalf("ParsePrometheus: %v", err)
	}
	want := []Sample{
		{Name: "lacd_processes", Description: "Live processes.", Kind: Gauge, Value: 3},
		{Name: "lacd_syscalls_total", Description: "Syscalls dispatched.", Kind: Counter, Labels: map[string]string{"syscall": "read"}, Value: 1},
		{Name: "lacd_syscalls_total", Description: "Syscalls dispatched.", Kind: Counter, Labels: map[string]string{"syscall": "write"}, Value: 4},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("metrics mismatch (-want +got):\n%s", diff)
	}
}
