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

package kernel

import (
	"runtime"
	"sync"
	"testing"

	"gvisor.dev/lacd/pkg/sentry/kernel/pipe"
	"gvisor.dev/lacd/pkg/sentry/limits"
	"gvisor.dev/lacd/pkg/sentry/vfs"
)

const (
	// maxFD is the maximum FD to try to create in the map.
	//
	// This number of open files has been seen in the wild.
	maxFD = 2 * 1024
)

func runTest(t testing.TB, fn func(fdTable *FDTable, file *vfs.FileDescription, limitSet *limits.LimitSet)) {
	t.Helper() // Don't show in stacks.

	limitSet := limits.NewLimitSet()
	limitSet.Set(limits.NumberOfFiles, limits.Limit{Cur: maxFD, Max: maxFD}, true)

	// Create a test file.
	r, w := pipe.NewConnectedPipe(pipe.DefaultPipeSize, 0)
	defer w.DecRef()
	defer r.DecRef()

	fdTable := NewFDTable()
	defer fdTable.DecRef()

	fn(fdTable, r, limitSet)
}

// TestFDTableMany allocates maxFD FDs, i.e. maxes out the FDTable, until there
// is no room, then makes sure that NewFDAt works and also that if we remove
// one and add one that works too.
func TestFDTableMany(t *testing.T) {
	runTest(t, func(fdTable *FDTable, file *vfs.FileDescription, limitSet *limits.LimitSet) {
		for i := 0; i < maxFD; i++ {
			if _, err := fdTable.NewFDs(limitSet, 0, []*vfs.FileDescription{file}, FDFlags{}); err != nil {
				t.Fatalf("Allocated %v FDs but wanted to allocate %v", i, maxFD)
			}
		}

		if _, err := fdTable.NewFDs(limitSet, 0, []*vfs.FileDescription{file}, FDFlags{}); err == nil {
			t.Fatalf("fdTable.NewFDs(0, r) in full map: got nil, wanted error")
		}

		if err := fdTable.NewFDAt(limitSet, 1, file, FDFlags{}); err != nil {
			t.Fatalf("fdTable.NewFDAt(1, r, FDFlags{}): got %v, wanted nil", err)
		}

		i := int32(2)
		if f := fdTable.Remove(i); f != nil {
			f.DecRef()
		}
		if fds, err := fdTable.NewFDs(limitSet, 0, []*vfs.FileDescription{file}, FDFlags{}); err != nil || fds[0] != i {
			t.Fatalf("Allocated %v FDs but wanted to allocate %v: %v", i, maxFD, err)
		}
	})
}

func TestFDTableOverLimit(t *testing.T) {
	runTest(t, func(fdTable *FDTable, file *vfs.FileDescription, limitSet *limits.LimitSet) {
		if _, err := fdTable.NewFDs(limitSet, maxFD, []*vfs.FileDescription{file}, FDFlags{}); err == nil {
			t.Fatalf("fdTable.NewFDs(maxFD, f): got nil, wanted error")
		}

		if _, err := fdTable.NewFDs(limitSet, maxFD-2, []*vfs.FileDescription{file, file, file}, FDFlags{}); err == nil {
			t.Fatalf("fdTable.NewFDs(maxFD-2, {f,f,f}): got nil, wanted error")
		}

		if fds, err := fdTable.NewFDs(limitSet, maxFD-3, []*vfs.FileDescription{file, file, file}, FDFlags{}); err != nil {
			t.Fatalf("fdTable.NewFDs(maxFD-3, {f,f,f}): got %v, wanted nil", err)
		} else {
			for _, fd := range fds {
				if f := fdTable.Remove(fd); f != nil {
					f.DecRef()
				}
			}
		}

		if fds, err := fdTable.NewFDs(limitSet, maxFD-1, []*vfs.FileDescription{file}, FDFlags{}); err != nil || fds[0] != maxFD-1 {
			t.Fatalf("fdTable.NewFDAt(1, r, FDFlags{}): got %v, wanted nil", err)
		}

		if fds, err := fdTable.NewFDs(limitSet, 0, []*vfs.FileDescription{file}, FDFlags{}); err != nil {
			t.Fatalf("Adding an FD to a resized map: got %v, want nil", err)
		} else if len(fds) != 1 || fds[0] != 0 {
			t.Fatalf("Added an FD to a resized map: got %v, want {1}", fds)
		}
	})
}

// TestFDTable does a set of simple tests to make sure simple adds, removes,
// GetRefs, and DecRefs work. The ordering is just weird enough that a
// table-driven approach seemed clumsy.
func TestFDTable(t *testing.T) {
	runTest(t, func(fdTable *FDTable, file *vfs.FileDescription, limitSet *limits.LimitSet) {
		// Cap the limit at one.
		limitSet.Set(limits.NumberOfFiles, limits.Limit{Cur: 1, Max: maxFD}, true)

		if _, err := fdTable.NewFDs(limitSet, 0, []*vfs.FileDescription{file}, FDFlags{}); err != nil {
			t.Fatalf("Adding an FD to an empty 1-size map: got %v, want nil", err)
		}

		if _, err := fdTable.NewFDs(limitSet, 0, []*vfs.FileDescription{file}, FDFlags{}); err == nil {
			t.Fatalf("Adding an FD to a filled 1-size map: got nil, wanted an error")
		}

		// Remove the previous limit.
		limitSet.Set(limits.NumberOfFiles, limits.Limit{Cur: maxFD, Max: maxFD}, true)

		if fds, err := fdTable.NewFDs(limitSet, 0, []*vfs.FileDescription{file}, FDFlags{}); err != nil {
			t.Fatalf("Adding an FD to a resized map: got %v, want nil", err)
		} else if len(fds) != 1 || fds[0] != 1 {
			t.Fatalf("Added an FD to a resized map: got %v, want {1}", fds)
		}

		if err := fdTable.NewFDAt(limitSet, 1, file, FDFlags{}); err != nil {
			t.Fatalf("Replacing FD 1 via fdTable.NewFDAt(1, r, FDFlags{}): got %v, wanted nil", err)
		}

		if err := fdTable.NewFDAt(limitSet, maxFD+1, file, FDFlags{}); err == nil {
			t.Fatalf("Using an FD that was too large via fdTable.NewFDAt(%v, r, FDFlags{}): got nil, wanted an error", maxFD+1)
		}

		if ref, _ := fdTable.Get(1); ref == nil {
			t.Fatalf("fdTable.Get(1): got nil, wanted %v", file)
		} else {
			ref.DecRef()
		}

		if ref, _ := fdTable.Get(2); ref != nil {
			t.Fatalf("fdTable.Get(2): got a %v, wanted nil", ref)
		}

		ref := fdTable.Remove(1)
		if ref == nil {
			t.Fatalf("fdTable.Remove(1) for an existing FD: failed, want success")
		}
		ref.DecRef()

		if ref := fdTable.Remove(1); ref != nil {
			t.Fatalf("r.Remove(1) for a removed FD: got success, want failure")
		}
	})
}

func TestFDTableCloseOnExec(t *testing.T) {
	runTest(t, func(fdTable *FDTable, file *vfs.FileDescription, limitSet *limits.LimitSet) {
		fds, err := fdTable.NewFDs(limitSet, 0, []*vfs.FileDescription{file, file, file}, FDFlags{})
		if err != nil {
			t.Fatalf("fdTable.NewFDs: %v", err)
		}
		if err := fdTable.SetFlags(fds[1], FDFlags{CloseOnExec: true}); err != nil {
			t.Fatalf("fdTable.SetFlags(%d): %v", fds[1], err)
		}
		fdTable.RemoveIf(func(_ *vfs.FileDescription, flags FDFlags) bool {
			return flags.CloseOnExec
		})
		got := fdTable.GetFDs()
		if len(got) != 2 || got[0] != fds[0] || got[1] != fds[2] {
			t.Errorf("fdTable.GetFDs() after close-on-exec got %v, want [%d %d]", got, fds[0], fds[2])
		}
	})
}

func TestFDTableFork(t *testing.T) {
	runTest(t, func(fdTable *FDTable, file *vfs.FileDescription, limitSet *limits.LimitSet) {
		if err := fdTable.NewFDAt(limitSet, 5, file, FDFlags{CloseOnExec: true}); err != nil {
			t.Fatalf("fdTable.NewFDAt(5): %v", err)
		}
		before := file.ReadRefs()
		forked := fdTable.Fork()
		if got := file.ReadRefs(); got != before+1 {
			t.Errorf("file refs after Fork got %d, want %d", got, before+1)
		}
		f, flags := forked.Get(5)
		if f == nil {
			t.Fatalf("forked.Get(5): got nil, want file")
		}
		f.DecRef()
		if !flags.CloseOnExec {
			t.Errorf("forked.Get(5) flags got %+v, want CloseOnExec", flags)
		}

		// Changes to the fork are not visible in the original.
		if removed := forked.Remove(5); removed != nil {
			removed.DecRef()
		}
		if f, _ := fdTable.Get(5); f == nil {
			t.Errorf("fdTable.Get(5) after removal from fork: got nil, want file")
		} else {
			f.DecRef()
		}
		forked.DecRef()
		if got := file.ReadRefs(); got != before {
			t.Errorf("file refs after fork released got %d, want %d", got, before)
		}
	})
}

func TestFDTableConcurrentAllocation(t *testing.T) {
	runTest(t, func(fdTable *FDTable, file *vfs.FileDescription, limitSet *limits.LimitSet) {
		const workers = 8
		const perWorker = 64
		var wg sync.WaitGroup
		results := make(chan int32, workers*perWorker)
		for i := 0; i < workers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for j := 0; j < perWorker; j++ {
					fds, err := fdTable.NewFDs(limitSet, 0, []*vfs.FileDescription{file}, FDFlags{})
					if err != nil {
						t.Errorf("NewFDs: %v", err)
						return
					}
					results <- fds[0]
					runtime.Gosched()
				}
			}()
		}
		wg.Wait()
		close(results)
		seen := make(map[int32]bool)
		for fd := range results {
			if seen[fd] {
				t.Errorf("fd %d allocated twice", fd)
			}
			seen[fd] = true
		}
		if got := fdTable.Size(); got != workers*perWorker {
			t.Errorf("fdTable.Size() got %d, want %d", got, workers*perWorker)
		}
	})
}
