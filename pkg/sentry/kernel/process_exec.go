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

// This file implements execve(2). The new image is loaded into a fresh
// address space; the process's state is only changed once loading has
// succeeded, so a failed exec returns an error to the unchanged caller.
//
// On success:
//
//	- The address space is replaced and the old one released.
//
//	- Caught signals are reset to their default action; ignored signals
//	  stay ignored. The signal mask and pending signals are kept.
//
//	- The alternate signal stack is disabled.
//
//	- The file descriptor table is unshared and close-on-exec descriptors
//	  are closed.
//
//	- A vfork parent is released.

import (
	"gvisor.dev/lacd/pkg/abi/linux"
	"gvisor.dev/lacd/pkg/sentry/arch"
	"gvisor.dev/lacd/pkg/sentry/mm"
	"gvisor.dev/lacd/pkg/sentry/vfs"
)

// Execve replaces p's image with the executable at filename, resolved
// relative to p's working directory.
//
// Preconditions: The caller must be the dispatch goroutine.
func (p *Process) Execve(filename string, argv, envv []string) (*SyscallControl, error) {
	k := p.k
	path := p.ResolvePath(filename)
	newMM := mm.NewMemoryManager(k.memoryBudget)
	res, err := k.loadImage(newMM, path, argv, envv, p.Credentials(), p.Limits())
	if err != nil {
		newMM.DecUsers()
		p.Debugf("execve(%q) failed: %v", filename, err)
		return nil, err
	}

	p.mu.Lock()
	oldMM := p.mm
	clearTID := p.clearTID
	p.mm = newMM
	p.clearTID = 0
	p.name = res.Name
	p.signalStack = linux.SignalStack{Flags: linux.SS_DISABLE}
	p.signalHandlers = p.signalHandlers.CopyForExec()
	p.haveSavedSignalMask = false
	p.regs = *arch.NewContext64(res.Entry, res.StackPointer)
	p.syscallRestartBlock = nil
	oldFDs := p.fdTable
	p.fdTable = oldFDs.Fork()
	fdt := p.fdTable
	p.mu.Unlock()

	// Linux clears the tid address of a thread replaced by exec in
	// mm_release; only the old address space can be written.
	if clearTID != 0 {
		p.clearChildTID(oldMM, clearTID)
	}
	oldMM.DecUsers()
	oldFDs.DecRef()

	fdt.RemoveIf(func(_ *vfs.FileDescription, flags FDFlags) bool {
		return flags.CloseOnExec
	})

	k.mu.Lock()
	p.releaseVforkParentLocked()
	k.mu.Unlock()

	p.Debugf("execve(%q) entry %v sp %v", path, res.Entry, res.StackPointer)
	return ctrlResume, nil
}
