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
	"sync"

	"gvisor.dev/lacd/pkg/abi/linux"
)

// SignalHandlers holds information about signal actions. It is shared by
// processes created with CLONE_SIGHAND.
type SignalHandlers struct {
	// mu protects actions.
	mu sync.Mutex

	// actions is the action to be taken upon receiving each signal.
	actions map[linux.Signal]linux.SignalAct
}

// NewSignalHandlers returns a new SignalHandlers specifying all default
// actions.
func NewSignalHandlers() *SignalHandlers {
	return &SignalHandlers{
		actions: make(map[linux.Signal]linux.SignalAct),
	}
}

// Fork returns a copy of sh for a new process.
func (sh *SignalHandlers) Fork() *SignalHandlers {
	sh2 := NewSignalHandlers()
	sh.mu.Lock()
	defer sh.mu.Unlock()
	for sig, act := range sh.actions {
		sh2.actions[sig] = act
	}
	return sh2
}

// CopyForExec returns a copy of sh for a process that is calling execve.
// Caught signals are reset to their default action; ignored signals stay
// ignored.
func (sh *SignalHandlers) CopyForExec() *SignalHandlers {
	sh2 := NewSignalHandlers()
	sh.mu.Lock()
	defer sh.mu.Unlock()
	for sig, act := range sh.actions {
		if act.Handler == linux.SIG_IGN {
			sh2.actions[sig] = linux.SignalAct{
				Handler: linux.SIG_IGN,
			}
		}
	}
	return sh2
}

// IsIgnored returns true if sig is ignored.
func (sh *SignalHandlers) IsIgnored(sig linux.Signal) bool {
	sh.mu.Lock()
	defer sh.mu.Unlock()
	sa, ok := sh.actions[sig]
	return ok && sa.Handler == linux.SIG_IGN
}

// Action returns the action for sig.
func (sh *SignalHandlers) Action(sig linux.Signal) linux.SignalAct {
	sh.mu.Lock()
	defer sh.mu.Unlock()
	return sh.actions[sig]
}

// setAction replaces the action for sig and returns the previous one.
func (sh *SignalHandlers) setAction(sig linux.Signal, act linux.SignalAct) linux.SignalAct {
	sh.mu.Lock()
	defer sh.mu.Unlock()
	old := sh.actions[sig]
	if act.Handler == linux.SIG_DFL && act.Flags == 0 && act.Mask == 0 {
		delete(sh.actions, sig)
	} else {
		sh.actions[sig] = act
	}
	return old
}

// dequeueAction returns the SignalAct that should be used to handle sig,
// resetting the handler to the default if SA_RESETHAND is set.
func (sh *SignalHandlers) dequeueAction(sig linux.Signal) linux.SignalAct {
	sh.mu.Lock()
	defer sh.mu.Unlock()
	act := sh.actions[sig]
	if act.IsResetHandler() {
		delete(sh.actions, sig)
	}
	return act
}

// isDiscarded returns true if sig is ignored, either explicitly or by
// default action.
func (sh *SignalHandlers) isDiscarded(sig linux.Signal) bool {
	sh.mu.Lock()
	defer sh.mu.Unlock()
	sa := sh.actions[sig]
	switch sa.Handler {
	case linux.SIG_IGN:
		return true
	case linux.SIG_DFL:
		return DefaultAction(sig) == SignalActionIgnore
	}
	return false
}
