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
	"gvisor.dev/lacd/pkg/abi/linux"
	"gvisor.dev/lacd/pkg/errors/linuxerr"
)

// SetProcessGroupID implements setpgid(2) for target, which must be p or a
// child of p. A pgid of 0 means target's pid.
func (p *Process) SetProcessGroupID(target *Process, pgid ThreadID) error {
	if pgid < 0 {
		return linuxerr.EINVAL
	}
	k := p.k
	k.mu.Lock()
	defer k.mu.Unlock()

	if target != p && target.parent != p {
		return linuxerr.ESRCH
	}
	if pgid == 0 {
		pgid = target.pid
	}
	sid := p.SessionID()
	// A session leader cannot change its group, and the target must be in
	// the caller's session.
	if tsid := target.SessionID(); tsid == target.pid || tsid != sid {
		return linuxerr.EPERM
	}
	if pgid != target.pid {
		// An existing group in the same session must be joined.
		found := false
		for _, q := range k.processes {
			if q != target && q.ProcessGroupID() == pgid && q.SessionID() == sid {
				found = true
				break
			}
		}
		if !found {
			return linuxerr.EPERM
		}
	}
	target.mu.Lock()
	target.pgid = pgid
	target.mu.Unlock()
	return nil
}

// SetSessionID implements setsid(2). It fails with EPERM if p is already a
// process group leader.
func (p *Process) SetSessionID() (ThreadID, error) {
	k := p.k
	k.mu.Lock()
	defer k.mu.Unlock()
	for _, q := range k.processes {
		if q != p && q.ProcessGroupID() == p.pid {
			return 0, linuxerr.EPERM
		}
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.pgid == p.pid {
		return 0, linuxerr.EPERM
	}
	p.pgid = p.pid
	p.sid = p.pid
	return p.pid, nil
}

// ProcessesInGroup returns the live processes in process group pgid.
func (k *Kernel) ProcessesInGroup(pgid ThreadID) []*Process {
	var ps []*Process
	for _, q := range k.Processes() {
		if q.ProcessGroupID() == pgid {
			ps = append(ps, q)
		}
	}
	return ps
}

// Kill implements the target selection and permission checks of kill(2)
// for a signal sent by p.
//
//	pid > 0   - the process with that pid.
//	pid == 0  - every process in p's process group.
//	pid == -1 - every process p may signal, except p itself.
//	pid < -1  - every process in process group -pid.
func (p *Process) Kill(pid ThreadID, sig linux.Signal) error {
	if sig != 0 && !sig.IsValid() {
		return linuxerr.EINVAL
	}
	info := SignalInfoNoInfo(sig, p)
	k := p.k
	switch {
	case pid > 0:
		target := k.ProcessWithID(pid)
		if target == nil {
			return linuxerr.ESRCH
		}
		return p.signalOne(target, info)
	case pid == -1:
		var lastErr error
		delivered := false
		for _, target := range k.Processes() {
			if target == p {
				continue
			}
			if err := p.signalOne(target, info); err != nil {
				lastErr = err
				continue
			}
			delivered = true
		}
		if delivered {
			return nil
		}
		if lastErr == nil {
			lastErr = linuxerr.ESRCH
		}
		return lastErr
	default:
		pgid := -pid
		if pid == 0 {
			pgid = p.ProcessGroupID()
		}
		targets := k.ProcessesInGroup(pgid)
		if len(targets) == 0 {
			return linuxerr.ESRCH
		}
		var lastErr error
		delivered := false
		for _, target := range targets {
			if err := p.signalOne(target, info); err != nil {
				lastErr = err
				continue
			}
			delivered = true
		}
		if delivered {
			return nil
		}
		return lastErr
	}
}

// signalOne sends a copy of info to target after checking permission.
func (p *Process) signalOne(target *Process, info *linux.SignalInfo) error {
	if !p.Credentials().CanSignal(target.Credentials()) {
		return linuxerr.EPERM
	}
	if info.Signo == 0 {
		return nil
	}
	i := *info
	return target.SendSignal(&i)
}
