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
	"time"

	"gvisor.dev/lacd/pkg/errors/linuxerr"
)

// BlockWithTimeout blocks p until an event is received from C, the
// timeout elapses, or p is interrupted. It returns the remaining timeout,
// which is unchanged if haveTimeout is false.
//
// If the timeout elapses, it returns linuxerr.ErrDeadlineExceeded. If p is
// interrupted, it returns linuxerr.ErrInterrupted.
//
// Preconditions: The caller must be the dispatch goroutine.
func (p *Process) BlockWithTimeout(C <-chan struct{}, haveTimeout bool, timeout time.Duration) (time.Duration, error) {
	if !haveTimeout {
		return timeout, p.block(C, nil)
	}
	start := time.Now()
	err := p.BlockWithDeadline(C, true, start.Add(timeout))
	remaining := timeout - time.Since(start)
	if remaining < 0 || err == linuxerr.ErrDeadlineExceeded {
		remaining = 0
	}
	return remaining, err
}

// BlockWithDeadline blocks p until an event is received from C, the
// deadline passes, or p is interrupted.
//
// Preconditions: The caller must be the dispatch goroutine.
func (p *Process) BlockWithDeadline(C <-chan struct{}, haveDeadline bool, deadline time.Time) error {
	if !haveDeadline {
		return p.block(C, nil)
	}
	d := time.Until(deadline)
	if d <= 0 {
		select {
		case <-C:
			return nil
		default:
			return linuxerr.ErrDeadlineExceeded
		}
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	return p.block(C, timer.C)
}

// Block implements waiter.Blocker.Block. It blocks p until an event is
// received from C or p is interrupted.
//
// Preconditions: The caller must be the dispatch goroutine.
func (p *Process) Block(C <-chan struct{}) error {
	return p.block(C, nil)
}

// block blocks p until an event is received from C, an event is received
// from timerChan, or p is interrupted.
func (p *Process) block(C <-chan struct{}, timerChan <-chan time.Time) error {
	select {
	case <-C:
		return nil
	default:
	}

	p.mu.Lock()
	if p.interruptedLocked() {
		p.mu.Unlock()
		return linuxerr.ErrInterrupted
	}
	p.setStateLocked(ProcessBlocked)
	p.mu.Unlock()
	defer func() {
		p.mu.Lock()
		if p.state == ProcessBlocked {
			p.setStateLocked(ProcessRunning)
		}
		p.mu.Unlock()
	}()

	select {
	case <-C:
		return nil
	case <-p.interruptChan:
		return linuxerr.ErrInterrupted
	case <-timerChan:
		return linuxerr.ErrDeadlineExceeded
	}
}

// interrupt unblocks p if it is blocked, or makes its next block return
// immediately.
func (p *Process) interrupt() {
	select {
	case p.interruptChan <- struct{}{}:
	default:
	}
}

// clearInterrupt discards a stale interrupt notification.
func (p *Process) clearInterrupt() {
	select {
	case <-p.interruptChan:
	default:
	}
}

// interruptedLocked returns true if p has a signal that should interrupt a
// blocking syscall.
//
// Preconditions: p.mu must be locked.
func (p *Process) interruptedLocked() bool {
	return p.pendingSignals.pendingSet&^p.signalMask != 0
}

// Interrupted returns true if p has a signal that should interrupt a
// blocking syscall.
func (p *Process) Interrupted() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.interruptedLocked()
}
