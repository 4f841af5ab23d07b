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

// maxPendingRealtimeSignals is the maximum number of realtime signals that
// may be queued to a process, as RLIMIT_SIGPENDING in Linux.
const maxPendingRealtimeSignals = 1 << 12

// pendingSignals holds the signals pending delivery to a process.
//
// Standard signals do not queue: a second instance of a pending standard
// signal is discarded. Realtime signals queue in arrival order, each with
// its own SignalInfo.
type pendingSignals struct {
	standard [linux.NumStdSignals]*linux.SignalInfo
	realtime [linux.NumRTSignals][]*linux.SignalInfo

	// numRealtime is the number of queued realtime signals.
	numRealtime int

	// pendingSet is the set of signals with at least one queued instance.
	pendingSet linux.SignalSet
}

// enqueue adds info to the pending set. It returns false if info was
// discarded because an instance of the same standard signal is already
// pending.
func (p *pendingSignals) enqueue(info *linux.SignalInfo) (bool, error) {
	sig := linux.Signal(info.Signo)
	if sig.IsStandard() {
		if p.standard[sig-linux.FirstStdSignal] != nil {
			return false, nil
		}
		p.standard[sig-linux.FirstStdSignal] = info
	} else {
		if p.numRealtime >= maxPendingRealtimeSignals {
			return false, linuxerr.EAGAIN
		}
		i := sig - linux.FirstRTSignal
		p.realtime[i] = append(p.realtime[i], info)
		p.numRealtime++
	}
	p.pendingSet |= linux.SignalSetOf(sig)
	return true, nil
}

// dequeue removes and returns the lowest pending signal not in mask, or
// nil if there is none.
func (p *pendingSignals) dequeue(mask linux.SignalSet) *linux.SignalInfo {
	set := p.pendingSet &^ mask
	if set == 0 {
		return nil
	}
	return p.dequeueSpecific(set.Lowest())
}

// dequeueSpecific removes and returns the oldest pending instance of sig,
// or nil if sig is not pending.
func (p *pendingSignals) dequeueSpecific(sig linux.Signal) *linux.SignalInfo {
	if !p.pendingSet.Has(sig) {
		return nil
	}
	if sig.IsStandard() {
		info := p.standard[sig-linux.FirstStdSignal]
		p.standard[sig-linux.FirstStdSignal] = nil
		p.pendingSet &^= linux.SignalSetOf(sig)
		return info
	}
	i := sig - linux.FirstRTSignal
	q := p.realtime[i]
	info := q[0]
	q[0] = nil
	p.realtime[i] = q[1:]
	p.numRealtime--
	if len(p.realtime[i]) == 0 {
		p.realtime[i] = nil
		p.pendingSet &^= linux.SignalSetOf(sig)
	}
	return info
}

// discard removes all pending instances of sig.
func (p *pendingSignals) discard(sig linux.Signal) {
	if !p.pendingSet.Has(sig) {
		return
	}
	if sig.IsStandard() {
		p.standard[sig-linux.FirstStdSignal] = nil
	} else {
		i := sig - linux.FirstRTSignal
		p.numRealtime -= len(p.realtime[i])
		p.realtime[i] = nil
	}
	p.pendingSet &^= linux.SignalSetOf(sig)
}

// clear discards every pending signal.
func (p *pendingSignals) clear() {
	*p = pendingSignals{}
}
