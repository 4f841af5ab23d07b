// Copyright 2019 The gVisor Authors.
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

package proc

import (
	"bytes"
	"fmt"
	"time"

	"gvisor.dev/lacd/pkg/hostarch"
	"gvisor.dev/lacd/pkg/sentry/kernel"
	"gvisor.dev/lacd/pkg/sentry/mm"
)

// clockTicks is USER_HZ, the unit of the time fields of /proc/[pid]/stat.
const clockTicks = 100

func toClockTicks(d time.Duration) int64 {
	return int64(d / (time.Second / clockTicks))
}

// stateStatus returns the state letter and description used in
// /proc/[pid]/stat and /proc/[pid]/status.
func stateStatus(p *kernel.Process) string {
	if p.Stopped() {
		return "T (stopped)"
	}
	switch p.State() {
	case kernel.ProcessBlocked:
		return "S (sleeping)"
	case kernel.ProcessZombie:
		return "Z (zombie)"
	default:
		return "R (running)"
	}
}

// copyInRange returns the guest memory in ar, or nil if the process has no
// address space.
func copyInRange(p *kernel.Process, ar func(mm.Metadata) hostarch.AddrRange) []byte {
	m := p.MemoryManager()
	if m == nil {
		return nil
	}
	r := ar(m.Metadata())
	if r.Length() == 0 {
		return nil
	}
	buf := make([]byte, r.Length())
	n, _ := m.CopyInBytes(r.Start, buf)
	return buf[:n]
}

// cmdline backs /proc/[pid]/cmdline.
func cmdline(p *kernel.Process) generator {
	return func(buf *bytes.Buffer) error {
		buf.Write(copyInRange(p, func(md mm.Metadata) hostarch.AddrRange { return md.Argv }))
		return nil
	}
}

// environ backs /proc/[pid]/environ.
func environ(p *kernel.Process) generator {
	return func(buf *bytes.Buffer) error {
		buf.Write(copyInRange(p, func(md mm.Metadata) hostarch.AddrRange { return md.Envv }))
		return nil
	}
}

// comm backs /proc/[pid]/comm.
func comm(p *kernel.Process) generator {
	return func(buf *bytes.Buffer) error {
		buf.WriteString(p.Name())
		buf.WriteString("\n")
		return nil
	}
}

// maps backs /proc/[pid]/maps.
func maps(p *kernel.Process) generator {
	return func(buf *bytes.Buffer) error {
		if m := p.MemoryManager(); m != nil {
			buf.Write(m.MapsText())
		}
		return nil
	}
}

// stat backs /proc/[pid]/stat.
func stat(p *kernel.Process) generator {
	return func(buf *bytes.Buffer) error {
		var vss, rss uint64
		if m := p.MemoryManager(); m != nil {
			vss = m.VirtualMemorySize()
			rss = m.ResidentSetSize()
		}
		cpu := toClockTicks(time.Since(p.StartTime()))
		fmt.Fprintf(buf, "%d ", p.PID())
		fmt.Fprintf(buf, "(%s) ", p.Name())
		fmt.Fprintf(buf, "%c ", stateStatus(p)[0])
		fmt.Fprintf(buf, "%d ", p.PPID())
		fmt.Fprintf(buf, "%d ", p.ProcessGroupID())
		fmt.Fprintf(buf, "%d ", p.SessionID())
		fmt.Fprintf(buf, "0 0 " /* tty_nr tpgid */)
		fmt.Fprintf(buf, "0 " /* flags */)
		fmt.Fprintf(buf, "0 0 0 0 " /* minflt cminflt majflt cmajflt */)
		fmt.Fprintf(buf, "%d 0 " /* utime stime */, cpu)
		fmt.Fprintf(buf, "0 0 " /* cutime cstime */)
		fmt.Fprintf(buf, "20 0 " /* priority nice */)
		fmt.Fprintf(buf, "1 " /* num_threads */)
		fmt.Fprintf(buf, "0 " /* itrealvalue */)
		fmt.Fprintf(buf, "%d ", toClockTicks(p.StartTime().Sub(p.Kernel().BootTime())))
		fmt.Fprintf(buf, "%d %d ", vss, rss/hostarch.PageSize)
		// rsslim onwards: not tracked.
		buf.WriteString("0 0 0 0 0 0 0 0 0 0 0 0 0 0 0 0 0 0 0 0 0 0 0 0 0 0 0 0\n")
		return nil
	}
}

// status backs /proc/[pid]/status.
func status(p *kernel.Process) generator {
	return func(buf *bytes.Buffer) error {
		fmt.Fprintf(buf, "Name:\t%s\n", p.Name())
		fmt.Fprintf(buf, "State:\t%s\n", stateStatus(p))
		fmt.Fprintf(buf, "Tgid:\t%d\n", p.PID())
		fmt.Fprintf(buf, "Pid:\t%d\n", p.PID())
		fmt.Fprintf(buf, "PPid:\t%d\n", p.PPID())
		fmt.Fprintf(buf, "TracerPid:\t0\n")
		c := p.Credentials()
		fmt.Fprintf(buf, "Uid:\t%d\t%d\t%d\t%d\n", c.RealKUID, c.EffectiveKUID, c.SavedKUID, c.EffectiveKUID)
		fmt.Fprintf(buf, "Gid:\t%d\t%d\t%d\t%d\n", c.RealKGID, c.EffectiveKGID, c.SavedKGID, c.EffectiveKGID)
		var fds int
		if t := p.FDTable(); t != nil {
			fds = t.Size()
		}
		fmt.Fprintf(buf, "FDSize:\t%d\n", fds)
		if m := p.MemoryManager(); m != nil {
			buf.WriteString(m.StatusText())
		}
		fmt.Fprintf(buf, "Threads:\t1\n")
		fmt.Fprintf(buf, "SigPnd:\t%016x\n", uint64(p.PendingSignals()))
		fmt.Fprintf(buf, "SigBlk:\t%016x\n", uint64(p.SignalMask()))
		return nil
	}
}
