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

package linux

import (
	"time"

	"gvisor.dev/lacd/pkg/abi/linux"
	"gvisor.dev/lacd/pkg/errors/linuxerr"
	"gvisor.dev/lacd/pkg/marshal"
	"gvisor.dev/lacd/pkg/sentry/arch"
	"gvisor.dev/lacd/pkg/sentry/kernel"
	"gvisor.dev/lacd/pkg/sentry/limits"
)

// rlimit describes an implementation of 'struct rlimit', which may vary from
// system-to-system.
type rlimit interface {
	marshal.Marshallable

	// toLimit converts an rlimit to a limits.Limit.
	toLimit() *limits.Limit

	// fromLimit converts a limits.Limit to an rlimit.
	fromLimit(lim limits.Limit)
}

// rlimit64 is equivalent to struct rlimit64 in linux/include/uapi/linux/resource.h.
type rlimit64 struct {
	linux.Rlimit
}

func (r *rlimit64) toLimit() *limits.Limit {
	return &limits.Limit{
		Cur: limits.FromLinux(r.Cur),
		Max: limits.FromLinux(r.Max),
	}
}

func (r *rlimit64) fromLimit(lim limits.Limit) {
	r.Cur = limits.ToLinux(lim.Cur)
	r.Max = limits.ToLinux(lim.Max)
}

func newRlimit() rlimit {
	return &rlimit64{}
}

// setableLimits is the set of supported setable limits.
var setableLimits = map[limits.LimitType]struct{}{
	limits.NumberOfFiles:     {},
	limits.AS:                {},
	limits.CPU:               {},
	limits.Data:              {},
	limits.FileSize:          {},
	limits.MemoryPagesLocked: {},
	limits.Stack:             {},
	limits.Core:              {},
	limits.ProcessCount:      {},
}

// maxNROpen is the default value of /proc/sys/fs/nr_open, the upper bound
// of RLIMIT_NOFILE.
const maxNROpen = 1 << 20

func getrlimit(p *kernel.Process, resource limits.LimitType) limits.Limit {
	return p.Limits().Get(resource)
}

// setrlimit sets target's limit on behalf of caller and returns the old
// limit.
func setrlimit(caller, target *kernel.Process, resource limits.LimitType, newLim limits.Limit) (limits.Limit, error) {
	if _, ok := setableLimits[resource]; !ok {
		return limits.Limit{}, linuxerr.EPERM
	}
	if resource == limits.NumberOfFiles && newLim.Max != limits.Infinity && newLim.Max > maxNROpen {
		return limits.Limit{}, linuxerr.EPERM
	}
	if newLim.Cur > newLim.Max {
		return limits.Limit{}, linuxerr.EINVAL
	}
	privileged := caller.Credentials().HasCapability(linux.CAP_SYS_RESOURCE)
	return target.Limits().Set(resource, newLim, privileged)
}

// Getrlimit implements linux syscall getrlimit(2).
func Getrlimit(p *kernel.Process, args arch.SyscallArguments) (uintptr, *kernel.SyscallControl, error) {
	resource, ok := limits.FromLinuxResource[int(args[0].Int())]
	if !ok {
		// Return err; unknown limit.
		return 0, nil, linuxerr.EINVAL
	}
	addr := args[1].Pointer()
	r := newRlimit()
	lim := getrlimit(p, resource)
	r.fromLimit(lim)
	_, err := marshal.CopyOut(p.MemoryManager(), addr, r)
	return 0, nil, err
}

// Setrlimit implements linux syscall setrlimit(2).
func Setrlimit(p *kernel.Process, args arch.SyscallArguments) (uintptr, *kernel.SyscallControl, error) {
	resource, ok := limits.FromLinuxResource[int(args[0].Int())]
	if !ok {
		// Return err; unknown limit.
		return 0, nil, linuxerr.EINVAL
	}
	addr := args[1].Pointer()
	rlim := newRlimit()
	if _, err := marshal.CopyIn(p.MemoryManager(), addr, rlim); err != nil {
		return 0, nil, linuxerr.EFAULT
	}
	_, err := setrlimit(p, p, resource, *rlim.toLimit())
	return 0, nil, err
}

// Prlimit64 implements linux syscall prlimit64(2).
func Prlimit64(p *kernel.Process, args arch.SyscallArguments) (uintptr, *kernel.SyscallControl, error) {
	pid := kernel.ThreadID(args[0].Int())
	resource, ok := limits.FromLinuxResource[int(args[1].Int())]
	if !ok {
		// Return err; unknown limit.
		return 0, nil, linuxerr.EINVAL
	}
	newRlimAddr := args[2].Pointer()
	oldRlimAddr := args[3].Pointer()

	var newLim *limits.Limit
	if newRlimAddr != 0 {
		var nrl rlimit64
		if _, err := marshal.CopyIn(p.MemoryManager(), newRlimAddr, &nrl); err != nil {
			return 0, nil, linuxerr.EFAULT
		}
		newLim = nrl.toLimit()
	}

	target := p
	if pid != 0 && pid != p.PID() {
		target = p.Kernel().ProcessWithID(pid)
		if target == nil {
			return 0, nil, linuxerr.ESRCH
		}

		// "To set or get the resources of a process other than itself, the
		// caller must have the CAP_SYS_RESOURCE capability, or the real,
		// effective, and saved set user IDs of the target process must
		// match the real user ID of the caller and the real, effective,
		// and saved set group IDs of the target process must match the
		// real group ID of the caller."
		c, tc := p.Credentials(), target.Credentials()
		if !c.HasCapability(linux.CAP_SYS_RESOURCE) {
			if c.RealKUID != tc.RealKUID || c.RealKUID != tc.EffectiveKUID || c.RealKUID != tc.SavedKUID ||
				c.RealKGID != tc.RealKGID || c.RealKGID != tc.EffectiveKGID || c.RealKGID != tc.SavedKGID {
				return 0, nil, linuxerr.EPERM
			}
		}
	}

	oldLim := getrlimit(target, resource)
	if newLim != nil {
		var err error
		if oldLim, err = setrlimit(p, target, resource, *newLim); err != nil {
			return 0, nil, err
		}
	}

	if oldRlimAddr != 0 {
		var orl rlimit64
		orl.fromLimit(oldLim)
		if _, err := marshal.CopyOut(p.MemoryManager(), oldRlimAddr, &orl); err != nil {
			return 0, nil, linuxerr.EFAULT
		}
	}

	return 0, nil, nil
}

// getrusage returns the resource usage of p for which. CPU time is not
// observable by the daemon, so user time is approximated by the time p has
// existed.
func getrusage(p *kernel.Process, which int32) linux.Rusage {
	var r linux.Rusage
	switch which {
	case linux.RUSAGE_SELF, linux.RUSAGE_THREAD:
		r.UTime = linux.DurationToTimeval(time.Since(p.StartTime()))
		r.MaxRSS = int64(p.MemoryManager().ResidentSetSize() / 1024)
	}
	return r
}

// Getrusage implements linux syscall getrusage(2).
//
//	marked "y" are supported now
//	marked "*" are not used on Linux
//	marked "p" are pending for support
//
//	y    struct timeval ru_utime; /* user CPU time used */
//	y    struct timeval ru_stime; /* system CPU time used */
//	y    long   ru_maxrss;        /* maximum resident set size */
//	*    long   ru_ixrss;         /* integral shared memory size */
//	*    long   ru_idrss;         /* integral unshared data size */
//	*    long   ru_isrss;         /* integral unshared stack size */
//	p    long   ru_minflt;        /* page reclaims (soft page faults) */
//	p    long   ru_majflt;        /* page faults (hard page faults) */
//	*    long   ru_nswap;         /* swaps */
//	p    long   ru_inblock;       /* block input operations */
//	p    long   ru_oublock;       /* block output operations */
//	*    long   ru_msgsnd;        /* IPC messages sent */
//	*    long   ru_msgrcv;        /* IPC messages received */
//	*    long   ru_nsignals;      /* signals received */
//	p    long   ru_nvcsw;         /* voluntary context switches */
//	p    long   ru_nivcsw;        /* involuntary context switches */
func Getrusage(p *kernel.Process, args arch.SyscallArguments) (uintptr, *kernel.SyscallControl, error) {
	which := args[0].Int()
	addr := args[1].Pointer()

	if which != linux.RUSAGE_SELF && which != linux.RUSAGE_CHILDREN && which != linux.RUSAGE_THREAD {
		return 0, nil, linuxerr.EINVAL
	}

	ru := getrusage(p, which)
	_, err := marshal.CopyOut(p.MemoryManager(), addr, &ru)
	return 0, nil, err
}
