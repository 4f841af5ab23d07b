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
	"math"
	"time"

	"github.com/shirou/gopsutil/v4/load"
	"github.com/shirou/gopsutil/v4/mem"
	"gvisor.dev/lacd/pkg/abi/linux"
	"gvisor.dev/lacd/pkg/marshal"
	"gvisor.dev/lacd/pkg/sentry/arch"
	"gvisor.dev/lacd/pkg/sentry/kernel"
)

// loadShift is SI_LOAD_SHIFT, the fixed-point scale of sysinfo.loads.
const loadShift = 16

// Sysinfo implements linux syscall sysinfo(2).
//
// Memory and load figures describe the host. Uptime and the process count
// describe the emulated kernel.
func Sysinfo(p *kernel.Process, args arch.SyscallArguments) (uintptr, *kernel.SyscallControl, error) {
	addr := args[0].Pointer()

	k := p.Kernel()
	si := linux.Sysinfo{
		Uptime: int64(time.Since(k.BootTime()) / time.Second),
		Procs:  uint16(min(k.ProcessCount(), math.MaxUint16)),
		Unit:   1,
	}
	if vm, err := mem.VirtualMemory(); err == nil {
		si.TotalRAM = vm.Total
		si.FreeRAM = vm.Free
		si.SharedRAM = vm.Shared
		si.BufferRAM = vm.Buffers
	} else {
		p.Debugf("sysinfo: reading host memory: %v", err)
	}
	if sm, err := mem.SwapMemory(); err == nil {
		si.TotalSwap = sm.Total
		si.FreeSwap = sm.Free
	}
	if avg, err := load.Avg(); err == nil {
		si.Loads = [3]uint64{
			uint64(avg.Load1 * (1 << loadShift)),
			uint64(avg.Load5 * (1 << loadShift)),
			uint64(avg.Load15 * (1 << loadShift)),
		}
	}

	_, err := marshal.CopyOut(p.MemoryManager(), addr, &si)
	return 0, nil, err
}
