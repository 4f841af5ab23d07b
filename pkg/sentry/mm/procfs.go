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

package mm

import (
	"bytes"
	"fmt"
	"strings"
)

// MapsText returns the contents of /proc/[pid]/maps for mm.
func (mm *MemoryManager) MapsText() []byte {
	mm.mu.RLock()
	defer mm.mu.RUnlock()

	var b bytes.Buffer
	mm.regions.Ascend(func(r *Region) bool {
		mapsEntry(&b, r)
		return true
	})
	return b.Bytes()
}

func mapsEntry(b *bytes.Buffer, r *Region) {
	private := "p"
	if !r.Private {
		private = "s"
	}
	start := b.Len()
	fmt.Fprintf(b, "%08x-%08x %s%s %08x 00:00 0 ", uint64(r.Start), uint64(r.End()), r.Perms, private, r.Offset)
	if r.Name != "" {
		// Per linux, we pad until the 74th character.
		if pad := 73 - (b.Len() - start); pad > 0 {
			b.WriteString(strings.Repeat(" ", pad))
		}
		b.WriteString(r.Name)
	}
	b.WriteString("\n")
}

// StatusText returns the memory lines of /proc/[pid]/status.
func (mm *MemoryManager) StatusText() string {
	return fmt.Sprintf("VmSize:\t%8d kB\nVmRSS:\t%8d kB\n", mm.VirtualMemorySize()>>10, mm.ResidentSetSize()>>10)
}
