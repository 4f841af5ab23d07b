// Copyright 2024 The gVisor Authors.
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

//go:build linux

package hosterr

import (
	"golang.org/x/sys/unix"
	"gvisor.dev/lacd/pkg/errors/linuxerr"
)

// hostPairs returns the errno table of a Linux host. The guest numbering is
// the host numbering, so every canonical guest error maps to itself.
func hostPairs() []pair {
	all := linuxerr.All()
	pairs := make([]pair, 0, len(all))
	for _, e := range all {
		pairs = append(pairs, pair{guest: e, host: unix.Errno(e.Errno())})
	}
	return pairs
}
