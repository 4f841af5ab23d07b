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
	"io"
	"sync"

	"gvisor.dev/lacd/pkg/abi/linux"
	"gvisor.dev/lacd/pkg/errors/linuxerr"
	"gvisor.dev/lacd/pkg/log"
	"gvisor.dev/lacd/pkg/metric"
	"gvisor.dev/lacd/pkg/sentry/kernel"
)

var (
	partialResultMetric = metric.MustCreateNewUint64Metric("/syscalls/partial_result", metric.Counter, "Number of read or write syscalls that returned a partial result after an error.")
	partialResultOnce   sync.Once
)

// handleIOError handles special error cases for partial results. For some
// errors, we may consume the error and return only the partial read/write.
//
// op is used only for logging.
func handleIOError(p *kernel.Process, partialResult bool, err, intr error, op string) error {
	switch err {
	case nil:
		return nil
	case io.EOF:
		// EOF is always consumed. If this is a partial read/write
		// (result != 0), the application will see that, otherwise
		// they will see 0.
		return nil
	case linuxerr.ErrInterrupted:
		// The syscall was interrupted. Return nil if it completed
		// partially, otherwise return the error code that the syscall
		// needs (to indicate to the kernel what it should do).
		if partialResult {
			return nil
		}
		return intr
	case linuxerr.EPIPE:
		// Writes to a pipe with no readers raise SIGPIPE in addition to
		// failing.
		if !partialResult && op == "write" {
			p.SendSignal(kernel.SignalInfoNoInfo(linux.SIGPIPE, p))
		}
	}

	if !partialResult {
		return err
	}

	partialResultMetric.Increment()
	partialResultOnce.Do(func() {
		log.Warningf("Partial result for %s after error: %v", op, err)
	})
	p.Debugf("%s partial result discarding error %v", op, err)
	return nil
}
