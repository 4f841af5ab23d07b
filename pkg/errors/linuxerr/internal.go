// Copyright 2021 The gVisor Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License"),;
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

package linuxerr

import (
	goerrors "errors"

	"gvisor.dev/lacd/pkg/abi/linux/errno"
	"gvisor.dev/lacd/pkg/errors"
)

// Internal errors. They carry an errno but are distinct values so that
// blocking code can recognize them; TranslateError maps them to the errno
// the guest sees.
var (
	// ErrWouldBlock is returned by pipes, message queues and semaphores
	// before parking the caller.
	ErrWouldBlock = errors.New(errno.EWOULDBLOCK, "request would block")

	// ErrInterrupted is returned if a request is interrupted before it can
	// complete.
	ErrInterrupted = errors.New(errno.EINTR, "request was interrupted")

	// ErrDeadlineExceeded is returned by a blocking request whose deadline
	// fired first.
	ErrDeadlineExceeded = errors.New(errno.ETIMEDOUT, "deadline exceeded")
)

var internalErrors = map[*errors.Error]*errors.Error{
	ErrWouldBlock:       EWOULDBLOCK,
	ErrInterrupted:      EINTR,
	ErrDeadlineExceeded: ETIMEDOUT,
}

// TranslateError returns the guest error carried by from, which may be
// wrapped. Internal errors are replaced by their public counterpart. It
// returns false if from carries no *errors.Error.
func TranslateError(from error) (*errors.Error, bool) {
	var e *errors.Error
	if !goerrors.As(from, &e) {
		return nil, false
	}
	if pub, ok := internalErrors[e]; ok {
		return pub, true
	}
	return e, true
}

// Restart errors never reach the guest. Signal delivery either turns them
// into EINTR or restarts the syscall:
//
//	ERESTARTSYS            EINTR for a handler without SA_RESTART
//	ERESTARTNOINTR         always restarted
//	ERESTARTNOHAND         EINTR for any handler
//	ERESTART_RESTARTBLOCK  EINTR for any handler, else the process's
//	                       registered restart function runs
var (
	ERESTARTSYS           = errors.New(errno.ERESTARTSYS, "to be restarted if SA_RESTART is set")
	ERESTARTNOINTR        = errors.New(errno.ERESTARTNOINTR, "to be restarted")
	ERESTARTNOHAND        = errors.New(errno.ERESTARTNOHAND, "to be restarted if no handler")
	ERESTART_RESTARTBLOCK = errors.New(errno.ERESTART_RESTARTBLOCK, "interrupted by signal")
)

var restartErrors = map[errno.Errno]*errors.Error{
	errno.ERESTARTSYS:           ERESTARTSYS,
	errno.ERESTARTNOINTR:        ERESTARTNOINTR,
	errno.ERESTARTNOHAND:        ERESTARTNOHAND,
	errno.ERESTART_RESTARTBLOCK: ERESTART_RESTARTBLOCK,
}

// IsRestartError returns true if err is one of the restart errors.
func IsRestartError(err error) bool {
	e, ok := err.(*errors.Error)
	return ok && restartErrors[e.Errno()] == e
}

// SyscallRestartErrorFromReturn returns the restart error encoded by rv, a
// syscall return register value.
func SyscallRestartErrorFromReturn(rv uintptr) (*errors.Error, bool) {
	if n := -int64(rv); n > 0 && n <= int64(^uint32(0)) {
		e, ok := restartErrors[errno.Errno(n)]
		return e, ok
	}
	return nil, false
}

// ConvertIntr returns intr if err is ErrInterrupted, and err otherwise.
func ConvertIntr(err, intr error) error {
	if err == ErrInterrupted {
		return intr
	}
	return err
}
