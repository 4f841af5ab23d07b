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

// Package hosterr translates errors between the guest ABI and the host
// kernel.
//
// The mapping is total in both directions. Guest errors without a host
// counterpart are reported to the host as EIO, and host errors without a
// guest counterpart are reported to the guest as Fallback. Every fallback is
// counted and logged, rate limited.
package hosterr

import (
	"context"
	goerrors "errors"
	"io"
	"io/fs"
	"os"
	"time"

	"golang.org/x/sys/unix"
	"gvisor.dev/lacd/pkg/abi/linux/errno"
	"gvisor.dev/lacd/pkg/errors"
	"gvisor.dev/lacd/pkg/errors/linuxerr"
	"gvisor.dev/lacd/pkg/log"
	"gvisor.dev/lacd/pkg/metric"
)

// Fallback is the guest error reported for host errors that have no guest
// counterpart.
var Fallback = linuxerr.EIO

var (
	fallbackLog = log.BasicRateLimitedLogger(10 * time.Second)

	fallbackCount = metric.MustCreateNewUint64Metric("/errno/fallbacks", metric.Counter,
		"Host errors that had no guest errno and were reported as EIO.",
		metric.NewField("direction", []string{"to_guest", "to_host"}))
)

// table is a bidirectional errno table. It is built once at init time and
// read without locking.
type table struct {
	toGuest map[unix.Errno]*errors.Error
	toHost  map[errno.Errno]unix.Errno
}

func newTable(pairs []pair) *table {
	t := &table{
		toGuest: make(map[unix.Errno]*errors.Error, len(pairs)),
		toHost:  make(map[errno.Errno]unix.Errno, len(pairs)),
	}
	for _, p := range pairs {
		if _, ok := t.toGuest[p.host]; ok {
			// Some hosts alias errno values (EWOULDBLOCK == EAGAIN). The
			// first guest error listed wins.
			continue
		}
		t.toGuest[p.host] = p.guest
		t.toHost[p.guest.Errno()] = p.host
	}
	return t
}

type pair struct {
	guest *errors.Error
	host  unix.Errno
}

var hostTable = newTable(hostPairs())

// ToHost returns the host errno for a guest error.
func ToHost(e *errors.Error) unix.Errno {
	if e == nil {
		return 0
	}
	if h, ok := hostTable.toHost[e.Errno()]; ok {
		return h
	}
	fallbackCount.Increment("to_host")
	fallbackLog.Warningf("Guest errno %d (%v) has no host counterpart, using EIO", e.Errno(), e)
	return unix.EIO
}

// FromHostErrno returns the guest error for a host errno. A zero errno
// returns nil.
func FromHostErrno(h unix.Errno) *errors.Error {
	if h == 0 {
		return nil
	}
	if e, ok := hostTable.toGuest[h]; ok {
		return e
	}
	fallbackCount.Increment("to_guest")
	fallbackLog.Warningf("Host errno %d (%v) has no guest counterpart, using %v", int(h), h, Fallback)
	return Fallback
}

// sentinels maps well-known Go errors that do not carry an errno.
var sentinels = []struct {
	target error
	guest  *errors.Error
}{
	{fs.ErrNotExist, linuxerr.ENOENT},
	{fs.ErrExist, linuxerr.EEXIST},
	{fs.ErrPermission, linuxerr.EACCES},
	{fs.ErrInvalid, linuxerr.EINVAL},
	{fs.ErrClosed, linuxerr.EBADF},
	{os.ErrDeadlineExceeded, linuxerr.ETIMEDOUT},
	{context.DeadlineExceeded, linuxerr.ETIMEDOUT},
	{context.Canceled, linuxerr.EINTR},
	{io.ErrUnexpectedEOF, linuxerr.EIO},
	{io.ErrShortWrite, linuxerr.EIO},
}

// FromHost converts any error returned by a host operation to a guest error.
// A nil error returns nil.
func FromHost(err error) *errors.Error {
	if err == nil {
		return nil
	}
	var e *errors.Error
	if goerrors.As(err, &e) {
		if t, ok := linuxerr.TranslateError(e); ok {
			return t
		}
		return e
	}
	var h unix.Errno
	if goerrors.As(err, &h) {
		return FromHostErrno(h)
	}
	for _, s := range sentinels {
		if goerrors.Is(err, s.target) {
			return s.guest
		}
	}
	fallbackCount.Increment("to_guest")
	fallbackLog.Warningf("Host error %q (%T) has no guest counterpart, using %v", err, err, Fallback)
	return Fallback
}

// Kind classifies a guest error for reporting.
type Kind int

// Error kinds.
const (
	KindNone Kind = iota
	KindABI
	KindResourceExhaustion
	KindNotSupported
	KindPermission
	KindNotFound
	KindInterrupted
	KindHostRejected
)

var kindNames = map[Kind]string{
	KindNone:               "none",
	KindABI:                "abi",
	KindResourceExhaustion: "resource_exhaustion",
	KindNotSupported:       "not_supported",
	KindPermission:         "permission",
	KindNotFound:           "not_found",
	KindInterrupted:        "interrupted",
	KindHostRejected:       "host_rejected",
}

// String implements fmt.Stringer.
func (k Kind) String() string { return kindNames[k] }

// KindNames returns the names of all kinds, for use as metric field values.
func KindNames() []string {
	names := make([]string, 0, len(kindNames))
	for k := KindNone; k <= KindHostRejected; k++ {
		names = append(names, kindNames[k])
	}
	return names
}

// Classify returns the kind of a guest error.
func Classify(e *errors.Error) Kind {
	if e == nil {
		return KindNone
	}
	switch e.Errno() {
	case errno.EFAULT, errno.EINVAL, errno.EBADF, errno.E2BIG, errno.ENAMETOOLONG, errno.ENOEXEC:
		return KindABI
	case errno.EAGAIN, errno.ENOMEM, errno.ENOSPC, errno.EMFILE, errno.ENFILE:
		return KindResourceExhaustion
	case errno.ENOSYS, errno.EOPNOTSUPP:
		return KindNotSupported
	case errno.EPERM, errno.EACCES:
		return KindPermission
	case errno.ENOENT, errno.ESRCH, errno.ECHILD, errno.EIDRM:
		return KindNotFound
	case errno.EINTR, errno.ERESTARTSYS, errno.ERESTARTNOINTR, errno.ERESTARTNOHAND, errno.ERESTART_RESTARTBLOCK:
		return KindInterrupted
	}
	return KindHostRejected
}
