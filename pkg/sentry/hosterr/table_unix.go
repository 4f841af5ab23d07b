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

//go:build unix && !linux

package hosterr

import (
	"golang.org/x/sys/unix"
	"gvisor.dev/lacd/pkg/errors/linuxerr"
)

// hostPairs returns the errno table of a non-Linux unix host. Only errors
// defined by POSIX and the BSDs have host counterparts.
func hostPairs() []pair {
	return []pair{
		{linuxerr.EPERM, unix.EPERM},
		{linuxerr.ENOENT, unix.ENOENT},
		{linuxerr.ESRCH, unix.ESRCH},
		{linuxerr.EINTR, unix.EINTR},
		{linuxerr.EIO, unix.EIO},
		{linuxerr.ENXIO, unix.ENXIO},
		{linuxerr.E2BIG, unix.E2BIG},
		{linuxerr.ENOEXEC, unix.ENOEXEC},
		{linuxerr.EBADF, unix.EBADF},
		{linuxerr.ECHILD, unix.ECHILD},
		{linuxerr.EAGAIN, unix.EAGAIN},
		{linuxerr.ENOMEM, unix.ENOMEM},
		{linuxerr.EACCES, unix.EACCES},
		{linuxerr.EFAULT, unix.EFAULT},
		{linuxerr.ENOTBLK, unix.ENOTBLK},
		{linuxerr.EBUSY, unix.EBUSY},
		{linuxerr.EEXIST, unix.EEXIST},
		{linuxerr.EXDEV, unix.EXDEV},
		{linuxerr.ENODEV, unix.ENODEV},
		{linuxerr.ENOTDIR, unix.ENOTDIR},
		{linuxerr.EISDIR, unix.EISDIR},
		{linuxerr.EINVAL, unix.EINVAL},
		{linuxerr.ENFILE, unix.ENFILE},
		{linuxerr.EMFILE, unix.EMFILE},
		{linuxerr.ENOTTY, unix.ENOTTY},
		{linuxerr.ETXTBSY, unix.ETXTBSY},
		{linuxerr.EFBIG, unix.EFBIG},
		{linuxerr.ENOSPC, unix.ENOSPC},
		{linuxerr.ESPIPE, unix.ESPIPE},
		{linuxerr.EROFS, unix.EROFS},
		{linuxerr.EMLINK, unix.EMLINK},
		{linuxerr.EPIPE, unix.EPIPE},
		{linuxerr.EDOM, unix.EDOM},
		{linuxerr.ERANGE, unix.ERANGE},
		{linuxerr.EDEADLK, unix.EDEADLK},
		{linuxerr.ENAMETOOLONG, unix.ENAMETOOLONG},
		{linuxerr.ENOLCK, unix.ENOLCK},
		{linuxerr.ENOSYS, unix.ENOSYS},
		{linuxerr.ENOTEMPTY, unix.ENOTEMPTY},
		{linuxerr.ELOOP, unix.ELOOP},
		{linuxerr.ENOMSG, unix.ENOMSG},
		{linuxerr.EIDRM, unix.EIDRM},
		{linuxerr.ENOLINK, unix.ENOLINK},
		{linuxerr.EPROTO, unix.EPROTO},
		{linuxerr.EMULTIHOP, unix.EMULTIHOP},
		{linuxerr.EBADMSG, unix.EBADMSG},
		{linuxerr.EOVERFLOW, unix.EOVERFLOW},
		{linuxerr.EILSEQ, unix.EILSEQ},
		{linuxerr.EUSERS, unix.EUSERS},
		{linuxerr.ENOTSOCK, unix.ENOTSOCK},
		{linuxerr.EDESTADDRREQ, unix.EDESTADDRREQ},
		{linuxerr.EMSGSIZE, unix.EMSGSIZE},
		{linuxerr.EPROTOTYPE, unix.EPROTOTYPE},
		{linuxerr.ENOPROTOOPT, unix.ENOPROTOOPT},
		{linuxerr.EPROTONOSUPPORT, unix.EPROTONOSUPPORT},
		{linuxerr.ESOCKTNOSUPPORT, unix.ESOCKTNOSUPPORT},
		{linuxerr.EOPNOTSUPP, unix.EOPNOTSUPP},
		{linuxerr.EPFNOSUPPORT, unix.EPFNOSUPPORT},
		{linuxerr.EAFNOSUPPORT, unix.EAFNOSUPPORT},
		{linuxerr.EADDRINUSE, unix.EADDRINUSE},
		{linuxerr.EADDRNOTAVAIL, unix.EADDRNOTAVAIL},
		{linuxerr.ENETDOWN, unix.ENETDOWN},
		{linuxerr.ENETUNREACH, unix.ENETUNREACH},
		{linuxerr.ENETRESET, unix.ENETRESET},
		{linuxerr.ECONNABORTED, unix.ECONNABORTED},
		{linuxerr.ECONNRESET, unix.ECONNRESET},
		{linuxerr.ENOBUFS, unix.ENOBUFS},
		{linuxerr.EISCONN, unix.EISCONN},
		{linuxerr.ENOTCONN, unix.ENOTCONN},
		{linuxerr.ESHUTDOWN, unix.ESHUTDOWN},
		{linuxerr.ETOOMANYREFS, unix.ETOOMANYREFS},
		{linuxerr.ETIMEDOUT, unix.ETIMEDOUT},
		{linuxerr.ECONNREFUSED, unix.ECONNREFUSED},
		{linuxerr.EHOSTDOWN, unix.EHOSTDOWN},
		{linuxerr.EHOSTUNREACH, unix.EHOSTUNREACH},
		{linuxerr.EALREADY, unix.EALREADY},
		{linuxerr.EINPROGRESS, unix.EINPROGRESS},
		{linuxerr.ESTALE, unix.ESTALE},
		{linuxerr.EREMOTE, unix.EREMOTE},
		{linuxerr.EDQUOT, unix.EDQUOT},
		{linuxerr.ECANCELED, unix.ECANCELED},
		{linuxerr.EOWNERDEAD, unix.EOWNERDEAD},
		{linuxerr.ENOTRECOVERABLE, unix.ENOTRECOVERABLE},
	}
}
