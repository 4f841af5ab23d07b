// Copyright 2021 The gVisor Authors.
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

	"gvisor.dev/lacd/pkg/abi/linux"
	"gvisor.dev/lacd/pkg/errors/linuxerr"
	"gvisor.dev/lacd/pkg/marshal"
	"gvisor.dev/lacd/pkg/marshal/primitive"
	"gvisor.dev/lacd/pkg/sentry/arch"
	"gvisor.dev/lacd/pkg/sentry/kernel"
	"gvisor.dev/lacd/pkg/sentry/kernel/ipc"
	"gvisor.dev/lacd/pkg/sentry/kernel/msgqueue"
)

// Msgget implements msgget(2).
func Msgget(p *kernel.Process, args arch.SyscallArguments) (uintptr, *kernel.SyscallControl, error) {
	key := ipc.Key(args[0].Int())
	flag := args[1].Int()

	private := key == linux.IPC_PRIVATE
	create := flag&linux.IPC_CREAT == linux.IPC_CREAT
	exclusive := flag&linux.IPC_EXCL == linux.IPC_EXCL
	mode := uint16(flag & 0777)

	r := p.Kernel().MsgQueueRegistry()
	queue, err := r.FindOrCreate(p.Credentials(), key, mode, private, create, exclusive)
	if err != nil {
		return 0, nil, err
	}
	return uintptr(queue.ID()), nil, nil
}

// Msgsnd implements msgsnd(2).
func Msgsnd(p *kernel.Process, args arch.SyscallArguments) (uintptr, *kernel.SyscallControl, error) {
	id := ipc.ID(args[0].Int())
	msgAddr := args[1].Pointer()
	size := args[2].Int64()
	flag := args[3].Int()

	if size < 0 || size > linux.MSGMAX {
		return 0, nil, linuxerr.EINVAL
	}

	wait := flag&linux.IPC_NOWAIT != linux.IPC_NOWAIT

	var mtype int64
	if _, err := marshal.CopyIn(p.MemoryManager(), msgAddr, (*primitive.Int64)(&mtype)); err != nil {
		return 0, nil, err
	}
	if mtype < 1 {
		return 0, nil, linuxerr.EINVAL
	}
	text := make([]byte, size)
	if _, err := p.MemoryManager().CopyInBytes(msgAddr+8, text); err != nil {
		return 0, nil, err
	}

	queue, err := p.Kernel().MsgQueueRegistry().FindByID(id)
	if err != nil {
		return 0, nil, err
	}

	msg := msgqueue.Message{
		Type: mtype,
		Text: text,
	}
	err = queue.Send(&msg, p, p.Credentials(), wait, int32(p.PID()))
	return 0, nil, linuxerr.ConvertIntr(err, linuxerr.ERESTARTNOHAND)
}

// Msgrcv implements msgrcv(2).
func Msgrcv(p *kernel.Process, args arch.SyscallArguments) (uintptr, *kernel.SyscallControl, error) {
	id := ipc.ID(args[0].Int())
	msgAddr := args[1].Pointer()
	size := args[2].Int64()
	mType := args[3].Int64()
	flag := args[4].Int()

	wait := flag&linux.IPC_NOWAIT != linux.IPC_NOWAIT
	except := flag&linux.MSG_EXCEPT == linux.MSG_EXCEPT
	truncate := flag&linux.MSG_NOERROR == linux.MSG_NOERROR

	if flag&linux.MSG_COPY == linux.MSG_COPY {
		// MSG_COPY requires CONFIG_CHECKPOINT_RESTORE, which is not
		// provided.
		return 0, nil, linuxerr.ENOSYS
	}
	if size < 0 || size > math.MaxInt32 {
		return 0, nil, linuxerr.EINVAL
	}

	queue, err := p.Kernel().MsgQueueRegistry().FindByID(id)
	if err != nil {
		return 0, nil, err
	}

	msg, err := queue.Receive(p, p.Credentials(), mType, size, wait, truncate, except, int32(p.PID()))
	if err != nil {
		return 0, nil, linuxerr.ConvertIntr(err, linuxerr.ERESTARTNOHAND)
	}

	if _, err := primitive.CopyInt64Out(p.MemoryManager(), msgAddr, msg.Type); err != nil {
		return 0, nil, err
	}
	if _, err := p.MemoryManager().CopyOutBytes(msgAddr+8, msg.Text); err != nil {
		return 0, nil, err
	}
	return uintptr(msg.Size()), nil, nil
}

// Msgctl implements msgctl(2).
func Msgctl(p *kernel.Process, args arch.SyscallArguments) (uintptr, *kernel.SyscallControl, error) {
	id := ipc.ID(args[0].Int())
	cmd := args[1].Int()
	buf := args[2].Pointer()

	creds := p.Credentials()
	r := p.Kernel().MsgQueueRegistry()

	switch cmd {
	case linux.IPC_RMID:
		return 0, nil, r.Remove(id, creds)

	case linux.IPC_SET:
		var ds linux.MsqidDS
		if _, err := marshal.CopyIn(p.MemoryManager(), buf, &ds); err != nil {
			return 0, nil, linuxerr.EINVAL
		}
		queue, err := r.FindByID(id)
		if err != nil {
			return 0, nil, err
		}
		return 0, nil, queue.Set(creds, &ds)

	case linux.IPC_STAT:
		queue, err := r.FindByID(id)
		if err != nil {
			return 0, nil, err
		}
		ds, err := queue.Stat(creds)
		if err != nil {
			return 0, nil, err
		}
		_, err = marshal.CopyOut(p.MemoryManager(), buf, ds)
		return 0, nil, err

	default:
		// MSG_STAT, MSG_STAT_ANY, IPC_INFO and MSG_INFO are not provided.
		return 0, nil, linuxerr.EINVAL
	}
}
