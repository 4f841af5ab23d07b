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
	"gvisor.dev/lacd/pkg/hostarch"
	"gvisor.dev/lacd/pkg/marshal"
	"gvisor.dev/lacd/pkg/marshal/primitive"
	"gvisor.dev/lacd/pkg/sentry/arch"
	"gvisor.dev/lacd/pkg/sentry/kernel"
	"gvisor.dev/lacd/pkg/sentry/kernel/ipc"
	"gvisor.dev/lacd/pkg/sentry/kernel/semaphore"
)

const opsMax = linux.SEMOPM

// Semget handles: semget(key_t key, int nsems, int semflg)
func Semget(p *kernel.Process, args arch.SyscallArguments) (uintptr, *kernel.SyscallControl, error) {
	key := ipc.Key(args[0].Int())
	nsems := args[1].Int()
	flag := args[2].Int()

	private := key == linux.IPC_PRIVATE
	create := flag&linux.IPC_CREAT == linux.IPC_CREAT
	exclusive := flag&linux.IPC_EXCL == linux.IPC_EXCL
	mode := uint16(flag & 0777)

	r := p.Kernel().SemaphoreRegistry()
	set, err := r.FindOrCreate(p.Credentials(), key, nsems, mode, private, create, exclusive)
	if err != nil {
		return 0, nil, err
	}
	return uintptr(set.ID()), nil, nil
}

// Semtimedop handles: semop(int semid, struct sembuf *sops, size_t nsops, const struct timespec *timeout)
func Semtimedop(p *kernel.Process, args arch.SyscallArguments) (uintptr, *kernel.SyscallControl, error) {
	// If the timeout argument is NULL, then semtimedop() behaves exactly like semop().
	if args[3].Pointer() == 0 {
		return Semop(p, args)
	}

	id := ipc.ID(args[0].Int())
	sembufAddr := args[1].Pointer()
	nsops := args[2].SizeT()
	timespecAddr := args[3].Pointer()

	ops, err := copyInSembufs(p, sembufAddr, nsops)
	if err != nil {
		return 0, nil, err
	}

	timeout, err := copyTimespecIn(p, timespecAddr)
	if err != nil {
		return 0, nil, err
	}
	if !timeout.Valid() {
		return 0, nil, linuxerr.EINVAL
	}

	if err := semTimedOp(p, id, ops, true, timeout.ToDuration()); err != nil {
		if err == linuxerr.ErrDeadlineExceeded {
			return 0, nil, linuxerr.EAGAIN
		}
		return 0, nil, err
	}
	return 0, nil, nil
}

// Semop handles: semop(int semid, struct sembuf *sops, size_t nsops)
func Semop(p *kernel.Process, args arch.SyscallArguments) (uintptr, *kernel.SyscallControl, error) {
	id := ipc.ID(args[0].Int())
	sembufAddr := args[1].Pointer()
	nsops := args[2].SizeT()

	ops, err := copyInSembufs(p, sembufAddr, nsops)
	if err != nil {
		return 0, nil, err
	}
	return 0, nil, semTimedOp(p, id, ops, false, time.Second)
}

func copyInSembufs(p *kernel.Process, addr hostarch.Addr, nsops uint) ([]linux.Sembuf, error) {
	if nsops <= 0 {
		return nil, linuxerr.EINVAL
	}
	if nsops > opsMax {
		return nil, linuxerr.E2BIG
	}

	ops := make([]linux.Sembuf, nsops)
	if _, err := marshal.CopySliceIn(p.MemoryManager(), addr, ops); err != nil {
		return nil, err
	}
	return ops, nil
}

func semTimedOp(p *kernel.Process, id ipc.ID, ops []linux.Sembuf, haveTimeout bool, timeout time.Duration) error {
	set := p.Kernel().SemaphoreRegistry().FindByID(id)

	if set == nil {
		return linuxerr.EINVAL
	}
	creds := p.Credentials()
	pid := int32(p.PID())
	w, err := set.ExecuteOps(ops, creds, pid)
	if err == linuxerr.ErrWouldBlock {
		return linuxerr.EAGAIN
	}
	if w == nil || err != nil {
		return err
	}
	if _, err := p.BlockWithTimeout(w.C(), haveTimeout, timeout); err != nil {
		if done, opErr := set.AbortWait(w); done {
			// The operations were applied before the wait was abandoned.
			return opErr
		}
		return err
	}
	return w.Err()
}

// Semctl handles: semctl(int semid, int semnum, int cmd, ...)
func Semctl(p *kernel.Process, args arch.SyscallArguments) (uintptr, *kernel.SyscallControl, error) {
	id := ipc.ID(args[0].Int())
	num := args[1].Int()
	cmd := args[2].Int()

	switch cmd {
	case linux.SETVAL:
		val := args[3].Int()
		return 0, nil, setVal(p, id, num, val)

	case linux.SETALL:
		array := args[3].Pointer()
		return 0, nil, setValAll(p, id, array)

	case linux.GETVAL:
		v, err := getVal(p, id, num)
		return uintptr(v), nil, err

	case linux.GETALL:
		array := args[3].Pointer()
		return 0, nil, getValAll(p, id, array)

	case linux.IPC_RMID:
		return 0, nil, p.Kernel().SemaphoreRegistry().Remove(id, p.Credentials())

	case linux.IPC_SET:
		arg := args[3].Pointer()
		var s linux.SemidDS
		if _, err := marshal.CopyIn(p.MemoryManager(), arg, &s); err != nil {
			return 0, nil, err
		}
		set, err := findSemSet(p, id)
		if err != nil {
			return 0, nil, err
		}
		return 0, nil, set.Set(p.Credentials(), &s)

	case linux.GETPID:
		v, err := getPID(p, id, num)
		return uintptr(v), nil, err

	case linux.IPC_STAT:
		arg := args[3].Pointer()
		set, err := findSemSet(p, id)
		if err != nil {
			return 0, nil, err
		}
		ds, err := set.GetStat(p.Credentials())
		if err == nil {
			_, err = marshal.CopyOut(p.MemoryManager(), arg, ds)
		}
		return 0, nil, err

	case linux.GETZCNT:
		set, err := findSemSet(p, id)
		if err != nil {
			return 0, nil, err
		}
		v, err := set.CountZeroWaiters(num, p.Credentials())
		return uintptr(v), nil, err

	case linux.GETNCNT:
		set, err := findSemSet(p, id)
		if err != nil {
			return 0, nil, err
		}
		v, err := set.CountNegativeWaiters(num, p.Credentials())
		return uintptr(v), nil, err

	default:
		return 0, nil, linuxerr.EINVAL
	}
}

func findSemSet(p *kernel.Process, id ipc.ID) (*semaphore.Set, error) {
	set := p.Kernel().SemaphoreRegistry().FindByID(id)
	if set == nil {
		return nil, linuxerr.EINVAL
	}
	return set, nil
}

func setVal(p *kernel.Process, id ipc.ID, num int32, val int32) error {
	set, err := findSemSet(p, id)
	if err != nil {
		return err
	}
	return set.SetVal(num, val, p.Credentials(), int32(p.PID()))
}

func setValAll(p *kernel.Process, id ipc.ID, array hostarch.Addr) error {
	set, err := findSemSet(p, id)
	if err != nil {
		return err
	}
	vals := make([]uint16, set.Size())
	if _, err := primitive.CopyUint16SliceIn(p.MemoryManager(), array, vals); err != nil {
		return err
	}
	return set.SetValAll(vals, p.Credentials(), int32(p.PID()))
}

func getVal(p *kernel.Process, id ipc.ID, num int32) (int16, error) {
	set, err := findSemSet(p, id)
	if err != nil {
		return 0, err
	}
	return set.GetVal(num, p.Credentials())
}

func getValAll(p *kernel.Process, id ipc.ID, array hostarch.Addr) error {
	set, err := findSemSet(p, id)
	if err != nil {
		return err
	}
	vals, err := set.GetValAll(p.Credentials())
	if err != nil {
		return err
	}
	_, err = primitive.CopyUint16SliceOut(p.MemoryManager(), array, vals)
	return err
}

func getPID(p *kernel.Process, id ipc.ID, num int32) (int32, error) {
	set, err := findSemSet(p, id)
	if err != nil {
		return 0, err
	}
	pid, err := set.GetPID(num, p.Credentials())
	if err != nil {
		return 0, err
	}
	// The last operating process may have exited since.
	if p.Kernel().ProcessWithID(kernel.ThreadID(pid)) == nil {
		return 0, nil
	}
	return pid, nil
}
