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

// Package msgqueue implements System V message queues.
package msgqueue

import (
	"sync"
	"time"

	"gvisor.dev/lacd/pkg/abi/linux"
	"gvisor.dev/lacd/pkg/errors/linuxerr"
	"gvisor.dev/lacd/pkg/hostarch"
	"gvisor.dev/lacd/pkg/ilist"
	"gvisor.dev/lacd/pkg/sentry/kernel/auth"
	"gvisor.dev/lacd/pkg/sentry/kernel/ipc"
	"gvisor.dev/lacd/pkg/waiter"
)

const (
	// System-wide limit for maximum number of queues.
	maxQueues = linux.MSGMNI

	// Maximum size of a queue in bytes.
	maxQueueBytes = linux.MSGMNB

	// Maximum size of a message in bytes.
	maxMessageBytes = linux.MSGMAX
)

// Registry contains a set of message queues that can be referenced using keys
// or IDs.
type Registry struct {
	// mu protects all the fields below.
	mu sync.Mutex

	// reg defines basic fields and operations needed for all SysV registries.
	reg *ipc.Registry
}

// Queue represents a SysV message queue, described by sysvipc(7).
type Queue struct {
	// registry is the registry owning this queue. Immutable.
	registry *Registry

	// mu protects all the fields below.
	mu sync.Mutex

	// dead is set to true when a queue is removed from the registry and should
	// not be used. Operations on the queue should check dead, and return
	// EIDRM if set to true.
	dead bool

	// obj defines basic fields that should be included in all SysV IPC objects.
	obj *ipc.Object

	// senders holds a queue of blocked message senders. Senders are notified
	// when enough space is available in the queue to insert their message.
	senders waiter.Queue

	// receivers holds a queue of blocked receivers. Receivers are notified
	// when a new message is inserted into the queue and can be received.
	receivers waiter.Queue

	// messages is a list of sent messages.
	messages ilist.List[*Message]

	// sendTime is the last time a msgsnd was performed.
	sendTime time.Time

	// receiveTime is the last time a msgrcv was performed.
	receiveTime time.Time

	// changeTime is the last time the queue was modified using msgctl.
	changeTime time.Time

	// byteCount is the current number of message bytes in the queue.
	byteCount uint64

	// messageCount is the current number of messages in the queue.
	messageCount uint64

	// maxBytes is the maximum allowed number of bytes in the queue, and is also
	// used as a limit for the number of total possible messages.
	maxBytes uint64

	// sendPID is the PID of the process that performed the last msgsnd.
	sendPID int32

	// receivePID is the PID of the process that performed the last msgrcv.
	receivePID int32
}

// Message represents a message exchanged through a Queue via msgsnd(2) and
// msgrcv(2).
type Message struct {
	ilist.Entry[*Message]

	// Type is an integer representing the type of the sent message.
	Type int64

	// Text is an untyped block of memory.
	Text []byte
}

// Size returns the size of the message text.
func (m *Message) Size() uint64 {
	return uint64(len(m.Text))
}

// NewRegistry returns a new Registry ready to be used.
func NewRegistry() *Registry {
	return &Registry{
		reg: ipc.NewRegistry(),
	}
}

// FindOrCreate creates a new message queue or returns an existing one. See
// msgget(2).
func (r *Registry) FindOrCreate(creds *auth.Credentials, key ipc.Key, mode uint16, private, create, exclusive bool) (*Queue, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !private {
		queue, err := r.reg.Find(creds, key, mode, create, exclusive)
		if err != nil {
			return nil, err
		}

		if queue != nil {
			return queue.(*Queue), nil
		}
	}

	// Check system-wide limits.
	if r.reg.ObjectCount() >= maxQueues {
		return nil, linuxerr.ENOSPC
	}

	return r.newQueueLocked(key, ipc.OwnerFromCredentials(creds), mode, private)
}

// newQueueLocked creates a new queue using the given fields. An error is
// returned if there're no more available identifiers.
//
// Precondition: r.mu must be held.
func (r *Registry) newQueueLocked(key ipc.Key, creator ipc.Owner, mode uint16, private bool) (*Queue, error) {
	q := &Queue{
		registry:   r,
		obj:        ipc.NewObject(key, creator, mode),
		changeTime: time.Now(),
		maxBytes:   maxQueueBytes,
	}

	if err := r.reg.Register(q, private); err != nil {
		return nil, err
	}
	return q, nil
}

// Remove removes the queue with specified ID. All waiters (readers and
// writers) and writers will be awakened and fail. Remove will return an error
// if the ID is invalid, or the user doesn't have privileges.
func (r *Registry) Remove(id ipc.ID, creds *auth.Credentials) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.reg.Remove(id, creds)
}

// FindByID returns the queue with the specified ID and an error if the ID
// doesn't exist.
func (r *Registry) FindByID(id ipc.ID) (*Queue, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	mech := r.reg.FindByID(id)
	if mech == nil {
		return nil, linuxerr.EINVAL
	}
	return mech.(*Queue), nil
}

// Send appends a message to the message queue, and returns an error if sending
// fails. See msgsnd(2).
func (q *Queue) Send(m *Message, b waiter.Blocker, creds *auth.Credentials, wait bool, pid int32) error {
	// Try to perform a non-blocking send using queue.append. If EWOULDBLOCK
	// is returned, start the blocking operation unless IPC_NOWAIT was set.
	if !wait {
		err := q.append(m, creds, pid)
		if err == linuxerr.ErrWouldBlock {
			return linuxerr.EAGAIN
		}
		return err
	}
	return waiter.Retry(&q.senders, waiter.EventOut, b, linuxerr.ErrWouldBlock, func() error {
		return q.append(m, creds, pid)
	})
}

// append appends a message to the queue's message list and notifies waiting
// receivers that a message has been inserted. It returns an error if adding
// the message would exceed the queue's maximum capacity, which can be used as
// a signal to block the task. Other errors should be returned as is.
func (q *Queue) append(m *Message, creds *auth.Credentials, pid int32) error {
	if m.Type <= 0 {
		return linuxerr.EINVAL
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if !q.obj.CheckPermissions(creds, hostarch.Write) {
		// The calling process does not have write permission on the message
		// queue, and does not have the CAP_IPC_OWNER capability.
		return linuxerr.EACCES
	}

	// Queue was removed while the process was waiting.
	if q.dead {
		return linuxerr.EIDRM
	}

	if m.Size() > maxMessageBytes {
		return linuxerr.EINVAL
	}

	// Check if sufficient space is available (the queue isn't full.) From
	// the man pages:
	//
	// "A message queue is considered to be full if either of the following
	// conditions is true:
	//
	//  • Adding a new message to the queue would cause the total number
	//    of bytes in the queue to exceed the queue's maximum size (the
	//    msg_qbytes field).
	//
	//  • Adding another message to the queue would cause the total
	//    number of messages in the queue to exceed the queue's maximum
	//    size (the msg_qbytes field).  This check is necessary to
	//    prevent an unlimited number of zero-length messages being
	//    placed on the queue.  Although such messages contain no data,
	//    they nevertheless consume (locked) kernel memory."
	//
	// The msg_qbytes field in our implementation is q.maxBytes.
	if m.Size()+q.byteCount > q.maxBytes || q.messageCount+1 > q.maxBytes {
		return linuxerr.ErrWouldBlock
	}

	q.byteCount += m.Size()
	q.messageCount++
	q.sendPID = pid
	q.sendTime = time.Now()

	// Copy the message into the queue.
	q.messages.PushBack(m)

	// Notify receivers about the new message.
	q.receivers.Notify(waiter.EventIn)

	return nil
}

// Receive removes a message from the queue and returns it. See msgrcv(2).
func (q *Queue) Receive(b waiter.Blocker, creds *auth.Credentials, mType int64, maxSize int64, wait, truncate, except bool, pid int32) (*Message, error) {
	if maxSize < 0 {
		return nil, linuxerr.EINVAL
	}
	var msg *Message
	op := func() error {
		var err error
		msg, err = q.pop(creds, mType, maxSize, truncate, except, pid)
		return err
	}
	if !wait {
		err := op()
		if err == linuxerr.ErrWouldBlock {
			return nil, linuxerr.ENOMSG
		}
		return msg, err
	}
	if err := waiter.Retry(&q.receivers, waiter.EventIn, b, linuxerr.ErrWouldBlock, op); err != nil {
		return nil, err
	}
	return msg, nil
}

// pop pops the first message from the queue that matches the given type. It
// returns an error for all the cases specified in msgrcv(2). If the queue is
// empty or no message of the specified type is available, a EWOULDBLOCK error
// is returned, which can then be used as a signal to block the process or fail.
func (q *Queue) pop(creds *auth.Credentials, mType int64, maxSize int64, truncate, except bool, pid int32) (*Message, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if !q.obj.CheckPermissions(creds, hostarch.Read) {
		// The calling process does not have read permission on the message
		// queue, and does not have the CAP_IPC_OWNER capability.
		return nil, linuxerr.EACCES
	}

	// Queue was removed while the process was waiting.
	if q.dead {
		return nil, linuxerr.EIDRM
	}

	if q.messages.Empty() {
		return nil, linuxerr.ErrWouldBlock
	}

	// Get a message from the queue.
	var msg *Message
	switch {
	case mType == 0:
		msg = q.messages.Front()
	case mType > 0:
		msg = q.msgOfType(mType, except)
	case mType < 0:
		msg = q.msgOfTypeLessThan(-1 * mType)
	}

	// If no message exists, return a signal to block the process.
	if msg == nil {
		return nil, linuxerr.ErrWouldBlock
	}

	// Check message's size is acceptable. The full size is charged back
	// to the queue even if the message is truncated.
	size := msg.Size()
	if maxSize < int64(size) {
		if !truncate {
			return nil, linuxerr.E2BIG
		}
		msg.Text = msg.Text[:maxSize]
	}

	q.messages.Remove(msg)
	q.byteCount -= size
	q.messageCount--
	q.receivePID = pid
	q.receiveTime = time.Now()

	// Notify senders about available space.
	q.senders.Notify(waiter.EventOut)

	return msg, nil
}

// msgOfType returns the first message with the specified type, nil if no
// message is found. If except is true, the first message of a type not equal
// to mType will be returned.
//
// Precondition: caller must hold q.mu.
func (q *Queue) msgOfType(mType int64, except bool) *Message {
	for msg := q.messages.Front(); msg != nil; msg = msg.Next() {
		if (msg.Type == mType) != except {
			return msg
		}
	}
	return nil
}

// msgOfTypeLessThan return the first message with the lowest type less
// than or equal to mType, nil if no such message exists.
//
// Precondition: caller must hold q.mu.
func (q *Queue) msgOfTypeLessThan(mType int64) (m *Message) {
	for msg := q.messages.Front(); msg != nil; msg = msg.Next() {
		if msg.Type <= mType && (m == nil || msg.Type < m.Type) {
			m = msg
		}
	}
	return m
}

// Set modifies some values of the queue. See msgctl(IPC_SET).
func (q *Queue) Set(creds *auth.Credentials, ds *linux.MsqidDS) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if ds.MsgQbytes > maxQueueBytes && !creds.HasCapability(linux.CAP_SYS_RESOURCE) {
		// "An attempt (IPC_SET) was made to increase msg_qbytes beyond the
		// system parameter MSGMNB, but the caller is not privileged (Linux:
		// does not have the CAP_SYS_RESOURCE capability)."
		return linuxerr.EPERM
	}

	if err := q.obj.Set(creds, &ds.MsgPerm); err != nil {
		return err
	}

	q.maxBytes = ds.MsgQbytes
	q.changeTime = time.Now()
	// A larger limit may unblock senders.
	q.senders.Notify(waiter.EventOut)
	return nil
}

// Stat returns a MsqidDS object filled with information about the queue. See
// msgctl(IPC_STAT) and msgctl(MSG_STAT).
func (q *Queue) Stat(creds *auth.Credentials) (*linux.MsqidDS, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if !q.obj.CheckPermissions(creds, hostarch.Read) {
		// "The caller must have read permission on the message queue."
		return nil, linuxerr.EACCES
	}

	return &linux.MsqidDS{
		MsgPerm:   q.obj.Perm(),
		MsgStime:  unixTime(q.sendTime),
		MsgRtime:  unixTime(q.receiveTime),
		MsgCtime:  unixTime(q.changeTime),
		MsgCbytes: q.byteCount,
		MsgQnum:   q.messageCount,
		MsgQbytes: q.maxBytes,
		MsgLspid:  q.sendPID,
		MsgLrpid:  q.receivePID,
	}, nil
}

func unixTime(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.Unix()
}

// Lock implements ipc.Mechanism.Lock.
func (q *Queue) Lock() {
	q.mu.Lock()
}

// Unlock implements ipc.mechanism.Unlock.
func (q *Queue) Unlock() {
	q.mu.Unlock()
}

// Object implements ipc.Mechanism.Object.
func (q *Queue) Object() *ipc.Object {
	return q.obj
}

// Destroy implements ipc.Mechanism.Destroy.
//
// Precondition: q.mu must be held.
func (q *Queue) Destroy() {
	q.dead = true

	// Notify waiters. Senders and receivers will try to run, and return an
	// error (EIDRM). Waiters should remove themselves from the queue after
	// waking up.
	q.senders.Notify(waiter.EventOut)
	q.receivers.Notify(waiter.EventIn)
}

// ID returns queue's ID.
func (q *Queue) ID() ipc.ID {
	return q.obj.ID
}
