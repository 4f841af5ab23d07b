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

package msgqueue

import (
	"testing"
	"time"

	"gvisor.dev/lacd/pkg/abi/linux"
	"gvisor.dev/lacd/pkg/errors/linuxerr"
	"gvisor.dev/lacd/pkg/sentry/kernel/auth"
	"gvisor.dev/lacd/pkg/waiter"
)

var creds = auth.NewUserCredentials(1000, 1000)

func newQueue(t *testing.T) *Queue {
	t.Helper()
	q, err := NewRegistry().FindOrCreate(creds, linux.IPC_PRIVATE, 0600, true, true, false)
	if err != nil {
		t.Fatalf("FindOrCreate() failed: %v", err)
	}
	return q
}

func send(t *testing.T, q *Queue, mType int64, text string) {
	t.Helper()
	if err := q.Send(&Message{Type: mType, Text: []byte(text)}, waiter.Forever, creds, false, 1); err != nil {
		t.Fatalf("Send(%d, %q) failed: %v", mType, text, err)
	}
}

func TestReceiveByType(t *testing.T) {
	for _, tc := range []struct {
		name   string
		mType  int64
		except bool
		want   string
	}{
		{"first", 0, false, "a3"},
		{"exact", 2, false, "b2"},
		{"except", 3, true, "b2"},
		{"lowest below", -3, false, "c1"},
		{"lowest below excludes higher", -2, false, "c1"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			q := newQueue(t)
			send(t, q, 3, "a3")
			send(t, q, 2, "b2")
			send(t, q, 1, "c1")
			send(t, q, 1, "d1")
			m, err := q.Receive(waiter.Forever, creds, tc.mType, 100, false, false, tc.except, 2)
			if err != nil {
				t.Fatalf("Receive() failed: %v", err)
			}
			if got := string(m.Text); got != tc.want {
				t.Errorf("Receive(%d) got %q, want %q", tc.mType, got, tc.want)
			}
		})
	}
}

func TestFIFOWithinType(t *testing.T) {
	q := newQueue(t)
	send(t, q, 1, "first")
	send(t, q, 1, "second")
	for _, want := range []string{"first", "second"} {
		m, err := q.Receive(waiter.Forever, creds, 1, 100, false, false, false, 2)
		if err != nil {
			t.Fatalf("Receive() failed: %v", err)
		}
		if string(m.Text) != want {
			t.Errorf("Receive() got %q, want %q", m.Text, want)
		}
	}
}

func TestTruncation(t *testing.T) {
	q := newQueue(t)
	send(t, q, 1, "hello world")
	if _, err := q.Receive(waiter.Forever, creds, 0, 5, false, false, false, 2); !linuxerr.Equals(linuxerr.E2BIG, err) {
		t.Fatalf("Receive(small buffer) got %v, want E2BIG", err)
	}
	m, err := q.Receive(waiter.Forever, creds, 0, 5, false, true, false, 2)
	if err != nil {
		t.Fatalf("Receive(MSG_NOERROR) failed: %v", err)
	}
	if string(m.Text) != "hello" {
		t.Errorf("Receive(MSG_NOERROR) got %q, want %q", m.Text, "hello")
	}
	ds, err := q.Stat(creds)
	if err != nil {
		t.Fatalf("Stat() failed: %v", err)
	}
	if ds.MsgQnum != 0 || ds.MsgCbytes != 0 {
		t.Errorf("after truncated receive got qnum=%d cbytes=%d, want 0 and 0", ds.MsgQnum, ds.MsgCbytes)
	}
}

func TestTruncatedDrainFreesCapacity(t *testing.T) {
	q := newQueue(t)
	q.maxBytes = 10
	for i := 0; i < 3; i++ {
		send(t, q, 1, "0123456789")
		if _, err := q.Receive(waiter.Forever, creds, 0, 4, false, true, false, 2); err != nil {
			t.Fatalf("round %d: Receive(MSG_NOERROR) failed: %v", i, err)
		}
	}
	if err := q.Send(&Message{Type: 1, Text: []byte("0123456789")}, waiter.Forever, creds, false, 1); err != nil {
		t.Errorf("Send() into drained queue got %v, want nil", err)
	}
}

func TestNoWait(t *testing.T) {
	q := newQueue(t)
	if _, err := q.Receive(waiter.Forever, creds, 0, 10, false, false, false, 2); !linuxerr.Equals(linuxerr.ENOMSG, err) {
		t.Errorf("Receive(IPC_NOWAIT) on empty queue got %v, want ENOMSG", err)
	}
	q.maxBytes = 4
	send(t, q, 1, "abcd")
	if err := q.Send(&Message{Type: 1, Text: []byte("e")}, waiter.Forever, creds, false, 1); !linuxerr.Equals(linuxerr.EAGAIN, err) {
		t.Errorf("Send(IPC_NOWAIT) on full queue got %v, want EAGAIN", err)
	}
	if err := q.Send(&Message{Type: 0}, waiter.Forever, creds, false, 1); !linuxerr.Equals(linuxerr.EINVAL, err) {
		t.Errorf("Send(type 0) got %v, want EINVAL", err)
	}
}

func TestBlockingReceive(t *testing.T) {
	q := newQueue(t)
	done := make(chan *Message)
	go func() {
		m, err := q.Receive(waiter.Forever, creds, 7, 100, true, false, false, 2)
		if err != nil {
			t.Errorf("Receive() failed: %v", err)
		}
		done <- m
	}()
	time.Sleep(10 * time.Millisecond)
	send(t, q, 3, "other")
	send(t, q, 7, "mine")
	select {
	case m := <-done:
		if string(m.Text) != "mine" {
			t.Errorf("Receive() got %q, want %q", m.Text, "mine")
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("blocked receiver never woke")
	}
}

func TestBlockingSend(t *testing.T) {
	q := newQueue(t)
	q.maxBytes = 4
	send(t, q, 1, "abcd")
	done := make(chan error)
	go func() {
		done <- q.Send(&Message{Type: 1, Text: []byte("ef")}, waiter.Forever, creds, true, 1)
	}()
	time.Sleep(10 * time.Millisecond)
	if _, err := q.Receive(waiter.Forever, creds, 0, 10, false, false, false, 2); err != nil {
		t.Fatalf("Receive() failed: %v", err)
	}
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("blocked Send() got %v, want nil", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("blocked sender never woke")
	}
}

func TestRemoveWakesWaiters(t *testing.T) {
	r := NewRegistry()
	q, err := r.FindOrCreate(creds, 42, 0600, false, true, false)
	if err != nil {
		t.Fatal(err)
	}
	done := make(chan error)
	go func() {
		_, err := q.Receive(waiter.Forever, creds, 0, 10, true, false, false, 2)
		done <- err
	}()
	time.Sleep(10 * time.Millisecond)
	if err := r.Remove(q.ID(), creds); err != nil {
		t.Fatalf("Remove() failed: %v", err)
	}
	select {
	case err := <-done:
		if !linuxerr.Equals(linuxerr.EIDRM, err) {
			t.Errorf("Receive() after removal got %v, want EIDRM", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("receiver not woken by removal")
	}
	if _, err := r.FindByID(q.ID()); !linuxerr.Equals(linuxerr.EINVAL, err) {
		t.Errorf("FindByID() after removal got %v, want EINVAL", err)
	}
}

func TestStat(t *testing.T) {
	q := newQueue(t)
	send(t, q, 1, "xyz")
	ds, err := q.Stat(creds)
	if err != nil {
		t.Fatalf("Stat() failed: %v", err)
	}
	if ds.MsgQnum != 1 || ds.MsgCbytes != 3 || ds.MsgLspid != 1 || ds.MsgQbytes != linux.MSGMNB {
		t.Errorf("Stat() got %+v", ds)
	}
	big := *ds
	big.MsgQbytes = linux.MSGMNB + 1
	if err := q.Set(creds, &big); !linuxerr.Equals(linuxerr.EPERM, err) {
		t.Errorf("Set(MsgQbytes > MSGMNB) got %v, want EPERM", err)
	}
}
