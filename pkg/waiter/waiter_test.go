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

package waiter

import (
	"testing"
)

type counter struct {
	calls int
	last  EventMask
}

func (c *counter) NotifyEvent(mask EventMask) {
	c.calls++
	c.last = mask
}

func TestEmptyQueue(t *testing.T) {
	var q Queue
	if !q.IsEmpty() {
		t.Fatalf("zero queue is not empty")
	}
	// Notify must not panic on an empty queue.
	q.Notify(allEvents)
	if got := q.Events(); got != 0 {
		t.Errorf("Events() got %#x, want 0", got)
	}
}

func TestMask(t *testing.T) {
	for _, tc := range []struct {
		registered EventMask
		notified   EventMask
		wantCalls  int
	}{
		{EventIn, EventIn, 1},
		{EventIn, EventOut, 0},
		{ReadableEvents | WritableEvents, EventOut, 1},
		{EventIn | EventHUp, EventHUp | EventErr, 1},
	} {
		var q Queue
		var c counter
		var e Entry
		e.Init(&c, tc.registered)
		q.EventRegister(&e)
		q.Notify(tc.notified)
		if c.calls != tc.wantCalls {
			t.Errorf("registered %#x notified %#x: got %d calls, want %d", tc.registered, tc.notified, c.calls, tc.wantCalls)
		}
		if c.calls > 0 && c.last&^tc.registered != 0 {
			t.Errorf("listener saw events %#x outside its mask %#x", c.last, tc.registered)
		}
		q.EventUnregister(&e)
		if !q.IsEmpty() {
			t.Errorf("queue not empty after unregister")
		}
	}
}

func TestChannelEntry(t *testing.T) {
	var q Queue
	e, ch := NewChannelEntry(EventIn)
	q.EventRegister(&e)
	defer q.EventUnregister(&e)

	// Two notifications collapse into one pending wakeup.
	q.Notify(EventIn)
	q.Notify(EventIn)
	select {
	case <-ch:
	default:
		t.Fatalf("channel not notified")
	}
	select {
	case <-ch:
		t.Fatalf("channel notified twice")
	default:
	}
}

func TestEvents(t *testing.T) {
	var q Queue
	e1 := NewFunctionEntry(EventIn, func(EventMask) {})
	e2 := NewFunctionEntry(EventOut, func(EventMask) {})
	q.EventRegister(&e1)
	q.EventRegister(&e2)
	if got, want := q.Events(), EventIn|EventOut; got != want {
		t.Errorf("Events() got %#x, want %#x", got, want)
	}
	q.EventUnregister(&e1)
	if got := q.Events(); got != EventOut {
		t.Errorf("Events() got %#x, want %#x", got, EventOut)
	}
}
