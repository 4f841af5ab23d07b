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

package waiter

// Blocker is implemented by callers that can park until notified.
type Blocker interface {
	// Block waits until C is notified. It returns nil on notification and
	// an error if the wait was cut short by an interrupt or a deadline.
	Block(C <-chan struct{}) error
}

// BlockerFunc adapts a function to the Blocker interface.
type BlockerFunc func(C <-chan struct{}) error

// Block implements Blocker.Block.
func (f BlockerFunc) Block(C <-chan struct{}) error {
	return f(C)
}

// Forever is a Blocker that waits on C with no interrupt source.
var Forever Blocker = BlockerFunc(func(C <-chan struct{}) error {
	<-C
	return nil
})

// Retry runs op until it returns something other than errWouldBlock,
// blocking on q for mask between attempts. The entry is registered before
// the second attempt so that no notification is lost.
func Retry(q *Queue, mask EventMask, b Blocker, errWouldBlock error, op func() error) error {
	err := op()
	if err != errWouldBlock {
		return err
	}
	e, ch := NewChannelEntry(mask)
	q.EventRegister(&e)
	defer q.EventUnregister(&e)
	for {
		if err = op(); err != errWouldBlock {
			return err
		}
		if err := b.Block(ch); err != nil {
			return err
		}
	}
}

// RetryOn is like Retry, but waits on an arbitrary Waitable. If w cannot be
// waited on, the original errWouldBlock is returned.
func RetryOn(w Waitable, mask EventMask, b Blocker, errWouldBlock error, op func() error) error {
	err := op()
	if err != errWouldBlock {
		return err
	}
	e, ch := NewChannelEntry(mask)
	if err := w.EventRegister(&e); err != nil {
		return errWouldBlock
	}
	defer w.EventUnregister(&e)
	for {
		if err = op(); err != errWouldBlock {
			return err
		}
		if err := b.Block(ch); err != nil {
			return err
		}
	}
}
