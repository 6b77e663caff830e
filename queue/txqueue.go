package queue

import (
	"sync/atomic"
	"time"

	"github.com/runnel/runnel/result"
)

// txBackoff is how long a conflicting committer sleeps before
// retrying.
const txBackoff = time.Millisecond

// txState is one immutable version of a transactional queue.  Every
// mutation builds a successor state and installs it with a single
// compare-and-swap; a failed swap means a concurrent commit won, and
// the loser backs off and retries against the new version.
//
// Go has no software transactional memory, so this variant gives the
// transactional contract for a single queue only: multi-queue atomic
// semantics across a transaction are not available.
type txState struct {
	messages  []Message
	consumers []*Consumer
	closed    bool
	err       error
}

type txQueue struct {
	state atomic.Pointer[txState]
}

// NewTransactional creates the versioned compare-and-swap queue.
func NewTransactional() Queue {
	q := &txQueue{}
	q.state.Store(&txState{})
	return q
}

// TransactionalCopy snapshots a non-transactional queue into a
// transactional one, preserving messages, consumer list, and closed
// state.  Copying a queue that is already transactional is a mixing
// error.
func TransactionalCopy(src Queue) (Queue, error) {
	if src.Transactional() {
		return nil, ErrQueueMixing
	}
	q := &txQueue{}
	q.state.Store(&txState{
		messages:  src.Messages(),
		consumers: src.Consumers(),
		closed:    src.Closed(),
		err:       src.Err(),
	})
	return q, nil
}

func (q *txQueue) Transactional() bool { return true }

// commit installs next over prev, returning false (after a back-off)
// when a concurrent commit invalidated prev.
func (q *txQueue) commit(prev, next *txState) bool {
	if q.state.CompareAndSwap(prev, next) {
		return true
	}
	time.Sleep(txBackoff)
	return false
}

func (q *txQueue) Enqueue(msg Message, persist bool, release func()) interface{} {
	if release != nil {
		release()
	}

	for {
		s := q.state.Load()

		if s.closed {
			return AlreadyClosed
		}

		if 0 < len(s.consumers) {
			c := s.consumers[0]
			next := &txState{
				messages:  s.messages,
				consumers: s.consumers[1:],
				closed:    s.closed,
				err:       s.err,
			}
			if !q.commit(s, next) {
				continue
			}
			if offer(c, msg) == consumeAccepted {
				return Consumed
			}
			// That consumer was spent without accepting;
			// go around for the next one.
			continue
		}

		if !persist {
			return Discarded
		}

		if msg.Listener == nil {
			msg.Listener = result.NewChannel()
		}
		next := &txState{
			messages:  append(s.messages[:len(s.messages):len(s.messages)], msg),
			consumers: s.consumers,
			closed:    s.closed,
			err:       s.err,
		}
		if !q.commit(s, next) {
			continue
		}
		return msg.Listener
	}
}

func (q *txQueue) Receive(c *Consumer) *result.Channel {
	if c == nil {
		c = &Consumer{}
	}
	if c.Result == nil {
		c.Result = result.NewChannel()
	}

	for {
		s := q.state.Load()

		if 0 < len(s.messages) {
			msg := s.messages[0]
			if c.Predicate != nil {
				ok, err := evalPredicate(c.Predicate, msg.Payload)
				if err != nil {
					if c.Result.Claim() {
						c.Result.Error(err)
					}
					return c.Result
				}
				if !ok {
					if c.Result.Claim() {
						c.Result.Success(c.FalseValue)
					}
					return c.Result
				}
			}
			next := &txState{
				messages:  s.messages[1:],
				consumers: s.consumers,
				closed:    s.closed,
				err:       s.err,
			}
			if !q.commit(s, next) {
				continue
			}
			if !c.Result.Claim() {
				// The caller's channel was claimed
				// externally (a timeout won).  Put the
				// message back at the front.  A receive
				// racing this window can observe a later
				// message first; the lock-based variant
				// does not have this window.
				for {
					s2 := q.state.Load()
					restored := &txState{
						messages:  append([]Message{msg}, s2.messages...),
						consumers: s2.consumers,
						closed:    s2.closed,
						err:       s2.err,
					}
					if q.commit(s2, restored) {
						break
					}
				}
				return c.Result
			}
			c.Result.Success(msg.Payload)
			if msg.Listener != nil && msg.Listener.Claim() {
				msg.Listener.Success(Consumed)
			}
			return c.Result
		}

		if s.closed {
			reason := s.err
			if reason == nil {
				reason = ErrDrained
			}
			if c.Result.Claim() {
				c.Result.Error(reason)
			}
			return c.Result
		}

		next := &txState{
			messages:  s.messages,
			consumers: append(s.consumers[:len(s.consumers):len(s.consumers)], c),
			closed:    s.closed,
			err:       s.err,
		}
		if q.commit(s, next) {
			return c.Result
		}
	}
}

func (q *txQueue) CancelReceive(rc *result.Channel) bool {
	for {
		s := q.state.Load()
		cs, found := removeConsumer(s.consumers, rc)
		if !found {
			return false
		}
		next := &txState{
			messages:  s.messages,
			consumers: cs,
			closed:    s.closed,
			err:       s.err,
		}
		if q.commit(s, next) {
			if rc.Claim() {
				rc.Error(ErrCancelled)
			}
			return true
		}
	}
}

func (q *txQueue) Drain() []Message {
	for {
		s := q.state.Load()
		if len(s.messages) == 0 {
			return nil
		}
		next := &txState{
			consumers: s.consumers,
			closed:    s.closed,
			err:       s.err,
		}
		if q.commit(s, next) {
			return s.messages
		}
	}
}

func (q *txQueue) Messages() []Message {
	s := q.state.Load()
	msgs := make([]Message, len(s.messages))
	copy(msgs, s.messages)
	return msgs
}

func (q *txQueue) Consumers() []*Consumer {
	s := q.state.Load()
	cs := make([]*Consumer, len(s.consumers))
	copy(cs, s.consumers)
	return cs
}

func (q *txQueue) Len() int {
	return len(q.state.Load().messages)
}

func (q *txQueue) Close() {
	q.terminate(nil)
}

func (q *txQueue) Fail(err error) {
	q.terminate(err)
}

func (q *txQueue) terminate(err error) {
	for {
		s := q.state.Load()
		if s.closed {
			return
		}
		next := &txState{
			closed: true,
			err:    err,
		}
		if err == nil {
			next.messages = s.messages
		}
		if !q.commit(s, next) {
			continue
		}

		reason := err
		if reason == nil {
			reason = ErrDrained
		}
		for _, c := range s.consumers {
			if c.Result.Claim() {
				c.Result.Error(reason)
			}
		}
		if err != nil {
			for _, m := range s.messages {
				if m.Listener != nil && m.Listener.Claim() {
					m.Listener.Error(reason)
				}
			}
		}
		return
	}
}

func (q *txQueue) Closed() bool {
	return q.state.Load().closed
}

func (q *txQueue) Drained() bool {
	s := q.state.Load()
	return s.closed && len(s.messages) == 0
}

func (q *txQueue) Err() error {
	return q.state.Load().err
}
