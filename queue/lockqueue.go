package queue

import (
	"github.com/runnel/runnel/lock"
	"github.com/runnel/runnel/result"
)

// lockQueue is the lock-based Queue.  All mutation happens under the
// exclusive side of an asymmetric lock.  The release function passed
// to Enqueue runs inside that critical section, which is what lets a
// node hand its own lock over to the queue during propagation.
type lockQueue struct {
	lk        *lock.Lock
	messages  []Message
	consumers []*Consumer
	closed    bool
	err       error
}

// New creates a lock-based queue.
func New() Queue {
	return &lockQueue{
		lk: lock.New(),
	}
}

func (q *lockQueue) Transactional() bool { return false }

func (q *lockQueue) Enqueue(msg Message, persist bool, release func()) interface{} {
	q.lk.AcquireExclusive()
	if release != nil {
		release()
	}

	if q.closed {
		q.lk.ReleaseExclusive()
		return AlreadyClosed
	}

	// Claims happen inside the critical section; the realizations
	// happen outside it, because realizing a channel runs its
	// listeners, and a listener may re-enter this queue (a
	// pipelined read loop does exactly that).
	var fire []func()

	for 0 < len(q.consumers) {
		c := q.consumers[0]
		q.consumers = q.consumers[1:]

		out := claimConsumption(c, msg, &fire)
		if out == consumeAccepted {
			q.lk.ReleaseExclusive()
			for _, f := range fire {
				f()
			}
			return Consumed
		}
		// Rejected or abandoned: that consumer is spent.  Try
		// the next one.
	}

	var ret interface{}
	if !persist {
		ret = Discarded
	} else {
		if msg.Listener == nil {
			msg.Listener = result.NewChannel()
		}
		q.messages = append(q.messages, msg)
		ret = msg.Listener
	}
	q.lk.ReleaseExclusive()
	for _, f := range fire {
		f()
	}
	return ret
}

func (q *lockQueue) Receive(c *Consumer) *result.Channel {
	if c == nil {
		c = &Consumer{}
	}
	if c.Result == nil {
		c.Result = result.NewChannel()
	}

	q.lk.AcquireExclusive()

	if 0 < len(q.messages) {
		msg := q.messages[0]
		if c.Predicate != nil {
			ok, err := evalPredicate(c.Predicate, msg.Payload)
			if err != nil {
				q.lk.ReleaseExclusive()
				if c.Result.Claim() {
					c.Result.Error(err)
				}
				return c.Result
			}
			if !ok {
				// The message stays put.
				q.lk.ReleaseExclusive()
				if c.Result.Claim() {
					c.Result.Success(c.FalseValue)
				}
				return c.Result
			}
		}
		// Claim before popping: if the caller's channel was
		// already claimed (a timeout won the race), the message
		// must stay in the queue.
		if !c.Result.Claim() {
			q.lk.ReleaseExclusive()
			return c.Result
		}
		q.messages = q.messages[1:]
		q.lk.ReleaseExclusive()
		c.Result.Success(msg.Payload)
		if msg.Listener != nil && msg.Listener.Claim() {
			msg.Listener.Success(Consumed)
		}
		return c.Result
	}

	if q.closed {
		err := q.err
		if err == nil {
			err = ErrDrained
		}
		q.lk.ReleaseExclusive()
		if c.Result.Claim() {
			c.Result.Error(err)
		}
		return c.Result
	}

	q.consumers = append(q.consumers, c)
	q.lk.ReleaseExclusive()
	return c.Result
}

func (q *lockQueue) CancelReceive(rc *result.Channel) bool {
	q.lk.AcquireExclusive()
	cs, found := removeConsumer(q.consumers, rc)
	q.consumers = cs
	q.lk.ReleaseExclusive()
	if !found {
		return false
	}
	if rc.Claim() {
		rc.Error(ErrCancelled)
	}
	return true
}

func (q *lockQueue) Drain() []Message {
	q.lk.AcquireExclusive()
	msgs := q.messages
	q.messages = nil
	q.lk.ReleaseExclusive()
	return msgs
}

func (q *lockQueue) Messages() []Message {
	q.lk.Acquire()
	msgs := make([]Message, len(q.messages))
	copy(msgs, q.messages)
	q.lk.Release()
	return msgs
}

func (q *lockQueue) Consumers() []*Consumer {
	q.lk.Acquire()
	cs := make([]*Consumer, len(q.consumers))
	copy(cs, q.consumers)
	q.lk.Release()
	return cs
}

func (q *lockQueue) Len() int {
	q.lk.Acquire()
	n := len(q.messages)
	q.lk.Release()
	return n
}

func (q *lockQueue) Close() {
	q.terminate(nil)
}

func (q *lockQueue) Fail(err error) {
	q.terminate(err)
}

func (q *lockQueue) terminate(err error) {
	q.lk.AcquireExclusive()
	if q.closed {
		q.lk.ReleaseExclusive()
		return
	}
	q.closed = true
	q.err = err
	cs := q.consumers
	q.consumers = nil
	var orphans []Message
	if err != nil {
		orphans = q.messages
		q.messages = nil
	}
	q.lk.ReleaseExclusive()

	reason := err
	if reason == nil {
		reason = ErrDrained
	}
	for _, c := range cs {
		if c.Result.Claim() {
			c.Result.Error(reason)
		}
	}
	for _, m := range orphans {
		if m.Listener != nil && m.Listener.Claim() {
			m.Listener.Error(reason)
		}
	}
}

func (q *lockQueue) Closed() bool {
	q.lk.Acquire()
	closed := q.closed
	q.lk.Release()
	return closed
}

func (q *lockQueue) Drained() bool {
	q.lk.Acquire()
	drained := q.closed && len(q.messages) == 0
	q.lk.Release()
	return drained
}

func (q *lockQueue) Err() error {
	q.lk.Acquire()
	err := q.err
	q.lk.Release()
	return err
}
