package queue

import (
	"github.com/runnel/runnel/result"
)

// errorQueue is the degenerate form a node swaps in once it fails:
// enqueue is a no-op and every receive fails immediately with the
// terminal reason.
type errorQueue struct {
	reason error
}

// NewError creates the degenerate errored queue.
func NewError(reason error) Queue {
	return &errorQueue{reason: reason}
}

func (q *errorQueue) Transactional() bool { return false }

func (q *errorQueue) Enqueue(msg Message, persist bool, release func()) interface{} {
	if release != nil {
		release()
	}
	return result.ErrorChannel(q.reason)
}

func (q *errorQueue) Receive(c *Consumer) *result.Channel {
	rc := consumerChannel(c)
	if rc.Claim() {
		rc.Error(q.reason)
	}
	return rc
}

func (q *errorQueue) CancelReceive(rc *result.Channel) bool { return false }
func (q *errorQueue) Drain() []Message                      { return nil }
func (q *errorQueue) Messages() []Message                   { return nil }
func (q *errorQueue) Consumers() []*Consumer                { return nil }
func (q *errorQueue) Len() int                              { return 0 }
func (q *errorQueue) Close()                                {}
func (q *errorQueue) Fail(err error)                        {}
func (q *errorQueue) Closed() bool                          { return true }
func (q *errorQueue) Drained() bool                         { return true }
func (q *errorQueue) Err() error                            { return q.reason }

// drainedQueue is the degenerate closed-and-empty form.
type drainedQueue struct{}

// NewDrained creates the degenerate drained queue.
func NewDrained() Queue {
	return drainedQueue{}
}

func (q drainedQueue) Transactional() bool { return false }

func (q drainedQueue) Enqueue(msg Message, persist bool, release func()) interface{} {
	if release != nil {
		release()
	}
	return AlreadyClosed
}

func (q drainedQueue) Receive(c *Consumer) *result.Channel {
	rc := consumerChannel(c)
	if rc.Claim() {
		rc.Error(ErrDrained)
	}
	return rc
}

func (q drainedQueue) CancelReceive(rc *result.Channel) bool { return false }
func (q drainedQueue) Drain() []Message                      { return nil }
func (q drainedQueue) Messages() []Message                   { return nil }
func (q drainedQueue) Consumers() []*Consumer                { return nil }
func (q drainedQueue) Len() int                              { return 0 }
func (q drainedQueue) Close()                                {}
func (q drainedQueue) Fail(err error)                        {}
func (q drainedQueue) Closed() bool                          { return true }
func (q drainedQueue) Drained() bool                         { return true }
func (q drainedQueue) Err() error                            { return nil }

func consumerChannel(c *Consumer) *result.Channel {
	if c == nil || c.Result == nil {
		return result.NewChannel()
	}
	return c.Result
}
