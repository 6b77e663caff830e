package runnel

import (
	"time"

	"github.com/runnel/runnel/graph"
	"github.com/runnel/runnel/queue"
	"github.com/runnel/runnel/result"
)

// ErrTimeout is the error a timed-out read realizes with when no
// OnTimeout value was given.
var ErrTimeout = result.ErrTimeout

// ReadOptions refines a read.
type ReadOptions struct {
	// Predicate gates the read: a buffered or arriving message
	// that fails the predicate realizes the read with OnFalse and
	// stays in the queue.
	Predicate func(interface{}) bool
	OnFalse   interface{}

	// Timeout bounds the wait.  On expiry the read realizes with
	// OnTimeout if set, otherwise errors with ErrTimeout.
	Timeout   time.Duration
	OnTimeout interface{}

	// OnDrained, if not nil, substitutes for the drained error
	// when the channel drains before a message arrives.
	OnDrained interface{}

	// Result pre-registers an externally created channel as the
	// read's result, which lets a caller stitch the read into a
	// pipeline.
	Result *result.Channel
}

// Read returns a result channel realized with the channel's next
// message.
func (c *Channel) Read() *result.Channel {
	return c.ReadWith(nil)
}

// ReadWith returns a result channel realized with the next message
// that satisfies opts.
//
// The timeout race is settled by claiming: arrival and expiry both
// try to claim the returned channel, and whichever claims first
// wins.
func (c *Channel) ReadWith(opts *ReadOptions) *result.Channel {
	if opts == nil {
		opts = &ReadOptions{}
	}

	inner := opts.Result
	if inner == nil {
		inner = result.NewChannel()
	}

	outer := inner
	if opts.OnDrained != nil || opts.OnTimeout != nil {
		outer = result.NewChannel()
		c.trackRead(outer, inner)
		inner.Subscribe(&result.Listener{
			OnSuccess: func(v interface{}) {
				c.untrackRead(outer)
				if outer.Claim() {
					outer.Success(v)
				}
			},
			OnError: func(err error) {
				c.untrackRead(outer)
				if !outer.Claim() {
					return
				}
				switch {
				case err == queue.ErrDrained && opts.OnDrained != nil:
					outer.Success(opts.OnDrained)
				case err == ErrTimeout && opts.OnTimeout != nil:
					outer.Success(opts.OnTimeout)
				default:
					outer.Error(err)
				}
			},
		})
	}

	if 0 < opts.Timeout {
		cancelTimer := c.timers.Schedule(opts.Timeout, func() {
			if inner.Claim() {
				inner.Error(ErrTimeout)
				c.emitter.CancelReceive(inner)
			}
		})
		inner.Subscribe(&result.Listener{
			OnSuccess: func(interface{}) { cancelTimer() },
			OnError:   func(error) { cancelTimer() },
		})
	}

	c.emitter.Receive(&queue.Consumer{
		Predicate:  opts.Predicate,
		FalseValue: opts.OnFalse,
		Result:     inner,
	})

	return outer
}

// CancelRead cancels a pending read.  The read's channel errors with
// queue.ErrCancelled.  Cancelling a read that already produced (or
// was already cancelled) is a no-op and returns false.
func (c *Channel) CancelRead(rc *result.Channel) bool {
	inner := rc
	c.mu.Lock()
	if mapped, have := c.reads[rc]; have {
		inner = mapped
	}
	c.mu.Unlock()
	return c.emitter.CancelReceive(inner)
}

func (c *Channel) trackRead(outer, inner *result.Channel) {
	c.mu.Lock()
	if c.reads == nil {
		c.reads = map[*result.Channel]*result.Channel{}
	}
	c.reads[outer] = inner
	c.mu.Unlock()
}

func (c *Channel) untrackRead(outer *result.Channel) {
	c.mu.Lock()
	delete(c.reads, outer)
	c.mu.Unlock()
}

// ReceiveAll subscribes f to every message the channel emits, from
// now on, plus any buffered backlog.  The returned function cancels
// the subscription.
func (c *Channel) ReceiveAll(f func(interface{})) (cancel func(), err error) {
	t := graph.NewTerminal("receive-all", func(v interface{}) interface{} {
		f(v)
		return nil
	})
	e := &graph.Edge{
		Description: "receive-all",
		Style:       graph.Standard,
		Destination: t,
	}
	if err := c.emitter.Link(e, true); err != nil {
		return nil, err
	}
	c.emitter.RegisterCancellation(e, func() {
		c.emitter.Unlink(e)
	})
	return func() {
		c.emitter.Cancel(e)
	}, nil
}
