// Package runnel is a reactive dataflow engine.  Producers enqueue
// messages into channels; messages flow through operator nodes (map,
// filter, fork, tap, and friends) to downstream channels and
// subscribers; consumers take a single message as a deferred result
// or subscribe for all of them.  Every enqueue hands back a
// send-result representing aggregate downstream completion, which is
// what gives producers back-pressure.
package runnel

import (
	"sync"

	"github.com/runnel/runnel/graph"
	"github.com/runnel/runnel/result"
	"github.com/runnel/runnel/timer"
)

// Channel is a (receiver node, emitter node) pair.  For a plain
// channel both are the same node; Splice builds a channel whose two
// halves are different nodes, so head-of-pipeline transforms can be
// kept separate from consumer-side ones.
type Channel struct {
	receiver *graph.Node
	emitter  *graph.Node

	timers *timer.Timers

	mu    sync.Mutex
	reads map[*result.Channel]*result.Channel
}

// Options configures a new channel.
type Options struct {
	Description string

	// Transactional selects the versioned queue variant.
	Transactional bool

	// Permanent pins the channel open against upstream closes.
	Permanent bool

	// Grounded disables buffering: a message that finds no
	// consumer and no downstream edge is discarded.
	Grounded bool

	// Messages is enqueued into the fresh channel, in order.
	Messages []interface{}

	// Timers overrides the process-wide timer used by reads with
	// timeouts and the periodic operators.
	Timers *timer.Timers
}

// New creates a plain channel.
func New() *Channel {
	return NewWith(nil)
}

// NewWith creates a channel with options.
func NewWith(opts *Options) *Channel {
	if opts == nil {
		opts = &Options{}
	}
	n := graph.NewNode(&graph.NodeOptions{
		Description:   opts.Description,
		Permanent:     opts.Permanent,
		Grounded:      opts.Grounded,
		Transactional: opts.Transactional,
	})
	ts := opts.Timers
	if ts == nil {
		ts = timer.Default()
	}
	c := &Channel{
		receiver: n,
		emitter:  n,
		timers:   ts,
	}
	for _, m := range opts.Messages {
		c.Enqueue(m)
	}
	return c
}

// NewClosed creates a channel that already holds the given messages
// and is closed: readers drain the messages and then see drained.
func NewClosed(msgs ...interface{}) *Channel {
	c := NewWith(&Options{Messages: msgs})
	c.Close()
	return c
}

// Splice pairs the write half of one channel with the read half of
// another.  Enqueues go to write's receiver; reads come from read's
// emitter.
func Splice(write, read *Channel) *Channel {
	return &Channel{
		receiver: write.receiver,
		emitter:  read.emitter,
		timers:   write.timers,
	}
}

// Mimic creates an empty channel with the same description,
// transactional-ness, and timers as c.
func Mimic(c *Channel) *Channel {
	return NewWith(&Options{
		Description:   c.emitter.Description(),
		Transactional: c.emitter.Transactional(),
		Timers:        c.timers,
	})
}

// ReceiverNode exposes the node enqueues go to.
func (c *Channel) ReceiverNode() *graph.Node {
	return c.receiver
}

// EmitterNode exposes the node reads come from.
func (c *Channel) EmitterNode() *graph.Node {
	return c.emitter
}

// Enqueue offers a message to the channel and returns its
// send-result: a queue.Token for an immediate outcome or a
// *result.Channel that resolves when all non-tap downstream work
// does.
func (c *Channel) Enqueue(msg interface{}) interface{} {
	return c.receiver.Propagate(msg, true)
}

// Close closes the channel.  Closing is idempotent and closes even a
// permanent channel; only upstream cascades respect permanence.
func (c *Channel) Close() bool {
	ok := c.receiver.Close(true)
	if c.emitter != c.receiver {
		ok = c.emitter.Close(true) && ok
	}
	return ok
}

// Error puts the channel into error state with the given reason,
// cascading downstream.
func (c *Channel) Error(err error) bool {
	ok := c.receiver.Fail(err)
	if c.emitter != c.receiver {
		ok = c.emitter.Fail(err) || ok
	}
	return ok
}

// IsClosed reports whether the channel is closed.
func (c *Channel) IsClosed() bool {
	return c.emitter.IsClosed()
}

// IsDrained reports whether the channel is closed and empty.
func (c *Channel) IsDrained() bool {
	return c.emitter.IsDrained()
}

// Err returns the channel's terminal error, if any.
func (c *Channel) Err() error {
	if err := c.emitter.Err(); err != nil {
		return err
	}
	return c.receiver.Err()
}

// OnClosed runs f once the channel closes (immediately if it already
// has).
func (c *Channel) OnClosed(f func()) {
	c.emitter.OnClosed(f)
}

// OnDrained runs f once the channel is closed and empty.
func (c *Channel) OnDrained(f func()) {
	c.emitter.OnDrained(f)
}
