// Package graph implements the propagation graph: nodes that hold a
// queue, an operator, and a set of outgoing edges, and the state
// machine that governs how messages move from a node to its
// downstream destinations.
//
// A node starts open.  Adding edges may take it to split (two or more
// edges); a consumer may take it to consumed, which designates one
// owning edge and bypasses the queue entirely.  Close and error are
// terminal: closed drains into drained once the queue empties, and an
// errored node serves its error to every future operation, forever.
package graph

import (
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/runnel/runnel/lock"
	"github.com/runnel/runnel/queue"
	"github.com/runnel/runnel/result"
)

var (
	// ErrAlreadyConsumed reports a second consumption attempt, or
	// an attempt to add an edge to a consumed node.
	ErrAlreadyConsumed = errors.New("already consumed")

	// ErrAlreadyClosed reports an operation against a closed or
	// drained node.
	ErrAlreadyClosed = errors.New("already closed")
)

// ClosedToken is the send-result served by a closed or drained node.
const ClosedToken = queue.Token("closed")

// nilSentinel is the value a predicate node's operator yields for a
// rejected message; the node drops it instead of propagating.
type nilSentinel struct{}

// NilSentinel marks a message as filtered out.  An operator on a
// predicate node returns it to drop the current message.
var NilSentinel interface{} = nilSentinel{}

// State is a node's lifecycle state.
type State int

const (
	Open State = iota
	Consumed
	Split
	Closed
	Drained
	Errored
)

func (s State) String() string {
	switch s {
	case Open:
		return "open"
	case Consumed:
		return "consumed"
	case Split:
		return "split"
	case Closed:
		return "closed"
	case Drained:
		return "drained"
	case Errored:
		return "error"
	}
	return fmt.Sprintf("state-%d", int(s))
}

// Operator transforms a message on its way into a node.  Returning an
// error fails the node.
type Operator func(interface{}) (interface{}, error)

// NodeOptions configures a new node.  The zero value is a plain
// identity node.
type NodeOptions struct {
	Description string

	// Operator, if not nil, transforms each arriving message.
	Operator Operator

	// Predicate marks the node as a filter: operator output equal
	// to NilSentinel is dropped.
	Predicate bool

	// Permanent pins the node open against non-forced closes.
	Permanent bool

	// Grounded keeps the node from buffering: a message that
	// finds no consumer and no edges is discarded, and the node
	// stays in the open state regardless of edge count.
	Grounded bool

	// Transactional selects the versioned queue variant.
	Transactional bool
}

// Node is a propagator with a queue.
type Node struct {
	id          string
	description string

	lk *lock.Lock

	state State
	err   error

	q        queue.Queue
	operator Operator

	predicate     bool
	permanent     bool
	grounded      bool
	transactional bool

	edges []*Edge
	owner *Edge

	cancellations map[interface{}]func()

	onClosed  []func()
	onDrained []func()

	drainOnce sync.Once
	closeOnce sync.Once
}

// NewNode creates a node.  A nil opts makes a plain identity node.
func NewNode(opts *NodeOptions) *Node {
	if opts == nil {
		opts = &NodeOptions{}
	}
	n := &Node{
		id:            uuid.NewString(),
		description:   opts.Description,
		lk:            lock.New(),
		operator:      opts.Operator,
		predicate:     opts.Predicate,
		permanent:     opts.Permanent,
		grounded:      opts.Grounded,
		transactional: opts.Transactional,
		cancellations: map[interface{}]func(){},
	}
	if opts.Transactional {
		n.q = queue.NewTransactional()
	} else {
		n.q = queue.New()
	}
	return n
}

// Id returns the node's stable identity.
func (n *Node) Id() string {
	return n.id
}

func (n *Node) Description() string {
	return n.description
}

// Lock exposes the node's lock for bulk acquisition by diagnostic
// code.
func (n *Node) Lock() *lock.Lock {
	return n.lk
}

// State returns the node's current lifecycle state.
func (n *Node) State() State {
	n.lk.Acquire()
	s := n.state
	n.lk.Release()
	if s == Closed && n.q.Drained() {
		n.maybeDrain()
		return Drained
	}
	return s
}

// Err returns the node's terminal error, if any.
func (n *Node) Err() error {
	n.lk.Acquire()
	defer n.lk.Release()
	return n.err
}

func (n *Node) Permanent() bool     { return n.permanent }
func (n *Node) Grounded() bool      { return n.grounded }
func (n *Node) Transactional() bool { return n.transactional }

// QueueDepth reports the number of buffered messages.
func (n *Node) QueueDepth() int {
	n.lk.Acquire()
	q := n.q
	n.lk.Release()
	return q.Len()
}

// Edges returns a snapshot of the node's outgoing edges.
func (n *Node) Edges() []*Edge {
	n.lk.Acquire()
	es := make([]*Edge, len(n.edges))
	copy(es, n.edges)
	n.lk.Release()
	return es
}

// IsClosed reports whether the node has been closed (or has drained).
func (n *Node) IsClosed() bool {
	s := n.State()
	return s == Closed || s == Drained
}

// IsDrained reports closed-and-empty.
func (n *Node) IsDrained() bool {
	return n.State() == Drained
}

// OnClosed registers a callback to run once the node closes.  If the
// node is already closed the callback runs immediately.
func (n *Node) OnClosed(f func()) {
	n.lk.AcquireExclusive()
	switch n.state {
	case Closed, Drained:
		n.lk.ReleaseExclusive()
		f()
		return
	}
	n.onClosed = append(n.onClosed, f)
	n.lk.ReleaseExclusive()
}

// OnDrained registers a callback to run once the node is closed and
// its queue is empty.
func (n *Node) OnDrained(f func()) {
	n.lk.AcquireExclusive()
	if n.state == Drained {
		n.lk.ReleaseExclusive()
		f()
		return
	}
	n.onDrained = append(n.onDrained, f)
	n.lk.ReleaseExclusive()
	n.maybeDrain()
}

// RegisterCancellation stores a cancellation function under a key, to
// be invoked by Cancel.  Subscriptions register their unlink here.
func (n *Node) RegisterCancellation(key interface{}, f func()) {
	n.lk.AcquireExclusive()
	n.cancellations[key] = f
	n.lk.ReleaseExclusive()
}

// Cancel invokes and removes the cancellation function registered
// under key.  Cancelling an unknown key is a no-op.
func (n *Node) Cancel(key interface{}) bool {
	n.lk.AcquireExclusive()
	f, have := n.cancellations[key]
	delete(n.cancellations, key)
	n.lk.ReleaseExclusive()
	if !have {
		return false
	}
	f()
	return true
}

// Receive registers a consumer against the node's queue, or pops a
// buffered message immediately.
func (n *Node) Receive(c *queue.Consumer) *result.Channel {
	n.lk.Acquire()
	q := n.q
	n.lk.Release()
	rc := q.Receive(c)
	n.maybeDrain()
	return rc
}

// CancelReceive removes the pending consumer identified by rc,
// erroring it with queue.ErrCancelled.
func (n *Node) CancelReceive(rc *result.Channel) bool {
	n.lk.Acquire()
	q := n.q
	n.lk.Release()
	return q.CancelReceive(rc)
}

// Drain removes and returns the node's buffered messages.  On a
// closed node this tips it into the drained state.
func (n *Node) Drain() []queue.Message {
	n.lk.Acquire()
	q := n.q
	n.lk.Release()
	msgs := q.Drain()
	n.maybeDrain()
	return msgs
}

// Queue exposes the node's queue.
func (n *Node) Queue() queue.Queue {
	n.lk.Acquire()
	defer n.lk.Release()
	return n.q
}

// Transactionalize swaps the node's queue for a transactional copy.
// Mixing errors if the node is already transactional.
func (n *Node) Transactionalize() error {
	n.lk.AcquireExclusive()
	defer n.lk.ReleaseExclusive()
	if n.transactional {
		return queue.ErrQueueMixing
	}
	q, err := queue.TransactionalCopy(n.q)
	if err != nil {
		return err
	}
	n.q = q
	n.transactional = true
	return nil
}

// Link adds an edge.  Messages buffered in the node's queue drain
// into the new edge first, before any newly arriving message, unless
// drain is false (a fork copies instead of draining).
//
// Linking to a closed node delivers the backlog and then closes the
// destination.  Linking to an errored node fails the destination.
func (n *Node) Link(e *Edge, drain bool) error {
	n.lk.AcquireExclusive()

	switch n.state {
	case Errored:
		err := n.err
		n.lk.ReleaseExclusive()
		e.Destination.Fail(err)
		return err
	case Consumed:
		n.lk.ReleaseExclusive()
		return ErrAlreadyConsumed
	}

	terminal := n.state == Closed || n.state == Drained

	var backlog []queue.Message
	if drain {
		backlog = n.q.Drain()
	}

	if !terminal {
		n.edges = append(n.edges, e)
		if !n.grounded && 1 < len(n.edges) {
			n.state = Split
		}
	}
	n.lk.ReleaseExclusive()

	for _, m := range backlog {
		e.Destination.Propagate(m.Payload, true)
		if m.Listener != nil && m.Listener.Claim() {
			m.Listener.Success(queue.Consumed)
		}
	}

	if terminal {
		e.Destination.Close(false)
	} else {
		n.maybeDrain()
	}
	return nil
}

// Unlink removes an edge.
func (n *Node) Unlink(e *Edge) bool {
	n.lk.AcquireExclusive()
	defer n.lk.ReleaseExclusive()
	for i, have := range n.edges {
		if have == e {
			n.edges = append(n.edges[:i], n.edges[i+1:]...)
			if n.owner == e {
				n.owner = nil
			}
			switch n.state {
			case Split:
				if len(n.edges) < 2 {
					n.state = Open
				}
			case Consumed:
				n.state = Open
				if 1 < len(n.edges) {
					n.state = Split
				}
			}
			return true
		}
	}
	return false
}

// Consume designates e as the node's owning edge and transitions the
// node to consumed: buffered messages drain through e, and all
// subsequent messages stream through it with no queueing.  The
// returned function undoes the consumption.
//
// Consuming a closed node delivers the backlog through e and then
// closes e's destination; the returned function is then a no-op.
func (n *Node) Consume(e *Edge) (unconsume func(), err error) {
	n.lk.AcquireExclusive()

	switch n.state {
	case Errored:
		err := n.err
		n.lk.ReleaseExclusive()
		e.Destination.Fail(err)
		return nil, err
	case Consumed:
		n.lk.ReleaseExclusive()
		return nil, ErrAlreadyConsumed
	}

	terminal := n.state == Closed || n.state == Drained
	if !terminal {
		n.state = Consumed
		n.owner = e
		n.edges = append(n.edges, e)
	}
	backlog := n.q.Drain()
	n.lk.ReleaseExclusive()

	for _, m := range backlog {
		e.Destination.Propagate(m.Payload, true)
		if m.Listener != nil && m.Listener.Claim() {
			m.Listener.Success(queue.Consumed)
		}
	}

	if terminal {
		n.maybeDrain()
		e.Destination.Close(false)
		return func() {}, nil
	}

	return func() { n.Unlink(e) }, nil
}

// Close closes the node: the queue refuses new messages, pending
// receives fail with drained, and the close cascades to every
// downstream destination.  A permanent node refuses a non-forced
// close.  Closing is idempotent.
func (n *Node) Close(force bool) bool {
	n.lk.AcquireExclusive()

	switch n.state {
	case Closed, Drained:
		n.lk.ReleaseExclusive()
		return true
	case Errored:
		n.lk.ReleaseExclusive()
		return false
	}

	if n.permanent && !force {
		n.lk.ReleaseExclusive()
		return false
	}

	n.state = Closed
	edges := make([]*Edge, len(n.edges))
	copy(edges, n.edges)
	q := n.q
	n.lk.ReleaseExclusive()

	q.Close()

	for _, e := range edges {
		e.Destination.Close(false)
	}

	n.closeOnce.Do(func() {
		n.lk.AcquireExclusive()
		cbs := n.onClosed
		n.onClosed = nil
		n.lk.ReleaseExclusive()
		for _, f := range cbs {
			f()
		}
	})

	n.maybeDrain()
	return true
}

// Fail transitions the node to error state.  The error cascades to
// every downstream destination, taps included; pending receives and
// buffered message listeners are errored.  A node in error state
// never transitions out.
func (n *Node) Fail(err error) bool {
	n.lk.AcquireExclusive()

	switch n.state {
	case Errored, Closed, Drained:
		n.lk.ReleaseExclusive()
		return false
	}

	n.state = Errored
	n.err = err
	old := n.q
	n.q = queue.NewError(err)
	edges := make([]*Edge, len(n.edges))
	copy(edges, n.edges)
	n.lk.ReleaseExclusive()

	old.Fail(err)

	for _, e := range edges {
		e.Destination.Fail(err)
	}
	return true
}

// maybeDrain moves a closed node whose queue has emptied into the
// drained state and fires the on-drained callbacks exactly once.
func (n *Node) maybeDrain() {
	n.lk.AcquireExclusive()
	if !(n.state == Closed && n.q.Drained()) {
		if n.state != Drained {
			n.lk.ReleaseExclusive()
			return
		}
	}
	n.state = Drained
	n.lk.ReleaseExclusive()

	n.drainOnce.Do(func() {
		n.lk.AcquireExclusive()
		cbs := n.onDrained
		n.onDrained = nil
		n.lk.ReleaseExclusive()
		for _, f := range cbs {
			f()
		}
	})
}
