package graph

import (
	"fmt"
	"sync/atomic"

	"github.com/runnel/runnel/queue"
	"github.com/runnel/runnel/result"
	"github.com/runnel/runnel/util"
)

// Propagate offers a message to the node.
//
// The node's operator (unless transform is false) is applied first; an
// operator error fails the node.  In the consumed state the message
// streams straight through the owning edge with no queueing.  In the
// open and split states the message is offered to the node's queue --
// dispatching to a waiting consumer or buffering when the node has no
// edges -- and then propagated down every edge.
//
// The return value is the message's aggregate send-result: a Token
// for an immediate outcome, or a *result.Channel that resolves when
// the slowest non-tap downstream does.
func (n *Node) Propagate(msg interface{}, transform bool) interface{} {
	n.lk.Acquire()

	switch n.state {
	case Errored:
		err := n.err
		n.lk.Release()
		return result.ErrorChannel(err)
	case Closed, Drained:
		n.lk.Release()
		return ClosedToken
	}

	out := msg
	if transform && n.operator != nil {
		var err error
		out, err = apply(n.operator, msg)
		if err != nil {
			n.lk.Release()
			util.Logf("operator error on %s: %v", n.description, err)
			n.Fail(err)
			return result.ErrorChannel(err)
		}
	}

	if n.predicate && out == NilSentinel {
		n.lk.Release()
		return queue.Consumed
	}

	if n.state == Consumed {
		dst := n.owner.Destination
		style := n.owner.Style
		n.lk.Release()
		r := dst.Propagate(out, true)
		if style == Tap {
			return queue.Consumed
		}
		return r
	}

	// Open or split.  Snapshot the edges, then let the queue's
	// critical section release our lock hand-over-hand: once the
	// message is ordered into the queue, downstream propagation
	// runs lock-free against the snapshot.
	edges := make([]*Edge, len(n.edges))
	copy(edges, n.edges)
	q := n.q
	persist := len(edges) == 0 && !n.grounded

	qr := q.Enqueue(queue.Message{Payload: out}, persist, n.lk.Release)

	if qr == queue.AlreadyClosed {
		return ClosedToken
	}
	if len(edges) == 0 {
		return qr
	}

	results := make([]interface{}, 0, len(edges))
	for _, e := range edges {
		r := e.Destination.Propagate(out, true)
		if e.Style != Tap {
			results = append(results, r)
		}
	}

	switch len(results) {
	case 0:
		// Taps only.
		return queue.Consumed
	case 1:
		return results[0]
	}
	return combine(results)
}

func apply(op Operator, v interface{}) (out interface{}, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("operator panic: %v", r)
		}
	}()
	return op(v)
}

// combine assembles one aggregate send-result from the per-edge
// results: success once every input succeeds, the first error wins
// and later errors are logged as orphans, pending while any input is
// pending.
func combine(results []interface{}) interface{} {
	var (
		pending  []*result.Channel
		firstErr error
	)

	for _, r := range results {
		ch, is := r.(*result.Channel)
		if !is {
			continue
		}
		if _, err, ok := ch.Result(); ok {
			if err != nil {
				if firstErr == nil {
					firstErr = err
				} else {
					util.Logf("orphaned downstream error: %v", err)
				}
			}
			continue
		}
		pending = append(pending, ch)
	}

	if firstErr != nil {
		agg := result.ErrorChannel(firstErr)
		for _, ch := range pending {
			ch.Subscribe(orphanListener())
		}
		return agg
	}

	if len(pending) == 0 {
		// Everything already succeeded.
		return queue.QueueSplit
	}

	agg := result.NewChannel()
	remaining := int32(len(pending))
	var last atomic.Value
	for _, ch := range pending {
		ch.Subscribe(&result.Listener{
			OnSuccess: func(v interface{}) {
				if v != nil {
					last.Store(v)
				}
				if atomic.AddInt32(&remaining, -1) == 0 {
					if agg.Claim() {
						agg.Success(last.Load())
					}
				}
			},
			OnError: func(err error) {
				if agg.Claim() {
					agg.Error(err)
				} else {
					util.Logf("orphaned downstream error: %v", err)
				}
			},
		})
	}
	return agg
}

// orphanListener logs an error result that lost the aggregation race.
func orphanListener() *result.Listener {
	return &result.Listener{
		OnError: func(err error) {
			util.Logf("orphaned downstream error: %v", err)
		},
	}
}
