// Package queue implements the event queue that sits under every
// propagation node: a FIFO of messages and a FIFO of waiting
// consumers, of which at most one is non-empty at any time.  An
// enqueue into a queue with waiting consumers dispatches immediately;
// a receive on a queue with buffered messages pops immediately.
//
// Four variants share the Queue contract: the lock-based queue, the
// transactional (versioned compare-and-swap) queue, and the
// degenerate error and drained forms that serve a terminal reason to
// every operation.
package queue

import (
	"errors"
	"fmt"

	"github.com/runnel/runnel/result"
)

// Token is an opaque tag that an operation can return instead of a
// result channel, so that callers can distinguish non-exception
// outcomes.
type Token string

const (
	// Discarded: the message found no consumer and persistence was
	// not requested.
	Discarded Token = "discarded"

	// Consumed: the message was dispatched to a waiting consumer.
	Consumed Token = "consumed"

	// AlreadyClosed: enqueue after close.
	AlreadyClosed Token = "already-closed"

	// QueueSplit: the message was dispatched to multiple
	// destinations.
	QueueSplit Token = "queue-split"

	// QueueBranch: the message was both persisted and dispatched.
	QueueBranch Token = "queue-branch"
)

var (
	// ErrDrained is served to consumers pending when the queue
	// closes, and to receives on a closed, empty queue.
	ErrDrained = errors.New("drained")

	// ErrCancelled is served to a consumer removed by
	// CancelReceive.
	ErrCancelled = errors.New("cancelled")

	// ErrQueueMixing reports an attempt to mix the transactional
	// and non-transactional variants, such as a transactional
	// copy of a queue that is already transactional.
	ErrQueueMixing = errors.New("transactional/non-transactional mix")
)

// Message is a queued payload.  The optional Listener is realized
// with the downstream outcome once the message is consumed, which is
// what gives a producer back-pressure on a buffered message.
type Message struct {
	Payload  interface{}
	Listener *result.Channel
}

// Consumer is a registered one-shot recipient.
//
// A nil Predicate makes a simple consumer.  A predicated consumer
// whose Predicate rejects the arriving message is realized with
// FalseValue and does not consume: the message stays in the queue.
//
// Two consumers are the same consumer exactly when their Result
// channels are identical, so predicated and simple consumers collide
// for cancellation purposes.
type Consumer struct {
	Predicate  func(interface{}) bool
	FalseValue interface{}
	Result     *result.Channel
}

// Queue is the contract shared by all queue variants.
type Queue interface {
	// Enqueue offers a message.  The release function, which may
	// be nil, runs before anything else (in the lock-based variant,
	// inside the queue's exclusive section; the transactional
	// variant has no such section and runs it before its first
	// commit attempt); nodes use it to release the upstream lock
	// hand-over-hand.  The return value is a Token or a
	// *result.Channel representing downstream completion.
	Enqueue(msg Message, persist bool, release func()) interface{}

	// Receive registers a consumer, or dispatches immediately if
	// a message is buffered.  It returns the consumer's result
	// channel (creating one if c.Result is nil).
	Receive(c *Consumer) *result.Channel

	// CancelReceive removes the consumer identified by rc.  On
	// success the consumer's channel is errored with
	// ErrCancelled.  Cancelling twice is a no-op.
	CancelReceive(rc *result.Channel) bool

	// Drain removes and returns all buffered messages.
	Drain() []Message

	// Messages returns a snapshot of the buffered messages.
	Messages() []Message

	// Consumers returns a snapshot of the waiting consumers.
	Consumers() []*Consumer

	Len() int

	// Close refuses further enqueues and errors pending consumers
	// with ErrDrained.  Buffered messages remain receivable.
	Close()

	// Fail closes the queue with a reason.  Pending consumers and
	// buffered message listeners are errored with it.
	Fail(err error)

	Closed() bool

	// Drained reports closed-and-empty.
	Drained() bool

	// Err returns the failure reason, if any.
	Err() error

	Transactional() bool
}

// consumeOutcome classifies one attempt to hand a message to a
// consumer.
type consumeOutcome int

const (
	consumeAccepted consumeOutcome = iota
	consumeRejected                // predicate said no; consumer realized with FalseValue
	consumeAbandoned               // claim failed or predicate panicked; consumer is dead
)

// claimConsumption attempts a consumption on behalf of a caller that
// is still inside a critical section.  Claims are taken immediately;
// the realizations are appended to fire for the caller to run after
// it releases its lock.  The caller has already removed c from the
// consumer list.
func claimConsumption(c *Consumer, msg Message, fire *[]func()) consumeOutcome {
	if c.Predicate != nil {
		ok, err := evalPredicate(c.Predicate, msg.Payload)
		if err != nil {
			if c.Result.Claim() {
				rc := c.Result
				*fire = append(*fire, func() { rc.Error(err) })
			}
			return consumeAbandoned
		}
		if !ok {
			if !c.Result.Claim() {
				return consumeAbandoned
			}
			rc, fv := c.Result, c.FalseValue
			*fire = append(*fire, func() { rc.Success(fv) })
			return consumeRejected
		}
	}
	if !c.Result.Claim() {
		return consumeAbandoned
	}
	rc := c.Result
	*fire = append(*fire, func() {
		rc.Success(msg.Payload)
		if msg.Listener != nil && msg.Listener.Claim() {
			msg.Listener.Success(Consumed)
		}
	})
	return consumeAccepted
}

// offer attempts a consumption outside any critical section, realizing
// the consumer's channel immediately.  The caller has already removed
// c from the consumer list.
func offer(c *Consumer, msg Message) consumeOutcome {
	if c.Predicate != nil {
		ok, err := evalPredicate(c.Predicate, msg.Payload)
		if err != nil {
			if c.Result.Claim() {
				c.Result.Error(err)
			}
			return consumeAbandoned
		}
		if !ok {
			if !c.Result.Claim() {
				return consumeAbandoned
			}
			c.Result.Success(c.FalseValue)
			return consumeRejected
		}
	}
	if !c.Result.Claim() {
		return consumeAbandoned
	}
	c.Result.Success(msg.Payload)
	if msg.Listener != nil {
		if msg.Listener.Claim() {
			msg.Listener.Success(Consumed)
		}
	}
	return consumeAccepted
}

func evalPredicate(p func(interface{}) bool, v interface{}) (ok bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("predicate panic: %v", r)
		}
	}()
	return p(v), nil
}

func removeConsumer(cs []*Consumer, rc *result.Channel) ([]*Consumer, bool) {
	for i, c := range cs {
		if c.Result == rc {
			return append(cs[:i:i], cs[i+1:]...), true
		}
	}
	return cs, false
}
