// Package result implements the single-assignment deferred value that
// every asynchronous operation in the engine hands back: a Channel
// starts pending and makes exactly one terminal transition, to either
// a success value or an error.
//
// A Channel can be claimed.  Claiming reserves the right to complete:
// once one party claims, no other party can claim.  The holder of a
// successful claim completes with Success or Error as usual.  The
// Channel does not record who claimed it, so a Success or Error from
// any caller completes a claimed Channel; only a realized Channel
// refuses.  This is how races are settled -- for example a read racing
// its own timeout: both sides try to claim, and whichever claims
// first gets to complete the Channel.
package result

import (
	"errors"
	"sync"
	"time"
)

var (
	// ErrTimeout is how Await reports that the deadline passed
	// before the Channel was realized.
	ErrTimeout = errors.New("timeout")
)

type state int

const (
	statePending state = iota
	stateClaimed
	stateSuccess
	stateError
)

// Listener is a pair of callbacks.  OnSuccess fires on the success
// branch, OnError on the error branch.  Either may be nil.
type Listener struct {
	OnSuccess func(interface{})
	OnError   func(error)
}

// Channel is the single-assignment deferred.
//
// Listeners registered before completion are invoked, in registration
// order, on the goroutine that completes the Channel.  Listeners
// registered after completion are invoked immediately on the
// registering goroutine.
type Channel struct {
	mu        sync.Mutex
	state     state
	value     interface{}
	err       error
	listeners []*Listener
	done      chan struct{}
}

// NewChannel creates a pending Channel.
func NewChannel() *Channel {
	return &Channel{}
}

// SuccessChannel creates a Channel already realized as success(v).
func SuccessChannel(v interface{}) *Channel {
	return &Channel{
		state: stateSuccess,
		value: v,
	}
}

// ErrorChannel creates a Channel already realized as error(err).
func ErrorChannel(err error) *Channel {
	return &Channel{
		state: stateError,
		err:   err,
	}
}

// IsChannel reports whether x is a *Channel.  Operator callbacks and
// pipeline stages may return either a plain value or a *Channel, and
// this is the predicate that tells them apart.
func IsChannel(x interface{}) bool {
	_, is := x.(*Channel)
	return is
}

// Claim reserves the right to complete the Channel.  It returns true
// exactly once, and only while the Channel is pending.
//
// A claimed Channel that is never completed is a leak.  Every path
// that Claims must eventually call Success or Error.
func (c *Channel) Claim() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != statePending {
		return false
	}
	c.state = stateClaimed
	return true
}

// Success completes the Channel with a value.
//
// Success completes a pending or claimed Channel and returns true; it
// fails (returns false) only if the Channel is already realized.  It
// does not check who holds the claim: on a claimed Channel it
// succeeds whether or not the caller made the Claim.
func (c *Channel) Success(v interface{}) bool {
	return c.realize(stateSuccess, v, nil)
}

// Error completes the Channel with an error.  The claim rules are the
// same as for Success.
func (c *Channel) Error(err error) bool {
	return c.realize(stateError, nil, err)
}

func (c *Channel) realize(to state, v interface{}, err error) bool {
	c.mu.Lock()
	if c.state != statePending && c.state != stateClaimed {
		c.mu.Unlock()
		return false
	}
	c.state = to
	c.value = v
	c.err = err
	ls := c.listeners
	c.listeners = nil
	if c.done != nil {
		close(c.done)
		c.done = nil
	}
	c.mu.Unlock()

	for _, l := range ls {
		c.dispatch(l)
	}
	return true
}

func (c *Channel) dispatch(l *Listener) {
	if c.state == stateSuccess {
		if l.OnSuccess != nil {
			l.OnSuccess(c.value)
		}
	} else {
		if l.OnError != nil {
			l.OnError(c.err)
		}
	}
}

// Subscribe registers a Listener.  If the Channel is already
// realized, the appropriate callback runs before Subscribe returns.
func (c *Channel) Subscribe(l *Listener) {
	c.mu.Lock()
	switch c.state {
	case stateSuccess, stateError:
		c.mu.Unlock()
		c.dispatch(l)
		return
	}
	c.listeners = append(c.listeners, l)
	c.mu.Unlock()
}

// Unsubscribe removes a previously Subscribed Listener.  It returns
// false if the Listener already fired (or was never registered).
func (c *Channel) Unsubscribe(l *Listener) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, reg := range c.listeners {
		if reg == l {
			c.listeners = append(c.listeners[:i], c.listeners[i+1:]...)
			return true
		}
	}
	return false
}

// IsRealized reports whether the Channel has made its terminal
// transition.
func (c *Channel) IsRealized() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state == stateSuccess || c.state == stateError
}

// Result returns the terminal value.  ok is false while the Channel
// is pending or claimed.
func (c *Channel) Result() (v interface{}, err error, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch c.state {
	case stateSuccess:
		return c.value, nil, true
	case stateError:
		return nil, c.err, true
	}
	return nil, nil, false
}

// SuccessValue returns the success value, or def if the Channel is
// not (yet) a success.
func (c *Channel) SuccessValue(def interface{}) interface{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == stateSuccess {
		return c.value
	}
	return def
}

// ErrorValue returns the error, or def if the Channel is not (yet) an
// error.
func (c *Channel) ErrorValue(def error) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == stateError {
		return c.err
	}
	return def
}

// Await blocks until the Channel is realized or the timeout passes.
//
// The engine itself never calls Await; it exists for the blocking
// iterator bridge and for tests.  A timeout <= 0 means wait forever.
func (c *Channel) Await(timeout time.Duration) (interface{}, error) {
	c.mu.Lock()
	switch c.state {
	case stateSuccess:
		v := c.value
		c.mu.Unlock()
		return v, nil
	case stateError:
		err := c.err
		c.mu.Unlock()
		return nil, err
	}
	if c.done == nil {
		c.done = make(chan struct{})
	}
	done := c.done
	c.mu.Unlock()

	if timeout <= 0 {
		<-done
	} else {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		select {
		case <-done:
		case <-timer.C:
			return nil, ErrTimeout
		}
	}

	v, err, _ := c.Result()
	return v, err
}
