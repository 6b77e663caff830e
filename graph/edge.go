package graph

import (
	"fmt"

	"github.com/runnel/runnel/queue"
	"github.com/runnel/runnel/result"
)

// Style classifies an edge.  The style decides whether the edge
// contributes to the aggregate send-result (taps do not) and how the
// façade wires close cascades around it.
type Style int

const (
	Standard Style = iota
	Tap
	Join
	Fork
	SplitEdge
)

func (s Style) String() string {
	switch s {
	case Standard:
		return "standard"
	case Tap:
		return "tap"
	case Join:
		return "join"
	case Fork:
		return "fork"
	case SplitEdge:
		return "split"
	}
	return fmt.Sprintf("style-%d", int(s))
}

// Propagator is anything that accepts a message and yields a
// send-result: a value or Token for an immediate outcome, or a
// *result.Channel for a deferred one.  Nodes are Propagators, and so
// are Terminals.
type Propagator interface {
	Description() string

	// Propagate offers a message.  When transform is false a
	// node skips its operator (used when a message was already
	// transformed upstream).
	Propagate(msg interface{}, transform bool) interface{}

	// Close asks the propagator to close.  Permanent nodes refuse
	// unless forced.
	Close(force bool) bool

	// Fail puts the propagator into error state.
	Fail(err error) bool
}

// Edge is a typed link from a source node to a downstream
// destination.
type Edge struct {
	Description string
	Style       Style
	Destination Propagator
}

// NewEdge creates a standard edge.
func NewEdge(description string, dst Propagator) *Edge {
	return &Edge{
		Description: description,
		Style:       Standard,
		Destination: dst,
	}
}

// Terminal is a leaf propagator: a callback at the end of the graph.
// Its callback's return value becomes the edge's send-result, so a
// callback that returns a *result.Channel gives its upstream
// back-pressure.
type Terminal struct {
	description string

	// F receives each message.
	F func(interface{}) interface{}

	// OnClose, if not nil, runs when an upstream close reaches
	// this terminal.
	OnClose func()

	// OnFail, if not nil, runs when an upstream error reaches
	// this terminal.
	OnFail func(error)
}

// NewTerminal creates a terminal propagator around a callback.
func NewTerminal(description string, f func(interface{}) interface{}) *Terminal {
	return &Terminal{
		description: description,
		F:           f,
	}
}

func (t *Terminal) Description() string {
	return t.description
}

// Propagate invokes the callback.  A panic in the callback becomes a
// local error result; it does not poison anything upstream.
func (t *Terminal) Propagate(msg interface{}, transform bool) (out interface{}) {
	defer func() {
		if r := recover(); r != nil {
			out = result.ErrorChannel(fmt.Errorf("callback panic: %v", r))
		}
	}()
	if t.F == nil {
		return queue.Consumed
	}
	v := t.F(msg)
	if v == nil {
		return queue.Consumed
	}
	return v
}

func (t *Terminal) Close(force bool) bool {
	if t.OnClose != nil {
		t.OnClose()
	}
	return true
}

func (t *Terminal) Fail(err error) bool {
	if t.OnFail != nil {
		t.OnFail(err)
	}
	return true
}
