package runnel

import (
	"github.com/runnel/runnel/graph"
	"github.com/runnel/runnel/result"
)

// newOperatorChannel creates a channel around a single node and
// connects it downstream of src with the given edge style.
func newOperatorChannel(src *Channel, desc string, style graph.Style, nopts *graph.NodeOptions, drain bool) *Channel {
	if nopts == nil {
		nopts = &graph.NodeOptions{}
	}
	if nopts.Description == "" {
		nopts.Description = desc
	}
	nopts.Transactional = src.emitter.Transactional()
	n := graph.NewNode(nopts)
	out := &Channel{
		receiver: n,
		emitter:  n,
		timers:   src.timers,
	}
	e := &graph.Edge{
		Description: desc,
		Style:       style,
		Destination: n,
	}
	src.emitter.Link(e, drain)
	return out
}

// Map creates a channel carrying f of every message of src.
// Enqueues into the returned channel go through f as well.
func Map(f func(interface{}) interface{}, src *Channel) *Channel {
	return newOperatorChannel(src, "map", graph.Standard, &graph.NodeOptions{
		Operator: func(v interface{}) (interface{}, error) {
			return f(v), nil
		},
	}, true)
}

// Filter creates a channel carrying only the messages of src that
// satisfy p.
func Filter(p func(interface{}) bool, src *Channel) *Channel {
	return newOperatorChannel(src, "filter", graph.Standard, &graph.NodeOptions{
		Predicate: true,
		Operator: func(v interface{}) (interface{}, error) {
			if p(v) {
				return v, nil
			}
			return graph.NilSentinel, nil
		},
	}, true)
}

// Remove is the complement of Filter.
func Remove(p func(interface{}) bool, src *Channel) *Channel {
	return Filter(func(v interface{}) bool { return !p(v) }, src)
}

// Fork creates an independent emitter fed by src, seeded with a copy
// of src's buffered messages.  Closing the fork does not close src;
// closing or erroring src reaches the fork.
func Fork(src *Channel) *Channel {
	backlog := src.emitter.Queue().Messages()
	out := newOperatorChannel(src, "fork", graph.Fork, nil, false)
	for _, m := range backlog {
		out.receiver.Propagate(m.Payload, true)
	}
	return out
}

// Tap creates an observation channel fed by src.  A tap contributes
// no back-pressure: its send-results are ignored.  Closing src closes
// the tap; closing the tap does not close src; errors on src reach
// the tap.
func Tap(src *Channel) *Channel {
	return newOperatorChannel(src, "tap", graph.Tap, nil, false)
}

// Siphon links src into dst.  Closing src closes dst unless dst is
// permanent.
func Siphon(src, dst *Channel) error {
	e := &graph.Edge{
		Description: "siphon",
		Style:       graph.Standard,
		Destination: dst.receiver,
	}
	return src.emitter.Link(e, true)
}

// Join is a siphon whose close propagates both ways: closing either
// side closes the other.
func Join(src, dst *Channel) error {
	if err := Siphon(src, dst); err != nil {
		return err
	}
	dst.receiver.OnClosed(func() {
		src.receiver.Close(false)
	})
	return nil
}

// BridgeJoin attaches a propagator edge to src whose destination
// applies f to each message; f's return value (possibly a
// *result.Channel) becomes the edge's send-result, so f participates
// in back-pressure.  Closing src closes dst; closing dst detaches the
// bridge and closes src.
func BridgeJoin(src, dst *Channel, desc string, f func(interface{}) interface{}) error {
	t := graph.NewTerminal(desc, f)
	e := &graph.Edge{
		Description: desc,
		Style:       graph.Join,
		Destination: t,
	}
	if dst != nil {
		t.OnClose = func() {
			dst.Close()
		}
		t.OnFail = func(err error) {
			dst.Error(err)
		}
	}
	if err := src.emitter.Link(e, true); err != nil {
		return err
	}
	if dst != nil {
		dst.receiver.OnClosed(func() {
			src.emitter.Unlink(e)
			src.receiver.Close(false)
		})
	}
	return nil
}

// isDeferred reports whether a send-result or callback return is a
// deferred value.
func isDeferred(x interface{}) (*result.Channel, bool) {
	rc, is := x.(*result.Channel)
	return rc, is
}
