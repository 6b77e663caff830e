package runnel

import (
	"github.com/runnel/runnel/graph"
	"github.com/runnel/runnel/pipeline"
	"github.com/runnel/runnel/queue"
	"github.com/runnel/runnel/result"
)

// BridgeInOrder consumes src and feeds every message, strictly in
// order, to f.  When f returns a *result.Channel the next message is
// not read until it resolves, so no two invocations of f ever
// overlap.  f may return a pipeline control value: pipeline.Complete
// stops the bridge early.
//
// The returned channel realizes when src drains (success) or the
// bridge fails (error).  When dst is not nil it closes with the
// bridge.
func BridgeInOrder(src, dst *Channel, desc string, f func(interface{}) interface{}) *result.Channel {
	bridge := graph.NewNode(&graph.NodeOptions{Description: desc})
	e := &graph.Edge{
		Description: desc,
		Style:       graph.SplitEdge,
		Destination: bridge,
	}

	unconsume, err := src.emitter.Consume(e)
	if err != nil {
		return result.ErrorChannel(err)
	}

	done := result.NewChannel()
	p := &pipeline.Pipeline{
		Description: desc,
		Stages: []pipeline.Stage{
			func(interface{}) interface{} {
				return bridge.Receive(nil)
			},
			func(msg interface{}) interface{} {
				return f(msg)
			},
			func(interface{}) interface{} {
				return pipeline.Restart{}
			},
		},
		ErrorHandler: func(err error) interface{} {
			if err == queue.ErrDrained {
				// The source drained: normal termination.
				return pipeline.Complete{}
			}
			return err
		},
		Result: done,
	}

	done.Subscribe(&result.Listener{
		OnSuccess: func(interface{}) {
			unconsume()
			if dst != nil {
				dst.Close()
			}
		},
		OnError: func(err error) {
			unconsume()
			if dst != nil {
				dst.Error(err)
			}
		},
	})

	p.Run(nil)
	return done
}

// ReceiveInOrder feeds every message of src to f, strictly
// serialized, deferring the next read while a *result.Channel
// returned by f is unresolved.  The returned channel realizes when
// src drains.
func ReceiveInOrder(src *Channel, f func(interface{}) interface{}) *result.Channel {
	return BridgeInOrder(src, nil, "receive-in-order", f)
}

// EmitInOrder enqueues msgs into ch one at a time, waiting out any
// deferred send-result before offering the next message.  The
// returned channel realizes once every message has been accepted.
func EmitInOrder(msgs []interface{}, ch *Channel) *result.Channel {
	i := 0
	p := &pipeline.Pipeline{
		Description: "emit-in-order",
		Stages: []pipeline.Stage{
			func(interface{}) interface{} {
				if len(msgs) <= i {
					return pipeline.Complete{}
				}
				msg := msgs[i]
				i++
				sr := ch.Enqueue(msg)
				if rc, is := isDeferred(sr); is {
					return rc
				}
				return nil
			},
			func(interface{}) interface{} {
				return pipeline.Restart{}
			},
		},
	}
	return p.Run(nil)
}

// driver parameterizes the shared in-order read loop behind the
// streaming operators: an accumulator, a per-message step, and an
// optional batch of final messages once the source drains.
type driver struct {
	description string
	initial     interface{}

	// onMessage consumes one message: it returns the new
	// accumulator, messages to emit downstream, and whether the
	// operator is finished early.
	onMessage func(acc, msg interface{}) (next interface{}, emit []interface{}, done bool)

	// final, if not nil, yields messages to emit when the source
	// drains (it does not run after an early finish).
	final func(acc interface{}) []interface{}
}

// runDriver runs a driver between src and a mimic of src, returning
// the output channel.
func runDriver(src *Channel, d *driver) *Channel {
	out := Mimic(src)
	acc := d.initial
	finished := false

	done := BridgeInOrder(src, nil, d.description, func(msg interface{}) interface{} {
		next, emit, stop := d.onMessage(acc, msg)
		acc = next

		// Emits that merely buffer in the output queue do not
		// defer the read loop; only a deferred returned by a
		// user callback does, and these operators have none.
		for _, m := range emit {
			out.Enqueue(m)
		}

		if stop {
			finished = true
			return pipeline.Complete{}
		}
		return nil
	})

	done.Subscribe(&result.Listener{
		OnSuccess: func(interface{}) {
			if !finished && d.final != nil {
				for _, m := range d.final(acc) {
					out.Enqueue(m)
				}
			}
			out.Close()
		},
		OnError: func(err error) {
			out.Error(err)
		},
	})

	return out
}

// Take produces the first n messages of src and then closes.
func Take(n int, src *Channel) *Channel {
	if n <= 0 {
		out := Mimic(src)
		out.Close()
		return out
	}
	count := 0
	return runDriver(src, &driver{
		description: "take",
		onMessage: func(acc, msg interface{}) (interface{}, []interface{}, bool) {
			count++
			return acc, []interface{}{msg}, n <= count
		},
	})
}

// TakeWhile produces messages of src until p rejects one, then
// closes.  The rejected message is not emitted.
func TakeWhile(p func(interface{}) bool, src *Channel) *Channel {
	return runDriver(src, &driver{
		description: "take-while",
		onMessage: func(acc, msg interface{}) (interface{}, []interface{}, bool) {
			if !p(msg) {
				return acc, nil, true
			}
			return acc, []interface{}{msg}, false
		},
	})
}

// unset marks a reduction that has not seen its first message.
type unset struct{}

// Reductions emits the running reduction of f over src: the first
// message as-is, then f(acc, msg) for each subsequent message.
func Reductions(f func(acc, v interface{}) interface{}, src *Channel) *Channel {
	return runDriver(src, &driver{
		description: "reductions",
		initial:     unset{},
		onMessage: func(acc, msg interface{}) (interface{}, []interface{}, bool) {
			if _, fresh := acc.(unset); fresh {
				return msg, []interface{}{msg}, false
			}
			next := f(acc, msg)
			return next, []interface{}{next}, false
		},
	})
}

// Reduce realizes with f folded over all messages of src once src
// drains.  The first message seeds the accumulator; reducing a
// stream that drains without a message errors with queue.ErrDrained.
func Reduce(f func(acc, v interface{}) interface{}, src *Channel) *result.Channel {
	acc := interface{}(unset{})
	rc := result.NewChannel()
	done := ReceiveInOrder(src, func(msg interface{}) interface{} {
		if _, fresh := acc.(unset); fresh {
			acc = msg
		} else {
			acc = f(acc, msg)
		}
		return nil
	})
	done.Subscribe(&result.Listener{
		OnSuccess: func(interface{}) {
			if _, fresh := acc.(unset); fresh {
				if rc.Claim() {
					rc.Error(queue.ErrDrained)
				}
				return
			}
			if rc.Claim() {
				rc.Success(acc)
			}
		},
		OnError: func(err error) {
			if rc.Claim() {
				rc.Error(err)
			}
		},
	})
	return rc
}

// Last realizes with the final message of src once src drains.
func Last(src *Channel) *result.Channel {
	return Reduce(func(acc, v interface{}) interface{} {
		return v
	}, src)
}

// Partition groups messages of src into consecutive slices of n,
// dropping an incomplete trailing group.
func Partition(n int, src *Channel) *Channel {
	return partition(n, src, false)
}

// PartitionAll is Partition, but an incomplete trailing group is
// emitted when src drains.
func PartitionAll(n int, src *Channel) *Channel {
	return partition(n, src, true)
}

func partition(n int, src *Channel, all bool) *Channel {
	return runDriver(src, &driver{
		description: "partition",
		initial:     []interface{}(nil),
		onMessage: func(acc, msg interface{}) (interface{}, []interface{}, bool) {
			group := append(acc.([]interface{}), msg)
			if len(group) < n {
				return group, nil, false
			}
			return []interface{}(nil), []interface{}{group}, false
		},
		final: func(acc interface{}) []interface{} {
			group := acc.([]interface{})
			if !all || len(group) == 0 {
				return nil
			}
			return []interface{}{group}
		},
	})
}

// Concat flattens each message of src: a []interface{} message is
// emitted element by element, anything else passes through.
func Concat(src *Channel) *Channel {
	return runDriver(src, &driver{
		description: "concat",
		onMessage: func(acc, msg interface{}) (interface{}, []interface{}, bool) {
			if s, is := msg.([]interface{}); is {
				return acc, s, false
			}
			return acc, []interface{}{msg}, false
		},
	})
}

// Mapcat maps each message through f and emits the elements of the
// resulting slice.
func Mapcat(f func(interface{}) []interface{}, src *Channel) *Channel {
	return runDriver(src, &driver{
		description: "mapcat",
		onMessage: func(acc, msg interface{}) (interface{}, []interface{}, bool) {
			return acc, f(msg), false
		},
	})
}
