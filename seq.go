package runnel

import (
	"time"

	"github.com/runnel/runnel/result"
)

// ToSlice drains every message currently available on the channel and
// returns them in order.  On a closed channel this is the complete
// remaining contents.  It never waits: a pending read is cancelled
// and the slice so far returned.
func ToSlice(c *Channel) []interface{} {
	var out []interface{}
	for {
		rc := c.emitter.Receive(nil)
		v, err, ok := rc.Result()
		if !ok {
			c.emitter.CancelReceive(rc)
			return out
		}
		if err != nil {
			return out
		}
		out = append(out, v)
	}
}

// Iterator pulls messages one at a time, blocking the calling
// goroutine.  It is the bridge between the callback-driven engine and
// sequential code.
type Iterator struct {
	c       *Channel
	timeout time.Duration
}

// Iterate returns a blocking iterator over the channel.  A timeout
// <= 0 means each Next waits indefinitely.
func Iterate(c *Channel, timeout time.Duration) *Iterator {
	return &Iterator{
		c:       c,
		timeout: timeout,
	}
}

// Next returns the next message.  It returns queue.ErrDrained once
// the channel drains, and ErrTimeout if the wait exceeds the
// iterator's timeout (the underlying read is cancelled, so no message
// is lost).
func (it *Iterator) Next() (interface{}, error) {
	rc := it.c.Read()
	v, err := rc.Await(it.timeout)
	if err == result.ErrTimeout {
		// Settle the race against a late arrival by claiming.
		if rc.Claim() {
			rc.Error(result.ErrTimeout)
			it.c.CancelRead(rc)
			return nil, result.ErrTimeout
		}
		return rc.Await(0)
	}
	return v, err
}
