package runnel

import (
	"sync"
)

// CombineLatest emits f over the most recent message of every input,
// re-emitting whenever any input updates -- but nothing at all until
// every input has produced at least once.  The output closes when all
// inputs have closed.
func CombineLatest(f func(vs []interface{}) interface{}, chs ...*Channel) *Channel {
	out := New()
	if len(chs) == 0 {
		out.Close()
		return out
	}

	var (
		mu     sync.Mutex
		latest = make([]interface{}, len(chs))
		seen   = make([]bool, len(chs))
		closed int
	)

	allSeen := func() bool {
		for _, s := range seen {
			if !s {
				return false
			}
		}
		return true
	}

	for i, ch := range chs {
		i := i
		ch.ReceiveAll(func(v interface{}) {
			mu.Lock()
			latest[i] = v
			seen[i] = true
			var vs []interface{}
			if allSeen() {
				vs = make([]interface{}, len(latest))
				copy(vs, latest)
			}
			mu.Unlock()
			if vs != nil {
				out.Enqueue(f(vs))
			}
		})
		ch.OnClosed(func() {
			mu.Lock()
			closed++
			done := closed == len(chs)
			mu.Unlock()
			if done {
				out.Close()
			}
		})
	}
	return out
}
