// Package timer provides the process-wide timer facility behind
// timed results and the periodic operators.  At any point in time
// only one time.Timer exists to implement all managed timers: entries
// live in a minimum-heap keyed by trigger time, and a single worker
// goroutine sleeps until the earliest entry is due.
//
// A Timers instance is designed to manage a few hundred entries, not
// many thousands.  When an entry fires, its work runs in a new
// goroutine, so it's kinda okay for that work to block.
package timer

import (
	"container/heap"
	"sync"
	"time"

	"gopkg.in/tomb.v2"

	"github.com/runnel/runnel/result"
)

type entry struct {
	at     time.Time
	f      func()
	seq    uint64
	index  int
	cancel bool
}

type entryHeap []*entry

func (h entryHeap) Len() int { return len(h) }

func (h entryHeap) Less(i, j int) bool {
	if h[i].at.Equal(h[j].at) {
		return h[i].seq < h[j].seq
	}
	return h[i].at.Before(h[j].at)
}

func (h entryHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *entryHeap) Push(x interface{}) {
	e := x.(*entry)
	e.index = len(*h)
	*h = append(*h, e)
}

func (h *entryHeap) Pop() interface{} {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	e.index = -1
	*h = old[:n-1]
	return e
}

// Timers is a managed set of pending timers driven by one worker
// goroutine.  The worker starts when the Timers is created and runs
// until Stop.
type Timers struct {
	mu      sync.Mutex
	pending entryHeap
	seq     uint64
	wake    chan struct{}
	t       tomb.Tomb
}

// New creates a Timers and starts its worker.
func New() *Timers {
	ts := &Timers{
		wake: make(chan struct{}, 1),
	}
	ts.t.Go(ts.run)
	return ts
}

var (
	defaultOnce   sync.Once
	defaultTimers *Timers
)

// Default returns the process-wide Timers, creating it on first use.
// Code that isn't handed an explicit Timers falls back to this one.
func Default() *Timers {
	defaultOnce.Do(func() {
		defaultTimers = New()
	})
	return defaultTimers
}

// Stop kills the worker and waits for it to exit.  Pending entries
// never fire.  The process-wide Default is not meant to be stopped.
func (ts *Timers) Stop() error {
	ts.t.Kill(nil)
	return ts.t.Wait()
}

// Pending reports the number of entries waiting to fire.
func (ts *Timers) Pending() int {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	n := 0
	for _, e := range ts.pending {
		if !e.cancel {
			n++
		}
	}
	return n
}

// Schedule runs f once, on its own goroutine, no sooner than d from
// now.  The returned function cancels the entry; cancelling after the
// fire is a no-op.
func (ts *Timers) Schedule(d time.Duration, f func()) (cancel func()) {
	e := ts.add(time.Now().Add(d), f)
	return func() {
		ts.remove(e)
	}
}

// Every runs f once per period until cancelled.  The first run is one
// period from now.
func (ts *Timers) Every(period time.Duration, f func()) (cancel func()) {
	return ts.AtSchedule(periodic(period), f)
}

// AtSchedule runs f at every tick of the given Schedule until the
// schedule is exhausted or the returned function is called.
func (ts *Timers) AtSchedule(s Schedule, f func()) (cancel func()) {
	var (
		mu        sync.Mutex
		cancelled bool
		current   *entry
	)
	var arm func(from time.Time)
	arm = func(from time.Time) {
		next := s.Next(from)
		if next.IsZero() {
			return
		}
		mu.Lock()
		defer mu.Unlock()
		if cancelled {
			return
		}
		current = ts.add(next, func() {
			f()
			arm(next)
		})
	}
	arm(time.Now())
	return func() {
		mu.Lock()
		defer mu.Unlock()
		cancelled = true
		if current != nil {
			ts.remove(current)
		}
	}
}

// After returns a result channel that becomes success(v) once d has
// passed.  The completion goes through Claim, so a caller that claims
// the channel first (say to cancel) wins the race.
func (ts *Timers) After(d time.Duration, v interface{}) *result.Channel {
	rc := result.NewChannel()
	ts.Schedule(d, func() {
		if rc.Claim() {
			rc.Success(v)
		}
	})
	return rc
}

func (ts *Timers) add(at time.Time, f func()) *entry {
	ts.mu.Lock()
	ts.seq++
	e := &entry{
		at:  at,
		f:   f,
		seq: ts.seq,
	}
	heap.Push(&ts.pending, e)
	first := e.index == 0
	ts.mu.Unlock()
	if first {
		ts.kick()
	}
	return e
}

func (ts *Timers) remove(e *entry) {
	ts.mu.Lock()
	if 0 <= e.index {
		e.cancel = true
		heap.Remove(&ts.pending, e.index)
	}
	ts.mu.Unlock()
	ts.kick()
}

func (ts *Timers) kick() {
	select {
	case ts.wake <- struct{}{}:
	default:
	}
}

// run is the worker loop.  It sleeps until the head of the heap is
// due, pops everything that is due, and fires each entry in its own
// goroutine.
func (ts *Timers) run() error {
	const idle = time.Hour

	timer := time.NewTimer(idle)
	defer timer.Stop()

	for {
		var due []*entry

		ts.mu.Lock()
		now := time.Now()
		for 0 < len(ts.pending) && !ts.pending[0].at.After(now) {
			e := heap.Pop(&ts.pending).(*entry)
			if !e.cancel {
				due = append(due, e)
			}
		}
		d := idle
		if 0 < len(ts.pending) {
			d = ts.pending[0].at.Sub(now)
		}
		ts.mu.Unlock()

		for _, e := range due {
			go e.f()
		}

		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(d)

		select {
		case <-ts.t.Dying():
			return nil
		case <-ts.wake:
		case <-timer.C:
		}
	}
}
