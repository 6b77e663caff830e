package runnel

import (
	"sync"
	"time"

	"github.com/runnel/runnel/timer"
)

// Periodically creates a channel that emits f() every period until
// closed.
func Periodically(period time.Duration, f func() interface{}) *Channel {
	return emitOnSchedule(timer.EveryPeriod(period), "periodically", f)
}

// AtSchedule creates a channel that emits f() at every tick of the
// given schedule until closed.
func AtSchedule(s timer.Schedule, f func() interface{}) *Channel {
	return emitOnSchedule(s, "at-schedule", f)
}

// AtCron is AtSchedule over a cron expression.
func AtCron(expr string, f func() interface{}) (*Channel, error) {
	s, err := timer.ParseCron(expr)
	if err != nil {
		return nil, err
	}
	return AtSchedule(s, f), nil
}

func emitOnSchedule(s timer.Schedule, desc string, f func() interface{}) *Channel {
	ch := NewWith(&Options{Description: desc})
	cancel := ch.timers.AtSchedule(s, func() {
		ch.Enqueue(f())
	})
	ch.OnClosed(cancel)
	return ch
}

// SampleEvery emits, once per period, the message most recently seen
// on src.  Periods before src has produced anything emit nothing.
// The sample closes when src closes.
func SampleEvery(period time.Duration, src *Channel) *Channel {
	out := Mimic(src)

	var (
		mu     sync.Mutex
		latest interface{}
		seen   bool
	)

	cancelSub, err := src.ReceiveAll(func(v interface{}) {
		mu.Lock()
		latest = v
		seen = true
		mu.Unlock()
	})
	if err != nil {
		out.Error(err)
		return out
	}

	cancelTimer := out.timers.Every(period, func() {
		mu.Lock()
		v, have := latest, seen
		mu.Unlock()
		if have {
			out.Enqueue(v)
		}
	})

	src.OnClosed(func() {
		cancelTimer()
		cancelSub()
		out.Close()
	})
	return out
}

// PartitionEvery buffers the messages arriving on src during each
// period and emits them as one batch, empty batches included.  A
// trailing partial batch is emitted when src closes.
func PartitionEvery(period time.Duration, src *Channel) *Channel {
	out := Mimic(src)

	var (
		mu    sync.Mutex
		batch []interface{}
	)

	flush := func() {
		mu.Lock()
		b := batch
		batch = nil
		mu.Unlock()
		if b == nil {
			b = []interface{}{}
		}
		out.Enqueue(b)
	}

	cancelSub, err := src.ReceiveAll(func(v interface{}) {
		mu.Lock()
		batch = append(batch, v)
		mu.Unlock()
	})
	if err != nil {
		out.Error(err)
		return out
	}

	cancelTimer := out.timers.Every(period, flush)

	src.OnClosed(func() {
		cancelTimer()
		cancelSub()
		flush()
		out.Close()
	})
	return out
}
