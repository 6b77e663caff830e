package queue

import (
	"errors"
	"testing"

	"github.com/runnel/runnel/result"
)

func variants(t *testing.T, f func(t *testing.T, mk func() Queue)) {
	t.Run("lock", func(t *testing.T) {
		f(t, New)
	})
	t.Run("transactional", func(t *testing.T) {
		f(t, NewTransactional)
	})
}

func TestEnqueueThenReceive(t *testing.T) {
	variants(t, func(t *testing.T, mk func() Queue) {
		q := mk()

		r := q.Enqueue(Message{Payload: "m"}, true, nil)
		listener, is := r.(*result.Channel)
		if !is {
			t.Fatalf("persisted enqueue returned %v", r)
		}
		if listener.IsRealized() {
			t.Fatal("listener realized before consumption")
		}
		if q.Len() != 1 {
			t.Fatalf("len %d", q.Len())
		}

		rc := q.Receive(nil)
		v, err, ok := rc.Result()
		if !ok || err != nil || v != "m" {
			t.Fatalf("got %v, %v, %v", v, err, ok)
		}

		// Consumption realizes the message's listener.
		if got := listener.SuccessValue(nil); got != Consumed {
			t.Fatalf("listener got %v", got)
		}
	})
}

func TestReceiveThenEnqueue(t *testing.T) {
	variants(t, func(t *testing.T, mk func() Queue) {
		q := mk()

		rc := q.Receive(nil)
		if rc.IsRealized() {
			t.Fatal("receive on empty queue realized")
		}

		r := q.Enqueue(Message{Payload: "m"}, true, nil)
		if r != Consumed {
			t.Fatalf("enqueue returned %v", r)
		}
		if v := rc.SuccessValue(nil); v != "m" {
			t.Fatalf("consumer got %v", v)
		}
		if q.Len() != 0 {
			t.Fatal("message persisted despite dispatch")
		}
	})
}

func TestDiscarded(t *testing.T) {
	variants(t, func(t *testing.T, mk func() Queue) {
		q := mk()
		if r := q.Enqueue(Message{Payload: "m"}, false, nil); r != Discarded {
			t.Fatalf("got %v", r)
		}
		if q.Len() != 0 {
			t.Fatal("discarded message persisted")
		}
	})
}

func TestReleaseRuns(t *testing.T) {
	variants(t, func(t *testing.T, mk func() Queue) {
		q := mk()
		released := false
		q.Enqueue(Message{Payload: "m"}, false, func() { released = true })
		if !released {
			t.Fatal("release not called")
		}
	})
}

func TestPredicatedConsumer(t *testing.T) {
	variants(t, func(t *testing.T, mk func() Queue) {
		q := mk()

		rc := q.Receive(&Consumer{
			Predicate:  func(v interface{}) bool { return v == "yes" },
			FalseValue: "nope",
		})

		// A rejected message realizes the consumer with the
		// false value and is not consumed.
		r := q.Enqueue(Message{Payload: "no"}, true, nil)
		if v := rc.SuccessValue(nil); v != "nope" {
			t.Fatalf("consumer got %v", v)
		}
		listener, is := r.(*result.Channel)
		if !is {
			t.Fatalf("rejected message not persisted: %v", r)
		}
		if listener.IsRealized() {
			t.Fatal("unconsumed message's listener realized")
		}
		if q.Len() != 1 {
			t.Fatal("rejected message not in queue")
		}

		// A matching receive pops it.
		rc2 := q.Receive(&Consumer{
			Predicate: func(v interface{}) bool { return v == "no" },
		})
		if v := rc2.SuccessValue(nil); v != "no" {
			t.Fatalf("got %v", v)
		}
	})
}

func TestPredicatedReceiveLeavesMessage(t *testing.T) {
	variants(t, func(t *testing.T, mk func() Queue) {
		q := mk()
		q.Enqueue(Message{Payload: 1}, true, nil)

		rc := q.Receive(&Consumer{
			Predicate:  func(v interface{}) bool { return false },
			FalseValue: "skip",
		})
		if v := rc.SuccessValue(nil); v != "skip" {
			t.Fatalf("got %v", v)
		}
		if q.Len() != 1 {
			t.Fatal("message consumed by rejecting receive")
		}
	})
}

func TestPredicatePanicErrorsConsumer(t *testing.T) {
	variants(t, func(t *testing.T, mk func() Queue) {
		q := mk()
		rc := q.Receive(&Consumer{
			Predicate: func(v interface{}) bool { panic("bad predicate") },
		})
		q.Enqueue(Message{Payload: 1}, true, nil)
		if rc.ErrorValue(nil) == nil {
			t.Fatal("consumer not errored")
		}
	})
}

func TestCancelReceive(t *testing.T) {
	variants(t, func(t *testing.T, mk func() Queue) {
		q := mk()
		rc := q.Receive(nil)

		if !q.CancelReceive(rc) {
			t.Fatal("cancel refused")
		}
		if err := rc.ErrorValue(nil); err != ErrCancelled {
			t.Fatalf("got %v", err)
		}
		// Double-cancel is idempotent.
		if q.CancelReceive(rc) {
			t.Fatal("second cancel accepted")
		}

		// A cancelled receive releases no message.
		q.Enqueue(Message{Payload: "m"}, true, nil)
		rc2 := q.Receive(nil)
		if v := rc2.SuccessValue(nil); v != "m" {
			t.Fatalf("next receive got %v", v)
		}
	})
}

// TestCancelledConsumerSkipped registers two consumers, claims the
// first externally, and checks dispatch retries to the second.
func TestCancelledConsumerSkipped(t *testing.T) {
	variants(t, func(t *testing.T, mk func() Queue) {
		q := mk()
		first := q.Receive(nil)
		second := q.Receive(nil)

		if !first.Claim() {
			t.Fatal("claim failed")
		}

		if r := q.Enqueue(Message{Payload: "m"}, true, nil); r != Consumed {
			t.Fatalf("got %v", r)
		}
		if v := second.SuccessValue(nil); v != "m" {
			t.Fatalf("second consumer got %v", v)
		}
		_ = first
	})
}

func TestCloseDrain(t *testing.T) {
	variants(t, func(t *testing.T, mk func() Queue) {
		q := mk()
		q.Enqueue(Message{Payload: 1}, true, nil)
		q.Enqueue(Message{Payload: 2}, true, nil)

		q.Close()
		if !q.Closed() {
			t.Fatal("not closed")
		}
		if q.Drained() {
			t.Fatal("drained with buffered messages")
		}

		if r := q.Enqueue(Message{Payload: 3}, true, nil); r != AlreadyClosed {
			t.Fatalf("enqueue after close returned %v", r)
		}

		for want := 1; want <= 2; want++ {
			rc := q.Receive(nil)
			if v := rc.SuccessValue(nil); v != want {
				t.Fatalf("got %v, wanted %d", v, want)
			}
		}

		if !q.Drained() {
			t.Fatal("not drained after emptying")
		}
		rc := q.Receive(nil)
		if err := rc.ErrorValue(nil); err != ErrDrained {
			t.Fatalf("got %v", err)
		}
	})
}

func TestClosePendingConsumers(t *testing.T) {
	variants(t, func(t *testing.T, mk func() Queue) {
		q := mk()
		rc := q.Receive(nil)
		q.Close()
		if err := rc.ErrorValue(nil); err != ErrDrained {
			t.Fatalf("got %v", err)
		}
	})
}

func TestFailErrorsListeners(t *testing.T) {
	variants(t, func(t *testing.T, mk func() Queue) {
		q := mk()
		broken := errors.New("broken")

		r := q.Enqueue(Message{Payload: 1}, true, nil)
		listener := r.(*result.Channel)

		q.Fail(broken)

		if err := listener.ErrorValue(nil); err != broken {
			t.Fatalf("message listener got %v", err)
		}
		if err := q.Receive(nil).ErrorValue(nil); err != broken {
			t.Fatalf("later receive got %v", err)
		}
	})
}

func TestFailErrorsPendingConsumers(t *testing.T) {
	variants(t, func(t *testing.T, mk func() Queue) {
		q := mk()
		broken := errors.New("broken")

		waiting := q.Receive(nil)
		q.Fail(broken)

		if err := waiting.ErrorValue(nil); err != broken {
			t.Fatalf("pending consumer got %v", err)
		}
	})
}

func TestDegenerateError(t *testing.T) {
	broken := errors.New("broken")
	q := NewError(broken)

	r := q.Enqueue(Message{Payload: 1}, true, nil)
	rc, is := r.(*result.Channel)
	if !is {
		t.Fatalf("got %v", r)
	}
	if err := rc.ErrorValue(nil); err != broken {
		t.Fatalf("got %v", err)
	}
	if err := q.Receive(nil).ErrorValue(nil); err != broken {
		t.Fatalf("got %v", err)
	}
}

func TestDegenerateDrained(t *testing.T) {
	q := NewDrained()
	if r := q.Enqueue(Message{Payload: 1}, true, nil); r != AlreadyClosed {
		t.Fatalf("got %v", r)
	}
	if err := q.Receive(nil).ErrorValue(nil); err != ErrDrained {
		t.Fatalf("got %v", err)
	}
}

func TestTransactionalCopy(t *testing.T) {
	q := New()
	q.Enqueue(Message{Payload: 1}, true, nil)
	q.Enqueue(Message{Payload: 2}, true, nil)

	tq, err := TransactionalCopy(q)
	if err != nil {
		t.Fatal(err)
	}
	if !tq.Transactional() {
		t.Fatal("copy not transactional")
	}
	if tq.Len() != 2 {
		t.Fatalf("len %d", tq.Len())
	}
	if v := tq.Receive(nil).SuccessValue(nil); v != 1 {
		t.Fatalf("got %v", v)
	}

	if _, err := TransactionalCopy(tq); err != ErrQueueMixing {
		t.Fatalf("got %v", err)
	}
}
