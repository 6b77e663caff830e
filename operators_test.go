package runnel

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/runnel/runnel/queue"
	"github.com/runnel/runnel/result"
)

func ints(vs ...int) []interface{} {
	out := make([]interface{}, len(vs))
	for i, v := range vs {
		out[i] = v
	}
	return out
}

func TestTake(t *testing.T) {
	ch := NewClosed(1, 2, 3)
	got := ToSlice(Take(2, ch))
	assert.Equal(t, ints(1, 2), got)
}

func TestTakeClosesOutput(t *testing.T) {
	ch := New()
	out := Take(2, ch)
	ch.Enqueue(1)
	ch.Enqueue(2)
	ch.Enqueue(3)

	assert.True(t, out.IsClosed())
	assert.Equal(t, ints(1, 2), ToSlice(out))

	// The un-taken message stays with the source.
	assert.Equal(t, 3, ch.Read().SuccessValue(nil))
}

func TestTakeZero(t *testing.T) {
	ch := NewClosed(1)
	out := Take(0, ch)
	assert.True(t, out.IsClosed())
	assert.Empty(t, ToSlice(out))
}

func TestTakeWhile(t *testing.T) {
	ch := NewClosed(1, 2, 9, 3)
	got := ToSlice(TakeWhile(func(v interface{}) bool { return v.(int) < 5 }, ch))
	assert.Equal(t, ints(1, 2), got)
}

func TestReduce(t *testing.T) {
	ch := NewClosed(1, 3, 2)
	rc := Reduce(func(acc, v interface{}) interface{} {
		if v.(int) > acc.(int) {
			return v
		}
		return acc
	}, ch)
	v, err := rc.Await(time.Second)
	require.NoError(t, err)
	assert.Equal(t, 3, v)
}

func TestReduceEmpty(t *testing.T) {
	ch := NewClosed()
	rc := Reduce(func(acc, v interface{}) interface{} { return acc }, ch)
	_, err := rc.Await(time.Second)
	assert.Equal(t, queue.ErrDrained, err)
}

func TestReductions(t *testing.T) {
	ch := NewClosed(1, 2, 3)
	got := ToSlice(Reductions(func(acc, v interface{}) interface{} {
		return acc.(int) + v.(int)
	}, ch))
	assert.Equal(t, ints(1, 3, 6), got)
}

// The running reduction's last value equals the full reduction.
func TestReductionsLastEqualsReduce(t *testing.T) {
	add := func(acc, v interface{}) interface{} { return acc.(int) + v.(int) }

	last, err := Last(Reductions(add, NewClosed(5, 1, 4, 2))).Await(time.Second)
	require.NoError(t, err)

	reduced, err := Reduce(add, NewClosed(5, 1, 4, 2)).Await(time.Second)
	require.NoError(t, err)

	assert.Equal(t, reduced, last)
}

func TestPartitionAll(t *testing.T) {
	ch := NewClosed(1, 2, 3, 4)
	got := ToSlice(PartitionAll(2, ch))
	require.Len(t, got, 2)
	assert.Equal(t, ints(1, 2), got[0])
	assert.Equal(t, ints(3, 4), got[1])
}

func TestPartitionDropsRemainder(t *testing.T) {
	ch := NewClosed(1, 2, 3)
	got := ToSlice(Partition(2, ch))
	require.Len(t, got, 1)
	assert.Equal(t, ints(1, 2), got[0])
}

func TestPartitionAllKeepsRemainder(t *testing.T) {
	ch := NewClosed(1, 2, 3)
	got := ToSlice(PartitionAll(2, ch))
	require.Len(t, got, 2)
	assert.Equal(t, ints(3), got[1])
}

func TestLast(t *testing.T) {
	ch := NewClosed("a", "b", "c")
	v, err := Last(ch).Await(time.Second)
	require.NoError(t, err)
	assert.Equal(t, "c", v)
}

func TestConcat(t *testing.T) {
	ch := NewClosed(ints(1, 2), ints(3))
	assert.Equal(t, ints(1, 2, 3), ToSlice(Concat(ch)))
}

func TestMapcat(t *testing.T) {
	ch := NewClosed(1, 2)
	got := ToSlice(Mapcat(func(v interface{}) []interface{} {
		return ints(v.(int), v.(int)*10)
	}, ch))
	assert.Equal(t, ints(1, 10, 2, 20), got)
}

func TestRoundTripToSlice(t *testing.T) {
	ch := New()
	want := ints(3, 1, 4, 1, 5)
	for _, v := range want {
		ch.Enqueue(v)
	}
	ch.Close()
	assert.Equal(t, want, ToSlice(ch))
}

func TestForkIndependentClose(t *testing.T) {
	src := New()
	f := Fork(src)

	src.Enqueue(1)
	assert.Equal(t, 1, f.Read().SuccessValue(nil))

	f.Close()
	assert.False(t, src.IsClosed(), "fork close reached source")

	// Closing the source reaches the fork.
	src2 := New()
	f2 := Fork(src2)
	src2.Close()
	assert.True(t, f2.IsClosed())
}

func TestForkSeesBacklog(t *testing.T) {
	src := New()
	src.Enqueue(1)
	src.Enqueue(2)
	f := Fork(src)
	assert.Equal(t, ints(1, 2), ToSlice(f))
}

func TestTapNoBackpressure(t *testing.T) {
	src := New()
	tap := Tap(src)

	// Nobody reads the tap, but the send-result must not wait on
	// it.
	var reader []interface{}
	_, err := src.ReceiveAll(func(v interface{}) { reader = append(reader, v) })
	require.NoError(t, err)

	r := src.Enqueue("m")
	if rc, is := isDeferred(r); is {
		assert.True(t, rc.IsRealized(), "send-result pending on tap")
	}
	assert.Equal(t, []interface{}{"m"}, reader)
	assert.Equal(t, "m", tap.Read().SuccessValue(nil))

	tap.Close()
	assert.False(t, src.IsClosed())
}

func TestSiphonCloses(t *testing.T) {
	src, dst := New(), New()
	require.NoError(t, Siphon(src, dst))
	src.Enqueue("m")
	assert.Equal(t, "m", dst.Read().SuccessValue(nil))

	src.Close()
	assert.True(t, dst.IsClosed())
}

func TestJoinClosesBothWays(t *testing.T) {
	src, dst := New(), New()
	require.NoError(t, Join(src, dst))

	dst.Close()
	assert.True(t, src.IsClosed(), "join close did not propagate upstream")
}

func TestBridgeJoinBackpressure(t *testing.T) {
	src, dst := New(), New()
	slow := result.NewChannel()
	require.NoError(t, BridgeJoin(src, dst, "bridge", func(v interface{}) interface{} {
		dst.Enqueue(v)
		return slow
	}))

	r := src.Enqueue("m")
	rc, is := isDeferred(r)
	require.True(t, is)
	assert.False(t, rc.IsRealized(), "bridge callback's deferred ignored")

	slow.Success(nil)
	assert.True(t, rc.IsRealized())
	assert.Equal(t, "m", dst.Read().SuccessValue(nil))
}

func TestBridgeInOrderSerializes(t *testing.T) {
	src := New()

	var (
		mu       sync.Mutex
		active   int32
		overlaps int32
		heard    []interface{}
		waiters  []*result.Channel
	)

	done := BridgeInOrder(src, nil, "test", func(v interface{}) interface{} {
		if atomic.AddInt32(&active, 1) != 1 {
			atomic.AddInt32(&overlaps, 1)
		}
		mu.Lock()
		heard = append(heard, v)
		rc := result.NewChannel()
		waiters = append(waiters, rc)
		mu.Unlock()
		atomic.AddInt32(&active, -1)
		return rc
	})

	src.Enqueue(1)
	src.Enqueue(2)

	// The second message must wait for the first callback's
	// deferred.
	mu.Lock()
	require.Len(t, heard, 1)
	first := waiters[0]
	mu.Unlock()

	first.Success(nil)

	mu.Lock()
	require.Len(t, heard, 2)
	assert.Equal(t, ints(1, 2), heard)
	second := waiters[1]
	mu.Unlock()

	second.Success(nil)
	src.Close()

	_, err := done.Await(time.Second)
	require.NoError(t, err)
	assert.Zero(t, atomic.LoadInt32(&overlaps))
}

func TestReceiveInOrderDrains(t *testing.T) {
	ch := NewClosed(1, 2, 3)
	var heard []interface{}
	done := ReceiveInOrder(ch, func(v interface{}) interface{} {
		heard = append(heard, v)
		return nil
	})
	_, err := done.Await(time.Second)
	require.NoError(t, err)
	assert.Equal(t, ints(1, 2, 3), heard)
}

func TestEmitInOrder(t *testing.T) {
	ch := New()
	var heard []interface{}
	_, err := ch.ReceiveAll(func(v interface{}) { heard = append(heard, v) })
	require.NoError(t, err)

	done := EmitInOrder(ints(1, 2, 3), ch)
	_, aerr := done.Await(time.Second)
	require.NoError(t, aerr)
	assert.Equal(t, ints(1, 2, 3), heard)
}

func TestIterator(t *testing.T) {
	ch := NewClosed("a", "b")
	it := Iterate(ch, 100*time.Millisecond)

	v, err := it.Next()
	require.NoError(t, err)
	assert.Equal(t, "a", v)

	v, err = it.Next()
	require.NoError(t, err)
	assert.Equal(t, "b", v)

	_, err = it.Next()
	assert.Equal(t, queue.ErrDrained, err)
}

func TestIteratorTimeout(t *testing.T) {
	ch := New()
	it := Iterate(ch, 20*time.Millisecond)
	_, err := it.Next()
	assert.Equal(t, ErrTimeout, err)

	// The timed-out read left the channel intact.
	ch.Enqueue("m")
	v, err := it.Next()
	require.NoError(t, err)
	assert.Equal(t, "m", v)
}
