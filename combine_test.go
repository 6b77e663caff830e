package runnel

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCombineLatestWaitsForAll(t *testing.T) {
	a, b := New(), New()
	out := CombineLatest(func(vs []interface{}) interface{} {
		return vs[0].(int) + vs[1].(int)
	}, a, b)

	var heard []interface{}
	_, err := out.ReceiveAll(func(v interface{}) { heard = append(heard, v) })
	require.NoError(t, err)

	a.Enqueue(1)
	a.Enqueue(2)
	assert.Empty(t, heard, "emitted before every input produced")

	b.Enqueue(10)
	require.Len(t, heard, 1)
	assert.Equal(t, 12, heard[0])

	a.Enqueue(3)
	require.Len(t, heard, 2)
	assert.Equal(t, 13, heard[1])
}

func TestCombineLatestClosesWithInputs(t *testing.T) {
	a, b := New(), New()
	out := CombineLatest(func(vs []interface{}) interface{} { return vs }, a, b)

	a.Close()
	assert.False(t, out.IsClosed(), "closed with one input still open")

	b.Close()
	assert.True(t, out.IsClosed())
}

func TestCombineLatestNoInputs(t *testing.T) {
	out := CombineLatest(func(vs []interface{}) interface{} { return vs })
	assert.True(t, out.IsClosed())
}
