package ringbuffer

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/your-org/roadrunner-sentry/internal/protocol"
)

func TestNewInvalidCapacity(t *testing.T) {
	for _, capacity := range []int{0, -1} {
		rb, err := New[int](capacity)
		assert.Nil(t, rb)
		assert.ErrorIs(t, err, protocol.ErrInvalidConfiguration)
	}
}

func TestPushOverwritesOldest(t *testing.T) {
	for _, capacity := range []int{1, 2, 5} {
		for n := capacity + 1; n < capacity*3+2; n++ {
			rb, err := New[int](capacity)
			require.NoError(t, err)
			for i := 0; i < n; i++ {
				rb.Push(i)
			}
			expected := make([]int, 0, capacity)
			for i := n - capacity; i < n; i++ {
				expected = append(expected, i)
			}
			assert.Equal(t, capacity, rb.Count())
			assert.Equal(t, expected, rb.ToSlice())
		}
	}
}

func TestPushReportsEviction(t *testing.T) {
	rb, err := New[string](2)
	require.NoError(t, err)
	assert.False(t, rb.Push("a"))
	assert.False(t, rb.Push("b"))
	assert.True(t, rb.IsFull())
	assert.True(t, rb.Push("c"))
	assert.Equal(t, []string{"b", "c"}, rb.ToSlice())
}

func TestPeekAndShift(t *testing.T) {
	rb, err := New[int](3)
	require.NoError(t, err)

	_, ok := rb.PeekFront()
	assert.False(t, ok)
	_, ok = rb.Shift()
	assert.False(t, ok)

	for i := 1; i <= 4; i++ {
		rb.Push(i)
	}
	front, _ := rb.PeekFront()
	back, _ := rb.PeekBack()
	assert.Equal(t, 2, front)
	assert.Equal(t, 4, back)

	v, ok := rb.Shift()
	assert.True(t, ok)
	assert.Equal(t, 2, v)
	assert.Equal(t, 2, rb.Count())

	rb.Push(5)
	rb.Push(6)
	assert.Equal(t, []int{4, 5, 6}, rb.ToSlice())
}

func TestDrainAndClear(t *testing.T) {
	rb, err := New[int](3)
	require.NoError(t, err)
	rb.Push(1)
	rb.Push(2)

	assert.Equal(t, []int{1, 2}, rb.Drain())
	assert.Equal(t, 0, rb.Count())
	assert.Empty(t, rb.Drain())

	rb.Push(3)
	rb.Clear()
	assert.Equal(t, 0, rb.Count())
	assert.Equal(t, 3, rb.Cap())
	rb.Push(4)
	assert.Equal(t, []int{4}, rb.ToSlice())
}

func TestConcurrentPush(t *testing.T) {
	rb, err := New[int](64)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 1000; i++ {
				rb.Push(i)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 64, rb.Count())
}
