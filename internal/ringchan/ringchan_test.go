package ringchan

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func drain[T any](t *testing.T, c *Channel[T]) []T {
	t.Helper()
	var got []T
	timeout := time.After(2 * time.Second)
	for {
		select {
		case v, ok := <-c.C():
			if !ok {
				return got
			}
			got = append(got, v)
		case <-timeout:
			t.Fatalf("receive side MUST be closed after Close, got %v so far", got)
			return got
		}
	}
}

func TestChannel_OverwritesOldest(t *testing.T) {
	// GOAL: Verify a full channel keeps the newest values and counts the overwritten ones
	//
	// TEST SCENARIO: capacity 3 → 10 sends without a reader → close → newest values survive in order, the rest are counted as dropped

	c := New[int](3)
	for i := 0; i < 10; i++ {
		require.True(t, c.Send(i), "send MUST succeed on an open channel")
	}
	c.Close()

	got := drain(t, c)
	stats := c.Stats()

	assert.Equal(t, int64(10), stats.Sent)
	require.GreaterOrEqual(t, len(got), 3, "at least capacity values MUST survive")
	assert.Less(t, len(got), 10, "oldest values MUST be overwritten")
	assert.Equal(t, 9, got[len(got)-1], "newest value MUST survive")
	assert.IsIncreasing(t, got, "order MUST be preserved")
	assert.Positive(t, stats.Dropped, "overwrites MUST be counted")
}

func TestChannel_DeliversInOrderWhenReaderKeepsUp(t *testing.T) {
	c := New[int](1)
	var got []int
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for v := range c.C() {
			got = append(got, v)
		}
	}()

	for i := 0; i < 5; i++ {
		c.Send(i)
		require.Eventually(t, func() bool { return c.buffer.IsEmpty() }, time.Second, time.Millisecond)
	}
	c.Close()
	wg.Wait()

	assert.Equal(t, []int{0, 1, 2, 3, 4}, got)
	assert.Zero(t, c.Stats().Dropped)
}

func TestChannel_SendAfterClose(t *testing.T) {
	c := New[string](1)
	c.Close()
	c.Close()

	assert.NotPanics(t, func() {
		assert.False(t, c.Send("late"), "send after close MUST be rejected")
	})
	assert.Empty(t, drain(t, c))
}

func TestChannel_DiscardClosesWithoutReader(t *testing.T) {
	c := New[int](4)
	c.Send(1)
	c.Send(2)

	c.Discard()
	c.Discard()

	assert.False(t, c.Send(3), "send after discard MUST be rejected")
	assert.Eventually(t, func() bool {
		for range c.C() {
		}
		return true
	}, time.Second, time.Millisecond, "receive side MUST be closed after Discard")
}

func TestChannel_ConcurrentSendAndClose(t *testing.T) {
	c := New[int](4)
	var wg sync.WaitGroup
	for g := 0; g < 4; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 1000; i++ {
				c.Send(i)
			}
		}()
	}
	received := make(chan int)
	go func() {
		n := 0
		for range c.C() {
			n++
		}
		received <- n
	}()

	wg.Wait()
	c.Close()
	n := <-received

	assert.Equal(t, int64(4000), c.Stats().Sent)
	assert.Positive(t, n, "newest values MUST be delivered")
	assert.LessOrEqual(t, n, 4000)
}

func TestNew_PanicsOnZeroCapacity(t *testing.T) {
	assert.Panics(t, func() { New[int](0) })
}
