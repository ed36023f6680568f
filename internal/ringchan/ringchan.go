// Package ringchan provides a bounded channel that never blocks its producer:
// when the buffer is full the oldest element is dropped.
package ringchan

import (
	"sync"
	"sync/atomic"

	"github.com/hedzr/go-ringbuf/v2/mpmc"
)

// Channel is a bounded, overwrite-oldest channel. Producers call Send into an
// overlapped ring buffer; a pump goroutine moves values to C() in order.
// Sending after Close is a no-op instead of a panic.
type Channel[T any] struct {
	mu     sync.Mutex
	closed bool

	capacity int
	buffer   mpmc.RichOverlappedRingBuffer[T]
	out      chan T
	wake     chan struct{}
	done     chan struct{} // closed by Close: drain, then close out
	quit     chan struct{} // closed by Discard: exit without draining
	discard  sync.Once

	sent    atomic.Int64
	dropped atomic.Int64
}

// New creates a Channel holding at least capacity undelivered elements
func New[T any](capacity int) *Channel[T] {
	if capacity <= 0 {
		panic("ringchan: capacity must be > 0")
	}
	c := &Channel[T]{
		capacity: capacity,
		// The ring keeps one slot free and rounds up to a power of two.
		buffer: mpmc.NewOverlappedRingBuffer[T](uint32(capacity) + 1),
		out:    make(chan T),
		wake:   make(chan struct{}, 1),
		done:   make(chan struct{}),
		quit:   make(chan struct{}),
	}
	go c.pump()
	return c
}

// C returns the receive side. It is closed once Close was called and every
// buffered element was received.
func (c *Channel[T]) C() <-chan T {
	return c.out
}

// Send enqueues v, overwriting the oldest element when full.
// It reports false when the channel is already closed.
func (c *Channel[T]) Send(v T) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return false
	}

	overwrites, err := c.buffer.EnqueueM(v)
	if err != nil {
		c.dropped.Add(1)
		return true
	}
	c.dropped.Add(int64(overwrites))
	c.sent.Add(1)

	select {
	case c.wake <- struct{}{}:
	default:
	}
	return true
}

// Close stops accepting elements. Buffered elements remain readable. Idempotent.
func (c *Channel[T]) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}
	c.closed = true
	close(c.done)
}

// Discard closes the channel and drops whatever the consumer has not read.
// Consumers that stop reading call it so the pump can exit.
func (c *Channel[T]) Discard() {
	c.Close()
	c.discard.Do(func() { close(c.quit) })
}

// Cap returns the requested capacity
func (c *Channel[T]) Cap() int {
	return c.capacity
}

// Stats is a snapshot of the channel counters
type Stats struct {
	Sent    int64
	Dropped int64
}

// Stats returns the number of accepted and overwritten elements
func (c *Channel[T]) Stats() Stats {
	return Stats{Sent: c.sent.Load(), Dropped: c.dropped.Load()}
}

func (c *Channel[T]) pump() {
	defer close(c.out)

	for {
		if !c.deliver() {
			return
		}
		select {
		case <-c.wake:
		case <-c.quit:
			return
		case <-c.done:
			c.deliver()
			return
		}
	}
}

// deliver hands buffered elements to the consumer until the ring is empty.
// It reports false when the channel was discarded meanwhile.
func (c *Channel[T]) deliver() bool {
	for !c.buffer.IsEmpty() {
		v, err := c.buffer.Dequeue()
		if err != nil {
			return true
		}
		select {
		case c.out <- v:
		case <-c.quit:
			return false
		}
	}
	return true
}
