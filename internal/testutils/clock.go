package testutils

import (
	"sort"
	"sync"
	"time"
)

// FakeClock is a manually advanced clock. Due functions run synchronously
// inside Advance, in deadline order.
type FakeClock struct {
	mu     sync.Mutex
	now    time.Duration
	seq    int
	timers map[int]*fakeTimer
}

type fakeTimer struct {
	id       int
	deadline time.Duration
	fn       func()
}

// NewFakeClock creates a clock at time zero
func NewFakeClock() *FakeClock {
	return &FakeClock{timers: make(map[int]*fakeTimer)}
}

// AfterFunc schedules fn to run once the clock advanced by d
func (c *FakeClock) AfterFunc(d time.Duration, fn func()) func() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.seq++
	id := c.seq
	c.timers[id] = &fakeTimer{id: id, deadline: c.now + d, fn: fn}

	return func() bool {
		c.mu.Lock()
		defer c.mu.Unlock()
		if _, ok := c.timers[id]; !ok {
			return false
		}
		delete(c.timers, id)
		return true
	}
}

// Advance moves the clock forward by d and fires every timer that became due
func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now += d
	due := make([]*fakeTimer, 0, len(c.timers))
	for id, t := range c.timers {
		if t.deadline <= c.now {
			due = append(due, t)
			delete(c.timers, id)
		}
	}
	c.mu.Unlock()

	sort.Slice(due, func(i, j int) bool {
		if due[i].deadline == due[j].deadline {
			return due[i].id < due[j].id
		}
		return due[i].deadline < due[j].deadline
	})
	for _, t := range due {
		t.fn()
	}
}

// Pending returns the number of armed timers
func (c *FakeClock) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.timers)
}

// Now returns the elapsed fake time
func (c *FakeClock) Now() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}
