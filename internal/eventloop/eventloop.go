// Package eventloop provides the single-threaded execution context session state
// is confined to, and cancellable timers that fire onto it.
package eventloop

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/srg/blesdk/internal/groutine"
)

// Executor runs tasks one at a time in submission order.
type Executor interface {
	// Post enqueues task and returns immediately. It reports false if the
	// executor no longer accepts work.
	Post(task func()) bool
	// Invoke runs task and waits for it to finish. It must not be called from
	// inside a task.
	Invoke(task func()) bool
}

// Immediate runs every task inline on the calling goroutine. Callers are
// responsible for not posting from more than one goroutine at a time.
type Immediate struct{}

func (Immediate) Post(task func()) bool {
	task()
	return true
}

func (Immediate) Invoke(task func()) bool {
	task()
	return true
}

// Clock schedules delayed functions. The returned stop function reports whether
// it prevented fn from being called.
type Clock interface {
	AfterFunc(d time.Duration, fn func()) (stop func() bool)
}

// SystemClock is the wall clock Clock
type SystemClock struct{}

func (SystemClock) AfterFunc(d time.Duration, fn func()) func() bool {
	return time.AfterFunc(d, fn).Stop
}

// Timer is a delayed task that runs on an Executor.
type Timer struct {
	done atomic.Bool
	stop func() bool
}

// Schedule arms fn to run on exec once d has elapsed on clock.
func Schedule(exec Executor, clock Clock, d time.Duration, fn func()) *Timer {
	t := &Timer{}
	t.stop = clock.AfterFunc(d, func() {
		exec.Post(func() {
			// Cancel may have run between the clock firing and this task.
			if !t.done.CompareAndSwap(false, true) {
				return
			}
			fn()
		})
	})
	return t
}

// Cancel prevents the timer's task from running. It is safe to call on a nil,
// fired or already cancelled timer. When called on the timer's executor the
// task is guaranteed not to run afterwards.
func (t *Timer) Cancel() {
	if t == nil {
		return
	}
	t.done.Store(true)
	if t.stop != nil {
		t.stop()
	}
}

// Loop is an Executor backed by a single goroutine draining an unbounded queue.
type Loop struct {
	name   string
	logger *logrus.Logger

	mu      sync.Mutex
	queue   []func()
	started bool
	stopped bool

	wake chan struct{}
	quit chan struct{}
	done <-chan struct{}
}

// NewLoop creates a stopped loop. Call Start before posting work.
func NewLoop(name string, logger *logrus.Logger) *Loop {
	if logger == nil {
		logger = logrus.New()
	}
	return &Loop{
		name:   name,
		logger: logger,
		wake:   make(chan struct{}, 1),
		quit:   make(chan struct{}),
	}
}

// Start launches the loop goroutine. The loop exits when ctx is done or Stop is called.
func (l *Loop) Start(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.stopped {
		return fmt.Errorf("event loop %q already stopped", l.name)
	}
	if l.started {
		return fmt.Errorf("event loop %q already started", l.name)
	}
	l.started = true
	l.done = groutine.Go(ctx, l.name, l.run)

	l.logger.WithField("loop", l.name).Debug("Event loop started")
	return nil
}

// Post enqueues task. Tasks posted before Start run once the loop starts.
func (l *Loop) Post(task func()) bool {
	l.mu.Lock()
	if l.stopped {
		l.mu.Unlock()
		return false
	}
	l.queue = append(l.queue, task)
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
	return true
}

// Invoke posts task and blocks until it ran. It returns false if the loop
// stopped before the task could run.
func (l *Loop) Invoke(task func()) bool {
	ran := make(chan struct{})
	if !l.Post(func() {
		defer close(ran)
		task()
	}) {
		return false
	}

	select {
	case <-ran:
		return true
	case <-l.quit:
		// The task may still have been running when quit closed.
		select {
		case <-ran:
			return true
		default:
			return false
		}
	}
}

// Stop prevents further posts, drops queued tasks and waits for the loop
// goroutine to exit. Safe to call more than once. Must not be called from a task.
func (l *Loop) Stop() {
	l.shutdown()

	l.mu.Lock()
	done := l.done
	l.mu.Unlock()

	if done != nil {
		<-done
	}
}

// shutdown marks the loop stopped and releases Invoke waiters.
func (l *Loop) shutdown() {
	l.mu.Lock()
	if l.stopped {
		l.mu.Unlock()
		return
	}
	l.stopped = true
	dropped := len(l.queue)
	l.queue = nil
	close(l.quit)
	l.mu.Unlock()

	l.logger.WithFields(logrus.Fields{
		"loop":    l.name,
		"dropped": dropped,
	}).Debug("Event loop stopped")
}

func (l *Loop) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			l.shutdown()
			return
		case <-l.quit:
			return
		case <-l.wake:
		}

		for {
			task, ok := l.next()
			if !ok {
				break
			}
			l.runTask(task)
		}
	}
}

func (l *Loop) next() (func(), bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.stopped || len(l.queue) == 0 {
		return nil, false
	}
	task := l.queue[0]
	l.queue[0] = nil
	l.queue = l.queue[1:]
	return task, true
}

func (l *Loop) runTask(task func()) {
	defer func() {
		if r := recover(); r != nil {
			l.logger.WithFields(logrus.Fields{
				"loop":  l.name,
				"panic": r,
			}).Error("Event loop task panicked")
		}
	}()
	task()
}
