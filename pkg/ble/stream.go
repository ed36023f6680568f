package ble

import (
	"github.com/srg/blesdk/internal/ringchan"
)

// Stream adapts a callback API to a channel. The producer side never blocks:
// when the consumer falls behind the oldest undelivered values are dropped.
type Stream[T any] struct {
	ring *ringchan.Channel[T]
}

// NewStream creates a stream buffering up to size values
func NewStream[T any](size int) *Stream[T] {
	if size <= 0 {
		size = 1
	}
	return &Stream[T]{ring: ringchan.New[T](size)}
}

// Push delivers v; it reports false once the stream is closed
func (s *Stream[T]) Push(v T) bool {
	return s.ring.Send(v)
}

// C returns the receive side, closed by Close
func (s *Stream[T]) C() <-chan T {
	return s.ring.C()
}

// Close ends the stream. Buffered values stay readable. Idempotent.
func (s *Stream[T]) Close() {
	s.ring.Close()
}

// Discard ends the stream and drops unread values. Consumers that stop
// reading before the stream is drained call it.
func (s *Stream[T]) Discard() {
	s.ring.Discard()
}

// Dropped returns how many values were overwritten before being read
func (s *Stream[T]) Dropped() int64 {
	return s.ring.Stats().Dropped
}

// ScanEvents returns a scan callback feeding a new stream. The stream closes
// itself when the scan reports Idle or Error.
func ScanEvents(size int) (*Stream[ScanState], ScanCallback) {
	s := NewStream[ScanState](size)
	return s, func(state ScanState) {
		s.Push(state)
		if state.Kind == ScanIdle || state.Kind == ScanError {
			s.Close()
		}
	}
}

// BluetoothStates returns a power-state callback feeding a new stream
func BluetoothStates(size int) (*Stream[bool], func(enabled bool)) {
	s := NewStream[bool](size)
	return s, func(enabled bool) { s.Push(enabled) }
}
