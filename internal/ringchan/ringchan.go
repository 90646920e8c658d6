// Package ringchan provides a bounded channel-like buffer with
// overwrite-oldest semantics, used to fan engine events out to consumers
// that may be slower than the wireless callbacks producing them.
package ringchan

import "sync/atomic"

// Metrics tracks ring activity with lock-free counters.
type Metrics struct {
	written     atomic.Uint64
	overwritten atomic.Uint64
}

// Written returns the total number of values accepted.
func (m *Metrics) Written() uint64 { return m.written.Load() }

// Overwritten returns the number of values dropped to make room.
func (m *Metrics) Overwritten() uint64 { return m.overwritten.Load() }

// RingChannel wraps a buffered channel and ensures producers never block:
// when the buffer is full, the oldest element is discarded. Readers use
// C() like a normal receive channel.
type RingChannel[T any] struct {
	ch      chan T
	metrics Metrics
}

// New creates a RingChannel with the given capacity.
func New[T any](capacity int) *RingChannel[T] {
	if capacity <= 0 {
		panic("ringchan: capacity must be > 0")
	}
	return &RingChannel[T]{ch: make(chan T, capacity)}
}

// C returns the underlying receive-only channel. Consumers can range over
// it until Close is called.
func (rc *RingChannel[T]) C() <-chan T {
	return rc.ch
}

// Send inserts a value, discarding the oldest buffered value if the ring
// is full. Reports whether anything was dropped.
func (rc *RingChannel[T]) Send(v T) bool {
	dropped := false

	select {
	case rc.ch <- v:
		rc.metrics.written.Add(1)
	default:
		select {
		case <-rc.ch: // drop oldest
			rc.metrics.overwritten.Add(1)
			dropped = true
		default:
		}
		rc.ch <- v
		rc.metrics.written.Add(1)
	}

	return dropped
}

// TrySend attempts to insert without blocking and without dropping.
// Returns true if successful, false if the buffer is full.
func (rc *RingChannel[T]) TrySend(v T) bool {
	select {
	case rc.ch <- v:
		rc.metrics.written.Add(1)
		return true
	default:
		return false
	}
}

// Len returns the number of buffered values.
func (rc *RingChannel[T]) Len() int { return len(rc.ch) }

// Metrics returns the ring's counters.
func (rc *RingChannel[T]) Metrics() *Metrics { return &rc.metrics }

// Close closes the underlying channel. Only the producer may call it,
// exactly once, after all sends have completed.
func (rc *RingChannel[T]) Close() {
	close(rc.ch)
}
