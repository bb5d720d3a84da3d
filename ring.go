package main

import (
	"errors"
	"sync"
	"time"
)

var (
	// ErrRingFull is returned to producers when the ring cannot accept a
	// record. The event is dropped; there is no backpressure signal
	// beyond this local failure.
	ErrRingFull = errors.New("transport ring full")

	// ErrRingClosed is returned once the ring has been closed and
	// drained.
	ErrRingClosed = errors.New("transport ring closed")
)

// DefaultRingSize matches the BPF ringbuf sizing (256 KiB).
const DefaultRingSize = 256 * 1024

// RingBuffer is the bounded, lossy transport between the event emitter
// and the consumption loop: many producers, one consumer. Producers
// never block; when the byte budget is exhausted the write fails and the
// caller drops the event.
type RingBuffer struct {
	mu      sync.Mutex
	records [][]byte
	used    int
	size    int
	closed  bool
	notify  chan struct{}
}

// NewRingBuffer creates a ring with the given byte capacity.
func NewRingBuffer(size int) *RingBuffer {
	if size <= 0 {
		size = DefaultRingSize
	}
	return &RingBuffer{
		size:   size,
		notify: make(chan struct{}, 1),
	}
}

// Write copies one self-delimited record into the ring. It never blocks.
func (r *RingBuffer) Write(record []byte) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return ErrRingClosed
	}
	if r.used+len(record) > r.size {
		r.mu.Unlock()
		return ErrRingFull
	}
	buf := make([]byte, len(record))
	copy(buf, record)
	r.records = append(r.records, buf)
	r.used += len(record)
	r.mu.Unlock()

	select {
	case r.notify <- struct{}{}:
	default:
	}
	return nil
}

// Poll returns every record currently buffered, waiting up to timeout
// for the first one. A nil batch with nil error means the timeout
// elapsed with nothing to read.
func (r *RingBuffer) Poll(timeout time.Duration) ([][]byte, error) {
	r.mu.Lock()
	if len(r.records) == 0 {
		if r.closed {
			r.mu.Unlock()
			return nil, ErrRingClosed
		}
		r.mu.Unlock()

		timer := time.NewTimer(timeout)
		defer timer.Stop()
		select {
		case <-r.notify:
		case <-timer.C:
			return nil, nil
		}
		r.mu.Lock()
	}

	if len(r.records) == 0 {
		closed := r.closed
		r.mu.Unlock()
		if closed {
			return nil, ErrRingClosed
		}
		return nil, nil
	}

	batch := r.records
	r.records = nil
	r.used = 0
	r.mu.Unlock()
	return batch, nil
}

// Close wakes the consumer and stops accepting writes. Records already
// buffered are still delivered by the next Poll.
func (r *RingBuffer) Close() {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()

	select {
	case r.notify <- struct{}{}:
	default:
	}
}
