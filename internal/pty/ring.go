package pty

import "sync"

// ringBuffer is a bounded byte log of PTY output addressed by absolute
// cursors. The writer never blocks: when capacity is exceeded the oldest
// bytes are evicted and the earliest available cursor advances. Readers
// replay from any cursor still in the buffer and use the returned wait
// channel to stream forward.
type ringBuffer struct {
	mu      sync.Mutex
	buf     []byte
	evicted uint64 // bytes ever dropped from the front
	cap     int
	notify  chan struct{} // closed+replaced on every write
}

func newRingBuffer(capacity int) *ringBuffer {
	return &ringBuffer{
		buf:    make([]byte, 0, min(capacity, 64*1024)),
		cap:    capacity,
		notify: make(chan struct{}),
	}
}

// Write appends p and evicts from the front when over capacity. Returns the
// cursor one past the last appended byte.
func (r *ringBuffer) Write(p []byte) uint64 {
	r.mu.Lock()
	r.buf = append(r.buf, p...)
	if len(r.buf) > r.cap {
		drop := len(r.buf) - r.cap
		r.buf = r.buf[:copy(r.buf, r.buf[drop:])]
		r.evicted += uint64(drop)
	}
	end := r.evicted + uint64(len(r.buf))
	ch := r.notify
	r.notify = make(chan struct{})
	r.mu.Unlock()
	close(ch)
	return end
}

// Latest returns the cursor one past the last byte ever written.
func (r *ringBuffer) Latest() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.evicted + uint64(len(r.buf))
}

// Earliest returns the cursor of the oldest byte still buffered.
func (r *ringBuffer) Earliest() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.evicted
}

// ReadAfter returns a copy of all buffered bytes at cursors >= since,
// together with the cursor of the first returned byte. When since predates
// the buffer the read starts at the earliest available byte instead, so
// start > since signals evicted history. With no new data it returns nil
// and a channel that closes on the next write.
func (r *ringBuffer) ReadAfter(since uint64) (data []byte, start uint64, wait <-chan struct{}) {
	r.mu.Lock()
	defer r.mu.Unlock()

	start = since
	if start < r.evicted {
		start = r.evicted
	}
	rel := int(start - r.evicted)
	if rel >= len(r.buf) {
		return nil, start, r.notify
	}
	data = make([]byte, len(r.buf)-rel)
	copy(data, r.buf[rel:])
	return data, start, nil
}
