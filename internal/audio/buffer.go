package audio

import (
	"sync"
)

// RingBuffer is a fixed-capacity, thread-safe byte ring used to feed the
// playback device. Writes that exceed the free space are truncated; reads
// return whatever is available. One slot is kept free to distinguish a full
// buffer from an empty one.
type RingBuffer struct {
	mu    sync.Mutex
	buf   []byte
	read  int
	write int
}

// NewRingBuffer creates a ring buffer holding up to size-1 bytes.
func NewRingBuffer(size int) *RingBuffer {
	return &RingBuffer{buf: make([]byte, size)}
}

// Write copies data into the ring, returning the number of bytes accepted.
func (rb *RingBuffer) Write(data []byte) int {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	free := rb.freeLocked()
	if len(data) > free {
		data = data[:free]
	}

	// At most two segments: write position to end, then start of the buffer.
	n := copy(rb.buf[rb.write:], data)
	if n < len(data) {
		n += copy(rb.buf, data[n:])
	}
	rb.write = (rb.write + n) % len(rb.buf)
	return n
}

// Read fills p with buffered bytes, returning the count read.
func (rb *RingBuffer) Read(p []byte) int {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	avail := rb.availableLocked()
	if len(p) > avail {
		p = p[:avail]
	}

	n := copy(p, rb.buf[rb.read:])
	if n < len(p) {
		n += copy(p[n:], rb.buf)
	}
	rb.read = (rb.read + n) % len(rb.buf)
	return n
}

// Available returns the number of bytes ready to read.
func (rb *RingBuffer) Available() int {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	return rb.availableLocked()
}

// Clear discards all buffered bytes.
func (rb *RingBuffer) Clear() {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	rb.read = 0
	rb.write = 0
}

// IsEmpty reports whether no bytes are buffered.
func (rb *RingBuffer) IsEmpty() bool {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	return rb.read == rb.write
}

func (rb *RingBuffer) availableLocked() int {
	if rb.write >= rb.read {
		return rb.write - rb.read
	}
	return len(rb.buf) - rb.read + rb.write
}

func (rb *RingBuffer) freeLocked() int {
	return len(rb.buf) - rb.availableLocked() - 1
}
