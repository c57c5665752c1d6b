package sink

import "sync"

// GrowableBuffer is a thread-safe FIFO ring that doubles its capacity once it
// fills past 70%, so producers never block on a slow consumer.
type GrowableBuffer[T any] struct {
	mu   sync.Mutex
	cond *sync.Cond

	ring   []T
	head   int // next read slot
	tail   int // next write slot
	count  int
	closed bool

	received  int64
	delivered int64
	grows     int
}

// NewGrowableBuffer creates a buffer with the given initial capacity.
func NewGrowableBuffer[T any](capacity int) *GrowableBuffer[T] {
	if capacity < 1 {
		capacity = 1
	}
	b := &GrowableBuffer[T]{ring: make([]T, capacity)}
	b.cond = sync.NewCond(&b.mu)
	return b
}

// Send appends an item. Returns false once the buffer is closed.
func (b *GrowableBuffer[T]) Send(item T) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return false
	}

	if b.count+1 >= b.growThreshold() {
		b.grow()
	}

	b.ring[b.tail] = item
	b.tail = (b.tail + 1) % len(b.ring)
	b.count++
	b.received++

	b.cond.Signal()
	return true
}

// Receive takes the oldest item, blocking until one is available. Returns
// false once the buffer is closed and drained.
func (b *GrowableBuffer[T]) Receive() (T, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for b.count == 0 && !b.closed {
		b.cond.Wait()
	}
	if b.count == 0 {
		var zero T
		return zero, false
	}
	return b.takeLocked(), true
}

// TryReceive takes the oldest item without blocking.
func (b *GrowableBuffer[T]) TryReceive() (T, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.count == 0 {
		var zero T
		return zero, false
	}
	return b.takeLocked(), true
}

// DrainTo removes up to max items in FIFO order; max <= 0 drains everything.
// Returns nil when empty.
func (b *GrowableBuffer[T]) DrainTo(max int) []T {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.count == 0 {
		return nil
	}

	n := b.count
	if max > 0 && max < n {
		n = max
	}
	out := make([]T, n)
	for i := range out {
		out[i] = b.takeLocked()
	}
	return out
}

// Close stops intake. Queued items stay receivable; blocked receivers wake.
func (b *GrowableBuffer[T]) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	b.cond.Broadcast()
}

// Len returns the number of queued items.
func (b *GrowableBuffer[T]) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.count
}

// Cap returns the current ring capacity.
func (b *GrowableBuffer[T]) Cap() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.ring)
}

// BufferStats is a point-in-time snapshot of buffer counters.
type BufferStats struct {
	Len       int
	Cap       int
	Received  int64
	Delivered int64
	Grows     int
}

// Stats returns a snapshot of the buffer counters.
func (b *GrowableBuffer[T]) Stats() BufferStats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return BufferStats{
		Len:       b.count,
		Cap:       len(b.ring),
		Received:  b.received,
		Delivered: b.delivered,
		Grows:     b.grows,
	}
}

// takeLocked pops the head slot. Caller holds mu and guarantees count > 0.
func (b *GrowableBuffer[T]) takeLocked() T {
	item := b.ring[b.head]
	var zero T
	b.ring[b.head] = zero
	b.head = (b.head + 1) % len(b.ring)
	b.count--
	b.delivered++
	return item
}

func (b *GrowableBuffer[T]) growThreshold() int {
	t := (len(b.ring) * 7) / 10
	if t < 1 {
		t = 1
	}
	return t
}

// grow doubles the ring, unrolling any wrap-around. Caller holds mu.
func (b *GrowableBuffer[T]) grow() {
	next := make([]T, len(b.ring)*2)
	if b.count > 0 {
		if b.head < b.tail {
			copy(next, b.ring[b.head:b.tail])
		} else {
			n := copy(next, b.ring[b.head:])
			copy(next[n:], b.ring[:b.tail])
		}
	}
	b.ring = next
	b.head = 0
	b.tail = b.count
	b.grows++
}
