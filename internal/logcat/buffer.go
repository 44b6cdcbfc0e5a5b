package logcat

import (
	"sync"
	"sync/atomic"
)

// DefaultCapacity is the buffer size when none is configured.
const DefaultCapacity = 2000

// Buffer is a bounded, ordered, concurrency-safe store of records. When an
// append overflows the capacity the oldest excess is evicted in one step.
type Buffer struct {
	mu       sync.RWMutex
	ring     []Record
	head     int
	size     int
	version  uint64
	evicted  uint64
	subs     map[int]chan Record
	nextSub  int
	dropped  atomic.Uint64
	onEvicts func(n int)
}

// NewBuffer creates a buffer holding at most capacity records.
func NewBuffer(capacity int) *Buffer {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Buffer{
		ring: make([]Record, capacity),
		subs: make(map[int]chan Record),
	}
}

// OnEvict registers a callback invoked with the number of records evicted by
// each overflowing append. Call before the buffer is shared.
func (b *Buffer) OnEvict(fn func(n int)) {
	b.onEvicts = fn
}

// Publish appends r and fans it out to subscribers.
func (b *Buffer) Publish(r Record) {
	b.Append(r)
}

// Append inserts records in order.
func (b *Buffer) Append(recs ...Record) {
	if len(recs) == 0 {
		return
	}

	b.mu.Lock()
	capacity := len(b.ring)
	incoming := recs
	evicted := 0
	if len(incoming) > capacity {
		evicted += len(incoming) - capacity
		incoming = incoming[len(incoming)-capacity:]
	}

	if overflow := b.size + len(incoming) - capacity; overflow > 0 {
		b.head = (b.head + overflow) % capacity
		b.size -= overflow
		evicted += overflow
	}
	for _, r := range incoming {
		b.ring[(b.head+b.size)%capacity] = r
		b.size++
	}
	b.version++
	b.evicted += uint64(evicted)

	// Sends never block, so fan-out stays under the lock; that keeps it
	// ordered with Subscribe's cancel closing the channel.
	for _, ch := range b.subs {
		for _, r := range recs {
			select {
			case ch <- r:
			default:
				b.dropped.Add(1)
			}
		}
	}
	onEvict := b.onEvicts
	b.mu.Unlock()

	if evicted > 0 && onEvict != nil {
		onEvict(evicted)
	}
}

// Snapshot returns a copy of all records, oldest first.
func (b *Buffer) Snapshot() []Record {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.tailLocked(b.size)
}

// Tail returns a copy of the newest n records, oldest first.
func (b *Buffer) Tail(n int) []Record {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if n > b.size || n < 0 {
		n = b.size
	}
	return b.tailLocked(n)
}

func (b *Buffer) tailLocked(n int) []Record {
	out := make([]Record, n)
	capacity := len(b.ring)
	start := b.head + b.size - n
	for i := 0; i < n; i++ {
		out[i] = b.ring[(start+i)%capacity]
	}
	return out
}

// Len returns the number of records held.
func (b *Buffer) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.size
}

// Cap returns the capacity.
func (b *Buffer) Cap() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.ring)
}

// Version increments on every mutation so readers can skip redraws.
func (b *Buffer) Version() uint64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.version
}

// Evicted returns the total number of records evicted.
func (b *Buffer) Evicted() uint64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.evicted
}

// Dropped returns how many subscriber deliveries were dropped because the
// subscriber was not keeping up.
func (b *Buffer) Dropped() uint64 {
	return b.dropped.Load()
}

// SetCapacity resizes the buffer, keeping the newest records.
func (b *Buffer) SetCapacity(capacity int) {
	if capacity <= 0 {
		return
	}

	b.mu.Lock()
	if capacity == len(b.ring) {
		b.mu.Unlock()
		return
	}
	keep := b.size
	evicted := 0
	if keep > capacity {
		evicted = keep - capacity
		keep = capacity
	}
	kept := b.tailLocked(keep)
	b.ring = make([]Record, capacity)
	copy(b.ring, kept)
	b.head = 0
	b.size = keep
	b.version++
	b.evicted += uint64(evicted)
	onEvict := b.onEvicts
	b.mu.Unlock()

	if evicted > 0 && onEvict != nil {
		onEvict(evicted)
	}
}

// Clear drops all records.
func (b *Buffer) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i := range b.ring {
		b.ring[i] = Record{}
	}
	b.head = 0
	b.size = 0
	b.version++
}

// Subscribe returns a channel receiving every record appended after the
// call. Deliveries are dropped when the channel is full. cancel closes the
// channel.
func (b *Buffer) Subscribe(size int) (<-chan Record, func()) {
	if size <= 0 {
		size = 256
	}
	ch := make(chan Record, size)

	b.mu.Lock()
	id := b.nextSub
	b.nextSub++
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			close(ch)
		})
	}
	return ch, cancel
}
