package state

import (
	"slices"
	"sync"

	"rate-throttler/internal/model"
)

// RingBuffer is a fixed-size circular buffer of recent rate updates.
// Many writers and readers are safe; reads return copies.
type RingBuffer struct {
	mu       sync.RWMutex
	data     []model.Update
	capacity int
	head     int // next write
	size     int
}

// NewRingBuffer creates a ring buffer holding at most capacity updates.
// A capacity below 1 is treated as 1.
func NewRingBuffer(capacity int) *RingBuffer {
	if capacity < 1 {
		capacity = 1
	}
	return &RingBuffer{
		data:     make([]model.Update, capacity),
		capacity: capacity,
	}
}

// Add inserts u, overwriting the oldest entry once full.
func (rb *RingBuffer) Add(u model.Update) {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	rb.data[rb.head] = u
	rb.head = (rb.head + 1) % rb.capacity
	if rb.size < rb.capacity {
		rb.size++
	}
}

// OnPrice makes the buffer a bus subscriber.
func (rb *RingBuffer) OnPrice(ccyPair string, rate float64) error {
	rb.Add(model.Update{Key: ccyPair, Rate: rate})
	return nil
}

// GetAll returns every buffered update, oldest first.
func (rb *RingBuffer) GetAll() []model.Update {
	rb.mu.RLock()
	defer rb.mu.RUnlock()

	if rb.size == 0 {
		return nil
	}
	out := make([]model.Update, 0, rb.size)
	if rb.size < rb.capacity {
		return append(out, rb.data[:rb.head]...)
	}
	// Full: head is the oldest entry.
	out = append(out, rb.data[rb.head:]...)
	return append(out, rb.data[:rb.head]...)
}

// Latest returns the most recent rate per pair, ordered by when each pair
// was last updated. New websocket clients are hydrated from it.
func (rb *RingBuffer) Latest() []model.Update {
	all := rb.GetAll()
	seen := make(map[string]struct{}, len(all))
	out := make([]model.Update, 0, len(all))
	for i := len(all) - 1; i >= 0; i-- {
		if _, ok := seen[all[i].Key]; ok {
			continue
		}
		seen[all[i].Key] = struct{}{}
		out = append(out, all[i])
	}
	slices.Reverse(out)
	return out
}

// Size returns the number of buffered updates.
func (rb *RingBuffer) Size() int {
	rb.mu.RLock()
	defer rb.mu.RUnlock()
	return rb.size
}
