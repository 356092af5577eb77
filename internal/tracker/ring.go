// Package tracker implements the bounded per-flow measurement state used to
// derive round-trip times and loss rates from passively observed packets.
//
// Trackers are not safe for concurrent use; each belongs to one connection and
// is driven from the packet processing goroutine.
package tracker

import "time"

// EvictingRing is a fixed-capacity ring of slots. Push always writes the next
// slot in order and silently evicts whatever was stored there, so the oldest
// entry is the one lost on wraparound.
type EvictingRing[T any] struct {
	slots []T
	inUse []bool
	next  int
}

// NewEvictingRing returns a ring with n empty slots.
func NewEvictingRing[T any](n int) *EvictingRing[T] {
	if n <= 0 {
		n = 1
	}
	return &EvictingRing[T]{slots: make([]T, n), inUse: make([]bool, n)}
}

// Push stores v in the next slot and reports whether an in-use entry was
// evicted to make room.
func (r *EvictingRing[T]) Push(v T) (evicted bool) {
	evicted = r.inUse[r.next]
	r.slots[r.next] = v
	r.inUse[r.next] = true
	r.next = (r.next + 1) % len(r.slots)
	return evicted
}

func (r *EvictingRing[T]) Cap() int { return len(r.slots) }

// Next returns the index Push will write to.
func (r *EvictingRing[T]) Next() int { return r.next }

// Slot returns the slot at index i modulo the capacity. Negative indexes
// count back from the end.
func (r *EvictingRing[T]) Slot(i int) (*T, bool) {
	n := len(r.slots)
	i = ((i % n) + n) % n
	return &r.slots[i], r.inUse[i]
}

// Retire marks slot i as no longer outstanding.
func (r *EvictingRing[T]) Retire(i int) {
	n := len(r.slots)
	r.inUse[((i%n)+n)%n] = false
}

// Len returns the number of in-use slots.
func (r *EvictingRing[T]) Len() int {
	n := 0
	for _, used := range r.inUse {
		if used {
			n++
		}
	}
	return n
}

// ackEarliest picks the earliest in-use slot accepted by match, then retires
// it along with every other matching slot and every in-use slot sent before
// it. It returns the chosen entry.
func ackEarliest[T any](r *EvictingRing[T], sentAt func(*T) time.Time, match func(*T) bool) (T, bool) {
	best := -1
	var bestTime time.Time
	for i := range r.slots {
		if !r.inUse[i] || !match(&r.slots[i]) {
			continue
		}
		if t := sentAt(&r.slots[i]); best < 0 || t.Before(bestTime) {
			best, bestTime = i, t
		}
	}
	var zero T
	if best < 0 {
		return zero, false
	}

	chosen := r.slots[best]
	for i := range r.slots {
		if !r.inUse[i] {
			continue
		}
		if i == best || sentAt(&r.slots[i]).Before(bestTime) || match(&r.slots[i]) {
			r.inUse[i] = false
		}
	}
	return chosen, true
}
