package core

import (
	"fmt"
	"sync/atomic"
)

const (
	// defaultDequeCap is the initial ring capacity. Must be a power of two.
	defaultDequeCap     = 16
	compactMinCap       = 64 // Don't compact if capacity is less than this
	compactShrinkFactor = 4  // Trigger compaction when len < cap/4
)

// StealResult reports the outcome of a Steal attempt.
type StealResult int

const (
	// StealEmpty means the deque was observed empty.
	StealEmpty StealResult = iota

	// StealAbort means the caller lost a race with the owner or another
	// thief. The deque may still hold items; the caller should retry,
	// possibly against a different victim.
	StealAbort

	// StealSuccess means an item was taken.
	StealSuccess
)

func (r StealResult) String() string {
	switch r {
	case StealEmpty:
		return "empty"
	case StealAbort:
		return "abort"
	case StealSuccess:
		return "success"
	}
	return fmt.Sprintf("StealResult(%d)", int(r))
}

// ringBuffer is a fixed-capacity circular array. Capacity is always a
// power of two so indexing reduces to a mask.
type ringBuffer[T any] struct {
	items []T
	mask  int64
}

func newRingBuffer[T any](capacity int64) *ringBuffer[T] {
	return &ringBuffer[T]{
		items: make([]T, capacity),
		mask:  capacity - 1,
	}
}

func (b *ringBuffer[T]) cap() int64 { return int64(len(b.items)) }

func (b *ringBuffer[T]) get(i int64) T { return b.items[i&b.mask] }

func (b *ringBuffer[T]) put(i int64, v T) { b.items[i&b.mask] = v }

// grow returns a ring of twice the capacity holding the live range
// [top, bottom). The old ring is left untouched; thieves holding a stale
// pointer still read valid items at indexes below bottom.
func (b *ringBuffer[T]) grow(top, bottom int64) *ringBuffer[T] {
	next := newRingBuffer[T](2 * b.cap())
	for i := top; i < bottom; i++ {
		next.put(i, b.get(i))
	}
	return next
}

const cacheLineSize = 64

// Deque is a growable Chase-Lev work-stealing deque.
//
// The owning worker pushes and pops at the bottom (LIFO, good locality for
// divide-and-conquer work). Thieves take from the top (FIFO, the oldest
// and usually largest pieces of work). Push and Pop must only be called by
// the single owner; Steal may be called from any goroutine.
//
// top and bottom only ever increase; the live window is [top, bottom).
// All accesses go through sync/atomic, whose sequentially consistent
// ordering covers the fences the original algorithm needs. Contention is
// limited to the last-item case, resolved by a CAS on top.
type Deque[T any] struct {
	bottom atomic.Int64
	_      [cacheLineSize - 8]byte // keep owner and thief counters on separate cache lines
	top    atomic.Int64
	_      [cacheLineSize - 8]byte
	ring   atomic.Pointer[ringBuffer[T]]
}

// NewDeque creates an empty deque.
func NewDeque[T any]() *Deque[T] {
	d := &Deque[T]{}
	d.ring.Store(newRingBuffer[T](defaultDequeCap))
	return d
}

// Push adds v at the bottom of the deque. Owner only.
func (d *Deque[T]) Push(v T) {
	b := d.bottom.Load()
	t := d.top.Load()
	r := d.ring.Load()

	if b-t >= r.cap() {
		r = r.grow(t, b)
		d.ring.Store(r)
	}

	r.put(b, v)
	d.bottom.Store(b + 1)
}

// Pop removes and returns the most recently pushed item. Owner only.
// Returns false when the deque is empty or a thief won the last item.
func (d *Deque[T]) Pop() (T, bool) {
	var zero T

	b := d.bottom.Load() - 1
	r := d.ring.Load()
	d.bottom.Store(b)

	t := d.top.Load()
	if t > b {
		// Deque was empty; undo the reservation.
		d.bottom.Store(t)
		return zero, false
	}

	v := r.get(b)
	if t == b {
		// Last item: the owner races thieves for it via top.
		if !d.top.CompareAndSwap(t, t+1) {
			// A thief got there first.
			d.bottom.Store(t + 1)
			return zero, false
		}
		d.bottom.Store(t + 1)
	}
	return v, true
}

// Steal takes the oldest item from the top of the deque. Safe to call from
// any goroutine. The result distinguishes an empty deque from a lost race
// so callers can choose between backing off and retrying.
func (d *Deque[T]) Steal() (T, StealResult) {
	var zero T

	t := d.top.Load()
	b := d.bottom.Load()
	if t >= b {
		return zero, StealEmpty
	}

	// Read the item before claiming it. If the CAS succeeds nobody else
	// touched index t, so the read was of the live value even when the
	// owner grew the ring in between.
	r := d.ring.Load()
	v := r.get(t)
	if !d.top.CompareAndSwap(t, t+1) {
		return zero, StealAbort
	}
	return v, StealSuccess
}

// Len returns the number of queued items. The value is exact while the
// deque is quiescent and a point-in-time estimate otherwise.
func (d *Deque[T]) Len() int {
	b := d.bottom.Load()
	t := d.top.Load()
	if b < t {
		return 0
	}
	return int(b - t)
}

// Cap returns the current ring capacity.
func (d *Deque[T]) Cap() int {
	return int(d.ring.Load().cap())
}

// Clear drops all queued items and releases their references.
// Only safe while no other goroutine is operating on the deque.
func (d *Deque[T]) Clear() {
	t := d.top.Load()
	d.bottom.Store(t)
	// Fresh ring so dropped items can be collected.
	d.ring.Store(newRingBuffer[T](defaultDequeCap))
}

// MaybeCompact shrinks a ring that ballooned during a burst and has since
// drained. Only safe while no other goroutine is operating on the deque.
func (d *Deque[T]) MaybeCompact() {
	r := d.ring.Load()
	c := r.cap()
	if c < compactMinCap {
		return
	}

	t := d.top.Load()
	b := d.bottom.Load()
	n := b - t
	if n*compactShrinkFactor >= c {
		return
	}

	next := newRingBuffer[T](max(c/2, defaultDequeCap))
	for i := t; i < b; i++ {
		next.put(i, r.get(i))
	}
	d.ring.Store(next)
}
