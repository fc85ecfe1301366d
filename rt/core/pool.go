package core

import "fmt"

type slot[T any] struct {
	generation uint32
	live       bool
	value      T
}

// Pool is a generational arena. Released slots are recycled, but their
// generation is bumped first so handles to the previous occupant stop
// resolving.
type Pool[T any] struct {
	slots    []slot[T]
	free     []uint32
	capacity int // 0 = grow on demand
	live     int
}

// NewPool creates a pool. A capacity of 0 lets the pool grow without bound.
func NewPool[T any](capacity int) *Pool[T] {
	p := &Pool[T]{capacity: capacity}
	if capacity > 0 {
		p.slots = make([]slot[T], 0, capacity)
	}
	return p
}

// Insert stores v and returns its handle. Free slots are reused before the
// pool grows. A fixed-capacity pool that is full returns ErrSlotExhausted.
func (p *Pool[T]) Insert(v T) (Handle[T], error) {
	if n := len(p.free); n > 0 {
		idx := p.free[n-1]
		p.free = p.free[:n-1]
		s := &p.slots[idx]
		s.live = true
		s.value = v
		p.live++
		return Handle[T]{index: idx, generation: s.generation}, nil
	}

	if p.capacity > 0 && len(p.slots) >= p.capacity {
		var zero T
		return Handle[T]{}, fmt.Errorf("pool %T (capacity %d): %w", zero, p.capacity, ErrSlotExhausted)
	}

	idx := uint32(len(p.slots))
	p.slots = append(p.slots, slot[T]{generation: 1, live: true, value: v})
	p.live++
	return Handle[T]{index: idx, generation: 1}, nil
}

func (p *Pool[T]) lookup(h Handle[T]) *slot[T] {
	if h.generation == 0 || int(h.index) >= len(p.slots) {
		return nil
	}
	s := &p.slots[h.index]
	if !s.live || s.generation != h.generation {
		return nil
	}
	return s
}

// Get returns a copy of the value behind h. A stale or unknown handle yields
// ok == false; that is "not found", not an error.
func (p *Pool[T]) Get(h Handle[T]) (v T, ok bool) {
	s := p.lookup(h)
	if s == nil {
		return v, false
	}
	return s.value, true
}

// GetRef returns a pointer into the pool, or nil for a stale handle. The
// pointer is invalidated by the next Insert that grows the pool.
func (p *Pool[T]) GetRef(h Handle[T]) *T {
	s := p.lookup(h)
	if s == nil {
		return nil
	}
	return &s.value
}

// Contains reports whether h still resolves.
func (p *Pool[T]) Contains(h Handle[T]) bool { return p.lookup(h) != nil }

// Release invalidates h and frees its slot. Releasing a stale handle is a
// no-op and returns false.
func (p *Pool[T]) Release(h Handle[T]) bool {
	s := p.lookup(h)
	if s == nil {
		return false
	}
	var zero T
	s.value = zero
	s.live = false
	s.generation++
	if s.generation == 0 {
		s.generation = 1
	}
	p.free = append(p.free, h.index)
	p.live--
	return true
}

// Len returns the number of live objects.
func (p *Pool[T]) Len() int { return p.live }

// Cap returns the fixed capacity, or 0 for a growable pool.
func (p *Pool[T]) Cap() int { return p.capacity }

// Each visits live objects in slot order until fn returns false.
func (p *Pool[T]) Each(fn func(h Handle[T], v *T) bool) {
	for i := range p.slots {
		s := &p.slots[i]
		if !s.live {
			continue
		}
		if !fn(Handle[T]{index: uint32(i), generation: s.generation}, &s.value) {
			return
		}
	}
}
