package engine

import "fmt"

// slotStats is per-slot bookkeeping kept alongside each handle.
type slotStats struct {
	uses     int
	failures int
}

// Slots is an arena of pre-allocated handles indexed by slot number with a
// FIFO availability queue. It is not safe for concurrent use: the owning
// control loop is the only caller.
type Slots[T any] struct {
	items []T
	stats []slotStats
	bound []bool
	free  []int // queue of free slot indexes, head at free[0]
	inUse int
	peak  int
}

// NewSlots takes ownership of items. Every slot starts free.
func NewSlots[T any](items []T) *Slots[T] {
	s := &Slots[T]{
		items: items,
		stats: make([]slotStats, len(items)),
		bound: make([]bool, len(items)),
		free:  make([]int, 0, len(items)),
	}
	for i := range items {
		s.free = append(s.free, i)
	}
	return s
}

// Acquire binds the longest-free slot. ok is false when every slot is bound.
func (s *Slots[T]) Acquire() (idx int, item T, ok bool) {
	if len(s.free) == 0 {
		var zero T
		return -1, zero, false
	}
	idx = s.free[0]
	s.free = s.free[1:]
	s.bound[idx] = true
	s.inUse++
	if s.inUse > s.peak {
		s.peak = s.inUse
	}
	return idx, s.items[idx], true
}

// Release returns slot idx to the back of the free queue and records the
// outcome of the job it served. Releasing a free slot panics.
func (s *Slots[T]) Release(idx int, success bool) {
	if idx < 0 || idx >= len(s.items) || !s.bound[idx] {
		panic(fmt.Sprintf("engine: release of unbound slot %d", idx))
	}
	s.bound[idx] = false
	s.inUse--
	s.stats[idx].uses++
	if !success {
		s.stats[idx].failures++
	}
	s.free = append(s.free, idx)
}

// Len is the arena size.
func (s *Slots[T]) Len() int { return len(s.items) }

// InUse is the number of currently bound slots.
func (s *Slots[T]) InUse() int { return s.inUse }

// Peak is the largest InUse value observed.
func (s *Slots[T]) Peak() int { return s.peak }

// Free is the number of slots available to Acquire.
func (s *Slots[T]) Free() int { return len(s.free) }

// Uses returns how many jobs slot idx has served and how many failed.
func (s *Slots[T]) Uses(idx int) (uses, failures int) {
	return s.stats[idx].uses, s.stats[idx].failures
}

// All iterates over every handle regardless of state.
func (s *Slots[T]) All() []T { return s.items }
