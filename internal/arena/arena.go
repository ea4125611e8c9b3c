// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

// Package arena provides dense slot storage addressed by epoch-checked
// handles.
//
// A slot that is removed and later reused gets a new epoch, so handles
// issued for the previous occupant stop resolving. The zero Handle never
// resolves.
package arena

// Handle addresses a slot in an Arena.
type Handle struct {
	Index uint32
	Epoch uint32
}

// IsZero reports whether h is the zero handle.
func (h Handle) IsZero() bool { return h.Epoch == 0 }

type slot[T any] struct {
	value T
	epoch uint32
	live  bool
}

// Arena stores values of type T in reusable slots.
//
// Arena is not safe for concurrent use.
type Arena[T any] struct {
	slots []slot[T]
	free  []uint32
	live  int
}

// New returns an empty arena with room for capacity values.
func New[T any](capacity int) *Arena[T] {
	return &Arena[T]{slots: make([]slot[T], 0, capacity)}
}

// Insert stores v and returns its handle.
// Freed slots are reused most-recently-freed first.
func (a *Arena[T]) Insert(v T) Handle {
	a.live++
	if n := len(a.free); n > 0 {
		idx := a.free[n-1]
		a.free = a.free[:n-1]
		s := &a.slots[idx]
		s.value = v
		s.live = true
		return Handle{Index: idx, Epoch: s.epoch}
	}
	// #nosec G115 -- slot count is bounded by the number of frame resources
	idx := uint32(len(a.slots))
	a.slots = append(a.slots, slot[T]{value: v, epoch: 1, live: true})
	return Handle{Index: idx, Epoch: 1}
}

// Get returns a pointer to the value addressed by h, or nil if h is stale.
// The pointer is invalidated by the next Insert.
func (a *Arena[T]) Get(h Handle) *T {
	if int(h.Index) >= len(a.slots) {
		return nil
	}
	s := &a.slots[h.Index]
	if !s.live || s.epoch != h.Epoch {
		return nil
	}
	return &s.value
}

// At returns the live value at index regardless of epoch.
func (a *Arena[T]) At(index uint32) (*T, Handle, bool) {
	if int(index) >= len(a.slots) || !a.slots[index].live {
		return nil, Handle{}, false
	}
	s := &a.slots[index]
	return &s.value, Handle{Index: index, Epoch: s.epoch}, true
}

// Remove frees the slot addressed by h. It reports false for stale handles.
func (a *Arena[T]) Remove(h Handle) bool {
	if a.Get(h) == nil {
		return false
	}
	s := &a.slots[h.Index]
	var zero T
	s.value = zero
	s.live = false
	s.epoch++
	if s.epoch == 0 {
		s.epoch = 1
	}
	a.free = append(a.free, h.Index)
	a.live--
	return true
}

// Len returns the number of live values.
func (a *Arena[T]) Len() int { return a.live }

// Cap returns the number of slots, live or free.
func (a *Arena[T]) Cap() int { return len(a.slots) }

// Each calls fn for every live value in slot order until fn returns false.
func (a *Arena[T]) Each(fn func(h Handle, v *T) bool) {
	for i := range a.slots {
		s := &a.slots[i]
		if !s.live {
			continue
		}
		// #nosec G115 -- see Insert
		if !fn(Handle{Index: uint32(i), Epoch: s.epoch}, &s.value) {
			return
		}
	}
}
