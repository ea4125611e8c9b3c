// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

// Package bitset implements a growable set of small non-negative integers.
package bitset

import "math/bits"

// Set is a bit set. The zero value is an empty set.
type Set struct {
	w []uint64
}

// Add inserts i.
func (s *Set) Add(i int) {
	n := i >> 6
	if n >= len(s.w) {
		s.w = append(s.w, make([]uint64, n+1-len(s.w))...)
	}
	s.w[n] |= 1 << (uint(i) & 63)
}

// Has reports whether i is in the set.
func (s *Set) Has(i int) bool {
	n := i >> 6
	if i < 0 || n >= len(s.w) {
		return false
	}
	return s.w[n]&(1<<(uint(i)&63)) != 0
}

// Union adds every member of o to s.
func (s *Set) Union(o *Set) {
	if len(o.w) > len(s.w) {
		s.w = append(s.w, make([]uint64, len(o.w)-len(s.w))...)
	}
	for i, x := range o.w {
		s.w[i] |= x
	}
}

// Len returns the number of members.
func (s *Set) Len() int {
	n := 0
	for _, x := range s.w {
		n += bits.OnesCount64(x)
	}
	return n
}

// Clear removes every member, keeping the storage.
func (s *Set) Clear() {
	clear(s.w)
}

// Each calls fn for every member in ascending order.
func (s *Set) Each(fn func(i int)) {
	for n, x := range s.w {
		for x != 0 {
			b := bits.TrailingZeros64(x)
			fn(n<<6 + b)
			x &= x - 1
		}
	}
}
