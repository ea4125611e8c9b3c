// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package framegraph

import (
	"slices"

	"github.com/cockroachdb/errors"

	"github.com/gogpu/framegraph/internal/bitset"
)

// Schedule is the result of compiling a frame.
type Schedule struct {
	// Order lists the surviving passes in execution order.
	Order []PassID
	// Groups partitions Order into merged render-pass groups.
	Groups [][]PassID
	// Culled lists the passes that do not contribute to the requested outputs.
	Culled []PassID
	// Aliases lists the texture chains sharing one allocation.
	Aliases []AliasChain
	// Barriers holds one batch per group, indexed like Groups.
	Barriers []BarrierBatch
	// RefCounts holds the reference count of every registered pass,
	// indexed by PassID. Culled passes have zero.
	RefCounts []int
}

// Position returns the index of id in Order, or -1 when it was culled.
func (s *Schedule) Position(id PassID) int {
	return slices.Index(s.Order, id)
}

// scheduler orders the kept passes of a frame.
type scheduler struct {
	g         *depGraph
	lookahead int
}

// greedy performs list scheduling over the kept passes. A pass is ready
// once every predecessor has been scheduled; among ready passes the one
// sharing the most work with the recently scheduled window wins, ties go
// to registration order. Registration order is itself a valid schedule,
// so a ready pass always exists while the graph is acyclic.
func (s *scheduler) greedy(kept *bitset.Set) ([]int, error) {
	n := kept.Len()
	order := make([]int, 0, n)
	var scheduled bitset.Set

	candidates := make([]int, 0, n)
	kept.Each(func(i int) { candidates = append(candidates, i) })

	for len(order) < n {
		best, bestScore := noIndex, -1
		for _, c := range candidates {
			if scheduled.Has(c) || !s.ready(c, kept, &scheduled) {
				continue
			}
			if score := s.score(c, order); score > bestScore {
				best, bestScore = c, score
			}
		}
		if best == noIndex {
			return nil, errors.Wrap(ErrDependencyCycle, "no schedulable pass")
		}
		scheduled.Add(best)
		order = append(order, best)
	}
	return order, nil
}

func (s *scheduler) ready(i int, kept, scheduled *bitset.Set) bool {
	for _, p := range s.g.predecessors(i, kept) {
		if !scheduled.Has(p) {
			return false
		}
	}
	return true
}

// score weights direct dependencies and shared inputs with the last
// lookahead scheduled passes, most recent first.
func (s *scheduler) score(c int, order []int) int {
	score := 0
	cand := s.g.passes[c]
	for dist := 0; dist < s.lookahead && dist < len(order); dist++ {
		prev := order[len(order)-1-dist]
		weight := s.lookahead - dist
		if slices.Contains(s.g.deps[c], prev) {
			score += 2 * weight
		}
		score += weight * sharedInputs(cand, s.g.passes[prev])
	}
	return score
}

func sharedInputs(a, b *pass) int {
	n := 0
	for _, x := range a.inputs {
		for _, y := range b.inputs {
			if x.ref.sameResource(y.ref) {
				n++
				break
			}
		}
	}
	return n
}

// roots returns the last writers of the requested outputs.
func (s *scheduler) roots(outputs []ResRef) []int {
	var roots []int
	for _, out := range outputs {
		if w, ok := s.g.FindLastWriter(out, false); ok && !slices.Contains(roots, w) {
			roots = append(roots, w)
		}
	}
	return roots
}

// countRefs sets every kept pass's reference count: kept consumers of its
// outputs plus requested outputs it produced last.
func (s *scheduler) countRefs(kept *bitset.Set, roots []int) {
	for _, p := range s.g.passes {
		p.refCount = 0
	}
	kept.Each(func(i int) {
		for _, d := range s.g.deps[i] {
			s.g.passes[d].refCount++
		}
	})
	for _, r := range roots {
		s.g.passes[r].refCount++
	}
}
