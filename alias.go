// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package framegraph

import (
	"cmp"
	"slices"

	"github.com/cockroachdb/errors"
)

// AliasChain is a set of transient textures sharing one allocation.
// Owner is the member used first; members are ordered by first use.
type AliasChain struct {
	Owner   string
	Members []string
}

// interval is the range of scheduled positions a resource is used in.
type interval struct {
	first, last int
}

func (a interval) overlaps(b interval) bool {
	return a.first <= b.last && b.first <= a.last
}

type aliasCandidate struct {
	index  int
	serial uint64
	span   interval
}

// lifetimes computes the interval of every live resource over the
// scheduled order. Keys are resource indices.
func lifetimes(order []int, passes []*pass) map[int]interval {
	spans := make(map[int]interval)
	mark := func(ref ResRef, pos int) {
		i := int(ref.Index)
		s, ok := spans[i]
		if !ok {
			spans[i] = interval{pos, pos}
			return
		}
		s.first = min(s.first, pos)
		s.last = max(s.last, pos)
		spans[i] = s
	}
	for pos, pi := range order {
		p := passes[pi]
		for _, in := range p.inputs {
			mark(in.ref, pos)
		}
		for _, out := range p.outputs {
			mark(out.ref, pos)
		}
	}
	return spans
}

// buildAliases assigns transient textures with disjoint lifetimes and
// compatible descriptors to shared allocations. Candidates are visited in
// creation order and join the first chain every member of which they are
// disjoint from. History pairs, imported textures and requested outputs
// are never aliased.
func buildAliases(pool *ResourcePool, spans map[int]interval, requested []ResRef) ([][]int, error) {
	var cands []aliasCandidate
	for i, span := range spans {
		r := pool.at(i)
		if r == nil || r.kind != KindTexture || r.imported ||
			r.historyIndex != noIndex || r.historyOf != noIndex {
			continue
		}
		if slices.ContainsFunc(requested, func(o ResRef) bool { return int(o.Index) == i }) {
			continue
		}
		cands = append(cands, aliasCandidate{index: i, serial: r.serial, span: span})
	}
	slices.SortFunc(cands, func(a, b aliasCandidate) int { return cmp.Compare(a.serial, b.serial) })

	var chains [][]aliasCandidate
	for _, c := range cands {
		desc := pool.at(c.index).tex
		joined := false
		for k, chain := range chains {
			if !pool.at(chain[0].index).tex.compatible(desc) {
				continue
			}
			if slices.ContainsFunc(chain, func(m aliasCandidate) bool { return m.span.overlaps(c.span) }) {
				continue
			}
			chains[k] = append(chain, c)
			joined = true
			break
		}
		if !joined {
			chains = append(chains, []aliasCandidate{c})
		}
	}

	var out [][]int
	for _, chain := range chains {
		if len(chain) < 2 {
			continue
		}
		slices.SortStableFunc(chain, func(a, b aliasCandidate) int { return cmp.Compare(a.span.first, b.span.first) })
		owner := pool.at(chain[0].index)
		members := make([]int, 0, len(chain))
		members = append(members, chain[0].index)
		for _, m := range chain[1:] {
			r := pool.at(m.index)
			r.aliasOf = chain[0].index
			owner.texUsage |= r.tex.Usage | r.texUsage
			members = append(members, m.index)
		}
		out = append(out, members)
	}
	if err := checkAliasChains(pool); err != nil {
		return nil, err
	}
	return out, nil
}

// checkAliasChains verifies that following aliasOf from any record ends
// at a record that owns its allocation.
func checkAliasChains(pool *ResourcePool) error {
	limit := pool.records.Cap()
	for i := range limit {
		r := pool.at(i)
		if r == nil || r.aliasOf == noIndex {
			continue
		}
		cur, steps := r, 0
		for cur.aliasOf != noIndex {
			steps++
			next := pool.at(cur.aliasOf)
			if next == nil {
				return errors.WithAssertionFailure(
					errors.Wrapf(ErrUnknownResource, "alias target of %q", cur.name))
			}
			if steps > limit {
				return errors.WithAssertionFailure(
					errors.Wrapf(ErrCyclicAlias, "starting at %q", r.name))
			}
			cur = next
		}
	}
	return nil
}

func aliasChainNames(pool *ResourcePool, chains [][]int) []AliasChain {
	out := make([]AliasChain, 0, len(chains))
	for _, chain := range chains {
		ac := AliasChain{Owner: pool.at(chain[0]).name}
		for _, m := range chain {
			ac.Members = append(ac.Members, pool.at(m).name)
		}
		out = append(out, ac)
	}
	return out
}
