// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package framegraph

import (
	"slices"
	"strings"

	"github.com/cockroachdb/errors"

	"github.com/gogpu/framegraph/internal/bitset"
)

// depGraph answers dependency questions about the passes of one frame.
// It is rebuilt by every compile.
type depGraph struct {
	pool   *ResourcePool
	passes []*pass

	// deps[i] lists the passes whose outputs pass i consumes, including
	// versions it updates through a loading write.
	deps [][]int
	// waw[i] lists the writers of versions pass i replaces wholesale.
	// They order pass i but do not keep it alive.
	waw [][]int
	// war[i] lists the passes that read a version pass i overwrites.
	war [][]int

	reach     []bitset.Set
	reachDone []bool
}

func newDepGraph(pool *ResourcePool, passes []*pass) *depGraph {
	g := &depGraph{
		pool:      pool,
		passes:    passes,
		deps:      make([][]int, len(passes)),
		waw:       make([][]int, len(passes)),
		war:       make([][]int, len(passes)),
		reach:     make([]bitset.Set, len(passes)),
		reachDone: make([]bool, len(passes)),
	}
	for i, p := range passes {
		g.deps[i] = g.BuildDependsOn(p)
		p.dependsOn = g.deps[i]
		g.waw[i] = g.overwrittenWriters(p)
		g.war[i] = g.readersOverwrittenBy(p)
	}
	return g
}

// FindLastWriter returns the pass that produced the version ref reads.
// For a write handle it returns the writer of the version being replaced.
// ok is false when the version predates every pass of the frame.
func (g *depGraph) FindLastWriter(ref ResRef, isWrite bool) (int, bool) {
	want := ref.Gen.Writes
	if isWrite {
		want--
	}
	if want == 0 {
		return noIndex, false
	}
	r := g.pool.at(int(ref.Index))
	if r == nil {
		return noIndex, false
	}
	for _, a := range r.writtenIn {
		if a.version == want {
			return a.pass, true
		}
	}
	return noIndex, false
}

// BuildDependsOn returns the sorted set of passes p directly depends on:
// the last writers of its inputs and of the versions its read-modify
// outputs update. A write that replaces the whole contents does not depend
// on the previous writer.
func (g *depGraph) BuildDependsOn(p *pass) []int {
	var deps []int
	add := func(i int, ok bool) {
		if ok && i != int(p.id) && !slices.Contains(deps, i) {
			deps = append(deps, i)
		}
	}
	for _, in := range p.inputs {
		add(g.FindLastWriter(in.ref, false))
	}
	for _, out := range p.outputs {
		if out.inPlace || out.ref.State.loadsPrevious() {
			add(g.FindLastWriter(out.ref, true))
		}
	}
	slices.Sort(deps)
	return deps
}

// overwrittenWriters returns the writers of the versions p replaces
// without reading them.
func (g *depGraph) overwrittenWriters(p *pass) []int {
	var out []int
	for _, o := range p.outputs {
		if o.inPlace || o.ref.State.loadsPrevious() {
			continue
		}
		if w, ok := g.FindLastWriter(o.ref, true); ok && w != int(p.id) && !slices.Contains(out, w) {
			out = append(out, w)
		}
	}
	slices.Sort(out)
	return out
}

// readersOverwrittenBy returns the passes reading a version that p
// replaces. They must run before p.
func (g *depGraph) readersOverwrittenBy(p *pass) []int {
	var readers []int
	for _, out := range p.outputs {
		r := g.pool.at(int(out.ref.Index))
		if r == nil {
			continue
		}
		prev := out.ref.Gen.Writes - 1
		for _, a := range r.readIn {
			if a.version == prev && a.pass != int(p.id) && !slices.Contains(readers, a.pass) {
				readers = append(readers, a.pass)
			}
		}
	}
	slices.Sort(readers)
	return readers
}

// DependsOn reports whether a transitively depends on b.
// Results are memoized for the lifetime of the graph.
func (g *depGraph) DependsOn(a, b int) bool {
	if a == b {
		return false
	}
	return g.reachable(a).Has(b)
}

func (g *depGraph) reachable(a int) *bitset.Set {
	if g.reachDone[a] {
		return &g.reach[a]
	}
	// Mark first so a cycle terminates; cycles are reported by linearize.
	g.reachDone[a] = true
	for _, d := range g.deps[a] {
		g.reach[a].Add(d)
		g.reach[a].Union(g.reachable(d))
	}
	return &g.reach[a]
}

// predecessors returns every pass that must run before i among kept passes.
func (g *depGraph) predecessors(i int, kept *bitset.Set) []int {
	var out []int
	for _, d := range g.deps[i] {
		if kept.Has(d) {
			out = append(out, d)
		}
	}
	for _, list := range [...][]int{g.waw[i], g.war[i]} {
		for _, r := range list {
			if kept.Has(r) && !slices.Contains(out, r) {
				out = append(out, r)
			}
		}
	}
	return out
}

// cull returns the passes reachable backwards from roots, plus every
// side-effect pass.
func (g *depGraph) cull(roots []int) bitset.Set {
	var kept bitset.Set
	stack := slices.Clone(roots)
	for i, p := range g.passes {
		if p.sideEffect {
			stack = append(stack, i)
		}
	}
	for len(stack) > 0 {
		i := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if kept.Has(i) {
			continue
		}
		kept.Add(i)
		stack = append(stack, g.deps[i]...)
	}
	return kept
}

// linearize orders the kept passes so that every pass follows its
// predecessors, visiting roots in registration order.
func (g *depGraph) linearize(kept *bitset.Set) ([]int, error) {
	const (
		unvisited = iota
		visiting
		done
	)
	mark := make([]uint8, len(g.passes))
	order := make([]int, 0, kept.Len())
	var path []int

	var visit func(i int) error
	visit = func(i int) error {
		switch mark[i] {
		case done:
			return nil
		case visiting:
			return g.cycleError(path, i)
		}
		mark[i] = visiting
		path = append(path, i)
		for _, d := range g.predecessors(i, kept) {
			if err := visit(d); err != nil {
				return err
			}
		}
		path = path[:len(path)-1]
		mark[i] = done
		order = append(order, i)
		return nil
	}

	var err error
	kept.Each(func(i int) {
		if err == nil {
			err = visit(i)
		}
	})
	if err != nil {
		return nil, err
	}
	return order, nil
}

// checkOrder verifies that no pass of order runs before a pass it
// transitively depends on.
func (g *depGraph) checkOrder(order []int) error {
	for i, a := range order {
		for _, b := range order[i+1:] {
			if g.DependsOn(a, b) {
				return errors.AssertionFailedf("framegraph: pass %q scheduled before its dependency %q",
					g.passes[a].name, g.passes[b].name)
			}
		}
	}
	return nil
}

func (g *depGraph) cycleError(path []int, at int) error {
	start := slices.Index(path, at)
	names := make([]string, 0, len(path)-start+1)
	for _, i := range path[start:] {
		names = append(names, g.passes[i].name)
	}
	names = append(names, g.passes[at].name)
	return errors.Wrapf(ErrDependencyCycle, "%s", strings.Join(names, " -> "))
}
