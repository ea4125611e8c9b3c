// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package framegraph

import (
	"cmp"
	"slices"

	"github.com/cockroachdb/errors"
	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"
)

// Transition is one resource state change.
type Transition struct {
	Resource  string
	Kind      ResourceKind
	From, To  State
	SrcStages Stage
	DstStages Stage

	physical int
}

// BarrierBatch holds the transitions issued before one pass group.
type BarrierBatch struct {
	Src         Stage
	Dst         Stage
	Transitions []Transition
	Textures    []hal.TextureBarrier
	Buffers     []hal.BufferBarrier
}

// Empty reports whether the batch issues nothing.
func (b *BarrierBatch) Empty() bool { return len(b.Transitions) == 0 }

// useEntry is one link of a next-use chain.
type useEntry struct {
	kind     ResourceKind
	physical int
	logical  int
	pos      int
	group    int
	state    State
	stages   Stage
}

// finalState is the state a physical resource is left in after the frame.
type finalState struct {
	physical int
	state    State
	stages   Stage
}

// planBarriers walks the next-use chain of every physical resource and
// emits a transition wherever the required state differs from the current
// one, or the access is unordered. Consecutive reads in one state widen
// the destination stages of the transition that established the state.
func planBarriers(pool *ResourcePool, passes []*pass, groups [][]int) ([]BarrierBatch, []finalState, error) {
	var uses []useEntry
	pos := 0
	for gi, group := range groups {
		for _, pi := range group {
			p := passes[pi]
			add := func(a passAccess) {
				logical := int(a.ref.Index)
				for _, u := range uses[max(0, len(uses)-len(p.inputs)-len(p.outputs)):] {
					if u.pos == pos && u.logical == logical {
						return
					}
				}
				uses = append(uses, useEntry{
					kind:     a.ref.Kind,
					physical: pool.physical(logical),
					logical:  logical,
					pos:      pos,
					group:    gi,
					state:    a.ref.State,
					stages:   a.ref.Stages,
				})
			}
			for _, in := range p.inputs {
				add(in)
			}
			for _, out := range p.outputs {
				add(out)
			}
			pos++
		}
	}
	slices.SortStableFunc(uses, func(a, b useEntry) int {
		if c := cmp.Compare(a.kind, b.kind); c != 0 {
			return c
		}
		if c := cmp.Compare(a.physical, b.physical); c != 0 {
			return c
		}
		return cmp.Compare(a.pos, b.pos)
	})

	batches := make([]BarrierBatch, len(groups))
	var finals []finalState

	type ref struct{ group, index int }
	for start := 0; start < len(uses); {
		end := start
		for end < len(uses) && uses[end].physical == uses[start].physical && uses[end].kind == uses[start].kind {
			end++
		}
		phys := pool.at(uses[start].physical)
		cur, curStages := phys.state, phys.stages
		last := ref{group: noIndex}
		lastGroup := noIndex

		for _, u := range uses[start:end] {
			if u.group == lastGroup {
				if u.state != cur {
					return nil, nil, errors.AssertionFailedf(
						"framegraph: %q used as %s and %s in one pass group", pool.at(u.logical).name, cur, u.state)
				}
				if last.group == u.group {
					batches[last.group].Transitions[last.index].DstStages |= u.stages
				}
				curStages |= u.stages
				continue
			}
			lastGroup = u.group

			if u.state == cur && u.state != StateUnorderedAccess {
				if !u.state.IsWrite() && last.group != noIndex && batches[last.group].Transitions[last.index].To == u.state {
					batches[last.group].Transitions[last.index].DstStages |= u.stages
				}
				if u.state.IsWrite() {
					curStages = u.stages
				} else {
					curStages |= u.stages
				}
				continue
			}

			b := &batches[u.group]
			b.Transitions = append(b.Transitions, Transition{
				Resource:  pool.at(u.logical).name,
				Kind:      u.kind,
				From:      cur,
				To:        u.state,
				SrcStages: curStages,
				DstStages: u.stages,
				physical:  u.physical,
			})
			last = ref{group: u.group, index: len(b.Transitions) - 1}
			cur, curStages = u.state, u.stages
		}
		finals = append(finals, finalState{physical: uses[start].physical, state: cur, stages: curStages})
		start = end
	}

	for i := range batches {
		b := &batches[i]
		for _, t := range b.Transitions {
			b.Src |= t.SrcStages
			b.Dst |= t.DstStages
		}
	}
	return batches, finals, nil
}

// bindBarriers converts transitions to HAL barriers once allocations exist.
func bindBarriers(pool *ResourcePool, batches []BarrierBatch) error {
	for i := range batches {
		b := &batches[i]
		b.Textures = b.Textures[:0]
		b.Buffers = b.Buffers[:0]
		for _, t := range b.Transitions {
			phys := pool.at(t.physical)
			if phys == nil || phys.alloc == nil {
				return errors.AssertionFailedf("framegraph: %q has no backing allocation", t.Resource)
			}
			switch t.Kind {
			case KindTexture:
				b.Textures = append(b.Textures, hal.TextureBarrier{
					Texture: phys.alloc.Texture,
					Range:   hal.TextureRange{Aspect: gputypes.TextureAspectAll},
					Usage: hal.TextureUsageTransition{
						OldUsage: t.From.textureUsage(),
						NewUsage: t.To.textureUsage(),
					},
				})
			case KindBuffer:
				b.Buffers = append(b.Buffers, hal.BufferBarrier{
					Buffer: phys.alloc.Buffer,
					Usage: hal.BufferUsageTransition{
						OldUsage: t.From.bufferUsage(),
						NewUsage: t.To.bufferUsage(),
					},
				})
			}
		}
	}
	return nil
}
