// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package framegraph

import (
	"github.com/cockroachdb/errors"
	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/framegraph/internal/arena"
)

const noIndex = -1

// historySuffix is appended to a resource name to name its history twin.
const historySuffix = "@history"

// access records one pass touching one version of a resource.
// For reads version is the version read, for writes the version produced.
type access struct {
	pass    int
	version uint32
}

type resource struct {
	name   string
	kind   ResourceKind
	serial uint64
	buf    BufferDesc
	tex    TextureDesc
	gen    Generation

	imported bool
	alloc    *Allocation
	allocBuf BufferDesc
	allocTex TextureDesc

	aliasOf      int
	historyOf    int
	historyIndex int

	// Physical state of alloc, carried across frames.
	state  State
	stages Stage

	lastFrame uint64
	// live marks records accessed by a pass that survived culling.
	live      bool
	readIn    []access
	writtenIn []access
	bufUsage  gputypes.BufferUsage
	texUsage  gputypes.TextureUsage
}

func (r *resource) used() bool { return len(r.readIn) > 0 || len(r.writtenIn) > 0 }

// preinitialized reports whether r has defined contents before any pass
// of the frame writes it.
func (r *resource) preinitialized() bool { return r.imported || r.historyOf != noIndex }

func (r *resource) resetFrame() {
	r.gen = Generation{}
	r.readIn = r.readIn[:0]
	r.writtenIn = r.writtenIn[:0]
	r.aliasOf = noIndex
	r.live = false
	r.bufUsage = 0
	r.texUsage = 0
}

// PoolStats describes the pool after the latest compile.
type PoolStats struct {
	Resources   int
	Allocations int
	Aliased     int
	Imported    int
	History     int
}

// ResourcePool owns every resource record of a builder. Records persist
// across frames and are found by name; generations and access logs are
// reset at each frame start while allocations and physical states are kept.
//
// ResourcePool is not safe for concurrent use.
type ResourcePool struct {
	records   *arena.Arena[resource]
	byName    map[string]arena.Handle
	allocator Allocator
	frame     uint64
	serial    uint64
	maxUnused uint64
}

func newResourcePool(a Allocator, maxUnused uint64) *ResourcePool {
	return &ResourcePool{
		records:   arena.New[resource](32),
		byName:    make(map[string]arena.Handle),
		allocator: a,
		maxUnused: maxUnused,
	}
}

// Frame returns the current frame number.
func (p *ResourcePool) Frame() uint64 { return p.frame }

func (p *ResourcePool) handle(h arena.Handle, r *resource) ResRef {
	return ResRef{
		Kind:  r.kind,
		Index: h.Index,
		Epoch: h.Epoch,
		Frame: p.frame,
		Gen:   r.gen,
	}
}

// record resolves ref to its record.
func (p *ResourcePool) record(ref ResRef) (*resource, error) {
	if !ref.IsValid() {
		return nil, errors.Wrap(ErrUnknownResource, "zero handle")
	}
	r := p.records.Get(arena.Handle{Index: ref.Index, Epoch: ref.Epoch})
	if r == nil {
		return nil, errors.Wrapf(ErrStaleHandle, "%s: slot reclaimed", ref)
	}
	if r.kind != ref.Kind {
		return nil, errors.Wrapf(ErrUnknownResource, "%s: kind mismatch", ref)
	}
	if ref.Frame != p.frame {
		return nil, errors.Wrapf(ErrStaleHandle, "%s %q: issued in frame %d, current %d", ref, r.name, ref.Frame, p.frame)
	}
	return r, nil
}

func (p *ResourcePool) at(index int) *resource {
	// #nosec G115 -- indices come from the arena
	r, _, _ := p.records.At(uint32(index))
	return r
}

func (p *ResourcePool) insert(r resource) (arena.Handle, *resource) {
	p.serial++
	r.serial = p.serial
	r.aliasOf = noIndex
	r.historyOf = noIndex
	r.historyIndex = noIndex
	r.lastFrame = p.frame
	h := p.records.Insert(r)
	p.byName[r.name] = h
	return h, p.records.Get(h)
}

func (p *ResourcePool) findNamed(name string, kind ResourceKind) (arena.Handle, *resource, error) {
	h, ok := p.byName[name]
	if !ok {
		return arena.Handle{}, nil, nil
	}
	r := p.records.Get(h)
	if r.kind != kind {
		return arena.Handle{}, nil, errors.Wrapf(ErrDescriptorMismatch, "%q is a %s, not a %s", name, r.kind, kind)
	}
	return h, r, nil
}

// CreateOrFindBuffer returns the current handle of the named buffer,
// creating it on first use. A changed descriptor is accepted until the
// buffer is accessed in the frame; the backing buffer is replaced at the
// next compile.
func (p *ResourcePool) CreateOrFindBuffer(name string, desc BufferDesc) (ResRef, error) {
	h, r, err := p.findNamed(name, KindBuffer)
	if err != nil {
		return ResRef{}, err
	}
	if r == nil {
		h, r = p.insert(resource{name: name, kind: KindBuffer, buf: desc})
		return p.handle(h, r), nil
	}
	if r.buf != desc {
		if r.imported || r.used() {
			return ResRef{}, errors.Wrapf(ErrDescriptorMismatch, "buffer %q", name)
		}
		r.buf = desc
		p.syncHistoryDesc(r)
	}
	return p.handle(h, r), nil
}

// CreateOrFindTexture is the texture counterpart of CreateOrFindBuffer.
func (p *ResourcePool) CreateOrFindTexture(name string, desc TextureDesc) (ResRef, error) {
	desc = desc.normalized()
	h, r, err := p.findNamed(name, KindTexture)
	if err != nil {
		return ResRef{}, err
	}
	if r == nil {
		h, r = p.insert(resource{name: name, kind: KindTexture, tex: desc})
		return p.handle(h, r), nil
	}
	if r.tex != desc {
		if r.imported || r.used() {
			return ResRef{}, errors.Wrapf(ErrDescriptorMismatch, "texture %q", name)
		}
		r.tex = desc
		p.syncHistoryDesc(r)
	}
	return p.handle(h, r), nil
}

func (p *ResourcePool) syncHistoryDesc(r *resource) {
	if r.historyIndex == noIndex {
		return
	}
	if twin := p.at(r.historyIndex); twin != nil {
		twin.buf, twin.tex = r.buf, r.tex
	}
}

// ImportBuffer registers an externally owned buffer for this frame.
// Imported resources are never destroyed or aliased by the pool and are
// readable before any pass writes them.
func (p *ResourcePool) ImportBuffer(name string, buf hal.Buffer, desc BufferDesc, state State) (ResRef, error) {
	if buf == nil {
		return ResRef{}, errors.Wrapf(ErrUnknownResource, "import %q: nil buffer", name)
	}
	h, r, err := p.findNamed(name, KindBuffer)
	if err != nil {
		return ResRef{}, err
	}
	if r == nil {
		h, r = p.insert(resource{name: name, kind: KindBuffer})
	} else if !r.imported {
		return ResRef{}, errors.Wrapf(ErrDescriptorMismatch, "%q is pool owned", name)
	}
	r.imported = true
	r.buf = desc
	r.allocBuf = desc
	r.alloc = &Allocation{Kind: KindBuffer, Buffer: buf, bufDesc: desc}
	r.state = state
	p.touch(r)
	return p.handle(h, r), nil
}

// ImportTexture registers an externally owned texture, such as a surface
// texture, for this frame. view may be nil.
func (p *ResourcePool) ImportTexture(name string, tex hal.Texture, view hal.TextureView, desc TextureDesc, state State) (ResRef, error) {
	if tex == nil {
		return ResRef{}, errors.Wrapf(ErrUnknownResource, "import %q: nil texture", name)
	}
	desc = desc.normalized()
	h, r, err := p.findNamed(name, KindTexture)
	if err != nil {
		return ResRef{}, err
	}
	if r == nil {
		h, r = p.insert(resource{name: name, kind: KindTexture})
	} else if !r.imported {
		return ResRef{}, errors.Wrapf(ErrDescriptorMismatch, "%q is pool owned", name)
	}
	r.imported = true
	r.tex = desc
	r.allocTex = desc
	r.alloc = &Allocation{Kind: KindTexture, Texture: tex, View: view, texDesc: desc}
	r.state = state
	p.touch(r)
	return p.handle(h, r), nil
}

// Find returns the current handle of a named resource.
func (p *ResourcePool) Find(name string, kind ResourceKind) (ResRef, error) {
	h, r, err := p.findNamed(name, kind)
	if err != nil {
		return ResRef{}, err
	}
	if r == nil {
		return ResRef{}, errors.Wrapf(ErrUnknownResource, "%s %q", kind, name)
	}
	return p.handle(h, r), nil
}

// GetForRead validates that ref is the latest version of its resource and
// counts the read. A pool-owned resource must have been written in the
// frame before it is read; imported and history resources hold contents
// from outside the frame and are readable at version 0.
func (p *ResourcePool) GetForRead(ref ResRef) error {
	r, err := p.record(ref)
	if err != nil {
		return err
	}
	if r.gen.Writes != ref.Gen.Writes {
		return errors.Wrapf(ErrStaleHandle, "read %q at version %d, latest is %d", r.name, ref.Gen.Writes, r.gen.Writes)
	}
	if ref.Gen.Writes == 0 && !r.preinitialized() {
		return errors.Wrapf(ErrUnknownResource, "read %q before any write", r.name)
	}
	r.gen.Reads++
	return nil
}

// GetForWrite validates that ref is the latest version of its resource,
// counts the write and returns the handle of the new version. Only the
// returned handle may be read afterwards.
func (p *ResourcePool) GetForWrite(ref ResRef) (ResRef, error) {
	r, err := p.record(ref)
	if err != nil {
		return ResRef{}, err
	}
	if r.gen.Writes != ref.Gen.Writes {
		return ResRef{}, errors.Wrapf(ErrStaleHandle, "write %q at version %d, latest is %d", r.name, ref.Gen.Writes, r.gen.Writes)
	}
	r.gen.Writes++
	out := ref
	out.Gen = r.gen
	return out, nil
}

// RequestHistoryOf returns the history twin of ref's resource, creating it
// on first request. The twin holds the contents the resource had at the end
// of the previous frame; the two bindings swap at every frame start.
func (p *ResourcePool) RequestHistoryOf(ref ResRef) (ResRef, error) {
	r, err := p.record(ref)
	if err != nil {
		return ResRef{}, err
	}
	if r.imported {
		return ResRef{}, errors.Wrapf(ErrUnknownResource, "history of imported %q", r.name)
	}
	if r.historyOf != noIndex {
		return ResRef{}, errors.Wrapf(ErrUnknownResource, "%q is itself a history resource", r.name)
	}
	if r.historyIndex != noIndex {
		twin, h, _ := p.records.At(uint32(r.historyIndex)) // #nosec G115
		return p.handle(h, twin), nil
	}
	owner := int(ref.Index)
	twinRec := resource{
		name: r.name + historySuffix,
		kind: r.kind,
		buf:  r.buf,
		tex:  r.tex,
	}
	h, twin := p.insert(twinRec)
	twin.historyOf = owner
	r = p.at(owner)
	r.historyIndex = int(h.Index)
	slogger().Info("framegraph: history resource created", "name", twin.name)
	return p.handle(h, twin), nil
}

// noteAccess records that r is accessed in state this frame.
func (p *ResourcePool) noteAccess(r *resource, state State) {
	switch r.kind {
	case KindBuffer:
		r.bufUsage |= state.bufferUsage()
	case KindTexture:
		r.texUsage |= state.textureUsage()
	}
	p.touch(r)
}

// touch marks r and its history twin as used in the current frame.
func (p *ResourcePool) touch(r *resource) {
	r.lastFrame = p.frame
	for _, i := range [...]int{r.historyIndex, r.historyOf} {
		if i == noIndex {
			continue
		}
		if o := p.at(i); o != nil {
			o.lastFrame = p.frame
		}
	}
}

// twinOf returns the other half of r's history pair, or nil.
func (p *ResourcePool) twinOf(r *resource) *resource {
	switch {
	case r.historyIndex != noIndex:
		return p.at(r.historyIndex)
	case r.historyOf != noIndex:
		return p.at(r.historyOf)
	}
	return nil
}

// beginFrame advances the frame: unused records are released, history
// bindings swap and per-frame state is cleared.
func (p *ResourcePool) beginFrame() {
	p.frame++

	if p.maxUnused > 0 {
		var expired []arena.Handle
		p.records.Each(func(h arena.Handle, r *resource) bool {
			if p.frame-r.lastFrame > p.maxUnused {
				expired = append(expired, h)
			}
			return true
		})
		for _, h := range expired {
			r := p.records.Get(h)
			slogger().Debug("framegraph: release unused resource", "name", r.name, "lastFrame", r.lastFrame)
			p.releaseAlloc(r)
			delete(p.byName, r.name)
			p.records.Remove(h)
		}
	}

	p.records.Each(func(_ arena.Handle, r *resource) bool {
		if r.historyIndex != noIndex {
			twin := p.at(r.historyIndex)
			if twin == nil {
				r.historyIndex = noIndex
			} else {
				r.alloc, twin.alloc = twin.alloc, r.alloc
				r.allocBuf, twin.allocBuf = twin.allocBuf, r.allocBuf
				r.allocTex, twin.allocTex = twin.allocTex, r.allocTex
				r.state, twin.state = twin.state, r.state
				r.stages, twin.stages = twin.stages, r.stages
			}
		}
		r.resetFrame()
		return true
	})
}

// resetGenerations rewinds every generation to the frame start value so
// execution can replay the declared chain.
func (p *ResourcePool) resetGenerations() {
	p.records.Each(func(_ arena.Handle, r *resource) bool {
		r.gen = Generation{}
		return true
	})
}

// clearAliases drops the alias chains and liveness of the previous compile.
func (p *ResourcePool) clearAliases() {
	p.records.Each(func(_ arena.Handle, r *resource) bool {
		r.aliasOf = noIndex
		r.live = false
		return true
	})
}

// physical returns the index of the record whose allocation backs index.
func (p *ResourcePool) physical(index int) int {
	if r := p.at(index); r != nil && r.aliasOf != noIndex {
		return r.aliasOf
	}
	return index
}

// ensureAllocated gives every used pool-owned record that is not an alias
// member a backing object matching its descriptor and required usage.
func (p *ResourcePool) ensureAllocated() error {
	var err error
	p.records.Each(func(h arena.Handle, r *resource) bool {
		if r.imported {
			return true
		}
		if r.aliasOf != noIndex {
			p.releaseAlloc(r)
			return true
		}
		if !r.live {
			return true
		}
		err = p.ensure(r)
		return err == nil
	})
	return err
}

// ensure (re)allocates r when its backing object no longer matches. Both
// halves of a history pair are created with the union of their usages so
// the allocations stay interchangeable when they swap.
func (p *ResourcePool) ensure(r *resource) error {
	twin := p.twinOf(r)
	switch r.kind {
	case KindBuffer:
		need := r.buf
		need.Usage |= r.bufUsage
		if twin != nil {
			need.Usage |= twin.bufUsage
		}
		if r.alloc != nil && r.allocBuf == need {
			return nil
		}
		p.releaseAlloc(r)
		al, err := p.allocator.AllocateBuffer(r.name, need)
		if err != nil {
			return errors.Mark(errors.Wrapf(err, "buffer %q", r.name), ErrAllocationFailure)
		}
		r.alloc, r.allocBuf = al, need
	case KindTexture:
		need := r.tex
		need.Usage |= r.texUsage
		if twin != nil {
			need.Usage |= twin.texUsage
		}
		if r.alloc != nil && r.allocTex == need {
			return nil
		}
		p.releaseAlloc(r)
		al, err := p.allocator.AllocateTexture(r.name, need)
		if err != nil {
			return errors.Mark(errors.Wrapf(err, "texture %q", r.name), ErrAllocationFailure)
		}
		r.alloc, r.allocTex = al, need
	}
	slogger().Debug("framegraph: allocate", "name", r.name, "kind", r.kind, "id", r.alloc.ID)
	return nil
}

func (p *ResourcePool) releaseAlloc(r *resource) {
	if r.alloc == nil {
		return
	}
	if !r.imported {
		p.allocator.Release(r.alloc)
	}
	r.alloc = nil
	r.allocBuf = BufferDesc{}
	r.allocTex = TextureDesc{}
	r.state = StateUndefined
	r.stages = StageNone
}

// Stats returns record and allocation counts.
func (p *ResourcePool) Stats() PoolStats {
	var s PoolStats
	p.records.Each(func(_ arena.Handle, r *resource) bool {
		s.Resources++
		if r.alloc != nil && !r.imported {
			s.Allocations++
		}
		if r.aliasOf != noIndex {
			s.Aliased++
		}
		if r.imported {
			s.Imported++
		}
		if r.historyOf != noIndex {
			s.History++
		}
		return true
	})
	return s
}

func (p *ResourcePool) destroy() {
	p.records.Each(func(_ arena.Handle, r *resource) bool {
		p.releaseAlloc(r)
		return true
	})
}
