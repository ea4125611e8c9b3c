// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package framegraph

import (
	"github.com/cockroachdb/errors"
	"github.com/gogpu/wgpu/hal"
	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/exp/constraints"
)

// bufferAlignment is the size class granularity of pooled buffers.
const bufferAlignment = 256

// maxRetainedPerDesc bounds how many released objects are kept per descriptor.
const maxRetainedPerDesc = 4

// Allocation is a GPU object backing one physical resource.
type Allocation struct {
	ID      uint64
	Kind    ResourceKind
	Buffer  hal.Buffer
	Texture hal.Texture
	View    hal.TextureView

	bufDesc BufferDesc
	texDesc TextureDesc
}

// Allocator creates and releases the GPU objects that back pool resources.
// Released allocations may be handed out again for an identical descriptor.
type Allocator interface {
	AllocateBuffer(label string, desc BufferDesc) (*Allocation, error)
	AllocateTexture(label string, desc TextureDesc) (*Allocation, error)
	Release(a *Allocation)
	Destroy()
}

// FencedAllocator is an Allocator that holds back destroying objects until
// the GPU work that may still use them has completed. The builder reports
// every queue submission and the highest completed submission index.
type FencedAllocator interface {
	Allocator
	Submitted(index uint64)
	Completed(index uint64)
}

// AllocatorStats counts allocator activity since creation.
type AllocatorStats struct {
	Created   int
	Reused    int
	Destroyed int
	// Pending counts objects waiting for a submission to complete.
	Pending int
}

// retired is an object released while submission fence may still use it.
type retired struct {
	al    *Allocation
	fence uint64
}

// HALAllocator allocates directly from a hal.Device. Released objects are
// kept in a small LRU keyed by descriptor; evicted entries are destroyed.
//
// HALAllocator is not safe for concurrent use.
type HALAllocator struct {
	device   hal.Device
	buffers  *lru.Cache[BufferDesc, []*Allocation]
	textures *lru.Cache[TextureDesc, []*Allocation]
	nextID   uint64
	stats    AllocatorStats

	submitted uint64
	completed uint64
	pending   []retired
}

var _ FencedAllocator = (*HALAllocator)(nil)

// NewHALAllocator returns an allocator that retains released objects for up
// to retain distinct descriptors per resource kind.
func NewHALAllocator(device hal.Device, retain int) (*HALAllocator, error) {
	if device == nil {
		return nil, ErrNilDevice
	}
	if retain <= 0 {
		retain = defaultRetained
	}
	a := &HALAllocator{device: device}
	var err error
	a.buffers, err = lru.NewWithEvict[BufferDesc, []*Allocation](retain, a.evictBuffers)
	if err != nil {
		return nil, errors.Wrap(err, "framegraph: buffer cache")
	}
	a.textures, err = lru.NewWithEvict[TextureDesc, []*Allocation](retain, a.evictTextures)
	if err != nil {
		return nil, errors.Wrap(err, "framegraph: texture cache")
	}
	return a, nil
}

// AllocateBuffer returns a buffer of at least desc.Size bytes.
func (a *HALAllocator) AllocateBuffer(label string, desc BufferDesc) (*Allocation, error) {
	desc.Size = alignUp(desc.Size, bufferAlignment)
	if al := popRetained(a.buffers, desc); al != nil {
		a.stats.Reused++
		return al, nil
	}
	buf, err := a.device.CreateBuffer(&hal.BufferDescriptor{
		Label: label,
		Size:  desc.Size,
		Usage: desc.Usage,
	})
	if err != nil {
		return nil, errors.Mark(errors.Wrapf(err, "create buffer %q", label), ErrAllocationFailure)
	}
	a.nextID++
	a.stats.Created++
	return &Allocation{ID: a.nextID, Kind: KindBuffer, Buffer: buf, bufDesc: desc}, nil
}

// AllocateTexture returns a texture and a default view matching desc.
func (a *HALAllocator) AllocateTexture(label string, desc TextureDesc) (*Allocation, error) {
	desc = desc.normalized()
	if al := popRetained(a.textures, desc); al != nil {
		a.stats.Reused++
		return al, nil
	}
	tex, err := a.device.CreateTexture(&hal.TextureDescriptor{
		Label: label,
		Size: hal.Extent3D{
			Width:              desc.Width,
			Height:             desc.Height,
			DepthOrArrayLayers: desc.DepthOrLayers,
		},
		MipLevelCount: desc.MipLevels,
		SampleCount:   desc.Samples,
		Dimension:     desc.Dimension,
		Format:        desc.Format,
		Usage:         desc.Usage,
	})
	if err != nil {
		return nil, errors.Mark(errors.Wrapf(err, "create texture %q", label), ErrAllocationFailure)
	}
	view, err := a.device.CreateTextureView(tex, &hal.TextureViewDescriptor{Label: label + "_view"})
	if err != nil {
		a.device.DestroyTexture(tex)
		return nil, errors.Mark(errors.Wrapf(err, "create texture view %q", label), ErrAllocationFailure)
	}
	a.nextID++
	a.stats.Created++
	return &Allocation{ID: a.nextID, Kind: KindTexture, Texture: tex, View: view, texDesc: desc}, nil
}

// Release returns al to the retained cache.
func (a *HALAllocator) Release(al *Allocation) {
	if al == nil {
		return
	}
	switch al.Kind {
	case KindBuffer:
		if !pushRetained(a.buffers, al.bufDesc, al) {
			a.destroy(al)
		}
	case KindTexture:
		if !pushRetained(a.textures, al.texDesc, al) {
			a.destroy(al)
		}
	}
}

// Submitted records that work up to submission index may use every object
// handed out so far.
func (a *HALAllocator) Submitted(index uint64) {
	a.submitted = max(a.submitted, index)
}

// Completed destroys the objects whose fence is at or below index.
func (a *HALAllocator) Completed(index uint64) {
	a.completed = max(a.completed, index)
	kept := a.pending[:0]
	for _, r := range a.pending {
		if r.fence > a.completed {
			kept = append(kept, r)
			continue
		}
		a.destroyNow(r.al)
	}
	clear(a.pending[len(kept):])
	a.pending = kept
}

// Stats returns allocation counters.
func (a *HALAllocator) Stats() AllocatorStats {
	s := a.stats
	s.Pending = len(a.pending)
	return s
}

// Destroy destroys every retained and pending object. The caller must
// make sure the GPU is idle.
func (a *HALAllocator) Destroy() {
	a.buffers.Purge()
	a.textures.Purge()
	for _, r := range a.pending {
		a.destroyNow(r.al)
	}
	clear(a.pending)
	a.pending = a.pending[:0]
}

func (a *HALAllocator) evictBuffers(desc BufferDesc, list []*Allocation) {
	if len(list) > 0 {
		slogger().Debug("framegraph: evict retained buffers", "size", desc.Size, "count", len(list))
	}
	for _, al := range list {
		a.destroy(al)
	}
}

func (a *HALAllocator) evictTextures(desc TextureDesc, list []*Allocation) {
	if len(list) > 0 {
		slogger().Debug("framegraph: evict retained textures",
			"format", desc.Format, "width", desc.Width, "height", desc.Height, "count", len(list))
	}
	for _, al := range list {
		a.destroy(al)
	}
}

// destroy destroys al once no submitted work can reference it.
func (a *HALAllocator) destroy(al *Allocation) {
	if a.submitted > a.completed {
		a.pending = append(a.pending, retired{al: al, fence: a.submitted})
		return
	}
	a.destroyNow(al)
}

func (a *HALAllocator) destroyNow(al *Allocation) {
	if al.View != nil {
		a.device.DestroyTextureView(al.View)
		al.View = nil
	}
	if al.Texture != nil {
		a.device.DestroyTexture(al.Texture)
		al.Texture = nil
	}
	if al.Buffer != nil {
		a.device.DestroyBuffer(al.Buffer)
		al.Buffer = nil
	}
	a.stats.Destroyed++
}

// popRetained takes the most recently released allocation for key.
// The emptied entry stays in the cache: Remove would run the evict
// callback on objects that are now in use.
func popRetained[K comparable](c *lru.Cache[K, []*Allocation], key K) *Allocation {
	list, ok := c.Get(key)
	if !ok || len(list) == 0 {
		return nil
	}
	al := list[len(list)-1]
	list[len(list)-1] = nil
	c.Add(key, list[:len(list)-1])
	return al
}

func pushRetained[K comparable](c *lru.Cache[K, []*Allocation], key K, al *Allocation) bool {
	list, _ := c.Get(key)
	if len(list) >= maxRetainedPerDesc {
		return false
	}
	c.Add(key, append(list, al))
	return true
}

func alignUp[T constraints.Unsigned](v, align T) T {
	if m := v % align; m != 0 {
		return v - m + align
	}
	return v
}
