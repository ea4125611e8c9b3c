// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package framegraph

import (
	"fmt"

	"github.com/gogpu/gputypes"
)

// ResourceKind distinguishes buffers from textures.
type ResourceKind uint8

const (
	KindBuffer ResourceKind = iota
	KindTexture
)

// String returns the kind name.
func (k ResourceKind) String() string {
	switch k {
	case KindBuffer:
		return "buffer"
	case KindTexture:
		return "texture"
	default:
		return fmt.Sprintf("ResourceKind(%d)", uint8(k))
	}
}

// State is the access state a pass requires a resource to be in.
type State uint8

const (
	// StateUndefined is the state of freshly allocated or aliased memory.
	StateUndefined State = iota
	StateVertexBuffer
	StateIndexBuffer
	StateUniform
	StateIndirect
	StateShaderRead
	StateDepthRead
	StateCopySrc
	StatePresent
	// StateUnorderedAccess is read-write storage access. Consecutive
	// accesses in this state are still separated by a barrier.
	StateUnorderedAccess
	StateRenderTarget
	StateDepthWrite
	StateCopyDst
)

var stateNames = [...]string{
	StateUndefined:       "Undefined",
	StateVertexBuffer:    "VertexBuffer",
	StateIndexBuffer:     "IndexBuffer",
	StateUniform:         "Uniform",
	StateIndirect:        "Indirect",
	StateShaderRead:      "ShaderRead",
	StateDepthRead:       "DepthRead",
	StateCopySrc:         "CopySrc",
	StatePresent:         "Present",
	StateUnorderedAccess: "UnorderedAccess",
	StateRenderTarget:    "RenderTarget",
	StateDepthWrite:      "DepthWrite",
	StateCopyDst:         "CopyDst",
}

// String returns the state name.
func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("State(%d)", uint8(s))
}

// IsWrite reports whether the state allows the GPU to modify the resource.
func (s State) IsWrite() bool { return s >= StateUnorderedAccess }

// loadsPrevious reports whether a write in state s may keep part of the
// previous contents: attachments can load, storage writes can be partial.
func (s State) loadsPrevious() bool {
	switch s {
	case StateRenderTarget, StateDepthWrite, StateUnorderedAccess:
		return true
	}
	return false
}

// textureUsage maps a state to the texture usage flag it requires.
func (s State) textureUsage() gputypes.TextureUsage {
	switch s {
	case StateShaderRead, StateDepthRead:
		return gputypes.TextureUsageTextureBinding
	case StateUnorderedAccess:
		return gputypes.TextureUsageStorageBinding
	case StateRenderTarget, StateDepthWrite, StatePresent:
		return gputypes.TextureUsageRenderAttachment
	case StateCopySrc:
		return gputypes.TextureUsageCopySrc
	case StateCopyDst:
		return gputypes.TextureUsageCopyDst
	default:
		return gputypes.TextureUsageNone
	}
}

// bufferUsage maps a state to the buffer usage flag it requires.
func (s State) bufferUsage() gputypes.BufferUsage {
	switch s {
	case StateVertexBuffer:
		return gputypes.BufferUsageVertex
	case StateIndexBuffer:
		return gputypes.BufferUsageIndex
	case StateUniform:
		return gputypes.BufferUsageUniform
	case StateIndirect:
		return gputypes.BufferUsageIndirect
	case StateShaderRead, StateUnorderedAccess:
		return gputypes.BufferUsageStorage
	case StateCopySrc:
		return gputypes.BufferUsageCopySrc
	case StateCopyDst:
		return gputypes.BufferUsageCopyDst
	default:
		return gputypes.BufferUsageNone
	}
}

// Stage is a bitmask of pipeline stages.
type Stage uint32

const (
	StageNone   Stage = 0
	StageVertex Stage = 1 << (iota - 1)
	StageFragment
	StageCompute
	StageTransfer
	StageColorOutput
	StageDepthTest
	StageIndirect
	StageHost

	StageAll = StageVertex | StageFragment | StageCompute | StageTransfer |
		StageColorOutput | StageDepthTest | StageIndirect | StageHost
)

// Generation counts the reads and writes declared on a resource this frame.
type Generation struct {
	Reads  uint32
	Writes uint32
}

// ResRef is a handle to one version of a resource.
//
// The handle captures the write generation at the moment it was issued.
// Reading through a handle is valid only while no later write has been
// declared. Writing returns a new handle that later readers must use.
type ResRef struct {
	Kind   ResourceKind
	Index  uint32
	Epoch  uint32
	Frame  uint64
	Gen    Generation
	State  State
	Stages Stage
}

// IsValid reports whether r was issued by a builder.
func (r ResRef) IsValid() bool { return r.Epoch != 0 }

// sameResource reports whether a and b address the same resource slot.
func (r ResRef) sameResource(o ResRef) bool {
	return r.Kind == o.Kind && r.Index == o.Index && r.Epoch == o.Epoch
}

func (r ResRef) String() string {
	return fmt.Sprintf("%s#%d@w%d", r.Kind, r.Index, r.Gen.Writes)
}

// BufferDesc describes a buffer resource.
type BufferDesc struct {
	Size  uint64
	Usage gputypes.BufferUsage
}

// TextureDesc describes a texture resource.
// Zero MipLevels, Samples or DepthOrLayers mean 1.
// A zero Dimension means 2D.
type TextureDesc struct {
	Format        gputypes.TextureFormat
	Width         uint32
	Height        uint32
	DepthOrLayers uint32
	MipLevels     uint32
	Samples       uint32
	Dimension     gputypes.TextureDimension
	Usage         gputypes.TextureUsage
}

func (d TextureDesc) normalized() TextureDesc {
	if d.DepthOrLayers == 0 {
		d.DepthOrLayers = 1
	}
	if d.MipLevels == 0 {
		d.MipLevels = 1
	}
	if d.Samples == 0 {
		d.Samples = 1
	}
	if d.Dimension == gputypes.TextureDimensionUndefined {
		d.Dimension = gputypes.TextureDimension2D
	}
	return d
}

// compatible reports whether two textures can share memory.
// Usage is not compared: the union of usages is applied to the owner.
func (d TextureDesc) compatible(o TextureDesc) bool {
	d.Usage, o.Usage = 0, 0
	return d.normalized() == o.normalized()
}

// PassID identifies a pass within the current frame.
type PassID int

// InvalidPass is returned when a pass could not be added.
const InvalidPass PassID = -1
