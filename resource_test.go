// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package framegraph

import (
	"fmt"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"
)

func TestGenerationChain(t *testing.T) {
	p := newResourcePool(nil, 0)
	v0, err := p.CreateOrFindTexture("t", testDesc)
	if err != nil {
		t.Fatalf("CreateOrFindTexture failed: %v", err)
	}
	if v0.Gen != (Generation{}) {
		t.Fatalf("new handle generation = %+v, want zero", v0.Gen)
	}

	v1, err := p.GetForWrite(v0)
	if err != nil {
		t.Fatalf("GetForWrite failed: %v", err)
	}
	if v1.Gen.Writes != 1 {
		t.Errorf("write handle version = %d, want 1", v1.Gen.Writes)
	}

	if err := p.GetForRead(v0); !errors.Is(err, ErrStaleHandle) {
		t.Errorf("read through superseded handle = %v, want ErrStaleHandle", err)
	}
	if _, err := p.GetForWrite(v0); !errors.Is(err, ErrStaleHandle) {
		t.Errorf("write through superseded handle = %v, want ErrStaleHandle", err)
	}
	if err := p.GetForRead(v1); err != nil {
		t.Errorf("read through latest handle failed: %v", err)
	}
	v2, err := p.GetForWrite(v1)
	if err != nil {
		t.Fatalf("second GetForWrite failed: %v", err)
	}
	if v2.Gen.Writes != 2 {
		t.Errorf("second write version = %d, want 2", v2.Gen.Writes)
	}
	// Writes take the latest handle, not the version they will produce.
	ahead := v2
	ahead.Gen.Writes++
	if _, err := p.GetForWrite(ahead); !errors.Is(err, ErrStaleHandle) {
		t.Errorf("write through a future version = %v, want ErrStaleHandle", err)
	}
	if latest, _ := p.Find("t", KindTexture); latest.Gen.Writes != 2 || latest.Gen.Reads != 1 {
		t.Errorf("Find generation = %+v, want 2 writes and 1 read", latest.Gen)
	}
}

func TestReadBeforeWrite(t *testing.T) {
	p := newResourcePool(nil, 0)
	fresh, err := p.CreateOrFindTexture("t", testDesc)
	if err != nil {
		t.Fatalf("CreateOrFindTexture failed: %v", err)
	}
	if err := p.GetForRead(fresh); !errors.Is(err, ErrUnknownResource) {
		t.Errorf("read of unwritten resource = %v, want ErrUnknownResource", err)
	}
	hist, err := p.RequestHistoryOf(fresh)
	if err != nil {
		t.Fatalf("RequestHistoryOf failed: %v", err)
	}
	if err := p.GetForRead(hist); err != nil {
		t.Errorf("read of history resource failed: %v", err)
	}

	b := newTestBuilder(t)
	b.BeginFrame()
	_, err = b.AddPass("p", func(pb *PassBuilder) error {
		pb.CreateTexture("never_written", testDesc)
		pb.ReadTextureNamed("never_written", StateShaderRead, StageFragment)
		return nil
	}, nil)
	if !errors.Is(err, ErrUnknownResource) {
		t.Errorf("named read of unwritten texture = %v, want ErrUnknownResource", err)
	}
}

func TestRequestedOutputMustBeWritten(t *testing.T) {
	b := newTestBuilder(t)
	b.BeginFrame()
	var unwritten ResRef
	if _, err := b.AddPass("p", func(pb *PassBuilder) error {
		unwritten = pb.CreateTexture("unwritten", testDesc)
		pb.WriteTexture(pb.CreateTexture("written", testDesc), StateRenderTarget, StageColorOutput)
		return nil
	}, nil); err != nil {
		t.Fatalf("AddPass failed: %v", err)
	}
	if _, err := b.Compile(unwritten); !errors.Is(err, ErrUnknownResource) {
		t.Errorf("Compile(unwritten) = %v, want ErrUnknownResource", err)
	}
}

func TestImportedOutputNeedsNoWrite(t *testing.T) {
	device, _, cleanup := createNoopDevice(t)
	defer cleanup()
	tex, err := device.CreateTexture(&hal.TextureDescriptor{
		Label:         "surface",
		Size:          hal.Extent3D{Width: 64, Height: 64, DepthOrArrayLayers: 1},
		MipLevelCount: 1,
		SampleCount:   1,
		Dimension:     gputypes.TextureDimension2D,
		Format:        gputypes.TextureFormatRGBA8Unorm,
		Usage:         gputypes.TextureUsageRenderAttachment,
	})
	if err != nil {
		t.Fatalf("CreateTexture failed: %v", err)
	}

	b := newTestBuilder(t)
	b.BeginFrame()
	surface, err := b.ImportTexture("surface", tex, nil, testDesc, StatePresent)
	if err != nil {
		t.Fatalf("ImportTexture failed: %v", err)
	}
	s, err := b.Compile(surface)
	if err != nil {
		t.Fatalf("Compile(imported) failed: %v", err)
	}
	if len(s.Order) != 0 {
		t.Errorf("order = %v, want no passes", s.Order)
	}
}

func TestHandleOutlivingFrameIsStale(t *testing.T) {
	p := newResourcePool(nil, 0)
	p.beginFrame()
	ref, err := p.CreateOrFindBuffer("b", BufferDesc{Size: 16})
	if err != nil {
		t.Fatalf("CreateOrFindBuffer failed: %v", err)
	}
	p.beginFrame()
	if err := p.GetForRead(ref); !errors.Is(err, ErrStaleHandle) {
		t.Errorf("read with last frame's handle = %v, want ErrStaleHandle", err)
	}
	fresh, err := p.Find("b", KindBuffer)
	if err != nil {
		t.Fatalf("Find failed: %v", err)
	}
	if err := p.GetForRead(fresh); err != nil {
		t.Errorf("read with current handle failed: %v", err)
	}
}

func TestRecordLookupErrors(t *testing.T) {
	p := newResourcePool(nil, 0)
	tex, err := p.CreateOrFindTexture("t", testDesc)
	if err != nil {
		t.Fatalf("CreateOrFindTexture failed: %v", err)
	}
	wrongKind := tex
	wrongKind.Kind = KindBuffer
	wrongEpoch := tex
	wrongEpoch.Epoch++

	tests := []struct {
		name string
		ref  ResRef
		want error
	}{
		{"zero handle", ResRef{}, ErrUnknownResource},
		{"kind mismatch", wrongKind, ErrUnknownResource},
		{"reclaimed slot", wrongEpoch, ErrStaleHandle},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := p.GetForRead(tt.ref); !errors.Is(err, tt.want) {
				t.Errorf("GetForRead = %v, want %v", err, tt.want)
			}
		})
	}

	if _, err := p.Find("missing", KindTexture); !errors.Is(err, ErrUnknownResource) {
		t.Errorf("Find(missing) = %v, want ErrUnknownResource", err)
	}
	if _, err := p.CreateOrFindBuffer("t", BufferDesc{Size: 4}); !errors.Is(err, ErrDescriptorMismatch) {
		t.Errorf("buffer named like a texture = %v, want ErrDescriptorMismatch", err)
	}
}

func TestDescriptorChange(t *testing.T) {
	b := newTestBuilder(t)
	b.BeginFrame()

	if _, err := b.Pool().CreateOrFindTexture("t", testDesc); err != nil {
		t.Fatalf("CreateOrFindTexture failed: %v", err)
	}
	wide := testDesc
	wide.Width = 128
	if _, err := b.Pool().CreateOrFindTexture("t", wide); err != nil {
		t.Fatalf("descriptor change before use failed: %v", err)
	}

	if _, err := b.AddPass("write", func(pb *PassBuilder) error {
		pb.WriteTexture(pb.CreateTexture("t", wide), StateRenderTarget, StageColorOutput)
		return nil
	}, nil); err != nil {
		t.Fatalf("AddPass failed: %v", err)
	}
	_, err := b.AddPass("resize", func(pb *PassBuilder) error {
		pb.CreateTexture("t", testDesc)
		return nil
	}, nil)
	if !errors.Is(err, ErrDescriptorMismatch) {
		t.Errorf("descriptor change after use = %v, want ErrDescriptorMismatch", err)
	}
}

func TestPassDeclarationErrors(t *testing.T) {
	tests := []struct {
		name  string
		setup SetupFunc
		want  error
	}{
		{"write and read same resource", func(pb *PassBuilder) error {
			out := pb.WriteTexture(pb.CreateTexture("t", testDesc), StateRenderTarget, StageColorOutput)
			pb.ReadTexture(out, StateShaderRead, StageFragment)
			return nil
		}, ErrDuplicateResource},
		{"read twice", func(pb *PassBuilder) error {
			tex := pb.CreateTexture("t", testDesc)
			pb.ReadHistoryTexture(tex, StateShaderRead, StageFragment)
			pb.ReadHistoryTexture(tex, StateShaderRead, StageCompute)
			return nil
		}, ErrDuplicateResource},
		{"read before write", func(pb *PassBuilder) error {
			pb.ReadTexture(pb.CreateTexture("t", testDesc), StateShaderRead, StageFragment)
			return nil
		}, ErrUnknownResource},
		{"buffer handle as texture", func(pb *PassBuilder) error {
			buf := pb.CreateBuffer("b", BufferDesc{Size: 16})
			pb.ReadTexture(buf, StateShaderRead, StageFragment)
			return nil
		}, ErrUnknownResource},
		{"too many outputs", func(pb *PassBuilder) error {
			for i := range MaxPassResources + 1 {
				pb.WriteTexture(pb.CreateTexture(fmt.Sprintf("t%d", i), testDesc), StateRenderTarget, StageColorOutput)
			}
			return nil
		}, ErrTooManyResources},
		{"unknown name", func(pb *PassBuilder) error {
			pb.ReadBufferNamed("nothing", StateUniform, StageVertex)
			return nil
		}, ErrUnknownResource},
		{"setup error", func(pb *PassBuilder) error {
			return ErrUnknownResource
		}, ErrUnknownResource},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := newTestBuilder(t)
			b.BeginFrame()
			id, err := b.AddPass("p", tt.setup, nil)
			if !errors.Is(err, tt.want) {
				t.Fatalf("AddPass = %v, want %v", err, tt.want)
			}
			if id != InvalidPass {
				t.Errorf("AddPass id = %d, want InvalidPass", id)
			}
			if !errors.Is(b.Err(), tt.want) {
				t.Errorf("Err() = %v, want the setup error", b.Err())
			}
		})
	}
}

func TestStaleReadIsRejected(t *testing.T) {
	b := newTestBuilder(t)
	b.BeginFrame()

	var v0 ResRef
	if _, err := b.AddPass("write", func(pb *PassBuilder) error {
		v0 = pb.CreateTexture("t", testDesc)
		pb.WriteTexture(v0, StateRenderTarget, StageColorOutput)
		return nil
	}, nil); err != nil {
		t.Fatalf("AddPass failed: %v", err)
	}
	_, err := b.AddPass("read", func(pb *PassBuilder) error {
		pb.ReadTexture(v0, StateShaderRead, StageFragment)
		return nil
	}, nil)
	if !errors.Is(err, ErrStaleHandle) {
		t.Errorf("read of superseded version = %v, want ErrStaleHandle", err)
	}
}

func TestReadWriteDeclaresBothHalves(t *testing.T) {
	b := newTestBuilder(t)
	b.BeginFrame()

	var in, out ResRef
	if _, err := b.AddPass("clear", func(pb *PassBuilder) error {
		in = pb.WriteBuffer(pb.CreateBuffer("acc", BufferDesc{Size: 64}), StateCopyDst, StageTransfer)
		return nil
	}, nil); err != nil {
		t.Fatalf("AddPass failed: %v", err)
	}
	if _, err := b.AddPass("accumulate", func(pb *PassBuilder) error {
		out = pb.ReadWriteBuffer(in, StateUnorderedAccess, StageCompute)
		return nil
	}, nil); err != nil {
		t.Fatalf("AddPass failed: %v", err)
	}
	if out.Gen.Writes != in.Gen.Writes+1 {
		t.Errorf("read-write produced version %d from %d", out.Gen.Writes, in.Gen.Writes)
	}
	p := b.passes.get(1)
	if len(p.inputs) != 1 || len(p.outputs) != 1 || !p.inputs[0].inPlace || !p.outputs[0].inPlace {
		t.Errorf("read-write declared inputs %+v outputs %+v", p.inputs, p.outputs)
	}
}

func TestUnusedResourcesExpire(t *testing.T) {
	b := newTestBuilder(t, WithMaxUnusedFrames(2))
	b.BeginFrame()
	var old ResRef
	if _, err := b.AddPass("p", func(pb *PassBuilder) error {
		old = pb.WriteTexture(pb.CreateTexture("tmp", testDesc), StateRenderTarget, StageColorOutput)
		return nil
	}, nil); err != nil {
		t.Fatalf("AddPass failed: %v", err)
	}
	if _, err := b.Compile(); err != nil {
		t.Fatalf("Compile failed: %v", err)
	}

	b.BeginFrame()
	b.BeginFrame()
	if _, err := b.Pool().Find("tmp", KindTexture); err != nil {
		t.Fatalf("resource released after 2 idle frames: %v", err)
	}
	b.BeginFrame()
	if _, err := b.Pool().Find("tmp", KindTexture); !errors.Is(err, ErrUnknownResource) {
		t.Fatalf("Find after 3 idle frames = %v, want ErrUnknownResource", err)
	}
	if got := b.Stats().Resources; got != 0 {
		t.Errorf("Resources = %d, want 0", got)
	}

	reused, err := b.Pool().CreateOrFindTexture("other", testDesc)
	if err != nil {
		t.Fatalf("CreateOrFindTexture failed: %v", err)
	}
	if reused.Index != old.Index || reused.Epoch == old.Epoch {
		t.Errorf("new resource = %v epoch %d, want slot %d with a new epoch", reused, reused.Epoch, old.Index)
	}
}

func TestHistorySwapsEveryFrame(t *testing.T) {
	b := newTestBuilder(t)
	var prevOwner, prevTwin uint64
	for frame := range 3 {
		b.BeginFrame()
		var out ResRef
		if _, err := b.AddPass("taa", func(pb *PassBuilder) error {
			cur := pb.CreateTexture("taa", testDesc)
			pb.ReadHistoryTexture(cur, StateShaderRead, StageFragment)
			out = pb.WriteTexture(cur, StateRenderTarget, StageColorOutput)
			return nil
		}, nil); err != nil {
			t.Fatalf("frame %d: AddPass failed: %v", frame, err)
		}
		if _, err := b.Compile(out); err != nil {
			t.Fatalf("frame %d: Compile failed: %v", frame, err)
		}

		owner, err := b.Pool().Find("taa", KindTexture)
		if err != nil {
			t.Fatalf("Find failed: %v", err)
		}
		twin, err := b.Pool().Find("taa"+historySuffix, KindTexture)
		if err != nil {
			t.Fatalf("Find history failed: %v", err)
		}
		ownerID := b.pool.at(int(owner.Index)).alloc.ID
		twinID := b.pool.at(int(twin.Index)).alloc.ID
		if ownerID == twinID {
			t.Fatalf("frame %d: history shares allocation %d with its resource", frame, ownerID)
		}
		if frame > 0 && (ownerID != prevTwin || twinID != prevOwner) {
			t.Errorf("frame %d: allocations (%d, %d), want swapped (%d, %d)",
				frame, ownerID, twinID, prevTwin, prevOwner)
		}
		prevOwner, prevTwin = ownerID, twinID
	}
	if got := b.Stats().History; got != 1 {
		t.Errorf("History = %d, want 1", got)
	}
}

func TestHistoryOfHistoryFails(t *testing.T) {
	p := newResourcePool(nil, 0)
	ref, err := p.CreateOrFindTexture("t", testDesc)
	if err != nil {
		t.Fatalf("CreateOrFindTexture failed: %v", err)
	}
	hist, err := p.RequestHistoryOf(ref)
	if err != nil {
		t.Fatalf("RequestHistoryOf failed: %v", err)
	}
	again, err := p.RequestHistoryOf(ref)
	if err != nil || !again.sameResource(hist) {
		t.Errorf("second RequestHistoryOf = %v, %v; want %v", again, err, hist)
	}
	if _, err := p.RequestHistoryOf(hist); !errors.Is(err, ErrUnknownResource) {
		t.Errorf("history of history = %v, want ErrUnknownResource", err)
	}
}

func TestImportedResources(t *testing.T) {
	device, _, cleanup := createNoopDevice(t)
	defer cleanup()
	buf, err := device.CreateBuffer(&hal.BufferDescriptor{Label: "vertices", Size: 256, Usage: gputypes.BufferUsageVertex})
	if err != nil {
		t.Fatalf("CreateBuffer failed: %v", err)
	}

	b := newTestBuilder(t)
	b.BeginFrame()
	vb, err := b.ImportBuffer("vertices", buf, BufferDesc{Size: 256}, StateVertexBuffer)
	if err != nil {
		t.Fatalf("ImportBuffer failed: %v", err)
	}
	var out ResRef
	if _, err := b.AddPass("draw", func(pb *PassBuilder) error {
		pb.ReadBuffer(vb, StateVertexBuffer, StageVertex)
		out = pb.WriteTexture(pb.CreateTexture("color", testDesc), StateRenderTarget, StageColorOutput)
		return nil
	}, nil); err != nil {
		t.Fatalf("AddPass failed: %v", err)
	}
	if _, err := b.Compile(out); err != nil {
		t.Fatalf("Compile failed: %v", err)
	}
	st := b.Stats()
	if st.Imported != 1 || st.Allocations != 1 {
		t.Errorf("stats = %+v, want 1 imported and 1 pool allocation", st)
	}
	if _, err := b.Pool().CreateOrFindTexture("vertices", testDesc); !errors.Is(err, ErrDescriptorMismatch) {
		t.Errorf("texture named like imported buffer = %v, want ErrDescriptorMismatch", err)
	}
	if _, err := b.Pool().ImportTexture("color", nil, nil, testDesc, StateUndefined); !errors.Is(err, ErrUnknownResource) {
		t.Errorf("import of nil texture = %v, want ErrUnknownResource", err)
	}
}
