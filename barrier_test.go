// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package framegraph

import (
	"slices"
	"testing"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"
	"github.com/gogpu/wgpu/hal/noop"
)

// recordingEncoder keeps the barriers recorded on it.
type recordingEncoder struct {
	noop.CommandEncoder
	textures [][]hal.TextureBarrier
	buffers  [][]hal.BufferBarrier
}

func (e *recordingEncoder) TransitionTextures(barriers []hal.TextureBarrier) {
	e.textures = append(e.textures, slices.Clone(barriers))
}

func (e *recordingEncoder) TransitionBuffers(barriers []hal.BufferBarrier) {
	e.buffers = append(e.buffers, slices.Clone(barriers))
}

// recordingDevice hands out recording encoders.
type recordingDevice struct {
	hal.Device
	encoders []*recordingEncoder
}

func (d *recordingDevice) CreateCommandEncoder(*hal.CommandEncoderDescriptor) (hal.CommandEncoder, error) {
	e := &recordingEncoder{}
	d.encoders = append(d.encoders, e)
	return e, nil
}

func newRecordingBuilder(t *testing.T, opts ...Option) (*Builder, *recordingDevice) {
	t.Helper()
	device, queue, cleanup := createNoopDevice(t)
	dev := &recordingDevice{Device: device}
	b, err := New(dev, queue, opts...)
	if err != nil {
		cleanup()
		t.Fatalf("New failed: %v", err)
	}
	t.Cleanup(func() {
		b.Destroy()
		cleanup()
	})
	return b, dev
}

type wantTransition struct {
	resource string
	from, to State
}

func checkTransitions(t *testing.T, batch BarrierBatch, want []wantTransition) {
	t.Helper()
	if len(batch.Transitions) != len(want) {
		t.Fatalf("transitions = %+v, want %+v", batch.Transitions, want)
	}
	for i, w := range want {
		got := batch.Transitions[i]
		if got.Resource != w.resource || got.From != w.from || got.To != w.to {
			t.Errorf("transition %d = %s %s -> %s, want %s %s -> %s",
				i, got.Resource, got.From, got.To, w.resource, w.from, w.to)
		}
	}
}

func TestTransitionsFollowDeclaredStates(t *testing.T) {
	g := newGraph(t)
	g.b.BeginFrame()
	t1 := g.pass("A", "t1")
	t2 := g.pass("B", "t2", t1)

	s := g.compile(t2)
	if len(s.Barriers) != len(s.Groups) {
		t.Fatalf("%d barrier batches for %d groups", len(s.Barriers), len(s.Groups))
	}
	checkTransitions(t, s.Barriers[0], []wantTransition{
		{"t1", StateUndefined, StateRenderTarget},
	})
	checkTransitions(t, s.Barriers[1], []wantTransition{
		{"t1", StateRenderTarget, StateShaderRead},
		{"t2", StateUndefined, StateRenderTarget},
	})
	if got := s.Barriers[1].Transitions[0].DstStages; got != StageFragment {
		t.Errorf("t1 read stages = %b, want fragment", got)
	}
	if got := len(s.Barriers[1].Textures); got != 2 {
		t.Errorf("bound %d texture barriers, want 2", got)
	}
	tb := s.Barriers[1].Textures[0]
	if tb.Usage.OldUsage != gputypes.TextureUsageRenderAttachment || tb.Usage.NewUsage != gputypes.TextureUsageTextureBinding {
		t.Errorf("texture barrier usage = %+v", tb.Usage)
	}
}

func TestUnorderedAccessAlwaysBarriers(t *testing.T) {
	b := newTestBuilder(t)
	b.BeginFrame()

	var w ResRef
	if _, err := b.AddPass("clear", func(pb *PassBuilder) error {
		w = pb.WriteBuffer(pb.CreateBuffer("counters", BufferDesc{Size: 64}), StateUnorderedAccess, StageCompute)
		return nil
	}, nil); err != nil {
		t.Fatalf("AddPass failed: %v", err)
	}
	var out ResRef
	if _, err := b.AddPass("count", func(pb *PassBuilder) error {
		out = pb.ReadWriteBuffer(w, StateUnorderedAccess, StageCompute)
		return nil
	}, nil); err != nil {
		t.Fatalf("AddPass failed: %v", err)
	}

	s, err := b.Compile(out)
	if err != nil {
		t.Fatalf("Compile failed: %v", err)
	}
	checkTransitions(t, s.Barriers[0], []wantTransition{
		{"counters", StateUndefined, StateUnorderedAccess},
	})
	checkTransitions(t, s.Barriers[1], []wantTransition{
		{"counters", StateUnorderedAccess, StateUnorderedAccess},
	})
	if len(s.Barriers[1].Buffers) != 1 {
		t.Fatalf("bound %d buffer barriers, want 1", len(s.Barriers[1].Buffers))
	}
	if u := s.Barriers[1].Buffers[0].Usage; u.OldUsage != gputypes.BufferUsageStorage || u.NewUsage != gputypes.BufferUsageStorage {
		t.Errorf("buffer barrier usage = %+v, want storage -> storage", u)
	}
}

func TestConsecutiveReadsShareOneTransition(t *testing.T) {
	g := newGraph(t)
	g.b.BeginFrame()
	tex := g.pass("write", "t")
	a := g.pass("fragment", "a", tex)
	var bb ResRef
	if _, err := g.b.AddPass("compute", func(pb *PassBuilder) error {
		pb.ReadTexture(tex, StateShaderRead, StageCompute)
		bb = pb.WriteTexture(pb.CreateTexture("b", testDesc), StateRenderTarget, StageColorOutput)
		return nil
	}, nil); err != nil {
		t.Fatalf("AddPass failed: %v", err)
	}
	out := g.pass("combine", "out", a, bb)

	s := g.compile(out)
	if got := passNames(g.b, s.Order); !slices.Equal(got, []string{"write", "fragment", "compute", "combine"}) {
		t.Fatalf("order = %v", got)
	}
	tr := s.Barriers[1].Transitions[0]
	if tr.Resource != "t" || tr.To != StateShaderRead {
		t.Fatalf("first transition before fragment = %+v", tr)
	}
	if tr.DstStages != StageFragment|StageCompute {
		t.Errorf("read transition stages = %b, want fragment|compute", tr.DstStages)
	}
	for _, tr := range s.Barriers[2].Transitions {
		if tr.Resource == "t" {
			t.Errorf("second read of t issued its own transition %+v", tr)
		}
	}
}

func TestImportedStartsInDeclaredState(t *testing.T) {
	device, _, cleanup := createNoopDevice(t)
	defer cleanup()
	surface, err := device.CreateTexture(&hal.TextureDescriptor{
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
	for frame := range 2 {
		b.BeginFrame()
		bb, err := b.ImportTexture("surface", surface, nil, testDesc, StatePresent)
		if err != nil {
			t.Fatalf("ImportTexture failed: %v", err)
		}
		var out ResRef
		if _, err := b.AddPass("blit", func(pb *PassBuilder) error {
			out = pb.WriteTexture(bb, StateRenderTarget, StageColorOutput)
			return nil
		}, nil); err != nil {
			t.Fatalf("AddPass failed: %v", err)
		}
		s, err := b.Compile(out)
		if err != nil {
			t.Fatalf("frame %d: Compile failed: %v", frame, err)
		}
		checkTransitions(t, s.Barriers[0], []wantTransition{
			{"surface", StatePresent, StateRenderTarget},
		})
		if _, err := b.Execute(); err != nil {
			t.Fatalf("frame %d: Execute failed: %v", frame, err)
		}
	}
	if st := b.Stats(); st.Allocations != 0 || st.Imported != 1 {
		t.Errorf("stats = %+v, want no pool allocations", st)
	}
}

func TestStateCarriesAcrossExecutedFrames(t *testing.T) {
	g := newGraph(t)
	run := func(execute bool) BarrierBatch {
		g.b.BeginFrame()
		out := g.pass("draw", "persistent")
		s := g.compile(out)
		if execute {
			if _, err := g.b.Execute(); err != nil {
				t.Fatalf("Execute failed: %v", err)
			}
		}
		return s.Barriers[0]
	}

	checkTransitions(t, run(false), []wantTransition{{"persistent", StateUndefined, StateRenderTarget}})
	// Compile alone does not change physical state.
	checkTransitions(t, run(true), []wantTransition{{"persistent", StateUndefined, StateRenderTarget}})
	if batch := run(true); !batch.Empty() {
		t.Errorf("render target kept its state, yet got transitions %+v", batch.Transitions)
	}
}

func TestRecordedBarriersMatchSchedule(t *testing.T) {
	b, dev := newRecordingBuilder(t)
	g := &graph{t: t, b: b}
	b.BeginFrame()
	t1 := g.pass("A", "t1")
	out := g.pass("B", "t2", t1)
	s := g.compile(out)

	if _, err := b.Execute(); err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if len(dev.encoders) != 1 {
		t.Fatalf("created %d encoders, want 1", len(dev.encoders))
	}
	enc := dev.encoders[0]
	var want, got int
	for _, batch := range s.Barriers {
		want += len(batch.Textures)
	}
	for _, call := range enc.textures {
		got += len(call)
	}
	if got != want || len(enc.textures) != len(s.Groups) {
		t.Errorf("recorded %d texture barriers in %d calls, want %d in %d", got, len(enc.textures), want, len(s.Groups))
	}
	if len(enc.buffers) != 0 {
		t.Errorf("recorded %d buffer barrier calls, want 0", len(enc.buffers))
	}
	if !slices.Equal(g.ran, []string{"A", "B"}) {
		t.Errorf("executed %v, want [A B]", g.ran)
	}
}
