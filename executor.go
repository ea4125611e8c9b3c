// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package framegraph

import (
	"slices"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"
)

// PassTiming is the measured cost of one executed pass.
type PassTiming struct {
	Pass  PassID
	Name  string
	Group int
	CPU   time.Duration
	// QueryBegin and QueryEnd index the frame's timestamp query set.
	// Valid only when FrameProfile.GPUTimestamps is true.
	QueryBegin uint32
	QueryEnd   uint32
}

// FrameProfile reports what Execute did.
type FrameProfile struct {
	Frame    uint64
	Passes   []PassTiming
	Barriers int
	CPU      time.Duration

	// GPUTimestamps reports whether timestamp queries were written.
	// TimestampBuffer then holds two uint64 ticks per pass once the
	// submission completes.
	GPUTimestamps   bool
	TimestampBuffer hal.Buffer

	// SubmissionIndex is set when the builder submitted to its queue.
	SubmissionIndex uint64
	// CommandBuffer is set when the builder has no queue; the caller
	// submits it before the next Execute.
	CommandBuffer hal.CommandBuffer
}

// ExecContext is handed to a pass while it executes.
type ExecContext struct {
	b          *Builder
	pass       *pass
	encoder    hal.CommandEncoder
	querySet   hal.QuerySet
	queryBegin uint32
	queryEnd   uint32
}

// Encoder returns the frame's command encoder.
func (c *ExecContext) Encoder() hal.CommandEncoder { return c.encoder }

// PassName returns the name of the executing pass.
func (c *ExecContext) PassName() string { return c.pass.name }

// Frame returns the frame number.
func (c *ExecContext) Frame() uint64 { return c.b.pool.frame }

// RenderPassTimestamps returns timestamp writes for a render pass, or nil
// when the device has no timestamp queries.
func (c *ExecContext) RenderPassTimestamps() *hal.RenderPassTimestampWrites {
	if c.querySet == nil {
		return nil
	}
	begin, end := c.queryBegin, c.queryEnd
	return &hal.RenderPassTimestampWrites{
		QuerySet:                  c.querySet,
		BeginningOfPassWriteIndex: &begin,
		EndOfPassWriteIndex:       &end,
	}
}

// ComputePassTimestamps is the compute-pass counterpart of
// RenderPassTimestamps.
func (c *ExecContext) ComputePassTimestamps() *hal.ComputePassTimestampWrites {
	if c.querySet == nil {
		return nil
	}
	begin, end := c.queryBegin, c.queryEnd
	return &hal.ComputePassTimestampWrites{
		QuerySet:                  c.querySet,
		BeginningOfPassWriteIndex: &begin,
		EndOfPassWriteIndex:       &end,
	}
}

// GetReadBuffer returns the buffer behind an input of the executing pass.
func (c *ExecContext) GetReadBuffer(ref ResRef) (hal.Buffer, error) {
	al, err := c.resolve(ref, c.pass.inputs)
	if err != nil {
		return nil, err
	}
	return al.Buffer, nil
}

// GetReadTexture returns the texture behind an input of the executing pass.
func (c *ExecContext) GetReadTexture(ref ResRef) (hal.Texture, error) {
	al, err := c.resolve(ref, c.pass.inputs)
	if err != nil {
		return nil, err
	}
	return al.Texture, nil
}

// GetWriteBuffer returns the buffer behind an output of the executing pass.
// ref is the handle returned by the write declaration.
func (c *ExecContext) GetWriteBuffer(ref ResRef) (hal.Buffer, error) {
	al, err := c.resolve(ref, c.pass.outputs)
	if err != nil {
		return nil, err
	}
	return al.Buffer, nil
}

// GetWriteTexture returns the texture behind an output of the executing pass.
func (c *ExecContext) GetWriteTexture(ref ResRef) (hal.Texture, error) {
	al, err := c.resolve(ref, c.pass.outputs)
	if err != nil {
		return nil, err
	}
	return al.Texture, nil
}

// TextureView returns the default view of any texture the pass declared.
func (c *ExecContext) TextureView(ref ResRef) (hal.TextureView, error) {
	al, err := c.resolve(ref, c.pass.inputs)
	if errors.Is(err, ErrUndeclaredHandle) {
		al, err = c.resolve(ref, c.pass.outputs)
	}
	if err != nil {
		return nil, err
	}
	return al.View, nil
}

// Allocation returns the backing allocation of a declared resource.
func (c *ExecContext) Allocation(ref ResRef) (*Allocation, error) {
	al, err := c.resolve(ref, c.pass.inputs)
	if errors.Is(err, ErrUndeclaredHandle) {
		al, err = c.resolve(ref, c.pass.outputs)
	}
	return al, err
}

func (c *ExecContext) resolve(ref ResRef, declared []passAccess) (*Allocation, error) {
	if c.b.phase != phaseExecuting || c.b.running != c.pass {
		return nil, errors.Wrapf(ErrWrongPhase, "pass %q: access outside execution", c.pass.name)
	}
	for _, a := range declared {
		if a.ref.sameResource(ref) && a.ref.Gen.Writes == ref.Gen.Writes {
			phys := c.b.pool.at(c.b.pool.physical(int(ref.Index)))
			if phys == nil || phys.alloc == nil {
				return nil, errors.AssertionFailedf("framegraph: %s has no backing allocation", ref)
			}
			return phys.alloc, nil
		}
	}
	return nil, errors.Wrapf(ErrUndeclaredHandle, "pass %q: %s", c.pass.name, ref)
}

// replay re-validates the generation chain of p against the pool. A
// schedule that runs a reader after a later writer fails here.
func (b *Builder) replay(p *pass) error {
	for _, in := range p.inputs {
		if err := b.pool.GetForRead(in.ref); err != nil {
			return errors.Wrapf(err, "pass %q", p.name)
		}
	}
	for _, out := range p.outputs {
		prev := out.ref
		prev.Gen.Writes--
		b.skipCulledWrites(prev)
		if _, err := b.pool.GetForWrite(prev); err != nil {
			return errors.Wrapf(err, "pass %q", p.name)
		}
	}
	return nil
}

// skipCulledWrites advances the generation of ref's resource over the
// versions written by culled passes, up to the version ref replaces.
func (b *Builder) skipCulledWrites(ref ResRef) {
	r := b.pool.at(int(ref.Index))
	if r == nil {
		return
	}
	for r.gen.Writes < ref.Gen.Writes {
		next := r.gen.Writes + 1
		i := slices.IndexFunc(r.writtenIn, func(a access) bool { return a.version == next })
		if i < 0 || b.passes.passes[r.writtenIn[i].pass].kept {
			return
		}
		r.gen.Writes = next
	}
}

// ensureQuerySet keeps a timestamp query set large enough for count
// queries. It returns nil when timestamps are disabled or unsupported.
func (b *Builder) ensureQuerySet(count uint32) hal.QuerySet {
	if !b.opts.timestamps || b.timestampsUnsupported || count == 0 {
		return nil
	}
	if b.querySet != nil && b.queryCount >= count {
		return b.querySet
	}
	b.destroyQuerySet()
	qs, err := b.device.CreateQuerySet(&hal.QuerySetDescriptor{
		Label: b.opts.label + "_timestamps",
		Type:  hal.QueryTypeTimestamp,
		Count: count,
	})
	if err != nil {
		if errors.Is(err, hal.ErrTimestampsNotSupported) {
			slogger().Warn("framegraph: timestamp queries unsupported, using CPU timing only")
		} else {
			slogger().Warn("framegraph: create timestamp query set", "err", err)
		}
		b.timestampsUnsupported = true
		return nil
	}
	resolve, err := b.allocator.AllocateBuffer(b.opts.label+"_timestamp_resolve", BufferDesc{
		Size:  uint64(count) * 8,
		Usage: gputypes.BufferUsageQueryResolve | gputypes.BufferUsageCopySrc,
	})
	if err != nil {
		b.device.DestroyQuerySet(qs)
		slogger().Warn("framegraph: timestamp resolve buffer", "err", err)
		b.timestampsUnsupported = true
		return nil
	}
	b.querySet, b.queryCount, b.queryResolve = qs, count, resolve
	return qs
}

func (b *Builder) destroyQuerySet() {
	if b.querySet != nil {
		b.device.DestroyQuerySet(b.querySet)
		b.querySet = nil
		b.queryCount = 0
	}
	if b.queryResolve != nil {
		b.allocator.Release(b.queryResolve)
		b.queryResolve = nil
	}
}

// submission is an encoder whose command buffer may still be in flight.
type submission struct {
	index     uint64
	submitted bool
	encoder   hal.CommandEncoder
	cmd       hal.CommandBuffer
}

// reclaim frees command buffers whose submissions completed. Unsubmitted
// encoders belong to the previous Execute and are released unconditionally.
func (b *Builder) reclaim(all bool) {
	var done uint64
	if b.queue != nil {
		done = b.queue.PollCompleted()
		if fa, ok := b.allocator.(FencedAllocator); ok {
			fa.Completed(done)
		}
	}
	kept := b.inFlight[:0]
	for _, s := range b.inFlight {
		if s.submitted && s.index > done && !all {
			kept = append(kept, s)
			continue
		}
		if s.submitted {
			b.device.FreeCommandBuffer(s.cmd)
		}
		s.encoder.Destroy()
	}
	clear(b.inFlight[len(kept):])
	b.inFlight = kept
}

// Execute runs the compiled frame: for every group it records the batched
// transitions, then runs each pass's executor in order. Generations are
// replayed as passes run so a schedule that breaks the declared version
// chain aborts the frame.
func (b *Builder) Execute() (*FrameProfile, error) {
	if b.err != nil {
		return nil, b.err
	}
	switch b.phase {
	case phaseCompiled:
	case phaseIdle, phaseSetup:
		return nil, ErrNotCompiled
	default:
		return nil, b.fail(errors.Wrap(ErrWrongPhase, "frame already executed"))
	}

	b.reclaim(false)

	enc, err := b.device.CreateCommandEncoder(&hal.CommandEncoderDescriptor{Label: b.opts.label})
	if err != nil {
		return nil, b.fail(errors.Wrap(err, "framegraph: create command encoder"))
	}
	if err := enc.BeginEncoding(b.opts.label); err != nil {
		enc.Destroy()
		return nil, b.fail(errors.Wrap(err, "framegraph: begin encoding"))
	}

	sched := b.schedule
	// #nosec G115 -- pass count is small
	qs := b.ensureQuerySet(uint32(2 * len(sched.Order)))
	profile := &FrameProfile{
		Frame:         b.pool.frame,
		Passes:        make([]PassTiming, 0, len(sched.Order)),
		GPUTimestamps: qs != nil,
	}

	b.pool.resetGenerations()
	b.phase = phaseExecuting
	frameStart := time.Now()
	abort := func(err error) (*FrameProfile, error) {
		b.running = nil
		enc.DiscardEncoding()
		enc.Destroy()
		return nil, b.fail(err)
	}

	for gi, group := range sched.Groups {
		batch := &sched.Barriers[gi]
		if len(batch.Textures) > 0 {
			enc.TransitionTextures(batch.Textures)
		}
		if len(batch.Buffers) > 0 {
			enc.TransitionBuffers(batch.Buffers)
		}
		profile.Barriers += len(batch.Transitions)

		for _, id := range group {
			p := b.passes.get(id)
			if err := b.replay(p); err != nil {
				return abort(err)
			}
			// #nosec G115 -- bounded by query count
			slot := uint32(len(profile.Passes))
			ctx := &ExecContext{
				b:          b,
				pass:       p,
				encoder:    enc,
				querySet:   qs,
				queryBegin: 2 * slot,
				queryEnd:   2*slot + 1,
			}
			b.running = p
			start := time.Now()
			if p.exec != nil {
				if err := p.exec.Execute(ctx); err != nil {
					return abort(errors.Wrapf(err, "framegraph: execute pass %q", p.name))
				}
			}
			profile.Passes = append(profile.Passes, PassTiming{
				Pass:       id,
				Name:       p.name,
				Group:      gi,
				CPU:        time.Since(start),
				QueryBegin: ctx.queryBegin,
				QueryEnd:   ctx.queryEnd,
			})
		}
	}
	b.running = nil

	if qs != nil && len(profile.Passes) > 0 {
		// #nosec G115 -- see above
		enc.ResolveQuerySet(qs, 0, uint32(2*len(profile.Passes)), b.queryResolve.Buffer, 0)
		profile.TimestampBuffer = b.queryResolve.Buffer
	}

	cmd, err := enc.EndEncoding()
	if err != nil {
		enc.Destroy()
		return nil, b.fail(errors.Wrap(err, "framegraph: end encoding"))
	}

	for _, f := range b.finals {
		if r := b.pool.at(f.physical); r != nil {
			r.state, r.stages = f.state, f.stages
		}
	}

	sub := submission{encoder: enc, cmd: cmd}
	if b.queue != nil {
		idx, err := b.queue.Submit([]hal.CommandBuffer{cmd})
		if err != nil {
			b.device.FreeCommandBuffer(cmd)
			enc.Destroy()
			return nil, b.fail(errors.Wrap(err, "framegraph: submit"))
		}
		sub.index, sub.submitted = idx, true
		profile.SubmissionIndex = idx
		if fa, ok := b.allocator.(FencedAllocator); ok {
			fa.Submitted(idx)
		}
	} else {
		profile.CommandBuffer = cmd
	}
	b.inFlight = append(b.inFlight, sub)

	profile.CPU = time.Since(frameStart)
	b.phase = phaseExecuted
	slogger().Debug("framegraph: frame executed",
		"frame", profile.Frame, "passes", len(profile.Passes), "barriers", profile.Barriers, "cpu", profile.CPU)
	return profile, nil
}
