// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package framegraph

import (
	"github.com/cockroachdb/errors"
	"github.com/gogpu/gpucontext"
	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/framegraph/internal/bitset"
)

type phase uint8

const (
	phaseIdle phase = iota
	phaseSetup
	phaseCompiled
	phaseExecuting
	phaseExecuted
)

// Builder records, compiles and executes one frame graph per frame.
//
// A frame runs BeginFrame, AddPass (any number of times), Compile and
// Execute, in that order. Resource records and their allocations persist
// across frames. The first error of a frame is kept: every later call
// returns it until the next BeginFrame.
//
// Builder is not safe for concurrent use.
type Builder struct {
	device    hal.Device
	queue     hal.Queue
	opts      options
	allocator Allocator
	policy    MergePolicy

	pool   *ResourcePool
	passes PassRegistry

	phase    phase
	err      error
	running  *pass
	schedule *Schedule
	finals   []finalState

	querySet              hal.QuerySet
	queryCount            uint32
	queryResolve          *Allocation
	timestampsUnsupported bool
	inFlight              []submission
}

// New creates a builder on device. queue may be nil, in which case
// Execute hands the recorded command buffer back to the caller.
func New(device hal.Device, queue hal.Queue, opts ...Option) (*Builder, error) {
	if device == nil {
		return nil, ErrNilDevice
	}
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	alloc := o.allocator
	if alloc == nil {
		ha, err := NewHALAllocator(device, o.retained)
		if err != nil {
			return nil, err
		}
		alloc = ha
	}
	return &Builder{
		device:    device,
		queue:     queue,
		opts:      o,
		allocator: alloc,
		policy:    lookupMergePolicy(o.mergePolicy),
		pool:      newResourcePool(alloc, o.maxUnusedFrames),
	}, nil
}

// NewFromProvider creates a builder on the device shared by a host
// application. The provider must expose HAL objects, either through
// HalDevice/HalQueue or by returning them from Device/Queue.
func NewFromProvider(provider gpucontext.DeviceProvider, opts ...Option) (*Builder, error) {
	if provider == nil {
		return nil, ErrNilDevice
	}
	type halProvider interface {
		HalDevice() any
		HalQueue() any
	}
	var dev, q any = provider.Device(), provider.Queue()
	if hp, ok := provider.(halProvider); ok {
		dev, q = hp.HalDevice(), hp.HalQueue()
	}
	device, ok := dev.(hal.Device)
	if !ok || device == nil {
		return nil, errors.Wrap(ErrNilDevice, "provider device is not a hal.Device")
	}
	queue, _ := q.(hal.Queue)
	return New(device, queue, opts...)
}

// Pool returns the builder's resource pool.
func (b *Builder) Pool() *ResourcePool { return b.pool }

// Passes returns the pass registry of the current frame.
func (b *Builder) Passes() *PassRegistry { return &b.passes }

// Err returns the error that aborted the current frame, if any.
func (b *Builder) Err() error { return b.err }

// Schedule returns the result of the latest successful Compile.
func (b *Builder) Schedule() *Schedule { return b.schedule }

func (b *Builder) fail(err error) error {
	if b.err == nil {
		b.err = err
		slogger().Error("framegraph: frame aborted", "frame", b.pool.frame, "err", err)
	}
	return b.err
}

// BeginFrame starts a new frame: history bindings swap, generations and
// pass records reset, resources unused for too long are released.
func (b *Builder) BeginFrame() {
	b.pool.beginFrame()
	b.passes.reset()
	b.err = nil
	b.running = nil
	b.schedule = nil
	b.finals = nil
	b.phase = phaseSetup
}

// ImportTexture registers an externally owned texture for this frame.
func (b *Builder) ImportTexture(name string, tex hal.Texture, view hal.TextureView, desc TextureDesc, state State) (ResRef, error) {
	if err := b.setupAllowed(); err != nil {
		return ResRef{}, err
	}
	ref, err := b.pool.ImportTexture(name, tex, view, desc, state)
	if err != nil {
		return ResRef{}, b.fail(err)
	}
	return ref, nil
}

// ImportBuffer registers an externally owned buffer for this frame.
func (b *Builder) ImportBuffer(name string, buf hal.Buffer, desc BufferDesc, state State) (ResRef, error) {
	if err := b.setupAllowed(); err != nil {
		return ResRef{}, err
	}
	ref, err := b.pool.ImportBuffer(name, buf, desc, state)
	if err != nil {
		return ResRef{}, b.fail(err)
	}
	return ref, nil
}

func (b *Builder) setupAllowed() error {
	if b.err != nil {
		return b.err
	}
	switch b.phase {
	case phaseSetup:
		return nil
	case phaseCompiled:
		// Declaring more work invalidates the compiled schedule.
		b.phase = phaseSetup
		b.schedule = nil
		return nil
	default:
		return errors.Wrap(ErrWrongPhase, "setup outside BeginFrame/Compile")
	}
}

// AddPass registers a pass. setup declares its resources; exec records
// its GPU work and may be nil for passes that only order others.
func (b *Builder) AddPass(name string, setup SetupFunc, exec Executor) (PassID, error) {
	if err := b.setupAllowed(); err != nil {
		return InvalidPass, err
	}
	p := &pass{
		id:   PassID(len(b.passes.passes)),
		name: name,
		exec: exec,
	}
	b.passes.passes = append(b.passes.passes, p)

	pb := &PassBuilder{b: b, pass: p}
	if setup != nil {
		if err := setup(pb); err != nil && pb.err == nil {
			pb.err = errors.Wrapf(err, "pass %q", name)
		}
	}
	if pb.err != nil {
		return InvalidPass, b.fail(pb.err)
	}
	return p.id, nil
}

// ReplaceOutput redirects output slot of a registered pass to target.
// The write on the old resource is rolled back, which requires that no
// later pass has consumed or overwritten the version it produced.
// It returns the handle of the version the pass now produces.
func (b *Builder) ReplaceOutput(id PassID, slot int, target ResRef) (ResRef, error) {
	if err := b.setupAllowed(); err != nil {
		return ResRef{}, err
	}
	p := b.passes.get(id)
	if p == nil || slot < 0 || slot >= len(p.outputs) {
		return ResRef{}, b.fail(errors.Wrapf(ErrUndeclaredHandle, "pass %d output slot %d", id, slot))
	}
	old := p.outputs[slot]
	if old.inPlace {
		return ResRef{}, b.fail(errors.Wrapf(ErrDuplicateResource, "pass %q: in-place output cannot be replaced", p.name))
	}
	r, err := b.pool.record(old.ref)
	if err != nil {
		return ResRef{}, b.fail(err)
	}
	n := len(r.writtenIn)
	if r.gen.Writes != old.ref.Gen.Writes || n == 0 || r.writtenIn[n-1].pass != int(id) {
		return ResRef{}, b.fail(errors.Wrapf(ErrStaleHandle, "pass %q: output %q already superseded", p.name, r.name))
	}
	for _, a := range r.readIn {
		if a.version == old.ref.Gen.Writes {
			return ResRef{}, b.fail(errors.Wrapf(ErrStaleHandle, "pass %q: output %q already consumed", p.name, r.name))
		}
	}

	// Validate the target before touching any bookkeeping.
	if target.Kind != old.ref.Kind {
		return ResRef{}, b.fail(errors.Wrapf(ErrUnknownResource, "%s replaces a %s", target, old.ref.Kind))
	}
	p.outputs[slot].ref = ResRef{}
	dup := p.touches(target) && !target.sameResource(old.ref)
	p.outputs[slot] = old
	if dup {
		return ResRef{}, b.fail(errors.Wrapf(ErrDuplicateResource, "pass %q: %s", p.name, target))
	}
	if target.sameResource(old.ref) {
		target.Gen.Writes = old.ref.Gen.Writes - 1
	}
	tr, err := b.pool.record(target)
	if err != nil {
		return ResRef{}, b.fail(err)
	}
	if tr != r && tr.gen.Writes != target.Gen.Writes {
		return ResRef{}, b.fail(errors.Wrapf(ErrStaleHandle, "pass %q: replace with %q at version %d, latest is %d",
			p.name, tr.name, target.Gen.Writes, tr.gen.Writes))
	}

	r.gen.Writes--
	r.writtenIn = r.writtenIn[:n-1]

	out, err := b.pool.GetForWrite(target)
	if err != nil {
		return ResRef{}, b.fail(err)
	}
	out.State, out.Stages = old.ref.State, old.ref.Stages
	p.outputs[slot] = passAccess{ref: out}
	tr.writtenIn = append(tr.writtenIn, access{pass: int(id), version: out.Gen.Writes})
	b.pool.noteAccess(tr, out.State)
	return out, nil
}

// Compile culls, schedules, merges, aliases and allocates the frame and
// plans its transitions. outputs are the resources the frame must
// produce; with no outputs every pass is kept. Compiling twice without
// new passes yields the same schedule.
func (b *Builder) Compile(outputs ...ResRef) (*Schedule, error) {
	if b.err != nil {
		return nil, b.err
	}
	if b.phase != phaseSetup && b.phase != phaseCompiled {
		return nil, errors.Wrap(ErrWrongPhase, "compile outside setup")
	}
	for _, out := range outputs {
		r, err := b.pool.record(out)
		if err != nil {
			return nil, b.fail(errors.Wrap(err, "requested output"))
		}
		if r.gen.Writes != out.Gen.Writes {
			return nil, b.fail(errors.Wrapf(ErrStaleHandle, "requested output %q at version %d, latest is %d",
				r.name, out.Gen.Writes, r.gen.Writes))
		}
		if out.Gen.Writes == 0 && !r.preinitialized() {
			return nil, b.fail(errors.Wrapf(ErrUnknownResource, "requested output %q is never written", r.name))
		}
	}

	passes := b.passes.passes
	g := newDepGraph(b.pool, passes)
	s := &scheduler{g: g, lookahead: b.opts.lookahead}

	roots := s.roots(outputs)
	var kept bitset.Set
	if len(outputs) == 0 {
		for i := range passes {
			kept.Add(i)
		}
	} else {
		kept = g.cull(roots)
	}
	s.countRefs(&kept, roots)
	for i, p := range passes {
		p.kept = kept.Has(i)
	}

	order, err := g.linearize(&kept)
	if err != nil {
		return nil, b.fail(err)
	}
	if b.opts.reorder {
		if order, err = s.greedy(&kept); err != nil {
			return nil, b.fail(err)
		}
	}
	if err := g.checkOrder(order); err != nil {
		return nil, b.fail(err)
	}

	infos := b.passInfos()
	groups := groupPasses(order, infos, b.policy)

	sched := &Schedule{RefCounts: make([]int, len(passes))}
	for i, p := range passes {
		sched.RefCounts[i] = p.refCount
	}
	for gi, group := range groups {
		ids := make([]PassID, 0, len(group))
		for _, i := range group {
			passes[i].group = gi
			ids = append(ids, PassID(i))
			sched.Order = append(sched.Order, PassID(i))
		}
		sched.Groups = append(sched.Groups, ids)
	}
	for i := range passes {
		if !kept.Has(i) {
			sched.Culled = append(sched.Culled, PassID(i))
		}
	}

	// Aliasing and allocation operate on the scheduled order.
	flat := make([]int, 0, len(order))
	for _, group := range groups {
		flat = append(flat, group...)
	}
	spans := lifetimes(flat, passes)
	// A merged group runs as one render pass, so its resources are live
	// for the whole group.
	for i, sp := range spans {
		spans[i] = interval{first: passes[flat[sp.first]].group, last: passes[flat[sp.last]].group}
	}
	b.pool.clearAliases()
	for i := range spans {
		b.pool.at(i).live = true
	}
	if b.opts.aliasing {
		chains, err := buildAliases(b.pool, spans, outputs)
		if err != nil {
			return nil, b.fail(err)
		}
		sched.Aliases = aliasChainNames(b.pool, chains)
	}
	if err := b.pool.ensureAllocated(); err != nil {
		return nil, b.fail(err)
	}

	batches, finals, err := planBarriers(b.pool, passes, groups)
	if err != nil {
		return nil, b.fail(err)
	}
	if err := bindBarriers(b.pool, batches); err != nil {
		return nil, b.fail(err)
	}
	sched.Barriers = batches

	b.schedule = sched
	b.finals = finals
	b.phase = phaseCompiled
	slogger().Debug("framegraph: compiled",
		"frame", b.pool.frame, "passes", len(passes), "kept", len(sched.Order),
		"groups", len(sched.Groups), "aliases", len(sched.Aliases))
	return sched, nil
}

func (b *Builder) passInfos() []*PassInfo {
	infos := make([]*PassInfo, len(b.passes.passes))
	conv := func(list []passAccess) []Access {
		out := make([]Access, len(list))
		for i, a := range list {
			out[i] = Access{Ref: a.ref, InPlace: a.inPlace}
			if r := b.pool.at(int(a.ref.Index)); r != nil {
				out[i].Name = r.name
			}
		}
		return out
	}
	for i, p := range b.passes.passes {
		infos[i] = &PassInfo{
			ID:         p.id,
			Name:       p.name,
			Inputs:     conv(p.inputs),
			Outputs:    conv(p.outputs),
			SideEffect: p.sideEffect,
			RefCount:   p.refCount,
		}
	}
	return infos
}

// Stats returns pool statistics.
func (b *Builder) Stats() PoolStats { return b.pool.Stats() }

// Destroy waits for in-flight work and releases every GPU object the
// builder owns. Imported resources are left alone.
func (b *Builder) Destroy() {
	if len(b.inFlight) > 0 {
		if err := b.device.WaitIdle(); err != nil {
			slogger().Warn("framegraph: wait idle on destroy", "err", err)
		}
	}
	b.reclaim(true)
	b.destroyQuerySet()
	b.pool.destroy()
	b.allocator.Destroy()
	b.phase = phaseIdle
}
