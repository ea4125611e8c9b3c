// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package framegraph

import (
	"github.com/cockroachdb/errors"
)

// MaxPassResources bounds the inputs and the outputs of a single pass.
const MaxPassResources = 32

// Executor records the GPU work of a pass.
type Executor interface {
	Execute(ctx *ExecContext) error
}

// ExecFunc adapts a function to the Executor interface.
type ExecFunc func(ctx *ExecContext) error

// Execute calls f(ctx).
func (f ExecFunc) Execute(ctx *ExecContext) error { return f(ctx) }

// SetupFunc declares the resources of a pass.
type SetupFunc func(pb *PassBuilder) error

// passAccess is one declared input or output.
type passAccess struct {
	ref ResRef
	// inPlace marks the input and output halves of a read-write declaration.
	inPlace bool
}

type pass struct {
	id         PassID
	name       string
	inputs     []passAccess
	outputs    []passAccess
	exec       Executor
	sideEffect bool

	// Filled by Compile.
	refCount  int
	dependsOn []int
	group     int
	kept      bool
}

// touches reports whether the pass declared any version of res.
func (p *pass) touches(res ResRef) bool {
	for _, a := range p.inputs {
		if a.ref.sameResource(res) {
			return true
		}
	}
	for _, a := range p.outputs {
		if a.ref.sameResource(res) {
			return true
		}
	}
	return false
}

// PassRegistry holds the passes of the current frame in registration order.
type PassRegistry struct {
	passes []*pass
}

func (r *PassRegistry) reset() {
	clear(r.passes)
	r.passes = r.passes[:0]
}

// Len returns the number of registered passes.
func (r *PassRegistry) Len() int { return len(r.passes) }

func (r *PassRegistry) get(id PassID) *pass {
	if id < 0 || int(id) >= len(r.passes) {
		return nil
	}
	return r.passes[id]
}

// Name returns the name of a registered pass.
func (r *PassRegistry) Name(id PassID) string {
	if p := r.get(id); p != nil {
		return p.name
	}
	return ""
}

// PassBuilder declares the resources of one pass during setup.
//
// Errors are sticky: after the first failure every method returns a zero
// handle and the error is reported by AddPass.
type PassBuilder struct {
	b    *Builder
	pass *pass
	err  error
}

// Err returns the first error encountered during setup.
func (pb *PassBuilder) Err() error { return pb.err }

func (pb *PassBuilder) fail(err error) ResRef {
	if pb.err == nil {
		pb.err = errors.Wrapf(err, "pass %q", pb.pass.name)
	}
	return ResRef{}
}

func (pb *PassBuilder) pool() *ResourcePool { return pb.b.pool }

// CreateTexture returns the current handle of the named pool texture,
// creating the record on first use.
func (pb *PassBuilder) CreateTexture(name string, desc TextureDesc) ResRef {
	if pb.err != nil {
		return ResRef{}
	}
	ref, err := pb.pool().CreateOrFindTexture(name, desc)
	if err != nil {
		return pb.fail(err)
	}
	return ref
}

// CreateBuffer returns the current handle of the named pool buffer,
// creating the record on first use.
func (pb *PassBuilder) CreateBuffer(name string, desc BufferDesc) ResRef {
	if pb.err != nil {
		return ResRef{}
	}
	ref, err := pb.pool().CreateOrFindBuffer(name, desc)
	if err != nil {
		return pb.fail(err)
	}
	return ref
}

// ReadTexture declares a read of ref in the given state.
func (pb *PassBuilder) ReadTexture(ref ResRef, state State, stages Stage) ResRef {
	return pb.read(ref, KindTexture, state, stages)
}

// ReadBuffer declares a read of ref in the given state.
func (pb *PassBuilder) ReadBuffer(ref ResRef, state State, stages Stage) ResRef {
	return pb.read(ref, KindBuffer, state, stages)
}

// WriteTexture declares a write of ref and returns the handle of the
// version the pass produces.
func (pb *PassBuilder) WriteTexture(ref ResRef, state State, stages Stage) ResRef {
	return pb.write(ref, KindTexture, state, stages, false)
}

// WriteBuffer declares a write of ref and returns the handle of the
// version the pass produces.
func (pb *PassBuilder) WriteBuffer(ref ResRef, state State, stages Stage) ResRef {
	return pb.write(ref, KindBuffer, state, stages, false)
}

// ReadWriteTexture declares an in-place update: the pass reads ref and
// writes the next version in the same state.
func (pb *PassBuilder) ReadWriteTexture(ref ResRef, state State, stages Stage) ResRef {
	return pb.readWrite(ref, KindTexture, state, stages)
}

// ReadWriteBuffer is the buffer counterpart of ReadWriteTexture.
func (pb *PassBuilder) ReadWriteBuffer(ref ResRef, state State, stages Stage) ResRef {
	return pb.readWrite(ref, KindBuffer, state, stages)
}

// ReadTextureNamed declares a read of the latest version of a named texture.
func (pb *PassBuilder) ReadTextureNamed(name string, state State, stages Stage) ResRef {
	if pb.err != nil {
		return ResRef{}
	}
	ref, err := pb.pool().Find(name, KindTexture)
	if err != nil {
		return pb.fail(err)
	}
	return pb.ReadTexture(ref, state, stages)
}

// ReadBufferNamed declares a read of the latest version of a named buffer.
func (pb *PassBuilder) ReadBufferNamed(name string, state State, stages Stage) ResRef {
	if pb.err != nil {
		return ResRef{}
	}
	ref, err := pb.pool().Find(name, KindBuffer)
	if err != nil {
		return pb.fail(err)
	}
	return pb.ReadBuffer(ref, state, stages)
}

// ReadHistoryTexture declares a read of the previous frame's contents of
// ref's texture. The history twin is created on first request.
func (pb *PassBuilder) ReadHistoryTexture(ref ResRef, state State, stages Stage) ResRef {
	if pb.err != nil {
		return ResRef{}
	}
	hist, err := pb.pool().RequestHistoryOf(ref)
	if err != nil {
		return pb.fail(err)
	}
	return pb.ReadTexture(hist, state, stages)
}

// SideEffect keeps the pass even when none of its outputs is requested.
func (pb *PassBuilder) SideEffect() {
	pb.pass.sideEffect = true
}

func (pb *PassBuilder) checkDeclare(ref ResRef, kind ResourceKind, list []passAccess) bool {
	if ref.Kind != kind {
		pb.fail(errors.Wrapf(ErrUnknownResource, "%s used as %s", ref, kind))
		return false
	}
	if len(list) >= MaxPassResources {
		pb.fail(errors.Wrapf(ErrTooManyResources, "limit %d", MaxPassResources))
		return false
	}
	if pb.pass.touches(ref) {
		pb.fail(errors.Wrapf(ErrDuplicateResource, "%s", ref))
		return false
	}
	return true
}

func (pb *PassBuilder) read(ref ResRef, kind ResourceKind, state State, stages Stage) ResRef {
	if pb.err != nil {
		return ResRef{}
	}
	if !pb.checkDeclare(ref, kind, pb.pass.inputs) {
		return ResRef{}
	}
	if err := pb.pool().GetForRead(ref); err != nil {
		return pb.fail(err)
	}
	ref.State, ref.Stages = state, stages
	pb.pass.inputs = append(pb.pass.inputs, passAccess{ref: ref})
	r := pb.pool().at(int(ref.Index))
	r.readIn = append(r.readIn, access{pass: int(pb.pass.id), version: ref.Gen.Writes})
	pb.pool().noteAccess(r, state)
	return ref
}

func (pb *PassBuilder) write(ref ResRef, kind ResourceKind, state State, stages Stage, inPlace bool) ResRef {
	if pb.err != nil {
		return ResRef{}
	}
	if !inPlace && !pb.checkDeclare(ref, kind, pb.pass.outputs) {
		return ResRef{}
	}
	out, err := pb.pool().GetForWrite(ref)
	if err != nil {
		return pb.fail(err)
	}
	out.State, out.Stages = state, stages
	pb.pass.outputs = append(pb.pass.outputs, passAccess{ref: out, inPlace: inPlace})
	r := pb.pool().at(int(ref.Index))
	r.writtenIn = append(r.writtenIn, access{pass: int(pb.pass.id), version: out.Gen.Writes})
	pb.pool().noteAccess(r, state)
	return out
}

func (pb *PassBuilder) readWrite(ref ResRef, kind ResourceKind, state State, stages Stage) ResRef {
	if pb.err != nil {
		return ResRef{}
	}
	if len(pb.pass.outputs) >= MaxPassResources {
		pb.fail(errors.Wrapf(ErrTooManyResources, "limit %d", MaxPassResources))
		return ResRef{}
	}
	in := pb.read(ref, kind, state, stages)
	if pb.err != nil {
		return ResRef{}
	}
	pb.pass.inputs[len(pb.pass.inputs)-1].inPlace = true
	return pb.write(in, kind, state, stages, true)
}
