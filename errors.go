// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package framegraph

import "github.com/cockroachdb/errors"

// Errors reported by the builder. Every one of them is fatal for the frame:
// the builder keeps the first error and refuses to compile or execute until
// the next BeginFrame.
var (
	// ErrStaleHandle is returned when a handle no longer addresses the latest
	// version of its resource, was issued in another frame, or its slot was
	// reclaimed.
	ErrStaleHandle = errors.New("framegraph: stale resource handle")

	// ErrUnknownResource is returned for names or handles the pool does not know.
	ErrUnknownResource = errors.New("framegraph: unknown resource")

	// ErrAllocationFailure is returned when the allocator cannot back a resource.
	ErrAllocationFailure = errors.New("framegraph: allocation failure")

	// ErrCyclicAlias indicates a corrupted aliasing chain.
	ErrCyclicAlias = errors.New("framegraph: cyclic alias chain")

	// ErrDependencyCycle indicates passes that depend on each other.
	ErrDependencyCycle = errors.New("framegraph: dependency cycle")

	// ErrDuplicateResource is returned when a pass declares the same resource
	// twice without the read-write form.
	ErrDuplicateResource = errors.New("framegraph: resource declared twice in one pass")

	// ErrDescriptorMismatch is returned when a named resource is requested
	// with a descriptor that differs from the one it was created with.
	ErrDescriptorMismatch = errors.New("framegraph: descriptor mismatch")

	// ErrUndeclaredHandle is returned when a pass accesses a resource it did
	// not declare during setup.
	ErrUndeclaredHandle = errors.New("framegraph: resource not declared by pass")

	// ErrWrongPhase is returned when a setup call is made outside setup or an
	// execute call outside execution.
	ErrWrongPhase = errors.New("framegraph: call not allowed in current phase")

	// ErrTooManyResources is returned when a pass exceeds MaxPassResources
	// inputs or outputs.
	ErrTooManyResources = errors.New("framegraph: too many pass resources")

	// ErrNilDevice is returned when a builder is created without a device.
	ErrNilDevice = errors.New("framegraph: nil device")

	// ErrNotCompiled is returned when Execute runs before a successful Compile.
	ErrNotCompiled = errors.New("framegraph: frame not compiled")
)
