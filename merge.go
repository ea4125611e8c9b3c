// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package framegraph

import (
	"github.com/gogpu/gpucontext"
)

// Registered merge policy names.
const (
	MergeNever       = "never"
	MergeAttachments = "attachments"
)

// Access describes one resource declaration of a pass.
type Access struct {
	Ref     ResRef
	Name    string
	InPlace bool
}

// PassInfo is the read-only view of a pass given to merge policies.
type PassInfo struct {
	ID         PassID
	Name       string
	Inputs     []Access
	Outputs    []Access
	SideEffect bool
	// RefCount is the number of kept consumers of the pass's outputs,
	// counting each requested output it produced as one consumer.
	RefCount int
}

// MergePolicy decides whether next may join the render-pass group that
// currently ends with prev. The builder asks once per member of the group.
type MergePolicy interface {
	CanMerge(prev, next *PassInfo) bool
}

var mergePolicies = gpucontext.NewRegistry[MergePolicy](
	gpucontext.WithPriority(MergeAttachments, MergeNever),
)

func init() {
	RegisterMergePolicy(MergeNever, func() MergePolicy { return neverMerge{} })
	RegisterMergePolicy(MergeAttachments, func() MergePolicy { return attachmentMerge{} })
}

// RegisterMergePolicy makes a policy selectable with WithMergePolicy.
// Registering an existing name replaces it.
func RegisterMergePolicy(name string, factory func() MergePolicy) {
	mergePolicies.Register(name, factory)
}

// MergePolicies returns the names of the registered policies.
func MergePolicies() []string {
	return mergePolicies.Available()
}

func lookupMergePolicy(name string) MergePolicy {
	if p := mergePolicies.Get(name); p != nil {
		return p
	}
	slogger().Warn("framegraph: unknown merge policy, merging disabled", "policy", name)
	return neverMerge{}
}

type neverMerge struct{}

func (neverMerge) CanMerge(_, _ *PassInfo) bool { return false }

// attachmentMerge merges passes that render into the same attachment set
// without sampling each other's outputs.
type attachmentMerge struct{}

func (attachmentMerge) CanMerge(prev, next *PassInfo) bool {
	if !attachmentsOnly(prev) || !attachmentsOnly(next) {
		return false
	}
	if len(prev.Outputs) != len(next.Outputs) {
		return false
	}
	for _, o := range next.Outputs {
		if !containsResource(prev.Outputs, o.Ref) {
			return false
		}
	}
	for _, in := range next.Inputs {
		if !in.InPlace && containsResource(prev.Outputs, in.Ref) {
			return false
		}
	}
	// A resource read by both must be read in one state.
	for _, a := range next.Inputs {
		for _, b := range prev.Inputs {
			if a.Ref.sameResource(b.Ref) && a.Ref.State != b.Ref.State {
				return false
			}
		}
	}
	return true
}

func attachmentsOnly(p *PassInfo) bool {
	if len(p.Outputs) == 0 {
		return false
	}
	for _, o := range p.Outputs {
		if o.Ref.State != StateRenderTarget && o.Ref.State != StateDepthWrite {
			return false
		}
	}
	return true
}

func containsResource(list []Access, ref ResRef) bool {
	for _, a := range list {
		if a.Ref.sameResource(ref) {
			return true
		}
	}
	return false
}

// groupPasses splits order into contiguous merge groups.
func groupPasses(order []int, infos []*PassInfo, policy MergePolicy) [][]int {
	var groups [][]int
	for _, i := range order {
		if n := len(groups); n > 0 && canJoin(groups[n-1], infos, infos[i], policy) {
			groups[n-1] = append(groups[n-1], i)
			continue
		}
		groups = append(groups, []int{i})
	}
	return groups
}

func canJoin(group []int, infos []*PassInfo, next *PassInfo, policy MergePolicy) bool {
	for _, m := range group {
		if !policy.CanMerge(infos[m], next) {
			return false
		}
	}
	return true
}
