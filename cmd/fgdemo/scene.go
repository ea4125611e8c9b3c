package main

import (
	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"

	fg "github.com/gogpu/framegraph"
)

type extent struct{ w, h uint32 }

func (e extent) texture(format gputypes.TextureFormat, div uint32) fg.TextureDesc {
	return fg.TextureDesc{
		Format: format,
		Width:  max(1, e.w/div),
		Height: max(1, e.h/div),
	}
}

// buildFrame declares a deferred renderer: depth prepass, G-buffer, SSAO,
// lighting, temporal resolve against last frame, a separable bloom and a
// tonemap into the backbuffer. A debug view nobody requests is culled; a
// luminance readback survives as a side effect.
func buildFrame(b *fg.Builder, size extent, backbuffer hal.Texture) (fg.ResRef, error) {
	var (
		depth0, depth, albedo, normal, ao fg.ResRef
		hdr, taa                          fg.ResRef
		bloomHalf, bloomBlur, bloomFinal  fg.ResRef
		out, lum                          fg.ResRef
	)

	bb, err := b.ImportTexture("backbuffer", backbuffer, nil,
		size.texture(gputypes.TextureFormatBGRA8Unorm, 1), fg.StateUndefined)
	if err != nil {
		return fg.ResRef{}, err
	}

	steps := []struct {
		name  string
		setup fg.SetupFunc
		exec  fg.Executor
	}{
		{"depth-prepass", func(pb *fg.PassBuilder) error {
			t := pb.CreateTexture("depth", size.texture(gputypes.TextureFormatDepth32Float, 1))
			depth0 = pb.WriteTexture(t, fg.StateDepthWrite, fg.StageDepthTest)
			return nil
		}, renderTo(&depth0)},
		{"gbuffer", func(pb *fg.PassBuilder) error {
			depth = pb.ReadWriteTexture(depth0, fg.StateDepthWrite, fg.StageDepthTest)
			albedo = pb.WriteTexture(pb.CreateTexture("albedo", size.texture(gputypes.TextureFormatRGBA8Unorm, 1)),
				fg.StateRenderTarget, fg.StageColorOutput)
			normal = pb.WriteTexture(pb.CreateTexture("normal", size.texture(gputypes.TextureFormatRGBA16Float, 1)),
				fg.StateRenderTarget, fg.StageColorOutput)
			return nil
		}, renderTo(&depth, &albedo, &normal)},
		{"ssao", func(pb *fg.PassBuilder) error {
			pb.ReadTexture(depth, fg.StateDepthRead, fg.StageFragment)
			pb.ReadTexture(normal, fg.StateShaderRead, fg.StageFragment)
			ao = pb.WriteTexture(pb.CreateTexture("ao", size.texture(gputypes.TextureFormatRGBA8Unorm, 2)),
				fg.StateRenderTarget, fg.StageColorOutput)
			return nil
		}, renderTo(&ao)},
		{"lighting", func(pb *fg.PassBuilder) error {
			pb.ReadTexture(albedo, fg.StateShaderRead, fg.StageFragment)
			pb.ReadTexture(normal, fg.StateShaderRead, fg.StageFragment)
			pb.ReadTexture(ao, fg.StateShaderRead, fg.StageFragment)
			hdr = pb.WriteTexture(pb.CreateTexture("hdr", size.texture(gputypes.TextureFormatRGBA16Float, 1)),
				fg.StateRenderTarget, fg.StageColorOutput)
			return nil
		}, renderTo(&hdr)},
		{"debug-normals", func(pb *fg.PassBuilder) error {
			pb.ReadTexture(normal, fg.StateShaderRead, fg.StageFragment)
			pb.WriteTexture(pb.CreateTexture("debug", size.texture(gputypes.TextureFormatRGBA8Unorm, 1)),
				fg.StateRenderTarget, fg.StageColorOutput)
			return nil
		}, nil},
		{"taa", func(pb *fg.PassBuilder) error {
			pb.ReadTexture(hdr, fg.StateShaderRead, fg.StageFragment)
			t := pb.CreateTexture("taa", size.texture(gputypes.TextureFormatRGBA16Float, 1))
			pb.ReadHistoryTexture(t, fg.StateShaderRead, fg.StageFragment)
			taa = pb.WriteTexture(t, fg.StateRenderTarget, fg.StageColorOutput)
			return nil
		}, renderTo(&taa)},
		{"luminance", func(pb *fg.PassBuilder) error {
			pb.ReadTexture(hdr, fg.StateShaderRead, fg.StageCompute)
			buf := pb.CreateBuffer("luminance", fg.BufferDesc{Size: 1024, Usage: gputypes.BufferUsageCopySrc})
			lum = pb.WriteBuffer(buf, fg.StateUnorderedAccess, fg.StageCompute)
			pb.SideEffect()
			return nil
		}, fg.ExecFunc(func(ctx *fg.ExecContext) error {
			buf, err := ctx.GetWriteBuffer(lum)
			if err != nil {
				return err
			}
			cp := ctx.Encoder().BeginComputePass(&hal.ComputePassDescriptor{
				Label:           ctx.PassName(),
				TimestampWrites: ctx.ComputePassTimestamps(),
			})
			cp.End()
			ctx.Encoder().ClearBuffer(buf, 0, 1024)
			return nil
		})},
		{"bloom-down", func(pb *fg.PassBuilder) error {
			pb.ReadTexture(taa, fg.StateShaderRead, fg.StageFragment)
			bloomHalf = pb.WriteTexture(pb.CreateTexture("bloom-half", size.texture(gputypes.TextureFormatRGBA16Float, 2)),
				fg.StateRenderTarget, fg.StageColorOutput)
			return nil
		}, renderTo(&bloomHalf)},
		{"bloom-blur-h", func(pb *fg.PassBuilder) error {
			pb.ReadTexture(bloomHalf, fg.StateShaderRead, fg.StageFragment)
			bloomBlur = pb.WriteTexture(pb.CreateTexture("bloom-blur", size.texture(gputypes.TextureFormatRGBA16Float, 2)),
				fg.StateRenderTarget, fg.StageColorOutput)
			return nil
		}, renderTo(&bloomBlur)},
		{"bloom-blur-v", func(pb *fg.PassBuilder) error {
			pb.ReadTexture(bloomBlur, fg.StateShaderRead, fg.StageFragment)
			bloomFinal = pb.WriteTexture(pb.CreateTexture("bloom-final", size.texture(gputypes.TextureFormatRGBA16Float, 2)),
				fg.StateRenderTarget, fg.StageColorOutput)
			return nil
		}, renderTo(&bloomFinal)},
		{"tonemap", func(pb *fg.PassBuilder) error {
			pb.ReadTexture(taa, fg.StateShaderRead, fg.StageFragment)
			pb.ReadTexture(bloomFinal, fg.StateShaderRead, fg.StageFragment)
			out = pb.WriteTexture(bb, fg.StateRenderTarget, fg.StageColorOutput)
			return nil
		}, renderTo(&out)},
	}

	for _, s := range steps {
		if _, err := b.AddPass(s.name, s.setup, s.exec); err != nil {
			return fg.ResRef{}, err
		}
	}
	return out, nil
}

// renderTo returns an executor that opens a render pass on the given
// targets. Handles are read through pointers because they are assigned
// during setup, after the executor is created.
func renderTo(targets ...*fg.ResRef) fg.Executor {
	return fg.ExecFunc(func(ctx *fg.ExecContext) error {
		desc := &hal.RenderPassDescriptor{
			Label:           ctx.PassName(),
			TimestampWrites: ctx.RenderPassTimestamps(),
		}
		for _, t := range targets {
			view, err := ctx.TextureView(*t)
			if err != nil {
				return err
			}
			if t.State == fg.StateDepthWrite {
				desc.DepthStencilAttachment = &hal.RenderPassDepthStencilAttachment{
					View:         view,
					DepthLoadOp:  gputypes.LoadOpLoad,
					DepthStoreOp: gputypes.StoreOpStore,
				}
				continue
			}
			desc.ColorAttachments = append(desc.ColorAttachments, hal.RenderPassColorAttachment{
				View:    view,
				LoadOp:  gputypes.LoadOpClear,
				StoreOp: gputypes.StoreOpStore,
			})
		}
		ctx.Encoder().BeginRenderPass(desc).End()
		return nil
	})
}
