// Package framegraph builds, schedules and executes per-frame render graphs.
//
// # Overview
//
// Each frame, passes declare the buffers and textures they read and write.
// Every write creates a new version of its resource and returns a new
// handle; reads must name the latest version. From these declarations the
// builder derives the dependencies between passes, drops passes that do
// not contribute to the requested outputs, orders the rest, lets transient
// textures with disjoint lifetimes share memory and batches the required
// state transitions in front of each pass group.
//
// # Quick Start
//
//	b, err := framegraph.New(device, queue)
//	if err != nil {
//	    return err
//	}
//	defer b.Destroy()
//
//	b.BeginFrame()
//	var gbuf framegraph.ResRef
//	b.AddPass("gbuffer", func(pb *framegraph.PassBuilder) error {
//	    t := pb.CreateTexture("gbuffer", desc)
//	    gbuf = pb.WriteTexture(t, framegraph.StateRenderTarget, framegraph.StageColorOutput)
//	    return nil
//	}, framegraph.ExecFunc(func(ctx *framegraph.ExecContext) error {
//	    tex, err := ctx.GetWriteTexture(gbuf)
//	    ...
//	}))
//	sched, err := b.Compile(gbuf)
//	profile, err := b.Execute()
//
// # Frame Lifecycle
//
// BeginFrame swaps history bindings and resets generations. AddPass runs
// the setup function of a pass immediately. Compile culls, schedules,
// merges, aliases, allocates and plans transitions; it may be called again
// after more passes are added. Execute records every pass into one command
// encoder and submits it when the builder has a queue.
//
// # Errors
//
// Errors are fatal for the frame. The first one is logged and returned by
// every later call until the next BeginFrame. Use errors.Is with the
// exported sentinels to classify them.
//
// # Logging
//
// The package is silent by default; see [SetLogger].
package framegraph
