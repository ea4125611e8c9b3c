// Command fgdemo builds a deferred-shading frame graph on the noop GPU
// backend, runs it for a number of frames and dumps the last frame.
package main

import (
	"flag"
	"io"
	"log"
	"log/slog"
	"os"

	"github.com/cockroachdb/errors"
	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"
	"github.com/gogpu/wgpu/hal/noop"
	"github.com/pkg/profile"

	"github.com/gogpu/framegraph"
)

type config struct {
	frames    int
	width     uint
	height    uint
	merge     string
	reorder   bool
	dotPath   string
	pngPath   string
	cpuprof   string
	verbose   bool
	noAlias   bool
	lookahead int
}

func main() {
	var cfg config
	flag.IntVar(&cfg.frames, "frames", 3, "number of frames to run")
	flag.UintVar(&cfg.width, "width", 1280, "render width")
	flag.UintVar(&cfg.height, "height", 720, "render height")
	flag.StringVar(&cfg.merge, "merge", framegraph.MergeAttachments, "render-pass merge policy")
	flag.BoolVar(&cfg.reorder, "reorder", true, "enable greedy pass re-ordering")
	flag.StringVar(&cfg.dotPath, "dot", "", "write the last frame as Graphviz DOT")
	flag.StringVar(&cfg.pngPath, "timeline", "", "write the last frame's resource timeline as PNG")
	flag.StringVar(&cfg.cpuprof, "cpuprofile", "", "write a CPU profile to this directory")
	flag.BoolVar(&cfg.verbose, "v", false, "debug logging")
	flag.BoolVar(&cfg.noAlias, "noalias", false, "disable texture aliasing")
	flag.IntVar(&cfg.lookahead, "lookahead", 4, "re-ordering window")
	flag.Parse()

	if err := run(cfg); err != nil {
		log.Fatal(err)
	}
}

func run(cfg config) error {
	if cfg.cpuprof != "" {
		defer profile.Start(profile.CPUProfile, profile.ProfilePath(cfg.cpuprof), profile.Quiet).Stop()
	}
	if cfg.verbose {
		framegraph.SetLogger(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: slog.LevelDebug,
		})))
	}

	device, queue, cleanup, err := openNoop()
	if err != nil {
		return errors.Wrap(err, "open device")
	}
	defer cleanup()

	b, err := framegraph.New(device, queue,
		framegraph.WithMergePolicy(cfg.merge),
		framegraph.WithReorder(cfg.reorder),
		framegraph.WithAliasing(!cfg.noAlias),
		framegraph.WithLookahead(cfg.lookahead),
		framegraph.WithLabel("fgdemo"),
	)
	if err != nil {
		return errors.Wrap(err, "create builder")
	}
	defer b.Destroy()

	// #nosec G115 -- flag values are small
	size := extent{w: uint32(cfg.width), h: uint32(cfg.height)}
	backbuffer, err := device.CreateTexture(&hal.TextureDescriptor{
		Label:         "backbuffer",
		Size:          hal.Extent3D{Width: size.w, Height: size.h, DepthOrArrayLayers: 1},
		MipLevelCount: 1,
		SampleCount:   1,
		Dimension:     gputypes.TextureDimension2D,
		Format:        gputypes.TextureFormatBGRA8Unorm,
		Usage:         gputypes.TextureUsageRenderAttachment | gputypes.TextureUsageCopySrc,
	})
	if err != nil {
		return errors.Wrap(err, "create backbuffer")
	}
	defer device.DestroyTexture(backbuffer)

	for f := 0; f < cfg.frames; f++ {
		b.BeginFrame()
		out, err := buildFrame(b, size, backbuffer)
		if err != nil {
			return errors.Wrapf(err, "frame %d", f)
		}
		sched, err := b.Compile(out)
		if err != nil {
			return errors.Wrapf(err, "frame %d: compile", f)
		}
		prof, err := b.Execute()
		if err != nil {
			return errors.Wrapf(err, "frame %d: execute", f)
		}
		log.Printf("frame %d: %d passes in %d groups, %d culled, %d alias chains, %d barriers, cpu %v",
			prof.Frame, len(sched.Order), len(sched.Groups), len(sched.Culled), len(sched.Aliases), prof.Barriers, prof.CPU)
	}

	if sched := b.Schedule(); sched != nil {
		for _, chain := range sched.Aliases {
			log.Printf("alias chain %s: %v", chain.Owner, chain.Members)
		}
	}
	if cfg.dotPath != "" {
		if err := writeFile(cfg.dotPath, b.WriteDOT); err != nil {
			return err
		}
	}
	if cfg.pngPath != "" {
		if err := writeFile(cfg.pngPath, b.WriteTimeline); err != nil {
			return err
		}
	}
	st := b.Stats()
	log.Printf("pool: %d resources, %d allocations, %d aliased, %d history",
		st.Resources, st.Allocations, st.Aliased, st.History)
	return nil
}

func writeFile(path string, fn func(w io.Writer) error) error {
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrapf(err, "create %s", path)
	}
	if err := fn(f); err != nil {
		_ = f.Close()
		return errors.Wrapf(err, "write %s", path)
	}
	if err := f.Close(); err != nil {
		return errors.Wrapf(err, "close %s", path)
	}
	log.Printf("wrote %s", path)
	return nil
}

func openNoop() (hal.Device, hal.Queue, func(), error) {
	api := noop.API{}
	instance, err := api.CreateInstance(nil)
	if err != nil {
		return nil, nil, nil, err
	}
	adapters := instance.EnumerateAdapters(nil)
	open, err := adapters[0].Adapter.Open(0, gputypes.DefaultLimits())
	if err != nil {
		instance.Destroy()
		return nil, nil, nil, err
	}
	cleanup := func() {
		open.Device.Destroy()
		instance.Destroy()
	}
	return open.Device, open.Queue, cleanup, nil
}
