// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package framegraph

import (
	"bufio"
	"cmp"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"io"
	"slices"

	"github.com/cockroachdb/errors"
	"golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

// WriteDOT writes the current frame as a Graphviz digraph. Passes are
// boxes, resource versions are ellipses; culled passes are dashed.
func (b *Builder) WriteDOT(w io.Writer) error {
	bw := bufio.NewWriter(w)
	culled := make(map[PassID]bool)
	if b.schedule != nil {
		for _, id := range b.schedule.Culled {
			culled[id] = true
		}
	}

	fmt.Fprintln(bw, "digraph framegraph {")
	fmt.Fprintln(bw, "\trankdir=LR;")
	for _, p := range b.passes.passes {
		style := "solid"
		if culled[p.id] {
			style = "dashed"
		}
		fmt.Fprintf(bw, "\tp%d [label=%q, shape=box, style=%s];\n", p.id, p.name, style)
	}
	node := func(ref ResRef) string {
		return fmt.Sprintf("r%d_%d", ref.Index, ref.Gen.Writes)
	}
	seen := make(map[string]bool)
	declare := func(ref ResRef) {
		n := node(ref)
		if seen[n] {
			return
		}
		seen[n] = true
		name := "?"
		if r := b.pool.at(int(ref.Index)); r != nil {
			name = r.name
		}
		fmt.Fprintf(bw, "\t%s [label=\"%s v%d\", shape=ellipse];\n", n, name, ref.Gen.Writes)
	}
	for _, p := range b.passes.passes {
		for _, in := range p.inputs {
			declare(in.ref)
			fmt.Fprintf(bw, "\t%s -> p%d [label=%q];\n", node(in.ref), p.id, in.ref.State.String())
		}
		for _, out := range p.outputs {
			declare(out.ref)
			fmt.Fprintf(bw, "\tp%d -> %s [label=%q];\n", p.id, node(out.ref), out.ref.State.String())
		}
	}
	fmt.Fprintln(bw, "}")
	return errors.Wrap(bw.Flush(), "framegraph: write dot")
}

const (
	timelineLabelWidth = 160
	timelineCell       = 28
	timelineRow        = 18
	timelineHeader     = 20
)

var timelinePalette = []color.RGBA{
	{0x4e, 0x79, 0xa7, 0xff},
	{0xf2, 0x8e, 0x2b, 0xff},
	{0x59, 0xa1, 0x4f, 0xff},
	{0xe1, 0x57, 0x59, 0xff},
	{0x76, 0xb7, 0xb2, 0xff},
	{0xed, 0xc9, 0x48, 0xff},
	{0xb0, 0x7a, 0xa1, 0xff},
}

// WriteTimeline renders the resource lifetimes of the compiled frame as a
// PNG: one row per live resource, one column per scheduled pass. Members
// of an alias chain share a color; unaliased resources are gray.
func (b *Builder) WriteTimeline(w io.Writer) error {
	if b.schedule == nil {
		return ErrNotCompiled
	}
	order := make([]int, len(b.schedule.Order))
	for i, id := range b.schedule.Order {
		order[i] = int(id)
	}
	spans := lifetimes(order, b.passes.passes)
	rows := make([]int, 0, len(spans))
	for i := range spans {
		rows = append(rows, i)
	}
	slices.SortFunc(rows, func(x, y int) int {
		return cmp.Compare(b.pool.at(x).serial, b.pool.at(y).serial)
	})

	chainColor := make(map[int]color.RGBA)
	for _, r := range rows {
		owner := b.pool.physical(r)
		if owner == r && !slices.ContainsFunc(rows, func(o int) bool { return o != r && b.pool.physical(o) == r }) {
			continue
		}
		if _, ok := chainColor[owner]; !ok {
			chainColor[owner] = timelinePalette[len(chainColor)%len(timelinePalette)]
		}
	}

	width := timelineLabelWidth + max(1, len(order))*timelineCell
	height := timelineHeader + max(1, len(rows))*timelineRow
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.Draw(img, img.Bounds(), image.White, image.Point{}, draw.Src)

	d := &font.Drawer{Dst: img, Src: image.Black, Face: basicfont.Face7x13}
	label := func(x, y int, s string) {
		d.Dot = fixed.P(x, y)
		d.DrawString(s)
	}
	for pos := range order {
		label(timelineLabelWidth+pos*timelineCell+4, timelineHeader-6, fmt.Sprint(pos))
	}

	gray := color.RGBA{0xa0, 0xa0, 0xa0, 0xff}
	for row, ri := range rows {
		r := b.pool.at(ri)
		y := timelineHeader + row*timelineRow
		label(4, y+timelineRow-5, r.name)

		c, ok := chainColor[b.pool.physical(ri)]
		if !ok {
			c = gray
		}
		span := spans[ri]
		bar := image.Rect(
			timelineLabelWidth+span.first*timelineCell+1, y+2,
			timelineLabelWidth+(span.last+1)*timelineCell-1, y+timelineRow-2,
		)
		draw.Draw(img, bar, image.NewUniform(c), image.Point{}, draw.Src)
	}

	return errors.Wrap(png.Encode(w, img), "framegraph: encode timeline")
}
