// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package framegraph

import (
	"bytes"
	"image/png"
	"strings"
	"testing"

	"github.com/cockroachdb/errors"
)

func TestWriteDOT(t *testing.T) {
	g := newGraph(t)
	g.b.BeginFrame()
	t1 := g.pass("A", "t1")
	t2 := g.pass("B", "t2", t1)
	g.pass("C", "t3", t1)
	g.compile(t2)

	var buf bytes.Buffer
	if err := g.b.WriteDOT(&buf); err != nil {
		t.Fatalf("WriteDOT failed: %v", err)
	}
	dot := buf.String()
	for _, want := range []string{
		"digraph framegraph {",
		`p2 [label="C", shape=box, style=dashed];`,
		`p0 [label="A", shape=box, style=solid];`,
		`[label="t1 v1", shape=ellipse]`,
		`-> p1 [label="ShaderRead"];`,
	} {
		if !strings.Contains(dot, want) {
			t.Errorf("DOT output missing %q:\n%s", want, dot)
		}
	}
}

func TestWriteTimeline(t *testing.T) {
	g := newGraph(t)
	g.b.BeginFrame()

	var buf bytes.Buffer
	if err := g.b.WriteTimeline(&buf); !errors.Is(err, ErrNotCompiled) {
		t.Fatalf("WriteTimeline before Compile = %v, want ErrNotCompiled", err)
	}

	out1, out2 := disjointFrame(g, testDesc)
	s := g.compile(out1, out2)
	if err := g.b.WriteTimeline(&buf); err != nil {
		t.Fatalf("WriteTimeline failed: %v", err)
	}
	img, err := png.Decode(&buf)
	if err != nil {
		t.Fatalf("timeline is not a PNG: %v", err)
	}
	wantW := timelineLabelWidth + len(s.Order)*timelineCell
	wantH := timelineHeader + 4*timelineRow
	if b := img.Bounds(); b.Dx() != wantW || b.Dy() != wantH {
		t.Errorf("timeline size = %dx%d, want %dx%d", b.Dx(), b.Dy(), wantW, wantH)
	}
}
