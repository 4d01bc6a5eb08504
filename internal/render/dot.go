// Package render turns hierarchy snapshots into Graphviz diagrams and
// terminal trees.
package render

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/goccy/go-graphviz"

	"github.com/signalsfoundry/grid-hierarchy/core"
	"github.com/signalsfoundry/grid-hierarchy/model"
)

// Options configures diagram rendering.
type Options struct {
	// Detailed adds load and capacity figures to node labels.
	Detailed bool
}

var statusFill = map[model.Status]string{
	model.StatusNormal:     "white",
	model.StatusWarning:    "gold",
	model.StatusOverloaded: "tomato",
	model.StatusUnsupplied: "lightgrey",
}

var typeShape = map[model.NodeType]string{
	model.Plant:                  "doubleoctagon",
	model.TransmissionSubstation: "box3d",
	model.DistributionSubstation: "box",
	model.Consumer:               "ellipse",
}

// ToDOT converts a snapshot to Graphviz DOT. Edges point from supplier to
// supplied node; nodes are filled by status.
func ToDOT(snap core.Snapshot, opts Options) string {
	var buf bytes.Buffer
	buf.WriteString("digraph G {\n")
	buf.WriteString("  rankdir=TB;\n")
	buf.WriteString("  bgcolor=\"transparent\";\n")
	buf.WriteString("  node [style=\"rounded,filled\", fillcolor=white, fontsize=14, margin=\"0.2,0.1\"];\n")
	buf.WriteString("  ranksep=0.5;\n")
	buf.WriteString("  nodesep=0.3;\n")
	buf.WriteString("\n")

	for _, e := range snap.Tree {
		fmt.Fprintf(&buf, "  %q [%s];\n", e.ID, strings.Join(fmtAttrs(e, opts.Detailed), ", "))
	}

	buf.WriteString("\n")
	for _, e := range snap.Tree {
		if e.ParentID == "" {
			continue
		}
		fmt.Fprintf(&buf, "  %q -> %q;\n", e.ParentID, e.ID)
	}

	buf.WriteString("}\n")
	return buf.String()
}

func fmtLabel(e core.TreeEntry, detailed bool) string {
	if !detailed {
		return e.ID
	}
	parts := []string{e.ID, e.Type.String(), fmt.Sprintf("load: %g", e.CurrentLoad)}
	if e.Capacity != nil {
		parts = append(parts, fmt.Sprintf("capacity: %g", *e.Capacity))
	}
	return strings.Join(parts, "\n")
}

func fmtAttrs(e core.TreeEntry, detailed bool) []string {
	attrs := []string{fmt.Sprintf("label=%q", fmtLabel(e, detailed))}
	if shape, ok := typeShape[e.Type]; ok {
		attrs = append(attrs, "shape="+shape)
	}
	if fill, ok := statusFill[e.Status]; ok && fill != "white" {
		attrs = append(attrs, "fillcolor="+fill)
	}
	if e.Status == model.StatusUnsupplied {
		attrs = append(attrs, "style=\"rounded,filled,dashed\"")
	}
	return attrs
}

// RenderSVG renders a DOT graph to SVG using Graphviz.
func RenderSVG(ctx context.Context, dot string) ([]byte, error) {
	gv, err := graphviz.New(ctx)
	if err != nil {
		return nil, fmt.Errorf("init graphviz: %w", err)
	}
	defer gv.Close()

	g, err := graphviz.ParseBytes([]byte(dot))
	if err != nil {
		return nil, fmt.Errorf("parse DOT: %w", err)
	}
	defer g.Close()

	var buf bytes.Buffer
	if err := gv.Render(ctx, g, graphviz.SVG, &buf); err != nil {
		return nil, fmt.Errorf("render: %w", err)
	}
	return buf.Bytes(), nil
}
