package main

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/chazu/nodetree/pkg/graph"
)

// ---------------------------------------------------------------------------
// 1. Empty results serialize as [] rather than null.
// ---------------------------------------------------------------------------

func TestE2EEmptyResultSlices(t *testing.T) {
	app := newTestApp(t)
	result := app.Run(`{"nodes":{}}`)

	if result.Meshes == nil {
		t.Error("Meshes should be non-nil empty slice, got nil")
	}
	if result.Errors == nil {
		t.Error("Errors should be non-nil empty slice, got nil")
	}
	data, err := json.Marshal(result)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if !strings.Contains(string(data), `"meshes":[]`) {
		t.Errorf("expected empty meshes array in %s", data)
	}
}

// ---------------------------------------------------------------------------
// 2. Missing input: an unwired output is reported, other parts still mesh.
// ---------------------------------------------------------------------------

func TestE2EMissingInputIsolated(t *testing.T) {
	app := newTestApp(t)
	var unwired graph.ID
	doc := buildDoc(t, func(t *testing.T, tr *graph.Tree) {
		addPart(t, tr, "good", 20)
		unwired = addNode(t, tr, "geom_output", map[string]any{"Name": "lonely"}).ID
	})

	result := app.Run(doc)
	if len(result.Meshes) != 1 || result.Meshes[0].PartName != "good" {
		t.Fatalf("expected only 'good' to mesh, got %d meshes", len(result.Meshes))
	}
	if len(result.Errors) != 1 {
		t.Fatalf("expected 1 error, got %v", result.Errors)
	}
	e := result.Errors[0]
	if e.Kind != KindMissingInput || e.NodeID != unwired.String() {
		t.Errorf("unexpected error: %+v", e)
	}
}

// ---------------------------------------------------------------------------
// 3. Failing node: zero dimension fails the box; its output fails too, and
//    each node is reported once.
// ---------------------------------------------------------------------------

func TestE2EZeroDimensionBox(t *testing.T) {
	app := newTestApp(t)
	doc := buildDoc(t, func(t *testing.T, tr *graph.Tree) {
		addPart(t, tr, "flat", 0)
	})

	result := app.Run(doc)
	if len(result.Meshes) != 0 {
		t.Errorf("expected 0 meshes, got %d", len(result.Meshes))
	}
	if len(result.Errors) != 2 {
		t.Fatalf("expected box and output errors, got %v", result.Errors)
	}
	if result.Errors[0].Kind != KindFailed || !strings.Contains(result.Errors[0].Message, "positive") {
		t.Errorf("expected box failure first, got %+v", result.Errors[0])
	}
	if result.Errors[1].Kind != KindFailed || !strings.Contains(result.Errors[1].Message, "no geometry") {
		t.Errorf("expected output failure second, got %+v", result.Errors[1])
	}
	seen := map[string]bool{}
	for _, e := range result.Errors {
		if seen[e.NodeID] {
			t.Errorf("node %s reported twice", e.NodeID)
		}
		seen[e.NodeID] = true
	}
}

// ---------------------------------------------------------------------------
// 4. Unknown node types are skipped on load, not fatal.
// ---------------------------------------------------------------------------

func TestE2EUnknownNodeType(t *testing.T) {
	app := newTestApp(t)
	doc := `{"nodes":{"1":{"ID":1,"id_name":"render_present","inputs":[],"outputs":[]}},"sockets":{},"links":{},"next_id":2}`

	result := app.Run(doc)
	if len(result.Errors) != 0 {
		t.Errorf("expected no errors, got %v", result.Errors)
	}
	if n := app.System().Tree().NodeCount(); n != 0 {
		t.Errorf("expected unknown node to be dropped, tree has %d nodes", n)
	}
}

// ---------------------------------------------------------------------------
// 5. Rapid re-runs of the same document are deterministic.
// ---------------------------------------------------------------------------

func TestE2ERapidRuns(t *testing.T) {
	app := newTestApp(t)
	doc := buildDoc(t, func(t *testing.T, tr *graph.Tree) {
		addPart(t, tr, "a", 10)
		addPart(t, tr, "b", 20)
	})

	first := app.Run(doc)
	for i := 0; i < 5; i++ {
		r := app.Run(doc)
		if len(r.Meshes) != len(first.Meshes) {
			t.Fatalf("run %d: %d meshes, first run had %d", i, len(r.Meshes), len(first.Meshes))
		}
		for j := range r.Meshes {
			if r.Meshes[j].PartName != first.Meshes[j].PartName {
				t.Errorf("run %d: part %d is %q, was %q", i, j, r.Meshes[j].PartName, first.Meshes[j].PartName)
			}
			if len(r.Meshes[j].Indices) != len(first.Meshes[j].Indices) {
				t.Errorf("run %d: part %q triangle count changed", i, r.Meshes[j].PartName)
			}
		}
	}
}

// ---------------------------------------------------------------------------
// 6. Alternating documents replace the tree each time.
// ---------------------------------------------------------------------------

func TestE2EAlternatingDocuments(t *testing.T) {
	app := newTestApp(t)
	one := buildDoc(t, func(t *testing.T, tr *graph.Tree) { addPart(t, tr, "one", 10) })
	two := buildDoc(t, func(t *testing.T, tr *graph.Tree) {
		addPart(t, tr, "two-a", 10)
		addPart(t, tr, "two-b", 10)
	})

	for i := 0; i < 3; i++ {
		if r := app.Run(one); len(r.Meshes) != 1 {
			t.Fatalf("iteration %d: expected 1 mesh, got %d", i, len(r.Meshes))
		}
		if r := app.Run(two); len(r.Meshes) != 2 {
			t.Fatalf("iteration %d: expected 2 meshes, got %d", i, len(r.Meshes))
		}
	}
}

// ---------------------------------------------------------------------------
// 7. Values converted across a spliced conversion node reach geometry.
// ---------------------------------------------------------------------------

func TestE2EIntValueDrivesGeometry(t *testing.T) {
	app := newTestApp(t)
	doc := buildDoc(t, func(t *testing.T, tr *graph.Tree) {
		v := addNode(t, tr, "value_int", map[string]any{"Value": 40})
		box := addPart(t, tr, "driven", 10)
		if _, err := tr.AddLink(v.Output("Value").ID, box.Input("Width").ID); err != nil {
			t.Fatalf("AddLink: %v", err)
		}
	})

	result := app.Run(doc)
	if len(result.Errors) != 0 || len(result.Meshes) != 1 {
		t.Fatalf("expected 1 mesh and no errors, got %d meshes, %v", len(result.Meshes), result.Errors)
	}
	var maxX float32
	v := result.Meshes[0].Vertices
	for i := 0; i < len(v); i += 3 {
		if v[i] > maxX {
			maxX = v[i]
		}
	}
	if maxX < 36 || maxX > 44 {
		t.Errorf("max X = %.1f, expected near 40", maxX)
	}
}

// ---------------------------------------------------------------------------
// 8. Expressions feed geometry through the script evaluator.
// ---------------------------------------------------------------------------

func TestE2EExpressionDrivesGeometry(t *testing.T) {
	app := newTestApp(t)
	doc := buildDoc(t, func(t *testing.T, tr *graph.Tree) {
		expr := addNode(t, tr, "expression", map[string]any{"Expression": "(* a 2)", "a": 15.0})
		box := addPart(t, tr, "scripted", 10)
		if _, err := tr.AddLink(expr.Output("Result").ID, box.Input("Height").ID); err != nil {
			t.Fatalf("AddLink: %v", err)
		}
	})

	result := app.Run(doc)
	if len(result.Errors) != 0 || len(result.Meshes) != 1 {
		t.Fatalf("expected 1 mesh and no errors, got %d meshes, %v", len(result.Meshes), result.Errors)
	}
}

// ---------------------------------------------------------------------------
// 9. Color palette wraps around after all colors are used.
// ---------------------------------------------------------------------------

func TestE2EColorPaletteWrapping(t *testing.T) {
	app := newTestApp(t)
	parts := len(colorPalette) + 2
	doc := buildDoc(t, func(t *testing.T, tr *graph.Tree) {
		for i := 0; i < parts; i++ {
			addPart(t, tr, "p", 5)
		}
	})

	result := app.Run(doc)
	if len(result.Meshes) != parts {
		t.Fatalf("expected %d meshes, got %d", parts, len(result.Meshes))
	}
	for i, m := range result.Meshes {
		if want := colorPalette[i%len(colorPalette)]; m.Color != want {
			t.Errorf("mesh %d: color %s, expected %s", i, m.Color, want)
		}
	}
}
