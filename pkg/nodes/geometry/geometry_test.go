package geometry_test

import (
	"testing"

	"github.com/chazu/nodetree/pkg/engine"
	"github.com/chazu/nodetree/pkg/graph"
	"github.com/chazu/nodetree/pkg/kernel"
	"github.com/chazu/nodetree/pkg/kernel/sdfx"
	"github.com/chazu/nodetree/pkg/nodes/geometry"
	"github.com/chazu/nodetree/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTree(t *testing.T) *graph.Tree {
	t.Helper()
	tr := types.NewRegistry()
	desc, err := graph.NewDescriptor(tr, geometry.New(tr, sdfx.New(sdfx.WithMeshCells(24))))
	require.NoError(t, err)
	return graph.NewTree(desc)
}

func add(t *testing.T, tr *graph.Tree, typeID string, inputs map[string]any) *graph.Node {
	t.Helper()
	n, err := tr.AddNode(typeID)
	require.NoError(t, err)
	for id, v := range inputs {
		require.NoError(t, tr.SetInputValue(n.Input(id).ID, v))
	}
	return n
}

func link(t *testing.T, tr *graph.Tree, from *graph.Node, to *graph.Node, in string) {
	t.Helper()
	_, err := tr.AddLink(from.Output("Geometry").ID, to.Input(in).ID)
	require.NoError(t, err)
}

func solidOf(t *testing.T, n *graph.Node) kernel.Solid {
	t.Helper()
	s, ok := types.Get[kernel.Solid](n.Output("Geometry").Value)
	require.True(t, ok, "no solid on %s: %v", n.TypeID(), n.Output("Geometry").Value)
	return s
}

func near(t *testing.T, got, want [3]float64) {
	t.Helper()
	for i := range got {
		assert.InDelta(t, want[i], got[i], 0.5, "axis %d: got %v want %v", i, got, want)
	}
}

func TestBoxTranslateOutput(t *testing.T) {
	tr := newTree(t)
	box := add(t, tr, "geom_box", map[string]any{"Width": 20.0, "Depth": 10.0, "Height": 5.0})
	move := add(t, tr, "geom_translate", map[string]any{"X": 100.0})
	out := add(t, tr, geometry.OutputTypeID, map[string]any{"Name": "plate"})
	link(t, tr, box, move, "Geometry")
	link(t, tr, move, out, "Geometry")

	e := engine.New()
	rep, err := e.Execute(tr)
	require.NoError(t, err)
	require.True(t, rep.OK(), "failed: %v missing: %v", rep.Failed, rep.Missing)

	min, max := solidOf(t, move).BoundingBox()
	near(t, min, [3]float64{100, 0, 0})
	near(t, max, [3]float64{120, 10, 5})

	s, ok := engine.Sync[kernel.Solid](e, out, "Geometry")
	require.True(t, ok)
	assert.Same(t, solidOf(t, move), s)
	name, ok := engine.Sync[string](e, out, "Name")
	require.True(t, ok)
	assert.Equal(t, "plate", name)
}

func TestBooleanGroups(t *testing.T) {
	tr := newTree(t)
	a := add(t, tr, "geom_box", map[string]any{"Width": 10.0, "Depth": 10.0, "Height": 10.0})
	b := add(t, tr, "geom_sphere", map[string]any{"Radius": 4.0})
	bMoved := add(t, tr, "geom_translate", map[string]any{"X": 12.0, "Y": 5.0, "Z": 5.0})
	link(t, tr, b, bMoved, "Geometry")

	union := add(t, tr, "geom_union", nil)
	inter := add(t, tr, "geom_intersection", nil)
	for _, n := range []*graph.Node{union, inter} {
		g := n.Group("Geometries", graph.Input)
		require.NotNil(t, g)
		for _, src := range []*graph.Node{a, bMoved} {
			m, err := g.AddSocket()
			require.NoError(t, err)
			_, err = tr.AddLink(src.Output("Geometry").ID, m.ID)
			require.NoError(t, err)
		}
	}

	rep, err := engine.New().Execute(tr)
	require.NoError(t, err)
	require.True(t, rep.OK(), "failed: %v missing: %v", rep.Failed, rep.Missing)

	min, max := solidOf(t, union).BoundingBox()
	near(t, min, [3]float64{0, 0, 0})
	near(t, max, [3]float64{16, 10, 10})
	assert.NotNil(t, solidOf(t, inter))
}

func TestEmptyUnionFails(t *testing.T) {
	tr := newTree(t)
	union := add(t, tr, "geom_union", nil)
	_, err := engine.New().Execute(tr)
	require.NoError(t, err)
	assert.Contains(t, union.Status().Failed, "at least one")
}

func TestDifference(t *testing.T) {
	tr := newTree(t)
	base := add(t, tr, "geom_box", map[string]any{"Width": 10.0, "Depth": 10.0, "Height": 10.0})
	tool := add(t, tr, "geom_cylinder", map[string]any{"Height": 20.0, "Radius": 2.0})
	diff := add(t, tr, "geom_difference", nil)
	link(t, tr, base, diff, "Base")
	link(t, tr, tool, diff, "Tool")

	rep, err := engine.New().Execute(tr)
	require.NoError(t, err)
	require.True(t, rep.OK(), "failed: %v", rep.Failed)
	min, max := solidOf(t, diff).BoundingBox()
	near(t, min, [3]float64{0, 0, 0})
	near(t, max, [3]float64{10, 10, 10})
}

func TestRotate(t *testing.T) {
	tr := newTree(t)
	box := add(t, tr, "geom_box", map[string]any{"Width": 30.0, "Depth": 2.0, "Height": 2.0})
	rot := add(t, tr, "geom_rotate", map[string]any{"Z": 90.0})
	link(t, tr, box, rot, "Geometry")

	_, err := engine.New().Execute(tr)
	require.NoError(t, err)
	min, max := solidOf(t, rot).BoundingBox()
	assert.InDelta(t, 2, max[0]-min[0], 0.5)
	assert.InDelta(t, 30, max[1]-min[1], 0.5)
}

func TestZeroDimensionFails(t *testing.T) {
	tr := newTree(t)
	box := add(t, tr, "geom_box", map[string]any{"Width": -5.0})
	move := add(t, tr, "geom_translate", nil)
	link(t, tr, box, move, "Geometry")

	rep, err := engine.New().Execute(tr)
	require.NoError(t, err)

	// The declared minimum clamps -5 to 0, which the kernel rejects.
	assert.Equal(t, 0.0, box.Input("Width").Value.Interface())
	assert.Contains(t, box.Status().Failed, "must be positive")
	// Downstream runs against an empty handle and reports it.
	assert.Contains(t, rep.Failed[move.ID], "no geometry")
}

func TestMeshNodeCachesBetweenPasses(t *testing.T) {
	tr := newTree(t)
	box := add(t, tr, "geom_box", nil)
	mesh := add(t, tr, "geom_mesh", map[string]any{"Cells": 12})
	link(t, tr, box, mesh, "Geometry")
	e := engine.New()

	_, err := e.Execute(tr)
	require.NoError(t, err)
	first, ok := types.Get[*kernel.Mesh](mesh.Output("Mesh").Value)
	require.True(t, ok)
	require.False(t, first.IsEmpty())
	tris, _ := types.Get[int](mesh.Output("Triangles").Value)
	assert.Equal(t, first.TriangleCount(), tris)

	_, err = e.Execute(tr)
	require.NoError(t, err)
	second, _ := types.Get[*kernel.Mesh](mesh.Output("Mesh").Value)
	assert.Same(t, first, second, "unchanged inputs reuse the cached mesh")

	require.NoError(t, tr.SetInputValue(box.Input("Width").ID, 25.0))
	_, err = e.Execute(tr)
	require.NoError(t, err)
	third, _ := types.Get[*kernel.Mesh](mesh.Output("Mesh").Value)
	assert.NotSame(t, first, third)
	_, max := third.Bounds()
	assert.InDelta(t, 25, max[0], 2)
}

func TestOutputWithoutGeometryIsMissing(t *testing.T) {
	tr := newTree(t)
	out := add(t, tr, geometry.OutputTypeID, nil)
	rep, err := engine.New().Execute(tr)
	require.NoError(t, err)
	assert.True(t, out.Status().MissingInput)
	assert.Equal(t, []graph.ID{out.ID}, rep.Missing)
}

func TestOutputLimitsExecution(t *testing.T) {
	tr := newTree(t)
	used := add(t, tr, "geom_box", nil)
	unused := add(t, tr, "geom_sphere", nil)
	out := add(t, tr, geometry.OutputTypeID, nil)
	link(t, tr, used, out, "Geometry")

	rep, err := engine.New().Execute(tr)
	require.NoError(t, err)
	assert.Equal(t, []graph.ID{used.ID, out.ID}, rep.Executed)
	assert.False(t, unused.Status().Required)
}

func TestRegisterTypesIsIdempotent(t *testing.T) {
	tr := types.NewRegistry()
	s1, m1 := geometry.RegisterTypes(tr)
	s2, m2 := geometry.RegisterTypes(tr)
	assert.Equal(t, s1, s2)
	assert.Equal(t, m1, m2)
	got, ok := tr.Lookup(geometry.SolidTypeName)
	require.True(t, ok)
	assert.Equal(t, s1, got)
}
