// Package tessellate turns the parts of an executed node tree into triangle
// meshes. A part is a geom_output node; its solid is read back from the
// executor without running the node again. One mesh is produced per part.
package tessellate

import (
	"fmt"

	"github.com/chazu/nodetree/pkg/engine"
	"github.com/chazu/nodetree/pkg/graph"
	"github.com/chazu/nodetree/pkg/kernel"
	"github.com/chazu/nodetree/pkg/nodes/geometry"
	"github.com/chazu/nodetree/pkg/types"
)

// PartError describes a part that produced no mesh.
type PartError struct {
	Node    graph.ID `json:"nodeId"`
	Name    string   `json:"name"`
	Message string   `json:"message"`
}

func (e PartError) Error() string {
	return fmt.Sprintf("part %q (node %s): %s", e.Name, e.Node, e.Message)
}

// Result holds the meshes of the parts that tessellated and the errors of
// those that did not.
type Result struct {
	Meshes []*kernel.Mesh `json:"meshes"`
	Errors []PartError    `json:"errors,omitempty"`
}

// Tessellate meshes every part of t using the bindings of e's most recent
// pass. A part whose node was skipped, failed or has no solid is reported
// in Result.Errors; the remaining parts are still meshed. Tessellate is
// read-only and never mutates the tree.
func Tessellate(t *graph.Tree, e *engine.Executor, k kernel.Kernel) (*Result, error) {
	res := &Result{}
	if t == nil {
		return res, nil
	}
	if e == nil || k == nil {
		return nil, fmt.Errorf("tessellate: executor and kernel are required")
	}

	for _, n := range t.Nodes() {
		if n.TypeID() != geometry.OutputTypeID {
			continue
		}
		name := partName(e, n)
		fail := func(format string, args ...any) {
			res.Errors = append(res.Errors, PartError{Node: n.ID, Name: name, Message: fmt.Sprintf(format, args...)})
		}

		st := n.Status()
		switch {
		case st.MissingInput:
			fail("missing input")
			continue
		case st.Failed != "":
			fail("%s", st.Failed)
			continue
		}

		solid, ok := engine.Sync[kernel.Solid](e, n, "Geometry")
		if !ok || solid == nil {
			fail("no geometry; has the tree been executed?")
			continue
		}
		cells, _ := engine.Sync[int](e, n, "Cells")

		mesh, err := k.ToMesh(solid, cells)
		if err != nil {
			fail("tessellation failed: %v", err)
			continue
		}
		mesh.PartName = name
		res.Meshes = append(res.Meshes, mesh)
	}

	return res, nil
}

// partName prefers the bound Name input, then the literal value of an
// unlinked Name input, then the node's display name, then its ID.
func partName(e *engine.Executor, n *graph.Node) string {
	if s, ok := engine.Sync[string](e, n, "Name"); ok && s != "" {
		return s
	}
	if in := n.Input("Name"); in != nil && !in.IsLinked() {
		if s, ok := types.Get[string](in.Value); ok && s != "" {
			return s
		}
	}
	if n.Name != "" {
		return n.Name
	}
	return "part-" + n.ID.String()
}
