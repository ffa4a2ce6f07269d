// Package geometry provides node types that build solids with a geometry
// kernel. Solids flow between sockets as opaque kernel.Solid handles;
// geom_output nodes mark the parts a consumer should tessellate.
package geometry

import (
	"errors"
	"fmt"
	"strings"

	"github.com/cespare/xxhash/v2"
	"github.com/chazu/nodetree/pkg/graph"
	"github.com/chazu/nodetree/pkg/kernel"
	"github.com/chazu/nodetree/pkg/types"
)

// Name is the registry name used in configuration.
const Name = "geometry"

// Socket type names for kernel values.
const (
	SolidTypeName = "geometry"
	MeshTypeName  = "mesh"
)

// OutputTypeID is the node type consumers collect parts from.
const OutputTypeID = "geom_output"

const (
	colorPrimitive = "#b07a4a"
	colorOperation = "#b04a6b"
	colorOutput    = "#4ab0a3"
)

var ErrNoGeometry = errors.New("geometry: no geometry")

// RegisterTypes registers the kernel value types in tr.
func RegisterTypes(tr *types.Registry) (solid, mesh types.SocketType) {
	return types.Register[kernel.Solid](tr, SolidTypeName), types.Register[*kernel.Mesh](tr, MeshTypeName)
}

// New returns the geometry node registry. Every node builds solids with k.
func New(tr *types.Registry, k kernel.Kernel) *graph.Registry {
	solidType, _ := RegisterTypes(tr)
	r := graph.NewRegistry(Name)

	r.MustRegister(&graph.NodeTypeInfo{
		IDName: "geom_box",
		UIName: "Box",
		Color:  colorPrimitive,
		Declare: func(b *graph.DeclarationBuilder) {
			graph.AddInput[float64](b, "Width").Default(10.0).Min(0)
			graph.AddInput[float64](b, "Depth").Default(10.0).Min(0)
			graph.AddInput[float64](b, "Height").Default(10.0).Min(0)
			b.OutputOf(solidType, "Geometry")
		},
		Execute: func(p *graph.ExeParams) error {
			vs, err := floats(p, "Width", "Depth", "Height")
			if err != nil {
				return err
			}
			return emit(p, vs, func() (kernel.Solid, error) { return k.Box(vs[0], vs[1], vs[2]) })
		},
	})

	r.MustRegister(&graph.NodeTypeInfo{
		IDName: "geom_cylinder",
		UIName: "Cylinder",
		Color:  colorPrimitive,
		Declare: func(b *graph.DeclarationBuilder) {
			graph.AddInput[float64](b, "Height").Default(10.0).Min(0)
			graph.AddInput[float64](b, "Radius").Default(5.0).Min(0)
			b.OutputOf(solidType, "Geometry")
		},
		Execute: func(p *graph.ExeParams) error {
			vs, err := floats(p, "Height", "Radius")
			if err != nil {
				return err
			}
			return emit(p, vs, func() (kernel.Solid, error) { return k.Cylinder(vs[0], vs[1]) })
		},
	})

	r.MustRegister(&graph.NodeTypeInfo{
		IDName: "geom_sphere",
		UIName: "Sphere",
		Color:  colorPrimitive,
		Declare: func(b *graph.DeclarationBuilder) {
			graph.AddInput[float64](b, "Radius").Default(5.0).Min(0)
			b.OutputOf(solidType, "Geometry")
		},
		Execute: func(p *graph.ExeParams) error {
			vs, err := floats(p, "Radius")
			if err != nil {
				return err
			}
			return emit(p, vs, func() (kernel.Solid, error) { return k.Sphere(vs[0]) })
		},
	})

	r.MustRegister(transformNode("geom_translate", "Translate", solidType, k.Translate))
	r.MustRegister(transformNode("geom_rotate", "Rotate", solidType, k.Rotate))

	r.MustRegister(booleanGroup("geom_union", "Union", solidType, k.Union))
	r.MustRegister(booleanGroup("geom_intersection", "Intersection", solidType, k.Intersection))

	r.MustRegister(&graph.NodeTypeInfo{
		IDName: "geom_difference",
		UIName: "Difference",
		Color:  colorOperation,
		Declare: func(b *graph.DeclarationBuilder) {
			b.InputOf(solidType, "Base")
			b.InputOf(solidType, "Tool")
			b.OutputOf(solidType, "Geometry")
		},
		Execute: func(p *graph.ExeParams) error {
			base, err := solid(p, "Base")
			if err != nil {
				return err
			}
			tool, err := solid(p, "Tool")
			if err != nil {
				return err
			}
			return emit(p, []any{base, tool}, func() (kernel.Solid, error) { return k.Difference(base, tool) })
		},
	})

	r.MustRegister(meshNode(solidType, k))

	r.MustRegister(&graph.NodeTypeInfo{
		IDName: OutputTypeID,
		UIName: "Output",
		Color:  colorOutput,
		Flags:  graph.AlwaysRequired,
		Declare: func(b *graph.DeclarationBuilder) {
			b.InputOf(solidType, "Geometry")
			graph.AddInput[string](b, "Name").Default("part")
			graph.AddInput[int](b, "Cells").Default(0).Min(0)
		},
		Execute: func(p *graph.ExeParams) error {
			_, err := solid(p, "Geometry")
			return err
		},
	})

	return r
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

func floats(p *graph.ExeParams, identifiers ...string) ([]float64, error) {
	out := make([]float64, len(identifiers))
	for i, id := range identifiers {
		v, err := graph.GetInput[float64](p, id)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func solid(p *graph.ExeParams, identifier string) (kernel.Solid, error) {
	s, err := graph.GetInput[kernel.Solid](p, identifier)
	if err != nil {
		return nil, err
	}
	if s == nil {
		return nil, fmt.Errorf("%w on input %q", ErrNoGeometry, identifier)
	}
	return s, nil
}

// memo is the per-node storage of the geometry nodes. A node whose inputs
// are unchanged since the last pass re-emits the same solid handle, which
// lets geom_mesh reuse its cached mesh.
type memo struct {
	key   uint64
	solid kernel.Solid
}

// inputKey hashes input values. Solids hash by handle identity.
func inputKey(vals any) uint64 {
	var sb strings.Builder
	var write func(v any)
	write = func(v any) {
		switch x := v.(type) {
		case []float64:
			for _, f := range x {
				fmt.Fprintf(&sb, "%v|", f)
			}
		case []any:
			for _, e := range x {
				write(e)
			}
		case []kernel.Solid:
			for _, e := range x {
				write(e)
			}
		case kernel.Solid:
			fmt.Fprintf(&sb, "%p|", x)
		default:
			fmt.Fprintf(&sb, "%v|", x)
		}
	}
	write(vals)
	return xxhash.Sum64String(sb.String())
}

// emit builds the node's Geometry output, reusing the previous solid when
// the inputs did not change.
func emit(p *graph.ExeParams, inputs any, build func() (kernel.Solid, error)) error {
	m := graph.Storage[memo](p)
	key := inputKey(inputs)
	if m.solid == nil || m.key != key {
		s, err := build()
		if err != nil {
			return err
		}
		m.key, m.solid = key, s
	}
	return p.SetOutput("Geometry", m.solid)
}

type transformFunc func(s kernel.Solid, x, y, z float64) (kernel.Solid, error)

func transformNode(id, ui string, solidType types.SocketType, fn transformFunc) *graph.NodeTypeInfo {
	return &graph.NodeTypeInfo{
		IDName: id,
		UIName: ui,
		Color:  colorOperation,
		Declare: func(b *graph.DeclarationBuilder) {
			b.InputOf(solidType, "Geometry")
			graph.AddInput[float64](b, "X").Default(0.0)
			graph.AddInput[float64](b, "Y").Default(0.0)
			graph.AddInput[float64](b, "Z").Default(0.0)
			b.OutputOf(solidType, "Geometry")
		},
		Execute: func(p *graph.ExeParams) error {
			s, err := solid(p, "Geometry")
			if err != nil {
				return err
			}
			vs, err := floats(p, "X", "Y", "Z")
			if err != nil {
				return err
			}
			return emit(p, []any{s, vs}, func() (kernel.Solid, error) { return fn(s, vs[0], vs[1], vs[2]) })
		},
	}
}

func booleanGroup(id, ui string, solidType types.SocketType, op func(a, b kernel.Solid) (kernel.Solid, error)) *graph.NodeTypeInfo {
	return &graph.NodeTypeInfo{
		IDName: id,
		UIName: ui,
		Color:  colorOperation,
		Declare: func(b *graph.DeclarationBuilder) {
			b.InputGroup("Geometries").Type(solidType)
			b.OutputOf(solidType, "Geometry")
		},
		Execute: func(p *graph.ExeParams) error {
			solids, err := graph.GetInputGroup[kernel.Solid](p, "Geometries")
			if err != nil {
				return err
			}
			return emit(p, solids, func() (kernel.Solid, error) {
				s, err := kernel.Fold(solids, op)
				if errors.Is(err, kernel.ErrNoSolids) {
					return nil, fmt.Errorf("%w: %s needs at least one linked geometry", ErrNoGeometry, ui)
				}
				return s, err
			})
		},
	}
}

// meshCache is the storage of geom_mesh nodes.
type meshCache struct {
	solid kernel.Solid
	cells int
	mesh  *kernel.Mesh
}

func meshNode(solidType types.SocketType, k kernel.Kernel) *graph.NodeTypeInfo {
	return &graph.NodeTypeInfo{
		IDName: "geom_mesh",
		UIName: "Mesh",
		Color:  colorOutput,
		Declare: func(b *graph.DeclarationBuilder) {
			b.InputOf(solidType, "Geometry")
			graph.AddInput[int](b, "Cells").Default(0).Min(0)
			graph.AddOutput[*kernel.Mesh](b, "Mesh")
			graph.AddOutput[int](b, "Triangles")
		},
		Execute: func(p *graph.ExeParams) error {
			s, err := solid(p, "Geometry")
			if err != nil {
				return err
			}
			cells, err := graph.GetInput[int](p, "Cells")
			if err != nil {
				return err
			}
			c := graph.Storage[meshCache](p)
			if c.mesh == nil || c.solid != s || c.cells != cells {
				m, err := k.ToMesh(s, cells)
				if err != nil {
					return err
				}
				c.solid, c.cells, c.mesh = s, cells, m
				p.Logger().Debug("tessellated geometry")
			}
			if err := p.SetOutput("Mesh", c.mesh); err != nil {
				return err
			}
			return p.SetOutput("Triangles", c.mesh.TriangleCount())
		},
	}
}
