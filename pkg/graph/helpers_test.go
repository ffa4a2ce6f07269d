package graph

import (
	"github.com/chazu/nodetree/pkg/types"
	"github.com/stretchr/testify/require"
)

// testingT is satisfied by both *testing.T and *rapid.T.
type testingT interface {
	require.TestingT
	Helper()
}

// testDescriptor registers the fixture node types:
//
//	value    In float (default 3) -> Value float
//	sum      A, B float (default 0, B bounded to [-10, 10]) -> Sum float
//	text     In string -> Text string
//	count    -> Count int
//	merge    Items group of float, Bias float -> Out float
//	anything In any -> Out any
//	int_to_float conversion
func testDescriptor(t testingT) *Descriptor {
	t.Helper()
	tr := types.NewRegistry()
	reg := NewRegistry("test")
	reg.MustRegister(&NodeTypeInfo{
		IDName: "value",
		Declare: func(b *DeclarationBuilder) {
			AddInput[float64](b, "In").Default(3.0)
			AddOutput[float64](b, "Value")
		},
	})
	reg.MustRegister(&NodeTypeInfo{
		IDName: "sum",
		Declare: func(b *DeclarationBuilder) {
			AddInput[float64](b, "A").Default(0.0)
			AddInput[float64](b, "B").Default(0.0).Min(-10).Max(10)
			AddOutput[float64](b, "Sum")
		},
	})
	reg.MustRegister(&NodeTypeInfo{
		IDName: "text",
		Declare: func(b *DeclarationBuilder) {
			AddInput[string](b, "In")
			AddOutput[string](b, "Text")
		},
	})
	reg.MustRegister(&NodeTypeInfo{
		IDName: "count",
		Declare: func(b *DeclarationBuilder) {
			AddOutput[int](b, "Count")
		},
	})
	reg.MustRegister(&NodeTypeInfo{
		IDName: "merge",
		Declare: func(b *DeclarationBuilder) {
			b.InputGroup("Items").Type(types.Of[float64](b.Types()))
			AddInput[float64](b, "Bias").Default(0.0)
			AddOutput[float64](b, "Out")
		},
	})
	reg.MustRegister(&NodeTypeInfo{
		IDName: "anything",
		Declare: func(b *DeclarationBuilder) {
			b.InputOf(types.Any, "In")
			b.OutputOf(types.Any, "Out")
		},
	})
	require.NoError(t, reg.RegisterConversion(&NodeTypeInfo{
		IDName: "int_to_float",
		Declare: func(b *DeclarationBuilder) {
			AddInput[int](b, "In")
			AddOutput[float64](b, "Out")
		},
	}, types.Of[int](tr), types.Of[float64](tr)))

	d, err := NewDescriptor(tr, reg)
	require.NoError(t, err)
	return d
}

func newTestTree(t testingT) *Tree {
	t.Helper()
	return NewTree(testDescriptor(t))
}

func mustAdd(t testingT, tr *Tree, typeID string) *Node {
	t.Helper()
	n, err := tr.AddNode(typeID)
	require.NoError(t, err)
	return n
}

func mustLink(t testingT, tr *Tree, from, to *Socket) *Link {
	t.Helper()
	l, err := tr.AddLink(from.ID, to.ID)
	require.NoError(t, err)
	return l
}
