package function_test

import (
	"testing"

	"github.com/chazu/nodetree/pkg/engine"
	"github.com/chazu/nodetree/pkg/graph"
	"github.com/chazu/nodetree/pkg/nodes/conversion"
	"github.com/chazu/nodetree/pkg/nodes/function"
	"github.com/chazu/nodetree/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	t    *testing.T
	tree *graph.Tree
	exec *engine.Executor
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	tr := types.NewRegistry()
	conv, err := conversion.New(tr)
	require.NoError(t, err)
	desc, err := graph.NewDescriptor(tr, function.New(nil), conv)
	require.NoError(t, err)
	return &fixture{t: t, tree: graph.NewTree(desc), exec: engine.New()}
}

func (f *fixture) add(typeID string, inputs map[string]any) *graph.Node {
	f.t.Helper()
	n, err := f.tree.AddNode(typeID)
	require.NoError(f.t, err)
	for id, v := range inputs {
		s := n.Input(id)
		require.NotNil(f.t, s, "input %s on %s", id, typeID)
		require.NoError(f.t, f.tree.SetInputValue(s.ID, v))
	}
	return n
}

func (f *fixture) link(from *graph.Node, out string, to *graph.Node, in string) {
	f.t.Helper()
	_, err := f.tree.AddLink(from.Output(out).ID, to.Input(in).ID)
	require.NoError(f.t, err)
}

func (f *fixture) run() *engine.Report {
	f.t.Helper()
	rep, err := f.exec.Execute(f.tree)
	require.NoError(f.t, err)
	return rep
}

func output[T any](t *testing.T, n *graph.Node, identifier string) T {
	t.Helper()
	v, ok := types.Get[T](n.Output(identifier).Value)
	require.True(t, ok, "output %s = %v", identifier, n.Output(identifier).Value)
	return v
}

func TestArithmetic(t *testing.T) {
	tests := []struct {
		typeID string
		a, b   float64
		want   float64
	}{
		{"math_add", 2, 3, 5},
		{"math_subtract", 2, 3, -1},
		{"math_multiply", 2, 3, 6},
		{"math_divide", 3, 2, 1.5},
	}
	for _, tt := range tests {
		t.Run(tt.typeID, func(t *testing.T) {
			f := newFixture(t)
			n := f.add(tt.typeID, map[string]any{"A": tt.a, "B": tt.b})
			rep := f.run()
			require.True(t, rep.OK(), "failed: %v", rep.Failed)
			assert.Equal(t, tt.want, output[float64](t, n, "Result"))
		})
	}
}

func TestValueNodesFeedMath(t *testing.T) {
	f := newFixture(t)
	v := f.add("value_float", map[string]any{"Value": 2.0})
	add := f.add("math_add", map[string]any{"B": 3.0})
	f.link(v, "Value", add, "A")
	f.run()
	assert.Equal(t, 5.0, output[float64](t, add, "Result"))
}

func TestValueNodeTypes(t *testing.T) {
	f := newFixture(t)
	i := f.add("value_int", map[string]any{"Value": 4})
	b := f.add("value_bool", map[string]any{"Value": true})
	s := f.add("value_string", map[string]any{"Value": "hi"})
	f.run()
	assert.Equal(t, 4, output[int](t, i, "Value"))
	assert.True(t, output[bool](t, b, "Value"))
	assert.Equal(t, "hi", output[string](t, s, "Value"))
}

func TestDivideByZeroFailsOnlyThatNode(t *testing.T) {
	f := newFixture(t)
	div := f.add("math_divide", map[string]any{"A": 1.0, "B": 0.0})
	add := f.add("math_add", map[string]any{"B": 2.0})
	f.link(div, "Result", add, "A")

	rep := f.run()
	assert.Contains(t, div.Status().Failed, "division by zero")
	assert.Contains(t, rep.Executed, add.ID)
	assert.Equal(t, 2.0, output[float64](t, add, "Result"))
}

func TestSumGroup(t *testing.T) {
	f := newFixture(t)
	sum := f.add("math_sum", nil)
	g := sum.Group("Values", graph.Input)
	require.NotNil(t, g)
	for _, v := range []float64{1, 2, 3} {
		s, err := g.AddSocket()
		require.NoError(t, err)
		require.NoError(t, f.tree.SetInputValue(s.ID, v))
	}
	f.run()
	assert.Equal(t, 6.0, output[float64](t, sum, "Result"))

	require.NoError(t, g.RemoveMember(g.Members()[0]))
	f.run()
	assert.Equal(t, 5.0, output[float64](t, sum, "Result"))
}

func TestEmptySumGroupIsZero(t *testing.T) {
	f := newFixture(t)
	sum := f.add("math_sum", nil)
	f.run()
	assert.Equal(t, 0.0, output[float64](t, sum, "Result"))
}

func TestClamp(t *testing.T) {
	f := newFixture(t)
	hi := f.add("math_clamp", map[string]any{"Value": 5.0})
	mid := f.add("math_clamp", map[string]any{"Value": 5.0, "Min": 0.0, "Max": 10.0})
	bad := f.add("math_clamp", map[string]any{"Min": 2.0, "Max": 1.0})
	f.run()
	assert.Equal(t, 1.0, output[float64](t, hi, "Result"))
	assert.Equal(t, 5.0, output[float64](t, mid, "Result"))
	assert.Contains(t, bad.Status().Failed, "exceeds max")
}

func TestExpression(t *testing.T) {
	f := newFixture(t)
	a := f.add("value_float", map[string]any{"Value": 2.0})
	expr := f.add("expression", map[string]any{"Expression": "(* a (+ b 1))", "b": 3.0})
	f.link(a, "Value", expr, "a")
	f.run()
	assert.Equal(t, 8.0, output[float64](t, expr, "Result"))
}

func TestExpressionDefaultSource(t *testing.T) {
	f := newFixture(t)
	expr := f.add("expression", map[string]any{"a": 1.5, "b": 2.0})
	f.run()
	assert.Equal(t, 3.5, output[float64](t, expr, "Result"))
}

func TestExpressionResults(t *testing.T) {
	f := newFixture(t)
	integer := f.add("expression", map[string]any{"Expression": "(+ 1 2)"})
	syntax := f.add("expression", map[string]any{"Expression": "(+ 1 2"})
	text := f.add("expression", map[string]any{"Expression": `"nope"`})
	f.run()

	assert.Equal(t, 3.0, output[float64](t, integer, "Result"))
	assert.NotEmpty(t, syntax.Status().Failed)
	assert.Contains(t, text.Status().Failed, "not a number")
	// Failed nodes still expose a zero result downstream.
	assert.Equal(t, 0.0, output[float64](t, syntax, "Result"))
}

func TestConversionSplicedIntoLink(t *testing.T) {
	f := newFixture(t)
	i := f.add("value_int", map[string]any{"Value": 7})
	add := f.add("math_add", map[string]any{"B": 0.5})
	head, err := f.tree.AddLink(i.Output("Value").ID, add.Input("A").ID)
	require.NoError(t, err)
	require.False(t, head.Next.IsZero(), "link should chain through a conversion node")
	assert.Equal(t, 3, f.tree.NodeCount())

	rep := f.run()
	require.True(t, rep.OK(), "failed: %v", rep.Failed)
	assert.Equal(t, 7.5, output[float64](t, add, "Result"))
}

func TestConversions(t *testing.T) {
	f := newFixture(t)
	fl := f.add("value_float", map[string]any{"Value": -2.7})
	asInt := f.add("value_int", nil)
	asString := f.add("value_string", nil)
	f.link(fl, "Value", asInt, "Value")
	f.link(fl, "Value", asString, "Value")

	b := f.add("value_bool", map[string]any{"Value": true})
	asFloat := f.add("value_float", nil)
	f.link(b, "Value", asFloat, "Value")

	n := f.add("value_int", map[string]any{"Value": 12})
	intString := f.add("value_string", nil)
	f.link(n, "Value", intString, "Value")

	rep := f.run()
	require.True(t, rep.OK(), "failed: %v", rep.Failed)
	assert.Equal(t, -2, output[int](t, asInt, "Value"))
	assert.Equal(t, "-2.7", output[string](t, asString, "Value"))
	assert.Equal(t, 1.0, output[float64](t, asFloat, "Value"))
	assert.Equal(t, "12", output[string](t, intString, "Value"))
}

func TestIncompatibleLinkWithoutConversion(t *testing.T) {
	f := newFixture(t)
	s := f.add("value_string", nil)
	add := f.add("math_add", nil)
	_, err := f.tree.AddLink(s.Output("Value").ID, add.Input("A").ID)
	assert.ErrorIs(t, err, graph.ErrIncompatibleTypes)
	assert.Equal(t, 0, f.tree.LinkCount())
}
