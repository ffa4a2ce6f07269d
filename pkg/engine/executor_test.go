package engine

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/chazu/nodetree/pkg/graph"
	"github.com/chazu/nodetree/pkg/types"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

// flakyFails controls the fixture node "flaky".
var flakyFails bool

// testDescriptor registers the fixture node types:
//
//	constant  In float (default 3) -> Value float
//	sum       A, B float (default 0) -> Sum float
//	need      In float (no default) -> Out float
//	boom      In float (default 1) -> Out float, panics
//	flaky     -> Out float 7, or an error while flakyFails is set
//	source    -> Out float, no callback
//	merge     Items group of float -> Total float
//	counter   -> Count int, counts its own runs in storage
//	payload   -> Out float, copies the global payload
//	sink      In float, AlwaysRequired
func testDescriptor(t *testing.T) *graph.Descriptor {
	t.Helper()
	tr := types.NewRegistry()
	reg := graph.NewRegistry("test")
	reg.MustRegister(&graph.NodeTypeInfo{
		IDName: "constant",
		Declare: func(b *graph.DeclarationBuilder) {
			graph.AddInput[float64](b, "In").Default(3.0)
			graph.AddOutput[float64](b, "Value")
		},
		Execute: func(p *graph.ExeParams) error {
			v, err := graph.GetInput[float64](p, "In")
			if err != nil {
				return err
			}
			return p.SetOutput("Value", v)
		},
	})
	reg.MustRegister(&graph.NodeTypeInfo{
		IDName: "sum",
		Declare: func(b *graph.DeclarationBuilder) {
			graph.AddInput[float64](b, "A").Default(0.0)
			graph.AddInput[float64](b, "B").Default(0.0)
			graph.AddOutput[float64](b, "Sum")
		},
		Execute: func(p *graph.ExeParams) error {
			a, err := graph.GetInput[float64](p, "A")
			if err != nil {
				return err
			}
			b, err := graph.GetInput[float64](p, "B")
			if err != nil {
				return err
			}
			return p.SetOutput("Sum", a+b)
		},
	})
	reg.MustRegister(&graph.NodeTypeInfo{
		IDName: "need",
		Declare: func(b *graph.DeclarationBuilder) {
			graph.AddInput[float64](b, "In")
			graph.AddOutput[float64](b, "Out")
		},
		Execute: func(p *graph.ExeParams) error {
			return p.SetOutput("Out", 42.0)
		},
	})
	reg.MustRegister(&graph.NodeTypeInfo{
		IDName: "boom",
		Declare: func(b *graph.DeclarationBuilder) {
			graph.AddInput[float64](b, "In").Default(1.0)
			graph.AddOutput[float64](b, "Out")
		},
		Execute: func(p *graph.ExeParams) error {
			panic("kaboom")
		},
	})
	reg.MustRegister(&graph.NodeTypeInfo{
		IDName: "flaky",
		Declare: func(b *graph.DeclarationBuilder) {
			graph.AddOutput[float64](b, "Out")
		},
		Execute: func(p *graph.ExeParams) error {
			if flakyFails {
				return errors.New("flaky failed")
			}
			return p.SetOutput("Out", 7.0)
		},
	})
	reg.MustRegister(&graph.NodeTypeInfo{
		IDName: "source",
		Declare: func(b *graph.DeclarationBuilder) {
			graph.AddOutput[float64](b, "Out")
		},
	})
	reg.MustRegister(&graph.NodeTypeInfo{
		IDName: "merge",
		Declare: func(b *graph.DeclarationBuilder) {
			b.InputGroup("Items").Type(types.Of[float64](b.Types()))
			graph.AddOutput[float64](b, "Total")
		},
		Execute: func(p *graph.ExeParams) error {
			items, err := graph.GetInputGroup[float64](p, "Items")
			if err != nil {
				return err
			}
			total := 0.0
			for _, v := range items {
				total += v
			}
			return p.SetOutput("Total", total)
		},
	})
	reg.MustRegister(&graph.NodeTypeInfo{
		IDName: "counter",
		Declare: func(b *graph.DeclarationBuilder) {
			graph.AddOutput[int](b, "Count")
		},
		Execute: func(p *graph.ExeParams) error {
			runs := graph.Storage[int](p)
			*runs++
			return p.SetOutput("Count", *runs)
		},
	})
	reg.MustRegister(&graph.NodeTypeInfo{
		IDName: "payload",
		Declare: func(b *graph.DeclarationBuilder) {
			graph.AddOutput[float64](b, "Out")
		},
		Execute: func(p *graph.ExeParams) error {
			v, ok := graph.GlobalPayload[float64](p)
			if !ok {
				return errors.New("no payload")
			}
			return p.SetOutput("Out", v)
		},
	})
	reg.MustRegister(&graph.NodeTypeInfo{
		IDName: "sink",
		Flags:  graph.AlwaysRequired,
		Declare: func(b *graph.DeclarationBuilder) {
			graph.AddInput[float64](b, "In").Default(0.0)
		},
	})

	d, err := graph.NewDescriptor(tr, reg)
	require.NoError(t, err)
	return d
}

func newTree(t *testing.T) *graph.Tree {
	t.Helper()
	return graph.NewTree(testDescriptor(t))
}

func add(t *testing.T, tr *graph.Tree, typeID string) *graph.Node {
	t.Helper()
	n, err := tr.AddNode(typeID)
	require.NoError(t, err)
	return n
}

func link(t *testing.T, tr *graph.Tree, from *graph.Node, out string, to *graph.Node, in string) {
	t.Helper()
	_, err := tr.AddLink(from.Output(out).ID, to.Input(in).ID)
	require.NoError(t, err)
}

func floatOut(t *testing.T, n *graph.Node, identifier string) float64 {
	t.Helper()
	s := n.Output(identifier)
	require.NotNil(t, s)
	f, ok := types.Get[float64](s.Value)
	require.True(t, ok, "output %s holds %v", identifier, s.Value)
	return f
}

func TestExecuteInputIntoSum(t *testing.T) {
	tr := newTree(t)
	in := add(t, tr, "constant")
	sum := add(t, tr, "sum")
	link(t, tr, in, "Value", sum, "A")

	rep, err := New().Execute(tr)
	require.NoError(t, err)
	assert.True(t, rep.OK())
	assert.Equal(t, 3.0, floatOut(t, sum, "Sum"))
	assert.NotEmpty(t, rep.PassID)
	assert.False(t, tr.Dirty())
}

func TestExecutionOrderIsTopological(t *testing.T) {
	tr := newTree(t)
	sum := add(t, tr, "sum")
	mid := add(t, tr, "sum")
	a := add(t, tr, "constant")
	b := add(t, tr, "constant")
	link(t, tr, mid, "Sum", sum, "A")
	link(t, tr, a, "Value", mid, "A")
	link(t, tr, b, "Value", mid, "B")

	order, cyclic := New().ExecutionOrder(tr)
	require.Empty(t, cyclic)
	// a and b are both ready first and keep insertion order.
	assert.Equal(t, []graph.ID{a.ID, b.ID, mid.ID, sum.ID}, nodeIDs(order))

	pos := make(map[graph.ID]int)
	for i, n := range order {
		pos[n.ID] = i
	}
	for _, l := range tr.Links() {
		from, _ := tr.Socket(l.Start)
		to, _ := tr.Socket(l.End)
		assert.Less(t, pos[from.Node], pos[to.Node], "link %s", l.ID)
	}

	_, err := New().Execute(tr)
	require.NoError(t, err)
	assert.Equal(t, 6.0, floatOut(t, sum, "Sum"))
}

func TestExecutionOrderTieBreakIsInsertion(t *testing.T) {
	tr := newTree(t)
	var want []graph.ID
	for i := 0; i < 5; i++ {
		want = append(want, add(t, tr, "constant").ID)
	}
	order, _ := New().ExecutionOrder(tr)
	assert.Equal(t, want, nodeIDs(order))
}

func TestExecuteIsIdempotent(t *testing.T) {
	tr := newTree(t)
	a := add(t, tr, "constant")
	m := add(t, tr, "merge")
	s := add(t, tr, "sum")
	g := m.Group("Items", graph.Input)
	for i := 0; i < 3; i++ {
		_, err := g.AddSocket()
		require.NoError(t, err)
	}
	_, err := tr.AddLink(a.Output("Value").ID, g.Members()[0].ID)
	require.NoError(t, err)
	require.NoError(t, tr.SetInputValue(g.Members()[1].ID, 2.0))
	require.NoError(t, tr.SetInputValue(g.Members()[2].ID, 4.0))
	link(t, tr, m, "Total", s, "B")

	e := New()
	snapshot := func() map[graph.ID]types.Value {
		out := make(map[graph.ID]types.Value)
		for _, n := range tr.Nodes() {
			for _, sk := range append(n.Inputs(), n.Outputs()...) {
				out[sk.ID] = sk.Value
			}
		}
		return out
	}

	_, err = e.Execute(tr)
	require.NoError(t, err)
	first := snapshot()
	assert.Equal(t, 9.0, floatOut(t, m, "Total"))

	_, err = e.Execute(tr)
	require.NoError(t, err)
	second := snapshot()
	require.Len(t, second, len(first))
	for id, v := range first {
		assert.True(t, v.Equal(second[id]), "socket %s changed from %v to %v", id, v, second[id])
	}
}

func TestMissingInputIsIsolated(t *testing.T) {
	tr := newTree(t)
	need := add(t, tr, "need")
	sum := add(t, tr, "sum")
	link(t, tr, need, "Out", sum, "A")

	rep, err := New().Execute(tr)
	require.NoError(t, err)

	assert.True(t, need.Status().MissingInput)
	assert.Equal(t, []graph.ID{need.ID}, rep.Missing)
	assert.Contains(t, rep.Executed, sum.ID)
	assert.False(t, sum.Status().MissingInput)

	// need never ran, so its output is the zero float rather than 42.
	assert.Equal(t, 0.0, floatOut(t, need, "Out"))
	assert.Equal(t, 0.0, floatOut(t, sum, "Sum"))
	assert.False(t, rep.OK())
}

func TestMissingInputClearsOnceSupplied(t *testing.T) {
	tr := newTree(t)
	need := add(t, tr, "need")
	e := New()

	_, err := e.Execute(tr)
	require.NoError(t, err)
	require.True(t, need.Status().MissingInput)

	require.NoError(t, tr.SetInputValue(need.Input("In").ID, 1.0))
	_, err = e.Execute(tr)
	require.NoError(t, err)
	assert.False(t, need.Status().MissingInput)
	assert.Equal(t, 42.0, floatOut(t, need, "Out"))
}

func TestPanicIsCaughtAndDownstreamRuns(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	tr := newTree(t)
	boom := add(t, tr, "boom")
	sum := add(t, tr, "sum")
	link(t, tr, boom, "Out", sum, "A")

	rep, err := New(WithLogger(zap.New(core))).Execute(tr)
	require.NoError(t, err)

	assert.Contains(t, boom.Status().Failed, "kaboom")
	assert.Contains(t, rep.Failed[boom.ID], "panic")
	assert.Contains(t, rep.Executed, sum.ID)
	assert.Equal(t, 0.0, floatOut(t, boom, "Out"))
	assert.Equal(t, 0.0, floatOut(t, sum, "Sum"))
	assert.Equal(t, 1, logs.FilterMessage("node execution failed").Len())
	assert.False(t, tr.Executing())
}

func TestFailureKeepsPriorOutputs(t *testing.T) {
	t.Cleanup(func() { flakyFails = false })

	tr := newTree(t)
	flaky := add(t, tr, "flaky")
	sum := add(t, tr, "sum")
	link(t, tr, flaky, "Out", sum, "B")
	e := New()

	flakyFails = false
	_, err := e.Execute(tr)
	require.NoError(t, err)
	require.Equal(t, 7.0, floatOut(t, sum, "Sum"))

	flakyFails = true
	rep, err := e.Execute(tr)
	require.NoError(t, err)
	assert.Equal(t, "flaky failed", flaky.Status().Failed)
	assert.Equal(t, "flaky failed", rep.Failed[flaky.ID])
	assert.Equal(t, 7.0, floatOut(t, flaky, "Out"))
	assert.Equal(t, 7.0, floatOut(t, sum, "Sum"))

	flakyFails = false
	_, err = e.Execute(tr)
	require.NoError(t, err)
	assert.Empty(t, flaky.Status().Failed)
}

func TestAlwaysRequiredLimitsExecution(t *testing.T) {
	tr := newTree(t)
	a := add(t, tr, "constant")
	unused := add(t, tr, "counter")
	sink := add(t, tr, "sink")
	link(t, tr, a, "Value", sink, "In")

	rep, err := New().Execute(tr)
	require.NoError(t, err)
	assert.Equal(t, []graph.ID{a.ID, sink.ID}, rep.Order)
	assert.True(t, a.Status().Required)
	assert.False(t, unused.Status().Required)
	assert.Nil(t, unused.Storage)
}

func TestSyncNodeToExternalStorage(t *testing.T) {
	tr := newTree(t)
	a := add(t, tr, "constant")
	sink := add(t, tr, "sink")
	link(t, tr, a, "Value", sink, "In")
	require.NoError(t, tr.SetInputValue(a.Input("In").ID, 8.5))

	e := New()
	_, ok := e.SyncNodeToExternalStorage(sink, "In")
	assert.False(t, ok, "nothing is bound before the first pass")

	_, err := e.Execute(tr)
	require.NoError(t, err)

	got, ok := Sync[float64](e, sink, "In")
	require.True(t, ok)
	assert.Equal(t, 8.5, got)

	got, ok = Sync[float64](e, a, "Value")
	require.True(t, ok)
	assert.Equal(t, 8.5, got)

	_, ok = e.SyncNodeToExternalStorage(sink, "Nope")
	assert.False(t, ok)
}

func TestSyncNodeFromExternalStorage(t *testing.T) {
	tr := newTree(t)
	src := add(t, tr, "source")
	sum := add(t, tr, "sum")
	link(t, tr, src, "Out", sum, "A")
	e := New()

	_, err := e.Execute(tr)
	require.NoError(t, err)
	assert.Equal(t, 0.0, floatOut(t, sum, "Sum"))

	require.NoError(t, e.SyncNodeFromExternalStorage(src, "Out", 5))
	assert.True(t, tr.Dirty())
	_, err = e.Execute(tr)
	require.NoError(t, err)
	assert.Equal(t, 5.0, floatOut(t, sum, "Sum"))

	assert.ErrorIs(t, e.SyncNodeFromExternalStorage(src, "Missing", 1.0), graph.ErrSocketNotFound)
	assert.Error(t, e.SyncNodeFromExternalStorage(src, "Out", "text"))
}

func TestStoragePersistsBetweenPasses(t *testing.T) {
	tr := newTree(t)
	c := add(t, tr, "counter")
	e := New()
	for i := 0; i < 3; i++ {
		_, err := e.Execute(tr)
		require.NoError(t, err)
	}
	v, ok := types.Get[int](c.Output("Count").Value)
	require.True(t, ok)
	assert.Equal(t, 3, v)
}

func TestGlobalPayload(t *testing.T) {
	tr := newTree(t)
	n := add(t, tr, "payload")

	_, err := New(WithGlobalPayload(2.5)).Execute(tr)
	require.NoError(t, err)
	assert.Equal(t, 2.5, floatOut(t, n, "Out"))

	e := New()
	rep, err := e.Execute(tr)
	require.NoError(t, err)
	assert.Equal(t, "no payload", rep.Failed[n.ID])

	e.SetGlobalPayload(1.0)
	_, err = e.Execute(tr)
	require.NoError(t, err)
	assert.Equal(t, 1.0, floatOut(t, n, "Out"))
}

func TestExecuteRejectsNestedPass(t *testing.T) {
	tr := newTree(t)
	add(t, tr, "constant")
	require.NoError(t, tr.BeginPass())
	_, err := New().Execute(tr)
	assert.ErrorIs(t, err, graph.ErrExecuting)
	tr.EndPass()
}

func TestCyclicNodesAreSkipped(t *testing.T) {
	tr := newTree(t)
	p1 := add(t, tr, "sum")
	p2 := add(t, tr, "sum")
	free := add(t, tr, "constant")
	link(t, tr, p1, "Sum", p2, "A")

	// AddLink refuses cycles, so close the loop in the serialized form.
	data, err := tr.Serialize()
	require.NoError(t, err)
	var doc map[string]any
	require.NoError(t, json.Unmarshal(data, &doc))
	doc["links"].(map[string]any)["900"] = map[string]any{
		"ID":         900,
		"StartPinID": uint64(p2.Output("Sum").ID),
		"EndPinID":   uint64(p1.Input("A").ID),
	}
	data, err = json.Marshal(doc)
	require.NoError(t, err)

	back := graph.NewTree(tr.Descriptor())
	require.NoError(t, back.Deserialize(data))
	require.Equal(t, 2, back.LinkCount())

	rep, err := New().Execute(back)
	require.NoError(t, err)
	assert.ElementsMatch(t, []graph.ID{p1.ID, p2.ID}, rep.Cyclic)
	assert.Equal(t, []graph.ID{free.ID}, rep.Executed)
	n, _ := back.Node(p1.ID)
	assert.Equal(t, ErrCycle.Error(), n.Status().Failed)
}

func TestMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	tr := newTree(t)
	boom := add(t, tr, "boom")
	sum := add(t, tr, "sum")
	need := add(t, tr, "need")
	link(t, tr, boom, "Out", sum, "A")
	_ = need

	e := New(WithMetrics(reg))
	_, err := e.Execute(tr)
	require.NoError(t, err)
	_, err = e.Execute(tr)
	require.NoError(t, err)

	assert.Equal(t, 2.0, testutil.ToFloat64(e.metrics.executions.WithLabelValues("boom", resultFailed)))
	assert.Equal(t, 2.0, testutil.ToFloat64(e.metrics.executions.WithLabelValues("sum", resultOK)))
	assert.Equal(t, 2.0, testutil.ToFloat64(e.metrics.executions.WithLabelValues("need", resultMissing)))
	assert.Equal(t, 2.0, testutil.ToFloat64(e.metrics.passes))

	n, err := testutil.GatherAndCount(reg, "nodetree_executor_node_duration_seconds")
	require.NoError(t, err)
	assert.Equal(t, 2, n, "one series per executed node type")
}

func TestReportString(t *testing.T) {
	rep := &Report{PassID: "p", Executed: []graph.ID{1, 2}, Failed: map[graph.ID]string{3: "x"}}
	assert.Contains(t, rep.String(), "2 executed")
	assert.Contains(t, rep.String(), "1 failed")
	assert.False(t, rep.OK())
}
