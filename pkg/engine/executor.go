package engine

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/chazu/nodetree/pkg/graph"
	"github.com/chazu/nodetree/pkg/types"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/samber/lo"
	"go.uber.org/zap"
)

// ErrCycle is the failure message given to nodes that sit on a cycle.
var ErrCycle = errors.New("engine: node is part of a cycle")

// Executor runs execution passes over a tree. It is not safe for
// concurrent use; callers serialize passes and tree edits on one goroutine.
type Executor struct {
	logger  *zap.Logger
	payload any
	metrics *metrics

	// bindings holds the input values bound during the most recent pass,
	// keyed by input socket ID.
	bindings map[graph.ID]types.Value
	last     *Report
}

// Option configures an Executor.
type Option func(*Executor)

// WithLogger sets the executor's logger.
func WithLogger(l *zap.Logger) Option {
	return func(e *Executor) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithMetrics registers the executor's collectors with reg.
func WithMetrics(reg prometheus.Registerer) Option {
	return func(e *Executor) {
		if reg != nil {
			e.metrics = newMetrics(reg)
		}
	}
}

// WithGlobalPayload sets the tree-wide context handed to every execute
// callback through graph.GlobalPayload.
func WithGlobalPayload(p any) Option {
	return func(e *Executor) { e.payload = p }
}

// New returns an Executor.
func New(opts ...Option) *Executor {
	e := &Executor{
		logger:   zap.NewNop(),
		bindings: make(map[graph.ID]types.Value),
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// SetGlobalPayload replaces the tree-wide context for subsequent passes.
func (e *Executor) SetGlobalPayload(p any) { e.payload = p }

// LastReport returns the report of the most recent pass, or nil.
func (e *Executor) LastReport() *Report { return e.last }

// ---------------------------------------------------------------------------
// Ordering
// ---------------------------------------------------------------------------

// Required returns the set of nodes that take part in execution. When any
// node carries AlwaysRequired, that is those nodes and everything upstream
// of them; otherwise it is every node.
func Required(t *graph.Tree) map[graph.ID]bool {
	nodes := t.Nodes()
	roots := lo.Filter(nodes, func(n *graph.Node, _ int) bool {
		return n.Info().Flags.Has(graph.AlwaysRequired)
	})
	required := make(map[graph.ID]bool, len(nodes))
	if len(roots) == 0 {
		for _, n := range nodes {
			required[n.ID] = true
		}
		return required
	}
	stack := roots
	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if required[n.ID] {
			continue
		}
		required[n.ID] = true
		stack = append(stack, t.Upstream(n)...)
	}
	return required
}

// ExecutionOrder returns the required nodes in topological order. Among
// nodes whose dependencies are all satisfied, the earliest inserted comes
// first. Required nodes that cannot be ordered because they sit on or
// behind a cycle are returned separately, in insertion order.
func (e *Executor) ExecutionOrder(t *graph.Tree) (order, cyclic []*graph.Node) {
	return executionOrder(t, Required(t))
}

func executionOrder(t *graph.Tree, required map[graph.ID]bool) (order, cyclic []*graph.Node) {
	nodes := t.Nodes()
	index := make(map[graph.ID]int, len(nodes))
	for i, n := range nodes {
		index[n.ID] = i
	}

	indeg := make(map[graph.ID]int)
	for _, n := range nodes {
		if !required[n.ID] {
			continue
		}
		for _, u := range t.Upstream(n) {
			if required[u.ID] && u.ID != n.ID {
				indeg[n.ID]++
			}
		}
	}

	var ready []*graph.Node
	for _, n := range nodes {
		if required[n.ID] && indeg[n.ID] == 0 {
			ready = append(ready, n)
		}
	}

	placed := make(map[graph.ID]bool)
	for len(ready) > 0 {
		n := ready[0]
		ready = ready[1:]
		order = append(order, n)
		placed[n.ID] = true

		for _, d := range t.Downstream(n) {
			if !required[d.ID] || d.ID == n.ID {
				continue
			}
			indeg[d.ID]--
			if indeg[d.ID] == 0 {
				ready = append(ready, d)
				sort.SliceStable(ready, func(i, j int) bool {
					return index[ready[i].ID] < index[ready[j].ID]
				})
			}
		}
	}

	for _, n := range nodes {
		if required[n.ID] && !placed[n.ID] {
			cyclic = append(cyclic, n)
		}
	}
	return order, cyclic
}

// ---------------------------------------------------------------------------
// Execution
// ---------------------------------------------------------------------------

// Execute runs one pass over t. Each required node runs once, after every
// node feeding it. A node with an input that is neither linked nor holds
// a value is marked MissingInput and skipped, and its outputs are reset to
// zero values. A callback that returns an error or panics marks its node
// Failed and leaves its previous outputs in place. Neither outcome stops
// the pass. The tree's dirty flag is cleared when the pass completes.
//
// The only error returned is graph.ErrExecuting when a pass is already
// running on t.
func (e *Executor) Execute(t *graph.Tree) (*Report, error) {
	if err := t.BeginPass(); err != nil {
		return nil, err
	}
	start := time.Now()

	rep := &Report{
		PassID: uuid.NewString(),
		Failed: make(map[graph.ID]string),
	}
	log := e.logger.With(zap.String("pass", rep.PassID))

	required := Required(t)
	for _, n := range t.Nodes() {
		n.SetStatus(graph.ExecStatus{Required: required[n.ID]})
	}

	order, cyclic := executionOrder(t, required)
	rep.Order = nodeIDs(order)
	rep.Cyclic = nodeIDs(cyclic)

	bindings := make(map[graph.ID]types.Value)
	for _, n := range order {
		e.runNode(t, n, bindings, rep, log)
	}
	for _, n := range cyclic {
		n.SetStatus(graph.ExecStatus{Required: true, Failed: ErrCycle.Error()})
		zeroOutputs(t, n, true)
		e.metrics.node(n.TypeID(), resultCyclic, 0)
		log.Warn("skipping node on cycle", zap.Stringer("node", n.ID), zap.String("type", n.TypeID()))
	}

	e.bindings = bindings
	t.EndPass()
	t.SetDirty(false)

	rep.Duration = time.Since(start)
	e.last = rep
	e.metrics.pass(rep.Duration)
	log.Debug("execution pass complete",
		zap.Int("executed", len(rep.Executed)),
		zap.Int("missing", len(rep.Missing)),
		zap.Int("failed", len(rep.Failed)),
		zap.Duration("duration", rep.Duration),
	)
	return rep, nil
}

func (e *Executor) runNode(t *graph.Tree, n *graph.Node, bindings map[graph.ID]types.Value, rep *Report, log *zap.Logger) {
	params := graph.NewExeParams(n, t, e.payload, e.logger)

	var missing []string
	for _, in := range n.Inputs() {
		v, ok := resolve(t, in)
		if !ok {
			missing = append(missing, in.Identifier)
			continue
		}
		bindings[in.ID] = v
		params.BindInput(in.Identifier, v)
	}
	for _, g := range n.Groups() {
		if g.Direction != graph.Input {
			continue
		}
		vs := make([]types.Value, 0, g.Len())
		for _, m := range g.Members() {
			vs = append(vs, bindings[m.ID])
		}
		params.BindInputGroup(g.Identifier, vs)
	}

	if len(missing) > 0 {
		n.SetStatus(graph.ExecStatus{Required: true, MissingInput: true})
		zeroOutputs(t, n, true)
		rep.Missing = append(rep.Missing, n.ID)
		e.metrics.node(n.TypeID(), resultMissing, 0)
		log.Debug("node has missing input",
			zap.Stringer("node", n.ID),
			zap.String("type", n.TypeID()),
			zap.Strings("inputs", missing),
		)
		return
	}

	start := time.Now()
	err := call(n.Info(), params)
	elapsed := time.Since(start)

	if err != nil {
		n.SetStatus(graph.ExecStatus{Required: true, Failed: err.Error()})
		zeroOutputs(t, n, false)
		rep.Failed[n.ID] = err.Error()
		e.metrics.node(n.TypeID(), resultFailed, elapsed)
		log.Warn("node execution failed",
			zap.Stringer("node", n.ID),
			zap.String("type", n.TypeID()),
			zap.Error(err),
		)
		return
	}

	for id, v := range params.Outputs() {
		if s, ok := t.Socket(id); ok {
			s.Value = v
		}
	}
	zeroOutputs(t, n, false)
	rep.Executed = append(rep.Executed, n.ID)
	e.metrics.node(n.TypeID(), resultOK, elapsed)
}

// resolve returns the value bound to input socket in: the current value of
// the linked upstream output, or the socket's own literal when unlinked.
func resolve(t *graph.Tree, in *graph.Socket) (types.Value, bool) {
	if out, ok := t.LinkedOutput(in); ok {
		if out.Value.IsValid() {
			return out.Value, true
		}
		z := t.Types().Zero(in.Type)
		return z, z.IsValid()
	}
	return in.Value, in.Value.IsValid()
}

// call invokes the execute callback, converting a panic into an error.
func call(info *graph.NodeTypeInfo, p *graph.ExeParams) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	if info.Execute == nil {
		return nil
	}
	return info.Execute(p)
}

// zeroOutputs gives output sockets their type's zero value. When all is
// false only outputs without a value are reset.
func zeroOutputs(t *graph.Tree, n *graph.Node, all bool) {
	for _, s := range n.Outputs() {
		if all || !s.Value.IsValid() {
			s.Value = t.Types().Zero(s.Type)
		}
	}
}

func nodeIDs(nodes []*graph.Node) []graph.ID {
	return lo.Map(nodes, func(n *graph.Node, _ int) graph.ID { return n.ID })
}

// ---------------------------------------------------------------------------
// External storage sync
// ---------------------------------------------------------------------------

// SyncNodeToExternalStorage returns the value a node saw on the named
// socket during the most recent pass without running the node again. For
// inputs this is the executor's own binding; for outputs it is the value
// the node last produced. It is how consumers outside the graph pull
// results from endpoint nodes that have no downstream links.
func (e *Executor) SyncNodeToExternalStorage(n *graph.Node, identifier string) (types.Value, bool) {
	if s := n.Input(identifier); s != nil {
		v, ok := e.bindings[s.ID]
		return v, ok
	}
	if s := n.Output(identifier); s != nil && s.Value.IsValid() {
		return s.Value, true
	}
	return types.Value{}, false
}

// Sync is SyncNodeToExternalStorage with the payload extracted as T.
func Sync[T any](e *Executor, n *graph.Node, identifier string) (T, bool) {
	var zero T
	v, ok := e.SyncNodeToExternalStorage(n, identifier)
	if !ok {
		return zero, false
	}
	return types.Get[T](v)
}

// SyncNodeFromExternalStorage injects a value produced outside the graph
// into an output socket of n. Downstream nodes read it on the next pass
// unless n's callback overwrites it.
func (e *Executor) SyncNodeFromExternalStorage(n *graph.Node, identifier string, v any) error {
	t := n.Tree()
	if t.Executing() {
		return fmt.Errorf("%w: cannot sync into a running pass", graph.ErrExecuting)
	}
	s := n.Output(identifier)
	if s == nil {
		return fmt.Errorf("%w: output %q on node %s", graph.ErrSocketNotFound, identifier, n.ID)
	}
	val, err := t.Types().Wrap(s.Type, v)
	if err != nil {
		return fmt.Errorf("engine: sync into %s.%s: %w", n.ID, identifier, err)
	}
	s.Value = val
	t.SetDirty(true)
	return nil
}
