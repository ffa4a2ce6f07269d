package graph

import (
	"errors"
	"fmt"

	"github.com/chazu/nodetree/pkg/types"
	"go.uber.org/zap"
)

var ErrNoInput = errors.New("graph: no such input")

// ExeParams is the view of one node an execute callback works through. The
// executor binds input values before the call and collects outputs after it.
type ExeParams struct {
	node    *Node
	tree    *Tree
	payload any
	logger  *zap.Logger

	inputs  map[string]types.Value
	groups  map[string][]types.Value
	outputs map[ID]types.Value
}

// NewExeParams prepares parameters for executing n.
func NewExeParams(n *Node, t *Tree, payload any, logger *zap.Logger) *ExeParams {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ExeParams{
		node:    n,
		tree:    t,
		payload: payload,
		logger:  logger.With(zap.Stringer("node", n.ID), zap.String("type", n.TypeID())),
		inputs:  make(map[string]types.Value),
		groups:  make(map[string][]types.Value),
		outputs: make(map[ID]types.Value),
	}
}

// Node returns the node being executed.
func (p *ExeParams) Node() *Node { return p.node }

// Logger returns a logger scoped to the node.
func (p *ExeParams) Logger() *zap.Logger { return p.logger }

// BindInput sets the value seen by Input for identifier.
func (p *ExeParams) BindInput(identifier string, v types.Value) {
	p.inputs[identifier] = v
}

// BindInputGroup sets the ordered member values of an input group.
func (p *ExeParams) BindInputGroup(identifier string, vs []types.Value) {
	p.groups[identifier] = vs
}

// Outputs returns the values written by the callback keyed by socket ID.
func (p *ExeParams) Outputs() map[ID]types.Value {
	return p.outputs
}

// Input returns the bound value of a fixed input socket or of a single
// group member.
func (p *ExeParams) Input(identifier string) (types.Value, bool) {
	v, ok := p.inputs[identifier]
	return v, ok
}

// InputGroup returns the ordered member values of an input group.
func (p *ExeParams) InputGroup(identifier string) ([]types.Value, bool) {
	vs, ok := p.groups[identifier]
	return vs, ok
}

// GetInput returns the input value as T. Numeric values widen to float64
// when T is float64. A nil handle yields the zero T.
func GetInput[T any](p *ExeParams, identifier string) (T, error) {
	v, ok := p.Input(identifier)
	if !ok {
		var zero T
		return zero, fmt.Errorf("%w: %q", ErrNoInput, identifier)
	}
	return valueAs[T](v, identifier)
}

// GetInputGroup returns the members of an input group as T.
func GetInputGroup[T any](p *ExeParams, identifier string) ([]T, error) {
	vs, ok := p.InputGroup(identifier)
	if !ok {
		return nil, fmt.Errorf("%w: group %q", ErrNoInput, identifier)
	}
	out := make([]T, 0, len(vs))
	for i, v := range vs {
		t, err := valueAs[T](v, fmt.Sprintf("%s[%d]", identifier, i))
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}

func valueAs[T any](v types.Value, what string) (T, error) {
	var zero T
	if t, ok := types.Get[T](v); ok {
		return t, nil
	}
	if _, wantFloat := any(zero).(float64); wantFloat {
		if f, ok := v.Float(); ok {
			return any(f).(T), nil
		}
	}
	if v.Interface() == nil {
		return zero, nil
	}
	return zero, fmt.Errorf("graph: input %q holds %s, not %T", what, v.Type(), zero)
}

// SetOutput writes the value of a fixed output socket.
func (p *ExeParams) SetOutput(identifier string, v any) error {
	s := p.node.Output(identifier)
	if s == nil {
		return fmt.Errorf("%w: output %q", ErrSocketNotFound, identifier)
	}
	val, err := p.tree.Types().Wrap(s.Type, v)
	if err != nil {
		return fmt.Errorf("graph: output %q: %w", identifier, err)
	}
	p.outputs[s.ID] = val
	return nil
}

// SetOutputGroup writes one value per member of an output group, in member
// order.
func (p *ExeParams) SetOutputGroup(identifier string, vs []any) error {
	g := p.node.Group(identifier, Output)
	if g == nil {
		return fmt.Errorf("%w: output group %q", ErrSocketNotFound, identifier)
	}
	if len(vs) != len(g.members) {
		return fmt.Errorf("graph: output group %q has %d members, got %d values", identifier, len(g.members), len(vs))
	}
	for i, s := range g.members {
		val, err := p.tree.Types().Wrap(s.Type, vs[i])
		if err != nil {
			return fmt.Errorf("graph: output group %q[%d]: %w", identifier, i, err)
		}
		p.outputs[s.ID] = val
	}
	return nil
}

// Storage returns the node's persistent state as *T, allocating it on
// first use. State survives between passes until the node is deleted.
func Storage[T any](p *ExeParams) *T {
	if s, ok := p.node.Storage.(*T); ok {
		return s
	}
	s := new(T)
	p.node.Storage = s
	return s
}

// GlobalPayload returns the tree-wide context supplied to the executor.
func GlobalPayload[T any](p *ExeParams) (T, bool) {
	t, ok := p.payload.(T)
	return t, ok
}
