package graph

import (
	"fmt"

	"github.com/chazu/nodetree/pkg/types"
	"github.com/samber/lo"
)

// State is the lifecycle state of a node's socket set.
type State int

const (
	Uninitialized State = iota
	Declared
	Refreshing
	Valid
)

func (s State) String() string {
	switch s {
	case Uninitialized:
		return "uninitialized"
	case Declared:
		return "declared"
	case Refreshing:
		return "refreshing"
	case Valid:
		return "valid"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// ExecStatus is the per-node outcome of the most recent execution pass.
type ExecStatus struct {
	Required     bool   // the node participates in execution
	MissingInput bool   // an input was unlinked and had no value
	Failed       string // non-empty when the execute callback failed
}

// Node is one instance of a node type in a tree.
type Node struct {
	ID       ID
	Name     string
	Color    string
	Position [2]float32
	Size     [2]float32

	// Storage is opaque runtime state owned by the node implementation. It
	// is never serialized.
	Storage any
	// SubTree is an optional owned tree for composite nodes.
	SubTree *Tree

	info   *NodeTypeInfo
	tree   *Tree
	state  State
	decl   *Declaration
	status ExecStatus

	fixed   []*Socket // non-group sockets, in creation order
	groups  []*SocketGroup
	inputs  []*Socket
	outputs []*Socket
}

// Info returns the shared type information of the node.
func (n *Node) Info() *NodeTypeInfo { return n.info }

// TypeID returns the node type id.
func (n *Node) TypeID() string { return n.info.IDName }

// State returns the socket lifecycle state.
func (n *Node) State() State { return n.state }

// Tree returns the owning tree.
func (n *Node) Tree() *Tree { return n.tree }

// Status returns the result of the last execution pass.
func (n *Node) Status() ExecStatus { return n.status }

// SetStatus records execution state. It is meant to be called by executors
// only; UI code reads the status but never writes it.
func (n *Node) SetStatus(s ExecStatus) { n.status = s }

// Inputs returns the input sockets in declaration order.
func (n *Node) Inputs() []*Socket { return append([]*Socket(nil), n.inputs...) }

// Outputs returns the output sockets in declaration order.
func (n *Node) Outputs() []*Socket { return append([]*Socket(nil), n.outputs...) }

// Groups returns the node's socket groups.
func (n *Node) Groups() []*SocketGroup { return append([]*SocketGroup(nil), n.groups...) }

// Input returns the input socket with the given identifier, or nil.
func (n *Node) Input(identifier string) *Socket {
	return n.FindSocket(identifier, Input)
}

// Output returns the output socket with the given identifier, or nil.
func (n *Node) Output(identifier string) *Socket {
	return n.FindSocket(identifier, Output)
}

// FindSocket scans the node's sockets of one direction for identifier.
func (n *Node) FindSocket(identifier string, dir Direction) *Socket {
	list := n.inputs
	if dir == Output {
		list = n.outputs
	}
	for _, s := range list {
		if s.Identifier == identifier {
			return s
		}
	}
	return nil
}

// Group returns the socket group with the given identifier and direction.
func (n *Node) Group(identifier string, dir Direction) *SocketGroup {
	for _, g := range n.groups {
		if g.Identifier == identifier && g.Direction == dir {
			return g
		}
	}
	return nil
}

// AddSocket creates an undeclared socket on the node. The socket is marked
// runtime dynamic so that refreshes keep it. The type name must be
// registered and the identifier unique for the direction.
func (n *Node) AddSocket(typeName, identifier, name string, dir Direction) (*Socket, error) {
	if err := n.tree.mutable(); err != nil {
		return nil, err
	}
	if identifier == "" {
		return nil, fmt.Errorf("graph: node %s: empty socket identifier", n.ID)
	}
	if n.FindSocket(identifier, dir) != nil || n.Group(identifier, dir) != nil {
		return nil, fmt.Errorf("graph: node %s: duplicate %s identifier %q", n.ID, dir, identifier)
	}
	t, ok := n.tree.Types().Lookup(typeName)
	if !ok {
		return nil, fmt.Errorf("graph: node %s: unknown socket type %q", n.ID, typeName)
	}
	s := n.newSocket(t, identifier, name, dir)
	s.RuntimeDynamic = true
	n.fixed = append(n.fixed, s)
	n.rebuildOrder()
	n.tree.SetDirty(true)
	return s, nil
}

// newSocket allocates a socket with a tree-unique ID and registers it.
func (n *Node) newSocket(t types.SocketType, identifier, name string, dir Direction) *Socket {
	s := &Socket{
		ID:         n.tree.allocID(),
		Identifier: identifier,
		Name:       name,
		Direction:  dir,
		Type:       t,
		Node:       n.ID,
	}
	n.tree.sockets[s.ID] = s
	return s
}

// dropSocket destroys every link touching s and unregisters it. It does not
// touch the node's socket lists.
func (n *Node) dropSocket(s *Socket) {
	for _, lid := range s.Links() {
		n.tree.removeLink(lid)
	}
	delete(n.tree.sockets, s.ID)
	n.fixed = lo.Without(n.fixed, s)
	n.inputs = lo.Without(n.inputs, s)
	n.outputs = lo.Without(n.outputs, s)
}

func (n *Node) declare() *Declaration {
	b := NewDeclarationBuilder(n.tree.Types())
	if n.info.Declare != nil {
		n.info.Declare(b)
	}
	return b.Build()
}

// Refresh re-evaluates the node's declaration and reconciles its sockets
// against it. Sockets whose identifier, direction and type are still
// declared keep their ID, links and value. Sockets the declaration no
// longer names are removed together with their links. Refresh fails with
// ErrExecuting while the tree is executing and marks the tree dirty.
func (n *Node) Refresh() error {
	if n.tree != nil {
		if err := n.tree.mutable(); err != nil {
			return err
		}
	}
	n.refresh()
	if n.tree != nil {
		n.tree.SetDirty(true)
	}
	return nil
}

func (n *Node) refresh() {
	if n.state == Uninitialized {
		n.decl = n.declare()
		n.state = Declared
	} else {
		n.state = Refreshing
		n.decl = n.declare()
	}

	n.reconcileFixed()
	n.reconcileGroups()
	n.rebuildOrder()
	n.state = Valid
}

func (n *Node) reconcileFixed() {
	declared := n.decl.Sockets()

	existing := lo.Filter(n.fixed, func(s *Socket, _ int) bool {
		return !s.RuntimeDynamic || n.declares(s)
	})
	diff := Reconcile(
		lo.Map(existing, func(s *Socket, _ int) SocketKey {
			return SocketKey{Identifier: s.Identifier, Direction: s.Direction, Type: s.Type}
		}),
		lo.Map(declared, func(d *SocketDecl, _ int) SocketKey { return d.key() }),
	)

	for _, m := range diff.Kept {
		s, d := existing[m.Existing], declared[m.Declared]
		s.Name = d.Name
		s.Min, s.Max = d.MinValue, d.MaxValue
		s.RuntimeDynamic = d.Dynamic
		if !s.Value.IsValid() && d.DefaultValue.IsValid() && s.Type == d.Type {
			s.Value = d.DefaultValue
		}
	}
	for _, ei := range diff.Removed {
		n.dropSocket(existing[ei])
	}
	for _, di := range diff.Created {
		d := declared[di]
		s := n.newSocket(d.Type, d.Identifier, d.Name, d.Direction)
		s.Value = d.DefaultValue
		s.Min, s.Max = d.MinValue, d.MaxValue
		s.RuntimeDynamic = d.Dynamic
		n.fixed = append(n.fixed, s)
	}
}

// declares reports whether the current declaration names s.
func (n *Node) declares(s *Socket) bool {
	for _, d := range n.decl.Sockets() {
		if d.Identifier == s.Identifier && d.Direction == s.Direction {
			return true
		}
	}
	return false
}

func (n *Node) reconcileGroups() {
	var kept []*SocketGroup
	for _, g := range n.groups {
		d := n.decl.group(g.Identifier, g.Direction)
		if d == nil || d.ElemType != g.Type {
			for _, s := range g.members {
				n.dropSocket(s)
			}
			continue
		}
		g.Name = d.Name
		g.RuntimeDynamic = d.Dynamic
		kept = append(kept, g)
	}
	n.groups = kept

	for _, d := range n.decl.Groups() {
		if n.Group(d.Identifier, d.Direction) != nil {
			continue
		}
		g := &SocketGroup{
			Identifier:     d.Identifier,
			Name:           d.Name,
			Direction:      d.Direction,
			Type:           d.ElemType,
			RuntimeDynamic: d.Dynamic,
			node:           n,
		}
		n.groups = append(n.groups, g)
	}
}

// adopt attaches a restored socket to the group it was serialized in. The
// member keeps its ID and identifier.
func (n *Node) adopt(s *Socket) bool {
	g := n.Group(s.Group, s.Direction)
	if g == nil || (s.Type != g.Type && s.Type.IsValid()) {
		return false
	}
	g.members = append(g.members, s)
	return true
}

// rebuildOrder lays the socket lists out in declaration order. Group
// members sit at their group's position so they precede any fixed socket
// declared after the group. Undeclared runtime sockets go last.
func (n *Node) rebuildOrder() {
	n.inputs = n.inputs[:0]
	n.outputs = n.outputs[:0]
	placed := make(map[ID]bool)
	push := func(s *Socket) {
		placed[s.ID] = true
		if s.Direction == Input {
			n.inputs = append(n.inputs, s)
		} else {
			n.outputs = append(n.outputs, s)
		}
	}

	if n.decl != nil {
		for _, it := range n.decl.items {
			if it.socket != nil {
				for _, s := range n.fixed {
					if s.Identifier == it.socket.Identifier && s.Direction == it.socket.Direction {
						push(s)
						break
					}
				}
				continue
			}
			if g := n.Group(it.group.Identifier, it.group.Direction); g != nil {
				for _, s := range g.members {
					push(s)
				}
			}
		}
	}
	for _, s := range n.fixed {
		if !placed[s.ID] {
			push(s)
		}
	}
}

// sockets returns every socket of the node, inputs first.
func (n *Node) sockets() []*Socket {
	return append(n.Inputs(), n.outputs...)
}
