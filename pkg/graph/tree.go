package graph

import (
	"errors"
	"fmt"
	"sort"

	"github.com/chazu/nodetree/pkg/types"
	"github.com/samber/lo"
	"go.uber.org/zap"
)

var (
	ErrUnknownNodeType = errors.New("graph: unknown node type")
	ErrNodeNotFound    = errors.New("graph: node not found")
	ErrSocketNotFound  = errors.New("graph: socket not found")
	ErrLinkNotFound    = errors.New("graph: link not found")
	ErrExecuting       = errors.New("graph: tree is being executed")
)

// Tree owns nodes, their sockets and the links between them.
type Tree struct {
	desc   *Descriptor
	logger *zap.Logger

	nodes   []*Node // insertion order
	byID    map[ID]*Node
	sockets map[ID]*Socket
	links   map[ID]*Link

	nextID    ID
	dirty     bool
	executing bool
}

// TreeOption configures a Tree.
type TreeOption func(*Tree)

// WithLogger sets the logger used for recoverable problems such as
// unknown types during deserialization.
func WithLogger(l *zap.Logger) TreeOption {
	return func(t *Tree) {
		if l != nil {
			t.logger = l
		}
	}
}

// NewTree returns an empty tree that can hold nodes of the types in desc.
func NewTree(desc *Descriptor, opts ...TreeOption) *Tree {
	t := &Tree{
		desc:   desc,
		logger: zap.NewNop(),
	}
	for _, o := range opts {
		o(t)
	}
	t.reset()
	return t
}

func (t *Tree) reset() {
	t.nodes = nil
	t.byID = make(map[ID]*Node)
	t.sockets = make(map[ID]*Socket)
	t.links = make(map[ID]*Link)
	t.nextID = 1
}

// Descriptor returns the node types available to the tree.
func (t *Tree) Descriptor() *Descriptor { return t.desc }

// Types returns the type registry sockets are resolved in.
func (t *Tree) Types() *types.Registry { return t.desc.Types() }

// Logger returns the tree's logger.
func (t *Tree) Logger() *zap.Logger { return t.logger }

func (t *Tree) allocID() ID {
	id := t.nextID
	t.nextID++
	return id
}

func (t *Tree) reserveID(id ID) {
	if id >= t.nextID {
		t.nextID = id + 1
	}
}

func (t *Tree) mutable() error {
	if t.executing {
		return ErrExecuting
	}
	return nil
}

// ---------------------------------------------------------------------------
// Dirty flag and execution passes
// ---------------------------------------------------------------------------

// Dirty reports whether the tree changed since the last execution pass.
func (t *Tree) Dirty() bool { return t.dirty }

// SetDirty sets the dirty flag.
func (t *Tree) SetDirty(d bool) { t.dirty = d }

// BeginPass marks the tree as being executed. Mutations fail with
// ErrExecuting until EndPass.
func (t *Tree) BeginPass() error {
	if t.executing {
		return fmt.Errorf("%w: pass already running", ErrExecuting)
	}
	t.executing = true
	return nil
}

// EndPass ends an execution pass.
func (t *Tree) EndPass() { t.executing = false }

// Executing reports whether a pass is running.
func (t *Tree) Executing() bool { return t.executing }

// ---------------------------------------------------------------------------
// Nodes
// ---------------------------------------------------------------------------

func (t *Tree) newNode(info *NodeTypeInfo, id ID) *Node {
	n := &Node{
		ID:    id,
		Name:  info.UIName,
		Color: info.Color,
		info:  info,
		tree:  t,
	}
	t.reserveID(id)
	return n
}

func (t *Tree) insertNode(n *Node) {
	t.nodes = append(t.nodes, n)
	t.byID[n.ID] = n
}

// AddNode creates a node of the given type and appends it to the tree.
func (t *Tree) AddNode(typeID string) (*Node, error) {
	if err := t.mutable(); err != nil {
		return nil, err
	}
	info, ok := t.desc.Lookup(typeID)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownNodeType, typeID)
	}
	n := t.newNode(info, t.allocID())
	n.refresh()
	t.insertNode(n)
	t.dirty = true
	return n, nil
}

// DeleteNode removes a node after deleting every link touching its
// sockets. Conversion nodes spliced into those links are deleted as well.
func (t *Tree) DeleteNode(id ID) error {
	if err := t.mutable(); err != nil {
		return err
	}
	n, ok := t.byID[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNodeNotFound, id)
	}
	t.deleteNode(n)
	t.dirty = true
	return nil
}

func (t *Tree) deleteNode(n *Node) {
	delete(t.byID, n.ID)
	t.nodes = lo.Without(t.nodes, n)

	var spliced []*Node
	for _, s := range n.sockets() {
		for _, lid := range s.links {
			if peer := t.linkPeer(lid, s.ID); peer != nil && peer.info.Flags.Has(Invisible) {
				spliced = append(spliced, peer)
			}
		}
		n.dropSocket(s)
	}
	for _, g := range n.groups {
		g.members = nil
	}
	for _, peer := range spliced {
		if _, ok := t.byID[peer.ID]; ok {
			t.deleteNode(peer)
		}
	}
}

// linkPeer returns the node at the other end of link lid from socket sid.
func (t *Tree) linkPeer(lid, sid ID) *Node {
	l, ok := t.links[lid]
	if !ok {
		return nil
	}
	other := l.Start
	if other == sid {
		other = l.End
	}
	if s, ok := t.sockets[other]; ok {
		return t.byID[s.Node]
	}
	return nil
}

// Node returns the node with the given ID.
func (t *Tree) Node(id ID) (*Node, bool) {
	n, ok := t.byID[id]
	return n, ok
}

// Nodes returns all nodes in insertion order.
func (t *Tree) Nodes() []*Node {
	return append([]*Node(nil), t.nodes...)
}

// NodeCount returns the number of nodes.
func (t *Tree) NodeCount() int { return len(t.nodes) }

// Socket returns the socket with the given ID.
func (t *Tree) Socket(id ID) (*Socket, bool) {
	s, ok := t.sockets[id]
	return s, ok
}

// SocketNode returns the node owning s.
func (t *Tree) SocketNode(s *Socket) (*Node, bool) {
	n, ok := t.byID[s.Node]
	return n, ok
}

// Clear removes every node and link and resets ID allocation.
func (t *Tree) Clear() error {
	if err := t.mutable(); err != nil {
		return err
	}
	t.reset()
	t.dirty = true
	return nil
}

// ---------------------------------------------------------------------------
// Values
// ---------------------------------------------------------------------------

// SetInputValue sets the literal value of an input socket. The value is
// type checked against the socket type and clamped to its bounds.
func (t *Tree) SetInputValue(id ID, v any) error {
	if err := t.mutable(); err != nil {
		return err
	}
	s, ok := t.sockets[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrSocketNotFound, id)
	}
	if s.Direction != Input {
		return fmt.Errorf("graph: socket %s is an output", id)
	}
	val, err := t.Types().Wrap(s.Type, v)
	if err != nil {
		return fmt.Errorf("graph: socket %s: %w", id, err)
	}
	s.Value = val.Clamp(s.Min, s.Max)
	t.dirty = true
	return nil
}

// ---------------------------------------------------------------------------
// Topology queries
// ---------------------------------------------------------------------------

// LinkedOutput returns the output socket feeding input socket in.
func (t *Tree) LinkedOutput(in *Socket) (*Socket, bool) {
	if in.Direction != Input || len(in.links) == 0 {
		return nil, false
	}
	l, ok := t.links[in.links[0]]
	if !ok {
		return nil, false
	}
	s, ok := t.sockets[l.Start]
	return s, ok
}

// Upstream returns the distinct nodes feeding n's inputs, ordered by
// insertion.
func (t *Tree) Upstream(n *Node) []*Node {
	seen := make(map[ID]bool)
	for _, in := range n.inputs {
		if out, ok := t.LinkedOutput(in); ok {
			seen[out.Node] = true
		}
	}
	return t.inOrder(seen)
}

// Downstream returns the distinct nodes fed by n's outputs, ordered by
// insertion.
func (t *Tree) Downstream(n *Node) []*Node {
	seen := make(map[ID]bool)
	for _, out := range n.outputs {
		for _, lid := range out.links {
			if l, ok := t.links[lid]; ok {
				if s, ok := t.sockets[l.End]; ok {
					seen[s.Node] = true
				}
			}
		}
	}
	return t.inOrder(seen)
}

func (t *Tree) inOrder(set map[ID]bool) []*Node {
	return lo.Filter(t.nodes, func(n *Node, _ int) bool { return set[n.ID] })
}

// reaches reports whether to is reachable from from by following links
// downstream.
func (t *Tree) reaches(from, to ID) bool {
	visited := make(map[ID]bool)
	stack := []ID{from}
	for len(stack) > 0 {
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if id == to {
			return true
		}
		if visited[id] {
			continue
		}
		visited[id] = true
		if n, ok := t.byID[id]; ok {
			for _, d := range t.Downstream(n) {
				stack = append(stack, d.ID)
			}
		}
	}
	return false
}

// sortedIDs returns map keys in ascending order.
func sortedIDs[V any](m map[ID]V) []ID {
	ids := make([]ID, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
