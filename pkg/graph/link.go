package graph

import (
	"errors"
	"fmt"
)

// Link is a directed edge from an output socket to an input socket.
type Link struct {
	ID    ID
	Start ID // output socket
	End   ID // input socket

	// Next chains a link into a conversion node with the link leaving it,
	// so the pair can be drawn as one edge. Zero when unchained.
	Next ID
}

var (
	ErrSameDirection     = errors.New("graph: sockets have the same direction")
	ErrSameNode          = errors.New("graph: sockets belong to the same node")
	ErrInputLinked       = errors.New("graph: input socket is already linked")
	ErrInvalidType       = errors.New("graph: socket type is invalid")
	ErrIncompatibleTypes = errors.New("graph: socket types are incompatible")
	ErrCycle             = errors.New("graph: link would create a cycle")
)

// Link returns the link with the given ID.
func (t *Tree) Link(id ID) (*Link, bool) {
	l, ok := t.links[id]
	return l, ok
}

// Links returns all links ordered by ID.
func (t *Tree) Links() []*Link {
	out := make([]*Link, 0, len(t.links))
	for _, id := range sortedIDs(t.links) {
		out = append(out, t.links[id])
	}
	return out
}

// LinkCount returns the number of links.
func (t *Tree) LinkCount() int { return len(t.links) }

// normalize orders a socket pair as (output, input).
func (t *Tree) normalize(a, b ID) (out, in *Socket, err error) {
	sa, ok := t.sockets[a]
	if !ok {
		return nil, nil, fmt.Errorf("%w: %s", ErrSocketNotFound, a)
	}
	sb, ok := t.sockets[b]
	if !ok {
		return nil, nil, fmt.Errorf("%w: %s", ErrSocketNotFound, b)
	}
	if sa.Direction == sb.Direction {
		return nil, nil, fmt.Errorf("%w: both are %s", ErrSameDirection, sa.Direction)
	}
	if sa.Direction == Input {
		sa, sb = sb, sa
	}
	return sa, sb, nil
}

// CheckLink reports why a link between sockets a and b cannot be created,
// or nil if it can. Either argument order is accepted.
func (t *Tree) CheckLink(a, b ID) error {
	out, in, err := t.normalize(a, b)
	if err != nil {
		return err
	}
	if out.Node == in.Node {
		return ErrSameNode
	}
	if in.IsLinked() {
		return fmt.Errorf("%w: %s", ErrInputLinked, in.Identifier)
	}
	if _, err := t.linkKind(out, in); err != nil {
		return err
	}
	if t.reaches(in.Node, out.Node) {
		return ErrCycle
	}
	return nil
}

// CanCreateLink reports whether a link between a and b is admissible.
func (t *Tree) CanCreateLink(a, b ID) bool {
	return t.CheckLink(a, b) == nil
}

// linkKind returns the conversion node type required between out and in,
// or nil when the types connect directly. Invalid types never connect.
func (t *Tree) linkKind(out, in *Socket) (*NodeTypeInfo, error) {
	if !out.Type.IsValid() || !in.Type.IsValid() {
		return nil, ErrInvalidType
	}
	if out.Type == in.Type || out.Type.IsAny() || in.Type.IsAny() {
		return nil, nil
	}
	if conv, ok := t.desc.Conversion(out.Type, in.Type); ok {
		return conv, nil
	}
	return nil, fmt.Errorf("%w: %s -> %s", ErrIncompatibleTypes, out.Type, in.Type)
}

// AddLink connects an output and an input socket. When their types differ
// and a conversion node type is registered for the pair, a conversion node
// is inserted and the returned link is chained to the link leaving it. An
// input that is already linked is rejected with ErrInputLinked; existing
// links are never replaced.
func (t *Tree) AddLink(start, end ID) (*Link, error) {
	if err := t.mutable(); err != nil {
		return nil, err
	}
	if err := t.CheckLink(start, end); err != nil {
		return nil, err
	}
	out, in, _ := t.normalize(start, end)
	conv, _ := t.linkKind(out, in)
	if conv == nil {
		l := t.connect(out, in)
		t.dirty = true
		return l, nil
	}

	cn := t.newNode(conv, t.allocID())
	cn.refresh()
	if len(cn.inputs) == 0 || len(cn.outputs) == 0 {
		t.deleteNode(cn)
		return nil, fmt.Errorf("%w: conversion %q lacks input or output", ErrInvalidNodeType, conv.IDName)
	}
	t.insertNode(cn)
	if src, ok := t.byID[out.Node]; ok {
		if dst, ok := t.byID[in.Node]; ok {
			cn.Position = [2]float32{
				(src.Position[0] + dst.Position[0]) / 2,
				(src.Position[1] + dst.Position[1]) / 2,
			}
		}
	}
	head := t.connect(out, cn.inputs[0])
	tail := t.connect(cn.outputs[0], in)
	head.Next = tail.ID
	t.dirty = true
	return head, nil
}

func (t *Tree) connect(out, in *Socket) *Link {
	l := &Link{ID: t.allocID(), Start: out.ID, End: in.ID}
	t.attachLink(l)
	return l
}

func (t *Tree) attachLink(l *Link) {
	t.links[l.ID] = l
	t.sockets[l.Start].attach(l.ID)
	t.sockets[l.End].attach(l.ID)
}

// removeLink detaches a single link without touching conversion nodes.
func (t *Tree) removeLink(id ID) {
	l, ok := t.links[id]
	if !ok {
		return
	}
	delete(t.links, id)
	if s, ok := t.sockets[l.Start]; ok {
		s.detach(id)
	}
	if s, ok := t.sockets[l.End]; ok {
		s.detach(id)
	}
}

// DeleteLink removes a link. If the link enters or leaves a conversion
// node, the other link of its chain is removed too, and so is the
// conversion node once none of its sockets is linked any more.
func (t *Tree) DeleteLink(id ID) error {
	if err := t.mutable(); err != nil {
		return err
	}
	l, ok := t.links[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrLinkNotFound, id)
	}
	var conv []*Node
	for _, sid := range []ID{l.Start, l.End} {
		if s, ok := t.sockets[sid]; ok {
			if n, ok := t.byID[s.Node]; ok && n.info.Flags.Has(Invisible) {
				conv = append(conv, n)
			}
		}
	}
	if len(conv) > 0 {
		for _, cid := range t.chainOf(l) {
			t.removeLink(cid)
		}
	}
	t.removeLink(id)
	for _, n := range conv {
		if !n.linked() {
			t.deleteNode(n)
		}
	}
	t.dirty = true
	return nil
}

// chainOf returns the links chained to l through a conversion node.
func (t *Tree) chainOf(l *Link) []ID {
	var ids []ID
	if _, ok := t.links[l.Next]; ok && !l.Next.IsZero() {
		ids = append(ids, l.Next)
	}
	for lid, other := range t.links {
		if other.Next == l.ID {
			ids = append(ids, lid)
		}
	}
	return ids
}

func (n *Node) linked() bool {
	for _, s := range n.sockets() {
		if s.IsLinked() {
			return true
		}
	}
	return false
}
