package graph

import (
	"fmt"

	"github.com/chazu/nodetree/pkg/types"
	"github.com/samber/lo"
)

// Direction tells whether a socket consumes or produces a value.
type Direction int

const (
	Input Direction = iota
	Output
)

func (d Direction) String() string {
	switch d {
	case Input:
		return "input"
	case Output:
		return "output"
	default:
		return fmt.Sprintf("Direction(%d)", int(d))
	}
}

func parseDirection(s string) (Direction, error) {
	switch s {
	case "input":
		return Input, nil
	case "output":
		return Output, nil
	}
	return 0, fmt.Errorf("graph: invalid socket direction %q", s)
}

// Socket is a single typed pin on a node.
type Socket struct {
	ID         ID
	Identifier string // unique among the node's sockets of the same direction
	Name       string
	Direction  Direction
	Type       types.SocketType

	// Value is the literal or default value of an input, or the latest
	// result written by the executor for an output. It may be invalid.
	Value types.Value
	Min   *float64
	Max   *float64

	RuntimeDynamic bool

	Node  ID     // owning node
	Group string // identifier of the owning group, "" if none

	links      []ID
	unresolved string // serialized type name when Type is invalid
}

// Links returns the IDs of links attached to the socket, in attach order.
func (s *Socket) Links() []ID {
	return append([]ID(nil), s.links...)
}

// IsLinked reports whether any link is attached to the socket.
func (s *Socket) IsLinked() bool {
	return len(s.links) > 0
}

// InGroup reports whether the socket is a member of a socket group.
func (s *Socket) InGroup() bool {
	return s.Group != ""
}

func (s *Socket) attach(id ID) {
	s.links = append(s.links, id)
}

func (s *Socket) detach(id ID) {
	s.links = lo.Without(s.links, id)
}

// SocketGroup is a variable-length, ordered list of sockets of one direction
// on one node.
type SocketGroup struct {
	Identifier     string
	Name           string
	Direction      Direction
	Type           types.SocketType // element type, types.Any by default
	RuntimeDynamic bool

	node    *Node
	members []*Socket
	next    int // suffix for the next member identifier
}

// Members returns the group's sockets in order.
func (g *SocketGroup) Members() []*Socket {
	return append([]*Socket(nil), g.members...)
}

// Len returns the number of member sockets.
func (g *SocketGroup) Len() int {
	return len(g.members)
}

// AddSocket appends a new member socket. The socket is created by the owning
// node so that its ID is unique within the tree.
func (g *SocketGroup) AddSocket() (*Socket, error) {
	if err := g.node.tree.mutable(); err != nil {
		return nil, err
	}
	identifier := g.memberIdentifier()
	s := g.node.newSocket(g.Type, identifier, g.Name, g.Direction)
	s.Group = g.Identifier
	s.RuntimeDynamic = g.RuntimeDynamic
	g.members = append(g.members, s)
	g.node.rebuildOrder()
	g.node.tree.SetDirty(true)
	return s, nil
}

func (g *SocketGroup) memberIdentifier() string {
	for {
		id := fmt.Sprintf("%s_%d", g.Identifier, g.next)
		g.next++
		if g.node.FindSocket(id, g.Direction) == nil {
			return id
		}
	}
}

// RemoveSocket removes the member socket with the given identifier.
func (g *SocketGroup) RemoveSocket(identifier string) error {
	for _, s := range g.members {
		if s.Identifier == identifier {
			return g.RemoveMember(s)
		}
	}
	return fmt.Errorf("%w: group %q has no member %q", ErrSocketNotFound, g.Identifier, identifier)
}

// RemoveMember removes s from the group, destroying its links, and
// refreshes the owning node.
func (g *SocketGroup) RemoveMember(s *Socket) error {
	if err := g.node.tree.mutable(); err != nil {
		return err
	}
	idx := lo.IndexOf(g.members, s)
	if idx < 0 {
		return fmt.Errorf("%w: socket %s is not a member of group %q", ErrSocketNotFound, s.ID, g.Identifier)
	}
	g.members = append(g.members[:idx], g.members[idx+1:]...)
	g.node.dropSocket(s)
	g.node.refresh()
	g.node.tree.SetDirty(true)
	return nil
}
