package graph

import (
	"fmt"

	"github.com/chazu/nodetree/pkg/types"
)

// SocketDecl describes one fixed socket a node type declares.
type SocketDecl struct {
	Identifier string
	Name       string
	Direction  Direction
	Type       types.SocketType

	DefaultValue types.Value
	MinValue     *float64
	MaxValue     *float64
	Dynamic      bool

	reg *types.Registry
}

// Min sets the lower numeric bound of the socket value.
func (d *SocketDecl) Min(v float64) *SocketDecl {
	d.MinValue = &v
	return d
}

// Max sets the upper numeric bound of the socket value.
func (d *SocketDecl) Max(v float64) *SocketDecl {
	d.MaxValue = &v
	return d
}

// Default sets the value an unlinked input takes. The value must be
// assignable to the socket type; a mismatch is a programming error in the
// node definition and panics.
func (d *SocketDecl) Default(v any) *SocketDecl {
	val, err := d.reg.Wrap(d.Type, v)
	if err != nil {
		panic(fmt.Sprintf("graph: default for socket %q: %v", d.Identifier, err))
	}
	d.DefaultValue = val
	return d
}

// RuntimeDynamic marks the socket as one whose presence may change at
// runtime without a declaration change.
func (d *SocketDecl) RuntimeDynamic(b bool) *SocketDecl {
	d.Dynamic = b
	return d
}

func (d *SocketDecl) key() SocketKey {
	return SocketKey{Identifier: d.Identifier, Direction: d.Direction, Type: d.Type}
}

// GroupDecl describes a variable-length socket group.
type GroupDecl struct {
	Identifier string
	Name       string
	Direction  Direction
	ElemType   types.SocketType
	Dynamic    bool
}

// Type sets the element type of the group members.
func (g *GroupDecl) Type(t types.SocketType) *GroupDecl {
	g.ElemType = t
	return g
}

// RuntimeDynamic marks the group members as runtime dynamic.
func (g *GroupDecl) RuntimeDynamic(b bool) *GroupDecl {
	g.Dynamic = b
	return g
}

// declItem is either a socket or a group, kept in declaration order.
type declItem struct {
	socket *SocketDecl
	group  *GroupDecl
}

// Declaration is the socket schema a node type produces for its instances.
type Declaration struct {
	items []declItem
}

// Sockets returns the fixed socket declarations in order.
func (d *Declaration) Sockets() []*SocketDecl {
	var out []*SocketDecl
	for _, it := range d.items {
		if it.socket != nil {
			out = append(out, it.socket)
		}
	}
	return out
}

// Groups returns the group declarations in order.
func (d *Declaration) Groups() []*GroupDecl {
	var out []*GroupDecl
	for _, it := range d.items {
		if it.group != nil {
			out = append(out, it.group)
		}
	}
	return out
}

func (d *Declaration) group(identifier string, dir Direction) *GroupDecl {
	for _, g := range d.Groups() {
		if g.Identifier == identifier && g.Direction == dir {
			return g
		}
	}
	return nil
}

// DeclarationBuilder accumulates socket declarations. It is handed to a
// node type's Declare callback.
type DeclarationBuilder struct {
	types *types.Registry
	items []declItem
}

// NewDeclarationBuilder returns a builder resolving socket types in r.
func NewDeclarationBuilder(r *types.Registry) *DeclarationBuilder {
	return &DeclarationBuilder{types: r}
}

// Types returns the type registry used by the builder.
func (b *DeclarationBuilder) Types() *types.Registry {
	return b.types
}

// AddInput declares an input socket of Go type T. The identifier defaults to
// the name.
func AddInput[T any](b *DeclarationBuilder, name string, identifier ...string) *SocketDecl {
	return b.InputOf(types.Of[T](b.types), name, identifier...)
}

// AddOutput declares an output socket of Go type T.
func AddOutput[T any](b *DeclarationBuilder, name string, identifier ...string) *SocketDecl {
	return b.OutputOf(types.Of[T](b.types), name, identifier...)
}

// InputOf declares an input socket of an already resolved socket type.
func (b *DeclarationBuilder) InputOf(t types.SocketType, name string, identifier ...string) *SocketDecl {
	return b.add(t, name, Input, identifier)
}

// OutputOf declares an output socket of an already resolved socket type.
func (b *DeclarationBuilder) OutputOf(t types.SocketType, name string, identifier ...string) *SocketDecl {
	return b.add(t, name, Output, identifier)
}

func (b *DeclarationBuilder) add(t types.SocketType, name string, dir Direction, identifier []string) *SocketDecl {
	d := &SocketDecl{
		Identifier: name,
		Name:       name,
		Direction:  dir,
		Type:       t,
		reg:        b.types,
	}
	if len(identifier) > 0 && identifier[0] != "" {
		d.Identifier = identifier[0]
	}
	b.items = append(b.items, declItem{socket: d})
	return d
}

// InputGroup declares a variable-length input group.
func (b *DeclarationBuilder) InputGroup(name string) *GroupDecl {
	return b.addGroup(name, Input)
}

// OutputGroup declares a variable-length output group.
func (b *DeclarationBuilder) OutputGroup(name string) *GroupDecl {
	return b.addGroup(name, Output)
}

func (b *DeclarationBuilder) addGroup(name string, dir Direction) *GroupDecl {
	g := &GroupDecl{Identifier: name, Name: name, Direction: dir, ElemType: types.Any}
	b.items = append(b.items, declItem{group: g})
	return g
}

// Build finalises the declaration. Duplicate identifiers within one
// direction indicate a broken node definition and panic.
func (b *DeclarationBuilder) Build() *Declaration {
	seen := make(map[SocketKey]bool)
	for _, it := range b.items {
		var k SocketKey
		if it.socket != nil {
			k = SocketKey{Identifier: it.socket.Identifier, Direction: it.socket.Direction}
		} else {
			k = SocketKey{Identifier: it.group.Identifier, Direction: it.group.Direction}
		}
		if k.Identifier == "" {
			panic("graph: socket declared with empty identifier")
		}
		if seen[k] {
			panic(fmt.Sprintf("graph: duplicate %s identifier %q in declaration", k.Direction, k.Identifier))
		}
		seen[k] = true
	}
	return &Declaration{items: append([]declItem(nil), b.items...)}
}
