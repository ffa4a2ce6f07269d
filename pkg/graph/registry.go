package graph

import (
	"errors"
	"fmt"
	"sort"

	"github.com/chazu/nodetree/pkg/types"
)

// Flags modify how the editor and executor treat a node type.
type Flags uint8

const (
	// AlwaysRequired nodes are execution roots: when any exist, only they
	// and their upstream closure run.
	AlwaysRequired Flags = 1 << iota
	// Invisible nodes are hidden from the editor, for example conversion
	// nodes spliced into links.
	Invisible
)

// Has reports whether all bits of f2 are set.
func (f Flags) Has(f2 Flags) bool { return f&f2 == f2 }

// NodeTypeInfo is the schema and behaviour of one node type. A single
// value is shared by every node of the type.
type NodeTypeInfo struct {
	IDName string
	UIName string
	Color  string
	Flags  Flags

	Declare func(b *DeclarationBuilder)
	Execute func(p *ExeParams) error
}

var (
	ErrDuplicateNodeType = errors.New("graph: duplicate node type")
	ErrInvalidNodeType   = errors.New("graph: invalid node type")
)

type conversionKey struct {
	from, to types.SocketType
}

// Registry is the mutable collection of node types contributed by one node
// definition module.
type Registry struct {
	name        string
	infos       []*NodeTypeInfo
	conversions map[conversionKey]string
}

// NewRegistry returns an empty registry called name.
func NewRegistry(name string) *Registry {
	return &Registry{name: name, conversions: make(map[conversionKey]string)}
}

// Name returns the registry name used in configuration.
func (r *Registry) Name() string { return r.name }

// Register adds a node type.
func (r *Registry) Register(info *NodeTypeInfo) error {
	if info == nil || info.IDName == "" {
		return fmt.Errorf("%w: empty id", ErrInvalidNodeType)
	}
	for _, existing := range r.infos {
		if existing.IDName == info.IDName {
			return fmt.Errorf("%w: %q in registry %q", ErrDuplicateNodeType, info.IDName, r.name)
		}
	}
	if info.UIName == "" {
		info.UIName = info.IDName
	}
	r.infos = append(r.infos, info)
	return nil
}

// MustRegister is like Register but panics on error.
func (r *Registry) MustRegister(info *NodeTypeInfo) {
	if err := r.Register(info); err != nil {
		panic(err)
	}
}

// RegisterConversion adds a node type that converts values of type from
// into type to. Conversion types are always invisible.
func (r *Registry) RegisterConversion(info *NodeTypeInfo, from, to types.SocketType) error {
	if !from.IsValid() || !to.IsValid() {
		return fmt.Errorf("%w: conversion %q has invalid types", ErrInvalidNodeType, info.IDName)
	}
	k := conversionKey{from, to}
	if other, ok := r.conversions[k]; ok {
		return fmt.Errorf("%w: conversion %s -> %s already provided by %q", ErrDuplicateNodeType, from, to, other)
	}
	info.Flags |= Invisible
	if err := r.Register(info); err != nil {
		return err
	}
	r.conversions[k] = info.IDName
	return nil
}

// Types returns the registered node types in registration order.
func (r *Registry) Types() []*NodeTypeInfo {
	return append([]*NodeTypeInfo(nil), r.infos...)
}

// Descriptor is the immutable set of node types available to a tree.
type Descriptor struct {
	types       *types.Registry
	byID        map[string]*NodeTypeInfo
	order       []string
	conversions map[conversionKey]*NodeTypeInfo
}

// NewDescriptor merges registries. A node type id provided by two
// registries is an error.
func NewDescriptor(tr *types.Registry, regs ...*Registry) (*Descriptor, error) {
	d := &Descriptor{
		types:       tr,
		byID:        make(map[string]*NodeTypeInfo),
		conversions: make(map[conversionKey]*NodeTypeInfo),
	}
	for _, r := range regs {
		for _, info := range r.infos {
			if _, dup := d.byID[info.IDName]; dup {
				return nil, fmt.Errorf("%w: %q (registry %q)", ErrDuplicateNodeType, info.IDName, r.name)
			}
			d.byID[info.IDName] = info
			d.order = append(d.order, info.IDName)
		}
		for k, id := range r.conversions {
			if other, dup := d.conversions[k]; dup {
				return nil, fmt.Errorf("%w: conversion %s -> %s provided by %q and %q",
					ErrDuplicateNodeType, k.from, k.to, other.IDName, id)
			}
			d.conversions[k] = d.byID[id]
		}
	}
	return d, nil
}

// Types returns the type registry the descriptor resolves sockets in.
func (d *Descriptor) Types() *types.Registry { return d.types }

// Lookup returns the node type with the given id.
func (d *Descriptor) Lookup(id string) (*NodeTypeInfo, bool) {
	info, ok := d.byID[id]
	return info, ok
}

// Conversion returns the node type converting from into to, if any.
func (d *Descriptor) Conversion(from, to types.SocketType) (*NodeTypeInfo, bool) {
	info, ok := d.conversions[conversionKey{from, to}]
	return info, ok
}

// IDs returns all node type ids in registration order.
func (d *Descriptor) IDs() []string {
	return append([]string(nil), d.order...)
}

// SortedIDs returns all node type ids in lexical order.
func (d *Descriptor) SortedIDs() []string {
	ids := d.IDs()
	sort.Strings(ids)
	return ids
}
