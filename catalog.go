package main

import (
	"fmt"

	"github.com/chazu/nodetree/pkg/graph"
	"github.com/samber/lo"
)

// NodeTypeEntry describes one node type for the types listing.
type NodeTypeEntry struct {
	ID      string        `yaml:"id"`
	Name    string        `yaml:"name"`
	Flags   []string      `yaml:"flags,omitempty"`
	Inputs  []SocketEntry `yaml:"inputs,omitempty"`
	Outputs []SocketEntry `yaml:"outputs,omitempty"`
	Groups  []SocketEntry `yaml:"groups,omitempty"`
}

// SocketEntry describes a declared socket or socket group.
type SocketEntry struct {
	Identifier string `yaml:"identifier"`
	Type       string `yaml:"type"`
	Default    any    `yaml:"default,omitempty"`
}

// Catalog lists every node type in desc with the sockets its declaration
// produces. Each type is instantiated in a scratch tree.
func Catalog(desc *graph.Descriptor, includeInvisible bool) ([]NodeTypeEntry, error) {
	scratch := graph.NewTree(desc)
	var out []NodeTypeEntry
	for _, id := range desc.SortedIDs() {
		info, _ := desc.Lookup(id)
		if info.Flags.Has(graph.Invisible) && !includeInvisible {
			continue
		}
		n, err := scratch.AddNode(id)
		if err != nil {
			return nil, fmt.Errorf("instantiating %s: %w", id, err)
		}
		entry := NodeTypeEntry{ID: id, Name: info.UIName}
		if info.Flags.Has(graph.AlwaysRequired) {
			entry.Flags = append(entry.Flags, "always_required")
		}
		if info.Flags.Has(graph.Invisible) {
			entry.Flags = append(entry.Flags, "invisible")
		}

		socket := func(s *graph.Socket, _ int) SocketEntry {
			e := SocketEntry{Identifier: s.Identifier, Type: desc.Types().NameOf(s.Type)}
			if s.Value.IsValid() {
				e.Default = s.Value.Interface()
			}
			return e
		}
		fixed := func(s *graph.Socket, _ int) bool { return !s.InGroup() }
		entry.Inputs = lo.Map(lo.Filter(n.Inputs(), fixed), socket)
		entry.Outputs = lo.Map(lo.Filter(n.Outputs(), fixed), socket)
		entry.Groups = lo.Map(n.Groups(), func(g *graph.SocketGroup, _ int) SocketEntry {
			return SocketEntry{Identifier: g.Identifier + "[" + g.Direction.String() + "]", Type: desc.Types().NameOf(g.Type)}
		})
		out = append(out, entry)
	}
	return out, nil
}
