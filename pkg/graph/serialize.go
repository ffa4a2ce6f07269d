package graph

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/chazu/nodetree/pkg/types"
	"go.uber.org/zap"
)

type treeJSON struct {
	Nodes   map[string]nodeJSON   `json:"nodes"`
	Sockets map[string]socketJSON `json:"sockets"`
	Links   map[string]linkJSON   `json:"links"`
	NextID  ID                    `json:"next_id"`
}

type nodeJSON struct {
	ID       ID              `json:"ID"`
	IDName   string          `json:"id_name"`
	UIName   string          `json:"ui_name"`
	Color    string          `json:"color,omitempty"`
	Position [2]float32      `json:"position"`
	Size     [2]float32      `json:"size"`
	Inputs   []ID            `json:"inputs"`
	Outputs  []ID            `json:"outputs"`
	SubTree  json.RawMessage `json:"subtree,omitempty"`

	// GroupNext holds each socket group's next member suffix, keyed by
	// "<direction>/<group identifier>".
	GroupNext map[string]int `json:"group_next,omitempty"`
}

type socketJSON struct {
	ID             ID              `json:"ID"`
	IDName         string          `json:"id_name"`
	Identifier     string          `json:"identifier"`
	UIName         string          `json:"ui_name"`
	InOut          string          `json:"in_out"`
	Group          string          `json:"group,omitempty"`
	RuntimeDynamic bool            `json:"runtime_dynamic,omitempty"`
	Value          json.RawMessage `json:"value,omitempty"`
	ValueType      string          `json:"value_type,omitempty"` // set when it differs from id_name
}

type linkJSON struct {
	ID         ID `json:"ID"`
	StartPinID ID `json:"StartPinID"`
	EndPinID   ID `json:"EndPinID"`
	NextLink   ID `json:"next_link,omitempty"`
}

// Serialize encodes the tree as JSON. Only scalar socket values are
// written; opaque handles and node storage are runtime-only.
func (t *Tree) Serialize() ([]byte, error) {
	doc, err := t.document()
	if err != nil {
		return nil, err
	}
	return json.Marshal(doc)
}

func (t *Tree) document() (*treeJSON, error) {
	doc := &treeJSON{
		Nodes:   make(map[string]nodeJSON, len(t.nodes)),
		Sockets: make(map[string]socketJSON, len(t.sockets)),
		Links:   make(map[string]linkJSON, len(t.links)),
		NextID:  t.nextID,
	}
	for _, n := range t.nodes {
		nj := nodeJSON{
			ID:       n.ID,
			IDName:   n.info.IDName,
			UIName:   n.Name,
			Color:    n.Color,
			Position: n.Position,
			Size:     n.Size,
			Inputs:   socketIDs(n.inputs),
			Outputs:  socketIDs(n.outputs),
		}
		for _, g := range n.groups {
			if g.next == 0 {
				continue
			}
			if nj.GroupNext == nil {
				nj.GroupNext = make(map[string]int)
			}
			nj.GroupNext[groupKey(g)] = g.next
		}
		if n.SubTree != nil {
			sub, err := n.SubTree.Serialize()
			if err != nil {
				return nil, fmt.Errorf("graph: node %s subtree: %w", n.ID, err)
			}
			nj.SubTree = sub
		}
		doc.Nodes[n.ID.String()] = nj

		for _, s := range n.sockets() {
			sj := socketJSON{
				ID:             s.ID,
				IDName:         t.typeName(s),
				Identifier:     s.Identifier,
				UIName:         s.Name,
				InOut:          s.Direction.String(),
				Group:          s.Group,
				RuntimeDynamic: s.RuntimeDynamic,
			}
			if s.Value.IsValid() {
				raw, ok, err := t.Types().Encode(s.Value)
				if err != nil {
					return nil, fmt.Errorf("graph: socket %s: %w", s.ID, err)
				}
				if ok {
					sj.Value = raw
					if s.Value.Type() != s.Type {
						sj.ValueType = t.Types().NameOf(s.Value.Type())
					}
				}
			}
			doc.Sockets[s.ID.String()] = sj
		}
	}
	for id, l := range t.links {
		doc.Links[id.String()] = linkJSON{ID: l.ID, StartPinID: l.Start, EndPinID: l.End, NextLink: l.Next}
	}
	return doc, nil
}

// typeName keeps the original name of a type that failed to resolve so
// that a load and save does not lose it.
func (t *Tree) typeName(s *Socket) string {
	if name := t.Types().NameOf(s.Type); name != "" {
		return name
	}
	return s.unresolved
}

func socketIDs(ss []*Socket) []ID {
	ids := make([]ID, len(ss))
	for i, s := range ss {
		ids[i] = s.ID
	}
	return ids
}

// Deserialize replaces the tree's contents with the JSON document. Malformed
// JSON is an error and leaves the tree untouched. Every other problem,
// such as an unknown node or socket type or a dangling link, is logged and
// the offending entry skipped.
//
// Structure is restored first for the whole tree, then socket values, then
// links, so that link endpoints always exist when links are resolved.
func (t *Tree) Deserialize(data []byte) error {
	if err := t.mutable(); err != nil {
		return err
	}
	var doc treeJSON
	if err := json.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("graph: decoding tree: %w", err)
	}
	t.reset()
	if doc.NextID > 0 {
		t.reserveID(doc.NextID - 1)
	}

	t.restoreStructure(&doc)
	t.restoreValues(&doc)
	t.restoreLinks(&doc)

	t.dirty = true
	return nil
}

func keyedByID[V any](m map[string]V, log *zap.Logger, what string) map[ID]V {
	out := make(map[ID]V, len(m))
	for k, v := range m {
		id, err := ParseID(k)
		if err != nil || id.IsZero() {
			log.Warn("skipping entry with bad id", zap.String("kind", what), zap.String("key", k))
			continue
		}
		out[id] = v
	}
	return out
}

func (t *Tree) restoreStructure(doc *treeJSON) {
	nodes := keyedByID(doc.Nodes, t.logger, "node")
	sockets := keyedByID(doc.Sockets, t.logger, "socket")

	for _, id := range sortedIDs(nodes) {
		nj := nodes[id]
		info, ok := t.desc.Lookup(nj.IDName)
		if !ok {
			t.logger.Error("unknown node type, skipping node",
				zap.Stringer("node", id), zap.String("type", nj.IDName))
			continue
		}
		n := t.newNode(info, id)
		n.Name = nj.UIName
		n.Color = nj.Color
		n.Position = nj.Position
		n.Size = nj.Size
		n.state = Declared
		n.decl = n.declare()
		n.reconcileGroups()

		for _, sid := range append(append([]ID(nil), nj.Inputs...), nj.Outputs...) {
			sj, ok := sockets[sid]
			if !ok {
				t.logger.Warn("node references missing socket", zap.Stringer("node", id), zap.Stringer("socket", sid))
				continue
			}
			t.restoreSocket(n, sid, sj)
		}
		n.refresh()
		for _, g := range n.groups {
			g.restoreNext(nj.GroupNext[groupKey(g)])
		}

		if len(nj.SubTree) > 0 {
			sub := NewTree(t.desc, WithLogger(t.logger))
			if err := sub.Deserialize(nj.SubTree); err != nil {
				t.logger.Error("dropping subtree", zap.Stringer("node", id), zap.Error(err))
			} else {
				n.SubTree = sub
			}
		}
		t.insertNode(n)
	}
}

func (t *Tree) restoreSocket(n *Node, id ID, sj socketJSON) {
	log := t.logger.With(zap.Stringer("node", n.ID), zap.Stringer("socket", id))
	if _, dup := t.sockets[id]; dup {
		log.Warn("duplicate socket id, skipping")
		return
	}
	dir, err := parseDirection(sj.InOut)
	if err != nil {
		log.Warn("skipping socket", zap.Error(err))
		return
	}
	if sj.Identifier == "" || n.FindSocket(sj.Identifier, dir) != nil || n.hasRestored(sj.Identifier, dir) {
		log.Warn("skipping socket with empty or duplicate identifier", zap.String("identifier", sj.Identifier))
		return
	}
	st, ok := t.Types().Lookup(sj.IDName)
	if !ok {
		log.Error("unknown socket type", zap.String("type", sj.IDName))
		st = types.Invalid
	}
	s := &Socket{
		ID:             id,
		Identifier:     sj.Identifier,
		Name:           sj.UIName,
		Direction:      dir,
		Type:           st,
		RuntimeDynamic: sj.RuntimeDynamic,
		Node:           n.ID,
		Group:          sj.Group,
	}
	if !ok {
		s.unresolved = sj.IDName
	}
	if s.Group != "" {
		if !n.adopt(s) {
			log.Warn("socket group no longer declared, dropping member", zap.String("group", s.Group))
			return
		}
	} else {
		n.fixed = append(n.fixed, s)
	}
	t.reserveID(id)
	t.sockets[id] = s
}

func groupKey(g *SocketGroup) string {
	return g.Direction.String() + "/" + g.Identifier
}

// restoreNext sets the member suffix counter past both the saved counter and
// every restored member, so removed identifiers stay retired.
func (g *SocketGroup) restoreNext(saved int) {
	next := saved
	prefix := g.Identifier + "_"
	for _, s := range g.members {
		suffix, ok := strings.CutPrefix(s.Identifier, prefix)
		if !ok {
			continue
		}
		if i, err := strconv.Atoi(suffix); err == nil && i >= next {
			next = i + 1
		}
	}
	g.next = next
}

// hasRestored reports whether a socket with identifier was already restored
// onto n but not yet placed in the ordered socket lists.
func (n *Node) hasRestored(identifier string, dir Direction) bool {
	for _, s := range n.fixed {
		if s.Identifier == identifier && s.Direction == dir {
			return true
		}
	}
	for _, g := range n.groups {
		for _, s := range g.members {
			if s.Identifier == identifier && s.Direction == dir {
				return true
			}
		}
	}
	return false
}

func (t *Tree) restoreValues(doc *treeJSON) {
	for id, sj := range keyedByID(doc.Sockets, zap.NewNop(), "socket") {
		s, ok := t.sockets[id]
		if !ok || len(sj.Value) == 0 {
			continue
		}
		if !s.Type.IsValid() {
			t.logger.Warn("not restoring value of untyped socket", zap.Stringer("socket", id))
			continue
		}
		vt := s.Type
		if sj.ValueType != "" {
			if vt, ok = t.Types().Lookup(sj.ValueType); !ok {
				t.logger.Warn("unknown value type", zap.Stringer("socket", id), zap.String("type", sj.ValueType))
				continue
			}
		}
		v, err := t.Types().Decode(vt, sj.Value)
		if err == nil {
			v, err = t.Types().Wrap(s.Type, v)
		}
		if err != nil {
			t.logger.Warn("skipping socket value", zap.Stringer("socket", id), zap.Error(err))
			continue
		}
		s.Value = v.Clamp(s.Min, s.Max)
	}
}

func (t *Tree) restoreLinks(doc *treeJSON) {
	links := keyedByID(doc.Links, t.logger, "link")
	for _, id := range sortedIDs(links) {
		lj := links[id]
		log := t.logger.With(zap.Stringer("link", id))
		out, okOut := t.sockets[lj.StartPinID]
		in, okIn := t.sockets[lj.EndPinID]
		switch {
		case !okOut || !okIn:
			log.Warn("dangling link, skipping")
			continue
		case out.Direction != Output || in.Direction != Input:
			log.Warn("link endpoints have wrong direction, skipping")
			continue
		case in.IsLinked():
			log.Warn("input already linked, skipping")
			continue
		case out.Node == in.Node:
			log.Warn("self link, skipping")
			continue
		}
		if _, err := t.linkKind(out, in); err != nil {
			log.Warn("incompatible link, skipping", zap.Error(err))
			continue
		}
		t.reserveID(id)
		t.attachLink(&Link{ID: id, Start: out.ID, End: in.ID})
	}
	for id, lj := range links {
		l, ok := t.links[id]
		if !ok || lj.NextLink.IsZero() {
			continue
		}
		if _, ok := t.links[lj.NextLink]; ok {
			l.Next = lj.NextLink
		}
	}
}
