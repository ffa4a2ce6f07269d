package graph

import "github.com/chazu/nodetree/pkg/types"

// SocketKey is the identity used when reconciling a node's sockets against
// its declaration.
type SocketKey struct {
	Identifier string
	Direction  Direction
	Type       types.SocketType
}

// Match pairs an existing socket with the declaration that keeps it.
type Match struct {
	Existing int
	Declared int
}

// Diff partitions a reconciliation. Indices refer to the slices passed to
// Reconcile.
type Diff struct {
	Kept    []Match
	Created []int // indices into declared
	Removed []int // indices into existing
}

// Reconcile diffs existing sockets against a fresh declaration by
// identifier and direction, never by position. An existing socket is kept
// when its type matches the declared type, or when its type could not be
// resolved at all, in which case it stays structurally present. A type
// change is a removal plus a creation.
func Reconcile(existing, declared []SocketKey) Diff {
	var d Diff
	used := make([]bool, len(existing))
	for di, dk := range declared {
		found := -1
		for ei, ek := range existing {
			if used[ei] || ek.Identifier != dk.Identifier || ek.Direction != dk.Direction {
				continue
			}
			if ek.Type == dk.Type || !ek.Type.IsValid() {
				found = ei
				break
			}
		}
		if found < 0 {
			d.Created = append(d.Created, di)
			continue
		}
		used[found] = true
		d.Kept = append(d.Kept, Match{Existing: found, Declared: di})
	}
	for ei := range existing {
		if !used[ei] {
			d.Removed = append(d.Removed, ei)
		}
	}
	return d
}
