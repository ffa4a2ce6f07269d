package graph

import (
	"fmt"
	"strconv"
)

// ID identifies a node, socket or link. IDs are unique within a tree and
// stable across serialization. The zero ID is never allocated.
type ID uint64

// IsZero returns true if this is the zero ID.
func (id ID) IsZero() bool {
	return id == 0
}

func (id ID) String() string {
	return strconv.FormatUint(uint64(id), 10)
}

// ParseID parses the decimal form produced by String.
func ParseID(s string) (ID, error) {
	n, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("graph: invalid id %q: %w", s, err)
	}
	return ID(n), nil
}
