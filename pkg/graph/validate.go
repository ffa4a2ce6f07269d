package graph

import "fmt"

// ValidationSeverity indicates whether a validation finding blocks
// execution or is merely informational.
type ValidationSeverity int

const (
	SeverityError   ValidationSeverity = iota // blocks evaluation
	SeverityWarning                           // informational
)

func (s ValidationSeverity) String() string {
	switch s {
	case SeverityError:
		return "error"
	case SeverityWarning:
		return "warning"
	default:
		return fmt.Sprintf("ValidationSeverity(%d)", int(s))
	}
}

// ValidationError describes a single validation finding.
type ValidationError struct {
	NodeID   ID                 // which node has the problem (zero if tree-level)
	Message  string             // human-readable description
	Severity ValidationSeverity // error or warning
}

func (e ValidationError) Error() string {
	if e.NodeID.IsZero() {
		return fmt.Sprintf("[%s] %s", e.Severity, e.Message)
	}
	return fmt.Sprintf("[%s] node %s: %s", e.Severity, e.NodeID, e.Message)
}

// Validate runs the structural checks on the tree and returns every
// finding. An empty slice means the tree is valid. Validate never mutates
// the tree.
func (t *Tree) Validate() []ValidationError {
	var errs []ValidationError
	errs = append(errs, t.validateAcyclic()...)
	errs = append(errs, t.validateLinks()...)
	errs = append(errs, t.validateSockets()...)
	return errs
}

// HasErrors reports whether any finding is an error.
func HasErrors(errs []ValidationError) bool {
	for _, e := range errs {
		if e.Severity == SeverityError {
			return true
		}
	}
	return false
}

// validateAcyclic checks for cycles using DFS with 3-color marking.
// White (0) = unvisited, gray (1) = in current DFS path, black (2) = fully explored.
// Reaching a gray node means a cycle.
func (t *Tree) validateAcyclic() []ValidationError {
	const (
		white = iota
		gray
		black
	)

	color := make(map[ID]int)
	var errs []ValidationError

	var visit func(n *Node)
	visit = func(n *Node) {
		color[n.ID] = gray
		for _, d := range t.Downstream(n) {
			switch color[d.ID] {
			case gray:
				errs = append(errs, ValidationError{
					NodeID:   d.ID,
					Message:  fmt.Sprintf("cycle detected: node %s is part of a cycle", d.ID),
					Severity: SeverityError,
				})
			case white:
				visit(d)
			}
		}
		color[n.ID] = black
	}

	for _, n := range t.nodes {
		if color[n.ID] == white {
			visit(n)
		}
	}
	return errs
}

// validateLinks checks that every link has live endpoints of the right
// direction and compatible types.
func (t *Tree) validateLinks() []ValidationError {
	var errs []ValidationError
	for _, l := range t.Links() {
		out, okOut := t.sockets[l.Start]
		in, okIn := t.sockets[l.End]
		if !okOut || !okIn {
			errs = append(errs, ValidationError{
				Message:  fmt.Sprintf("link %s references a missing socket", l.ID),
				Severity: SeverityError,
			})
			continue
		}
		if out.Direction != Output || in.Direction != Input {
			errs = append(errs, ValidationError{
				NodeID:   in.Node,
				Message:  fmt.Sprintf("link %s does not run from an output to an input", l.ID),
				Severity: SeverityError,
			})
			continue
		}
		if _, err := t.linkKind(out, in); err != nil {
			errs = append(errs, ValidationError{
				NodeID:   in.Node,
				Message:  fmt.Sprintf("link %s into %q: %v", l.ID, in.Identifier, err),
				Severity: SeverityError,
			})
		}
		if !l.Next.IsZero() {
			if _, ok := t.links[l.Next]; !ok {
				errs = append(errs, ValidationError{
					Message:  fmt.Sprintf("link %s chains to missing link %s", l.ID, l.Next),
					Severity: SeverityWarning,
				})
			}
		}
	}
	return errs
}

// validateSockets checks fan-in, unresolved types and unconnected inputs
// without a value.
func (t *Tree) validateSockets() []ValidationError {
	var errs []ValidationError
	for _, n := range t.nodes {
		for _, s := range n.sockets() {
			if !s.Type.IsValid() {
				errs = append(errs, ValidationError{
					NodeID:   n.ID,
					Message:  fmt.Sprintf("socket %q has unresolved type %q", s.Identifier, s.unresolved),
					Severity: SeverityWarning,
				})
			}
			if s.Direction != Input {
				continue
			}
			switch {
			case len(s.links) > 1:
				errs = append(errs, ValidationError{
					NodeID:   n.ID,
					Message:  fmt.Sprintf("input %q has %d incoming links", s.Identifier, len(s.links)),
					Severity: SeverityError,
				})
			case len(s.links) == 0 && !s.Value.IsValid():
				errs = append(errs, ValidationError{
					NodeID:   n.ID,
					Message:  fmt.Sprintf("input %q is unconnected and has no value", s.Identifier),
					Severity: SeverityWarning,
				})
			}
		}
	}
	return errs
}
