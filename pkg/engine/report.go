package engine

import (
	"fmt"
	"strings"
	"time"

	"github.com/chazu/nodetree/pkg/graph"
)

// Report summarizes one execution pass.
type Report struct {
	PassID string

	// Order is the topological order of the required nodes.
	Order []graph.ID
	// Executed lists nodes whose callback ran and succeeded.
	Executed []graph.ID
	// Missing lists nodes skipped because an input had no value.
	Missing []graph.ID
	// Failed maps nodes whose callback failed to the failure message.
	Failed map[graph.ID]string
	// Cyclic lists required nodes that sit on a cycle and were skipped.
	Cyclic []graph.ID

	Duration time.Duration
}

// OK reports whether every required node executed.
func (r *Report) OK() bool {
	return len(r.Missing) == 0 && len(r.Failed) == 0 && len(r.Cyclic) == 0
}

func (r *Report) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "pass %s: %d executed, %d missing input, %d failed",
		r.PassID, len(r.Executed), len(r.Missing), len(r.Failed))
	if len(r.Cyclic) > 0 {
		fmt.Fprintf(&sb, ", %d cyclic", len(r.Cyclic))
	}
	fmt.Fprintf(&sb, " in %s", r.Duration)
	return sb.String()
}
