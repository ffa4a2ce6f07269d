package main

import (
	"github.com/chazu/nodetree/pkg/engine"
	"github.com/chazu/nodetree/pkg/graph"
	"github.com/chazu/nodetree/pkg/storage"
	"github.com/chazu/nodetree/pkg/system"
	"go.uber.org/zap"
)

// colorPalette is a default palette used to assign distinct colors to parts.
var colorPalette = []string{
	"#4A90D9", "#E67E22", "#2ECC71", "#9B59B6",
	"#E74C3C", "#1ABC9C", "#F39C12", "#3498DB",
}

// Error kinds reported in NodeErrorData.Kind.
const (
	KindDocument     = "document"
	KindMissingInput = "missing_input"
	KindFailed       = "failed"
	KindCyclic       = "cyclic"
	KindPart         = "part"
)

// App runs tree documents through a node system: load, execute, tessellate.
type App struct {
	sys    *system.System
	logger *zap.Logger
}

// MeshData is the JSON-serializable mesh format sent to a viewer.
type MeshData struct {
	Vertices []float32 `json:"vertices"`
	Normals  []float32 `json:"normals"`
	Indices  []uint32  `json:"indices"`
	PartName string    `json:"partName"`
	Color    string    `json:"color"`
}

// NodeErrorData is a per-node problem. NodeID is empty for document level
// errors.
type NodeErrorData struct {
	NodeID  string `json:"nodeId,omitempty"`
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// RunResult is the full result of one Run.
type RunResult struct {
	Meshes []MeshData      `json:"meshes"`
	Errors []NodeErrorData `json:"errors"`
	Report string          `json:"report,omitempty"`
}

// NewApp wraps an initialized system.
func NewApp(sys *system.System, logger *zap.Logger) *App {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &App{sys: sys, logger: logger}
}

// NewDefaultApp builds an app over a system with the default configuration.
func NewDefaultApp() (*App, error) {
	sys := system.New()
	if err := sys.Init(); err != nil {
		return nil, err
	}
	return NewApp(sys, nil), nil
}

// System returns the underlying node system.
func (a *App) System() *system.System { return a.sys }

// Run replaces the tree with doc, which is either a stored document (tree
// plus UI layout) or a bare tree, executes it and meshes its parts. Node
// failures are reported in the result; they never abort the run.
func (a *App) Run(doc string) RunResult {
	result := RunResult{
		Meshes: []MeshData{},
		Errors: []NodeErrorData{},
	}
	documentError := func(err error) RunResult {
		a.logger.Warn("run failed", zap.Error(err))
		result.Errors = append(result.Errors, NodeErrorData{Kind: KindDocument, Message: err.Error()})
		return result
	}

	mem := storage.NewMemory()
	if err := mem.Save(doc); err != nil {
		return documentError(err)
	}
	if _, err := a.sys.Load(mem); err != nil {
		return documentError(err)
	}

	rep, err := a.sys.Execute()
	if err != nil {
		return documentError(err)
	}
	result.Report = rep.String()
	reported := a.collectNodeErrors(&result, rep)

	res, err := a.sys.Tessellate()
	if err != nil {
		return documentError(err)
	}
	for _, pe := range res.Errors {
		if reported[pe.Node] {
			continue
		}
		result.Errors = append(result.Errors, NodeErrorData{NodeID: pe.Node.String(), Kind: KindPart, Message: pe.Error()})
	}
	for i, m := range res.Meshes {
		result.Meshes = append(result.Meshes, MeshData{
			Vertices: m.Vertices,
			Normals:  m.Normals,
			Indices:  m.Indices,
			PartName: m.PartName,
			Color:    colorPalette[i%len(colorPalette)],
		})
	}
	return result
}

// collectNodeErrors appends the pass's problem nodes in execution order and
// returns the set it reported.
func (a *App) collectNodeErrors(result *RunResult, rep *engine.Report) map[graph.ID]bool {
	reported := make(map[graph.ID]bool)
	missing := make(map[graph.ID]bool, len(rep.Missing))
	for _, id := range rep.Missing {
		missing[id] = true
	}
	for _, id := range rep.Order {
		switch {
		case missing[id]:
			result.Errors = append(result.Errors, NodeErrorData{NodeID: id.String(), Kind: KindMissingInput, Message: "missing input"})
		case rep.Failed[id] != "":
			result.Errors = append(result.Errors, NodeErrorData{NodeID: id.String(), Kind: KindFailed, Message: rep.Failed[id]})
		default:
			continue
		}
		reported[id] = true
	}
	for _, id := range rep.Cyclic {
		result.Errors = append(result.Errors, NodeErrorData{NodeID: id.String(), Kind: KindCyclic, Message: engine.ErrCycle.Error()})
		reported[id] = true
	}
	return reported
}
