// Package system owns the lifecycle of one node tree: it loads which node
// registries to enable, builds the descriptor, tree and executor from them,
// runs passes and persists the tree through a storage backend.
//
// A System is not safe for concurrent use; callers serialize access the
// same way they serialize access to the tree itself.
package system

import (
	"errors"
	"fmt"

	"github.com/chazu/nodetree/pkg/engine"
	"github.com/chazu/nodetree/pkg/graph"
	"github.com/chazu/nodetree/pkg/kernel"
	"github.com/chazu/nodetree/pkg/kernel/sdfx"
	"github.com/chazu/nodetree/pkg/nodes/conversion"
	"github.com/chazu/nodetree/pkg/nodes/function"
	"github.com/chazu/nodetree/pkg/nodes/geometry"
	"github.com/chazu/nodetree/pkg/script"
	"github.com/chazu/nodetree/pkg/storage"
	"github.com/chazu/nodetree/pkg/tessellate"
	"github.com/chazu/nodetree/pkg/types"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

var (
	ErrNotInitialized = errors.New("system: not initialized")
	ErrInitialized    = errors.New("system: already initialized")
)

// System is a NodeSystem: configuration plus the tree and executor built
// from it.
type System struct {
	cfg     Config
	logger  *zap.Logger
	metrics prometheus.Registerer

	types  *types.Registry
	kernel *sdfx.Kernel
	desc   *graph.Descriptor
	tree   *graph.Tree
	exec   *engine.Executor
}

// Option configures a System.
type Option func(*System)

// WithLogger sets the logger handed to the tree, executor and evaluator.
func WithLogger(l *zap.Logger) Option {
	return func(s *System) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithMetrics registers executor metrics with reg.
func WithMetrics(reg prometheus.Registerer) Option {
	return func(s *System) { s.metrics = reg }
}

// WithConfig replaces the default configuration.
func WithConfig(cfg Config) Option {
	return func(s *System) { s.cfg = cfg }
}

// New returns an uninitialized system using DefaultConfig.
func New(opts ...Option) *System {
	s := &System{cfg: DefaultConfig(), logger: zap.NewNop()}
	for _, o := range opts {
		o(s)
	}
	return s
}

// LoadConfiguration reads the YAML file at path. It must be called before
// Init to take effect.
func (s *System) LoadConfiguration(path string) error {
	if s.tree != nil {
		return ErrInitialized
	}
	cfg, err := ReadConfig(path)
	if err != nil {
		return err
	}
	s.cfg = cfg
	s.logger.Debug("configuration loaded",
		zap.String("path", path),
		zap.Strings("registries", cfg.Registries))
	return nil
}

// Config returns the active configuration.
func (s *System) Config() Config { return s.cfg }

// Init builds the type registry, the descriptor from the enabled
// registries, an empty tree and the executor.
func (s *System) Init() error {
	if s.tree != nil {
		return ErrInitialized
	}
	if err := s.cfg.Validate(); err != nil {
		return err
	}

	tr := types.NewRegistry()
	k := sdfx.New(sdfx.WithMeshCells(s.cfg.Kernel.MeshCells))

	var regs []*graph.Registry
	for _, name := range s.cfg.Registries {
		switch name {
		case function.Name:
			ev := script.New(script.WithTimeout(s.cfg.Script.Timeout), script.WithLogger(s.logger.Named("script")))
			regs = append(regs, function.New(ev))
		case conversion.Name:
			r, err := conversion.New(tr)
			if err != nil {
				return fmt.Errorf("system: %w", err)
			}
			regs = append(regs, r)
		case geometry.Name:
			regs = append(regs, geometry.New(tr, k))
		}
	}

	desc, err := graph.NewDescriptor(tr, regs...)
	if err != nil {
		return fmt.Errorf("system: building descriptor: %w", err)
	}

	opts := []engine.Option{engine.WithLogger(s.logger.Named("executor"))}
	if s.metrics != nil {
		opts = append(opts, engine.WithMetrics(s.metrics))
	}

	s.types, s.kernel, s.desc = tr, k, desc
	s.tree = graph.NewTree(desc, graph.WithLogger(s.logger.Named("tree")))
	s.exec = engine.New(opts...)
	s.logger.Info("node system initialized",
		zap.Strings("registries", s.cfg.Registries),
		zap.Int("node_types", len(desc.IDs())))
	return nil
}

// Execute runs one pass over the tree.
func (s *System) Execute() (*engine.Report, error) {
	if s.tree == nil {
		return nil, ErrNotInitialized
	}
	return s.exec.Execute(s.tree)
}

// ExecuteIfDirty runs a pass only when the tree changed since the last one.
// It returns a nil report when nothing ran.
func (s *System) ExecuteIfDirty() (*engine.Report, error) {
	if s.tree == nil {
		return nil, ErrNotInitialized
	}
	if !s.tree.Dirty() {
		return nil, nil
	}
	return s.exec.Execute(s.tree)
}

// Tessellate meshes the tree's output parts from the last pass.
func (s *System) Tessellate() (*tessellate.Result, error) {
	if s.tree == nil {
		return nil, ErrNotInitialized
	}
	return tessellate.Tessellate(s.tree, s.exec, s.kernel)
}

// Tree returns the node tree, nil before Init.
func (s *System) Tree() *graph.Tree { return s.tree }

// Executor returns the tree executor, nil before Init.
func (s *System) Executor() *engine.Executor { return s.exec }

// Descriptor returns the node type descriptor, nil before Init.
func (s *System) Descriptor() *graph.Descriptor { return s.desc }

// Kernel returns the geometry kernel, nil before Init.
func (s *System) Kernel() kernel.Kernel {
	if s.kernel == nil {
		return nil
	}
	return s.kernel
}

// OpenStorage opens the configured storage backend.
func (s *System) OpenStorage() (storage.Storage, error) {
	return storage.Open(s.cfg.Storage.Backend, s.cfg.Storage.Path, s.logger.Named("storage"))
}

// Save writes the tree together with the editor's UI layout to st.
func (s *System) Save(st storage.Storage, ui []byte) error {
	if s.tree == nil {
		return ErrNotInitialized
	}
	data, err := s.tree.Serialize()
	if err != nil {
		return fmt.Errorf("system: %w", err)
	}
	doc, err := storage.Compose(data, ui)
	if err != nil {
		return err
	}
	return st.Save(doc)
}

// Load replaces the tree with the document in st and returns its UI
// layout fragment, which may be nil.
func (s *System) Load(st storage.Storage) ([]byte, error) {
	if s.tree == nil {
		return nil, ErrNotInitialized
	}
	doc, err := st.Load()
	if err != nil {
		return nil, err
	}
	data, ui, err := storage.Split(doc)
	if err != nil {
		return nil, err
	}
	if err := s.tree.Deserialize(data); err != nil {
		return nil, fmt.Errorf("system: %w", err)
	}
	s.logger.Debug("tree loaded", zap.Int("nodes", s.tree.NodeCount()))
	return ui, nil
}
