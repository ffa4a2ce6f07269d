package system

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/chazu/nodetree/pkg/kernel/sdfx"
	"github.com/chazu/nodetree/pkg/nodes/conversion"
	"github.com/chazu/nodetree/pkg/nodes/function"
	"github.com/chazu/nodetree/pkg/nodes/geometry"
	"github.com/chazu/nodetree/pkg/script"
	"github.com/chazu/nodetree/pkg/storage"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes environment overrides, e.g. NODETREE_LOG_LEVEL.
const EnvPrefix = "NODETREE"

// Config selects the registries a system loads and how its collaborators
// are built.
type Config struct {
	Registries []string      `mapstructure:"registries" yaml:"registries"`
	LogLevel   string        `mapstructure:"log_level" yaml:"log_level"`
	Kernel     KernelConfig  `mapstructure:"kernel" yaml:"kernel"`
	Script     ScriptConfig  `mapstructure:"script" yaml:"script"`
	Storage    StorageConfig `mapstructure:"storage" yaml:"storage"`
}

// KernelConfig configures the geometry kernel.
type KernelConfig struct {
	MeshCells int `mapstructure:"mesh_cells" yaml:"mesh_cells"`
}

// ScriptConfig configures the expression evaluator.
type ScriptConfig struct {
	Timeout time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

// StorageConfig names the document backend.
type StorageConfig struct {
	Backend string `mapstructure:"backend" yaml:"backend"`
	Path    string `mapstructure:"path" yaml:"path"`
}

// KnownRegistries lists the registry names Init understands.
var KnownRegistries = []string{function.Name, conversion.Name, geometry.Name}

var ErrUnknownRegistry = errors.New("system: unknown registry")

// DefaultConfig enables every registry with a file store next to the
// working directory.
func DefaultConfig() Config {
	return Config{
		Registries: append([]string(nil), KnownRegistries...),
		LogLevel:   "info",
		Kernel:     KernelConfig{MeshCells: sdfx.DefaultMeshCells},
		Script:     ScriptConfig{Timeout: script.DefaultTimeout},
		Storage:    StorageConfig{Backend: storage.BackendFile, Path: "nodetree.json"},
	}
}

// Validate reports the first problem with c.
func (c Config) Validate() error {
	for _, r := range c.Registries {
		if !known(r) {
			return fmt.Errorf("%w %q (known: %s)", ErrUnknownRegistry, r, strings.Join(KnownRegistries, ", "))
		}
	}
	if c.Kernel.MeshCells <= 0 {
		return fmt.Errorf("system: kernel.mesh_cells must be positive, got %d", c.Kernel.MeshCells)
	}
	if c.Script.Timeout <= 0 {
		return fmt.Errorf("system: script.timeout must be positive, got %s", c.Script.Timeout)
	}
	switch c.Storage.Backend {
	case storage.BackendFile, storage.BackendBadger, storage.BackendMemory:
	default:
		return fmt.Errorf("system: unknown storage backend %q", c.Storage.Backend)
	}
	return nil
}

// Enabled reports whether the registry called name is enabled.
func (c Config) Enabled(name string) bool {
	for _, r := range c.Registries {
		if r == name {
			return true
		}
	}
	return false
}

func known(name string) bool {
	for _, r := range KnownRegistries {
		if r == name {
			return true
		}
	}
	return false
}

// ReadConfig reads a YAML configuration file on top of DefaultConfig.
// Environment variables prefixed with EnvPrefix override file values. An
// empty path reads only defaults and the environment.
func ReadConfig(path string) (Config, error) {
	def := DefaultConfig()
	v := viper.New()
	v.SetDefault("registries", def.Registries)
	v.SetDefault("log_level", def.LogLevel)
	v.SetDefault("kernel.mesh_cells", def.Kernel.MeshCells)
	v.SetDefault("script.timeout", def.Script.Timeout)
	v.SetDefault("storage.backend", def.Storage.Backend)
	v.SetDefault("storage.path", def.Storage.Path)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("system: reading config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("system: decoding config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
