// Command nodetree loads, validates and executes node tree documents.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/chazu/nodetree/pkg/graph"
	"github.com/chazu/nodetree/pkg/storage"
	"github.com/chazu/nodetree/pkg/system"
	"github.com/chazu/nodetree/pkg/watch"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"
)

var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

// cli carries the state shared by the subcommands.
type cli struct {
	cfgFile  string
	logLevel string

	cfg    system.Config
	logger *zap.Logger
}

func newRootCmd() *cobra.Command {
	c := &cli{}
	root := &cobra.Command{
		Use:          "nodetree",
		Short:        "Execute node graph documents",
		Long:         `nodetree loads node tree documents, executes them with the configured node registries and reports meshes and per-node errors.`,
		Version:      version,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return c.setup()
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if c.logger != nil {
				_ = c.logger.Sync()
			}
		},
	}
	root.PersistentFlags().StringVarP(&c.cfgFile, "config", "c", "", "config file (YAML)")
	root.PersistentFlags().StringVar(&c.logLevel, "log-level", "", "override the configured log level")

	root.AddCommand(c.runCmd(), c.typesCmd(), c.validateCmd(), c.watchCmd(), c.configCmd())
	return root
}

func (c *cli) setup() error {
	cfg, err := system.ReadConfig(c.cfgFile)
	if err != nil {
		return err
	}
	if c.logLevel != "" {
		cfg.LogLevel = c.logLevel
	}
	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	c.cfg, c.logger = cfg, logger
	return nil
}

// newLogger builds a development logger at debug level and a production
// logger otherwise.
func newLogger(level string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}
	zc := zap.NewProductionConfig()
	if lvl == zapcore.DebugLevel {
		zc = zap.NewDevelopmentConfig()
	}
	zc.Level = zap.NewAtomicLevelAt(lvl)
	zc.OutputPaths = []string{"stderr"}
	return zc.Build()
}

func (c *cli) newSystem() (*system.System, error) {
	sys := system.New(system.WithConfig(c.cfg), system.WithLogger(c.logger))
	if err := sys.Init(); err != nil {
		return nil, err
	}
	return sys, nil
}

// document reads the document at path, or from the configured storage
// backend when path is empty.
func (c *cli) document(sys *system.System, path string) (string, error) {
	var st storage.Storage
	if path != "" {
		st = storage.NewFile(path)
	} else {
		opened, err := sys.OpenStorage()
		if err != nil {
			return "", err
		}
		if closer, ok := opened.(io.Closer); ok {
			defer closer.Close()
		}
		st = opened
	}
	return st.Load()
}

func optionalArg(args []string) string {
	if len(args) > 0 {
		return args[0]
	}
	return ""
}

// ---------------------------------------------------------------------------
// run
// ---------------------------------------------------------------------------

func (c *cli) runCmd() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "run [document]",
		Short: "Execute a document and report its parts",
		Long: `Execute a node tree document and report the meshed parts and node errors.

Without a document argument the configured storage backend is read.

Examples:
  nodetree run examples/shelf.json
  nodetree run examples/shelf.json --json | jq '.meshes[].partName'`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sys, err := c.newSystem()
			if err != nil {
				return err
			}
			doc, err := c.document(sys, optionalArg(args))
			if err != nil {
				return err
			}
			result := NewApp(sys, c.logger).Run(doc)
			return printResult(cmd.OutOrStdout(), result, asJSON)
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the full result as JSON")
	return cmd
}

var errNodeFailures = errors.New("document has node errors")

func printResult(w io.Writer, result RunResult, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(w)
		if err := enc.Encode(result); err != nil {
			return err
		}
	} else {
		for _, m := range result.Meshes {
			fmt.Fprintf(w, "part %-20s %8d triangles\n", m.PartName, len(m.Indices)/3)
		}
		for _, e := range result.Errors {
			if e.NodeID == "" {
				fmt.Fprintf(w, "error: %s\n", e.Message)
				continue
			}
			fmt.Fprintf(w, "node %s: %s: %s\n", e.NodeID, e.Kind, e.Message)
		}
		if result.Report != "" {
			fmt.Fprintln(w, result.Report)
		}
	}
	if len(result.Errors) > 0 {
		return errNodeFailures
	}
	return nil
}

// ---------------------------------------------------------------------------
// types
// ---------------------------------------------------------------------------

func (c *cli) typesCmd() *cobra.Command {
	var all bool
	cmd := &cobra.Command{
		Use:   "types",
		Short: "List the node types of the enabled registries as YAML",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			sys, err := c.newSystem()
			if err != nil {
				return err
			}
			entries, err := Catalog(sys.Descriptor(), all)
			if err != nil {
				return err
			}
			enc := yaml.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent(2)
			defer enc.Close()
			return enc.Encode(entries)
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "include invisible conversion types")
	return cmd
}

// ---------------------------------------------------------------------------
// validate
// ---------------------------------------------------------------------------

func (c *cli) validateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate [document]",
		Short: "Check a document for structural problems",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sys, err := c.newSystem()
			if err != nil {
				return err
			}
			doc, err := c.document(sys, optionalArg(args))
			if err != nil {
				return err
			}
			if _, err := sys.Load(memoryOf(doc)); err != nil {
				return err
			}
			findings := sys.Tree().Validate()
			for _, f := range findings {
				fmt.Fprintln(cmd.OutOrStdout(), f.Error())
			}
			if graph.HasErrors(findings) {
				return fmt.Errorf("%d validation finding(s)", len(findings))
			}
			fmt.Fprintf(cmd.OutOrStdout(), "ok: %d nodes\n", sys.Tree().NodeCount())
			return nil
		},
	}
}

func memoryOf(doc string) storage.Storage {
	m := storage.NewMemory()
	_ = m.Save(doc)
	return m
}

// ---------------------------------------------------------------------------
// watch
// ---------------------------------------------------------------------------

func (c *cli) watchCmd() *cobra.Command {
	var debounce time.Duration
	cmd := &cobra.Command{
		Use:   "watch <document>",
		Short: "Re-run a document whenever it changes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sys, err := c.newSystem()
			if err != nil {
				return err
			}
			app := NewApp(sys, c.logger)
			path := args[0]

			w, err := watch.New(watch.Config{Path: path, Debounce: debounce, Logger: c.logger})
			if err != nil {
				return err
			}
			defer w.Stop()
			changes, err := w.Start()
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			runOnce := func() {
				doc, err := storage.NewFile(path).Load()
				if err != nil {
					c.logger.Warn("reading document", zap.String("path", path), zap.Error(err))
					return
				}
				_ = printResult(cmd.OutOrStdout(), app.Run(doc), false)
			}
			runOnce()
			return watchLoop(ctx, changes, runOnce)
		},
	}
	cmd.Flags().DurationVar(&debounce, "debounce", watch.DefaultDebounce, "quiet period before re-running")
	return cmd
}

// watchLoop calls fn for every change until ctx is done.
func watchLoop(ctx context.Context, changes <-chan struct{}, fn func()) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case _, ok := <-changes:
			if !ok {
				return nil
			}
			fn()
		}
	}
}

// ---------------------------------------------------------------------------
// config
// ---------------------------------------------------------------------------

func (c *cli) configCmd() *cobra.Command {
	var write string
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration as YAML",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := yaml.Marshal(c.cfg)
			if err != nil {
				return err
			}
			if write != "" {
				if err := os.WriteFile(write, data, 0o644); err != nil {
					return fmt.Errorf("writing config: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", write)
				return nil
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		},
	}
	cmd.Flags().StringVar(&write, "write", "", "write the configuration to this file instead of printing it")
	return cmd
}
