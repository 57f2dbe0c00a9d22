// Package cli implements the c2store command-line interface.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/mesh-intelligence/c2store/internal/logging"
	"github.com/mesh-intelligence/c2store/internal/paths"
	"github.com/mesh-intelligence/c2store/pkg/c2store"
	"github.com/mesh-intelligence/c2store/pkg/types"
)

// Exit codes.
const (
	exitSuccess   = 0
	exitUserError = 1
	exitSysError  = 2
)

// rootFlags holds global flag values accessible to all subcommands.
type rootFlags struct {
	configDir string
	dataDir   string
	schemaDir string
	jsonMode  bool
}

// app carries the state resolved once per invocation.
type app struct {
	flags  rootFlags
	config types.Config
	logger *zap.Logger
}

// NewRootCmd creates the top-level "c2store" command with global flags
// and all subcommands registered.
func NewRootCmd() *cobra.Command {
	a := &app{logger: zap.NewNop()}

	root := &cobra.Command{
		Use:     "c2store",
		Short:   "Schema-driven entity store for command-and-control data",
		Long:    "c2store validates typed entities against declarative schemas and\nstores them with versioning, audit fields, and a change feed.",
		Version: c2store.Version,
		// Do not print usage on errors returned by subcommands.
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: a.setup,
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			_ = a.logger.Sync()
		},
	}

	root.PersistentFlags().StringVar(&a.flags.configDir, "config-dir", "", "configuration directory (default: platform config dir)")
	root.PersistentFlags().StringVar(&a.flags.dataDir, "data-dir", "", "data directory (default: $(CWD)/.c2store-db)")
	root.PersistentFlags().StringVar(&a.flags.schemaDir, "schema-dir", "", "schema directory (default: $(CWD)/schemas)")
	root.PersistentFlags().BoolVar(&a.flags.jsonMode, "json", false, "output in JSON format")

	root.AddCommand(newVersionCmd())
	root.AddCommand(newInitCmd(a))
	root.AddCommand(newSchemaCmd(a))
	root.AddCommand(newCreateCmd(a))
	root.AddCommand(newGetCmd(a))
	root.AddCommand(newUpdateCmd(a))
	root.AddCommand(newDeleteCmd(a))
	root.AddCommand(newListCmd(a))
	root.AddCommand(newHistoryCmd(a))
	root.AddCommand(newTriggerCmd(a))

	return root
}

// Execute runs the root command and exits with the appropriate code.
func Execute() {
	os.Exit(Run(os.Args[1:], os.Stdout, os.Stderr))
}

// Run executes the CLI with args and returns the process exit code.
func Run(args []string, stdout, stderr io.Writer) int {
	root := NewRootCmd()
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)

	err := root.ExecuteContext(context.Background())
	if err == nil {
		return exitSuccess
	}
	fmt.Fprintln(stderr, "Error:", err)
	return exitCode(err)
}

// setup resolves the config directory, loads config.yaml, resolves the data
// and schema directories, and builds the logger.
func (a *app) setup(cmd *cobra.Command, args []string) error {
	if cmd.Name() == "version" {
		return nil
	}

	configDir, err := paths.ResolveConfigDir(a.flags.configDir)
	if err != nil {
		return sysError(fmt.Errorf("resolve config dir: %w", err))
	}
	cfg, err := loadConfig(configDir)
	if err != nil {
		return sysError(err)
	}

	if cfg.DataDir, err = paths.ResolveDataDir(a.flags.dataDir, cfg.DataDir); err != nil {
		return sysError(fmt.Errorf("resolve data dir: %w", err))
	}
	if cfg.SchemaDir, err = paths.ResolveSchemaDir(a.flags.schemaDir, cfg.SchemaDir); err != nil {
		return sysError(fmt.Errorf("resolve schema dir: %w", err))
	}
	if err := cfg.Validate(); err != nil {
		return userError(fmt.Errorf("config %s: %w", configDir, err))
	}

	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return userError(err)
	}

	a.config = cfg
	a.logger = logger
	return nil
}

// openStore opens the store described by the resolved config. A schema
// directory that does not exist yet starts the store with no types.
func (a *app) openStore() (*c2store.Store, error) {
	cfg := a.config
	if _, err := os.Stat(cfg.SchemaDir); errors.Is(err, os.ErrNotExist) {
		a.logger.Warn("schema directory does not exist", zap.String("schema_dir", cfg.SchemaDir))
		cfg.SchemaDir = ""
	}
	store, err := c2store.Open(cfg, a.logger)
	if err != nil {
		return nil, sysError(err)
	}
	return store, nil
}
