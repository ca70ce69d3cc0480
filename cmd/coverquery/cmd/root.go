// Package cmd provides the CLI commands for CoverQuery.
package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/coverquery/coverquery/internal/config"
	"github.com/coverquery/coverquery/internal/logging"
	"github.com/coverquery/coverquery/internal/store"
	"github.com/coverquery/coverquery/pkg/version"
)

var (
	configPath string
	debugMode  bool

	loggingCleanup func()
)

// NewRootCmd creates the root command for the coverquery CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "coverquery",
		Short: "Per-test line coverage index for Python projects",
		Long: `CoverQuery runs a test suite one test at a time under coverage
instrumentation, indexes which tests execute which lines into a search
backend, and answers coverage questions from the CLI or over MCP.

Run 'coverquery init' in your project directory to get started.`,
		Version:       version.Version,
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	cmd.SetVersionTemplate("coverquery version {{.Version}}\n")

	cmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to config file (default: ./coverquery.yaml)")
	cmd.PersistentFlags().BoolVar(&debugMode, "debug", false, "Enable debug logging to ~/.coverquery/logs/")

	cmd.PersistentPreRunE = setupLogging
	cmd.PersistentPostRun = func(*cobra.Command, []string) {
		if loggingCleanup != nil {
			loggingCleanup()
		}
	}

	cmd.AddCommand(newInitCmd())
	cmd.AddCommand(newRunCmd())
	cmd.AddCommand(newIndexCmd())
	cmd.AddCommand(newQueryCmd())
	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newStartCmd())
	cmd.AddCommand(newVersionCmd())

	return cmd
}

// Execute runs the root command.
func Execute() error {
	return NewRootCmd().Execute()
}

func setupLogging(*cobra.Command, []string) error {
	cfg := logging.DefaultConfig()
	if debugMode {
		cfg.Level = "debug"
	}
	logger, cleanup, err := logging.Setup(cfg)
	if err != nil {
		// Logging is not worth failing a command over.
		return nil
	}
	slog.SetDefault(logger)
	loggingCleanup = cleanup
	return nil
}

// projectRoot returns the directory the project config is resolved
// against: the config file's directory when set, else the working
// directory.
func projectRoot() string {
	if configPath != "" {
		return filepath.Dir(configPath)
	}
	wd, err := os.Getwd()
	if err != nil {
		return "."
	}
	return wd
}

// loadConfig loads the project configuration for the current invocation.
func loadConfig() (*config.Config, error) {
	root := projectRoot()
	path := configPath
	if path == "" {
		path = filepath.Join(root, config.DefaultConfigName)
	}
	return config.Load(path, root)
}

// newStoreClient builds a store client from the loaded configuration.
func newStoreClient(cfg *config.Config) (*store.Client, error) {
	return store.NewClient(store.Config{
		Scheme:   cfg.Store.Scheme,
		Host:     cfg.Store.Host,
		Port:     cfg.Store.Port,
		Username: cfg.Store.Username,
		Password: cfg.Store.Password,
		Index:    cfg.Store.Index,
		Timeout:  cfg.Store.Timeout,
	}, slog.Default())
}

// errorf prints an error to stderr in a consistent format.
func errorf(cmd *cobra.Command, format string, args ...any) {
	fmt.Fprintf(cmd.ErrOrStderr(), "Error: "+format+"\n", args...)
}
