package cmd

import (
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/coverquery/coverquery/internal/index"
	"github.com/coverquery/coverquery/internal/logging"
	"github.com/coverquery/coverquery/internal/mcp"
	"github.com/coverquery/coverquery/internal/query"
	"github.com/coverquery/coverquery/internal/runner"
)

// newServeCmd creates the serve command.
func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the coverage index over MCP (stdio)",
		Long: `Start the MCP server on stdio. AI clients connect to this process
and query the coverage index through the registered tools.

Nothing is printed to stdout: the MCP protocol owns it exclusively.
Diagnostics go to the log file under ~/.coverquery/logs/.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			// Re-initialize logging without the stderr echo: an MCP host may
			// surface stderr to users mid-session.
			logCfg := logging.ServeConfig()
			if debugMode {
				logCfg.Level = "debug"
			}
			logger, cleanup, err := logging.Setup(logCfg)
			if err == nil {
				slog.SetDefault(logger)
				defer cleanup()
			}

			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			client, err := newStoreClient(cfg)
			if err != nil {
				return err
			}

			engine := query.NewEngine(client, slog.Default())
			writer := index.NewWriter(client, slog.Default())
			r := runner.NewRunner(cfg.ProjectRoot, cfg.TestFramework, cfg.TestsCommand, slog.Default())

			server, err := mcp.NewServer(engine, writer, r, cfg, slog.Default())
			if err != nil {
				return err
			}
			return server.Serve(cmd.Context(), "stdio")
		},
	}
	return cmd
}
