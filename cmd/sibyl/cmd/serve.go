package cmd

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/sibyl-search/sibyl/internal/app"
	"github.com/sibyl-search/sibyl/internal/config"
	"github.com/sibyl-search/sibyl/internal/logging"
)

func newServeCmd() *cobra.Command {
	var transport string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the query server",
		Long: `Start the query server on the configured transport.

The HTTP transport serves a JSON API; the MCP transport speaks the
Model Context Protocol over stdio for AI clients.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			if transport != "" {
				cfg.Server.Transport = transport
			}

			logCfg := logging.DefaultConfig()
			logCfg.Level = cfg.Server.LogLevel
			if cfg.Server.LogFile != "" {
				logCfg.FilePath = cfg.Server.LogFile
			}
			// stdio carries the MCP protocol; logs must stay off it and
			// stderr is reserved for the client's diagnostics.
			if cfg.Server.Transport == "mcp" {
				logCfg.WriteToStderr = false
			}
			cleanup, err := logging.SetupDefault(logCfg)
			if err != nil {
				return err
			}
			defer cleanup()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := app.New(ctx, cfg, nil)
			if err != nil {
				return err
			}
			defer a.Close()

			return a.Run(ctx)
		},
	}

	cmd.Flags().StringVarP(&transport, "transport", "t", "", "Transport override: http or mcp")
	return cmd
}
