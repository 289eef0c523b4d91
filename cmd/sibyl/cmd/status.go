package cmd

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/sibyl-search/sibyl/internal/config"
	"github.com/sibyl-search/sibyl/internal/telemetry"
	"github.com/sibyl-search/sibyl/internal/ui"
)

func newStatusCmd() *cobra.Command {
	var addr string
	var format string

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show query statistics from a running server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			if addr == "" {
				addr = serverBaseURL(cfg.Server.HTTPAddr)
			}

			client := &http.Client{Timeout: 10 * time.Second}
			resp, err := client.Get(addr + "/api/status")
			if err != nil {
				return fmt.Errorf("cannot reach server at %s: %w", addr, err)
			}
			defer resp.Body.Close()

			if resp.StatusCode != http.StatusOK {
				return fmt.Errorf("status request failed: %s", resp.Status)
			}

			var body struct {
				Version json.RawMessage    `json:"version"`
				Metrics telemetry.Snapshot `json:"metrics"`
			}
			if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
				return err
			}

			if format == "json" {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(body)
			}

			ui.NewRenderer(cmd.OutOrStdout(), false).RenderStatus(body.Metrics)
			return nil
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "Server base URL (default from config)")
	cmd.Flags().StringVarP(&format, "format", "f", "text", "Output format: text, json")
	return cmd
}
