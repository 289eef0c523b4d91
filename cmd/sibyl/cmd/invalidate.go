package cmd

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/sibyl-search/sibyl/internal/config"
)

func newInvalidateCmd() *cobra.Command {
	var document string
	var addr string

	cmd := &cobra.Command{
		Use:   "invalidate",
		Short: "Invalidate cached query results on a running server",
		Long: `Invalidate cached query results on a running server.

With no flags, every cached result is dropped. With --document, only
results citing that document are dropped.

Examples:
  sibyl invalidate
  sibyl invalidate --document report-2026.pdf`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			if addr == "" {
				addr = serverBaseURL(cfg.Server.HTTPAddr)
			}

			body, err := json.Marshal(map[string]string{"document_id": document})
			if err != nil {
				return err
			}

			client := &http.Client{Timeout: 10 * time.Second}
			resp, err := client.Post(addr+"/api/invalidate", "application/json", bytes.NewReader(body))
			if err != nil {
				return fmt.Errorf("cannot reach server at %s: %w", addr, err)
			}
			defer resp.Body.Close()

			if resp.StatusCode != http.StatusOK {
				data, _ := io.ReadAll(resp.Body)
				return fmt.Errorf("invalidation failed: %s: %s", resp.Status, strings.TrimSpace(string(data)))
			}

			scope := "all"
			if document != "" {
				scope = document
			}
			fmt.Fprintf(cmd.OutOrStdout(), "invalidated: %s\n", scope)
			return nil
		},
	}

	cmd.Flags().StringVarP(&document, "document", "d", "", "Invalidate only results citing this document")
	cmd.Flags().StringVar(&addr, "addr", "", "Server base URL (default from config)")
	return cmd
}

// serverBaseURL turns a listen address like ":8787" into a dialable URL.
func serverBaseURL(httpAddr string) string {
	if strings.HasPrefix(httpAddr, "http://") || strings.HasPrefix(httpAddr, "https://") {
		return strings.TrimSuffix(httpAddr, "/")
	}
	if strings.HasPrefix(httpAddr, ":") {
		return "http://localhost" + httpAddr
	}
	return "http://" + httpAddr
}
