package cmd

import (
	"encoding/json"
	"strings"

	"github.com/spf13/cobra"

	"github.com/sibyl-search/sibyl/internal/app"
	"github.com/sibyl-search/sibyl/internal/config"
	"github.com/sibyl-search/sibyl/internal/query"
	"github.com/sibyl-search/sibyl/internal/ui"
)

// queryOptions holds CLI flags for one-shot queries.
type queryOptions struct {
	topK    int
	session string
	format  string
	noColor bool
}

func newQueryCmd() *cobra.Command {
	var opts queryOptions

	cmd := &cobra.Command{
		Use:   "query <text>",
		Short: "Run a one-shot query against the local corpus",
		Long: `Run a single query through the full retrieval pipeline and print
the ranked evidence.

Examples:
  sibyl query "how is the cache invalidated"
  sibyl query "fusion weights" --top-k 3
  sibyl query "deployment steps" --format json`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runQuery(cmd, strings.Join(args, " "), opts)
		},
	}

	cmd.Flags().IntVarP(&opts.topK, "top-k", "k", 0, "Number of results (default from config)")
	cmd.Flags().StringVarP(&opts.session, "session", "s", "", "Session ID to scope the query")
	cmd.Flags().StringVarP(&opts.format, "format", "f", "text", "Output format: text, json")
	cmd.Flags().BoolVar(&opts.noColor, "no-color", false, "Disable colored output")

	return cmd
}

func runQuery(cmd *cobra.Command, text string, opts queryOptions) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	a, err := app.New(cmd.Context(), cfg, nil)
	if err != nil {
		return err
	}
	defer a.Close()

	resp, err := a.Orchestrator.Query(cmd.Context(), query.Request{
		Text:      text,
		TopK:      opts.topK,
		SessionID: opts.session,
	})
	if err != nil {
		return err
	}

	if opts.format == "json" {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(resp)
	}

	ui.NewRenderer(cmd.OutOrStdout(), opts.noColor).RenderResponse(resp)
	return nil
}
