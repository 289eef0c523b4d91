// Package cmd provides the CLI commands for Sibyl.
package cmd

import (
	"github.com/spf13/cobra"

	"github.com/sibyl-search/sibyl/pkg/version"
)

var configPath string

// NewRootCmd creates the root command for the sibyl CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sibyl",
		Short: "Hybrid retrieval and ranking server",
		Long: `Sibyl answers natural-language queries over an ingested document
corpus using hybrid dense and sparse retrieval, reciprocal-rank fusion,
and cross-encoder reranking, with content-addressed result caching.

Run 'sibyl serve' to start the server, or 'sibyl query' for a one-shot
query against the local corpus.`,
		Version:       version.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.SetVersionTemplate("sibyl version {{.Version}}\n")
	cmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Config file path")

	cmd.AddCommand(newInitCmd())
	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newQueryCmd())
	cmd.AddCommand(newInvalidateCmd())
	cmd.AddCommand(newStatusCmd())
	cmd.AddCommand(newVersionCmd())

	return cmd
}

// Execute runs the root command.
func Execute() error {
	return NewRootCmd().Execute()
}
