// Package main provides the entry point for the sibyl CLI.
package main

import (
	"os"

	"github.com/sibyl-search/sibyl/cmd/sibyl/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
