// Package main provides the steprunner-mcp binary, an MCP server over a
// step-runner results directory.
package main

import (
	"fmt"
	"os"

	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"

	smcp "github.com/ormasoftchile/steprunner/pkg/ecosystem/mcp"
	"github.com/ormasoftchile/steprunner/pkg/results"
)

var version = "dev"

func main() {
	var resultsDir string
	cmd := &cobra.Command{
		Use:           "steprunner-mcp",
		Short:         "MCP stdio server exposing step-runner results",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return server.ServeStdio(smcp.NewServer(version, resultsDir))
		},
	}
	cmd.Flags().StringVar(&resultsDir, "results-dir", results.DefaultResultsDir, "Default results directory")
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
