// Package mcp exposes persisted step-runner results and configuration
// validation as MCP tools, so external reporting and agents can consume
// them.
package mcp

import (
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// NewServer creates a new MCP server with steprunner tools registered.
// resultsDir is used when a call does not name one.
func NewServer(version, resultsDir string) *server.MCPServer {
	s := server.NewMCPServer(
		"steprunner",
		version,
		server.WithToolCapabilities(true),
	)
	h := &Handlers{ResultsDir: resultsDir}

	s.AddTool(
		mcp.NewTool("steprunner/results",
			mcp.WithDescription("Return the accumulated step results of a results directory as JSON"),
			mcp.WithString("results_dir", mcp.Description("Results directory (defaults to the server's)")),
			mcp.WithString("step", mcp.Description("Only results of this step")),
			mcp.WithString("environment", mcp.Description("Only results of this environment")),
		),
		h.HandleResults,
	)

	s.AddTool(
		mcp.NewTool("steprunner/artifact",
			mcp.WithDescription("Return the value of a named artifact recorded by an earlier step"),
			mcp.WithString("name", mcp.Required(), mcp.Description("Artifact name")),
			mcp.WithString("results_dir", mcp.Description("Results directory (defaults to the server's)")),
			mcp.WithString("step", mcp.Description("Step that recorded the artifact")),
			mcp.WithString("sub_step", mcp.Description("Sub-step that recorded the artifact")),
			mcp.WithString("environment", mcp.Description("Environment the artifact was recorded for")),
		),
		h.HandleArtifact,
	)

	s.AddTool(
		mcp.NewTool("steprunner/validate",
			mcp.WithDescription("Load and validate step-runner configuration files or directories"),
			mcp.WithString("path", mcp.Required(), mcp.Description("Configuration file or directory")),
		),
		HandleValidate,
	)

	s.AddTool(
		mcp.NewTool("steprunner/schema",
			mcp.WithDescription("Export the step-runner configuration JSON Schema"),
			mcp.WithString("type", mcp.Required(), mcp.Description("Schema type: 'document' or 'sub-step'")),
		),
		HandleSchema,
	)

	return s
}
