package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/ormasoftchile/steprunner/pkg/config"
	"github.com/ormasoftchile/steprunner/pkg/config/decryptors"
	"github.com/ormasoftchile/steprunner/pkg/results"
)

// Handlers serves the result tools for a default results directory.
type Handlers struct {
	ResultsDir string
}

// HandleResults implements the steprunner/results MCP tool.
func (h *Handlers) HandleResults(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := req.GetArguments()
	wr, err := h.load(args)
	if err != nil {
		return errorResult(err.Error()), nil
	}
	stepName, _ := args["step"].(string)
	env, hasEnv := args["environment"].(string)

	filtered := results.NewWorkflowResult()
	for _, r := range wr.StepResults() {
		if stepName != "" && r.StepName() != stepName {
			continue
		}
		if hasEnv && r.Environment() != env {
			continue
		}
		if err := filtered.AddStepResult(r); err != nil {
			return errorResult(err.Error()), nil
		}
	}
	return jsonResult(filtered.StepRunnerResultsDict())
}

// HandleArtifact implements the steprunner/artifact MCP tool.
func (h *Handlers) HandleArtifact(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := req.GetArguments()
	name, _ := args["name"].(string)
	if name == "" {
		return errorResult("name argument is required"), nil
	}
	wr, err := h.load(args)
	if err != nil {
		return errorResult(err.Error()), nil
	}

	var filters []results.Filter
	if s, ok := args["step"].(string); ok && s != "" {
		filters = append(filters, results.StepName(s))
	}
	if s, ok := args["sub_step"].(string); ok && s != "" {
		filters = append(filters, results.SubStepName(s))
	}
	if s, ok := args["environment"].(string); ok {
		filters = append(filters, results.Environment(s))
	}
	value := wr.GetArtifactValue(name, filters...)
	if value == nil {
		return errorResult(fmt.Sprintf("no artifact %q recorded", name)), nil
	}
	return jsonResult(map[string]any{"name": name, "value": value})
}

func (h *Handlers) load(args map[string]any) (*results.WorkflowResult, error) {
	dir, _ := args["results_dir"].(string)
	if dir == "" {
		dir = h.ResultsDir
	}
	if dir == "" {
		dir = results.DefaultResultsDir
	}
	if _, err := os.Stat(dir); err != nil {
		return nil, fmt.Errorf("results directory: %w", err)
	}
	return results.NewStore(dir).Load()
}

// HandleValidate implements the steprunner/validate MCP tool.
func HandleValidate(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := req.GetArguments()
	path, _ := args["path"].(string)
	if path == "" {
		return errorResult("path argument is required"), nil
	}

	cfg := config.New(decryptors.NewRegistry())
	if err := cfg.Add(path); err != nil {
		return errorResult(err.Error()), nil
	}

	var b strings.Builder
	steps := cfg.StepNames()
	fmt.Fprintf(&b, "✓ %s is valid (%d steps)\n", path, len(steps))
	for _, name := range steps {
		fmt.Fprintf(&b, "  %s\n", name)
		for _, ss := range cfg.StepConfig(name).SubSteps() {
			fmt.Fprintf(&b, "    - %s (%s)\n", ss.Name(), ss.Implementer())
		}
	}
	return textResult(b.String()), nil
}

// HandleSchema implements the steprunner/schema MCP tool.
func HandleSchema(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := req.GetArguments()
	schemaType, _ := args["type"].(string)

	var data []byte
	var err error

	switch schemaType {
	case "document":
		data, err = config.GenerateDocumentJSONSchema()
	case "sub-step":
		data, err = config.GenerateSubStepJSONSchema()
	default:
		return errorResult(fmt.Sprintf("unknown schema type %q, use 'document' or 'sub-step'", schemaType)), nil
	}

	if err != nil {
		return errorResult(err.Error()), nil
	}
	return textResult(string(data)), nil
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return errorResult(fmt.Sprintf("marshal response: %s", err)), nil
	}
	return textResult(string(data)), nil
}

func textResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.NewTextContent(text),
		},
	}
}

func errorResult(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.NewTextContent(msg),
		},
		IsError: true,
	}
}
