package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/ipublishingjp/selenium-ide/pkg/model"
	"github.com/ipublishingjp/selenium-ide/pkg/runner"
)

// HandleValidate implements the side/validate MCP tool.
func HandleValidate(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path, _ := req.GetArguments()["path"].(string)
	if path == "" {
		return errorResult("path argument is required"), nil
	}

	p, errs := model.ValidateFile(path)
	if model.HasErrors(errs) {
		return errorResult(formatErrors(errs)), nil
	}
	return textResult(fmt.Sprintf("✓ %s is valid (%d tests, %d suites)", p.Name, len(p.Tests), len(p.Suites))), nil
}

// HandleSchema implements the side/schema MCP tool.
func HandleSchema(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	data, err := model.GenerateJSONSchema()
	if err != nil {
		return errorResult(err.Error()), nil
	}
	return textResult(string(data)), nil
}

type testSummary struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Commands int    `json:"commands"`
}

type suiteSummary struct {
	ID       string   `json:"id"`
	Name     string   `json:"name"`
	Parallel bool     `json:"parallel,omitempty"`
	Timeout  int      `json:"timeout,omitempty"`
	Tests    []string `json:"tests"`
}

// HandleList implements the side/list MCP tool.
func HandleList(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	p, res := loadProject(req)
	if res != nil {
		return res, nil
	}

	listing := struct {
		Name   string         `json:"name"`
		URL    string         `json:"url,omitempty"`
		Tests  []testSummary  `json:"tests"`
		Suites []suiteSummary `json:"suites,omitempty"`
	}{Name: p.Name, URL: p.URL}
	for _, t := range p.Tests {
		listing.Tests = append(listing.Tests, testSummary{ID: t.ID, Name: t.Name, Commands: len(t.Commands)})
	}
	for _, s := range p.Suites {
		ss := suiteSummary{ID: s.ID, Name: s.Name, Parallel: s.Parallel, Timeout: s.Timeout}
		for _, id := range s.Tests {
			if t, ok := p.TestByID(id); ok {
				ss.Tests = append(ss.Tests, t.Name)
			}
		}
		listing.Suites = append(listing.Suites, ss)
	}
	return jsonResult(listing, false), nil
}

// HandleRun returns the handler of the side/run MCP tool, which plays tests
// with r.
func HandleRun(r *runner.Runner) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		p, res := loadProject(req)
		if res != nil {
			return res, nil
		}
		args := req.GetArguments()
		test, _ := args["test"].(string)
		suite, _ := args["suite"].(string)
		filter, _ := args["filter"].(string)
		vars, _ := args["vars"].(map[string]any)

		var results []*runner.Result
		var err error
		switch {
		case test != "":
			results, err = r.RunAll(ctx, p, []string{test}, vars)
		case suite != "":
			results, err = r.RunSuite(ctx, p, suite, vars)
		default:
			var names []string
			names, err = runner.SelectTests(p, filter, "")
			if err != nil {
				return errorResult(err.Error()), nil
			}
			results, err = r.RunAll(ctx, p, names, vars)
		}

		response := map[string]any{"results": results}
		passed, failed := 0, 0
		for _, res := range results {
			if res == nil {
				continue
			}
			if res.Passed {
				passed++
			} else {
				failed++
			}
		}
		response["passed"] = passed
		response["failed"] = failed
		if err != nil {
			response["error"] = err.Error()
		}
		return jsonResult(response, err != nil || failed > 0), nil
	}
}

func loadProject(req mcp.CallToolRequest) (*model.Project, *mcp.CallToolResult) {
	path, _ := req.GetArguments()["path"].(string)
	if path == "" {
		return nil, errorResult("path argument is required")
	}
	p, errs := model.ValidateFile(path)
	if model.HasErrors(errs) {
		return nil, errorResult(formatErrors(errs))
	}
	return p, nil
}

func formatErrors(errs []*model.ValidationError) string {
	var msgs []string
	for _, e := range errs {
		if e.Severity == "error" {
			msgs = append(msgs, fmt.Sprintf("[%s] %s", e.Phase, e.Message))
		}
	}
	return strings.Join(msgs, "; ")
}

func jsonResult(v any, isErr bool) *mcp.CallToolResult {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return errorResult(err.Error())
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{mcp.NewTextContent(string(data))},
		IsError: isErr,
	}
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
