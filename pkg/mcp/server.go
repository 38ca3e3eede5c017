// Package mcp exposes projects and the runner as MCP tools for AI agents.
package mcp

import (
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/ipublishingjp/selenium-ide/pkg/runner"
)

// NewServer creates a new MCP server with the side tools registered. The
// side/run tool is only offered when r is non-nil.
func NewServer(version string, r *runner.Runner) *server.MCPServer {
	s := server.NewMCPServer(
		"side-runner",
		version,
		server.WithToolCapabilities(true),
	)

	s.AddTool(
		mcp.NewTool("side/validate",
			mcp.WithDescription("Validate a Selenium IDE project file (.side JSON or YAML)"),
			mcp.WithString("path", mcp.Required(), mcp.Description("Path to the project file")),
		),
		HandleValidate,
	)

	s.AddTool(
		mcp.NewTool("side/list",
			mcp.WithDescription("List the tests and suites of a project"),
			mcp.WithString("path", mcp.Required(), mcp.Description("Path to the project file")),
		),
		HandleList,
	)

	s.AddTool(
		mcp.NewTool("side/schema",
			mcp.WithDescription("Export the JSON Schema of .side project documents"),
		),
		HandleSchema,
	)

	if r != nil {
		s.AddTool(
			mcp.NewTool("side/run",
				mcp.WithDescription("Play tests of a project in a browser and report the results"),
				mcp.WithString("path", mcp.Required(), mcp.Description("Path to the project file")),
				mcp.WithString("test", mcp.Description("Play only the named test")),
				mcp.WithString("suite", mcp.Description("Play the tests of the named suite")),
				mcp.WithString("filter", mcp.Description("Regular expression selecting tests by name")),
				mcp.WithObject("vars", mcp.Description("Initial variables for every run")),
			),
			HandleRun(r),
		)
	}

	return s
}
