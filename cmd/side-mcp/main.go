// Package main provides the side-mcp binary: an MCP server that lets AI
// agents list, validate and play Selenium IDE projects.
package main

import (
	"fmt"
	"os"

	"github.com/mark3labs/mcp-go/server"

	"github.com/ipublishingjp/selenium-ide/pkg/config"
	"github.com/ipublishingjp/selenium-ide/pkg/logging"
	sidemcp "github.com/ipublishingjp/selenium-ide/pkg/mcp"
	"github.com/ipublishingjp/selenium-ide/pkg/runner"
)

var version = "dev"

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load(os.Getenv("SIDE_CONFIG"))
	if err != nil {
		return err
	}
	// stdout carries the MCP protocol; logs go to stderr.
	log, err := logging.New(os.Stderr, cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return err
	}
	r, err := runner.New(cfg.Runner(cfg.Vars(), false), runner.WithLogger(log))
	if err != nil {
		return err
	}
	return server.ServeStdio(sidemcp.NewServer(version, r))
}
