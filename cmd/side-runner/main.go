// Package main provides the side-runner binary: it plays Selenium IDE
// projects in a browser from the command line.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ipublishingjp/selenium-ide/pkg/config"
	"github.com/ipublishingjp/selenium-ide/pkg/logging"
	"github.com/ipublishingjp/selenium-ide/pkg/model"
	"github.com/ipublishingjp/selenium-ide/pkg/telemetry"
)

// Version is set at build time via ldflags.
var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	loadDotEnv(".env") // load .env file if present (gitignored)
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// loadDotEnv reads a .env file and sets any variables that aren't already
// set in the environment. Lines are KEY=VALUE (or KEY="VALUE"). Comments (#)
// and blanks are skipped.
func loadDotEnv(path string) {
	f, err := os.Open(path)
	if err != nil {
		return
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, val, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		val = strings.Trim(strings.TrimSpace(val), `"'`)
		if os.Getenv(key) == "" {
			os.Setenv(key, val)
		}
	}
}

var (
	configPath string
	logLevel   string
	logFormat  string
)

var rootCmd = &cobra.Command{
	Use:           "side-runner",
	Short:         "Play Selenium IDE projects",
	Long:          "side-runner plays the tests of Selenium IDE (.side) projects against a browser, with tracing, screenshots and an interactive debugger.",
	SilenceUsage:  true,
	SilenceErrors: false,
}

// env bundles what every playing subcommand needs.
type env struct {
	cfg      config.Config
	log      *slog.Logger
	shutdown func(context.Context) error
}

// setup loads configuration (file, then SIDE_* environment, then flags),
// builds the logger and starts tracing.
func setup(ctx context.Context, cmd *cobra.Command) (*env, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if cmd.Flags().Changed("log-level") {
		cfg.Log.Level = logLevel
	}
	if cmd.Flags().Changed("log-format") {
		cfg.Log.Format = logFormat
	}
	log, err := logging.New(os.Stderr, cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return nil, err
	}
	shutdown, err := telemetry.Setup(ctx, telemetry.Options{
		ServiceName: "side-runner",
		Endpoint:    cfg.Telemetry.Endpoint,
		Disabled:    cfg.Telemetry.Disabled,
	})
	if err != nil {
		log.Warn("telemetry disabled", "error", err)
	}
	return &env{cfg: cfg, log: log, shutdown: shutdown}, nil
}

func (e *env) close() {
	if err := e.shutdown(context.Background()); err != nil {
		e.log.Warn("telemetry shutdown failed", "error", err)
	}
}

// parseVars merges configured params with --var key=value flags.
func parseVars(cfg config.Config, flags []string) (map[string]any, error) {
	vars := cfg.Vars()
	for _, v := range flags {
		key, val, ok := strings.Cut(v, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid --var %q: expected key=value", v)
		}
		vars[key] = val
	}
	return vars, nil
}

// loadProject validates a project file, printing warnings, and fails on
// errors.
func loadProject(path string) (*model.Project, error) {
	p, errs := model.ValidateFile(path)
	if model.HasErrors(errs) {
		fmt.Fprintf(os.Stderr, "Validation failed: %d error(s)\n", countValidationErrors(errs))
		for _, e := range errs {
			if e.Severity != "warning" {
				fmt.Fprintf(os.Stderr, "  [%s] %s\n", e.Phase, e.Message)
			}
		}
		return nil, fmt.Errorf("project validation failed")
	}
	printValidationWarnings(errs)
	return p, nil
}

// --- validate ---

var validateCmd = &cobra.Command{
	Use:   "validate [project.side]",
	Short: "Validate a project file against the schema and playback rules",
	Args:  cobra.ExactArgs(1),
	RunE:  runValidate,
}

func runValidate(cmd *cobra.Command, args []string) error {
	p, errs := model.ValidateFile(args[0])
	out := cmd.ErrOrStderr()
	var failures []*model.ValidationError
	for _, e := range errs {
		if e.Severity == "warning" {
			fmt.Fprintf(out, "  ⚠ [%s] %s\n", e.Phase, e.Message)
			if e.Path != "" {
				fmt.Fprintf(out, "    at: %s\n", e.Path)
			}
			continue
		}
		failures = append(failures, e)
	}
	if len(failures) > 0 {
		fmt.Fprintf(out, "Validation failed: %d error(s)\n\n", len(failures))
		for i, e := range failures {
			fmt.Fprintf(out, "  %d. [%s] %s\n", i+1, e.Phase, e.Message)
			if e.Path != "" {
				fmt.Fprintf(out, "     at: %s\n", e.Path)
			}
		}
		return fmt.Errorf("validation failed with %d error(s)", len(failures))
	}
	fmt.Fprintf(cmd.OutOrStdout(), "✓ %s is valid (%d tests, %d suites)\n", p.Name, len(p.Tests), len(p.Suites))
	return nil
}

// --- list ---

var listCmd = &cobra.Command{
	Use:   "list [project.side]",
	Short: "List the tests and suites of a project",
	Args:  cobra.ExactArgs(1),
	RunE:  runList,
}

func runList(cmd *cobra.Command, args []string) error {
	p, err := loadProject(args[0])
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%s (%s)\n", p.Name, p.URL)
	fmt.Fprintf(out, "Tests:\n")
	for _, t := range p.Tests {
		fmt.Fprintf(out, "  %-30s %3d commands\n", t.Name, len(t.Commands))
	}
	if len(p.Suites) == 0 {
		return nil
	}
	fmt.Fprintf(out, "Suites:\n")
	for _, s := range p.Suites {
		var names []string
		for _, id := range s.Tests {
			if t, ok := p.TestByID(id); ok {
				names = append(names, t.Name)
			}
		}
		mode := "sequential"
		if s.Parallel {
			mode = "parallel"
		}
		fmt.Fprintf(out, "  %-30s %s: %s\n", s.Name, mode, strings.Join(names, ", "))
	}
	return nil
}

// --- schema ---

var schemaCmd = &cobra.Command{
	Use:   "schema",
	Short: "Schema operations",
}

var schemaExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export the project JSON Schema to stdout",
	RunE:  runSchemaExport,
}

func runSchemaExport(cmd *cobra.Command, args []string) error {
	data, err := model.GenerateJSONSchema()
	if err != nil {
		return fmt.Errorf("generate schema: %w", err)
	}
	if !json.Valid(data) {
		return fmt.Errorf("generated schema is not valid JSON")
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(data))
	return nil
}

// --- version ---

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "side-runner %s (build: %s)\n", version, commit)
	},
}

// countValidationErrors counts non-warning errors.
func countValidationErrors(errs []*model.ValidationError) int {
	n := 0
	for _, e := range errs {
		if e.Severity != "warning" {
			n++
		}
	}
	return n
}

// printValidationWarnings prints any warnings to stderr.
func printValidationWarnings(errs []*model.ValidationError) {
	for _, e := range errs {
		if e.Severity == "warning" {
			fmt.Fprintf(os.Stderr, "  ⚠ [%s] %s\n", e.Phase, e.Message)
		}
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file (.yaml or .toml); default .side.yaml in the working directory")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level: debug, info, warn, error")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "text", "Log format: text or json")

	schemaCmd.AddCommand(schemaExportCmd)

	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(schemaCmd)
	rootCmd.AddCommand(versionCmd)
}
