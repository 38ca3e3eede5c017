package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/ipublishingjp/selenium-ide/pkg/config"
	"github.com/ipublishingjp/selenium-ide/pkg/model"
	"github.com/ipublishingjp/selenium-ide/pkg/report"
	"github.com/ipublishingjp/selenium-ide/pkg/runner"
)

var (
	runTest    string
	runSuite   string
	runFilter  string
	runVars    []string
	runBaseURL string
	runBrowser string
	runHead    bool
	runWorkers int
	runOutput  string
	runTrace   bool
	runJSON    bool
	runDeny    []string
)

var runCmd = &cobra.Command{
	Use:   "run [project.side]",
	Short: "Play tests of a project",
	Long: `Play tests of a project. Without --test or --suite, every test whose
name matches --filter (default: all) is played.`,
	Args: cobra.ExactArgs(1),
	RunE: runRun,
}

func runRun(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	e, err := setup(ctx, cmd)
	if err != nil {
		return err
	}
	defer e.close()
	applyRunFlags(cmd, &e.cfg)
	if err := e.cfg.Validate(); err != nil {
		return err
	}

	p, err := loadProject(args[0])
	if err != nil {
		return err
	}
	vars, err := parseVars(e.cfg, runVars)
	if err != nil {
		return err
	}
	r, err := runner.New(e.cfg.Runner(vars, false), runner.WithLogger(e.log))
	if err != nil {
		return err
	}

	filter := runFilter
	if filter == "" {
		filter = e.cfg.Filter
	}
	results, runErr := playSelection(ctx, r, p, runTest, runSuite, filter, vars)
	if err := writeResults(cmd.OutOrStdout(), results, runJSON); err != nil {
		return err
	}
	return runErr
}

// applyRunFlags lets explicit flags override the loaded configuration.
func applyRunFlags(cmd *cobra.Command, cfg *config.Config) {
	f := cmd.Flags()
	if f.Changed("base-url") {
		cfg.BaseURL = runBaseURL
	}
	if f.Changed("browser") {
		cfg.Browser.Name = runBrowser
	}
	if f.Changed("headless") {
		cfg.Browser.Headless = runHead
	}
	if f.Changed("workers") {
		cfg.MaxWorkers = runWorkers
	}
	if f.Changed("output") {
		cfg.Output.Dir = runOutput
	}
	if f.Changed("trace") {
		cfg.Output.Trace = runTrace
	}
	if f.Changed("deny") {
		cfg.Policy.Deny = append(cfg.Policy.Deny, runDeny...)
	}
}

// playSelection plays one test, a suite, or the tests matching filter.
func playSelection(ctx context.Context, r *runner.Runner, p *model.Project, test, suite, filter string, vars map[string]any) ([]*runner.Result, error) {
	switch {
	case test != "" && suite != "":
		return nil, errors.New("--test and --suite are mutually exclusive")
	case test != "":
		return r.RunAll(ctx, p, []string{test}, vars)
	case suite != "":
		return r.RunSuite(ctx, p, suite, vars)
	}
	names, err := runner.SelectTests(p, filter, "")
	if err != nil {
		return nil, err
	}
	return r.RunAll(ctx, p, names, vars)
}

func writeResults(w io.Writer, results []*runner.Result, asJSON bool) error {
	if !asJSON {
		return report.Write(w, results)
	}
	data, err := json.MarshalIndent(results, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal results: %w", err)
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}

func init() {
	runCmd.Flags().StringVar(&runTest, "test", "", "Play only the named test")
	runCmd.Flags().StringVar(&runSuite, "suite", "", "Play the tests of the named suite")
	runCmd.Flags().StringVar(&runFilter, "filter", "", "Regular expression selecting tests by name")
	runCmd.Flags().StringArrayVar(&runVars, "var", nil, "Set a variable (key=value), repeatable")
	runCmd.Flags().StringVar(&runBaseURL, "base-url", "", "Override the project URL")
	runCmd.Flags().StringVar(&runBrowser, "browser", "chrome", "Browser to play in")
	runCmd.Flags().BoolVar(&runHead, "headless", true, "Run the browser headless")
	runCmd.Flags().IntVar(&runWorkers, "workers", 1, "Maximum tests played at once")
	runCmd.Flags().StringVar(&runOutput, "output", "runs", "Directory for results and traces; empty writes nothing")
	runCmd.Flags().BoolVar(&runTrace, "trace", false, "Write a hash-chained trace of every run")
	runCmd.Flags().BoolVar(&runJSON, "json", false, "Output results as structured JSON")
	runCmd.Flags().StringSliceVar(&runDeny, "deny", nil, "Command name patterns that may not be played (e.g. execute*)")
	rootCmd.AddCommand(runCmd)
}
